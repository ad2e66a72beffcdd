// Package network carries the PSI protocol messages between a receiver and
// a sender. Every message is framed as
//
//	type (1 byte) | payload length (uint32, big endian) | payload
//
// where the payload is protobuf wire format.
package network

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/optable/hepsi/internal/util"
)

// MaxMessageLen bounds the payload of a single frame. The largest frame is a
// query request: a relinearization key plus the encrypted source powers of
// every row.
const MaxMessageLen = 1 << 30

var ErrMalformedMessage = fmt.Errorf("malformed message")

// Channel is the transport contract of the protocol. Messages arrive in send
// order and a channel carries a single protocol run at a time.
type Channel interface {
	Send(m Message) error
	// ReceiveOperation reads the next request (sender side)
	ReceiveOperation(ctx context.Context) (Request, error)
	// ReceiveResponse reads the answer to the last request (receiver side)
	ReceiveResponse(ctx context.Context) (Response, error)
	// ReceiveResult reads the next result part (receiver side)
	ReceiveResult(ctx context.Context) (*ResultPart, error)
}

// StreamChannel is a Channel over any io.ReadWriter, typically a net.Conn
type StreamChannel struct {
	r *bufio.Reader
	w *bufio.Writer
	// serializes senders, result parts may be written by several workers
	mu sync.Mutex

	sent     atomic.Int64
	received atomic.Int64
}

// NewStreamChannel returns a channel reading and writing frames on rw
func NewStreamChannel(rw io.ReadWriter) *StreamChannel {
	return &StreamChannel{r: bufio.NewReader(rw), w: bufio.NewWriter(rw)}
}

// BytesSent is the number of bytes written so far
func (c *StreamChannel) BytesSent() int64 {
	return c.sent.Load()
}

// BytesReceived is the number of bytes read so far
func (c *StreamChannel) BytesReceived() int64 {
	return c.received.Load()
}

// Send writes and flushes one message
func (c *StreamChannel) Send(m Message) error {
	payload, err := m.marshal()
	if err != nil {
		return err
	}
	if len(payload) > MaxMessageLen {
		return fmt.Errorf("%s of %d bytes is too large", m.Type(), len(payload))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var header [5]byte
	header[0] = byte(m.Type())
	binary.BigEndian.PutUint32(header[1:], uint32(len(payload)))
	if _, err := c.w.Write(header[:]); err != nil {
		return err
	}
	if _, err := c.w.Write(payload); err != nil {
		return err
	}
	if err := c.w.Flush(); err != nil {
		return err
	}
	c.sent.Add(int64(len(header) + len(payload)))
	return nil
}

// receive reads the next frame and decodes it
func (c *StreamChannel) receive(ctx context.Context) (Message, error) {
	return util.SelValue(ctx, func() (Message, error) {
		var header [5]byte
		if _, err := io.ReadFull(c.r, header[:]); err != nil {
			return nil, err
		}
		n := binary.BigEndian.Uint32(header[1:])
		if n > MaxMessageLen {
			return nil, fmt.Errorf("%w: frame of %d bytes", ErrMalformedMessage, n)
		}
		m, err := newMessage(Type(header[0]))
		if err != nil {
			return nil, err
		}
		// grows with what actually arrives, not with what the header claims
		var payload bytes.Buffer
		if _, err := io.CopyN(&payload, c.r, int64(n)); err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return nil, err
		}
		c.received.Add(int64(len(header)) + int64(n))
		if err := m.unmarshal(payload.Bytes()); err != nil {
			return nil, fmt.Errorf("%s: %w", m.Type(), err)
		}
		return m, nil
	})
}

func (c *StreamChannel) ReceiveOperation(ctx context.Context) (Request, error) {
	m, err := c.receive(ctx)
	if err != nil {
		return nil, err
	}
	return As[Request](m)
}

func (c *StreamChannel) ReceiveResponse(ctx context.Context) (Response, error) {
	m, err := c.receive(ctx)
	if err != nil {
		return nil, err
	}
	return As[Response](m)
}

func (c *StreamChannel) ReceiveResult(ctx context.Context) (*ResultPart, error) {
	m, err := c.receive(ctx)
	if err != nil {
		return nil, err
	}
	return As[*ResultPart](m)
}
