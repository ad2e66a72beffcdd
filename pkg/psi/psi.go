// Package psi is the simple entry point to labeled PSI: a sender serves a
// database over a connection, a client asks for the parameters, runs the
// OPRF round and the query round and gets one match record per item.
package psi

import (
	"context"
	"errors"
	"io"

	"github.com/go-logr/logr"
	"github.com/optable/hepsi/internal/pool"
	"github.com/optable/hepsi/pkg/item"
	"github.com/optable/hepsi/pkg/log"
	"github.com/optable/hepsi/pkg/network"
	"github.com/optable/hepsi/pkg/params"
	"github.com/optable/hepsi/pkg/receiver"
	"github.com/optable/hepsi/pkg/sender"
)

var (
	ErrMalformedMessage          = network.ErrMalformedMessage
	ErrParameterMismatch         = sender.ErrParameterMismatch
	ErrInsertionCapacityExceeded = sender.ErrInsertionCapacityExceeded
	ErrItemNotFound              = sender.ErrItemNotFound
	ErrCryptoFailure             = receiver.ErrCryptoFailure
)

// MatchRecord is the outcome of a query for one item
type MatchRecord = receiver.MatchRecord

// Serve answers the requests of one client on rw until the client hangs up
// or ctx is done. A clean hang up is not an error.
func Serve(ctx context.Context, db *sender.DB, rw io.ReadWriter) error {
	err := sender.Serve(ctx, db, network.NewStreamChannel(rw))
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// Client is the receiver end of a connection to a sender
type Client struct {
	ch       network.Channel
	pool     *pool.Pool
	logger   *logr.Logger
	receiver *receiver.Receiver
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithPool sets the worker pool of the client
func WithPool(p *pool.Pool) ClientOption {
	return func(c *Client) { c.pool = p }
}

// WithLogger sets the logger of the client
func WithLogger(logger logr.Logger) ClientOption {
	return func(c *Client) { c.logger = &logger }
}

// NewClient returns a client talking to a sender over rw
func NewClient(rw io.ReadWriter, opts ...ClientOption) *Client {
	return NewClientWithChannel(network.NewStreamChannel(rw), opts...)
}

// NewClientWithChannel returns a client talking to a sender over ch
func NewClientWithChannel(ch network.Channel, opts ...ClientOption) *Client {
	c := &Client{ch: ch}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) receiverOptions() []receiver.Option {
	var opts []receiver.Option
	if c.pool != nil {
		opts = append(opts, receiver.WithPool(c.pool))
	}
	if c.logger != nil {
		opts = append(opts, receiver.WithLogger(*c.logger))
	}
	return opts
}

// RequestParams fetches the sender's parameter set and sets up the
// receiver keys for it
func (c *Client) RequestParams(ctx context.Context) (*params.Params, error) {
	if err := c.ch.Send(&network.ParamsRequest{}); err != nil {
		return nil, err
	}
	resp, err := c.ch.ReceiveResponse(ctx)
	if err != nil {
		return nil, err
	}
	pr, err := network.As[*network.ParamsResponse](resp)
	if err != nil {
		return nil, err
	}
	if c.receiver, err = receiver.New(pr.Params, c.receiverOptions()...); err != nil {
		return nil, err
	}
	return pr.Params, nil
}

// RequestOPRF runs the OPRF round on items
func (c *Client) RequestOPRF(ctx context.Context, items []item.Item) ([]item.HashedItem, []item.LabelKey, error) {
	if err := c.ready(ctx); err != nil {
		return nil, nil, err
	}
	or, err := c.receiver.CreateOPRFReceiver(ctx, items)
	if err != nil {
		return nil, nil, err
	}
	if err := c.ch.Send(receiver.CreateOPRFRequest(or)); err != nil {
		return nil, nil, err
	}
	resp, err := c.ch.ReceiveResponse(ctx)
	if err != nil {
		return nil, nil, err
	}
	oresp, err := network.As[*network.OPRFResponse](resp)
	if err != nil {
		return nil, nil, err
	}
	return c.receiver.ExtractHashes(ctx, or, oresp)
}

// RequestQuery runs the query round on OPRF hashed items. labelKeys may be
// nil when the sender is unlabeled.
func (c *Client) RequestQuery(ctx context.Context, hashed []item.HashedItem, labelKeys []item.LabelKey) ([]MatchRecord, error) {
	if err := c.ready(ctx); err != nil {
		return nil, err
	}
	req, itt, err := c.receiver.CreateQuery(ctx, hashed)
	if err != nil {
		return nil, err
	}
	if err := c.ch.Send(req); err != nil {
		return nil, err
	}
	parts, err := c.receiver.ReceiveResults(ctx, c.ch, itt)
	if err != nil {
		return nil, err
	}
	return c.receiver.ProcessResult(ctx, labelKeys, itt, parts)
}

// Query runs both rounds and returns one match record per item, in order
func (c *Client) Query(ctx context.Context, items []item.Item) ([]MatchRecord, error) {
	logger := log.Component(ctx, c.logger, "client").WithValues("items", len(items))
	logger.V(1).Info("Starting stage 1")
	hashed, keys, err := c.RequestOPRF(ctx, items)
	if err != nil {
		return nil, err
	}
	logger.V(1).Info("Starting stage 2")
	records, err := c.RequestQuery(ctx, hashed, keys)
	if err != nil {
		return records, err
	}
	logger.V(1).Info("Finished")
	return records, nil
}

// ready fetches the parameters on first use
func (c *Client) ready(ctx context.Context) error {
	if c.receiver != nil {
		return nil
	}
	_, err := c.RequestParams(ctx)
	return err
}
