// Package oprf implements the ristretto255 oblivious PRF that hides items:
// the receiver blinds H(x) with a random scalar r, the sender multiplies by
// its key k, and the receiver unblinds with 1/r to learn k*H(x), from which
// the hashed item and the label key are derived. The sender computes the
// same value directly on its own items.
package oprf

import (
	"context"
	"errors"
	"fmt"

	"github.com/optable/hepsi/internal/pool"
	"github.com/optable/hepsi/pkg/item"
	"github.com/zeebo/blake3"
)

var ErrMalformedElement = errors.New("malformed ristretto255 element")

var finalizeDomain = []byte("hepsi oprf finalize")

// Key is the sender's OPRF secret, fixed for the lifetime of a database
type Key struct {
	group  string
	scalar [EncodedLen]byte
	suite  suite
}

// NewKey draws a random key in the given group
func NewKey(group string) (*Key, error) {
	s, err := newSuite(group)
	if err != nil {
		return nil, err
	}
	scalar, err := s.randomScalar()
	if err != nil {
		return nil, err
	}
	return &Key{group: group, scalar: scalar, suite: s}, nil
}

// Group is the ristretto255 backend of the key
func (k *Key) Group() string {
	return k.group
}

// MarshalBinary encodes the group name followed by the scalar
func (k *Key) MarshalBinary() ([]byte, error) {
	out := make([]byte, 0, 1+len(k.group)+EncodedLen)
	out = append(out, byte(len(k.group)))
	out = append(out, k.group...)
	return append(out, k.scalar[:]...), nil
}

// UnmarshalBinary decodes a key written by MarshalBinary
func (k *Key) UnmarshalBinary(b []byte) error {
	if len(b) < 1 || len(b) != 1+int(b[0])+EncodedLen {
		return fmt.Errorf("oprf key of %d bytes is malformed", len(b))
	}
	group := string(b[1 : 1+b[0]])
	s, err := newSuite(group)
	if err != nil {
		return err
	}
	k.group = group
	k.suite = s
	copy(k.scalar[:], b[1+b[0]:])
	return nil
}

// Evaluate multiplies every blinded element by the key
func (k *Key) Evaluate(ctx context.Context, p *pool.Pool, blinded [][]byte) ([][]byte, error) {
	evaluated := make([][]byte, len(blinded))
	err := p.Chunks(ctx, len(blinded), func(ctx context.Context, lo, hi int) error {
		for i := lo; i < hi; i++ {
			out, err := k.suite.multiply(k.scalar, blinded[i])
			if err != nil {
				return fmt.Errorf("element %d: %w", i, err)
			}
			evaluated[i] = out[:]
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return evaluated, nil
}

// Hash computes the OPRF output of items directly with the key
func (k *Key) Hash(ctx context.Context, p *pool.Pool, items []item.Item) ([]item.HashedItem, []item.LabelKey, error) {
	hashed := make([]item.HashedItem, len(items))
	keys := make([]item.LabelKey, len(items))
	err := p.Chunks(ctx, len(items), func(ctx context.Context, lo, hi int) error {
		for i := lo; i < hi; i++ {
			point, err := k.suite.deriveMultiply(k.scalar, items[i][:])
			if err != nil {
				return err
			}
			hashed[i], keys[i] = finalize(point)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return hashed, keys, nil
}

// Receiver holds the blinded items and the inverse blinding factors
// between the request and the response.
type Receiver struct {
	suite    suite
	blinded  [][]byte
	inverses [][EncodedLen]byte
}

// NewReceiver blinds items with a fresh random factor each
func NewReceiver(ctx context.Context, group string, p *pool.Pool, items []item.Item) (*Receiver, error) {
	s, err := newSuite(group)
	if err != nil {
		return nil, err
	}
	r := &Receiver{
		suite:    s,
		blinded:  make([][]byte, len(items)),
		inverses: make([][EncodedLen]byte, len(items)),
	}
	err = p.Chunks(ctx, len(items), func(ctx context.Context, lo, hi int) error {
		for i := lo; i < hi; i++ {
			factor, err := s.randomScalar()
			if err != nil {
				return err
			}
			blinded, err := s.deriveMultiply(factor, items[i][:])
			if err != nil {
				return err
			}
			if r.inverses[i], err = s.invert(factor); err != nil {
				return err
			}
			r.blinded[i] = blinded[:]
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Len is the number of blinded items
func (r *Receiver) Len() int {
	return len(r.blinded)
}

// Request returns the blinded elements to send to the sender
func (r *Receiver) Request() [][]byte {
	return r.blinded
}

// Finalize unblinds the evaluated elements, in request order
func (r *Receiver) Finalize(ctx context.Context, p *pool.Pool, evaluated [][]byte) ([]item.HashedItem, []item.LabelKey, error) {
	if len(evaluated) != len(r.inverses) {
		return nil, nil, fmt.Errorf("%w: got %d evaluated elements for %d items", ErrMalformedElement, len(evaluated), len(r.inverses))
	}
	hashed := make([]item.HashedItem, len(evaluated))
	keys := make([]item.LabelKey, len(evaluated))
	err := p.Chunks(ctx, len(evaluated), func(ctx context.Context, lo, hi int) error {
		for i := lo; i < hi; i++ {
			point, err := r.suite.multiply(r.inverses[i], evaluated[i])
			if err != nil {
				return fmt.Errorf("element %d: %w", i, err)
			}
			hashed[i], keys[i] = finalize(point)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return hashed, keys, nil
}

// finalize splits a domain separated digest of k*H(x) into the hashed item
// and the label key.
func finalize(point [EncodedLen]byte) (hashed item.HashedItem, key item.LabelKey) {
	h := blake3.New()
	h.Write(finalizeDomain)
	h.Write(point[:])
	d := h.Digest()
	d.Read(hashed[:])
	d.Read(key[:])
	return
}
