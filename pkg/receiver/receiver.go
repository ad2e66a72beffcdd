// Package receiver holds the receiver side of the labeled PSI protocol: it
// hashes query items through the OPRF, builds the encrypted query and
// reconciles the sender's result parts into one match record per item.
package receiver

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	"github.com/optable/hepsi/internal/cuckoo"
	"github.com/optable/hepsi/internal/he"
	"github.com/optable/hepsi/internal/pool"
	"github.com/optable/hepsi/pkg/item"
	"github.com/optable/hepsi/pkg/log"
	"github.com/optable/hepsi/pkg/network"
	"github.com/optable/hepsi/pkg/oprf"
	"github.com/optable/hepsi/pkg/params"
)

// operations
// (receiver) oprf: blinds the query items, sends them, unblinds the answer
// (receiver) query: probes every candidate bin with encrypted powers
// (receiver) result: decrypts the result parts and translates matches back

var ErrCryptoFailure = fmt.Errorf("result part could not be decrypted")

// Option configures a Receiver
type Option func(*Receiver)

// WithLogger sets the logger, the context logger is used otherwise
func WithLogger(logger logr.Logger) Option {
	return func(r *Receiver) { r.logger = &logger }
}

// WithPool sets the worker pool
func WithPool(p *pool.Pool) Option {
	return func(r *Receiver) { r.pool = p }
}

// Receiver holds the encryption keys of a receiver. Keys are drawn once and
// reused by every query.
type Receiver struct {
	params  *params.Params
	he      *he.Context
	keys    *he.Keys
	locator *cuckoo.Locator
	pool    *pool.Pool
	logger  *logr.Logger
}

// New returns a receiver for the parameter set p, usually obtained from the
// sender with a params request.
func New(p *params.Params, opts ...Option) (*Receiver, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	r := &Receiver{params: p}
	for _, opt := range opts {
		opt(r)
	}
	if r.pool == nil {
		r.pool = pool.New(0)
	}

	var err error
	if r.he, err = he.NewContext(p); err != nil {
		return nil, err
	}
	if r.locator, err = cuckoo.NewLocator(p); err != nil {
		return nil, err
	}
	r.keys = r.he.GenKeys()
	return r, nil
}

// Params is the parameter set of the receiver
func (r *Receiver) Params() *params.Params {
	return r.params
}

// CreateOPRFReceiver blinds items
func (r *Receiver) CreateOPRFReceiver(ctx context.Context, items []item.Item) (*oprf.Receiver, error) {
	log.Component(ctx, r.logger, "receiver").V(1).Info("Blinding items", "items", len(items))
	return oprf.NewReceiver(ctx, r.params.OPRF.Group, r.pool, items)
}

// CreateOPRFRequest returns the request carrying the blinded items of or
func CreateOPRFRequest(or *oprf.Receiver) *network.OPRFRequest {
	return &network.OPRFRequest{Elements: or.Request()}
}

// ExtractHashes unblinds the sender's answer into hashed items and label
// keys, in query order.
func (r *Receiver) ExtractHashes(ctx context.Context, or *oprf.Receiver, resp *network.OPRFResponse) ([]item.HashedItem, []item.LabelKey, error) {
	log.Component(ctx, r.logger, "receiver").V(1).Info("Unblinding items", "items", len(resp.Elements))
	hashed, keys, err := or.Finalize(ctx, r.pool, resp.Elements)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", network.ErrMalformedMessage, err)
	}
	return hashed, keys, nil
}
