package sender

import (
	"context"
	"fmt"

	"github.com/optable/hepsi/pkg/log"
	"github.com/optable/hepsi/pkg/network"
	"github.com/optable/hepsi/pkg/oprf"
)

// operations
// (sender) params: answers a params request with the database parameters
// (sender) oprf: multiplies the receiver's blinded items by the database key
// (sender) query: evaluates the bundles on the receiver's encrypted probes

// RunParams sends the parameter set of db
func RunParams(ctx context.Context, db *DB, ch network.Channel) error {
	log.Component(ctx, db.logger, "sender").V(1).Info("Sending parameters")
	return ch.Send(&network.ParamsResponse{Params: db.params})
}

// RunOPRF evaluates the blinded elements of req with key and sends them back
// in request order. Undecodable elements fail the request with
// network.ErrMalformedMessage.
func RunOPRF(ctx context.Context, db *DB, req *network.OPRFRequest, key *oprf.Key, ch network.Channel) error {
	logger := log.Component(ctx, db.logger, "sender").WithValues("op", "oprf", "items", len(req.Elements))
	logger.V(1).Info("Starting stage 1")
	evaluated, err := key.Evaluate(ctx, db.pool, req.Elements)
	if err != nil {
		return fmt.Errorf("%w: %w", network.ErrMalformedMessage, err)
	}
	logger.V(1).Info("Starting stage 2")
	return ch.Send(&network.OPRFResponse{Elements: evaluated})
}

// Serve answers requests from ch until the peer goes away or ctx is done.
// Requests are handled one at a time, in arrival order.
func Serve(ctx context.Context, db *DB, ch network.Channel) error {
	logger := log.Component(ctx, db.logger, "sender")
	for {
		req, err := ch.ReceiveOperation(ctx)
		if err != nil {
			return err
		}
		logger.V(1).Info("Received request", "type", req.Type())

		switch req := req.(type) {
		case *network.ParamsRequest:
			err = RunParams(ctx, db, ch)
		case *network.OPRFRequest:
			err = RunOPRF(ctx, db, req, db.key, ch)
		case *network.QueryRequest:
			var q *Query
			if q, err = NewQuery(ctx, req, db); err == nil {
				err = RunQuery(ctx, q, ch)
			}
		default:
			err = fmt.Errorf("%w: unexpected %s", network.ErrMalformedMessage, req.Type())
		}
		if err != nil {
			return err
		}
	}
}
