package sender

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/optable/hepsi/internal/he"
	"github.com/optable/hepsi/internal/poly"
	"github.com/optable/hepsi/pkg/log"
	"github.com/optable/hepsi/pkg/network"
	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"github.com/tuneinsight/lattigo/v6/schemes/bgv"
	"golang.org/x/sync/errgroup"
)

// queryRow is a decoded row of a query: the source powers of the probes
// into one bundle.
type queryRow struct {
	bundle int
	row    int
	powers map[int]*rlwe.Ciphertext
}

// Query is a validated query bound to a snapshot of the database
type Query struct {
	db       *DB
	snapshot *Snapshot
	dag      *poly.PowersDAG
	rlk      *rlwe.RelinearizationKey
	rows     []queryRow
}

// NewQuery checks req against the database parameters and decodes its
// ciphertexts. The database snapshot is taken here: writes committed after
// NewQuery returns are not seen by the query.
func NewQuery(ctx context.Context, req *network.QueryRequest, db *DB) (*Query, error) {
	fp := db.params.Fingerprint()
	if !bytes.Equal(req.Fingerprint, fp[:]) {
		return nil, fmt.Errorf("%w: fingerprint %x, want %x", ErrParameterMismatch, req.Fingerprint, fp[:])
	}

	rlk, err := db.he.UnmarshalRelinKey(req.RelinKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", network.ErrMalformedMessage, err)
	}

	q := &Query{
		db:   db,
		dag:  poly.NewPowersDAG(db.params.Query.Powers, db.params.Table.MaxItemsPerBin),
		rlk:  rlk,
		rows: make([]queryRow, len(req.Rows)),
	}
	sources := q.dag.Sources()
	seen := make(map[[2]int]bool, len(req.Rows))
	for i, r := range req.Rows {
		if r.Bundle < 0 || r.Bundle >= db.params.Table.BundleCount {
			return nil, fmt.Errorf("%w: row %d targets bundle %d", network.ErrMalformedMessage, i, r.Bundle)
		}
		if seen[[2]int{r.Bundle, r.Row}] {
			return nil, fmt.Errorf("%w: row %d of bundle %d repeated", network.ErrMalformedMessage, r.Row, r.Bundle)
		}
		seen[[2]int{r.Bundle, r.Row}] = true
		if len(r.Powers) != len(sources) {
			return nil, fmt.Errorf("%w: row %d carries %d powers, want %d", network.ErrMalformedMessage, i, len(r.Powers), len(sources))
		}
		for _, pw := range r.Powers {
			if pw.Exponent < 1 || pw.Exponent > q.dag.Max() || !q.dag.IsSource(pw.Exponent) {
				return nil, fmt.Errorf("%w: row %d carries power %d", network.ErrMalformedMessage, i, pw.Exponent)
			}
		}
		q.rows[i] = queryRow{bundle: r.Bundle, row: r.Row, powers: make(map[int]*rlwe.Ciphertext, len(sources))}
	}

	// ciphertext decoding is the expensive part
	err = db.pool.Run(ctx, len(req.Rows), func(ctx context.Context, i int) error {
		for _, pw := range req.Rows[i].Powers {
			ct, err := db.he.UnmarshalCiphertext(pw.Ciphertext)
			if err != nil {
				return fmt.Errorf("%w: row %d power %d: %w", network.ErrMalformedMessage, i, pw.Exponent, err)
			}
			q.rows[i].powers[pw.Exponent] = ct
		}
		if len(q.rows[i].powers) != len(sources) {
			return fmt.Errorf("%w: row %d repeats a power", network.ErrMalformedMessage, i)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	q.snapshot = db.Snapshot()
	return q, nil
}

// PartCount is the number of result parts the query produces
func (q *Query) PartCount() int {
	return len(q.rows)
}

// worker is the per goroutine evaluation state
type worker struct {
	enc  *bgv.Encoder
	eval *bgv.Evaluator
	prng io.Reader
}

// RunQuery announces the number of result parts on ch, then evaluates every
// row of q on the pool and sends each result part as soon as it is ready.
func RunQuery(ctx context.Context, q *Query, ch network.Channel) error {
	db := q.db
	logger := log.Component(ctx, db.logger, "sender").WithValues("op", "query", "rows", len(q.rows))

	logger.V(1).Info("Starting stage 1")
	if err := ch.Send(&network.QueryResponse{PartCount: len(q.rows)}); err != nil {
		return err
	}

	logger.V(1).Info("Starting stage 2")
	parts := make(chan *network.ResultPart, db.pool.Size())
	g, ctx := errgroup.WithContext(ctx)
	// stage 2a: evaluate rows
	g.Go(func() error {
		defer close(parts)
		evaluator := db.he.NewEvaluator(q.rlk)
		return db.pool.Chunks(ctx, len(q.rows), func(ctx context.Context, lo, hi int) error {
			prng, err := he.NewPRNG()
			if err != nil {
				return err
			}
			w := &worker{enc: db.encoder.ShallowCopy(), eval: evaluator.ShallowCopy(), prng: prng}
			for i := lo; i < hi; i++ {
				part, err := q.evaluate(w, &q.rows[i])
				if err != nil {
					return fmt.Errorf("bundle %d row %d: %w", q.rows[i].bundle, q.rows[i].row, err)
				}
				select {
				case parts <- part:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			return nil
		})
	})
	// stage 2b: stream result parts
	g.Go(func() error {
		var sent int
		for part := range parts {
			if err := ch.Send(part); err != nil {
				return err
			}
			sent++
			logger.V(2).Info("Sent result part", "bundle", part.Bundle, "row", part.Row, "sent", sent)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	logger.V(1).Info("Finished")
	return nil
}

// evaluate computes the result part of one row. The membership ciphertext
// decrypts to zero in every slot of a bin holding the probed item, label
// parts decrypt to the label felts there and to random values in bins
// holding something else.
func (q *Query) evaluate(w *worker, r *queryRow) (*network.ResultPart, error) {
	powers := make([]*rlwe.Ciphertext, q.dag.Max()+1)
	for e, ct := range r.powers {
		powers[e] = ct
	}
	err := q.dag.Apply(func(p, a, b int) (err error) {
		powers[p], err = w.eval.MulRelinNew(powers[a], powers[b])
		return
	})
	if err != nil {
		return nil, err
	}

	b := q.snapshot.bundles[r.bundle]
	membership, err := w.dot(powers, b.membershipPt)
	if err != nil {
		return nil, err
	}
	part := &network.ResultPart{Bundle: r.bundle, Row: r.row}
	if part.Membership, err = he.MarshalCiphertext(membership); err != nil {
		return nil, err
	}
	if !q.snapshot.labeled {
		return part, nil
	}

	part.Labels = make([][]byte, len(b.labelPt))
	for p, coeffs := range b.labelPt {
		label, err := w.dot(powers, coeffs)
		if err != nil {
			return nil, err
		}
		mask, err := q.db.he.RandomPlaintext(w.enc, w.prng)
		if err != nil {
			return nil, err
		}
		masked, err := w.eval.MulNew(membership, mask)
		if err != nil {
			return nil, err
		}
		if err := w.eval.Add(label, masked, label); err != nil {
			return nil, err
		}
		if part.Labels[p], err = he.MarshalCiphertext(label); err != nil {
			return nil, err
		}
	}
	return part, nil
}

// dot computes coeffs[0] + sum coeffs[k] * x^k for k >= 1
func (w *worker) dot(powers []*rlwe.Ciphertext, coeffs []*rlwe.Plaintext) (acc *rlwe.Ciphertext, err error) {
	if len(coeffs) > 1 {
		acc, err = w.eval.MulNew(powers[1], coeffs[1])
	} else {
		// constant polynomial
		acc, err = w.eval.MulNew(powers[1], uint64(0))
	}
	if err != nil {
		return nil, err
	}
	for k := 2; k < len(coeffs); k++ {
		term, err := w.eval.MulNew(powers[k], coeffs[k])
		if err != nil {
			return nil, err
		}
		if err := w.eval.Add(acc, term, acc); err != nil {
			return nil, err
		}
	}
	if err := w.eval.Add(acc, coeffs[0], acc); err != nil {
		return nil, err
	}
	return acc, nil
}
