package receiver

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/optable/hepsi/internal/crypto"
	"github.com/optable/hepsi/pkg/item"
	"github.com/optable/hepsi/pkg/log"
	"github.com/optable/hepsi/pkg/network"
	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"github.com/tuneinsight/lattigo/v6/schemes/bgv"
)

// MatchRecord is the outcome of the query for one item
type MatchRecord struct {
	Found bool
	// Label is set when found in a labeled database. It is
	// LabelByteCount bytes long, shorter labels come back zero padded.
	Label item.Label
}

// match is a matched coordinate and the stored label read there
type match struct {
	indices []int
	field   []byte
}

type decrypter struct {
	enc *bgv.Encoder
	dec *rlwe.Decryptor
}

func (r *Receiver) newDecrypter() *decrypter {
	return &decrypter{enc: r.he.NewEncoder(), dec: r.he.NewDecryptor(r.keys)}
}

func (d *decrypter) shallowCopy() *decrypter {
	return &decrypter{enc: d.enc.ShallowCopy(), dec: d.dec.ShallowCopy()}
}

// ReceiveResults reads the query response and the result parts it
// announces. The announced count must match the number of query rows and
// every row must be answered exactly once.
func (r *Receiver) ReceiveResults(ctx context.Context, ch network.Channel, itt *IndexTranslationTable) ([]*network.ResultPart, error) {
	logger := log.Component(ctx, r.logger, "receiver").WithValues("op", "result")
	resp, err := ch.ReceiveResponse(ctx)
	if err != nil {
		return nil, err
	}
	qr, err := network.As[*network.QueryResponse](resp)
	if err != nil {
		return nil, err
	}
	if qr.PartCount != itt.RowCount() {
		return nil, fmt.Errorf("%w: %d result parts announced for %d rows", network.ErrMalformedMessage, qr.PartCount, itt.RowCount())
	}

	logger.V(1).Info("Receiving result parts", "count", qr.PartCount)
	parts := make([]*network.ResultPart, qr.PartCount)
	seen := make(map[Row]struct{}, qr.PartCount)
	for i := range parts {
		part, err := ch.ReceiveResult(ctx)
		if err != nil {
			return nil, err
		}
		row := Row{Bundle: part.Bundle, Row: part.Row}
		if itt.Coordinates(row) == nil {
			return nil, fmt.Errorf("%w: result part for unknown row %d of bundle %d", network.ErrMalformedMessage, part.Row, part.Bundle)
		}
		if _, ok := seen[row]; ok {
			return nil, fmt.Errorf("%w: row %d of bundle %d answered twice", network.ErrMalformedMessage, part.Row, part.Bundle)
		}
		seen[row] = struct{}{}
		parts[i] = part
		logger.V(2).Info("Received result part", "bundle", part.Bundle, "row", part.Row)
	}
	return parts, nil
}

// ProcessResult decrypts the result parts on the pool and returns one match
// record per query item, in query order. A part that fails to decrypt is
// skipped and reported with ErrCryptoFailure in the returned error; records
// are still filled from the other parts. labelKeys may be nil for an
// unlabeled database.
func (r *Receiver) ProcessResult(ctx context.Context, labelKeys []item.LabelKey, itt *IndexTranslationTable, parts []*network.ResultPart) ([]MatchRecord, error) {
	logger := log.Component(ctx, r.logger, "receiver").WithValues("op", "result", "parts", len(parts))
	records := make([]MatchRecord, itt.ItemCount())

	var (
		mu   sync.Mutex
		errs []error
	)
	base := r.newDecrypter()
	err := r.pool.Chunks(ctx, len(parts), func(ctx context.Context, lo, hi int) error {
		d := base.shallowCopy()
		for i := lo; i < hi; i++ {
			matches, err := r.decryptPart(d, itt, parts[i])
			mu.Lock()
			if err == nil {
				err = r.record(records, labelKeys, matches)
			}
			if err != nil {
				errs = append(errs, err)
			}
			mu.Unlock()
			if err != nil {
				logger.Error(err, "Dropping result part", "bundle", parts[i].Bundle, "row", parts[i].Row)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.V(1).Info("Finished")
	return records, errors.Join(errs...)
}

// ProcessResultPart folds a single result part into records, which must
// hold one entry per query item. It is the streaming form of ProcessResult.
func (r *Receiver) ProcessResultPart(labelKeys []item.LabelKey, itt *IndexTranslationTable, part *network.ResultPart, records []MatchRecord) error {
	if len(records) != itt.ItemCount() {
		return fmt.Errorf("got %d records for %d items", len(records), itt.ItemCount())
	}
	matches, err := r.decryptPart(r.newDecrypter(), itt, part)
	if err != nil {
		return err
	}
	return r.record(records, labelKeys, matches)
}

// decryptPart returns the coordinates of part where the membership
// ciphertext decrypts to zero in every felt slot of the bin
func (r *Receiver) decryptPart(d *decrypter, itt *IndexTranslationTable, part *network.ResultPart) ([]match, error) {
	row := Row{Bundle: part.Bundle, Row: part.Row}
	coords := itt.Coordinates(row)
	if coords == nil {
		return nil, fmt.Errorf("%w: unknown row %d of bundle %d", ErrCryptoFailure, part.Row, part.Bundle)
	}
	labeled := len(part.Labels) > 0
	if labeled && len(part.Labels) != r.params.LabelPartCount() {
		return nil, fmt.Errorf("%w: %d label parts, want %d", ErrCryptoFailure, len(part.Labels), r.params.LabelPartCount())
	}

	membership, err := r.decrypt(d, part.Membership)
	if err != nil {
		return nil, err
	}

	felts := r.params.FeltsPerItem()
	var labels [][]uint64
	var matches []match
	for _, c := range coords {
		found := true
		for j := c.Bin * felts; j < (c.Bin+1)*felts; j++ {
			if membership[j] != 0 {
				found = false
				break
			}
		}
		if !found {
			continue
		}

		m := match{indices: itt.Lookup(c)}
		if labeled {
			// only decrypt labels when something matched
			if labels == nil {
				labels = make([][]uint64, len(part.Labels))
				for p, b := range part.Labels {
					if labels[p], err = r.decrypt(d, b); err != nil {
						return nil, err
					}
				}
			}
			lf := make([]uint64, len(labels)*felts)
			for p := range labels {
				copy(lf[p*felts:], labels[p][c.Bin*felts:(c.Bin+1)*felts])
			}
			m.field = item.FromFelts(lf, r.params.LabelFieldByteCount()*8, r.params.BitsPerFelt(), r.params.LabelFieldByteCount())
		}
		matches = append(matches, m)
	}
	return matches, nil
}

func (r *Receiver) decrypt(d *decrypter, b []byte) ([]uint64, error) {
	ct, err := r.he.UnmarshalCiphertext(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCryptoFailure, err)
	}
	values, err := r.he.Decrypt(d.enc, d.dec, ct)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCryptoFailure, err)
	}
	return values, nil
}

// record marks matched items as found. A match on any probe is enough and
// later matches of the same item are ignored.
func (r *Receiver) record(records []MatchRecord, labelKeys []item.LabelKey, matches []match) error {
	for _, m := range matches {
		for _, i := range m.indices {
			if records[i].Found {
				continue
			}
			records[i].Found = true
			if m.field == nil {
				continue
			}
			if i >= len(labelKeys) {
				return fmt.Errorf("no label key for item %d", i)
			}
			label, err := crypto.DecryptLabel(r.params.LabelCipherMode(), labelKeys[i][:], m.field, r.params.Item.NonceByteCount)
			if err != nil {
				return fmt.Errorf("%w: %w", ErrCryptoFailure, err)
			}
			records[i].Label = label
		}
	}
	return nil
}
