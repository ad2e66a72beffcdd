package receiver

import (
	"context"
	"fmt"

	"github.com/optable/hepsi/internal/he"
	"github.com/optable/hepsi/internal/poly"
	"github.com/optable/hepsi/pkg/item"
	"github.com/optable/hepsi/pkg/log"
	"github.com/optable/hepsi/pkg/network"
)

// queryRow maps the bundle local bins of a row to the item probing them
type queryRow struct {
	Row
	bins map[int]item.HashedItem
}

// CreateQuery places every hashed item in all of its candidate bins and
// encrypts, for every row, the source powers of the probed felts. Equal
// hashed items share their probes. The returned table maps the probed
// coordinates back to indices into hashed.
func (r *Receiver) CreateQuery(ctx context.Context, hashed []item.HashedItem) (*network.QueryRequest, *IndexTranslationTable, error) {
	logger := log.Component(ctx, r.logger, "receiver").WithValues("op", "query", "items", len(hashed))
	bins := r.params.BinsPerBundle()

	// stage 1: dedup, equal items probe the same bins
	logger.V(1).Info("Starting stage 1")
	var distinct []item.HashedItem
	indices := make(map[item.HashedItem][]int, len(hashed))
	for i, h := range hashed {
		if _, ok := indices[h]; !ok {
			distinct = append(distinct, h)
		}
		indices[h] = append(indices[h], i)
	}

	// stage 2: pack probes in rows, a row never probes a bin twice
	logger.V(1).Info("Starting stage 2")
	itt := newIndexTranslationTable(len(hashed))
	perBundle := make([][]*queryRow, r.params.Table.BundleCount)
	var rows []*queryRow
	for _, h := range distinct {
		for _, loc := range r.locator.Locations(h) {
			bundle, local := loc/bins, loc%bins
			var row *queryRow
			for _, candidate := range perBundle[bundle] {
				if _, taken := candidate.bins[local]; !taken {
					row = candidate
					break
				}
			}
			if row == nil {
				row = &queryRow{Row: Row{Bundle: bundle, Row: len(perBundle[bundle])}, bins: make(map[int]item.HashedItem)}
				perBundle[bundle] = append(perBundle[bundle], row)
				rows = append(rows, row)
			}
			row.bins[local] = h
			itt.add(Coordinate{Bundle: bundle, Row: row.Row.Row, Bin: local}, indices[h])
		}
	}

	// stage 3: encrypt the source powers of every row
	logger.V(1).Info("Starting stage 3", "rows", len(rows))
	rlk, err := he.MarshalRelinKey(r.keys.Relin)
	if err != nil {
		return nil, nil, err
	}
	fp := r.params.Fingerprint()
	req := &network.QueryRequest{
		Fingerprint: fp[:],
		RelinKey:    rlk,
		Rows:        make([]network.QueryRow, len(rows)),
	}

	field := poly.NewField(r.params.HE.PlaintextModulus)
	sources := poly.NewPowersDAG(r.params.Query.Powers, r.params.Table.MaxItemsPerBin).Sources()
	felts := r.params.FeltsPerItem()
	encoder := r.he.NewEncoder()
	encryptor := r.he.NewEncryptor(r.keys)
	err = r.pool.Chunks(ctx, len(rows), func(ctx context.Context, lo, hi int) error {
		enc, encr := encoder.ShallowCopy(), encryptor.ShallowCopy()
		for i := lo; i < hi; i++ {
			x := make([]uint64, r.he.Slots())
			for local, h := range rows[i].bins {
				copy(x[local*felts:], h.Felts(r.params.Item.BitCount, r.params.BitsPerFelt()))
			}

			out := network.QueryRow{Bundle: rows[i].Bundle, Row: rows[i].Row.Row, Powers: make([]network.Power, len(sources))}
			for k, s := range sources {
				values := make([]uint64, len(x))
				for j, v := range x {
					values[j] = field.Pow(v, uint64(s))
				}
				ct, err := r.he.Encrypt(enc, encr, values)
				if err != nil {
					return err
				}
				b, err := he.MarshalCiphertext(ct)
				if err != nil {
					return err
				}
				out.Powers[k] = network.Power{Exponent: s, Ciphertext: b}
			}
			req.Rows[i] = out
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("encrypting query: %w", err)
	}

	logger.V(1).Info("Finished", "coordinates", itt.Len())
	return req, itt, nil
}
