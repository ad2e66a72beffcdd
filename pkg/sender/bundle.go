package sender

import (
	"github.com/optable/hepsi/internal/he"
	"github.com/optable/hepsi/internal/poly"
	"github.com/optable/hepsi/pkg/item"
	"github.com/optable/hepsi/pkg/params"
	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"github.com/tuneinsight/lattigo/v6/schemes/bgv"
)

// layout caches the derived parameters used to encode bins
type layout struct {
	field      poly.Field
	bitCount   int
	width      int
	felts      int
	binSize    int
	bins       int
	parts      int
	labelBits  int
	labelBytes int
}

func newLayout(p *params.Params) layout {
	return layout{
		field:      poly.NewField(p.HE.PlaintextModulus),
		bitCount:   p.Item.BitCount,
		width:      p.BitsPerFelt(),
		felts:      p.FeltsPerItem(),
		binSize:    p.Table.MaxItemsPerBin,
		bins:       p.BinsPerBundle(),
		parts:      p.LabelPartCount(),
		labelBits:  p.LabelFieldByteCount() * 8,
		labelBytes: p.LabelFieldByteCount(),
	}
}

// labelFelts splits a stored label into parts*felts field elements, part
// major.
func (l *layout) labelFelts(field []byte) []uint64 {
	out := make([]uint64, l.parts*l.felts)
	copy(out, item.Felts(field, l.labelBits, l.width))
	return out
}

// bundle is the algebraic encoding of BinsPerBundle bins. For every slot it
// holds the coefficients of the monic polynomial whose roots are the felts
// of the bin occupants at that slot and, when labeled, the coefficients of
// the polynomials interpolating those felts to the label felts.
//
// A published bundle is never modified, writers work on a clone.
type bundle struct {
	index  int
	counts []int

	// membership[k][slot] is the coefficient of x^k, k in [0, binSize]
	membership [][]uint64
	// labels[part][k][slot] is the coefficient of x^k, k in [0, binSize)
	labels [][][]uint64

	membershipPt []*rlwe.Plaintext
	labelPt      [][]*rlwe.Plaintext
}

func newBundle(l *layout, index, slots int, labeled bool) *bundle {
	b := &bundle{
		index:      index,
		counts:     make([]int, l.bins),
		membership: make([][]uint64, l.binSize+1),
	}
	for k := range b.membership {
		b.membership[k] = make([]uint64, slots)
	}
	// empty bins evaluate to the constant 1
	for s := range b.membership[0] {
		b.membership[0][s] = 1
	}
	if labeled {
		b.labels = make([][][]uint64, l.parts)
		for p := range b.labels {
			b.labels[p] = make([][]uint64, l.binSize)
			for k := range b.labels[p] {
				b.labels[p][k] = make([]uint64, slots)
			}
		}
	}
	return b
}

// clone deep copies the coefficients. Plaintexts are rebuilt by encode.
func (b *bundle) clone() *bundle {
	c := &bundle{
		index:      b.index,
		counts:     append([]int(nil), b.counts...),
		membership: make([][]uint64, len(b.membership)),
	}
	for k := range b.membership {
		c.membership[k] = append([]uint64(nil), b.membership[k]...)
	}
	if b.labels != nil {
		c.labels = make([][][]uint64, len(b.labels))
		for p := range b.labels {
			c.labels[p] = make([][]uint64, len(b.labels[p]))
			for k := range b.labels[p] {
				c.labels[p][k] = append([]uint64(nil), b.labels[p][k]...)
			}
		}
	}
	return c
}

// occupancy is the number of items held by the bundle
func (b *bundle) occupancy() int {
	var n int
	for _, c := range b.counts {
		n += c
	}
	return n
}

// setBin recomputes the coefficients of the slots of bin local from its
// occupants and their stored labels.
func (b *bundle) setBin(l *layout, local int, occupants []item.HashedItem, labels [][]byte) error {
	b.counts[local] = len(occupants)

	felts := make([][]uint64, len(occupants))
	for i, h := range occupants {
		felts[i] = h.Felts(l.bitCount, l.width)
	}
	var labelFelts [][]uint64
	if b.labels != nil {
		labelFelts = make([][]uint64, len(occupants))
		for i := range occupants {
			labelFelts[i] = l.labelFelts(labels[i])
		}
	}

	xs := make([]uint64, len(occupants))
	ys := make([]uint64, len(occupants))
	for j := 0; j < l.felts; j++ {
		slot := local*l.felts + j
		for i := range occupants {
			xs[i] = felts[i][j]
		}

		coeffs := l.field.FromRoots(xs)
		for k := range b.membership {
			var c uint64
			if k < len(coeffs) {
				c = coeffs[k]
			}
			b.membership[k][slot] = c
		}

		for p := range b.labels {
			for i := range occupants {
				ys[i] = labelFelts[i][p*l.felts+j]
			}
			coeffs, err := l.field.Interpolate(xs, ys)
			if err != nil {
				return err
			}
			for k := range b.labels[p] {
				var c uint64
				if k < len(coeffs) {
					c = coeffs[k]
				}
				b.labels[p][k][slot] = c
			}
		}
	}
	return nil
}

// encode batches the coefficients into plaintexts
func (b *bundle) encode(c *he.Context, enc *bgv.Encoder) (err error) {
	b.membershipPt = make([]*rlwe.Plaintext, len(b.membership))
	for k, values := range b.membership {
		if b.membershipPt[k], err = c.Encode(enc, values); err != nil {
			return err
		}
	}
	if b.labels == nil {
		return nil
	}
	b.labelPt = make([][]*rlwe.Plaintext, len(b.labels))
	for p := range b.labels {
		b.labelPt[p] = make([]*rlwe.Plaintext, len(b.labels[p]))
		for k, values := range b.labels[p] {
			if b.labelPt[p][k], err = c.Encode(enc, values); err != nil {
				return err
			}
		}
	}
	return nil
}
