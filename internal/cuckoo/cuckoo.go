package cuckoo

import (
	crand "crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand"

	"github.com/optable/hepsi/internal/hash"
	"github.com/optable/hepsi/pkg/item"
	"github.com/optable/hepsi/pkg/params"
)

var (
	// ErrCapacity is returned when an item is left homeless after the
	// eviction budget is spent
	ErrCapacity = errors.New("cuckoo eviction budget exhausted")
	// ErrNotFound is returned when removing an item that was never inserted
	ErrNotFound = errors.New("item not in table")
)

// Locator maps a hashed item to its candidate bins. Sender and receiver
// derive the same locator from the public parameters.
type Locator struct {
	tableSize uint64
	hashers   []hash.Hasher
}

// NewLocator instantiates the probe hashers described by p
func NewLocator(p *params.Params) (*Locator, error) {
	hashers, err := p.Hashers()
	if err != nil {
		return nil, err
	}
	return &Locator{tableSize: uint64(p.TableSize()), hashers: hashers}, nil
}

// Locations returns the distinct candidate bins of h, in probe order
func (l *Locator) Locations(h item.HashedItem) []int {
	locs := make([]int, 0, len(l.hashers))
	for _, hasher := range l.hashers {
		b := int(hasher.Hash64(h[:]) % l.tableSize)
		dup := false
		for _, seen := range locs {
			if seen == b {
				dup = true
				break
			}
		}
		if !dup {
			locs = append(locs, b)
		}
	}
	return locs
}

// TableSize is the number of bins addressed
func (l *Locator) TableSize() int {
	return int(l.tableSize)
}

// Table is a bucketized cuckoo hash table. Every bin holds up to binSize
// hashed items and two items sharing a bin never have the same felt value
// at the same felt position, which keeps per slot interpolation points
// distinct.
type Table struct {
	*Locator
	binSize      int
	maxEvictions int
	bitCount     int
	width        int

	bins  [][]item.HashedItem
	where map[item.HashedItem]int
	prng  *rand.Rand

	// original content of the bins touched by the running batch
	undo map[int][]item.HashedItem
}

// NewTable returns an empty table laid out as described by p
func NewTable(p *params.Params) (*Table, error) {
	loc, err := NewLocator(p)
	if err != nil {
		return nil, err
	}

	// seed math/rand with crypto/rand
	var rb [8]byte
	if _, err := crand.Read(rb[:]); err != nil {
		return nil, err
	}

	return &Table{
		Locator:      loc,
		binSize:      p.Table.MaxItemsPerBin,
		maxEvictions: p.Table.MaxEvictions,
		bitCount:     p.Item.BitCount,
		width:        p.BitsPerFelt(),
		bins:         make([][]item.HashedItem, p.TableSize()),
		where:        make(map[item.HashedItem]int),
		prng:         rand.New(rand.NewSource(int64(binary.LittleEndian.Uint64(rb[:])))),
	}, nil
}

// Len is the number of items in the table
func (t *Table) Len() int {
	return len(t.where)
}

// Contains reports whether h is in the table
func (t *Table) Contains(h item.HashedItem) bool {
	_, ok := t.where[h]
	return ok
}

// BinOf returns the bin holding h
func (t *Table) BinOf(h item.HashedItem) (int, bool) {
	b, ok := t.where[h]
	return b, ok
}

// Bin returns the occupants of bin b. The slice must not be modified.
func (t *Table) Bin(b int) []item.HashedItem {
	return t.bins[b]
}

// LoadFactor is the ratio of occupied cells
func (t *Table) LoadFactor() float64 {
	return float64(len(t.where)) / float64(len(t.bins)*t.binSize)
}

// Insert places every item of hs not already present. It either places all
// of them or none, and returns the bins whose content changed.
func (t *Table) Insert(hs []item.HashedItem) (map[int]struct{}, error) {
	t.undo = make(map[int][]item.HashedItem)
	defer func() { t.undo = nil }()

	for _, h := range hs {
		if t.Contains(h) {
			continue
		}
		if homeless, ok := t.place(h); !ok {
			t.rollback()
			return nil, fmt.Errorf("%w: item %x left homeless after %d evictions", ErrCapacity, homeless[:4], t.maxEvictions)
		}
	}
	return t.touched(), nil
}

// Remove deletes every item of hs. Unknown items fail the whole batch
// before anything changes.
func (t *Table) Remove(hs []item.HashedItem) (map[int]struct{}, error) {
	for _, h := range hs {
		if !t.Contains(h) {
			return nil, fmt.Errorf("%w: %x", ErrNotFound, h[:4])
		}
	}

	t.undo = make(map[int][]item.HashedItem)
	defer func() { t.undo = nil }()
	for _, h := range hs {
		if b, ok := t.where[h]; ok {
			t.take(b, h)
		}
	}
	return t.touched(), nil
}

// place tries the free cells first and falls back to a random walk of
// evictions.
func (t *Table) place(h item.HashedItem) (item.HashedItem, bool) {
	felts := item.Felts(h[:], t.bitCount, t.width)
	if t.tryAdd(h, felts, -1) {
		return h, true
	}

	from := -1
	for i := 0; i < t.maxEvictions; i++ {
		b, victim, ok := t.pickVictim(h, felts, from)
		if !ok {
			return h, false
		}
		t.take(b, victim)
		t.put(b, h)

		// try to rehome the victim anywhere but where it just left
		h, from = victim, b
		felts = item.Felts(h[:], t.bitCount, t.width)
		if t.tryAdd(h, felts, from) {
			return h, true
		}
	}
	return h, false
}

// tryAdd puts h in the first candidate bin with a free compatible cell,
// skipping except
func (t *Table) tryAdd(h item.HashedItem, felts []uint64, except int) bool {
	for _, b := range t.Locations(h) {
		if b == except {
			continue
		}
		if len(t.bins[b]) < t.binSize && len(t.conflicts(b, felts)) == 0 {
			t.put(b, h)
			return true
		}
	}
	return false
}

// pickVictim selects a random candidate bin of h (other than from) where a
// single eviction makes room for h, and the occupant to evict.
func (t *Table) pickVictim(h item.HashedItem, felts []uint64, from int) (int, item.HashedItem, bool) {
	type candidate struct {
		bin    int
		victim []item.HashedItem
	}
	var candidates []candidate
	for _, b := range t.Locations(h) {
		if b == from {
			continue
		}
		switch c := t.conflicts(b, felts); len(c) {
		case 0:
			// full but compatible, anyone can go
			candidates = append(candidates, candidate{b, t.bins[b]})
		case 1:
			candidates = append(candidates, candidate{b, c})
		}
	}
	if len(candidates) == 0 {
		return 0, item.HashedItem{}, false
	}
	c := candidates[t.prng.Intn(len(candidates))]
	return c.bin, c.victim[t.prng.Intn(len(c.victim))], true
}

// conflicts lists the occupants of b sharing a felt value with felts at the
// same position
func (t *Table) conflicts(b int, felts []uint64) []item.HashedItem {
	var out []item.HashedItem
	for _, occupant := range t.bins[b] {
		other := item.Felts(occupant[:], t.bitCount, t.width)
		for j := range felts {
			if felts[j] == other[j] {
				out = append(out, occupant)
				break
			}
		}
	}
	return out
}

func (t *Table) save(b int) {
	if t.undo == nil {
		return
	}
	if _, ok := t.undo[b]; !ok {
		t.undo[b] = append([]item.HashedItem(nil), t.bins[b]...)
	}
}

func (t *Table) put(b int, h item.HashedItem) {
	t.save(b)
	t.bins[b] = append(t.bins[b], h)
	t.where[h] = b
}

func (t *Table) take(b int, h item.HashedItem) {
	t.save(b)
	bin := t.bins[b]
	for i, occupant := range bin {
		if occupant == h {
			// copy so a saved undo slice is never aliased
			next := make([]item.HashedItem, 0, len(bin)-1)
			next = append(next, bin[:i]...)
			t.bins[b] = append(next, bin[i+1:]...)
			break
		}
	}
	delete(t.where, h)
}

func (t *Table) rollback() {
	for b := range t.undo {
		for _, h := range t.bins[b] {
			delete(t.where, h)
		}
	}
	for b, original := range t.undo {
		t.bins[b] = original
		for _, h := range original {
			t.where[h] = b
		}
	}
}

func (t *Table) touched() map[int]struct{} {
	out := make(map[int]struct{}, len(t.undo))
	for b := range t.undo {
		out[b] = struct{}{}
	}
	return out
}
