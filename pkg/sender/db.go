// Package sender holds the sender side of the labeled PSI protocol: the
// database of OPRF hashed items laid out in bundles, and the query engine
// evaluating the bundles on the receiver's encrypted probes.
package sender

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/go-logr/logr"
	"github.com/optable/hepsi/internal/crypto"
	"github.com/optable/hepsi/internal/cuckoo"
	"github.com/optable/hepsi/internal/he"
	"github.com/optable/hepsi/internal/pool"
	"github.com/optable/hepsi/pkg/item"
	"github.com/optable/hepsi/pkg/log"
	"github.com/optable/hepsi/pkg/oprf"
	"github.com/optable/hepsi/pkg/params"
	"github.com/tuneinsight/lattigo/v6/schemes/bgv"
)

var (
	ErrParameterMismatch         = fmt.Errorf("query parameters do not match the sender database")
	ErrInsertionCapacityExceeded = fmt.Errorf("insertion capacity exceeded")
	ErrItemNotFound              = fmt.Errorf("item not found in sender database")
)

// Option configures a DB
type Option func(*DB)

// WithLabels makes the database store a label with every item
func WithLabels() Option {
	return func(db *DB) { db.labeled = true }
}

// WithKey sets the OPRF key, a random key is drawn otherwise
func WithKey(key *oprf.Key) Option {
	return func(db *DB) { db.key = key }
}

// WithLogger sets the logger, the context logger is used otherwise
func WithLogger(logger logr.Logger) Option {
	return func(db *DB) { db.logger = &logger }
}

// WithPool sets the worker pool
func WithPool(p *pool.Pool) Option {
	return func(db *DB) { db.pool = p }
}

// DB is the sender database. Writers are serialized, queries read an
// immutable snapshot of the encoded bundles and never block writers for
// longer than the snapshot swap.
type DB struct {
	params  *params.Params
	he      *he.Context
	encoder *bgv.Encoder
	layout  layout
	key     *oprf.Key
	labeled bool
	pool    *pool.Pool
	logger  *logr.Logger

	// serializes writers, guards table and labels
	mu     sync.Mutex
	table  *cuckoo.Table
	labels map[item.HashedItem][]byte

	snap    sync.RWMutex
	bundles []*bundle
}

// NewDB returns an empty database laid out as described by p
func NewDB(p *params.Params, opts ...Option) (*DB, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	db := &DB{params: p, layout: newLayout(p), labels: make(map[item.HashedItem][]byte)}
	for _, opt := range opts {
		opt(db)
	}
	if db.pool == nil {
		db.pool = pool.New(0)
	}

	var err error
	if db.key == nil {
		if db.key, err = oprf.NewKey(p.OPRF.Group); err != nil {
			return nil, err
		}
	} else if db.key.Group() != p.OPRF.Group {
		return nil, fmt.Errorf("%w: oprf key in group %s, parameters use %s", params.ErrInvalidParams, db.key.Group(), p.OPRF.Group)
	}
	if db.he, err = he.NewContext(p); err != nil {
		return nil, err
	}
	db.encoder = db.he.NewEncoder()
	if db.table, err = cuckoo.NewTable(p); err != nil {
		return nil, err
	}

	db.bundles = make([]*bundle, p.Table.BundleCount)
	err = db.pool.Run(context.Background(), len(db.bundles), func(ctx context.Context, i int) error {
		b := newBundle(&db.layout, i, db.he.Slots(), db.labeled)
		if err := b.encode(db.he, db.encoder.ShallowCopy()); err != nil {
			return err
		}
		db.bundles[i] = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return db, nil
}

// Params is the parameter set of the database
func (db *DB) Params() *params.Params {
	return db.params
}

// Key is the OPRF key of the database epoch
func (db *DB) Key() *oprf.Key {
	return db.key
}

// IsLabeled reports whether items carry labels
func (db *DB) IsLabeled() bool {
	return db.labeled
}

// Len is the number of items in the database
func (db *DB) Len() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.table.Len()
}

// Contains reports whether it is in the database
func (db *DB) Contains(ctx context.Context, it item.Item) (bool, error) {
	hashed, _, err := db.key.Hash(ctx, nil, []item.Item{it})
	if err != nil {
		return false, err
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.table.Contains(hashed[0]), nil
}

// InsertOrAssign adds items to the database. Items already present get
// their label replaced. Labels are required for a labeled database and
// forbidden otherwise. The batch is applied entirely or not at all.
func (db *DB) InsertOrAssign(ctx context.Context, items []item.Item, labels []item.Label) error {
	logger := log.Component(ctx, db.logger, "sender").WithValues("op", "insert")
	if db.labeled && len(labels) != len(items) {
		return fmt.Errorf("got %d labels for %d items", len(labels), len(items))
	}
	if !db.labeled && len(labels) != 0 {
		return fmt.Errorf("labels given to an unlabeled database")
	}
	for i, l := range labels {
		if len(l) > db.params.Item.LabelByteCount {
			return fmt.Errorf("label %d of %d bytes exceeds %d bytes", i, len(l), db.params.Item.LabelByteCount)
		}
	}

	logger.V(1).Info("Starting stage 1", "items", len(items))
	// stage 1: hash with the oprf key
	hashed, keys, err := db.key.Hash(ctx, db.pool, items)
	if err != nil {
		return err
	}

	// stage 2: encrypt labels, each under the item's own label key
	var encrypted map[item.HashedItem][]byte
	if db.labeled {
		logger.V(1).Info("Starting stage 2")
		encrypted = make(map[item.HashedItem][]byte, len(items))
		mode := db.params.LabelCipherMode()
		for i, h := range hashed {
			field, err := crypto.EncryptLabel(mode, keys[i][:], labels[i].Pad(db.params.Item.LabelByteCount), db.params.Item.NonceByteCount)
			if err != nil {
				return err
			}
			encrypted[h] = field
		}
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	// stage 3: place new items
	logger.V(1).Info("Starting stage 3")
	var fresh []item.HashedItem
	var relabeled []item.HashedItem
	for _, h := range hashed {
		if db.table.Contains(h) {
			relabeled = append(relabeled, h)
		} else {
			fresh = append(fresh, h)
		}
	}
	touched, err := db.table.Insert(fresh)
	if err != nil {
		if errors.Is(err, cuckoo.ErrCapacity) {
			return fmt.Errorf("%w: %v", ErrInsertionCapacityExceeded, err)
		}
		return err
	}
	if db.labeled {
		for _, h := range relabeled {
			b, _ := db.table.BinOf(h)
			touched[b] = struct{}{}
		}
		for h, field := range encrypted {
			db.labels[h] = field
		}
	}

	// stage 4: re-encode
	logger.V(1).Info("Starting stage 4", "bins", len(touched))
	if err := db.update(ctx, touched); err != nil {
		return err
	}
	logger.V(1).Info("Finished", "new", len(fresh), "size", db.table.Len())
	return nil
}

// Remove deletes items from the database. Unknown items fail the whole
// batch with ErrItemNotFound and nothing is removed.
func (db *DB) Remove(ctx context.Context, items []item.Item) error {
	logger := log.Component(ctx, db.logger, "sender").WithValues("op", "remove")
	hashed, _, err := db.key.Hash(ctx, db.pool, items)
	if err != nil {
		return err
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	touched, err := db.table.Remove(hashed)
	if err != nil {
		if errors.Is(err, cuckoo.ErrNotFound) {
			return fmt.Errorf("%w: %v", ErrItemNotFound, err)
		}
		return err
	}
	for _, h := range hashed {
		delete(db.labels, h)
	}

	logger.V(1).Info("Re-encoding", "bins", len(touched))
	return db.update(ctx, touched)
}

// update re-encodes the bundles holding the touched bins and publishes them
// together. The table has already changed at this point so cancellation is
// ignored: a stale encoding would turn matches into misses.
func (db *DB) update(ctx context.Context, touched map[int]struct{}) error {
	bpb := db.layout.bins
	perBundle := make(map[int][]int)
	for b := range touched {
		perBundle[b/bpb] = append(perBundle[b/bpb], b%bpb)
	}
	indices := make([]int, 0, len(perBundle))
	for i := range perBundle {
		indices = append(indices, i)
	}
	sort.Ints(indices)

	db.snap.RLock()
	current := db.bundles
	db.snap.RUnlock()
	next := make([]*bundle, len(current))
	copy(next, current)

	ctx = context.WithoutCancel(ctx)
	err := db.pool.Chunks(ctx, len(indices), func(ctx context.Context, lo, hi int) error {
		enc := db.encoder.ShallowCopy()
		for _, i := range indices[lo:hi] {
			b := current[i].clone()
			for _, local := range perBundle[i] {
				occupants := db.table.Bin(i*bpb + local)
				var fields [][]byte
				if db.labeled {
					fields = make([][]byte, len(occupants))
					for j, h := range occupants {
						fields[j] = db.labels[h]
					}
				}
				if err := b.setBin(&db.layout, local, occupants, fields); err != nil {
					return fmt.Errorf("bundle %d bin %d: %w", i, local, err)
				}
			}
			if err := b.encode(db.he, enc); err != nil {
				return err
			}
			next[i] = b
		}
		return nil
	})
	if err != nil {
		return err
	}

	db.snap.Lock()
	db.bundles = next
	db.snap.Unlock()
	return nil
}

// Snapshot is a consistent view of the encoded bundles, unaffected by later
// writes
type Snapshot struct {
	bundles []*bundle
	labeled bool
}

// Snapshot returns the current encoded bundles
func (db *DB) Snapshot() *Snapshot {
	db.snap.RLock()
	defer db.snap.RUnlock()
	return &Snapshot{bundles: db.bundles, labeled: db.labeled}
}

// BundleCount is the number of bundles in the snapshot
func (s *Snapshot) BundleCount() int {
	return len(s.bundles)
}

// BundleStats describes the occupancy of one bundle
type BundleStats struct {
	Bundle     int
	Items      int
	LoadFactor float64
}

// Stats describes the occupancy of the database
type Stats struct {
	Items      int
	LoadFactor float64
	Bundles    []BundleStats
}

// Stats reports the occupancy of every bundle
func (db *DB) Stats() Stats {
	snap := db.Snapshot()
	cells := db.layout.bins * db.layout.binSize
	stats := Stats{Bundles: make([]BundleStats, len(snap.bundles))}
	for i, b := range snap.bundles {
		n := b.occupancy()
		stats.Items += n
		stats.Bundles[i] = BundleStats{Bundle: i, Items: n, LoadFactor: float64(n) / float64(cells)}
	}
	stats.LoadFactor = float64(stats.Items) / float64(cells*len(snap.bundles))
	return stats
}
