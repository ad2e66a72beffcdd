package pool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

func TestRunVisitsAll(t *testing.T) {
	p := New(3)
	var seen = make([]int32, 100)
	err := p.Run(context.Background(), len(seen), func(ctx context.Context, i int) error {
		atomic.AddInt32(&seen[i], 1)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range seen {
		if v != 1 {
			t.Fatalf("index %d visited %d times", i, v)
		}
	}
}

func TestRunBoundsConcurrency(t *testing.T) {
	p := New(2)
	var running, peak int32
	err := p.Run(context.Background(), 50, func(ctx context.Context, i int) error {
		n := atomic.AddInt32(&running, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
				break
			}
		}
		atomic.AddInt32(&running, -1)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if peak > 2 {
		t.Fatalf("expected at most 2 concurrent workers, saw %d", peak)
	}
}

func TestRunReturnsFirstError(t *testing.T) {
	boom := errors.New("boom")
	err := New(4).Run(context.Background(), 10, func(ctx context.Context, i int) error {
		if i == 3 {
			return boom
		}
		return nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}

func TestChunksCoverRange(t *testing.T) {
	for _, n := range []int{0, 1, 5, 17, 64} {
		var covered = make([]int32, n)
		err := New(4).Chunks(context.Background(), n, func(ctx context.Context, lo, hi int) error {
			for i := lo; i < hi; i++ {
				atomic.AddInt32(&covered[i], 1)
			}
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
		for i, v := range covered {
			if v != 1 {
				t.Fatalf("n=%d: index %d covered %d times", n, i, v)
			}
		}
	}
}
