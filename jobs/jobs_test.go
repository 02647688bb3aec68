package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

func TestRunWaitsForAllJobs(t *testing.T) {
	d := New(2)
	var ran atomic.Int32
	jobs := make([]Job, 10)
	for i := range jobs {
		jobs[i] = func(context.Context) error {
			ran.Add(1)
			return nil
		}
	}
	if err := d.Run(context.Background(), jobs...); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if ran.Load() != 10 {
		t.Fatalf("ran = %d, want 10", ran.Load())
	}
	if d.Batches() != 1 {
		t.Fatalf("Batches = %d, want 1", d.Batches())
	}
}

func TestRunReturnsFirstError(t *testing.T) {
	d := New(1)
	boom := errors.New("boom")
	err := d.Run(context.Background(),
		func(context.Context) error { return boom },
		func(ctx context.Context) error { return ctx.Err() },
	)
	if !errors.Is(err, boom) {
		t.Fatalf("Run error = %v, want boom", err)
	}
}

func TestForEachCoversEveryIndex(t *testing.T) {
	d := New(3)
	seen := make([]atomic.Bool, 17)
	err := d.ForEach(context.Background(), len(seen), func(_ context.Context, i int) error {
		if seen[i].Swap(true) {
			return errors.New("index visited twice")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("ForEach: %v", err)
	}
	for i := range seen {
		if !seen[i].Load() {
			t.Fatalf("index %d not visited", i)
		}
	}
}

func TestClosedDispatcherRefusesWork(t *testing.T) {
	d := New(0)
	if d.Workers() <= 0 {
		t.Fatalf("Workers = %d, want > 0", d.Workers())
	}
	d.Close()
	if err := d.Run(context.Background(), func(context.Context) error { return nil }); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run after Close = %v, want context.Canceled", err)
	}
}
