package fs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type flakyDevice struct {
	failures atomic.Int32
	calls    atomic.Int32
	inner    *MemoryDevice
}

func (d *flakyDevice) Name() string { return "flaky" }

func (d *flakyDevice) Read(path string) ([]byte, error) {
	d.calls.Add(1)
	if d.failures.Add(-1) >= 0 {
		return nil, errors.New("transient")
	}
	return d.inner.Read(path)
}

func (d *flakyDevice) Write(path string, data []byte) error {
	return d.inner.Write(path, data)
}

func newTestFS(t *testing.T) *FileSystem {
	t.Helper()
	f := New()
	t.Cleanup(f.Close)
	f.Mount(NewMemoryDevice())
	f.Mount(NewDiskDevice(t.TempDir()))
	if err := f.SetDefaultDevice("memory:disk"); err != nil {
		t.Fatalf("SetDefaultDevice: %v", err)
	}
	if err := f.SetSaveGameDevice("disk"); err != nil {
		t.Fatalf("SetSaveGameDevice: %v", err)
	}
	return f
}

func TestChainWritesEveryDeviceAndReadsFirst(t *testing.T) {
	f := newTestFS(t)
	ctx := context.Background()

	if err := f.WriteFile(ctx, "saves/a.bin", []byte("hello")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got, err := f.ReadSaveGame(ctx, "saves/a.bin")
	if err != nil {
		t.Fatalf("ReadSaveGame: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("disk copy = %q, want hello", got)
	}
	if _, err := f.ReadFile(ctx, "missing.bin"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("ReadFile(missing) error = %v, want ErrNotFound", err)
	}
}

func TestUnknownDeviceInChain(t *testing.T) {
	f := newTestFS(t)
	if err := f.SetDefaultDevice("memory:tape"); !errors.Is(err, ErrNoDevice) {
		t.Fatalf("SetDefaultDevice error = %v, want ErrNoDevice", err)
	}
}

func TestAsyncTransactionsDeliverOnlyWhenPumped(t *testing.T) {
	f := newTestFS(t)

	var delivered []*Transaction
	f.WriteAsync("a.txt", []byte("x"), func(tx *Transaction) { delivered = append(delivered, tx) })
	f.ReadAsync("a.txt", func(tx *Transaction) { delivered = append(delivered, tx) })

	if len(delivered) != 0 {
		t.Fatalf("callbacks ran before pump")
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(delivered) < 2 && time.Now().Before(deadline) {
		f.UpdateAsyncTransactions()
		time.Sleep(time.Millisecond)
	}
	if len(delivered) != 2 {
		t.Fatalf("delivered = %d, want 2", len(delivered))
	}
	if !delivered[0].Write || delivered[0].Err != nil {
		t.Fatalf("write transaction = %+v", delivered[0])
	}
	if string(delivered[1].Data) != "x" || delivered[1].Err != nil {
		t.Fatalf("read transaction = %+v", delivered[1])
	}
	if f.Pending() != 0 {
		t.Fatalf("Pending = %d, want 0", f.Pending())
	}
}

func TestTransientFailuresAreRetried(t *testing.T) {
	f := New(WithMaxTries(3))
	t.Cleanup(f.Close)
	dev := &flakyDevice{inner: NewMemoryDevice()}
	dev.failures.Store(2)
	_ = dev.inner.Write("x", []byte("ok"))
	f.Mount(dev)
	_ = f.SetDefaultDevice("flaky")

	got, err := f.ReadFile(context.Background(), "x")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "ok" || dev.calls.Load() != 3 {
		t.Fatalf("got %q after %d calls, want ok after 3", got, dev.calls.Load())
	}
}

func TestNotFoundIsNotRetried(t *testing.T) {
	f := New(WithMaxTries(5))
	t.Cleanup(f.Close)
	dev := &flakyDevice{inner: NewMemoryDevice()}
	f.Mount(dev)
	_ = f.SetDefaultDevice("flaky")

	if _, err := f.ReadFile(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("ReadFile error = %v, want ErrNotFound", err)
	}
	if dev.calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", dev.calls.Load())
	}
}
