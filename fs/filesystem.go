// Package fs is the engine's file system: mounted devices combined into
// chains such as "memory:disk", synchronous access for tools, and
// asynchronous transactions whose completions are delivered only when the
// owner pumps them once per frame.
package fs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/signalsfoundry/sim-engine/internal/logging"
)

// Transaction is a completed asynchronous read or write.
type Transaction struct {
	Path  string
	Data  []byte
	Err   error
	Write bool

	done func(*Transaction)
}

// Option customises a FileSystem.
type Option func(*FileSystem)

// WithLogger attaches a structured logger.
func WithLogger(log logging.Logger) Option {
	return func(f *FileSystem) { f.log = logging.OrNoop(log) }
}

// WithMaxTries bounds how often a failing device operation is attempted.
// ErrNotFound is never retried.
func WithMaxTries(n uint) Option {
	return func(f *FileSystem) {
		if n > 0 {
			f.maxTries = n
		}
	}
}

// FileSystem routes file access to mounted devices.
type FileSystem struct {
	mu       sync.RWMutex
	devices  map[string]Device
	def      []Device
	saveGame []Device

	maxTries uint
	log      logging.Logger

	queueMu   sync.Mutex
	queue     []*Transaction
	completed []*Transaction
	inFlight  int
	wake      chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New starts a file system with no devices mounted.
func New(opts ...Option) *FileSystem {
	ctx, cancel := context.WithCancel(context.Background())
	f := &FileSystem{
		devices:  make(map[string]Device),
		maxTries: 3,
		log:      logging.Noop(),
		wake:     make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(f)
	}
	f.wg.Add(1)
	go f.worker()
	return f
}

// Mount registers d under its name, replacing any device with that name.
func (f *FileSystem) Mount(d Device) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.devices[d.Name()] = d
}

// SetDefaultDevice selects the chain used by ReadFile, WriteFile and the
// async operations.
func (f *FileSystem) SetDefaultDevice(chain string) error {
	devs, err := f.parseChain(chain)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.def = devs
	f.mu.Unlock()
	return nil
}

// SetSaveGameDevice selects the chain used by the save-game operations.
func (f *FileSystem) SetSaveGameDevice(chain string) error {
	devs, err := f.parseChain(chain)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.saveGame = devs
	f.mu.Unlock()
	return nil
}

func (f *FileSystem) parseChain(chain string) ([]Device, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var devs []Device
	for _, name := range strings.Split(chain, ":") {
		d, ok := f.devices[name]
		if !ok {
			return nil, fmt.Errorf("chain %q: %q: %w", chain, name, ErrNoDevice)
		}
		devs = append(devs, d)
	}
	return devs, nil
}

func (f *FileSystem) defaultChain() []Device {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.def
}

func (f *FileSystem) saveGameChain() []Device {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.saveGame
}

// ReadFile reads path from the first device in the default chain that has it.
func (f *FileSystem) ReadFile(ctx context.Context, path string) ([]byte, error) {
	return f.read(ctx, f.defaultChain(), path)
}

// WriteFile writes path to every device in the default chain.
func (f *FileSystem) WriteFile(ctx context.Context, path string, data []byte) error {
	return f.write(ctx, f.defaultChain(), path, data)
}

// ReadSaveGame reads path through the save-game chain.
func (f *FileSystem) ReadSaveGame(ctx context.Context, path string) ([]byte, error) {
	return f.read(ctx, f.saveGameChain(), path)
}

// WriteSaveGame writes path through the save-game chain.
func (f *FileSystem) WriteSaveGame(ctx context.Context, path string, data []byte) error {
	return f.write(ctx, f.saveGameChain(), path, data)
}

func (f *FileSystem) read(ctx context.Context, chain []Device, path string) ([]byte, error) {
	if len(chain) == 0 {
		return nil, fmt.Errorf("read %q: %w", path, ErrNoDevice)
	}
	for _, d := range chain {
		data, err := f.retry(ctx, func() ([]byte, error) { return d.Read(path) })
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("read %q from %s: %w", path, d.Name(), err)
		}
	}
	return nil, fmt.Errorf("read %q: %w", path, ErrNotFound)
}

func (f *FileSystem) write(ctx context.Context, chain []Device, path string, data []byte) error {
	if len(chain) == 0 {
		return fmt.Errorf("write %q: %w", path, ErrNoDevice)
	}
	for _, d := range chain {
		_, err := f.retry(ctx, func() ([]byte, error) { return nil, d.Write(path, data) })
		if err != nil {
			return fmt.Errorf("write %q to %s: %w", path, d.Name(), err)
		}
	}
	return nil
}

func (f *FileSystem) retry(ctx context.Context, op func() ([]byte, error)) ([]byte, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 200 * time.Millisecond

	return backoff.Retry(ctx, func() ([]byte, error) {
		data, err := op()
		if errors.Is(err, ErrNotFound) {
			return nil, backoff.Permanent(err)
		}
		return data, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(f.maxTries))
}

// ReadAsync queues a read through the default chain. done runs on the
// goroutine that calls UpdateAsyncTransactions.
func (f *FileSystem) ReadAsync(path string, done func(*Transaction)) {
	f.submit(&Transaction{Path: path, done: done})
}

// WriteAsync queues a write through the default chain. data must not be
// modified until done has run.
func (f *FileSystem) WriteAsync(path string, data []byte, done func(*Transaction)) {
	f.submit(&Transaction{Path: path, Data: data, Write: true, done: done})
}

func (f *FileSystem) submit(tx *Transaction) {
	f.queueMu.Lock()
	f.queue = append(f.queue, tx)
	f.inFlight++
	f.queueMu.Unlock()

	select {
	case f.wake <- struct{}{}:
	default:
	}
}

// Pending returns the number of transactions queued or finished but not yet
// delivered.
func (f *FileSystem) Pending() int {
	f.queueMu.Lock()
	defer f.queueMu.Unlock()
	return f.inFlight
}

// UpdateAsyncTransactions delivers every finished transaction to its
// callback and returns how many were delivered. It never waits for
// transactions still in progress.
func (f *FileSystem) UpdateAsyncTransactions() int {
	f.queueMu.Lock()
	done := f.completed
	f.completed = nil
	f.inFlight -= len(done)
	f.queueMu.Unlock()

	for _, tx := range done {
		if tx.Err != nil {
			f.log.Warn(context.Background(), "async file transaction failed",
				logging.String("path", tx.Path), logging.Err(tx.Err))
		}
		if tx.done != nil {
			tx.done(tx)
		}
	}
	return len(done)
}

func (f *FileSystem) worker() {
	defer f.wg.Done()
	for {
		select {
		case <-f.ctx.Done():
			return
		case <-f.wake:
		}

		for {
			f.queueMu.Lock()
			if len(f.queue) == 0 {
				f.queueMu.Unlock()
				break
			}
			tx := f.queue[0]
			f.queue = f.queue[1:]
			f.queueMu.Unlock()

			if tx.Write {
				tx.Err = f.WriteFile(f.ctx, tx.Path, tx.Data)
			} else {
				tx.Data, tx.Err = f.ReadFile(f.ctx, tx.Path)
			}

			f.queueMu.Lock()
			f.completed = append(f.completed, tx)
			f.queueMu.Unlock()
		}
	}
}

// Close stops the background worker. Undelivered transactions are dropped.
func (f *FileSystem) Close() {
	f.cancel()
	f.wg.Wait()
}
