package fs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

var (
	// ErrNotFound indicates that no device in a chain holds the file.
	ErrNotFound = errors.New("file not found")
	// ErrNoDevice indicates a chain naming a device that is not mounted.
	ErrNoDevice = errors.New("device not mounted")
)

// Device is a storage backend addressed by slash-separated paths.
type Device interface {
	Name() string
	Read(path string) ([]byte, error)
	Write(path string, data []byte) error
}

// MemoryDevice keeps files in memory. It is mounted in front of the disk so
// recently written files are served without touching storage.
type MemoryDevice struct {
	mu    sync.RWMutex
	files map[string][]byte
}

// NewMemoryDevice returns an empty memory device.
func NewMemoryDevice() *MemoryDevice {
	return &MemoryDevice{files: make(map[string][]byte)}
}

func (d *MemoryDevice) Name() string { return "memory" }

func (d *MemoryDevice) Read(path string) ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	data, ok := d.files[path]
	if !ok {
		return nil, fmt.Errorf("memory %q: %w", path, ErrNotFound)
	}
	return append([]byte(nil), data...), nil
}

func (d *MemoryDevice) Write(path string, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.files[path] = append([]byte(nil), data...)
	return nil
}

// DiskDevice reads and writes files below a root directory.
type DiskDevice struct {
	root string
}

// NewDiskDevice returns a device rooted at root.
func NewDiskDevice(root string) *DiskDevice {
	return &DiskDevice{root: root}
}

func (d *DiskDevice) Name() string { return "disk" }

func (d *DiskDevice) resolve(path string) string {
	return filepath.Join(d.root, filepath.FromSlash(path))
}

func (d *DiskDevice) Read(path string) ([]byte, error) {
	data, err := os.ReadFile(d.resolve(path))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("disk %q: %w", path, ErrNotFound)
	}
	return data, err
}

func (d *DiskDevice) Write(path string, data []byte) error {
	full := d.resolve(path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	return os.WriteFile(full, data, 0o644)
}
