// Package snapshot persists engine snapshots. A stored snapshot is an
// envelope holding the checksum Serialize returned together with the
// zstd-compressed snapshot bytes; Load verifies the checksum before any
// state is handed to the engine.
package snapshot

import (
	"context"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/signalsfoundry/sim-engine/blob"
	"github.com/signalsfoundry/sim-engine/engine"
	"github.com/signalsfoundry/sim-engine/fs"
	"github.com/signalsfoundry/sim-engine/internal/logging"
)

const (
	envelopeMagic   uint32 = 0x50414e53 // "SNAP"
	envelopeVersion uint32 = 1

	// maxSnapshotSize bounds the decompressed size accepted by Load.
	maxSnapshotSize = 1 << 30

	// maxPrealloc caps the output buffer reserved from the declared size;
	// larger snapshots grow the buffer while decompressing.
	maxPrealloc = 4 << 20
)

// ErrBadEnvelope indicates stored data that is not a snapshot envelope.
var ErrBadEnvelope = errors.New("not a snapshot envelope")

// Snapshotter is the part of an engine a Store drives.
type Snapshotter interface {
	Serialize(w *blob.Writer) (uint32, error)
	Deserialize(r *blob.Reader) error
}

var _ Snapshotter = (*engine.Engine)(nil)

// Info describes a stored snapshot.
type Info struct {
	Name           string
	Checksum       uint32
	Size           int
	CompressedSize int
}

// Option configures a Store.
type Option func(*Store)

// WithLogger attaches a structured logger.
func WithLogger(log logging.Logger) Option {
	return func(s *Store) { s.log = logging.OrNoop(log) }
}

// WithLevel sets the zstd encoder level.
func WithLevel(level zstd.EncoderLevel) Option {
	return func(s *Store) { s.level = level }
}

// Store reads and writes snapshots through a file system's save-game chain.
type Store struct {
	fs    *fs.FileSystem
	log   logging.Logger
	level zstd.EncoderLevel
	enc   *zstd.Encoder
	dec   *zstd.Decoder
}

// NewStore returns a store writing through fsys.
func NewStore(fsys *fs.FileSystem, opts ...Option) (*Store, error) {
	s := &Store{fs: fsys, log: logging.Noop(), level: zstd.SpeedDefault}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(logging.String("component", "snapshot"))

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(s.level))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxSnapshotSize))
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	s.enc = enc
	s.dec = dec
	return s, nil
}

// Close releases the codec resources.
func (s *Store) Close() {
	s.enc.Close()
	s.dec.Close()
}

// Encode wraps a serialized snapshot and its checksum in an envelope.
func (s *Store) Encode(data []byte, crc uint32) []byte {
	w := blob.NewWriter(16 + len(data)/2)
	w.WriteUint32(envelopeMagic)
	w.WriteUint32(envelopeVersion)
	w.WriteUint32(crc)
	w.WriteUint32(uint32(len(data)))
	w.WriteRaw(s.enc.EncodeAll(data, nil))
	return w.Bytes()
}

// Decode unwraps an envelope and verifies the snapshot against the stored
// checksum.
func (s *Store) Decode(env []byte) ([]byte, uint32, error) {
	r := blob.NewReader(env)
	magic := r.ReadUint32()
	version := r.ReadUint32()
	crc := r.ReadUint32()
	size := r.ReadUint32()
	if err := r.Err(); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrBadEnvelope, err)
	}
	if magic != envelopeMagic || version != envelopeVersion {
		return nil, 0, ErrBadEnvelope
	}
	if size > maxSnapshotSize {
		return nil, 0, fmt.Errorf("%w: declared size %d too large", ErrBadEnvelope, size)
	}

	data, err := s.dec.DecodeAll(r.ReadRaw(r.Remaining()), make([]byte, 0, min(int(size), maxPrealloc)))
	if err != nil {
		return nil, 0, fmt.Errorf("decompress snapshot: %w", err)
	}
	if len(data) != int(size) {
		return nil, 0, fmt.Errorf("%w: size %d, envelope says %d", ErrBadEnvelope, len(data), size)
	}
	if err := engine.VerifyChecksum(data, crc); err != nil {
		return nil, 0, err
	}
	return data, crc, nil
}

// Save serializes src and writes it under name.
func (s *Store) Save(ctx context.Context, src Snapshotter, name string) (Info, error) {
	w := blob.NewWriter(64 << 10)
	crc, err := src.Serialize(w)
	if err != nil {
		return Info{}, fmt.Errorf("serialize: %w", err)
	}
	env := s.Encode(w.Bytes(), crc)
	if err := s.fs.WriteSaveGame(ctx, name, env); err != nil {
		return Info{}, fmt.Errorf("write snapshot %q: %w", name, err)
	}
	info := Info{Name: name, Checksum: crc, Size: w.Len(), CompressedSize: len(env)}
	s.log.Info(ctx, "snapshot saved",
		logging.String("name", name),
		logging.Uint32("crc", crc),
		logging.Int("bytes", info.Size),
		logging.Int("stored_bytes", info.CompressedSize),
	)
	return info, nil
}

// Load reads name, verifies it and restores it into dst. dst is not
// touched when verification fails.
func (s *Store) Load(ctx context.Context, dst Snapshotter, name string) (Info, error) {
	env, err := s.fs.ReadSaveGame(ctx, name)
	if err != nil {
		return Info{}, fmt.Errorf("read snapshot %q: %w", name, err)
	}
	data, crc, err := s.Decode(env)
	if err != nil {
		s.log.Error(ctx, "snapshot rejected", logging.String("name", name), logging.Err(err))
		return Info{}, err
	}
	if err := dst.Deserialize(blob.NewReader(data)); err != nil {
		return Info{}, fmt.Errorf("restore snapshot %q: %w", name, err)
	}
	info := Info{Name: name, Checksum: crc, Size: len(data), CompressedSize: len(env)}
	s.log.Info(ctx, "snapshot loaded", logging.String("name", name), logging.Uint32("crc", crc))
	return info, nil
}
