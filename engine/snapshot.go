package engine

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/sim-engine/blob"
	"github.com/signalsfoundry/sim-engine/internal/logging"
)

const (
	// SerializedMagic opens every snapshot.
	SerializedMagic uint32 = 0x5f4c454e

	// VersionBase is the first snapshot layout.
	VersionBase int32 = 0
	// VersionLatest is the layout Serialize writes.
	VersionLatest = VersionBase

	// HeaderSize is the encoded size of Header.
	HeaderSize = 12
)

var (
	// ErrCorrupted indicates a snapshot whose header magic is wrong.
	ErrCorrupted = errors.New("wrong or corrupted snapshot")
	// ErrUnsupportedVersion indicates a snapshot newer than this build.
	ErrUnsupportedVersion = errors.New("unsupported snapshot version")
	// ErrNoUniverse indicates a snapshot operation without a live universe.
	ErrNoUniverse = errors.New("no live universe")
	// ErrChecksumMismatch indicates a payload that does not match its checksum.
	ErrChecksumMismatch = errors.New("snapshot checksum mismatch")
)

// Header is the fixed prefix of a snapshot.
type Header struct {
	Magic    uint32
	Version  int32
	Reserved uint32
}

func writeHeader(w *blob.Writer, h Header) {
	w.WriteUint32(h.Magic)
	w.WriteInt32(h.Version)
	w.WriteUint32(h.Reserved)
}

func readHeader(r *blob.Reader) (Header, error) {
	h := Header{
		Magic:    r.ReadUint32(),
		Version:  r.ReadInt32(),
		Reserved: r.ReadUint32(),
	}
	return h, r.Err()
}

// Serialize appends a snapshot of the live simulation to w: the header, the
// path table, then the universe, hierarchy, renderer, plugin manager and
// every scene in registration order. It returns the CRC-32 (IEEE) of
// everything after the path table.
func (e *Engine) Serialize(w *blob.Writer) (uint32, error) {
	if e.universe == nil {
		return 0, ErrNoUniverse
	}
	ctx, span := e.tracer.Start(context.Background(), "engine.Serialize")
	defer span.End()

	start := w.Len()
	writeHeader(w, Header{Magic: SerializedMagic, Version: VersionLatest})
	e.paths.Serialize(w)
	payload := w.Len()

	e.universe.Serialize(w)
	e.hierarchy.Serialize(w)
	e.renderer.Serialize(w)
	e.pluginManager.Serialize(w)
	for _, s := range e.scenes {
		s.Serialize(w)
	}

	crc := crc32.ChecksumIEEE(w.Bytes()[payload:])
	size := w.Len() - start
	span.SetAttributes(attribute.Int("snapshot.bytes", size), attribute.Int("snapshot.scenes", len(e.scenes)))
	e.metrics.ObserveSnapshot("serialize", size)
	e.log.Debug(ctx, "snapshot written",
		logging.Int("bytes", size),
		logging.Uint32("crc", crc),
	)
	return crc, nil
}

// Deserialize restores a snapshot produced by Serialize into the live
// universe, which must have been created with the same plugins. A wrong
// magic or a newer version is logged and rejected before any state is
// touched. The checksum is not verified here; see VerifyChecksum.
func (e *Engine) Deserialize(r *blob.Reader) error {
	if e.universe == nil {
		return ErrNoUniverse
	}
	ctx, span := e.tracer.Start(context.Background(), "engine.Deserialize")
	defer span.End()

	h, err := readHeader(r)
	if err != nil || h.Magic != SerializedMagic {
		e.log.Error(ctx, "wrong or corrupted snapshot", logging.Uint32("magic", h.Magic))
		return e.failDeserialize(span, "corrupted", ErrCorrupted)
	}
	if h.Version > VersionLatest {
		e.log.Error(ctx, "unsupported snapshot version",
			logging.Int("version", int(h.Version)),
			logging.Int("latest", int(VersionLatest)),
		)
		return e.failDeserialize(span, "unsupported_version",
			fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.Version))
	}

	start := r.Pos() - HeaderSize
	steps := []struct {
		name string
		fn   func(*blob.Reader) error
	}{
		{"path table", e.paths.Deserialize},
		{"universe", e.universe.Deserialize},
		{"hierarchy", e.hierarchy.Deserialize},
		{"renderer", e.renderer.Deserialize},
		{"plugin manager", e.pluginManager.Deserialize},
	}
	for _, s := range e.scenes {
		name := s.Plugin().Name() + " scene"
		steps = append(steps, struct {
			name string
			fn   func(*blob.Reader) error
		}{name, s.Deserialize})
	}
	for _, step := range steps {
		if err := step.fn(r); err != nil {
			e.log.Error(ctx, "snapshot restore failed",
				logging.String("stage", step.name),
				logging.Err(err),
			)
			return e.failDeserialize(span, "payload", fmt.Errorf("restore %s: %w", step.name, err))
		}
	}

	size := r.Pos() - start
	span.SetAttributes(attribute.Int("snapshot.bytes", size))
	e.metrics.ObserveSnapshot("deserialize", size)
	e.log.Debug(ctx, "snapshot restored", logging.Int("bytes", size))
	return nil
}

func (e *Engine) failDeserialize(span trace.Span, reason string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, reason)
	e.metrics.IncSnapshotFailure(reason)
	return err
}

// PayloadChecksum validates the header of a serialized snapshot and returns
// the CRC-32 (IEEE) of its payload, matching what Serialize returned.
func PayloadChecksum(data []byte) (uint32, error) {
	r := blob.NewReader(data)
	h, err := readHeader(r)
	if err != nil || h.Magic != SerializedMagic {
		return 0, ErrCorrupted
	}
	if h.Version > VersionLatest {
		return 0, fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.Version)
	}
	r.ReadBlock()
	if err := r.Err(); err != nil {
		return 0, fmt.Errorf("%w: path table: %v", ErrCorrupted, err)
	}
	return crc32.ChecksumIEEE(data[r.Pos():]), nil
}

// VerifyChecksum reports whether data's payload matches crc.
func VerifyChecksum(data []byte, crc uint32) error {
	got, err := PayloadChecksum(data)
	if err != nil {
		return err
	}
	if got != crc {
		return fmt.Errorf("%w: got %08x, want %08x", ErrChecksumMismatch, got, crc)
	}
	return nil
}
