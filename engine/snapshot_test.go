package engine_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"log/slog"
	"testing"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/signalsfoundry/sim-engine/blob"
	"github.com/signalsfoundry/sim-engine/engine"
	"github.com/signalsfoundry/sim-engine/pathtable"
	"github.com/signalsfoundry/sim-engine/plugin"
	"github.com/signalsfoundry/sim-engine/plugin/plugintest"
	"github.com/signalsfoundry/sim-engine/render"
)

// populate builds a small simulation in f's live universe.
func populate(t *testing.T, f *fixture) {
	t.Helper()
	u := f.engine.Universe()
	root := u.CreateEntity(mgl32.Vec3{1, 2, 3})
	child := u.CreateEntity(mgl32.Vec3{4, 5, 6})
	gone := u.CreateEntity(mgl32.Vec3{})
	if err := u.DestroyEntity(gone); err != nil {
		t.Fatalf("DestroyEntity: %v", err)
	}
	if err := f.engine.Hierarchy().SetParent(child, root); err != nil {
		t.Fatalf("SetParent: %v", err)
	}

	rs := f.engine.SceneByName(render.Name).(*render.Scene)
	rs.AddCamera(root, 60, 0.1, 1000)
	rs.AddRenderable(child, "models/Relay.msh")

	for _, p := range f.plugins {
		p.Scenes[0].Payload = []byte("payload:" + p.Name())
	}
	f.engine.Update(true, 1, 0.25)
	f.engine.Update(true, 1, 0.25)
}

func serialize(t *testing.T, e *engine.Engine) ([]byte, uint32) {
	t.Helper()
	w := blob.NewWriter(0)
	crc, err := e.Serialize(w)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	return w.Bytes(), crc
}

func TestSerializeWritesHeader(t *testing.T) {
	f := newFixture(t, []string{"a"})
	f.engine.CreateUniverse()
	data, _ := serialize(t, f.engine)

	if len(data) < engine.HeaderSize {
		t.Fatalf("snapshot shorter than header: %d", len(data))
	}
	if got := binary.LittleEndian.Uint32(data[0:4]); got != engine.SerializedMagic {
		t.Fatalf("magic = %#x, want %#x", got, engine.SerializedMagic)
	}
	if got := int32(binary.LittleEndian.Uint32(data[4:8])); got != engine.VersionLatest {
		t.Fatalf("version = %d, want %d", got, engine.VersionLatest)
	}
	if got := binary.LittleEndian.Uint32(data[8:12]); got != 0 {
		t.Fatalf("reserved = %d, want 0", got)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	src := newFixture(t, []string{"a", "*b"})
	src.engine.CreateUniverse()
	populate(t, src)
	stateful := src.engine.PluginManager().Plugin("b").(*plugintest.StatefulPlugin)
	stateful.State = 42
	data, crc := serialize(t, src.engine)

	dst := newFixture(t, []string{"a", "*b"})
	dst.engine.CreateUniverse()
	if err := dst.engine.Deserialize(blob.NewReader(data)); err != nil {
		t.Fatalf("Deserialize: %v", err)
	}

	again, crc2 := serialize(t, dst.engine)
	if !bytes.Equal(data, again) {
		t.Fatalf("re-serialized snapshot differs (%d vs %d bytes)", len(data), len(again))
	}
	if crc != crc2 {
		t.Fatalf("checksum %08x != %08x", crc2, crc)
	}

	if dst.engine.Universe().ID() != src.engine.Universe().ID() {
		t.Fatalf("universe id not restored")
	}
	if got := dst.engine.PluginManager().Plugin("b").(*plugintest.StatefulPlugin).State; got != 42 {
		t.Fatalf("plugin state = %d, want 42", got)
	}
	if got := dst.plugins["a"].Scenes[0]; got.Ticks != 2 || string(got.Payload) != "payload:a" {
		t.Fatalf("scene a restored as ticks=%d payload=%q", got.Ticks, got.Payload)
	}
	children := dst.engine.Hierarchy().Children(0)
	if len(children) != 1 || children[0] != 1 {
		t.Fatalf("hierarchy children of 0 = %v, want [1]", children)
	}
	if _, ok := dst.engine.Paths().Lookup(pathtable.Hash("models/Relay.msh")); !ok {
		t.Fatalf("path table not restored")
	}
}

func TestSerializeChecksumCoversPayload(t *testing.T) {
	f := newFixture(t, []string{"a"})
	f.engine.CreateUniverse()
	populate(t, f)
	data, crc := serialize(t, f.engine)

	if err := engine.VerifyChecksum(data, crc); err != nil {
		t.Fatalf("VerifyChecksum: %v", err)
	}
	got, err := engine.PayloadChecksum(data)
	if err != nil || got != crc {
		t.Fatalf("PayloadChecksum = %08x, %v; want %08x", got, err, crc)
	}

	tampered := append([]byte(nil), data...)
	i := bytes.LastIndex(tampered, []byte("payload:a"))
	tampered[i] = 'P'
	if err := engine.VerifyChecksum(tampered, crc); !errors.Is(err, engine.ErrChecksumMismatch) {
		t.Fatalf("VerifyChecksum(tampered) = %v, want ErrChecksumMismatch", err)
	}
}

func TestDeserializeDoesNotVerifyChecksum(t *testing.T) {
	src := newFixture(t, []string{"a"})
	src.engine.CreateUniverse()
	populate(t, src)
	data, _ := serialize(t, src.engine)
	i := bytes.LastIndex(data, []byte("payload:a"))
	data[i] = 'P'

	dst := newFixture(t, []string{"a"})
	dst.engine.CreateUniverse()
	if err := dst.engine.Deserialize(blob.NewReader(data)); err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	if got := string(dst.plugins["a"].Scenes[0].Payload); got != "Payload:a" {
		t.Fatalf("payload = %q, want tampered value", got)
	}
}

func TestDeserializeRejectsBadHeader(t *testing.T) {
	src := newFixture(t, []string{"a"})
	src.engine.CreateUniverse()
	populate(t, src)
	data, _ := serialize(t, src.engine)

	cases := []struct {
		name    string
		mutate  func([]byte) []byte
		wantErr error
	}{
		{
			name:    "magic",
			mutate:  func(b []byte) []byte { b[0] ^= 0xff; return b },
			wantErr: engine.ErrCorrupted,
		},
		{
			name: "version",
			mutate: func(b []byte) []byte {
				binary.LittleEndian.PutUint32(b[4:8], uint32(engine.VersionLatest+1))
				return b
			},
			wantErr: engine.ErrUnsupportedVersion,
		},
		{
			name:    "truncated header",
			mutate:  func(b []byte) []byte { return b[:6] },
			wantErr: engine.ErrCorrupted,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dst := newFixture(t, []string{"a"})
			dst.engine.CreateUniverse()
			dst.plugins["a"].Scenes[0].Payload = []byte("untouched")
			before, _ := serialize(t, dst.engine)

			bad := tc.mutate(append([]byte(nil), data...))
			err := dst.engine.Deserialize(blob.NewReader(bad))
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("Deserialize error = %v, want %v", err, tc.wantErr)
			}
			if got := dst.log.Count(slog.LevelError); got != 1 {
				t.Fatalf("error log entries = %d, want 1", got)
			}

			after, _ := serialize(t, dst.engine)
			if !bytes.Equal(before, after) {
				t.Fatalf("state changed after rejected snapshot")
			}
		})
	}
}

func TestDeserializeRejectsDifferentPluginSet(t *testing.T) {
	src := newFixture(t, []string{"a", "b"})
	src.engine.CreateUniverse()
	data, _ := serialize(t, src.engine)

	dst := newFixture(t, []string{"a", "c"})
	dst.engine.CreateUniverse()
	if err := dst.engine.Deserialize(blob.NewReader(data)); !errors.Is(err, plugin.ErrPluginSetMismatch) {
		t.Fatalf("Deserialize error = %v, want ErrPluginSetMismatch", err)
	}
}

func TestDeserializeTruncatedPayload(t *testing.T) {
	src := newFixture(t, []string{"a"})
	src.engine.CreateUniverse()
	populate(t, src)
	data, _ := serialize(t, src.engine)

	dst := newFixture(t, []string{"a"})
	dst.engine.CreateUniverse()
	err := dst.engine.Deserialize(blob.NewReader(data[:len(data)-3]))
	if !errors.Is(err, blob.ErrShortRead) {
		t.Fatalf("Deserialize error = %v, want ErrShortRead", err)
	}
}

func TestSnapshotWithoutUniverse(t *testing.T) {
	f := newFixture(t, nil)
	if _, err := f.engine.Serialize(blob.NewWriter(0)); !errors.Is(err, engine.ErrNoUniverse) {
		t.Fatalf("Serialize error = %v, want ErrNoUniverse", err)
	}
	if err := f.engine.Deserialize(blob.NewReader(nil)); !errors.Is(err, engine.ErrNoUniverse) {
		t.Fatalf("Deserialize error = %v, want ErrNoUniverse", err)
	}
}
