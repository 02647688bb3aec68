package blob

import (
	"bytes"
	"errors"
	"testing"
)

func TestWriterLayoutIsLittleEndian(t *testing.T) {
	w := NewWriter(0)
	w.WriteUint32(0x5f4c454e)
	w.WriteInt32(-1)

	want := []byte{0x4e, 0x45, 0x4c, 0x5f, 0xff, 0xff, 0xff, 0xff}
	if !bytes.Equal(w.Bytes(), want) {
		t.Fatalf("Bytes() = % x, want % x", w.Bytes(), want)
	}
}

func TestReaderSequence(t *testing.T) {
	w := NewWriter(64)
	w.WriteBool(true)
	w.WriteUint64(1 << 40)
	w.WriteFloat32(0.25)
	w.WriteFloat64(-3.5)
	w.WriteString("models/ship.msh")
	w.WriteBlock([]byte{1, 2, 3})

	r := NewReader(w.Bytes())
	if !r.ReadBool() {
		t.Fatalf("ReadBool = false")
	}
	if got := r.ReadUint64(); got != 1<<40 {
		t.Fatalf("ReadUint64 = %d", got)
	}
	if got := r.ReadFloat32(); got != 0.25 {
		t.Fatalf("ReadFloat32 = %v", got)
	}
	if got := r.ReadFloat64(); got != -3.5 {
		t.Fatalf("ReadFloat64 = %v", got)
	}
	if got := r.ReadString(); got != "models/ship.msh" {
		t.Fatalf("ReadString = %q", got)
	}
	if got := r.ReadBlock(); !bytes.Equal(got, []byte{1, 2, 3}) {
		t.Fatalf("ReadBlock = %v", got)
	}
	if r.Err() != nil || r.Remaining() != 0 {
		t.Fatalf("Err = %v, Remaining = %d", r.Err(), r.Remaining())
	}
}

func TestReaderShortReadIsSticky(t *testing.T) {
	r := NewReader([]byte{1, 2})
	if got := r.ReadUint32(); got != 0 {
		t.Fatalf("ReadUint32 on short data = %d, want 0", got)
	}
	if !errors.Is(r.Err(), ErrShortRead) {
		t.Fatalf("Err = %v, want ErrShortRead", r.Err())
	}
	r.ReadUint8()
	if !errors.Is(r.Err(), ErrShortRead) {
		t.Fatalf("error was not sticky: %v", r.Err())
	}
}

func TestReadBlockRejectsOversizedLength(t *testing.T) {
	w := NewWriter(0)
	w.WriteUint32(1000)
	w.WriteRaw([]byte{9})

	r := NewReader(w.Bytes())
	if got := r.ReadBlock(); got != nil {
		t.Fatalf("ReadBlock = %v, want nil", got)
	}
	if !errors.Is(r.Err(), ErrShortRead) {
		t.Fatalf("Err = %v, want ErrShortRead", r.Err())
	}
}
