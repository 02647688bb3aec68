// Package pathtable interns resource paths. A Table lives for the whole
// process and travels inside every snapshot, so components can persist a
// path as its 32-bit hash and resolve it again after a restore.
package pathtable

import (
	"errors"
	"fmt"
	"hash/crc32"
	"sort"
	"strings"
	"sync"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/signalsfoundry/sim-engine/blob"
)

// ErrMalformed is reported when a serialized table cannot be decoded.
var ErrMalformed = errors.New("pathtable: malformed table")

// Path is an interned, normalized resource path.
type Path struct {
	Hash  uint32
	Value string
}

// IsEmpty reports whether p is the zero Path.
func (p Path) IsEmpty() bool { return p.Value == "" }

func (p Path) String() string { return p.Value }

type entry struct {
	path string
	refs uint64
}

// Table is a reference-counted path intern table, safe for concurrent use.
type Table struct {
	mu      sync.RWMutex
	entries map[uint32]*entry
}

// New returns an empty table.
func New() *Table {
	return &Table{entries: make(map[uint32]*entry)}
}

// Normalize converts path separators to '/', lower-cases, and strips a
// leading "./" so equivalent spellings share a hash.
func Normalize(path string) string {
	p := strings.ToLower(strings.ReplaceAll(path, "\\", "/"))
	for strings.HasPrefix(p, "./") {
		p = p[2:]
	}
	return p
}

// Hash returns the hash Intern would assign to path.
func Hash(path string) uint32 {
	return crc32.ChecksumIEEE([]byte(Normalize(path)))
}

// Intern adds a reference to path and returns its interned form.
func (t *Table) Intern(path string) Path {
	norm := Normalize(path)
	if norm == "" {
		return Path{}
	}
	h := crc32.ChecksumIEEE([]byte(norm))

	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[h]; ok {
		e.refs++
		return Path{Hash: h, Value: e.path}
	}
	t.entries[h] = &entry{path: norm, refs: 1}
	return Path{Hash: h, Value: norm}
}

// Release drops one reference; the entry is removed when none remain.
func (t *Table) Release(p Path) {
	if p.IsEmpty() {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[p.Hash]
	if !ok {
		return
	}
	e.refs--
	if e.refs == 0 {
		delete(t.entries, p.Hash)
	}
}

// Lookup resolves a hash to its path.
func (t *Table) Lookup(hash uint32) (Path, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[hash]
	if !ok {
		return Path{}, false
	}
	return Path{Hash: hash, Value: e.path}, true
}

// Refs returns the reference count held for hash.
func (t *Table) Refs(hash uint32) uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if e, ok := t.entries[hash]; ok {
		return e.refs
	}
	return 0
}

// Len returns the number of interned paths.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

const (
	fieldEntry = protowire.Number(1)
	fieldHash  = protowire.Number(1)
	fieldPath  = protowire.Number(2)
	fieldRefs  = protowire.Number(3)
)

// Serialize writes the table as one length-prefixed block. Entries are
// ordered by hash so identical tables produce identical bytes.
func (t *Table) Serialize(w *blob.Writer) {
	t.mu.RLock()
	hashes := make([]uint32, 0, len(t.entries))
	for h := range t.entries {
		hashes = append(hashes, h)
	}
	sort.Slice(hashes, func(i, j int) bool { return hashes[i] < hashes[j] })

	var out []byte
	for _, h := range hashes {
		e := t.entries[h]
		var msg []byte
		msg = protowire.AppendTag(msg, fieldHash, protowire.Fixed32Type)
		msg = protowire.AppendFixed32(msg, h)
		msg = protowire.AppendTag(msg, fieldPath, protowire.BytesType)
		msg = protowire.AppendString(msg, e.path)
		msg = protowire.AppendTag(msg, fieldRefs, protowire.VarintType)
		msg = protowire.AppendVarint(msg, e.refs)

		out = protowire.AppendTag(out, fieldEntry, protowire.BytesType)
		out = protowire.AppendBytes(out, msg)
	}
	t.mu.RUnlock()

	w.WriteBlock(out)
}

// Deserialize replaces the table contents with the block read from r.
// On error the table is left unchanged.
func (t *Table) Deserialize(r *blob.Reader) error {
	data := r.ReadBlock()
	if err := r.Err(); err != nil {
		return err
	}

	entries := make(map[uint32]*entry)
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		data = data[n:]
		if num != fieldEntry || typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
			}
			data = data[n:]
			continue
		}
		msg, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		data = data[n:]

		h, e, err := decodeEntry(msg)
		if err != nil {
			return err
		}
		entries[h] = e
	}

	t.mu.Lock()
	t.entries = entries
	t.mu.Unlock()
	return nil
}

func decodeEntry(msg []byte) (uint32, *entry, error) {
	var (
		h    uint32
		e    entry
		seen bool
	)
	for len(msg) > 0 {
		num, typ, n := protowire.ConsumeTag(msg)
		if n < 0 {
			return 0, nil, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		msg = msg[n:]
		switch {
		case num == fieldHash && typ == protowire.Fixed32Type:
			h, n = protowire.ConsumeFixed32(msg)
			seen = true
		case num == fieldPath && typ == protowire.BytesType:
			e.path, n = protowire.ConsumeString(msg)
		case num == fieldRefs && typ == protowire.VarintType:
			e.refs, n = protowire.ConsumeVarint(msg)
		default:
			n = protowire.ConsumeFieldValue(num, typ, msg)
		}
		if n < 0 {
			return 0, nil, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		msg = msg[n:]
	}
	if !seen || e.path == "" {
		return 0, nil, fmt.Errorf("%w: entry without hash or path", ErrMalformed)
	}
	if e.refs == 0 {
		e.refs = 1
	}
	return h, &e, nil
}
