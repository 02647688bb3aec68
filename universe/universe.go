package universe

import (
	"errors"
	"fmt"
	"hash/crc32"
	"sync"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"

	"github.com/signalsfoundry/sim-engine/blob"
)

var (
	// ErrEntityNotFound indicates an entity that was never created or has been destroyed.
	ErrEntityNotFound = errors.New("entity not found")
	// ErrHierarchyCycle indicates a parent assignment that would make an entity its own ancestor.
	ErrHierarchyCycle = errors.New("hierarchy cycle")
	// ErrInvalidState indicates restored state that is internally inconsistent.
	ErrInvalidState = errors.New("invalid universe state")
)

// Entity identifies a slot in a Universe.
type Entity int32

// InvalidEntity is the zero-value sentinel for "no entity".
const InvalidEntity Entity = -1

// IsValid reports whether e can refer to a slot.
func (e Entity) IsValid() bool { return e >= 0 }

// ComponentType identifies a kind of component; scenes declare which types
// they own.
type ComponentType uint32

// ComponentTypeOf hashes a component type name.
func ComponentTypeOf(name string) ComponentType {
	return ComponentType(crc32.ChecksumIEEE([]byte(name)))
}

// EventType indicates what kind of change happened in the universe.
type EventType int

const (
	EventEntityCreated EventType = iota
	EventEntityDestroyed
	EventEntityMoved
)

// Event is emitted to subscribers when an entity changes.
type Event struct {
	Type     EventType
	Entity   Entity
	Position mgl32.Vec3
	Rotation mgl32.Quat
}

type subscriber struct {
	id int
	fn func(Event)
}

// Universe is the root container of entities and their world transforms.
// Subscribers are notified outside the lock, on the goroutine that made the
// change.
type Universe struct {
	mu sync.RWMutex

	id        uuid.UUID
	alive     []bool
	positions []mgl32.Vec3
	rotations []mgl32.Quat
	free      []Entity

	subs    []subscriber
	nextSub int
}

// New constructs an empty universe with a fresh ID.
func New() *Universe {
	return &Universe{id: uuid.New()}
}

// ID returns the universe instance ID. It is part of the serialized state.
func (u *Universe) ID() uuid.UUID {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.id
}

// CreateEntity allocates an entity at pos with identity rotation, reusing
// the most recently freed slot when one exists.
func (u *Universe) CreateEntity(pos mgl32.Vec3) Entity {
	u.mu.Lock()
	var e Entity
	if n := len(u.free); n > 0 {
		e = u.free[n-1]
		u.free = u.free[:n-1]
		u.alive[e] = true
		u.positions[e] = pos
		u.rotations[e] = mgl32.QuatIdent()
	} else {
		e = Entity(len(u.alive))
		u.alive = append(u.alive, true)
		u.positions = append(u.positions, pos)
		u.rotations = append(u.rotations, mgl32.QuatIdent())
	}
	event := Event{Type: EventEntityCreated, Entity: e, Position: pos, Rotation: mgl32.QuatIdent()}
	subs := u.snapshotSubs()
	u.mu.Unlock()

	notify(subs, event)
	return e
}

// DestroyEntity frees e's slot.
func (u *Universe) DestroyEntity(e Entity) error {
	u.mu.Lock()
	if !u.hasLocked(e) {
		u.mu.Unlock()
		return fmt.Errorf("destroy entity %d: %w", e, ErrEntityNotFound)
	}
	u.alive[e] = false
	u.free = append(u.free, e)
	event := Event{Type: EventEntityDestroyed, Entity: e, Position: u.positions[e], Rotation: u.rotations[e]}
	subs := u.snapshotSubs()
	u.mu.Unlock()

	notify(subs, event)
	return nil
}

// HasEntity reports whether e is alive.
func (u *Universe) HasEntity(e Entity) bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.hasLocked(e)
}

func (u *Universe) hasLocked(e Entity) bool {
	return e >= 0 && int(e) < len(u.alive) && u.alive[e]
}

// EntityCount returns the number of live entities.
func (u *Universe) EntityCount() int {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return len(u.alive) - len(u.free)
}

// Entities returns the live entities in slot order.
func (u *Universe) Entities() []Entity {
	u.mu.RLock()
	defer u.mu.RUnlock()
	res := make([]Entity, 0, len(u.alive)-len(u.free))
	for i, ok := range u.alive {
		if ok {
			res = append(res, Entity(i))
		}
	}
	return res
}

// Position returns e's world position, or the zero vector if e is not alive.
func (u *Universe) Position(e Entity) mgl32.Vec3 {
	u.mu.RLock()
	defer u.mu.RUnlock()
	if !u.hasLocked(e) {
		return mgl32.Vec3{}
	}
	return u.positions[e]
}

// Rotation returns e's world rotation, or identity if e is not alive.
func (u *Universe) Rotation(e Entity) mgl32.Quat {
	u.mu.RLock()
	defer u.mu.RUnlock()
	if !u.hasLocked(e) {
		return mgl32.QuatIdent()
	}
	return u.rotations[e]
}

// SetPosition moves e, keeping its rotation.
func (u *Universe) SetPosition(e Entity, pos mgl32.Vec3) error {
	return u.SetTransform(e, pos, u.Rotation(e))
}

// SetRotation rotates e, keeping its position.
func (u *Universe) SetRotation(e Entity, rot mgl32.Quat) error {
	return u.SetTransform(e, u.Position(e), rot)
}

// SetTransform updates e's world transform and notifies subscribers.
func (u *Universe) SetTransform(e Entity, pos mgl32.Vec3, rot mgl32.Quat) error {
	u.mu.Lock()
	if !u.hasLocked(e) {
		u.mu.Unlock()
		return fmt.Errorf("move entity %d: %w", e, ErrEntityNotFound)
	}
	u.positions[e] = pos
	u.rotations[e] = rot
	event := Event{Type: EventEntityMoved, Entity: e, Position: pos, Rotation: rot}
	subs := u.snapshotSubs()
	u.mu.Unlock()

	notify(subs, event)
	return nil
}

// Subscribe registers a callback for entity events. It returns an
// unsubscribe function that is safe to call more than once.
func (u *Universe) Subscribe(fn func(Event)) (unsubscribe func()) {
	u.mu.Lock()
	defer u.mu.Unlock()
	id := u.nextSub
	u.nextSub++
	u.subs = append(u.subs, subscriber{id: id, fn: fn})

	return func() {
		u.mu.Lock()
		defer u.mu.Unlock()
		for i, s := range u.subs {
			if s.id == id {
				u.subs = append(u.subs[:i], u.subs[i+1:]...)
				return
			}
		}
	}
}

func (u *Universe) snapshotSubs() []subscriber {
	return append([]subscriber(nil), u.subs...)
}

func notify(subs []subscriber, event Event) {
	for _, s := range subs {
		s.fn(event)
	}
}

// Serialize writes the universe ID, every slot (live or free), and the
// free list in reuse order.
func (u *Universe) Serialize(w *blob.Writer) {
	u.mu.RLock()
	defer u.mu.RUnlock()

	w.WriteRaw(u.id[:])
	w.WriteUint32(uint32(len(u.alive)))
	for i := range u.alive {
		w.WriteBool(u.alive[i])
		writeVec3(w, u.positions[i])
		writeQuat(w, u.rotations[i])
	}
	w.WriteUint32(uint32(len(u.free)))
	for _, e := range u.free {
		w.WriteInt32(int32(e))
	}
}

// Deserialize replaces the universe state with the one read from r.
// Subscribers are not notified; the state is restored, not rebuilt.
func (u *Universe) Deserialize(r *blob.Reader) error {
	var id uuid.UUID
	copy(id[:], r.ReadRaw(len(id)))

	n := int(r.ReadUint32())
	if err := r.Err(); err != nil {
		return err
	}
	if n > r.Remaining() {
		return fmt.Errorf("universe slot count %d exceeds remaining data: %w", n, blob.ErrShortRead)
	}
	alive := make([]bool, n)
	positions := make([]mgl32.Vec3, n)
	rotations := make([]mgl32.Quat, n)
	for i := 0; i < n; i++ {
		alive[i] = r.ReadBool()
		positions[i] = readVec3(r)
		rotations[i] = readQuat(r)
	}
	nfree := int(r.ReadUint32())
	if err := r.Err(); err != nil {
		return err
	}
	if nfree > n {
		return fmt.Errorf("universe free list length %d exceeds slot count %d: %w", nfree, n, blob.ErrShortRead)
	}
	free := make([]Entity, nfree)
	for i := range free {
		free[i] = Entity(r.ReadInt32())
	}
	if err := r.Err(); err != nil {
		return err
	}
	if err := validateFreeList(alive, free); err != nil {
		return err
	}

	u.mu.Lock()
	u.id = id
	u.alive = alive
	u.positions = positions
	u.rotations = rotations
	u.free = free
	u.mu.Unlock()
	return nil
}

// validateFreeList checks that free names every dead slot exactly once and
// nothing else.
func validateFreeList(alive []bool, free []Entity) error {
	seen := make([]bool, len(alive))
	for _, e := range free {
		switch {
		case e < 0 || int(e) >= len(alive):
			return fmt.Errorf("free entity %d out of range [0, %d): %w", e, len(alive), ErrInvalidState)
		case alive[e]:
			return fmt.Errorf("free entity %d is alive: %w", e, ErrInvalidState)
		case seen[e]:
			return fmt.Errorf("free entity %d listed twice: %w", e, ErrInvalidState)
		}
		seen[e] = true
	}
	for i, ok := range alive {
		if !ok && !seen[i] {
			return fmt.Errorf("dead slot %d missing from free list: %w", i, ErrInvalidState)
		}
	}
	return nil
}

func writeVec3(w *blob.Writer, v mgl32.Vec3) {
	w.WriteFloat32(v[0])
	w.WriteFloat32(v[1])
	w.WriteFloat32(v[2])
}

func readVec3(r *blob.Reader) mgl32.Vec3 {
	return mgl32.Vec3{r.ReadFloat32(), r.ReadFloat32(), r.ReadFloat32()}
}

func writeQuat(w *blob.Writer, q mgl32.Quat) {
	w.WriteFloat32(q.W)
	writeVec3(w, q.V)
}

func readQuat(r *blob.Reader) mgl32.Quat {
	wv := r.ReadFloat32()
	return mgl32.Quat{W: wv, V: readVec3(r)}
}
