package universe

import (
	"fmt"
	"sort"
	"sync"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/signalsfoundry/sim-engine/blob"
)

type childLink struct {
	entity   Entity
	localPos mgl32.Vec3
	localRot mgl32.Quat
}

// Hierarchy keeps parent/child transform relationships over a universe's
// entities. Moving a parent moves its children; moving a child directly
// updates its transform relative to the parent. Destroyed entities are
// unlinked and their children become roots.
type Hierarchy struct {
	mu sync.Mutex

	universe *Universe
	parents  map[Entity]Entity
	children map[Entity][]childLink

	// propagating is non-zero while the hierarchy itself is moving children,
	// so the resulting move events do not rewrite their local transforms.
	propagating int

	unsubscribe func()
}

// NewHierarchy attaches a hierarchy to u. Call Destroy before discarding u.
func NewHierarchy(u *Universe) *Hierarchy {
	h := &Hierarchy{
		universe: u,
		parents:  make(map[Entity]Entity),
		children: make(map[Entity][]childLink),
	}
	h.unsubscribe = u.Subscribe(h.onEvent)
	return h
}

// Universe returns the universe the hierarchy is bound to.
func (h *Hierarchy) Universe() *Universe { return h.universe }

// Destroy detaches the hierarchy from its universe.
func (h *Hierarchy) Destroy() {
	if h.unsubscribe != nil {
		h.unsubscribe()
		h.unsubscribe = nil
	}
	h.mu.Lock()
	h.parents = make(map[Entity]Entity)
	h.children = make(map[Entity][]childLink)
	h.mu.Unlock()
}

// SetParent links child under parent, keeping child's current world
// transform. Passing InvalidEntity as parent detaches child.
func (h *Hierarchy) SetParent(child, parent Entity) error {
	u := h.universe
	if !u.HasEntity(child) {
		return fmt.Errorf("set parent of %d: %w", child, ErrEntityNotFound)
	}
	if parent.IsValid() && !u.HasEntity(parent) {
		return fmt.Errorf("set parent %d: %w", parent, ErrEntityNotFound)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if parent.IsValid() {
		for p := parent; p.IsValid(); p = h.parentLocked(p) {
			if p == child {
				return fmt.Errorf("set parent of %d to %d: %w", child, parent, ErrHierarchyCycle)
			}
		}
	}

	h.detachLocked(child)
	if !parent.IsValid() {
		return nil
	}
	link := childLink{entity: child}
	link.localPos, link.localRot = localTransform(
		u.Position(parent), u.Rotation(parent),
		u.Position(child), u.Rotation(child),
	)
	h.parents[child] = parent
	h.children[parent] = append(h.children[parent], link)
	return nil
}

// Parent returns e's parent, or InvalidEntity for roots.
func (h *Hierarchy) Parent(e Entity) Entity {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.parentLocked(e)
}

func (h *Hierarchy) parentLocked(e Entity) Entity {
	if p, ok := h.parents[e]; ok {
		return p
	}
	return InvalidEntity
}

// Children returns e's children in link order.
func (h *Hierarchy) Children(e Entity) []Entity {
	h.mu.Lock()
	defer h.mu.Unlock()
	links := h.children[e]
	res := make([]Entity, len(links))
	for i, l := range links {
		res[i] = l.entity
	}
	return res
}

func (h *Hierarchy) detachLocked(child Entity) {
	parent, ok := h.parents[child]
	if !ok {
		return
	}
	delete(h.parents, child)
	links := h.children[parent]
	for i, l := range links {
		if l.entity == child {
			links = append(links[:i], links[i+1:]...)
			break
		}
	}
	if len(links) == 0 {
		delete(h.children, parent)
	} else {
		h.children[parent] = links
	}
}

func (h *Hierarchy) onEvent(ev Event) {
	switch ev.Type {
	case EventEntityDestroyed:
		h.mu.Lock()
		h.detachLocked(ev.Entity)
		for _, l := range h.children[ev.Entity] {
			delete(h.parents, l.entity)
		}
		delete(h.children, ev.Entity)
		h.mu.Unlock()
	case EventEntityMoved:
		h.onMoved(ev)
	}
}

func (h *Hierarchy) onMoved(ev Event) {
	h.mu.Lock()
	if h.propagating == 0 {
		if parent, ok := h.parents[ev.Entity]; ok {
			links := h.children[parent]
			for i := range links {
				if links[i].entity == ev.Entity {
					links[i].localPos, links[i].localRot = localTransform(
						h.universe.Position(parent), h.universe.Rotation(parent),
						ev.Position, ev.Rotation,
					)
					break
				}
			}
		}
	}
	links := append([]childLink(nil), h.children[ev.Entity]...)
	h.propagating++
	h.mu.Unlock()

	for _, l := range links {
		pos := ev.Position.Add(ev.Rotation.Rotate(l.localPos))
		rot := ev.Rotation.Mul(l.localRot)
		_ = h.universe.SetTransform(l.entity, pos, rot)
	}

	h.mu.Lock()
	h.propagating--
	h.mu.Unlock()
}

func localTransform(parentPos mgl32.Vec3, parentRot mgl32.Quat, pos mgl32.Vec3, rot mgl32.Quat) (mgl32.Vec3, mgl32.Quat) {
	inv := parentRot.Inverse()
	return inv.Rotate(pos.Sub(parentPos)), inv.Mul(rot)
}

// Serialize writes every parent with its children in link order. Parents
// are ordered by entity so identical hierarchies produce identical bytes.
func (h *Hierarchy) Serialize(w *blob.Writer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	parents := make([]Entity, 0, len(h.children))
	for p := range h.children {
		parents = append(parents, p)
	}
	sort.Slice(parents, func(i, j int) bool { return parents[i] < parents[j] })

	w.WriteUint32(uint32(len(parents)))
	for _, p := range parents {
		links := h.children[p]
		w.WriteInt32(int32(p))
		w.WriteUint32(uint32(len(links)))
		for _, l := range links {
			w.WriteInt32(int32(l.entity))
			writeVec3(w, l.localPos)
			writeQuat(w, l.localRot)
		}
	}
}

// Deserialize replaces all links with the ones read from r.
func (h *Hierarchy) Deserialize(r *blob.Reader) error {
	parents := make(map[Entity]Entity)
	children := make(map[Entity][]childLink)

	n := int(r.ReadUint32())
	for i := 0; i < n && r.Err() == nil; i++ {
		p := Entity(r.ReadInt32())
		count := int(r.ReadUint32())
		if r.Err() != nil {
			break
		}
		if count > r.Remaining() {
			return fmt.Errorf("hierarchy child count %d exceeds remaining data: %w", count, blob.ErrShortRead)
		}
		if _, dup := children[p]; dup {
			return fmt.Errorf("hierarchy parent %d listed twice: %w", p, ErrInvalidState)
		}
		links := make([]childLink, count)
		for j := range links {
			links[j].entity = Entity(r.ReadInt32())
			links[j].localPos = readVec3(r)
			links[j].localRot = readQuat(r)
			c := links[j].entity
			if prev, dup := parents[c]; dup {
				return fmt.Errorf("hierarchy child %d has parents %d and %d: %w", c, prev, p, ErrInvalidState)
			}
			parents[c] = p
		}
		children[p] = links
	}
	if err := r.Err(); err != nil {
		return err
	}
	if err := h.validateLinks(parents); err != nil {
		return err
	}

	h.mu.Lock()
	h.parents = parents
	h.children = children
	h.mu.Unlock()
	return nil
}

// validateLinks checks that every linked entity is alive and that no chain
// of parents loops back on itself.
func (h *Hierarchy) validateLinks(parents map[Entity]Entity) error {
	for child, parent := range parents {
		if !h.universe.HasEntity(child) {
			return fmt.Errorf("hierarchy child %d: %w", child, ErrEntityNotFound)
		}
		if !h.universe.HasEntity(parent) {
			return fmt.Errorf("hierarchy parent %d: %w", parent, ErrEntityNotFound)
		}
		steps := 0
		for p, ok := parent, true; ok; p, ok = parents[p] {
			if p == child || steps > len(parents) {
				return fmt.Errorf("hierarchy link %d -> %d: %w", child, parent, ErrHierarchyCycle)
			}
			steps++
		}
	}
	return nil
}
