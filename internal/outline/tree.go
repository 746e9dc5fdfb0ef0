package outline

import (
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Tree is an in-memory view of one container's nodes, keyed by uuid.
// The serializer loads it at the start of a command, applies exactly one
// mutation, and persists the change set it gets back.
type Tree struct {
	ContainerID uuid.UUID
	Nodes       map[uuid.UUID]*Node
}

// NewTree builds a tree view from a flat node list.
func NewTree(containerID uuid.UUID, nodes []*Node) *Tree {
	t := &Tree{ContainerID: containerID, Nodes: make(map[uuid.UUID]*Node, len(nodes))}
	for _, n := range nodes {
		t.Nodes[n.UUID] = n
	}
	return t
}

// Change is the outcome of one mutation: rows to upsert, rows to delete,
// the event to append, and the nodes whose text changed (these get
// analyzer jobs).
type Change struct {
	Type           EventType
	Payload        any
	Dirty          []*Node
	Deleted        []uuid.UUID
	ContentChanged []uuid.UUID
}

func (c *Change) markDirty(nodes ...*Node) {
	for _, n := range nodes {
		if n == nil {
			continue
		}
		already := false
		for _, d := range c.Dirty {
			if d == n {
				already = true
				break
			}
		}
		if !already {
			c.Dirty = append(c.Dirty, n)
		}
	}
}

// nextInGroup returns the node under parent whose prev_id equals prev
// (nil prev selects the head), excluding skip. Returns nil for the chain
// tail or an empty group.
func (t *Tree) nextInGroup(parent, prev *uuid.UUID, skip *Node) *Node {
	for _, n := range t.Nodes {
		if n == skip {
			continue
		}
		if sameID(n.ParentID, parent) && sameID(n.PrevID, prev) {
			return n
		}
	}
	return nil
}

// nextOf returns the node immediately after n in its sibling chain.
func (t *Tree) nextOf(n *Node) *Node {
	id := n.UUID
	return t.nextInGroup(n.ParentID, &id, n)
}

// Children returns the direct children of parent in sibling-chain order.
// The iteration cap guards against walking a corrupt chain forever.
func (t *Tree) Children(parent *uuid.UUID) []*Node {
	var out []*Node
	cur := t.nextInGroup(parent, nil, nil)
	for cur != nil && len(out) <= len(t.Nodes) {
		out = append(out, cur)
		cur = t.nextOf(cur)
	}
	return out
}

// lastChild returns the tail of parent's sibling chain, or nil.
func (t *Tree) lastChild(parent *uuid.UUID) *Node {
	kids := t.Children(parent)
	if len(kids) == 0 {
		return nil
	}
	return kids[len(kids)-1]
}

// isDescendant reports whether node id lives in the subtree rooted at
// ancestor (a node is not its own descendant).
func (t *Tree) isDescendant(id, ancestor uuid.UUID) bool {
	n := t.Nodes[id]
	steps := 0
	for n != nil && n.ParentID != nil && steps <= len(t.Nodes) {
		if *n.ParentID == ancestor {
			return true
		}
		n = t.Nodes[*n.ParentID]
		steps++
	}
	return false
}

// Subtree returns id's node followed by all its descendants.
func (t *Tree) Subtree(id uuid.UUID) []*Node {
	n := t.Nodes[id]
	if n == nil {
		return nil
	}
	out := []*Node{n}
	for _, c := range t.Children(&n.UUID) {
		out = append(out, t.Subtree(c.UUID)...)
	}
	return out
}

// Preorder returns every node in flat visual order: root chain first,
// each node immediately followed by its children.
func (t *Tree) Preorder() []*Node {
	var out []*Node
	var walk func(parent *uuid.UUID)
	walk = func(parent *uuid.UUID) {
		for _, n := range t.Children(parent) {
			out = append(out, n)
			id := n.UUID
			walk(&id)
		}
	}
	walk(nil)
	return out
}

// Above returns the node preceding id in flat visual order, or nil at
// the top of the container.
func (t *Tree) Above(id uuid.UUID) *Node {
	n := t.Nodes[id]
	if n == nil {
		return nil
	}
	if n.PrevID == nil {
		if n.ParentID == nil {
			return nil
		}
		return t.Nodes[*n.ParentID]
	}
	// Deepest last descendant of the previous sibling.
	d := t.Nodes[*n.PrevID]
	for d != nil {
		last := t.lastChild(&d.UUID)
		if last == nil {
			return d
		}
		d = last
	}
	return nil
}

// Below returns the node following id in flat visual order, or nil at
// the bottom of the container.
func (t *Tree) Below(id uuid.UUID) *Node {
	n := t.Nodes[id]
	if n == nil {
		return nil
	}
	if first := t.nextInGroup(&n.UUID, nil, nil); first != nil {
		return first
	}
	for n != nil {
		if next := t.nextOf(n); next != nil {
			return next
		}
		if n.ParentID == nil {
			return nil
		}
		n = t.Nodes[*n.ParentID]
	}
	return nil
}

// Insert creates a node at the position named by (parentID, prevID) and
// rewires the incumbent next to point at it.
func (t *Tree) Insert(id uuid.UUID, parentID, prevID *uuid.UUID, content, creatorID string, now time.Time) (*Change, error) {
	if _, ok := t.Nodes[id]; ok {
		return nil, fmt.Errorf("tree: node %s already exists: %w", id, ErrConflict)
	}
	if parentID != nil {
		if _, ok := t.Nodes[*parentID]; !ok {
			return nil, fmt.Errorf("tree: parent %s: %w", parentID, ErrNotFound)
		}
	}
	if prevID != nil {
		p, ok := t.Nodes[*prevID]
		if !ok {
			return nil, fmt.Errorf("tree: position %s: %w", prevID, ErrNotFound)
		}
		if !sameID(p.ParentID, parentID) {
			return nil, fmt.Errorf("tree: prev %s is not under parent: %w", prevID, ErrParentPrevInconsistent)
		}
	}

	next := t.nextInGroup(parentID, prevID, nil)
	n := &Node{
		UUID:        id,
		ContainerID: t.ContainerID,
		ParentID:    copyID(parentID),
		PrevID:      copyID(prevID),
		Content:     content,
		CreatorID:   creatorID,
		InsertedAt:  now,
		UpdatedAt:   now,
	}
	t.Nodes[id] = n
	if next != nil {
		next.PrevID = &n.UUID
	}

	ch := &Change{
		Type: EvtNodeInserted,
		Payload: NodeInserted{
			Node:        n.View(),
			Next:        nodeID(next),
			Content:     content,
			ContainerID: t.ContainerID,
		},
	}
	ch.markDirty(n, next)
	if content != "" {
		ch.ContentChanged = append(ch.ContentChanged, id)
	}
	return ch, nil
}

// ChangeContent replaces a node's content.
func (t *Tree) ChangeContent(id uuid.UUID, content string, now time.Time) (*Change, error) {
	n, ok := t.Nodes[id]
	if !ok {
		return nil, fmt.Errorf("tree: node %s: %w", id, ErrNotFound)
	}
	n.Content = content
	n.UpdatedAt = now

	ch := &Change{
		Type: EvtNodeContentChanged,
		Payload: NodeContentChanged{
			NodeID:      id,
			Content:     content,
			ContainerID: t.ContainerID,
		},
		ContentChanged: []uuid.UUID{id},
	}
	ch.markDirty(n)
	return ch, nil
}

// validateMove enforces the consistency rules checked before any
// reposition: no-op detection, parent/prev agreement, cycle rejection.
func (t *Tree) validateMove(n *Node, newParent, newPrev *uuid.UUID) error {
	if sameID(n.ParentID, newParent) && sameID(n.PrevID, newPrev) {
		return ErrNoOp
	}
	if newPrev != nil && *newPrev == n.UUID {
		return fmt.Errorf("tree: node cannot follow itself: %w", ErrParentPrevInconsistent)
	}
	if newParent != nil {
		if _, ok := t.Nodes[*newParent]; !ok {
			return fmt.Errorf("tree: parent %s: %w", newParent, ErrNotFound)
		}
		if *newParent == n.UUID || t.isDescendant(*newParent, n.UUID) {
			return fmt.Errorf("tree: %s under its own subtree: %w", n.UUID, ErrCycle)
		}
	}
	if newPrev != nil {
		p, ok := t.Nodes[*newPrev]
		if !ok {
			return fmt.Errorf("tree: position %s: %w", newPrev, ErrNotFound)
		}
		if !sameID(p.ParentID, newParent) {
			return fmt.Errorf("tree: prev %s is not under parent: %w", newPrev, ErrParentPrevInconsistent)
		}
	}
	return nil
}

// Move repositions a node within the container: unlink from the old
// sibling chain, relink at the new position.
func (t *Tree) Move(id uuid.UUID, newParent, newPrev *uuid.UUID, now time.Time) (*Change, error) {
	n, ok := t.Nodes[id]
	if !ok {
		return nil, fmt.Errorf("tree: node %s: %w", id, ErrNotFound)
	}
	if err := t.validateMove(n, newParent, newPrev); err != nil {
		return nil, err
	}

	oldPrev := copyID(n.PrevID)
	oldNext := t.nextOf(n)
	if oldNext != nil {
		oldNext.PrevID = copyID(n.PrevID)
	}

	newNext := t.nextInGroup(newParent, newPrev, n)
	n.ParentID = copyID(newParent)
	n.PrevID = copyID(newPrev)
	n.UpdatedAt = now
	if newNext != nil {
		newNext.PrevID = &n.UUID
	}

	ch := &Change{
		Type: EvtNodeMoved,
		Payload: NodeMoved{
			Node:        n.View(),
			Next:        nodeID(newNext),
			OldPrev:     oldPrev,
			OldNext:     nodeID(oldNext),
			ContainerID: t.ContainerID,
		},
	}
	ch.markDirty(n, oldNext, newNext)
	return ch, nil
}

// MoveUp swaps a node with its previous sibling. At the head of its
// chain this is a no-op.
func (t *Tree) MoveUp(id uuid.UUID, now time.Time) (*Change, error) {
	n, ok := t.Nodes[id]
	if !ok {
		return nil, fmt.Errorf("tree: node %s: %w", id, ErrNotFound)
	}
	if n.PrevID == nil {
		return nil, ErrNoOp
	}
	prev := t.Nodes[*n.PrevID]
	if prev == nil {
		return nil, fmt.Errorf("tree: prev %s: %w", n.PrevID, ErrNotFound)
	}
	return t.Move(id, n.ParentID, prev.PrevID, now)
}

// MoveDown swaps a node with its next sibling. At the tail of its chain
// this is a no-op.
func (t *Tree) MoveDown(id uuid.UUID, now time.Time) (*Change, error) {
	n, ok := t.Nodes[id]
	if !ok {
		return nil, fmt.Errorf("tree: node %s: %w", id, ErrNotFound)
	}
	next := t.nextOf(n)
	if next == nil {
		return nil, ErrNoOp
	}
	id2 := next.UUID
	return t.Move(id, n.ParentID, &id2, now)
}

// Indent reparents a node under its previous sibling as its last child.
func (t *Tree) Indent(id uuid.UUID, now time.Time) (*Change, error) {
	n, ok := t.Nodes[id]
	if !ok {
		return nil, fmt.Errorf("tree: node %s: %w", id, ErrNotFound)
	}
	if n.PrevID == nil {
		return nil, fmt.Errorf("tree: %s has no previous sibling: %w", id, ErrCannotIndent)
	}
	newParent := copyID(n.PrevID)
	last := t.lastChild(newParent)
	return t.Move(id, newParent, nodeID(last), now)
}

// Outdent reparents a node to its grandparent, right after its current
// parent.
func (t *Tree) Outdent(id uuid.UUID, now time.Time) (*Change, error) {
	n, ok := t.Nodes[id]
	if !ok {
		return nil, fmt.Errorf("tree: node %s: %w", id, ErrNotFound)
	}
	if n.ParentID == nil {
		return nil, fmt.Errorf("tree: %s is at root level: %w", id, ErrCannotOutdent)
	}
	parent := t.Nodes[*n.ParentID]
	if parent == nil {
		return nil, fmt.Errorf("tree: parent %s: %w", n.ParentID, ErrNotFound)
	}
	pid := parent.UUID
	return t.Move(id, parent.ParentID, &pid, now)
}

// Split truncates a node's content to [0,start) and inserts a fresh
// sibling right after it holding [stop,len). The node's children move to
// the new sibling. Selection offsets are bytes and must fall on UTF-8
// rune boundaries.
func (t *Tree) Split(id, newID uuid.UUID, start, stop int, now time.Time) (*Change, error) {
	n, ok := t.Nodes[id]
	if !ok {
		return nil, fmt.Errorf("tree: node %s: %w", id, ErrNotFound)
	}
	if _, ok := t.Nodes[newID]; ok {
		return nil, fmt.Errorf("tree: node %s already exists: %w", newID, ErrConflict)
	}
	if start < 0 || stop < start || stop > len(n.Content) {
		return nil, fmt.Errorf("tree: selection (%d,%d) out of range: %w", start, stop, ErrInvalidSelection)
	}
	if !runeBoundary(n.Content, start) || !runeBoundary(n.Content, stop) {
		return nil, fmt.Errorf("tree: selection (%d,%d) splits a code point: %w", start, stop, ErrInvalidSelection)
	}

	suffix := n.Content[stop:]
	n.Content = n.Content[:start]
	n.UpdatedAt = now

	oldNext := t.nextOf(n)
	fresh := &Node{
		UUID:        newID,
		ContainerID: t.ContainerID,
		ParentID:    copyID(n.ParentID),
		PrevID:      &n.UUID,
		Content:     suffix,
		CreatorID:   n.CreatorID,
		InsertedAt:  now,
		UpdatedAt:   now,
	}

	// Children follow the suffix.
	kids := t.Children(&n.UUID)
	t.Nodes[newID] = fresh
	for _, c := range kids {
		c.ParentID = &fresh.UUID
		c.UpdatedAt = now
	}
	if oldNext != nil {
		oldNext.PrevID = &fresh.UUID
	}

	ch := &Change{
		Type: EvtNodeInserted,
		Payload: NodeInserted{
			Node:        fresh.View(),
			Next:        nodeID(oldNext),
			Content:     suffix,
			ContainerID: t.ContainerID,
			Source:      viewPtr(n),
		},
		ContentChanged: []uuid.UUID{id, newID},
	}
	ch.markDirty(n, fresh, oldNext)
	ch.markDirty(kids...)
	return ch, nil
}

// MergePrev prepends the previous sibling's content to the node and
// deletes the emptied sibling; the sibling's children become trailing
// children of the node.
func (t *Tree) MergePrev(id uuid.UUID, now time.Time) (*Change, error) {
	n, ok := t.Nodes[id]
	if !ok {
		return nil, fmt.Errorf("tree: node %s: %w", id, ErrNotFound)
	}
	if n.PrevID == nil {
		return nil, ErrNoOp
	}
	victim := t.Nodes[*n.PrevID]
	if victim == nil {
		return nil, fmt.Errorf("tree: prev %s: %w", n.PrevID, ErrNotFound)
	}

	n.Content = victim.Content + n.Content
	n.PrevID = copyID(victim.PrevID)
	n.UpdatedAt = now
	nid := n.UUID
	return t.absorb(n, victim, &nid, now)
}

// MergeNext appends the next sibling's content to the node and deletes
// the emptied sibling; the sibling's children become trailing children
// of the node.
func (t *Tree) MergeNext(id uuid.UUID, now time.Time) (*Change, error) {
	n, ok := t.Nodes[id]
	if !ok {
		return nil, fmt.Errorf("tree: node %s: %w", id, ErrNotFound)
	}
	victim := t.nextOf(n)
	if victim == nil {
		return nil, ErrNoOp
	}

	n.Content = n.Content + victim.Content
	n.UpdatedAt = now
	afterVictim := t.nextOf(victim)
	if afterVictim != nil {
		afterVictim.PrevID = &n.UUID
	}
	ch, err := t.absorb(n, victim, nodeID(afterVictim), now)
	if err != nil {
		return nil, err
	}
	ch.markDirty(afterVictim)
	return ch, nil
}

// absorb finishes a merge: the victim's children become trailing
// children of the survivor, the victim row is deleted, and the event
// reports the survivor's combined content.
func (t *Tree) absorb(survivor, victim *Node, next *uuid.UUID, now time.Time) (*Change, error) {
	victimView := victim.View()
	kids := t.Children(&victim.UUID)
	last := t.lastChild(&survivor.UUID)
	childIDs := make([]uuid.UUID, 0, len(kids))
	for i, c := range kids {
		c.ParentID = &survivor.UUID
		c.UpdatedAt = now
		if i == 0 {
			c.PrevID = nodeID(last)
		}
		childIDs = append(childIDs, c.UUID)
	}
	delete(t.Nodes, victim.UUID)

	ch := &Change{
		Type: EvtNodeDeleted,
		Payload: NodeDeleted{
			Node:        victimView,
			Children:    childIDs,
			Next:        next,
			ContainerID: t.ContainerID,
			MergedInto:  viewPtr(survivor),
		},
		Deleted:        []uuid.UUID{victim.UUID},
		ContentChanged: []uuid.UUID{survivor.UUID},
	}
	ch.markDirty(survivor)
	ch.markDirty(kids...)
	return ch, nil
}

// Delete removes a node. Its children flatten one level up: they are
// reparented to the deleted node's parent and spliced into the sibling
// chain at the deleted node's position, preserving order.
func (t *Tree) Delete(id uuid.UUID, now time.Time) (*Change, error) {
	n, ok := t.Nodes[id]
	if !ok {
		return nil, fmt.Errorf("tree: node %s: %w", id, ErrNotFound)
	}

	view := n.View()
	kids := t.Children(&n.UUID)
	oldNext := t.nextOf(n)

	childIDs := make([]uuid.UUID, 0, len(kids))
	for i, c := range kids {
		c.ParentID = copyID(n.ParentID)
		c.UpdatedAt = now
		if i == 0 {
			c.PrevID = copyID(n.PrevID)
		}
		childIDs = append(childIDs, c.UUID)
	}
	if oldNext != nil {
		if len(kids) > 0 {
			lastID := kids[len(kids)-1].UUID
			oldNext.PrevID = &lastID
		} else {
			oldNext.PrevID = copyID(n.PrevID)
		}
	}
	delete(t.Nodes, id)

	ch := &Change{
		Type: EvtNodeDeleted,
		Payload: NodeDeleted{
			Node:        view,
			Children:    childIDs,
			Next:        nodeID(oldNext),
			ContainerID: t.ContainerID,
		},
		Deleted: []uuid.UUID{id},
	}
	ch.markDirty(oldNext)
	ch.markDirty(kids...)
	return ch, nil
}

// MoveToContainer transplants a node and its subtree from src into dst
// at the position named by (parentID, prevID). It returns one change per
// container; the caller persists both under a single transaction.
func MoveToContainer(src, dst *Tree, id uuid.UUID, parentID, prevID *uuid.UUID, now time.Time) (srcCh, dstCh *Change, err error) {
	n, ok := src.Nodes[id]
	if !ok {
		return nil, nil, fmt.Errorf("tree: node %s: %w", id, ErrNotFound)
	}
	if parentID != nil {
		if _, ok := dst.Nodes[*parentID]; !ok {
			return nil, nil, fmt.Errorf("tree: parent %s: %w", parentID, ErrNotFound)
		}
	}
	if prevID != nil {
		p, ok := dst.Nodes[*prevID]
		if !ok {
			return nil, nil, fmt.Errorf("tree: position %s: %w", prevID, ErrNotFound)
		}
		if !sameID(p.ParentID, parentID) {
			return nil, nil, fmt.Errorf("tree: prev %s is not under parent: %w", prevID, ErrParentPrevInconsistent)
		}
	}

	oldNext := src.nextOf(n)
	if oldNext != nil {
		oldNext.PrevID = copyID(n.PrevID)
	}

	subtree := src.Subtree(id)
	for _, s := range subtree {
		delete(src.Nodes, s.UUID)
		s.ContainerID = dst.ContainerID
		s.UpdatedAt = now
		dst.Nodes[s.UUID] = s
	}

	newNext := dst.nextInGroup(parentID, prevID, n)
	n.ParentID = copyID(parentID)
	n.PrevID = copyID(prevID)
	if newNext != nil {
		newNext.PrevID = &n.UUID
	}

	payload := NodeMovedToNewContainer{
		Node:           n.View(),
		Next:           nodeID(newNext),
		OldContainerID: src.ContainerID,
		NewContainerID: dst.ContainerID,
	}
	srcCh = &Change{Type: EvtNodeMovedToNewContainer, Payload: payload}
	srcCh.markDirty(oldNext)
	dstCh = &Change{Type: EvtNodeMovedToNewContainer, Payload: payload}
	dstCh.markDirty(subtree...)
	dstCh.markDirty(newNext)
	return srcCh, dstCh, nil
}

// MoveAllToContainer transplants a batch of nodes (with subtrees) from
// src to the tail of dst's root chain, preserving the given order. An id
// that already travelled inside an earlier id's subtree is skipped.
func MoveAllToContainer(src, dst *Tree, ids []uuid.UUID, now time.Time) (srcCh, dstCh *Change, err error) {
	for _, id := range ids {
		if _, ok := src.Nodes[id]; !ok {
			return nil, nil, fmt.Errorf("tree: node %s: %w", id, ErrNotFound)
		}
	}

	var views []NodeView
	srcCh = &Change{Type: EvtNodesMovedToContainer}
	dstCh = &Change{Type: EvtNodesMovedToContainer}

	for _, id := range ids {
		n, ok := src.Nodes[id]
		if !ok {
			// Already moved inside a previous id's subtree.
			continue
		}

		oldNext := src.nextOf(n)
		if oldNext != nil {
			oldNext.PrevID = copyID(n.PrevID)
		}
		srcCh.markDirty(oldNext)

		// Tail of the destination root chain, found before the subtree
		// lands in dst so stale prev pointers cannot confuse the walk.
		tail := dst.lastChild(nil)

		subtree := src.Subtree(id)
		for _, s := range subtree {
			delete(src.Nodes, s.UUID)
			s.ContainerID = dst.ContainerID
			s.UpdatedAt = now
			dst.Nodes[s.UUID] = s
		}

		n.ParentID = nil
		n.PrevID = nodeID(tail)
		dstCh.markDirty(subtree...)
		views = append(views, n.View())
	}

	payload := NodesMovedToContainer{
		Nodes:          views,
		OldContainerID: src.ContainerID,
		NewContainerID: dst.ContainerID,
	}
	srcCh.Payload = payload
	dstCh.Payload = payload
	return srcCh, dstCh, nil
}

// nodeID returns a copy of a node's uuid, or nil.
func nodeID(n *Node) *uuid.UUID {
	if n == nil {
		return nil
	}
	id := n.UUID
	return &id
}

func viewPtr(n *Node) *NodeView {
	v := n.View()
	return &v
}

// runeBoundary reports whether byte offset i falls between UTF-8 code
// points of s.
func runeBoundary(s string, i int) bool {
	if i == 0 || i == len(s) {
		return true
	}
	return utf8.RuneStart(s[i])
}
