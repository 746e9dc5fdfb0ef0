package outline

import (
	"fmt"

	"github.com/google/uuid"
)

// Validate checks every structural invariant over the whole tree view:
// prev references stay inside their sibling group, each non-empty group
// has exactly one head and an unbroken chain, the parent relation is a
// forest, and every node is reachable from the roots. The test suite
// runs it as a post-condition after each committed command.
func (t *Tree) Validate() error {
	type groupKey struct {
		parent uuid.UUID
		root   bool
	}
	groups := make(map[groupKey][]*Node)

	for id, n := range t.Nodes {
		if n.UUID != id {
			return fmt.Errorf("validate: node %s keyed as %s", n.UUID, id)
		}
		if n.ContainerID != t.ContainerID {
			return fmt.Errorf("validate: node %s belongs to container %s", id, n.ContainerID)
		}
		if n.ParentID != nil {
			p, ok := t.Nodes[*n.ParentID]
			if !ok {
				return fmt.Errorf("validate: node %s has missing parent %s", id, n.ParentID)
			}
			if p.UUID == id {
				return fmt.Errorf("validate: node %s is its own parent", id)
			}
		}
		if n.PrevID != nil {
			prev, ok := t.Nodes[*n.PrevID]
			if !ok {
				return fmt.Errorf("validate: node %s has dangling prev %s", id, n.PrevID)
			}
			if !sameID(prev.ParentID, n.ParentID) {
				return fmt.Errorf("validate: node %s prev %s is in a different sibling group", id, n.PrevID)
			}
		}

		key := groupKey{root: n.ParentID == nil}
		if n.ParentID != nil {
			key.parent = *n.ParentID
		}
		groups[key] = append(groups[key], n)
	}

	// No parent cycles.
	for id := range t.Nodes {
		seen := map[uuid.UUID]bool{}
		n := t.Nodes[id]
		for n.ParentID != nil {
			if seen[*n.ParentID] {
				return fmt.Errorf("validate: parent cycle through %s", id)
			}
			seen[*n.ParentID] = true
			n = t.Nodes[*n.ParentID]
		}
	}

	// Each sibling group is a single chain: one head, no forks, every
	// member visited exactly once.
	for key, members := range groups {
		byPrev := make(map[uuid.UUID]*Node, len(members))
		var head *Node
		for _, n := range members {
			if n.PrevID == nil {
				if head != nil {
					return fmt.Errorf("validate: sibling group %v has two heads (%s, %s)", key, head.UUID, n.UUID)
				}
				head = n
				continue
			}
			if other, dup := byPrev[*n.PrevID]; dup {
				return fmt.Errorf("validate: forked prev %s (%s, %s)", n.PrevID, other.UUID, n.UUID)
			}
			byPrev[*n.PrevID] = n
		}
		if head == nil {
			return fmt.Errorf("validate: sibling group %v has no head", key)
		}
		visited := 0
		for cur := head; cur != nil; cur = byPrev[cur.UUID] {
			visited++
			if visited > len(members) {
				return fmt.Errorf("validate: sibling chain cycle in group %v", key)
			}
		}
		if visited != len(members) {
			return fmt.Errorf("validate: sibling chain in group %v visits %d of %d members", key, visited, len(members))
		}
	}

	// BFS reachability from the roots must cover every node.
	reached := 0
	queue := make([]*Node, 0, len(t.Nodes))
	for _, n := range t.Nodes {
		if n.ParentID == nil {
			queue = append(queue, n)
		}
	}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		reached++
		id := n.UUID
		queue = append(queue, t.Children(&id)...)
	}
	if reached != len(t.Nodes) {
		return fmt.Errorf("validate: BFS reaches %d of %d nodes", reached, len(t.Nodes))
	}

	return nil
}
