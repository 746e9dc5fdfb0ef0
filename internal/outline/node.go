// Package outline holds the data model and pure tree algorithms of the
// collaborative outline engine: nodes, containers, commands, events,
// sibling-chain mutation, and invariant validation. Nothing in this
// package performs I/O.
package outline

import (
	"time"

	"github.com/google/uuid"
)

// Container is a scope owning exactly one outline tree. An episode
// references two containers (outline and inbox); a show references one.
type Container struct {
	ID        uuid.UUID `json:"id"`
	Label     string    `json:"label"`
	CreatedAt time.Time `json:"created_at"`
}

// Node is one line of outline content. parent_id/prev_id are identifier
// references, not structural pointers: the sibling order under a parent
// is the linked list formed by PrevID, whose head carries PrevID = nil.
type Node struct {
	UUID        uuid.UUID   `json:"uuid"`
	ContainerID uuid.UUID   `json:"container_id"`
	ParentID    *uuid.UUID  `json:"parent_id"`
	PrevID      *uuid.UUID  `json:"prev_id"`
	Content     string      `json:"content"`
	CreatorID   string      `json:"creator_id"`
	URLs        []URLRecord `json:"urls,omitempty"`
	InsertedAt  time.Time   `json:"inserted_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// URLRecord is a URL derived from node content, with its byte range in
// the content and metadata filled in by the analyzer. Metadata stays nil
// until enrichment succeeds.
type URLRecord struct {
	NodeID     uuid.UUID      `json:"node_id"`
	URL        string         `json:"url"`
	StartBytes int            `json:"start_bytes"`
	SizeBytes  int            `json:"size_bytes"`
	Metadata   map[string]any `json:"metadata"`
}

// NodeView is the node projection embedded in event payloads: enough for
// a subscriber to place the node without a state fetch.
type NodeView struct {
	UUID        uuid.UUID  `json:"uuid"`
	ContainerID uuid.UUID  `json:"container_id"`
	ParentID    *uuid.UUID `json:"parent_id"`
	PrevID      *uuid.UUID `json:"prev_id"`
	Content     string     `json:"content"`
	CreatorID   string     `json:"creator_id"`
}

// View returns the event-payload projection of a node.
func (n *Node) View() NodeView {
	return NodeView{
		UUID:        n.UUID,
		ContainerID: n.ContainerID,
		ParentID:    copyID(n.ParentID),
		PrevID:      copyID(n.PrevID),
		Content:     n.Content,
		CreatorID:   n.CreatorID,
	}
}

// copyID clones an optional uuid so views do not alias node fields.
func copyID(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

// sameID compares two optional uuids by value.
func sameID(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
