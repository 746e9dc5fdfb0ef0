package outline

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventType names a committed mutation.
type EventType string

const (
	EvtNodeInserted            EventType = "node_inserted"
	EvtNodeContentChanged      EventType = "node_content_changed"
	EvtNodeMoved               EventType = "node_moved"
	EvtNodeMovedToNewContainer EventType = "node_moved_to_new_container"
	EvtNodesMovedToContainer   EventType = "nodes_moved_to_container"
	EvtNodeDeleted             EventType = "node_deleted"
	EvtUrlsAnalyzed            EventType = "urls_analyzed"
)

// Event is an immutable record of a committed mutation. Sequence is the
// per-container monotonic counter assigned at append time; EventID is
// the caller's correlation token "<uuid>:<originator>".
type Event struct {
	EventID     string          `json:"event_id"`
	Type        EventType       `json:"event_type"`
	ContainerID uuid.UUID       `json:"container_id"`
	UserID      string          `json:"user_id"`
	Payload     json.RawMessage `json:"payload"`
	Sequence    int64           `json:"sequence"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Originator returns the session half of the event_id, or "" if the
// token has no originator suffix. Clients compare it against their own
// session id to drop echoes of their own commands.
func (e *Event) Originator() string {
	if i := strings.IndexByte(e.EventID, ':'); i >= 0 {
		return e.EventID[i+1:]
	}
	return ""
}

// NodeInserted reports a new node. Next is the node whose prev_id now
// points at the inserted one (nil at chain tail). For splits, Source
// carries the origin node with its truncated content.
type NodeInserted struct {
	Node        NodeView   `json:"node"`
	Next        *uuid.UUID `json:"next"`
	Content     string     `json:"content"`
	ContainerID uuid.UUID  `json:"container_id"`
	Source      *NodeView  `json:"source,omitempty"`
}

// NodeContentChanged reports a content replacement.
type NodeContentChanged struct {
	NodeID      uuid.UUID `json:"node_id"`
	Content     string    `json:"content"`
	ContainerID uuid.UUID `json:"container_id"`
}

// NodeMoved reports a reposition within a container. Children is the new
// set of direct children when the move altered them, nil otherwise.
type NodeMoved struct {
	Node        NodeView    `json:"node"`
	Next        *uuid.UUID  `json:"next"`
	OldPrev     *uuid.UUID  `json:"old_prev"`
	OldNext     *uuid.UUID  `json:"old_next"`
	Children    []uuid.UUID `json:"children"`
	ContainerID uuid.UUID   `json:"container_id"`
}

// NodeMovedToNewContainer reports a cross-container move. It is appended
// to both containers' logs so subscribers on either topic observe the
// transition.
type NodeMovedToNewContainer struct {
	Node           NodeView   `json:"node"`
	Next           *uuid.UUID `json:"next"`
	OldContainerID uuid.UUID  `json:"old_container_id"`
	NewContainerID uuid.UUID  `json:"new_container_id"`
}

// NodesMovedToContainer reports a batch cross-container move.
type NodesMovedToContainer struct {
	Nodes          []NodeView `json:"nodes"`
	OldContainerID uuid.UUID  `json:"old_container_id"`
	NewContainerID uuid.UUID  `json:"new_container_id"`
}

// NodeDeleted reports a removal. Children lists the reparented children
// in order; Next is the node whose prev_id was rewired. For merges,
// MergedInto carries the surviving node with its combined content.
type NodeDeleted struct {
	Node        NodeView    `json:"node"`
	Children    []uuid.UUID `json:"children"`
	Next        *uuid.UUID  `json:"next"`
	ContainerID uuid.UUID   `json:"container_id"`
	MergedInto  *NodeView   `json:"merged_into,omitempty"`
}

// UrlsAnalyzed reports the analyzer's rebuilt URL record set for a node.
type UrlsAnalyzed struct {
	NodeID      uuid.UUID   `json:"node_id"`
	URLs        []URLRecord `json:"urls"`
	ContainerID uuid.UUID   `json:"container_id"`
}
