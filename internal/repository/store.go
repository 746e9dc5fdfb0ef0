// Package repository persists containers, nodes, URL records, and the
// per-container event log. It is the only layer that talks to the
// durable store; everything above it works on outline.Tree views and
// outline.Change sets.
package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/showdeck/outline-engine/internal/outline"
)

// Tx is the transactional surface the serializer uses to bundle node
// writes with the event append. Callers must apply deletes before
// upserts so sibling-chain rewires never trip the forked-prev index.
type Tx interface {
	// LoadTree loads every node of a container into a tree view.
	LoadTree(ctx context.Context, containerID uuid.UUID) (*outline.Tree, error)

	// UpsertNodes writes created or updated node rows.
	UpsertNodes(ctx context.Context, nodes []*outline.Node) error

	// DeleteNodes removes node rows (their URL records cascade).
	DeleteNodes(ctx context.Context, ids []uuid.UUID) error

	// ReplaceURLs atomically swaps a node's URL record set.
	ReplaceURLs(ctx context.Context, nodeID uuid.UUID, urls []outline.URLRecord) error

	// AppendEvent appends ev to its container's log, assigns the next
	// sequence, and fills in ev.Sequence and ev.CreatedAt.
	AppendEvent(ctx context.Context, ev *outline.Event) (int64, error)
}

// Store is the node repository plus event log reads. Read queries
// outside WithinTransaction see the latest committed state.
type Store interface {
	// WithinTransaction runs fn inside one transaction; the node writes
	// and the event append of a command commit or roll back together.
	WithinTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	Get(ctx context.Context, id uuid.UUID) (*outline.Node, error)

	// ListByContainer returns the container's nodes in pre-order
	// (root-first flat visual order).
	ListByContainer(ctx context.Context, containerID uuid.UUID) ([]*outline.Node, error)

	// NodeAbove and NodeBelow return the neighbor in flat visual order,
	// or nil at the container's edge.
	NodeAbove(ctx context.Context, id uuid.UUID) (*outline.Node, error)
	NodeBelow(ctx context.Context, id uuid.UUID) (*outline.Node, error)

	CountByContainer(ctx context.Context, containerID uuid.UUID) (int, error)

	// AllChildren returns every descendant of a node.
	AllChildren(ctx context.Context, id uuid.UUID) ([]*outline.Node, error)

	// DirectSiblings returns the nodes sharing a parent with id,
	// excluding id itself, in chain order.
	DirectSiblings(ctx context.Context, id uuid.UUID) ([]*outline.Node, error)

	// ListURLsByContainer returns the stored URL records of a
	// container's nodes, keyed by node and ordered by first appearance.
	ListURLsByContainer(ctx context.Context, containerID uuid.UUID) (map[uuid.UUID][]outline.URLRecord, error)

	CreateContainer(ctx context.Context, c *outline.Container) error
	GetContainer(ctx context.Context, id uuid.UUID) (*outline.Container, error)
	DeleteContainer(ctx context.Context, id uuid.UUID) error

	// EventsByContainer returns events with sequence > since, ordered by
	// sequence.
	EventsByContainer(ctx context.Context, containerID uuid.UUID, since int64) ([]*outline.Event, error)

	// LatestSequence returns the highest committed sequence for a
	// container, 0 if its log is empty.
	LatestSequence(ctx context.Context, containerID uuid.UUID) (int64, error)
}
