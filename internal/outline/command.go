package outline

import "github.com/google/uuid"

// CommandKind tags a command variant. The serializer dispatches
// exhaustively on this tag; new variants will be added over time.
type CommandKind string

const (
	CmdInsertNode           CommandKind = "insert_node"
	CmdChangeContent        CommandKind = "change_content"
	CmdMoveNode             CommandKind = "move_node"
	CmdMoveNodeToContainer  CommandKind = "move_node_to_container"
	CmdMoveNodesToContainer CommandKind = "move_nodes_to_container"
	CmdMoveUp               CommandKind = "move_up"
	CmdMoveDown             CommandKind = "move_down"
	CmdIndent               CommandKind = "indent"
	CmdOutdent              CommandKind = "outdent"
	CmdSplitNode            CommandKind = "split_node"
	CmdMergePrev            CommandKind = "merge_prev"
	CmdMergeNext            CommandKind = "merge_next"
	CmdDeleteNode           CommandKind = "delete_node"
)

// Meta carries the fields common to every command. EventID is the
// caller-supplied correlation token of the form "<uuid>:<originator>";
// the originator half lets interactive clients suppress echoes of their
// own commands.
type Meta struct {
	EventID string `json:"event_id"`
	UserID  string `json:"user_id"`
}

// Command is the tagged union of engine commands.
type Command interface {
	Kind() CommandKind
	Meta() Meta
}

// InsertNode creates a new node at the given sibling-chain position.
type InsertNode struct {
	M           Meta
	UUID        uuid.UUID
	ContainerID uuid.UUID
	ParentID    *uuid.UUID
	PrevID      *uuid.UUID
	Content     string
	CreatorID   string
}

// ChangeContent replaces a node's content.
type ChangeContent struct {
	M       Meta
	NodeID  uuid.UUID
	Content string
}

// MoveNode repositions a node within its container.
type MoveNode struct {
	M        Meta
	NodeID   uuid.UUID
	ParentID *uuid.UUID
	PrevID   *uuid.UUID
}

// MoveNodeToContainer moves a node (and its subtree) into another
// container at the given position.
type MoveNodeToContainer struct {
	M                 Meta
	NodeID            uuid.UUID
	TargetContainerID uuid.UUID
	ParentID          *uuid.UUID
	PrevID            *uuid.UUID
}

// MoveNodesToContainer moves a batch of nodes (with their subtrees) to
// the tail of another container's root chain, preserving their order.
type MoveNodesToContainer struct {
	M                 Meta
	NodeIDs           []uuid.UUID
	TargetContainerID uuid.UUID
}

// MoveUp swaps a node with its immediate previous sibling.
type MoveUp struct {
	M      Meta
	NodeID uuid.UUID
}

// MoveDown swaps a node with its immediate next sibling.
type MoveDown struct {
	M      Meta
	NodeID uuid.UUID
}

// Indent reparents a node under its previous sibling as its last child.
type Indent struct {
	M      Meta
	NodeID uuid.UUID
}

// Outdent reparents a node to its grandparent, after its current parent.
type Outdent struct {
	M      Meta
	NodeID uuid.UUID
}

// SplitNode splits a node's content at a byte selection; the suffix
// becomes a new sibling after the node and inherits its children.
type SplitNode struct {
	M      Meta
	NodeID uuid.UUID
	Start  int
	Stop   int
}

// MergePrev concatenates the previous sibling's content into the node
// and deletes the emptied sibling.
type MergePrev struct {
	M      Meta
	NodeID uuid.UUID
}

// MergeNext concatenates the next sibling's content into the node and
// deletes the emptied sibling.
type MergeNext struct {
	M      Meta
	NodeID uuid.UUID
}

// DeleteNode removes a node; its children flatten into the deleted
// node's position, preserving order.
type DeleteNode struct {
	M      Meta
	NodeID uuid.UUID
}

func (c InsertNode) Kind() CommandKind           { return CmdInsertNode }
func (c ChangeContent) Kind() CommandKind        { return CmdChangeContent }
func (c MoveNode) Kind() CommandKind             { return CmdMoveNode }
func (c MoveNodeToContainer) Kind() CommandKind  { return CmdMoveNodeToContainer }
func (c MoveNodesToContainer) Kind() CommandKind { return CmdMoveNodesToContainer }
func (c MoveUp) Kind() CommandKind               { return CmdMoveUp }
func (c MoveDown) Kind() CommandKind             { return CmdMoveDown }
func (c Indent) Kind() CommandKind               { return CmdIndent }
func (c Outdent) Kind() CommandKind              { return CmdOutdent }
func (c SplitNode) Kind() CommandKind            { return CmdSplitNode }
func (c MergePrev) Kind() CommandKind            { return CmdMergePrev }
func (c MergeNext) Kind() CommandKind            { return CmdMergeNext }
func (c DeleteNode) Kind() CommandKind           { return CmdDeleteNode }

func (c InsertNode) Meta() Meta           { return c.M }
func (c ChangeContent) Meta() Meta        { return c.M }
func (c MoveNode) Meta() Meta             { return c.M }
func (c MoveNodeToContainer) Meta() Meta  { return c.M }
func (c MoveNodesToContainer) Meta() Meta { return c.M }
func (c MoveUp) Meta() Meta               { return c.M }
func (c MoveDown) Meta() Meta             { return c.M }
func (c Indent) Meta() Meta               { return c.M }
func (c Outdent) Meta() Meta              { return c.M }
func (c SplitNode) Meta() Meta            { return c.M }
func (c MergePrev) Meta() Meta            { return c.M }
func (c MergeNext) Meta() Meta            { return c.M }
func (c DeleteNode) Meta() Meta           { return c.M }
