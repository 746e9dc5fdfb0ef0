package server

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/showdeck/outline-engine/internal/outline"
)

// commandRequest is the flat wire envelope for the command endpoint.
// Type selects the variant; the other fields are read per variant and
// extras are ignored.
type commandRequest struct {
	Type    string `json:"type"`
	EventID string `json:"event_id"`
	UserID  string `json:"user_id"`

	NodeID            *uuid.UUID  `json:"node_id"`
	UUID              *uuid.UUID  `json:"uuid"`
	ParentID          *uuid.UUID  `json:"parent_id"`
	PrevID            *uuid.UUID  `json:"prev_id"`
	Content           string      `json:"content"`
	CreatorID         string      `json:"creator_id"`
	Start             int         `json:"start"`
	Stop              int         `json:"stop"`
	TargetContainerID *uuid.UUID  `json:"target_container_id"`
	NodeIDs           []uuid.UUID `json:"node_ids"`
}

// decodeCommand turns a wire envelope into an engine command. The
// container from the URL binds inserts; node commands resolve their own
// container from the node.
func decodeCommand(containerID uuid.UUID, req *commandRequest) (outline.Command, error) {
	meta := outline.Meta{EventID: req.EventID, UserID: req.UserID}

	nodeID := func() (uuid.UUID, error) {
		if req.NodeID == nil {
			return uuid.Nil, fmt.Errorf("node_id is required for %s", req.Type)
		}
		return *req.NodeID, nil
	}

	switch outline.CommandKind(req.Type) {
	case outline.CmdInsertNode:
		id := uuid.New()
		if req.UUID != nil {
			id = *req.UUID
		}
		return outline.InsertNode{
			M:           meta,
			UUID:        id,
			ContainerID: containerID,
			ParentID:    req.ParentID,
			PrevID:      req.PrevID,
			Content:     req.Content,
			CreatorID:   req.CreatorID,
		}, nil

	case outline.CmdChangeContent:
		id, err := nodeID()
		if err != nil {
			return nil, err
		}
		return outline.ChangeContent{M: meta, NodeID: id, Content: req.Content}, nil

	case outline.CmdMoveNode:
		id, err := nodeID()
		if err != nil {
			return nil, err
		}
		return outline.MoveNode{M: meta, NodeID: id, ParentID: req.ParentID, PrevID: req.PrevID}, nil

	case outline.CmdMoveNodeToContainer:
		id, err := nodeID()
		if err != nil {
			return nil, err
		}
		if req.TargetContainerID == nil {
			return nil, fmt.Errorf("target_container_id is required for %s", req.Type)
		}
		return outline.MoveNodeToContainer{
			M:                 meta,
			NodeID:            id,
			TargetContainerID: *req.TargetContainerID,
			ParentID:          req.ParentID,
			PrevID:            req.PrevID,
		}, nil

	case outline.CmdMoveNodesToContainer:
		if len(req.NodeIDs) == 0 {
			return nil, fmt.Errorf("node_ids is required for %s", req.Type)
		}
		if req.TargetContainerID == nil {
			return nil, fmt.Errorf("target_container_id is required for %s", req.Type)
		}
		return outline.MoveNodesToContainer{
			M:                 meta,
			NodeIDs:           req.NodeIDs,
			TargetContainerID: *req.TargetContainerID,
		}, nil

	case outline.CmdMoveUp:
		id, err := nodeID()
		if err != nil {
			return nil, err
		}
		return outline.MoveUp{M: meta, NodeID: id}, nil

	case outline.CmdMoveDown:
		id, err := nodeID()
		if err != nil {
			return nil, err
		}
		return outline.MoveDown{M: meta, NodeID: id}, nil

	case outline.CmdIndent:
		id, err := nodeID()
		if err != nil {
			return nil, err
		}
		return outline.Indent{M: meta, NodeID: id}, nil

	case outline.CmdOutdent:
		id, err := nodeID()
		if err != nil {
			return nil, err
		}
		return outline.Outdent{M: meta, NodeID: id}, nil

	case outline.CmdSplitNode:
		id, err := nodeID()
		if err != nil {
			return nil, err
		}
		return outline.SplitNode{M: meta, NodeID: id, Start: req.Start, Stop: req.Stop}, nil

	case outline.CmdMergePrev:
		id, err := nodeID()
		if err != nil {
			return nil, err
		}
		return outline.MergePrev{M: meta, NodeID: id}, nil

	case outline.CmdMergeNext:
		id, err := nodeID()
		if err != nil {
			return nil, err
		}
		return outline.MergeNext{M: meta, NodeID: id}, nil

	case outline.CmdDeleteNode:
		id, err := nodeID()
		if err != nil {
			return nil, err
		}
		return outline.DeleteNode{M: meta, NodeID: id}, nil

	default:
		return nil, fmt.Errorf("unknown command type %q", req.Type)
	}
}

// parseSince parses the sequence cursor query parameter; absent or
// malformed values mean "from the beginning".
func parseSince(raw string) int64 {
	if raw == "" {
		return 0
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}
