package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/showdeck/outline-engine/internal/events"
	"github.com/showdeck/outline-engine/internal/logging"
	"github.com/showdeck/outline-engine/internal/metrics"
	"github.com/showdeck/outline-engine/internal/outline"
	"github.com/showdeck/outline-engine/internal/repository"
)

// Notifier receives the ids of nodes whose content changed in a
// committed command. The URL analyzer implements it.
type Notifier interface {
	Enqueue(nodeID uuid.UUID)
}

// Config tunes the dispatcher.
type Config struct {
	// CommandTimeout bounds a command from dispatch until it reaches the
	// head of its container's queue.
	CommandTimeout time.Duration

	// SerializerIdleTeardown is how long an idle serializer stays
	// resident.
	SerializerIdleTeardown time.Duration
}

// Dispatcher is the public surface of the outline engine. It resolves a
// command's owning container and hands it to that container's
// serializer; it never mutates state itself.
type Dispatcher struct {
	store    repository.Store
	bus      *events.Bus
	notifier Notifier
	reg      *registry
	timeout  time.Duration
	log      zerolog.Logger
}

// New creates a Dispatcher. notifier may be nil when no analyzer runs
// (tests, tooling).
func New(store repository.Store, bus *events.Bus, notifier Notifier, cfg Config) *Dispatcher {
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 5 * time.Second
	}
	if cfg.SerializerIdleTeardown <= 0 {
		cfg.SerializerIdleTeardown = time.Minute
	}
	return &Dispatcher{
		store:    store,
		bus:      bus,
		notifier: notifier,
		reg:      newRegistry(cfg.SerializerIdleTeardown),
		timeout:  cfg.CommandTimeout,
		log:      logging.WithComponent("dispatcher"),
	}
}

// LiveSerializers reports how many container serializers are resident.
func (d *Dispatcher) LiveSerializers() int {
	return d.reg.count()
}

// Dispatch executes one command and returns the committed event.
// Commands against the same container apply in strict arrival order;
// commands against different containers proceed in parallel.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd outline.Command) (*outline.Event, error) {
	started := time.Now()
	ev, err := d.dispatch(ctx, cmd)

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.CommandsTotal.WithLabelValues(string(cmd.Kind()), outcome).Inc()
	metrics.CommandDuration.Observe(time.Since(started).Seconds())
	return ev, err
}

func (d *Dispatcher) dispatch(ctx context.Context, cmd outline.Command) (*outline.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	switch c := cmd.(type) {
	case outline.InsertNode:
		if _, err := d.store.GetContainer(ctx, c.ContainerID); err != nil {
			return nil, err
		}
		return d.runOn(ctx, c.ContainerID, cmd)

	case outline.MoveNodeToContainer:
		n, err := d.store.Get(ctx, c.NodeID)
		if err != nil {
			return nil, err
		}
		if _, err := d.store.GetContainer(ctx, c.TargetContainerID); err != nil {
			return nil, err
		}
		if n.ContainerID == c.TargetContainerID {
			// Same container: a plain reposition.
			return d.runOn(ctx, n.ContainerID, outline.MoveNode{
				M:        c.M,
				NodeID:   c.NodeID,
				ParentID: c.ParentID,
				PrevID:   c.PrevID,
			})
		}
		return d.runCross(ctx, n.ContainerID, c.TargetContainerID, func(txCtx context.Context, tx repository.Tx) (*outline.Event, *outline.Event, error) {
			return d.crossMoveOne(txCtx, tx, n.ContainerID, c)
		})

	case outline.MoveNodesToContainer:
		if len(c.NodeIDs) == 0 {
			return nil, fmt.Errorf("engine: empty node list: %w", outline.ErrNotFound)
		}
		src, err := d.sharedContainer(ctx, c.NodeIDs)
		if err != nil {
			return nil, err
		}
		if _, err := d.store.GetContainer(ctx, c.TargetContainerID); err != nil {
			return nil, err
		}
		if src == c.TargetContainerID {
			return nil, outline.ErrNoOp
		}
		return d.runCross(ctx, src, c.TargetContainerID, func(txCtx context.Context, tx repository.Tx) (*outline.Event, *outline.Event, error) {
			return d.crossMoveMany(txCtx, tx, src, c)
		})

	default:
		nodeID, ok := commandNodeID(cmd)
		if !ok {
			return nil, fmt.Errorf("engine: unrecognized command %q", cmd.Kind())
		}
		n, err := d.store.Get(ctx, nodeID)
		if err != nil {
			return nil, err
		}
		return d.runOn(ctx, n.ContainerID, cmd)
	}
}

// runOn executes a single-container command on its serializer.
func (d *Dispatcher) runOn(ctx context.Context, containerID uuid.UUID, cmd outline.Command) (*outline.Event, error) {
	j := &job{
		ctx:    ctx,
		result: make(chan jobResult, 1),
		run: func(execCtx context.Context) (*outline.Event, error) {
			return d.execute(execCtx, containerID, cmd)
		},
	}
	return d.reg.execute(containerID, j)
}

// runCross executes a two-container command while holding both
// serializers, acquired in ascending container-id order so concurrent
// cross moves cannot deadlock.
func (d *Dispatcher) runCross(ctx context.Context, src, dst uuid.UUID, fn func(ctx context.Context, tx repository.Tx) (*outline.Event, *outline.Event, error)) (*outline.Event, error) {
	first, second := src, dst
	if bytes.Compare(dst[:], src[:]) < 0 {
		first, second = dst, src
	}

	outer := &job{
		ctx:    ctx,
		result: make(chan jobResult, 1),
		run: func(execCtx context.Context) (*outline.Event, error) {
			inner := &job{
				ctx:    execCtx,
				result: make(chan jobResult, 1),
				run: func(innerCtx context.Context) (*outline.Event, error) {
					var srcEv, dstEv *outline.Event
					err := d.store.WithinTransaction(innerCtx, func(txCtx context.Context, tx repository.Tx) error {
						var err error
						srcEv, dstEv, err = fn(txCtx, tx)
						return err
					})
					if err != nil {
						return nil, err
					}
					d.publish(srcEv)
					d.publish(dstEv)
					return dstEv, nil
				},
			}
			return d.reg.execute(second, inner)
		},
	}
	return d.reg.execute(first, outer)
}

// execute is the serializer's critical section for one single-container
// command: load, mutate, persist nodes and event atomically, publish,
// and hand changed nodes to the analyzer.
func (d *Dispatcher) execute(ctx context.Context, containerID uuid.UUID, cmd outline.Command) (*outline.Event, error) {
	var ev *outline.Event
	var contentChanged []uuid.UUID

	err := d.store.WithinTransaction(ctx, func(txCtx context.Context, tx repository.Tx) error {
		tree, err := tx.LoadTree(txCtx, containerID)
		if err != nil {
			return err
		}

		ch, err := applyCommand(tree, cmd, time.Now().UTC())
		if err != nil {
			return err
		}

		if err := tx.DeleteNodes(txCtx, ch.Deleted); err != nil {
			return err
		}
		if err := tx.UpsertNodes(txCtx, ch.Dirty); err != nil {
			return err
		}

		ev, err = buildEvent(cmd.Meta(), ch.Type, containerID, ch.Payload)
		if err != nil {
			return err
		}
		if _, err := tx.AppendEvent(txCtx, ev); err != nil {
			return err
		}
		contentChanged = ch.ContentChanged
		return nil
	})
	if err != nil {
		return nil, err
	}

	d.publish(ev)
	for _, id := range contentChanged {
		if d.notifier != nil {
			d.notifier.Enqueue(id)
		}
	}
	return ev, nil
}

// crossMoveOne performs a single-node cross-container move inside an
// open transaction, appending one event to each container's log.
func (d *Dispatcher) crossMoveOne(ctx context.Context, tx repository.Tx, srcID uuid.UUID, c outline.MoveNodeToContainer) (*outline.Event, *outline.Event, error) {
	srcTree, err := tx.LoadTree(ctx, srcID)
	if err != nil {
		return nil, nil, err
	}
	dstTree, err := tx.LoadTree(ctx, c.TargetContainerID)
	if err != nil {
		return nil, nil, err
	}

	srcCh, dstCh, err := outline.MoveToContainer(srcTree, dstTree, c.NodeID, c.ParentID, c.PrevID, time.Now().UTC())
	if err != nil {
		return nil, nil, err
	}
	return d.commitCross(ctx, tx, c.M, srcID, c.TargetContainerID, srcCh, dstCh)
}

// crossMoveMany performs a batch cross-container move inside an open
// transaction.
func (d *Dispatcher) crossMoveMany(ctx context.Context, tx repository.Tx, srcID uuid.UUID, c outline.MoveNodesToContainer) (*outline.Event, *outline.Event, error) {
	srcTree, err := tx.LoadTree(ctx, srcID)
	if err != nil {
		return nil, nil, err
	}
	dstTree, err := tx.LoadTree(ctx, c.TargetContainerID)
	if err != nil {
		return nil, nil, err
	}

	srcCh, dstCh, err := outline.MoveAllToContainer(srcTree, dstTree, c.NodeIDs, time.Now().UTC())
	if err != nil {
		return nil, nil, err
	}
	return d.commitCross(ctx, tx, c.M, srcID, c.TargetContainerID, srcCh, dstCh)
}

func (d *Dispatcher) commitCross(ctx context.Context, tx repository.Tx, meta outline.Meta, srcID, dstID uuid.UUID, srcCh, dstCh *outline.Change) (*outline.Event, *outline.Event, error) {
	if err := tx.UpsertNodes(ctx, append(append([]*outline.Node(nil), srcCh.Dirty...), dstCh.Dirty...)); err != nil {
		return nil, nil, err
	}

	srcEv, err := buildEvent(meta, srcCh.Type, srcID, srcCh.Payload)
	if err != nil {
		return nil, nil, err
	}
	if _, err := tx.AppendEvent(ctx, srcEv); err != nil {
		return nil, nil, err
	}

	dstEv, err := buildEvent(meta, dstCh.Type, dstID, dstCh.Payload)
	if err != nil {
		return nil, nil, err
	}
	if _, err := tx.AppendEvent(ctx, dstEv); err != nil {
		return nil, nil, err
	}
	return srcEv, dstEv, nil
}

func (d *Dispatcher) publish(ev *outline.Event) {
	if ev == nil {
		return
	}
	d.bus.Publish(ev)
	metrics.EventsPublished.Inc()
}

// sharedContainer resolves the common container of a batch of nodes.
func (d *Dispatcher) sharedContainer(ctx context.Context, ids []uuid.UUID) (uuid.UUID, error) {
	var container uuid.UUID
	for i, id := range ids {
		n, err := d.store.Get(ctx, id)
		if err != nil {
			return uuid.Nil, err
		}
		if i == 0 {
			container = n.ContainerID
			continue
		}
		if n.ContainerID != container {
			return uuid.Nil, fmt.Errorf("engine: nodes span containers %s and %s: %w",
				container, n.ContainerID, outline.ErrParentPrevInconsistent)
		}
	}
	return container, nil
}

// applyCommand dispatches exhaustively on the command tag. New variants
// must be added here.
func applyCommand(tree *outline.Tree, cmd outline.Command, now time.Time) (*outline.Change, error) {
	switch c := cmd.(type) {
	case outline.InsertNode:
		return tree.Insert(c.UUID, c.ParentID, c.PrevID, c.Content, c.CreatorID, now)
	case outline.ChangeContent:
		return tree.ChangeContent(c.NodeID, c.Content, now)
	case outline.MoveNode:
		return tree.Move(c.NodeID, c.ParentID, c.PrevID, now)
	case outline.MoveUp:
		return tree.MoveUp(c.NodeID, now)
	case outline.MoveDown:
		return tree.MoveDown(c.NodeID, now)
	case outline.Indent:
		return tree.Indent(c.NodeID, now)
	case outline.Outdent:
		return tree.Outdent(c.NodeID, now)
	case outline.SplitNode:
		return tree.Split(c.NodeID, uuid.New(), c.Start, c.Stop, now)
	case outline.MergePrev:
		return tree.MergePrev(c.NodeID, now)
	case outline.MergeNext:
		return tree.MergeNext(c.NodeID, now)
	case outline.DeleteNode:
		return tree.Delete(c.NodeID, now)
	default:
		return nil, fmt.Errorf("engine: unrecognized command %q", cmd.Kind())
	}
}

// commandNodeID extracts the target node of a node-addressed command.
func commandNodeID(cmd outline.Command) (uuid.UUID, bool) {
	switch c := cmd.(type) {
	case outline.ChangeContent:
		return c.NodeID, true
	case outline.MoveNode:
		return c.NodeID, true
	case outline.MoveUp:
		return c.NodeID, true
	case outline.MoveDown:
		return c.NodeID, true
	case outline.Indent:
		return c.NodeID, true
	case outline.Outdent:
		return c.NodeID, true
	case outline.SplitNode:
		return c.NodeID, true
	case outline.MergePrev:
		return c.NodeID, true
	case outline.MergeNext:
		return c.NodeID, true
	case outline.DeleteNode:
		return c.NodeID, true
	default:
		return uuid.Nil, false
	}
}

// buildEvent marshals a payload into the immutable event record.
func buildEvent(meta outline.Meta, typ outline.EventType, containerID uuid.UUID, payload any) (*outline.Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("engine: encode payload: %w", err)
	}
	eventID := meta.EventID
	if eventID == "" {
		eventID = uuid.NewString()
	}
	return &outline.Event{
		EventID:     eventID,
		Type:        typ,
		ContainerID: containerID,
		UserID:      meta.UserID,
		Payload:     raw,
	}, nil
}
