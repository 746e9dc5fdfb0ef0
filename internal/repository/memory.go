package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/showdeck/outline-engine/internal/outline"
)

// Memory is an in-process Store used by the test suite and local
// tooling. A single mutex spans each transaction, which trivially gives
// the snapshot isolation the serializer expects.
type Memory struct {
	mu         sync.Mutex
	containers map[uuid.UUID]*outline.Container
	nodes      map[uuid.UUID]*outline.Node
	urls       map[uuid.UUID][]outline.URLRecord
	events     map[uuid.UUID][]*outline.Event
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		containers: make(map[uuid.UUID]*outline.Container),
		nodes:      make(map[uuid.UUID]*outline.Node),
		urls:       make(map[uuid.UUID][]outline.URLRecord),
		events:     make(map[uuid.UUID][]*outline.Event),
	}
}

// memTx buffers writes until the transaction function returns without
// error, then applies them under the store lock.
type memTx struct {
	m       *Memory
	upserts []*outline.Node
	deletes []uuid.UUID
	urls    map[uuid.UUID][]outline.URLRecord
	appends []*outline.Event
}

func (m *Memory) WithinTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{m: m, urls: make(map[uuid.UUID][]outline.URLRecord)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (t *memTx) LoadTree(ctx context.Context, containerID uuid.UUID) (*outline.Tree, error) {
	var nodes []*outline.Node
	for _, n := range t.m.nodes {
		if n.ContainerID == containerID {
			nodes = append(nodes, cloneNode(n))
		}
	}
	return outline.NewTree(containerID, nodes), nil
}

func (t *memTx) UpsertNodes(ctx context.Context, nodes []*outline.Node) error {
	for _, n := range nodes {
		t.upserts = append(t.upserts, cloneNode(n))
	}
	return nil
}

func (t *memTx) DeleteNodes(ctx context.Context, ids []uuid.UUID) error {
	t.deletes = append(t.deletes, ids...)
	return nil
}

func (t *memTx) ReplaceURLs(ctx context.Context, nodeID uuid.UUID, urls []outline.URLRecord) error {
	t.urls[nodeID] = append([]outline.URLRecord(nil), urls...)
	return nil
}

func (t *memTx) AppendEvent(ctx context.Context, ev *outline.Event) (int64, error) {
	seq := int64(len(t.m.events[ev.ContainerID])) + 1
	for _, pending := range t.appends {
		if pending.ContainerID == ev.ContainerID {
			seq++
		}
	}
	ev.Sequence = seq
	ev.CreatedAt = time.Now().UTC()
	cp := *ev
	t.appends = append(t.appends, &cp)
	return seq, nil
}

func (t *memTx) commit() {
	for _, id := range t.deletes {
		delete(t.m.nodes, id)
		delete(t.m.urls, id)
	}
	for _, n := range t.upserts {
		t.m.nodes[n.UUID] = n
	}
	for nodeID, urls := range t.urls {
		t.m.urls[nodeID] = urls
	}
	for _, ev := range t.appends {
		t.m.events[ev.ContainerID] = append(t.m.events[ev.ContainerID], ev)
	}
}

func (m *Memory) Get(ctx context.Context, id uuid.UUID) (*outline.Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[id]
	if !ok {
		return nil, fmt.Errorf("repository: node %s: %w", id, outline.ErrNotFound)
	}
	return cloneNode(n), nil
}

func (m *Memory) ListByContainer(ctx context.Context, containerID uuid.UUID) ([]*outline.Node, error) {
	return m.tree(containerID).Preorder(), nil
}

func (m *Memory) NodeAbove(ctx context.Context, id uuid.UUID) (*outline.Node, error) {
	t, err := m.treeOf(id)
	if err != nil {
		return nil, err
	}
	return t.Above(id), nil
}

func (m *Memory) NodeBelow(ctx context.Context, id uuid.UUID) (*outline.Node, error) {
	t, err := m.treeOf(id)
	if err != nil {
		return nil, err
	}
	return t.Below(id), nil
}

func (m *Memory) CountByContainer(ctx context.Context, containerID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, n := range m.nodes {
		if n.ContainerID == containerID {
			count++
		}
	}
	return count, nil
}

func (m *Memory) AllChildren(ctx context.Context, id uuid.UUID) ([]*outline.Node, error) {
	t, err := m.treeOf(id)
	if err != nil {
		return nil, err
	}
	sub := t.Subtree(id)
	if len(sub) == 0 {
		return nil, nil
	}
	return sub[1:], nil
}

func (m *Memory) DirectSiblings(ctx context.Context, id uuid.UUID) ([]*outline.Node, error) {
	t, err := m.treeOf(id)
	if err != nil {
		return nil, err
	}
	n := t.Nodes[id]
	var out []*outline.Node
	for _, s := range t.Children(n.ParentID) {
		if s.UUID != id {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *Memory) ListURLsByContainer(ctx context.Context, containerID uuid.UUID) (map[uuid.UUID][]outline.URLRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[uuid.UUID][]outline.URLRecord)
	for nodeID, urls := range m.urls {
		n, ok := m.nodes[nodeID]
		if !ok || n.ContainerID != containerID {
			continue
		}
		out[nodeID] = append([]outline.URLRecord(nil), urls...)
	}
	return out, nil
}

func (m *Memory) CreateContainer(ctx context.Context, c *outline.Container) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.containers[c.ID]; ok {
		return fmt.Errorf("repository: container %s: %w", c.ID, outline.ErrConflict)
	}
	c.CreatedAt = time.Now().UTC()
	cp := *c
	m.containers[c.ID] = &cp
	return nil
}

func (m *Memory) GetContainer(ctx context.Context, id uuid.UUID) (*outline.Container, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.containers[id]
	if !ok {
		return nil, fmt.Errorf("repository: container %s: %w", id, outline.ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (m *Memory) DeleteContainer(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.containers[id]; !ok {
		return fmt.Errorf("repository: container %s: %w", id, outline.ErrNotFound)
	}
	delete(m.containers, id)
	for nid, n := range m.nodes {
		if n.ContainerID == id {
			delete(m.nodes, nid)
			delete(m.urls, nid)
		}
	}
	delete(m.events, id)
	return nil
}

func (m *Memory) EventsByContainer(ctx context.Context, containerID uuid.UUID, since int64) ([]*outline.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*outline.Event
	for _, ev := range m.events[containerID] {
		if ev.Sequence > since {
			cp := *ev
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *Memory) LatestSequence(ctx context.Context, containerID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.events[containerID])), nil
}

func (m *Memory) tree(containerID uuid.UUID) *outline.Tree {
	m.mu.Lock()
	defer m.mu.Unlock()
	var nodes []*outline.Node
	for _, n := range m.nodes {
		if n.ContainerID == containerID {
			nodes = append(nodes, cloneNode(n))
		}
	}
	return outline.NewTree(containerID, nodes)
}

func (m *Memory) treeOf(id uuid.UUID) (*outline.Tree, error) {
	n, err := m.Get(context.Background(), id)
	if err != nil {
		return nil, err
	}
	return m.tree(n.ContainerID), nil
}

func cloneNode(n *outline.Node) *outline.Node {
	cp := *n
	if n.ParentID != nil {
		v := *n.ParentID
		cp.ParentID = &v
	}
	if n.PrevID != nil {
		v := *n.PrevID
		cp.PrevID = &v
	}
	cp.URLs = append([]outline.URLRecord(nil), n.URLs...)
	return &cp
}
