package outline

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

func newTestTree(t *testing.T) *Tree {
	t.Helper()
	return NewTree(uuid.New(), nil)
}

func mustInsert(t *testing.T, tr *Tree, id uuid.UUID, parent, prev *uuid.UUID, content string) {
	t.Helper()
	_, err := tr.Insert(id, parent, prev, content, "user-1", testNow)
	require.NoError(t, err)
	require.NoError(t, tr.Validate())
}

// order returns the uuids of a sibling group in chain order.
func order(tr *Tree, parent *uuid.UUID) []uuid.UUID {
	var out []uuid.UUID
	for _, n := range tr.Children(parent) {
		out = append(out, n.UUID)
	}
	return out
}

func TestInsertIntoEmptyContainer(t *testing.T) {
	tr := newTestTree(t)
	a := uuid.New()

	ch, err := tr.Insert(a, nil, nil, "a", "user-1", testNow)
	require.NoError(t, err)
	require.NoError(t, tr.Validate())

	assert.Equal(t, []uuid.UUID{a}, order(tr, nil))
	assert.Equal(t, EvtNodeInserted, ch.Type)

	payload := ch.Payload.(NodeInserted)
	assert.Equal(t, a, payload.Node.UUID)
	assert.Nil(t, payload.Next)
	assert.Equal(t, "a", payload.Content)
}

func TestInsertBetweenSiblings(t *testing.T) {
	tr := newTestTree(t)
	a, b, c := uuid.New(), uuid.New(), uuid.New()

	mustInsert(t, tr, a, nil, nil, "a")
	mustInsert(t, tr, b, nil, &a, "b")
	assert.Equal(t, []uuid.UUID{a, b}, order(tr, nil))

	// Inserting at A's position displaces B.
	ch, err := tr.Insert(c, nil, &a, "c", "user-1", testNow)
	require.NoError(t, err)
	require.NoError(t, tr.Validate())

	assert.Equal(t, []uuid.UUID{a, c, b}, order(tr, nil))
	require.NotNil(t, tr.Nodes[b].PrevID)
	assert.Equal(t, c, *tr.Nodes[b].PrevID)

	payload := ch.Payload.(NodeInserted)
	require.NotNil(t, payload.Next)
	assert.Equal(t, b, *payload.Next)
}

func TestInsertErrors(t *testing.T) {
	tr := newTestTree(t)
	a := uuid.New()
	mustInsert(t, tr, a, nil, nil, "a")

	_, err := tr.Insert(a, nil, nil, "dup", "user-1", testNow)
	assert.ErrorIs(t, err, ErrConflict)

	missing := uuid.New()
	_, err = tr.Insert(uuid.New(), &missing, nil, "x", "user-1", testNow)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = tr.Insert(uuid.New(), nil, &missing, "x", "user-1", testNow)
	assert.ErrorIs(t, err, ErrNotFound)

	// prev under a different parent than the stated one.
	b := uuid.New()
	mustInsert(t, tr, b, &a, nil, "b")
	_, err = tr.Insert(uuid.New(), nil, &b, "x", "user-1", testNow)
	assert.ErrorIs(t, err, ErrParentPrevInconsistent)
}

func TestDeleteRepairsSiblingChain(t *testing.T) {
	tr := newTestTree(t)
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	mustInsert(t, tr, a, nil, nil, "a")
	mustInsert(t, tr, b, nil, &a, "b")
	mustInsert(t, tr, c, nil, &b, "c")

	ch, err := tr.Delete(b, testNow)
	require.NoError(t, err)
	require.NoError(t, tr.Validate())

	assert.Equal(t, []uuid.UUID{a, c}, order(tr, nil))
	require.NotNil(t, tr.Nodes[c].PrevID)
	assert.Equal(t, a, *tr.Nodes[c].PrevID)

	payload := ch.Payload.(NodeDeleted)
	assert.Equal(t, b, payload.Node.UUID)
	require.NotNil(t, payload.Next)
	assert.Equal(t, c, *payload.Next)
	assert.Empty(t, payload.Children)
}

func TestDeleteFlattensChildren(t *testing.T) {
	tr := newTestTree(t)
	a, b, x, y := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	mustInsert(t, tr, a, nil, nil, "a")
	mustInsert(t, tr, b, nil, &a, "b")
	mustInsert(t, tr, x, &a, nil, "x")
	mustInsert(t, tr, y, &a, &x, "y")

	ch, err := tr.Delete(a, testNow)
	require.NoError(t, err)
	require.NoError(t, tr.Validate())

	assert.Equal(t, []uuid.UUID{x, y, b}, order(tr, nil))
	assert.Nil(t, tr.Nodes[x].PrevID)
	assert.Nil(t, tr.Nodes[x].ParentID)
	require.NotNil(t, tr.Nodes[y].PrevID)
	assert.Equal(t, x, *tr.Nodes[y].PrevID)
	require.NotNil(t, tr.Nodes[b].PrevID)
	assert.Equal(t, y, *tr.Nodes[b].PrevID)

	payload := ch.Payload.(NodeDeleted)
	assert.Equal(t, []uuid.UUID{x, y}, payload.Children)
}

func TestIndentMakesChildOfPreviousSibling(t *testing.T) {
	tr := newTestTree(t)
	a, b := uuid.New(), uuid.New()
	mustInsert(t, tr, a, nil, nil, "a")
	mustInsert(t, tr, b, nil, &a, "b")

	_, err := tr.Indent(b, testNow)
	require.NoError(t, err)
	require.NoError(t, tr.Validate())

	require.NotNil(t, tr.Nodes[b].ParentID)
	assert.Equal(t, a, *tr.Nodes[b].ParentID)
	assert.Nil(t, tr.Nodes[b].PrevID)
	assert.Equal(t, []uuid.UUID{b}, order(tr, &a))
}

func TestIndentAppendsAfterExistingChildren(t *testing.T) {
	tr := newTestTree(t)
	a, x, b := uuid.New(), uuid.New(), uuid.New()
	mustInsert(t, tr, a, nil, nil, "a")
	mustInsert(t, tr, x, &a, nil, "x")
	mustInsert(t, tr, b, nil, &a, "b")

	_, err := tr.Indent(b, testNow)
	require.NoError(t, err)
	require.NoError(t, tr.Validate())
	assert.Equal(t, []uuid.UUID{x, b}, order(tr, &a))
}

func TestIndentHeadFails(t *testing.T) {
	tr := newTestTree(t)
	a := uuid.New()
	mustInsert(t, tr, a, nil, nil, "a")

	_, err := tr.Indent(a, testNow)
	assert.ErrorIs(t, err, ErrCannotIndent)
}

func TestOutdentRootFails(t *testing.T) {
	tr := newTestTree(t)
	a := uuid.New()
	mustInsert(t, tr, a, nil, nil, "a")

	_, err := tr.Outdent(a, testNow)
	assert.ErrorIs(t, err, ErrCannotOutdent)
}

func TestIndentOutdentRoundTrip(t *testing.T) {
	tr := newTestTree(t)
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	mustInsert(t, tr, a, nil, nil, "a")
	mustInsert(t, tr, b, nil, &a, "b")
	mustInsert(t, tr, c, nil, &b, "c")

	_, err := tr.Indent(b, testNow)
	require.NoError(t, err)
	_, err = tr.Outdent(b, testNow)
	require.NoError(t, err)
	require.NoError(t, tr.Validate())

	assert.Equal(t, []uuid.UUID{a, b, c}, order(tr, nil))
	assert.Nil(t, tr.Nodes[b].ParentID)
	require.NotNil(t, tr.Nodes[b].PrevID)
	assert.Equal(t, a, *tr.Nodes[b].PrevID)
}

// Outdenting a node with trailing siblings keeps them in place under
// the old parent; the outdented node lands right after that parent.
func TestOutdentLeavesTrailingSiblings(t *testing.T) {
	tr := newTestTree(t)
	a, x, y := uuid.New(), uuid.New(), uuid.New()
	mustInsert(t, tr, a, nil, nil, "a")
	mustInsert(t, tr, x, &a, nil, "x")
	mustInsert(t, tr, y, &a, &x, "y")

	_, err := tr.Outdent(x, testNow)
	require.NoError(t, err)
	require.NoError(t, tr.Validate())

	assert.Equal(t, []uuid.UUID{a, x}, order(tr, nil))
	assert.Equal(t, []uuid.UUID{y}, order(tr, &a))
}

func TestMoveNoOpEmitsNoEvent(t *testing.T) {
	tr := newTestTree(t)
	a, b := uuid.New(), uuid.New()
	mustInsert(t, tr, a, nil, nil, "a")
	mustInsert(t, tr, b, nil, &a, "b")

	ch, err := tr.Move(b, nil, &a, testNow)
	assert.ErrorIs(t, err, ErrNoOp)
	assert.Nil(t, ch)
	assert.Equal(t, []uuid.UUID{a, b}, order(tr, nil))
}

func TestMoveRejectsCycle(t *testing.T) {
	tr := newTestTree(t)
	a, b := uuid.New(), uuid.New()
	mustInsert(t, tr, a, nil, nil, "a")
	mustInsert(t, tr, b, &a, nil, "b")

	_, err := tr.Move(a, &b, nil, testNow)
	assert.ErrorIs(t, err, ErrCycle)

	_, err = tr.Move(a, &a, nil, testNow)
	assert.ErrorIs(t, err, ErrCycle)
}

func TestMoveRewiresBothChains(t *testing.T) {
	tr := newTestTree(t)
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	mustInsert(t, tr, a, nil, nil, "a")
	mustInsert(t, tr, b, nil, &a, "b")
	mustInsert(t, tr, c, nil, &b, "c")

	ch, err := tr.Move(c, nil, nil, testNow)
	require.NoError(t, err)
	require.NoError(t, tr.Validate())
	assert.Equal(t, []uuid.UUID{c, a, b}, order(tr, nil))

	payload := ch.Payload.(NodeMoved)
	assert.Equal(t, c, payload.Node.UUID)
	require.NotNil(t, payload.Next)
	assert.Equal(t, a, *payload.Next)
	require.NotNil(t, payload.OldPrev)
	assert.Equal(t, b, *payload.OldPrev)
}

func TestMoveUpDown(t *testing.T) {
	tr := newTestTree(t)
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	mustInsert(t, tr, a, nil, nil, "a")
	mustInsert(t, tr, b, nil, &a, "b")
	mustInsert(t, tr, c, nil, &b, "c")

	_, err := tr.MoveUp(b, testNow)
	require.NoError(t, err)
	require.NoError(t, tr.Validate())
	assert.Equal(t, []uuid.UUID{b, a, c}, order(tr, nil))

	_, err = tr.MoveUp(b, testNow)
	assert.ErrorIs(t, err, ErrNoOp)

	_, err = tr.MoveDown(b, testNow)
	require.NoError(t, err)
	require.NoError(t, tr.Validate())
	assert.Equal(t, []uuid.UUID{a, b, c}, order(tr, nil))

	_, err = tr.MoveDown(c, testNow)
	assert.ErrorIs(t, err, ErrNoOp)
}

func TestInsertDeleteRoundTrip(t *testing.T) {
	tr := newTestTree(t)
	a, b := uuid.New(), uuid.New()
	mustInsert(t, tr, a, nil, nil, "a")
	mustInsert(t, tr, b, nil, &a, "b")

	n := uuid.New()
	mustInsert(t, tr, n, nil, &a, "n")
	_, err := tr.Delete(n, testNow)
	require.NoError(t, err)
	require.NoError(t, tr.Validate())

	assert.Equal(t, []uuid.UUID{a, b}, order(tr, nil))
	require.NotNil(t, tr.Nodes[b].PrevID)
	assert.Equal(t, a, *tr.Nodes[b].PrevID)
}

func TestSplitMovesChildrenToNewNode(t *testing.T) {
	tr := newTestTree(t)
	a, kid, next := uuid.New(), uuid.New(), uuid.New()
	mustInsert(t, tr, a, nil, nil, "hello world")
	mustInsert(t, tr, kid, &a, nil, "kid")
	mustInsert(t, tr, next, nil, &a, "next")

	fresh := uuid.New()
	ch, err := tr.Split(a, fresh, 5, 6, testNow)
	require.NoError(t, err)
	require.NoError(t, tr.Validate())

	assert.Equal(t, "hello", tr.Nodes[a].Content)
	assert.Equal(t, "world", tr.Nodes[fresh].Content)
	assert.Equal(t, []uuid.UUID{a, fresh, next}, order(tr, nil))
	assert.Equal(t, []uuid.UUID{kid}, order(tr, &fresh))
	assert.Empty(t, order(tr, &a))

	payload := ch.Payload.(NodeInserted)
	assert.Equal(t, fresh, payload.Node.UUID)
	require.NotNil(t, payload.Source)
	assert.Equal(t, "hello", payload.Source.Content)
	assert.ElementsMatch(t, []uuid.UUID{a, fresh}, ch.ContentChanged)
}

func TestSplitRejectsCodePointBoundaryViolation(t *testing.T) {
	tr := newTestTree(t)
	a := uuid.New()
	mustInsert(t, tr, a, nil, nil, "héllo") // é is two bytes

	_, err := tr.Split(a, uuid.New(), 2, 2, testNow)
	assert.ErrorIs(t, err, ErrInvalidSelection)

	_, err = tr.Split(a, uuid.New(), 0, 99, testNow)
	assert.ErrorIs(t, err, ErrInvalidSelection)

	_, err = tr.Split(a, uuid.New(), 4, 2, testNow)
	assert.ErrorIs(t, err, ErrInvalidSelection)
}

func TestSplitMergeRoundTrip(t *testing.T) {
	tr := newTestTree(t)
	a := uuid.New()
	mustInsert(t, tr, a, nil, nil, "hello world")

	fresh := uuid.New()
	_, err := tr.Split(a, fresh, 5, 5, testNow)
	require.NoError(t, err)

	_, err = tr.MergePrev(fresh, testNow)
	require.NoError(t, err)
	require.NoError(t, tr.Validate())

	assert.Nil(t, tr.Nodes[a])
	assert.Equal(t, "hello world", tr.Nodes[fresh].Content)
	assert.Equal(t, []uuid.UUID{fresh}, order(tr, nil))
}

func TestMergePrevAdoptsChildren(t *testing.T) {
	tr := newTestTree(t)
	a, b, ka, kb := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	mustInsert(t, tr, a, nil, nil, "foo")
	mustInsert(t, tr, ka, &a, nil, "ka")
	mustInsert(t, tr, b, nil, &a, "bar")
	mustInsert(t, tr, kb, &b, nil, "kb")

	ch, err := tr.MergePrev(b, testNow)
	require.NoError(t, err)
	require.NoError(t, tr.Validate())

	assert.Equal(t, "foobar", tr.Nodes[b].Content)
	assert.Nil(t, tr.Nodes[a])
	// B's own child first, then the victim's children appended.
	assert.Equal(t, []uuid.UUID{kb, ka}, order(tr, &b))

	payload := ch.Payload.(NodeDeleted)
	assert.Equal(t, a, payload.Node.UUID)
	require.NotNil(t, payload.MergedInto)
	assert.Equal(t, "foobar", payload.MergedInto.Content)
}

func TestMergeNextKeepsAnchor(t *testing.T) {
	tr := newTestTree(t)
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	mustInsert(t, tr, a, nil, nil, "foo")
	mustInsert(t, tr, b, nil, &a, "bar")
	mustInsert(t, tr, c, nil, &b, "c")

	_, err := tr.MergeNext(a, testNow)
	require.NoError(t, err)
	require.NoError(t, tr.Validate())

	assert.Equal(t, "foobar", tr.Nodes[a].Content)
	assert.Nil(t, tr.Nodes[b])
	assert.Equal(t, []uuid.UUID{a, c}, order(tr, nil))
}

func TestMergeAtEdgeIsNoOp(t *testing.T) {
	tr := newTestTree(t)
	a := uuid.New()
	mustInsert(t, tr, a, nil, nil, "a")

	_, err := tr.MergePrev(a, testNow)
	assert.ErrorIs(t, err, ErrNoOp)
	_, err = tr.MergeNext(a, testNow)
	assert.ErrorIs(t, err, ErrNoOp)
}

func TestChangeContentMarksNode(t *testing.T) {
	tr := newTestTree(t)
	a := uuid.New()
	mustInsert(t, tr, a, nil, nil, "old")

	ch, err := tr.ChangeContent(a, "new", testNow)
	require.NoError(t, err)
	assert.Equal(t, "new", tr.Nodes[a].Content)
	assert.Equal(t, []uuid.UUID{a}, ch.ContentChanged)

	_, err = tr.ChangeContent(uuid.New(), "x", testNow)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPreorderAndNeighbors(t *testing.T) {
	tr := newTestTree(t)
	a, x, y, b := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	mustInsert(t, tr, a, nil, nil, "a")
	mustInsert(t, tr, x, &a, nil, "x")
	mustInsert(t, tr, y, &x, nil, "y")
	mustInsert(t, tr, b, nil, &a, "b")

	var flat []uuid.UUID
	for _, n := range tr.Preorder() {
		flat = append(flat, n.UUID)
	}
	assert.Equal(t, []uuid.UUID{a, x, y, b}, flat)

	// Above walks to the deepest last descendant of the previous sibling.
	require.NotNil(t, tr.Above(b))
	assert.Equal(t, y, tr.Above(b).UUID)
	assert.Nil(t, tr.Above(a))

	require.NotNil(t, tr.Below(y))
	assert.Equal(t, b, tr.Below(y).UUID)
	assert.Nil(t, tr.Below(b))
}

func TestMoveToContainer(t *testing.T) {
	src := newTestTree(t)
	dst := NewTree(uuid.New(), nil)

	a, kid, b := uuid.New(), uuid.New(), uuid.New()
	mustInsert(t, src, a, nil, nil, "a")
	mustInsert(t, src, kid, &a, nil, "kid")
	mustInsert(t, src, b, nil, &a, "b")

	d1 := uuid.New()
	mustInsert(t, dst, d1, nil, nil, "d1")

	srcCh, dstCh, err := MoveToContainer(src, dst, a, nil, &d1, testNow)
	require.NoError(t, err)
	require.NoError(t, src.Validate())
	require.NoError(t, dst.Validate())

	// Subtree travelled together.
	assert.Nil(t, src.Nodes[a])
	assert.Nil(t, src.Nodes[kid])
	assert.Equal(t, []uuid.UUID{b}, order(src, nil))
	assert.Nil(t, src.Nodes[b].PrevID)

	assert.Equal(t, []uuid.UUID{d1, a}, order(dst, nil))
	assert.Equal(t, dst.ContainerID, dst.Nodes[kid].ContainerID)
	assert.Equal(t, []uuid.UUID{kid}, order(dst, &a))

	assert.Equal(t, EvtNodeMovedToNewContainer, srcCh.Type)
	assert.Equal(t, EvtNodeMovedToNewContainer, dstCh.Type)
}

func TestMoveAllToContainerSkipsNestedIDs(t *testing.T) {
	src := newTestTree(t)
	dst := NewTree(uuid.New(), nil)

	a, kid, b := uuid.New(), uuid.New(), uuid.New()
	mustInsert(t, src, a, nil, nil, "a")
	mustInsert(t, src, kid, &a, nil, "kid")
	mustInsert(t, src, b, nil, &a, "b")

	// kid travels inside a's subtree; listing it again must not detach it.
	_, dstCh, err := MoveAllToContainer(src, dst, []uuid.UUID{a, kid, b}, testNow)
	require.NoError(t, err)
	require.NoError(t, src.Validate())
	require.NoError(t, dst.Validate())

	assert.Empty(t, src.Nodes)
	assert.Equal(t, []uuid.UUID{a, b}, order(dst, nil))
	assert.Equal(t, []uuid.UUID{kid}, order(dst, &a))

	payload := dstCh.Payload.(NodesMovedToContainer)
	require.Len(t, payload.Nodes, 2)
	assert.Equal(t, a, payload.Nodes[0].UUID)
	assert.Equal(t, b, payload.Nodes[1].UUID)
}

func TestValidateDetectsForkedChain(t *testing.T) {
	tr := newTestTree(t)
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	mustInsert(t, tr, a, nil, nil, "a")
	mustInsert(t, tr, b, nil, &a, "b")
	mustInsert(t, tr, c, nil, &b, "c")

	// Fork: two nodes claiming the same prev.
	tr.Nodes[c].PrevID = copyID(&a)
	assert.Error(t, tr.Validate())
}

func TestValidateDetectsParentCycle(t *testing.T) {
	tr := newTestTree(t)
	a, b := uuid.New(), uuid.New()
	mustInsert(t, tr, a, nil, nil, "a")
	mustInsert(t, tr, b, &a, nil, "b")

	tr.Nodes[a].ParentID = copyID(&b)
	tr.Nodes[b].PrevID = nil
	assert.Error(t, tr.Validate())
}
