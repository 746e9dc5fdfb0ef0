package analyzer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/showdeck/outline-engine/internal/events"
	"github.com/showdeck/outline-engine/internal/outline"
	"github.com/showdeck/outline-engine/internal/repository"
)

const testPage = `<!doctype html>
<html>
<head>
<title>Episode 42</title>
<meta name="description" content="Show notes">
<meta property="og:title" content="Episode 42 (OG)">
<meta property="og:image" content="https://img.test/cover.png">
</head>
<body>hello</body>
</html>`

func TestFetchMetadata(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(testPage))
	}))
	defer srv.Close()

	meta, err := fetchMetadata(context.Background(), srv.Client(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "Episode 42", meta["title"])
	assert.Equal(t, "Show notes", meta["description"])
	assert.Equal(t, "Episode 42 (OG)", meta["og_title"])
	assert.Equal(t, "https://img.test/cover.png", meta["og_image"])
}

func TestFetchMetadataRejectsNonHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		w.Write([]byte("%PDF-"))
	}))
	defer srv.Close()

	_, err := fetchMetadata(context.Background(), srv.Client(), srv.URL)
	assert.Error(t, err)
}

func TestFetchMetadataRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := fetchMetadata(context.Background(), srv.Client(), srv.URL)
	assert.Error(t, err)
}

// seedNode commits one node with the given content and returns its id.
func seedNode(t *testing.T, store *repository.Memory, content string) (uuid.UUID, uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	containerID := uuid.New()
	require.NoError(t, store.CreateContainer(ctx, &outline.Container{ID: containerID, Label: "test"}))

	nodeID := uuid.New()
	err := store.WithinTransaction(ctx, func(txCtx context.Context, tx repository.Tx) error {
		tree, err := tx.LoadTree(txCtx, containerID)
		if err != nil {
			return err
		}
		ch, err := tree.Insert(nodeID, nil, nil, content, "user-1", time.Now().UTC())
		if err != nil {
			return err
		}
		if err := tx.UpsertNodes(txCtx, ch.Dirty); err != nil {
			return err
		}
		_, err = tx.AppendEvent(txCtx, &outline.Event{
			EventID:     uuid.NewString(),
			Type:        ch.Type,
			ContainerID: containerID,
			Payload:     json.RawMessage(`{}`),
		})
		return err
	})
	require.NoError(t, err)
	return containerID, nodeID
}

func TestProcessPersistsURLsAndPublishes(t *testing.T) {
	page := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(testPage))
	}))
	defer page.Close()

	store := repository.NewMemory()
	bus := events.NewBus()
	t.Cleanup(bus.Shutdown)

	containerID, nodeID := seedNode(t, store, "see "+page.URL+" today")
	sub := bus.Subscribe(containerID)

	a := New(store, bus, page.Client(), Config{Concurrency: 1})
	a.process(context.Background(), nodeID)

	urls, err := store.ListURLsByContainer(context.Background(), containerID)
	require.NoError(t, err)
	require.Len(t, urls[nodeID], 1)
	rec := urls[nodeID][0]
	assert.Equal(t, page.URL, rec.URL)
	assert.Equal(t, 4, rec.StartBytes)
	assert.Equal(t, "Episode 42", rec.Metadata["title"])

	select {
	case ev := <-sub.C:
		assert.Equal(t, outline.EvtUrlsAnalyzed, ev.Type)
		assert.Equal(t, int64(2), ev.Sequence)
		var payload outline.UrlsAnalyzed
		require.NoError(t, json.Unmarshal(ev.Payload, &payload))
		assert.Equal(t, nodeID, payload.NodeID)
		require.Len(t, payload.URLs, 1)
	case <-time.After(time.Second):
		t.Fatal("no urls_analyzed event")
	}
}

func TestProcessFetchFailureKeepsRecordWithoutMetadata(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer down.Close()

	store := repository.NewMemory()
	bus := events.NewBus()
	t.Cleanup(bus.Shutdown)

	containerID, nodeID := seedNode(t, store, down.URL)
	a := New(store, bus, down.Client(), Config{Concurrency: 1})
	a.process(context.Background(), nodeID)

	urls, err := store.ListURLsByContainer(context.Background(), containerID)
	require.NoError(t, err)
	require.Len(t, urls[nodeID], 1)
	assert.Nil(t, urls[nodeID][0].Metadata)
}

func TestProcessDeletedNodeIsQuiet(t *testing.T) {
	store := repository.NewMemory()
	bus := events.NewBus()
	t.Cleanup(bus.Shutdown)

	a := New(store, bus, nil, Config{})
	a.process(context.Background(), uuid.New()) // must not panic or publish
}

func TestEnqueueCoalesces(t *testing.T) {
	store := repository.NewMemory()
	bus := events.NewBus()
	t.Cleanup(bus.Shutdown)

	a := New(store, bus, nil, Config{})
	nodeID := uuid.New()
	a.Enqueue(nodeID)
	a.Enqueue(nodeID)
	a.Enqueue(nodeID)

	assert.Len(t, a.queue, 1)
	a.Enqueue(uuid.New())
	assert.Len(t, a.queue, 2)
}

func TestRunDrainsQueue(t *testing.T) {
	page := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(testPage))
	}))
	defer page.Close()

	store := repository.NewMemory()
	bus := events.NewBus()
	t.Cleanup(bus.Shutdown)

	containerID, nodeID := seedNode(t, store, page.URL)
	a := New(store, bus, page.Client(), Config{Concurrency: 2})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	a.Enqueue(nodeID)
	require.Eventually(t, func() bool {
		urls, err := store.ListURLsByContainer(context.Background(), containerID)
		return err == nil && len(urls[nodeID]) == 1
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
