// Package analyzer extracts URLs from node content and enriches them
// with page metadata, off the command path. Jobs are keyed by node id
// and coalesce: a node already waiting is not queued twice.
package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/showdeck/outline-engine/internal/events"
	"github.com/showdeck/outline-engine/internal/logging"
	"github.com/showdeck/outline-engine/internal/metrics"
	"github.com/showdeck/outline-engine/internal/outline"
	"github.com/showdeck/outline-engine/internal/repository"
)

const (
	queueBuffer    = 1024
	persistRetries = 3

	// originator suffix on analyzer event ids; no client session matches
	// it, so nobody drops these as echoes.
	originator = "analyzer"
)

// Config tunes the analyzer pool.
type Config struct {
	Concurrency   int
	PerURLTimeout time.Duration
	JobBudget     time.Duration
}

// Analyzer is the URL enrichment worker pool.
type Analyzer struct {
	store  repository.Store
	bus    *events.Bus
	client *http.Client
	cfg    Config
	log    zerolog.Logger

	mu      sync.Mutex
	pending map[uuid.UUID]struct{}
	queue   chan uuid.UUID
}

// New creates an analyzer. client may be nil, in which case a default
// HTTP client is used.
func New(store repository.Store, bus *events.Bus, client *http.Client, cfg Config) *Analyzer {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.PerURLTimeout <= 0 {
		cfg.PerURLTimeout = 10 * time.Second
	}
	if cfg.JobBudget <= 0 {
		cfg.JobBudget = 30 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.PerURLTimeout}
	}
	return &Analyzer{
		store:   store,
		bus:     bus,
		client:  client,
		cfg:     cfg,
		log:     logging.WithComponent("analyzer"),
		pending: make(map[uuid.UUID]struct{}),
		queue:   make(chan uuid.UUID, queueBuffer),
	}
}

// Enqueue schedules a node for analysis. Called from the command path,
// so it never blocks: if the queue is full the job is dropped and the
// node will be picked up on its next content change.
func (a *Analyzer) Enqueue(nodeID uuid.UUID) {
	a.mu.Lock()
	if _, ok := a.pending[nodeID]; ok {
		a.mu.Unlock()
		return
	}
	a.pending[nodeID] = struct{}{}
	a.mu.Unlock()

	select {
	case a.queue <- nodeID:
		metrics.AnalyzerQueueDepth.Inc()
	default:
		a.mu.Lock()
		delete(a.pending, nodeID)
		a.mu.Unlock()
		metrics.AnalyzerJobs.WithLabelValues("dropped").Inc()
		a.log.Warn().Str("node_id", nodeID.String()).Msg("analyzer queue full, dropping job")
	}
}

// Run processes jobs until ctx is cancelled. It blocks; run it in a
// goroutine next to the HTTP server.
func (a *Analyzer) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < a.cfg.Concurrency; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case nodeID := <-a.queue:
					metrics.AnalyzerQueueDepth.Dec()
					a.mu.Lock()
					delete(a.pending, nodeID)
					a.mu.Unlock()
					a.process(ctx, nodeID)
				}
			}
		})
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// process runs one job: re-read the node's current content, extract its
// URLs, enrich them, and persist the rebuilt record set with an
// urls_analyzed event.
func (a *Analyzer) process(ctx context.Context, nodeID uuid.UUID) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.JobBudget)
	defer cancel()

	n, err := a.store.Get(ctx, nodeID)
	if err != nil {
		if errors.Is(err, outline.ErrNotFound) {
			// Deleted between enqueue and dequeue; nothing to analyze.
			metrics.AnalyzerJobs.WithLabelValues("ok").Inc()
			return
		}
		metrics.AnalyzerJobs.WithLabelValues("error").Inc()
		a.log.Error().Err(err).Str("node_id", nodeID.String()).Msg("analyzer load failed")
		return
	}

	records := ExtractURLs(nodeID, n.Content)
	for i := range records {
		urlCtx, urlCancel := context.WithTimeout(ctx, a.cfg.PerURLTimeout)
		meta, err := fetchMetadata(urlCtx, a.client, records[i].URL)
		urlCancel()
		if err != nil {
			// Enrichment is best effort; the record survives without
			// metadata.
			a.log.Debug().Err(err).Str("url", records[i].URL).Msg("metadata fetch failed")
			continue
		}
		records[i].Metadata = meta
	}

	if err := a.persist(ctx, n, records); err != nil {
		metrics.AnalyzerJobs.WithLabelValues("error").Inc()
		a.log.Error().Err(err).Str("node_id", nodeID.String()).Msg("analyzer persist failed")
		return
	}
	metrics.AnalyzerJobs.WithLabelValues("ok").Inc()
}

// persist replaces the node's URL records and appends the urls_analyzed
// event. Appends race with the container's serializer on the sequence
// counter, so conflicts are retried.
func (a *Analyzer) persist(ctx context.Context, n *outline.Node, records []outline.URLRecord) error {
	ev, err := buildURLsEvent(n, records)
	if err != nil {
		return err
	}

	for attempt := 0; ; attempt++ {
		err = a.store.WithinTransaction(ctx, func(txCtx context.Context, tx repository.Tx) error {
			if err := tx.ReplaceURLs(txCtx, n.UUID, records); err != nil {
				return err
			}
			_, err := tx.AppendEvent(txCtx, ev)
			return err
		})
		if err == nil {
			break
		}
		if attempt+1 < persistRetries && (errors.Is(err, outline.ErrConflict) || errors.Is(err, outline.ErrTransient)) {
			continue
		}
		return err
	}

	a.bus.Publish(ev)
	metrics.EventsPublished.Inc()
	return nil
}

func buildURLsEvent(n *outline.Node, records []outline.URLRecord) (*outline.Event, error) {
	payload := outline.UrlsAnalyzed{
		NodeID:      n.UUID,
		URLs:        records,
		ContainerID: n.ContainerID,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("analyzer: encode payload: %w", err)
	}
	return &outline.Event{
		EventID:     uuid.NewString() + ":" + originator,
		Type:        outline.EvtUrlsAnalyzed,
		ContainerID: n.ContainerID,
		Payload:     raw,
	}, nil
}
