// Package engine routes commands to per-container serializers and
// executes them as atomic load-mutate-persist-publish steps.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/showdeck/outline-engine/internal/logging"
	"github.com/showdeck/outline-engine/internal/metrics"
	"github.com/showdeck/outline-engine/internal/outline"
)

const jobBuffer = 64

type jobResult struct {
	ev  *outline.Event
	err error
}

// job is one command execution queued on a serializer. ctx carries the
// dispatch deadline; it is only honored until the job reaches the head
// of the queue.
type job struct {
	ctx    context.Context
	run    func(ctx context.Context) (*outline.Event, error)
	result chan jobResult
}

// serializer is the single writer for one container. Commands against
// the container execute strictly in arrival order; the only state it
// holds between commands is its position in the registry.
type serializer struct {
	containerID uuid.UUID
	reg         *registry
	jobs        chan *job
	queued      int // guarded by reg.mu
	log         zerolog.Logger
}

// registry maps live containers to their serializers. Serializers spawn
// lazily on first command and retire after the idle timeout.
type registry struct {
	mu   sync.Mutex
	live map[uuid.UUID]*serializer
	idle time.Duration
}

func newRegistry(idle time.Duration) *registry {
	return &registry{
		live: make(map[uuid.UUID]*serializer),
		idle: idle,
	}
}

// submit enqueues a job for a container, spawning its serializer if
// none is resident, and returns the result channel.
func (r *registry) submit(containerID uuid.UUID, j *job) {
	r.mu.Lock()
	s, ok := r.live[containerID]
	if !ok {
		s = &serializer{
			containerID: containerID,
			reg:         r,
			jobs:        make(chan *job, jobBuffer),
			log:         logging.WithComponent("serializer").With().Str("container_id", containerID.String()).Logger(),
		}
		r.live[containerID] = s
		metrics.SerializersLive.Inc()
		go s.loop()
	}
	s.queued++
	r.mu.Unlock()

	s.jobs <- j
}

// execute runs a job on a container's serializer and waits for it.
func (r *registry) execute(containerID uuid.UUID, j *job) (*outline.Event, error) {
	r.submit(containerID, j)
	res := <-j.result
	return res.ev, res.err
}

// count returns the number of resident serializers.
func (r *registry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}

func (r *registry) noteDequeued(s *serializer) {
	r.mu.Lock()
	s.queued--
	r.mu.Unlock()
}

// retire removes an idle serializer. Returns false if a job was queued
// between the timer firing and the lock being taken.
func (r *registry) retire(s *serializer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.queued > 0 {
		return false
	}
	delete(r.live, s.containerID)
	metrics.SerializersLive.Dec()
	return true
}

func (s *serializer) loop() {
	s.log.Debug().Msg("serializer started")
	idle := time.NewTimer(s.reg.idle)
	defer idle.Stop()

	for {
		select {
		case j := <-s.jobs:
			s.reg.noteDequeued(s)
			s.handle(j)
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(s.reg.idle)
		case <-idle.C:
			if s.reg.retire(s) {
				s.log.Debug().Msg("serializer retired")
				return
			}
			idle.Reset(s.reg.idle)
		}
	}
}

// handle runs one job. A command whose deadline passed while waiting in
// the queue is rejected without effect; once execution begins it runs
// to completion regardless of caller cancellation. A panic inside the
// mutation aborts the transaction and surfaces as a transient error;
// the serializer itself survives.
func (s *serializer) handle(j *job) {
	if err := j.ctx.Err(); err != nil {
		j.result <- jobResult{err: fmt.Errorf("engine: queued past deadline: %w", outline.ErrTimeout)}
		return
	}

	ctx := context.WithoutCancel(j.ctx)

	var res jobResult
	func() {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error().Interface("panic", r).Msg("command panicked")
				res = jobResult{err: fmt.Errorf("engine: command panic: %v: %w", r, outline.ErrTransient)}
			}
		}()
		ev, err := j.run(ctx)
		res = jobResult{ev: ev, err: err}
	}()
	j.result <- res
}
