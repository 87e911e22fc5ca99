package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"roundtable/internal/config"
	"roundtable/internal/logging"
	"roundtable/internal/types"
)

// =============================================================================
// EVALUATION QUEUE
// =============================================================================
// All profile evaluations, across every concurrent session, flow through
// one bounded worker pool. Sessions submit per-profile requests tagged
// with a priority; workers drain higher priorities first so explicit
// caller signals are never starved by bulk scored work.

var (
	// ErrQueueFull is returned when a priority lane stays saturated past
	// the submit timeout.
	ErrQueueFull = errors.New("evaluation queue is full")

	// ErrQueueStopped is returned for requests still queued at shutdown.
	ErrQueueStopped = errors.New("evaluation queue is stopped")
)

const (
	numPriorities = 4

	// workerIdleDelay is how long an idle worker sleeps between scans.
	workerIdleDelay = 50 * time.Millisecond

	// queueDrainTimeout bounds how long Stop waits for in-flight
	// evaluations before flushing the backlog.
	queueDrainTimeout = 5 * time.Second

	// saturationMark is the fill ratio past which only critical
	// requests are accepted.
	saturationMark = 0.9
)

// EvalRequest is one queued profile evaluation.
type EvalRequest struct {
	ID          string
	SessionID   string
	Profile     types.Profile
	Task        types.EvalTask
	Priority    types.EvalPriority
	Timeout     time.Duration // zero means the queue default
	SubmittedAt time.Time

	// Ctx carries session-level cancellation into the evaluation.
	Ctx context.Context

	// ResultCh receives exactly one result. Submit allocates it when nil.
	ResultCh chan EvalResult
}

// EvalResult is the outcome of one queued evaluation.
type EvalResult struct {
	RequestID    string
	Contribution types.Contribution
	TimeInQueue  time.Duration
}

// QueueStats is a point-in-time snapshot of queue counters.
type QueueStats struct {
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Rejected  int64 `json:"rejected"`
	TimedOut  int64 `json:"timed_out"`
	Depth     int   `json:"depth"`
	Workers   int   `json:"workers"`
	Running   bool  `json:"running"`
}

// EvalQueue dispatches profile evaluations through a fixed worker pool
// with per-priority lanes.
type EvalQueue struct {
	mu      sync.RWMutex
	running bool

	queues        [numPriorities]chan *EvalRequest
	workers       int
	laneSize      int
	evalTimeout   time.Duration
	submitTimeout time.Duration

	stopCh   chan struct{}
	workerWg sync.WaitGroup

	requestCounter int64
	submittedCount int64
	completedCount int64
	rejectedCount  int64
	timedOutCount  int64
}

// NewEvalQueue builds a queue from orchestrator configuration. Start
// must be called before submissions are accepted.
func NewEvalQueue(cfg config.OrchestratorConfig) *EvalQueue {
	q := &EvalQueue{
		workers:       cfg.Workers,
		laneSize:      cfg.QueueSize,
		evalTimeout:   cfg.EvalTimeoutDuration(),
		submitTimeout: cfg.SubmitTimeoutDuration(),
		stopCh:        make(chan struct{}),
	}
	for p := 0; p < numPriorities; p++ {
		q.queues[p] = make(chan *EvalRequest, cfg.QueueSize)
	}
	return q
}

// Start launches the worker pool. Calling Start on a running queue is a
// no-op.
func (q *EvalQueue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return
	}
	q.running = true
	q.stopCh = make(chan struct{})
	for i := 0; i < q.workers; i++ {
		q.workerWg.Add(1)
		go q.worker(i)
	}
	logging.Orchestrator("eval queue started (workers=%d lane=%d timeout=%v)", q.workers, q.laneSize, q.evalTimeout)
}

// Stop halts the workers, waits briefly for in-flight evaluations, and
// flushes anything still queued with ErrQueueStopped so no collector
// waits forever.
func (q *EvalQueue) Stop() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	q.running = false
	q.mu.Unlock()

	close(q.stopCh)

	done := make(chan struct{})
	go func() {
		q.workerWg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(queueDrainTimeout):
		logging.OrchestratorWarn("eval workers still busy after %v, flushing queue anyway", queueDrainTimeout)
	}

	flushed := 0
	for p := 0; p < numPriorities; p++ {
	drain:
		for {
			select {
			case req := <-q.queues[p]:
				q.sendResult(req, EvalResult{
					RequestID: req.ID,
					Contribution: types.Contribution{
						ProfileID: req.Profile.ID,
						Err:       fmt.Errorf("%w: profile %s never ran", ErrQueueStopped, req.Profile.ID),
					},
					TimeInQueue: time.Since(req.SubmittedAt),
				})
				flushed++
			default:
				break drain
			}
		}
	}
	if flushed > 0 {
		logging.OrchestratorWarn("flushed %d pending evaluations at shutdown", flushed)
	}
	logging.Orchestrator("eval queue stopped (completed=%d rejected=%d timed_out=%d)",
		atomic.LoadInt64(&q.completedCount), atomic.LoadInt64(&q.rejectedCount), atomic.LoadInt64(&q.timedOutCount))
}

// Running reports whether the worker pool is accepting submissions.
func (q *EvalQueue) Running() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.running
}

// Submit enqueues one evaluation. A full lane blocks up to the submit
// timeout before failing with ErrQueueFull; under heavy saturation only
// critical requests are accepted at all.
func (q *EvalQueue) Submit(ctx context.Context, req *EvalRequest) error {
	q.mu.RLock()
	running := q.running
	q.mu.RUnlock()
	if !running {
		return ErrQueueStopped
	}
	if req.Priority < types.PriorityCritical || req.Priority > types.PriorityLow {
		return fmt.Errorf("invalid eval priority %d", int(req.Priority))
	}
	if !q.acceptable(req.Priority) {
		atomic.AddInt64(&q.rejectedCount, 1)
		return fmt.Errorf("%w: saturated, rejecting %s priority", ErrQueueFull, req.Priority)
	}

	if req.ID == "" {
		req.ID = fmt.Sprintf("eval-%d", atomic.AddInt64(&q.requestCounter, 1))
	}
	if req.ResultCh == nil {
		req.ResultCh = make(chan EvalResult, 1)
	}
	if req.Ctx == nil {
		req.Ctx = context.Background()
	}
	if req.Timeout <= 0 {
		req.Timeout = q.evalTimeout
	}
	req.SubmittedAt = time.Now()

	lane := q.queues[int(req.Priority)]
	select {
	case lane <- req:
		atomic.AddInt64(&q.submittedCount, 1)
		logging.OrchestratorDebug("queued %s for %s (priority=%s depth=%d)", req.ID, req.Profile.ID, req.Priority, q.Depth())
		return nil
	default:
	}

	// Lane full: wait out the submit timeout rather than failing the
	// whole wave on a momentary spike.
	timer := time.NewTimer(q.submitTimeout)
	defer timer.Stop()
	select {
	case lane <- req:
		atomic.AddInt64(&q.submittedCount, 1)
		return nil
	case <-timer.C:
		atomic.AddInt64(&q.rejectedCount, 1)
		return fmt.Errorf("%w: %s lane stayed full for %v", ErrQueueFull, req.Priority, q.submitTimeout)
	case <-ctx.Done():
		atomic.AddInt64(&q.rejectedCount, 1)
		return ctx.Err()
	case <-q.stopCh:
		atomic.AddInt64(&q.rejectedCount, 1)
		return ErrQueueStopped
	}
}

// acceptable applies the saturation rule: past the high-water mark only
// critical requests may join the backlog.
func (q *EvalQueue) acceptable(p types.EvalPriority) bool {
	if p == types.PriorityCritical {
		return true
	}
	capacity := q.laneSize * numPriorities
	return float64(q.Depth()) < saturationMark*float64(capacity)
}

// Depth returns the total number of queued requests across priorities.
func (q *EvalQueue) Depth() int {
	depth := 0
	for p := 0; p < numPriorities; p++ {
		depth += len(q.queues[p])
	}
	return depth
}

// Stats returns a snapshot of the queue counters.
func (q *EvalQueue) Stats() QueueStats {
	q.mu.RLock()
	running := q.running
	q.mu.RUnlock()
	return QueueStats{
		Submitted: atomic.LoadInt64(&q.submittedCount),
		Completed: atomic.LoadInt64(&q.completedCount),
		Rejected:  atomic.LoadInt64(&q.rejectedCount),
		TimedOut:  atomic.LoadInt64(&q.timedOutCount),
		Depth:     q.Depth(),
		Workers:   q.workers,
		Running:   running,
	}
}

// worker drains the priority lanes highest-first until stopped.
func (q *EvalQueue) worker(id int) {
	defer q.workerWg.Done()
	logging.OrchestratorDebug("eval worker %d started", id)
	for {
		select {
		case <-q.stopCh:
			logging.OrchestratorDebug("eval worker %d stopping", id)
			return
		default:
		}

		req := q.nextRequest()
		if req == nil {
			select {
			case <-q.stopCh:
				logging.OrchestratorDebug("eval worker %d stopping", id)
				return
			case <-time.After(workerIdleDelay):
			}
			continue
		}
		q.processRequest(req)
	}
}

// nextRequest picks the oldest request from the highest non-empty lane.
func (q *EvalQueue) nextRequest() *EvalRequest {
	for p := types.PriorityCritical; p <= types.PriorityLow; p++ {
		select {
		case req := <-q.queues[int(p)]:
			return req
		default:
		}
	}
	return nil
}

func (q *EvalQueue) processRequest(req *EvalRequest) {
	wait := time.Since(req.SubmittedAt)

	// The session may have been cancelled while the request sat queued.
	if err := req.Ctx.Err(); err != nil {
		atomic.AddInt64(&q.completedCount, 1)
		q.sendResult(req, EvalResult{
			RequestID: req.ID,
			Contribution: types.Contribution{
				ProfileID: req.Profile.ID,
				Err:       fmt.Errorf("%w: profile %s cancelled before start: %v", ErrEvalFailed, req.Profile.ID, err),
			},
			TimeInQueue: wait,
		})
		return
	}

	contribution := runEvaluation(req.Ctx, req.Profile, req.Task, req.Timeout)
	atomic.AddInt64(&q.completedCount, 1)
	if errors.Is(contribution.Err, ErrEvalTimeout) {
		atomic.AddInt64(&q.timedOutCount, 1)
	}
	logging.OrchestratorDebug("processed %s for %s (queued=%v ran=%v err=%v)",
		req.ID, req.Profile.ID, wait, contribution.Elapsed, contribution.Err)

	q.sendResult(req, EvalResult{RequestID: req.ID, Contribution: contribution, TimeInQueue: wait})
}

// sendResult delivers without blocking; ResultCh is buffered so a
// collector that already gave up never wedges a worker.
func (q *EvalQueue) sendResult(req *EvalRequest, res EvalResult) {
	select {
	case req.ResultCh <- res:
	default:
		logging.OrchestratorWarn("result channel full for %s (profile %s), dropping result", req.ID, req.Profile.ID)
	}
}
