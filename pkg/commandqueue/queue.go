package commandqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/selcan/mira/internal/observability"
	"github.com/selcan/mira/internal/tracing"
)

// Task is one unit of queued work
type Task func(ctx context.Context) (interface{}, error)

// TaskOptions tune how a single enqueue behaves while it waits its turn
type TaskOptions struct {
	WarnAfterMs int
	OnWait      func(waitMs int64, queuePos int)
}

// Event describes a queue state change, delivered to On subscribers
type Event struct {
	Type   string
	Lane   string
	TaskID string
	Data   map[string]interface{}
}

// EventHandler consumes queue events
type EventHandler func(event Event)

// outcome answers one waiting caller
type outcome struct {
	value interface{}
	err   error
}

// job carries a task through the lane together with its reply channel
type job struct {
	id     string
	ctx    context.Context
	run    Task
	opts   TaskOptions
	queued time.Time
	reply  chan outcome
}

// lane is an independent FIFO with its own concurrency limit. One lane
// per session key keeps runs within a conversation ordered while
// unrelated sessions proceed side by side.
type lane struct {
	name string

	mu      sync.Mutex
	limit   int
	pending []*job
	active  int
}

// push appends a job and reports the resulting queue depth
func (l *lane) push(j *job) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pending = append(l.pending, j)
	return len(l.pending)
}

// take pops as many jobs as remaining capacity allows
func (l *lane) take() []*job {
	l.mu.Lock()
	defer l.mu.Unlock()

	var ready []*job
	for l.active < l.limit && len(l.pending) > 0 {
		ready = append(ready, l.pending[0])
		l.pending = l.pending[1:]
		l.active++
	}
	return ready
}

// finish releases one slot and reports how many jobs still wait
func (l *lane) finish() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.active--
	return len(l.pending)
}

// drain rejects every waiting job. Running jobs are left to complete.
func (l *lane) drain() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, j := range l.pending {
		j.reply <- outcome{err: fmt.Errorf("lane reset")}
		close(j.reply)
	}
	n := len(l.pending)
	l.pending = nil
	return n
}

// position reports a job's place in line, -1 once it left the queue
func (l *lane) position(id string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, j := range l.pending {
		if j.id == id {
			return i
		}
	}
	return -1
}

// setLimit changes the concurrency cap and reports whether it grew
func (l *lane) setLimit(n int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	grew := n > l.limit
	l.limit = n
	return grew
}

func (l *lane) snapshot() (queued, running, limit int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending), l.active, l.limit
}

func (l *lane) quiet() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active == 0 && len(l.pending) == 0
}

// CommandQueue serializes agent work into named lanes. Callers block on
// Enqueue until their task has run; the queue only decides when.
type CommandQueue struct {
	mu    sync.RWMutex
	lanes map[string]*lane
	seq   int

	subsMu sync.RWMutex
	subs   map[string][]EventHandler

	root  context.Context
	stop  context.CancelFunc
	wg    sync.WaitGroup
	dedup *dedupCache
}

// New builds a queue with the standard lanes: "main" runs strictly one
// at a time, "reminders" allows two so a digest cannot starve a due check.
func New() *CommandQueue {
	observability.EnsureRegistered()

	root, stop := context.WithCancel(context.Background())
	cq := &CommandQueue{
		lanes: make(map[string]*lane),
		subs:  make(map[string][]EventHandler),
		root:  root,
		stop:  stop,
		dedup: newDedupCache(root, 5*time.Minute),
	}
	cq.laneFor("main").setLimit(1)
	cq.laneFor("reminders").setLimit(2)
	return cq
}

// laneFor returns the named lane, creating it serialized on first use
func (cq *CommandQueue) laneFor(name string) *lane {
	cq.mu.RLock()
	l := cq.lanes[name]
	cq.mu.RUnlock()
	if l != nil {
		return l
	}

	cq.mu.Lock()
	defer cq.mu.Unlock()
	if l = cq.lanes[name]; l == nil {
		l = &lane{name: name, limit: 1}
		cq.lanes[name] = l
		log.Debug().Str("lane", name).Msg("Lane created")
	}
	return l
}

// Enqueue runs task in the named lane and blocks until it finishes
func (cq *CommandQueue) Enqueue(laneName string, task Task, options *TaskOptions) (interface{}, error) {
	return cq.EnqueueWithContext(context.Background(), laneName, task, options)
}

// EnqueueWithContext runs task in the named lane. When ctx carries a
// request ID, a result already produced for that ID within the dedup
// window is returned without running the task again.
func (cq *CommandQueue) EnqueueWithContext(ctx context.Context, laneName string, task Task, options *TaskOptions) (interface{}, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := tracing.StartSpan(
		ctx,
		"mira.commandqueue",
		"commandqueue.enqueue",
		attribute.String("lane", laneName),
	)
	defer span.End()

	if tracing.GetSessionKey(ctx) == "" {
		ctx = tracing.WithSessionKey(ctx, laneName)
	}
	logger := tracing.LoggerFromContext(ctx, log.Logger).With().Str("lane", laneName).Logger()

	if requestID := tracing.GetRequestID(ctx); requestID != "" {
		if prior, ok := cq.dedup.Get(requestID); ok {
			logger.Debug().Str("requestId", requestID).Msg("Answered from dedup cache")
			return prior.value, prior.err
		}
	}

	cq.mu.Lock()
	cq.seq++
	id := fmt.Sprintf("%s-%d", laneName, cq.seq)
	cq.mu.Unlock()

	j := &job{
		id:     id,
		ctx:    ctx,
		run:    task,
		queued: time.Now(),
		reply:  make(chan outcome, 1),
	}
	if options != nil {
		j.opts = *options
	}

	l := cq.laneFor(laneName)
	depth := l.push(j)

	logger.Debug().Str("taskId", id).Int("queueSize", depth).Msg("Task enqueued")
	observability.RecordQueueEnqueue(laneName, depth)
	cq.publish(Event{
		Type:   "enqueued",
		Lane:   laneName,
		TaskID: id,
		Data:   map[string]interface{}{"queueSize": depth},
	})

	if j.opts.WarnAfterMs > 0 {
		go cq.watchWait(l, j)
	}
	cq.dispatch(l)

	res := <-j.reply
	if requestID := tracing.GetRequestID(ctx); requestID != "" {
		cq.dedup.Set(requestID, res)
	}
	if res.err != nil {
		span.RecordError(res.err)
		span.SetStatus(codes.Error, res.err.Error())
	}
	return res.value, res.err
}

// dispatch starts a worker for every job the lane can admit right now
func (cq *CommandQueue) dispatch(l *lane) {
	for _, j := range l.take() {
		cq.wg.Add(1)
		go cq.work(l, j)
	}
}

// work runs one job, answers its caller, and pulls the lane forward
func (cq *CommandQueue) work(l *lane, j *job) {
	defer cq.wg.Done()

	ctx := j.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := tracing.StartSpan(
		ctx,
		"mira.commandqueue",
		"commandqueue.execute_task",
		attribute.String("lane", l.name),
		attribute.String("task_id", j.id),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, log.Logger).With().Str("lane", l.name).Logger()
	logger.Debug().Str("taskId", j.id).Msg("Task started")

	// Queue shutdown cancels in-flight work through the task context.
	runCtx, cancel := context.WithCancel(ctx)
	unhook := context.AfterFunc(cq.root, cancel)
	defer func() {
		unhook()
		cancel()
	}()

	started := time.Now()
	value, err := j.run(runCtx)
	took := time.Since(started)

	waiting := l.finish()

	j.reply <- outcome{value: value, err: err}
	close(j.reply)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error().Str("taskId", j.id).Dur("duration", took).Err(err).Msg("Task failed")
	} else {
		logger.Debug().Str("taskId", j.id).Dur("duration", took).Msg("Task completed")
	}

	observability.RecordQueueCompletion(l.name, took, err == nil, waiting)
	cq.publish(Event{
		Type:   "completed",
		Lane:   l.name,
		TaskID: j.id,
		Data: map[string]interface{}{
			"duration": took.Milliseconds(),
			"success":  err == nil,
		},
	})

	cq.dispatch(l)
}

// watchWait fires the caller's OnWait once a job has sat in line past
// its warning threshold. Jobs that started before the timer are silent.
func (cq *CommandQueue) watchWait(l *lane, j *job) {
	timer := time.NewTimer(time.Duration(j.opts.WarnAfterMs) * time.Millisecond)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-cq.root.Done():
		return
	}

	pos := l.position(j.id)
	if pos < 0 {
		return
	}

	waited := time.Since(j.queued).Milliseconds()
	log.Warn().
		Str("lane", l.name).
		Str("taskId", j.id).
		Int64("waitMs", waited).
		Int("queuePos", pos).
		Msg("Task waiting longer than expected")

	if j.opts.OnWait != nil {
		j.opts.OnWait(waited, pos)
	}
}

// GetQueueSize reports how many tasks wait in the named lane
func (cq *CommandQueue) GetQueueSize(laneName string) int {
	cq.mu.RLock()
	l := cq.lanes[laneName]
	cq.mu.RUnlock()
	if l == nil {
		return 0
	}
	queued, _, _ := l.snapshot()
	return queued
}

// GetRunningCount reports how many tasks the named lane is executing
func (cq *CommandQueue) GetRunningCount(laneName string) int {
	cq.mu.RLock()
	l := cq.lanes[laneName]
	cq.mu.RUnlock()
	if l == nil {
		return 0
	}
	_, running, _ := l.snapshot()
	return running
}

// GetStats reports queued/running/concurrency per lane
func (cq *CommandQueue) GetStats() map[string]map[string]int {
	cq.mu.RLock()
	defer cq.mu.RUnlock()

	stats := make(map[string]map[string]int, len(cq.lanes))
	for name, l := range cq.lanes {
		queued, running, limit := l.snapshot()
		stats[name] = map[string]int{
			"queued":      queued,
			"running":     running,
			"concurrency": limit,
		}
	}
	return stats
}

// ResetLane rejects everything waiting in the named lane. Tasks already
// running are not interrupted.
func (cq *CommandQueue) ResetLane(laneName string) {
	cq.mu.RLock()
	l := cq.lanes[laneName]
	cq.mu.RUnlock()
	if l == nil {
		return
	}

	rejected := l.drain()
	log.Info().Str("lane", laneName).Int("rejected", rejected).Msg("Lane reset")
	observability.SetQueueSize(laneName, 0)
}

// SetConcurrency changes how many tasks the named lane may run at once
func (cq *CommandQueue) SetConcurrency(laneName string, concurrency int) {
	l := cq.laneFor(laneName)
	if l.setLimit(concurrency) {
		log.Info().Str("lane", laneName).Int("concurrency", concurrency).Msg("Lane concurrency raised")
		cq.dispatch(l)
		return
	}
	log.Info().Str("lane", laneName).Int("concurrency", concurrency).Msg("Lane concurrency updated")
}

// WaitForActive blocks until every lane is idle or the timeout passes
func (cq *CommandQueue) WaitForActive(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()

	for {
		idle := true
		cq.mu.RLock()
		for _, l := range cq.lanes {
			if !l.quiet() {
				idle = false
				break
			}
		}
		cq.mu.RUnlock()

		if idle {
			return true
		}
		if time.Now().After(deadline) {
			log.Warn().Dur("timeout", timeout).Msg("Timeout waiting for active tasks")
			return false
		}
		<-tick.C
	}
}

// Close cancels in-flight tasks and waits for the workers to return
func (cq *CommandQueue) Close() error {
	cq.stop()
	cq.dedup.Stop()
	cq.wg.Wait()
	return nil
}

// On subscribes a handler to one event type
func (cq *CommandQueue) On(eventType string, handler EventHandler) {
	cq.subsMu.Lock()
	defer cq.subsMu.Unlock()
	cq.subs[eventType] = append(cq.subs[eventType], handler)
}

// Off drops every handler for one event type
func (cq *CommandQueue) Off(eventType string) {
	cq.subsMu.Lock()
	defer cq.subsMu.Unlock()
	delete(cq.subs, eventType)
}

func (cq *CommandQueue) publish(event Event) {
	cq.subsMu.RLock()
	handlers := cq.subs[event.Type]
	cq.subsMu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}
