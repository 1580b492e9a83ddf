// Package dispatch runs relay tasks in the background, detached from the
// webhook request that produced them.
//
// A Dispatcher is a bounded worker pool fed by a bounded queue. Submit never
// blocks: when the queue is full (or the dispatcher is shutting down) the task
// is refused and the caller reports processingStarted=false. Every task runs
// under its own timeout; errors and panics are routed to an ErrorSink instead
// of escaping, so a failing task is visible without being fatal.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/livechat-bridge/internal/domain"
)

// Task statuses reported to Options.OnFinish.
const (
	StatusOK       = "ok"
	StatusFailed   = "failed"
	StatusPanicked = "panicked"
)

// ErrPanic wraps a recovered panic value.
var ErrPanic = errors.New("task panicked")

// Handler processes one task. The context carries the per-task timeout and is
// cancelled if shutdown runs out of time.
type Handler func(ctx context.Context, task domain.RelayTask) error

// ErrorSink receives task failures.
type ErrorSink interface {
	TaskFailed(task domain.RelayTask, err error)
}

// LogSink reports failures through zerolog.
type LogSink struct {
	Logger zerolog.Logger
}

// TaskFailed implements ErrorSink.
func (s LogSink) TaskFailed(task domain.RelayTask, err error) {
	s.Logger.Error().
		Err(err).
		Str("conversation_id", task.ConversationID).
		Str("message_id", task.MessageID).
		Str("session_id", task.SessionID).
		Msg("relay task failed")
}

// Sinks fans a failure out to several sinks.
type Sinks []ErrorSink

// TaskFailed implements ErrorSink.
func (ss Sinks) TaskFailed(task domain.RelayTask, err error) {
	for _, s := range ss {
		if s != nil {
			s.TaskFailed(task, err)
		}
	}
}

// Options configures a Dispatcher. Zero values pick defaults.
type Options struct {
	Workers     int           // default 8
	QueueSize   int           // default 256
	TaskTimeout time.Duration // default 30s

	Sink   ErrorSink       // default LogSink with the global logger
	Logger *zerolog.Logger // default log.Logger

	// OnFinish, if set, is called after every task with its status and
	// wall-clock duration.
	OnFinish func(status string, elapsed time.Duration)
}

// Dispatcher is safe for concurrent use.
type Dispatcher struct {
	handler Handler
	opts    Options
	lg      zerolog.Logger

	queue chan domain.RelayTask

	baseCtx context.Context
	cancel  context.CancelFunc

	startOnce sync.Once
	wg        sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// New builds a Dispatcher. Call Start to launch the workers.
func New(h Handler, opts Options) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.TaskTimeout <= 0 {
		opts.TaskTimeout = 30 * time.Second
	}
	lg := log.Logger
	if opts.Logger != nil {
		lg = *opts.Logger
	}
	lg = lg.With().Str("component", "dispatch").Logger()
	if opts.Sink == nil {
		opts.Sink = LogSink{Logger: lg}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		handler: h,
		opts:    opts,
		lg:      lg,
		queue:   make(chan domain.RelayTask, opts.QueueSize),
		baseCtx: ctx,
		cancel:  cancel,
	}
}

// Start launches the worker goroutines. Calling it more than once is a no-op.
func (d *Dispatcher) Start() {
	d.startOnce.Do(func() {
		for i := 0; i < d.opts.Workers; i++ {
			d.wg.Add(1)
			go d.worker(i)
		}
		d.lg.Info().
			Int("workers", d.opts.Workers).
			Int("queue_size", d.opts.QueueSize).
			Dur("task_timeout", d.opts.TaskTimeout).
			Msg("dispatcher started")
	})
}

// Submit enqueues task without blocking. It returns false when the queue is
// full or the dispatcher has been shut down.
func (d *Dispatcher) Submit(task domain.RelayTask) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}
	select {
	case d.queue <- task:
		return true
	default:
		d.lg.Warn().
			Str("conversation_id", task.ConversationID).
			Str("message_id", task.MessageID).
			Int("queue_size", d.opts.QueueSize).
			Msg("dispatch queue full; task dropped")
		return false
	}
}

// QueueDepth returns the number of tasks waiting for a worker.
func (d *Dispatcher) QueueDepth() int { return len(d.queue) }

// Shutdown stops accepting tasks and waits for queued and running tasks to
// finish. If ctx ends first, running tasks are cancelled and ctx.Err() is
// returned once the workers exit.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	// Workers that were never started still need to drain.
	d.Start()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		d.lg.Info().Msg("dispatcher drained")
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		d.lg.Warn().Err(ctx.Err()).Msg("dispatcher shutdown deadline exceeded; in-flight tasks cancelled")
		return ctx.Err()
	}
}

func (d *Dispatcher) worker(n int) {
	defer d.wg.Done()
	for task := range d.queue {
		d.process(task)
	}
	d.lg.Debug().Int("worker", n).Msg("worker exited")
}

func (d *Dispatcher) process(task domain.RelayTask) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(d.baseCtx, d.opts.TaskTimeout)
	defer cancel()

	status := StatusOK
	err := d.runSafe(ctx, task)
	switch {
	case errors.Is(err, ErrPanic):
		status = StatusPanicked
	case err != nil:
		status = StatusFailed
	}
	if err != nil {
		d.opts.Sink.TaskFailed(task, err)
	}
	if d.opts.OnFinish != nil {
		d.opts.OnFinish(status, time.Since(start))
	}
}

func (d *Dispatcher) runSafe(ctx context.Context, task domain.RelayTask) (err error) {
	defer func() {
		if r := recover(); r != nil {
			d.lg.Error().
				Interface("panic", r).
				Str("conversation_id", task.ConversationID).
				Str("message_id", task.MessageID).
				Msg("panic recovered in relay task")
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return d.handler(ctx, task)
}
