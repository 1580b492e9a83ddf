package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tbourn/livechat-bridge/internal/domain"
)

type recordingSink struct {
	mu   sync.Mutex
	errs []error
}

func (s *recordingSink) TaskFailed(_ domain.RelayTask, err error) {
	s.mu.Lock()
	s.errs = append(s.errs, err)
	s.mu.Unlock()
}

func (s *recordingSink) all() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.errs...)
}

func nopLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

func TestDispatcher_RunsSubmittedTasks(t *testing.T) {
	var ran int32
	d := New(func(ctx context.Context, task domain.RelayTask) error {
		atomic.AddInt32(&ran, 1)
		return nil
	}, Options{Workers: 2, QueueSize: 8, Logger: nopLogger()})
	d.Start()

	for i := 0; i < 5; i++ {
		if !d.Submit(domain.RelayTask{MessageID: "m"}) {
			t.Fatalf("submit %d refused", i)
		}
	}
	if err := d.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if got := atomic.LoadInt32(&ran); got != 5 {
		t.Fatalf("ran %d tasks; want 5", got)
	}
}

func TestDispatcher_SubmitDoesNotWaitForTask(t *testing.T) {
	release := make(chan struct{})
	d := New(func(ctx context.Context, task domain.RelayTask) error {
		<-release
		return nil
	}, Options{Workers: 1, QueueSize: 1, Logger: nopLogger()})
	d.Start()

	start := time.Now()
	if !d.Submit(domain.RelayTask{}) {
		t.Fatal("submit refused")
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Fatal("Submit blocked on the task")
	}
	close(release)
	_ = d.Shutdown(context.Background())
}

func TestDispatcher_QueueFullRefuses(t *testing.T) {
	block := make(chan struct{})
	started := make(chan struct{}, 1)
	d := New(func(ctx context.Context, task domain.RelayTask) error {
		started <- struct{}{}
		<-block
		return nil
	}, Options{Workers: 1, QueueSize: 1, Logger: nopLogger()})
	d.Start()

	if !d.Submit(domain.RelayTask{MessageID: "running"}) {
		t.Fatal("first submit refused")
	}
	<-started // worker holds the first task
	if !d.Submit(domain.RelayTask{MessageID: "queued"}) {
		t.Fatal("second submit should fill the queue")
	}
	if d.QueueDepth() != 1 {
		t.Fatalf("QueueDepth = %d; want 1", d.QueueDepth())
	}
	if d.Submit(domain.RelayTask{MessageID: "overflow"}) {
		t.Fatal("submit on a full queue must be refused")
	}
	close(block)
	_ = d.Shutdown(context.Background())
}

func TestDispatcher_SubmitAfterShutdown(t *testing.T) {
	d := New(func(context.Context, domain.RelayTask) error { return nil }, Options{Logger: nopLogger()})
	d.Start()
	if err := d.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if d.Submit(domain.RelayTask{}) {
		t.Fatal("submit after shutdown must be refused")
	}
	if err := d.Shutdown(context.Background()); err != nil {
		t.Fatalf("second shutdown should be a no-op, got %v", err)
	}
}

func TestDispatcher_ErrorsAndPanicsGoToSink(t *testing.T) {
	boom := errors.New("boom")
	sink := &recordingSink{}
	var mu sync.Mutex
	statuses := map[string]int{}

	d := New(func(ctx context.Context, task domain.RelayTask) error {
		switch task.MessageID {
		case "err":
			return boom
		case "panic":
			panic("kaboom")
		}
		return nil
	}, Options{
		Workers:   1,
		QueueSize: 4,
		Sink:      sink,
		Logger:    nopLogger(),
		OnFinish: func(status string, _ time.Duration) {
			mu.Lock()
			statuses[status]++
			mu.Unlock()
		},
	})
	d.Start()
	d.Submit(domain.RelayTask{MessageID: "err"})
	d.Submit(domain.RelayTask{MessageID: "panic"})
	d.Submit(domain.RelayTask{MessageID: "ok"})
	if err := d.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	errs := sink.all()
	if len(errs) != 2 {
		t.Fatalf("sink got %d errors; want 2 (%v)", len(errs), errs)
	}
	if !errors.Is(errs[0], boom) {
		t.Fatalf("first error = %v; want boom", errs[0])
	}
	if !errors.Is(errs[1], ErrPanic) {
		t.Fatalf("second error = %v; want ErrPanic", errs[1])
	}
	mu.Lock()
	defer mu.Unlock()
	if statuses[StatusOK] != 1 || statuses[StatusFailed] != 1 || statuses[StatusPanicked] != 1 {
		t.Fatalf("statuses = %v", statuses)
	}
}

func TestDispatcher_TaskTimeout(t *testing.T) {
	sink := &recordingSink{}
	d := New(func(ctx context.Context, task domain.RelayTask) error {
		<-ctx.Done()
		return ctx.Err()
	}, Options{Workers: 1, TaskTimeout: 10 * time.Millisecond, Sink: sink, Logger: nopLogger()})
	d.Start()
	d.Submit(domain.RelayTask{})
	_ = d.Shutdown(context.Background())

	errs := sink.all()
	if len(errs) != 1 || !errors.Is(errs[0], context.DeadlineExceeded) {
		t.Fatalf("expected one deadline error, got %v", errs)
	}
}

func TestDispatcher_ShutdownDeadlineCancelsTasks(t *testing.T) {
	d := New(func(ctx context.Context, task domain.RelayTask) error {
		<-ctx.Done()
		return ctx.Err()
	}, Options{Workers: 1, TaskTimeout: time.Hour, Sink: &recordingSink{}, Logger: nopLogger()})
	d.Start()
	d.Submit(domain.RelayTask{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := d.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Shutdown = %v; want deadline exceeded", err)
	}
}

func TestDispatcher_ShutdownDrainsWithoutStart(t *testing.T) {
	var ran int32
	d := New(func(context.Context, domain.RelayTask) error {
		atomic.AddInt32(&ran, 1)
		return nil
	}, Options{Logger: nopLogger()})
	d.Submit(domain.RelayTask{})
	if err := d.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if atomic.LoadInt32(&ran) != 1 {
		t.Fatal("queued task was not drained")
	}
}

func TestSinks_FanOut(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{}
	Sinks{a, nil, b}.TaskFailed(domain.RelayTask{}, errors.New("x"))
	if len(a.all()) != 1 || len(b.all()) != 1 {
		t.Fatal("every sink should receive the failure")
	}
}
