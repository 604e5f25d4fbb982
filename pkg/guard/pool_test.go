package guard

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type dropCounter struct {
	mu    sync.Mutex
	drops map[string]int
}

func (d *dropCounter) RecordPoolDrop(task string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.drops == nil {
		d.drops = make(map[string]int)
	}
	d.drops[task]++
}

func TestPool_RunsTasks(t *testing.T) {
	p := NewPool(PoolConfig{Workers: 2, QueueSize: 10})

	var ran atomic.Int32
	for i := 0; i < 10; i++ {
		if !p.Submit("count", func(ctx context.Context) error {
			if _, ok := ctx.Deadline(); !ok {
				t.Error("task context has no deadline")
			}
			ran.Add(1)
			return nil
		}) {
			t.Fatalf("Submit(%d) dropped", i)
		}
	}
	p.Close()

	if ran.Load() != 10 {
		t.Errorf("ran = %d, want 10", ran.Load())
	}
}

func TestPool_DropsWhenFull(t *testing.T) {
	metrics := &dropCounter{}
	p := NewPool(PoolConfig{Workers: 1, QueueSize: 1, Metrics: metrics})

	release := make(chan struct{})
	started := make(chan struct{})
	p.Submit("blocker", func(context.Context) error {
		close(started)
		<-release
		return nil
	})
	<-started

	if !p.Submit("queued", func(context.Context) error { return nil }) {
		t.Fatal("first queued task dropped")
	}
	if p.Submit("overflow", func(context.Context) error { return nil }) {
		t.Fatal("task beyond the queue size was accepted")
	}

	close(release)
	p.Close()

	if p.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", p.Dropped())
	}
	if metrics.drops["overflow"] != 1 {
		t.Errorf("drops = %v", metrics.drops)
	}
}

func TestPool_IsolatesFailures(t *testing.T) {
	p := NewPool(PoolConfig{Workers: 1})

	var after atomic.Bool
	p.Submit("panics", func(context.Context) error { panic("boom") })
	p.Submit("fails", func(context.Context) error { return errors.New("failed") })
	p.Submit("after", func(context.Context) error {
		after.Store(true)
		return nil
	})
	p.Close()

	if !after.Load() {
		t.Error("worker stopped after a failing task")
	}
}

func TestPool_TaskTimeout(t *testing.T) {
	p := NewPool(PoolConfig{Workers: 1, TaskTimeout: 10 * time.Millisecond})

	var err atomic.Value
	p.Submit("slow", func(ctx context.Context) error {
		<-ctx.Done()
		err.Store(ctx.Err())
		return nil
	})
	p.Close()

	if got, _ := err.Load().(error); !errors.Is(got, context.DeadlineExceeded) {
		t.Errorf("ctx.Err() = %v, want DeadlineExceeded", got)
	}
}

func TestPool_SubmitAfterClose(t *testing.T) {
	p := NewPool(PoolConfig{})
	p.Close()
	p.Close()

	if p.Submit("late", func(context.Context) error { return nil }) {
		t.Error("Submit after Close accepted the task")
	}
	if p.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", p.Dropped())
	}
}
