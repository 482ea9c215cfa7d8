package tasks

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func TestSubmitRunsWork(t *testing.T) {
	// Capacity matches the submission count so no task can be dropped.
	p, err := NewPool(Config{Workers: 10}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	defer p.Close()

	var count atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		p.Submit("test_work", func() {
			defer wg.Done()
			count.Add(1)
		})
	}
	wg.Wait()

	if count.Load() != 10 {
		t.Errorf("ran %d tasks, want 10", count.Load())
	}
	if p.Dropped() != 0 {
		t.Errorf("dropped = %d", p.Dropped())
	}
}

func TestSaturationDropsInsteadOfBlocking(t *testing.T) {
	p, err := NewPool(Config{Workers: 1}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	defer p.Close()

	gate := make(chan struct{})
	started := make(chan struct{})
	p.Submit("blocker", func() {
		close(started)
		<-gate
	})
	<-started

	done := make(chan struct{})
	go func() {
		p.Submit("overflow_a", func() {})
		p.Submit("overflow_b", func() {})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Submit blocked on a saturated pool")
	}
	if got := p.Dropped(); got != 2 {
		t.Errorf("dropped = %d, want 2", got)
	}
	close(gate)
}

func TestPanicDoesNotKillWorkers(t *testing.T) {
	p, err := NewPool(Config{Workers: 1}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	defer p.Close()

	p.Submit("bad_task", func() {
		panic("boom")
	})

	ran := make(chan struct{})
	deadline := time.After(2 * time.Second)
	for {
		p.Submit("good_task", func() {
			select {
			case ran <- struct{}{}:
			default:
			}
		})
		select {
		case <-ran:
			return
		case <-deadline:
			t.Fatal("pool stopped accepting work after a panic")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestNamedSubmitter(t *testing.T) {
	p, err := NewPool(Config{Workers: 2}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	defer p.Close()

	sub := p.Named("stamps")
	var wg sync.WaitGroup
	wg.Add(1)
	if err := sub.Submit(func() { wg.Done() }); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	wg.Wait()
}

func TestCloseDrainsInFlightWork(t *testing.T) {
	p, err := NewPool(Config{Workers: 2, DrainTimeout: 2 * time.Second}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}

	var done atomic.Bool
	p.Submit("slow", func() {
		time.Sleep(50 * time.Millisecond)
		done.Store(true)
	})
	p.Close()

	if !done.Load() {
		t.Error("Close returned before in-flight work finished")
	}
}
