package workers

import (
	"sync"
	"testing"
	"time"
)

// TestPoolExecutesTasks verifies submitted tasks run
func TestPoolExecutesTasks(t *testing.T) {
	p := NewPool(2, 16, nil)
	defer p.Stop()

	var wg sync.WaitGroup
	var mu sync.Mutex
	count := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		if !p.Submit("count", func() {
			defer wg.Done()
			mu.Lock()
			count++
			mu.Unlock()
		}) {
			t.Fatal("submit to an idle pool should succeed")
		}
	}
	wg.Wait()

	if count != 10 {
		t.Errorf("executed = %d, want 10", count)
	}
}

// TestPoolRecoversFromPanic verifies a panicking task never kills a worker
func TestPoolRecoversFromPanic(t *testing.T) {
	p := NewPool(1, 16, nil)
	defer p.Stop()

	p.Submit("explode", func() { panic("boom") })

	done := make(chan struct{})
	p.Submit("after", func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not survive the panic")
	}
}

// TestPoolDropsWhenSaturated verifies saturation drops instead of blocking
func TestPoolDropsWhenSaturated(t *testing.T) {
	p := NewPool(1, 1, nil)
	defer p.Stop()

	gate := make(chan struct{})
	started := make(chan struct{})
	p.Submit("block", func() {
		close(started)
		<-gate
	})
	<-started

	// Worker is held, fill the single queue slot
	if !p.Submit("queued", func() {}) {
		t.Fatal("queue slot should accept one task")
	}

	if p.Submit("overflow", func() {}) {
		t.Error("saturated pool should drop the task")
	}
	_, dropped := p.Stats()
	if dropped != 1 {
		t.Errorf("dropped = %d, want 1", dropped)
	}

	close(gate)
}

// TestPoolSubmitDuringStop hammers Submit while Stop closes the queue;
// a submit racing the close must return false, never panic
func TestPoolSubmitDuringStop(t *testing.T) {
	for i := 0; i < 50; i++ {
		p := NewPool(2, 4, nil)

		var wg sync.WaitGroup
		for s := 0; s < 4; s++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 100; j++ {
					p.Submit("race", func() {})
				}
			}()
		}
		p.Stop()
		wg.Wait()

		if p.Submit("late", func() {}) {
			t.Fatal("stopped pool must reject submissions")
		}
	}
}

// TestPoolStop verifies stop drains the queue and rejects new work
func TestPoolStop(t *testing.T) {
	p := NewPool(2, 16, nil)

	var mu sync.Mutex
	ran := 0
	for i := 0; i < 5; i++ {
		p.Submit("drain", func() {
			mu.Lock()
			ran++
			mu.Unlock()
		})
	}
	p.Stop()

	if ran != 5 {
		t.Errorf("ran = %d, want all 5 drained before Stop returns", ran)
	}
	if p.Submit("late", func() {}) {
		t.Error("stopped pool must reject submissions")
	}
	// Stop is idempotent
	p.Stop()
}
