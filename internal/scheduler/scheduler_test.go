package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestFireNowRunsJobAndNotifiesListeners(t *testing.T) {
	s := New()
	defer s.Stop()

	var got Outcome
	var wg sync.WaitGroup
	wg.Add(1)
	s.AddListener(func(jobID string, outcome Outcome) {
		got = outcome
		wg.Done()
	})

	ran := false
	s.FireNow("mission-a", func(ctx context.Context) error {
		ran = true
		return nil
	})

	waitWithTimeout(t, &wg, time.Second)
	if !ran {
		t.Fatal("job did not run")
	}
	if got != OutcomeExecuted {
		t.Fatalf("outcome = %v, want executed", got)
	}
}

func TestOverlappingFiresAreCollapsed(t *testing.T) {
	s := New()
	defer s.Stop()

	var calls int32
	release := make(chan struct{})
	started := make(chan struct{})

	job := func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		close(started)
		<-release
		return nil
	}

	s.FireNow("mission-a", job)
	<-started

	var wg sync.WaitGroup
	wg.Add(1)
	s.AddListener(func(string, Outcome) { wg.Done() })
	s.FireNow("mission-a", job)

	close(release)
	waitWithTimeout(t, &wg, time.Second)

	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("calls = %d, want 1 (second fire should be dropped)", calls)
	}
}

func TestRemoveCancelsPendingDateJob(t *testing.T) {
	s := New()
	defer s.Stop()

	ran := false
	s.AddDate("mission-a", time.Now().Add(time.Hour), func(ctx context.Context) error {
		ran = true
		return nil
	})
	s.Remove("mission-a")

	time.Sleep(10 * time.Millisecond)
	if ran {
		t.Fatal("removed job should not have run")
	}
}

func waitWithTimeout(t *testing.T, wg *sync.WaitGroup, d time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatal("timed out waiting for listener notification")
	}
}
