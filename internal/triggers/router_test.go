package triggers

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestRouterDispatchesToAllSubscribers(t *testing.T) {
	r := NewRouter()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	var mu sync.Mutex
	var got []Message
	var wg sync.WaitGroup
	wg.Add(2)

	r.Subscribe(func(msg Message) {
		mu.Lock()
		got = append(got, msg)
		mu.Unlock()
		wg.Done()
	})
	r.Subscribe(func(msg Message) {
		wg.Done()
	})

	r.Publish(Message{Source: "CP01", Event: "DATA_ARRIVED"})

	waitOrTimeout(t, &wg, time.Second)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0].Source != "CP01" || got[0].Event != "DATA_ARRIVED" {
		t.Fatalf("got %v", got)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	r := NewRouter()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	calls := 0
	var mu sync.Mutex
	sub := r.Subscribe(func(msg Message) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	r.Unsubscribe(sub)

	r.Publish(Message{Source: "CP01", Event: "X"})
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if calls != 0 {
		t.Fatalf("calls = %d, want 0 after unsubscribe", calls)
	}
}

func waitOrTimeout(t *testing.T, wg *sync.WaitGroup, d time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatal("timed out waiting for dispatch")
	}
}
