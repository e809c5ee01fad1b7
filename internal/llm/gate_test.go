package llm

import (
	"context"
	"sync"
	"testing"
	"time"
)

type scriptedClient struct {
	mu    sync.Mutex
	order []string

	block chan struct{}
}

func (c *scriptedClient) Complete(ctx context.Context, req Request) (Completion, error) {
	label := ""
	if len(req.Messages) > 0 {
		label = req.Messages[0].Content
	}
	if c.block != nil && label == "blocker" {
		<-c.block
		return Completion{Text: "done"}, nil
	}
	c.mu.Lock()
	c.order = append(c.order, label)
	c.mu.Unlock()
	return Completion{Text: "done"}, nil
}

func labelled(text string) Request {
	return Request{Messages: []Message{{Role: "user", Content: text}}}
}

func waitForPending(t *testing.T, g *Gate, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for g.Pending() != want {
		if time.Now().After(deadline) {
			t.Fatalf("pending depth never reached %d (now %d)", want, g.Pending())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestGateRunsImmediatelyWhenSlotFree(t *testing.T) {
	client := &scriptedClient{}
	g := NewGate(client, 2)

	if _, err := g.Complete(context.Background(), PriorityNormal, labelled("solo")); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if g.Pending() != 0 {
		t.Fatalf("expected empty pending list, got %d", g.Pending())
	}
}

func TestGateDispatchesPendingByPriority(t *testing.T) {
	client := &scriptedClient{block: make(chan struct{})}
	g := NewGate(client, 2)

	var blockers sync.WaitGroup
	blockers.Add(2)
	for i := 0; i < 2; i++ {
		go func() {
			defer blockers.Done()
			if _, err := g.Complete(context.Background(), PriorityNormal, labelled("blocker")); err != nil {
				t.Errorf("blocker: %v", err)
			}
		}()
	}
	// Wait until both slots are occupied.
	deadline := time.Now().Add(2 * time.Second)
	for {
		g.mu.Lock()
		active := g.active
		g.mu.Unlock()
		if active == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("slots never filled")
		}
		time.Sleep(time.Millisecond)
	}

	var waiters sync.WaitGroup
	submissions := []struct {
		priority Priority
		label    string
	}{
		{PriorityNormal, "normal-1"},
		{PriorityCritical, "critical-1"},
		{PriorityHigh, "high-1"},
		{PriorityNormal, "normal-2"},
		{PriorityCritical, "critical-2"},
	}
	for i, sub := range submissions {
		sub := sub
		waiters.Add(1)
		go func() {
			defer waiters.Done()
			if _, err := g.Complete(context.Background(), sub.priority, labelled(sub.label)); err != nil {
				t.Errorf("%s: %v", sub.label, err)
			}
		}()
		waitForPending(t, g, i+1)
	}

	// Free one slot; the other blocker keeps its slot occupied so the pending
	// list drains serially through the freed one.
	client.block <- struct{}{}
	waitForPending(t, g, 0)
	deadline = time.Now().Add(2 * time.Second)
	for {
		client.mu.Lock()
		n := len(client.order)
		client.mu.Unlock()
		if n == len(submissions) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("pending requests never drained: got %d", n)
		}
		time.Sleep(time.Millisecond)
	}
	close(client.block)
	blockers.Wait()

	want := []string{"critical-1", "critical-2", "high-1", "normal-1", "normal-2"}
	client.mu.Lock()
	defer client.mu.Unlock()
	for i, label := range want {
		if client.order[i] != label {
			t.Fatalf("dispatch order mismatch at %d: got %v, want %v", i, client.order, want)
		}
	}
}

func TestGateCancelledWaiterLeavesQueueIntact(t *testing.T) {
	client := &scriptedClient{block: make(chan struct{})}
	g := NewGate(client, 1)

	var blocker sync.WaitGroup
	blocker.Add(1)
	go func() {
		defer blocker.Done()
		_, _ = g.Complete(context.Background(), PriorityNormal, labelled("blocker"))
	}()
	deadline := time.Now().Add(2 * time.Second)
	for {
		g.mu.Lock()
		active := g.active
		g.mu.Unlock()
		if active == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("slot never filled")
		}
		time.Sleep(time.Millisecond)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := g.Complete(ctx, PriorityHigh, labelled("cancelled"))
		errCh <- err
	}()
	waitForPending(t, g, 1)
	cancel()

	if err := <-errCh; err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if g.Pending() != 0 {
		t.Fatalf("cancelled waiter left pending entry behind")
	}

	close(client.block)
	blocker.Wait()

	// The gate still dispatches new work after the cancellation.
	if _, err := g.Complete(context.Background(), PriorityNormal, labelled("after")); err != nil {
		t.Fatalf("complete after cancel: %v", err)
	}
}
