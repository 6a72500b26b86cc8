package syncgroup

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestWaitForAll(t *testing.T) {
	g := NewSyncGroup()
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{}, 2)
	for i := 0; i < 2; i++ {
		g.Go("worker", func() {
			started <- struct{}{}
			<-ctx.Done()
		})
	}
	<-started
	<-started
	if got := g.Running()["worker"]; got != 2 {
		t.Fatalf("running = %d, want 2", got)
	}
	cancel()
	if err := g.WaitTimeout(time.Second); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if len(g.Running()) != 0 {
		t.Fatalf("expected no running goroutines, got %v", g.Running())
	}
}

func TestWaitTimeout(t *testing.T) {
	g := NewSyncGroup()
	block := make(chan struct{})
	defer close(block)
	g.Go("stuck", func() { <-block })

	err := g.WaitTimeout(20 * time.Millisecond)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}
