package execution

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/betbot/perpplay/internal/domain"
)

func TestTradeGate_SingleInFlight(t *testing.T) {
	var g TradeGate
	if err := g.TryEnter("open"); err != nil {
		t.Fatalf("first enter: %v", err)
	}
	if err := g.TryEnter("close"); !errors.Is(err, domain.ErrTradeInFlight) {
		t.Fatalf("expected ErrTradeInFlight, got %v", err)
	}
	if g.Current() != "open" {
		t.Fatalf("current op got %q", g.Current())
	}
	g.Leave()
	if err := g.TryEnter("close"); err != nil {
		t.Fatalf("enter after leave: %v", err)
	}
	g.Leave()
}

func TestTradeGate_Concurrent(t *testing.T) {
	var g TradeGate
	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.TryEnter("open") == nil {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("exactly one goroutine must enter, got %d", wins)
	}
}

func TestKeyedInFlight(t *testing.T) {
	k := NewKeyedInFlight(4)
	if err := k.TryAcquire("pos-1"); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := k.TryAcquire("pos-1"); !errors.Is(err, domain.ErrTradeInFlight) {
		t.Fatalf("expected ErrTradeInFlight, got %v", err)
	}
	if err := k.TryAcquire("pos-2"); err != nil {
		t.Fatalf("other key must be independent: %v", err)
	}
	k.Release("pos-1")
	if k.Held("pos-1") {
		t.Fatalf("expected released")
	}
}
