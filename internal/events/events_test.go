package events

import "testing"

func TestChannelReporter_OrderAndDrop(t *testing.T) {
	r := NewChannelReporter(2)
	r.OnTrade(TradeEvent{Phase: PhaseOpening})
	r.OnTrade(TradeEvent{Phase: PhaseOpen})
	r.OnTrade(TradeEvent{Phase: PhaseClosing})
	r.Close()
	r.Close()

	var phases []Phase
	for ev := range r.Events() {
		phases = append(phases, ev.(TradeEvent).Phase)
	}
	if len(phases) != 2 || phases[0] != PhaseOpening || phases[1] != PhaseOpen {
		t.Fatalf("unexpected phases: %v", phases)
	}
	if r.Dropped() != 1 {
		t.Fatalf("dropped got %d", r.Dropped())
	}
	// 关闭后发布不 panic
	r.OnTrade(TradeEvent{Phase: PhaseError})
}
