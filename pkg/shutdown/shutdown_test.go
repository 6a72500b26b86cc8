package shutdown

import (
	"context"
	"testing"
)

func TestManager_ReverseOrderAndOnce(t *testing.T) {
	m := NewManager()
	var order []string
	m.OnShutdown("store", func(context.Context) { order = append(order, "store") })
	m.OnShutdown("positions", func(context.Context) { order = append(order, "positions") })

	m.Shutdown(context.Background())
	m.Shutdown(context.Background())

	if len(order) != 2 || order[0] != "positions" || order[1] != "store" {
		t.Fatalf("unexpected order: %v", order)
	}
}
