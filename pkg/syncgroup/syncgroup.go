package syncgroup

import (
	"context"
	"sync"
	"time"
)

// SyncGroup 后台 goroutine 的生命周期管理：Go 启动，Wait 等全部退出。
// 关闭时先取消 ctx，再 Wait，保证没有 goroutine 在存储关闭后还在跑。
type SyncGroup struct {
	wg sync.WaitGroup

	mu      sync.Mutex
	running map[string]int
}

// NewSyncGroup 创建 SyncGroup
func NewSyncGroup() *SyncGroup {
	return &SyncGroup{running: make(map[string]int)}
}

// Go 以 name 启动一个 goroutine；name 只用于 Running 诊断
func (g *SyncGroup) Go(name string, fn func()) {
	if fn == nil {
		return
	}
	g.mu.Lock()
	g.running[name]++
	g.mu.Unlock()

	g.wg.Add(1)
	go func() {
		defer func() {
			g.mu.Lock()
			if g.running[name]--; g.running[name] <= 0 {
				delete(g.running, name)
			}
			g.mu.Unlock()
			g.wg.Done()
		}()
		fn()
	}()
}

// Running 仍在运行的 goroutine 名称及数量
func (g *SyncGroup) Running() map[string]int {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]int, len(g.running))
	for k, v := range g.running {
		out[k] = v
	}
	return out
}

// Wait 等待所有 goroutine 退出
func (g *SyncGroup) Wait() {
	g.wg.Wait()
}

// WaitContext 等待所有 goroutine 退出或 ctx 结束；超时返回 ctx.Err()
func (g *SyncGroup) WaitContext(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitTimeout WaitContext 的超时版本
func (g *SyncGroup) WaitTimeout(d time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return g.WaitContext(ctx)
}
