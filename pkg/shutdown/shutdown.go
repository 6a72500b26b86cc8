package shutdown

import (
	"context"
	"sync"

	"github.com/betbot/perpplay/pkg/logger"
)

// Handler 关闭处理函数。按注册的逆序串行执行：后启动的组件先关闭。
type Handler func(ctx context.Context)

type namedHandler struct {
	name string
	fn   Handler
}

// Manager 优雅关闭管理器
type Manager struct {
	callbacks []namedHandler
	mu        sync.Mutex
	once      sync.Once
}

// NewManager 创建关闭管理器
func NewManager() *Manager {
	return &Manager{}
}

// OnShutdown 注册关闭回调
func (m *Manager) OnShutdown(name string, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, namedHandler{name: name, fn: handler})
}

// Shutdown 执行所有关闭回调（阻塞，只执行一次）
// ctx 应该带超时；超时后剩余回调不再执行。
func (m *Manager) Shutdown(ctx context.Context) {
	m.once.Do(func() {
		m.mu.Lock()
		callbacks := append([]namedHandler(nil), m.callbacks...)
		m.mu.Unlock()

		if len(callbacks) == 0 {
			logger.Info("没有注册的关闭回调")
			return
		}
		logger.Infof("开始优雅关闭，共 %d 个回调", len(callbacks))

		for i := len(callbacks) - 1; i >= 0; i-- {
			if ctx.Err() != nil {
				logger.Warnf("关闭超时，跳过剩余 %d 个回调: %v", i+1, ctx.Err())
				return
			}
			cb := callbacks[i]
			logger.Debugf("执行关闭回调: %s", cb.name)
			cb.fn(ctx)
		}
		logger.Info("所有关闭回调已完成")
	})
}
