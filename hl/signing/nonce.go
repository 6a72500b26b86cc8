package signing

import (
	"sync"
	"time"
)

// NonceGenerator 基于毫秒时间戳的严格递增 nonce。
// 时钟停滞或回拨时返回 last+1，保证同一个生成器内不会重复。
type NonceGenerator struct {
	mu   sync.Mutex
	last uint64
	now  func() time.Time
}

// NewNonceGenerator 创建 nonce 生成器
func NewNonceGenerator() *NonceGenerator {
	return &NonceGenerator{now: time.Now}
}

// Next 返回下一个 nonce
func (g *NonceGenerator) Next() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	n := uint64(g.now().UnixMilli())
	if n <= g.last {
		n = g.last + 1
	}
	g.last = n
	return n
}
