package cache

import (
	"context"
	"sync"
	"time"
)

// Loader 缓存未命中时的加载函数
type Loader[V any] func(ctx context.Context) (V, error)

// TTLCache 带 TTL 的内存缓存。
// GetOrLoad 对同一个 key 的并发未命中只调用一次 loader，其余调用方等待同一结果。
type TTLCache[K comparable, V any] struct {
	mu      sync.Mutex
	items   map[K]entry[V]
	loading map[K]*call[V]
	ttl     time.Duration
	now     func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

type call[V any] struct {
	done  chan struct{}
	value V
	err   error
}

// New 创建缓存；cleanupInterval>0 时后台定期清理过期项，需要 Close 停止
func New[K comparable, V any](ttl, cleanupInterval time.Duration) *TTLCache[K, V] {
	c := &TTLCache[K, V]{
		items:   make(map[K]entry[V]),
		loading: make(map[K]*call[V]),
		ttl:     ttl,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	if cleanupInterval > 0 {
		go c.cleanupLoop(cleanupInterval)
	}
	return c
}

func (c *TTLCache[K, V]) getLocked(key K) (V, bool) {
	e, ok := c.items[key]
	if !ok || !c.now().Before(e.expiresAt) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Get 过期视为不存在
func (c *TTLCache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getLocked(key)
}

// Set 写入，使用默认 TTL
func (c *TTLCache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = entry[V]{value: value, expiresAt: c.now().Add(c.ttl)}
}

// Delete 删除；正在进行的加载结果不会再写回
func (c *TTLCache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
	delete(c.loading, key)
}

// GetOrLoad 命中直接返回，否则调用 load 并缓存成功结果。错误不缓存。
func (c *TTLCache[K, V]) GetOrLoad(ctx context.Context, key K, load Loader[V]) (V, error) {
	c.mu.Lock()
	if v, ok := c.getLocked(key); ok {
		c.mu.Unlock()
		return v, nil
	}
	if cl, ok := c.loading[key]; ok {
		c.mu.Unlock()
		select {
		case <-cl.done:
			return cl.value, cl.err
		case <-ctx.Done():
			var zero V
			return zero, ctx.Err()
		}
	}
	cl := &call[V]{done: make(chan struct{})}
	c.loading[key] = cl
	c.mu.Unlock()

	cl.value, cl.err = load(ctx)

	c.mu.Lock()
	// Delete 期间发生的加载视为作废
	if c.loading[key] == cl {
		delete(c.loading, key)
		if cl.err == nil {
			c.items[key] = entry[V]{value: cl.value, expiresAt: c.now().Add(c.ttl)}
		}
	}
	c.mu.Unlock()
	close(cl.done)
	return cl.value, cl.err
}

// Len 当前条目数（含尚未清理的过期项）
func (c *TTLCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Close 停止后台清理，可重复调用
func (c *TTLCache[K, V]) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *TTLCache[K, V]) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.purge()
		}
	}
}

func (c *TTLCache[K, V]) purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for key, e := range c.items {
		if !now.Before(e.expiresAt) {
			delete(c.items, key)
		}
	}
}
