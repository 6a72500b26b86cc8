package execution

import (
	"hash/fnv"
	"sync"
	"sync/atomic"

	"github.com/betbot/perpplay/internal/domain"
)

// TradeGate 全局单飞门：同一时刻最多一笔开/平仓在途。
// 第二个请求直接失败（不排队），避免并发下单放大敞口。
type TradeGate struct {
	busy atomic.Bool
	op   atomic.Value // string，当前在途操作，仅用于日志
}

// TryEnter 尝试进入；失败返回 domain.ErrTradeInFlight
func (g *TradeGate) TryEnter(op string) error {
	if !g.busy.CompareAndSwap(false, true) {
		return domain.ErrTradeInFlight
	}
	g.op.Store(op)
	return nil
}

// Leave 释放
func (g *TradeGate) Leave() {
	g.op.Store("")
	g.busy.Store(false)
}

// Busy 是否有交易在途
func (g *TradeGate) Busy() bool {
	return g.busy.Load()
}

// Current 当前在途操作名
func (g *TradeGate) Current() string {
	if v, ok := g.op.Load().(string); ok {
		return v
	}
	return ""
}

// KeyedInFlight 按 key 的确定性互斥（例如每个仓位 ID 同时只允许一个平仓）。
// 不使用位图哈希，避免冲突导致误判；分片 map 控制锁竞争。
type KeyedInFlight struct {
	shards []inFlightShard
}

type inFlightShard struct {
	mu sync.Mutex
	m  map[string]struct{}
}

// NewKeyedInFlight 创建按 key 互斥器
func NewKeyedInFlight(shardCount int) *KeyedInFlight {
	if shardCount <= 0 {
		shardCount = 16
	}
	shards := make([]inFlightShard, shardCount)
	for i := range shards {
		shards[i].m = make(map[string]struct{})
	}
	return &KeyedInFlight{shards: shards}
}

// TryAcquire 获取 key；已被占用返回 domain.ErrTradeInFlight
func (k *KeyedInFlight) TryAcquire(key string) error {
	sh := k.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, ok := sh.m[key]; ok {
		return domain.ErrTradeInFlight
	}
	sh.m[key] = struct{}{}
	return nil
}

// Release 释放 key
func (k *KeyedInFlight) Release(key string) {
	sh := k.shard(key)
	sh.mu.Lock()
	delete(sh.m, key)
	sh.mu.Unlock()
}

// Held key 是否被占用
func (k *KeyedInFlight) Held(key string) bool {
	sh := k.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	_, ok := sh.m[key]
	return ok
}

func (k *KeyedInFlight) shard(key string) *inFlightShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &k.shards[h.Sum32()%uint32(len(k.shards))]
}
