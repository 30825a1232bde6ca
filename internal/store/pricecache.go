package store

import (
	"errors"
	"sort"
	"sync"
	"time"

	"tradeloop/internal/learning/outcome"
)

// PriceCache 按 symbol@interval 缓存已收盘的 K 线，分片加锁减少多币种并发验证时的争用。
type PriceCache struct {
	shards []priceShard
	max    int
}

type priceShard struct {
	mu   sync.RWMutex
	data map[string]outcome.PricePath
}

const (
	defaultShardCount = 32
	defaultCacheDepth = 1500
)

// NewPriceCache 创建缓存；max 为每个 key 保留的最大 K 线数量。
func NewPriceCache(max int) *PriceCache {
	if max <= 0 {
		max = defaultCacheDepth
	}
	c := &PriceCache{shards: make([]priceShard, defaultShardCount), max: max}
	for i := range c.shards {
		c.shards[i] = priceShard{data: make(map[string]outcome.PricePath)}
	}
	return c
}

func (c *PriceCache) shardFor(key string) *priceShard {
	return &c.shards[hashKey(key)%uint32(len(c.shards))]
}

func cacheKey(symbol, interval string) string { return symbol + "@" + interval }

// Put 合并新 K 线：同一开盘时间覆盖，保持升序，超出上限时丢弃最旧的。
func (c *PriceCache) Put(symbol, interval string, pts outcome.PricePath) error {
	if symbol == "" || interval == "" {
		return errors.New("symbol/interval 不能为空")
	}
	if len(pts) == 0 {
		return nil
	}
	k := cacheKey(symbol, interval)
	sh := c.shardFor(k)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	byTime := make(map[int64]outcome.PricePoint, len(sh.data[k])+len(pts))
	for _, p := range sh.data[k] {
		byTime[p.Time.UnixMilli()] = p
	}
	for _, p := range pts {
		byTime[p.Time.UnixMilli()] = p
	}
	merged := make(outcome.PricePath, 0, len(byTime))
	for _, p := range byTime {
		merged = append(merged, p)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Time.Before(merged[j].Time) })
	if len(merged) > c.max {
		merged = merged[len(merged)-c.max:]
	}
	sh.data[k] = merged
	return nil
}

// Get 返回缓存副本。
func (c *PriceCache) Get(symbol, interval string) outcome.PricePath {
	k := cacheKey(symbol, interval)
	sh := c.shardFor(k)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	cur := sh.data[k]
	out := make(outcome.PricePath, len(cur))
	copy(out, cur)
	return out
}

// Range 返回开盘时间落在 [from, to) 内的 K 线。
func (c *PriceCache) Range(symbol, interval string, from, to time.Time) outcome.PricePath {
	k := cacheKey(symbol, interval)
	sh := c.shardFor(k)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	cur := sh.data[k]
	lo := sort.Search(len(cur), func(i int) bool { return !cur[i].Time.Before(from) })
	hi := sort.Search(len(cur), func(i int) bool { return !cur[i].Time.Before(to) })
	if lo >= hi {
		return nil
	}
	out := make(outcome.PricePath, hi-lo)
	copy(out, cur[lo:hi])
	return out
}

// hashKey 是 FNV-1a。
func hashKey(s string) uint32 {
	const (
		offset32 = 2166136261
		prime32  = 16777619
	)
	var h uint32 = offset32
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime32
	}
	return h
}
