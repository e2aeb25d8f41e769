package cache

import (
	"sync"
	"time"

	"github.com/progate-hackathon-strawberry-flavor/guild-points-backend/internal/models"
)

// DefaultRankingTTL はランキングキャッシュの既定の有効期限です。
const DefaultRankingTTL = 15 * time.Minute

// RankingCache はギルドごとのソート済みランキング全体を保持するキャッシュです。
// 任意の limit は保持しているランキングの先頭を切り出して返します。
//
// Generation / Set の組は、再計算中に無効化が入った場合に古いランキングを書き戻さないためのものです。
// 再計算前に Generation を取得し、Set に渡します。その間に Invalidate されていれば Set は何もしません。
type RankingCache interface {
	Get(guildID string, limit int) ([]models.RankingEntry, bool)
	Generation(guildID string) uint64
	Set(guildID string, ranking []models.RankingEntry, generation uint64) bool
	Invalidate(guildID string)
	InvalidateAll()
}

var _ RankingCache = (*MemoryRankingCache)(nil)

// MemoryRankingCache はプロセス内メモリで動く RankingCache の実装です。
type MemoryRankingCache struct {
	store *ttlStore[string, []models.RankingEntry]

	mu    sync.Mutex
	seq   uint64
	allAt uint64
	gens  map[string]uint64
}

// NewRankingCache は ttl を有効期限とする MemoryRankingCache を作成します。
func NewRankingCache(ttl time.Duration) *MemoryRankingCache {
	if ttl <= 0 {
		ttl = DefaultRankingTTL
	}
	return &MemoryRankingCache{
		store: newTTLStore[string, []models.RankingEntry](ttl),
		gens:  make(map[string]uint64),
	}
}

// Get は有効なランキングがあれば先頭 limit 件を返します。limit <= 0 の場合は全件です。
func (c *MemoryRankingCache) Get(guildID string, limit int) ([]models.RankingEntry, bool) {
	ranking, ok := c.store.get(guildID)
	if !ok {
		return nil, false
	}
	return truncateRanking(ranking, limit), true
}

func (c *MemoryRankingCache) Generation(guildID string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generationLocked(guildID)
}

// Set は generation が現在の世代と一致する場合のみ保存し、保存したかどうかを返します。
func (c *MemoryRankingCache) Set(guildID string, ranking []models.RankingEntry, generation uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.generationLocked(guildID) != generation {
		return false
	}
	stored := make([]models.RankingEntry, len(ranking))
	copy(stored, ranking)
	c.store.set(guildID, stored)
	return true
}

func (c *MemoryRankingCache) Invalidate(guildID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	c.gens[guildID] = c.seq
	c.store.delete(guildID)
}

func (c *MemoryRankingCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	c.allAt = c.seq
	c.store.clear()
}

func (c *MemoryRankingCache) generationLocked(guildID string) uint64 {
	gen := c.gens[guildID]
	if c.allAt > gen {
		return c.allAt
	}
	return gen
}

func truncateRanking(ranking []models.RankingEntry, limit int) []models.RankingEntry {
	n := len(ranking)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]models.RankingEntry, n)
	copy(out, ranking[:n])
	return out
}
