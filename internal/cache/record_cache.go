package cache

import (
	"time"

	"github.com/progate-hackathon-strawberry-flavor/guild-points-backend/internal/models"
)

// DefaultRecordTTL はユーザーレコードキャッシュの既定の有効期限です。
const DefaultRecordTTL = 15 * time.Minute

// RecordCache は (guildId, userId) ごとの UserRecord を短時間保持するキャッシュです。
type RecordCache interface {
	Get(key models.RecordKey) (*models.UserRecord, bool)
	Set(key models.RecordKey, record *models.UserRecord)
	Invalidate(key models.RecordKey)
	InvalidateAll()
}

var _ RecordCache = (*MemoryRecordCache)(nil)

// MemoryRecordCache はプロセス内メモリで動く RecordCache の実装です。
// 呼び出し側がレコードを書き換えてもキャッシュに影響しないよう、出し入れの際にコピーします。
type MemoryRecordCache struct {
	store *ttlStore[models.RecordKey, *models.UserRecord]
}

// NewRecordCache は ttl を有効期限とする MemoryRecordCache を作成します。
func NewRecordCache(ttl time.Duration) *MemoryRecordCache {
	if ttl <= 0 {
		ttl = DefaultRecordTTL
	}
	return &MemoryRecordCache{store: newTTLStore[models.RecordKey, *models.UserRecord](ttl)}
}

func (c *MemoryRecordCache) Get(key models.RecordKey) (*models.UserRecord, bool) {
	r, ok := c.store.get(key)
	if !ok {
		return nil, false
	}
	return r.Clone(), true
}

func (c *MemoryRecordCache) Set(key models.RecordKey, record *models.UserRecord) {
	if record == nil {
		return
	}
	c.store.set(key, record.Clone())
}

func (c *MemoryRecordCache) Invalidate(key models.RecordKey) {
	c.store.delete(key)
}

func (c *MemoryRecordCache) InvalidateAll() {
	c.store.clear()
}

// Len は保持しているエントリ数を返します (期限切れで未削除のものを含む)。
func (c *MemoryRecordCache) Len() int {
	return c.store.len()
}
