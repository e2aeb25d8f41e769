package cache

import (
	"testing"
	"time"

	"github.com/progate-hackathon-strawberry-flavor/guild-points-backend/internal/models"
	"github.com/stretchr/testify/assert"
)

// fakeClock はテストから進められる時計です。
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func TestRecordCache_GetSet(t *testing.T) {
	c := NewRecordCache(15 * time.Minute)
	key := models.RecordKey{GuildID: "g1", UserID: "u1"}

	_, ok := c.Get(key)
	assert.False(t, ok)

	c.Set(key, &models.UserRecord{GuildID: "g1", UserID: "u1", Points: 10})
	got, ok := c.Get(key)
	assert.True(t, ok)
	assert.Equal(t, 10, got.Points)

	// 取り出したレコードを書き換えてもキャッシュには影響しない
	got.Points = 999
	again, _ := c.Get(key)
	assert.Equal(t, 10, again.Points)
}

func TestRecordCache_Expiry(t *testing.T) {
	clock := newFakeClock()
	c := NewRecordCache(15 * time.Minute)
	c.store.now = clock.Now
	key := models.RecordKey{GuildID: "g1", UserID: "u1"}

	c.Set(key, &models.UserRecord{GuildID: "g1", UserID: "u1", Points: 3})

	clock.Advance(15 * time.Minute)
	_, ok := c.Get(key)
	assert.True(t, ok, "有効期限ちょうどはまだ有効")

	clock.Advance(time.Second)
	_, ok = c.Get(key)
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len(), "期限切れのエントリは読み出し時に削除される")
}

func TestRecordCache_Invalidate(t *testing.T) {
	c := NewRecordCache(0)
	k1 := models.RecordKey{GuildID: "g1", UserID: "u1"}
	k2 := models.RecordKey{GuildID: "g1", UserID: "u2"}
	c.Set(k1, &models.UserRecord{GuildID: "g1", UserID: "u1"})
	c.Set(k2, &models.UserRecord{GuildID: "g1", UserID: "u2"})

	c.Invalidate(k1)
	_, ok := c.Get(k1)
	assert.False(t, ok)
	_, ok = c.Get(k2)
	assert.True(t, ok)

	c.InvalidateAll()
	_, ok = c.Get(k2)
	assert.False(t, ok)
}
