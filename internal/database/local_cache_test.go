package database

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/progate-hackathon-strawberry-flavor/guild-points-backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalCache_MissingFileIsEmpty(t *testing.T) {
	c := NewLocalCache(filepath.Join(t.TempDir(), "data", "users.json"))

	_, err := c.Get("g1", "u1")
	assert.ErrorIs(t, err, ErrNotFound)

	records, err := c.List("g1")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestLocalCache_PutReplacesAndPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "users.json")
	c := NewLocalCache(path)

	require.NoError(t, c.Put(&models.UserRecord{GuildID: "g1", UserID: "a", Points: 1}))
	require.NoError(t, c.Put(&models.UserRecord{GuildID: "g1", UserID: "b", Points: 2}))
	require.NoError(t, c.Put(&models.UserRecord{GuildID: "g2", UserID: "a", Points: 3}))
	require.NoError(t, c.Put(&models.UserRecord{GuildID: "g1", UserID: "a", Points: 10}))

	got, err := c.Get("g1", "a")
	require.NoError(t, err)
	assert.Equal(t, 10, got.Points)

	// 別インスタンスから読み直しても同じ内容で、挿入順が保たれる
	reopened := NewLocalCache(path)
	list, err := reopened.List("g1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].UserID)
	assert.Equal(t, 10, list[0].Points)
	assert.Equal(t, "b", list[1].UserID)

	other, err := reopened.Get("g2", "a")
	require.NoError(t, err)
	assert.Equal(t, 3, other.Points)
}

func TestLocalCache_NoTempFilesLeft(t *testing.T) {
	dir := t.TempDir()
	c := NewLocalCache(filepath.Join(dir, "users.json"))

	for i := 0; i < 5; i++ {
		require.NoError(t, c.Put(&models.UserRecord{GuildID: "g1", UserID: "u1", Points: i}))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "users.json", entries[0].Name())
}

func TestLocalCache_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "users.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	c := NewLocalCache(path)
	_, err := c.Get("g1", "u1")
	assert.ErrorIs(t, err, ErrLocalIO)

	// 書き込み時は壊れたファイルを退避して新しく作り直す
	require.NoError(t, c.Put(&models.UserRecord{GuildID: "g1", UserID: "u1", Points: 7}))
	got, err := c.Get("g1", "u1")
	require.NoError(t, err)
	assert.Equal(t, 7, got.Points)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var quarantined bool
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "users.json.corrupt-") {
			quarantined = true
		}
	}
	assert.True(t, quarantined)
}

func TestLocalCache_ReturnsCopies(t *testing.T) {
	c := NewLocalCache(filepath.Join(t.TempDir(), "users.json"))
	record := &models.UserRecord{GuildID: "g1", UserID: "u1", Points: 1}
	require.NoError(t, c.Put(record))

	record.Points = 100
	got, err := c.Get("g1", "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Points)
}

func TestLocalCache_UnreadablePathIsNotQuarantined(t *testing.T) {
	// パスがディレクトリの場合は読み書きとも失敗し、ディレクトリは退避されない
	dir := t.TempDir()
	c := NewLocalCache(dir)

	_, err := c.Get("g1", "u1")
	assert.ErrorIs(t, err, ErrLocalIO)

	err = c.Put(&models.UserRecord{GuildID: "g1", UserID: "u1"})
	assert.ErrorIs(t, err, ErrLocalIO)

	info, statErr := os.Stat(dir)
	require.NoError(t, statErr)
	assert.True(t, info.IsDir())
}
