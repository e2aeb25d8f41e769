package database

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/progate-hackathon-strawberry-flavor/guild-points-backend/internal/models"
)

var _ LocalStore = (*LocalCache)(nil)

// LocalCache はリモートストアに到達できない場合のためのファイルベースの永続キャッシュです。
// ファイルは UserRecord のJSON配列で、このプロセスのみが読み書きします。
// 書き込みは一時ファイルへ書いてから rename するため、クラッシュしても途中までのファイルは残りません。
type LocalCache struct {
	path string

	mu      sync.Mutex
	loaded  bool
	corrupt bool // 最後の読み込みがパースエラーだった
	records []*models.UserRecord
	index   map[models.RecordKey]int
}

// NewLocalCache は path をバックエンドとする LocalCache を作成します。ファイルは最初のアクセス時に読み込まれます。
func NewLocalCache(path string) *LocalCache {
	return &LocalCache{path: path}
}

// Path はバックエンドファイルのパスを返します。
func (c *LocalCache) Path() string {
	return c.path
}

// Get は指定キーのレコードのコピーを返します。
func (c *LocalCache) Get(guildID, userID string) (*models.UserRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.loadLocked(); err != nil {
		return nil, err
	}

	i, ok := c.index[models.RecordKey{GuildID: guildID, UserID: userID}]
	if !ok {
		return nil, newStoreError("localGet", ErrNotFound, nil)
	}
	return c.records[i].Clone(), nil
}

// Put はキーが一致するレコードを置き換え、なければ末尾に追加してファイル全体を書き直します。
func (c *LocalCache) Put(record *models.UserRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.loadLocked(); err != nil {
		if !c.corrupt {
			return err
		}
		// パースできないファイルは退避して空から作り直す
		c.quarantineLocked()
	}

	key := record.Key()
	next := make([]*models.UserRecord, len(c.records), len(c.records)+1)
	copy(next, c.records)
	if i, ok := c.index[key]; ok {
		next[i] = record.Clone()
	} else {
		next = append(next, record.Clone())
	}

	if err := c.writeLocked(next); err != nil {
		return err
	}

	if _, ok := c.index[key]; !ok {
		c.index[key] = len(next) - 1
	}
	c.records = next
	return nil
}

// List はギルドに属するレコードを挿入順で返します。
func (c *LocalCache) List(guildID string) ([]*models.UserRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.loadLocked(); err != nil {
		return nil, err
	}

	result := []*models.UserRecord{}
	for _, r := range c.records {
		if r.GuildID == guildID {
			result = append(result, r.Clone())
		}
	}
	return result, nil
}

func (c *LocalCache) loadLocked() error {
	if c.loaded {
		return nil
	}

	data, err := os.ReadFile(c.path)
	if errors.Is(err, fs.ErrNotExist) {
		c.records = []*models.UserRecord{}
		c.index = map[models.RecordKey]int{}
		c.loaded = true
		return nil
	}
	if err != nil {
		log.Printf("LocalCache Error: ファイル %s の読み込みに失敗しました: %v", c.path, err)
		return newStoreError("localLoad", ErrLocalIO, err)
	}

	var records []*models.UserRecord
	if len(data) > 0 {
		if err := json.Unmarshal(data, &records); err != nil {
			c.corrupt = true
			log.Printf("LocalCache Error: ファイル %s のパースに失敗しました: %v", c.path, err)
			return newStoreError("localLoad", ErrLocalIO, fmt.Errorf("ローカルキャッシュのパースに失敗しました: %w", err))
		}
	}

	c.records = make([]*models.UserRecord, 0, len(records))
	c.index = make(map[models.RecordKey]int, len(records))
	for _, r := range records {
		if r == nil {
			continue
		}
		key := r.Key()
		if i, dup := c.index[key]; dup {
			c.records[i] = r
			continue
		}
		c.index[key] = len(c.records)
		c.records = append(c.records, r)
	}
	c.loaded = true
	log.Printf("LocalCache Info: %d 件のレコードをロードしました (%s)", len(c.records), c.path)
	return nil
}

// quarantineLocked は壊れたファイルを別名に退避し、空の状態から再開します。
func (c *LocalCache) quarantineLocked() {
	dest := fmt.Sprintf("%s.corrupt-%d", c.path, time.Now().Unix())
	if err := os.Rename(c.path, dest); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("LocalCache Error: 壊れたファイルの退避に失敗しました: %v", err)
	} else {
		log.Printf("LocalCache Info: 読み込めないファイルを %s に退避しました", dest)
	}
	c.records = []*models.UserRecord{}
	c.index = map[models.RecordKey]int{}
	c.loaded = true
	c.corrupt = false
}

func (c *LocalCache) writeLocked(records []*models.UserRecord) error {
	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return newStoreError("localPut", ErrLocalIO, fmt.Errorf("ディレクトリの作成に失敗しました: %w", err))
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return newStoreError("localPut", ErrLocalIO, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(c.path)+".tmp-*")
	if err != nil {
		return newStoreError("localPut", ErrLocalIO, fmt.Errorf("一時ファイルの作成に失敗しました: %w", err))
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return newStoreError("localPut", ErrLocalIO, fmt.Errorf("一時ファイルへの書き込みに失敗しました: %w", err))
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return newStoreError("localPut", ErrLocalIO, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return newStoreError("localPut", ErrLocalIO, err)
	}
	if err := os.Rename(tmpName, c.path); err != nil {
		os.Remove(tmpName)
		return newStoreError("localPut", ErrLocalIO, fmt.Errorf("ファイルの置き換えに失敗しました: %w", err))
	}
	return nil
}
