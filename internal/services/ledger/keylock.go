package ledger

import (
	"sync"

	"github.com/progate-hackathon-strawberry-flavor/guild-points-backend/internal/models"
)

// keyLocks はレコードキーごとの排他ロックです。
// 同じキーに対する読み込み・計算・書き込みの一連の処理が同時に1つしか走らないようにします。
type keyLocks struct {
	mu    sync.Mutex
	locks map[models.RecordKey]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[models.RecordKey]*keyLock)}
}

// Lock はキーのロックを取得し、解放用の関数を返します。
// 待機者がいなくなったロックはマップから削除されます。
func (k *keyLocks) Lock(key models.RecordKey) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()

		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// size は保持しているロックの数です。
func (k *keyLocks) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
