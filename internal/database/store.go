package database

import (
	"context"

	"github.com/progate-hackathon-strawberry-flavor/guild-points-backend/internal/models"
)

// RecordStore はポイントレコードの正本を持つリモートストアの操作を定義するインターフェースです。
// 各呼び出しは1往復の通信で、この層ではリトライもキャッシュも行いません。
type RecordStore interface {
	// GetUserRecord は1件のレコードを取得します。存在しない場合は ErrNotFound を返します。
	GetUserRecord(ctx context.Context, guildID, userID string) (*models.UserRecord, error)
	// SaveUserRecord はレコードを作成または上書きします。
	SaveUserRecord(ctx context.Context, record *models.UserRecord) error
	// AppendHistory はポイント履歴を1行追記します。
	AppendHistory(ctx context.Context, entry *models.PointHistoryEntry) error
	// AppendEventParticipation はイベント参加の記録を1行追記します。
	AppendEventParticipation(ctx context.Context, event *models.EventParticipation) error
	// GetAllRecords はギルドに属する全レコードを観測順で返します。
	GetAllRecords(ctx context.Context, guildID string) ([]*models.UserRecord, error)
}

// LocalStore はリモートに到達できない場合に使うローカルの永続キャッシュです。
type LocalStore interface {
	// Get は1件取得します。存在しない場合は ErrNotFound を返します。
	Get(guildID, userID string) (*models.UserRecord, error)
	// Put はキー (guildId, userId) が一致するレコードを置き換え、なければ追加します。
	Put(record *models.UserRecord) error
	// List はギルドに属するローカルのレコードを返します。
	List(guildID string) ([]*models.UserRecord, error)
}
