package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log"
	"net"

	"github.com/lib/pq"
	"github.com/progate-hackathon-strawberry-flavor/guild-points-backend/internal/models"
)

var _ RecordStore = (*PostgresStore)(nil)

// PostgresStore はスプレッドシートの代わりにPostgreSQLを正本として使う RecordStore の実装です。
// STORE_BACKEND=postgres のときに使用されます。
type PostgresStore struct {
	DB *sql.DB
}

// NewPostgresStore はデータベースに接続し、必要なテーブルを作成します。
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	log.Printf("PostgresStore Info: データベース接続を試行中: URLの最初の20文字: %s...", databaseURL[:min(len(databaseURL), 20)])
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("データベースへの接続オブジェクト作成に失敗しました: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("データベースのPingに失敗しました。接続情報やネットワークを確認してください: %w", err)
	}

	s := &PostgresStore{DB: db}
	if err := s.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	log.Println("PostgresStore Info: データベースに正常に接続しました。")
	return s, nil
}

// EnsureSchema は user_points・points_history・event_participations テーブルを作成します。
// seq 列は GetAllRecords の観測順を保つために使います。
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS user_points (
			seq              BIGSERIAL,
			guild_id         TEXT NOT NULL,
			user_id          TEXT NOT NULL,
			username         TEXT NOT NULL DEFAULT '',
			points           INTEGER NOT NULL DEFAULT 0,
			last_active_date DATE,
			consecutive_days INTEGER NOT NULL DEFAULT 0,
			join_date        DATE,
			updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (guild_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS points_history (
			id            UUID PRIMARY KEY,
			guild_id      TEXT NOT NULL,
			user_id       TEXT NOT NULL,
			points_change INTEGER NOT NULL,
			new_total     INTEGER NOT NULL,
			reason        TEXT NOT NULL DEFAULT '',
			created_at    TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_points_history_user ON points_history (guild_id, user_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS event_participations (
			id           UUID PRIMARY KEY,
			guild_id     TEXT NOT NULL,
			user_id      TEXT NOT NULL,
			username     TEXT NOT NULL DEFAULT '',
			event_name   TEXT NOT NULL,
			bonus_points INTEGER NOT NULL,
			created_at   TIMESTAMPTZ NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("テーブルの作成に失敗しました: %w", err)
		}
	}
	return nil
}

// Close はデータベース接続を閉じます。
func (s *PostgresStore) Close() error {
	return s.DB.Close()
}

// GetUserRecord は指定されたキーのレコードを取得します。
func (s *PostgresStore) GetUserRecord(ctx context.Context, guildID, userID string) (*models.UserRecord, error) {
	const op = "getUserData"
	row := s.DB.QueryRowContext(ctx,
		`SELECT guild_id, user_id, username, points, last_active_date, consecutive_days, join_date
		 FROM user_points WHERE guild_id = $1 AND user_id = $2`, guildID, userID)

	record, err := scanUserRecord(row)
	if err != nil {
		return nil, classifyPostgresError(op, err)
	}
	return record, nil
}

// SaveUserRecord はレコードをUPSERTします。既存行の seq は変わりません。
func (s *PostgresStore) SaveUserRecord(ctx context.Context, record *models.UserRecord) error {
	const op = "saveUserData"
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO user_points (guild_id, user_id, username, points, last_active_date, consecutive_days, join_date, updated_at)
		 VALUES ($1, $2, $3, $4, NULLIF($5, '')::date, $6, NULLIF($7, '')::date, NOW())
		 ON CONFLICT (guild_id, user_id) DO UPDATE SET
			username = EXCLUDED.username,
			points = EXCLUDED.points,
			last_active_date = EXCLUDED.last_active_date,
			consecutive_days = EXCLUDED.consecutive_days,
			join_date = COALESCE(user_points.join_date, EXCLUDED.join_date),
			updated_at = NOW()`,
		record.GuildID, record.UserID, record.Username, record.Points,
		record.LastActiveDate.String(), record.ConsecutiveDays, record.JoinDate.String(),
	)
	if err != nil {
		return classifyPostgresError(op, err)
	}
	return nil
}

// AppendHistory はポイント履歴を1行挿入します。
func (s *PostgresStore) AppendHistory(ctx context.Context, entry *models.PointHistoryEntry) error {
	const op = "logPointsHistory"
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO points_history (id, guild_id, user_id, points_change, new_total, reason, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID, entry.GuildID, entry.UserID, entry.Delta, entry.NewTotal, entry.Reason, entry.Timestamp,
	)
	if err != nil {
		return classifyPostgresError(op, err)
	}
	return nil
}

// AppendEventParticipation はイベント参加の記録を1行挿入します。
func (s *PostgresStore) AppendEventParticipation(ctx context.Context, event *models.EventParticipation) error {
	const op = "logEventParticipation"
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO event_participations (id, guild_id, user_id, username, event_name, bonus_points, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		event.ID, event.GuildID, event.UserID, event.Username, event.EventName, event.Points, event.Timestamp,
	)
	if err != nil {
		return classifyPostgresError(op, err)
	}
	return nil
}

// GetAllRecords はギルドの全レコードを作成順に取得します。
func (s *PostgresStore) GetAllRecords(ctx context.Context, guildID string) ([]*models.UserRecord, error) {
	const op = "getAllUsers"
	rows, err := s.DB.QueryContext(ctx,
		`SELECT guild_id, user_id, username, points, last_active_date, consecutive_days, join_date
		 FROM user_points WHERE guild_id = $1 ORDER BY seq ASC`, guildID)
	if err != nil {
		return nil, classifyPostgresError(op, err)
	}
	defer rows.Close()

	records := []*models.UserRecord{}
	for rows.Next() {
		record, err := scanUserRecord(rows)
		if err != nil {
			return nil, classifyPostgresError(op, err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPostgresError(op, err)
	}
	return records, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUserRecord(row rowScanner) (*models.UserRecord, error) {
	var record models.UserRecord
	var lastActive, joinDate sql.NullTime
	if err := row.Scan(
		&record.GuildID,
		&record.UserID,
		&record.Username,
		&record.Points,
		&lastActive,
		&record.ConsecutiveDays,
		&joinDate,
	); err != nil {
		return nil, err
	}
	record.LastActiveDate = nullDate(lastActive)
	record.JoinDate = nullDate(joinDate)
	return &record, nil
}

func nullDate(t sql.NullTime) models.Date {
	if !t.Valid {
		return ""
	}
	return models.DateOf(t.Time.UTC())
}

// classifyPostgresError はドライバのエラーをストアの失敗分類に変換します。
// 接続系 (SQLSTATE クラス08、管理者による停止、リソース不足) は ErrUnreachable、それ以外は ErrRemote です。
func classifyPostgresError(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return newStoreError(op, ErrNotFound, nil)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code.Class() == "08",
			pqErr.Code.Class() == "53",
			pqErr.Code == "57P01",
			pqErr.Code == "57P03":
			return newStoreError(op, ErrUnreachable, err)
		default:
			return newStoreError(op, ErrRemote, err)
		}
	}

	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		errors.As(err, &netErr) {
		return newStoreError(op, ErrUnreachable, err)
	}

	return newStoreError(op, ErrRemote, err)
}
