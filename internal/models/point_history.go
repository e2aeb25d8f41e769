package models

import "time"

// PointHistoryEntry はポイント変動1件分の履歴です。作成後に変更・削除されることはありません。
type PointHistoryEntry struct {
	ID        string    `json:"id"` // UUID
	GuildID   string    `json:"guildId"`
	UserID    string    `json:"userId"`
	Delta     int       `json:"pointsChange"`
	NewTotal  int       `json:"newTotal"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// EventParticipation はイベント参加1件分の記録です。ポイント履歴とは別のシートに残します。
type EventParticipation struct {
	ID        string    `json:"id"` // UUID
	GuildID   string    `json:"guildId"`
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	EventName string    `json:"eventName"`
	Points    int       `json:"bonusPoints"`
	Timestamp time.Time `json:"timestamp"`
}
