package handlers

import (
	"context"

	"github.com/progate-hackathon-strawberry-flavor/guild-points-backend/internal/models"
)

// PointLedger はハンドラが利用するポイント台帳の操作です。
type PointLedger interface {
	GetBalance(ctx context.Context, guildID, userID string) (int, error)
	GetConsecutiveDays(ctx context.Context, guildID, userID string) (int, error)
	RecordActivity(ctx context.Context, guildID, userID, username string, today models.Date) models.ActivityResult
	AdjustPoints(ctx context.Context, guildID, userID string, delta int, reason string) models.AdjustResult
	GrantEventBonus(ctx context.Context, guildID, userID, username, eventName string, points int) models.AdjustResult
	GetRanking(ctx context.Context, guildID string, limit int) ([]models.RankingEntry, error)
	ClearCaches()
	Divergent() []models.RecordKey
	Today() models.Date
}
