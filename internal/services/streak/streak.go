package streak

import (
	"github.com/progate-hackathon-strawberry-flavor/guild-points-backend/internal/models"
)

// 活動1回あたりの基本ポイント
const BasePoints = 1

// 連続日数ボーナスの段階。大きいものから順に判定します。
var bonusTiers = []struct {
	every  int
	points int
}{
	{every: 30, points: 50},
	{every: 7, points: 15},
	{every: 3, points: 5},
}

// Outcome は ApplyActivity の結果です。
type Outcome struct {
	Record      *models.UserRecord // 更新後のレコード (Changed=false の場合は元のコピー)
	Changed     bool
	IsFresh     bool // 初回の付与 (新規作成、または活動履歴のないレコード)
	IsBonus     bool
	BonusPoints int
	IsDecrease  bool // 連続記録が途切れた
}

// PointsAdded はこの活動で加算されたポイントの合計です。
func (o Outcome) PointsAdded() int {
	if !o.Changed {
		return 0
	}
	return BasePoints + o.BonusPoints
}

// DayDifference は prev から curr までの暦日の差を返します。
// どちらかが未設定または不正な日付の場合は、連続が成立しないものとして2を返します。
func DayDifference(prev, curr models.Date) int {
	p, err := prev.Time()
	if err != nil {
		return 2
	}
	c, err := curr.Time()
	if err != nil {
		return 2
	}
	// 両方ともUTCの0時なので24時間単位で割り切れる
	return int(c.Sub(p).Hours() / 24)
}

// BonusFor は連続日数に応じたボーナスポイントを返します。該当する段階のうち最も大きいもの1つだけが付きます。
func BonusFor(consecutiveDays int) int {
	if consecutiveDays <= 0 {
		return 0
	}
	for _, tier := range bonusTiers {
		if consecutiveDays%tier.every == 0 {
			return tier.points
		}
	}
	return 0
}

// NewRecord は活動によって初めて作成されるレコードを返します。
func NewRecord(guildID, userID, username string, today models.Date) *models.UserRecord {
	return &models.UserRecord{
		GuildID:         guildID,
		UserID:          userID,
		Username:        username,
		Points:          BasePoints,
		LastActiveDate:  today,
		ConsecutiveDays: 1,
		JoinDate:        today,
	}
}

// ApplyActivity は既存レコードに today の活動を適用した結果を返します。引数のレコードは変更しません。
func ApplyActivity(record *models.UserRecord, today models.Date) Outcome {
	next := record.Clone()

	// 管理者操作だけで作られたレコードは活動履歴がないため、初回として扱う
	if record.ConsecutiveDays == 0 || record.LastActiveDate.IsZero() {
		next.Points += BasePoints
		next.ConsecutiveDays = 1
		next.LastActiveDate = today
		if next.JoinDate.IsZero() {
			next.JoinDate = today
		}
		return Outcome{Record: next, Changed: true, IsFresh: true}
	}

	diff := DayDifference(record.LastActiveDate, today)
	switch {
	case diff <= 0:
		// 同じ日の2回目以降 (時計の巻き戻りも含む) は加算しない
		return Outcome{Record: next}

	case diff == 1:
		next.ConsecutiveDays++
		next.LastActiveDate = today
		next.Points += BasePoints
		bonus := BonusFor(next.ConsecutiveDays)
		next.Points += bonus
		return Outcome{
			Record:      next,
			Changed:     true,
			IsBonus:     bonus > 0,
			BonusPoints: bonus,
		}

	default:
		next.ConsecutiveDays = 1
		next.LastActiveDate = today
		next.Points += BasePoints
		return Outcome{Record: next, Changed: true, IsDecrease: true}
	}
}
