package models

// ActivityResult は RecordActivity の結果です。
// 同日2回目以降の活動では PointsChanged=false となり、その他のフィールドは現在の状態を示します。
type ActivityResult struct {
	Success         bool   `json:"success"`
	PointsChanged   bool   `json:"pointsChanged"`
	Points          int    `json:"points"`
	ConsecutiveDays int    `json:"consecutiveDays"`
	IsBonus         bool   `json:"isBonus"`
	BonusPoints     int    `json:"bonusPoints,omitempty"`
	IsDecrease      bool   `json:"isDecrease"`
	Error           string `json:"error,omitempty"`
}

// AdjustResult は管理者によるポイント調整の結果です。
type AdjustResult struct {
	Success       bool   `json:"success"`
	PreviousTotal int    `json:"previousTotal"`
	NewTotal      int    `json:"newTotal"`
	Error         string `json:"error,omitempty"`
}
