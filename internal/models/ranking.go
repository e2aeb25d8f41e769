package models

// RankingEntry はギルド内ランキングの1行です。永続化はされません。
type RankingEntry struct {
	Rank     int    `json:"rank"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Points   int    `json:"points"`
}
