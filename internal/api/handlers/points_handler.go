package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/progate-hackathon-strawberry-flavor/guild-points-backend/internal/models"
)

// ランキングで一度に取得できる件数
const (
	defaultRankingLimit = 10
	maxRankingLimit     = 25
)

const unavailableMessage = "ポイントデータを一時的に取得できません。しばらくしてから再度お試しください"

// PointsHandler はポイントの参照と活動記録のリクエストを処理します。
type PointsHandler struct {
	Ledger PointLedger
}

// NewPointsHandler は PointsHandler の新しいインスタンスを作成します。
func NewPointsHandler(l PointLedger) *PointsHandler {
	return &PointsHandler{Ledger: l}
}

type balanceResponse struct {
	GuildID         string `json:"guildId"`
	UserID          string `json:"userId"`
	Points          int    `json:"points"`
	ConsecutiveDays int    `json:"consecutiveDays"`
}

// GetBalance はユーザーのポイントと連続日数を返します。
// GET /api/guilds/{guildID}/users/{userID}/balance
func (h *PointsHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	guildID, userID := vars["guildID"], vars["userID"]

	points, err := h.Ledger.GetBalance(r.Context(), guildID, userID)
	if err != nil {
		log.Printf("ユーザー %s (guild %s) のポイント取得に失敗しました: %v", userID, guildID, err)
		WriteErrorResponse(w, http.StatusServiceUnavailable, unavailableMessage)
		return
	}
	days, err := h.Ledger.GetConsecutiveDays(r.Context(), guildID, userID)
	if err != nil {
		log.Printf("ユーザー %s (guild %s) の連続日数取得に失敗しました: %v", userID, guildID, err)
		WriteErrorResponse(w, http.StatusServiceUnavailable, unavailableMessage)
		return
	}

	WriteJSONResponse(w, http.StatusOK, balanceResponse{
		GuildID:         guildID,
		UserID:          userID,
		Points:          points,
		ConsecutiveDays: days,
	})
}

type activityRequest struct {
	Username string `json:"username"`
	Date     string `json:"date,omitempty"`
}

// RecordActivity はユーザーの活動を記録します。date を省略した場合はサーバーの今日の日付です。
// POST /api/guilds/{guildID}/users/{userID}/activity
func (h *PointsHandler) RecordActivity(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	guildID, userID := vars["guildID"], vars["userID"]

	var req activityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteErrorResponse(w, http.StatusBadRequest, "リクエストボディのパースに失敗しました")
		return
	}

	today := h.Ledger.Today()
	if req.Date != "" {
		parsed, err := models.ParseDate(req.Date)
		if err != nil {
			WriteErrorResponse(w, http.StatusBadRequest, "date は YYYY-MM-DD 形式で指定してください")
			return
		}
		today = parsed
	}

	result := h.Ledger.RecordActivity(r.Context(), guildID, userID, req.Username, today)
	if !result.Success {
		WriteJSONResponse(w, http.StatusServiceUnavailable, result)
		return
	}
	WriteJSONResponse(w, http.StatusOK, result)
}

// GetRanking はギルドのポイントランキングを返します。limit は1から25で、省略時は10です。
// GET /api/guilds/{guildID}/ranking?limit=N
func (h *PointsHandler) GetRanking(w http.ResponseWriter, r *http.Request) {
	guildID := mux.Vars(r)["guildID"]

	limit := defaultRankingLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxRankingLimit {
			WriteErrorResponse(w, http.StatusBadRequest, "limit は1から25の整数で指定してください")
			return
		}
		limit = n
	}

	ranking, err := h.Ledger.GetRanking(r.Context(), guildID, limit)
	if err != nil {
		log.Printf("ギルド %s のランキング取得に失敗しました: %v", guildID, err)
		WriteErrorResponse(w, http.StatusServiceUnavailable, unavailableMessage)
		return
	}
	WriteJSONResponse(w, http.StatusOK, ranking)
}
