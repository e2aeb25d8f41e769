package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/progate-hackathon-strawberry-flavor/guild-points-backend/internal/api/middleware"
)

// AdminHandler は管理者によるポイント操作のリクエストを処理します。
type AdminHandler struct {
	Ledger PointLedger
}

// NewAdminHandler は AdminHandler の新しいインスタンスを作成します。
func NewAdminHandler(l PointLedger) *AdminHandler {
	return &AdminHandler{Ledger: l}
}

type adjustRequest struct {
	Delta  int    `json:"delta"`
	Reason string `json:"reason,omitempty"`
}

// AdjustPoints はユーザーのポイントを増減します。
// POST /api/admin/guilds/{guildID}/users/{userID}/points
func (h *AdminHandler) AdjustPoints(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	guildID, userID := vars["guildID"], vars["userID"]

	var req adjustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteErrorResponse(w, http.StatusBadRequest, "リクエストボディのパースに失敗しました")
		return
	}
	if req.Delta == 0 {
		WriteErrorResponse(w, http.StatusBadRequest, "delta には0以外の整数を指定してください")
		return
	}

	admin, _ := middleware.GetAdminSubjectFromContext(r.Context())
	result := h.Ledger.AdjustPoints(r.Context(), guildID, userID, req.Delta, req.Reason)
	if !result.Success {
		log.Printf("管理者 %s によるポイント調整は反映されませんでした (guild %s, user %s): %s", admin, guildID, userID, result.Error)
		WriteJSONResponse(w, http.StatusBadGateway, result)
		return
	}
	log.Printf("管理者 %s がユーザー %s (guild %s) のポイントを %d 調整しました", admin, userID, guildID, req.Delta)
	WriteJSONResponse(w, http.StatusOK, result)
}

type eventBonusRequest struct {
	Username  string `json:"username"`
	EventName string `json:"eventName"`
	Points    int    `json:"points"`
}

// GrantEventBonus はイベント参加ポイントを付与します。
// POST /api/admin/guilds/{guildID}/users/{userID}/event-bonus
func (h *AdminHandler) GrantEventBonus(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	guildID, userID := vars["guildID"], vars["userID"]

	var req eventBonusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteErrorResponse(w, http.StatusBadRequest, "リクエストボディのパースに失敗しました")
		return
	}
	if req.EventName == "" || req.Points <= 0 {
		WriteErrorResponse(w, http.StatusBadRequest, "eventName と1以上の points が必要です")
		return
	}

	result := h.Ledger.GrantEventBonus(r.Context(), guildID, userID, req.Username, req.EventName, req.Points)
	if !result.Success {
		WriteJSONResponse(w, http.StatusBadGateway, result)
		return
	}
	WriteJSONResponse(w, http.StatusOK, result)
}

// ClearCaches はメモリ上のキャッシュをすべて破棄します。
// POST /api/admin/cache/clear
func (h *AdminHandler) ClearCaches(w http.ResponseWriter, r *http.Request) {
	h.Ledger.ClearCaches()
	WriteJSONResponse(w, http.StatusOK, map[string]string{"message": "キャッシュをクリアしました"})
}
