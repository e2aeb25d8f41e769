package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/progate-hackathon-strawberry-flavor/guild-points-backend/internal/api/middleware"
	"github.com/progate-hackathon-strawberry-flavor/guild-points-backend/internal/services/feed"
)

// RouterConfig は NewRouter に渡す依存関係です。
type RouterConfig struct {
	Ledger         PointLedger
	Feed           *feed.RankingFeed
	AdminJWTSecret string
	AllowedOrigins []string
}

// NewRouter はAPIのルーティングを組み立て、CORSを適用したハンドラを返します。
func NewRouter(cfg RouterConfig) http.Handler {
	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()

	// 認証不要なエンドポイント
	api.Handle("/health", NewHealthHandler(cfg.Ledger)).Methods("GET")

	points := NewPointsHandler(cfg.Ledger)
	api.HandleFunc("/guilds/{guildID}/users/{userID}/balance", points.GetBalance).Methods("GET")
	api.HandleFunc("/guilds/{guildID}/users/{userID}/activity", points.RecordActivity).Methods("POST")
	api.HandleFunc("/guilds/{guildID}/ranking", points.GetRanking).Methods("GET")
	if cfg.Feed != nil {
		api.Handle("/guilds/{guildID}/ranking/stream", NewRankingStreamHandler(cfg.Feed, cfg.AllowedOrigins)).Methods("GET")
	}

	// 管理者のみのエンドポイント
	adminRouter := api.PathPrefix("/admin").Subrouter()
	adminRouter.Use(middleware.AdminAuth(cfg.AdminJWTSecret))

	admin := NewAdminHandler(cfg.Ledger)
	adminRouter.HandleFunc("/guilds/{guildID}/users/{userID}/points", admin.AdjustPoints).Methods("POST")
	adminRouter.HandleFunc("/guilds/{guildID}/users/{userID}/event-bonus", admin.GrantEventBonus).Methods("POST")
	adminRouter.HandleFunc("/cache/clear", admin.ClearCaches).Methods("POST")

	return middleware.CORSHandler(cfg.AllowedOrigins)(r)
}
