package handlers

import (
	"log"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/progate-hackathon-strawberry-flavor/guild-points-backend/internal/services/feed"
)

// RankingStreamHandler はランキング変更通知のWebSocket接続を受け付けます。
type RankingStreamHandler struct {
	feed     *feed.RankingFeed
	upgrader websocket.Upgrader
}

// NewRankingStreamHandler は allowedOrigins からの接続だけを許可する RankingStreamHandler を作成します。
// allowedOrigins に "*" が含まれる場合はすべてのOriginを許可します。
func NewRankingStreamHandler(f *feed.RankingFeed, allowedOrigins []string) *RankingStreamHandler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &RankingStreamHandler{
		feed: f,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				// ブラウザ以外のクライアントは Origin を送らない
				return origin == "" || allowed["*"] || allowed[origin]
			},
		},
	}
}

// ServeHTTP はHTTP接続をWebSocketにアップグレードし、ギルドの購読者として登録します。
// GET /api/guilds/{guildID}/ranking/stream
func (h *RankingStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	guildID := mux.Vars(r)["guildID"]

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[RankingStreamHandler] Failed to upgrade to websocket for guild %s: %v", guildID, err)
		return
	}
	client := h.feed.Register(guildID, conn)
	log.Printf("[RankingStreamHandler] WebSocket upgraded for guild %s (client %s)", guildID, client.ID)
}
