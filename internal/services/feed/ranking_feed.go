package feed

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// クライアントへの書き込みに許す時間
	writeWait = 10 * time.Second
	// Pong を待つ時間。これを過ぎると切断します。
	pongWait = 60 * time.Second
	// Ping の送信間隔。pongWait より短くする必要があります。
	pingPeriod = (pongWait * 9) / 10
	// クライアントから受け付けるメッセージの最大サイズ
	maxMessageSize = 512
	// クライアントごとの送信バッファ
	sendBufferSize = 64
)

// Client はランキング変更を購読しているWebSocket接続1つを表します。
type Client struct {
	ID      string
	GuildID string
	Conn    *websocket.Conn
	Send    chan []byte
	closed  bool
	mu      sync.Mutex
}

// SafeSend は閉じられていなければチャネルにメッセージを送ります。バッファが満杯の場合は false です。
func (c *Client) SafeSend(message []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.Send <- message:
		return true
	default:
		return false
	}
}

// SafeClose は送信チャネルを一度だけ閉じます。
func (c *Client) SafeClose() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.Send)
		c.closed = true
	}
}

// ChangeEvent はクライアントに送られるランキング変更の通知です。
// GuildID が空の場合は全ギルドが対象です (キャッシュの全クリアなど)。
type ChangeEvent struct {
	GuildID string    `json:"guildId"`
	Reason  string    `json:"reason"`
	At      time.Time `json:"at"`
}

// RankingFeed はギルドごとのランキング変更をWebSocketクライアントに配信します。
type RankingFeed struct {
	clients    map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	broadcast  chan ChangeEvent
	quit       chan struct{}
	mu         sync.RWMutex
	now        func() time.Time
	stopOnce   sync.Once
}

// NewRankingFeed は RankingFeed を作成し、イベントループをバックグラウンドで開始します。
func NewRankingFeed() *RankingFeed {
	f := &RankingFeed{
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan ChangeEvent, 256),
		quit:       make(chan struct{}),
		now:        time.Now,
	}
	go f.Run()
	return f
}

// Run はクライアントの登録・解除と変更通知の配信を処理するイベントループです。
func (f *RankingFeed) Run() {
	for {
		select {
		case client := <-f.register:
			f.mu.Lock()
			f.clients[client] = struct{}{}
			f.mu.Unlock()
			log.Printf("[RankingFeed] Client registered: %s (Guild: %s)", client.ID, client.GuildID)

		case client := <-f.unregister:
			f.mu.Lock()
			if _, ok := f.clients[client]; ok {
				client.SafeClose()
				delete(f.clients, client)
				log.Printf("[RankingFeed] Client unregistered: %s (Guild: %s)", client.ID, client.GuildID)
			}
			f.mu.Unlock()

		case event := <-f.broadcast:
			message, err := json.Marshal(event)
			if err != nil {
				log.Printf("[RankingFeed] Failed to marshal event: %v", err)
				continue
			}
			f.mu.RLock()
			for client := range f.clients {
				if event.GuildID != "" && client.GuildID != event.GuildID {
					continue
				}
				if !client.SafeSend(message) {
					log.Printf("[RankingFeed] Send buffer full or closed, dropping event for client %s", client.ID)
				}
			}
			f.mu.RUnlock()

		case <-f.quit:
			return
		}
	}
}

// NotifyGuildChanged はギルドのポイントが変化したことを購読者に配信します。呼び出し元をブロックしません。
func (f *RankingFeed) NotifyGuildChanged(guildID, reason string) {
	event := ChangeEvent{GuildID: guildID, Reason: reason, At: f.now().UTC()}
	select {
	case f.broadcast <- event:
	case <-f.quit:
	default:
		log.Printf("[RankingFeed] Broadcast channel is full, dropping event for guild %s", guildID)
	}
}

// Register はアップグレード済みのWebSocket接続をギルドの購読者として登録します。
func (f *RankingFeed) Register(guildID string, conn *websocket.Conn) *Client {
	client := &Client{
		ID:      uuid.New().String(),
		GuildID: guildID,
		Conn:    conn,
		Send:    make(chan []byte, sendBufferSize),
	}

	go f.readPump(client)
	go client.writePump()

	select {
	case f.register <- client:
	case <-f.quit:
		client.SafeClose()
	}
	return client
}

// ClientCount は現在の購読者数を返します。
func (f *RankingFeed) ClientCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.clients)
}

// readPump は切断を検知するためだけに読み続けます。クライアントからのメッセージは捨てます。
func (f *RankingFeed) readPump(client *Client) {
	defer func() {
		select {
		case f.unregister <- client:
		case <-f.quit:
		}
		client.Conn.Close()
	}()

	client.Conn.SetReadLimit(maxMessageSize)
	client.Conn.SetReadDeadline(time.Now().Add(pongWait))
	client.Conn.SetPongHandler(func(string) error {
		client.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := client.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[RankingFeed] WebSocket unexpected close error for client %s: %v", client.ID, err)
			}
			return
		}
	}
}

// writePump は Send チャネルのメッセージを書き込み、定期的に Ping を送ります。
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("[RankingFeed] Error writing message for client %s: %v", c.ID, err)
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Shutdown はイベントループを止め、すべての接続を閉じます。
func (f *RankingFeed) Shutdown() {
	f.stopOnce.Do(func() {
		log.Printf("[RankingFeed] シャットダウン開始...")
		close(f.quit)

		f.mu.Lock()
		for client := range f.clients {
			client.Conn.Close()
			client.SafeClose()
		}
		f.clients = make(map[*Client]struct{})
		f.mu.Unlock()
		log.Printf("[RankingFeed] シャットダウン完了")
	})
}
