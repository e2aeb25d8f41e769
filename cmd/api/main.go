package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/progate-hackathon-strawberry-flavor/guild-points-backend/internal/api/handlers"
	"github.com/progate-hackathon-strawberry-flavor/guild-points-backend/internal/cache"
	"github.com/progate-hackathon-strawberry-flavor/guild-points-backend/internal/config"
	"github.com/progate-hackathon-strawberry-flavor/guild-points-backend/internal/database"
	"github.com/progate-hackathon-strawberry-flavor/guild-points-backend/internal/services/feed"
	"github.com/progate-hackathon-strawberry-flavor/guild-points-backend/internal/services/ledger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	remote, closeRemote, err := newRemoteStore(cfg)
	if err != nil {
		log.Fatalf("リモートストアの初期化に失敗しました: %v", err)
	}
	defer closeRemote()

	local := database.NewLocalCache(cfg.LocalCachePath)
	pointLedger, err := ledger.New(remote, local,
		cache.NewRecordCache(cfg.RecordCacheTTL),
		cache.NewRankingCache(cfg.RankingCacheTTL),
		ledger.Options{HistoryWorkers: cfg.HistoryWorkers, Location: cfg.Location},
	)
	if err != nil {
		log.Fatalf("ポイント台帳の初期化に失敗しました: %v", err)
	}
	defer pointLedger.Close()

	rankingFeed := feed.NewRankingFeed()
	defer rankingFeed.Shutdown()
	pointLedger.SetNotifier(rankingFeed)

	if cfg.AdminJWTSecret == "" {
		log.Println("warning: ADMIN_JWT_SECRET が未設定のため管理者APIは無効です")
	}

	router := handlers.NewRouter(handlers.RouterConfig{
		Ledger:         pointLedger,
		Feed:           rankingFeed,
		AdminJWTSecret: cfg.AdminJWTSecret,
		AllowedOrigins: cfg.CORSAllowedOrigins,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("Server starting on :%s (store=%s, local cache=%s)", cfg.Port, cfg.StoreBackend, local.Path())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("サーバーの起動に失敗しました: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("シャットダウンシグナルを受信しました")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("サーバーのシャットダウンに失敗しました: %v", err)
	}
}

// newRemoteStore は設定に応じたリモートストアと、その後始末用の関数を返します。
func newRemoteStore(cfg *config.Config) (database.RecordStore, func(), error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		store, err := database.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {
			if err := store.Close(); err != nil {
				log.Printf("データベース接続のクローズに失敗しました: %v", err)
			}
		}, nil
	default:
		log.Printf("SheetsStore Info: エンドポイント %s を使用します (timeout=%s)", cfg.SheetsAPIURL, cfg.SheetsTimeout)
		return database.NewSheetsStore(cfg.SheetsAPIURL, cfg.SheetsAPIKey, cfg.SheetsTimeout, cfg.Location), func() {}, nil
	}
}
