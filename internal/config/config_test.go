package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv は実行環境の値が結果に混ざらないよう、関係する変数を空にします。
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "STORE_BACKEND", "SHEETS_API_URL", "SHEETS_API_KEY", "SHEETS_TIMEOUT", "DATABASE_URL",
		"LOCAL_CACHE_PATH", "RECORD_CACHE_TTL", "RANKING_CACHE_TTL", "HISTORY_WORKERS",
		"ADMIN_JWT_SECRET", "CORS_ALLOWED_ORIGINS", "TIMEZONE",
	} {
		t.Setenv(key, "")
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("SHEETS_API_URL", "https://script.example.com/exec")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, BackendSheets, cfg.StoreBackend)
	assert.Equal(t, 30*time.Second, cfg.SheetsTimeout)
	assert.Equal(t, 15*time.Minute, cfg.RecordCacheTTL)
	assert.Equal(t, 15*time.Minute, cfg.RankingCacheTTL)
	assert.Equal(t, 4, cfg.HistoryWorkers)
	assert.Equal(t, "data/users.json", cfg.LocalCachePath)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.CORSAllowedOrigins)
	assert.Equal(t, time.UTC, cfg.Location)
}

func TestFromEnv_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE_BACKEND", "Postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/points?sslmode=disable")
	t.Setenv("RECORD_CACHE_TTL", "90s")
	t.Setenv("HISTORY_WORKERS", "8")
	t.Setenv("CORS_ALLOWED_ORIGINS", "http://a.example, http://b.example ,")
	t.Setenv("TIMEZONE", "Asia/Tokyo")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, BackendPostgres, cfg.StoreBackend)
	assert.Equal(t, 90*time.Second, cfg.RecordCacheTTL)
	assert.Equal(t, 8, cfg.HistoryWorkers)
	assert.Equal(t, []string{"http://a.example", "http://b.example"}, cfg.CORSAllowedOrigins)
	assert.Equal(t, "Asia/Tokyo", cfg.Location.String())
}

func TestFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"sheetsのURLなし", map[string]string{"STORE_BACKEND": "sheets", "SHEETS_API_URL": ""}},
		{"postgresのURLなし", map[string]string{"STORE_BACKEND": "postgres"}},
		{"不明なバックエンド", map[string]string{"STORE_BACKEND": "redis", "SHEETS_API_URL": "http://x"}},
		{"不正な期間", map[string]string{"SHEETS_API_URL": "http://x", "SHEETS_TIMEOUT": "soon"}},
		{"不正な整数", map[string]string{"SHEETS_API_URL": "http://x", "HISTORY_WORKERS": "many"}},
		{"ワーカー数0", map[string]string{"SHEETS_API_URL": "http://x", "HISTORY_WORKERS": "0"}},
		{"不正なタイムゾーン", map[string]string{"SHEETS_API_URL": "http://x", "TIMEZONE": "Mars/Olympus"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := FromEnv()
			assert.Error(t, err)
		})
	}
}
