package database

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/progate-hackathon-strawberry-flavor/guild-points-backend/internal/models"
)

// スプレッドシートAPIのアクション名
const (
	actionGetUserData      = "getUserData"
	actionSaveUserData     = "saveUserData"
	actionLogPointsHistory = "logPointsHistory"
	actionGetAllUsers      = "getAllUsers"
	actionLogEvent         = "logEventParticipation"
)

// エラーメッセージに含めるレスポンスボディの最大長
const maxErrorBodyLen = 256

var _ RecordStore = (*SheetsStore)(nil)

// SheetsStore provides methods for calling the spreadsheet-backed points API.
type SheetsStore struct {
	endpoint   string
	apiKey     string
	location   *time.Location
	httpClient *http.Client
}

// NewSheetsStore creates a new instance of SheetsStore.
// loc は日付セルがISOタイムスタンプで返ってきた場合に暦日へ変換するタイムゾーンです。nil はUTCです。
func NewSheetsStore(endpoint, apiKey string, timeout time.Duration, loc *time.Location) *SheetsStore {
	if loc == nil {
		loc = time.UTC
	}
	return &SheetsStore{
		endpoint:   endpoint,
		apiKey:     apiKey,
		location:   loc,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// sheetsEnvelope はスプレッドシートAPIの共通レスポンス形式です。
type sheetsEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

type userKeyParams struct {
	GuildID string `json:"guildId"`
	UserID  string `json:"userId"`
}

type saveUserParams struct {
	GuildID  string             `json:"guildId"`
	UserID   string             `json:"userId"`
	UserData *models.UserRecord `json:"userData"`
}

type guildParams struct {
	GuildID string `json:"guildId"`
}

// sheetsUserRow はシートから返るユーザー行です。日付セルは文字列のまま受け取ります。
type sheetsUserRow struct {
	GuildID         string `json:"guildId"`
	UserID          string `json:"userId"`
	Username        string `json:"username"`
	Points          int    `json:"points"`
	LastActiveDate  string `json:"lastActiveDate"`
	ConsecutiveDays int    `json:"consecutiveDays"`
	JoinDate        string `json:"joinDate"`
}

func (s *SheetsStore) toRecord(row *sheetsUserRow) (*models.UserRecord, error) {
	lastActive, err := models.ParseDateIn(row.LastActiveDate, s.location)
	if err != nil {
		return nil, err
	}
	joined, err := models.ParseDateIn(row.JoinDate, s.location)
	if err != nil {
		return nil, err
	}
	return &models.UserRecord{
		GuildID:         row.GuildID,
		UserID:          row.UserID,
		Username:        row.Username,
		Points:          row.Points,
		LastActiveDate:  lastActive,
		ConsecutiveDays: row.ConsecutiveDays,
		JoinDate:        joined,
	}, nil
}

// GetUserRecord fetches a single user record. A null data field means the record does not exist.
func (s *SheetsStore) GetUserRecord(ctx context.Context, guildID, userID string) (*models.UserRecord, error) {
	data, err := s.call(ctx, actionGetUserData, userKeyParams{GuildID: guildID, UserID: userID})
	if err != nil {
		return nil, err
	}
	if isEmptyData(data) {
		return nil, newStoreError(actionGetUserData, ErrNotFound, nil)
	}

	var row sheetsUserRow
	if err := json.Unmarshal(data, &row); err != nil {
		log.Printf("SheetsStore Error: ユーザーデータのパースに失敗しました: %v", err)
		return nil, newStoreError(actionGetUserData, ErrRemote, fmt.Errorf("ユーザーデータのパースに失敗しました: %w", err))
	}
	record, err := s.toRecord(&row)
	if err != nil {
		log.Printf("SheetsStore Error: ユーザーデータの日付が不正です: %v", err)
		return nil, newStoreError(actionGetUserData, ErrRemote, err)
	}
	// シート側でキー列が欠けていても呼び出し側のキーを正とする
	record.GuildID = guildID
	record.UserID = userID
	return record, nil
}

// SaveUserRecord creates or overwrites a user record.
func (s *SheetsStore) SaveUserRecord(ctx context.Context, record *models.UserRecord) error {
	_, err := s.call(ctx, actionSaveUserData, saveUserParams{
		GuildID:  record.GuildID,
		UserID:   record.UserID,
		UserData: record,
	})
	return err
}

// AppendHistory appends one row to the points history sheet.
func (s *SheetsStore) AppendHistory(ctx context.Context, entry *models.PointHistoryEntry) error {
	_, err := s.call(ctx, actionLogPointsHistory, entry)
	return err
}

// GetAllRecords fetches every record of a guild in sheet row order.
func (s *SheetsStore) GetAllRecords(ctx context.Context, guildID string) ([]*models.UserRecord, error) {
	data, err := s.call(ctx, actionGetAllUsers, guildParams{GuildID: guildID})
	if err != nil {
		return nil, err
	}
	if isEmptyData(data) {
		return []*models.UserRecord{}, nil
	}

	var rows []*sheetsUserRow
	if err := json.Unmarshal(data, &rows); err != nil {
		log.Printf("SheetsStore Error: ユーザー一覧のパースに失敗しました: %v", err)
		return nil, newStoreError(actionGetAllUsers, ErrRemote, fmt.Errorf("ユーザー一覧のパースに失敗しました: %w", err))
	}

	filtered := make([]*models.UserRecord, 0, len(rows))
	for _, row := range rows {
		if row == nil {
			continue
		}
		if row.GuildID == "" {
			row.GuildID = guildID
		}
		if row.GuildID != guildID {
			continue
		}
		r, err := s.toRecord(row)
		if err != nil {
			log.Printf("SheetsStore Error: ユーザー一覧の日付が不正です: %v", err)
			return nil, newStoreError(actionGetAllUsers, ErrRemote, err)
		}
		filtered = append(filtered, r)
	}
	return filtered, nil
}

// AppendEventParticipation appends one row to the event participation sheet.
func (s *SheetsStore) AppendEventParticipation(ctx context.Context, event *models.EventParticipation) error {
	_, err := s.call(ctx, actionLogEvent, event)
	return err
}

// call はアクション名とパラメータをPOSTし、共通エンベロープの data を返します。
// 通信失敗は ErrUnreachable、非2xx・JSONパース失敗・success=false は ErrRemote に分類します。
func (s *SheetsStore) call(ctx context.Context, action string, params interface{}) (json.RawMessage, error) {
	requestURL, err := s.actionURL(action)
	if err != nil {
		return nil, newStoreError(action, ErrRemote, err)
	}

	requestBody, err := json.Marshal(params)
	if err != nil {
		return nil, newStoreError(action, ErrRemote, fmt.Errorf("リクエストボディのJSONエンコードに失敗しました: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, requestURL, bytes.NewBuffer(requestBody))
	if err != nil {
		return nil, newStoreError(action, ErrRemote, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", uuid.New().String())
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		log.Printf("SheetsStore Error: %s の送信に失敗しました: %v", action, err)
		return nil, newStoreError(action, ErrUnreachable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Printf("SheetsStore Error: %s のレスポンスボディの読み込みに失敗しました: %v", action, err)
		return nil, newStoreError(action, ErrUnreachable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Printf("SheetsStore Error: %s がステータス %d を返しました", action, resp.StatusCode)
		return nil, newStoreError(action, ErrRemote, fmt.Errorf("ステータス %d: %s", resp.StatusCode, truncate(string(body), maxErrorBodyLen)))
	}

	var envelope sheetsEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		log.Printf("SheetsStore Error: %s のレスポンスのパースに失敗しました: %v", action, err)
		return nil, newStoreError(action, ErrRemote, fmt.Errorf("JSONレスポンスのパースに失敗しました: %w", err))
	}
	if !envelope.Success {
		msg := envelope.Error
		if msg == "" {
			msg = "success=false"
		}
		log.Printf("SheetsStore Error: %s がエラーを返しました: %s", action, msg)
		return nil, newStoreError(action, ErrRemote, fmt.Errorf("%s", msg))
	}

	return envelope.Data, nil
}

func (s *SheetsStore) actionURL(action string) (string, error) {
	u, err := url.Parse(s.endpoint)
	if err != nil {
		return "", fmt.Errorf("エンドポイントURLが不正です: %w", err)
	}
	q := u.Query()
	q.Set("action", action)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func isEmptyData(data json.RawMessage) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
