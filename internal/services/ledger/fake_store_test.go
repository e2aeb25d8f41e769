package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/progate-hackathon-strawberry-flavor/guild-points-backend/internal/database"
	"github.com/progate-hackathon-strawberry-flavor/guild-points-backend/internal/models"
)

// fakeStore はテスト用のリモートストアです。失敗させる操作を切り替えられます。
type fakeStore struct {
	mu      sync.Mutex
	records map[models.RecordKey]*models.UserRecord
	order   []models.RecordKey
	history []*models.PointHistoryEntry
	events  []*models.EventParticipation

	getCalls    int
	getAllCalls int

	failGet     error
	failSave    error
	failHistory error
	failEvent   error
	failGetAll  error

	// getDelay は読み込みを遅らせ、処理が重なる状況を作るために使います。
	getDelay time.Duration
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[models.RecordKey]*models.UserRecord)}
}

func (s *fakeStore) GetUserRecord(ctx context.Context, guildID, userID string) (*models.UserRecord, error) {
	s.mu.Lock()
	s.getCalls++
	delay := s.getDelay
	failGet := s.failGet
	s.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if failGet != nil {
		return nil, failGet
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[models.RecordKey{GuildID: guildID, UserID: userID}]
	if !ok {
		return nil, &database.StoreError{Op: "getUserData", Kind: database.ErrNotFound}
	}
	return r.Clone(), nil
}

func (s *fakeStore) SaveUserRecord(ctx context.Context, record *models.UserRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSave != nil {
		return s.failSave
	}
	s.putLocked(record)
	return nil
}

func (s *fakeStore) AppendHistory(ctx context.Context, entry *models.PointHistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failHistory != nil {
		return s.failHistory
	}
	e := *entry
	s.history = append(s.history, &e)
	return nil
}

func (s *fakeStore) AppendEventParticipation(ctx context.Context, event *models.EventParticipation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failEvent != nil {
		return s.failEvent
	}
	e := *event
	s.events = append(s.events, &e)
	return nil
}

func (s *fakeStore) GetAllRecords(ctx context.Context, guildID string) ([]*models.UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getAllCalls++
	if s.failGetAll != nil {
		return nil, s.failGetAll
	}
	var result []*models.UserRecord
	for _, k := range s.order {
		if k.GuildID == guildID {
			result = append(result, s.records[k].Clone())
		}
	}
	return result, nil
}

func (s *fakeStore) seed(records ...*models.UserRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		s.putLocked(r)
	}
}

func (s *fakeStore) putLocked(record *models.UserRecord) {
	key := record.Key()
	if _, ok := s.records[key]; !ok {
		s.order = append(s.order, key)
	}
	s.records[key] = record.Clone()
}

func (s *fakeStore) record(guildID, userID string) *models.UserRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[models.RecordKey{GuildID: guildID, UserID: userID}].Clone()
}

func (s *fakeStore) historyFor(guildID, userID string) []*models.PointHistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []*models.PointHistoryEntry
	for _, h := range s.history {
		if h.GuildID == guildID && h.UserID == userID {
			result = append(result, h)
		}
	}
	return result
}

func (s *fakeStore) eventsFor(guildID, userID string) []*models.EventParticipation {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []*models.EventParticipation
	for _, e := range s.events {
		if e.GuildID == guildID && e.UserID == userID {
			result = append(result, e)
		}
	}
	return result
}

func (s *fakeStore) setFailures(get, save, getAll error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failGet = get
	s.failSave = save
	s.failGetAll = getAll
}

func unreachable(op string) error {
	return &database.StoreError{Op: op, Kind: database.ErrUnreachable, Err: fmt.Errorf("dial tcp: connection refused")}
}

// recordingNotifier は受け取った変更通知を記録します。
type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) NotifyGuildChanged(guildID, reason string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, guildID+":"+reason)
}

func (n *recordingNotifier) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.events...)
}
