package ledger

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/progate-hackathon-strawberry-flavor/guild-points-backend/internal/cache"
	"github.com/progate-hackathon-strawberry-flavor/guild-points-backend/internal/database"
	"github.com/progate-hackathon-strawberry-flavor/guild-points-backend/internal/models"
	"github.com/progate-hackathon-strawberry-flavor/guild-points-backend/internal/services/streak"
	"go.uber.org/multierr"
	"golang.org/x/sync/singleflight"
)

// 履歴に記録する理由
const (
	ReasonFirstMessage  = "初回メッセージ投稿"
	ReasonMessage       = "メッセージ投稿"
	ReasonAdminAdjust   = "システム管理者によるポイント調整"
	reasonStreakBonusFm = "連続ログインボーナス: %d日目"
	reasonEventFm       = "イベント参加: %s"
)

// 変更通知の理由
const (
	ChangeActivity   = "activity"
	ChangeAdjust     = "adjust"
	ChangeEventBonus = "event_bonus"
	ChangeCacheClear = "cache_clear"
)

// ErrUnavailable はリモートとローカルの両方からデータを取得できなかったことを表します。
var ErrUnavailable = errors.New("ポイントデータを一時的に取得できません")

// ChangeNotifier はギルドのポイントが変化したことを受け取ります。ランキングのリアルタイム配信に使われます。
type ChangeNotifier interface {
	NotifyGuildChanged(guildID, reason string)
}

// Options は Ledger の生成オプションです。
type Options struct {
	HistoryWorkers int
	// Location は「今日」を決めるタイムゾーンです。nil の場合はUTCです。
	Location *time.Location
	// Now はテスト用の時計です。nil の場合は time.Now です。
	Now func() time.Time
}

// Ledger はギルド内ポイントの読み書きを一手に引き受けるサービスです。
// 読み込みはメモリキャッシュ、リモートストア、ローカルキャッシュの順に試し、
// 書き込みはリモートに保存してからローカルへミラーします。
type Ledger struct {
	remote   database.RecordStore
	local    database.LocalStore
	records  cache.RecordCache
	rankings cache.RankingCache

	locks   *keyLocks
	history *historyDispatcher
	group   singleflight.Group

	now      func() time.Time
	location *time.Location

	notifierMu sync.RWMutex
	notifier   ChangeNotifier

	divergentMu sync.Mutex
	divergent   map[models.RecordKey]struct{}
}

// New は Ledger を作成します。
func New(remote database.RecordStore, local database.LocalStore, records cache.RecordCache, rankings cache.RankingCache, opts Options) (*Ledger, error) {
	history, err := newHistoryDispatcher(remote, opts.HistoryWorkers)
	if err != nil {
		return nil, fmt.Errorf("履歴ワーカープールの作成に失敗しました: %w", err)
	}

	l := &Ledger{
		remote:    remote,
		local:     local,
		records:   records,
		rankings:  rankings,
		locks:     newKeyLocks(),
		history:   history,
		now:       opts.Now,
		location:  opts.Location,
		divergent: make(map[models.RecordKey]struct{}),
	}
	if l.now == nil {
		l.now = time.Now
	}
	if l.location == nil {
		l.location = time.UTC
	}
	return l, nil
}

// SetNotifier は変更通知の受け取り先を設定します。
func (l *Ledger) SetNotifier(n ChangeNotifier) {
	l.notifierMu.Lock()
	defer l.notifierMu.Unlock()
	l.notifier = n
}

// Today は設定されたタイムゾーンにおける今日の日付を返します。
func (l *Ledger) Today() models.Date {
	return models.DateOf(l.now().In(l.location))
}

// Close は残っている履歴の追記を待ってからワーカープールを停止します。
func (l *Ledger) Close() {
	l.history.Close()
}

// Flush は投入済みの履歴の追記がすべて終わるまで待ちます。
func (l *Ledger) Flush() {
	l.history.Flush()
}

// GetBalance はユーザーの現在のポイントを返します。リモートにレコードがない場合は0です。
// リモートに届かずローカルからも読めない場合は0と ErrUnavailable を返します。
func (l *Ledger) GetBalance(ctx context.Context, guildID, userID string) (int, error) {
	record, err := l.getRecord(ctx, models.RecordKey{GuildID: guildID, UserID: userID})
	if err != nil {
		return 0, err
	}
	if record == nil {
		return 0, nil
	}
	return record.Points, nil
}

// GetConsecutiveDays はユーザーの連続活動日数を返します。レコードがない場合は0です。
func (l *Ledger) GetConsecutiveDays(ctx context.Context, guildID, userID string) (int, error) {
	record, err := l.getRecord(ctx, models.RecordKey{GuildID: guildID, UserID: userID})
	if err != nil {
		return 0, err
	}
	if record == nil {
		return 0, nil
	}
	return record.ConsecutiveDays, nil
}

// RecordActivity はユーザーの活動を記録し、連続日数とボーナスを反映します。
// 同じ日の2回目以降はポイントを変えず、PointsChanged=false で現在の状態を返します。
func (l *Ledger) RecordActivity(ctx context.Context, guildID, userID, username string, today models.Date) models.ActivityResult {
	key := models.RecordKey{GuildID: guildID, UserID: userID}
	unlock := l.locks.Lock(key)
	defer unlock()

	current, err := l.getRecordLocked(ctx, key)
	if err != nil {
		log.Printf("Ledger Error: 活動の記録に失敗しました (key=%s): %v", key, err)
		return models.ActivityResult{Success: false, Error: err.Error()}
	}

	var outcome streak.Outcome
	if current == nil {
		outcome = streak.Outcome{
			Record:  streak.NewRecord(guildID, userID, username, today),
			Changed: true,
			IsFresh: true,
		}
	} else {
		outcome = streak.ApplyActivity(current, today)
		renamed := username != "" && outcome.Record.Username != username
		if renamed {
			outcome.Record.Username = username
		}
		if !outcome.Changed {
			if renamed {
				l.records.Set(key, outcome.Record)
			}
			return models.ActivityResult{
				Success:         true,
				PointsChanged:   false,
				Points:          outcome.Record.Points,
				ConsecutiveDays: outcome.Record.ConsecutiveDays,
			}
		}
	}

	if err := l.commit(ctx, outcome.Record, ChangeActivity); err != nil {
		return models.ActivityResult{Success: false, Error: err.Error()}
	}

	l.history.Dispatch(l.activityHistory(outcome)...)

	return models.ActivityResult{
		Success:         true,
		PointsChanged:   true,
		Points:          outcome.Record.Points,
		ConsecutiveDays: outcome.Record.ConsecutiveDays,
		IsBonus:         outcome.IsBonus,
		BonusPoints:     outcome.BonusPoints,
		IsDecrease:      outcome.IsDecrease,
	}
}

// AdjustPoints は管理者によるポイントの増減を行います。delta は負の値も取れます。
// reason が空の場合は既定の理由で履歴に記録します。
func (l *Ledger) AdjustPoints(ctx context.Context, guildID, userID string, delta int, reason string) models.AdjustResult {
	if reason == "" {
		reason = ReasonAdminAdjust
	}
	return l.applyDelta(ctx, models.RecordKey{GuildID: guildID, UserID: userID}, "", delta, reason, ChangeAdjust, "")
}

// GrantEventBonus はイベント参加のポイントを付与します。連続日数には影響しません。
// 参加の記録はポイント履歴と同じく非同期に追記されます。
func (l *Ledger) GrantEventBonus(ctx context.Context, guildID, userID, username, eventName string, points int) models.AdjustResult {
	if points <= 0 {
		return models.AdjustResult{Success: false, Error: "付与するポイントは1以上である必要があります"}
	}
	if eventName == "" {
		return models.AdjustResult{Success: false, Error: "イベント名が指定されていません"}
	}
	key := models.RecordKey{GuildID: guildID, UserID: userID}
	return l.applyDelta(ctx, key, username, points, fmt.Sprintf(reasonEventFm, eventName), ChangeEventBonus, eventName)
}

// applyDelta はレコードに delta を加えて保存します。eventName が空でなければイベント参加も記録します。
func (l *Ledger) applyDelta(ctx context.Context, key models.RecordKey, username string, delta int, reason, change, eventName string) models.AdjustResult {
	unlock := l.locks.Lock(key)
	defer unlock()

	current, err := l.getRecordLocked(ctx, key)
	if err != nil {
		log.Printf("Ledger Error: ポイント調整のためのレコード取得に失敗しました (key=%s): %v", key, err)
		return models.AdjustResult{Success: false, Error: err.Error()}
	}

	var next *models.UserRecord
	if current == nil {
		// 活動以外で作られるレコードは連続日数を0のままにする
		next = &models.UserRecord{
			GuildID:  key.GuildID,
			UserID:   key.UserID,
			Username: username,
			JoinDate: l.Today(),
		}
	} else {
		next = current.Clone()
		if username != "" {
			next.Username = username
		}
	}

	previous := next.Points
	next.Points += delta

	if err := l.commit(ctx, next, change); err != nil {
		return models.AdjustResult{Success: false, PreviousTotal: previous, Error: err.Error()}
	}

	at := l.now()
	entry := l.newHistoryEntry(next, delta, next.Points, reason, at)
	if eventName != "" {
		l.history.DispatchEvent(&models.EventParticipation{
			ID:        uuid.New().String(),
			GuildID:   next.GuildID,
			UserID:    next.UserID,
			Username:  next.Username,
			EventName: eventName,
			Points:    delta,
			Timestamp: at.UTC(),
		}, entry)
	} else {
		l.history.Dispatch(entry)
	}

	log.Printf("Ledger Info: ポイントを調整しました (key=%s, delta=%d, %d -> %d)", key, delta, previous, next.Points)
	return models.AdjustResult{Success: true, PreviousTotal: previous, NewTotal: next.Points}
}

// GetRanking はギルドのポイントランキングの上位 limit 件を返します。
// limit の範囲チェックは呼び出し側で行います。limit <= 0 の場合は全件です。
func (l *Ledger) GetRanking(ctx context.Context, guildID string, limit int) ([]models.RankingEntry, error) {
	if ranking, ok := l.rankings.Get(guildID, limit); ok {
		return ranking, nil
	}

	generation := l.rankings.Generation(guildID)
	v, err, _ := l.group.Do(guildID, func() (interface{}, error) {
		ranking, cacheable, err := l.computeRanking(ctx, guildID)
		if err != nil {
			return nil, err
		}
		// ローカルキャッシュから作ったランキングは古い可能性があるのでキャッシュしない
		if cacheable {
			l.rankings.Set(guildID, ranking, generation)
		}
		return ranking, nil
	})
	if err != nil {
		return nil, err
	}

	ranking := v.([]models.RankingEntry)
	n := len(ranking)
	if limit > 0 && limit < n {
		n = limit
	}
	result := make([]models.RankingEntry, n)
	copy(result, ranking[:n])
	return result, nil
}

// ClearCaches はメモリ上のレコードキャッシュとランキングキャッシュをすべて破棄します。
func (l *Ledger) ClearCaches() {
	l.records.InvalidateAll()
	l.rankings.InvalidateAll()
	log.Println("Ledger Info: すべてのキャッシュをクリアしました")
	l.notify("", ChangeCacheClear)
}

// Divergent は最後の書き込みがローカルにしか保存されていないキーの一覧を返します。
func (l *Ledger) Divergent() []models.RecordKey {
	l.divergentMu.Lock()
	defer l.divergentMu.Unlock()

	keys := make([]models.RecordKey, 0, len(l.divergent))
	for k := range l.divergent {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].String() < keys[j].String()
	})
	return keys
}

// getRecord はキャッシュにあればそれを返し、なければキーのロックを取ってから取得します。
func (l *Ledger) getRecord(ctx context.Context, key models.RecordKey) (*models.UserRecord, error) {
	if record, ok := l.records.Get(key); ok {
		return record, nil
	}

	unlock := l.locks.Lock(key)
	defer unlock()
	return l.getRecordLocked(ctx, key)
}

// getRecordLocked はキーのロックを保持した状態で呼び出します。
// レコードがどこにも存在しない場合は (nil, nil) を返します。
func (l *Ledger) getRecordLocked(ctx context.Context, key models.RecordKey) (*models.UserRecord, error) {
	if record, ok := l.records.Get(key); ok {
		return record, nil
	}

	record, fromRemote, err := l.loadRecord(ctx, key)
	if err != nil {
		return nil, err
	}
	if record != nil && fromRemote {
		l.records.Set(key, record)
	}
	return record, nil
}

// recordSource は読み込みのフォールバックチェーンの1段です。
type recordSource struct {
	name   string
	remote bool
	get    func(ctx context.Context, key models.RecordKey) (*models.UserRecord, error)
}

// recordSources は読み込みを試す順にソースを返します。
// 最後の書き込みがローカルにしか届いていないキーは、リモートの古い値を拾わないようローカルを先に読みます。
func (l *Ledger) recordSources(key models.RecordKey) []recordSource {
	remote := recordSource{
		name:   "remote",
		remote: true,
		get: func(ctx context.Context, key models.RecordKey) (*models.UserRecord, error) {
			return l.remote.GetUserRecord(ctx, key.GuildID, key.UserID)
		},
	}
	local := recordSource{
		name: "local",
		get: func(_ context.Context, key models.RecordKey) (*models.UserRecord, error) {
			return l.local.Get(key.GuildID, key.UserID)
		},
	}
	if l.isDivergent(key) {
		return []recordSource{local, remote}
	}
	return []recordSource{remote, local}
}

// loadRecord はソースを順に試し、最初に見つかったレコードを返します。
// (nil, nil) を返すのはリモート自身が「存在しない」と答えた場合だけです。
// リモートに届かずローカルにも無い場合は、新規ユーザーと区別できないため ErrUnavailable を返します。
func (l *Ledger) loadRecord(ctx context.Context, key models.RecordKey) (*models.UserRecord, bool, error) {
	var failures error
	remoteNotFound := false

	for _, src := range l.recordSources(key) {
		record, err := src.get(ctx, key)
		if err == nil {
			if failures != nil {
				log.Printf("Ledger Info: %s からレコードを取得しました (key=%s, 先行ソースの失敗: %v)", src.name, key, failures)
			}
			return record, src.remote, nil
		}
		if errors.Is(err, database.ErrNotFound) {
			if src.remote {
				remoteNotFound = true
			}
			failures = multierr.Append(failures, fmt.Errorf("%s: %w", src.name, err))
			continue
		}
		log.Printf("Ledger Error: %s からのレコード取得に失敗しました (key=%s): %v", src.name, key, err)
		failures = multierr.Append(failures, fmt.Errorf("%s: %w", src.name, err))
	}

	if remoteNotFound {
		return nil, false, nil
	}
	return nil, false, fmt.Errorf("%w: %w", ErrUnavailable, failures)
}

// commit はレコードをリモートに保存し、ローカルへミラーしてからキャッシュを更新します。
// リモートが失敗してもローカルに保存できれば成功として扱い、そのキーを乖離中として記録します。
// キーのロックを保持した状態で呼び出します。
func (l *Ledger) commit(ctx context.Context, record *models.UserRecord, change string) error {
	key := record.Key()

	remoteErr := l.remote.SaveUserRecord(ctx, record)
	if remoteErr == nil {
		if err := l.local.Put(record); err != nil {
			log.Printf("Ledger Error: ローカルキャッシュへのミラーに失敗しました (key=%s): %v", key, err)
		}
		l.setDivergent(key, false)
	} else {
		log.Printf("Ledger Error: リモートへの保存に失敗しました (key=%s): %v", key, remoteErr)
		if err := l.local.Put(record); err != nil {
			l.records.Invalidate(key)
			log.Printf("Ledger Error: ローカルキャッシュへの保存にも失敗しました (key=%s): %v", key, err)
			return fmt.Errorf("ポイントを保存できませんでした: %w", multierr.Combine(remoteErr, err))
		}
		log.Printf("Ledger Warning: リモートに保存できなかったためローカルのみに保存しました (key=%s)", key)
		l.setDivergent(key, true)
	}

	l.records.Invalidate(key)
	l.records.Set(key, record)
	l.rankings.Invalidate(key.GuildID)
	l.notify(key.GuildID, change)
	return nil
}

func (l *Ledger) isDivergent(key models.RecordKey) bool {
	l.divergentMu.Lock()
	defer l.divergentMu.Unlock()
	_, ok := l.divergent[key]
	return ok
}

func (l *Ledger) setDivergent(key models.RecordKey, divergent bool) {
	l.divergentMu.Lock()
	defer l.divergentMu.Unlock()
	if divergent {
		l.divergent[key] = struct{}{}
		return
	}
	if _, ok := l.divergent[key]; ok {
		delete(l.divergent, key)
		log.Printf("Ledger Info: リモートへの保存が成功し、乖離が解消されました (key=%s)", key)
	}
}

func (l *Ledger) notify(guildID, reason string) {
	l.notifierMu.RLock()
	n := l.notifier
	l.notifierMu.RUnlock()
	if n != nil {
		n.NotifyGuildChanged(guildID, reason)
	}
}

// computeRanking はギルドの全レコードを取得して順位付けします。
// 2つめの戻り値はその結果をキャッシュしてよいかどうかです。
func (l *Ledger) computeRanking(ctx context.Context, guildID string) ([]models.RankingEntry, bool, error) {
	records, err := l.remote.GetAllRecords(ctx, guildID)
	if err == nil {
		merged, complete := l.overlayDivergent(guildID, records)
		return rank(merged), complete, nil
	}

	log.Printf("Ledger Error: ランキング用の全レコード取得に失敗しました (guild=%s): %v", guildID, err)
	local, localErr := l.local.List(guildID)
	if localErr != nil {
		return nil, false, fmt.Errorf("%w: %w", ErrUnavailable, multierr.Combine(err, localErr))
	}
	log.Printf("Ledger Info: ローカルキャッシュからランキングを作成します (guild=%s, %d件)", guildID, len(local))
	return rank(local), false, nil
}

// overlayDivergent はリモートの全件に、ローカルにしか保存されていないキーの値を重ねます。
// 乖離中のキーをローカルから読めなかった場合、2つめの戻り値は false です。
func (l *Ledger) overlayDivergent(guildID string, records []*models.UserRecord) ([]*models.UserRecord, bool) {
	var keys []models.RecordKey
	for _, key := range l.Divergent() {
		if key.GuildID == guildID {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return records, true
	}

	index := make(map[string]int, len(records))
	for i, r := range records {
		if r != nil {
			index[r.UserID] = i
		}
	}

	merged := append([]*models.UserRecord(nil), records...)
	complete := true
	for _, key := range keys {
		local, err := l.local.Get(key.GuildID, key.UserID)
		if err != nil {
			log.Printf("Ledger Error: 乖離中のレコードをローカルから読めませんでした (key=%s): %v", key, err)
			complete = false
			continue
		}
		if i, ok := index[key.UserID]; ok {
			merged[i] = local
		} else {
			merged = append(merged, local)
		}
	}
	return merged, complete
}

// rank はポイントの降順に安定ソートし、1から順に順位を振ります。同点は取得順を保ちます。
func rank(records []*models.UserRecord) []models.RankingEntry {
	sorted := make([]*models.UserRecord, 0, len(records))
	for _, r := range records {
		if r != nil {
			sorted = append(sorted, r)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Points > sorted[j].Points
	})

	entries := make([]models.RankingEntry, len(sorted))
	for i, r := range sorted {
		entries[i] = models.RankingEntry{
			Rank:     i + 1,
			UserID:   r.UserID,
			Username: r.Username,
			Points:   r.Points,
		}
	}
	return entries
}

func (l *Ledger) activityHistory(outcome streak.Outcome) []*models.PointHistoryEntry {
	record := outcome.Record
	at := l.now()

	if outcome.IsFresh {
		return []*models.PointHistoryEntry{
			l.newHistoryEntry(record, streak.BasePoints, record.Points, ReasonFirstMessage, at),
		}
	}

	baseTotal := record.Points - outcome.BonusPoints
	entries := []*models.PointHistoryEntry{
		l.newHistoryEntry(record, streak.BasePoints, baseTotal, ReasonMessage, at),
	}
	if outcome.IsBonus {
		reason := fmt.Sprintf(reasonStreakBonusFm, record.ConsecutiveDays)
		entries = append(entries, l.newHistoryEntry(record, outcome.BonusPoints, record.Points, reason, at.Add(time.Millisecond)))
	}
	return entries
}

func (l *Ledger) newHistoryEntry(record *models.UserRecord, delta, newTotal int, reason string, at time.Time) *models.PointHistoryEntry {
	return &models.PointHistoryEntry{
		ID:        uuid.New().String(),
		GuildID:   record.GuildID,
		UserID:    record.UserID,
		Delta:     delta,
		NewTotal:  newTotal,
		Reason:    reason,
		Timestamp: at.UTC(),
	}
}
