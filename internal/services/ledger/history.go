package ledger

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/progate-hackathon-strawberry-flavor/guild-points-backend/internal/database"
	"github.com/progate-hackathon-strawberry-flavor/guild-points-backend/internal/models"
)

// 履歴1件の追記に許す時間。呼び出し元のリクエストとは独立して動くため、個別にタイムアウトを設けます。
const historyAppendTimeout = 30 * time.Second

// 処理待ちとして受け付ける履歴タスクの上限
const maxPendingHistoryTasks = 1024

// historyTask は1回のポイント変動で発生する履歴行の組です。順番どおりに追記されます。
// event があれば履歴行の前にイベント参加の記録を追記します。
type historyTask struct {
	event   *models.EventParticipation
	entries []*models.PointHistoryEntry
}

// historyDispatcher はポイント履歴の追記をワーカープールで非同期に実行します。
// 追記の失敗はログに残すだけで、呼び出し元には伝えません。
type historyDispatcher struct {
	store database.RecordStore
	pool  *ants.PoolWithFunc
	wg    sync.WaitGroup
}

func newHistoryDispatcher(store database.RecordStore, workers int) (*historyDispatcher, error) {
	if workers <= 0 {
		workers = 1
	}
	d := &historyDispatcher{store: store}

	var err error
	d.pool, err = ants.NewPoolWithFunc(workers, d.process,
		ants.WithMaxBlockingTasks(maxPendingHistoryTasks),
		ants.WithPanicHandler(func(p interface{}) {
			log.Printf("Ledger Error: 履歴の追記中にpanicが発生しました: %v", p)
		}),
	)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (d *historyDispatcher) process(input interface{}) {
	task, ok := input.(*historyTask)
	if !ok {
		return
	}
	defer d.wg.Done()

	if task.event != nil {
		ctx, cancel := context.WithTimeout(context.Background(), historyAppendTimeout)
		err := d.store.AppendEventParticipation(ctx, task.event)
		cancel()
		if err != nil {
			log.Printf("Ledger Error: イベント参加の記録に失敗しました (key=%s_%s, event=%s): %v",
				task.event.GuildID, task.event.UserID, task.event.EventName, err)
		}
	}

	for _, entry := range task.entries {
		ctx, cancel := context.WithTimeout(context.Background(), historyAppendTimeout)
		err := d.store.AppendHistory(ctx, entry)
		cancel()
		if err != nil {
			log.Printf("Ledger Error: ポイント履歴の記録に失敗しました (key=%s_%s, delta=%d, reason=%s): %v",
				entry.GuildID, entry.UserID, entry.Delta, entry.Reason, err)
		}
	}
}

// Dispatch は履歴行をプールに投入します。プールが満杯または停止済みの場合は記録せずに捨てます。
func (d *historyDispatcher) Dispatch(entries ...*models.PointHistoryEntry) {
	if len(entries) == 0 {
		return
	}
	d.submit(&historyTask{entries: entries})
}

// DispatchEvent はイベント参加の記録と、それに伴う履歴行をまとめて投入します。
func (d *historyDispatcher) DispatchEvent(event *models.EventParticipation, entries ...*models.PointHistoryEntry) {
	d.submit(&historyTask{event: event, entries: entries})
}

func (d *historyDispatcher) submit(task *historyTask) {
	d.wg.Add(1)
	if err := d.pool.Invoke(task); err != nil {
		d.wg.Done()
		log.Printf("Ledger Error: 履歴タスクを投入できませんでした (%d件を破棄): %v", len(task.entries), err)
	}
}

// Flush は投入済みの履歴タスクがすべて終わるまで待ちます。
func (d *historyDispatcher) Flush() {
	d.wg.Wait()
}

// Close は残りのタスクを待ってからプールを解放します。
func (d *historyDispatcher) Close() {
	d.Flush()
	d.pool.Release()
}
