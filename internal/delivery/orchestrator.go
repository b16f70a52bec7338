// Package delivery はスケジューリングティックごとの配信駆動を提供する。
// 購読者ごとにウィンドウ判定→アイテム選択→送信→状態遷移を実行する。
package delivery

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/clearlist/internal/digest"
	"github.com/hitoshi/clearlist/internal/mailer"
	"github.com/hitoshi/clearlist/internal/model"
	"github.com/hitoshi/clearlist/internal/repository"
	"github.com/hitoshi/clearlist/internal/schedule"
)

// ItemSelector は次に配信するアイテムの選択インターフェース。
type ItemSelector interface {
	SelectNext(sub *model.Subscriber, items []*model.Item) *model.Item
}

// PayloadRenderer は配信ペイロードの組み立てインターフェース。
// 本文の見た目そのものは外部のテンプレートコラボレータの責務であり、
// オーケストレータはこの境界のみに依存する。
type PayloadRenderer interface {
	Render(sub *model.Subscriber, item *model.Item) (*digest.Payload, error)
}

// Metrics は配信メトリクスの記録インターフェース。
type Metrics interface {
	RecordDeliverySent()
	RecordDeliveryFailure()
	RecordDeliveryLatency(d time.Duration)
}

// Orchestrator はティックごとの配信ドライバ。
// 1ティックにつき各購読者のウィンドウを1回評価し、適格なら高々1件を配信する。
// 購読者間に順序保証はなく、semaphoreパターンで並列実行する。
type Orchestrator struct {
	subRepo  repository.SubscriberRepository
	itemRepo repository.ItemRepository
	selector ItemSelector
	renderer PayloadRenderer
	sender   mailer.Sender
	metrics  Metrics
	logger   *slog.Logger

	maxConcurrency int
	taskTimeout    time.Duration
}

// NewOrchestrator はOrchestratorを生成する。
// maxConcurrencyが0以下の場合はデフォルト値10を使用する。
func NewOrchestrator(
	subRepo repository.SubscriberRepository,
	itemRepo repository.ItemRepository,
	selector ItemSelector,
	renderer PayloadRenderer,
	sender mailer.Sender,
	metrics Metrics,
	logger *slog.Logger,
	maxConcurrency int,
	taskTimeout time.Duration,
) *Orchestrator {
	if maxConcurrency <= 0 {
		maxConcurrency = 10
	}
	if taskTimeout <= 0 {
		taskTimeout = 30 * time.Second
	}
	return &Orchestrator{
		subRepo:        subRepo,
		itemRepo:       itemRepo,
		selector:       selector,
		renderer:       renderer,
		sender:         sender,
		metrics:        metrics,
		logger:         logger,
		maxConcurrency: maxConcurrency,
		taskTimeout:    taskTimeout,
	}
}

// RunOnce は1ティック分の配信処理を実行する。
// 購読者単位の失敗はその購読者に閉じ、他の購読者の処理を妨げない。
// 1購読者のネットワーク遅延がティック全体を塞がないよう、
// 購読者ごとのタスクにはタイムアウトを設定する。
func (o *Orchestrator) RunOnce(ctx context.Context, nowUTC time.Time) error {
	start := time.Now()

	subs, err := o.subRepo.ListSchedulable(ctx)
	if err != nil {
		return err
	}

	if len(subs) == 0 {
		return nil
	}

	sem := make(chan struct{}, o.maxConcurrency)
	var wg sync.WaitGroup

	for _, sub := range subs {
		wg.Add(1)
		sem <- struct{}{}

		go func(s *model.Subscriber) {
			defer wg.Done()
			defer func() { <-sem }()

			taskCtx, cancel := context.WithTimeout(ctx, o.taskTimeout)
			defer cancel()

			o.deliverOne(taskCtx, s, nowUTC)
		}(sub)
	}

	wg.Wait()

	o.logger.Info("配信ティックが完了しました",
		slog.Int("subscriber_count", len(subs)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return nil
}

// deliverOne は1購読者分の配信を実行する。
// ウィンドウ外・空キューは正常系のスキップであり、ログに残す価値のあるエラーではない。
func (o *Orchestrator) deliverOne(ctx context.Context, sub *model.Subscriber, nowUTC time.Time) {
	if !schedule.IsWindowOpen(sub, nowUTC) {
		return
	}

	items, err := o.itemRepo.ListQueuedByOwner(ctx, sub.ID)
	if err != nil {
		o.logger.Error("未配信アイテムの取得に失敗しました",
			slog.String("subscriber_id", sub.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	item := o.selector.SelectNext(sub, items)
	if item == nil {
		// キューが空。別途の空キューアラートが検知するため、ここでは何もしない。
		return
	}

	payload, err := o.renderer.Render(sub, item)
	if err != nil {
		o.logger.Error("配信ペイロードの組み立てに失敗しました",
			slog.String("subscriber_id", sub.ID),
			slog.Int64("item_id", item.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	sendStart := time.Now()
	if err := o.sender.Send(ctx, sub.Email, payload.Subject, payload.HTMLBody, payload.TextBody); err != nil {
		// 送信失敗時はアイテムをQueuedのまま残し、次のティックで自然に再試行される。
		o.metrics.RecordDeliveryFailure()
		o.logger.Error("配信メールの送信に失敗しました",
			slog.String("subscriber_id", sub.ID),
			slog.Int64("item_id", item.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	o.metrics.RecordDeliveryLatency(time.Since(sendStart))

	// 送信成功時のみ状態を遷移する。楽観的並行性制御により、
	// 重なったティックや再スケジュールとの競合時はno-opになる。
	swapped, err := o.itemRepo.CompareAndSwapState(ctx, item.ID, model.ItemStateQueued, model.ItemStateDelivered)
	if err != nil {
		o.logger.Error("配信済みへの状態遷移に失敗しました",
			slog.String("subscriber_id", sub.ID),
			slog.Int64("item_id", item.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	if !swapped {
		o.logger.Warn("状態遷移が競合によりスキップされました",
			slog.String("subscriber_id", sub.ID),
			slog.Int64("item_id", item.ID),
		)
		return
	}

	o.metrics.RecordDeliverySent()
	o.logger.Info("アイテムを配信しました",
		slog.String("subscriber_id", sub.ID),
		slog.Int64("item_id", item.ID),
	)
}
