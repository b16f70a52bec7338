package importer

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/clearlist/internal/model"
	"github.com/hitoshi/clearlist/internal/repository"
)

// Metrics は取り込みメトリクスの記録インターフェース。
type Metrics interface {
	RecordItemImported()
}

// Job はプロバイダ連携済みの購読者のリンクを定期取り込みするジョブ。
type Job struct {
	subRepo  repository.SubscriberRepository
	itemRepo repository.ItemRepository
	client   Client
	metrics  Metrics
	logger   *slog.Logger
	lookback time.Duration
}

// NewJob はJobを生成する。
// lookbackは取り込み対象期間で、実行間隔より長めに取って取りこぼしを防ぐ。
func NewJob(
	subRepo repository.SubscriberRepository,
	itemRepo repository.ItemRepository,
	client Client,
	metrics Metrics,
	logger *slog.Logger,
	lookback time.Duration,
) *Job {
	if lookback <= 0 {
		lookback = time.Hour
	}
	return &Job{
		subRepo:  subRepo,
		itemRepo: itemRepo,
		client:   client,
		metrics:  metrics,
		logger:   logger,
		lookback: lookback,
	}
}

// RunOnce は1回分の取り込みを実行する。
// 購読者単位の失敗はその購読者に閉じ、他の購読者の処理を妨げない。
// 取り込み間隔の重なりによる重複はURL単位の重複排除で吸収する。
func (j *Job) RunOnce(ctx context.Context, nowUTC time.Time) error {
	subs, err := j.subRepo.ListWithProviderToken(ctx)
	if err != nil {
		return err
	}

	since := nowUTC.Add(-j.lookback)

	for _, sub := range subs {
		imported, err := j.importFor(ctx, sub, since)
		if err != nil {
			j.logger.Warn("プロバイダからの取り込みに失敗しました",
				slog.String("subscriber_id", sub.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if imported > 0 {
			j.logger.Info("プロバイダからリンクを取り込みました",
				slog.String("subscriber_id", sub.ID),
				slog.Int("count", imported),
			)
		}
	}

	return nil
}

// importFor は1購読者分の取り込みを実行し、新規作成した件数を返す。
func (j *Job) importFor(ctx context.Context, sub *model.Subscriber, since time.Time) (int, error) {
	providerItems, err := j.client.FetchSince(ctx, sub.ProviderToken, since)
	if err != nil {
		return 0, err
	}

	imported := 0
	for _, pi := range providerItems {
		existing, err := j.itemRepo.FindQueuedByOwnerAndURL(ctx, sub.ID, pi.URL)
		if err != nil {
			return imported, err
		}
		if existing != nil {
			continue
		}

		now := time.Now().UTC()
		item := &model.Item{
			SubscriberID: sub.ID,
			URL:          pi.URL,
			Title:        pi.Title,
			State:        model.ItemStateQueued,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := j.itemRepo.Create(ctx, item); err != nil {
			return imported, err
		}

		j.metrics.RecordItemImported()
		imported++
	}

	return imported, nil
}
