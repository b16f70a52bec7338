// Package alerts は購読者の状態に応じた週次リマインド通知を提供する。
package alerts

import (
	"context"
	"log/slog"

	"github.com/hitoshi/clearlist/internal/model"
	"github.com/hitoshi/clearlist/internal/repository"
)

// Notifier はアラート通知の送信境界。
type Notifier interface {
	NotifyEmptyList(ctx context.Context, sub *model.Subscriber) error
	NotifyMissingTimezone(ctx context.Context, sub *model.Subscriber) error
	NotifyTrialRequired(ctx context.Context, sub *model.Subscriber) error
}

// Metrics はアラートメトリクスの記録インターフェース。
type Metrics interface {
	RecordAlertSent(kind string)
}

// アラート種別。メトリクスのラベル値として使用する。
const (
	KindEmptyList       = "empty_list"
	KindMissingTimezone = "missing_timezone"
	KindTrialRequired   = "trial_required"
)

// Job は週次アラートジョブ。
// キューが空の購読者、タイムゾーン未設定の購読者、未購読の購読者の
// 3種類のリマインドをまとめて送る。
type Job struct {
	subRepo  repository.SubscriberRepository
	itemRepo repository.ItemRepository
	notifier Notifier
	metrics  Metrics
	logger   *slog.Logger
}

// NewJob はJobを生成する。
func NewJob(
	subRepo repository.SubscriberRepository,
	itemRepo repository.ItemRepository,
	notifier Notifier,
	metrics Metrics,
	logger *slog.Logger,
) *Job {
	return &Job{
		subRepo:  subRepo,
		itemRepo: itemRepo,
		notifier: notifier,
		metrics:  metrics,
		logger:   logger,
	}
}

// RunOnce は1回分のアラート送信を実行する。
// 購読者単位の失敗はその購読者に閉じ、他の通知の送信を妨げない。
func (j *Job) RunOnce(ctx context.Context) error {
	if err := j.alertEmptyLists(ctx); err != nil {
		return err
	}
	if err := j.alertMissingTimezones(ctx); err != nil {
		return err
	}
	return j.alertTrialRequired(ctx)
}

// alertEmptyLists は配信対象だがキューが空の購読者へリマインドを送る。
func (j *Job) alertEmptyLists(ctx context.Context) error {
	subs, err := j.subRepo.ListSchedulable(ctx)
	if err != nil {
		return err
	}

	for _, sub := range subs {
		count, err := j.itemRepo.CountQueuedByOwner(ctx, sub.ID)
		if err != nil {
			j.logger.Warn("未配信アイテム数の取得に失敗しました",
				slog.String("subscriber_id", sub.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if count > 0 {
			continue
		}

		j.send(ctx, sub, KindEmptyList, j.notifier.NotifyEmptyList)
	}

	return nil
}

// alertMissingTimezones はタイムゾーン未設定で配信対象外の購読者へ
// 設定催促を送る。
func (j *Job) alertMissingTimezones(ctx context.Context) error {
	subs, err := j.subRepo.ListWithoutTimezone(ctx)
	if err != nil {
		return err
	}

	for _, sub := range subs {
		j.send(ctx, sub, KindMissingTimezone, j.notifier.NotifyMissingTimezone)
	}

	return nil
}

// alertTrialRequired は未購読の購読者へ無料トライアルの案内を送る。
func (j *Job) alertTrialRequired(ctx context.Context) error {
	subs, err := j.subRepo.ListWithoutBillingSubscription(ctx)
	if err != nil {
		return err
	}

	for _, sub := range subs {
		j.send(ctx, sub, KindTrialRequired, j.notifier.NotifyTrialRequired)
	}

	return nil
}

func (j *Job) send(ctx context.Context, sub *model.Subscriber, kind string, notify func(context.Context, *model.Subscriber) error) {
	if err := notify(ctx, sub); err != nil {
		j.logger.Warn("アラート通知の送信に失敗しました",
			slog.String("subscriber_id", sub.ID),
			slog.String("kind", kind),
			slog.String("error", err.Error()),
		)
		return
	}
	j.metrics.RecordAlertSent(kind)
}
