package billing

import (
	"context"
	"log/slog"

	"github.com/hitoshi/clearlist/internal/model"
	"github.com/hitoshi/clearlist/internal/repository"
)

// AuditJob は課金プロバイダとローカルのティア情報の整合性を監査するジョブ。
//
// Webhookの取りこぼしでローカルだけPremiumのまま残った購読者を検出し、
// プロバイダ側で購読が終了していればFreeに降格する。昇格方向の同期は
// Webhook経由でのみ行い、このジョブでは扱わない。
type AuditJob struct {
	subRepo  repository.SubscriberRepository
	provider Provider
	logger   *slog.Logger
}

// NewAuditJob はAuditJobを生成する。
func NewAuditJob(subRepo repository.SubscriberRepository, provider Provider, logger *slog.Logger) *AuditJob {
	return &AuditJob{
		subRepo:  subRepo,
		provider: provider,
		logger:   logger,
	}
}

// RunOnce は1回分の監査を実行する。
// プロバイダ照会の失敗はその購読者に閉じ、降格はスキップされる（安全側）。
func (j *AuditJob) RunOnce(ctx context.Context) error {
	subs, err := j.subRepo.ListWithBillingSubscription(ctx)
	if err != nil {
		return err
	}

	for _, sub := range subs {
		status, err := j.provider.GetSubscription(ctx, sub.BillingSubscriptionID)
		if err != nil {
			j.logger.Warn("課金プロバイダへの照会に失敗しました",
				slog.String("subscriber_id", sub.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if status.Active {
			continue
		}

		if err := j.subRepo.ClearBillingSubscription(ctx, sub.ID); err != nil {
			j.logger.Error("購読IDのクリアに失敗しました",
				slog.String("subscriber_id", sub.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if err := j.subRepo.UpdateTier(ctx, sub.ID, model.TierFree); err != nil {
			j.logger.Error("ティアの降格に失敗しました",
				slog.String("subscriber_id", sub.ID),
				slog.String("error", err.Error()),
			)
			continue
		}

		j.logger.Info("終了済み購読を検出し、Freeに降格しました",
			slog.String("subscriber_id", sub.ID),
		)
	}

	return nil
}
