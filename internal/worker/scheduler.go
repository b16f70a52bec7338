// Package worker はバックグラウンドジョブのスケジューリングを提供する。
// 配信ティック、取り込み、エンリッチメント、課金監査、アラートの各ジョブを
// cron式のスケジュールで駆動する。
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// ジョブごとのcronスケジュール。
// 配信ティックは毎時1分に実行する。取り込みを直前に実行することで、
// プロバイダから届いたばかりのリンクも同じ時間の配信候補に入る。
const (
	ScheduleDelivery = "1 * * * *"
	ScheduleEnrich   = "*/2 * * * *"
	ScheduleIntake   = "*/10 * * * *"
	ScheduleBilling  = "15 4 * * *"
	ScheduleAlerts   = "0 9 * * 3"
)

// DeliveryRunner は配信ティックの実行インターフェース。
type DeliveryRunner interface {
	RunOnce(ctx context.Context, nowUTC time.Time) error
}

// ImportRunner はプロバイダ取り込みの実行インターフェース。
type ImportRunner interface {
	RunOnce(ctx context.Context, nowUTC time.Time) error
}

// JobRunner は時刻引数を取らないジョブの実行インターフェース。
type JobRunner interface {
	RunOnce(ctx context.Context) error
}

// Scheduler は全バックグラウンドジョブのcronスケジューラ。
type Scheduler struct {
	delivery DeliveryRunner
	importer ImportRunner
	enrich   JobRunner
	intake   JobRunner
	billing  JobRunner
	alerts   JobRunner
	logger   *slog.Logger

	cron *cron.Cron
}

// NewScheduler はSchedulerを生成する。
// 個々のジョブはnilを許容し、nilのジョブは登録されない（テストや部分起動用）。
func NewScheduler(
	delivery DeliveryRunner,
	importer ImportRunner,
	enrich JobRunner,
	intake JobRunner,
	billing JobRunner,
	alerts JobRunner,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		delivery: delivery,
		importer: importer,
		enrich:   enrich,
		intake:   intake,
		billing:  billing,
		alerts:   alerts,
		logger:   logger,
	}
}

// Start はスケジューラを起動し、コンテキストのキャンセルまでブロックする。
// すべてのスケジュールはUTCで解釈される。ウィンドウ判定はティック時刻を
// 各購読者のオフセットでローカル時刻に変換して行うため、サーバーの
// タイムゾーンに依存しない。
func (s *Scheduler) Start(ctx context.Context) error {
	s.cron = cron.New(cron.WithLocation(time.UTC))

	if s.delivery != nil {
		if _, err := s.cron.AddFunc(ScheduleDelivery, func() { s.runDeliveryTick(ctx) }); err != nil {
			return err
		}
	}
	if s.enrich != nil {
		if _, err := s.cron.AddFunc(ScheduleEnrich, func() { s.run(ctx, "enrich", s.enrich) }); err != nil {
			return err
		}
	}
	if s.intake != nil {
		if _, err := s.cron.AddFunc(ScheduleIntake, func() { s.run(ctx, "intake", s.intake) }); err != nil {
			return err
		}
	}
	if s.billing != nil {
		if _, err := s.cron.AddFunc(ScheduleBilling, func() { s.run(ctx, "billing_audit", s.billing) }); err != nil {
			return err
		}
	}
	if s.alerts != nil {
		if _, err := s.cron.AddFunc(ScheduleAlerts, func() { s.run(ctx, "alerts", s.alerts) }); err != nil {
			return err
		}
	}

	s.cron.Start()
	s.logger.Info("ワーカースケジューラを開始しました")

	<-ctx.Done()

	stopCtx := s.cron.Stop()
	// 実行中のジョブの完了を待ってから戻る
	<-stopCtx.Done()
	s.logger.Info("ワーカースケジューラを停止しました")

	return nil
}

// runDeliveryTick は取り込みと配信ティックを1回実行する。
// 取り込みの失敗は配信を止めない。
func (s *Scheduler) runDeliveryTick(ctx context.Context) {
	now := time.Now().UTC()

	if s.importer != nil {
		if err := s.importer.RunOnce(ctx, now); err != nil {
			s.logger.Error("取り込みジョブの実行に失敗しました",
				slog.String("error", err.Error()),
			)
		}
	}

	if err := s.delivery.RunOnce(ctx, now); err != nil {
		s.logger.Error("配信ティックの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}

// run はジョブを1回実行し、失敗をログに記録する。
func (s *Scheduler) run(ctx context.Context, name string, job JobRunner) {
	if err := job.RunOnce(ctx); err != nil {
		s.logger.Error("バックグラウンドジョブの実行に失敗しました",
			slog.String("job", name),
			slog.String("error", err.Error()),
		)
	}
}
