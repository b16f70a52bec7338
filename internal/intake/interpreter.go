package intake

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hitoshi/clearlist/internal/model"
	"github.com/hitoshi/clearlist/internal/queue"
	"github.com/hitoshi/clearlist/internal/repository"
)

// Outcome はコマンド処理の結果分類。
type Outcome string

const (
	// OutcomeApplied はコマンドが適用された（冪等なno-opを含む）。
	OutcomeApplied Outcome = "applied"
	// OutcomeRejected はコマンドが解釈不能または無効で、通知を返した。
	OutcomeRejected Outcome = "rejected"
	// OutcomeUnknownSender は差出人を特定できなかった。状態は一切変更されない。
	OutcomeUnknownSender Outcome = "unknown_sender"
)

// LinkAdder はリンク追加操作の境界。キュー操作サービスが実装する。
type LinkAdder interface {
	AddLink(ctx context.Context, ownerID, rawURL string) (*queue.AddResult, error)
}

// CommandNotifier はコマンド処理中の購読者向け通知の境界。
type CommandNotifier interface {
	NotifyUnknownSender(ctx context.Context, recipient string) error
	NotifyUnknownAction(ctx context.Context, sub *model.Subscriber) error
}

// Metrics はコマンド処理メトリクスの記録インターフェース。
type Metrics interface {
	RecordCommandProcessed(action string)
	RecordCommandRejected(reason string)
}

// Interpreter は返信メール1通をコマンドとして解釈・適用する。
//
// 戻り値のerrorはインフラ障害（DB・SMTP等）を意味し、呼び出し側は
// メッセージを未読のまま残して次回に再処理させる。ドメイン上の拒否
// （未知の差出人・解釈不能なコマンド）はエラーではなくOutcomeで表す。
type Interpreter struct {
	subRepo  repository.SubscriberRepository
	itemRepo repository.ItemRepository
	adder    LinkAdder
	notifier CommandNotifier
	metrics  Metrics
	logger   *slog.Logger
}

// NewInterpreter はInterpreterを生成する。
func NewInterpreter(
	subRepo repository.SubscriberRepository,
	itemRepo repository.ItemRepository,
	adder LinkAdder,
	notifier CommandNotifier,
	metrics Metrics,
	logger *slog.Logger,
) *Interpreter {
	return &Interpreter{
		subRepo:  subRepo,
		itemRepo: itemRepo,
		adder:    adder,
		notifier: notifier,
		metrics:  metrics,
		logger:   logger,
	}
}

// HandleMessage は受信メッセージ1通を処理する。
func (i *Interpreter) HandleMessage(ctx context.Context, msg *InboundMessage) (Outcome, error) {
	sub, err := i.subRepo.FindByEmail(ctx, msg.From)
	if err != nil {
		return "", err
	}
	if sub == nil {
		// 未知の差出人。いかなる状態も変更せず、通知のみ返す。
		if err := i.notifier.NotifyUnknownSender(ctx, msg.From); err != nil {
			return "", err
		}
		i.metrics.RecordCommandRejected("unknown_sender")
		i.logger.Warn("未登録アドレスからのコマンドメールを拒否しました",
			slog.String("from", msg.From),
		)
		return OutcomeUnknownSender, nil
	}

	cmd := ParseCommand(msg.TextBody)

	switch cmd.Action {
	case ActionAdd:
		return i.applyAdd(ctx, sub, cmd.Argument)
	case ActionReschedule:
		return i.applyReschedule(ctx, sub, msg.HTMLBody)
	default:
		if err := i.notifier.NotifyUnknownAction(ctx, sub); err != nil {
			return "", err
		}
		i.metrics.RecordCommandRejected("unknown_action")
		return OutcomeRejected, nil
	}
}

// applyAdd はリンク追加コマンドを適用する。
// URLの検証エラーや到達不能は解釈不能コマンドと同様に通知で返す。
func (i *Interpreter) applyAdd(ctx context.Context, sub *model.Subscriber, rawURL string) (Outcome, error) {
	result, err := i.adder.AddLink(ctx, sub.ID, rawURL)
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			if notifyErr := i.notifier.NotifyUnknownAction(ctx, sub); notifyErr != nil {
				return "", notifyErr
			}
			i.metrics.RecordCommandRejected("invalid_url")
			return OutcomeRejected, nil
		}
		return "", err
	}

	i.metrics.RecordCommandProcessed(string(ActionAdd))
	i.logger.Info("メールコマンドでリンクを追加しました",
		slog.String("subscriber_id", sub.ID),
		slog.Int64("item_id", result.ItemID),
		slog.Bool("created", result.Created),
	)
	return OutcomeApplied, nil
}

// applyReschedule は再スケジュールコマンドを適用する。
//
// 対象アイテムはHTML本文の参照アンカーから特定する。参照を復元できない
// 場合は最新の配信済みアイテムにフォールバックする。対象が見つからない、
// または既に未配信である場合は冪等なno-opとして成功扱いにする。
func (i *Interpreter) applyReschedule(ctx context.Context, sub *model.Subscriber, htmlBody string) (Outcome, error) {
	target, err := i.resolveRescheduleTarget(ctx, sub, htmlBody)
	if err != nil {
		return "", err
	}
	if target == nil {
		i.logger.Info("再スケジュール対象が見つからないためno-opとします",
			slog.String("subscriber_id", sub.ID),
		)
		i.metrics.RecordCommandProcessed(string(ActionReschedule))
		return OutcomeApplied, nil
	}

	swapped, err := i.itemRepo.CompareAndSwapState(ctx, target.ID, model.ItemStateDelivered, model.ItemStateQueued)
	if err != nil {
		return "", err
	}
	if !swapped {
		// 既に未配信に戻っている。繰り返しの返信は冪等に吸収する。
		i.logger.Info("再スケジュールは既に適用済みでした",
			slog.String("subscriber_id", sub.ID),
			slog.Int64("item_id", target.ID),
		)
	}

	i.metrics.RecordCommandProcessed(string(ActionReschedule))
	return OutcomeApplied, nil
}

// resolveRescheduleTarget は再スケジュール対象のアイテムを解決する。
// 他の購読者のアイテムを指す参照は無効として扱う。
func (i *Interpreter) resolveRescheduleTarget(ctx context.Context, sub *model.Subscriber, htmlBody string) (*model.Item, error) {
	ref, ok := ExtractItemRef(htmlBody)
	if !ok {
		return i.itemRepo.FindLatestDeliveredByOwner(ctx, sub.ID)
	}

	if ref.ID > 0 {
		item, err := i.itemRepo.FindByID(ctx, ref.ID)
		if err != nil {
			return nil, err
		}
		if item == nil || item.SubscriberID != sub.ID {
			return nil, nil
		}
		return item, nil
	}

	return i.itemRepo.FindDeliveredByOwnerAndURL(ctx, sub.ID, ref.URL)
}
