package intake

import (
	"context"
	"log/slog"
	"sync"
)

// Processor は受信ボックスの未読メッセージを定期的に処理するドライバ。
//
// 既読化（Ack）はコマンド適用の成功後にのみ行う。適用前にプロセスが
// 落ちた場合、メッセージは未読のまま残り次回に再処理される。適用は
// 冪等（重複追加の排除・CASによる遷移）なので再処理は安全側に倒れる。
type Processor struct {
	dialer        MailboxDialer
	interpreter   *Interpreter
	logger        *slog.Logger
	maxConcurrent int
}

// NewProcessor はProcessorを生成する。
// maxConcurrentが0以下の場合はデフォルト値4を使用する。
func NewProcessor(dialer MailboxDialer, interpreter *Interpreter, logger *slog.Logger, maxConcurrent int) *Processor {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	return &Processor{
		dialer:        dialer,
		interpreter:   interpreter,
		logger:        logger,
		maxConcurrent: maxConcurrent,
	}
}

// RunOnce は1回分の取り込みを実行する。
// メッセージ単位の失敗はそのメッセージに閉じ、他のメッセージの処理を妨げない。
func (p *Processor) RunOnce(ctx context.Context) error {
	mailbox, err := p.dialer.Dial()
	if err != nil {
		return err
	}
	defer mailbox.Close()

	messages, err := mailbox.FetchUnseen()
	if err != nil {
		return err
	}
	if len(messages) == 0 {
		return nil
	}

	p.logger.Info("未読コマンドメールを処理します", slog.Int("count", len(messages)))

	sem := make(chan struct{}, p.maxConcurrent)
	var wg sync.WaitGroup
	var mu sync.Mutex // Ackはセッション共有のため直列化する

	for _, msg := range messages {
		wg.Add(1)
		sem <- struct{}{}

		go func(msg *InboundMessage) {
			defer wg.Done()
			defer func() { <-sem }()

			outcome, err := p.interpreter.HandleMessage(ctx, msg)
			if err != nil {
				// 未読のまま残し、次回の取り込みで再処理させる。
				p.logger.Error("コマンドメールの処理に失敗しました",
					slog.Int("uid", int(msg.UID)),
					slog.String("error", err.Error()),
				)
				return
			}

			mu.Lock()
			ackErr := mailbox.Ack(msg.UID)
			mu.Unlock()
			if ackErr != nil {
				p.logger.Error("メッセージの既読化に失敗しました",
					slog.Int("uid", int(msg.UID)),
					slog.String("error", ackErr.Error()),
				)
				return
			}

			p.logger.Info("コマンドメールを処理しました",
				slog.Int("uid", int(msg.UID)),
				slog.String("outcome", string(outcome)),
			)
		}(msg)
	}

	wg.Wait()
	return nil
}
