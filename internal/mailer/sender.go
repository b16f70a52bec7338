// Package mailer は送信メールの境界を提供する。
// 外部コラボレータであるNotifierは send(recipient, subject, html, text) の
// 1操作として消費され、SMTP実装は明示的に構築・注入される
// （モジュールレベルのシングルトンは持たない）。
package mailer

import (
	"context"
	"fmt"

	gomail "github.com/wneessen/go-mail"
)

// Sender は送信メールの境界インターフェース。
// 配信オーケストレータと通知系ジョブの双方がこの1操作のみに依存する。
type Sender interface {
	// Send は1通のメールを送信する。htmlBodyが空の場合はテキストのみで送信する。
	Send(ctx context.Context, recipient, subject, htmlBody, textBody string) error
}

// SMTPConfig はSMTP送信の接続設定。
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	Secure   bool   // falseの場合はTLSなし（開発用Maildev構成）
	From     string // 表示名付きの差出人アドレス
}

// SMTPSender はwneessen/go-mailによるSenderの実装。
// クライアントは生成時に1回構築し、送信ごとにダイヤルする。
type SMTPSender struct {
	client *gomail.Client
	from   string
}

// NewSMTPSender はSMTPSenderを生成する。
func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	opts := []gomail.Option{
		gomail.WithPort(cfg.Port),
	}

	if cfg.Secure {
		opts = append(opts, gomail.WithTLSPolicy(gomail.TLSMandatory))
	} else {
		opts = append(opts, gomail.WithTLSPolicy(gomail.NoTLS))
	}

	if cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(cfg.Username),
			gomail.WithPassword(cfg.Password),
		)
	}

	client, err := gomail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("SMTPクライアントの生成に失敗しました: %w", err)
	}

	return &SMTPSender{client: client, from: cfg.From}, nil
}

// Send は1通のメールを送信する。
func (s *SMTPSender) Send(ctx context.Context, recipient, subject, htmlBody, textBody string) error {
	msg := gomail.NewMsg()

	if err := msg.From(s.from); err != nil {
		return fmt.Errorf("差出人アドレスの設定に失敗しました: %w", err)
	}
	if err := msg.To(recipient); err != nil {
		return fmt.Errorf("宛先アドレスの設定に失敗しました: %w", err)
	}

	msg.Subject(subject)
	msg.SetBodyString(gomail.TypeTextPlain, textBody)
	if htmlBody != "" {
		msg.AddAlternativeString(gomail.TypeTextHTML, htmlBody)
	}

	if err := s.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("メールの送信に失敗しました: %w", err)
	}

	return nil
}
