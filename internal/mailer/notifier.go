package mailer

import (
	"context"
	"fmt"

	"github.com/hitoshi/clearlist/internal/model"
)

// 購読者向け通知の件名。テストフィクスチャとしても参照される固定文言。
const (
	SubjectDigest          = "ClearList - Reading Time"
	SubjectEmptyList       = "You're running out of articles!"
	SubjectMissingTimezone = "Your account is not ready yet"
	SubjectTrialRequired   = "You need to activate your free trial."
	SubjectUnknownAction   = "Error understanding your action"
	SubjectUnknownSender   = "Error identifying who you are"
)

// Notifier は購読者向けの定型通知を組み立てて送信する。
type Notifier struct {
	sender       Sender
	contactEmail string
	baseURL      string
}

// NewNotifier はNotifierを生成する。
// contactEmailは通知文面に記載する問い合わせ先アドレス。
func NewNotifier(sender Sender, contactEmail, baseURL string) *Notifier {
	return &Notifier{
		sender:       sender,
		contactEmail: contactEmail,
		baseURL:      baseURL,
	}
}

// NotifyUnknownSender は登録のないアドレスからのコマンドメールに対する
// 「差出人を特定できない」通知を送る。
func (n *Notifier) NotifyUnknownSender(ctx context.Context, recipient string) error {
	text := fmt.Sprintf(
		"Hello friend, \n\nWe've got an issue finding who you are. If you think this is wrong, please contact me at %s. \n\n Have a nice day!",
		n.contactEmail,
	)
	return n.sender.Send(ctx, recipient, SubjectUnknownSender, "", text)
}

// NotifyUnknownAction は解釈できないコマンドに対する通知を送る。
func (n *Notifier) NotifyUnknownAction(ctx context.Context, sub *model.Subscriber) error {
	text := fmt.Sprintf(
		"Hello %s, \n\nWe've got an issue understanding your action. If you think this is wrong, please contact me at %s. \n\n Have a nice day!",
		sub.ScreenName, n.contactEmail,
	)
	return n.sender.Send(ctx, sub.Email, SubjectUnknownAction, "", text)
}

// NotifyEmptyList はキューが空の購読者へのリマインド通知を送る。
func (n *Notifier) NotifyEmptyList(ctx context.Context, sub *model.Subscriber) error {
	text := fmt.Sprintf(
		"Hey %s, just a friendly reminder to tell you that you have no article to be sent!\n\nYou can add a new one any time from your account: %s/account",
		sub.ScreenName, n.baseURL,
	)
	return n.sender.Send(ctx, sub.Email, SubjectEmptyList, "", text)
}

// NotifyMissingTimezone はタイムゾーン未設定の購読者への設定催促通知を送る。
func (n *Notifier) NotifyMissingTimezone(ctx context.Context, sub *model.Subscriber) error {
	text := fmt.Sprintf(
		"Hey %s, your account isn't completely set up: you haven't selected a timezone yet, which means you won't receive any email from ClearList except this one.\n\nPick your favorite hour and timezone here: %s/account",
		sub.ScreenName, n.baseURL,
	)
	return n.sender.Send(ctx, sub.Email, SubjectMissingTimezone, "", text)
}

// NotifyTrialRequired は未購読の購読者への無料トライアル有効化の案内を送る。
func (n *Notifier) NotifyTrialRequired(ctx context.Context, sub *model.Subscriber) error {
	text := fmt.Sprintf(
		"Hey %s, ClearList has switched from freemium to subscription model, let's talk!\n\nYou can start a 15-day free trial from your account, no credit card required: %s/account",
		sub.ScreenName, n.baseURL,
	)
	return n.sender.Send(ctx, sub.Email, SubjectTrialRequired, "", text)
}
