package mailer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/hitoshi/clearlist/internal/model"
)

// --- モック ---

type sentMail struct {
	recipient string
	subject   string
	htmlBody  string
	textBody  string
}

type mockSender struct {
	sent []sentMail
	err  error
}

func (m *mockSender) Send(ctx context.Context, recipient, subject, htmlBody, textBody string) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMail{recipient, subject, htmlBody, textBody})
	return nil
}

// --- ヘルパー ---

func testSubscriber() *model.Subscriber {
	return &model.Subscriber{
		ID:         "sub-1",
		Email:      "reader@example.com",
		ScreenName: "reader",
		Tier:       model.TierFree,
	}
}

// --- テスト ---

func TestNotifier_Subjects(t *testing.T) {
	tests := []struct {
		name        string
		notify      func(n *Notifier, sender *mockSender) error
		wantSubject string
		wantTo      string
	}{
		{
			name: "差出人不明",
			notify: func(n *Notifier, _ *mockSender) error {
				return n.NotifyUnknownSender(context.Background(), "stranger@example.com")
			},
			wantSubject: SubjectUnknownSender,
			wantTo:      "stranger@example.com",
		},
		{
			name: "解釈不能なコマンド",
			notify: func(n *Notifier, _ *mockSender) error {
				return n.NotifyUnknownAction(context.Background(), testSubscriber())
			},
			wantSubject: SubjectUnknownAction,
			wantTo:      "reader@example.com",
		},
		{
			name: "空キュー",
			notify: func(n *Notifier, _ *mockSender) error {
				return n.NotifyEmptyList(context.Background(), testSubscriber())
			},
			wantSubject: SubjectEmptyList,
			wantTo:      "reader@example.com",
		},
		{
			name: "タイムゾーン未設定",
			notify: func(n *Notifier, _ *mockSender) error {
				return n.NotifyMissingTimezone(context.Background(), testSubscriber())
			},
			wantSubject: SubjectMissingTimezone,
			wantTo:      "reader@example.com",
		},
		{
			name: "トライアル未開始",
			notify: func(n *Notifier, _ *mockSender) error {
				return n.NotifyTrialRequired(context.Background(), testSubscriber())
			},
			wantSubject: SubjectTrialRequired,
			wantTo:      "reader@example.com",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &mockSender{}
			n := NewNotifier(sender, "me@clearlist.app", "https://clearlist.app")

			if err := tt.notify(n, sender); err != nil {
				t.Fatalf("予期しないエラー: %v", err)
			}

			if len(sender.sent) != 1 {
				t.Fatalf("送信数: got %d, want 1", len(sender.sent))
			}
			mail := sender.sent[0]
			if mail.subject != tt.wantSubject {
				t.Errorf("件名: got %q, want %q", mail.subject, tt.wantSubject)
			}
			if mail.recipient != tt.wantTo {
				t.Errorf("宛先: got %q, want %q", mail.recipient, tt.wantTo)
			}
			if mail.textBody == "" {
				t.Error("本文が空です")
			}
			if mail.htmlBody != "" {
				t.Error("通知はテキストのみで送られるべきです")
			}
		})
	}
}

func TestNotifier_BodyIncludesContactAndAccountLinks(t *testing.T) {
	sender := &mockSender{}
	n := NewNotifier(sender, "me@clearlist.app", "https://clearlist.app")

	if err := n.NotifyUnknownSender(context.Background(), "stranger@example.com"); err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}
	if !strings.Contains(sender.sent[0].textBody, "me@clearlist.app") {
		t.Error("本文に連絡先アドレスが含まれていません")
	}

	if err := n.NotifyEmptyList(context.Background(), testSubscriber()); err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}
	if !strings.Contains(sender.sent[1].textBody, "https://clearlist.app/account") {
		t.Error("本文にアカウントページへのリンクが含まれていません")
	}
}

func TestNotifier_SenderErrorIsPropagated(t *testing.T) {
	sender := &mockSender{err: errors.New("SMTP down")}
	n := NewNotifier(sender, "me@clearlist.app", "https://clearlist.app")

	if err := n.NotifyUnknownAction(context.Background(), testSubscriber()); err == nil {
		t.Fatal("エラーが返されるべきです")
	}
}
