package intake

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/hitoshi/clearlist/internal/model"
)

// --- モック ---

type mockMailbox struct {
	mu       sync.Mutex
	messages []*InboundMessage
	fetchErr error
	acked    []uint32
	closed   bool
}

func (m *mockMailbox) FetchUnseen() ([]*InboundMessage, error) {
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	return m.messages, nil
}

func (m *mockMailbox) Ack(uid uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acked = append(m.acked, uid)
	return nil
}

func (m *mockMailbox) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

type mockDialer struct {
	mailbox *mockMailbox
	dialErr error
}

func (m *mockDialer) Dial() (Mailbox, error) {
	if m.dialErr != nil {
		return nil, m.dialErr
	}
	return m.mailbox, nil
}

// --- テスト ---

func TestProcessorRunOnce_AcksOnlyAppliedMessages(t *testing.T) {
	// good@example.com は登録済み、bad@example.com の検索はDB障害を返す。
	sub := registeredSubscriber("good@example.com")
	subRepo := &mockSubscriberRepo{
		findByEmailFunc: func(ctx context.Context, email string) (*model.Subscriber, error) {
			if email == "bad@example.com" {
				return nil, errors.New("db down")
			}
			if email == sub.Email {
				return sub, nil
			}
			return nil, nil
		},
	}
	interp := NewInterpreter(subRepo, &mockItemRepo{}, &mockAdder{}, &mockNotifier{}, &mockMetrics{}, testLogger())

	mailbox := &mockMailbox{
		messages: []*InboundMessage{
			{UID: 1, From: "good@example.com", TextBody: "add https://example.com/a"},
			{UID: 2, From: "bad@example.com", TextBody: "unseen"},
		},
	}
	processor := NewProcessor(&mockDialer{mailbox: mailbox}, interp, testLogger(), 2)

	if err := processor.RunOnce(context.Background()); err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}

	// 適用に成功したメッセージのみ既読化される。失敗分は未読のまま残る。
	if len(mailbox.acked) != 1 || mailbox.acked[0] != 1 {
		t.Errorf("既読化されたUID: got %v, want [1]", mailbox.acked)
	}
	if !mailbox.closed {
		t.Error("セッションがクローズされていません")
	}
}

func TestProcessorRunOnce_RejectedMessagesAreAcked(t *testing.T) {
	// 未知の差出人はドメイン上の拒否であり、再処理しても結果は同じ。
	// 通知の重複送信を防ぐため既読化する。
	interp := NewInterpreter(subRepoWith(nil), &mockItemRepo{}, &mockAdder{}, &mockNotifier{}, &mockMetrics{}, testLogger())

	mailbox := &mockMailbox{
		messages: []*InboundMessage{
			{UID: 9, From: "stranger@example.com", TextBody: "add https://example.com"},
		},
	}
	processor := NewProcessor(&mockDialer{mailbox: mailbox}, interp, testLogger(), 1)

	if err := processor.RunOnce(context.Background()); err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}
	if len(mailbox.acked) != 1 || mailbox.acked[0] != 9 {
		t.Errorf("既読化されたUID: got %v, want [9]", mailbox.acked)
	}
}

func TestProcessorRunOnce_DialFailure(t *testing.T) {
	interp := NewInterpreter(subRepoWith(nil), &mockItemRepo{}, &mockAdder{}, &mockNotifier{}, &mockMetrics{}, testLogger())
	processor := NewProcessor(&mockDialer{dialErr: errors.New("connection refused")}, interp, testLogger(), 1)

	if err := processor.RunOnce(context.Background()); err == nil {
		t.Fatal("接続失敗はエラーとして返されるべきです")
	}
}

func TestProcessorRunOnce_EmptyMailbox(t *testing.T) {
	interp := NewInterpreter(subRepoWith(nil), &mockItemRepo{}, &mockAdder{}, &mockNotifier{}, &mockMetrics{}, testLogger())
	mailbox := &mockMailbox{}
	processor := NewProcessor(&mockDialer{mailbox: mailbox}, interp, testLogger(), 1)

	if err := processor.RunOnce(context.Background()); err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}
	if len(mailbox.acked) != 0 {
		t.Errorf("空の受信ボックスで既読化が実行されました: %v", mailbox.acked)
	}
}
