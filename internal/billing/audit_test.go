package billing

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/hitoshi/clearlist/internal/model"
)

// --- モック ---

type mockSubscriberRepo struct {
	listWithBillingFunc func(ctx context.Context) ([]*model.Subscriber, error)

	clearedIDs  []string
	updatedTier map[string]model.Tier
}

func (m *mockSubscriberRepo) FindByID(ctx context.Context, id string) (*model.Subscriber, error) {
	return nil, nil
}

func (m *mockSubscriberRepo) FindByEmail(ctx context.Context, email string) (*model.Subscriber, error) {
	return nil, nil
}

func (m *mockSubscriberRepo) Create(ctx context.Context, sub *model.Subscriber) error { return nil }

func (m *mockSubscriberRepo) UpdatePreferences(ctx context.Context, id string, utcOffset *string, hourPreference int, daysPreference string) error {
	return nil
}

func (m *mockSubscriberRepo) UpdateTier(ctx context.Context, id string, tier model.Tier) error {
	if m.updatedTier == nil {
		m.updatedTier = make(map[string]model.Tier)
	}
	m.updatedTier[id] = tier
	return nil
}

func (m *mockSubscriberRepo) ClearBillingSubscription(ctx context.Context, id string) error {
	m.clearedIDs = append(m.clearedIDs, id)
	return nil
}

func (m *mockSubscriberRepo) ListSchedulable(ctx context.Context) ([]*model.Subscriber, error) {
	return nil, nil
}

func (m *mockSubscriberRepo) ListWithProviderToken(ctx context.Context) ([]*model.Subscriber, error) {
	return nil, nil
}

func (m *mockSubscriberRepo) ListWithBillingSubscription(ctx context.Context) ([]*model.Subscriber, error) {
	if m.listWithBillingFunc != nil {
		return m.listWithBillingFunc(ctx)
	}
	return nil, nil
}

func (m *mockSubscriberRepo) ListWithoutTimezone(ctx context.Context) ([]*model.Subscriber, error) {
	return nil, nil
}

func (m *mockSubscriberRepo) ListWithoutBillingSubscription(ctx context.Context) ([]*model.Subscriber, error) {
	return nil, nil
}

func (m *mockSubscriberRepo) DeleteByID(ctx context.Context, id string) error { return nil }

type mockProvider struct {
	statuses map[string]*SubscriptionStatus
	errs     map[string]error
}

func (m *mockProvider) GetSubscription(ctx context.Context, subscriptionID string) (*SubscriptionStatus, error) {
	if err, ok := m.errs[subscriptionID]; ok {
		return nil, err
	}
	if status, ok := m.statuses[subscriptionID]; ok {
		return status, nil
	}
	return &SubscriptionStatus{Active: false}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func premiumWithSubscription(id, billingSubID string) *model.Subscriber {
	return &model.Subscriber{
		ID:                    id,
		Email:                 id + "@example.com",
		Tier:                  model.TierPremium,
		BillingSubscriptionID: billingSubID,
	}
}

// --- テスト ---

func TestAuditRunOnce_DowngradesInactiveSubscriptions(t *testing.T) {
	subRepo := &mockSubscriberRepo{
		listWithBillingFunc: func(ctx context.Context) ([]*model.Subscriber, error) {
			return []*model.Subscriber{
				premiumWithSubscription("sub-active", "bill-1"),
				premiumWithSubscription("sub-canceled", "bill-2"),
			}, nil
		},
	}
	provider := &mockProvider{
		statuses: map[string]*SubscriptionStatus{
			"bill-1": {Active: true},
			"bill-2": {Active: false},
		},
	}

	job := NewAuditJob(subRepo, provider, testLogger())
	if err := job.RunOnce(context.Background()); err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}

	if len(subRepo.clearedIDs) != 1 || subRepo.clearedIDs[0] != "sub-canceled" {
		t.Errorf("クリアされた購読者: got %v, want [sub-canceled]", subRepo.clearedIDs)
	}
	if got := subRepo.updatedTier["sub-canceled"]; got != model.TierFree {
		t.Errorf("ティア: got %s, want %s", got, model.TierFree)
	}
	if _, ok := subRepo.updatedTier["sub-active"]; ok {
		t.Error("有効な購読者が降格されました")
	}
}

func TestAuditRunOnce_ProviderFailureSkipsSafely(t *testing.T) {
	// 照会に失敗した購読者は降格せず、他の購読者の監査は継続する。
	subRepo := &mockSubscriberRepo{
		listWithBillingFunc: func(ctx context.Context) ([]*model.Subscriber, error) {
			return []*model.Subscriber{
				premiumWithSubscription("sub-err", "bill-err"),
				premiumWithSubscription("sub-canceled", "bill-2"),
			}, nil
		},
	}
	provider := &mockProvider{
		statuses: map[string]*SubscriptionStatus{"bill-2": {Active: false}},
		errs:     map[string]error{"bill-err": errors.New("api down")},
	}

	job := NewAuditJob(subRepo, provider, testLogger())
	if err := job.RunOnce(context.Background()); err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}

	if len(subRepo.clearedIDs) != 1 || subRepo.clearedIDs[0] != "sub-canceled" {
		t.Errorf("クリアされた購読者: got %v, want [sub-canceled]", subRepo.clearedIDs)
	}
	if _, ok := subRepo.updatedTier["sub-err"]; ok {
		t.Error("照会失敗の購読者が降格されました")
	}
}
