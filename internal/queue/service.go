// Package queue は「あとで読む」キューに対する操作のドメインロジックを提供する。
// HTTP層とメールコマンド取り込みの双方が同じ状態遷移規則を経由する。
package queue

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/clearlist/internal/model"
	"github.com/hitoshi/clearlist/internal/repository"
)

// AddResult はリンク追加操作の結果。
// 重複排除によるno-opは失敗ではなく、Created=falseで既存IDを返す。
type AddResult struct {
	Created bool
	ItemID  int64
}

// Service はキュー操作のドメインサービス。
type Service struct {
	subRepo  repository.SubscriberRepository
	itemRepo repository.ItemRepository
	prober   Prober
	logger   *slog.Logger
}

// NewService はServiceを生成する。
func NewService(
	subRepo repository.SubscriberRepository,
	itemRepo repository.ItemRepository,
	prober Prober,
	logger *slog.Logger,
) *Service {
	return &Service{
		subRepo:  subRepo,
		itemRepo: itemRepo,
		prober:   prober,
		logger:   logger,
	}
}

// NormalizeURL はユーザー入力のURLを正規化する。
// スキームが無い場合はhttp://を前置する。ホストを持たないURLはエラー。
func NormalizeURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", model.NewInvalidURLError("URLが空です")
	}

	if !strings.Contains(trimmed, "://") {
		trimmed = "http://" + trimmed
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return "", model.NewInvalidURLError(err.Error())
	}
	if parsed.Host == "" {
		return "", model.NewInvalidURLError("ホストがありません")
	}

	return parsed.String(), nil
}

// AddLink はリンクをキューに追加する。
// 正規化→到達性プローブ→重複排除→作成の順に適用する。
// 同一所有者・同一URLの未配信アイテムが既にある場合はno-op（冪等）。
func (s *Service) AddLink(ctx context.Context, ownerID, rawURL string) (*AddResult, error) {
	normalized, err := NormalizeURL(rawURL)
	if err != nil {
		return nil, err
	}

	if !s.prober.Exists(ctx, normalized) {
		return nil, model.NewURLUnreachableError(normalized)
	}

	existing, err := s.itemRepo.FindQueuedByOwnerAndURL(ctx, ownerID, normalized)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &AddResult{Created: false, ItemID: existing.ID}, nil
	}

	now := time.Now().UTC()
	item := &model.Item{
		SubscriberID: ownerID,
		URL:          normalized,
		State:        model.ItemStateQueued,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.itemRepo.Create(ctx, item); err != nil {
		return nil, err
	}

	s.logger.Info("リンクを追加しました",
		slog.String("subscriber_id", ownerID),
		slog.Int64("item_id", item.ID),
	)

	return &AddResult{Created: true, ItemID: item.ID}, nil
}

// DeleteLink は未配信アイテムを削除する。
// 配信済みアイテムは履歴であり、キューAPI経由では削除できない。
func (s *Service) DeleteLink(ctx context.Context, ownerID string, itemID int64) error {
	deleted, err := s.itemRepo.DeleteQueued(ctx, ownerID, itemID)
	if err != nil {
		return err
	}
	if deleted {
		return nil
	}

	// 削除できなかった理由を型付きで返す。
	item, err := s.itemRepo.FindByID(ctx, itemID)
	if err != nil {
		return err
	}
	if item == nil || item.SubscriberID != ownerID {
		return model.NewItemNotFoundError(itemID)
	}
	return model.NewItemNotQueuedError(itemID)
}

// PrioritizeLink はアイテムに優先フラグを立てる。Premium限定。
// 同一所有者の既存の優先フラグはトランザクション内で解除され、
// 「優先かつ未配信は高々1件」の不変条件が維持される。
func (s *Service) PrioritizeLink(ctx context.Context, ownerID string, itemID int64) error {
	sub, err := s.subRepo.FindByID(ctx, ownerID)
	if err != nil {
		return err
	}
	if sub == nil {
		return model.NewSubscriberNotFoundError()
	}
	if !sub.IsPremium() {
		return model.NewPremiumRequiredError("prioritize")
	}

	item, err := s.itemRepo.FindByID(ctx, itemID)
	if err != nil {
		return err
	}
	if item == nil || item.SubscriberID != ownerID {
		return model.NewItemNotFoundError(itemID)
	}
	if item.State != model.ItemStateQueued {
		return model.NewItemNotQueuedError(itemID)
	}

	return s.itemRepo.Prioritize(ctx, ownerID, itemID)
}

// RescheduleLink は配信済みアイテムを未配信に戻す。Premium限定（HTTP契約）。
// 遷移は楽観的並行性制御で実行され、競合時は型付きエラーになる。
func (s *Service) RescheduleLink(ctx context.Context, ownerID string, itemID int64) error {
	sub, err := s.subRepo.FindByID(ctx, ownerID)
	if err != nil {
		return err
	}
	if sub == nil {
		return model.NewSubscriberNotFoundError()
	}
	if !sub.IsPremium() {
		return model.NewPremiumRequiredError("reschedule")
	}

	item, err := s.itemRepo.FindByID(ctx, itemID)
	if err != nil {
		return err
	}
	if item == nil || item.SubscriberID != ownerID {
		return model.NewItemNotFoundError(itemID)
	}
	if item.State != model.ItemStateDelivered {
		return model.NewItemNotDeliveredError(itemID)
	}

	swapped, err := s.itemRepo.CompareAndSwapState(ctx, itemID, model.ItemStateDelivered, model.ItemStateQueued)
	if err != nil {
		return err
	}
	if !swapped {
		return model.NewItemNotDeliveredError(itemID)
	}

	return nil
}
