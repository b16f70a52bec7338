// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/clearlist/internal/model"
)

// SubscriberRepository は購読者データの永続化インターフェース。
type SubscriberRepository interface {
	// FindByID は指定IDの購読者を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Subscriber, error)

	// FindByEmail はメールアドレスで購読者を検索する。見つからない場合はnilを返す。
	// 受信メールの差出人特定に使用する。
	FindByEmail(ctx context.Context, email string) (*model.Subscriber, error)

	// Create は購読者を作成する。IdP初回ログイン時に呼ばれる。
	Create(ctx context.Context, sub *model.Subscriber) error

	// UpdatePreferences はタイムゾーン・時刻・曜日の配信設定を更新する。
	UpdatePreferences(ctx context.Context, id string, utcOffset *string, hourPreference int, daysPreference string) error

	// UpdateTier は課金ティアを更新する。
	UpdateTier(ctx context.Context, id string, tier model.Tier) error

	// ClearBillingSubscription は課金プロバイダ側で終了した購読IDをクリアする。
	ClearBillingSubscription(ctx context.Context, id string) error

	// ListSchedulable はタイムゾーン設定済み（配信対象になり得る）購読者を返す。
	ListSchedulable(ctx context.Context) ([]*model.Subscriber, error)

	// ListWithProviderToken はread-laterプロバイダ連携済みの購読者を返す。
	ListWithProviderToken(ctx context.Context) ([]*model.Subscriber, error)

	// ListWithBillingSubscription は課金プロバイダの購読IDを持つ購読者を返す。
	ListWithBillingSubscription(ctx context.Context) ([]*model.Subscriber, error)

	// ListWithoutTimezone はタイムゾーン未設定かつ購読中の購読者を返す。
	ListWithoutTimezone(ctx context.Context) ([]*model.Subscriber, error)

	// ListWithoutBillingSubscription は未購読の購読者を返す。
	ListWithoutBillingSubscription(ctx context.Context) ([]*model.Subscriber, error)

	// DeleteByID は指定IDの購読者を削除する。所有アイテムはCASCADE削除される。
	DeleteByID(ctx context.Context, id string) error
}

// ItemRepository はアイテムデータの永続化インターフェース。
type ItemRepository interface {
	// FindByID は指定IDのアイテムを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.Item, error)

	// FindQueuedByOwnerAndURL は所有者とURLで未配信アイテムを検索する。
	// 追加時の重複排除に使用する。見つからない場合はnilを返す。
	FindQueuedByOwnerAndURL(ctx context.Context, ownerID, url string) (*model.Item, error)

	// FindDeliveredByOwnerAndURL は所有者とURLで配信済みアイテムを検索する。
	// 複数一致する場合は最後に更新されたものを返す。見つからない場合はnilを返す。
	FindDeliveredByOwnerAndURL(ctx context.Context, ownerID, url string) (*model.Item, error)

	// FindLatestDeliveredByOwner は所有者の最新の配信済みアイテムを返す。
	// リンク参照を復元できなかった再スケジュールのフォールバックに使用する。
	FindLatestDeliveredByOwner(ctx context.Context, ownerID string) (*model.Item, error)

	// ListQueuedByOwner は所有者の未配信アイテム一覧を返す。
	ListQueuedByOwner(ctx context.Context, ownerID string) ([]*model.Item, error)

	// CountQueuedByOwner は所有者の未配信アイテム数を返す。
	CountQueuedByOwner(ctx context.Context, ownerID string) (int, error)

	// ListMissingTitle はタイトル未取得のアイテムを返す。エンリッチメント対象の列挙に使用する。
	ListMissingTitle(ctx context.Context, limit int) ([]*model.Item, error)

	// Create は新規アイテムを未配信状態で作成する。作成後のIDをitemに書き戻す。
	Create(ctx context.Context, item *model.Item) error

	// UpdateTitle はアイテムのタイトルを更新する。
	UpdateTitle(ctx context.Context, itemID int64, title string) error

	// CompareAndSwapState は楽観的並行性制御による状態遷移プリミティブ。
	// 「現在の状態がexpectedである場合に限りnextへ更新する」を1文で実行し、
	// 実際に遷移したかどうかを返す。古い状態を観測した遷移はfalse（no-op）であり、
	// エラーではない。
	CompareAndSwapState(ctx context.Context, itemID int64, expected, next model.ItemState) (bool, error)

	// Prioritize は指定アイテムに優先フラグを立てる。
	// 同一所有者の他の未配信アイテムの優先フラグ解除と同一トランザクションで実行し、
	// 「優先かつ未配信のアイテムは高々1件」の不変条件を維持する。
	Prioritize(ctx context.Context, ownerID string, itemID int64) error

	// DeleteQueued は未配信アイテムを削除する。
	// 配信済みアイテムは履歴であり削除対象にならない。削除できたかどうかを返す。
	DeleteQueued(ctx context.Context, ownerID string, itemID int64) (bool, error)
}
