// Package model はドメインモデルを定義する。
package model

import "time"

// ItemState はアイテムの配信状態を表す。
type ItemState string

const (
	// ItemStateQueued は未配信（今後の配信候補）を表す。
	ItemStateQueued ItemState = "queued"
	// ItemStateDelivered は配信済みを表す。
	ItemStateDelivered ItemState = "delivered"
)

// Item は購読者1人が所有する「あとで読む」アイテムを表す。
// 所有は排他的で、購読者間での共有はない。
type Item struct {
	ID           int64
	SubscriberID string
	URL          string
	Title        string // タイトルは非同期のエンリッチメントで後から埋まる。空があり得る。
	State        ItemState
	Prioritized  bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CanTransition はアイテム状態の遷移が許可されているかを返す。
// 許可される遷移は Queued→Delivered（配信）と Delivered→Queued（再スケジュール）のみ。
// Delivered→Delivered や Delivered状態での新規作成は許可されない。
func CanTransition(from, to ItemState) bool {
	switch {
	case from == ItemStateQueued && to == ItemStateDelivered:
		return true
	case from == ItemStateDelivered && to == ItemStateQueued:
		return true
	default:
		return false
	}
}
