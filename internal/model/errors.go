// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// 不変条件違反は沈黙のno-opではなく、このエラー型の理由コードとして返す。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, queue, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeSubscriberNotFound = "SUBSCRIBER_NOT_FOUND"
	ErrCodePremiumRequired    = "PREMIUM_REQUIRED"
	ErrCodeItemNotFound       = "ITEM_NOT_FOUND"
	ErrCodeItemNotQueued      = "ITEM_NOT_QUEUED"
	ErrCodeItemNotDelivered   = "ITEM_NOT_DELIVERED"
	ErrCodeInvalidURL         = "INVALID_URL"
	ErrCodeURLUnreachable     = "URL_UNREACHABLE"
	ErrCodeSSRFBlocked        = "SSRF_BLOCKED"
)

// NewSubscriberNotFoundError は購読者未検出エラーを生成する。
func NewSubscriberNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeSubscriberNotFound,
		Message:  "購読者が見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewPremiumRequiredError はPremium限定操作をFreeティアで実行した場合のエラーを生成する。
func NewPremiumRequiredError(operation string) *APIError {
	return &APIError{
		Code:     ErrCodePremiumRequired,
		Message:  fmt.Sprintf("この操作はPremiumプラン限定です: %s", operation),
		Category: "queue",
		Action:   "Premiumプランへのアップグレードをご検討ください。",
	}
}

// NewItemNotFoundError はアイテム未検出エラーを生成する。
func NewItemNotFoundError(itemID int64) *APIError {
	return &APIError{
		Code:     ErrCodeItemNotFound,
		Message:  fmt.Sprintf("指定されたアイテムが見つかりません: %d", itemID),
		Category: "queue",
		Action:   "アイテムIDを確認してください。",
	}
}

// NewItemNotQueuedError は未配信状態でのみ許可される操作を配信済みアイテムに
// 実行した場合のエラーを生成する。配信済みアイテムは履歴として保持される。
func NewItemNotQueuedError(itemID int64) *APIError {
	return &APIError{
		Code:     ErrCodeItemNotQueued,
		Message:  fmt.Sprintf("アイテムは未配信状態ではありません: %d", itemID),
		Category: "queue",
		Action:   "配信済みアイテムは削除できません。再スケジュールをご利用ください。",
	}
}

// NewItemNotDeliveredError は配信済みアイテムにのみ許可される操作を
// 未配信アイテムに実行した場合のエラーを生成する。
func NewItemNotDeliveredError(itemID int64) *APIError {
	return &APIError{
		Code:     ErrCodeItemNotDelivered,
		Message:  fmt.Sprintf("アイテムは配信済みではありません: %d", itemID),
		Category: "queue",
		Action:   "再スケジュールは配信済みアイテムに対してのみ実行できます。",
	}
}

// NewInvalidURLError は無効なURLエラーを生成する。
func NewInvalidURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidURL,
		Message:  fmt.Sprintf("無効なURLです: %s", reason),
		Category: "validation",
		Action:   "正しいURL形式を入力してください。",
	}
}

// NewURLUnreachableError は到達性プローブに失敗したURLのエラーを生成する。
func NewURLUnreachableError(url string) *APIError {
	return &APIError{
		Code:     ErrCodeURLUnreachable,
		Message:  fmt.Sprintf("URLに到達できませんでした: %s", url),
		Category: "validation",
		Action:   "URLが正しいか確認し、しばらく待ってから再度お試しください。",
	}
}

// NewSSRFBlockedError はSSRFブロックエラーを生成する。
func NewSSRFBlockedError() *APIError {
	return &APIError{
		Code:     ErrCodeSSRFBlocked,
		Message:  "セキュリティポリシーにより、指定されたURLへのアクセスがブロックされました。",
		Category: "validation",
		Action:   "公開されているWebサイトのURLを入力してください。",
	}
}
