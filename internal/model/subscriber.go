// Package model はドメインモデルを定義する。
package model

import "time"

// Tier は購読者の課金ティアを表す。
type Tier string

const (
	// TierFree は無料ティア。優先指定と曜日フィルタは利用できない。
	TierFree Tier = "free"
	// TierPremium は有料ティア。優先指定・曜日フィルタ・再スケジュールが利用できる。
	TierPremium Tier = "premium"
)

// DefaultDaysPreference は全曜日配信を表すデフォルト値（0=日曜〜6=土曜）。
const DefaultDaysPreference = "0123456"

// Subscriber は配信先となる購読者を表す。
// IDは上流のIdPが発行する不透明な安定識別子をそのまま保持する。
type Subscriber struct {
	ID            string
	Email         string
	ScreenName    string
	ProviderToken string // read-laterプロバイダ連携トークン。未連携なら空。

	// UTCOffset は"+2"や"-5:30"形式の符号付きオフセット文字列。
	// nilは「タイムゾーン未設定＝配信対象外」を意味する。
	UTCOffset      *string
	HourPreference int    // 配信希望時刻（ローカル時、0〜23）
	DaysPreference string // 配信希望曜日の集合（例: "135"）。0=日曜。

	Tier                  Tier
	BillingCustomerID     string
	BillingSubscriptionID string // 課金プロバイダ側の購読ID。空なら未購読。

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsPremium は購読者が有料ティアかどうかを返す。
func (s *Subscriber) IsPremium() bool {
	return s.Tier == TierPremium
}

// WantsWeekday は指定曜日が配信希望曜日に含まれるかを返す。
// 曜日フィルタはPremium限定機能であり、Freeの購読者には適用されない
// （呼び出し側で分岐する）。
func (s *Subscriber) WantsWeekday(weekday time.Weekday) bool {
	days := s.DaysPreference
	if days == "" {
		days = DefaultDaysPreference
	}
	for _, d := range days {
		if int(d-'0') == int(weekday) {
			return true
		}
	}
	return false
}
