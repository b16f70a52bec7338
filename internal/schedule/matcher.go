// Package schedule は購読者のローカル配信ウィンドウ判定を提供する。
// 純粋関数のみで構成され、I/Oや副作用を持たない。
package schedule

import (
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/clearlist/internal/model"
)

// ParseOffsetHours は"+2"や"-5:30"形式のUTCオフセット文字列から時間部分を取り出す。
// 分の成分は切り捨てる（"-5:30"は-5になる）。歴代の挙動との互換のため、
// 丸めではなく0方向への切り捨てを採用する。
func ParseOffsetHours(offset string) (int, bool) {
	s := strings.TrimSpace(offset)
	if s == "" {
		return 0, false
	}

	hourPart := s
	if i := strings.Index(s, ":"); i >= 0 {
		hourPart = s[:i]
	}
	hourPart = strings.TrimPrefix(hourPart, "+")

	hours, err := strconv.Atoi(hourPart)
	if err != nil {
		return 0, false
	}
	if hours < -12 || hours > 14 {
		return 0, false
	}

	return hours, true
}

// IsWindowOpen は現在時刻（UTC）が購読者のローカル配信ウィンドウ内かどうかを返す。
//
// タイムゾーン未設定（UTCOffsetがnil）の購読者は常にfalse（フェイルクローズ）。
// ローカル時刻はUTCにオフセット時間を加算して求め、時の一致のみで判定する。
// 曜日フィルタはPremium購読者にのみ適用される。Freeは曜日設定に関わらず毎日対象。
func IsWindowOpen(sub *model.Subscriber, nowUTC time.Time) bool {
	if sub.UTCOffset == nil {
		return false
	}

	hours, ok := ParseOffsetHours(*sub.UTCOffset)
	if !ok {
		return false
	}

	local := nowUTC.UTC().Add(time.Duration(hours) * time.Hour)

	if local.Hour() != sub.HourPreference {
		return false
	}

	if sub.IsPremium() && !sub.WantsWeekday(local.Weekday()) {
		return false
	}

	return true
}
