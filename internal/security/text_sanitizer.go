package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizerService は外部由来テキストのサニタイズ機能のインターフェースを定義する。
// エンリッチメントで取得したページタイトルや、受信メールの本文など、
// 信頼できないソースから来た文字列をプレーンテキストに落とすために使用する。
type TextSanitizerService interface {
	// SanitizeText はHTMLタグを全て除去し、エンティティをデコードした
	// プレーンテキストを返す。前後の空白はトリムされる。
	SanitizeText(raw string) string
}

// textSanitizer はTextSanitizerServiceの実装。
// bluemondayのStrictPolicy（全タグ除去）を保持する。Policyはスレッドセーフ。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerServiceの新しいインスタンスを生成する。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// SanitizeText はHTMLタグを全て除去したプレーンテキストを返す。
// StrictPolicyはタグ除去後にエンティティをエスケープした状態で返すため、
// 表示用の生テキストに戻すべくUnescapeを1回適用する。
func (s *textSanitizer) SanitizeText(raw string) string {
	cleaned := s.policy.Sanitize(raw)
	return strings.TrimSpace(html.UnescapeString(cleaned))
}
