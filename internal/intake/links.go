// Package intake は購読者からの返信メールをコマンドとして取り込む。
package intake

import (
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"github.com/hitoshi/clearlist/internal/digest"
)

// ItemRef は返信メールのHTMLから復元したアイテム参照。
// IDがあれば明示的な参照アンカー由来、URLのみなら旧テンプレートの
// アンカー位置ヒューリスティクス由来。
type ItemRef struct {
	ID  int64
	URL string
}

// ExtractItemRef は返信メールのHTML本文からアイテム参照を抽出する。
//
// まず配信テンプレートが埋め込む参照アンカー（パスが/r/{itemID}のリンク）を
// 探す。見つからない場合は旧テンプレート互換のヒューリスティクスとして、
// 後ろから4番目のアンカーのhrefをアイテムURLとみなす。
// どちらも得られない場合はfalseを返す。
func ExtractItemRef(htmlBody string) (ItemRef, bool) {
	hrefs := collectAnchorHrefs(htmlBody)
	if len(hrefs) == 0 {
		return ItemRef{}, false
	}

	for _, href := range hrefs {
		if id, ok := parseItemRefHref(href); ok {
			return ItemRef{ID: id}, true
		}
	}

	if len(hrefs) >= 4 {
		return ItemRef{URL: hrefs[len(hrefs)-4]}, true
	}

	return ItemRef{}, false
}

// collectAnchorHrefs はHTML中の全アンカーのhrefを出現順に収集する。
// 返信メールのHTMLはクライアント依存で崩れていることがあるため、
// 寛容なトークナイザを使う。
func collectAnchorHrefs(htmlBody string) []string {
	var hrefs []string

	tokenizer := html.NewTokenizer(strings.NewReader(htmlBody))
	for {
		tokenType := tokenizer.Next()
		if tokenType == html.ErrorToken {
			return hrefs
		}
		if tokenType != html.StartTagToken && tokenType != html.SelfClosingTagToken {
			continue
		}

		token := tokenizer.Token()
		if token.Data != "a" {
			continue
		}
		for _, attr := range token.Attr {
			if attr.Key == "href" && attr.Val != "" {
				hrefs = append(hrefs, attr.Val)
				break
			}
		}
	}
}

// parseItemRefHref はhrefが参照アンカー形式（.../r/{itemID}）かを判定し、
// アイテムIDを取り出す。
func parseItemRefHref(href string) (int64, bool) {
	idx := strings.LastIndex(href, digest.ItemRefPath)
	if idx < 0 {
		return 0, false
	}

	suffix := href[idx+len(digest.ItemRefPath):]
	suffix = strings.TrimRight(suffix, "/")
	if suffix == "" {
		return 0, false
	}

	id, err := strconv.ParseInt(suffix, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
