// Package digest は配信メールのペイロード組み立てを提供する。
//
// HTMLには購読者の返信からアイテムを特定するための明示的な参照アンカー
// （{BaseURL}/r/{itemID}）を埋め込む。受信側はまずこの参照を探し、
// 見つからない場合のみ旧テンプレート由来のアンカー位置ヒューリスティクスに
// フォールバックする。
package digest

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/hitoshi/clearlist/internal/mailer"
	"github.com/hitoshi/clearlist/internal/model"
)

// Payload は1回の配信で送られるメールの内容。
type Payload struct {
	Subject  string
	HTMLBody string
	TextBody string
}

// ItemRefPath は参照アンカーのパス接頭辞。受信側の抽出ロジックと共有する。
const ItemRefPath = "/r/"

// ItemRefURL はアイテムの明示的な参照URLを組み立てる。
func ItemRefURL(baseURL string, itemID int64) string {
	return fmt.Sprintf("%s%s%d", baseURL, ItemRefPath, itemID)
}

// digestTemplate は配信メールの最小HTMLテンプレート。
// 末尾のアンカー順は [アイテム, 参照, アカウント, 連絡先] で固定しており、
// 旧ヒューリスティクス（後ろから4番目＝アイテムリンク）とも整合する。
var digestTemplate = template.Must(template.New("digest").Parse(`<html>
<body>
  <p>Hey {{.ScreenName}}, here's a cool thing to read today!</p>
  <h2><a href="{{.ItemURL}}">{{.Title}}</a></h2>
  <p>Done with it? Reply "unseen" to get it again another day, or "add &lt;url&gt;" to queue something new.</p>
  <hr>
  <p>
    <a href="{{.RefURL}}">this delivery</a> &middot;
    <a href="{{.AccountURL}}">your account</a> &middot;
    <a href="{{.ContactURL}}">get in touch</a>
  </p>
</body>
</html>
`))

// templateData はdigestTemplateに渡す描画データ。
type templateData struct {
	ScreenName string
	Title      string
	ItemURL    string
	RefURL     string
	AccountURL string
	ContactURL string
}

// Renderer は配信メールのペイロードを組み立てる。
type Renderer struct {
	baseURL      string
	contactEmail string
}

// NewRenderer はRendererを生成する。
func NewRenderer(baseURL, contactEmail string) *Renderer {
	return &Renderer{baseURL: baseURL, contactEmail: contactEmail}
}

// Render は購読者とアイテムから配信ペイロードを組み立てる。
// タイトルが未取得（空）の場合はURLをタイトルとして使用する。
func (r *Renderer) Render(sub *model.Subscriber, item *model.Item) (*Payload, error) {
	title := item.Title
	if title == "" {
		title = item.URL
	}

	data := templateData{
		ScreenName: sub.ScreenName,
		Title:      title,
		ItemURL:    item.URL,
		RefURL:     ItemRefURL(r.baseURL, item.ID),
		AccountURL: r.baseURL + "/account",
		ContactURL: "mailto:" + r.contactEmail,
	}

	var buf bytes.Buffer
	if err := digestTemplate.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("配信テンプレートの描画に失敗しました: %w", err)
	}

	text := fmt.Sprintf("Hey %s, here's a cool thing to read today!\n\n%s\n%s\n",
		sub.ScreenName, title, item.URL)

	return &Payload{
		Subject:  mailer.SubjectDigest,
		HTMLBody: buf.String(),
		TextBody: text,
	}, nil
}
