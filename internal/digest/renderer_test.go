package digest

import (
	"strings"
	"testing"

	"golang.org/x/net/html"

	"github.com/hitoshi/clearlist/internal/mailer"
	"github.com/hitoshi/clearlist/internal/model"
)

// --- ヘルパー ---

func collectHrefs(t *testing.T, htmlBody string) []string {
	t.Helper()
	var hrefs []string
	tokenizer := html.NewTokenizer(strings.NewReader(htmlBody))
	for {
		tt := tokenizer.Next()
		if tt == html.ErrorToken {
			return hrefs
		}
		if tt != html.StartTagToken {
			continue
		}
		token := tokenizer.Token()
		if token.Data != "a" {
			continue
		}
		for _, attr := range token.Attr {
			if attr.Key == "href" {
				hrefs = append(hrefs, attr.Val)
			}
		}
	}
}

func testSubscriber() *model.Subscriber {
	return &model.Subscriber{
		ID:         "sub-1",
		Email:      "reader@example.com",
		ScreenName: "reader",
		Tier:       model.TierFree,
	}
}

// --- テスト ---

func TestItemRefURL(t *testing.T) {
	got := ItemRefURL("https://clearlist.app", 42)
	want := "https://clearlist.app/r/42"
	if got != want {
		t.Errorf("ItemRefURL = %q, want %q", got, want)
	}
}

func TestRender_IncludesItemRefAnchor(t *testing.T) {
	r := NewRenderer("https://clearlist.app", "me@clearlist.app")
	item := &model.Item{ID: 42, SubscriberID: "sub-1", URL: "https://example.com/article", Title: "A Good Read"}

	payload, err := r.Render(testSubscriber(), item)
	if err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}

	if payload.Subject != mailer.SubjectDigest {
		t.Errorf("Subject = %q, want %q", payload.Subject, mailer.SubjectDigest)
	}
	if !strings.Contains(payload.HTMLBody, "https://clearlist.app/r/42") {
		t.Error("HTMLに参照アンカーが含まれていません")
	}
	if !strings.Contains(payload.HTMLBody, "A Good Read") {
		t.Error("HTMLにタイトルが含まれていません")
	}
}

func TestRender_AnchorOrderMatchesLegacyHeuristic(t *testing.T) {
	r := NewRenderer("https://clearlist.app", "me@clearlist.app")
	item := &model.Item{ID: 7, SubscriberID: "sub-1", URL: "https://example.com/article", Title: "Title"}

	payload, err := r.Render(testSubscriber(), item)
	if err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}

	hrefs := collectHrefs(t, payload.HTMLBody)
	if len(hrefs) < 4 {
		t.Fatalf("アンカー数: got %d, want >= 4", len(hrefs))
	}

	// 旧抽出ヒューリスティクス（後ろから4番目＝アイテムリンク）との互換性
	if got := hrefs[len(hrefs)-4]; got != item.URL {
		t.Errorf("後ろから4番目のアンカー: got %q, want %q", got, item.URL)
	}
	if got := hrefs[len(hrefs)-3]; got != "https://clearlist.app/r/7" {
		t.Errorf("後ろから3番目のアンカー: got %q, want 参照URL", got)
	}
}

func TestRender_EmptyTitleFallsBackToURL(t *testing.T) {
	r := NewRenderer("https://clearlist.app", "me@clearlist.app")
	item := &model.Item{ID: 1, SubscriberID: "sub-1", URL: "https://example.com/untitled", Title: ""}

	payload, err := r.Render(testSubscriber(), item)
	if err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}

	if !strings.Contains(payload.TextBody, "https://example.com/untitled") {
		t.Error("テキスト本文にURLが含まれていません")
	}
	// タイトル位置にもURLが描画される
	if strings.Count(payload.HTMLBody, "https://example.com/untitled") < 2 {
		t.Error("HTMLのタイトル位置にURLがフォールバックされていません")
	}
}

func TestRender_EscapesHTMLInTitle(t *testing.T) {
	r := NewRenderer("https://clearlist.app", "me@clearlist.app")
	item := &model.Item{ID: 1, SubscriberID: "sub-1", URL: "https://example.com/a", Title: `<script>alert("x")</script>`}

	payload, err := r.Render(testSubscriber(), item)
	if err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}

	if strings.Contains(payload.HTMLBody, "<script>") {
		t.Error("タイトルのHTMLがエスケープされていません")
	}
}
