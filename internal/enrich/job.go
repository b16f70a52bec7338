// Package enrich はタイトル未取得アイテムの非同期エンリッチメントを提供する。
// アイテム追加時はURLだけを保存し、タイトルはこのジョブが後から埋める。
package enrich

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/hitoshi/clearlist/internal/repository"
	"github.com/hitoshi/clearlist/internal/security"
)

// Metrics はエンリッチメントメトリクスの記録インターフェース。
type Metrics interface {
	RecordTitleEnriched()
}

// Job はタイトル補完ジョブ。
type Job struct {
	itemRepo  repository.ItemRepository
	guard     security.SSRFGuardService
	client    *http.Client
	sanitizer security.TextSanitizerService
	metrics   Metrics
	logger    *slog.Logger
	batchSize int
}

// NewJob はJobを生成する。
// batchSizeが0以下の場合はデフォルト値50を使用する。
func NewJob(
	itemRepo repository.ItemRepository,
	guard security.SSRFGuardService,
	sanitizer security.TextSanitizerService,
	metrics Metrics,
	logger *slog.Logger,
	batchSize int,
	timeout time.Duration,
	maxSize int64,
) *Job {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Job{
		itemRepo:  itemRepo,
		guard:     guard,
		client:    guard.NewSafeClient(timeout, maxSize),
		sanitizer: sanitizer,
		metrics:   metrics,
		logger:    logger,
		batchSize: batchSize,
	}
}

// RunOnce は1バッチ分のタイトル補完を実行する。
// アイテム単位の失敗はそのアイテムに閉じ、他のアイテムの処理を妨げない。
func (j *Job) RunOnce(ctx context.Context) error {
	items, err := j.itemRepo.ListMissingTitle(ctx, j.batchSize)
	if err != nil {
		return err
	}

	for _, item := range items {
		title, err := j.fetchTitle(ctx, item.URL)
		if err != nil {
			j.logger.Warn("タイトルの取得に失敗しました",
				slog.Int64("item_id", item.ID),
				slog.String("url", item.URL),
				slog.String("error", err.Error()),
			)
			continue
		}
		if title == "" {
			// titleタグの無いページ。URLがタイトルとして表示されるため放置でよい。
			continue
		}

		if err := j.itemRepo.UpdateTitle(ctx, item.ID, title); err != nil {
			j.logger.Error("タイトルの保存に失敗しました",
				slog.Int64("item_id", item.ID),
				slog.String("error", err.Error()),
			)
			continue
		}

		j.metrics.RecordTitleEnriched()
	}

	return nil
}

// fetchTitle はページを取得し、titleタグのテキストをサニタイズして返す。
func (j *Job) fetchTitle(ctx context.Context, url string) (string, error) {
	if err := j.guard.ValidateURL(url); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "ClearList/1.0 Title Fetcher")

	resp, err := j.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	title := ExtractTitle(resp.Body)
	return j.sanitizer.SanitizeText(title), nil
}

// ExtractTitle はHTMLストリームから最初のtitleタグのテキストを取り出す。
// titleタグが無い場合は空文字を返す。
func ExtractTitle(r io.Reader) string {
	tokenizer := html.NewTokenizer(r)
	inTitle := false

	for {
		tokenType := tokenizer.Next()
		switch tokenType {
		case html.ErrorToken:
			return ""
		case html.StartTagToken:
			token := tokenizer.Token()
			if token.Data == "title" {
				inTitle = true
			}
		case html.TextToken:
			if inTitle {
				return strings.TrimSpace(tokenizer.Token().Data)
			}
		case html.EndTagToken:
			if tokenizer.Token().Data == "title" {
				return ""
			}
		}
	}
}
