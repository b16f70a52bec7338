package queue

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/clearlist/internal/security"
)

// Prober はURLの到達性確認（存在プローブ）のインターフェース。
type Prober interface {
	// Exists は指定URLへ実際にリクエストを送り、到達可能かどうかを返す。
	Exists(ctx context.Context, url string) bool
}

// HTTPProber はSSRF防止付きHTTPクライアントによるProberの実装。
// 購読者が持ち込んだ任意のURLへアクセスするため、必ず安全クライアントを使う。
type HTTPProber struct {
	guard  security.SSRFGuardService
	client *http.Client
	logger *slog.Logger
}

// NewHTTPProber はHTTPProberを生成する。
func NewHTTPProber(guard security.SSRFGuardService, timeout time.Duration, maxSize int64, logger *slog.Logger) *HTTPProber {
	return &HTTPProber{
		guard:  guard,
		client: guard.NewSafeClient(timeout, maxSize),
		logger: logger,
	}
}

// Exists はHEADリクエストで到達性を確認する。
// HEADを受け付けないサーバー（405/501）にはGETでフォールバックする。
// 4xx/5xxは到達不能として扱う。
func (p *HTTPProber) Exists(ctx context.Context, url string) bool {
	if err := p.guard.ValidateURL(url); err != nil {
		p.logger.Warn("プローブ対象URLがブロックされました",
			slog.String("url", url),
			slog.String("error", err.Error()),
		)
		return false
	}

	status, err := p.request(ctx, http.MethodHead, url)
	if err != nil {
		return false
	}
	if status == http.StatusMethodNotAllowed || status == http.StatusNotImplemented {
		status, err = p.request(ctx, http.MethodGet, url)
		if err != nil {
			return false
		}
	}

	return status < 400
}

func (p *HTTPProber) request(ctx context.Context, method, url string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("User-Agent", "ClearList/1.0 Link Checker")

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	return resp.StatusCode, nil
}
