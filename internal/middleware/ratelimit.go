package middleware

import (
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/clearlist/internal/model"
)

// RateLimiterConfig はレート制限の設定を保持する。
type RateLimiterConfig struct {
	GeneralRate     rate.Limit    // API全般のレート（req/sec）。120/60 = 2 req/sec
	GeneralBurst    int           // API全般のバーストサイズ
	LinkRegRate     rate.Limit    // リンク登録のレート（req/sec）。10/60
	LinkRegBurst    int           // リンク登録のバーストサイズ
	CleanupInterval time.Duration // 期限切れエントリのクリーンアップ間隔
}

// DefaultRateLimiterConfig はデフォルトのレート制限設定を返す。
// 要件: API全般 120 req/min/subscriber、リンク登録 10 req/min/subscriber
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     rate.Limit(120.0 / 60.0), // 2 req/sec
		GeneralBurst:    120,
		LinkRegRate:     rate.Limit(10.0 / 60.0), // ~0.167 req/sec
		LinkRegBurst:    10,
		CleanupInterval: 5 * time.Minute,
	}
}

// subscriberLimiter は購読者ごとのレートリミッターとアクセス時刻を保持する。
type subscriberLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter は購読者ごとのレート制限を管理する。
// API全般のレート制限とリンク登録のレート制限の2種類を提供する。
type RateLimiter struct {
	config RateLimiterConfig

	generalMu       sync.RWMutex
	generalLimiters map[string]*subscriberLimiter

	linkRegMu       sync.RWMutex
	linkRegLimiters map[string]*subscriberLimiter

	stopCh chan struct{}
}

// NewRateLimiter は新しいRateLimiterを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		config:          config,
		generalLimiters: make(map[string]*subscriberLimiter),
		linkRegLimiters: make(map[string]*subscriberLimiter),
		stopCh:          make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (rl *RateLimiter) Stop() {
	close(rl.stopCh)
}

// GeneralMiddleware はAPI全般のレート制限ミドルウェアを返す。
// リクエストコンテキストに購読者IDが含まれている必要がある（SubscriberMiddlewareの後に配置）。
func (rl *RateLimiter) GeneralMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subscriberID, err := SubscriberIDFromContext(r.Context())
			if err != nil {
				WriteErrorResponse(w, http.StatusUnauthorized, &model.APIError{
					Code:     "UNAUTHORIZED",
					Message:  "認証情報がありません。",
					Category: "auth",
					Action:   "認証済みのセッションでアクセスしてください。",
				})
				return
			}

			limiter := rl.getOrCreateGeneralLimiter(subscriberID)

			if !limiter.Allow() {
				writeRateLimitResponse(w, rl.config.GeneralRate)
				slog.Warn("rate limit exceeded",
					slog.String("subscriber_id", subscriberID),
					slog.String("limit_type", "general"),
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// LinkRegistrationMiddleware はリンク登録専用のレート制限ミドルウェアを返す。
// API全般のレート制限とは独立に動作する。
func (rl *RateLimiter) LinkRegistrationMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subscriberID, err := SubscriberIDFromContext(r.Context())
			if err != nil {
				WriteErrorResponse(w, http.StatusUnauthorized, &model.APIError{
					Code:     "UNAUTHORIZED",
					Message:  "認証情報がありません。",
					Category: "auth",
					Action:   "認証済みのセッションでアクセスしてください。",
				})
				return
			}

			limiter := rl.getOrCreateLinkRegLimiter(subscriberID)

			if !limiter.Allow() {
				writeRateLimitResponse(w, rl.config.LinkRegRate)
				slog.Warn("rate limit exceeded",
					slog.String("subscriber_id", subscriberID),
					slog.String("limit_type", "link_registration"),
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// GeneralLimiterCount は現在管理されているAPI全般リミッターのエントリ数を返す。
// テストおよびメトリクス用。
func (rl *RateLimiter) GeneralLimiterCount() int {
	rl.generalMu.RLock()
	defer rl.generalMu.RUnlock()
	return len(rl.generalLimiters)
}

// LinkRegLimiterCount は現在管理されているリンク登録リミッターのエントリ数を返す。
// テストおよびメトリクス用。
func (rl *RateLimiter) LinkRegLimiterCount() int {
	rl.linkRegMu.RLock()
	defer rl.linkRegMu.RUnlock()
	return len(rl.linkRegLimiters)
}

// getOrCreateGeneralLimiter は購読者のAPI全般リミッターを取得または作成する。
func (rl *RateLimiter) getOrCreateGeneralLimiter(subscriberID string) *rate.Limiter {
	rl.generalMu.RLock()
	ul, exists := rl.generalLimiters[subscriberID]
	rl.generalMu.RUnlock()

	if exists {
		rl.generalMu.Lock()
		ul.lastAccess = time.Now()
		rl.generalMu.Unlock()
		return ul.limiter
	}

	rl.generalMu.Lock()
	defer rl.generalMu.Unlock()

	// ダブルチェック
	if ul, exists := rl.generalLimiters[subscriberID]; exists {
		ul.lastAccess = time.Now()
		return ul.limiter
	}

	limiter := rate.NewLimiter(rl.config.GeneralRate, rl.config.GeneralBurst)
	rl.generalLimiters[subscriberID] = &subscriberLimiter{
		limiter:    limiter,
		lastAccess: time.Now(),
	}

	return limiter
}

// getOrCreateLinkRegLimiter は購読者のリンク登録リミッターを取得または作成する。
func (rl *RateLimiter) getOrCreateLinkRegLimiter(subscriberID string) *rate.Limiter {
	rl.linkRegMu.RLock()
	ul, exists := rl.linkRegLimiters[subscriberID]
	rl.linkRegMu.RUnlock()

	if exists {
		rl.linkRegMu.Lock()
		ul.lastAccess = time.Now()
		rl.linkRegMu.Unlock()
		return ul.limiter
	}

	rl.linkRegMu.Lock()
	defer rl.linkRegMu.Unlock()

	// ダブルチェック
	if ul, exists := rl.linkRegLimiters[subscriberID]; exists {
		ul.lastAccess = time.Now()
		return ul.limiter
	}

	limiter := rate.NewLimiter(rl.config.LinkRegRate, rl.config.LinkRegBurst)
	rl.linkRegLimiters[subscriberID] = &subscriberLimiter{
		limiter:    limiter,
		lastAccess: time.Now(),
	}

	return limiter
}

// cleanupLoop はバックグラウンドで期限切れエントリを定期的にクリーンアップする。
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup は最終アクセス時刻がCleanupIntervalの2倍を超えたエントリを削除する。
func (rl *RateLimiter) cleanup() {
	ttl := rl.config.CleanupInterval * 2

	now := time.Now()

	rl.generalMu.Lock()
	for subscriberID, ul := range rl.generalLimiters {
		if now.Sub(ul.lastAccess) > ttl {
			delete(rl.generalLimiters, subscriberID)
		}
	}
	rl.generalMu.Unlock()

	rl.linkRegMu.Lock()
	for subscriberID, ul := range rl.linkRegLimiters {
		if now.Sub(ul.lastAccess) > ttl {
			delete(rl.linkRegLimiters, subscriberID)
		}
	}
	rl.linkRegMu.Unlock()
}

// writeRateLimitResponse は429 Too Many Requestsレスポンスを書き込む。
// Retry-Afterヘッダーにはトークンが補充されるまでの推定秒数を設定する。
func writeRateLimitResponse(w http.ResponseWriter, r rate.Limit) {
	// Retry-Afterの算出: 1トークンが補充されるまでの秒数
	retryAfterSec := int(math.Ceil(1.0 / float64(r)))
	if retryAfterSec < 1 {
		retryAfterSec = 1
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)

	json.NewEncoder(w).Encode(map[string]string{
		"code":     "rate_limit_exceeded",
		"message":  "Too many requests. Please try again later.",
		"category": "system",
		"action":   "Please wait and retry after the specified time.",
	})
}
