// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hitoshi/clearlist/internal/model"
)

// subscriberIDHeader は上流の認証プロキシ（IdP連携層）が付与する
// 認証済み購読者IDのヘッダー。
const subscriberIDHeader = "X-Subscriber-ID"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// subscriberIDContextKey はリクエストコンテキストに購読者IDを格納するためのキー。
var subscriberIDContextKey = contextKey("subscriber_id")

// NewSubscriberMiddleware は認証済み購読者IDヘッダーを検証し、
// リクエストコンテキストに注入するミドルウェアを返す。
// ヘッダーの無いリクエストには401 Unauthorizedを返す。
func NewSubscriberMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subscriberID := r.Header.Get(subscriberIDHeader)
			if subscriberID == "" {
				WriteErrorResponse(w, http.StatusUnauthorized, &model.APIError{
					Code:     "UNAUTHORIZED",
					Message:  "認証情報がありません。",
					Category: "auth",
					Action:   "認証済みのセッションでアクセスしてください。",
				})
				return
			}

			ctx := context.WithValue(r.Context(), subscriberIDContextKey, subscriberID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SubscriberIDFromContext はリクエストコンテキストから購読者IDを取得する。
// 購読者ミドルウェアを通過したリクエストでのみ有効。
func SubscriberIDFromContext(ctx context.Context) (string, error) {
	subscriberID, ok := ctx.Value(subscriberIDContextKey).(string)
	if !ok || subscriberID == "" {
		return "", fmt.Errorf("subscriber ID not found in context")
	}
	return subscriberID, nil
}

// ContextWithSubscriberID はコンテキストに購読者IDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithSubscriberID(ctx context.Context, subscriberID string) context.Context {
	return context.WithValue(ctx, subscriberIDContextKey, subscriberID)
}
