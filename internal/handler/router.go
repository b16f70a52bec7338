package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/clearlist/internal/metrics"
	"github.com/hitoshi/clearlist/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger      *slog.Logger
	RateLimiter *middleware.RateLimiter

	QueueService QueueServiceInterface

	// Prometheusスクレイプ用。nilの場合は/metricsを公開しない。
	MetricsGatherer prometheus.Gatherer
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → Logging → Subscriber → RateLimit(General)
//
// /healthと/metricsは認証ミドルウェアチェーンの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))

	queueHandler := NewQueueHandler(deps.QueueService)

	// --- 認証不要のルート ---

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	if deps.MetricsGatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.MetricsGatherer))
	}

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Subscriber → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSubscriberMiddleware())
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Route("/api/links", func(r chi.Router) {
			// POST /api/links - リンク追加（登録専用レート制限を追加）
			r.With(deps.RateLimiter.LinkRegistrationMiddleware()).Post("/", queueHandler.AddLink)

			r.Route("/{id}", func(r chi.Router) {
				r.Delete("/", queueHandler.DeleteLink)
				r.Post("/prioritize", queueHandler.PrioritizeLink)
				r.Post("/reschedule", queueHandler.RescheduleLink)
			})
		})
	})

	return r
}
