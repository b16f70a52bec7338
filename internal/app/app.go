package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/hitoshi/clearlist/internal/alerts"
	"github.com/hitoshi/clearlist/internal/billing"
	"github.com/hitoshi/clearlist/internal/config"
	"github.com/hitoshi/clearlist/internal/database"
	"github.com/hitoshi/clearlist/internal/delivery"
	"github.com/hitoshi/clearlist/internal/digest"
	"github.com/hitoshi/clearlist/internal/enrich"
	"github.com/hitoshi/clearlist/internal/handler"
	"github.com/hitoshi/clearlist/internal/importer"
	"github.com/hitoshi/clearlist/internal/intake"
	"github.com/hitoshi/clearlist/internal/logger"
	"github.com/hitoshi/clearlist/internal/mailer"
	"github.com/hitoshi/clearlist/internal/metrics"
	"github.com/hitoshi/clearlist/internal/middleware"
	"github.com/hitoshi/clearlist/internal/queue"
	"github.com/hitoshi/clearlist/internal/repository"
	"github.com/hitoshi/clearlist/internal/security"
	"github.com/hitoshi/clearlist/internal/selection"
	"github.com/hitoshi/clearlist/internal/worker"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandIntake:
		return runIntake(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	subRepo := repository.NewPostgresSubscriberRepo(db)
	itemRepo := repository.NewPostgresItemRepo(db)

	// 3. セキュリティサービスとキュー操作サービスの初期化
	ssrfGuard := security.NewSSRFGuard()
	prober := queue.NewHTTPProber(ssrfGuard, cfg.ProbeTimeout, cfg.ProbeMaxSize, slog.Default())
	queueService := queue.NewService(subRepo, itemRepo, prober, slog.Default())

	// 4. メトリクスレジストリの初期化
	// serveモードは記録を行わないが、/metricsでゼロ値の系列を公開する
	registry := prometheus.NewRegistry()
	metrics.NewCollector(registry)

	// 5. ルーターの構築
	deps := &handler.RouterDeps{
		Logger:          slog.Default(),
		RateLimiter:     middleware.NewRateLimiter(rateLimiterConfig(cfg)),
		QueueService:    queueService,
		MetricsGatherer: registry,
	}

	router := handler.NewRouter(deps)

	// 6. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、配信・取り込み・エンリッチメント・課金監査・アラートの
// 各ジョブをcronスケジューラに登録して起動する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	// 2. リポジトリの初期化
	subRepo := repository.NewPostgresSubscriberRepo(db)
	itemRepo := repository.NewPostgresItemRepo(db)

	// 3. セキュリティサービスとメトリクスの初期化
	ssrfGuard := security.NewSSRFGuard()
	sanitizer := security.NewTextSanitizer()

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 4. メール送受信の初期化
	sender, err := mailer.NewSMTPSender(smtpConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to build SMTP sender: %w", err)
	}
	notifier := mailer.NewNotifier(sender, cfg.ContactEmail, cfg.BaseURL)

	// 5. 配信ジョブの初期化
	renderer := digest.NewRenderer(cfg.BaseURL, cfg.ContactEmail)
	policy := selection.NewPolicy(rand.NewSource(time.Now().UnixNano()))
	orchestrator := delivery.NewOrchestrator(
		subRepo, itemRepo, policy, renderer, sender, collector,
		slog.Default(), cfg.DeliveryMaxConcurrent, cfg.DeliveryTaskTimeout,
	)

	// 6. プロバイダ取り込みジョブの初期化（API設定がある場合のみ）
	var importJob worker.ImportRunner
	if cfg.ImportAPIURL != "" && cfg.ImportConsumerKey != "" {
		client := importer.NewHTTPClient(cfg.ImportAPIURL, cfg.ImportConsumerKey, 30*time.Second)
		importJob = importer.NewJob(subRepo, itemRepo, client, collector, slog.Default(), cfg.ImportLookback)
	}

	// 7. タイトルエンリッチメントジョブの初期化
	enrichJob := enrich.NewJob(
		itemRepo, ssrfGuard, sanitizer, collector,
		slog.Default(), cfg.EnrichBatchSize, cfg.EnrichTimeout, cfg.ProbeMaxSize,
	)

	// 8. コマンドメール取り込みジョブの初期化（ボットアカウント設定がある場合のみ）
	var intakeJob worker.JobRunner
	if cfg.BotEmail != "" {
		intakeJob = buildIntakeProcessor(cfg, subRepo, itemRepo, notifier, collector)
	}

	// 9. 課金監査ジョブの初期化（API設定がある場合のみ）
	var billingJob worker.JobRunner
	if cfg.BillingAPIURL != "" {
		provider := billing.NewHTTPProvider(cfg.BillingAPIURL, cfg.BillingAPIKey, 10*time.Second)
		billingJob = billing.NewAuditJob(subRepo, provider, slog.Default())
	}

	// 10. アラートジョブの初期化
	alertsJob := alerts.NewJob(subRepo, itemRepo, notifier, collector, slog.Default())

	// 11. ワーカー用HTTPエンドポイントの起動（ヘルスチェックとメトリクススクレイプ用）
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	mux.Handle("/metrics", metrics.Handler(registry))

	metricsServer := &http.Server{
		Addr:        ":" + cfg.ServerPort,
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("worker metrics server error", slog.String("error", err.Error()))
		}
	}()

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Int("delivery_max_concurrent", cfg.DeliveryMaxConcurrent),
		slog.Bool("import_enabled", importJob != nil),
		slog.Bool("intake_enabled", intakeJob != nil),
		slog.Bool("billing_enabled", billingJob != nil),
	)

	// スケジューラをメインgoroutineで実行（ブロッキング）
	scheduler := worker.NewScheduler(
		orchestrator, importJob, enrichJob, intakeJob, billingJob, alertsJob, slog.Default(),
	)
	if err := scheduler.Start(ctx); err != nil {
		return fmt.Errorf("scheduler failed: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	metricsServer.Shutdown(shutdownCtx)

	slog.Info("worker stopped gracefully")
	return nil
}

// runIntake はコマンドメールの取り込みを1回だけ実行する。
// 定期実行はワーカーモードが担うため、これは手動リカバリ用のサブコマンド。
func runIntake(cfg *config.Config) error {
	if cfg.BotEmail == "" {
		return fmt.Errorf("BOT_EMAIL is not set")
	}

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	subRepo := repository.NewPostgresSubscriberRepo(db)
	itemRepo := repository.NewPostgresItemRepo(db)

	sender, err := mailer.NewSMTPSender(smtpConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to build SMTP sender: %w", err)
	}
	notifier := mailer.NewNotifier(sender, cfg.ContactEmail, cfg.BaseURL)

	collector := metrics.NewCollector(prometheus.NewRegistry())
	processor := buildIntakeProcessor(cfg, subRepo, itemRepo, notifier, collector)

	if err := processor.RunOnce(context.Background()); err != nil {
		return fmt.Errorf("intake pass failed: %w", err)
	}

	slog.Info("intake pass completed")
	return nil
}

// buildIntakeProcessor はコマンドメール取り込みの依存関係を組み立てる。
// ワーカーモードと単発実行モードの双方から使用される。
func buildIntakeProcessor(
	cfg *config.Config,
	subRepo repository.SubscriberRepository,
	itemRepo repository.ItemRepository,
	notifier *mailer.Notifier,
	collector *metrics.Collector,
) *intake.Processor {
	ssrfGuard := security.NewSSRFGuard()
	prober := queue.NewHTTPProber(ssrfGuard, cfg.ProbeTimeout, cfg.ProbeMaxSize, slog.Default())
	queueService := queue.NewService(subRepo, itemRepo, prober, slog.Default())

	interpreter := intake.NewInterpreter(
		subRepo, itemRepo, queueService, notifier, collector, slog.Default(),
	)
	dialer := intake.NewIMAPDialer(intake.IMAPConfig{
		Host:     cfg.BotHost,
		Port:     cfg.BotPort,
		Username: cfg.BotEmail,
		Password: cfg.BotPass,
		Secure:   cfg.BotSecure,
	}, slog.Default())

	return intake.NewProcessor(dialer, interpreter, slog.Default(), cfg.IntakeMaxConcurrent)
}

// rateLimiterConfig はreq/min単位の設定値をrate.Limit（req/sec）に変換する。
func rateLimiterConfig(cfg *config.Config) middleware.RateLimiterConfig {
	rlc := middleware.DefaultRateLimiterConfig()
	if cfg.RateLimitGeneral > 0 {
		rlc.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
		rlc.GeneralBurst = cfg.RateLimitGeneral
	}
	if cfg.RateLimitLinkReg > 0 {
		rlc.LinkRegRate = rate.Limit(float64(cfg.RateLimitLinkReg) / 60.0)
		rlc.LinkRegBurst = cfg.RateLimitLinkReg
	}
	return rlc
}

// smtpConfig はConfigからSMTP接続設定を組み立てる。
func smtpConfig(cfg *config.Config) mailer.SMTPConfig {
	return mailer.SMTPConfig{
		Host:     cfg.MailHost,
		Port:     cfg.MailPort,
		Username: cfg.MailUser,
		Password: cfg.MailPass,
		Secure:   cfg.MailSecure,
		From:     cfg.MailFrom,
	}
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("schema_version", uint64(version)),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
