package enrich

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/clearlist/internal/model"
	"github.com/hitoshi/clearlist/internal/security"
)

// --- モック ---

type mockItemRepo struct {
	mu sync.Mutex

	listMissingTitleFunc func(ctx context.Context, limit int) ([]*model.Item, error)
	updatedTitles        map[int64]string
}

func (m *mockItemRepo) FindByID(ctx context.Context, id int64) (*model.Item, error) {
	return nil, nil
}

func (m *mockItemRepo) FindQueuedByOwnerAndURL(ctx context.Context, ownerID, url string) (*model.Item, error) {
	return nil, nil
}

func (m *mockItemRepo) FindDeliveredByOwnerAndURL(ctx context.Context, ownerID, url string) (*model.Item, error) {
	return nil, nil
}

func (m *mockItemRepo) FindLatestDeliveredByOwner(ctx context.Context, ownerID string) (*model.Item, error) {
	return nil, nil
}

func (m *mockItemRepo) ListQueuedByOwner(ctx context.Context, ownerID string) ([]*model.Item, error) {
	return nil, nil
}

func (m *mockItemRepo) CountQueuedByOwner(ctx context.Context, ownerID string) (int, error) {
	return 0, nil
}

func (m *mockItemRepo) ListMissingTitle(ctx context.Context, limit int) ([]*model.Item, error) {
	if m.listMissingTitleFunc != nil {
		return m.listMissingTitleFunc(ctx, limit)
	}
	return nil, nil
}

func (m *mockItemRepo) Create(ctx context.Context, item *model.Item) error { return nil }

func (m *mockItemRepo) UpdateTitle(ctx context.Context, itemID int64, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updatedTitles == nil {
		m.updatedTitles = make(map[int64]string)
	}
	m.updatedTitles[itemID] = title
	return nil
}

func (m *mockItemRepo) CompareAndSwapState(ctx context.Context, itemID int64, expected, next model.ItemState) (bool, error) {
	return false, nil
}

func (m *mockItemRepo) Prioritize(ctx context.Context, ownerID string, itemID int64) error {
	return nil
}

func (m *mockItemRepo) DeleteQueued(ctx context.Context, ownerID string, itemID int64) (bool, error) {
	return false, nil
}

// mockGuard はテスト用のSSRFガード。httptestのループバックアドレスを許可する。
type mockGuard struct{}

func (g *mockGuard) NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client {
	return &http.Client{Timeout: timeout}
}

func (g *mockGuard) ValidateURL(rawURL string) error { return nil }

type mockMetrics struct {
	mu       sync.Mutex
	enriched int
}

func (m *mockMetrics) RecordTitleEnriched() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enriched++
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- テスト ---

func TestExtractTitle(t *testing.T) {
	tests := []struct {
		name string
		html string
		want string
	}{
		{
			name: "titleタグのテキストを取り出す",
			html: "<html><head><title>An Article</title></head><body></body></html>",
			want: "An Article",
		},
		{
			name: "前後の空白はトリムされる",
			html: "<title>\n  Spaced Title\n</title>",
			want: "Spaced Title",
		},
		{
			name: "titleタグが無い場合は空",
			html: "<html><body><h1>no title here</h1></body></html>",
			want: "",
		},
		{
			name: "空のtitleタグ",
			html: "<title></title>",
			want: "",
		},
		{
			name: "閉じタグの無い崩れたHTMLでも取り出せる",
			html: "<head><title>Broken Page<body>text",
			want: "Broken Page",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractTitle(strings.NewReader(tt.html))
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRunOnce_EnrichesTitles(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			w.Write([]byte("<html><head><title>Fetched &amp; Clean</title></head></html>"))
		case "/broken":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	itemRepo := &mockItemRepo{
		listMissingTitleFunc: func(ctx context.Context, limit int) ([]*model.Item, error) {
			return []*model.Item{
				{ID: 1, URL: server.URL + "/broken", State: model.ItemStateQueued},
				{ID: 2, URL: server.URL + "/ok", State: model.ItemStateQueued},
			}, nil
		},
	}
	metrics := &mockMetrics{}
	job := NewJob(itemRepo, &mockGuard{}, security.NewTextSanitizer(), metrics, testLogger(), 10, 5*time.Second, 1<<20)

	if err := job.RunOnce(context.Background()); err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}

	// 失敗したアイテムはスキップされ、成功したアイテムだけ更新される。
	if len(itemRepo.updatedTitles) != 1 {
		t.Fatalf("更新件数: got %d, want 1", len(itemRepo.updatedTitles))
	}
	if got := itemRepo.updatedTitles[2]; got != "Fetched & Clean" {
		t.Errorf("タイトル: got %q, want %q", got, "Fetched & Clean")
	}
	if metrics.enriched != 1 {
		t.Errorf("メトリクス: got %d, want 1", metrics.enriched)
	}
}

func TestRunOnce_SkipsPagesWithoutTitle(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body>no title</body></html>"))
	}))
	defer server.Close()

	itemRepo := &mockItemRepo{
		listMissingTitleFunc: func(ctx context.Context, limit int) ([]*model.Item, error) {
			return []*model.Item{{ID: 1, URL: server.URL, State: model.ItemStateQueued}}, nil
		},
	}
	job := NewJob(itemRepo, &mockGuard{}, security.NewTextSanitizer(), &mockMetrics{}, testLogger(), 10, 5*time.Second, 1<<20)

	if err := job.RunOnce(context.Background()); err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}
	if len(itemRepo.updatedTitles) != 0 {
		t.Errorf("titleの無いページで更新が実行されました: %v", itemRepo.updatedTitles)
	}
}
