package orchestrator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/minutesbot/crawler/internal/classify"
	"github.com/minutesbot/crawler/internal/config"
	"github.com/minutesbot/crawler/internal/crawl"
	sha256hash "github.com/minutesbot/crawler/internal/hash/sha256"
	"github.com/minutesbot/crawler/internal/httpclient"
	"github.com/minutesbot/crawler/internal/manifest"
	"github.com/minutesbot/crawler/internal/metrics"
	"github.com/minutesbot/crawler/internal/model"
	"github.com/minutesbot/crawler/internal/ratelimit"
	"github.com/minutesbot/crawler/internal/robots"
	"github.com/minutesbot/crawler/internal/seed"
	"github.com/minutesbot/crawler/internal/seedchange"
)

func TestMain(m *testing.M) {
	metrics.Init()
	os.Exit(m.Run())
}

func newOrchestratorTestServer() *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body>no links</body></html>`))
	})
	return httptest.NewServer(mux)
}

func TestOrchestratorRunsEverySeed(t *testing.T) {
	ts := newOrchestratorTestServer()
	defer ts.Close()

	outDir := t.TempDir()
	manifestPath := filepath.Join(outDir, "manifest.jsonl")
	store, index, err := manifest.Open(manifestPath, false, zap.NewNop())
	if err != nil {
		t.Fatalf("manifest.Open: %v", err)
	}

	httpClient := httpclient.New(5*time.Second, config.DefaultUserAgent, nil)
	robotsCache := robots.New(false, config.DefaultUserAgent, 5*time.Second, nil)
	limiter := ratelimit.New(0)
	classifier := classify.New(config.DefaultKeywords, config.DefaultFileExts, config.DefaultURLHints)
	hasher := sha256hash.New()
	detector := seedchange.New(httpClient, hasher)

	crawler := crawl.New(httpClient, robotsCache, limiter, classifier, detector, store, index, hasher, zap.NewNop(), crawl.Options{
		OutDir: outDir, MaxDepth: 1, MaxPages: 10, SavePages: true, DownloadFiles: true, SkipCompletedSeeds: true,
	})

	tasks := []seed.Task{
		{Prefecture: "東京都", City: "渋谷区", SeedURL: ts.URL + "/"},
		{Prefecture: "東京都", City: "新宿区", SeedURL: ts.URL + "/"},
		{Prefecture: "大阪府", City: "大阪市", SeedURL: ts.URL + "/"},
	}

	orch := New(crawler, 2, zap.NewNop())
	if err := orch.Run(context.Background(), tasks); err != nil {
		t.Fatalf("Run error = %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("store.Close error = %v", err)
	}

	// The completed-seed index is rebuilt from the manifest at Open, so
	// reopen it to see the seed_done events this run wrote.
	reopened, resumed, err := manifest.Open(manifestPath, false, zap.NewNop())
	if err != nil {
		t.Fatalf("reopen manifest: %v", err)
	}
	defer func() { _ = reopened.Close() }()

	completed := 0
	for _, task := range tasks {
		key := model.SeedKey{Prefecture: task.Prefecture, City: task.City, SeedURL: ts.URL + "/"}
		if _, ok := resumed.CompletedValidator(key); ok {
			completed++
		}
	}
	if completed != len(tasks) {
		t.Errorf("expected all %d seeds to complete, index reports %d", len(tasks), completed)
	}
}

func TestOrchestratorDefaultsToOneWorker(t *testing.T) {
	orch := New(nil, 0, zap.NewNop())
	if orch.workers != 1 {
		t.Errorf("expected New to clamp a non-positive worker count to 1, got %d", orch.workers)
	}
}

func TestOrchestratorRunStopsOnContextCancellation(t *testing.T) {
	ts := newOrchestratorTestServer()
	defer ts.Close()

	outDir := t.TempDir()
	store, index, err := manifest.Open(filepath.Join(outDir, "manifest.jsonl"), false, zap.NewNop())
	if err != nil {
		t.Fatalf("manifest.Open: %v", err)
	}
	defer func() { _ = store.Close() }()

	httpClient := httpclient.New(5*time.Second, config.DefaultUserAgent, nil)
	robotsCache := robots.New(false, config.DefaultUserAgent, 5*time.Second, nil)
	limiter := ratelimit.New(0)
	classifier := classify.New(config.DefaultKeywords, config.DefaultFileExts, config.DefaultURLHints)
	hasher := sha256hash.New()
	detector := seedchange.New(httpClient, hasher)

	crawler := crawl.New(httpClient, robotsCache, limiter, classifier, detector, store, index, hasher, zap.NewNop(), crawl.Options{
		OutDir: outDir, MaxDepth: 1, MaxPages: 10,
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tasks := []seed.Task{{Prefecture: "東京都", City: "渋谷区", SeedURL: ts.URL + "/"}}
	orch := New(crawler, 1, zap.NewNop())
	if err := orch.Run(ctx, tasks); err == nil {
		t.Fatal("expected Run to report the canceled context")
	}
}
