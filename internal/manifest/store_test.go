package manifest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/minutesbot/crawler/internal/model"
)

func TestOpenAndAppendPersistsEvents(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.jsonl")

	store, index, err := Open(path, false, zap.NewNop())
	if err != nil {
		t.Fatalf("Open error = %v", err)
	}
	ev := model.Event{
		Kind: model.EventSeedDone, Prefecture: "東京都", City: "渋谷区", SeedURL: "http://example.com/",
		PagesFetched: 3, IndexValidator: &model.Validator{ETag: `"v1"`},
	}
	if err := store.Append(context.Background(), ev); err != nil {
		t.Fatalf("Append error = %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close error = %v", err)
	}

	if v, ok := index.CompletedValidator(model.SeedKey{Prefecture: "東京都", City: "渋谷区", SeedURL: "http://example.com/"}); ok {
		t.Errorf("expected the freshly opened index not to know about an event appended after Open, got %+v", v)
	}

	reopened, index2, err := Open(path, false, zap.NewNop())
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer func() { _ = reopened.Close() }()

	key := model.SeedKey{Prefecture: "東京都", City: "渋谷区", SeedURL: "http://example.com/"}
	v, ok := index2.CompletedValidator(key)
	if !ok {
		t.Fatal("expected resume to rebuild the completed-seed index from the manifest")
	}
	if v.ETag != `"v1"` {
		t.Errorf("expected validator to round-trip, got %+v", v)
	}
}

func TestOpenOverwriteTruncatesManifest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.jsonl")

	store, _, err := Open(path, false, zap.NewNop())
	if err != nil {
		t.Fatalf("Open error = %v", err)
	}
	key := model.SeedKey{Prefecture: "東京都", City: "渋谷区", SeedURL: "http://example.com/"}
	if err := store.Append(context.Background(), model.Event{Kind: model.EventSeedDone, Prefecture: key.Prefecture, City: key.City, SeedURL: key.SeedURL}); err != nil {
		t.Fatalf("Append error = %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close error = %v", err)
	}

	store2, index, err := Open(path, true, zap.NewNop())
	if err != nil {
		t.Fatalf("Open(overwrite) error = %v", err)
	}
	defer func() { _ = store2.Close() }()

	if _, ok := index.CompletedValidator(key); ok {
		t.Error("expected overwrite to discard the prior manifest's state")
	}
}

func TestOpenSkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.jsonl")
	if err := os.WriteFile(path, []byte("not json\n{\"event\":\"seed_started\"}\n"), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	store, index, err := Open(path, false, zap.NewNop())
	if err != nil {
		t.Fatalf("Open error = %v", err)
	}
	defer func() { _ = store.Close() }()

	if index.MalformedLines() != 1 {
		t.Errorf("expected 1 malformed line, got %d", index.MalformedLines())
	}
}

func TestIndexMarkDownloadedAndSaved(t *testing.T) {
	idx := NewIndex()
	if idx.IsDownloaded("http://example.com/a.pdf") {
		t.Error("expected a.pdf not to be downloaded yet")
	}
	idx.MarkDownloaded("http://example.com/a.pdf")
	if !idx.IsDownloaded("http://example.com/a.pdf") {
		t.Error("expected a.pdf to be marked downloaded")
	}

	if _, ok := idx.SavedPagePath("http://example.com/page.html"); ok {
		t.Error("expected page.html not to be saved yet")
	}
	idx.MarkSaved("http://example.com/page.html", "/out/page.html")
	path, ok := idx.SavedPagePath("http://example.com/page.html")
	if !ok || path != "/out/page.html" {
		t.Errorf("expected saved path to round-trip, got %q, %v", path, ok)
	}
}

func TestCloseDrainsQueuedEvents(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.jsonl")
	store, _, err := Open(path, false, zap.NewNop())
	if err != nil {
		t.Fatalf("Open error = %v", err)
	}

	for i := 0; i < 10; i++ {
		if err := store.Append(context.Background(), model.Event{Kind: model.EventSeedStarted}); err != nil {
			t.Fatalf("Append error = %v", err)
		}
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	lines := 0
	for _, b := range data {
		if b == '\n' {
			lines++
		}
	}
	if lines != 10 {
		t.Errorf("expected Close to drain every queued event before returning, got %d lines", lines)
	}
}
