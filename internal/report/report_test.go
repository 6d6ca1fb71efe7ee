package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/minutesbot/crawler/internal/model"
)

func writeManifestFixture(t *testing.T, dir string, events []model.Event) string {
	t.Helper()
	path := filepath.Join(dir, "manifest.jsonl")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create fixture: %v", err)
	}
	defer func() { _ = f.Close() }()

	enc := json.NewEncoder(f)
	for _, ev := range events {
		if err := enc.Encode(ev); err != nil {
			t.Fatalf("encode fixture event: %v", err)
		}
	}
	return path
}

func TestCollectFromManifest(t *testing.T) {
	dir := t.TempDir()
	path := writeManifestFixture(t, dir, []model.Event{
		{Kind: model.EventSeedStarted, Prefecture: "東京都", City: "渋谷区"},
		{Kind: model.EventRobotsDenied, Prefecture: "東京都", City: "渋谷区", Host: "example.com", PathPrefix: "/private", URL: "http://example.com/private/a.pdf"},
		{Kind: model.EventRobotsDenied, Prefecture: "東京都", City: "渋谷区", Host: "example.com", PathPrefix: "/private", URL: "http://example.com/private/a.pdf"},
		{Kind: model.EventRobotsDenied, Prefecture: "大阪府", City: "大阪市", Host: "osaka.example.com", PathPrefix: "/secret", URL: "http://osaka.example.com/secret/b.pdf"},
	})

	denials, err := CollectFromManifest(path)
	if err != nil {
		t.Fatalf("CollectFromManifest error = %v", err)
	}
	if len(denials) != 2 {
		t.Fatalf("expected deduplicated denials, got %d: %+v", len(denials), denials)
	}
}

func TestCollectFromManifestMissingFile(t *testing.T) {
	denials, err := CollectFromManifest("/nonexistent/manifest.jsonl")
	if err != nil {
		t.Fatalf("expected no error for a missing manifest, got %v", err)
	}
	if denials != nil {
		t.Errorf("expected nil denials, got %+v", denials)
	}
}

func TestCollectFromManifestSkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.jsonl")
	content := "not json\n" + `{"event":"robots_denied","prefecture":"東京都","city":"渋谷区","host":"example.com","url":"http://example.com/a.pdf"}` + "\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	denials, err := CollectFromManifest(path)
	if err != nil {
		t.Fatalf("CollectFromManifest error = %v", err)
	}
	if len(denials) != 1 {
		t.Fatalf("expected malformed lines to be skipped, got %+v", denials)
	}
}

func TestWrite(t *testing.T) {
	dir := t.TempDir()
	denials := []Denial{
		{Prefecture: "東京都", City: "渋谷区", Host: "example.com", PathPrefix: "/private", URL: "http://example.com/private/a.pdf"},
		{Prefecture: "東京都", City: "渋谷区", Host: "example.com", PathPrefix: "/private", URL: "http://example.com/private/b.pdf"},
		{Prefecture: "大阪府", City: "大阪市", Host: "osaka.example.com", PathPrefix: "/secret", URL: "http://osaka.example.com/secret/c.pdf"},
	}

	if err := Write(dir, denials, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("Write error = %v", err)
	}

	for _, name := range []string{
		"robots_disallow_urls.jsonl",
		"robots_disallow_summary.json",
		"robots_disallow_by_city.csv",
		"robots_disallow_by_domain.csv",
		"robots_disallow_by_path_prefix.csv",
	} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("expected %s to be written: %v", name, err)
		}
	}

	summaryData, err := os.ReadFile(filepath.Join(dir, "robots_disallow_summary.json"))
	if err != nil {
		t.Fatalf("read summary: %v", err)
	}
	var summary Summary
	if err := json.Unmarshal(summaryData, &summary); err != nil {
		t.Fatalf("unmarshal summary: %v", err)
	}
	if summary.RobotsDenyTotal != 3 {
		t.Errorf("expected total of 3 denials, got %d", summary.RobotsDenyTotal)
	}
	if len(summary.TopByCity) != 2 {
		t.Errorf("expected 2 city groups, got %+v", summary.TopByCity)
	}
	if summary.TopByCity[0].Count != 2 {
		t.Errorf("expected 渋谷区 to rank first with 2 denials, got %+v", summary.TopByCity)
	}
}

func TestWriteEmptyDenials(t *testing.T) {
	dir := t.TempDir()
	if err := Write(dir, nil, time.Now().UTC()); err != nil {
		t.Fatalf("Write with no denials should still succeed, got error = %v", err)
	}
}
