package seed

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/minutesbot/crawler/internal/model"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "seeds.json")
	records := []model.Municipality{
		{Prefecture: "東京都", City: "渋谷区", Parent: map[string]int{"http://a.example.com/": 10}},
	}
	data, err := json.Marshal(records)
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load error = %v", err)
	}
	if len(got) != 1 || got[0].City != "渋谷区" {
		t.Errorf("Load returned unexpected records: %+v", got)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/path.json"); err == nil {
		t.Fatal("expected error for a missing input file")
	}
}

func TestLoadMalformedJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(path, []byte("not json"), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for malformed json")
	}
}

func TestChooseUsesParentWhenAboveThreshold(t *testing.T) {
	records := []model.Municipality{
		{
			Prefecture: "東京都", City: "渋谷区",
			Parent:      map[string]int{"http://a.example.com/": 3, "http://b.example.com/": 4},
			GrandParent: map[string]int{"http://fallback.example.com/": 100},
		},
	}
	tasks := Choose(records, 5)
	if len(tasks) != 2 {
		t.Fatalf("expected 2 parent seeds, got %d: %+v", len(tasks), tasks)
	}
	for _, task := range tasks {
		if task.SeedURL == "http://fallback.example.com/" {
			t.Error("expected fallback to grand_parent not to be used when parent sum meets threshold")
		}
	}
}

func TestChooseFallsBackToGrandParentWhenBelowThreshold(t *testing.T) {
	records := []model.Municipality{
		{
			Prefecture: "東京都", City: "渋谷区",
			Parent:      map[string]int{"http://a.example.com/": 1},
			GrandParent: map[string]int{"http://fallback.example.com/": 100},
		},
	}
	tasks := Choose(records, 5)
	if len(tasks) != 1 || tasks[0].SeedURL != "http://fallback.example.com/" {
		t.Fatalf("expected fallback to grand_parent, got %+v", tasks)
	}
}

func TestChooseEmptyMapsYieldsNoTasks(t *testing.T) {
	records := []model.Municipality{{Prefecture: "東京都", City: "渋谷区"}}
	tasks := Choose(records, 5)
	if len(tasks) != 0 {
		t.Fatalf("expected no tasks for a municipality with no candidates, got %+v", tasks)
	}
}

func TestChooseSeedURLsAreSorted(t *testing.T) {
	records := []model.Municipality{
		{
			Prefecture: "東京都", City: "渋谷区",
			Parent: map[string]int{"http://z.example.com/": 5, "http://a.example.com/": 5},
		},
	}
	tasks := Choose(records, 5)
	if len(tasks) != 2 || tasks[0].SeedURL != "http://a.example.com/" || tasks[1].SeedURL != "http://z.example.com/" {
		t.Fatalf("expected deterministic sorted seed urls, got %+v", tasks)
	}
}

func TestRoundRobinByHostInterleaves(t *testing.T) {
	tasks := []Task{
		{City: "a1", SeedURL: "http://host-a.example.com/1"},
		{City: "a2", SeedURL: "http://host-a.example.com/2"},
		{City: "b1", SeedURL: "http://host-b.example.com/1"},
		{City: "a3", SeedURL: "http://host-a.example.com/3"},
	}
	ordered := RoundRobinByHost(tasks)
	if len(ordered) != len(tasks) {
		t.Fatalf("expected %d tasks, got %d", len(tasks), len(ordered))
	}
	if ordered[0].City != "a1" || ordered[1].City != "b1" {
		t.Errorf("expected hosts to interleave before repeating, got order %+v", ordered)
	}
}

func TestRoundRobinByHostKeepsUnparsedURLs(t *testing.T) {
	tasks := []Task{
		{City: "good", SeedURL: "http://example.com/"},
		{City: "bad", SeedURL: "://not a url"},
	}
	ordered := RoundRobinByHost(tasks)
	if len(ordered) != 2 {
		t.Fatalf("expected unparsable seed urls to be preserved, got %+v", ordered)
	}
}
