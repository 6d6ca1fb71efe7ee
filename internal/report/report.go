// Package report implements the Denial Report Aggregator: an end-of-run
// pass over the manifest's robots_denied events, producing JSONL and CSV
// summaries by city, host, and path-prefix, per spec §4.9.
package report

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/minutesbot/crawler/internal/model"
)

// Denial is one robots-blocked URL, attributed to its municipality.
type Denial struct {
	Prefecture string `json:"prefecture"`
	City       string `json:"city"`
	Host       string `json:"host"`
	PathPrefix string `json:"path_prefix"`
	URL        string `json:"url"`
}

// CollectFromManifest streams manifestPath and returns every robots_denied
// event, deduplicated by (prefecture, city, url).
func CollectFromManifest(manifestPath string) ([]Denial, error) {
	f, err := os.Open(manifestPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer func() { _ = f.Close() }()

	seen := make(map[string]struct{})
	var denials []Denial

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev model.Event
		if err := json.Unmarshal(line, &ev); err != nil {
			continue
		}
		if ev.Kind != model.EventRobotsDenied {
			continue
		}
		key := ev.Prefecture + "|" + ev.City + "|" + ev.URL
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		denials = append(denials, Denial{
			Prefecture: ev.Prefecture,
			City:       ev.City,
			Host:       ev.Host,
			PathPrefix: ev.PathPrefix,
			URL:        ev.URL,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan manifest: %w", err)
	}
	return denials, nil
}

type countEntry struct {
	key   [2]string
	count int
}

// Summary is the top-N grouping payload written to
// robots_disallow_summary.json.
type Summary struct {
	GeneratedAt     time.Time   `json:"generated_at"`
	RobotsDenyTotal int         `json:"robots_disallow_total"`
	TopByCity       []CityCount `json:"top_by_city"`
	TopByHost       []HostCount `json:"top_by_domain"`
	TopByPathPrefix []PathCount `json:"top_by_path_prefix"`
}

// CityCount is one (prefecture, city) grouping in the summary.
type CityCount struct {
	Prefecture string `json:"prefecture"`
	City       string `json:"city"`
	Count      int    `json:"count"`
}

// HostCount is one host grouping in the summary.
type HostCount struct {
	Host  string `json:"host"`
	Count int    `json:"count"`
}

// PathCount is one (host, path_prefix) grouping in the summary.
type PathCount struct {
	Host       string `json:"host"`
	PathPrefix string `json:"path_prefix"`
	Count      int    `json:"count"`
}

const topN = 50

// Write emits the five report artifacts under reportDir: the per-denial
// JSONL, the top-N summary JSON, and the by-city, by-domain and
// by-path-prefix CSVs.
func Write(reportDir string, denials []Denial, generatedAt time.Time) error {
	if err := os.MkdirAll(reportDir, 0o750); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}

	if err := writeURLsJSONL(filepath.Join(reportDir, "robots_disallow_urls.jsonl"), denials); err != nil {
		return err
	}

	byCity := countByCity(denials)
	byHost := countByHost(denials)
	byPath := countByPath(denials)

	summary := Summary{
		GeneratedAt:     generatedAt,
		RobotsDenyTotal: len(denials),
		TopByCity:       topCity(byCity, topN),
		TopByHost:       topHost(byHost, topN),
		TopByPathPrefix: topPath(byPath, topN),
	}
	if err := writeSummaryJSON(filepath.Join(reportDir, "robots_disallow_summary.json"), summary); err != nil {
		return err
	}

	if err := writeCityCSV(filepath.Join(reportDir, "robots_disallow_by_city.csv"), byCity); err != nil {
		return err
	}
	if err := writeHostCSV(filepath.Join(reportDir, "robots_disallow_by_domain.csv"), byHost); err != nil {
		return err
	}
	if err := writePathCSV(filepath.Join(reportDir, "robots_disallow_by_path_prefix.csv"), byPath); err != nil {
		return err
	}
	return nil
}

func writeURLsJSONL(path string, denials []Denial) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	enc := json.NewEncoder(f)
	for _, d := range denials {
		if err := enc.Encode(d); err != nil {
			return fmt.Errorf("encode denial: %w", err)
		}
	}
	return nil
}

func writeSummaryJSON(path string, summary Summary) error {
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func countByCity(denials []Denial) []countEntry {
	counts := make(map[[2]string]int)
	for _, d := range denials {
		counts[[2]string{d.Prefecture, d.City}]++
	}
	return sortedEntries(counts)
}

func countByHost(denials []Denial) []countEntry {
	counts := make(map[[2]string]int)
	for _, d := range denials {
		counts[[2]string{d.Host, ""}]++
	}
	return sortedEntries(counts)
}

func countByPath(denials []Denial) []countEntry {
	counts := make(map[[2]string]int)
	for _, d := range denials {
		counts[[2]string{d.Host, d.PathPrefix}]++
	}
	return sortedEntries(counts)
}

func sortedEntries(counts map[[2]string]int) []countEntry {
	entries := make([]countEntry, 0, len(counts))
	for k, v := range counts {
		entries = append(entries, countEntry{key: k, count: v})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].count != entries[j].count {
			return entries[i].count > entries[j].count
		}
		if entries[i].key[0] != entries[j].key[0] {
			return entries[i].key[0] < entries[j].key[0]
		}
		return entries[i].key[1] < entries[j].key[1]
	})
	return entries
}

func topCity(entries []countEntry, n int) []CityCount {
	out := make([]CityCount, 0, min(n, len(entries)))
	for i, e := range entries {
		if i >= n {
			break
		}
		out = append(out, CityCount{Prefecture: e.key[0], City: e.key[1], Count: e.count})
	}
	return out
}

func topHost(entries []countEntry, n int) []HostCount {
	out := make([]HostCount, 0, min(n, len(entries)))
	for i, e := range entries {
		if i >= n {
			break
		}
		out = append(out, HostCount{Host: e.key[0], Count: e.count})
	}
	return out
}

func topPath(entries []countEntry, n int) []PathCount {
	out := make([]PathCount, 0, min(n, len(entries)))
	for i, e := range entries {
		if i >= n {
			break
		}
		out = append(out, PathCount{Host: e.key[0], PathPrefix: e.key[1], Count: e.count})
	}
	return out
}

func writeCityCSV(path string, entries []countEntry) error {
	return writeCSV(path, []string{"prefecture", "city", "count"}, entries, func(e countEntry) []string {
		return []string{e.key[0], e.key[1], fmt.Sprint(e.count)}
	})
}

func writeHostCSV(path string, entries []countEntry) error {
	return writeCSV(path, []string{"host", "count"}, entries, func(e countEntry) []string {
		return []string{e.key[0], fmt.Sprint(e.count)}
	})
}

func writePathCSV(path string, entries []countEntry) error {
	return writeCSV(path, []string{"host", "path_prefix", "count"}, entries, func(e countEntry) []string {
		return []string{e.key[0], e.key[1], fmt.Sprint(e.count)}
	})
}

func writeCSV(path string, header []string, entries []countEntry, row func(countEntry) []string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, e := range entries {
		if err := w.Write(row(e)); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}
