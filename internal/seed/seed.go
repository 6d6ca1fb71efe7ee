// Package seed loads the municipality input JSON and derives the seed
// tasks each Seed Crawler will run, per spec §3 and §4.7's seed-selection
// rule.
package seed

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"sort"

	"github.com/minutesbot/crawler/internal/model"
)

// Task is one selected seed: a municipality's chosen entry-point URL.
type Task struct {
	Prefecture string
	City       string
	SeedURL    string
}

// Load reads and parses the municipality input JSON at path.
func Load(path string) ([]model.Municipality, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed input: %w", err)
	}
	var records []model.Municipality
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse seed input: %w", err)
	}
	return records, nil
}

// Choose applies the parent-sum-vs-threshold rule: use the parent map's
// keys as seeds when their counts sum to at least threshold, otherwise
// fall back to grand_parent. A municipality with both maps empty yields no
// tasks.
func Choose(records []model.Municipality, threshold int) []Task {
	var tasks []Task
	for _, rec := range records {
		urls := chooseURLs(rec, threshold)
		for _, u := range urls {
			tasks = append(tasks, Task{Prefecture: rec.Prefecture, City: rec.City, SeedURL: u})
		}
	}
	return tasks
}

func chooseURLs(rec model.Municipality, threshold int) []string {
	if sumCounts(rec.Parent) >= threshold && len(rec.Parent) > 0 {
		return sortedKeys(rec.Parent)
	}
	return sortedKeys(rec.GrandParent)
}

func sumCounts(m map[string]int) int {
	total := 0
	for _, v := range m {
		total += v
	}
	return total
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// RoundRobinByHost reorders tasks so consecutive entries target different
// hosts where possible, spreading load across hosts instead of hammering
// one host with a run of seeds before moving to the next.
func RoundRobinByHost(tasks []Task) []Task {
	buckets := make(map[string][]Task)
	var order []string
	var unparsed []Task

	for _, t := range tasks {
		host := hostOf(t.SeedURL)
		if host == "" {
			unparsed = append(unparsed, t)
			continue
		}
		if _, ok := buckets[host]; !ok {
			order = append(order, host)
		}
		buckets[host] = append(buckets[host], t)
	}

	var ordered []Task
	for len(order) > 0 {
		var next []string
		for _, host := range order {
			queue := buckets[host]
			if len(queue) == 0 {
				continue
			}
			ordered = append(ordered, queue[0])
			buckets[host] = queue[1:]
			if len(buckets[host]) > 0 {
				next = append(next, host)
			}
		}
		order = next
	}
	ordered = append(ordered, unparsed...)
	return ordered
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}
