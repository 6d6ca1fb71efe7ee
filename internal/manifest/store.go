// Package manifest implements the append-only event log that drives resume:
// every crawl decision is recorded as one JSON line, and a derived
// in-memory index is rebuilt from it at startup, per spec §4.6.
package manifest

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/minutesbot/crawler/internal/model"
	"github.com/minutesbot/crawler/internal/urlnorm"
)

// ErrManifestWrite wraps every fatal manifest I/O failure: the manifest
// directory or file cannot be created, truncated, loaded, opened, or closed
// (spec §7). This is the one class of per-run fault that aborts the whole
// run rather than being recorded and swallowed. A failed write or fsync of
// a single event is logged by the writer goroutine and does not produce it.
var ErrManifestWrite = errors.New("manifest write")

// Index is the derived, in-memory resume state rebuilt by Open.
type Index struct {
	mu sync.RWMutex

	// CompletedSeeds maps a seed key to the validator stored on its
	// seed_done event.
	completedSeeds map[model.SeedKey]model.Validator
	downloadedURLs map[string]struct{}
	savedPages     map[string]string
	malformedLines int
}

// NewIndex returns an empty Index.
func NewIndex() *Index {
	return &Index{
		completedSeeds: make(map[model.SeedKey]model.Validator),
		downloadedURLs: make(map[string]struct{}),
		savedPages:     make(map[string]string),
	}
}

// CompletedValidator returns the validator stored for a completed seed, and
// whether that seed has a seed_done event at all.
func (idx *Index) CompletedValidator(key model.SeedKey) (model.Validator, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	v, ok := idx.completedSeeds[key]
	return v, ok
}

// IsDownloaded reports whether url already has a downloaded_file event.
func (idx *Index) IsDownloaded(url string) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	_, ok := idx.downloadedURLs[url]
	return ok
}

// MarkDownloaded records url as downloaded.
func (idx *Index) MarkDownloaded(url string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.downloadedURLs[url] = struct{}{}
}

// SavedPagePath returns the path a page URL was previously saved to.
func (idx *Index) SavedPagePath(url string) (string, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	p, ok := idx.savedPages[url]
	return p, ok
}

// MarkSaved records that a page URL was saved to path.
func (idx *Index) MarkSaved(url, path string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.savedPages[url] = path
}

func (idx *Index) apply(ev model.Event) {
	switch ev.Kind {
	case model.EventSeedDone:
		key := ev.Key()
		validator := model.Validator{}
		if ev.IndexValidator != nil {
			validator = *ev.IndexValidator
		}
		idx.mu.Lock()
		idx.completedSeeds[key] = validator
		idx.mu.Unlock()
	case model.EventDownloadedFile:
		if norm, err := urlnorm.Normalize(ev.URL); err == nil {
			idx.MarkDownloaded(norm)
		}
	case model.EventPageSaved:
		if norm, err := urlnorm.Normalize(ev.URL); err == nil {
			idx.MarkSaved(norm, ev.Path)
		}
	}
}

// MalformedLines returns the count of unparsable manifest lines skipped
// while loading.
func (idx *Index) MalformedLines() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.malformedLines
}

// Store owns the manifest file: a single append-lock writer fed by a
// bounded channel, plus the startup load that rebuilds Index.
type Store struct {
	path    string
	logger  *zap.Logger
	events  chan model.Event
	wg      sync.WaitGroup
	file    *os.File
	writeMu sync.Mutex
}

// Open creates the output directory, optionally truncates the manifest
// (overwrite), loads the derived Index from any existing content, then
// starts the single writer goroutine.
func Open(path string, overwrite bool, logger *zap.Logger) (*Store, *Index, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, nil, fmt.Errorf("%w: create manifest dir: %w", ErrManifestWrite, err)
	}

	if overwrite {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("%w: truncate manifest: %w", ErrManifestWrite, err)
		}
	}

	index, err := loadIndex(path)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: load manifest index: %w", ErrManifestWrite, err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: open manifest: %w", ErrManifestWrite, err)
	}

	s := &Store{
		path:   path,
		logger: logger,
		events: make(chan model.Event, 256),
		file:   f,
	}
	s.wg.Add(1)
	go s.run()
	return s, index, nil
}

// loadIndex streams the manifest file (if any) and rebuilds the resume
// index, ignoring malformed lines.
func loadIndex(path string) (*Index, error) {
	idx := NewIndex()

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return idx, nil
		}
		return nil, err
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev model.Event
		if err := json.Unmarshal(line, &ev); err != nil {
			idx.malformedLines++
			continue
		}
		idx.apply(ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return idx, nil
}

// Append enqueues ev for durable writing. It blocks (backpressure) when the
// internal queue is full, and respects ctx cancellation.
func (s *Store) Append(ctx context.Context, ev model.Event) error {
	select {
	case s.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the single writer goroutine: it flushes and fsyncs each event in
// turn, logging (not failing the run) on a write error.
func (s *Store) run() {
	defer s.wg.Done()
	// A closed buffered channel still yields its queued events before
	// returning ok=false, so Close's drain falls out of this loop alone.
	for ev := range s.events {
		s.writeOne(ev)
	}
}

func (s *Store) writeOne(ev model.Event) {
	line, err := json.Marshal(ev)
	if err != nil {
		if s.logger != nil {
			s.logger.Error("marshal manifest event", zap.Error(err))
		}
		return
	}
	line = append(line, '\n')

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.file.Write(line); err != nil {
		if s.logger != nil {
			s.logger.Error("write manifest event", zap.Error(err), zap.String("event", string(ev.Kind)))
		}
		return
	}
	if err := s.file.Sync(); err != nil {
		if s.logger != nil {
			s.logger.Error("fsync manifest", zap.Error(err))
		}
	}
}

// Close stops accepting new events, drains the queue, and closes the file.
func (s *Store) Close() error {
	close(s.events)
	s.wg.Wait()
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("%w: close manifest: %w", ErrManifestWrite, err)
	}
	return nil
}
