// Package crawl implements the Seed Crawler: bounded-breadth traversal of
// one seed, honoring depth/page caps, scope rules, robots, and rate
// limits, and emitting manifest events for everything it does, per
// spec §4.7.
package crawl

import (
	"context"
	"fmt"
	"mime"
	neturl "net/url"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/minutesbot/crawler/internal/classify"
	"github.com/minutesbot/crawler/internal/httpclient"
	"github.com/minutesbot/crawler/internal/manifest"
	"github.com/minutesbot/crawler/internal/metrics"
	"github.com/minutesbot/crawler/internal/model"
	"github.com/minutesbot/crawler/internal/ratelimit"
	"github.com/minutesbot/crawler/internal/robots"
	"github.com/minutesbot/crawler/internal/seed"
	"github.com/minutesbot/crawler/internal/seedchange"
	"github.com/minutesbot/crawler/internal/urlnorm"
)

// Hasher computes the hex content hash recorded on page_saved events.
type Hasher interface {
	Hash(data []byte) string
}

// Options configures one Crawler's behavior, derived from the resolved
// Config.
type Options struct {
	RunID              string
	OutDir             string
	MaxDepth           int
	MaxPages           int
	SameDomainOnly     bool
	SamePathPrefixOnly bool
	SavePages          bool
	DownloadFiles      bool
	ForceDownload      bool
	SkipCompletedSeeds bool
	RecheckSeeds       bool
	ForceCrawl         bool
}

// Crawler runs one seed's BFS traversal at a time; it is safe to run many
// Crawlers concurrently over shared collaborators (the Orchestrator's job).
type Crawler struct {
	client     *httpclient.Client
	robots     *robots.Cache
	limiter    *ratelimit.Limiter
	classifier *classify.Classifier
	detector   *seedchange.Detector
	store      *manifest.Store
	index      *manifest.Index
	hasher     Hasher
	logger     *zap.Logger
	opts       Options
}

// New builds a Crawler over the shared, process-wide collaborators.
func New(
	client *httpclient.Client,
	robotsCache *robots.Cache,
	limiter *ratelimit.Limiter,
	classifier *classify.Classifier,
	detector *seedchange.Detector,
	store *manifest.Store,
	index *manifest.Index,
	hasher Hasher,
	logger *zap.Logger,
	opts Options,
) *Crawler {
	return &Crawler{
		client:     client,
		robots:     robotsCache,
		limiter:    limiter,
		classifier: classifier,
		detector:   detector,
		store:      store,
		index:      index,
		hasher:     hasher,
		logger:     logger,
		opts:       opts,
	}
}

type frontierItem struct {
	url   string
	depth int
}

// Run drives a single seed task from seed_started to seed_done (or an
// early seed_skipped). Per-URL faults are recorded and swallowed; only
// context cancellation propagates out.
func (c *Crawler) Run(ctx context.Context, task seed.Task) error {
	seedURL, err := urlnorm.Normalize(task.SeedURL)
	if err != nil {
		c.emitError(ctx, task, task.SeedURL, task.SeedURL, "normalize_seed", err)
		return nil
	}
	// seed_done events carry the normalized seed URL, so the resume lookup
	// must use it too.
	key := model.SeedKey{Prefecture: task.Prefecture, City: task.City, SeedURL: seedURL}

	prior, completed := c.index.CompletedValidator(key)
	var reuseBody []byte
	var reuseValidator model.Validator
	haveReuse := false

	if completed && !c.opts.ForceCrawl {
		switch {
		// The conditional GET is the default flow for a completed seed
		// (spec §4.5); skip-without-checking only applies when recheck
		// is disabled or the seed has no stored validator to check against.
		case c.opts.RecheckSeeds && prior.Populated():
			result, err := c.detector.Check(ctx, seedURL, prior)
			if err != nil {
				c.emitError(ctx, task, seedURL, seedURL, "seed_change_check", err)
				// Fall through to a full re-crawl; the fault is local.
			} else if result.Outcome == seedchange.Skip {
				c.emitSkipped(ctx, task, seedURL, model.SkipNoChangeDetected)
				return nil
			} else if len(result.Body) > 0 {
				reuseBody = result.Body
				reuseValidator = result.Validator
				haveReuse = true
			}
		case c.opts.SkipCompletedSeeds:
			c.emitSkipped(ctx, task, seedURL, model.SkipCompletedUnchanged)
			return nil
		}
	}

	if !c.robots.Allowed(ctx, seedURL) {
		c.emitRobotsDenied(ctx, task, seedURL, seedURL)
		c.emitSkipped(ctx, task, seedURL, model.SkipRobotsDenied)
		return nil
	}

	if err := c.store.Append(ctx, model.Event{
		Kind: model.EventSeedStarted, Timestamp: now(), RunID: c.opts.RunID, Prefecture: task.Prefecture, City: task.City, SeedURL: seedURL,
	}); err != nil {
		return fmt.Errorf("append seed_started: %w", err)
	}

	return c.crawlSeed(ctx, task, seedURL, reuseBody, reuseValidator, haveReuse)
}

func (c *Crawler) crawlSeed(ctx context.Context, task seed.Task, seedURL string, reuseBody []byte, reuseValidator model.Validator, haveReuse bool) error {
	visited := make(map[string]struct{})
	frontier := []frontierItem{{url: seedURL, depth: 0}}

	var seedValidator model.Validator
	pagesFetched := 0
	filesDownloaded := 0

	pagesDir := filepath.Join(c.opts.OutDir, task.Prefecture, task.City, "pages")
	filesDir := filepath.Join(c.opts.OutDir, task.Prefecture, task.City, "files")

	for len(frontier) > 0 && pagesFetched < c.opts.MaxPages {
		item := frontier[0]
		frontier = frontier[1:]

		norm, err := urlnorm.Normalize(item.url)
		if err != nil {
			continue
		}
		if _, seen := visited[norm]; seen {
			continue
		}
		visited[norm] = struct{}{}

		if norm != seedURL {
			if c.opts.SameDomainOnly && !urlnorm.SameDomain(seedURL, norm) {
				continue
			}
			if c.opts.SamePathPrefixOnly && !urlnorm.SamePathPrefix(seedURL, norm) {
				continue
			}

			if !c.robots.Allowed(ctx, norm) {
				c.emitRobotsDenied(ctx, task, seedURL, norm)
				continue
			}
		}

		waitStart := time.Now()
		if err := c.limiter.Wait(ctx, norm, c.robots.CrawlDelay(ctx, norm)); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
		metrics.ObserveRateLimitWait(norm, time.Since(waitStart))

		var resp *httpclient.Response
		if haveReuse && norm == seedURL {
			resp = &httpclient.Response{Status: 200, Body: reuseBody, FinalURL: seedURL, ETag: reuseValidator.ETag, LastMod: reuseValidator.LastModified}
			haveReuse = false
		} else {
			resp, err = c.client.Get(ctx, norm, nil)
			if err != nil {
				c.emitError(ctx, task, seedURL, norm, "fetch", err)
				metrics.ObservePage(norm, "error")
				continue
			}
		}
		pagesFetched++
		metrics.ObservePage(norm, "ok")

		if norm == seedURL {
			bodyHash := c.hasher.Hash(resp.Body)
			seedValidator = model.Validator{ETag: resp.ETag, LastModified: resp.LastMod, ContentSHA256: bodyHash}
		}

		contentType := resp.Headers.Get("Content-Type")
		if httpclient.LooksBinary(contentType) || (c.classifier.IsMinuteFile(norm) && !looksHTML(contentType)) {
			if err := c.handleDirectFilePayload(ctx, task, seedURL, norm, resp, filesDir, &filesDownloaded); err != nil {
				c.emitError(ctx, task, seedURL, norm, "download", err)
			}
			continue
		}

		if c.opts.SavePages {
			if err := c.savePage(ctx, task, seedURL, norm, resp.Body, pagesDir); err != nil {
				c.emitError(ctx, task, seedURL, norm, "save_page", err)
			}
		}

		links, err := classify.ExtractLinks(newBodyReader(resp.Body))
		if err != nil {
			c.emitError(ctx, task, seedURL, norm, "parse_html", err)
			continue
		}

		for _, link := range links {
			absolute, err := urlnorm.Resolve(norm, link.URL)
			if err != nil {
				continue
			}

			if c.classifier.IsMinuteFile(absolute) && c.classifier.LooksLikeMinute(absolute, link.AnchorText) >= classify.ScoreHint {
				if err := c.store.Append(ctx, model.Event{
					Kind: model.EventLinkFound, Timestamp: now(), RunID: c.opts.RunID, Prefecture: task.Prefecture, City: task.City, SeedURL: seedURL,
					PageURL: norm, TargetURL: absolute, LinkKind: model.LinkKindFile,
				}); err != nil {
					return fmt.Errorf("append link_found: %w", err)
				}
				if c.opts.DownloadFiles {
					if err := c.downloadPayload(ctx, task, seedURL, absolute, filesDir, &filesDownloaded); err != nil {
						c.emitError(ctx, task, seedURL, absolute, "download", err)
					}
				}
				continue
			}

			// A link with a minute-file extension that didn't score as a
			// minute is still a file, never a navigational page: it must
			// not enter the frontier (spec §4.4 payload/frontier split).
			if c.classifier.IsMinuteFile(absolute) {
				continue
			}

			if c.opts.SameDomainOnly && !urlnorm.SameDomain(seedURL, absolute) {
				continue
			}
			if c.opts.SamePathPrefixOnly && !urlnorm.SamePathPrefix(seedURL, absolute) {
				continue
			}
			if item.depth+1 > c.opts.MaxDepth {
				continue
			}
			frontier = append(frontier, frontierItem{url: absolute, depth: item.depth + 1})
		}
	}

	var validatorPtr *model.Validator
	if seedValidator.Populated() {
		validatorPtr = &seedValidator
	}
	return c.emitSeedDone(ctx, task, seedURL, pagesFetched, filesDownloaded, validatorPtr)
}

func (c *Crawler) handleDirectFilePayload(ctx context.Context, task seed.Task, seedURL, fileURL string, resp *httpclient.Response, filesDir string, filesDownloaded *int) error {
	if c.index.IsDownloaded(fileURL) && !c.opts.ForceDownload {
		return nil
	}
	if !c.opts.DownloadFiles {
		return nil
	}

	digest := c.hasher.Hash(resp.Body)
	base := fileBaseName(fileURL, digest)
	finalPath, err := resolveCollisionPath(filesDir, base, digest)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(finalPath, resp.Body); err != nil {
		return err
	}

	c.index.MarkDownloaded(fileURL)
	*filesDownloaded++
	metrics.ObserveDownload(fileURL)
	return c.store.Append(ctx, model.Event{
		Kind: model.EventDownloadedFile, Timestamp: now(), RunID: c.opts.RunID, Prefecture: task.Prefecture, City: task.City, SeedURL: seedURL,
		URL: fileURL, Path: finalPath, Size: int64(len(resp.Body)), ContentSHA256: digest,
	})
}

func (c *Crawler) downloadPayload(ctx context.Context, task seed.Task, seedURL, fileURL, filesDir string, filesDownloaded *int) error {
	if c.index.IsDownloaded(fileURL) && !c.opts.ForceDownload {
		return nil
	}
	if !c.robots.Allowed(ctx, fileURL) {
		c.emitRobotsDenied(ctx, task, seedURL, fileURL)
		return nil
	}
	if err := c.limiter.Wait(ctx, fileURL, c.robots.CrawlDelay(ctx, fileURL)); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	path, size, digest, err := c.atomicDownload(ctx, filesDir, fileURL)
	if err != nil {
		return err
	}

	c.index.MarkDownloaded(fileURL)
	*filesDownloaded++
	metrics.ObserveDownload(fileURL)
	return c.store.Append(ctx, model.Event{
		Kind: model.EventDownloadedFile, Timestamp: now(), RunID: c.opts.RunID, Prefecture: task.Prefecture, City: task.City, SeedURL: seedURL,
		URL: fileURL, Path: path, Size: size, ContentSHA256: digest,
	})
}

func (c *Crawler) savePage(ctx context.Context, task seed.Task, seedURL, pageURL string, body []byte, pagesDir string) error {
	digest := c.hasher.Hash(body)
	name := pageFilename(pageURL, digest)
	path := filepath.Join(pagesDir, name)

	if err := writeFileAtomic(path, body); err != nil {
		return err
	}

	c.index.MarkSaved(pageURL, path)
	return c.store.Append(ctx, model.Event{
		Kind: model.EventPageSaved, Timestamp: now(), RunID: c.opts.RunID, Prefecture: task.Prefecture, City: task.City, SeedURL: seedURL,
		URL: pageURL, Path: path, ContentSHA256: digest,
	})
}

func (c *Crawler) emitSeedDone(ctx context.Context, task seed.Task, seedURL string, pagesFetched, filesDownloaded int, validator *model.Validator) error {
	metrics.ObserveSeedOutcome("completed")
	return c.store.Append(ctx, model.Event{
		Kind: model.EventSeedDone, Timestamp: now(), RunID: c.opts.RunID, Prefecture: task.Prefecture, City: task.City, SeedURL: seedURL,
		PagesFetched: pagesFetched, FilesDownloaded: filesDownloaded, IndexValidator: validator,
	})
}

func (c *Crawler) emitSkipped(ctx context.Context, task seed.Task, seedURL string, reason model.SkipReason) {
	metrics.ObserveSeedOutcome("skipped")
	err := c.store.Append(ctx, model.Event{
		Kind: model.EventSeedSkipped, Timestamp: now(), RunID: c.opts.RunID, Prefecture: task.Prefecture, City: task.City, SeedURL: seedURL,
		Reason: reason,
	})
	if err != nil && c.logger != nil {
		c.logger.Warn("append seed_skipped", zap.Error(err))
	}
}

func (c *Crawler) emitRobotsDenied(ctx context.Context, task seed.Task, seedURL, deniedURL string) {
	metrics.ObserveRobotsDenial()
	err := c.store.Append(ctx, model.Event{
		Kind: model.EventRobotsDenied, Timestamp: now(), RunID: c.opts.RunID, Prefecture: task.Prefecture, City: task.City, SeedURL: seedURL,
		URL: deniedURL, Host: hostOf(deniedURL), PathPrefix: urlnorm.PathPrefix(deniedURL),
	})
	if err != nil && c.logger != nil {
		c.logger.Warn("append robots_denied", zap.Error(err))
	}
}

func (c *Crawler) emitError(ctx context.Context, task seed.Task, seedURL, url, phase string, cause error) {
	err := c.store.Append(ctx, model.Event{
		Kind: model.EventError, Timestamp: now(), RunID: c.opts.RunID, Prefecture: task.Prefecture, City: task.City, SeedURL: seedURL,
		URL: url, Phase: phase, Message: cause.Error(),
	})
	if err != nil && c.logger != nil {
		c.logger.Warn("append error event", zap.Error(err))
	}
	if c.logger != nil {
		c.logger.Debug("per-url fault", zap.String("url", url), zap.String("phase", phase), zap.Error(cause))
	}
}

// looksHTML reports whether a Content-Type header names an HTML document.
func looksHTML(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return contentType == ""
	}
	return mt == "text/html" || mt == "application/xhtml+xml"
}

func now() time.Time { return time.Now().UTC() }

func hostOf(rawURL string) string {
	u, err := neturl.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}

func newBodyReader(body []byte) *strings.Reader {
	return strings.NewReader(string(body))
}
