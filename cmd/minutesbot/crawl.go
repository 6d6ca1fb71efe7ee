package minutesbot

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/minutesbot/crawler/internal/classify"
	"github.com/minutesbot/crawler/internal/config"
	"github.com/minutesbot/crawler/internal/crawl"
	"github.com/minutesbot/crawler/internal/hash/sha256"
	"github.com/minutesbot/crawler/internal/httpclient"
	"github.com/minutesbot/crawler/internal/manifest"
	"github.com/minutesbot/crawler/internal/metrics"
	"github.com/minutesbot/crawler/internal/orchestrator"
	"github.com/minutesbot/crawler/internal/ratelimit"
	"github.com/minutesbot/crawler/internal/report"
	"github.com/minutesbot/crawler/internal/robots"
	"github.com/minutesbot/crawler/internal/runid"
	"github.com/minutesbot/crawler/internal/seed"
	"github.com/minutesbot/crawler/internal/seedchange"
)

// newCrawlCmd builds the 'crawl' subcommand, carrying every flag from
// spec.md §6. Flags bind to Viper keys so a --config file or CRAWLER_* env
// var can override them without touching the flag definitions.
func newCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run one crawl over the configured seed list",
		Long: `Loads the municipality seed list, selects each city's entry-point URL
under the parent/grand_parent threshold rule, and crawls outward from it,
honoring robots.txt, per-host rate limits, and scope rules, while recording
every decision to a resumable manifest.`,
		RunE: runCrawlCommand,
	}

	flags := cmd.Flags()
	flags.String("input", "data/minute_link_list.json", "path to the municipality seed list JSON")
	flags.String("outdir", "data/minutes_out", "root output directory")
	flags.String("manifest", "", "manifest path (default <outdir>/manifest.jsonl)")
	flags.String("report-dir", "", "denial report directory (default <outdir>/reports)")

	flags.Int("threshold", 5, "minimum parent-count sum before falling back to grand_parent")
	flags.Int("max-depth", 2, "maximum BFS depth from a seed")
	flags.Int("max-pages", 200, "maximum pages fetched per seed")
	flags.Int("workers", 8, "number of concurrent seed workers")

	flags.Duration("delay", 500*time.Millisecond, "minimum delay between requests to the same host")
	flags.Duration("timeout", 20*time.Second, "per-request HTTP timeout")
	flags.String("user-agent", config.DefaultUserAgent, "User-Agent header sent on every request")

	flags.Bool("no-download", false, "skip writing pages and files to disk")
	flags.Bool("no-download-files", false, "skip downloading payload files (pages still saved)")
	flags.Bool("force-download", false, "re-download files even if already recorded in the manifest")

	flags.Bool("resume", true, "resume from the existing manifest instead of starting fresh")
	flags.Bool("no-resume", false, "disable resume (equivalent to --overwrite-manifest)")
	flags.Bool("overwrite-manifest", false, "truncate the manifest before starting")

	flags.Bool("skip-completed-seeds", false, "skip a completed seed outright instead of rechecking it for change")
	flags.Bool("no-skip-completed-seeds", false, "always recheck completed seeds (the default)")
	flags.Bool("force-crawl", false, "ignore all completed/skip state and crawl every seed")

	flags.Bool("recheck-seeds", true, "use conditional GET / body hash to detect seed-index change")
	flags.Bool("no-recheck-seeds", false, "disable seed-index change detection")

	flags.Bool("respect-robots", true, "honor robots.txt")
	flags.Bool("no-respect-robots", false, "ignore robots.txt")

	flags.Bool("same-domain-only", true, "restrict the frontier to the seed's domain")
	flags.Bool("same-path-prefix-only", false, "restrict the frontier to URLs whose path begins with the seed's path")

	flags.StringSlice("keywords", config.DefaultKeywords, "comma-separated minute-keyword overrides")
	flags.StringSlice("file-exts", config.DefaultFileExts, "comma-separated payload file extension overrides")
	flags.StringSlice("url-hints", config.DefaultURLHints, "comma-separated URL-hint overrides")

	flags.Bool("development", false, "use a human-readable development logger")
	flags.String("metrics-addr", "", "if set, serve /metrics and /healthz on this address for the run's duration")

	bindFlags(flags)
	return cmd
}

// bindFlags wires every flag above to its Viper key (dashes to underscores,
// matching internal/config.Config's mapstructure tags), so
// internal/config.Load's v.Unmarshal picks up flag values.
func bindFlags(flags *pflag.FlagSet) {
	for _, name := range []string{
		"input", "outdir", "manifest", "report-dir",
		"threshold", "max-depth", "max-pages", "workers",
		"delay", "timeout", "user-agent",
		"no-download", "no-download-files", "force-download",
		"resume", "no-resume", "overwrite-manifest",
		"skip-completed-seeds", "no-skip-completed-seeds", "force-crawl",
		"recheck-seeds", "no-recheck-seeds",
		"respect-robots", "no-respect-robots",
		"same-domain-only", "same-path-prefix-only",
		"keywords", "file-exts", "url-hints",
		"development", "metrics-addr",
	} {
		key := viperKeyFor(name)
		if err := viper.BindPFlag(key, flags.Lookup(name)); err != nil {
			// A bind failure means the flag name and its Viper key drifted
			// apart; this can only happen if the list above is wrong.
			panic(fmt.Sprintf("bind flag %q: %v", name, err))
		}
	}
}

func viperKeyFor(flagName string) string {
	return strings.ReplaceAll(flagName, "-", "_")
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	app, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := app.Logger

	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runID, err := runid.New().NewID()
	if err != nil {
		return fmt.Errorf("generate run id: %w", err)
	}
	logger = logger.With(zap.String("run", runID))

	metrics.Init()
	var metricsServer *metrics.Server
	if cfg.MetricsAddr != "" {
		metricsServer = metrics.NewServer(cfg.MetricsAddr, logger.Named("metrics"))
		go func() {
			if srvErr := metricsServer.Run(ctx); srvErr != nil {
				logger.Warn("metrics server stopped", zap.Error(srvErr))
			}
		}()
	}

	records, err := seed.Load(cfg.InputPath)
	if err != nil {
		return fmt.Errorf("%w: %w", config.ErrConfig, err)
	}
	tasks := seed.RoundRobinByHost(seed.Choose(records, cfg.Threshold))
	logger.Info("seed selection complete", zap.Int("municipalities", len(records)), zap.Int("seeds", len(tasks)))

	overwrite := cfg.OverwriteManifest || !cfg.EffectiveResume()
	store, index, err := manifest.Open(cfg.ManifestPath, overwrite, logger.Named("manifest"))
	if err != nil {
		return err
	}
	if n := index.MalformedLines(); n > 0 {
		logger.Warn("skipped malformed manifest lines on resume", zap.Int("count", n))
	}

	httpClient := httpclient.New(cfg.Timeout, cfg.UserAgent, logger.Named("http"))
	robotsCache := robots.New(cfg.EffectiveRespectRobots(), cfg.UserAgent, cfg.Timeout, logger.Named("robots"))
	limiter := ratelimit.New(cfg.Delay)
	classifier := classify.New(cfg.Keywords, cfg.FileExts, cfg.URLHints)
	hasher := sha256.New()
	detector := seedchange.New(httpClient, hasher)

	crawler := crawl.New(httpClient, robotsCache, limiter, classifier, detector, store, index, hasher, logger.Named("crawl"), crawl.Options{
		RunID:              runID,
		OutDir:             cfg.OutDir,
		MaxDepth:           cfg.MaxDepth,
		MaxPages:           cfg.MaxPages,
		SameDomainOnly:     cfg.SameDomainOnly,
		SamePathPrefixOnly: cfg.SamePathPrefixOnly,
		SavePages:          cfg.SavePages(),
		DownloadFiles:      cfg.DownloadFiles(),
		ForceDownload:      cfg.ForceDownload,
		SkipCompletedSeeds: cfg.EffectiveSkipCompletedSeeds(),
		RecheckSeeds:       cfg.EffectiveRecheckSeeds(),
		ForceCrawl:         cfg.ForceCrawl,
	})

	orch := orchestrator.New(crawler, cfg.Workers, logger.Named("orchestrator"))
	runErr := orch.Run(ctx, tasks)
	if runErr != nil && errors.Is(runErr, context.Canceled) {
		runErr = nil
	}

	if closeErr := store.Close(); closeErr != nil {
		if runErr != nil {
			logger.Error("run orchestrator", zap.Error(runErr))
		}
		return closeErr
	}
	if runErr != nil {
		return fmt.Errorf("run orchestrator: %w", runErr)
	}

	denials, err := report.CollectFromManifest(cfg.ManifestPath)
	if err != nil {
		return fmt.Errorf("collect denial report: %w", err)
	}
	if err := report.Write(cfg.ReportDir, denials, time.Now().UTC()); err != nil {
		return fmt.Errorf("write denial report: %w", err)
	}
	logger.Info("crawl complete", zap.Int("seeds", len(tasks)), zap.Int("robots_denied", len(denials)))

	return nil
}
