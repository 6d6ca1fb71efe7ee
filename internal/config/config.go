// Package config captures every configuration knob that influences a crawl
// run. Values originate from Viper so the crawler can be configured via
// flags, a config file, or CRAWLER_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrConfig wraps every configuration-validation failure. Callers check
// errors.Is(err, ErrConfig) to decide the process exit code (spec §6, §7).
var ErrConfig = errors.New("config")

// Config is the fully resolved configuration for one crawl invocation.
type Config struct {
	InputPath    string `mapstructure:"input"`
	OutDir       string `mapstructure:"outdir"`
	ManifestPath string `mapstructure:"manifest"`
	ReportDir    string `mapstructure:"report_dir"`

	Threshold int           `mapstructure:"threshold"`
	MaxDepth  int           `mapstructure:"max_depth"`
	MaxPages  int           `mapstructure:"max_pages"`
	Workers   int           `mapstructure:"workers"`
	Delay     time.Duration `mapstructure:"delay"`
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`

	NoDownload      bool `mapstructure:"no_download"`
	NoDownloadFiles bool `mapstructure:"no_download_files"`
	ForceDownload   bool `mapstructure:"force_download"`

	Resume            bool `mapstructure:"resume"`
	NoResume          bool `mapstructure:"no_resume"`
	OverwriteManifest bool `mapstructure:"overwrite_manifest"`

	SkipCompletedSeeds   bool `mapstructure:"skip_completed_seeds"`
	NoSkipCompletedSeeds bool `mapstructure:"no_skip_completed_seeds"`
	ForceCrawl           bool `mapstructure:"force_crawl"`

	RecheckSeeds   bool `mapstructure:"recheck_seeds"`
	NoRecheckSeeds bool `mapstructure:"no_recheck_seeds"`

	RespectRobots   bool `mapstructure:"respect_robots"`
	NoRespectRobots bool `mapstructure:"no_respect_robots"`

	SameDomainOnly     bool `mapstructure:"same_domain_only"`
	SamePathPrefixOnly bool `mapstructure:"same_path_prefix_only"`

	Keywords []string `mapstructure:"keywords"`
	FileExts []string `mapstructure:"file_exts"`
	URLHints []string `mapstructure:"url_hints"`

	MetricsAddr string `mapstructure:"metrics_addr"`
	Development bool   `mapstructure:"development"`
}

// DefaultKeywords mirrors the Japanese minutes-keyword vocabulary the
// upstream finder/filter stages use.
var DefaultKeywords = []string{
	"議事録", "会議録", "議会", "本会議", "委員会", "定例会", "臨時会", "会議結果",
}

// DefaultFileExts is the built-in body-file extension set (document types
// only; HTML never counts as a payload file).
var DefaultFileExts = []string{
	".pdf", ".doc", ".docx", ".xls", ".xlsx", ".ppt", ".pptx", ".txt", ".rtf",
}

// DefaultURLHints is the built-in URL-hint vocabulary.
var DefaultURLHints = []string{"gikai", "kaigi", "giji", "minutes", "council"}

// DefaultUserAgent is the User-Agent header sent when --user-agent is unset.
const DefaultUserAgent = "MinutesBot/1.0 (+https://github.com/minutesbot/crawler)"

// setDefaults installs every flag default onto v, matching spec §6.
func setDefaults(v *viper.Viper) {
	v.SetDefault("input", "data/minute_link_list.json")
	v.SetDefault("outdir", "data/minutes_out")
	v.SetDefault("threshold", 5)
	v.SetDefault("max_depth", 2)
	v.SetDefault("max_pages", 200)
	v.SetDefault("workers", 8)
	v.SetDefault("delay", 500*time.Millisecond)
	v.SetDefault("timeout", 20*time.Second)
	v.SetDefault("user_agent", DefaultUserAgent)
	v.SetDefault("resume", true)
	v.SetDefault("skip_completed_seeds", false)
	v.SetDefault("recheck_seeds", true)
	v.SetDefault("respect_robots", true)
	v.SetDefault("same_domain_only", true)
	v.SetDefault("keywords", DefaultKeywords)
	v.SetDefault("file_exts", DefaultFileExts)
	v.SetDefault("url_hints", DefaultURLHints)
	v.SetDefault("development", false)
}

// Load builds a Config from Viper (already populated with bound CLI flags)
// and fills in the derived manifest/report paths.
func Load(v *viper.Viper) (Config, error) {
	setDefaults(v)
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: unmarshal config: %w", ErrConfig, err)
	}

	if cfg.ManifestPath == "" {
		cfg.ManifestPath = cfg.OutDir + "/manifest.jsonl"
	}
	if cfg.ReportDir == "" {
		cfg.ReportDir = cfg.OutDir + "/reports"
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate enforces the obviously-bad configuration combinations that
// should fail fast as a Config error (spec §7).
func (c Config) Validate() error {
	if strings.TrimSpace(c.InputPath) == "" {
		return fmt.Errorf("%w: input path must be set", ErrConfig)
	}
	if strings.TrimSpace(c.OutDir) == "" {
		return fmt.Errorf("%w: outdir must be set", ErrConfig)
	}
	if c.Threshold < 0 {
		return fmt.Errorf("%w: threshold must be >= 0", ErrConfig)
	}
	if c.MaxDepth < 0 {
		return fmt.Errorf("%w: max_depth must be >= 0", ErrConfig)
	}
	if c.MaxPages <= 0 {
		return fmt.Errorf("%w: max_pages must be > 0", ErrConfig)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("%w: workers must be > 0", ErrConfig)
	}
	if c.Delay < 0 {
		return fmt.Errorf("%w: delay must be >= 0", ErrConfig)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("%w: timeout must be > 0", ErrConfig)
	}
	if strings.TrimSpace(c.UserAgent) == "" {
		return fmt.Errorf("%w: user_agent must be set", ErrConfig)
	}
	return nil
}

// EffectiveResume applies the --resume/--no-resume override pair.
func (c Config) EffectiveResume() bool { return c.Resume && !c.NoResume }

// EffectiveSkipCompletedSeeds applies the --skip-completed-seeds/
// --no-skip-completed-seeds/--force-crawl override chain.
func (c Config) EffectiveSkipCompletedSeeds() bool {
	return c.SkipCompletedSeeds && !c.NoSkipCompletedSeeds && !c.ForceCrawl
}

// EffectiveRecheckSeeds applies the --recheck-seeds/--no-recheck-seeds pair.
func (c Config) EffectiveRecheckSeeds() bool { return c.RecheckSeeds && !c.NoRecheckSeeds }

// EffectiveRespectRobots applies the --respect-robots/--no-respect-robots pair.
func (c Config) EffectiveRespectRobots() bool { return c.RespectRobots && !c.NoRespectRobots }

// SavePages reports whether HTML pages should be written to disk.
func (c Config) SavePages() bool { return !c.NoDownload }

// DownloadFiles reports whether payload files should be written to disk.
func (c Config) DownloadFiles() bool { return !c.NoDownload && !c.NoDownloadFiles }
