// Package config loads and validates unfurl configuration via Viper.
package config

import (
	"fmt"
	"net/textproto"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/JakeFAU/unfurl/internal/model"
)

// Config captures every configuration knob, loaded from defaults, an optional
// file, UNFURL_* environment variables, and command-line flags.
type Config struct {
	Unfurl    UnfurlConfig    `mapstructure:"unfurl"`
	Crawl     CrawlConfig     `mapstructure:"crawl"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// UnfurlConfig governs the per-page fetch and enrichment.
type UnfurlConfig struct {
	OEmbed    bool              `mapstructure:"oembed"`
	Compress  bool              `mapstructure:"compress"`
	Headers   map[string]string `mapstructure:"headers"`
	Follow    int               `mapstructure:"follow"`
	TimeoutMs int               `mapstructure:"timeout_ms"`
	Size      int64             `mapstructure:"size"`
}

// CrawlConfig bounds the crawl orchestrator.
type CrawlConfig struct {
	MaxPages       int     `mapstructure:"max_pages"`
	Concurrency    int     `mapstructure:"concurrency"`
	Depth          int     `mapstructure:"depth"`
	IncludeSeed    bool    `mapstructure:"include_seed"`
	ReportFailures bool    `mapstructure:"report_failures"`
	RespectRobots  bool    `mapstructure:"respect_robots"`
	RatePerHost    float64 `mapstructure:"rate_per_host"`
}

// DiscoveryConfig configures link discovery.
type DiscoveryConfig struct {
	Mode              string        `mapstructure:"mode"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	ExecPath          string        `mapstructure:"exec_path"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// MetricsConfig controls the optional Prometheus listener.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"oembed":             "unfurl.oembed",
	"compress":           "unfurl.compress",
	"follow":             "unfurl.follow",
	"timeout":            "unfurl.timeout_ms",
	"size":               "unfurl.size",
	"max-pages":          "crawl.max_pages",
	"concurrency":        "crawl.concurrency",
	"depth":              "crawl.depth",
	"include-seed":       "crawl.include_seed",
	"report-failures":    "crawl.report_failures",
	"respect-robots":     "crawl.respect_robots",
	"rate-per-host":      "crawl.rate_per_host",
	"discovery":          "discovery.mode",
	"navigation-timeout": "discovery.navigation_timeout",
	"idle-timeout":       "discovery.idle_timeout",
	"chrome-path":        "discovery.exec_path",
	"dev":                "logging.development",
	"log-level":          "logging.level",
	"metrics-addr":       "metrics.addr",
}

// RegisterFlags defines the configuration flags on fs. Their defaults match
// the built-in defaults used by Load.
func RegisterFlags(fs *pflag.FlagSet) {
	defaults := model.DefaultOpts()
	fs.Bool("oembed", defaults.OEmbed, "enrich pages from their oEmbed discovery link")
	fs.Bool("compress", defaults.Compress, "accept compressed responses")
	fs.StringArray("header", nil, "extra request header as key=value (repeatable)")
	fs.Int("follow", defaults.Follow, "maximum redirects per fetch")
	fs.Int("timeout", 0, "per-fetch timeout in milliseconds (0 disables)")
	fs.Int64("size", 0, "maximum response body in bytes (0 disables)")
	fs.Int("max-pages", defaults.MaxPages, "maximum pages processed per crawl")
	fs.Int("concurrency", defaults.Concurrency, "pages processed in parallel")
	fs.Int("depth", defaults.Depth, "link levels followed from the seed")
	fs.Bool("include-seed", defaults.IncludeSeed, "unfurl the seed page itself")
	fs.Bool("report-failures", defaults.ReportFailures, "list failed pages in the result")
	fs.Bool("respect-robots", defaults.RespectRobots, "skip pages disallowed by robots.txt")
	fs.Float64("rate-per-host", defaults.RatePerHost, "requests per second per host (0 disables)")
	fs.String("discovery", string(defaults.Discovery), "link discovery mode: headless, static or auto")
	fs.Duration("navigation-timeout", defaults.NavigationTimeout, "headless navigation timeout")
	fs.Duration("idle-timeout", defaults.IdleTimeout, "headless network idle wait")
	fs.String("chrome-path", "", "browser executable for headless discovery")
	fs.Bool("dev", false, "development logging")
	fs.String("log-level", "info", "log level")
	fs.String("metrics-addr", "", "serve Prometheus metrics on this address")
}

// Load builds a Config from defaults, the optional file at path, the
// environment, and any flags in flags that were set.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("UNFURL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if flags != nil {
		if err := applyHeaderFlags(&cfg, flags); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := model.DefaultOpts()
	v.SetDefault("unfurl.oembed", d.OEmbed)
	v.SetDefault("unfurl.compress", d.Compress)
	v.SetDefault("unfurl.headers", map[string]string{})
	v.SetDefault("unfurl.follow", d.Follow)
	v.SetDefault("unfurl.timeout_ms", 0)
	v.SetDefault("unfurl.size", 0)
	v.SetDefault("crawl.max_pages", d.MaxPages)
	v.SetDefault("crawl.concurrency", d.Concurrency)
	v.SetDefault("crawl.depth", d.Depth)
	v.SetDefault("crawl.include_seed", d.IncludeSeed)
	v.SetDefault("crawl.report_failures", d.ReportFailures)
	v.SetDefault("crawl.respect_robots", d.RespectRobots)
	v.SetDefault("crawl.rate_per_host", d.RatePerHost)
	v.SetDefault("discovery.mode", string(d.Discovery))
	v.SetDefault("discovery.navigation_timeout", d.NavigationTimeout)
	v.SetDefault("discovery.idle_timeout", d.IdleTimeout)
	v.SetDefault("discovery.exec_path", "")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("metrics.addr", "")
}

func applyHeaderFlags(cfg *Config, flags *pflag.FlagSet) error {
	f := flags.Lookup("header")
	if f == nil || !f.Changed {
		return nil
	}
	values, err := flags.GetStringArray("header")
	if err != nil {
		return fmt.Errorf("read header flag: %w", err)
	}
	if cfg.Unfurl.Headers == nil {
		cfg.Unfurl.Headers = make(map[string]string, len(values))
	}
	for _, kv := range values {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return fmt.Errorf("header %q must be key=value", kv)
		}
		cfg.Unfurl.Headers[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}
	return nil
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Unfurl.Follow < 0 {
		return fmt.Errorf("unfurl.follow must be >= 0")
	}
	if c.Unfurl.TimeoutMs < 0 {
		return fmt.Errorf("unfurl.timeout_ms must be >= 0")
	}
	if c.Unfurl.Size < 0 {
		return fmt.Errorf("unfurl.size must be >= 0")
	}
	if c.Crawl.MaxPages <= 0 {
		return fmt.Errorf("crawl.max_pages must be > 0")
	}
	if c.Crawl.Concurrency <= 0 {
		return fmt.Errorf("crawl.concurrency must be > 0")
	}
	if c.Crawl.Depth <= 0 {
		return fmt.Errorf("crawl.depth must be > 0")
	}
	if c.Crawl.RatePerHost < 0 {
		return fmt.Errorf("crawl.rate_per_host must be >= 0")
	}
	switch model.DiscoveryMode(c.Discovery.Mode) {
	case model.DiscoveryHeadless, model.DiscoveryStatic, model.DiscoveryAuto:
	default:
		return fmt.Errorf("discovery.mode must be %q, %q or %q", model.DiscoveryHeadless, model.DiscoveryStatic, model.DiscoveryAuto)
	}
	if c.Discovery.NavigationTimeout < 0 || c.Discovery.IdleTimeout < 0 {
		return fmt.Errorf("discovery timeouts must be >= 0")
	}
	return nil
}

// Opts converts the configuration into unfurl options. Configured headers
// are layered over the default Accept and User-Agent.
func (c Config) Opts() model.Opts {
	opts := model.DefaultOpts()
	opts.OEmbed = c.Unfurl.OEmbed
	opts.Compress = c.Unfurl.Compress
	for name, value := range c.Unfurl.Headers {
		opts.Headers[textproto.CanonicalMIMEHeaderKey(name)] = value
	}
	opts.Follow = c.Unfurl.Follow
	opts.Timeout = time.Duration(c.Unfurl.TimeoutMs) * time.Millisecond
	opts.Size = c.Unfurl.Size
	opts.MaxPages = c.Crawl.MaxPages
	opts.Concurrency = c.Crawl.Concurrency
	opts.Depth = c.Crawl.Depth
	opts.IncludeSeed = c.Crawl.IncludeSeed
	opts.ReportFailures = c.Crawl.ReportFailures
	opts.RespectRobots = c.Crawl.RespectRobots
	opts.RatePerHost = c.Crawl.RatePerHost
	opts.Discovery = model.DiscoveryMode(c.Discovery.Mode)
	opts.NavigationTimeout = c.Discovery.NavigationTimeout
	opts.IdleTimeout = c.Discovery.IdleTimeout
	return opts
}
