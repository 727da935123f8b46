package config

import (
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	configPathEnv = "KANAVER_CONFIG"
	logLevelEnv   = "KANAVER_LOG_LEVEL"
	userAgentEnv  = "KANAVER_USER_AGENT"
)

// Config holds high-level settings required across the application.
type Config struct {
	Logging     LoggingConfig              `yaml:"logging"`
	Scheduler   SchedulerConfig            `yaml:"scheduler"`
	Integrity   IntegrityConfig            `yaml:"integrity"`
	MultiSource MultiSourceConfig          `yaml:"multiSource"`
	Pagination  PaginationConfig           `yaml:"pagination"`
	Operations  map[string]OperationPolicy `yaml:"operations"`
	Sources     []SourceConfig             `yaml:"sources"`
	HTTP        HTTPConfig                 `yaml:"http"`
}

// LoggingConfig selects the console log level.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// SchedulerConfig bounds the scrape job queue. Durations are expressed
// in milliseconds so the YAML stays plain integers.
type SchedulerConfig struct {
	MaxConcurrent      int   `yaml:"maxConcurrent"`
	MaxQueueSize       int   `yaml:"maxQueueSize"`
	ProviderMinDelayMs int64 `yaml:"providerMinDelayMs"`
	TimeoutMs          int64 `yaml:"timeoutMs"`
	RetryAttempts      int   `yaml:"retryAttempts"`
	RetryDelayMs       int64 `yaml:"retryDelayMs"`
}

// ProviderMinDelay returns the per-source dispatch cooldown.
func (s SchedulerConfig) ProviderMinDelay() time.Duration {
	return time.Duration(s.ProviderMinDelayMs) * time.Millisecond
}

// Timeout returns the per-job execution deadline.
func (s SchedulerConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutMs) * time.Millisecond
}

// RetryDelay returns the base backoff delay before doubling.
func (s SchedulerConfig) RetryDelay() time.Duration {
	return time.Duration(s.RetryDelayMs) * time.Millisecond
}

// IntegrityConfig tunes the fingerprint ledger and freshness tracking.
type IntegrityConfig struct {
	ProcessedTTLMs       int64 `yaml:"processedTtlMs"`
	FreshnessRetentionMs int64 `yaml:"freshnessRetentionMs"`
	SweepIntervalMs      int64 `yaml:"sweepIntervalMs"`
}

// ProcessedTTL returns how long a processed fingerprint stays in the ledger.
func (i IntegrityConfig) ProcessedTTL() time.Duration {
	return time.Duration(i.ProcessedTTLMs) * time.Millisecond
}

// FreshnessRetention returns how long idle freshness entries survive sweeps.
func (i IntegrityConfig) FreshnessRetention() time.Duration {
	return time.Duration(i.FreshnessRetentionMs) * time.Millisecond
}

// SweepInterval returns the cadence of the background maintenance sweep.
func (i IntegrityConfig) SweepInterval() time.Duration {
	return time.Duration(i.SweepIntervalMs) * time.Millisecond
}

// MultiSourceConfig sets aggregation defaults.
type MultiSourceConfig struct {
	FailureThreshold float64 `yaml:"failureThreshold"`
	TimeoutMs        int64   `yaml:"timeoutMs"`
}

// Timeout returns the per-source deadline during aggregation.
func (m MultiSourceConfig) Timeout() time.Duration {
	return time.Duration(m.TimeoutMs) * time.Millisecond
}

// PaginationConfig sets crawl-loop defaults.
type PaginationConfig struct {
	MaxPages           int     `yaml:"maxPages"`
	DuplicateThreshold float64 `yaml:"duplicateThreshold"`
}

// OperationPolicy maps one operation to its freshness threshold and
// cache TTL. Both are milliseconds.
type OperationPolicy struct {
	StaleThresholdMs int64 `yaml:"staleThresholdMs"`
	CacheTTLMs       int64 `yaml:"cacheTtlMs"`
}

// StaleThreshold returns the freshness window for the operation.
func (o OperationPolicy) StaleThreshold() time.Duration {
	return time.Duration(o.StaleThresholdMs) * time.Millisecond
}

// CacheTTL returns how long the processed result stays cached.
func (o OperationPolicy) CacheTTL() time.Duration {
	return time.Duration(o.CacheTTLMs) * time.Millisecond
}

// SourceConfig describes a single upstream source and how to reach it.
type SourceConfig struct {
	ID        string            `yaml:"id"`
	Kind      string            `yaml:"kind"` // "html" or "api"
	BaseURL   string            `yaml:"baseUrl"`
	Paths     map[string]string `yaml:"paths"`
	Selectors map[string]string `yaml:"selectors"`
}

// HTTPConfig tunes outbound requests shared by all adapters.
type HTTPConfig struct {
	UserAgent        string `yaml:"userAgent"`
	RequestTimeoutMs int64  `yaml:"requestTimeoutMs"`
}

// RequestTimeout returns the transport-level deadline for one request.
func (h HTTPConfig) RequestTimeout() time.Duration {
	return time.Duration(h.RequestTimeoutMs) * time.Millisecond
}

// Load reads YAML configuration (if present) and applies environment overrides.
func Load() Config {
	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else {
			var fileCfg Config
			if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
				log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
			} else {
				cfg = mergeConfig(cfg, fileCfg)
			}
		}
	}

	cfg.applyEnvOverrides()

	if len(cfg.Sources) == 0 {
		cfg.Sources = defaultConfig().Sources
	}

	return cfg
}

// Policy resolves the threshold table entry for an operation, falling
// back to the detail policy when the operation is unknown.
func (c Config) Policy(operation string) OperationPolicy {
	if p, ok := c.Operations[operation]; ok {
		return p
	}
	return c.Operations["detail"]
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}

	if v := os.Getenv(userAgentEnv); v != "" {
		c.HTTP.UserAgent = v
	}
}

func mergeConfig(base, override Config) Config {
	if override.Logging.Level != "" {
		base.Logging = override.Logging
	}

	if override.Scheduler.MaxConcurrent > 0 {
		base.Scheduler.MaxConcurrent = override.Scheduler.MaxConcurrent
	}
	if override.Scheduler.MaxQueueSize > 0 {
		base.Scheduler.MaxQueueSize = override.Scheduler.MaxQueueSize
	}
	if override.Scheduler.ProviderMinDelayMs > 0 {
		base.Scheduler.ProviderMinDelayMs = override.Scheduler.ProviderMinDelayMs
	}
	if override.Scheduler.TimeoutMs > 0 {
		base.Scheduler.TimeoutMs = override.Scheduler.TimeoutMs
	}
	if override.Scheduler.RetryAttempts > 0 {
		base.Scheduler.RetryAttempts = override.Scheduler.RetryAttempts
	}
	if override.Scheduler.RetryDelayMs > 0 {
		base.Scheduler.RetryDelayMs = override.Scheduler.RetryDelayMs
	}

	if override.Integrity.ProcessedTTLMs > 0 {
		base.Integrity.ProcessedTTLMs = override.Integrity.ProcessedTTLMs
	}
	if override.Integrity.FreshnessRetentionMs > 0 {
		base.Integrity.FreshnessRetentionMs = override.Integrity.FreshnessRetentionMs
	}
	if override.Integrity.SweepIntervalMs > 0 {
		base.Integrity.SweepIntervalMs = override.Integrity.SweepIntervalMs
	}

	if override.MultiSource.FailureThreshold > 0 {
		base.MultiSource.FailureThreshold = override.MultiSource.FailureThreshold
	}
	if override.MultiSource.TimeoutMs > 0 {
		base.MultiSource.TimeoutMs = override.MultiSource.TimeoutMs
	}

	if override.Pagination.MaxPages > 0 {
		base.Pagination.MaxPages = override.Pagination.MaxPages
	}
	if override.Pagination.DuplicateThreshold > 0 {
		base.Pagination.DuplicateThreshold = override.Pagination.DuplicateThreshold
	}

	for name, policy := range override.Operations {
		base.Operations[name] = policy
	}

	if len(override.Sources) > 0 {
		base.Sources = override.Sources
	}

	if override.HTTP.UserAgent != "" {
		base.HTTP.UserAgent = override.HTTP.UserAgent
	}
	if override.HTTP.RequestTimeoutMs > 0 {
		base.HTTP.RequestTimeoutMs = override.HTTP.RequestTimeoutMs
	}

	return base
}

func defaultConfig() Config {
	return Config{
		Logging: LoggingConfig{Level: "info"},
		Scheduler: SchedulerConfig{
			MaxConcurrent:      3,
			MaxQueueSize:       50,
			ProviderMinDelayMs: 1000,
			TimeoutMs:          30000,
			RetryAttempts:      3,
			RetryDelayMs:       2000,
		},
		Integrity: IntegrityConfig{
			ProcessedTTLMs:       3600000,
			FreshnessRetentionMs: 86400000,
			SweepIntervalMs:      600000,
		},
		MultiSource: MultiSourceConfig{
			FailureThreshold: 0.5,
			TimeoutMs:        20000,
		},
		Pagination: PaginationConfig{
			MaxPages:           5,
			DuplicateThreshold: 0.9,
		},
		Operations: map[string]OperationPolicy{
			"latest":         {StaleThresholdMs: 300000, CacheTTLMs: 600000},
			"popular":        {StaleThresholdMs: 1800000, CacheTTLMs: 3600000},
			"recommended":    {StaleThresholdMs: 1800000, CacheTTLMs: 3600000},
			"search":         {StaleThresholdMs: 600000, CacheTTLMs: 1800000},
			"detail":         {StaleThresholdMs: 3600000, CacheTTLMs: 21600000},
			"chapter-images": {StaleThresholdMs: 21600000, CacheTTLMs: 86400000},
			"by-genre":       {StaleThresholdMs: 600000, CacheTTLMs: 1800000},
			"genres":         {StaleThresholdMs: 86400000, CacheTTLMs: 86400000},
		},
		Sources: []SourceConfig{
			{
				ID:      "komikoid",
				Kind:    "html",
				BaseURL: "https://komikoid.example.com",
				Paths: map[string]string{
					"latest":   "/daftar-komik/page/%d/?order=update",
					"popular":  "/daftar-komik/?order=popular",
					"search":   "/?s=%s",
					"detail":   "/komik/%s/",
					"chapter":  "/chapter/%s/",
					"by-genre": "/genres/%s/page/%d/",
					"genres":   "/daftar-komik/",
				},
				Selectors: map[string]string{
					"list":        "div.list-update_item",
					"title":       "h3.title",
					"href":        "a",
					"thumbnail":   "img",
					"type":        "span.type",
					"chapter":     "div.chapter",
					"rating":      "div.numscore",
					"description": "div.entry-content p",
					"author":      "span.author",
					"status":      "span.status",
					"genreLink":   "ul.genre li a",
					"image":       "div.reading-content img",
					"nextPage":    "a.next.page-numbers",
				},
			},
			{
				ID:      "comicbay",
				Kind:    "api",
				BaseURL: "https://api.comicbay.example.org/v1",
				Paths: map[string]string{
					"latest":   "/comics/latest?page=%d",
					"popular":  "/comics/popular",
					"search":   "/comics/search?q=%s",
					"detail":   "/comics/%s",
					"chapter":  "/chapters/%s/images",
					"by-genre": "/genres/%s/comics?page=%d",
					"genres":   "/genres",
				},
			},
		},
		HTTP: HTTPConfig{
			UserAgent:        "kanaver/3.0 (+https://github.com/Seiaaxn/kanaver3)",
			RequestTimeoutMs: 20000,
		},
	}
}
