// Package config handles loading and validating the harvester.yaml
// configuration plus the environment overrides that take precedence over it.
// The daemon runs with zero config: compiled defaults declare the shipped
// sources and conservative pipeline tuning.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/scholargrid/harvester/internal/domain"
)

// Duration wraps time.Duration so YAML values can be written as "30m", "8s".
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML renders the duration in Go syntax.
func (d Duration) MarshalYAML() (any, error) {
	return d.Duration.String(), nil
}

// SourceConfig declares one upstream source.
type SourceConfig struct {
	ID       string   `yaml:"id"`
	Name     string   `yaml:"name"`
	Adapter  string   `yaml:"adapter"`
	BaseURL  string   `yaml:"base_url"`
	Priority int      `yaml:"priority"`
	Enabled  *bool    `yaml:"enabled"`  // nil = enabled
	Interval Duration `yaml:"interval"` // overrides the tier default when set
	Cron     string   `yaml:"cron"`     // overrides interval scheduling when set
}

// ArchiveConfig holds the optional S3 page-snapshot archive settings.
// All fields empty means the archive is disabled.
type ArchiveConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// Enabled reports whether the archive is configured.
func (a ArchiveConfig) Enabled() bool {
	return a.Endpoint != "" && a.Bucket != ""
}

// Config is the top-level harvester configuration.
type Config struct {
	HTTPAddr           string   `yaml:"http_addr"`
	StoreURI           string   `yaml:"store_uri"`
	LogLevel           string   `yaml:"log_level"`
	HTTPTimeout        Duration `yaml:"http_timeout"`
	JobTimeout         Duration `yaml:"job_timeout"`
	BreakerThreshold   int      `yaml:"breaker_threshold"`
	BreakerCoolDown    Duration `yaml:"breaker_cooldown"`
	GlobalConcurrency  int      `yaml:"global_concurrency"`
	MinQualityScore    int      `yaml:"min_quality_score"`
	RelaxedTLS         *bool    `yaml:"relaxed_tls"` // nil = true; accepts self-signed upstream certs
	UserAgents         []string `yaml:"user_agents"`
	TriggerRatePerHour int      `yaml:"trigger_rate_per_hour"`
	SchedulerTick      Duration `yaml:"scheduler_tick"`
	TierHighInterval   Duration `yaml:"tier_high_interval"`
	TierStdInterval    Duration `yaml:"tier_std_interval"`
	ReaperInterval     Duration `yaml:"reaper_interval"`
	RetentionGrace     Duration `yaml:"retention_grace"` // how long past a deadline a record stays active
	StaleAfter         Duration `yaml:"stale_after"`     // lastValidated age before a link is marked stale

	Sources []SourceConfig `yaml:"sources"`
	Archive ArchiveConfig  `yaml:"archive"`
}

// DefaultUserAgents is the fixed rotation set used when none is configured.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
}

// Default returns the zero-config defaults, including the shipped sources.
func Default() *Config {
	return &Config{
		HTTPAddr:           ":8080",
		LogLevel:           "info",
		HTTPTimeout:        Duration{30 * time.Second},
		JobTimeout:         Duration{10 * time.Minute},
		BreakerThreshold:   3,
		BreakerCoolDown:    Duration{5 * time.Minute},
		GlobalConcurrency:  3,
		MinQualityScore:    70,
		UserAgents:         append([]string(nil), DefaultUserAgents...),
		TriggerRatePerHour: 10,
		SchedulerTick:      Duration{30 * time.Second},
		TierHighInterval:   Duration{30 * time.Minute},
		TierStdInterval:    Duration{60 * time.Minute},
		ReaperInterval:     Duration{15 * time.Minute},
		RetentionGrace:     Duration{24 * time.Hour},
		StaleAfter:         Duration{7 * 24 * time.Hour},
		Sources: []SourceConfig{
			{
				ID:       "nsp",
				Name:     "National Scholarship Portal",
				Adapter:  "nsp",
				BaseURL:  "https://scholarships.gov.in",
				Priority: domain.PriorityHigh,
			},
			{
				ID:       "ugc",
				Name:     "UGC Scholarships & Fellowships",
				Adapter:  "ugc",
				BaseURL:  "https://www.ugc.gov.in",
				Priority: domain.PriorityHigh,
			},
			{
				ID:       "buddy4study",
				Name:     "Buddy4Study",
				Adapter:  "buddy4study",
				BaseURL:  "https://www.buddy4study.com",
				Priority: domain.PriorityStandard,
			},
		},
	}
}

// Load parses a harvester.yaml file, fills defaults, and validates.
// If path is empty, returns the compiled defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.fillDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// ResolvePath finds the config file path.
// Priority: HARVESTER_CONFIG env var > ./harvester.yaml > "" (defaults only).
func ResolvePath() string {
	if p := os.Getenv("HARVESTER_CONFIG"); p != "" {
		return p
	}
	if _, err := os.Stat("harvester.yaml"); err == nil {
		return "harvester.yaml"
	}
	return ""
}

// fillDefaults back-fills zero values left by a sparse YAML file.
func (c *Config) fillDefaults() {
	def := Default()
	if c.HTTPAddr == "" {
		c.HTTPAddr = def.HTTPAddr
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.HTTPTimeout.Duration == 0 {
		c.HTTPTimeout = def.HTTPTimeout
	}
	if c.JobTimeout.Duration == 0 {
		c.JobTimeout = def.JobTimeout
	}
	if c.BreakerThreshold == 0 {
		c.BreakerThreshold = def.BreakerThreshold
	}
	if c.BreakerCoolDown.Duration == 0 {
		c.BreakerCoolDown = def.BreakerCoolDown
	}
	if c.GlobalConcurrency == 0 {
		c.GlobalConcurrency = def.GlobalConcurrency
	}
	if c.MinQualityScore == 0 {
		c.MinQualityScore = def.MinQualityScore
	}
	if len(c.UserAgents) == 0 {
		c.UserAgents = append([]string(nil), DefaultUserAgents...)
	}
	if c.TriggerRatePerHour == 0 {
		c.TriggerRatePerHour = def.TriggerRatePerHour
	}
	if c.SchedulerTick.Duration == 0 {
		c.SchedulerTick = def.SchedulerTick
	}
	if c.TierHighInterval.Duration == 0 {
		c.TierHighInterval = def.TierHighInterval
	}
	if c.TierStdInterval.Duration == 0 {
		c.TierStdInterval = def.TierStdInterval
	}
	if c.ReaperInterval.Duration == 0 {
		c.ReaperInterval = def.ReaperInterval
	}
	if c.RetentionGrace.Duration == 0 {
		c.RetentionGrace = def.RetentionGrace
	}
	if c.StaleAfter.Duration == 0 {
		c.StaleAfter = def.StaleAfter
	}
	if len(c.Sources) == 0 {
		c.Sources = def.Sources
	}
}

// RelaxedTLSEnabled resolves the tri-state flag (nil = on).
func (c *Config) RelaxedTLSEnabled() bool {
	return c.RelaxedTLS == nil || *c.RelaxedTLS
}

// ApplyEnv overlays environment variables onto the config. It returns every
// problem found rather than stopping at the first, so operators see the full
// list in one pass.
func (c *Config) ApplyEnv() []string {
	var problems []string

	if v := os.Getenv("HTTP_ADDR"); v != "" {
		c.HTTPAddr = v
	}
	if v := os.Getenv("STORE_URI"); v != "" {
		c.StoreURI = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("USER_AGENTS"); v != "" {
		var agents []string
		for _, ua := range strings.Split(v, ",") {
			if ua = strings.TrimSpace(ua); ua != "" {
				agents = append(agents, ua)
			}
		}
		if len(agents) == 0 {
			problems = append(problems, "USER_AGENTS is set but contains no usable entries")
		} else {
			c.UserAgents = agents
		}
	}

	intVar := func(name string, dst *int) {
		v := os.Getenv(name)
		if v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s must be an integer, got %q", name, v))
			return
		}
		*dst = n
	}
	msVar := func(name string, dst *Duration) {
		v := os.Getenv(name)
		if v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			problems = append(problems, fmt.Sprintf("%s must be a positive integer of milliseconds, got %q", name, v))
			return
		}
		dst.Duration = time.Duration(n) * time.Millisecond
	}

	msVar("HTTP_TIMEOUT_MS", &c.HTTPTimeout)
	msVar("JOB_TIMEOUT_MS", &c.JobTimeout)
	msVar("BREAKER_COOLDOWN_MS", &c.BreakerCoolDown)
	msVar("SCHEDULER_TICK_MS", &c.SchedulerTick)
	intVar("BREAKER_THRESHOLD", &c.BreakerThreshold)
	intVar("GLOBAL_CONCURRENCY", &c.GlobalConcurrency)
	intVar("MIN_QUALITY_SCORE", &c.MinQualityScore)
	intVar("TRIGGER_RATE_PER_HOUR", &c.TriggerRatePerHour)

	if v := os.Getenv("RELAXED_TLS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			problems = append(problems, fmt.Sprintf("RELAXED_TLS must be a boolean, got %q", v))
		} else {
			c.RelaxedTLS = &b
		}
	}

	if v := os.Getenv("S3_ENDPOINT"); v != "" {
		c.Archive.Endpoint = v
		c.Archive.AccessKey = os.Getenv("S3_ACCESS_KEY")
		c.Archive.SecretKey = os.Getenv("S3_SECRET_KEY")
		if b := os.Getenv("S3_BUCKET"); b != "" {
			c.Archive.Bucket = b
		}
		if ssl := os.Getenv("S3_USE_SSL"); ssl != "" {
			b, err := strconv.ParseBool(ssl)
			if err != nil {
				problems = append(problems, fmt.Sprintf("S3_USE_SSL must be a boolean, got %q", ssl))
			} else {
				c.Archive.UseSSL = b
			}
		}
	}

	return problems
}

// Validate checks ranges and the source list.
func (c *Config) Validate() error {
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of debug|info|warn|error, got %q", c.LogLevel)
	}
	if c.MinQualityScore < 0 || c.MinQualityScore > 100 {
		return fmt.Errorf("min_quality_score must be within 0..100, got %d", c.MinQualityScore)
	}
	if c.GlobalConcurrency < 1 {
		return fmt.Errorf("global_concurrency must be >= 1, got %d", c.GlobalConcurrency)
	}
	if c.BreakerThreshold < 1 {
		return fmt.Errorf("breaker_threshold must be >= 1, got %d", c.BreakerThreshold)
	}
	if c.TriggerRatePerHour < 1 {
		return fmt.Errorf("trigger_rate_per_hour must be >= 1, got %d", c.TriggerRatePerHour)
	}
	if len(c.Sources) == 0 {
		return fmt.Errorf("at least one source must be configured")
	}

	seen := make(map[string]bool, len(c.Sources))
	for i, s := range c.Sources {
		if s.ID == "" {
			return fmt.Errorf("sources[%d]: id is required", i)
		}
		if seen[s.ID] {
			return fmt.Errorf("sources[%d]: duplicate id %q", i, s.ID)
		}
		seen[s.ID] = true
		if s.Adapter == "" {
			return fmt.Errorf("source %q: adapter is required", s.ID)
		}
		if s.BaseURL == "" {
			return fmt.Errorf("source %q: base_url is required", s.ID)
		}
		if s.Priority != domain.PriorityHigh && s.Priority != domain.PriorityStandard {
			return fmt.Errorf("source %q: priority must be 1 (high) or 2 (standard), got %d", s.ID, s.Priority)
		}
		if s.Cron != "" {
			if _, err := cron.ParseStandard(s.Cron); err != nil {
				return fmt.Errorf("source %q: invalid cron expression %q: %w", s.ID, s.Cron, err)
			}
		}
	}
	return nil
}

// DomainSources materializes the configured source list as domain objects.
func (c *Config) DomainSources() []domain.Source {
	out := make([]domain.Source, 0, len(c.Sources))
	for _, s := range c.Sources {
		out = append(out, domain.Source{
			ID:       s.ID,
			Name:     s.Name,
			Adapter:  s.Adapter,
			BaseURL:  s.BaseURL,
			Priority: s.Priority,
			Enabled:  s.Enabled == nil || *s.Enabled,
			Interval: s.Interval.Duration,
			Cron:     s.Cron,
		})
	}
	return out
}
