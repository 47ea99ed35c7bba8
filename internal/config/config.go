// Package config loads oddsgrid configuration from YAML files.
//
// Every tunable has a zero-value-means-default semantic: omitted fields
// are filled by applyDefaults after parsing.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level oddsgrid configuration.
type Config struct {
	Fetch     FetchConfig     `yaml:"fetch"`
	Browser   BrowserConfig   `yaml:"browser"`
	Breaker   BreakerConfig   `yaml:"breaker"`
	Pace      PaceConfig      `yaml:"pace"`
	Heal      HealConfig      `yaml:"heal"`
	Aggregate AggregateConfig `yaml:"aggregate"`
	Serve     ServeConfig     `yaml:"serve"`
	DataDir   string          `yaml:"data_dir"`
	Sources   []SourceConfig  `yaml:"sources"`
}

// FetchConfig controls the multi-engine fetcher.
type FetchConfig struct {
	Timeout         time.Duration `yaml:"timeout"`          // per engine attempt
	Retries         int           `yaml:"retries"`          // internal retries per engine
	BackoffBase     time.Duration `yaml:"backoff_base"`     // doubled each retry
	MaxBytes        int64         `yaml:"max_bytes"`        // response body cap
	UserAgent       string        `yaml:"user_agent"`
	HealthIncrement float64       `yaml:"health_increment"` // on success
	HealthDecrement float64       `yaml:"health_decrement"` // on failure, larger
}

// BrowserConfig controls the shared Chrome instance for the browser and
// stealth engines.
type BrowserConfig struct {
	Remote          string        `yaml:"remote"` // ws:// URL of external Chrome; empty = launch
	RecycleInterval time.Duration `yaml:"recycle_interval"`
	NavTimeout      time.Duration `yaml:"nav_timeout"`
}

// BreakerConfig controls per-source circuit breakers.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	ResetTimeout     time.Duration `yaml:"reset_timeout"`
}

// PaceConfig controls per-source adaptive rate limiting.
type PaceConfig struct {
	RequestsPerSecond float64       `yaml:"requests_per_second"` // base ceiling
	MaxDelay          time.Duration `yaml:"max_delay"`
	GrowthFactor      float64       `yaml:"growth_factor"` // delay multiplier on error
	DecayFactor       float64       `yaml:"decay_factor"`  // delay multiplier on success
	Window            int           `yaml:"window"`        // recent request timestamps kept
}

// HealConfig controls the link healer.
type HealConfig struct {
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
	ReportPath   string        `yaml:"report_path"` // healing report artifact
}

// AggregateConfig controls the aggregation cycle.
type AggregateConfig struct {
	CycleDeadline   time.Duration `yaml:"cycle_deadline"`
	HealthThreshold float64       `yaml:"health_threshold"` // Tier-1 minimum engine health
	MinCoverage     int           `yaml:"min_coverage"`     // distinct races before Tier 2 is skipped
	CacheMaxAge     time.Duration `yaml:"cache_max_age"`
	ResultPath      string        `yaml:"result_path"` // aggregated result artifact
}

// ServeConfig controls the optional status API.
type ServeConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// SourceConfig describes one external racing-data source. Immutable
// after load.
type SourceConfig struct {
	Name     string `yaml:"name"`
	BaseURL  string `yaml:"base_url"`
	Homepage string `yaml:"homepage"`

	// Transport preference: http, browser, stealth, or auto (empty).
	Transport string `yaml:"transport"`

	// URLTemplate builds the race-day URL. Placeholders: {date},
	// {venue}, {race}. Date format is controlled by DateFormat.
	URLTemplate string `yaml:"url_template"`
	DateFormat  string `yaml:"date_format"` // Go layout, default 2006-01-02

	// LinkPatterns are regexes matched against homepage links during
	// the homepage-crawl healing strategy.
	LinkPatterns []string `yaml:"link_patterns"`

	// PathTemplates are known path conventions for the domain-search
	// healing strategy. Same placeholders as URLTemplate.
	PathTemplates []string `yaml:"path_templates"`

	// ParamTemplate maps query parameter names to placeholder values
	// for the parameter-adjustment healing strategy.
	ParamTemplate map[string]string `yaml:"param_template"`

	// APIEndpoint is an optional alternate JSON API. When set, it is
	// used by API-type fetches and the fallback-API healing strategy.
	APIEndpoint string    `yaml:"api_endpoint"`
	API         APIConfig `yaml:"api"`

	// RequestsPerSecond overrides the global pace ceiling.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// APIConfig describes how to call and parse a source's JSON API.
type APIConfig struct {
	Method     string            `yaml:"method"`
	Headers    map[string]string `yaml:"headers"` // ${ENV_VAR} expanded at call time
	ResultPath string            `yaml:"result_path"`
	Fields     map[string]string `yaml:"fields"` // venue, race_number, start_time, runners...
}

// LoadFile reads a YAML configuration file and applies defaults.
// Malformed configuration is the one fatal startup error.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills zero values with defaults.
func (c *Config) ApplyDefaults() {
	if c.Fetch.Timeout <= 0 {
		c.Fetch.Timeout = 30 * time.Second
	}
	if c.Fetch.Retries <= 0 {
		c.Fetch.Retries = 2
	}
	if c.Fetch.BackoffBase <= 0 {
		c.Fetch.BackoffBase = 500 * time.Millisecond
	}
	if c.Fetch.MaxBytes <= 0 {
		c.Fetch.MaxBytes = 10 * 1024 * 1024
	}
	if c.Fetch.UserAgent == "" {
		c.Fetch.UserAgent = "Mozilla/5.0 (compatible; oddsgrid/1.0)"
	}
	if c.Fetch.HealthIncrement <= 0 {
		c.Fetch.HealthIncrement = 0.05
	}
	if c.Fetch.HealthDecrement <= 0 {
		c.Fetch.HealthDecrement = 0.15
	}
	if c.Browser.RecycleInterval <= 0 {
		c.Browser.RecycleInterval = 4 * time.Hour
	}
	if c.Browser.NavTimeout <= 0 {
		c.Browser.NavTimeout = 30 * time.Second
	}
	if c.Breaker.FailureThreshold <= 0 {
		c.Breaker.FailureThreshold = 5
	}
	if c.Breaker.ResetTimeout <= 0 {
		c.Breaker.ResetTimeout = 60 * time.Second
	}
	if c.Pace.RequestsPerSecond <= 0 {
		c.Pace.RequestsPerSecond = 1
	}
	if c.Pace.MaxDelay <= 0 {
		c.Pace.MaxDelay = 2 * time.Minute
	}
	if c.Pace.GrowthFactor <= 1 {
		c.Pace.GrowthFactor = 2
	}
	if c.Pace.DecayFactor <= 0 || c.Pace.DecayFactor >= 1 {
		c.Pace.DecayFactor = 0.75
	}
	if c.Pace.Window <= 0 {
		c.Pace.Window = 10
	}
	if c.Heal.ProbeTimeout <= 0 {
		c.Heal.ProbeTimeout = 10 * time.Second
	}
	if c.Heal.ReportPath == "" {
		c.Heal.ReportPath = "healing_report.json"
	}
	if c.Aggregate.CycleDeadline <= 0 {
		c.Aggregate.CycleDeadline = 90 * time.Second
	}
	if c.Aggregate.HealthThreshold <= 0 {
		c.Aggregate.HealthThreshold = 0.5
	}
	if c.Aggregate.MinCoverage <= 0 {
		c.Aggregate.MinCoverage = 15
	}
	if c.Aggregate.CacheMaxAge <= 0 {
		c.Aggregate.CacheMaxAge = time.Hour
	}
	if c.Aggregate.ResultPath == "" {
		c.Aggregate.ResultPath = "aggregated_odds.json"
	}
	if c.Serve.Addr == "" {
		c.Serve.Addr = ":8090"
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	for i := range c.Sources {
		if c.Sources[i].DateFormat == "" {
			c.Sources[i].DateFormat = "2006-01-02"
		}
		if c.Sources[i].Transport == "" {
			c.Sources[i].Transport = "auto"
		}
	}
}

// Validate rejects malformed source definitions. This is fatal at
// startup: a misconfigured source would otherwise fail silently every
// cycle.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Sources))
	for _, s := range c.Sources {
		if s.Name == "" {
			return fmt.Errorf("config: source with empty name")
		}
		if seen[s.Name] {
			return fmt.Errorf("config: duplicate source %q", s.Name)
		}
		seen[s.Name] = true
		if s.BaseURL == "" && s.URLTemplate == "" && s.APIEndpoint == "" {
			return fmt.Errorf("config: source %q has no base_url, url_template, or api_endpoint", s.Name)
		}
		switch s.Transport {
		case "auto", "http", "browser", "stealth":
		default:
			return fmt.Errorf("config: source %q: unknown transport %q", s.Name, s.Transport)
		}
	}
	return nil
}
