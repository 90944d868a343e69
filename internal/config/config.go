// Package config holds the Job/Scheduler configuration: a builder-chain
// Config type adapted from the teacher's internal/config, regeneralized
// from markdown-crawler fields to the crawl-engine fields spec.md §6
// requires, with the same validate-at-Build() idiom and the same
// WithConfigFile(path) JSON escape hatch.
package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/cantrace/crawlkit/internal/model"
)

type Config struct {
	//===============
	// Crawl scope
	//===============
	seedURLs             []url.URL
	allowSubdomains      bool
	allowedDomains       []string
	allowedPathPrefixes  []string
	autoDiscoverPrefixes bool
	includeChildPages    bool

	//===============
	// Multi-scope
	//===============
	scopes      []ScopeSpec
	parallelKBs int

	//===============
	// Limits
	//===============
	mode        model.Mode
	maxDepth    int
	workerCount int

	depthClampMin int
	depthClampMax int
	workerClampMin int
	workerClampMax int

	//===============
	// Fetch / politeness
	//===============
	requestTimeout     time.Duration
	maxRetries         int
	connectionPoolSize int
	defaultDelay       time.Duration
	maxDelay           time.Duration
	userAgent          string
	randomSeed         int64

	//===============
	// Extraction
	//===============
	maxContentLength int
	maxHeadings      int

	//===============
	// Diagnostics
	//===============
	logLevel string
	debug    bool
}

type configDTO struct {
	SeedURLs             []url.URL   `json:"seedUrls"`
	AllowSubdomains      bool        `json:"allowSubdomains,omitempty"`
	AllowedDomains       []string    `json:"allowedDomains,omitempty"`
	AllowedPathPrefixes  []string    `json:"allowedPathPrefixes,omitempty"`
	AutoDiscoverPrefixes bool        `json:"autoDiscoverPrefixes,omitempty"`
	IncludeChildPages    *bool       `json:"includeChildPages,omitempty"`
	Scopes               []ScopeSpec `json:"scopes,omitempty"`
	ParallelKBs          int         `json:"parallelKbs,omitempty"`
	Mode                 model.Mode  `json:"mode,omitempty"`
	MaxDepth             int         `json:"maxDepth,omitempty"`
	WorkerCount          int         `json:"workerCount,omitempty"`
	RequestTimeout       time.Duration `json:"requestTimeout,omitempty"`
	MaxRetries           int         `json:"maxRetries,omitempty"`
	ConnectionPoolSize   int         `json:"connectionPoolSize,omitempty"`
	DefaultDelay         time.Duration `json:"defaultDelay,omitempty"`
	MaxDelay             time.Duration `json:"maxDelay,omitempty"`
	UserAgent            string      `json:"userAgent,omitempty"`
	MaxContentLength     int         `json:"maxContentLength,omitempty"`
	MaxHeadings          int         `json:"maxHeadings,omitempty"`
	LogLevel             string      `json:"logLevel,omitempty"`
	Debug                bool        `json:"debug,omitempty"`
}

func newConfigFromDTO(dto configDTO) (Config, error) {
	cfg, err := WithDefault(dto.SeedURLs).Build()
	if err != nil {
		return Config{}, err
	}

	cfg.allowSubdomains = dto.AllowSubdomains
	if len(dto.AllowedDomains) > 0 {
		cfg.allowedDomains = dto.AllowedDomains
	}
	if len(dto.AllowedPathPrefixes) > 0 {
		cfg.allowedPathPrefixes = dto.AllowedPathPrefixes
	}
	cfg.autoDiscoverPrefixes = dto.AutoDiscoverPrefixes
	if dto.IncludeChildPages != nil {
		cfg.includeChildPages = *dto.IncludeChildPages
	}
	if len(dto.Scopes) > 0 {
		cfg.scopes = dto.Scopes
	}
	if dto.ParallelKBs != 0 {
		cfg.parallelKBs = dto.ParallelKBs
	}
	if dto.Mode != "" {
		cfg.mode = dto.Mode
	}
	if dto.MaxDepth != 0 {
		cfg.maxDepth = dto.MaxDepth
	}
	if dto.WorkerCount != 0 {
		cfg.workerCount = dto.WorkerCount
	}
	if dto.RequestTimeout != 0 {
		cfg.requestTimeout = dto.RequestTimeout
	}
	if dto.MaxRetries != 0 {
		cfg.maxRetries = dto.MaxRetries
	}
	if dto.ConnectionPoolSize != 0 {
		cfg.connectionPoolSize = dto.ConnectionPoolSize
	}
	if dto.DefaultDelay != 0 {
		cfg.defaultDelay = dto.DefaultDelay
	}
	if dto.MaxDelay != 0 {
		cfg.maxDelay = dto.MaxDelay
	}
	if dto.UserAgent != "" {
		cfg.userAgent = dto.UserAgent
	}
	if dto.MaxContentLength != 0 {
		cfg.maxContentLength = dto.MaxContentLength
	}
	if dto.MaxHeadings != 0 {
		cfg.maxHeadings = dto.MaxHeadings
	}
	if dto.LogLevel != "" {
		cfg.logLevel = dto.LogLevel
	}
	cfg.debug = dto.Debug

	return cfg, nil
}

// WithConfigFile loads a Config from a JSON file, layering it on top of
// WithDefault's values the same way the teacher's config file loader does.
func WithConfigFile(path string) (Config, error) {
	_, err := os.Stat(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %s", ErrFileDoesNotExist, err.Error())
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %s", ErrReadConfigFail, err.Error())
	}

	var dto configDTO
	if err := json.Unmarshal(raw, &dto); err != nil {
		return Config{}, fmt.Errorf("%w: %s", ErrConfigParsingFail, err.Error())
	}

	return newConfigFromDTO(dto)
}

// WithDefault creates a Config builder seeded with seedUrls and spec.md
// §6's documented defaults for everything else. seedUrls may be empty
// when the caller intends to configure multi-scope scopes instead
// (WithScopes); Build rejects a Config with neither.
func WithDefault(seedUrls []url.URL) *Config {
	return &Config{
		seedURLs:             seedUrls,
		allowSubdomains:      false,
		allowedPathPrefixes:  nil,
		autoDiscoverPrefixes: false,
		includeChildPages:    true,

		parallelKBs: DefaultMinParallelKBs,

		mode:        model.ModeCrawlScrape,
		maxDepth:    3,
		workerCount: 5,

		depthClampMin:  DefaultMinDepth,
		depthClampMax:  DefaultMaxDepth,
		workerClampMin: DefaultMinWorkers,
		workerClampMax: DefaultMaxWorkers,

		requestTimeout:     30 * time.Second,
		maxRetries:         3,
		connectionPoolSize: 100,
		defaultDelay:       250 * time.Millisecond,
		maxDelay:           5 * time.Second,
		userAgent:          "crawlkit/1.0",
		randomSeed:         1,

		maxContentLength: 50000,
		maxHeadings:      50,

		logLevel: "info",
		debug:    false,
	}
}

func (c *Config) WithSeedUrls(urls []url.URL) *Config {
	c.seedURLs = urls
	return c
}

func (c *Config) WithAllowSubdomains(allow bool) *Config {
	c.allowSubdomains = allow
	return c
}

func (c *Config) WithAllowedDomains(domains []string) *Config {
	c.allowedDomains = domains
	return c
}

func (c *Config) WithAllowedPathPrefixes(prefixes []string) *Config {
	c.allowedPathPrefixes = prefixes
	return c
}

func (c *Config) WithAutoDiscoverPrefixes(auto bool) *Config {
	c.autoDiscoverPrefixes = auto
	return c
}

func (c *Config) WithIncludeChildPages(include bool) *Config {
	c.includeChildPages = include
	return c
}

func (c *Config) WithScopes(scopes []ScopeSpec) *Config {
	c.scopes = scopes
	return c
}

func (c *Config) WithParallelKBs(n int) *Config {
	c.parallelKBs = n
	return c
}

func (c *Config) WithMode(mode model.Mode) *Config {
	c.mode = mode
	return c
}

func (c *Config) WithMaxDepth(depth int) *Config {
	c.maxDepth = depth
	return c
}

func (c *Config) WithWorkerCount(count int) *Config {
	c.workerCount = count
	return c
}

func (c *Config) WithRequestTimeout(d time.Duration) *Config {
	c.requestTimeout = d
	return c
}

func (c *Config) WithMaxRetries(n int) *Config {
	c.maxRetries = n
	return c
}

func (c *Config) WithConnectionPoolSize(n int) *Config {
	c.connectionPoolSize = n
	return c
}

func (c *Config) WithDefaultDelay(d time.Duration) *Config {
	c.defaultDelay = d
	return c
}

func (c *Config) WithMaxDelay(d time.Duration) *Config {
	c.maxDelay = d
	return c
}

func (c *Config) WithUserAgent(agent string) *Config {
	c.userAgent = agent
	return c
}

func (c *Config) WithRandomSeed(seed int64) *Config {
	c.randomSeed = seed
	return c
}

func (c *Config) WithMaxContentLength(n int) *Config {
	c.maxContentLength = n
	return c
}

func (c *Config) WithMaxHeadings(n int) *Config {
	c.maxHeadings = n
	return c
}

func (c *Config) WithLogLevel(level string) *Config {
	c.logLevel = level
	return c
}

func (c *Config) WithDebug(debug bool) *Config {
	c.debug = debug
	return c
}

// WithEnvOverrides layers the recognized environment keys from spec.md
// §6 on top of whatever has been set so far. An unset or unparsable env
// var leaves the existing value untouched (see env.go).
func (c *Config) WithEnvOverrides() *Config {
	applyEnvOverrides(c)
	return c
}

// Build validates and clamps the Config, matching the teacher's
// validate-at-build-time idiom. It rejects a Config with no seed URLs
// and no scopes, clamps maxDepth/workerCount/parallelKBs to their
// configured bounds, and fills allowedDomains with nothing implicit —
// unlike the teacher, crawlkit never widens scope silently; the primary
// host is always derived from the seed URLs themselves by the caller
// building a scope.Policy.
func (c *Config) Build() (Config, error) {
	if len(c.seedURLs) == 0 && len(c.scopes) == 0 {
		return Config{}, fmt.Errorf("%w: seedUrls or scopes must be non-empty", ErrInvalidConfig)
	}

	c.maxDepth = clamp(c.maxDepth, c.depthClampMin, c.depthClampMax)
	c.workerCount = clamp(c.workerCount, c.workerClampMin, c.workerClampMax)
	c.parallelKBs = clamp(c.parallelKBs, DefaultMinParallelKBs, DefaultMaxParallelKBs)

	return *c, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func (c Config) SeedURLs() []url.URL {
	urls := make([]url.URL, len(c.seedURLs))
	copy(urls, c.seedURLs)
	return urls
}

func (c Config) AllowSubdomains() bool { return c.allowSubdomains }

func (c Config) AllowedDomains() []string {
	out := make([]string, len(c.allowedDomains))
	copy(out, c.allowedDomains)
	return out
}

func (c Config) AllowedPathPrefixes() []string {
	out := make([]string, len(c.allowedPathPrefixes))
	copy(out, c.allowedPathPrefixes)
	return out
}

func (c Config) AutoDiscoverPrefixes() bool { return c.autoDiscoverPrefixes }
func (c Config) IncludeChildPages() bool    { return c.includeChildPages }

func (c Config) Scopes() []ScopeSpec {
	out := make([]ScopeSpec, len(c.scopes))
	copy(out, c.scopes)
	return out
}

func (c Config) ParallelKBs() int { return c.parallelKBs }

func (c Config) Mode() model.Mode  { return c.mode }
func (c Config) MaxDepth() int     { return c.maxDepth }
func (c Config) WorkerCount() int  { return c.workerCount }
func (c Config) MinDepth() int     { return c.depthClampMin }
func (c Config) MaxDepthCeil() int { return c.depthClampMax }
func (c Config) MinWorkers() int   { return c.workerClampMin }
func (c Config) MaxWorkers() int   { return c.workerClampMax }

func (c Config) RequestTimeout() time.Duration     { return c.requestTimeout }
func (c Config) MaxRetries() int                   { return c.maxRetries }
func (c Config) ConnectionPoolSize() int            { return c.connectionPoolSize }
func (c Config) DefaultDelay() time.Duration       { return c.defaultDelay }
func (c Config) MaxDelay() time.Duration           { return c.maxDelay }
func (c Config) UserAgent() string                 { return c.userAgent }
func (c Config) RandomSeed() int64                 { return c.randomSeed }

func (c Config) MaxContentLength() int { return c.maxContentLength }
func (c Config) MaxHeadings() int      { return c.maxHeadings }

func (c Config) LogLevel() string { return c.logLevel }
func (c Config) Debug() bool      { return c.debug }

// PrimaryHost returns the host of the first seed URL, the anchor every
// ScopePolicy is built around for a single-scope Job. Empty if there
// are no seed URLs (the multi-scope case, where each ScopeSpec carries
// its own entry URLs instead).
func (c Config) PrimaryHost() string {
	if len(c.seedURLs) == 0 {
		return ""
	}
	return c.seedURLs[0].Host
}
