// Package cli is the Cobra command tree for crawlkit, following the
// teacher's internal/cli/root.go shape: package-level flag vars set by
// Cobra, a With...-chain InitConfig that layers CLI flags over
// config.WithDefault, and a config-file escape hatch (§10.3/§10.4).
package cli

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/cantrace/crawlkit/internal/build"
	"github.com/cantrace/crawlkit/internal/config"
	"github.com/cantrace/crawlkit/internal/job"
	"github.com/cantrace/crawlkit/internal/model"
	"github.com/cantrace/crawlkit/internal/telemetry"
)

var (
	cfgFile              string
	seedURLs             []string
	maxDepth             int
	workerCount          int
	allowSubdomains      bool
	allowedDomains       []string
	mode                 string
	includeChildPages    bool
	autoDiscoverPrefixes bool
	userAgent            string
	requestTimeout       time.Duration
	maxRetries           int
	connectionPoolSize   int
	defaultDelay         time.Duration
	maxDelay             time.Duration
	randomSeed           int64
	outFile              string
)

var rootCmd = &cobra.Command{
	Use:     "crawlkit",
	Version: build.FullVersion(),
	Short:   "A polite, breadth-first documentation crawler.",
	Long: `crawlkit crawls a documentation site breadth-first, respecting
robots.txt and a configurable per-host request rate, and emits the
finished Job's JobSnapshot as JSON.

Each invocation runs a single Job to completion and prints its final
snapshot as JSON. Use the kb subcommand to run several scopes at once,
or the watch subcommand to see live progress while a Job runs.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		parsedURLs, err := parseSeedURLs(seedURLs)
		if err != nil {
			return err
		}

		cfg, err := InitConfigWithError(parsedURLs)
		if err != nil {
			return err
		}

		j, err := job.New(cfg, telemetry.NewStderrRecorder())
		if err != nil {
			return fmt.Errorf("crawlkit: %w", err)
		}

		if err := j.Start(cmd.Context()); err != nil {
			return fmt.Errorf("crawlkit: %w", err)
		}
		snap := j.Result()

		return writeResult(outFile, snap)
	},
}

// Execute adds all child commands to the root command and sets flags
// appropriately. Called once by main.main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "config file path (JSON)")
	rootCmd.PersistentFlags().StringArrayVar(&seedURLs, "seed-url", nil, "one or more starting URLs (can be repeated)")
	rootCmd.PersistentFlags().IntVar(&maxDepth, "max-depth", 0, "maximum link depth from seed URL")
	rootCmd.PersistentFlags().IntVar(&workerCount, "workers", 0, "number of concurrent fetch workers")
	rootCmd.PersistentFlags().BoolVar(&allowSubdomains, "allow-subdomains", false, "treat subdomains of the seed host as in-scope")
	rootCmd.PersistentFlags().StringArrayVar(&allowedDomains, "allowed-domain", nil, "extra in-scope hostname (can be repeated)")
	rootCmd.PersistentFlags().StringVar(&mode, "mode", "", "crawl_scrape, only_crawl, or only_scrape")
	rootCmd.PersistentFlags().BoolVar(&includeChildPages, "include-child-pages", true, "enqueue discovered anchors as children")
	rootCmd.PersistentFlags().BoolVar(&autoDiscoverPrefixes, "auto-discover-prefixes", false, "widen the path-prefix set from observed seed anchors")
	rootCmd.PersistentFlags().StringVar(&userAgent, "user-agent", "", "user agent string for HTTP requests")
	rootCmd.PersistentFlags().DurationVar(&requestTimeout, "request-timeout", 0, "per-request HTTP timeout")
	rootCmd.PersistentFlags().IntVar(&maxRetries, "max-retries", 0, "maximum fetch retries per URL")
	rootCmd.PersistentFlags().IntVar(&connectionPoolSize, "connection-pool-size", 0, "HTTP transport's max idle connections per host")
	rootCmd.PersistentFlags().DurationVar(&defaultDelay, "default-delay", 0, "minimum delay between requests to the same host")
	rootCmd.PersistentFlags().DurationVar(&maxDelay, "max-delay", 0, "ceiling on the adaptive per-host delay")
	rootCmd.PersistentFlags().Int64Var(&randomSeed, "random-seed", 0, "seed for delay and retry jitter (0 keeps the configured seed, default 1)")
	rootCmd.PersistentFlags().StringVar(&outFile, "out", "", "write the final snapshot JSON here instead of stdout")

	rootCmd.AddCommand(kbCmd, watchCmd)
}

// parseSeedURLs converts a string slice of URLs to []url.URL.
func parseSeedURLs(raw []string) ([]url.URL, error) {
	urls := make([]url.URL, 0, len(raw))
	for _, s := range raw {
		u, err := url.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("error parsing seed URL %s: %w", s, err)
		}
		urls = append(urls, *u)
	}
	return urls, nil
}

// parseMode maps the --mode flag's string onto model.Mode, defaulting
// to the zero value (meaning "leave config.WithDefault's mode alone")
// when unset.
func parseMode(raw string) (model.Mode, error) {
	switch model.Mode(raw) {
	case "":
		return "", nil
	case model.ModeCrawlScrape, model.ModeOnlyCrawl, model.ModeOnlyScrape:
		return model.Mode(raw), nil
	default:
		return "", fmt.Errorf("crawlkit: unknown --mode %q", raw)
	}
}

// InitConfig builds a Config from the current flag values and seedUrls,
// exiting the process on error — the convenience wrapper RunE callers
// that already handle their own errors should skip in favor of
// InitConfigWithError.
func InitConfig(seedUrls []url.URL) config.Config {
	cfg, err := InitConfigWithError(seedUrls)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return cfg
}

// InitConfigWithError layers the current flag values over
// config.WithDefault(seedUrls), or over a config file if --config-file
// was given. seedUrls is required unless a config file supplies its own
// seedUrls/scopes.
func InitConfigWithError(seedUrls []url.URL) (config.Config, error) {
	if cfgFile != "" {
		return config.WithConfigFile(cfgFile)
	}

	if len(seedUrls) == 0 {
		return config.Config{}, fmt.Errorf("%w: --seed-url is required", config.ErrInvalidConfig)
	}

	builder := config.WithDefault(seedUrls).
		WithAllowSubdomains(allowSubdomains).
		WithIncludeChildPages(includeChildPages).
		WithAutoDiscoverPrefixes(autoDiscoverPrefixes)

	if len(allowedDomains) > 0 {
		builder = builder.WithAllowedDomains(allowedDomains)
	}
	if maxDepth > 0 {
		builder = builder.WithMaxDepth(maxDepth)
	}
	if workerCount > 0 {
		builder = builder.WithWorkerCount(workerCount)
	}
	m, err := parseMode(mode)
	if err != nil {
		return config.Config{}, err
	}
	if m != "" {
		builder = builder.WithMode(m)
	}
	if userAgent != "" {
		builder = builder.WithUserAgent(userAgent)
	}
	if requestTimeout > 0 {
		builder = builder.WithRequestTimeout(requestTimeout)
	}
	if maxRetries > 0 {
		builder = builder.WithMaxRetries(maxRetries)
	}
	if connectionPoolSize > 0 {
		builder = builder.WithConnectionPoolSize(connectionPoolSize)
	}
	if defaultDelay > 0 {
		builder = builder.WithDefaultDelay(defaultDelay)
	}
	if maxDelay > 0 {
		builder = builder.WithMaxDelay(maxDelay)
	}
	if randomSeed != 0 {
		builder = builder.WithRandomSeed(randomSeed)
	}

	return builder.Build()
}

// writeResult marshals v as indented JSON to path, or stdout when path
// is empty.
func writeResult(path string, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("crawlkit: encoding result: %w", err)
	}
	out = append(out, '\n')

	if path == "" {
		_, err = os.Stdout.Write(out)
		return err
	}
	return os.WriteFile(path, out, 0o644)
}

// ResetFlags restores every package-level flag var to its zero value,
// for test isolation between Cobra command invocations.
func ResetFlags() {
	cfgFile = ""
	seedURLs = nil
	maxDepth = 0
	workerCount = 0
	allowSubdomains = false
	allowedDomains = nil
	mode = ""
	includeChildPages = true
	autoDiscoverPrefixes = false
	userAgent = ""
	requestTimeout = 0
	maxRetries = 0
	connectionPoolSize = 0
	defaultDelay = 0
	maxDelay = 0
	randomSeed = 0
	outFile = ""
}

func SetConfigFileForTest(path string)         { cfgFile = path }
func SetMaxDepthForTest(d int)                 { maxDepth = d }
func SetWorkerCountForTest(n int)              { workerCount = n }
func SetAllowSubdomainsForTest(allow bool)     { allowSubdomains = allow }
func SetAllowedDomainsForTest(d []string)      { allowedDomains = d }
func SetModeForTest(m string)                  { mode = m }
func SetIncludeChildPagesForTest(v bool)       { includeChildPages = v }
func SetUserAgentForTest(agent string)         { userAgent = agent }
func SetRequestTimeoutForTest(d time.Duration) { requestTimeout = d }
func SetRandomSeedForTest(seed int64)          { randomSeed = seed }
