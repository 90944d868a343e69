package cli

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cantrace/crawlkit/internal/config"
	"github.com/cantrace/crawlkit/internal/multiscope"
	"github.com/cantrace/crawlkit/internal/telemetry"
)

var (
	scopeFlags  []string
	parallelKBs int
)

// kbCmd drives the Multi-Scope Scheduler (§4.10): one Job per --scope,
// up to --parallel-kbs running at once.
var kbCmd = &cobra.Command{
	Use:   "kb",
	Short: "Crawl several scopes (knowledge bases) concurrently.",
	Long: `kb runs one Job per --scope, sharing a single fetch transport
and rate limiter across all of them, and prints the aggregated
MultiJobSnapshot once every scope reaches a terminal state.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		specs, err := parseScopes(scopeFlags)
		if err != nil {
			return err
		}

		builder := config.WithDefault(nil).WithScopes(specs)
		if parallelKBs > 0 {
			builder = builder.WithParallelKBs(parallelKBs)
		}
		if maxDepth > 0 {
			builder = builder.WithMaxDepth(maxDepth)
		}
		if workerCount > 0 {
			builder = builder.WithWorkerCount(workerCount)
		}
		cfg, err := builder.Build()
		if err != nil {
			return err
		}

		sched, err := multiscope.New(cfg, telemetry.NewStderrRecorder())
		if err != nil {
			return fmt.Errorf("crawlkit kb: %w", err)
		}
		for _, w := range sched.Warnings() {
			fmt.Fprintln(cmd.ErrOrStderr(), w)
		}

		if err := sched.Start(cmd.Context()); err != nil {
			return fmt.Errorf("crawlkit kb: %w", err)
		}
		snap := sched.Result()

		return writeResult(outFile, snap)
	},
}

func init() {
	kbCmd.Flags().StringArrayVar(&scopeFlags, "scope", nil, "name=url[,url...] (can be repeated)")
	kbCmd.Flags().IntVar(&parallelKBs, "parallel-kbs", 0, "maximum scopes running concurrently")
}

// parseScopes turns "name=url[,url...]" flags into ScopeSpecs, one per
// flag occurrence, each active and ID'd by its position (§4.10/§6's
// scopes=[{id, name, entryUrls, active}] ingress shape).
func parseScopes(raw []string) ([]config.ScopeSpec, error) {
	specs := make([]config.ScopeSpec, 0, len(raw))
	for i, entry := range raw {
		name, urlList, ok := strings.Cut(entry, "=")
		if !ok || name == "" || urlList == "" {
			return nil, fmt.Errorf("crawlkit kb: --scope must be name=url[,url...], got %q", entry)
		}

		var entryURLs []url.URL
		for _, rawURL := range strings.Split(urlList, ",") {
			u, err := url.Parse(rawURL)
			if err != nil {
				return nil, fmt.Errorf("crawlkit kb: scope %q: %w", name, err)
			}
			entryURLs = append(entryURLs, *u)
		}

		specs = append(specs, config.ScopeSpec{
			ID:        fmt.Sprintf("scope-%d", i),
			Name:      name,
			EntryURLs: entryURLs,
			Active:    true,
		})
	}
	return specs, nil
}
