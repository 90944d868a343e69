package cli

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/cantrace/crawlkit/internal/job"
	"github.com/cantrace/crawlkit/internal/telemetry"
)

// watchCmd runs a single Job and renders its ProgressBus subscription
// live (§4.8) via a Bubble Tea TUI, rather than blocking silently for
// Result like the root command.
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Crawl one scope, showing live progress in a terminal UI.",
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
			return fmt.Errorf("crawlkit watch: %w", err)
		}

		events, cancel := j.Bus().Subscribe(j.Snapshot())
		defer cancel()

		if err := j.Start(cmd.Context()); err != nil {
			return fmt.Errorf("crawlkit watch: %w", err)
		}

		m := newWatchModel(j, events)
		p := tea.NewProgram(m)
		finalModel, err := p.Run()
		if err != nil {
			return fmt.Errorf("crawlkit watch: %w", err)
		}

		wm := finalModel.(watchModel)
		return writeResult(outFile, wm.final)
	},
}
