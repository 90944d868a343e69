package cli

import (
	"fmt"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/cantrace/crawlkit/internal/job"
	"github.com/cantrace/crawlkit/internal/model"
	"github.com/cantrace/crawlkit/internal/progress"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	successStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	dimStyle     = lipgloss.NewStyle().Faint(true)
)

// eventMsg wraps a progress.Event crossing into the Bubble Tea update
// loop, mirroring the teacher-pack TUI's own *Msg wrapper convention.
type eventMsg progress.Event

// watchModel is the Bubble Tea model for `crawlkit watch`: it owns no
// crawl logic of its own, only rendering what arrives over the
// ProgressBus subscription that watchCmd already set up.
type watchModel struct {
	j        *job.Job
	events   <-chan progress.Event
	spinner  spinner.Model
	snapshot model.JobSnapshot
	lastPage string
	done     bool
	final    model.JobSnapshot
}

func newWatchModel(j *job.Job, events <-chan progress.Event) watchModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	return watchModel{j: j, events: events, spinner: s}
}

func waitForEvent(events <-chan progress.Event) tea.Cmd {
	return func() tea.Msg {
		evt, ok := <-events
		if !ok {
			return nil
		}
		return eventMsg(evt)
	}
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForEvent(m.events))
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.j.Cancel()
			m.done = true
			m.final = m.snapshot
			return m, tea.Quit
		}

	case eventMsg:
		evt := progress.Event(msg)
		switch evt.Kind {
		case progress.EventInitialStatus, progress.EventStatusUpdate:
			m.snapshot = evt.Snapshot
			return m, waitForEvent(m.events)
		case progress.EventPageComplete:
			if evt.Page != nil {
				m.lastPage = evt.Page.URL
			}
			return m, waitForEvent(m.events)
		case progress.EventJobCompleted, progress.EventJobFailed:
			m.snapshot = evt.Snapshot
			m.final = evt.Snapshot
			m.done = true
			return m, tea.Quit
		case progress.EventSubscriberOverflow:
			return m, waitForEvent(m.events)
		}
		return m, waitForEvent(m.events)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m watchModel) View() string {
	if m.done {
		return renderSummary(m.final)
	}

	return fmt.Sprintf("%s processed %d, discovered %d, depth %d\n%s\n",
		m.spinner.View(), m.snapshot.URLsProcessed, m.snapshot.URLsDiscovered,
		m.snapshot.CurrentDepth, dimStyle.Render("  "+m.lastPage))
}

func renderSummary(snap model.JobSnapshot) string {
	header := titleStyle.Render("Crawl summary")

	if snap.State == model.JobStateCompleted {
		return header + "\n" + successStyle.Render(fmt.Sprintf(
			"Completed: %d URLs processed, %d discovered, %dms total",
			snap.URLsProcessed, snap.URLsDiscovered, snap.Timing.TotalMs)) + "\n"
	}

	msg := fmt.Sprintf("%s: %d processed before stopping", snap.State, snap.URLsProcessed)
	if snap.FirstError != "" {
		msg += " — " + snap.FirstError
	}
	return header + "\n" + errorStyle.Render(msg) + "\n"
}
