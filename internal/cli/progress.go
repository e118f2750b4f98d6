package cli

import (
	"context"
	"fmt"
	"strings"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"
	"github.com/raphaelgruber/moviechat/internal/ingest"
)

// Theme holds the color scheme for terminal output.
type Theme struct {
	Status     lipgloss.Color
	Success    lipgloss.Color
	Error      lipgloss.Color
	Hint       lipgloss.Color
	ProgressBg lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Status:     lipgloss.Color("#5FAFD7"), // light blue
	Success:    lipgloss.Color("#00D787"), // green
	Error:      lipgloss.Color("#FF005F"), // red
	Hint:       lipgloss.Color("#6C6C6C"), // dim gray
	ProgressBg: lipgloss.Color("#3A3A3A"), // dark gray
}

func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// ingestProgressMsg reports upserted movies so far.
type ingestProgressMsg struct {
	done  int
	total int
}

// ingestDoneMsg carries the result of the ingestion goroutine.
type ingestDoneMsg struct {
	stats ingest.Stats
	err   error
}

// progressModel is the bubbletea model for a running ingestion.
type progressModel struct {
	source   string
	done     int
	total    int
	stats    ingest.Stats
	progress progress.Model
	theme    Theme
	cancel   context.CancelFunc
	finished bool
	quitting bool
	err      error
}

func newProgressModel(source string, cancel context.CancelFunc) progressModel {
	return progressModel{
		source: source,
		progress: progress.New(
			progress.WithDefaultBlend(),
			progress.WithWidth(40),
		),
		theme:  defaultTheme,
		cancel: cancel,
	}
}

// Init returns the initial command.
func (m progressModel) Init() tea.Cmd {
	return m.progress.Init()
}

// Update handles messages and returns the updated model.
func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			// Stop the workers; the done message follows.
			m.quitting = true
			m.cancel()
			return m, nil
		}

	case ingestProgressMsg:
		m.done, m.total = msg.done, msg.total
		return m, nil

	case ingestDoneMsg:
		m.finished = true
		m.stats = msg.stats
		m.err = msg.err
		return m, tea.Quit

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the progress display.
func (m progressModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m progressModel) renderContent() string {
	if m.finished {
		return m.finalView()
	}

	if m.total == 0 {
		return m.theme.statusStyle().Render("[reading]") + " " + m.source + "\n"
	}

	pct := float64(m.done) / float64(m.total)
	status := m.theme.statusStyle().Render("[ingesting]")
	counts := fmt.Sprintf("%d/%d movies", m.done, m.total)
	hint := m.theme.hintStyle().Render("Press Ctrl+C to stop")
	return fmt.Sprintf("%s %s %s\n%s\n", status, m.progress.ViewAs(pct), counts, hint)
}

func (m progressModel) finalView() string {
	if m.err != nil {
		if m.quitting {
			return m.theme.hintStyle().Render(fmt.Sprintf("\nStopped after %d movies.\n", m.stats.Upserted))
		}
		return m.theme.errorStyle().Render(fmt.Sprintf("\n✗ Ingestion failed: %s\n", m.err))
	}
	return m.theme.completedStyle().Render("✓ Completed") + "\n\n" + formatIngestStats(m.stats)
}

// formatIngestStats renders ingestion counts, one per line.
func formatIngestStats(s ingest.Stats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "  Rows read:      %d\n", s.Read)
	fmt.Fprintf(&b, "  Rows skipped:   %d\n", s.Skipped)
	fmt.Fprintf(&b, "  Movies stored:  %d\n", s.Upserted)
	return b.String()
}

// RunIngestProgress runs fn with a progress bar. fn receives a context the
// UI cancels on Ctrl+C and a callback to report progress.
func RunIngestProgress(ctx context.Context, source string, fn func(ctx context.Context, report func(done, total int)) (ingest.Stats, error)) (ingest.Stats, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(newProgressModel(source, cancel))
	go func() {
		stats, err := fn(ctx, func(done, total int) {
			p.Send(ingestProgressMsg{done: done, total: total})
		})
		p.Send(ingestDoneMsg{stats: stats, err: err})
	}()

	finalModel, err := p.Run()
	if err != nil {
		return ingest.Stats{}, fmt.Errorf("progress UI error: %w", err)
	}
	m, ok := finalModel.(progressModel)
	if !ok {
		return ingest.Stats{}, nil
	}
	return m.stats, m.err
}
