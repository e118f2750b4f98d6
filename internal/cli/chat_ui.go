package cli

import (
	"context"
	"fmt"
	"strings"

	"charm.land/bubbles/v2/spinner"
	"charm.land/bubbles/v2/textinput"
	"charm.land/bubbles/v2/viewport"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"
)

// chatAnswerMsg carries the result of one question.
type chatAnswerMsg struct {
	view answerView
	err  error
}

// chatResetMsg reports a finished /reset.
type chatResetMsg struct {
	err error
}

// chatModel is the full-screen conversation UI.
type chatModel struct {
	ctx     context.Context
	backend chatBackend
	theme   Theme

	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model

	transcript []string
	waiting    bool
	ready      bool
}

func newChatModel(ctx context.Context, backend chatBackend) chatModel {
	input := textinput.New()
	input.Prompt = "> "
	input.Placeholder = "Ask about a movie, /reset or /exit"
	input.Focus()

	vp := viewport.New(viewport.WithWidth(80), viewport.WithHeight(20))
	vp.SoftWrap = true

	m := chatModel{
		ctx:      ctx,
		backend:  backend,
		theme:    defaultTheme,
		input:    input,
		viewport: vp,
		spinner:  spinner.New(spinner.WithSpinner(spinner.Dot)),
	}
	m.appendLine(m.theme.hintStyle().Render(fmt.Sprintf("Session %s", backend.SessionID())))
	return m
}

func (m chatModel) userStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(m.theme.Status).Bold(true)
}

func (m chatModel) botStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(m.theme.Success).Bold(true)
}

func (m *chatModel) appendLine(line string) {
	m.transcript = append(m.transcript, line)
	m.viewport.SetContent(strings.Join(m.transcript, "\n"))
	m.viewport.GotoBottom()
}

// Init returns the initial command.
func (m chatModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m chatModel) ask(query string) tea.Cmd {
	return func() tea.Msg {
		view, err := m.backend.Ask(m.ctx, query)
		return chatAnswerMsg{view: view, err: err}
	}
}

func (m chatModel) reset() tea.Cmd {
	return func() tea.Msg {
		return chatResetMsg{err: m.backend.Reset(m.ctx)}
	}
}

// Update handles messages and returns the updated model.
func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.viewport.SetWidth(msg.Width)
		m.viewport.SetHeight(max(msg.Height-3, 1))
		m.input.SetWidth(max(msg.Width-4, 10))
		m.ready = true
		return m, nil

	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "pgup", "pgdown":
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		case "enter":
			if m.waiting {
				return m, nil
			}
			command, query := parseChatInput(m.input.Value())
			m.input.Reset()
			switch {
			case command == chatCmdExit:
				return m, tea.Quit
			case command == chatCmdReset:
				m.waiting = true
				return m, tea.Batch(m.spinner.Tick, m.reset())
			case query == "":
				return m, nil
			}
			m.appendLine(m.userStyle().Render("You: ") + query)
			m.waiting = true
			return m, tea.Batch(m.spinner.Tick, m.ask(query))
		}

	case chatAnswerMsg:
		m.waiting = false
		if msg.err != nil {
			m.appendLine(m.theme.errorStyle().Render("Error: ") + msg.err.Error())
			return m, nil
		}
		m.appendLine(m.botStyle().Render("Bot: ") + strings.TrimSpace(msg.view.Answer))
		if len(msg.view.Sources) > 0 {
			m.appendLine(m.theme.hintStyle().Render("Sources: " + strings.Join(msg.view.Sources, ", ")))
		}
		m.appendLine("")
		return m, nil

	case chatResetMsg:
		m.waiting = false
		if msg.err != nil {
			m.appendLine(m.theme.errorStyle().Render("Reset failed: ") + msg.err.Error())
			return m, nil
		}
		m.transcript = nil
		m.appendLine(m.theme.hintStyle().Render("Conversation cleared."))
		return m, nil

	case spinner.TickMsg:
		if !m.waiting {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View renders the transcript above the input line.
func (m chatModel) View() tea.View {
	var b strings.Builder
	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	if m.waiting {
		b.WriteString(m.spinner.View() + " thinking...")
	}
	b.WriteString("\n")
	b.WriteString(m.input.View())

	v := tea.NewView(b.String())
	v.AltScreen = m.ready
	return v
}

func runChatUI(ctx context.Context, backend chatBackend) error {
	p := tea.NewProgram(newChatModel(ctx, backend), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("chat UI error: %w", err)
	}
	return nil
}
