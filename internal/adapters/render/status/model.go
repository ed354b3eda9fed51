package status

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/bnema/session-runner/internal/application"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const defaultWatchInterval = 30 * time.Second

// Loader fetches the statuses shown on every refresh of the watch view.
type Loader func(ctx context.Context) ([]application.SessionStatus, error)

type WatchOptions struct {
	Interval time.Duration
	Now      func() time.Time
}

type refreshedMsg struct {
	statuses []application.SessionStatus
	err      error
	at       time.Time
}

type tickMsg time.Time

// watchModel re-renders the session view every interval until the user
// quits. A failed refresh keeps the previous statuses on screen.
type watchModel struct {
	ctx      context.Context
	load     Loader
	opts     WatchOptions
	styles   styles
	statuses []application.SessionStatus
	err      error
	updated  time.Time
	loaded   bool
	quitting bool
}

func newWatchModel(ctx context.Context, load Loader, opts WatchOptions) watchModel {
	if opts.Interval <= 0 {
		opts.Interval = defaultWatchInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return watchModel{
		ctx:    ctx,
		load:   load,
		opts:   opts,
		styles: newStyles(),
	}
}

func (m watchModel) Init() tea.Cmd {
	return m.refresh()
}

func (m watchModel) refresh() tea.Cmd {
	return func() tea.Msg {
		statuses, err := m.load(m.ctx)
		return refreshedMsg{statuses: statuses, err: err, at: m.opts.Now()}
	}
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, m.refresh()
		}
		return m, nil
	case refreshedMsg:
		m.loaded = true
		m.updated = msg.at
		m.err = msg.err
		if msg.err == nil {
			m.statuses = msg.statuses
		}
		return m, tea.Tick(m.opts.Interval, func(t time.Time) tea.Msg {
			return tickMsg(t)
		})
	case tickMsg:
		return m, m.refresh()
	default:
		return m, nil
	}
}

func (m watchModel) View() string {
	if m.quitting {
		return ""
	}
	if !m.loaded {
		return m.styles.empty.Render("Loading sessions...")
	}

	footer := m.styles.meta.Render(fmt.Sprintf("refreshed %s, r to refresh, q to quit", m.updated.Format(time.TimeOnly)))
	lines := []string{renderView(m.statuses, RenderOptions{Now: m.updated}, m.styles)}
	if m.err != nil {
		lines = append(lines, m.styles.warning.Render("refresh failed: "+m.err.Error()))
	}
	lines = append(lines, "", footer)

	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

// Watch runs the live view until the user quits or ctx is done.
func Watch(ctx context.Context, in io.Reader, out io.Writer, load Loader, opts WatchOptions) error {
	p := tea.NewProgram(
		newWatchModel(ctx, load, opts),
		tea.WithInput(in),
		tea.WithOutput(out),
		tea.WithContext(ctx),
	)

	if _, err := p.Run(); err != nil {
		if ctx.Err() != nil && errors.Is(err, tea.ErrProgramKilled) {
			return nil
		}
		return err
	}

	return nil
}
