package summary

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bnema/session-runner/internal/domain"
	"github.com/bnema/session-runner/internal/ports"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var headers = []string{"Account", "Points before", "Points after", "Gained", "Balance", "Txs", "Outcome", "Next refresh"}

var outcomeOrder = []domain.Outcome{
	domain.OutcomeDone,
	domain.OutcomeLowBalance,
	domain.OutcomeSkipped,
	domain.OutcomeNoCredential,
	domain.OutcomeDead,
	domain.OutcomeCrashed,
	domain.OutcomeCanceled,
}

type RenderOptions struct {
	// Location formats the cycle timestamps. Nil keeps their own zone.
	Location *time.Location
}

type styles struct {
	title  lipgloss.Style
	header lipgloss.Style
	cell   lipgloss.Style
	number lipgloss.Style
	good   lipgloss.Style
	bad    lipgloss.Style
	muted  lipgloss.Style
	border lipgloss.Style
	empty  lipgloss.Style
}

func newStyles() styles {
	return styles{
		title:  lipgloss.NewStyle().Bold(true),
		header: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("250")).Padding(0, 1),
		cell:   lipgloss.NewStyle().Foreground(lipgloss.Color("252")).Padding(0, 1),
		number: lipgloss.NewStyle().Foreground(lipgloss.Color("252")).Padding(0, 1).Align(lipgloss.Right),
		good:   lipgloss.NewStyle().Foreground(lipgloss.Color("114")).Padding(0, 1),
		bad:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203")).Padding(0, 1),
		muted:  lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Padding(0, 1),
		border: lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		empty:  lipgloss.NewStyle().Faint(true),
	}
}

func Render(summary ports.CycleSummary, opts RenderOptions) string {
	s := newStyles()

	lines := []string{s.title.Render(title(summary))}
	if len(summary.Records) == 0 {
		lines = append(lines, s.empty.Render("No accounts ran in this cycle."))
	} else {
		lines = append(lines, renderTable(summary.Records, s))
	}
	lines = append(lines, s.empty.Render(footer(summary, opts)))

	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func renderTable(records []domain.StatRecord, s styles) string {
	rows := make([][]string, 0, len(records))
	for _, record := range records {
		rows = append(rows, row(record))
	}

	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(s.border).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(rowIndex, col int) lipgloss.Style {
			if rowIndex == table.HeaderRow {
				return s.header
			}
			switch col {
			case 1, 2, 3, 4, 5:
				return s.number
			case 6:
				return outcomeStyle(records[rowIndex].Outcome, s)
			case 7:
				return s.muted
			default:
				return s.cell
			}
		}).
		String()
}

func row(record domain.StatRecord) []string {
	gained := "-"
	if delta, ok := record.Gained(); ok {
		gained = signed(delta)
	}

	balance := "-"
	if record.Balance != nil {
		balance = strconv.FormatFloat(*record.Balance, 'f', 4, 64)
	}

	next := record.NextRefresh
	if next == "" {
		next = "-"
	}

	return []string{
		record.Name,
		points(record.PointsBefore),
		points(record.PointsAfter),
		gained,
		balance,
		strconv.Itoa(record.Transactions),
		string(record.Outcome),
		next,
	}
}

func outcomeStyle(outcome domain.Outcome, s styles) lipgloss.Style {
	switch outcome {
	case domain.OutcomeDone:
		return s.good
	case domain.OutcomeDead, domain.OutcomeNoCredential, domain.OutcomeCrashed:
		return s.bad
	default:
		return s.muted
	}
}

func points(v *float64) string {
	if v == nil {
		return "-"
	}
	return domain.CompactNumber(*v)
}

func signed(v float64) string {
	if v > 0 {
		return "+" + domain.CompactNumber(v)
	}
	return domain.CompactNumber(v)
}

func title(summary ports.CycleSummary) string {
	if summary.CycleID == "" {
		return "Cycle summary"
	}
	return "Cycle summary " + summary.CycleID
}

func footer(summary ports.CycleSummary, opts RenderOptions) string {
	parts := make([]string, 0, len(outcomeOrder)+3)

	counts := map[domain.Outcome]int{}
	for _, record := range summary.Records {
		counts[record.Outcome]++
	}
	for _, outcome := range outcomeOrder {
		if counts[outcome] > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", counts[outcome], outcome))
		}
	}

	if !summary.StartedAt.IsZero() && !summary.FinishedAt.IsZero() {
		parts = append(parts, "took "+summary.FinishedAt.Sub(summary.StartedAt).Round(time.Second).String())
	}
	if !summary.NextRun.IsZero() {
		parts = append(parts, "next run "+formatTime(summary.NextRun, opts.Location))
	}

	return strings.Join(parts, "  ")
}

func formatTime(t time.Time, location *time.Location) string {
	if location != nil {
		t = t.In(location)
	}
	return t.Format("2006-01-02 15:04 MST")
}

// Writer is a ports.SummarySink that prints every cycle summary.
type Writer struct {
	mu   sync.Mutex
	out  io.Writer
	opts RenderOptions
}

func NewWriter(out io.Writer, opts RenderOptions) *Writer {
	return &Writer{out: out, opts: opts}
}

func (w *Writer) Emit(summary ports.CycleSummary) error {
	rendered := Render(summary, w.opts)

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := fmt.Fprintln(w.out, rendered); err != nil {
		return fmt.Errorf("write cycle summary: %w", err)
	}
	return nil
}
