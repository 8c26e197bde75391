// Package dashboard is the live terminal view behind `stagegate top`.
package dashboard

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/pario-ai/stagegate/pkg/models"
)

const (
	refreshInterval = 2 * time.Second
	fetchTimeout    = 5 * time.Second
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6B6B")).MarginBottom(1)
	headStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	panelStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#444444")).Padding(0, 1)
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	goodStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50"))
)

// snapshotMsg carries one round of fetched figures.
type snapshotMsg struct {
	cache     models.CacheStats
	decisions []models.DecisionStat
	budget    []models.BudgetStatus
	rates     map[models.Band]float64
	at        time.Time
	err       error
}

// Model is the bubbletea model for the dashboard.
type Model struct {
	src       Source
	threshold float64
	snap      snapshotMsg
	loaded    bool
	width     int
}

// New creates a dashboard model. threshold is the configured approval-rate
// threshold, used to colour the rates.
func New(src Source, threshold float64) Model {
	return Model{src: src, threshold: threshold}
}

func (m Model) Init() tea.Cmd {
	return m.fetch
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			return m, m.fetch
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case snapshotMsg:
		m.snap = msg
		m.loaded = true
		return m, m.scheduleRefresh()
	}
	return m, nil
}

func (m Model) fetch() tea.Msg {
	ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
	defer cancel()

	var snap snapshotMsg
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		snap.cache, err = m.src.CacheStats(ctx)
		return err
	})
	g.Go(func() (err error) {
		snap.decisions, err = m.src.DecisionStats(ctx)
		return err
	})
	g.Go(func() (err error) {
		snap.budget, err = m.src.BudgetStatus(ctx)
		return err
	})
	g.Go(func() (err error) {
		snap.rates, err = m.src.ApprovalRates(ctx)
		return err
	})
	snap.err = g.Wait()
	snap.at = time.Now()
	return snap
}

func (m Model) scheduleRefresh() tea.Cmd {
	return tea.Tick(refreshInterval, func(time.Time) tea.Msg {
		return m.fetch()
	})
}

func (m Model) View() string {
	if !m.loaded {
		return dimStyle.Render("loading...") + "\n"
	}

	top := lipgloss.JoinHorizontal(lipgloss.Top,
		panelStyle.Render(m.renderCache()),
		panelStyle.Render(m.renderRates()),
	)
	sections := []string{
		titleStyle.Render("STAGEGATE"),
		top,
		panelStyle.Render(m.renderDecisions()),
	}
	if len(m.snap.budget) > 0 {
		sections = append(sections, panelStyle.Render(m.renderBudget()))
	}

	footer := fmt.Sprintf("updated %s · r refresh · q quit", m.snap.at.Format("15:04:05"))
	if m.snap.err != nil {
		footer = errStyle.Render("error: "+m.snap.err.Error()) + "\n" + footer
	}
	sections = append(sections, dimStyle.Render(footer))
	return strings.Join(sections, "\n") + "\n"
}

func (m Model) renderCache() string {
	s := m.snap.cache
	total := s.Hits + s.Misses
	rate := 0.0
	if total > 0 {
		rate = float64(s.Hits) / float64(total) * 100
	}
	lines := []string{
		headStyle.Render("CACHE"),
		fmt.Sprintf("exact     %8s", humanize.Comma(s.ExactEntries)),
		fmt.Sprintf("semantic  %8s", humanize.Comma(s.SemanticEntries)),
		fmt.Sprintf("accesses  %8s", humanize.Comma(s.TotalAccessCount)),
		fmt.Sprintf("avg/entry %8.2f", s.AvgAccessesPerEntry),
		fmt.Sprintf("hit rate  %7.1f%%", rate),
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderRates() string {
	lines := []string{headStyle.Render("APPROVAL RATE")}
	for _, b := range []models.Band{models.BandModerate, models.BandComplex} {
		r, ok := m.snap.rates[b]
		if !ok {
			lines = append(lines, fmt.Sprintf("%-10s %6s", b, "-"))
			continue
		}
		v := fmt.Sprintf("%6.2f", r)
		if r >= m.threshold {
			v = goodStyle.Render(v)
		}
		lines = append(lines, fmt.Sprintf("%-10s %s", b, v))
	}
	lines = append(lines, dimStyle.Render(fmt.Sprintf("threshold %.2f", m.threshold)))
	return strings.Join(lines, "\n")
}

func (m Model) renderDecisions() string {
	lines := []string{headStyle.Render("DECISIONS")}
	if len(m.snap.decisions) == 0 {
		lines = append(lines, dimStyle.Render("no decisions logged yet"))
	}
	for _, d := range m.snap.decisions {
		lines = append(lines, fmt.Sprintf("%-14s %-13s %8s", d.Band, d.Decision, humanize.Comma(d.Count)))
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderBudget() string {
	lines := []string{headStyle.Render("BUDGET")}
	for _, s := range m.snap.budget {
		band := string(s.Policy.Band)
		if band == "" {
			band = "*"
		}
		lines = append(lines, fmt.Sprintf("%-14s %-8s %10s / %-10s",
			band, s.Policy.Period, humanize.Comma(s.Used), humanize.Comma(s.Policy.MaxTokens)))
	}
	return strings.Join(lines, "\n")
}
