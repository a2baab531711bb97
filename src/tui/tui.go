// Package tui renders session snapshots in the terminal.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"papertrader/src/portfolio"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	gainStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	lossStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	helpStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Italic(true)
)

// SnapshotMsg carries a new snapshot into the program.
type SnapshotMsg portfolio.Snapshot

// Model is the bubbletea model for the session view.
type Model struct {
	snap  portfolio.Snapshot
	ready bool
	width int
}

func NewModel() Model { return Model{} }

func (m Model) Init() tea.Cmd { return nil }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case SnapshotMsg:
		m.snap = portfolio.Snapshot(msg)
		m.ready = true
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	}
	return m, nil
}

func signed(v float64, format string) string {
	s := fmt.Sprintf(format, v)
	if v > 0 {
		return gainStyle.Render("+" + s)
	}
	if v < 0 {
		return lossStyle.Render(s)
	}
	return s
}

func (m Model) View() string {
	if !m.ready {
		return titleStyle.Render("paper trader") + "\n" + labelStyle.Render("waiting for the first snapshot...") + "\n"
	}
	s := m.snap
	var b strings.Builder

	header := fmt.Sprintf("paper trader  [%s]  pairs %d/%d  uptime %s",
		s.Status, s.Pairs.Connected, s.Pairs.Total, uptime(s.UptimeSeconds))
	b.WriteString(titleStyle.Render(header) + "\n\n")

	summary := []string{
		fmt.Sprintf("%s %.2f", labelStyle.Render("Equity"), s.Equity),
		fmt.Sprintf("%s %.2f", labelStyle.Render("Cash"), s.Cash),
		fmt.Sprintf("%s %s", labelStyle.Render("Profit"), signed(s.TotalProfit, "%.2f")),
		fmt.Sprintf("%s %s", labelStyle.Render("ROI"), signed(s.ROI, "%.2f%%")),
		fmt.Sprintf("%s %.1f%% (%d/%d)", labelStyle.Render("Win rate"), s.WinRate, s.WinCount, s.TotalTrades),
		fmt.Sprintf("%s %.2f%%", labelStyle.Render("Max drawdown"), s.MaxDrawdown),
	}
	b.WriteString(boxStyle.Render(strings.Join(summary, "\n")) + "\n\n")

	b.WriteString(titleStyle.Render("Open positions") + "\n")
	if len(s.OpenPositions) == 0 {
		b.WriteString(labelStyle.Render("  none") + "\n")
	}
	for _, p := range s.OpenPositions {
		b.WriteString(fmt.Sprintf("  %-10s qty %-14.8f entry %-12.4f now %-12.4f pnl %s (%s) bars %d\n",
			p.Pair, p.Quantity, p.EntryPrice, p.CurrentPrice,
			signed(p.UnrealizedPnL, "%.2f"), signed(p.UnrealizedPct, "%.2f%%"), p.BarsHeld))
	}

	b.WriteString("\n" + titleStyle.Render("Recent trades") + "\n")
	trades := s.RecentTrades
	if len(trades) > 8 {
		trades = trades[len(trades)-8:]
	}
	for _, t := range trades {
		line := fmt.Sprintf("  %s %-4s %-10s %.8f @ %.4f", t.Timestamp.Format("15:04:05"), t.Action, t.Pair, t.Quantity, t.Price)
		if t.Action == portfolio.ActionSell {
			line += fmt.Sprintf("  %s  %s", signed(t.Profit, "%.2f"), t.Reason)
		}
		b.WriteString(line + "\n")
	}
	b.WriteString("\n" + helpStyle.Render("q to quit") + "\n")
	return b.String()
}

func uptime(seconds float64) string {
	total := int(seconds)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, total/60%60, total%60)
}

// Publisher forwards snapshots to a running program. It keeps only the newest pending
// snapshot so the trading loop never waits on the terminal.
type Publisher struct {
	ch chan portfolio.Snapshot
}

func NewPublisher() *Publisher {
	return &Publisher{ch: make(chan portfolio.Snapshot, 1)}
}

func (p *Publisher) Publish(s portfolio.Snapshot) {
	for {
		select {
		case p.ch <- s:
			return
		default:
		}
		select {
		case <-p.ch:
		default:
		}
	}
}

// Run shows the view until the user quits or ctx ends. onQuit is called when the user
// quits so the caller can stop the session.
func (p *Publisher) Run(ctx context.Context, onQuit func()) error {
	prog := tea.NewProgram(NewModel(), tea.WithContext(ctx), tea.WithAltScreen())
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case s := <-p.ch:
				prog.Send(SnapshotMsg(s))
			}
		}
	}()
	_, err := prog.Run()
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("tui: %w", err)
	}
	if ctx.Err() == nil && onQuit != nil {
		onQuit()
	}
	return nil
}
