package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/joshuapare/starscan/internal/logger"
	"github.com/spf13/cobra"
)

var (
	watchFlags    = defaultSimConfig()
	watchInterval time.Duration
)

func init() {
	cmd := newWatchCmd()
	addSimFlags(cmd, &watchFlags)
	cmd.Flags().DurationVar(&watchInterval, "interval", 50*time.Millisecond, "Delay between rounds")
	rootCmd.AddCommand(cmd)
}

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Watch the quarantine fill up and drain live",
		Long: `The watch command runs the simulate workload one round per tick and shows
the quarantine size against its scan limit, the current epoch and the most
recent scan.

Keys:
  space  pause or resume
  n      run one round while paused
  q      quit`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sim, err := newSimulation(watchFlags)
			if err != nil {
				return err
			}
			defer sim.close()

			m := newWatchModel(sim, watchInterval)
			final, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
			if err != nil {
				return err
			}
			if wm, ok := final.(watchModel); ok && wm.err != nil {
				return wm.err
			}
			if wm, ok := final.(watchModel); ok && wm.summary != nil {
				printInfo("%s\n", renderSummary(*wm.summary))
			}
			return nil
		},
	}
}

type watchKeys struct {
	Pause key.Binding
	Step  key.Binding
	Quit  key.Binding
}

func defaultWatchKeys() watchKeys {
	return watchKeys{
		Pause: key.NewBinding(key.WithKeys(" ", "p"), key.WithHelp("space", "pause")),
		Step:  key.NewBinding(key.WithKeys("n"), key.WithHelp("n", "step")),
		Quit:  key.NewBinding(key.WithKeys("q", "ctrl+c", "esc"), key.WithHelp("q", "quit")),
	}
}

type tickMsg time.Time

// watchModel is the bubbletea model of the watch command. It drives the
// simulation from Update, so the mutator only ever runs on the program goroutine.
type watchModel struct {
	sim      *simulation
	interval time.Duration
	keys     watchKeys
	gauge    progress.Model
	width    int

	paused  bool
	summary *simSummary
	err     error
}

func newWatchModel(sim *simulation, interval time.Duration) watchModel {
	return watchModel{
		sim:      sim,
		interval: interval,
		keys:     defaultWatchKeys(),
		gauge:    progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
	}
}

func (m watchModel) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m watchModel) Init() tea.Cmd {
	return m.tick()
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Pause):
			m.paused = !m.paused
			if !m.paused && m.summary == nil {
				return m, m.tick()
			}
		case key.Matches(msg, m.keys.Step):
			if m.paused && m.summary == nil {
				return m.advance()
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.gauge.Width = max(10, min(60, msg.Width-30))

	case tickMsg:
		if m.paused || m.summary != nil {
			return m, nil
		}
		next, cmd := m.advance()
		if next.(watchModel).summary != nil || next.(watchModel).err != nil {
			return next, cmd
		}
		return next, tea.Batch(cmd, m.tick())
	}
	return m, nil
}

// advance runs one round, or finishes the simulation after the last one.
func (m watchModel) advance() (tea.Model, tea.Cmd) {
	if !m.sim.done() {
		if err := m.sim.step(); err != nil {
			m.err = err
			return m, tea.Quit
		}
		return m, nil
	}
	sum, err := m.sim.finish(context.Background())
	if err != nil {
		m.err = err
		return m, tea.Quit
	}
	logger.Debug("watch finished", "scans", sum.Scans)
	m.summary = &sum
	return m, nil
}

func (m watchModel) View() string {
	s := m.sim.s
	var b strings.Builder

	title := "pcscanctl watch"
	if m.paused {
		title += " (paused)"
	}
	b.WriteString(headerStyle.Render(title) + "\n\n")

	limit := s.QuarantineLimit()
	fill := 0.0
	if limit > 0 {
		fill = min(1, float64(s.QuarantineSize())/float64(limit))
	}
	b.WriteString(labelStyle.Render("Quarantine") + m.gauge.ViewAs(fill) + "\n")
	b.WriteString(row("", fmt.Sprintf("%s / %s", formatBytes(s.QuarantineSize()), formatBytes(limit))) + "\n")
	b.WriteString(row("Round", fmt.Sprintf("%s / %s",
		formatNumber(uint64(m.sim.round)), formatNumber(uint64(m.sim.cfg.Workload.Rounds)))) + "\n")
	b.WriteString(row("Epoch", formatNumber(s.Epoch())) + "\n")
	b.WriteString(row("Scan in progress", fmt.Sprint(s.InProgress())) + "\n")
	b.WriteString(row("Committed", formatBytes(m.sim.p.CommittedSize())) + "\n")

	if last, ok := m.sim.rec.Last(); ok {
		b.WriteString("\n" + headerStyle.Render("Last scan") + "\n")
		b.WriteString(row("Mode", last.Mode.String()) + "\n")
		b.WriteString(row("Quarantine", fmt.Sprintf("%s -> %s",
			formatBytes(last.LastSize), formatBytes(last.NewSize))) + "\n")
		b.WriteString(row("Swept", formatBytes(last.SweptBytes)) + "\n")
		b.WriteString(labelStyle.Render("Survival") +
			survivalStyle(last.SurvivalRate).Render(formatPercent(last.SurvivalRate)) + "\n")
	}

	if m.summary != nil {
		b.WriteString("\n" + goodStyle.Render("Done. Press q to exit.") + "\n")
	}
	b.WriteString("\n" + helpStyle.Render(helpLine(m.keys)))
	return b.String()
}

func helpLine(k watchKeys) string {
	var parts []string
	for _, b := range []key.Binding{k.Pause, k.Step, k.Quit} {
		h := b.Help()
		parts = append(parts, h.Key+" "+h.Desc)
	}
	return strings.Join(parts, " • ")
}
