package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var simFlags = defaultSimConfig()

func init() {
	cmd := newSimulateCmd()
	addSimFlags(cmd, &simFlags)
	rootCmd.AddCommand(cmd)
}

// addSimFlags binds the workload and scanner flags shared by simulate and watch.
func addSimFlags(cmd *cobra.Command, cfg *simConfig) {
	f := cmd.Flags()
	f.IntVar(&cfg.Workload.Rounds, "rounds", cfg.Workload.Rounds, "Mutator rounds to run")
	f.IntVar(&cfg.Workload.AllocsPerRound, "allocs", cfg.Workload.AllocsPerRound, "Allocations per round")
	f.Uint64Var(&cfg.Workload.MinSize, "min-size", cfg.Workload.MinSize, "Smallest allocation in bytes")
	f.Uint64Var(&cfg.Workload.MaxSize, "max-size", cfg.Workload.MaxSize, "Largest allocation in bytes")
	f.Float64Var(&cfg.Workload.FreeRatio, "free-ratio", cfg.Workload.FreeRatio, "Share of live objects freed per round")
	f.Float64Var(&cfg.Workload.DanglingRatio, "dangling-ratio", cfg.Workload.DanglingRatio,
		"Share of frees that leave a dangling root reference")
	f.Float64Var(&cfg.Workload.LinkRatio, "link-ratio", cfg.Workload.LinkRatio,
		"Share of new objects that point at another live object")
	f.IntVar(&cfg.Workload.Roots, "roots", cfg.Workload.Roots, "Root slots scanned as live memory")
	f.Uint64Var(&cfg.Workload.Seed, "seed", cfg.Workload.Seed, "Random seed")
	f.IntVar(&cfg.Workers, "workers", cfg.Workers, "Scan worker goroutines (0 scans inline)")
	f.BoolVar(&cfg.Cookies, "cookies", cfg.Cookies, "Surround objects with guard cookies")
	f.Uint64Var(&cfg.MinLimit, "min-limit", cfg.MinLimit, "Minimum quarantine limit in bytes")
	f.Float64Var(&cfg.Fraction, "fraction", cfg.Fraction, "Quarantine limit as a share of committed memory")
	f.StringVar(&cfg.ProcessName, "process", cfg.ProcessName, "Process name used in histogram names")
	f.DurationVar(&cfg.ReclaimInterval, "reclaim-interval", cfg.ReclaimInterval,
		"Run the reclaimer periodically (0 reclaims once at the end)")
}

func newSimulateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "simulate",
		Short: "Run a workload and report scanner statistics",
		Long: `The simulate command runs a synthetic mutator against a partition with a
quarantine scanner attached, then frees everything, forces a final scan and
prints quarantine, sweep and phase timing statistics.

Example:
  pcscanctl simulate
  pcscanctl simulate --rounds 1000 --workers 2 --dangling-ratio 0.2
  pcscanctl simulate --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runSimulate(ctx, simFlags)
		},
	}
}

func runSimulate(ctx context.Context, cfg simConfig) error {
	sim, err := newSimulation(cfg)
	if err != nil {
		return err
	}
	defer sim.close()

	for !sim.done() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := sim.step(); err != nil {
			return err
		}
		printVerbose("round %d: quarantine %s / %s, epoch %d\n",
			sim.round, formatBytes(sim.s.QuarantineSize()),
			formatBytes(sim.s.QuarantineLimit()), sim.s.Epoch())
	}

	sum, err := sim.finish(ctx)
	if err != nil {
		return err
	}
	if err := sim.close(); err != nil {
		return err
	}

	if jsonOut {
		return printJSON(sum)
	}
	printInfo("%s\n", renderSummary(sum))
	return nil
}

// renderSummary formats sum for the terminal.
func renderSummary(sum simSummary) string {
	var b strings.Builder

	b.WriteString(headerStyle.Render("Workload") + "\n")
	b.WriteString(row("Rounds", formatNumber(uint64(sum.Rounds))) + "\n")
	b.WriteString(row("Allocations", formatNumber(sum.Workload.Allocs)) + "\n")
	b.WriteString(row("Frees", formatNumber(sum.Workload.Frees)) + "\n")
	b.WriteString(row("Dangling frees", formatNumber(sum.Workload.Dangling)) + "\n")
	b.WriteString(row("Heap links", formatNumber(sum.Workload.Links)) + "\n")

	b.WriteString("\n" + headerStyle.Render("Scanner") + "\n")
	b.WriteString(row("Scans", fmt.Sprintf("%s (%s forced)",
		formatNumber(uint64(sum.Scans)), formatNumber(uint64(sum.ForcedScans)))) + "\n")
	b.WriteString(row("Epoch", formatNumber(sum.Epoch)) + "\n")
	b.WriteString(row("Quarantine scanned", formatBytes(sum.ScannedBytes)) + "\n")
	b.WriteString(row("Swept", formatBytes(sum.SweptBytes)) + "\n")
	b.WriteString(labelStyle.Render("Mean survival") + survivalStyle(sum.MeanSurvival).Render(formatPercent(sum.MeanSurvival)) + "\n")
	b.WriteString(row("Still quarantined", formatBytes(sum.QuarantineSize)) + "\n")
	b.WriteString(row("Quarantine limit", formatBytes(sum.QuarantineLim)) + "\n")

	b.WriteString("\n" + headerStyle.Render("Partition") + "\n")
	b.WriteString(row("Super pages", formatNumber(uint64(sum.Partition.SuperPages))) + "\n")
	b.WriteString(row("Slot spans", formatNumber(uint64(sum.Partition.SlotSpans))) + "\n")
	b.WriteString(row("Committed", formatBytes(sum.Partition.CommittedBytes)) + "\n")
	b.WriteString(row("Allocated", formatBytes(sum.Partition.AllocatedBytes)) + "\n")
	b.WriteString(row("Quarantined frees", formatNumber(sum.Partition.QuarantinedFrees)) + "\n")
	b.WriteString(row("Immediate frees", formatNumber(sum.Partition.ImmediateFrees)) + "\n")
	b.WriteString(row("Reclaimed", formatBytes(sum.Reclaimed)) + "\n")

	if len(sum.Phases) > 0 {
		b.WriteString("\n" + headerStyle.Render("Phases") + "\n")
		b.WriteString(renderPhases(sum.Phases))
	}
	return boxStyle.Render(strings.TrimRight(b.String(), "\n"))
}

func renderPhases(phases []phaseSummary) string {
	cols := []string{"phase", "count", "mean", "p50", "p99", "max"}
	widths := []int{24, 8, 12, 12, 12, 12}

	cell := func(i int, s string) string {
		return lipgloss.NewStyle().Width(widths[i]).Render(s)
	}

	var b strings.Builder
	for i, c := range cols {
		b.WriteString(labelStyle.UnsetWidth().Render(cell(i, c)))
	}
	b.WriteString("\n")
	for _, p := range phases {
		b.WriteString(cell(0, p.TraceName))
		b.WriteString(cell(1, formatNumber(uint64(p.Count))))
		b.WriteString(cell(2, formatDuration(p.Mean)))
		b.WriteString(cell(3, formatDuration(p.P50)))
		b.WriteString(cell(4, formatDuration(p.P99)))
		b.WriteString(cell(5, formatDuration(p.Max)))
		b.WriteString("\n")
	}
	return b.String()
}

// survivalStyle flags high survival rates, which mean scans free little.
func survivalStyle(rate float64) lipgloss.Style {
	if rate > 0.5 {
		return warnStyle
	}
	return goodStyle
}
