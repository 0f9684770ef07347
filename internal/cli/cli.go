// Package cli drives a headless run: it wires the engine to a progress
// printer, renders the final summary, and hands the report to the export and
// history collaborators.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"pulse/internal/config"
	"pulse/internal/engine"
	"pulse/internal/report"
	"pulse/internal/safety"
	"pulse/internal/stats"
	"pulse/internal/storage"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true)
	labelStyle = lipgloss.NewStyle().Faint(true).Width(16)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	badStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	ruleStyle  = lipgloss.NewStyle().Faint(true)
)

// Options carries the presentation-layer knobs that sit outside TestConfig.
type Options struct {
	OutPrefix  string
	NoHistory  bool
	Thresholds safety.Thresholds
}

// Run executes one load test and blocks until it finishes. Ctrl-C requests a
// cooperative stop; in-flight probes drain on their own timeouts.
func Run(cfg config.TestConfig, opts Options, log *zap.Logger) error {
	printHeader(cfg)

	if opts.Thresholds == (safety.Thresholds{}) {
		opts.Thresholds = safety.DefaultThresholds()
	}

	e, err := engine.New(cfg, log,
		engine.WithThresholds(opts.Thresholds),
		engine.WithObserver(progressPrinter(cfg)),
	)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rep, err := e.Run(ctx)
	if err != nil {
		return err
	}
	fmt.Println()

	printSummary(rep)

	if opts.OutPrefix != "" {
		if err := report.ExportAll(rep, opts.OutPrefix); err != nil {
			log.Warn("exporting reports", zap.Error(err))
		} else {
			fmt.Printf("\nreports saved to %s.{csv,json} and %s_timeline.json\n", opts.OutPrefix, opts.OutPrefix)
		}
	}

	if !opts.NoHistory {
		saveHistory(rep, log)
	}

	return nil
}

func saveHistory(rep engine.Report, log *zap.Logger) {
	store, err := storage.Open("")
	if err != nil {
		log.Warn("opening history store", zap.Error(err))
		return
	}
	defer store.Close()

	item := storage.Summarize(rep)
	item.ID = uuid.New().String()
	if err := store.Save(item); err != nil {
		log.Warn("saving run history", zap.Error(err))
	}
}

func progressPrinter(cfg config.TestConfig) engine.Observer {
	return engine.ObserverFunc(func(s stats.Snapshot) {
		fmt.Printf("\r%s %3.0f%% | sent: %d | ok: %d | err: %d | rate: %.1f/s | avg: %s   ",
			progressBar(s.Progress/100, 20),
			s.Progress,
			s.RequestsSent,
			s.SuccessCount,
			s.ErrorCount,
			s.CurrentRate,
			s.AvgResponse.Round(time.Millisecond),
		)
	})
}

func progressBar(pct float64, width int) string {
	filled := int(pct * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	return "[" + strings.Repeat("█", filled) + strings.Repeat("-", width-filled) + "]"
}

func printHeader(cfg config.TestConfig) {
	rule := ruleStyle.Render(strings.Repeat("─", 60))
	fmt.Println(titleStyle.Render("PULSE LOAD TEST"))
	fmt.Println(rule)
	fmt.Println(labelStyle.Render("Target") + cfg.Target)
	fmt.Println(labelStyle.Render("Protocol") + string(cfg.Protocol))
	fmt.Println(labelStyle.Render("Port") + fmt.Sprintf("%d", cfg.Port))
	fmt.Println(labelStyle.Render("Rate") + fmt.Sprintf("%d req/s", cfg.Rate))
	fmt.Println(labelStyle.Render("Duration") + cfg.Duration.String())
	fmt.Println(rule)
	fmt.Println()
}

func printSummary(rep engine.Report) {
	s := rep.Stats
	rule := ruleStyle.Render(strings.Repeat("─", 60))

	fmt.Println()
	fmt.Println(titleStyle.Render("RESULTS (" + rep.State + ")"))
	fmt.Println(rule)
	fmt.Println(labelStyle.Render("Requests") + fmt.Sprintf("%d", s.RequestsSent))
	fmt.Println(labelStyle.Render("Success") + okStyle.Render(fmt.Sprintf("%d (%.1f%%)", s.SuccessCount, s.SuccessRate)))

	errLine := fmt.Sprintf("%d", s.ErrorCount)
	if s.ErrorCount > 0 {
		errLine = badStyle.Render(errLine)
	}
	fmt.Println(labelStyle.Render("Errors") + errLine)
	fmt.Println(labelStyle.Render("Actual rate") + fmt.Sprintf("%.2f req/s", s.CurrentRate))
	fmt.Println(labelStyle.Render("Avg response") + s.AvgResponse.Round(time.Millisecond).String())
	fmt.Println(labelStyle.Render("P50 / P90 / P99") + fmt.Sprintf("%.1fms / %.1fms / %.1fms", s.P50Ms, s.P90Ms, s.P99Ms))

	if len(s.StatusCodes) > 0 {
		fmt.Println(rule)
		fmt.Println(titleStyle.Render("STATUS CODES"))
		codes := make([]int, 0, len(s.StatusCodes))
		for code := range s.StatusCodes {
			codes = append(codes, code)
		}
		sort.Ints(codes)
		for _, code := range codes {
			count := s.StatusCodes[code]
			pct := float64(count) / float64(s.RequestsSent) * 100
			line := fmt.Sprintf("%d x %d (%.1f%%)", code, count, pct)
			if code >= 400 {
				line = badStyle.Render(line)
			}
			fmt.Println("  " + line)
		}
	}
	fmt.Println(rule)
}
