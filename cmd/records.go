package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/openhearth/hearth/internal/config"
	"github.com/openhearth/hearth/internal/store"
)

func recordsCmd() *cobra.Command {
	var (
		sessionKey string
		limit      int
		showStats  bool
	)

	cmd := &cobra.Command{
		Use:   "records",
		Short: "Inspect run history and tool-call records",
		Run: func(cmd *cobra.Command, args []string) {
			runRecords(sessionKey, limit, showStats)
		},
	}

	cmd.Flags().StringVarP(&sessionKey, "session", "s", "", "session key to list runs for")
	cmd.Flags().IntVarP(&limit, "limit", "l", 10, "max runs to show")
	cmd.Flags().BoolVar(&showStats, "stats", false, "show per-tool aggregates instead of runs")

	return cmd
}

func runRecords(sessionKey string, limit int, showStats bool) {
	cfg := config.LoadOrDefault(cfgPath)

	history, err := store.NewHistory(cfg.HistoryPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening history: %v\n", err)
		os.Exit(1)
	}
	defer history.Close()

	if showStats {
		stats, err := history.Stats()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if len(stats) == 0 {
			fmt.Println("No tool calls recorded yet.")
			return
		}
		fmt.Printf("%-20s %8s %8s %8s %10s\n", "TOOL", "CALLS", "OK", "TIMEOUT", "AVG MS")
		for _, s := range stats {
			fmt.Printf("%-20s %8d %8d %8d %10.1f\n", s.Name, s.Calls, s.Successes, s.Timeouts, s.AvgTimeMs)
		}
		return
	}

	if sessionKey == "" {
		fmt.Fprintln(os.Stderr, "A session key is required (use --session, or --stats for aggregates).")
		os.Exit(1)
	}

	runs, err := history.RunsForSession(sessionKey, limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if len(runs) == 0 {
		fmt.Println("No runs for this session.")
		return
	}

	for _, run := range runs {
		flag := ""
		if run.HitLimit {
			flag = " [hit iteration limit]"
		}
		fmt.Printf("%s  %s  (%d iterations)%s\n", run.CreatedAt.Format("2006-01-02 15:04:05"), run.ID, run.Iterations, flag)
		fmt.Printf("  > %s\n", run.Message)
		fmt.Printf("  < %s\n", run.Content)

		records, err := history.RecordsForRun(run.ID)
		if err != nil {
			continue
		}
		for _, rec := range records {
			status := "ok"
			if !rec.Success {
				status = "failed"
			}
			if rec.TimedOut {
				status = "timed out"
			}
			fmt.Printf("    [%s] %s %dms %s\n", status, rec.Name, rec.ExecutionTimeMs, rec.ArgumentsSummary)
		}
		fmt.Println()
	}
}
