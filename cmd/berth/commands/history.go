package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/openberth/berth/pkg/config"
	"github.com/openberth/berth/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	var (
		limit       int
		journalPath string
	)

	cmd := &cobra.Command{
		Use:   "history [run_id]",
		Short: "Show past deployment runs from the journal",
		Long: `List past runs recorded in the local journal, newest first. With a
run ID, show that run's per-unit outcomes and stage transitions.`,
		Example: `  # List recent runs
  berth history

  # Show one run in detail
  berth history 2f1a0c3e-...`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			path := cfg.Journal.Path
			if journalPath != "" {
				path = journalPath
			}

			store, err := stores.NewSQLiteStore(path)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if err := store.Init(ctx); err != nil {
				return fmt.Errorf("failed to open journal: %w", err)
			}
			defer func() { _ = store.Close() }()
			if err := store.Migrate(ctx); err != nil {
				return fmt.Errorf("failed to migrate journal: %w", err)
			}

			if len(args) == 1 {
				return showRun(cmd, store, args[0])
			}
			return listRuns(cmd, store, limit)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to list")
	cmd.Flags().StringVar(&journalPath, "journal", "", "journal database path (defaults to the configured one)")

	return cmd
}

func listRuns(cmd *cobra.Command, store stores.Store, limit int) error {
	runs, err := store.ListRuns(cmd.Context(), limit, 0)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded.")
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"RUN", "HOST", "TYPE", "STATUS", "STARTED", "DURATION"})
	for _, run := range runs {
		duration := ""
		if run.CompletedAt != nil {
			duration = run.CompletedAt.Sub(run.StartedAt).Round(time.Second).String()
		}
		t.AppendRow(table.Row{
			run.ID,
			fmt.Sprintf("%s:%d", run.HostIP, run.HostPort),
			run.HostType,
			string(run.Status),
			run.StartedAt.Format("2006-01-02 15:04:05"),
			duration,
		})
	}
	t.Render()
	return nil
}

func showRun(cmd *cobra.Command, store stores.Store, runID string) error {
	ctx := cmd.Context()
	run, err := store.GetRun(ctx, runID)
	if err != nil {
		return err
	}

	fmt.Printf("Run %s on %s:%d (%s), started %s, status %s\n",
		run.ID, run.HostIP, run.HostPort, run.HostType,
		run.StartedAt.Format("2006-01-02 15:04:05"), run.Status)
	if run.Error != nil {
		fmt.Printf("Error: %s\n", *run.Error)
	}

	outcomes, err := store.ListOutcomesByRun(ctx, runID)
	if err != nil {
		return err
	}
	if len(outcomes) > 0 {
		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.SetStyle(table.StyleLight)
		t.AppendHeader(table.Row{"KIND", "IDENTITY", "STATUS", "STAGE", "FINAL STATE", "DURATION"})
		for _, o := range outcomes {
			t.AppendRow(table.Row{
				o.Kind, o.Identity, o.Status, o.Stage, o.FinalState,
				(time.Duration(o.DurationMS) * time.Millisecond).String(),
			})
		}
		t.Render()
	}

	events, err := store.ListStageEventsByRun(ctx, runID)
	if err != nil {
		return err
	}
	if len(events) > 0 {
		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.SetStyle(table.StyleLight)
		t.AppendHeader(table.Row{"TIME", "IDENTITY", "STAGE", "STATUS", "MESSAGE"})
		for _, e := range events {
			message := e.Message
			if runes := []rune(message); len(runes) > 60 {
				message = string(runes[:57]) + "..."
			}
			t.AppendRow(table.Row{
				e.Timestamp.Format("15:04:05"),
				e.Identity, e.Stage, e.Status, message,
			})
		}
		t.Render()
	}
	return nil
}
