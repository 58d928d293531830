package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/seqforge/protrain/pkg/database"
	"github.com/seqforge/protrain/pkg/orchestrator"
)

var (
	trackStatus string
	trackAll    bool
)

var trackCmd = &cobra.Command{
	Use:   "track [experiment]",
	Short: "Query the training run history database",
	Long:  `Query the training run history database for a specific experiment or all experiments`,
	Run:   runTrack,
}

func init() {
	trackCmd.Flags().StringVar(&trackStatus, "status", "", "filter by status (running, completed, failed)")
	trackCmd.Flags().BoolVar(&trackAll, "all", false, "query all experiments")
	rootCmd.AddCommand(trackCmd)
}

func runTrack(cmd *cobra.Command, args []string) {
	if !trackAll && len(args) == 0 {
		color.Red("Error: either provide an experiment or use --all flag")
		cmd.Help()
		os.Exit(1)
	}

	if trackAll && len(args) > 0 {
		color.Red("Error: cannot use both experiment and --all flag together")
		cmd.Help()
		os.Exit(1)
	}

	orch, err := orchestrator.NewOrchestrator(configFile)
	if err != nil {
		color.Red("Failed to initialize orchestrator: %v", err)
		os.Exit(1)
	}

	db := orch.GetDB()
	if db == nil || !db.IsEnabled() {
		color.Red("Error: Database is not enabled. Please enable it in config.yaml")
		os.Exit(1)
	}

	if trackStatus != "" {
		trackStatus = strings.ToUpper(trackStatus)
	}

	var records []database.RunRecord

	if trackAll {
		records, err = db.QueryAllRuns(trackStatus)
		if err != nil {
			color.Red("Failed to query database: %v", err)
			os.Exit(1)
		}
	} else {
		records, err = db.QueryRuns(args[0], trackStatus)
		if err != nil {
			color.Red("Failed to query database: %v", err)
			os.Exit(1)
		}

		if len(records) == 0 {
			color.Yellow("[INF] No runs found for experiment %s.", args[0])
			os.Exit(0)
		}
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, color.CyanString("EXPERIMENT\tNAME\tDATASET\tTOKENS\tACCUM\tGPUS\tSTATUS\tEXIT\tSTARTED\tFINISHED"))
	fmt.Fprintln(w, strings.Repeat("-", 120))

	for _, r := range records {
		statusColor := color.GreenString
		if r.Status == database.StatusFailed {
			statusColor = color.RedString
		} else if r.Status == database.StatusRunning {
			statusColor = color.YellowString
		}

		exitCode := "-"
		if r.ExitCode.Valid {
			exitCode = fmt.Sprintf("%d", r.ExitCode.Int64)
		}

		finished := "-"
		if r.FinishedAt.Valid {
			finished = r.FinishedAt.Time.Format("2006-01-02 15:04:05")
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\t%s\t%s\t%s\t%s\n",
			r.Experiment,
			r.Name,
			r.Dataset,
			r.MaxTokens,
			r.AccumSteps,
			r.Devices,
			statusColor(r.Status),
			exitCode,
			r.StartedAt.Format("2006-01-02 15:04:05"),
			finished,
		)
	}
	w.Flush()

	color.Green("\nTotal records: %d", len(records))
}
