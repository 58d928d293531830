package cmd

import (
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/seqforge/protrain/pkg/orchestrator"
)

var forceDownload bool

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download the training dataset from the hub",
	Long:  `Download the training dataset from the HuggingFace Hub into the local cache without launching a run`,
	Run:   runDownload,
}

func init() {
	downloadCmd.Flags().StringVar(&datasetRepo, "dataset", "", "hub dataset repo id")
	downloadCmd.Flags().StringVar(&dataDir, "data-dir", "", "local dataset directory")
	downloadCmd.Flags().BoolVar(&forceDownload, "force", false, "re-download files even when cached")
	downloadCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose/debug output")
	rootCmd.AddCommand(downloadCmd)
}

func runDownload(cmd *cobra.Command, args []string) {
	Verbose = verbose

	if verbose {
		setDebugLogFunctions()
	}

	loadDotEnv()

	orch, err := orchestrator.NewOrchestrator(configFile)
	if err != nil {
		color.Red("Failed to initialize orchestrator: %v", err)
		os.Exit(1)
	}

	cfg := orch.GetConfig()
	if datasetRepo != "" {
		cfg.Dataset.Repo = datasetRepo
	}
	if dataDir != "" {
		cfg.Dataset.LocalDir = dataDir
	}

	dir, err := orch.EnsureDataset(forceDownload)
	if err != nil {
		color.Red("Download failed: %v", err)
		os.Exit(1)
	}

	color.Green("Dataset available at %s", dir)
}
