package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/seqforge/protrain/pkg/config"
	"github.com/seqforge/protrain/pkg/database"
	"github.com/seqforge/protrain/pkg/hub"
	"github.com/seqforge/protrain/pkg/orchestrator"
	"github.com/seqforge/protrain/pkg/session"
	"github.com/seqforge/protrain/pkg/trainer"
)

var (
	configFile   string
	experiment   string
	runName      string
	datasetRepo  string
	dataDir      string
	maxTokens    int
	accumSteps   int
	devices      string
	extraSet     []string
	skipDownload bool
	dryRun       bool
	silent       bool
	verbose      bool
)

var Verbose bool

var rootCmd = &cobra.Command{
	Use:   "protrain",
	Short: "launcher for protein language model training runs",
	Long:  `dataset download + training launch glue for protein sequence/structure language models`,
	Run:   runLaunch,
}

func Execute() {
	hasSilentFlag := false
	for i, arg := range os.Args {
		if arg == "-silent" {
			os.Args[i] = "--silent"
			hasSilentFlag = true
		}
		if arg == "-experiment" {
			os.Args[i] = "--experiment"
		}
		if arg == "-max-tokens" {
			os.Args[i] = "--max-tokens"
		}
		if arg == "-accum" {
			os.Args[i] = "--accum"
		}
		if arg == "-gpus" {
			os.Args[i] = "--gpus"
		}
	}

	if !hasSilentFlag {
		printBanner()
	}

	if err := rootCmd.Execute(); err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

func DebugLog(format string, args ...interface{}) {
	if Verbose {
		fmt.Printf("[DBG] "+format+"\n", args...)
	}
}

func setDebugLogFunctions() {
	config.DebugLog = DebugLog
	orchestrator.DebugLog = DebugLog
	session.DebugLog = DebugLog
	database.DebugLog = DebugLog
	hub.DebugLog = DebugLog
	trainer.DebugLog = DebugLog
}

// loadDotEnv makes HF_TOKEN / HF_ENDPOINT settable from a local .env file.
// A missing file is fine.
func loadDotEnv() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		DebugLog("failed to load .env: %v", err)
	}
}

func init() {
	rootCmd.SetHelpTemplate(`Usage:
  {{.UseLine}}{{if .HasAvailableSubCommands}}
  {{.CommandPath}} [command]{{end}}

{{if .HasAvailableSubCommands}}Commands:{{range .Commands}}{{if (or .IsAvailableCommand (eq .Name "help"))}}
  {{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}

{{end}}Flags:
RUN:
   -e, -experiment string  experiment config to train (default: dplm/dplm_650m)
   -n, -name string        run name (default: derived from experiment)
   --set key=value         extra override passed to the trainer (repeatable)

DATASET:
   --dataset string        hub dataset repo id (default: airkingbd/uniref50)
   --data-dir string       local dataset directory
   --skip-download         assume the dataset is already on disk

RESOURCES:
   --gpus string           CUDA_VISIBLE_DEVICES value (default: 0)
   --max-tokens int        token budget per batch step (default: 8192)
   --accum int             gradient accumulation steps (default: 16)

OUTPUT:
   --dry-run               print the training command line and exit
   -silent                 silent mode - no banner or extra output

CONFIGURATION:
   -c, -config string      config file path (default: config/config.yaml)

OPTIMIZATION:
   -v, -verbose            enable verbose/debug output
{{if .HasAvailableSubCommands}}
Use "{{.CommandPath}} [command] --help" for more information about a command.{{end}}
`)

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (default: config/config.yaml)")

	rootCmd.Flags().StringVarP(&experiment, "experiment", "e", "", "experiment config to train")
	rootCmd.Flags().StringVarP(&runName, "name", "n", "", "run name (default: derived from experiment)")
	rootCmd.Flags().StringVar(&datasetRepo, "dataset", "", "hub dataset repo id")
	rootCmd.Flags().StringVar(&dataDir, "data-dir", "", "local dataset directory")
	rootCmd.Flags().IntVar(&maxTokens, "max-tokens", 0, "token budget per batch step")
	rootCmd.Flags().IntVar(&accumSteps, "accum", 0, "gradient accumulation steps")
	rootCmd.Flags().StringVar(&devices, "gpus", "", "CUDA_VISIBLE_DEVICES value")
	rootCmd.Flags().StringArrayVar(&extraSet, "set", nil, "extra key=value override passed to the trainer")
	rootCmd.Flags().BoolVar(&skipDownload, "skip-download", false, "assume the dataset is already on disk")
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the training command line and exit")
	rootCmd.Flags().BoolVar(&silent, "silent", false, "silent mode - no banner or extra output")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose/debug output")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(updateCmd)
}

func runLaunch(cmd *cobra.Command, args []string) {
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

	options := orchestrator.LaunchOptions{
		Experiment:   experiment,
		Name:         runName,
		Dataset:      datasetRepo,
		DataDir:      dataDir,
		MaxTokens:    maxTokens,
		AccumSteps:   accumSteps,
		Devices:      devices,
		Extra:        extraSet,
		SkipDownload: skipDownload,
		DryRun:       dryRun,
	}

	result, err := orch.RunLaunch(options)
	if err != nil {
		color.Red("Launch failed: %v", err)
		os.Exit(1)
	}

	if !result.DryRun && !silent {
		color.Green("\nTraining run %s/%s finished in %v", result.Experiment, result.Name, result.Duration)
	}
}

func printBanner() {
	banner := color.CyanString(`
┌─┐┬─┐┌─┐┌┬┐┬─┐┌─┐┬┌┐┌
├─┘├┬┘│ │ │ ├┬┘├─┤││││
┴  ┴└─└─┘ ┴ ┴└─┴ ┴┴┘└┘
`)
	info := color.HiBlackString("dataset download + training launch glue for protein language models")
	fmt.Println(banner)
	fmt.Println(info)
	fmt.Println()
}
