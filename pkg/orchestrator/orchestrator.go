package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/seqforge/protrain/pkg/config"
	"github.com/seqforge/protrain/pkg/database"
	"github.com/seqforge/protrain/pkg/elastic"
	"github.com/seqforge/protrain/pkg/hub"
	"github.com/seqforge/protrain/pkg/session"
	"github.com/seqforge/protrain/pkg/trainer"
)

var DebugLog func(string, ...interface{})

type Orchestrator struct {
	config        *config.Config
	configManager *config.Manager
	logger        *logrus.Logger
	db            *database.DB
}

type LaunchOptions struct {
	Experiment   string
	Name         string
	Dataset      string
	DataDir      string
	MaxTokens    int
	AccumSteps   int
	Devices      string
	Extra        []string
	SkipDownload bool
	ForceFetch   bool
	DryRun       bool
}

type LaunchResult struct {
	Experiment  string
	Name        string
	Dataset     string
	DatasetDir  string
	CommandLine string
	ExitCode    int
	StartTime   time.Time
	EndTime     time.Time
	Duration    time.Duration
	Success     bool
	DryRun      bool
}

type customFormatter struct{}

func (f *customFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var levelText string
	switch entry.Level {
	case logrus.InfoLevel:
		levelText = "[INF]"
	case logrus.WarnLevel:
		levelText = "[WARN]"
	case logrus.ErrorLevel:
		levelText = "[ERR]"
	case logrus.DebugLevel:
		levelText = "[DBG]"
	default:
		levelText = "[???]"
	}
	return []byte(fmt.Sprintf("%s %s\n", levelText, entry.Message)), nil
}

func NewOrchestrator(configPath string) (*Orchestrator, error) {
	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)
	logger.SetFormatter(&customFormatter{})

	configManager := config.NewManager(configPath)
	if err := configManager.LoadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	cfg := configManager.GetConfig()

	db, err := database.New(&cfg.Database)
	if err != nil {
		logger.Warnf("Database initialization failed: %v", err)
	}

	return &Orchestrator{
		config:        cfg,
		configManager: configManager,
		logger:        logger,
		db:            db,
	}, nil
}

func (o *Orchestrator) GetConfig() *config.Config {
	return o.config
}

func (o *Orchestrator) GetDB() *database.DB {
	return o.db
}

// RunLaunch performs the two-step launch flow: make sure the dataset is on
// disk, then hand control to the external training process. Either step
// failing fails the run; there is no retry.
func (o *Orchestrator) RunLaunch(options LaunchOptions) (*LaunchResult, error) {
	startTime := time.Now()

	o.applyOverridesToConfig(&options)

	result := &LaunchResult{
		Experiment: o.experimentFor(options),
		Dataset:    o.config.Dataset.Repo,
		StartTime:  startTime,
		DryRun:     options.DryRun,
	}

	spec, err := trainer.BuildSpec(o.config, options.Experiment, options.Name,
		options.MaxTokens, options.AccumSteps, options.Devices, options.Extra)
	if err != nil {
		return nil, err
	}

	name, _ := spec.Overrides.Get(trainer.KeyName)
	result.Name = name
	result.CommandLine = spec.CommandLine()

	if options.DryRun {
		fmt.Println(result.CommandLine)
		result.Success = true
		return result, nil
	}

	if !options.SkipDownload {
		dir, err := o.EnsureDataset(options.ForceFetch)
		if err != nil {
			return nil, fmt.Errorf("dataset download failed: %w", err)
		}
		result.DatasetDir = dir
	} else if DebugLog != nil {
		DebugLog("skipping dataset download")
	}

	maxTokens, _ := spec.Overrides.Get(trainer.KeyMaxTokens)
	accumSteps, _ := spec.Overrides.Get(trainer.KeyAccumSteps)
	o.logger.Infof("Launching %s (name=%s, max_tokens=%s, accum=%s, devices=%s)",
		result.Experiment, result.Name, maxTokens, accumSteps, spec.Devices)

	runID, err := o.db.StartRun(result.Experiment, result.Name, result.Dataset,
		atoiOr(maxTokens, o.config.Launch.MaxTokens),
		atoiOr(accumSteps, o.config.Launch.AccumulateGradBatches),
		spec.Devices)
	if err != nil {
		o.logger.Warnf("Failed to record run in database: %v", err)
	}

	exitCode, runErr := trainer.Run(context.Background(), spec)
	result.ExitCode = exitCode

	if err := o.db.FinishRun(runID, exitCode); err != nil {
		o.logger.Warnf("Failed to record run outcome in database: %v", err)
	}

	endTime := time.Now()
	result.EndTime = endTime
	result.Duration = endTime.Sub(startTime)
	result.Success = runErr == nil

	if runErr == nil {
		o.indexMetrics()
	}

	if runErr != nil {
		return result, runErr
	}
	return result, nil
}

// EnsureDataset downloads the configured dataset repo into the local cache
// and returns the directory the trainer will consume.
func (o *Orchestrator) EnsureDataset(force bool) (string, error) {
	sess, err := session.New(o.config)
	if err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}

	downloader := hub.NewDownloader(sess)

	o.logger.Infof("Fetching dataset %s from %s", o.config.Dataset.Repo, downloader.Endpoint())

	ctx, cancel := context.WithTimeout(context.Background(),
		time.Duration(o.config.DefaultSettings.Timeout)*time.Minute)
	defer cancel()

	dl, err := downloader.DownloadDataset(ctx, o.config.Dataset.Repo, o.config.Dataset.Revision, force)
	if err != nil {
		return "", err
	}

	if dl.Downloaded > 0 {
		o.logger.Infof("Dataset ready at %s (%d files downloaded, %d cached)", dl.Dir, dl.Downloaded, dl.Skipped)
	} else {
		o.logger.Infof("Dataset cached at %s (%d files)", dl.Dir, dl.Skipped)
	}

	return dl.Dir, nil
}

// indexMetrics ships the trainer's metrics JSONL to Elasticsearch when
// configured. Best effort: a missing file or indexing error never fails the
// run itself.
func (o *Orchestrator) indexMetrics() {
	if !o.config.Elastic.Enabled {
		return
	}

	metricsPath := o.config.Trainer.MetricsLog
	if !filepath.IsAbs(metricsPath) && o.config.Trainer.WorkingDir != "" {
		metricsPath = filepath.Join(o.config.Trainer.WorkingDir, metricsPath)
	}

	if _, err := os.Stat(metricsPath); err != nil {
		if DebugLog != nil {
			DebugLog("no metrics file at %s, skipping indexing", metricsPath)
		}
		return
	}

	client, err := elastic.New(elastic.Config{
		URL:      o.config.Elastic.URL,
		Username: o.config.Elastic.Username,
		Password: o.config.Elastic.Password,
		Index:    o.config.Elastic.Index,
	})
	if err != nil {
		o.logger.Warnf("Elasticsearch connection failed: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(),
		time.Duration(o.config.DefaultSettings.Timeout)*time.Minute)
	defer cancel()

	if err := client.IndexMetricsFile(ctx, metricsPath); err != nil {
		o.logger.Warnf("Failed to index metrics: %v", err)
		return
	}

	o.logger.Infof("Indexed metrics from %s", metricsPath)
}

func (o *Orchestrator) applyOverridesToConfig(options *LaunchOptions) {
	if options.Dataset != "" {
		o.config.Dataset.Repo = options.Dataset
	}
	if options.DataDir != "" {
		o.config.Dataset.LocalDir = options.DataDir
	}
}

func (o *Orchestrator) experimentFor(options LaunchOptions) string {
	if options.Experiment != "" {
		return options.Experiment
	}
	return o.config.Launch.Experiment
}

func atoiOr(s string, fallback int) int {
	var v int
	if _, err := fmt.Sscanf(s, "%d", &v); err != nil {
		return fallback
	}
	return v
}
