package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

var DebugLog func(string, ...interface{})

type Config struct {
	Hub             Hub             `yaml:"hub"`
	Dataset         Dataset         `yaml:"dataset"`
	Trainer         Trainer         `yaml:"trainer"`
	Launch          Launch          `yaml:"launch"`
	Database        Database        `yaml:"database"`
	Elastic         Elastic         `yaml:"elastic"`
	DefaultSettings DefaultSettings `yaml:"default_settings"`
}

type Hub struct {
	Endpoint string `yaml:"endpoint"`
	Token    string `yaml:"token"`
}

type Dataset struct {
	Repo     string `yaml:"repo"`
	Revision string `yaml:"revision"`
	LocalDir string `yaml:"local_dir"`
}

type Trainer struct {
	Python     string `yaml:"python"`
	Script     string `yaml:"script"`
	WorkingDir string `yaml:"working_dir"`
	MetricsLog string `yaml:"metrics_log"`
}

type Launch struct {
	Experiment            string `yaml:"experiment"`
	MaxTokens             int    `yaml:"max_tokens"`
	AccumulateGradBatches int    `yaml:"accumulate_grad_batches"`
	Devices               string `yaml:"devices"`
}

type Database struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

type Elastic struct {
	Enabled  bool   `yaml:"enabled"`
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Index    string `yaml:"index"`
}

type DefaultSettings struct {
	Timeout int `yaml:"timeout"`
}

const (
	DefaultDatasetRepo = "airkingbd/uniref50"
	DefaultExperiment  = "dplm/dplm_650m"
	DefaultMaxTokens   = 8192
	DefaultAccumSteps  = 16
	DefaultDevices     = "0"
)

type Manager struct {
	config     *Config
	configPath string
}

func NewManager(configPath string) *Manager {
	return &Manager{
		configPath: configPath,
	}
}

func (m *Manager) LoadConfig() error {
	if m.configPath == "" {
		m.configPath = m.findConfigFile()
	}

	if DebugLog != nil {
		DebugLog("loading config from %s", m.configPath)
	}

	config := &Config{}

	if _, err := os.Stat(m.configPath); err == nil {
		data, err := os.ReadFile(m.configPath)
		if err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if DebugLog != nil {
		DebugLog("no config file at %s, using defaults", m.configPath)
	}

	applyDefaults(config)

	if err := m.validateConfig(config); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	m.config = config
	return nil
}

func (m *Manager) GetConfig() *Config {
	return m.config
}

// applyDefaults fills fields a partial (or absent) config file left empty.
func applyDefaults(config *Config) {
	if config.Dataset.Repo == "" {
		config.Dataset.Repo = DefaultDatasetRepo
	}
	if config.Dataset.Revision == "" {
		config.Dataset.Revision = "main"
	}
	if config.Dataset.LocalDir == "" {
		config.Dataset.LocalDir = GetDatasetCacheDir()
	}
	if config.Trainer.Script == "" {
		config.Trainer.Script = "train.py"
	}
	if config.Trainer.MetricsLog == "" {
		config.Trainer.MetricsLog = "metrics.jsonl"
	}
	if config.Launch.Experiment == "" {
		config.Launch.Experiment = DefaultExperiment
	}
	if config.Launch.MaxTokens == 0 {
		config.Launch.MaxTokens = DefaultMaxTokens
	}
	if config.Launch.AccumulateGradBatches == 0 {
		config.Launch.AccumulateGradBatches = DefaultAccumSteps
	}
	if config.Launch.Devices == "" {
		config.Launch.Devices = DefaultDevices
	}
	if config.Database.Host == "" {
		config.Database.Host = "localhost"
	}
	if config.Database.Port == 0 {
		config.Database.Port = 5432
	}
	if config.DefaultSettings.Timeout == 0 {
		config.DefaultSettings.Timeout = 10
	}
	if config.Hub.Token == "" {
		config.Hub.Token = os.Getenv("HF_TOKEN")
	}
}

func (m *Manager) findConfigFile() string {
	if _, err := os.Stat("config.yaml"); err == nil {
		return "config.yaml"
	}

	if _, err := os.Stat("config/config.yaml"); err == nil {
		return "config/config.yaml"
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		configPath := filepath.Join(homeDir, ".protrain", "config.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
	}

	return GetDefaultConfigPath()
}

func (m *Manager) validateConfig(config *Config) error {
	if config.DefaultSettings.Timeout <= 0 {
		return fmt.Errorf("timeout must be greater than 0")
	}

	if config.Launch.MaxTokens <= 0 {
		return fmt.Errorf("max_tokens must be greater than 0")
	}

	if config.Launch.AccumulateGradBatches <= 0 {
		return fmt.Errorf("accumulate_grad_batches must be greater than 0")
	}

	return nil
}
