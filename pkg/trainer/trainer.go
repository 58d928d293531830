package trainer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/seqforge/protrain/pkg/config"
)

var DebugLog func(string, ...interface{})

// Hydra override keys the launcher fills from its own flags. Anything else
// arrives via --set and is passed through untouched.
const (
	KeyExperiment = "experiment"
	KeyName       = "name"
	KeyMaxTokens  = "datamodule.max_tokens"
	KeyAccumSteps = "trainer.accumulate_grad_batches"
)

// LaunchSpec is everything needed to start one training process.
type LaunchSpec struct {
	Python     string
	Script     string
	WorkingDir string
	Devices    string
	Endpoint   string
	Overrides  *Overrides
}

func getPythonPath(preferred string) (string, error) {
	if preferred != "" {
		if path, err := exec.LookPath(preferred); err == nil {
			return path, nil
		}
		if _, err := os.Stat(preferred); err == nil {
			return preferred, nil
		}
		return "", fmt.Errorf("configured python %q not found", preferred)
	}

	for _, candidate := range []string{"python3", "python"} {
		if path, err := exec.LookPath(candidate); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("python not found in PATH")
}

// BuildSpec assembles a LaunchSpec from the loaded config plus per-run
// values. experiment and name map to Hydra's experiment= and name= overrides;
// maxTokens and accumSteps size the effective batch per device.
func BuildSpec(cfg *config.Config, experiment, name string, maxTokens, accumSteps int, devices string, extra []string) (*LaunchSpec, error) {
	overrides := NewOverrides()

	if experiment == "" {
		experiment = cfg.Launch.Experiment
	}
	if name == "" {
		name = defaultRunName(experiment)
	}
	if maxTokens == 0 {
		maxTokens = cfg.Launch.MaxTokens
	}
	if accumSteps == 0 {
		accumSteps = cfg.Launch.AccumulateGradBatches
	}
	if devices == "" {
		devices = cfg.Launch.Devices
	}

	overrides.Set(KeyExperiment, experiment)
	overrides.Set(KeyName, name)
	overrides.SetInt(KeyMaxTokens, maxTokens)
	overrides.SetInt(KeyAccumSteps, accumSteps)

	for _, raw := range extra {
		if err := overrides.Parse(raw); err != nil {
			return nil, err
		}
	}

	return &LaunchSpec{
		Python:     cfg.Trainer.Python,
		Script:     cfg.Trainer.Script,
		WorkingDir: cfg.Trainer.WorkingDir,
		Devices:    devices,
		Endpoint:   cfg.Hub.Endpoint,
		Overrides:  overrides,
	}, nil
}

// defaultRunName derives a run name from the experiment identifier, e.g.
// "dplm/dplm_650m" -> "dplm_650m".
func defaultRunName(experiment string) string {
	if idx := strings.LastIndex(experiment, "/"); idx >= 0 {
		return experiment[idx+1:]
	}
	return experiment
}

// Env returns the child process environment: the parent env plus the GPU
// visibility selector, Hydra's full error reporting toggle, and the hub
// mirror endpoint when one is configured.
func (s *LaunchSpec) Env() []string {
	env := os.Environ()

	env = append(env, "CUDA_VISIBLE_DEVICES="+s.Devices)
	env = append(env, "HYDRA_FULL_ERROR=1")

	// HF_ENDPOINT from the parent env wins; otherwise forward the
	// configured mirror so the trainer's own hub calls use it too.
	if os.Getenv("HF_ENDPOINT") == "" && s.Endpoint != "" {
		env = append(env, "HF_ENDPOINT="+s.Endpoint)
	}

	return env
}

func (s *LaunchSpec) Args() []string {
	return append([]string{s.Script}, s.Overrides.Args()...)
}

// CommandLine renders the full invocation for --dry-run output and debug
// logging.
func (s *LaunchSpec) CommandLine() string {
	python := s.Python
	if python == "" {
		python = "python3"
	}

	parts := []string{
		"CUDA_VISIBLE_DEVICES=" + s.Devices,
		"HYDRA_FULL_ERROR=1",
	}
	parts = append(parts, python)
	parts = append(parts, s.Args()...)
	return strings.Join(parts, " ")
}

// Run executes the training process, wiring its stdout/stderr to ours.
// Success or failure is whatever the trainer returns; the exit code comes
// back alongside the error so callers can record it.
func Run(ctx context.Context, spec *LaunchSpec) (int, error) {
	pythonPath, err := getPythonPath(spec.Python)
	if err != nil {
		return -1, fmt.Errorf("trainer executable not found: %w", err)
	}

	absScript := spec.Script
	if spec.WorkingDir == "" {
		if absScript, err = filepath.Abs(spec.Script); err != nil {
			return -1, fmt.Errorf("failed to get absolute path for training script: %w", err)
		}
	}

	args := append([]string{}, spec.Overrides.Args()...)

	if DebugLog != nil {
		DebugLog("executing: %s %s %s", pythonPath, absScript, strings.Join(args, " "))
	}

	cmd := exec.CommandContext(ctx, pythonPath, append([]string{absScript}, args...)...)
	cmd.Dir = spec.WorkingDir
	cmd.Env = spec.Env()
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), fmt.Errorf("training process exited with code %d", exitErr.ExitCode())
		}
		return -1, fmt.Errorf("training process failed: %w", err)
	}

	return 0, nil
}
