package orchestrator

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	t.Setenv("HF_TOKEN", "")

	orch, err := NewOrchestrator(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	return orch
}

func TestRunLaunchDryRun(t *testing.T) {
	orch := newTestOrchestrator(t)

	result, err := orch.RunLaunch(LaunchOptions{
		Experiment: "dplm2/dplm2_650m",
		MaxTokens:  4096,
		AccumSteps: 8,
		Devices:    "0,1",
		DryRun:     true,
	})
	require.NoError(t, err)

	assert.True(t, result.DryRun)
	assert.True(t, result.Success)
	assert.Equal(t, "dplm2/dplm2_650m", result.Experiment)
	assert.Equal(t, "dplm2_650m", result.Name)
	assert.Contains(t, result.CommandLine, "CUDA_VISIBLE_DEVICES=0,1")
	assert.Contains(t, result.CommandLine, "experiment=dplm2/dplm2_650m")
	assert.Contains(t, result.CommandLine, "datamodule.max_tokens=4096")
	assert.Contains(t, result.CommandLine, "trainer.accumulate_grad_batches=8")
	// Dry run never touches the dataset cache.
	assert.Empty(t, result.DatasetDir)
}

func TestRunLaunchDryRunUsesConfigDefaults(t *testing.T) {
	orch := newTestOrchestrator(t)

	result, err := orch.RunLaunch(LaunchOptions{DryRun: true})
	require.NoError(t, err)

	assert.Equal(t, "dplm/dplm_650m", result.Experiment)
	assert.Equal(t, "dplm_650m", result.Name)
	assert.Equal(t, "airkingbd/uniref50", result.Dataset)
	assert.Contains(t, result.CommandLine, "datamodule.max_tokens=8192")
	assert.Contains(t, result.CommandLine, "trainer.accumulate_grad_batches=16")
}

func TestRunLaunchDatasetOverrides(t *testing.T) {
	orch := newTestOrchestrator(t)

	dataDir := t.TempDir()
	result, err := orch.RunLaunch(LaunchOptions{
		Dataset: "airkingbd/swissprot",
		DataDir: dataDir,
		DryRun:  true,
	})
	require.NoError(t, err)

	assert.Equal(t, "airkingbd/swissprot", result.Dataset)
	assert.Equal(t, "airkingbd/swissprot", orch.GetConfig().Dataset.Repo)
	assert.Equal(t, dataDir, orch.GetConfig().Dataset.LocalDir)
}

func TestRunLaunchRejectsBadOverride(t *testing.T) {
	orch := newTestOrchestrator(t)

	_, err := orch.RunLaunch(LaunchOptions{
		Extra:  []string{"garbage"},
		DryRun: true,
	})
	assert.Error(t, err)
}
