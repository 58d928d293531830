package trainer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seqforge/protrain/pkg/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Trainer: config.Trainer{
			Script: "train.py",
		},
		Launch: config.Launch{
			Experiment:            "dplm/dplm_650m",
			MaxTokens:             8192,
			AccumulateGradBatches: 16,
			Devices:               "0",
		},
	}
}

func TestBuildSpecDefaults(t *testing.T) {
	spec, err := BuildSpec(testConfig(), "", "", 0, 0, "", nil)
	require.NoError(t, err)

	exp, _ := spec.Overrides.Get(KeyExperiment)
	assert.Equal(t, "dplm/dplm_650m", exp)

	name, _ := spec.Overrides.Get(KeyName)
	assert.Equal(t, "dplm_650m", name)

	tokens, _ := spec.Overrides.Get(KeyMaxTokens)
	assert.Equal(t, "8192", tokens)

	accum, _ := spec.Overrides.Get(KeyAccumSteps)
	assert.Equal(t, "16", accum)

	assert.Equal(t, "0", spec.Devices)
}

func TestBuildSpecFlagOverrides(t *testing.T) {
	spec, err := BuildSpec(testConfig(), "dplm2/dplm2_150m", "pilot", 4096, 8, "0,1", nil)
	require.NoError(t, err)

	exp, _ := spec.Overrides.Get(KeyExperiment)
	assert.Equal(t, "dplm2/dplm2_150m", exp)

	name, _ := spec.Overrides.Get(KeyName)
	assert.Equal(t, "pilot", name)

	tokens, _ := spec.Overrides.Get(KeyMaxTokens)
	assert.Equal(t, "4096", tokens)

	accum, _ := spec.Overrides.Get(KeyAccumSteps)
	assert.Equal(t, "8", accum)

	assert.Equal(t, "0,1", spec.Devices)
}

func TestBuildSpecExtraOverrides(t *testing.T) {
	spec, err := BuildSpec(testConfig(), "", "", 0, 0, "",
		[]string{"trainer.max_epochs=10", "datamodule.num_workers=4"})
	require.NoError(t, err)

	epochs, ok := spec.Overrides.Get("trainer.max_epochs")
	assert.True(t, ok)
	assert.Equal(t, "10", epochs)

	workers, _ := spec.Overrides.Get("datamodule.num_workers")
	assert.Equal(t, "4", workers)
}

func TestBuildSpecRejectsMalformedOverride(t *testing.T) {
	_, err := BuildSpec(testConfig(), "", "", 0, 0, "", []string{"notakeyvalue"})
	assert.Error(t, err)

	_, err = BuildSpec(testConfig(), "", "", 0, 0, "", []string{"=value"})
	assert.Error(t, err)
}

func TestOverridesArgsDeterministic(t *testing.T) {
	o := NewOverrides()
	o.Set("name", "run1")
	o.Set("experiment", "dplm/dplm_650m")
	o.SetInt("datamodule.max_tokens", 8192)

	want := []string{
		"datamodule.max_tokens=8192",
		"experiment=dplm/dplm_650m",
		"name=run1",
	}

	for i := 0; i < 10; i++ {
		assert.Equal(t, want, o.Args())
	}
}

func TestOverridesParseKeepsValueVerbatim(t *testing.T) {
	o := NewOverrides()
	require.NoError(t, o.Parse("model.lr=1e-4"))
	require.NoError(t, o.Parse("tag=a=b"))

	lr, _ := o.Get("model.lr")
	assert.Equal(t, "1e-4", lr)

	// Only the first '=' splits.
	tag, _ := o.Get("tag")
	assert.Equal(t, "a=b", tag)
}

func TestSpecEnv(t *testing.T) {
	t.Setenv("HF_ENDPOINT", "")

	spec := &LaunchSpec{
		Devices:  "2",
		Endpoint: "https://hf-mirror.com",
	}

	env := spec.Env()
	assert.Contains(t, env, "CUDA_VISIBLE_DEVICES=2")
	assert.Contains(t, env, "HYDRA_FULL_ERROR=1")
	assert.Contains(t, env, "HF_ENDPOINT=https://hf-mirror.com")
}

func TestSpecEnvParentEndpointWins(t *testing.T) {
	t.Setenv("HF_ENDPOINT", "https://hf-mirror.com")

	spec := &LaunchSpec{
		Devices:  "0",
		Endpoint: "https://other-mirror.example",
	}

	env := spec.Env()
	assert.NotContains(t, env, "HF_ENDPOINT=https://other-mirror.example")
	assert.Contains(t, env, "HF_ENDPOINT=https://hf-mirror.com")
}

func TestSpecCommandLine(t *testing.T) {
	spec, err := BuildSpec(testConfig(), "", "", 0, 0, "", nil)
	require.NoError(t, err)

	line := spec.CommandLine()
	assert.True(t, strings.HasPrefix(line, "CUDA_VISIBLE_DEVICES=0 HYDRA_FULL_ERROR=1 "))
	assert.Contains(t, line, "train.py")
	assert.Contains(t, line, "experiment=dplm/dplm_650m")
	assert.Contains(t, line, "name=dplm_650m")
	assert.Contains(t, line, "datamodule.max_tokens=8192")
	assert.Contains(t, line, "trainer.accumulate_grad_batches=16")
}

func TestDefaultRunName(t *testing.T) {
	assert.Equal(t, "dplm_650m", defaultRunName("dplm/dplm_650m"))
	assert.Equal(t, "solo", defaultRunName("solo"))
	assert.Equal(t, "bit", defaultRunName("dplm2/nested/bit"))
}
