package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ollama/flowsample/types/errtypes"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sample.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Errorf("Load(\"\") weicht von Default ab (-want +got):\n%s", diff)
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, `
transport:
  path_type: GVP
  prediction: score
ode:
  atol: 1.0e-5
  likelihood: true
infer:
  resolution: "(Extrapolation) 1664x1664"
  num_sampling_steps: 30
  cfg_scale: 1
  solver: dopri5
  seed: 42
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	want := Default()
	want.Transport.PathType = "GVP"
	want.Transport.Prediction = "score"
	want.ODE.Atol = 1e-5
	want.ODE.Likelihood = true
	want.Infer.Resolution = "(Extrapolation) 1664x1664"
	want.Infer.NumSamplingSteps = 30
	want.Infer.CFGScale = 1
	want.Infer.Solver = "dopri5"
	want.Infer.Seed = 42
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("Konfiguration weicht ab (-want +got):\n%s", diff)
	}
	assert.False(t, cfg.SDE.Enabled)
}

func TestSDESectionEnables(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want bool
	}{
		{"ohne Abschnitt", "infer:\n  seed: 1\n", false},
		{"mit Abschnitt", "sde:\n  method: Heun\n", true},
		{"explizit aus", "sde:\n  enabled: false\n  method: Heun\n", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, tt.yaml))
			require.NoError(t, err)
			assert.Equal(t, tt.want, cfg.SDE.Enabled)
		})
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := writeConfig(t, `
transport:
  path_type: Cosine
sde:
  method: Milstein
infer:
  solver: rk4
  resolution: banana
  precision: int8
`)
	_, err := Load(path)
	require.ErrorIs(t, err, errtypes.ErrConfig)
	for _, f := range []string{"transport.path_type", "sde.method", "infer.solver", "infer.resolution", "infer.precision"} {
		assert.Contains(t, err.Error(), f)
	}

	// Read validiert nicht, damit CLI-Flags noch korrigieren koennen
	_, err = Read(path)
	assert.NoError(t, err)
}

func TestUnknownField(t *testing.T) {
	_, err := Load(writeConfig(t, "infer:\n  steps: 10\n"))
	assert.Error(t, err)
}

func TestMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "fehlt.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestEnvOverlay(t *testing.T) {
	t.Setenv("FLOWSAMPLE_INFER_CFG_SCALE", "7.5")
	t.Setenv("FLOWSAMPLE_INFER_T_SHIFT", "6")
	t.Setenv("FLOWSAMPLE_INFER_NUM_SAMPLING_STEPS", "12")
	t.Setenv("FLOWSAMPLE_TRANSPORT_PATH_TYPE", "VP")
	t.Setenv("FLOWSAMPLE_SDE_LAST_STEP", "Tweedie")
	t.Setenv("FLOWSAMPLE_ODE_LIKELIHOOD", "true")

	cfg, err := Load(writeConfig(t, "infer:\n  cfg_scale: 2\n"))
	require.NoError(t, err)
	assert.Equal(t, 7.5, cfg.Infer.CFGScale)
	assert.Equal(t, 6, cfg.Infer.TShift)
	assert.Equal(t, 12, cfg.Infer.NumSamplingSteps)
	assert.Equal(t, "VP", cfg.Transport.PathType)
	assert.Equal(t, "Tweedie", cfg.SDE.LastStep)
	assert.True(t, cfg.ODE.Likelihood)
}

func TestEnvParseError(t *testing.T) {
	t.Setenv("FLOWSAMPLE_INFER_SEED", "minus eins")
	_, err := Load("")
	var cfgErr *errtypes.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "env", cfgErr.Section)
	assert.Equal(t, "FLOWSAMPLE_INFER_SEED", cfgErr.Field)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		edit   func(*Config)
		fields []string
	}{
		{"sample_eps", func(c *Config) { c.Transport.SampleEps = 1 }, []string{"transport.sample_eps"}},
		{"train_eps", func(c *Config) { c.Transport.TrainEps = -0.1 }, []string{"transport.train_eps"}},
		{"Toleranzen", func(c *Config) { c.ODE.Atol, c.ODE.Rtol = 0, -1 }, []string{"ode.atol", "ode.rtol"}},
		{"Schritte null", func(c *Config) { c.Infer.NumSamplingSteps = 0 }, []string{"infer.num_sampling_steps"}},
		{"Schritte zu viele", func(c *Config) { c.Infer.NumSamplingSteps = 1001 }, []string{"infer.num_sampling_steps"}},
		{"cfg_scale", func(c *Config) { c.Infer.CFGScale = 0.5 }, []string{"infer.cfg_scale"}},
		{"t_shift", func(c *Config) { c.Infer.TShift = 21 }, []string{"infer.t_shift"}},
		{"batch", func(c *Config) { c.Infer.BatchSize = 0 }, []string{"infer.batch_size"}},
		{"path_type", func(c *Config) { c.Transport.PathType = "Cosine" }, []string{"transport.path_type"}},
		{"prediction", func(c *Config) { c.Transport.Prediction = "x0" }, []string{"transport.prediction"}},
		{"loss_weight", func(c *Config) { c.Transport.LossWeight = "snr" }, []string{"transport.loss_weight"}},
		{"solver", func(c *Config) { c.Infer.Solver = "rk4" }, []string{"infer.solver"}},
		{"precision", func(c *Config) { c.Infer.Precision = "int8" }, []string{"infer.precision"}},
		{"resolution leer", func(c *Config) { c.Infer.Resolution = "" }, []string{"infer.resolution"}},
		{"resolution format", func(c *Config) { c.Infer.Resolution = "banana" }, []string{"infer.resolution"}},
		{"resolution vielfaches", func(c *Config) { c.Infer.Resolution = "100x100" }, []string{"infer.resolution"}},
		{"sde Aufzaehlungen", func(c *Config) {
			c.SDE.Method = "Milstein"
			c.SDE.DiffusionForm = "cubic"
			c.SDE.LastStep = "Median"
		}, []string{"sde.method", "sde.diffusion_form", "sde.last_step"}},
		{"sde aus", func(c *Config) { c.SDE.LastStepSize = 2 }, nil},
		{"sde an", func(c *Config) {
			c.SDE.Enabled = true
			c.SDE.LastStepSize = 2
			c.SDE.DiffusionNorm = 0
		}, []string{"sde.diffusion_norm", "sde.last_step_size"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.edit(cfg)
			err := cfg.Validate()
			if len(tt.fields) == 0 {
				assert.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, errtypes.ErrConfig)
			for _, f := range tt.fields {
				assert.Contains(t, err.Error(), f)
			}
		})
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Infer.Seed = 9
	cfg.SDE.Enabled = true

	var buf bytes.Buffer
	require.NoError(t, cfg.Encode(&buf))
	assert.True(t, strings.Contains(buf.String(), "num_sampling_steps: 60"))

	got := &Config{}
	require.NoError(t, got.Decode(&buf))
	if diff := cmp.Diff(cfg, got); diff != "" {
		t.Errorf("Round trip weicht ab (-want +got):\n%s", diff)
	}
}
