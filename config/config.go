// Package config - Sampling-Konfiguration
//
// MODUL: config
// ZWECK: Laedt die Abschnitte transport, ode, sde und infer aus YAML,
//
//	ueberlagert Umgebungsvariablen FLOWSAMPLE_<ABSCHNITT>_<OPTION>
//	und validiert alle Werte vor dem Sampling
//
// INPUT: YAML-Datei (optional), Umgebung
// OUTPUT: *Config
// NEBENEFFEKTE: Liest Datei und Umgebung
// ABHAENGIGKEITEN: gopkg.in/yaml.v3, kelseyhightower/envconfig, types/errtypes
// HINWEISE: Ein vorhandener sde-Abschnitt schaltet stochastisches Sampling ein,
//
//	solange er enabled nicht selbst setzt
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/ollama/flowsample/ode"
	"github.com/ollama/flowsample/resolution"
	"github.com/ollama/flowsample/sde"
	"github.com/ollama/flowsample/tensor"
	"github.com/ollama/flowsample/transport"
	"github.com/ollama/flowsample/types/errtypes"
)

// EnvPrefix ist der Praefix der Umgebungs-Ueberlagerung.
const EnvPrefix = "flowsample"

type Transport struct {
	PathType   string  `yaml:"path_type" split_words:"true"`
	Prediction string  `yaml:"prediction"`
	LossWeight string  `yaml:"loss_weight" split_words:"true"`
	SampleEps  float64 `yaml:"sample_eps" split_words:"true"`
	TrainEps   float64 `yaml:"train_eps" split_words:"true"`
}

type ODE struct {
	Atol          float64 `yaml:"atol"`
	Rtol          float64 `yaml:"rtol"`
	Reverse       bool    `yaml:"reverse"`
	Likelihood    bool    `yaml:"likelihood"`
	MaxIterations int     `yaml:"max_iterations" split_words:"true"`
	TraceStep     float64 `yaml:"trace_step" split_words:"true"`
}

type SDE struct {
	Enabled       bool    `yaml:"enabled"`
	Method        string  `yaml:"method"`
	DiffusionForm string  `yaml:"diffusion_form" split_words:"true"`
	DiffusionNorm float64 `yaml:"diffusion_norm" split_words:"true"`
	LastStep      string  `yaml:"last_step" split_words:"true"`
	LastStepSize  float64 `yaml:"last_step_size" split_words:"true"`
}

type Infer struct {
	Resolution       string  `yaml:"resolution"`
	NumSamplingSteps int     `yaml:"num_sampling_steps" split_words:"true"`
	CFGScale         float64 `yaml:"cfg_scale" split_words:"true"`
	Solver           string  `yaml:"solver"`
	TShift           int     `yaml:"t_shift" split_words:"true"`
	NTKScaling       bool    `yaml:"ntk_scaling" split_words:"true"`
	ProportionalAttn bool    `yaml:"proportional_attn" split_words:"true"`
	Seed             uint64  `yaml:"seed"`
	Precision        string  `yaml:"precision"`
	BatchSize        int     `yaml:"batch_size" split_words:"true"`
	GuidanceChannels int     `yaml:"guidance_channels" split_words:"true"`
}

// Config ist die vollstaendige Sampling-Konfiguration eines Laufs.
type Config struct {
	Transport Transport `yaml:"transport"`
	ODE       ODE       `yaml:"ode"`
	SDE       SDE       `yaml:"sde"`
	Infer     Infer     `yaml:"infer"`
}

// Default gibt die Standardkonfiguration zurueck.
func Default() *Config {
	return &Config{
		Transport: Transport{
			PathType:   "Linear",
			Prediction: "velocity",
			LossWeight: "None",
		},
		ODE: ODE{
			Atol: 1e-6,
			Rtol: 1e-3,
		},
		SDE: SDE{
			Method:        "Euler",
			DiffusionForm: "sigma",
			DiffusionNorm: 1,
			LastStep:      "Mean",
			LastStepSize:  0.04,
		},
		Infer: Infer{
			Resolution:       "1024x1024",
			NumSamplingSteps: 60,
			CFGScale:         4,
			Solver:           "euler",
			TShift:           4,
			NTKScaling:       true,
			ProportionalAttn: true,
			Precision:        "fp32",
			BatchSize:        1,
		},
	}
}

// Load liest path (leer = nur Standardwerte), ueberlagert die Umgebung und validiert.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read wie Load, aber ohne Validierung, damit Aufrufer noch Werte
// ueberschreiben koennen (z.B. CLI-Flags).
func Read(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		defer f.Close()

		if err := cfg.Decode(f); err != nil {
			return nil, fmt.Errorf("config: %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Decode ueberschreibt cfg mit den Werten aus r.
func (cfg *Config) Decode(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}

	var probe struct {
		SDE map[string]any `yaml:"sde"`
	}
	if err := yaml.Unmarshal(data, &probe); err != nil {
		return err
	}
	if probe.SDE != nil {
		if _, ok := probe.SDE["enabled"]; !ok {
			cfg.SDE.Enabled = true
		}
	}
	return nil
}

// ApplyEnv ueberlagert gesetzte FLOWSAMPLE_<ABSCHNITT>_<OPTION>-Variablen.
func (cfg *Config) ApplyEnv() error {
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		var pe *envconfig.ParseError
		if errors.As(err, &pe) {
			return &errtypes.ConfigError{Section: "env", Field: pe.KeyName, Value: pe.Value, Err: pe.Err}
		}
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Encode schreibt cfg als YAML.
func (cfg *Config) Encode(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return err
	}
	return enc.Close()
}

// ============================================================================
// Validierung
// ============================================================================

// Validate prueft Aufzaehlungen, Aufloesung und Wertebereiche aller
// Abschnitte und sammelt alle Fehler.
func (cfg *Config) Validate() error {
	var errs []error
	add := func(section, field string, value any, reason string) {
		errs = append(errs, errtypes.NewConfigError(section, field, value, reason))
	}
	check := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	// Aufzaehlungen ueber die Parser der interpretierenden Pakete
	_, err := transport.ParsePathType(cfg.Transport.PathType)
	check(err)
	_, err = transport.ParsePrediction(cfg.Transport.Prediction)
	check(err)
	_, err = transport.ParseLossWeight(cfg.Transport.LossWeight)
	check(err)
	_, err = ode.ParseSolver(cfg.Infer.Solver)
	check(err)
	_, err = sde.ParseMethod(cfg.SDE.Method)
	check(err)
	_, err = transport.ParseDiffusionForm(cfg.SDE.DiffusionForm)
	check(err)
	_, err = sde.ParseLastStep(cfg.SDE.LastStep)
	check(err)
	if _, err := tensor.ParsePrecision(cfg.Infer.Precision); err != nil {
		errs = append(errs, &errtypes.ConfigError{Section: "infer", Field: "precision", Value: cfg.Infer.Precision, Err: err})
	}
	_, err = resolution.Parse(cfg.Infer.Resolution)
	check(err)

	for _, eps := range []struct {
		field string
		v     float64
	}{{"sample_eps", cfg.Transport.SampleEps}, {"train_eps", cfg.Transport.TrainEps}} {
		if eps.v != 0 && !(eps.v > 0 && eps.v < 1) {
			add("transport", eps.field, eps.v, "must lie in (0, 1)")
		}
	}

	if !positive(cfg.ODE.Atol) {
		add("ode", "atol", cfg.ODE.Atol, "must be > 0")
	}
	if !positive(cfg.ODE.Rtol) {
		add("ode", "rtol", cfg.ODE.Rtol, "must be > 0")
	}
	if cfg.ODE.MaxIterations < 0 {
		add("ode", "max_iterations", cfg.ODE.MaxIterations, "must be >= 0")
	}
	if cfg.ODE.TraceStep < 0 {
		add("ode", "trace_step", cfg.ODE.TraceStep, "must be >= 0")
	}

	if cfg.SDE.Enabled {
		if !positive(cfg.SDE.DiffusionNorm) {
			add("sde", "diffusion_norm", cfg.SDE.DiffusionNorm, "must be > 0")
		}
		if !(cfg.SDE.LastStepSize > 0 && cfg.SDE.LastStepSize < 1) {
			add("sde", "last_step_size", cfg.SDE.LastStepSize, "must lie in (0, 1)")
		}
	}

	in := cfg.Infer
	if in.NumSamplingSteps < 1 || in.NumSamplingSteps > 1000 {
		add("infer", "num_sampling_steps", in.NumSamplingSteps, "must lie in [1, 1000]")
	}
	if !(in.CFGScale >= 1 && in.CFGScale <= 20) {
		add("infer", "cfg_scale", in.CFGScale, "must lie in [1, 20]")
	}
	if in.TShift < 1 || in.TShift > 20 {
		add("infer", "t_shift", in.TShift, "must lie in [1, 20]")
	}
	if in.BatchSize < 1 {
		add("infer", "batch_size", in.BatchSize, "must be >= 1")
	}
	if in.GuidanceChannels < 0 {
		add("infer", "guidance_channels", in.GuidanceChannels, "must be >= 0")
	}

	return errors.Join(errs...)
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0)
}
