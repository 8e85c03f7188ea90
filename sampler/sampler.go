// Package sampler - Orchestrierung eines Sampling-Laufs
//
// MODUL: sampler
// ZWECK: Validiert die Konfiguration, leitet Aufloesung und Shift ab, seedet
//
//	den Zufallsstrom, zieht das Startrauschen und verdrahtet
//	predict -> guide -> round(precision) -> Integrator
//
// INPUT: Model (Predictor + Trainingsgeometrie), config.Config, Request
// OUTPUT: Result (Latent, optionale Log-Dichte, Auswertungszaehler, Run-ID)
// NEBENEFFEKTE: Logging (slog), Observer-Events
// ABHAENGIGKEITEN: config, transport, guidance, resolution, ode, sde, predictor, tensor
// HINWEISE: Ein Sampler ist nach New unveraenderlich und kann parallel genutzt
//
//	werden, sofern der Predictor das erlaubt. Jeder Lauf besitzt eigenen Zustand.
package sampler

import (
	"fmt"
	"time"

	"github.com/ollama/flowsample/config"
	"github.com/ollama/flowsample/guidance"
	"github.com/ollama/flowsample/ode"
	"github.com/ollama/flowsample/predictor"
	"github.com/ollama/flowsample/resolution"
	"github.com/ollama/flowsample/sde"
	"github.com/ollama/flowsample/tensor"
	"github.com/ollama/flowsample/transport"
	"github.com/ollama/flowsample/types/errtypes"
)

// Model beschreibt das geladene Netzwerk und seine Trainingsgeometrie.
type Model struct {
	Predictor        predictor.Predictor
	BaseImageSize    int // Trainingsaufloesung, z.B. 1024
	LatentChannels   int // 4
	DownsampleFactor int // 8
	PatchSize        int // 2
}

// Mode ist die Art der Integration.
type Mode string

const (
	ModeODE Mode = "ode"
	ModeSDE Mode = "sde"
)

// Request ist ein einzelner Sampling-Auftrag.
type Request struct {
	Seed    uint64
	Payload any // Konditionierung, unveraendert an den Predictor

	// ForceUnconditional wertet den unbedingten Zweig auch bei cfg_scale = 1 aus.
	ForceUnconditional bool

	// Latent ersetzt das Startrauschen (nil = aus Seed ziehen).
	Latent *tensor.Tensor
}

// Result ist das Ergebnis eines erfolgreichen Laufs.
type Result struct {
	RunID  string
	Seed   uint64
	Mode   Mode
	Latent *tensor.Tensor

	// LogDensity ist die Log-Dichte der datenseitigen Probe je Batch-Eintrag (nur Likelihood).
	LogDensity []float64

	Steps          int
	NFE            int // Drift-Auswertungen
	PredictorCalls int // inklusive unbedingter Zweig
	Rejected       int
	Duration       time.Duration
}

// Sampler ist ein validierter, wiederverwendbarer Sampling-Aufbau.
type Sampler struct {
	model     Model
	cfg       config.Config
	transport *transport.Transport
	guide     *guidance.Scaler
	scaling   resolution.Scaling
	precision tensor.Precision
	ode       *ode.Integrator
	sde       *sde.Sampler
	diffusion transport.DiffusionSpec
	t0, t1    float64
	observers []Observer
}

// Option konfiguriert optionale Teile des Samplers.
type Option func(*Sampler)

// WithObserver haengt einen Observer fuer Lauf- und Schritt-Events an.
func WithObserver(o Observer) Option {
	return func(s *Sampler) {
		if o != nil {
			s.observers = append(s.observers, o)
		}
	}
}

// New validiert cfg gegen model und baut alle Komponenten einmalig auf.
func New(model Model, cfg *config.Config, opts ...Option) (*Sampler, error) {
	if err := validateModel(model); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Sampler{model: model, cfg: *cfg}
	for _, opt := range opts {
		opt(s)
	}

	var err error
	if s.transport, err = newTransport(cfg.Transport); err != nil {
		return nil, err
	}
	if s.guide, err = guidance.New(cfg.Infer.CFGScale, cfg.Infer.GuidanceChannels); err != nil {
		return nil, err
	}
	if s.precision, err = tensor.ParsePrecision(cfg.Infer.Precision); err != nil {
		return nil, &errtypes.ConfigError{Section: "infer", Field: "precision", Value: cfg.Infer.Precision, Err: err}
	}
	// Rauschboden des Differenzenquotienten ist eps^(2/3) relativ:
	// fp64 ~4e-11, fp32 ~6e-6, fp16 ~1e-2, bf16 ~4e-2
	if cfg.ODE.Likelihood && (s.precision == tensor.BF16 || s.precision == tensor.FP16) {
		return nil, errtypes.NewConfigError("infer", "precision", s.precision,
			"likelihood needs fp32 or fp64 predictor outputs for the trace estimator")
	}

	res, err := resolution.Parse(cfg.Infer.Resolution)
	if err != nil {
		return nil, err
	}
	adapter := resolution.Adapter{
		Base:             resolution.Resolution{Width: model.BaseImageSize, Height: model.BaseImageSize},
		Downsample:       model.DownsampleFactor,
		Patch:            model.PatchSize,
		NTKScaling:       cfg.Infer.NTKScaling,
		ProportionalAttn: cfg.Infer.ProportionalAttn,
	}
	s.scaling = adapter.Adapt(res, float64(cfg.Infer.TShift))

	// Default-Schritt des Spurschaetzers passend zur Rundung der Ausgaben
	traceStep := cfg.ODE.TraceStep
	if traceStep == 0 {
		traceStep = s.precision.DifferenceStep()
	}
	if s.ode, err = ode.New(ode.Options{
		Solver:        ode.Solver(cfg.Infer.Solver),
		Atol:          cfg.ODE.Atol,
		Rtol:          cfg.ODE.Rtol,
		Reverse:       cfg.ODE.Reverse,
		Likelihood:    cfg.ODE.Likelihood,
		MaxIterations: cfg.ODE.MaxIterations,
		TraceStep:     traceStep,
	}); err != nil {
		return nil, err
	}

	if cfg.SDE.Enabled {
		if cfg.ODE.Likelihood || cfg.ODE.Reverse {
			return nil, errtypes.NewConfigError("sde", "enabled", true,
				"likelihood and reverse integration need deterministic sampling")
		}
		form, err := transport.ParseDiffusionForm(cfg.SDE.DiffusionForm)
		if err != nil {
			return nil, err
		}
		s.diffusion = transport.DiffusionSpec{Form: form, Norm: cfg.SDE.DiffusionNorm}
		if s.sde, err = sde.New(s.transport, sde.Options{
			Method:       sde.Method(cfg.SDE.Method),
			Diffusion:    s.diffusion,
			LastStep:     sde.LastStep(cfg.SDE.LastStep),
			LastStepSize: cfg.SDE.LastStepSize,
		}); err != nil {
			return nil, err
		}
		s.t0, s.t1 = s.sde.Interval()
		if err := s.sde.Check(s.t0, s.t1); err != nil {
			return nil, err
		}
	} else {
		s.t0, s.t1 = s.transport.Interval(transport.IntervalOptions{})
		if err := s.transport.CheckInterval(s.t0, s.t1, false, s.diffusion); err != nil {
			return nil, err
		}
	}

	return s, nil
}

func validateModel(m Model) error {
	if m.Predictor == nil {
		return errtypes.NewConfigError("model", "predictor", nil, "must be set")
	}
	for _, f := range []struct {
		name string
		v    int
	}{
		{"base_image_size", m.BaseImageSize},
		{"latent_channels", m.LatentChannels},
		{"downsample_factor", m.DownsampleFactor},
		{"patch_size", m.PatchSize},
	} {
		if f.v < 1 {
			return errtypes.NewConfigError("model", f.name, f.v, "must be >= 1")
		}
	}
	if m.BaseImageSize%(m.DownsampleFactor*m.PatchSize) != 0 {
		return errtypes.NewConfigError("model", "base_image_size", m.BaseImageSize,
			fmt.Sprintf("must be a multiple of %d", m.DownsampleFactor*m.PatchSize))
	}
	return nil
}

func newTransport(c config.Transport) (*transport.Transport, error) {
	path, err := transport.ParsePathType(c.PathType)
	if err != nil {
		return nil, err
	}
	pred, err := transport.ParsePrediction(c.Prediction)
	if err != nil {
		return nil, err
	}
	lw, err := transport.ParseLossWeight(c.LossWeight)
	if err != nil {
		return nil, err
	}
	return transport.New(transport.Options{
		PathType:   path,
		Prediction: pred,
		LossWeight: lw,
		SampleEps:  c.SampleEps,
		TrainEps:   c.TrainEps,
	})
}

// ============================================================================
// Accessoren
// ============================================================================

func (s *Sampler) Config() config.Config           { return s.cfg }
func (s *Sampler) Transport() *transport.Transport { return s.transport }
func (s *Sampler) Scaling() resolution.Scaling     { return s.scaling }

// Mode gibt die Art der Integration zurueck.
func (s *Sampler) Mode() Mode {
	if s.sde != nil {
		return ModeSDE
	}
	return ModeODE
}

// Interval gibt das Intervall der regulaeren Schritte in Datenzeit zurueck.
func (s *Sampler) Interval() (t0, t1 float64) { return s.t0, s.t1 }

// Grid gibt das geshiftete Zeitgitter mit num_sampling_steps Intervallen zurueck.
func (s *Sampler) Grid() []float64 {
	return resolution.Grid(s.t0, s.t1, s.cfg.Infer.NumSamplingSteps, s.scaling.Shift)
}

// LatentShape gibt die Form [B, C, H/ds, W/ds] des Startrauschens zurueck.
func (s *Sampler) LatentShape() []int {
	return s.scaling.Resolution.LatentShape(s.cfg.Infer.BatchSize, s.model.LatentChannels, s.model.DownsampleFactor)
}

// Request gibt einen Auftrag mit dem konfigurierten Seed zurueck.
func (s *Sampler) Request(payload any) Request {
	return Request{Seed: s.cfg.Infer.Seed, Payload: payload}
}
