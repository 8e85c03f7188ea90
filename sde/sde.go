// Package sde - Stochastische Integration der Transport-SDE
//
// MODUL: sde
// ZWECK: Euler-Maruyama- und Heun-Schritte ueber das (geshiftete) Zeitgitter
//
//	und ein gesonderter Schluss-Schritt (None, Mean, Tweedie, Euler)
//
// INPUT: Predict (rohe, gefuehrte Netzwerkausgabe), Startrauschen, Gitter, Zufallsstrom
// OUTPUT: Endzustand
// NEBENEFFEKTE: Zieht Gauss-Rauschen aus dem Lauf-Stream
// ABHAENGIGKEITEN: tensor, transport, types/errtypes
// HINWEISE: Ein nicht geseedeter Stream ist ein Programmierfehler (panic)
package sde

import (
	"context"
	"fmt"
	"math"

	"github.com/ollama/flowsample/tensor"
	"github.com/ollama/flowsample/transport"
	"github.com/ollama/flowsample/types/errtypes"
)

// ============================================================================
// Enums
// ============================================================================

// Method waehlt das Schrittverfahren.
type Method string

const (
	Euler Method = "Euler"
	Heun  Method = "Heun"
)

// ParseMethod validiert ein Schrittverfahren.
func ParseMethod(s string) (Method, error) {
	switch m := Method(s); m {
	case Euler, Heun:
		return m, nil
	default:
		return "", errtypes.NewConfigError("sde", "method", s, "want Euler or Heun")
	}
}

// LastStep waehlt die Behandlung des letzten Intervalls vor t=1.
type LastStep string

const (
	LastNone    LastStep = "None"
	LastMean    LastStep = "Mean"
	LastTweedie LastStep = "Tweedie"
	LastEuler   LastStep = "Euler"
)

// ParseLastStep validiert eine Schluss-Schritt-Politik.
func ParseLastStep(s string) (LastStep, error) {
	switch l := LastStep(s); l {
	case LastNone, LastMean, LastTweedie, LastEuler:
		return l, nil
	default:
		return "", errtypes.NewConfigError("sde", "last_step", s, "want None, Mean, Tweedie or Euler")
	}
}

// ============================================================================
// Sampler
// ============================================================================

// Predict liefert die rohe (gefuehrte) Netzwerkausgabe bei (x, t).
type Predict func(ctx context.Context, step int, x *tensor.Tensor, t float64) (*tensor.Tensor, error)

// Options konfiguriert einen SDE-Sampler.
type Options struct {
	Method       Method
	Diffusion    transport.DiffusionSpec
	LastStep     LastStep
	LastStepSize float64
}

// Problem ist ein einzelner Sampling-Auftrag.
type Problem struct {
	Predict Predict
	X       *tensor.Tensor
	Grid    []float64 // aufsteigend t0 < ... < t1
	Stream  *tensor.Stream

	// Observe wird nach jedem Schritt aufgerufen, zuletzt mit Final=true.
	Observe func(State)
}

// State ist der Zustand nach einem Schritt.
type State struct {
	Step     int
	Time     float64
	StepSize float64
	X        *tensor.Tensor
	NFE      int
	Final    bool
}

// Sampler ist ein validierter SDE-Sampler fuer einen Transport.
type Sampler struct {
	tr   *transport.Transport
	opts Options
}

// New validiert opts gegen tr.
func New(tr *transport.Transport, opts Options) (*Sampler, error) {
	method, err := ParseMethod(string(opts.Method))
	if err != nil {
		return nil, err
	}
	form, err := transport.ParseDiffusionForm(string(opts.Diffusion.Form))
	if err != nil {
		return nil, err
	}
	if !(opts.Diffusion.Norm > 0) || math.IsInf(opts.Diffusion.Norm, 0) {
		return nil, errtypes.NewConfigError("sde", "diffusion_norm", opts.Diffusion.Norm, "must be > 0")
	}
	last, err := ParseLastStep(string(opts.LastStep))
	if err != nil {
		return nil, err
	}
	if !(opts.LastStepSize > 0 && opts.LastStepSize < 1) {
		return nil, errtypes.NewConfigError("sde", "last_step_size", opts.LastStepSize, "must lie in (0, 1)")
	}

	opts.Method, opts.Diffusion.Form, opts.LastStep = method, form, last
	return &Sampler{tr: tr, opts: opts}, nil
}

func (s *Sampler) Options() Options { return s.opts }

// Interval gibt das Intervall der regulaeren Schritte zurueck.
// Das letzte Intervall der Laenge LastStepSize folgt danach.
func (s *Sampler) Interval() (t0, t1 float64) {
	return s.tr.Interval(transport.IntervalOptions{
		SDE:           true,
		DiffusionForm: s.opts.Diffusion.Form,
		LastStepSize:  s.opts.LastStepSize,
	})
}

// Check prueft die Koeffizienten auf [t0, t1] vor dem ersten Schritt.
func (s *Sampler) Check(t0, t1 float64) error {
	return s.tr.CheckInterval(t0, t1, true, s.opts.Diffusion)
}

// Sample fuehrt die regulaeren Schritte ueber p.Grid und danach den Schluss-Schritt aus.
func (s *Sampler) Sample(ctx context.Context, p Problem) (*State, error) {
	if len(p.Grid) < 2 {
		return nil, fmt.Errorf("sde: grid needs at least two points, got %d", len(p.Grid))
	}

	r := &run{s: s, p: p}
	st := &State{Time: p.Grid[0], X: p.X}
	x := p.X
	for k := 0; k < len(p.Grid)-1; k++ {
		if err := cancelled(ctx, st); err != nil {
			return nil, err
		}
		t, h := p.Grid[k], p.Grid[k+1]-p.Grid[k]

		var err error
		switch s.opts.Method {
		case Euler:
			x, err = r.eulerMaruyama(ctx, k, x, t, h)
		case Heun:
			x, err = r.heun(ctx, k, x, t, h)
		default:
			panic("sde: unhandled method " + string(s.opts.Method))
		}
		if err != nil {
			return nil, err
		}

		st.Step, st.Time, st.StepSize, st.X, st.NFE = k+1, p.Grid[k+1], h, x, r.nfe
		if err := checkFinite(x, st.Step, st.Time); err != nil {
			return nil, err
		}
		r.observe(st)
	}

	if err := cancelled(ctx, st); err != nil {
		return nil, err
	}
	x, err := r.finish(ctx, st.Step, x, st.Time)
	if err != nil {
		return nil, err
	}
	st.Step++
	st.Time += s.opts.LastStepSize
	st.StepSize, st.X, st.NFE, st.Final = s.opts.LastStepSize, x, r.nfe, true
	if err := checkFinite(x, st.Step, st.Time); err != nil {
		return nil, err
	}
	r.observe(st)
	return st, nil
}

func cancelled(ctx context.Context, st *State) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("sde: cancelled at step %d (t=%.6f): %w", st.Step, st.Time, err)
	}
	return nil
}

func checkFinite(x *tensor.Tensor, step int, t float64) error {
	if !x.AllFinite() {
		return &errtypes.NumericalInstabilityError{Step: step, Time: t, What: "latent"}
	}
	return nil
}
