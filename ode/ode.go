// Package ode - Deterministische Integration der Transport-ODE
//
// MODUL: ode
// ZWECK: Integriert dx/dt = f(x, t) vom Rauschen zu den Daten (oder umgekehrt),
//
//	mit festem Euler-Schritt oder adaptivem Dormand-Prince 5(4)/8(7),
//	optional mit Log-Dichte-Akkumulator
//
// INPUT: Field (Drift), Startzustand, Zeitgitter, Options
// OUTPUT: Endzustand (Latent, Log-Dichte-Aenderung, Anzahl Auswertungen)
// NEBENEFFEKTE: Zieht Rademacher-Proben aus dem Lauf-Stream (nur Likelihood)
// ABHAENGIGKEITEN: tensor, types/errtypes, gonum/diff/fd
// HINWEISE: Zustaende Running -> Converged | Failed. Teilergebnisse werden nie zurueckgegeben.
package ode

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"

	"github.com/ollama/flowsample/tensor"
	"github.com/ollama/flowsample/types/errtypes"
)

// ============================================================================
// Enums
// ============================================================================

// Solver waehlt das Integrationsverfahren.
type Solver string

const (
	Euler  Solver = "euler"
	Dopri5 Solver = "dopri5"
	Dopri8 Solver = "dopri8"
)

// ParseSolver validiert einen Solver-Namen.
func ParseSolver(s string) (Solver, error) {
	switch v := Solver(s); v {
	case Euler, Dopri5, Dopri8:
		return v, nil
	default:
		return "", errtypes.NewConfigError("infer", "solver", s, "want euler, dopri5 or dopri8")
	}
}

// Adaptive meldet, ob der Solver die Schrittweite selbst steuert.
func (s Solver) Adaptive() bool { return s == Dopri5 || s == Dopri8 }

// Status ist der Zustand des Integrators.
type Status int

const (
	Running Status = iota
	Converged
	Failed
)

func (s Status) String() string {
	switch s {
	case Running:
		return "running"
	case Converged:
		return "converged"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// ============================================================================
// Typen
// ============================================================================

// Field ist das zu integrierende Vektorfeld. step ist der Index des aktuellen Schritts.
type Field func(ctx context.Context, step int, x *tensor.Tensor, t float64) (*tensor.Tensor, error)

// Options konfiguriert einen Integrator.
type Options struct {
	Solver     Solver
	Atol       float64
	Rtol       float64
	Reverse    bool // Daten -> Rauschen
	Likelihood bool

	// MaxIterations begrenzt die Schrittversuche adaptiver Solver
	// (0 = 100 * Anzahl Gitterintervalle).
	MaxIterations int

	// TraceStep ist die Schrittweite der Differenzenquotienten im Spurschaetzer
	// (0 = fd.Central.Step).
	TraceStep float64
}

// Problem ist ein einzelner Integrationsauftrag.
type Problem struct {
	Field Field
	X     *tensor.Tensor

	// Grid ist das aufsteigende Zeitgitter t0 < ... < t1. Euler schreitet es ab,
	// adaptive Solver verwenden nur die Endpunkte.
	Grid []float64

	// Stream liefert die Rademacher-Proben des Spurschaetzers.
	Stream *tensor.Stream

	// Observe wird nach jedem akzeptierten Schritt (Running) und einmal
	// am Ende (Converged oder Failed) aufgerufen.
	Observe func(State)
}

// State ist der Integratorzustand nach einem Schritt.
type State struct {
	Status   Status
	Step     int
	Time     float64
	StepSize float64
	X        *tensor.Tensor
	LogDelta []float64 // Aenderung der Log-Dichte je Batch-Eintrag (nur Likelihood)
	NFE      int
	Rejected int
}

// Integrator ist ein validierter, zustandsloser ODE-Loeser.
type Integrator struct {
	opts Options
	tab  *tableau
}

// New validiert opts.
func New(opts Options) (*Integrator, error) {
	solver, err := ParseSolver(string(opts.Solver))
	if err != nil {
		return nil, err
	}
	for _, tol := range []struct {
		name string
		v    float64
	}{{"atol", opts.Atol}, {"rtol", opts.Rtol}} {
		if !(tol.v > 0) || math.IsInf(tol.v, 0) {
			return nil, errtypes.NewConfigError("ode", tol.name, tol.v, "must be > 0")
		}
	}
	if opts.MaxIterations < 0 {
		return nil, errtypes.NewConfigError("ode", "max_iterations", opts.MaxIterations, "must be >= 0")
	}
	if opts.TraceStep < 0 {
		return nil, errtypes.NewConfigError("ode", "trace_step", opts.TraceStep, "must be >= 0")
	}

	in := &Integrator{opts: opts}
	in.opts.Solver = solver
	switch solver {
	case Dopri5:
		in.tab = dopri5
	case Dopri8:
		in.tab = dopri8
	}
	return in, nil
}

func (in *Integrator) Options() Options { return in.opts }

// Integrate fuehrt die Integration ueber p.Grid aus.
func (in *Integrator) Integrate(ctx context.Context, p Problem) (*State, error) {
	if len(p.Grid) < 2 {
		return nil, fmt.Errorf("ode: grid needs at least two points, got %d", len(p.Grid))
	}
	ts := p.Grid
	if in.opts.Reverse {
		ts = slices.Clone(ts)
		slices.Reverse(ts)
	}

	ev := newEvaluator(p.Field, in.opts.Likelihood, p.Stream, in.opts.TraceStep)
	st := &State{Status: Running, Time: ts[0], X: p.X}
	y := point{x: p.X}
	if in.opts.Likelihood {
		y.acc = make([]float64, p.X.Batch())
	}

	var err error
	if in.tab == nil {
		y, err = in.euler(ctx, p, ev, y, ts, st)
	} else {
		y, err = in.adaptive(ctx, p, ev, y, ts, st)
	}
	st.NFE = ev.nfe
	if err != nil {
		st.Status = Failed
		slog.Debug("ode: integration failed", "solver", in.opts.Solver, "step", st.Step, "t", st.Time, "error", err)
		in.observe(p, st)
		return nil, err
	}

	st.Status = Converged
	st.X, st.LogDelta = y.x, y.acc
	in.observe(p, st)
	return st, nil
}

func (in *Integrator) observe(p Problem, st *State) {
	if p.Observe != nil {
		p.Observe(*st)
	}
}

func cancelled(ctx context.Context, st *State) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("ode: cancelled at step %d (t=%.6f): %w", st.Step, st.Time, err)
	}
	return nil
}

// euler schreitet das Gitter mit festen Schritten ab.
func (in *Integrator) euler(ctx context.Context, p Problem, ev *evaluator, y point, ts []float64, st *State) (point, error) {
	for k := 0; k < len(ts)-1; k++ {
		if err := cancelled(ctx, st); err != nil {
			return point{}, err
		}
		t, h := ts[k], ts[k+1]-ts[k]

		ev.refreshProbe(y.x)
		f, err := ev.eval(ctx, k, t, y)
		if err != nil {
			return point{}, err
		}
		y = y.combine(h, []float64{1}, []point{f})

		st.Step, st.Time, st.StepSize = k+1, ts[k+1], h
		if err := y.checkFinite(st.Step, st.Time); err != nil {
			return point{}, err
		}
		st.X, st.LogDelta, st.NFE = y.x, y.acc, ev.nfe
		in.observe(p, st)
	}
	return y, nil
}
