// likelihood.go - Erweiterter Zustand und Spurschaetzer
//
// Dieses Modul enthaelt:
// - point: Latent plus Log-Dichte-Akkumulator je Batch-Eintrag
// - evaluator: wertet das Feld aus und schaetzt -tr(df/dx) nach Hutchinson
//
// Die Akkumulator-Ableitung ist d(acc)/dt = -tr(df/dx). Damit gilt
// log p(x_end) = log p(x_start) + acc, unabhaengig von der Richtung.
package ode

import (
	"context"
	"math"
	"slices"

	"gonum.org/v1/gonum/diff/fd"

	"github.com/ollama/flowsample/tensor"
	"github.com/ollama/flowsample/types/errtypes"
)

// ============================================================================
// point
// ============================================================================

type point struct {
	x   *tensor.Tensor
	acc []float64 // nil ohne Likelihood
}

// combine gibt p + h*sum(coeffs[i]*ks[i]) zurueck.
func (p point) combine(h float64, coeffs []float64, ks []point) point {
	scaled := make([]float64, len(coeffs))
	xs := make([]*tensor.Tensor, len(coeffs))
	for i, c := range coeffs {
		scaled[i] = h * c
		xs[i] = ks[i].x
	}
	out := point{x: tensor.LinearCombination(p.x, scaled, xs)}
	if p.acc != nil {
		out.acc = slices.Clone(p.acc)
		for i, c := range scaled {
			if c == 0 {
				continue
			}
			for b := range out.acc {
				out.acc[b] += c * ks[i].acc[b]
			}
		}
	}
	return out
}

func (p point) zero() point {
	z := point{x: tensor.New(p.x.Shape()...)}
	if p.acc != nil {
		z.acc = make([]float64, len(p.acc))
	}
	return z
}

// each iteriert ueber alle Komponenten (Latent, dann Akkumulator).
func (p point) each(fn func(i int, v float64)) {
	n := p.x.Len()
	for i, v := range p.x.Data() {
		fn(i, v)
	}
	for i, v := range p.acc {
		fn(n+i, v)
	}
}

func (p point) at(i int) float64 {
	if n := p.x.Len(); i >= n {
		return p.acc[i-n]
	}
	return p.x.Data()[i]
}

func (p point) checkFinite(step int, t float64) error {
	if !p.x.AllFinite() {
		return &errtypes.NumericalInstabilityError{Step: step, Time: t, What: "latent"}
	}
	for _, v := range p.acc {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return &errtypes.NumericalInstabilityError{Step: step, Time: t, What: "log-density"}
		}
	}
	return nil
}

// ============================================================================
// evaluator
// ============================================================================

type evaluator struct {
	field      Field
	likelihood bool
	stream     *tensor.Stream
	traceStep  float64
	probe      *tensor.Tensor
	nfe        int
}

func newEvaluator(field Field, likelihood bool, stream *tensor.Stream, traceStep float64) *evaluator {
	if traceStep == 0 {
		traceStep = fd.Central.Step
	}
	return &evaluator{field: field, likelihood: likelihood, stream: stream, traceStep: traceStep}
}

// refreshProbe zieht eine neue Rademacher-Probe. Innerhalb eines Schrittversuchs
// verwenden alle Stufen dieselbe Probe.
func (e *evaluator) refreshProbe(x *tensor.Tensor) {
	if e.likelihood {
		e.probe = e.stream.Rademacher(x.Shape()...)
	}
}

func (e *evaluator) call(ctx context.Context, step int, x *tensor.Tensor, t float64) (*tensor.Tensor, error) {
	e.nfe++
	f, err := e.field(ctx, step, x, t)
	if err != nil {
		return nil, err
	}
	if !f.AllFinite() {
		return nil, &errtypes.NumericalInstabilityError{Step: step, Time: t, What: "drift"}
	}
	return f, nil
}

func (e *evaluator) eval(ctx context.Context, step int, t float64, y point) (point, error) {
	f, err := e.call(ctx, step, y.x, t)
	if err != nil {
		return point{}, err
	}
	out := point{x: f}
	if e.likelihood {
		tr, err := e.trace(ctx, step, t, y.x)
		if err != nil {
			return point{}, err
		}
		out.acc = make([]float64, len(tr))
		for b, v := range tr {
			out.acc[b] = -v
		}
	}
	return out, nil
}

// trace schaetzt tr(df/dx) je Batch-Eintrag als eps^T (J eps), wobei J eps
// mit der zentralen Differenzenformel entlang eps berechnet wird.
func (e *evaluator) trace(ctx context.Context, step int, t float64, x *tensor.Tensor) ([]float64, error) {
	eps := e.probe
	if eps == nil {
		e.refreshProbe(x)
		eps = e.probe
	}
	h := e.traceStep
	jvp := tensor.New(x.Shape()...)
	for _, pt := range fd.Central.Stencil {
		f, err := e.call(ctx, step, x.AddScaled(pt.Loc*h, eps), t)
		if err != nil {
			return nil, err
		}
		jvp = jvp.AddScaled(pt.Coeff/h, f)
	}
	return eps.SampleDot(jvp), nil
}
