// adaptive.go - Schrittweitensteuerung der eingebetteten RK-Verfahren
//
// Dieses Modul enthaelt:
// - adaptive: Integrationsschleife mit Annahme/Verwerfung und Iterationslimit
// - initialStep: Startschrittweite nach Hairer/Norsett/Wanner
// - errorRatio: RMS-Norm des Fehlerschaetzers relativ zu atol + rtol*|y|
package ode

import (
	"context"
	"log/slog"
	"math"

	"github.com/ollama/flowsample/types/errtypes"
)

const (
	safety    = 0.9
	minFactor = 0.2
	maxFactor = 10.0
)

func (in *Integrator) iterationCap(gridIntervals int) int {
	if in.opts.MaxIterations > 0 {
		return in.opts.MaxIterations
	}
	return 100 * gridIntervals
}

func (in *Integrator) adaptive(ctx context.Context, p Problem, ev *evaluator, y point, ts []float64, st *State) (point, error) {
	tab := in.tab
	t0, t1 := ts[0], ts[len(ts)-1]
	dir := 1.0
	if t1 < t0 {
		dir = -1
	}
	maxIter := in.iterationCap(len(ts) - 1)

	ev.refreshProbe(y.x)
	k0, err := ev.eval(ctx, 0, t0, y)
	if err != nil {
		return point{}, err
	}
	h, err := in.initialStep(ctx, ev, t0, y, k0, dir, math.Abs(t1-t0))
	if err != nil {
		return point{}, err
	}

	t := t0
	attempts := 0
	ks := make([]point, tab.stages())
	for dir*(t1-t) > 0 {
		if err := cancelled(ctx, st); err != nil {
			return point{}, err
		}
		if attempts >= maxIter {
			return point{}, &errtypes.NonConvergenceError{
				Solver:     string(in.opts.Solver),
				Iterations: attempts,
				Time:       t,
				StepSize:   h,
			}
		}
		attempts++

		last := false
		if remaining := math.Abs(t1 - t); h >= remaining {
			h, last = remaining, true
		}
		sh := dir * h

		ks[0] = k0
		for i := 1; i < tab.stages(); i++ {
			yi := y.combine(sh, tab.a[i-1], ks[:i])
			if ks[i], err = ev.eval(ctx, st.Step, t+tab.c[i]*sh, yi); err != nil {
				return point{}, err
			}
		}
		yNew := y.combine(sh, tab.b, ks)
		errEst := y.zero().combine(sh, tab.e, ks)

		ratio := errorRatio(errEst, y, yNew, in.opts.Atol, in.opts.Rtol)
		if math.IsNaN(ratio) || math.IsInf(ratio, 0) {
			return point{}, &errtypes.NumericalInstabilityError{Step: st.Step, Time: t, What: "error estimate"}
		}

		accepted := ratio <= 1
		if accepted {
			if last {
				t = t1
			} else {
				t += sh
			}
			y = yNew
			st.Step++
			st.Time, st.StepSize = t, sh
			if err := y.checkFinite(st.Step, t); err != nil {
				return point{}, err
			}
			st.X, st.LogDelta, st.NFE = y.x, y.acc, ev.nfe
			in.observe(p, st)

			if dir*(t1-t) > 0 {
				if tab.fsal && !ev.likelihood {
					k0 = ks[tab.stages()-1]
				} else {
					ev.refreshProbe(y.x)
					if k0, err = ev.eval(ctx, st.Step, t, y); err != nil {
						return point{}, err
					}
				}
			}
		} else {
			st.Rejected++
			slog.Debug("ode: step rejected", "solver", in.opts.Solver, "step", st.Step, "t", t, "h", h, "error", ratio)
		}

		factor := maxFactor
		if ratio > 0 {
			factor = math.Min(maxFactor, math.Max(minFactor, safety*math.Pow(ratio, -1/float64(tab.order))))
		}
		if !accepted {
			factor = math.Min(1, factor)
		}
		h *= factor
		if t+dir*h == t && dir*(t1-t) > 0 {
			return point{}, &errtypes.NonConvergenceError{
				Solver:     string(in.opts.Solver),
				Iterations: attempts,
				Time:       t,
				StepSize:   h,
			}
		}
	}
	return y, nil
}

// initialStep waehlt die Startschrittweite aus |y0|, |f0| und einer Probe-Auswertung.
func (in *Integrator) initialStep(ctx context.Context, ev *evaluator, t0 float64, y0, f0 point, dir, span float64) (float64, error) {
	atol, rtol := in.opts.Atol, in.opts.Rtol
	scale := func(v float64) float64 { return atol + rtol*math.Abs(v) }

	var d0, d1 float64
	n := 0
	y0.each(func(i int, v float64) {
		s := scale(v)
		fv := f0.at(i)
		d0 += (v / s) * (v / s)
		d1 += (fv / s) * (fv / s)
		n++
	})
	d0, d1 = math.Sqrt(d0/float64(n)), math.Sqrt(d1/float64(n))

	h0 := 1e-6
	if d0 >= 1e-5 && d1 >= 1e-5 {
		h0 = 0.01 * d0 / d1
	}
	h0 = math.Min(h0, span)

	y1 := y0.combine(dir*h0, []float64{1}, []point{f0})
	f1, err := ev.eval(ctx, 0, t0+dir*h0, y1)
	if err != nil {
		return 0, err
	}

	var d2 float64
	y0.each(func(i int, v float64) {
		r := (f1.at(i) - f0.at(i)) / scale(v)
		d2 += r * r
	})
	d2 = math.Sqrt(d2/float64(n)) / h0

	var h1 float64
	if m := math.Max(d1, d2); m <= 1e-15 {
		h1 = math.Max(1e-6, h0*1e-3)
	} else {
		h1 = math.Pow(0.01/m, 1/float64(in.tab.order))
	}
	return math.Min(math.Min(100*h0, h1), span), nil
}

// errorRatio ist ||err / (atol + rtol*max(|y0|, |y1|))||_rms.
func errorRatio(e, y0, y1 point, atol, rtol float64) float64 {
	var sum float64
	n := 0
	e.each(func(i int, v float64) {
		s := atol + rtol*math.Max(math.Abs(y0.at(i)), math.Abs(y1.at(i)))
		sum += (v / s) * (v / s)
		n++
	})
	return math.Sqrt(sum / float64(n))
}
