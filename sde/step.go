// step.go - Einzelschritte und Schluss-Schritt
//
// Dieses Modul enthaelt:
// - eulerMaruyama: x + f*h + sqrt(2w)*sqrt(h)*eps
// - heun: Praediktor-Korrektor mit Rauschen vor dem Drift-Mittel
// - finish: Schluss-Schritt nach LastStep-Politik
package sde

import (
	"context"
	"math"

	"github.com/ollama/flowsample/tensor"
	"github.com/ollama/flowsample/types/errtypes"
)

// run buendelt den Zustand eines Sample-Aufrufs.
type run struct {
	s   *Sampler
	p   Problem
	nfe int
}

func (r *run) observe(st *State) {
	if r.p.Observe != nil {
		r.p.Observe(*st)
	}
}

func (r *run) predict(ctx context.Context, step int, x *tensor.Tensor, t float64) (*tensor.Tensor, error) {
	r.nfe++
	raw, err := r.p.Predict(ctx, step, x, t)
	if err != nil {
		return nil, err
	}
	if !raw.AllFinite() {
		return nil, &errtypes.NumericalInstabilityError{Step: step, Time: t, What: "prediction"}
	}
	return raw, nil
}

// sdeDrift gibt f_sde(x, t) = f(x, t) + w(t)*score zurueck.
func (r *run) sdeDrift(ctx context.Context, step int, x *tensor.Tensor, t float64) (*tensor.Tensor, error) {
	raw, err := r.predict(ctx, step, x, t)
	if err != nil {
		return nil, err
	}
	drift, _ := r.s.tr.DriftAndDiffusion(raw, x, t, r.s.opts.Diffusion)
	return drift, nil
}

func (r *run) eulerMaruyama(ctx context.Context, step int, x *tensor.Tensor, t, h float64) (*tensor.Tensor, error) {
	raw, err := r.predict(ctx, step, x, t)
	if err != nil {
		return nil, err
	}
	drift, amp := r.s.tr.DriftAndDiffusion(raw, x, t, r.s.opts.Diffusion)
	eps := r.p.Stream.Normal(x.Shape()...)
	return tensor.LinearCombination(x, []float64{h, amp * math.Sqrt(h)}, []*tensor.Tensor{drift, eps}), nil
}

func (r *run) heun(ctx context.Context, step int, x *tensor.Tensor, t, h float64) (*tensor.Tensor, error) {
	amp := math.Sqrt(2 * r.s.tr.Diffusion(t, r.s.opts.Diffusion))
	eps := r.p.Stream.Normal(x.Shape()...)
	xhat := x.AddScaled(amp*math.Sqrt(h), eps)

	k1, err := r.sdeDrift(ctx, step, xhat, t)
	if err != nil {
		return nil, err
	}
	k2, err := r.sdeDrift(ctx, step, xhat.AddScaled(h, k1), t+h)
	if err != nil {
		return nil, err
	}
	return tensor.LinearCombination(xhat, []float64{h / 2, h / 2}, []*tensor.Tensor{k1, k2}), nil
}

// finish fuehrt das letzte Intervall [t, t+LastStepSize] aus.
func (r *run) finish(ctx context.Context, step int, x *tensor.Tensor, t float64) (*tensor.Tensor, error) {
	h := r.s.opts.LastStepSize
	switch r.s.opts.LastStep {
	case LastNone:
		return r.eulerMaruyama(ctx, step, x, t, h)
	case LastMean:
		drift, err := r.sdeDrift(ctx, step, x, t)
		if err != nil {
			return nil, err
		}
		return x.AddScaled(h, drift), nil
	case LastTweedie:
		raw, err := r.predict(ctx, step, x, t)
		if err != nil {
			return nil, err
		}
		return r.s.tr.Tweedie(raw, x, t), nil
	case LastEuler:
		raw, err := r.predict(ctx, step, x, t)
		if err != nil {
			return nil, err
		}
		return x.AddScaled(h, r.s.tr.Drift(raw, x, t)), nil
	default:
		panic("sde: unhandled last step " + string(r.s.opts.LastStep))
	}
}
