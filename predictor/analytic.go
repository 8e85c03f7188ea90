// analytic.go - Analytische Referenz-Predictors
//
// Dieses Modul enthaelt:
// - Decay: predict(x, t) = -rate*x, lineares Vektorfeld mit geschlossener Loesung
// - Gaussian: exakte Vorhersage fuer Daten ~ N(mean, std^2) je Element
// - Counting: zaehlt Aufrufe eines anderen Predictors
package predictor

import (
	"context"
	"sync/atomic"

	"github.com/ollama/flowsample/tensor"
	"github.com/ollama/flowsample/transport"
)

// Decay liefert -Rate*x unabhaengig von t und Condition.
// Der unbedingte Zweig verwendet UncondRate (0 = Rate).
type Decay struct {
	Rate       float64
	UncondRate float64
}

func (d Decay) Predict(_ context.Context, x *tensor.Tensor, _ float64, cond Condition) (*tensor.Tensor, error) {
	rate := d.Rate
	if cond.Unconditional && d.UncondRate != 0 {
		rate = d.UncondRate
	}
	return x.Scale(-rate), nil
}

// Gaussian liefert die exakte Netzwerkausgabe fuer elementweise unabhaengige
// Daten x1 ~ N(Mean, Std^2) und Rauschen x0 ~ N(0, 1). Die Ausgabe folgt dem
// Vorhersageziel des Transports. Der unbedingte Zweig verwendet UncondMean.
type Gaussian struct {
	Transport  *transport.Transport
	Mean       float64
	Std        float64
	UncondMean float64
}

func (g Gaussian) Predict(_ context.Context, x *tensor.Tensor, t float64, cond Condition) (*tensor.Tensor, error) {
	mu := g.Mean
	if cond.Unconditional {
		mu = g.UncondMean
	}

	c := g.Transport.Coefficients(t)
	s2 := g.Std * g.Std
	v := c.Alpha*c.Alpha*s2 + c.Sigma*c.Sigma

	out := tensor.New(x.Shape()...)
	o := out.Data()
	for i, xi := range x.Data() {
		r := (xi - c.Alpha*mu) / v
		switch g.Transport.Prediction() {
		case transport.Velocity:
			o[i] = c.DAlpha*(mu+c.Alpha*s2*r) + c.SigmaDSigma*r
		case transport.Score:
			o[i] = -r
		case transport.Noise:
			o[i] = c.Sigma * r
		}
	}
	return out, nil
}

// Counting zaehlt die Aufrufe von Next, getrennt nach Zweig.
type Counting struct {
	Next          Predictor
	conditional   atomic.Int64
	unconditional atomic.Int64
}

func (c *Counting) Predict(ctx context.Context, x *tensor.Tensor, t float64, cond Condition) (*tensor.Tensor, error) {
	if cond.Unconditional {
		c.unconditional.Add(1)
	} else {
		c.conditional.Add(1)
	}
	return c.Next.Predict(ctx, x, t, cond)
}

// Calls gibt die Anzahl bedingter und unbedingter Aufrufe zurueck.
func (c *Counting) Calls() (conditional, unconditional int64) {
	return c.conditional.Load(), c.unconditional.Load()
}
