// drift.go - Kanonisierung roher Netzwerkausgaben
//
// Dieses Modul enthaelt:
// - Score: rohe Ausgabe -> Score
// - Drift: rohe Ausgabe -> ODE-Drift
// - DriftAndDiffusion: rohe Ausgabe -> SDE-Drift und Rauschamplitude
// - Diffusion: w(t) je DiffusionForm
// - Tweedie: Entrauschung aus Score
package transport

import (
	"math"

	"github.com/ollama/flowsample/tensor"
	"github.com/ollama/flowsample/types/errtypes"
)

// DiffusionForm waehlt den Diffusionskoeffizienten w(t) der SDE.
type DiffusionForm string

const (
	Constant             DiffusionForm = "constant"
	SBDM                 DiffusionForm = "SBDM"
	SigmaForm            DiffusionForm = "sigma"
	LinearForm           DiffusionForm = "linear"
	Decreasing           DiffusionForm = "decreasing"
	IncreasingDecreasing DiffusionForm = "increasing-decreasing"
)

// ParseDiffusionForm validiert eine Diffusionsform.
func ParseDiffusionForm(s string) (DiffusionForm, error) {
	switch f := DiffusionForm(s); f {
	case Constant, SBDM, SigmaForm, LinearForm, Decreasing, IncreasingDecreasing:
		return f, nil
	default:
		return "", errtypes.NewConfigError("sde", "diffusion_form", s,
			"want constant, SBDM, sigma, linear, decreasing or increasing-decreasing")
	}
}

// DiffusionSpec ist Form und Skalierung des Diffusionskoeffizienten.
type DiffusionSpec struct {
	Form DiffusionForm
	Norm float64
}

// Diffusion gibt w(t) zurueck.
func (tr *Transport) Diffusion(t float64, d DiffusionSpec) float64 {
	switch d.Form {
	case Constant:
		return d.Norm
	case SBDM:
		_, dv := tr.driftCoefficients(t)
		return d.Norm * dv
	case SigmaForm:
		return d.Norm * tr.Sigma(t)
	case LinearForm:
		return d.Norm * (1 - t)
	case Decreasing:
		v := d.Norm*math.Cos(math.Pi*t) + 1
		return 0.25 * v * v
	case IncreasingDecreasing:
		s := math.Sin(math.Pi * t)
		return d.Norm * s * s
	default:
		panic("transport: unhandled diffusion form " + string(d.Form))
	}
}

func (tr *Transport) velocityScoreDenominator(c Coefficients) float64 {
	return c.Sigma*c.Sigma - c.Alpha/c.DAlpha*c.SigmaDSigma
}

// Score rechnet die rohe Ausgabe bei (x, t) in den Score grad log p_t(x) um.
func (tr *Transport) Score(raw, x *tensor.Tensor, t float64) *tensor.Tensor {
	switch tr.prediction {
	case Score:
		return raw
	case Noise:
		return raw.Scale(-1 / tr.Sigma(t))
	case Velocity:
		c := tr.Coefficients(t)
		inv := 1 / tr.velocityScoreDenominator(c)
		return raw.Combine(c.Alpha/c.DAlpha*inv, x, -inv)
	default:
		panic("transport: unhandled prediction " + string(tr.prediction))
	}
}

// Drift gibt die ODE-Drift dx/dt bei (x, t) zurueck.
func (tr *Transport) Drift(raw, x *tensor.Tensor, t float64) *tensor.Tensor {
	switch tr.prediction {
	case Velocity:
		return raw
	case Score, Noise:
		ratio, dv := tr.driftCoefficients(t)
		return x.Combine(ratio, tr.Score(raw, x, t), dv)
	default:
		panic("transport: unhandled prediction " + string(tr.prediction))
	}
}

// DriftAndDiffusion gibt die SDE-Drift f + w*score und die Rauschamplitude sqrt(2w) zurueck.
func (tr *Transport) DriftAndDiffusion(raw, x *tensor.Tensor, t float64, d DiffusionSpec) (*tensor.Tensor, float64) {
	w := tr.Diffusion(t, d)
	drift := tr.Drift(raw, x, t)
	if w != 0 {
		drift = drift.AddScaled(w, tr.Score(raw, x, t))
	}
	return drift, math.Sqrt(2 * w)
}

// Tweedie schaetzt die saubere Probe x/alpha + sigma^2/alpha * score.
func (tr *Transport) Tweedie(raw, x *tensor.Tensor, t float64) *tensor.Tensor {
	c := tr.Coefficients(t)
	return x.Combine(1/c.Alpha, tr.Score(raw, x, t), c.Sigma*c.Sigma/c.Alpha)
}
