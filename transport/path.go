// path.go - Schedules alpha(t), sigma(t) der drei Pfadtypen
//
// Dieses Modul enthaelt:
// - Coefficients: alpha, alpha', sigma und sigma*sigma' an einem Zeitpunkt
// - driftCoefficients: alpha'/alpha und der Varianzterm D(t) der ODE-Drift
package transport

import (
	"math"

	"github.com/ollama/flowsample/tensor"
)

// Coefficients sind die Schedule-Werte zu einem Zeitpunkt.
// SigmaDSigma ist das Produkt sigma*sigma' (bleibt bei sigma=0 endlich).
type Coefficients struct {
	Alpha       float64
	DAlpha      float64
	Sigma       float64
	SigmaDSigma float64
}

// Coefficients wertet den Schedule bei t aus.
func (tr *Transport) Coefficients(t float64) Coefficients {
	switch tr.path {
	case Linear:
		return Coefficients{Alpha: t, DAlpha: 1, Sigma: 1 - t, SigmaDSigma: -(1 - t)}
	case GVP:
		s, c := math.Sincos(t * math.Pi / 2)
		return Coefficients{
			Alpha:       s,
			DAlpha:      math.Pi / 2 * c,
			Sigma:       c,
			SigmaDSigma: -math.Pi / 2 * s * c,
		}
	case VP:
		alpha := math.Exp(vpLogMeanCoeff(t))
		dAlpha := alpha * vpBeta(t) / 2
		return Coefficients{
			Alpha:       alpha,
			DAlpha:      dAlpha,
			Sigma:       math.Sqrt(math.Max(0, 1-alpha*alpha)),
			SigmaDSigma: -alpha * dAlpha,
		}
	default:
		panic("transport: unhandled path type " + string(tr.path))
	}
}

// Alpha gibt alpha(t) zurueck.
func (tr *Transport) Alpha(t float64) float64 { return tr.Coefficients(t).Alpha }

// Sigma gibt sigma(t) zurueck.
func (tr *Transport) Sigma(t float64) float64 { return tr.Coefficients(t).Sigma }

func vpLogMeanCoeff(t float64) float64 {
	return -0.25*(1-t)*(1-t)*(vpBetaMax-vpBetaMin) - 0.5*(1-t)*vpBetaMin
}

// vpBeta ist beta(t) in Datenzeit; d/dt log alpha = beta/2.
func vpBeta(t float64) float64 {
	return vpBetaMin + (1-t)*(vpBetaMax-vpBetaMin)
}

// driftCoefficients gibt alpha'/alpha und D(t) = (alpha'/alpha)*sigma^2 - sigma*sigma' zurueck.
func (tr *Transport) driftCoefficients(t float64) (ratio, d float64) {
	if tr.path == VP {
		b := vpBeta(t)
		return b / 2, b / 2
	}
	c := tr.Coefficients(t)
	ratio = c.DAlpha / c.Alpha
	return ratio, ratio*c.Sigma*c.Sigma - c.SigmaDSigma
}

// Interpolate gibt x_t = alpha(t)*x1 + sigma(t)*x0 zurueck.
func (tr *Transport) Interpolate(x0, x1 *tensor.Tensor, t float64) *tensor.Tensor {
	c := tr.Coefficients(t)
	return x1.Combine(c.Alpha, x0, c.Sigma)
}
