// Package transport - Pfad-Schedules und Umrechnung von Netzwerkausgaben
//
// MODUL: transport
// ZWECK: Kodiert Pfadtyp (Linear/GVP/VP) und Vorhersageziel (velocity/score/noise)
//
//	und rechnet rohe Predictor-Ausgaben in Drift, Score und Diffusion um
//
// INPUT: Options (aus config.Transport), rohe Ausgabe, Latent x_t, Zeit t
// OUTPUT: Drift-Tensor, Diffusionskoeffizient, Integrationsintervall
// NEBENEFFEKTE: keine (alle Methoden sind rein)
// ABHAENGIGKEITEN: tensor, types/errtypes
// HINWEISE: Zeitkonvention t=0 Rauschen, t=1 Daten: x_t = alpha(t)*x1 + sigma(t)*x0.
//
//	Ungueltige Kombinationen werden bei New abgelehnt, nie waehrend eines Schritts.
package transport

import (
	"fmt"
	"math"

	"github.com/ollama/flowsample/tensor"
	"github.com/ollama/flowsample/types/errtypes"
)

// ============================================================================
// Enums
// ============================================================================

// PathType waehlt den Interpolations-Schedule.
type PathType string

const (
	Linear PathType = "Linear"
	GVP    PathType = "GVP"
	VP     PathType = "VP"
)

// ParsePathType validiert einen Pfadtyp.
func ParsePathType(s string) (PathType, error) {
	switch p := PathType(s); p {
	case Linear, GVP, VP:
		return p, nil
	default:
		return "", errtypes.NewConfigError("transport", "path_type", s, "want Linear, GVP or VP")
	}
}

// Prediction ist die Groesse, die das Netzwerk ausgibt.
type Prediction string

const (
	Velocity Prediction = "velocity"
	Score    Prediction = "score"
	Noise    Prediction = "noise"
)

// ParsePrediction validiert ein Vorhersageziel.
func ParsePrediction(s string) (Prediction, error) {
	switch p := Prediction(s); p {
	case Velocity, Score, Noise:
		return p, nil
	default:
		return "", errtypes.NewConfigError("transport", "prediction", s, "want velocity, score or noise")
	}
}

// LossWeight ist die Trainings-Gewichtung. Beim Sampling nur zur Konsistenzpruefung.
type LossWeight string

const (
	WeightNone       LossWeight = "None"
	WeightVelocity   LossWeight = "velocity"
	WeightLikelihood LossWeight = "likelihood"
)

// ParseLossWeight validiert eine Gewichtung. Leerer String entspricht None.
func ParseLossWeight(s string) (LossWeight, error) {
	switch w := LossWeight(s); w {
	case "", WeightNone:
		return WeightNone, nil
	case WeightVelocity, WeightLikelihood:
		return w, nil
	default:
		return "", errtypes.NewConfigError("transport", "loss_weight", s, "want None, velocity or likelihood")
	}
}

// ============================================================================
// Transport
// ============================================================================

// Options beschreibt eine Transport-Konfiguration.
// SampleEps/TrainEps = 0 bedeutet: Default abhaengig von Pfad und Vorhersage.
type Options struct {
	PathType   PathType
	Prediction Prediction
	LossWeight LossWeight
	SampleEps  float64
	TrainEps   float64
}

// Transport ist eine validierte, unveraenderliche Transport-Spezifikation.
type Transport struct {
	path       PathType
	prediction Prediction
	lossWeight LossWeight
	sampleEps  float64
	trainEps   float64
}

// Parameter des VP-Schedules (beta_min, beta_max).
const (
	vpBetaMin = 0.1
	vpBetaMax = 20.0
)

// New validiert opts und erzeugt einen Transport.
func New(opts Options) (*Transport, error) {
	path, err := ParsePathType(string(opts.PathType))
	if err != nil {
		return nil, err
	}
	pred, err := ParsePrediction(string(opts.Prediction))
	if err != nil {
		return nil, err
	}
	weight, err := ParseLossWeight(string(opts.LossWeight))
	if err != nil {
		return nil, err
	}
	if weight != WeightNone && pred == Velocity {
		return nil, errtypes.NewConfigError("transport", "loss_weight", weight,
			"loss weighting only applies to score or noise prediction")
	}

	for _, e := range []struct {
		name string
		v    float64
	}{{"sample_eps", opts.SampleEps}, {"train_eps", opts.TrainEps}} {
		if e.v != 0 && (e.v <= 0 || e.v >= 1 || math.IsNaN(e.v)) {
			return nil, errtypes.NewConfigError("transport", e.name, e.v, "must lie in (0, 1)")
		}
	}

	defTrain, defSample := DefaultEps(path, pred)
	tr := &Transport{
		path:       path,
		prediction: pred,
		lossWeight: weight,
		sampleEps:  defSample,
		trainEps:   defTrain,
	}
	if opts.SampleEps != 0 {
		tr.sampleEps = opts.SampleEps
	}
	if opts.TrainEps != 0 {
		tr.trainEps = opts.TrainEps
	}
	return tr, nil
}

// DefaultEps gibt die Standardwerte (train, sample) fuer Pfad und Vorhersage zurueck.
func DefaultEps(path PathType, pred Prediction) (train, sample float64) {
	switch {
	case path == VP:
		return 1e-5, 1e-3
	case pred != Velocity:
		return 1e-3, 1e-3
	default:
		return 0, 0
	}
}

func (tr *Transport) PathType() PathType     { return tr.path }
func (tr *Transport) Prediction() Prediction { return tr.prediction }
func (tr *Transport) LossWeight() LossWeight { return tr.lossWeight }
func (tr *Transport) SampleEps() float64     { return tr.sampleEps }
func (tr *Transport) TrainEps() float64      { return tr.trainEps }

func (tr *Transport) String() string {
	return fmt.Sprintf("Transport(%s, %s, eps=%g)", tr.path, tr.prediction, tr.sampleEps)
}

// ============================================================================
// Intervall
// ============================================================================

// IntervalOptions steuert die Wahl des Integrationsintervalls.
type IntervalOptions struct {
	SDE           bool
	DiffusionForm DiffusionForm
	LastStepSize  float64
	Train         bool // train_eps statt sample_eps
}

// Interval gibt das Integrationsintervall [t0, t1] in Datenzeit zurueck.
// Rauschen liegt bei t0, Daten bei t1; t1 endet vor dem Schluss-Schritt.
func (tr *Transport) Interval(o IntervalOptions) (t0, t1 float64) {
	eps := tr.sampleEps
	if o.Train {
		eps = tr.trainEps
	}

	end := 1 - eps
	if o.SDE && o.LastStepSize > 0 {
		end = 1 - o.LastStepSize
	}

	switch {
	case tr.path == VP:
		return 0, end
	case tr.prediction != Velocity || o.SDE:
		if (o.DiffusionForm == SBDM && o.SDE) || tr.prediction != Velocity {
			t0 = eps
		}
		return t0, end
	default:
		return 0, 1
	}
}

// CheckInterval prueft, dass alle Koeffizienten, die ein Lauf auf [t0, t1]
// auswertet, endlich sind. Liefert einen ConfigError sonst.
func (tr *Transport) CheckInterval(t0, t1 float64, sde bool, d DiffusionSpec) error {
	for _, t := range []float64{t0, t1} {
		c := tr.Coefficients(t)
		if tr.prediction == Noise && c.Sigma <= 0 {
			return errtypes.NewConfigError("transport", "prediction", tr.prediction,
				fmt.Sprintf("noise prediction needs sigma(t) > 0, sigma vanishes at t=%g", t))
		}
		if tr.prediction != Velocity {
			if r, dv := tr.driftCoefficients(t); !finite(r) || !finite(dv) {
				return errtypes.NewConfigError("transport", "sample_eps", tr.sampleEps,
					fmt.Sprintf("%s prediction on %s path is singular at t=%g", tr.prediction, tr.path, t))
			}
		}
		if !sde {
			continue
		}
		if tr.prediction == Velocity {
			if den := tr.velocityScoreDenominator(c); !finite(den) || den == 0 || c.DAlpha == 0 {
				return errtypes.NewConfigError("transport", "sample_eps", tr.sampleEps,
					fmt.Sprintf("score from velocity is undefined at t=%g", t))
			}
		}
		if w := tr.Diffusion(t, d); !finite(w) || w < 0 {
			return errtypes.NewConfigError("sde", "diffusion_form", d.Form,
				fmt.Sprintf("diffusion is %g at t=%g", w, t))
		}
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// ============================================================================
// Prior
// ============================================================================

// PriorLogProb gibt pro Batch-Eintrag log N(z; 0, I) zurueck.
func (tr *Transport) PriorLogProb(z *tensor.Tensor) []float64 {
	n := float64(z.SampleLen())
	sq := z.SampleSquaredNorm()
	out := make([]float64, len(sq))
	for i, s := range sq {
		out[i] = -n/2*math.Log(2*math.Pi) - s/2
	}
	return out
}
