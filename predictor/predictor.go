// Package predictor - Schnittstelle zum externen Vektorfeld-/Score-Netzwerk
//
// MODUL: predictor
// ZWECK: Definiert die Predictor-Faehigkeit, die der Sampler aufruft, sowie
//
//	analytische Referenz-Predictors fuer Tests und die CLI
//
// INPUT: Latent x, Zeit t (Datenzeit, 0=Rauschen), Condition
// OUTPUT: rohe Vorhersage mit der Form von x
// NEBENEFFEKTE: keine (Referenz-Predictors sind rein)
// ABHAENGIGKEITEN: tensor, transport, resolution
// HINWEISE: Der Sampler prueft die Ausgabeform und verpackt Fehler in PredictorError
package predictor

import (
	"context"

	"github.com/ollama/flowsample/resolution"
	"github.com/ollama/flowsample/tensor"
)

// Condition begleitet jeden Predictor-Aufruf.
type Condition struct {
	// Payload sind die undurchsichtigen Konditionierungsdaten (z.B. Caption-Features).
	Payload any

	// Unconditional markiert den unbedingten Zweig der Guidance.
	Unconditional bool

	// Scaling sind die einmal pro Lauf abgeleiteten Aufloesungskonstanten
	// (NTK-Faktor, Attention-Skalierung, Sequenzlaengen).
	Scaling resolution.Scaling
}

// Predictor ist das externe Netzwerk. Predict muss einen Tensor mit der Form von x liefern.
type Predictor interface {
	Predict(ctx context.Context, x *tensor.Tensor, t float64, cond Condition) (*tensor.Tensor, error)
}

// Func adaptiert eine Funktion an das Predictor-Interface.
type Func func(ctx context.Context, x *tensor.Tensor, t float64, cond Condition) (*tensor.Tensor, error)

func (f Func) Predict(ctx context.Context, x *tensor.Tensor, t float64, cond Condition) (*tensor.Tensor, error) {
	return f(ctx, x, t, cond)
}
