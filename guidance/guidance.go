// Package guidance - Classifier-free Guidance
//
// MODUL: guidance
// ZWECK: Kombiniert bedingte und unbedingte Vorhersage: u + s*(c - u)
// INPUT: cond, uncond (gleiche Form), Skalierung s, optionale Kanalgrenze
// OUTPUT: gefuehrte Vorhersage
// NEBENEFFEKTE: keine
// ABHAENGIGKEITEN: tensor
// HINWEISE: s=1 gibt cond unveraendert zurueck (bitgleich), uncond wird dann nicht benoetigt
package guidance

import (
	"fmt"

	"github.com/ollama/flowsample/tensor"
	"github.com/ollama/flowsample/types/errtypes"
)

// Bereich der Guidance-Skalierung.
const (
	MinScale = 1.0
	MaxScale = 20.0
)

// Scaler haelt Skalierung und Kanalgrenze eines Laufs.
type Scaler struct {
	scale    float64
	channels int
}

// New validiert scale und channels. channels=0 fuehrt alle Kanaele.
func New(scale float64, channels int) (*Scaler, error) {
	if !(scale >= MinScale && scale <= MaxScale) {
		return nil, errtypes.NewConfigError("infer", "cfg_scale", scale, fmt.Sprintf("must lie in [%g, %g]", MinScale, MaxScale))
	}
	if channels < 0 {
		return nil, errtypes.NewConfigError("infer", "guidance_channels", channels, "must be >= 0")
	}
	return &Scaler{scale: scale, channels: channels}, nil
}

func (s *Scaler) Scale() float64 { return s.scale }

// NeedsUnconditional meldet, ob der unbedingte Zweig ausgewertet werden muss.
func (s *Scaler) NeedsUnconditional() bool { return s.scale != 1 }

// Guide kombiniert cond und uncond. Bei s=1 ist uncond optional (nil erlaubt).
func (s *Scaler) Guide(cond, uncond *tensor.Tensor) *tensor.Tensor {
	if !s.NeedsUnconditional() {
		return cond
	}
	if uncond == nil {
		panic("guidance: unconditional prediction required for cfg_scale != 1")
	}
	if s.channels == 0 {
		return Guide(cond, uncond, s.scale)
	}
	return guideChannels(cond, uncond, s.scale, s.channels)
}

// Guide berechnet uncond + scale*(cond - uncond) elementweise.
func Guide(cond, uncond *tensor.Tensor, scale float64) *tensor.Tensor {
	if scale == 1 {
		return cond
	}
	if !cond.SameShape(uncond) {
		panic(fmt.Sprintf("guidance: shape mismatch %v vs %v", cond.Shape(), uncond.Shape()))
	}
	out := tensor.New(cond.Shape()...)
	c, u, o := cond.Data(), uncond.Data(), out.Data()
	for i := range o {
		o[i] = u[i] + scale*(c[i]-u[i])
	}
	return out
}

// guideChannels fuehrt nur die ersten k Kanaele eines [B, C, ...]-Tensors,
// die restlichen Kanaele kommen unveraendert aus cond.
func guideChannels(cond, uncond *tensor.Tensor, scale float64, k int) *tensor.Tensor {
	shape := cond.Shape()
	if len(shape) < 2 || k >= shape[1] {
		return Guide(cond, uncond, scale)
	}
	if !cond.SameShape(uncond) {
		panic(fmt.Sprintf("guidance: shape mismatch %v vs %v", shape, uncond.Shape()))
	}

	plane := cond.SampleLen() / shape[1]
	out := cond.Clone()
	c, u, o := cond.Data(), uncond.Data(), out.Data()
	for b := 0; b < shape[0]; b++ {
		start := b * cond.SampleLen()
		for i := start; i < start+k*plane; i++ {
			o[i] = u[i] + scale*(c[i]-u[i])
		}
	}
	return out
}
