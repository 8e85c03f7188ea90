// Package tensor - Dichte float64-Tensoren fuer die Sampling-Engine
//
// MODUL: tensor
// ZWECK: Latent-Tensoren mit Form, elementweiser Arithmetik und Batch-Zugriff
// INPUT: Formen ([B, C, H, W]), Rohdaten
// OUTPUT: Neue Tensoren (Operationen allozieren, Eingaben bleiben unveraendert)
// NEBENEFFEKTE: keine
// ABHAENGIGKEITEN: gonum.org/v1/gonum/floats, gonum.org/v1/gonum/stat
// HINWEISE: Formfehler sind Programmierfehler und fuehren zu panic
package tensor

import (
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Tensor ist ein dichter, zeilenweise gespeicherter float64-Tensor.
// Die erste Dimension ist die Batch-Dimension.
type Tensor struct {
	shape []int
	data  []float64
}

// New erzeugt einen Null-Tensor der angegebenen Form.
func New(shape ...int) *Tensor {
	n := numel(shape)
	return &Tensor{shape: slices.Clone(shape), data: make([]float64, n)}
}

// FromSlice erzeugt einen Tensor ueber data (ohne Kopie).
func FromSlice(data []float64, shape ...int) *Tensor {
	if n := numel(shape); n != len(data) {
		panic(fmt.Sprintf("tensor: shape %v needs %d values, got %d", shape, n, len(data)))
	}
	return &Tensor{shape: slices.Clone(shape), data: data}
}

// Full erzeugt einen Tensor, dessen Elemente alle v sind.
func Full(v float64, shape ...int) *Tensor {
	t := New(shape...)
	for i := range t.data {
		t.data[i] = v
	}
	return t
}

func numel(shape []int) int {
	if len(shape) == 0 {
		panic("tensor: empty shape")
	}
	n := 1
	for _, d := range shape {
		if d <= 0 {
			panic(fmt.Sprintf("tensor: invalid dimension in shape %v", shape))
		}
		n *= d
	}
	return n
}

// Shape gibt eine Kopie der Form zurueck.
func (t *Tensor) Shape() []int { return slices.Clone(t.shape) }

// Data gibt die Rohdaten zurueck (keine Kopie).
func (t *Tensor) Data() []float64 { return t.data }

// Len ist die Anzahl der Elemente.
func (t *Tensor) Len() int { return len(t.data) }

// Batch ist die Groesse der fuehrenden Dimension.
func (t *Tensor) Batch() int { return t.shape[0] }

// SampleLen ist die Anzahl der Elemente pro Batch-Eintrag.
func (t *Tensor) SampleLen() int { return len(t.data) / t.shape[0] }

// Sample gibt die Daten des Batch-Eintrags b zurueck (keine Kopie).
func (t *Tensor) Sample(b int) []float64 {
	n := t.SampleLen()
	return t.data[b*n : (b+1)*n]
}

// SameShape prueft ob beide Tensoren dieselbe Form haben.
func (t *Tensor) SameShape(o *Tensor) bool {
	return o != nil && slices.Equal(t.shape, o.shape)
}

// Clone erzeugt eine tiefe Kopie.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{shape: slices.Clone(t.shape), data: slices.Clone(t.data)}
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor%v", t.shape)
}

func (t *Tensor) mustMatch(o *Tensor) {
	if !t.SameShape(o) {
		panic(fmt.Sprintf("tensor: shape mismatch %v vs %v", t.shape, o.Shape()))
	}
}

// ============================================================================
// Elementweise Arithmetik
// ============================================================================

// Scale gibt c*t zurueck.
func (t *Tensor) Scale(c float64) *Tensor {
	out := New(t.shape...)
	floats.ScaleTo(out.data, c, t.data)
	return out
}

// Add gibt t+o zurueck.
func (t *Tensor) Add(o *Tensor) *Tensor {
	t.mustMatch(o)
	out := New(t.shape...)
	floats.AddTo(out.data, t.data, o.data)
	return out
}

// Sub gibt t-o zurueck.
func (t *Tensor) Sub(o *Tensor) *Tensor {
	t.mustMatch(o)
	out := New(t.shape...)
	floats.SubTo(out.data, t.data, o.data)
	return out
}

// Mul gibt das elementweise Produkt zurueck.
func (t *Tensor) Mul(o *Tensor) *Tensor {
	t.mustMatch(o)
	out := New(t.shape...)
	floats.MulTo(out.data, t.data, o.data)
	return out
}

// AddScaled gibt t + alpha*o zurueck.
func (t *Tensor) AddScaled(alpha float64, o *Tensor) *Tensor {
	t.mustMatch(o)
	out := New(t.shape...)
	floats.AddScaledTo(out.data, t.data, alpha, o.data)
	return out
}

// Combine gibt a*t + b*o zurueck.
func (t *Tensor) Combine(a float64, o *Tensor, b float64) *Tensor {
	t.mustMatch(o)
	out := New(t.shape...)
	floats.ScaleTo(out.data, a, t.data)
	floats.AddScaled(out.data, b, o.data)
	return out
}

// LinearCombination gibt base + sum(coeffs[i]*terms[i]) zurueck.
// Null-Koeffizienten werden uebersprungen.
func LinearCombination(base *Tensor, coeffs []float64, terms []*Tensor) *Tensor {
	if len(coeffs) != len(terms) {
		panic("tensor: coefficient/term count mismatch")
	}
	out := base.Clone()
	for i, c := range coeffs {
		if c == 0 {
			continue
		}
		base.mustMatch(terms[i])
		floats.AddScaled(out.data, c, terms[i].data)
	}
	return out
}

// ============================================================================
// Reduktionen und Pruefungen
// ============================================================================

// AllFinite prueft, dass kein Element NaN oder ±Inf ist.
func (t *Tensor) AllFinite() bool {
	if floats.HasNaN(t.data) {
		return false
	}
	for _, v := range t.data {
		if math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// SampleDot gibt pro Batch-Eintrag das Skalarprodukt <t_b, o_b> zurueck.
func (t *Tensor) SampleDot(o *Tensor) []float64 {
	t.mustMatch(o)
	out := make([]float64, t.Batch())
	for b := range out {
		out[b] = floats.Dot(t.Sample(b), o.Sample(b))
	}
	return out
}

// SampleSquaredNorm gibt pro Batch-Eintrag ||t_b||^2 zurueck.
func (t *Tensor) SampleSquaredNorm() []float64 {
	return t.SampleDot(t)
}

// MaxAbsDiff ist die Maximumsnorm von t-o.
func (t *Tensor) MaxAbsDiff(o *Tensor) float64 {
	t.mustMatch(o)
	return floats.Distance(t.data, o.data, math.Inf(1))
}

// Stats gibt Mittelwert und Standardabweichung aller Elemente zurueck.
func (t *Tensor) Stats() (mean, std float64) {
	return stat.MeanStdDev(t.data, nil)
}
