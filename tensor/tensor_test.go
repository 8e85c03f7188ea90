// MODUL: tensor_test
// ZWECK: Tests fuer Tensor-Arithmetik, Precision-Rundung und Zufallsstrom
// INPUT: Synthetische Tensoren
// OUTPUT: Testresultate
// NEBENEFFEKTE: keine
// ABHAENGIGKEITEN: testing, testify, go-cmp, gonum/diff/fd
// HINWEISE: Stream-Tests pruefen Bit-Gleichheit bei gleichem Seed

package tensor

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/diff/fd"
)

func TestNewAndShape(t *testing.T) {
	x := New(2, 4, 3, 3)
	if x.Len() != 72 {
		t.Errorf("Len = %d, erwartet 72", x.Len())
	}
	if x.Batch() != 2 || x.SampleLen() != 36 {
		t.Errorf("Batch/SampleLen = %d/%d, erwartet 2/36", x.Batch(), x.SampleLen())
	}
	if diff := cmp.Diff([]int{2, 4, 3, 3}, x.Shape()); diff != "" {
		t.Errorf("Shape Abweichung (-want +got):\n%s", diff)
	}

	// Shape liefert eine Kopie
	s := x.Shape()
	s[0] = 99
	if x.Batch() != 2 {
		t.Error("Shape() darf interne Form nicht freigeben")
	}
}

func TestInvalidShapePanics(t *testing.T) {
	assert.Panics(t, func() { New() })
	assert.Panics(t, func() { New(2, 0) })
	assert.Panics(t, func() { FromSlice([]float64{1, 2, 3}, 2, 2) })
}

func TestArithmetic(t *testing.T) {
	a := FromSlice([]float64{1, 2, 3, 4}, 1, 4)
	b := FromSlice([]float64{4, 3, 2, 1}, 1, 4)

	tests := []struct {
		name string
		got  *Tensor
		want []float64
	}{
		{"Add", a.Add(b), []float64{5, 5, 5, 5}},
		{"Sub", a.Sub(b), []float64{-3, -1, 1, 3}},
		{"Mul", a.Mul(b), []float64{4, 6, 6, 4}},
		{"Scale", a.Scale(2), []float64{2, 4, 6, 8}},
		{"AddScaled", a.AddScaled(0.5, b), []float64{3, 3.5, 4, 4.5}},
		{"Combine", a.Combine(2, b, -1), []float64{-2, 1, 4, 7}},
		{"LinearCombination", LinearCombination(a, []float64{1, 0}, []*Tensor{b, nil}), []float64{5, 5, 5, 5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, tt.got.Data()); diff != "" {
				t.Errorf("%s Abweichung (-want +got):\n%s", tt.name, diff)
			}
		})
	}

	// Eingaben bleiben unveraendert
	if diff := cmp.Diff([]float64{1, 2, 3, 4}, a.Data()); diff != "" {
		t.Errorf("Operand wurde veraendert:\n%s", diff)
	}
}

func TestShapeMismatchPanics(t *testing.T) {
	a := New(1, 4)
	b := New(2, 2)
	assert.Panics(t, func() { a.Add(b) })
	assert.Panics(t, func() { a.AddScaled(1, b) })
}

func TestAllFinite(t *testing.T) {
	x := FromSlice([]float64{0, 1, -1}, 1, 3)
	assert.True(t, x.AllFinite())

	for _, bad := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		y := x.Clone()
		y.Data()[1] = bad
		assert.False(t, y.AllFinite(), "Wert %v muss erkannt werden", bad)
	}
}

func TestSampleReductions(t *testing.T) {
	x := FromSlice([]float64{1, 2, 3, 4}, 2, 2)
	assert.Equal(t, []float64{5, 25}, x.SampleSquaredNorm())
	assert.Equal(t, []float64{3, 4}, x.Sample(1))
	assert.InDelta(t, 3.0, x.MaxAbsDiff(New(2, 2).AddScaled(1, FromSlice([]float64{1, 2, 3, 1}, 2, 2))), 1e-12)
}

func TestRounded(t *testing.T) {
	x := FromSlice([]float64{1.0 / 3, 1e-3, 1000.123456789}, 1, 3)

	assert.Same(t, x, x.Rounded(FP64))

	fp32 := x.Rounded(FP32)
	assert.Equal(t, float64(float32(1.0/3)), fp32.Data()[0])

	for _, p := range []Precision{FP16, BF16} {
		r := x.Rounded(p)
		for i, v := range r.Data() {
			rel := math.Abs(v-x.Data()[i]) / math.Abs(x.Data()[i])
			if rel > 1e-2 {
				t.Errorf("%s: relativer Fehler %g bei Index %d zu gross", p, rel, i)
			}
		}
		// Rundung ist idempotent
		if diff := cmp.Diff(r.Data(), r.Rounded(p).Data()); diff != "" {
			t.Errorf("%s: erneutes Runden veraendert Werte:\n%s", p, diff)
		}
	}

	// bf16 hat weniger Mantissenbits als fp16
	assert.NotEqual(t, x.Rounded(FP16).Data()[0], x.Rounded(BF16).Data()[0])
}

func TestParsePrecision(t *testing.T) {
	for _, s := range []string{"fp64", "fp32", "bf16", "fp16"} {
		p, err := ParsePrecision(s)
		require.NoError(t, err)
		assert.Equal(t, Precision(s), p)
	}
	_, err := ParsePrecision("int8")
	assert.Error(t, err)
}

func TestDifferenceStep(t *testing.T) {
	assert.InEpsilon(t, fd.Central.Step, FP64.DifferenceStep(), 0.02)
	assert.Less(t, FP64.DifferenceStep(), FP32.DifferenceStep())
	assert.Less(t, FP32.DifferenceStep(), FP16.DifferenceStep())
	assert.Less(t, FP16.DifferenceStep(), BF16.DifferenceStep())

	// Zentraler Differenzenquotient ueber fp32-gerundete Werte von sin
	const x = 0.7
	f := func(v float64) float64 { return float64(float32(math.Sin(v))) }
	h := FP32.DifferenceStep()
	d := (f(x+h) - f(x-h)) / (2 * h)
	assert.InDelta(t, math.Cos(x), d, 1e-4)
}

func TestStreamDeterminism(t *testing.T) {
	a := NewStream(42).Normal(2, 8)
	b := NewStream(42).Normal(2, 8)
	c := NewStream(43).Normal(2, 8)

	if diff := cmp.Diff(a.Data(), b.Data()); diff != "" {
		t.Errorf("Gleicher Seed liefert unterschiedliche Werte:\n%s", diff)
	}
	assert.NotEqual(t, a.Data(), c.Data(), "Anderer Seed muss andere Werte liefern")
}

func TestStreamStatistics(t *testing.T) {
	s := NewStream(7)
	x := s.Normal(1, 20000)
	mean, std := x.Stats()
	assert.InDelta(t, 0, mean, 0.03)
	assert.InDelta(t, 1, std, 0.03)
	assert.Equal(t, uint64(20000), s.Draws())

	r := s.Rademacher(1, 1000)
	for _, v := range r.Data() {
		if v != 1 && v != -1 {
			t.Fatalf("Rademacher-Wert %v, erwartet ±1", v)
		}
	}
	assert.Equal(t, uint64(21000), s.Draws())
}

func TestStreamState(t *testing.T) {
	s := NewStream(1)
	before, err := s.State()
	require.NoError(t, err)
	s.Normal(1, 3)
	after, err := s.State()
	require.NoError(t, err)
	assert.NotEqual(t, before, after, "Zustand muss nach Ziehung weiterlaufen")
}

func TestUnseededStreamPanics(t *testing.T) {
	var s Stream
	assert.Panics(t, func() { s.Normal(1, 1) })

	var nilStream *Stream
	assert.Panics(t, func() { nilStream.Rademacher(1, 1) })
}
