// Package resolution - Aufloesungsabhaengige Korrekturen
//
// MODUL: resolution
// ZWECK: Parst Aufloesungen und leitet Zeit-Shift, NTK-Faktor und
//
//	Attention-Skalierung fuer eine Zielaufloesung ab
//
// INPUT: Aufloesungs-String ("1024x1024", "(Extrapolation) 2048x1024"), Basisaufloesung
// OUTPUT: Resolution, Scaling
// NEBENEFFEKTE: keine
// ABHAENGIGKEITEN: types/errtypes
// HINWEISE: Wird einmal pro Lauf aufgerufen, nicht pro Schritt.
//
//	Breite steht vor Hoehe ("WxH").
package resolution

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/ollama/flowsample/types/errtypes"
)

var (
	ErrFormat   = errors.New("resolution: expected WIDTHxHEIGHT")
	ErrMultiple = errors.New("resolution: dimensions must be positive multiples of 16")
)

// Alignment ist das Vielfache, auf das Breite und Hoehe fallen muessen
// (VAE-Downsampling 8 mal Patchgroesse 2).
const Alignment = 16

// Resolution ist eine Bildaufloesung in Pixeln.
type Resolution struct {
	Width  int
	Height int
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// Parse liest "WxH". Ein Praefix wie "(Extrapolation) " wird ignoriert,
// massgeblich ist das letzte durch Leerzeichen getrennte Token.
func Parse(s string) (Resolution, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return Resolution{}, configError(s, ErrFormat)
	}
	w, h, ok := strings.Cut(strings.ToLower(fields[len(fields)-1]), "x")
	if !ok {
		return Resolution{}, configError(s, ErrFormat)
	}
	width, err := strconv.Atoi(w)
	if err != nil {
		return Resolution{}, configError(s, ErrFormat)
	}
	height, err := strconv.Atoi(h)
	if err != nil {
		return Resolution{}, configError(s, ErrFormat)
	}
	r := Resolution{Width: width, Height: height}
	if err := r.Validate(); err != nil {
		return Resolution{}, configError(s, err)
	}
	return r, nil
}

func configError(s string, err error) error {
	return &errtypes.ConfigError{Section: "infer", Field: "resolution", Value: s, Err: err}
}

// Validate prueft, dass beide Dimensionen positive Vielfache von Alignment sind.
func (r Resolution) Validate() error {
	if r.Width <= 0 || r.Height <= 0 || r.Width%Alignment != 0 || r.Height%Alignment != 0 {
		return ErrMultiple
	}
	return nil
}

// LatentShape gibt [batch, channels, H/downsample, W/downsample] zurueck.
func (r Resolution) LatentShape(batch, channels, downsample int) []int {
	return []int{batch, channels, r.Height / downsample, r.Width / downsample}
}

// Grid gibt die Tokengitter-Dimensionen (h, w) nach Downsampling und Patching zurueck.
func (r Resolution) Grid(downsample, patch int) (h, w int) {
	f := downsample * patch
	return r.Height / f, r.Width / f
}

// Tokens ist die Anzahl der Bildtokens.
func (r Resolution) Tokens(downsample, patch int) int {
	h, w := r.Grid(downsample, patch)
	return h * w
}

// SeqLen ist die Sequenzlaenge inklusive Zeilen- und Spaltenmarker (h*w + h + w).
func (r Resolution) SeqLen(downsample, patch int) int {
	h, w := r.Grid(downsample, patch)
	return h*w + h + w
}

// ============================================================================
// Adapter
// ============================================================================

// Adapter leitet die Korrekturen relativ zur Trainingsaufloesung ab.
type Adapter struct {
	Base             Resolution
	Downsample       int
	Patch            int
	NTKScaling       bool
	ProportionalAttn bool
}

// Scaling sind die aus einer Zielaufloesung abgeleiteten Konstanten eines Laufs.
type Scaling struct {
	Resolution     Resolution
	Shift          float64 // effektiver Zeit-Shift
	NTKFactor      float64 // 1 ohne NTK-Skalierung
	AttentionScale float64 // 1 ohne proportionale Attention
	Tokens         int
	BaseTokens     int
	SeqLen         int
	BaseSeqLen     int
}

// EffectiveShift gibt den Zeit-Shift fuer res zurueck. Ohne NTK-Skalierung
// bleibt tShift unveraendert, sonst waechst er mit sqrt(N/N_base), nie unter tShift.
func (a Adapter) EffectiveShift(res Resolution, tShift float64) float64 {
	if !a.NTKScaling {
		return tShift
	}
	ratio := float64(res.Tokens(a.Downsample, a.Patch)) / float64(a.Base.Tokens(a.Downsample, a.Patch))
	return tShift * math.Max(1, math.Sqrt(ratio))
}

// PositionalScale gibt log(N_seq)/log(N_base_seq) zurueck, 1 wenn deaktiviert.
func (a Adapter) PositionalScale(res Resolution) float64 {
	if !a.ProportionalAttn {
		return 1
	}
	base := a.Base.SeqLen(a.Downsample, a.Patch)
	if base <= 1 {
		return 1
	}
	return math.Log(float64(res.SeqLen(a.Downsample, a.Patch))) / math.Log(float64(base))
}

// Adapt berechnet alle Konstanten fuer res.
func (a Adapter) Adapt(res Resolution, tShift float64) Scaling {
	s := Scaling{
		Resolution:     res,
		Shift:          a.EffectiveShift(res, tShift),
		NTKFactor:      1,
		AttentionScale: a.PositionalScale(res),
		Tokens:         res.Tokens(a.Downsample, a.Patch),
		BaseTokens:     a.Base.Tokens(a.Downsample, a.Patch),
		SeqLen:         res.SeqLen(a.Downsample, a.Patch),
		BaseSeqLen:     a.Base.SeqLen(a.Downsample, a.Patch),
	}
	if a.NTKScaling {
		s.NTKFactor = float64(s.Tokens) / float64(s.BaseTokens)
	}
	return s
}

// RopeFrequencies gibt die NTK-skalierten RoPE-Frequenzen 1/(theta*ntk)^(4i/dim)
// fuer i < dim/4 zurueck.
func (s Scaling) RopeFrequencies(dim int, theta float64) []float64 {
	ntk := s.NTKFactor
	if ntk <= 0 {
		ntk = 1
	}
	base := theta * ntk
	freqs := make([]float64, dim/4)
	for i := range freqs {
		freqs[i] = 1 / math.Pow(base, float64(4*i)/float64(dim))
	}
	return freqs
}

// ============================================================================
// Zeit-Shift
// ============================================================================

// Shift wendet den Zeit-Shift in Datenzeit an: t/(t + s - s*t).
// In Rauschzeit u = 1-t entspricht das u' = s*u/(1 + (s-1)*u).
func Shift(t, shift float64) float64 {
	if shift == 1 {
		return t
	}
	return t / (t + shift - shift*t)
}

// Grid gibt n+1 Punkte auf [t0, t1] zurueck, gleichabstaendig in der
// geshifteten Zeit. Der Shift wirkt auf den Anteil i/n, die Endpunkte bleiben fest.
func Grid(t0, t1 float64, n int, shift float64) []float64 {
	if n < 1 {
		panic("resolution: grid needs at least one interval")
	}
	ts := make([]float64, n+1)
	for i := range ts {
		ts[i] = t0 + (t1-t0)*Shift(float64(i)/float64(n), shift)
	}
	ts[0], ts[n] = t0, t1
	return ts
}
