// precision.go - Emulation reduzierter Genauigkeit (autocast)
//
// Dieses Modul enthaelt:
// - Precision: fp64, fp32, bf16, fp16
// - Rounded: rundet einen Tensor ueber den jeweiligen Zahlentyp
// - Epsilon/DifferenceStep: Maschinengenauigkeit und passende Differenzen-Schrittweite
package tensor

import (
	"fmt"
	"math"

	bfloat16 "github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"
)

// Precision ist der Zahlentyp, in dem Netzwerkausgaben vorliegen.
type Precision string

const (
	FP64 Precision = "fp64"
	FP32 Precision = "fp32"
	BF16 Precision = "bf16"
	FP16 Precision = "fp16"
)

// ParsePrecision validiert einen Precision-String.
func ParsePrecision(s string) (Precision, error) {
	switch p := Precision(s); p {
	case FP64, FP32, BF16, FP16:
		return p, nil
	default:
		return "", fmt.Errorf("tensor: unknown precision %q (want fp64, fp32, bf16 or fp16)", s)
	}
}

// Epsilon ist der Abstand von 1 zur naechsten darstellbaren Zahl.
func (p Precision) Epsilon() float64 {
	switch p {
	case FP32:
		return 0x1p-23
	case BF16:
		return 0x1p-7
	case FP16:
		return 0x1p-10
	default:
		return 0x1p-52
	}
}

// DifferenceStep ist die Schrittweite eines zentralen Differenzenquotienten
// ueber Werte dieser Genauigkeit: eps^(1/3). Fuer FP64 etwa der
// Default-Schritt von gonum fd.Central (6e-6).
func (p Precision) DifferenceStep() float64 {
	return math.Cbrt(p.Epsilon())
}

// Rounded gibt t nach einem Rundlauf durch den Zahlentyp p zurueck.
// FP64 gibt t selbst zurueck.
func (t *Tensor) Rounded(p Precision) *Tensor {
	switch p {
	case FP64, "":
		return t
	case FP32:
		out := New(t.shape...)
		for i, v := range t.data {
			out.data[i] = float64(float32(v))
		}
		return out
	case FP16:
		out := New(t.shape...)
		for i, v := range t.data {
			out.data[i] = float64(float16.Fromfloat32(float32(v)).Float32())
		}
		return out
	case BF16:
		f32 := make([]float32, len(t.data))
		for i, v := range t.data {
			f32[i] = float32(v)
		}
		f32 = bfloat16.DecodeFloat32(bfloat16.EncodeFloat32(f32))
		out := New(t.shape...)
		for i, v := range f32 {
			out.data[i] = float64(v)
		}
		return out
	default:
		panic(fmt.Sprintf("tensor: unknown precision %q", p))
	}
}
