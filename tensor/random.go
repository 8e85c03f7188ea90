// random.go - Geseedeter Zufallsstrom eines Sampling-Laufs
//
// Dieses Modul enthaelt:
// - Stream: PCG-basierter Strom fuer Gauss- und Rademacher-Ziehungen
// - State: serialisierter Cursor fuer Diagnose/Reproduktion
package tensor

import (
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// Stream ist der Zufallsstrom eines einzelnen Laufs.
// Nicht nebenlaeufig verwenden: jeder Lauf besitzt seinen eigenen Stream.
// Ein nicht geseedeter Stream (Zero Value) ist ein Programmierfehler.
type Stream struct {
	src    *rand.PCGSource
	rng    *rand.Rand
	normal distuv.Normal
	draws  uint64
}

// NewStream erzeugt einen Strom mit dem gegebenen Seed.
func NewStream(seed uint64) *Stream {
	src := &rand.PCGSource{}
	src.Seed(seed)
	return &Stream{
		src:    src,
		rng:    rand.New(src),
		normal: distuv.Normal{Mu: 0, Sigma: 1, Src: src},
	}
}

func (s *Stream) mustSeeded() {
	if s == nil || s.src == nil {
		panic("tensor: random stream used before seeding")
	}
}

// Normal zieht einen Tensor mit standardnormalverteilten Elementen.
func (s *Stream) Normal(shape ...int) *Tensor {
	s.mustSeeded()
	t := New(shape...)
	for i := range t.data {
		t.data[i] = s.normal.Rand()
	}
	s.draws += uint64(len(t.data))
	return t
}

// Rademacher zieht einen Tensor mit Elementen aus {-1, +1}.
func (s *Stream) Rademacher(shape ...int) *Tensor {
	s.mustSeeded()
	t := New(shape...)
	for i := range t.data {
		if s.rng.Uint64()&1 == 0 {
			t.data[i] = -1
		} else {
			t.data[i] = 1
		}
	}
	s.draws += uint64(len(t.data))
	return t
}

// Draws ist die Anzahl bisher gezogener Elemente.
func (s *Stream) Draws() uint64 {
	if s == nil {
		return 0
	}
	return s.draws
}

// State gibt den serialisierten Generatorzustand zurueck.
func (s *Stream) State() ([]byte, error) {
	s.mustSeeded()
	return s.src.MarshalBinary()
}
