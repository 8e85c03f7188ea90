// observer.go - Lauf- und Schritt-Events
//
// Dieses Modul enthaelt:
// - Event/EventKind: was ein Observer sieht
// - Observer/ObserverFunc: Hook fuer Metriken und Fortschritt
package sampler

import (
	"fmt"
	"time"
)

// EventKind unterscheidet Lauf-Start, Schritt und Lauf-Ende.
type EventKind int

const (
	RunStarted EventKind = iota
	StepCompleted
	RunFinished
)

func (k EventKind) String() string {
	switch k {
	case RunStarted:
		return "started"
	case StepCompleted:
		return "step"
	case RunFinished:
		return "finished"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event beschreibt einen Zeitpunkt eines Laufs.
type Event struct {
	Kind   EventKind
	RunID  string
	Mode   Mode
	Solver string

	Step     int
	Time     float64
	StepSize float64
	NFE      int
	Rejected int

	// Nur bei RunFinished gesetzt.
	PredictorCalls int
	Elapsed        time.Duration
	Err            error
}

// Observer empfaengt Events synchron aus dem Lauf. Bei parallelen Laeufen
// muss Observe nebenlaeufig aufrufbar sein.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adaptiert eine Funktion an Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) { f(e) }

func (s *Sampler) emit(e Event) {
	for _, o := range s.observers {
		o.Observe(e)
	}
}
