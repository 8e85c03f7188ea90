// Package errtypes - Fehler-Taxonomie der Sampling-Engine
//
// MODUL: errtypes
// ZWECK: Gemeinsame Fehlertypen fuer Konfiguration, Integration und Predictor-Aufrufe
// INPUT: Kontext des Fehlers (Sektion/Feld bzw. Schritt/Zeitpunkt)
// OUTPUT: error-Werte, pruefbar mit errors.Is / errors.As
// NEBENEFFEKTE: keine
// ABHAENGIGKEITEN: errors, fmt (Standard-Library)
// HINWEISE: Kein Fehler wird still behandelt, alle gehen an den Aufrufer des Samplers
package errtypes

import (
	"errors"
	"fmt"
)

// ============================================================================
// Sentinel-Fehler
// ============================================================================

var (
	// ErrConfig kennzeichnet ungueltige oder inkompatible Konfigurationswerte.
	ErrConfig = errors.New("invalid configuration")

	// ErrNumericalInstability kennzeichnet nicht-endliche Werte waehrend der Integration.
	ErrNumericalInstability = errors.New("numerical instability")

	// ErrNonConvergence kennzeichnet einen adaptiven Solver, der sein Iterationslimit ueberschreitet.
	ErrNonConvergence = errors.New("solver did not converge")

	// ErrPredictor kennzeichnet einen fehlgeschlagenen oder fehlerhaften Netzwerkaufruf.
	ErrPredictor = errors.New("predictor failed")
)

// ============================================================================
// ConfigError
// ============================================================================

// ConfigError beschreibt einen abgelehnten Konfigurationswert.
// Wird ausschliesslich beim Konstruieren erzeugt, nie waehrend eines Schritts.
type ConfigError struct {
	Section string // z.B. "transport", "infer"
	Field   string // z.B. "path_type"
	Value   any    // abgelehnter Wert
	Reason  string
	Err     error // optionale Ursache, z.B. ein Paket-Sentinel
}

func (e *ConfigError) Error() string {
	reason := e.Reason
	if reason == "" && e.Err != nil {
		reason = e.Err.Error()
	}
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", e.Section, reason)
	}
	return fmt.Sprintf("%s.%s: invalid value %v: %s", e.Section, e.Field, e.Value, reason)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Is erlaubt errors.Is(err, ErrConfig).
func (e *ConfigError) Is(target error) bool {
	return target == ErrConfig
}

// NewConfigError ist eine Kurzform fuer &ConfigError{...}.
func NewConfigError(section, field string, value any, reason string) *ConfigError {
	return &ConfigError{Section: section, Field: field, Value: value, Reason: reason}
}

// ============================================================================
// Integrationsfehler
// ============================================================================

// NumericalInstabilityError meldet nicht-endliche Werte im Zustand.
type NumericalInstabilityError struct {
	Step int
	Time float64
	What string // "latent", "log-density", "prediction"
}

func (e *NumericalInstabilityError) Error() string {
	what := e.What
	if what == "" {
		what = "state"
	}
	return fmt.Sprintf("numerical instability: non-finite %s at step %d (t=%.6f)", what, e.Step, e.Time)
}

func (e *NumericalInstabilityError) Is(target error) bool {
	return target == ErrNumericalInstability
}

// NonConvergenceError meldet einen adaptiven Solver ueber dem Iterationslimit.
type NonConvergenceError struct {
	Solver     string
	Iterations int
	Time       float64 // erreichte Zeit beim Abbruch
	StepSize   float64
}

func (e *NonConvergenceError) Error() string {
	return fmt.Sprintf("%s did not converge: iteration cap %d reached at t=%.6f (dt=%.3g)", e.Solver, e.Iterations, e.Time, e.StepSize)
}

func (e *NonConvergenceError) Is(target error) bool {
	return target == ErrNonConvergence
}

// ============================================================================
// PredictorError
// ============================================================================

// PredictorError umhuellt einen Fehler des externen Netzwerks.
// Wird unveraendert weitergereicht, es gibt keine Wiederholung.
type PredictorError struct {
	Step int
	Time float64
	Err  error
}

func (e *PredictorError) Error() string {
	return fmt.Sprintf("predictor failed at step %d (t=%.6f): %v", e.Step, e.Time, e.Err)
}

func (e *PredictorError) Unwrap() error {
	return e.Err
}

func (e *PredictorError) Is(target error) bool {
	return target == ErrPredictor
}

// ErrShapeMismatch wird von Predictor-Pruefungen verwendet, wenn die Ausgabeform nicht passt.
var ErrShapeMismatch = errors.New("prediction shape does not match input shape")
