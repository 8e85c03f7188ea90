package errtypes

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestConfigError(t *testing.T) {
	cause := errors.New("not a multiple of 16")
	tests := []struct {
		name string
		err  *ConfigError
		want string
	}{
		{"reason", NewConfigError("infer", "solver", "rk4", "want euler, dopri5 or dopri8"),
			"infer.solver: invalid value rk4: want euler, dopri5 or dopri8"},
		{"ursache", &ConfigError{Section: "infer", Field: "resolution", Value: "100x100", Err: cause},
			"infer.resolution: invalid value 100x100: not a multiple of 16"},
		{"ohne Feld", &ConfigError{Section: "sde", Reason: "incompatible with likelihood"},
			"sde: incompatible with likelihood"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("got %q, erwartet %q", got, tt.want)
			}
			if !errors.Is(tt.err, ErrConfig) {
				t.Error("errors.Is(ErrConfig) = false")
			}
		})
	}

	wrapped := fmt.Errorf("load: %w", &ConfigError{Section: "infer", Field: "resolution", Err: cause})
	if !errors.Is(wrapped, cause) {
		t.Error("Ursache nicht ueber Unwrap erreichbar")
	}
	var ce *ConfigError
	if !errors.As(wrapped, &ce) || ce.Field != "resolution" {
		t.Errorf("errors.As = %v", ce)
	}
}

func TestIntegrationErrors(t *testing.T) {
	tests := []struct {
		err      error
		sentinel error
		want     string
	}{
		{&NumericalInstabilityError{Step: 3, Time: 0.5, What: "drift"}, ErrNumericalInstability,
			"numerical instability: non-finite drift at step 3 (t=0.500000)"},
		{&NumericalInstabilityError{Step: 1}, ErrNumericalInstability,
			"numerical instability: non-finite state at step 1 (t=0.000000)"},
		{&NonConvergenceError{Solver: "dopri5", Iterations: 600, Time: 0.25, StepSize: 1e-9}, ErrNonConvergence,
			"dopri5 did not converge: iteration cap 600 reached at t=0.250000 (dt=1e-09)"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("got %q, erwartet %q", got, tt.want)
		}
		if !errors.Is(fmt.Errorf("sample: %w", tt.err), tt.sentinel) {
			t.Errorf("%T erfuellt errors.Is(%v) nicht", tt.err, tt.sentinel)
		}
		if errors.Is(tt.err, ErrConfig) {
			t.Errorf("%T darf kein ConfigError sein", tt.err)
		}
	}
}

func TestPredictorError(t *testing.T) {
	err := error(&PredictorError{Step: 7, Time: 0.125, Err: fmt.Errorf("%w: got [1 1]", ErrShapeMismatch)})

	if !errors.Is(err, ErrPredictor) {
		t.Error("errors.Is(ErrPredictor) = false")
	}
	if !errors.Is(err, ErrShapeMismatch) {
		t.Error("errors.Is(ErrShapeMismatch) = false")
	}
	if want := "predictor failed at step 7 (t=0.125000): prediction shape does not match input shape: got [1 1]"; err.Error() != want {
		t.Errorf("got %q, erwartet %q", err.Error(), want)
	}

	cancelled := &PredictorError{Err: context.Canceled}
	if !errors.Is(cancelled, context.Canceled) {
		t.Error("context.Canceled nicht erreichbar")
	}
}
