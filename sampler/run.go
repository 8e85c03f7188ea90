// run.go - Ein einzelner Sampling-Lauf
//
// Dieses Modul enthaelt:
// - Sample/SampleFrom: Einstieg, Startrauschen, Logging, Events
// - run.predict: Predictor-Aufrufe, Formpruefung, Guidance, Rundung
// - run.integrate: Uebergabe an ode bzw. sde und Log-Dichte
package sampler

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/ollama/flowsample/logutil"
	"github.com/ollama/flowsample/ode"
	"github.com/ollama/flowsample/predictor"
	"github.com/ollama/flowsample/sde"
	"github.com/ollama/flowsample/tensor"
	"github.com/ollama/flowsample/types/errtypes"
)

// run ist der Zustand eines Laufs. Er lebt nur fuer einen Sample-Aufruf.
type run struct {
	s      *Sampler
	req    Request
	id     string
	stream *tensor.Stream
	calls  int
}

// Sample fuehrt einen vollstaendigen Lauf aus. Teilergebnisse werden nie zurueckgegeben.
func (s *Sampler) Sample(ctx context.Context, req Request) (*Result, error) {
	r := &run{
		s:      s,
		req:    req,
		id:     uuid.NewString(),
		stream: tensor.NewStream(req.Seed),
	}

	want := s.LatentShape()
	x := req.Latent
	if x == nil {
		x = r.stream.Normal(want...)
	} else if got := x.Shape(); !slices.Equal(got[1:], want[1:]) {
		return nil, fmt.Errorf("sampler: %w: latent %v, want [B %v]", errtypes.ErrShapeMismatch, got, want[1:])
	}

	grid := s.Grid()
	slog.Info("sampler: run started", "run", r.id, "mode", s.Mode(), "solver", s.solverName(),
		"resolution", s.scaling.Resolution, "steps", len(grid)-1, "shift", s.scaling.Shift,
		"cfg_scale", s.guide.Scale(), "seed", req.Seed)
	s.emit(Event{Kind: RunStarted, RunID: r.id, Mode: s.Mode(), Solver: s.solverName(), Time: grid[0]})

	start := time.Now()
	res, err := r.integrate(ctx, x, grid)
	elapsed := time.Since(start)

	done := Event{
		Kind:           RunFinished,
		RunID:          r.id,
		Mode:           s.Mode(),
		Solver:         s.solverName(),
		PredictorCalls: r.calls,
		Elapsed:        elapsed,
		Err:            err,
	}
	if err != nil {
		s.emit(done)
		slog.Warn("sampler: run failed", "run", r.id, "elapsed", elapsed, "error", err)
		return nil, err
	}

	res.RunID, res.Seed, res.Mode = r.id, req.Seed, s.Mode()
	res.PredictorCalls, res.Duration = r.calls, elapsed
	done.Step, done.NFE, done.Rejected = res.Steps, res.NFE, res.Rejected
	s.emit(done)
	slog.Info("sampler: run finished", "run", r.id, "steps", res.Steps, "nfe", res.NFE,
		"predictor_calls", r.calls, "elapsed", elapsed)
	return res, nil
}

// SampleFrom integriert ab einem gegebenen Latent, z.B. Daten -> Rauschen
// mit ode.reverse oder fuer die Log-Dichte einer Probe.
func (s *Sampler) SampleFrom(ctx context.Context, x *tensor.Tensor, req Request) (*Result, error) {
	if x == nil {
		return nil, fmt.Errorf("sampler: %w: nil latent", errtypes.ErrShapeMismatch)
	}
	req.Latent = x
	return s.Sample(ctx, req)
}

func (s *Sampler) solverName() string {
	if s.sde != nil {
		return string(s.sde.Options().Method)
	}
	return string(s.ode.Options().Solver)
}

// ============================================================================
// Predictor-Pipeline
// ============================================================================

// predict liefert die gefuehrte, gerundete Netzwerkausgabe bei (x, t).
func (r *run) predict(ctx context.Context, step int, x *tensor.Tensor, t float64) (*tensor.Tensor, error) {
	cond := predictor.Condition{Payload: r.req.Payload, Scaling: r.s.scaling}
	c, err := r.call(ctx, step, x, t, cond)
	if err != nil {
		return nil, err
	}

	var u *tensor.Tensor
	if r.s.guide.NeedsUnconditional() || r.req.ForceUnconditional {
		cond.Unconditional = true
		if u, err = r.call(ctx, step, x, t, cond); err != nil {
			return nil, err
		}
	}
	return r.s.guide.Guide(c, u).Rounded(r.s.precision), nil
}

func (r *run) call(ctx context.Context, step int, x *tensor.Tensor, t float64, cond predictor.Condition) (*tensor.Tensor, error) {
	r.calls++
	out, err := r.s.model.Predictor.Predict(ctx, x, t, cond)
	if err != nil {
		return nil, &errtypes.PredictorError{Step: step, Time: t, Err: err}
	}
	if out == nil || !out.SameShape(x) {
		var got []int
		if out != nil {
			got = out.Shape()
		}
		return nil, &errtypes.PredictorError{
			Step: step,
			Time: t,
			Err:  fmt.Errorf("%w: got %v, want %v", errtypes.ErrShapeMismatch, got, x.Shape()),
		}
	}
	return out, nil
}

// ============================================================================
// Integration
// ============================================================================

func (r *run) integrate(ctx context.Context, x *tensor.Tensor, grid []float64) (*Result, error) {
	if r.s.sde != nil {
		st, err := r.s.sde.Sample(ctx, sde.Problem{
			Predict: r.predict,
			X:       x,
			Grid:    grid,
			Stream:  r.stream,
			Observe: r.observeSDE,
		})
		if err != nil {
			return nil, err
		}
		return &Result{Latent: st.X, Steps: st.Step, NFE: st.NFE}, nil
	}

	tr := r.s.transport
	field := func(ctx context.Context, step int, x *tensor.Tensor, t float64) (*tensor.Tensor, error) {
		raw, err := r.predict(ctx, step, x, t)
		if err != nil {
			return nil, err
		}
		return tr.Drift(raw, x, t), nil
	}
	st, err := r.s.ode.Integrate(ctx, ode.Problem{
		Field:   field,
		X:       x,
		Grid:    grid,
		Stream:  r.stream,
		Observe: r.observeODE,
	})
	if err != nil {
		return nil, err
	}

	res := &Result{Latent: st.X, Steps: st.Step, NFE: st.NFE, Rejected: st.Rejected}
	if st.LogDelta != nil {
		res.LogDensity = make([]float64, len(st.LogDelta))
		if r.s.ode.Options().Reverse {
			// Daten -> Rauschen: log p(x) = log N(z_end) - delta
			for b, p := range tr.PriorLogProb(st.X) {
				res.LogDensity[b] = p - st.LogDelta[b]
			}
		} else {
			for b, p := range tr.PriorLogProb(x) {
				res.LogDensity[b] = p + st.LogDelta[b]
			}
		}
	}
	return res, nil
}

func (r *run) observeODE(st ode.State) {
	if st.Status != ode.Running {
		return
	}
	logutil.Trace("sampler: step", "run", r.id, "step", st.Step, "t", st.Time, "h", st.StepSize, "nfe", st.NFE)
	r.s.emit(Event{
		Kind:     StepCompleted,
		RunID:    r.id,
		Mode:     ModeODE,
		Solver:   r.s.solverName(),
		Step:     st.Step,
		Time:     st.Time,
		StepSize: st.StepSize,
		NFE:      st.NFE,
		Rejected: st.Rejected,
	})
}

func (r *run) observeSDE(st sde.State) {
	logutil.Trace("sampler: step", "run", r.id, "step", st.Step, "t", st.Time, "h", st.StepSize, "final", st.Final)
	r.s.emit(Event{
		Kind:     StepCompleted,
		RunID:    r.id,
		Mode:     ModeSDE,
		Solver:   r.s.solverName(),
		Step:     st.Step,
		Time:     st.Time,
		StepSize: st.StepSize,
		NFE:      st.NFE,
	})
}
