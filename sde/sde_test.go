package sde

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ollama/flowsample/predictor"
	"github.com/ollama/flowsample/resolution"
	"github.com/ollama/flowsample/tensor"
	"github.com/ollama/flowsample/transport"
	"github.com/ollama/flowsample/types/errtypes"
)

func linearVelocity(t *testing.T) *transport.Transport {
	t.Helper()
	tr, err := transport.New(transport.Options{PathType: transport.Linear, Prediction: transport.Velocity})
	require.NoError(t, err)
	return tr
}

// gaussianPredict liefert die exakte Geschwindigkeit fuer N(0, 1)-Daten.
func gaussianPredict(tr *transport.Transport) Predict {
	g := predictor.Gaussian{Transport: tr, Mean: 0, Std: 1}
	return func(ctx context.Context, _ int, x *tensor.Tensor, t float64) (*tensor.Tensor, error) {
		return g.Predict(ctx, x, t, predictor.Condition{})
	}
}

func newSampler(t *testing.T, tr *transport.Transport, method Method, last LastStep) *Sampler {
	t.Helper()
	s, err := New(tr, Options{
		Method:       method,
		Diffusion:    transport.DiffusionSpec{Form: transport.SigmaForm, Norm: 1},
		LastStep:     last,
		LastStepSize: 0.04,
	})
	require.NoError(t, err)
	return s
}

func problem(s *Sampler, tr *transport.Transport, seed uint64, n, size int) Problem {
	stream := tensor.NewStream(seed)
	t0, t1 := s.Interval()
	return Problem{
		Predict: gaussianPredict(tr),
		X:       stream.Normal(1, size),
		Grid:    resolution.Grid(t0, t1, n, 1),
		Stream:  stream,
	}
}

func TestParse(t *testing.T) {
	for _, s := range []string{"Euler", "Heun"} {
		m, err := ParseMethod(s)
		require.NoError(t, err)
		assert.Equal(t, s, string(m))
	}
	for _, s := range []string{"None", "Mean", "Tweedie", "Euler"} {
		l, err := ParseLastStep(s)
		require.NoError(t, err)
		assert.Equal(t, s, string(l))
	}

	_, err := ParseMethod("rk4")
	assert.ErrorIs(t, err, errtypes.ErrConfig)
	_, err = ParseLastStep("mean")
	assert.ErrorIs(t, err, errtypes.ErrConfig)
}

func TestNewValidation(t *testing.T) {
	tr := linearVelocity(t)
	valid := Options{
		Method:       Euler,
		Diffusion:    transport.DiffusionSpec{Form: transport.SigmaForm, Norm: 1},
		LastStep:     LastMean,
		LastStepSize: 0.04,
	}

	tests := []struct {
		name  string
		edit  func(*Options)
		field string
	}{
		{"Methode", func(o *Options) { o.Method = "" }, "method"},
		{"Form", func(o *Options) { o.Diffusion.Form = "quadratic" }, "diffusion_form"},
		{"Norm null", func(o *Options) { o.Diffusion.Norm = 0 }, "diffusion_norm"},
		{"Norm unendlich", func(o *Options) { o.Diffusion.Norm = math.Inf(1) }, "diffusion_norm"},
		{"Schluss-Schritt", func(o *Options) { o.LastStep = "Median" }, "last_step"},
		{"Schrittweite null", func(o *Options) { o.LastStepSize = 0 }, "last_step_size"},
		{"Schrittweite eins", func(o *Options) { o.LastStepSize = 1 }, "last_step_size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := valid
			tt.edit(&o)
			_, err := New(tr, o)
			var cfgErr *errtypes.ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}

	_, err := New(tr, valid)
	assert.NoError(t, err)
}

func TestInterval(t *testing.T) {
	s := newSampler(t, linearVelocity(t), Euler, LastMean)
	t0, t1 := s.Interval()
	assert.Equal(t, 0.0, t0)
	assert.InDelta(t, 0.96, t1, 1e-12)
	assert.NoError(t, s.Check(t0, t1))
}

func TestSeedDeterminism(t *testing.T) {
	tr := linearVelocity(t)
	for _, method := range []Method{Euler, Heun} {
		t.Run(string(method), func(t *testing.T) {
			s := newSampler(t, tr, method, LastNone)

			a, err := s.Sample(t.Context(), problem(s, tr, 7, 20, 64))
			require.NoError(t, err)
			b, err := s.Sample(t.Context(), problem(s, tr, 7, 20, 64))
			require.NoError(t, err)
			assert.Equal(t, a.X.Data(), b.X.Data(), "gleicher Seed muss bitgleich sein")

			c, err := s.Sample(t.Context(), problem(s, tr, 8, 20, 64))
			require.NoError(t, err)
			assert.NotEqual(t, a.X.Data(), c.X.Data())
		})
	}
}

func TestSampleDistribution(t *testing.T) {
	tr := linearVelocity(t)
	for _, method := range []Method{Euler, Heun} {
		t.Run(string(method), func(t *testing.T) {
			s := newSampler(t, tr, method, LastMean)
			st, err := s.Sample(t.Context(), problem(s, tr, 1, 50, 4000))
			require.NoError(t, err)

			mean, std := st.X.Stats()
			assert.InDelta(t, 0, mean, 0.1)
			assert.InDelta(t, 1, std, 0.15)
		})
	}
}

func TestLastStepVariance(t *testing.T) {
	tr := linearVelocity(t)
	x := tensor.NewStream(99).Normal(1, 500)
	const t1 = 0.96

	outputs := func(last LastStep) []*tensor.Tensor {
		s := newSampler(t, tr, Euler, last)
		var outs []*tensor.Tensor
		for seed := uint64(1); seed <= 8; seed++ {
			r := &run{s: s, p: Problem{Predict: gaussianPredict(tr), Stream: tensor.NewStream(seed)}}
			out, err := r.finish(t.Context(), 50, x, t1)
			require.NoError(t, err)
			outs = append(outs, out)
		}
		return outs
	}

	spread := func(outs []*tensor.Tensor) float64 {
		var total float64
		for i := range x.Len() {
			var m float64
			for _, o := range outs {
				m += o.Data()[i]
			}
			m /= float64(len(outs))
			for _, o := range outs {
				d := o.Data()[i] - m
				total += d * d
			}
		}
		return total / float64(x.Len()*(len(outs)-1))
	}

	means := outputs(LastMean)
	// Mean zieht kein Rauschen: alle Seeds liefern bitgleiche Ergebnisse
	for _, o := range means[1:] {
		assert.Equal(t, means[0].Data(), o.Data())
	}

	mean, none := spread(means), spread(outputs(LastNone))
	assert.Greater(t, none, mean)
	// Erwartung 2*w(t1)*h mit w = sigma(t1)
	assert.InDelta(t, 2*0.04*0.04, none, 0.0015)
}

func TestLastStepNoiseOnly(t *testing.T) {
	tr := linearVelocity(t)
	mean := newSampler(t, tr, Euler, LastMean)
	none := newSampler(t, tr, Euler, LastNone)

	a, err := mean.Sample(t.Context(), problem(mean, tr, 3, 10, 4000))
	require.NoError(t, err)
	b, err := none.Sample(t.Context(), problem(none, tr, 3, 10, 4000))
	require.NoError(t, err)

	_, std := b.X.Sub(a.X).Stats()
	assert.InDelta(t, math.Sqrt(2*0.04*0.04), std, 0.006)
}

func TestLastStepFormulas(t *testing.T) {
	tr := linearVelocity(t)
	x := tensor.FromSlice([]float64{-1.5, 0.2, 0.9}, 1, 3)
	const t1, h = 0.96, 0.04
	alpha, sigma := t1, 1-t1

	raw, err := gaussianPredict(tr)(t.Context(), 0, x, t1)
	require.NoError(t, err)

	tests := []struct {
		last LastStep
		want func(v float64, i int) float64
	}{
		{LastTweedie, func(v float64, _ int) float64 { return alpha * v / (alpha*alpha + sigma*sigma) }},
		{LastEuler, func(v float64, i int) float64 { return v + h*raw.Data()[i] }},
	}
	for _, tt := range tests {
		t.Run(string(tt.last), func(t *testing.T) {
			s := newSampler(t, tr, Euler, tt.last)
			r := &run{s: s, p: Problem{Predict: gaussianPredict(tr), Stream: tensor.NewStream(1)}}
			got, err := r.finish(t.Context(), 0, x, t1)
			require.NoError(t, err)
			for i, v := range x.Data() {
				assert.InDelta(t, tt.want(v, i), got.Data()[i], 1e-9, "Index %d", i)
			}
			assert.Equal(t, 1, r.nfe)
		})
	}
}

func TestSingleStep(t *testing.T) {
	tr := linearVelocity(t)
	tests := []struct {
		method Method
		nfe    int
	}{
		{Euler, 2},
		{Heun, 3},
	}
	for _, tt := range tests {
		t.Run(string(tt.method), func(t *testing.T) {
			s := newSampler(t, tr, tt.method, LastMean)
			st, err := s.Sample(t.Context(), problem(s, tr, 5, 1, 8))
			require.NoError(t, err)
			assert.True(t, st.Final)
			assert.Equal(t, 2, st.Step)
			assert.Equal(t, tt.nfe, st.NFE)
			assert.InDelta(t, 1.0, st.Time, 1e-12)
			assert.True(t, st.X.AllFinite())
		})
	}
}

func TestObserveSequence(t *testing.T) {
	tr := linearVelocity(t)
	s := newSampler(t, tr, Heun, LastTweedie)
	p := problem(s, tr, 2, 5, 4)

	var states []State
	p.Observe = func(st State) { states = append(states, st) }
	_, err := s.Sample(t.Context(), p)
	require.NoError(t, err)

	require.Len(t, states, 6)
	for i, st := range states[:5] {
		assert.Equal(t, i+1, st.Step)
		assert.False(t, st.Final)
		assert.InDelta(t, p.Grid[i+1], st.Time, 1e-12)
	}
	assert.True(t, states[5].Final)
}

func TestPredictErrors(t *testing.T) {
	tr := linearVelocity(t)
	s := newSampler(t, tr, Euler, LastMean)

	t.Run("Fehler", func(t *testing.T) {
		want := errors.New("kaputt")
		p := problem(s, tr, 1, 10, 4)
		p.Predict = func(_ context.Context, step int, x *tensor.Tensor, _ float64) (*tensor.Tensor, error) {
			if step == 3 {
				return nil, want
			}
			return x.Scale(-1), nil
		}
		st, err := s.Sample(t.Context(), p)
		assert.Nil(t, st)
		assert.ErrorIs(t, err, want)
	})

	t.Run("NaN", func(t *testing.T) {
		p := problem(s, tr, 1, 10, 4)
		p.Predict = func(_ context.Context, step int, x *tensor.Tensor, _ float64) (*tensor.Tensor, error) {
			if step == 4 {
				return tensor.Full(math.NaN(), x.Shape()...), nil
			}
			return x.Scale(-1), nil
		}
		_, err := s.Sample(t.Context(), p)
		var ni *errtypes.NumericalInstabilityError
		require.ErrorAs(t, err, &ni)
		assert.Equal(t, 4, ni.Step)
		assert.Equal(t, "prediction", ni.What)
		assert.ErrorIs(t, err, errtypes.ErrNumericalInstability)
	})
}

func TestCancellation(t *testing.T) {
	tr := linearVelocity(t)
	s := newSampler(t, tr, Euler, LastMean)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	calls := 0
	p := problem(s, tr, 1, 10, 4)
	p.Predict = func(_ context.Context, _ int, x *tensor.Tensor, _ float64) (*tensor.Tensor, error) {
		calls++
		if calls == 3 {
			cancel()
		}
		return x.Scale(-1), nil
	}
	_, err := s.Sample(ctx, p)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3, calls)
}

func TestGridTooShort(t *testing.T) {
	tr := linearVelocity(t)
	s := newSampler(t, tr, Euler, LastMean)
	p := problem(s, tr, 1, 1, 4)
	p.Grid = p.Grid[:1]
	_, err := s.Sample(t.Context(), p)
	assert.Error(t, err)
}
