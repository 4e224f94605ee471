package score

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/mchmarny/microscore/pkg/feature"
	"github.com/mchmarny/microscore/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// linearPredictor is a deterministic stand-in for the trained model.
type linearPredictor struct {
	bias  float64
	calls atomic.Int64
	last  atomic.Pointer[feature.Vector]
}

func (p *linearPredictor) Name() string { return "linear" }

func (p *linearPredictor) Predict(v feature.Vector) (float64, error) {
	p.calls.Add(1)
	cp := append(feature.Vector(nil), v...)
	p.last.Store(&cp)
	s := p.bias
	for i, f := range v {
		s += f * float64(i+1) / 1e6
	}
	return s, nil
}

type fixedPredictor float64

func (f fixedPredictor) Name() string { return "fixed" }

func (f fixedPredictor) Predict(_ feature.Vector) (float64, error) { return float64(f), nil }

type failingPredictor struct{}

func (failingPredictor) Name() string { return "failing" }

func (failingPredictor) Predict(_ feature.Vector) (float64, error) {
	return 0, model.ErrInference
}

func TestTransform(t *testing.T) {
	tests := []struct {
		raw   float64
		score int
		limit int
	}{
		{0.742, 742, 222600},
		{0, 0, 0},
		{1, 1000, 300000},
		{0.5, 500, 150000},
		{0.0005, 1, 300}, // half rounds away from zero
		{0.0004, 0, 0},
		{0.9994, 999, 299700},
		{0.123456, 123, 36900},
		{1.2, 1200, 360000},  // no clamp by default
		{-0.1, -100, -30000}, // no clamp by default
	}
	for _, tt := range tests {
		r := Transform(tt.raw, false)
		assert.Equal(t, tt.score, r.Score, "raw %v", tt.raw)
		assert.Equal(t, tt.limit, r.CreditLimit, "raw %v", tt.raw)
		assert.Equal(t, tt.raw, r.Raw)
	}
}

func TestTransform_Invariants(t *testing.T) {
	for i := -200; i <= 1200; i++ {
		raw := float64(i) / 997.0
		r := Transform(raw, false)
		assert.Equal(t, int(math.Round(raw*DisplayScale)), r.Score)
		assert.Equal(t, int(math.Round(float64(r.Score)/DisplayScale*MaxCreditLimit)), r.CreditLimit)
	}
}

func TestTransform_Clamp(t *testing.T) {
	r := Transform(1.2, true)
	assert.Equal(t, 1000, r.Score)
	assert.Equal(t, 300000, r.CreditLimit)
	assert.Equal(t, 1.2, r.Raw)

	r = Transform(-0.1, true)
	assert.Equal(t, 0, r.Score)
	assert.Equal(t, 0, r.CreditLimit)

	r = Transform(0.742, true)
	assert.Equal(t, 742, r.Score)
}

func TestScore_EndToEnd(t *testing.T) {
	p := fixedPredictor(0.742)
	s := New(model.NewStaticHolder(p))

	in := map[string]any{"avg_transaction_amount": 100}
	r, err := s.Score(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, 742, r.Score)
	assert.Equal(t, 0.742, r.Raw)
	assert.Equal(t, 222600, r.CreditLimit)
}

func TestScore_EmptyInputStillPredicts(t *testing.T) {
	p := &linearPredictor{bias: 0.3}
	s := New(model.NewStaticHolder(p))

	r, err := s.Score(context.Background(), map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.calls.Load())
	assert.Equal(t, 300, r.Score)

	last := p.last.Load()
	require.NotNil(t, last)
	assert.Len(t, *last, feature.Count)
	for _, f := range *last {
		assert.Zero(t, f)
	}
}

func TestScore_VectorOrder(t *testing.T) {
	p := &linearPredictor{}
	s := New(model.NewStaticHolder(p))

	in := map[string]any{"phone_activity_score": 7, "avg_transaction_amount": 3}
	_, err := s.Raw(context.Background(), in)
	require.NoError(t, err)

	last := p.last.Load()
	require.NotNil(t, last)
	assert.Equal(t, 3.0, (*last)[0])
	assert.Equal(t, 7.0, (*last)[feature.Count-1])
}

func TestScore_Deterministic(t *testing.T) {
	s := New(model.NewStaticHolder(&linearPredictor{bias: 0.2}))
	in := make(map[string]any, feature.Count)
	for i, n := range feature.Names {
		in[n] = float64(i * 10)
	}

	first, err := s.Score(context.Background(), in)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		r, err := s.Score(context.Background(), in)
		require.NoError(t, err)
		assert.Equal(t, first, r)
	}
}

func TestScore_ConcurrentMatchesSequential(t *testing.T) {
	s := New(model.NewStaticHolder(&linearPredictor{bias: 0.1}))

	inputs := make([]map[string]any, 50)
	want := make([]*Result, len(inputs))
	for i := range inputs {
		inputs[i] = map[string]any{
			"avg_balance": float64(i * 1000),
			"total_calls": i,
		}
		r, err := s.Score(context.Background(), inputs[i])
		require.NoError(t, err)
		want[i] = r
	}

	var wg sync.WaitGroup
	got := make([]*Result, len(inputs))
	errs := make([]error, len(inputs))
	for rep := 0; rep < 4; rep++ {
		for i := range inputs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				got[i], errs[i] = s.Score(context.Background(), inputs[i])
			}(i)
		}
		wg.Wait()
		for i := range inputs {
			require.NoError(t, errs[i])
			assert.Equal(t, want[i], got[i])
		}
	}
}

func TestScore_ModelNotFound(t *testing.T) {
	dir := t.TempDir()
	s := New(model.NewFileHolder([]string{filepath.Join(dir, "Ml", model.DefaultArtifactName)}))

	r, err := s.Score(context.Background(), map[string]any{})
	require.Error(t, err)
	assert.Nil(t, r)
	assert.ErrorIs(t, err, model.ErrModelNotFound)
}

func TestScore_InvalidFeature(t *testing.T) {
	p := &linearPredictor{}
	s := New(model.NewStaticHolder(p))

	r, err := s.Score(context.Background(), map[string]any{"fee_ratio": "n/a"})
	require.Error(t, err)
	assert.Nil(t, r)
	assert.ErrorIs(t, err, feature.ErrInvalidFeatureValue)
	assert.Zero(t, p.calls.Load())
}

func TestScore_InferenceFailure(t *testing.T) {
	s := New(model.NewStaticHolder(failingPredictor{}))
	r, err := s.Score(context.Background(), nil)
	require.Error(t, err)
	assert.Nil(t, r)
	assert.True(t, errors.Is(err, model.ErrInference))
}

func TestScore_Clamp(t *testing.T) {
	s := New(model.NewStaticHolder(fixedPredictor(1.5)), WithClamp(true))
	r, err := s.Score(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1000, r.Score)
	assert.Equal(t, 1.5, r.Raw)
}

func TestRaw(t *testing.T) {
	s := New(model.NewStaticHolder(fixedPredictor(0.61)), WithLogger(nil))
	raw, err := s.Raw(context.Background(), map[string]any{"total_sms": "4"})
	require.NoError(t, err)
	assert.Equal(t, 0.61, raw)
}

func TestScore_LightGBMArtifact(t *testing.T) {
	s := New(model.NewFileHolder([]string{filepath.Join("..", "model", "testdata", model.DefaultArtifactName)}))

	r, err := s.Score(context.Background(), map[string]any{"avg_transaction_amount": 100})
	require.NoError(t, err)
	assert.Equal(t, 742, r.Score)
	assert.Equal(t, 222600, r.CreditLimit)
	assert.InDelta(t, 0.742, r.Raw, 1e-9)

	r, err = s.Score(context.Background(), map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, 200, r.Score)
	assert.Equal(t, 60000, r.CreditLimit)
	assert.InDelta(t, 0.2, r.Raw, 1e-9)
}

func TestScore_RawOutOfRange(t *testing.T) {
	for _, raw := range []float64{1e19, -1e19, MaxRaw * 2, math.Inf(1), math.NaN()} {
		s := New(model.NewStaticHolder(fixedPredictor(raw)))
		r, err := s.Score(context.Background(), nil)
		assert.Nil(t, r, "raw %v", raw)
		assert.ErrorIs(t, err, model.ErrInference, "raw %v", raw)
	}

	s := New(model.NewStaticHolder(fixedPredictor(MaxRaw)))
	r, err := s.Score(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, int(MaxRaw*DisplayScale), r.Score)
	assert.Equal(t, int(MaxRaw*MaxCreditLimit), r.CreditLimit)
}

func TestCheckRaw(t *testing.T) {
	assert.NoError(t, CheckRaw(0.742))
	assert.NoError(t, CheckRaw(-MaxRaw))
	assert.ErrorIs(t, CheckRaw(MaxRaw+1), model.ErrInference)
}
