package model

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mchmarny/microscore/pkg/feature"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type constPredictor float64

func (c constPredictor) Name() string { return "const" }

func (c constPredictor) Predict(_ feature.Vector) (float64, error) { return float64(c), nil }

func TestHolder_LoadsOnce(t *testing.T) {
	start := make(chan struct{})
	h := NewHolder(func() (Predictor, error) {
		<-start
		time.Sleep(10 * time.Millisecond)
		return constPredictor(0.5), nil
	})
	assert.False(t, h.Loaded())

	const callers = 16
	var wg sync.WaitGroup
	results := make([]Predictor, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = h.Get()
		}(i)
	}
	close(start)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, constPredictor(0.5), results[i])
	}
	assert.Equal(t, int64(1), h.loads.Load())
	assert.True(t, h.Loaded())

	_, err := h.Get()
	require.NoError(t, err)
	assert.Equal(t, int64(1), h.loads.Load())
}

func TestHolder_FailureNotCached(t *testing.T) {
	fail := true
	h := NewHolder(func() (Predictor, error) {
		if fail {
			return nil, ErrModelNotFound
		}
		return constPredictor(1), nil
	})

	_, err := h.Get()
	assert.ErrorIs(t, err, ErrModelNotFound)
	assert.False(t, h.Loaded())

	fail = false
	p, err := h.Get()
	require.NoError(t, err)
	assert.Equal(t, constPredictor(1), p)
	assert.Equal(t, int64(2), h.loads.Load())
}

func TestHolder_Static(t *testing.T) {
	h := NewStaticHolder(constPredictor(0.25))
	assert.True(t, h.Loaded())
	p, err := h.Get()
	require.NoError(t, err)
	assert.Equal(t, constPredictor(0.25), p)
	assert.Zero(t, h.loads.Load())
}

func TestHolder_NoLoader(t *testing.T) {
	h := &Holder{}
	_, err := h.Get()
	assert.Error(t, err)
}

func TestNewFileHolder_NotFound(t *testing.T) {
	dir := t.TempDir()
	h := NewFileHolder(DefaultCandidates(dir, ""))
	_, err := h.Get()
	assert.True(t, errors.Is(err, ErrModelNotFound))
	assert.False(t, h.Loaded())
}
