package model

import (
	"errors"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

const holderKey = "model"

// LoadFunc produces a ready predictor.
type LoadFunc func() (Predictor, error)

// Holder loads a predictor lazily, at most once at a time, and keeps it for
// the life of the process. A failed load is not remembered so the next caller
// tries again.
type Holder struct {
	load  LoadFunc
	group singleflight.Group
	mu    sync.RWMutex
	p     Predictor
	loads atomic.Int64
}

// NewHolder creates a lazy holder around load.
func NewHolder(load LoadFunc) *Holder {
	return &Holder{load: load}
}

// NewStaticHolder wraps an already loaded predictor.
func NewStaticHolder(p Predictor) *Holder {
	return &Holder{p: p}
}

// NewFileHolder lazily loads the first LightGBM artifact found in candidates.
func NewFileHolder(candidates []string) *Holder {
	paths := append([]string(nil), candidates...)
	return NewHolder(func() (Predictor, error) {
		return LoadFirst(paths)
	})
}

// Get returns the loaded predictor, loading it on first use.
func (h *Holder) Get() (Predictor, error) {
	if p := h.current(); p != nil {
		return p, nil
	}
	if h.load == nil {
		return nil, errors.New("model holder has no loader")
	}

	v, err, _ := h.group.Do(holderKey, func() (any, error) {
		if p := h.current(); p != nil {
			return p, nil
		}
		h.loads.Add(1)
		p, err := h.load()
		if err != nil {
			return nil, err
		}
		h.mu.Lock()
		h.p = p
		h.mu.Unlock()
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Predictor), nil
}

// Loaded reports whether a predictor is currently held.
func (h *Holder) Loaded() bool {
	return h.current() != nil
}

func (h *Holder) current() Predictor {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.p
}
