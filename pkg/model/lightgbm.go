package model

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"

	"github.com/dmitryikh/leaves"
	"github.com/mchmarny/microscore/pkg/feature"
)

// LightGBM is a gradient-boosting ensemble loaded from a LightGBM text model.
type LightGBM struct {
	path     string
	ensemble *leaves.Ensemble
}

// Load reads the LightGBM text model at path.
// The model must take exactly feature.Count inputs.
func Load(path string) (*LightGBM, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrModelNotFound, path)
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrModelCorrupt, path, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s is not a regular file", ErrModelNotFound, path)
	}

	e, err := loadEnsemble(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrModelCorrupt, path, err)
	}

	if n := e.NFeatures(); n != feature.Count {
		return nil, fmt.Errorf("%w: %s expects %d features, contract has %d",
			ErrModelCorrupt, path, n, feature.Count)
	}

	slog.Debug("model loaded",
		"path", path,
		"features", e.NFeatures(),
		"estimators", e.NEstimators(),
	)

	return &LightGBM{path: path, ensemble: e}, nil
}

// LoadFirst loads the first existing artifact among candidates.
func LoadFirst(candidates []string) (*LightGBM, error) {
	p, err := Locate(candidates)
	if err != nil {
		return nil, err
	}
	return Load(p)
}

// loadEnsemble guards against parser panics on malformed input.
func loadEnsemble(path string) (e *leaves.Ensemble, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parsing model: %v", r)
		}
	}()
	e, err = leaves.LGEnsembleFromFile(path, true)
	if err == nil && e == nil {
		err = errors.New("parsing model: empty ensemble")
	}
	return e, err
}

func (m *LightGBM) Name() string { return "lightgbm" }

// Path returns the artifact location the model was loaded from.
func (m *LightGBM) Path() string { return m.path }

// Predict scores a single row. All estimators are used.
func (m *LightGBM) Predict(v feature.Vector) (score float64, err error) {
	if len(v) != feature.Count {
		return 0, fmt.Errorf("%w: expected %d features, got %d", ErrInference, feature.Count, len(v))
	}

	defer func() {
		if r := recover(); r != nil {
			score = 0
			err = fmt.Errorf("%w: %v", ErrInference, r)
		}
	}()

	score = m.ensemble.PredictSingle(v, 0)
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return 0, fmt.Errorf("%w: non-finite output %v", ErrInference, score)
	}
	return score, nil
}
