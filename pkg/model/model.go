package model

import (
	"errors"

	"github.com/mchmarny/microscore/pkg/feature"
)

var (
	// ErrModelNotFound is returned when no artifact exists at any candidate location.
	ErrModelNotFound = errors.New("model not found")
	// ErrModelCorrupt is returned when the artifact exists but can not be used.
	ErrModelCorrupt = errors.New("model corrupt")
	// ErrInference is returned when the model fails to produce a score.
	ErrInference = errors.New("inference failed")
)

// Predictor turns a feature vector into a raw score.
// Implementations must be deterministic and safe for concurrent use.
type Predictor interface {
	Name() string
	Predict(v feature.Vector) (float64, error)
}
