package score

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/mchmarny/microscore/pkg/feature"
	"github.com/mchmarny/microscore/pkg/model"
)

const (
	// DisplayScale maps the raw model output onto the display score.
	DisplayScale = 1000
	// MaxCreditLimit is the credit limit at a display score of DisplayScale.
	MaxCreditLimit = 300000
	// MaxRaw bounds the magnitude of a raw score the pipeline converts.
	// Larger values would overflow the derived integers.
	MaxRaw = 1e9
)

// Result is the user facing scoring outcome.
type Result struct {
	Score       int     `json:"score" yaml:"score"`
	Raw         float64 `json:"score_raw" yaml:"scoreRaw"`
	CreditLimit int     `json:"creditLimit" yaml:"creditLimit"`
}

// Transform converts a raw model output into the display score and credit limit.
// Values round half away from zero. When clamp is set the display score is
// limited to [0, DisplayScale] before the credit limit is derived.
// raw must be finite with magnitude at most MaxRaw, see CheckRaw.
func Transform(raw float64, clamp bool) Result {
	display := math.Round(raw * DisplayScale)
	if clamp {
		display = math.Max(0, math.Min(DisplayScale, display))
	}
	limit := math.Round((display / DisplayScale) * MaxCreditLimit)
	return Result{
		Score:       int(display),
		Raw:         raw,
		CreditLimit: int(limit),
	}
}

// CheckRaw reports an inference error for raw scores Transform can not convert.
func CheckRaw(raw float64) error {
	if math.IsNaN(raw) || math.IsInf(raw, 0) || math.Abs(raw) > MaxRaw {
		return fmt.Errorf("%w: raw score %v outside [-%g, %g]", model.ErrInference, raw, MaxRaw, MaxRaw)
	}
	return nil
}

// Scorer runs the feature to score pipeline.
type Scorer struct {
	models *model.Holder
	clamp  bool
	log    *slog.Logger
}

// Option configures a Scorer.
type Option func(*Scorer)

// WithClamp limits display scores to [0, DisplayScale].
func WithClamp(clamp bool) Option {
	return func(s *Scorer) {
		s.clamp = clamp
	}
}

// WithLogger sets the logger used for per request debug output.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scorer) {
		if l != nil {
			s.log = l
		}
	}
}

// New creates a scorer backed by the predictor in models.
func New(models *model.Holder, opts ...Option) *Scorer {
	s := &Scorer{
		models: models,
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Raw coerces in, loads the model if needed, and returns the model output.
func (s *Scorer) Raw(ctx context.Context, in map[string]any) (float64, error) {
	v, err := feature.Coerce(in)
	if err != nil {
		return 0, err
	}

	p, err := s.models.Get()
	if err != nil {
		return 0, fmt.Errorf("loading model: %w", err)
	}

	var raw float64
	if r, ok := p.(contextPredictor); ok {
		raw, err = r.PredictContext(ctx, v)
	} else {
		raw, err = p.Predict(v)
	}
	if err != nil {
		return 0, fmt.Errorf("predicting with %s model: %w", p.Name(), err)
	}

	s.log.Debug("prediction", "model", p.Name(), "raw", raw)
	return raw, nil
}

// Score runs the full pipeline. The result is either complete or nil.
func (s *Scorer) Score(ctx context.Context, in map[string]any) (*Result, error) {
	raw, err := s.Raw(ctx, in)
	if err != nil {
		return nil, err
	}
	if err := CheckRaw(raw); err != nil {
		return nil, err
	}
	r := Transform(raw, s.clamp)
	return &r, nil
}

type contextPredictor interface {
	PredictContext(ctx context.Context, v feature.Vector) (float64, error)
}
