package model

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/mchmarny/microscore/pkg/feature"
	"github.com/mchmarny/microscore/pkg/net"
)

const defaultRemoteTimeout = 5 * time.Second

// Remote scores through an external model server. The request carries the
// named features; the response uses the same shape the predict command writes.
//
//	request:  {"features": {"avg_transaction_amount": 100, ...}}
//	response: {"ok": true, "credit_scoring": 0.742}
type Remote struct {
	Endpoint string
	Client   *http.Client
}

type remoteRequest struct {
	Features map[string]float64 `json:"features"`
}

type remoteResponse struct {
	OK    bool     `json:"ok"`
	Score *float64 `json:"credit_scoring"`
	Error string   `json:"error,omitempty"`
}

// NewRemote creates a remote predictor. The token, when set, is sent as a
// bearer credential.
func NewRemote(endpoint, token string, timeout time.Duration) *Remote {
	if timeout <= 0 {
		timeout = defaultRemoteTimeout
	}
	return &Remote{
		Endpoint: endpoint,
		Client:   net.GetOAuthClient(context.Background(), token, timeout),
	}
}

func (m *Remote) Name() string { return "remote" }

// Predict posts the vector to the model server.
func (m *Remote) Predict(v feature.Vector) (float64, error) {
	return m.PredictContext(context.Background(), v)
}

// PredictContext is Predict bound to ctx.
func (m *Remote) PredictContext(ctx context.Context, v feature.Vector) (float64, error) {
	if m.Endpoint == "" {
		return 0, fmt.Errorf("%w: remote endpoint not set", ErrInference)
	}
	if len(v) != feature.Count {
		return 0, fmt.Errorf("%w: expected %d features, got %d", ErrInference, feature.Count, len(v))
	}

	var out remoteResponse
	if err := net.PostJSON(ctx, m.Client, m.Endpoint, remoteRequest{Features: v.Map()}, &out); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInference, err)
	}

	if !out.OK {
		msg := out.Error
		if msg == "" {
			msg = "model server returned ok=false"
		}
		return 0, fmt.Errorf("%w: %w", ErrInference, errors.New(msg))
	}
	if out.Score == nil {
		return 0, fmt.Errorf("%w: response missing credit_scoring", ErrInference)
	}
	if math.IsNaN(*out.Score) || math.IsInf(*out.Score, 0) {
		return 0, fmt.Errorf("%w: non-finite output", ErrInference)
	}
	return *out.Score, nil
}
