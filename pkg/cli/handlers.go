package cli

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mchmarny/microscore/pkg/data"
	"github.com/mchmarny/microscore/pkg/events"
	"github.com/mchmarny/microscore/pkg/model"
	"github.com/mchmarny/microscore/pkg/rate"
	"github.com/mchmarny/microscore/pkg/score"
)

type lookupStore interface {
	Diagnose(ctx context.Context, userID string) (*data.Diagnosis, error)
	Ping(ctx context.Context) error
}

// service answers the HTTP API.
type service struct {
	features  data.FeatureSource
	store     lookupStore
	models    *model.Holder
	scorer    *score.Scorer
	rates     *rate.Table
	publisher events.Publisher
	version   string
}

type scoreResponse struct {
	OK           bool `json:"ok" yaml:"ok"`
	score.Result `yaml:",inline"`
}

type diagnoseResponse struct {
	OK             bool `json:"ok" yaml:"ok"`
	data.Diagnosis `yaml:",inline"`
}

type simulateResponse struct {
	OK              bool `json:"ok" yaml:"ok"`
	rate.Simulation `yaml:",inline"`
}

type messageResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
	Store   string `json:"store,omitempty"`
	Model   string `json:"model,omitempty"`
	Version string `json:"version,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, messageResponse{OK: false, Message: msg})
}

// lookupStatus maps a lookup or scoring failure to its HTTP status.
func lookupStatus(err error) int {
	if data.IsNotFound(err) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// scoreUser runs lookup and scoring for id.
func (s *service) scoreUser(ctx context.Context, id string) (*score.Result, error) {
	in, err := s.features.Features(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.scorer.Score(ctx, in)
}

func (s *service) publish(ctx context.Context, id, source string, r *score.Result) {
	if s.publisher == nil {
		return
	}
	err := s.publisher.Publish(ctx, events.Event{
		UserID:      id,
		Score:       r.Score,
		Raw:         r.Raw,
		CreditLimit: r.CreditLimit,
		Source:      source,
		Time:        time.Now().UTC(),
	})
	if err != nil {
		slog.Warn("failed to publish score event", "user", id, "error", err)
	}
}

func (s *service) scoreHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.PathValue("id"))
		if id == "" {
			writeError(w, http.StatusBadRequest, "user id required")
			return
		}

		res, err := s.scoreUser(r.Context(), id)
		if err != nil {
			status := lookupStatus(err)
			if status == http.StatusInternalServerError {
				slog.Error("scoring failed", "user", id, "error", err)
			}
			writeError(w, status, err.Error())
			return
		}

		s.publish(r.Context(), id, "http", res)
		writeJSON(w, http.StatusOK, scoreResponse{OK: true, Result: *res})
	}
}

func (s *service) diagnoseHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.PathValue("id"))
		d, err := s.store.Diagnose(r.Context(), id)
		if err != nil {
			slog.Error("diagnose failed", "user", id, "error", err)
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, diagnoseResponse{OK: true, Diagnosis: *d})
	}
}

func (s *service) simulateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.PathValue("id"))
		q := r.URL.Query()

		amount, err := strconv.ParseFloat(q.Get("amount"), 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "amount must be a number")
			return
		}
		months, err := strconv.Atoi(q.Get("duration"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "duration must be a whole number of months")
			return
		}
		reduction := 0.0
		if v := q.Get("reduction"); v != "" {
			if reduction, err = strconv.ParseFloat(v, 64); err != nil {
				writeError(w, http.StatusBadRequest, "reduction must be a number")
				return
			}
		}

		res, err := s.scoreUser(r.Context(), id)
		if err != nil {
			writeError(w, lookupStatus(err), err.Error())
			return
		}

		sim, err := s.rates.Simulate(res.Score, amount, months, reduction)
		if err != nil {
			if errors.Is(err, rate.ErrIneligible) ||
				errors.Is(err, rate.ErrInvalidDuration) ||
				errors.Is(err, rate.ErrInvalidAmount) {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, simulateResponse{OK: true, Simulation: *sim})
	}
}

// modelState reports whether a predictor is held; a model that has
// not loaded yet does not fail the health check.
func (s *service) modelState() string {
	if s.models == nil {
		return ""
	}
	if s.models.Loaded() {
		return "loaded"
	}
	return "not loaded"
}

func (s *service) healthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.store.Ping(r.Context()); err != nil {
			slog.Error("health check failed", "error", err)
			writeJSON(w, http.StatusInternalServerError, messageResponse{
				OK: false, Message: err.Error(), Store: "disconnected", Model: s.modelState(),
			})
			return
		}
		writeJSON(w, http.StatusOK, messageResponse{
			OK: true, Message: "API OK", Store: "connected", Model: s.modelState(),
		})
	}
}

func (s *service) rootHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, messageResponse{OK: true, Message: "microscore API", Version: s.version})
	}
}

func notFoundHandler(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusNotFound, "route not found")
}
