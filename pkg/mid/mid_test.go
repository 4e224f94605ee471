package mid

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func serve(h http.Handler, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func TestStack_Order(t *testing.T) {
	var order []int
	mw := func(n int) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, n)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := New(mw(1), nil, mw(2), mw(3)).Then(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		order = append(order, 0)
	}))

	serve(h, http.MethodGet, "/")
	assert.Equal(t, []int{1, 2, 3, 0}, order)
}

func TestStack_Empty(t *testing.T) {
	rec := serve(New().Then(okHandler()), http.MethodGet, "/")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLogger(t *testing.T) {
	tests := map[string]struct {
		status int
		body   string
		level  string
	}{
		"implicit ok":  {0, "hello", "INFO"},
		"not found":    {http.StatusNotFound, `{"ok":false}`, "INFO"},
		"server error": {http.StatusInternalServerError, "", "ERROR"},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			log := slog.New(slog.NewJSONHandler(&buf, nil))
			h := Logger(log)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				if tt.status != 0 {
					w.WriteHeader(tt.status)
				}
				_, _ = w.Write([]byte(tt.body))
			}))

			serve(h, http.MethodGet, "/api/score/u1")

			var line map[string]any
			require.NoError(t, json.Unmarshal(buf.Bytes(), &line), buf.String())
			want := tt.status
			if want == 0 {
				want = http.StatusOK
			}
			assert.Equal(t, tt.level, line["level"])
			assert.Equal(t, "/api/score/u1", line["path"])
			assert.Equal(t, float64(want), line["status"])
			assert.Equal(t, float64(len(tt.body)), line["bytes"])
		})
	}
}

func TestRecorder_FirstStatusWins(t *testing.T) {
	rec := &recorder{ResponseWriter: httptest.NewRecorder()}
	assert.Equal(t, http.StatusOK, rec.code())

	_, err := rec.Write([]byte("x"))
	require.NoError(t, err)
	rec.WriteHeader(http.StatusTeapot)
	assert.Equal(t, http.StatusOK, rec.code())
	assert.Equal(t, 1, rec.bytes)
	assert.NotNil(t, rec.Unwrap())
}

func TestRecover(t *testing.T) {
	log := slog.New(slog.DiscardHandler)
	h := Recover(log)(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		panic("boom")
	}))

	rec := serve(h, http.MethodGet, "/")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeError(t, rec)
	assert.False(t, body.OK)
	assert.Equal(t, "internal server error", body.Message)
}

func TestRecover_AbortHandler(t *testing.T) {
	h := Recover(slog.New(slog.DiscardHandler))(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		panic(http.ErrAbortHandler)
	}))
	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		serve(h, http.MethodGet, "/")
	})
}

func TestCORS(t *testing.T) {
	h := CORS("")(okHandler())

	rec := serve(h, http.MethodGet, "/")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, rec.Header().Get("Vary"))

	rec = serve(h, http.MethodOptions, "/api/users/1/score")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "GET, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "600", rec.Header().Get("Access-Control-Max-Age"))

	rec = serve(CORS("https://app.example.com")(okHandler()), http.MethodGet, "/")
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "Origin", rec.Header().Get("Vary"))
}

func TestRateLimit(t *testing.T) {
	h := RateLimit(0.001, 2)(okHandler())

	codes := make([]int, 0, 3)
	var last *httptest.ResponseRecorder
	for range 3 {
		last = serve(h, http.MethodGet, "/")
		codes = append(codes, last.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
	assert.Equal(t, "1000", last.Header().Get("Retry-After"))
	assert.Equal(t, "rate limit exceeded", decodeError(t, last).Message)
}

func TestRateLimit_Disabled(t *testing.T) {
	assert.Nil(t, RateLimit(0, 0))

	h := New(RateLimit(-1, 5)).Then(okHandler())
	for range 50 {
		require.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/").Code)
	}
}

func TestOTel(t *testing.T) {
	var seen bool
	h := OTel("microscore")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		seen = true
		w.WriteHeader(http.StatusAccepted)
	}))
	rec := serve(h, http.MethodGet, "/")
	assert.True(t, seen)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}
