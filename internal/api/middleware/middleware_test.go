package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/finease/internal/session"
)

func okHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	_, err := uuid.Parse(seen)
	require.NoError(t, err, "generated IDs are UUIDs")
	assert.Equal(t, seen, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", seen)
}

func TestAuth(t *testing.T) {
	var current *session.Identity
	var seen *session.Identity
	h := Auth(func() *session.Identity { return current }, "/api/analysis", "/api/runs")(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = IdentityFromContext(r.Context())
			w.WriteHeader(http.StatusOK)
		}))

	tests := []struct {
		path     string
		signedIn bool
		want     int
	}{
		{"/api/analysis", false, http.StatusUnauthorized},
		{"/api/analysis/chart", false, http.StatusUnauthorized},
		{"/api/runs/r1", false, http.StatusUnauthorized},
		{"/api/analysisx", false, http.StatusOK},
		{"/api/session", false, http.StatusOK},
		{"/health", false, http.StatusOK},
		{"/api/analysis", true, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			current, seen = nil, nil
			if tt.signedIn {
				current = &session.Identity{ID: "mock-uid-1"}
			}

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.want, rec.Code)
			if tt.signedIn {
				require.NotNil(t, seen)
				assert.Equal(t, "mock-uid-1", seen.ID)
			}
		})
	}
}

func TestCORS(t *testing.T) {
	h := CORS("https://app.example.com")(http.HandlerFunc(okHandler))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/analysis", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "PATCH")
}

func TestRecoveryAndLogger(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)

	h := Recovery(log)(Logger(log)(RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/session", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"Internal server error"}`, rec.Body.String())
	assert.Contains(t, buf.String(), "Panic recovered")
}

func TestLoggerRecordsStatus(t *testing.T) {
	var buf bytes.Buffer
	h := Logger(zerolog.New(&buf))(RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, http.StatusTeapot, "short and stout")
	})))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tea", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Contains(t, buf.String(), `"status":418`)
	assert.Contains(t, buf.String(), `"request_id":"`+rec.Header().Get("X-Request-ID")+`"`)
}
