package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/finease/internal/aggregate"
	"github.com/dvloznov/finease/internal/api/middleware"
	"github.com/dvloznov/finease/internal/gcs"
	"github.com/dvloznov/finease/internal/input"
	"github.com/dvloznov/finease/internal/runs"
	"github.com/dvloznov/finease/internal/session"
	"github.com/dvloznov/finease/internal/workflow"
)

// multipartOverhead is allowed on top of the upload limit for form framing.
const multipartOverhead = 1 << 20

// Allow wraps h so that other methods get 405.
func Allow(method string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		h(w, r)
	}
}

// Health handles GET /health
func Health(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// SessionHandler handles sign-in and profile endpoints.
type SessionHandler struct {
	provider session.Provider
	log      zerolog.Logger
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(provider session.Provider, log zerolog.Logger) *SessionHandler {
	return &SessionHandler{
		provider: provider,
		log:      log,
	}
}

// Register mounts the session routes.
func (h *SessionHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/session", Allow(http.MethodGet, h.GetSession))
	mux.HandleFunc("/api/session/signin", Allow(http.MethodPost, h.SignIn))
	mux.HandleFunc("/api/session/signup", Allow(http.MethodPost, h.SignUp))
	mux.HandleFunc("/api/session/signout", Allow(http.MethodPost, h.SignOut))
	mux.HandleFunc("/api/session/profile", Allow(http.MethodPatch, h.UpdateProfile))
}

type sessionResponse struct {
	Identity *session.Identity `json:"identity"`
	Label    string            `json:"label,omitempty"`
}

func newSessionResponse(id *session.Identity) sessionResponse {
	return sessionResponse{Identity: id, Label: id.Label()}
}

// GetSession handles GET /api/session
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, newSessionResponse(h.provider.Current()))
}

type credentialsRequest struct {
	Email       string  `json:"email"`
	Password    string  `json:"password"`
	DisplayName *string `json:"displayName,omitempty"`
}

// SignIn handles POST /api/session/signin
func (h *SessionHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	id, err := h.provider.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeSessionError(w, err, "Failed to sign in")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, newSessionResponse(id))
}

// SignUp handles POST /api/session/signup
func (h *SessionHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	id, err := h.provider.SignUp(r.Context(), req.Email, req.Password, req.DisplayName)
	if err != nil {
		h.writeSessionError(w, err, "Failed to sign up")
		return
	}

	middleware.WriteJSON(w, http.StatusCreated, newSessionResponse(id))
}

// SignOut handles POST /api/session/signout
func (h *SessionHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	if err := h.provider.SignOut(r.Context()); err != nil {
		h.writeSessionError(w, err, "Failed to sign out")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, newSessionResponse(nil))
}

// UpdateProfile handles PATCH /api/session/profile
func (h *SessionHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req session.ProfileUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	id, err := h.provider.UpdateProfile(r.Context(), req)
	if err != nil {
		h.writeSessionError(w, err, "Failed to update profile")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, newSessionResponse(id))
}

func (h *SessionHandler) writeSessionError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, session.ErrInvalidCredentialsFormat):
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrNoActiveSession):
		middleware.WriteError(w, http.StatusUnauthorized, "No active session")
	default:
		h.log.Error().Err(err).Msg(fallback)
		middleware.WriteError(w, http.StatusInternalServerError, fallback)
	}
}

// Workflow is the part of workflow.Machine the analysis endpoints drive.
type Workflow interface {
	Submit(ctx context.Context, req input.Request) (string, error)
	State() workflow.State
	Reset() error
}

// AnalysisHandler handles submission, state and chart endpoints.
type AnalysisHandler struct {
	workflow   Workflow
	normalizer *input.Normalizer
	fetcher    gcs.Fetcher
	log        zerolog.Logger
}

// NewAnalysisHandler creates a new analysis handler. fetcher may be nil, in
// which case gs:// input is rejected.
func NewAnalysisHandler(wf Workflow, normalizer *input.Normalizer, fetcher gcs.Fetcher, log zerolog.Logger) *AnalysisHandler {
	return &AnalysisHandler{
		workflow:   wf,
		normalizer: normalizer,
		fetcher:    fetcher,
		log:        log,
	}
}

// Register mounts the analysis routes.
func (h *AnalysisHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/analysis", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			h.GetState(w, r)
		case http.MethodPost:
			h.Submit(w, r)
		default:
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})
	mux.HandleFunc("/api/analysis/reset", Allow(http.MethodPost, h.Reset))
	mux.HandleFunc("/api/analysis/chart", Allow(http.MethodGet, h.Chart))
}

type submitRequest struct {
	Text   string `json:"text"`
	GCSURI string `json:"gcs_uri"`
}

// Submit handles POST /api/analysis
func (h *AnalysisHandler) Submit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, int64(h.normalizer.MaxBytes)+multipartOverhead)

	req, err := h.readRequest(ctx, r)
	if err != nil {
		h.writeInputError(w, err)
		return
	}

	runID, err := h.workflow.Submit(ctx, req)
	if errors.Is(err, workflow.ErrBusy) {
		middleware.WriteError(w, http.StatusConflict, "An analysis is already in progress")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to submit analysis")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to submit analysis")
		return
	}

	middleware.WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"run_id": runID,
		"state":  h.workflow.State(),
	})
}

func (h *AnalysisHandler) readRequest(ctx context.Context, r *http.Request) (input.Request, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(int64(h.normalizer.MaxBytes)); err != nil {
			return nil, fmt.Errorf("%w: %w", errBadRequest, err)
		}
		// A file part wins over the text field, as in the upload form.
		sel := input.NewSelection(h.normalizer)
		file, header, err := r.FormFile("file")
		switch {
		case errors.Is(err, http.ErrMissingFile):
			if err := sel.SetText(r.FormValue("text")); err != nil {
				return nil, err
			}
		case err != nil:
			return nil, fmt.Errorf("%w: %v", errBadRequest, err)
		default:
			defer file.Close()
			data, err := io.ReadAll(io.LimitReader(file, int64(h.normalizer.MaxBytes)+1))
			if err != nil {
				return nil, fmt.Errorf("%w: reading upload: %v", errBadRequest, err)
			}
			if err := sel.SelectFile(header.Filename, header.Header.Get("Content-Type"), data); err != nil {
				return nil, err
			}
		}
		return sel.Request()
	}

	var body submitRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: invalid request body: %w", errBadRequest, err)
	}
	if body.GCSURI != "" && strings.TrimSpace(body.Text) != "" {
		return nil, fmt.Errorf("%w: send either text or gcs_uri, not both", errBadRequest)
	}
	if body.GCSURI == "" {
		return h.normalizer.FromText(body.Text)
	}

	if h.fetcher == nil {
		return nil, fmt.Errorf("%w: GCS input is not configured", errBadRequest)
	}
	if _, _, err := gcs.ParseURI(body.GCSURI); err != nil {
		return nil, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	obj, err := h.fetcher.FetchFromGCS(ctx, body.GCSURI)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errFetchFailed, err)
	}
	return h.normalizer.FromFile(obj.Name, obj.ContentType, obj.Data)
}

var (
	errBadRequest  = errors.New("bad request")
	errFetchFailed = errors.New("fetching input failed")
)

func (h *AnalysisHandler) writeInputError(w http.ResponseWriter, err error) {
	var maxErr *http.MaxBytesError
	switch {
	case errors.Is(err, input.ErrUnsupportedMediaType):
		middleware.WriteError(w, http.StatusUnsupportedMediaType, err.Error())
	case errors.Is(err, input.ErrInputTooLarge), errors.As(err, &maxErr):
		middleware.WriteError(w, http.StatusRequestEntityTooLarge, "Input is too large")
	case errors.Is(err, input.ErrEmptyInput):
		middleware.WriteError(w, http.StatusBadRequest, "Provide transaction text or a file")
	case errors.Is(err, errFetchFailed):
		h.log.Error().Err(err).Msg("Failed to fetch input from GCS")
		middleware.WriteError(w, http.StatusBadGateway, "Failed to fetch input")
	default:
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
	}
}

// GetState handles GET /api/analysis
func (h *AnalysisHandler) GetState(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, h.workflow.State())
}

// Reset handles POST /api/analysis/reset
func (h *AnalysisHandler) Reset(w http.ResponseWriter, r *http.Request) {
	if err := h.workflow.Reset(); err != nil {
		if errors.Is(err, workflow.ErrInvalidTransition) {
			middleware.WriteError(w, http.StatusConflict, "Analysis is still running")
			return
		}
		h.log.Error().Err(err).Msg("Failed to reset analysis")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to reset analysis")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, h.workflow.State())
}

// Chart handles GET /api/analysis/chart
func (h *AnalysisHandler) Chart(w http.ResponseWriter, r *http.Request) {
	state := h.workflow.State()
	if state.Phase != workflow.PhaseComplete || state.Result == nil {
		middleware.WriteError(w, http.StatusNotFound, "No completed analysis")
		return
	}

	days := aggregate.Daily(state.Result.Transactions)
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"run_id": state.RunID,
		"days":   days,
		"count":  len(days),
	})
}

// RunsHandler handles run ledger endpoints.
type RunsHandler struct {
	store runs.Store
	log   zerolog.Logger
}

// NewRunsHandler creates a new runs handler.
func NewRunsHandler(store runs.Store, log zerolog.Logger) *RunsHandler {
	return &RunsHandler{
		store: store,
		log:   log,
	}
}

// Register mounts the run routes.
func (h *RunsHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/runs", Allow(http.MethodGet, h.ListRuns))
	mux.HandleFunc("/api/runs/", Allow(http.MethodGet, func(w http.ResponseWriter, r *http.Request) {
		// Extract run ID from path
		runID := strings.TrimPrefix(r.URL.Path, "/api/runs/")
		if runID == "" {
			middleware.WriteError(w, http.StatusBadRequest, "Run ID is required")
			return
		}
		h.GetRun(w, r, runID)
	}))
}

// GetRun handles GET /api/runs/{id}
func (h *RunsHandler) GetRun(w http.ResponseWriter, r *http.Request, runID string) {
	ctx := r.Context()

	run, err := h.store.GetRun(ctx, runID)
	if errors.Is(err, runs.ErrNotFound) {
		middleware.WriteError(w, http.StatusNotFound, "Run not found")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("run_id", runID).Msg("Failed to get run")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to get run")
		return
	}

	if id := middleware.IdentityFromContext(ctx); id != nil && run.UserID != id.ID {
		middleware.WriteError(w, http.StatusNotFound, "Run not found")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, run)
}

// ListRuns handles GET /api/runs
func (h *RunsHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// Parse query parameters
	query := r.URL.Query()
	filter := runs.Filter{
		Status: runs.Status(query.Get("status")),
	}
	if id := middleware.IdentityFromContext(ctx); id != nil {
		filter.UserID = id.ID
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}

	if offsetStr := query.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			filter.Offset = offset
		}
	}

	runList, err := h.store.ListRuns(ctx, filter)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list runs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list runs")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  runList,
		"count": len(runList),
	})
}
