package enroll

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"uniplex.org/internal/obs"
)

const readyTimeout = 2 * time.Second

// API is the enrollment service's HTTP surface.
type API struct {
	mux *http.ServeMux
	svc *Service
	db  *sql.DB
}

func NewAPI(svc *Service, db *sql.DB) *API {
	a := &API{
		mux: http.NewServeMux(),
		svc: svc,
		db:  db,
	}
	a.mux.HandleFunc("/healthz", a.healthz)
	a.mux.HandleFunc("/readyz", a.ready)
	a.mux.Handle("/metrics", obs.Handler())
	a.mux.HandleFunc("/api/enrollments", a.handleCollection)
	a.mux.HandleFunc("/api/enrollments/", a.handleResource)
	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	return a
}

// Handler wraps the mux with the audit recorder, when given, so every
// enrollment request lands on the audit stream like the security service's.
func (a *API) Handler(auditor interface{ Wrap(http.Handler) http.Handler }) http.Handler {
	var h http.Handler = a.mux
	if auditor != nil {
		h = auditor.Wrap(h)
	}
	return obs.Instrument(h)
}

type createRequest struct {
	StudentID string `json:"studentId"`
	CourseID  string `json:"courseId"`
}

func (a *API) handleCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req createRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
			a.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		e, err := a.svc.Create(r.Context(), req.StudentID, req.CourseID)
		if err != nil {
			a.handleError(w, err)
			return
		}
		a.writeJSON(w, http.StatusCreated, e)
	case http.MethodGet:
		list, err := a.svc.List(r.Context())
		if err != nil {
			a.handleError(w, err)
			return
		}
		a.writeJSON(w, http.StatusOK, list)
	default:
		w.Header().Set("Allow", "GET, POST")
		a.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (a *API) handleResource(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/enrollments/"), "/")
	if id == "" || strings.Contains(id, "/") {
		a.writeError(w, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		a.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	e, err := a.svc.Find(r.Context(), id)
	if err != nil {
		a.handleError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, e)
}

func (a *API) healthz(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": "enrollment-api"})
}

func (a *API) ready(w http.ResponseWriter, r *http.Request) {
	if a.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()
		if err := a.db.PingContext(ctx); err != nil {
			a.writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready", "error": err.Error()})
			return
		}
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) handleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		a.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		a.writeError(w, http.StatusNotFound, err.Error())
	default:
		obs.Log(map[string]any{"level": "error", "msg": "enrollment request failed", "error": err.Error()})
		a.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (a *API) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *API) writeError(w http.ResponseWriter, code int, msg string) {
	a.writeJSON(w, code, map[string]any{"error": msg})
}
