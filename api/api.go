// Package api provides the REST endpoints of the social feed.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/GetStream/stream-social-feed/api/validator"
	"github.com/GetStream/stream-social-feed/feed"
	"github.com/GetStream/stream-social-feed/metrics"
)

// API provides the REST endpoints for the application. Secret verifies the
// HS256 access tokens; Limiter is optional.
type API struct {
	Logger  *slog.Logger
	Service Service
	Val     *validator.Validator
	Secret  []byte
	Limiter *RateLimiter

	once sync.Once
	mux  *http.ServeMux
}

func (a *API) setupRoutes() {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", a.healthz)

	mux.HandleFunc("GET /posts", a.authenticated(a.listPosts))
	mux.HandleFunc("POST /posts", a.authenticated(a.createPost))
	mux.HandleFunc("GET /posts/{postID}", a.authenticated(a.getPost))
	mux.HandleFunc("POST /posts/{postID}/comments", a.authenticated(a.addComment))
	mux.HandleFunc("POST /posts/{postID}/like", a.authenticated(a.toggleLike))

	mux.HandleFunc("PATCH /users/me", a.authenticated(a.updateProfile))
	mux.HandleFunc("GET /users/{username}", a.authenticated(a.profile))
	mux.HandleFunc("GET /users/{username}/posts", a.authenticated(a.listUserPosts))
	mux.HandleFunc("POST /users/{userID}/follow", a.authenticated(a.toggleFollow))

	mux.HandleFunc("GET /notifications", a.authenticated(a.listNotifications))
	mux.HandleFunc("GET /notifications/unread-count", a.authenticated(a.unreadCount))
	mux.HandleFunc("PATCH /notifications/read-all", a.authenticated(a.markAllRead))
	mux.HandleFunc("PATCH /notifications/{notificationID}/read", a.authenticated(a.markRead))

	a.mux = mux
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.once.Do(a.setupRoutes)
	a.Logger.Info("Request received", "method", r.Method, "path", r.URL.Path)

	start := time.Now()
	sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
	defer func() {
		if rec := recover(); rec != nil {
			a.Logger.Error("Panic while serving request", "method", r.Method, "path", r.URL.Path, "panic", fmt.Sprint(rec))
			if !sw.wrote {
				a.respond(sw, http.StatusInternalServerError, errorResponse{
					Error: "Internal server error",
					Code:  "internal",
				})
			}
		}
		_, route := a.mux.Handler(r)
		metrics.ObserveRequest(r.Method, route, sw.status, time.Since(start))
	}()

	a.mux.ServeHTTP(sw, r)
}

// statusWriter remembers the status code written by a handler.
type statusWriter struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.wrote = true
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.wrote = true
	return w.ResponseWriter.Write(b)
}

func (a *API) respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		a.Logger.Error("Could not encode JSON body", "error", err.Error())
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	// Result carries the applied action of a partial failure.
	Result any `json:"result,omitempty"`
}

func (a *API) respondError(w http.ResponseWriter, status int, err error, code, msg string) {
	if status >= http.StatusInternalServerError {
		a.Logger.Error("Error", "code", code, "error", err.Error())
	} else {
		a.Logger.Warn("Request failed", "code", code, "error", err.Error())
	}
	a.respond(w, status, errorResponse{Error: msg, Code: code})
}

// respondServiceError maps the error taxonomy of the feed package to HTTP.
// msg is used for errors that carry no client facing detail.
func (a *API) respondServiceError(w http.ResponseWriter, err error, msg string) {
	switch {
	case errors.Is(err, feed.ErrValidation):
		a.respondError(w, http.StatusBadRequest, err, "validation_error", err.Error())
	case errors.Is(err, feed.ErrNotFound):
		a.respondError(w, http.StatusNotFound, err, "not_found", err.Error())
	case errors.Is(err, feed.ErrStorageUnavailable):
		a.respondError(w, http.StatusServiceUnavailable, err, "storage_unavailable", "Storage is unavailable, try again later")
	case errors.Is(err, feed.ErrConflict):
		a.respondError(w, http.StatusConflict, err, "conflict", "The resource was modified concurrently, try again")
	default:
		a.respondError(w, http.StatusInternalServerError, err, "internal", msg)
	}
}

func (a *API) validateBody(w http.ResponseWriter, s any) bool {
	errs := a.Val.ValidateStruct(s)
	type response struct {
		Errors []validator.ValidationError `json:"errors"`
	}

	if len(errs) > 0 {
		a.respond(w, http.StatusBadRequest, &response{
			Errors: errs,
		})
		return false
	}
	return true
}

// respondPartial reports an action that was applied but whose notification
// could not be written.
func (a *API) respondPartial(w http.ResponseWriter, err error, result any) {
	a.Logger.Error("Partial failure", "error", err.Error())
	a.respond(w, http.StatusInternalServerError, errorResponse{
		Error:  "The action was applied but its notification could not be delivered",
		Code:   "partial_failure",
		Result: result,
	})
}

// decodeBody decodes and validates the JSON request body into v.
func (a *API) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		a.respondError(w, http.StatusBadRequest, err, "validation_error", "Could not decode request body")
		return false
	}
	if err := r.Body.Close(); err != nil {
		a.respondError(w, http.StatusInternalServerError, err, "internal", "Could not close request body")
		return false
	}
	return a.validateBody(w, v)
}

func (a *API) healthz(w http.ResponseWriter, _ *http.Request) {
	a.respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

func pageParam(r *http.Request) (int, error) {
	s := r.URL.Query().Get("page")
	if s == "" {
		return 1, nil
	}
	page, err := strconv.Atoi(s)
	if err != nil || page < 1 {
		return 0, fmt.Errorf("%w: page must be a positive integer", feed.ErrValidation)
	}
	return page, nil
}
