package rest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/petrijr/extask/pkg/api"
)

// maxRequestBody caps the size of accepted request bodies.
const maxRequestBody = 8 << 20

// Error types carried in errorDTO.Type.
const (
	ErrTypeInvalidRequest = "InvalidRequestException"
	ErrTypeNotFound       = "NotFoundException"
	ErrTypeLockExpired    = "LockExpiredException"
	ErrTypeInternal       = "InternalServerErrorException"
)

// HandlerConfig configures NewHandler.
type HandlerConfig struct {
	Logger *slog.Logger
}

type handler struct {
	coordinator api.Coordinator
	logger      *slog.Logger
}

// NewHandler exposes c through the external task REST API understood by
// Client. Routes are relative to the API root, so a handler mounted under
// a prefix needs http.StripPrefix.
func NewHandler(c api.Coordinator, cfg HandlerConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	h := &handler{coordinator: c, logger: cfg.Logger.With("component", "rest_handler")}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /external-task/fetchAndLock", h.fetchAndLock)
	mux.HandleFunc("POST /external-task/{id}/complete", h.complete)
	mux.HandleFunc("POST /external-task/{id}/failure", h.failure)
	mux.HandleFunc("POST /external-task/{id}/bpmnError", h.bpmnError)
	mux.HandleFunc("POST /external-task/{id}/extendLock", h.extendLock)
	mux.HandleFunc("POST /external-task/{id}/unlock", h.unlock)

	return Chain(Recovery(h.logger), Logging(h.logger))(mux)
}

func (h *handler) fetchAndLock(w http.ResponseWriter, r *http.Request) {
	var in fetchRequestDTO
	if !h.decode(w, r, &in) {
		return
	}
	tasks, err := h.coordinator.FetchAndLock(r.Context(), fetchRequestFromDTO(in))
	if err != nil {
		h.fail(w, err)
		return
	}
	out := make([]lockedTaskDTO, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, lockedTaskToDTO(t))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) complete(w http.ResponseWriter, r *http.Request) {
	var in completeDTO
	if !h.decode(w, r, &in) {
		return
	}
	h.report(w, h.coordinator.Complete(r.Context(), api.CompleteRequest{
		TaskID:         r.PathValue("id"),
		WorkerID:       in.WorkerID,
		Variables:      in.Variables,
		LocalVariables: in.LocalVariables,
	}))
}

func (h *handler) failure(w http.ResponseWriter, r *http.Request) {
	var in failureDTO
	if !h.decode(w, r, &in) {
		return
	}
	h.report(w, h.coordinator.HandleFailure(r.Context(), api.FailureRequest{
		TaskID:       r.PathValue("id"),
		WorkerID:     in.WorkerID,
		ErrorMessage: in.ErrorMessage,
		ErrorDetails: in.ErrorDetails,
		Retries:      in.Retries,
		RetryTimeout: fromMillis(in.RetryTimeout),
	}))
}

func (h *handler) bpmnError(w http.ResponseWriter, r *http.Request) {
	var in bpmnErrorDTO
	if !h.decode(w, r, &in) {
		return
	}
	h.report(w, h.coordinator.HandleBpmnError(r.Context(), api.BpmnErrorRequest{
		TaskID:       r.PathValue("id"),
		WorkerID:     in.WorkerID,
		ErrorCode:    in.ErrorCode,
		ErrorMessage: in.ErrorMessage,
		Variables:    in.Variables,
	}))
}

func (h *handler) extendLock(w http.ResponseWriter, r *http.Request) {
	var in extendLockDTO
	if !h.decode(w, r, &in) {
		return
	}
	h.report(w, h.coordinator.ExtendLock(r.Context(), api.ExtendLockRequest{
		TaskID:      r.PathValue("id"),
		WorkerID:    in.WorkerID,
		NewDuration: fromMillis(in.NewDuration),
	}))
}

func (h *handler) unlock(w http.ResponseWriter, r *http.Request) {
	h.report(w, h.coordinator.Unlock(r.Context(), r.PathValue("id")))
}

func (h *handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, ErrTypeInvalidRequest, "malformed request body: "+err.Error())
		return false
	}
	return true
}

func (h *handler) report(w http.ResponseWriter, err error) {
	if err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// fail maps coordinator errors onto status codes understood by Client.
func (h *handler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, api.ErrTaskNotFound):
		writeError(w, http.StatusNotFound, ErrTypeNotFound, err.Error())
	case errors.Is(err, api.ErrLockExpired):
		writeError(w, http.StatusConflict, ErrTypeLockExpired, err.Error())
	case errors.Is(err, api.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, ErrTypeInvalidRequest, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, ErrTypeInternal, err.Error())
	default:
		h.logger.Error("internal error", "error", err)
		writeError(w, http.StatusInternalServerError, ErrTypeInternal, "internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, typ, msg string) {
	writeJSON(w, status, errorDTO{Type: typ, Message: msg})
}

// Middleware wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// Chain applies middlewares left to right: Chain(m1, m2)(h) = m1(m2(h)).
func Chain(middlewares ...Middleware) Middleware {
	return func(next http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

// Logging logs each request at debug level.
func Logging(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r)
			logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rw.status,
				"duration", time.Since(start),
			)
		})
	}
}

// Recovery turns handler panics into 500 responses.
func Recovery(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						"panic", rec,
						"stack", string(debug.Stack()),
						"path", r.URL.Path,
					)
					writeError(w, http.StatusInternalServerError, ErrTypeInternal, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
