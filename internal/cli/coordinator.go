package cli

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/petrijr/extask/internal/config"
	"github.com/petrijr/extask/internal/taskqueue"
	"github.com/petrijr/extask/pkg/api"
	"github.com/petrijr/extask/pkg/rest"
	"github.com/petrijr/extask/pkg/variables"
)

// restPrefix is where the external task API is mounted.
const restPrefix = "/engine-rest"

// NewCoordinatorCommand creates the coordinator command.
func NewCoordinatorCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "coordinator",
		Short: "Serve an embedded coordinator over HTTP",
		Long: `Serve the external task API under /engine-rest backed by an in-memory
queue, or by SQLite when coordinator.database is set. Tasks are created with
POST /tasks and inspected with GET /tasks/{id}.

Example:
  extask coordinator
  EXTASK_COORDINATOR_DATABASE=./tasks.db extask coordinator`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runCoordinator(ctx, rootOpts.Config, rootOpts.Logger)
		},
	}
}

// openQueue returns the queue selected by cfg and a function releasing it.
func openQueue(cfg config.CoordinatorConfig) (taskqueue.Queue, func() error, error) {
	if cfg.Database == "" {
		return taskqueue.NewInMemoryQueue(), func() error { return nil }, nil
	}
	db, err := sql.Open("sqlite", "file:"+cfg.Database+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	q, err := taskqueue.NewSQLiteQueue(db)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return q, db.Close, nil
}

func runCoordinator(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if err := cfg.ValidateCoordinator(); err != nil {
		return err
	}
	cc := cfg.Coordinator

	q, closeQueue, err := openQueue(cc)
	if err != nil {
		return err
	}
	defer func() { _ = closeQueue() }()

	coord := taskqueue.NewCoordinator(q, taskqueue.Config{
		PollInterval: cc.PollInterval,
		Logger:       logger,
	})

	srv := &http.Server{
		Addr:              cc.ListenAddr,
		Handler:           newCoordinatorMux(coord, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("coordinator listening",
			slog.String("addr", cc.ListenAddr),
			slog.String("database", cc.Database),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down coordinator")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newCoordinatorMux routes the external task API, the task admin endpoints
// and /metrics.
func newCoordinatorMux(coord *taskqueue.Coordinator, logger *slog.Logger) http.Handler {
	admin := &adminHandler{coord: coord}

	mux := http.NewServeMux()
	mux.Handle(restPrefix+"/", http.StripPrefix(restPrefix, rest.NewHandler(coord, rest.HandlerConfig{Logger: logger})))
	mux.Handle("POST /tasks", rest.Chain(rest.Logging(logger), rest.Recovery(logger))(http.HandlerFunc(admin.create)))
	mux.Handle("GET /tasks/{id}", rest.Chain(rest.Logging(logger), rest.Recovery(logger))(http.HandlerFunc(admin.get)))
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

// createTaskRequest is the body of POST /tasks.
type createTaskRequest struct {
	Topic             string                    `json:"topic"`
	BusinessKey       string                    `json:"businessKey,omitempty"`
	ProcessInstanceID string                    `json:"processInstanceId,omitempty"`
	Priority          int64                     `json:"priority,omitempty"`
	Retries           *int                      `json:"retries,omitempty"`
	Variables         map[string]variables.Wire `json:"variables,omitempty"`
}

// taskView is the body of GET /tasks/{id}.
type taskView struct {
	ID                string                    `json:"id"`
	Topic             string                    `json:"topic"`
	Status            taskqueue.Status          `json:"status"`
	BusinessKey       string                    `json:"businessKey,omitempty"`
	ProcessInstanceID string                    `json:"processInstanceId,omitempty"`
	Priority          int64                     `json:"priority"`
	WorkerID          string                    `json:"workerId,omitempty"`
	Retries           *int                      `json:"retries,omitempty"`
	ErrorCode         string                    `json:"errorCode,omitempty"`
	ErrorMessage      string                    `json:"errorMessage,omitempty"`
	Variables         map[string]variables.Wire `json:"variables"`
}

type adminHandler struct {
	coord *taskqueue.Coordinator
}

func (h *adminHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 8<<20)).Decode(&req); err != nil {
		writeAdminError(w, http.StatusBadRequest, rest.ErrTypeInvalidRequest, err.Error())
		return
	}
	id, err := h.coord.Enqueue(r.Context(), taskqueue.Task{
		TopicName:         req.Topic,
		BusinessKey:       req.BusinessKey,
		ProcessInstanceID: req.ProcessInstanceID,
		Priority:          req.Priority,
		Retries:           req.Retries,
		Variables:         req.Variables,
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	writeAdminJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (h *adminHandler) get(w http.ResponseWriter, r *http.Request) {
	t, err := h.coord.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	vars := t.Variables
	if vars == nil {
		vars = map[string]variables.Wire{}
	}
	writeAdminJSON(w, http.StatusOK, taskView{
		ID:                t.ID,
		Topic:             t.TopicName,
		Status:            t.Status,
		BusinessKey:       t.BusinessKey,
		ProcessInstanceID: t.ProcessInstanceID,
		Priority:          t.Priority,
		WorkerID:          t.WorkerID,
		Retries:           t.Retries,
		ErrorCode:         t.ErrorCode,
		ErrorMessage:      t.ErrorMessage,
		Variables:         vars,
	})
}

func (h *adminHandler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, api.ErrInvalidRequest):
		writeAdminError(w, http.StatusBadRequest, rest.ErrTypeInvalidRequest, err.Error())
	case errors.Is(err, api.ErrTaskNotFound):
		writeAdminError(w, http.StatusNotFound, rest.ErrTypeNotFound, err.Error())
	default:
		writeAdminError(w, http.StatusInternalServerError, rest.ErrTypeInternal, err.Error())
	}
}

func writeAdminJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeAdminError(w http.ResponseWriter, status int, typ, msg string) {
	writeAdminJSON(w, status, map[string]string{"type": typ, "message": msg})
}
