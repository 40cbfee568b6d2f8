package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/petrijr/extask/pkg/api"
)

// maxErrorBody caps how much of an error response is read.
const maxErrorBody = 64 << 10

// ClientConfig configures a Client.
type ClientConfig struct {
	// BaseURL is the root of the coordinator's REST API, e.g.
	// "http://localhost:8080/engine-rest".
	BaseURL string

	// HTTPClient defaults to a client without a timeout: each call is
	// bounded by its context, which lets long-polling fetches outlive any
	// fixed client timeout.
	HTTPClient *http.Client

	// Header is added to every request, e.g. for authorization.
	Header http.Header

	Logger *slog.Logger
}

// Client implements api.Coordinator over HTTP.
type Client struct {
	base   *url.URL
	http   *http.Client
	header http.Header
	logger *slog.Logger
}

// Ensure Client implements api.Coordinator.
var _ api.Coordinator = (*Client)(nil)

// NewClient creates a Client for the REST API at cfg.BaseURL.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("rest: base url is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("rest: parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("rest: unsupported scheme %q", base.Scheme)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		base:   base,
		http:   cfg.HTTPClient,
		header: cfg.Header.Clone(),
		logger: cfg.Logger.With("component", "rest_client"),
	}, nil
}

// FetchAndLock implements api.Coordinator.
func (c *Client) FetchAndLock(ctx context.Context, req api.FetchRequest) ([]api.LockedTask, error) {
	var dtos []lockedTaskDTO
	if err := c.post(ctx, "fetchAndLock", "/external-task/fetchAndLock", fetchRequestToDTO(req), &dtos); err != nil {
		return nil, err
	}
	tasks := make([]api.LockedTask, 0, len(dtos))
	for _, d := range dtos {
		t, err := lockedTaskFromDTO(d)
		if err != nil {
			return nil, fmt.Errorf("fetchAndLock: decode response: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// Complete implements api.Coordinator.
func (c *Client) Complete(ctx context.Context, req api.CompleteRequest) error {
	return c.post(ctx, "complete", taskPath(req.TaskID, "complete"), completeDTO{
		WorkerID:       req.WorkerID,
		Variables:      req.Variables,
		LocalVariables: req.LocalVariables,
	}, nil)
}

// HandleFailure implements api.Coordinator.
func (c *Client) HandleFailure(ctx context.Context, req api.FailureRequest) error {
	return c.post(ctx, "failure", taskPath(req.TaskID, "failure"), failureDTO{
		WorkerID:     req.WorkerID,
		ErrorMessage: req.ErrorMessage,
		ErrorDetails: req.ErrorDetails,
		Retries:      req.Retries,
		RetryTimeout: millis(req.RetryTimeout),
	}, nil)
}

// HandleBpmnError implements api.Coordinator.
func (c *Client) HandleBpmnError(ctx context.Context, req api.BpmnErrorRequest) error {
	return c.post(ctx, "bpmnError", taskPath(req.TaskID, "bpmnError"), bpmnErrorDTO{
		WorkerID:     req.WorkerID,
		ErrorCode:    req.ErrorCode,
		ErrorMessage: req.ErrorMessage,
		Variables:    req.Variables,
	}, nil)
}

// ExtendLock implements api.Coordinator.
func (c *Client) ExtendLock(ctx context.Context, req api.ExtendLockRequest) error {
	return c.post(ctx, "extendLock", taskPath(req.TaskID, "extendLock"), extendLockDTO{
		WorkerID:    req.WorkerID,
		NewDuration: millis(req.NewDuration),
	}, nil)
}

// Unlock implements api.Coordinator.
func (c *Client) Unlock(ctx context.Context, taskID string) error {
	return c.post(ctx, "unlock", taskPath(taskID, "unlock"), nil, nil)
}

func taskPath(id, action string) string {
	return "/external-task/" + url.PathEscape(id) + "/" + action
}

// post sends body as JSON and decodes a successful response into out when
// out is non-nil.
func (c *Client) post(ctx context.Context, op, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base.String()+path, reader)
	if err != nil {
		return fmt.Errorf("%s: create request: %w", op, err)
	}
	for k, vs := range c.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &api.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	c.logger.Debug("request", "op", op, "path", path, "status", resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return responseError(op, resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &api.TransportError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// responseError maps an error response onto the api sentinel errors.
func responseError(op string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var body errorDTO
	if err := json.Unmarshal(raw, &body); err != nil || body.Message == "" {
		body.Message = strings.TrimSpace(string(raw))
		if body.Message == "" {
			body.Message = http.StatusText(resp.StatusCode)
		}
	}
	re := &api.ResponseError{StatusCode: resp.StatusCode, Type: body.Type, Message: body.Message}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s: %w: %w", op, api.ErrTaskNotFound, re)
	case resp.StatusCode == http.StatusConflict || isLockMessage(body.Message):
		return fmt.Errorf("%s: %w: %w", op, api.ErrLockExpired, re)
	case resp.StatusCode == http.StatusBadRequest:
		return fmt.Errorf("%s: %w: %w", op, api.ErrInvalidRequest, re)
	default:
		return fmt.Errorf("%s: %w", op, re)
	}
}

// isLockMessage recognizes the engine's wording for a report by a worker
// that does not hold the lock.
func isLockMessage(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "locked by") || strings.Contains(m, "lock expired") || strings.Contains(m, "lock has expired")
}
