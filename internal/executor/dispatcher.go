package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/peerbajaj/collab/internal/apperror"
	"github.com/peerbajaj/collab/internal/metrics"
	"github.com/peerbajaj/collab/internal/model"
)

const (
	// DefaultTimeout bounds how long a requester waits for a result.
	DefaultTimeout = 20 * time.Second

	// MaxCodeLength caps the size of a submitted program (~100KB).
	MaxCodeLength = 100000

	noCodeMessage      = "No code to execute."
	unavailableMessage = "Code execution is currently unavailable."
)

// Response is what a requester sees in its output pane.
//
// ERRORS AS OUTPUT:
// Execution failures (backend down, timeout, bad language) are reported as
// Output text with Error set, never as a Go error. The requester's UI has one
// output pane, and nothing else in the room should ever react to a failure.
type Response struct {
	Output string `json:"output"`
	Error  bool   `json:"error"`
}

// Dispatcher forwards compile/run requests to an Executor.
type Dispatcher struct {
	exec    Executor
	timeout time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewDispatcher creates a Dispatcher. exec may be nil when no backend could
// be initialised; every request then gets an "unavailable" response.
// A non-positive timeout falls back to DefaultTimeout.
func NewDispatcher(exec Executor, timeout time.Duration, logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Dispatcher{
		exec:    exec,
		timeout: timeout,
		logger:  logger,
		metrics: m,
	}
}

// Timeout returns the bounded wait applied to each request.
func (d *Dispatcher) Timeout() time.Duration {
	return d.timeout
}

// Dispatch runs req and always returns a Response.
//
// BOUNDED WAIT:
// The backend call runs in its own goroutine and Dispatch selects on the
// timeout context. Even a backend that ignores ctx cannot hold the caller past
// the deadline; its late result is discarded. The caller's ctx is honoured too,
// but nothing in the server cancels it when a requester disconnects; the
// room simply drops the result.
func (d *Dispatcher) Dispatch(ctx context.Context, req ExecutionRequest) Response {
	if strings.TrimSpace(req.Code) == "" {
		return Response{Output: noCodeMessage}
	}

	req, err := d.normalize(req)
	if err != nil {
		d.metrics.Executed("rejected", 0)
		return Response{Output: "Error: " + err.Error(), Error: true}
	}

	if d.exec == nil {
		d.metrics.Executed("unavailable", 0)
		return Response{Output: unavailableMessage, Error: true}
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	type outcome struct {
		res *ExecutionResult
		err error
	}
	done := make(chan outcome, 1)
	start := time.Now()

	go func() {
		res, err := d.exec.Execute(ctx, req)
		done <- outcome{res: res, err: err}
	}()

	select {
	case o := <-done:
		elapsed := time.Since(start)
		if o.err != nil {
			if errors.Is(o.err, context.DeadlineExceeded) {
				return d.timedOut(req, elapsed)
			}
			d.metrics.Executed("error", elapsed)
			d.logger.Warn("code execution failed",
				slog.String("language", req.Language),
				slog.String("error", o.err.Error()),
			)
			return Response{Output: "Error: " + describe(o.err), Error: true}
		}
		d.metrics.Executed("ok", elapsed)
		return Response{Output: combine(o.res)}

	case <-ctx.Done():
		return d.timedOut(req, time.Since(start))
	}
}

func (d *Dispatcher) timedOut(req ExecutionRequest, elapsed time.Duration) Response {
	d.metrics.Executed("timeout", elapsed)
	d.logger.Warn("code execution timed out",
		slog.String("language", req.Language),
		slog.Duration("timeout", d.timeout),
	)
	return Response{
		Output: fmt.Sprintf("Error: execution timed out after %s", d.timeout),
		Error:  true,
	}
}

// normalize validates the request and fills in the default runtime version.
func (d *Dispatcher) normalize(req ExecutionRequest) (ExecutionRequest, error) {
	if len(req.Code) > MaxCodeLength {
		return req, apperror.ValidationFailed("code",
			fmt.Sprintf("code must be %d characters or less", MaxCodeLength))
	}

	lang, ok := model.LookupLanguage(req.Language)
	if !ok {
		return req, apperror.ValidationFailed("language",
			fmt.Sprintf("unsupported language %q", req.Language))
	}
	req.Language = lang.Name

	req.Version = strings.TrimSpace(req.Version)
	if req.Version == "" || req.Version == "*" {
		req.Version = lang.Version
	}
	return req, nil
}

// describe picks a message that is safe to show a user.
func describe(err error) string {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "the execution service could not run this code"
}

// combine flattens a result into the single output pane string.
func combine(res *ExecutionResult) string {
	if res == nil {
		return ""
	}
	if res.Output != "" {
		return res.Output
	}
	return res.Stdout + res.Stderr
}
