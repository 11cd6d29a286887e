// Package executor runs user code on an execution backend.
//
// Two layers live here:
//   - Executor: the backend contract (internal/executor/piston talks to a
//     remote Piston-compatible API, internal/executor/docker runs a local sandbox).
//   - Dispatcher: what the rest of the server calls. It validates the request,
//     enforces a bounded wait, and turns every failure into readable output text.
package executor

import (
	"context"
	"time"
)

// ExecutionRequest is one compile/run request.
type ExecutionRequest struct {
	Code     string `json:"code"`
	Language string `json:"language"`
	Version  string `json:"version"`
}

// ExecutionResult represents the output and status of the code execution.
//
// Output is the combined stream as the backend reports it. Backends that
// only have separate streams leave it empty and the dispatcher joins
// Stdout and Stderr.
type ExecutionResult struct {
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	Output   string        `json:"output"`
	ExitCode int           `json:"exitCode"`
	Duration time.Duration `json:"duration"`
}

// Executor represents the core interface for running code in an isolated environment.
//
// A non-nil error means the backend itself failed (unreachable, bad response).
// A program that crashes or exits non-zero is NOT an error. Its stderr and
// exit code are in the result.
type Executor interface {
	Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error)
}
