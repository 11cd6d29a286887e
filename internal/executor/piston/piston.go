// Package piston is an executor backend for a Piston-compatible remote
// execution API.
package piston

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/peerbajaj/collab/internal/apperror"
	"github.com/peerbajaj/collab/internal/executor"
)

// DefaultURL is the public Piston instance.
const DefaultURL = "https://emkc.org/api/v2/piston"

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 1 << 20

type file struct {
	Content string `json:"content"`
}

type executeRequest struct {
	Language string `json:"language"`
	Version  string `json:"version"`
	Files    []file `json:"files"`
}

type stage struct {
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
	Output string `json:"output"`
	Code   *int   `json:"code"`
}

type executeResponse struct {
	Run     *stage `json:"run"`
	Compile *stage `json:"compile"`
	Message string `json:"message"`
}

// Client implements executor.Executor against a Piston API.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// New creates a Client. An empty baseURL selects DefaultURL.
// The caller's context carries the deadline, so the http.Client has none.
func New(baseURL string, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
		logger:  logger,
	}
}

// Execute posts the program and maps the response into an ExecutionResult.
func (c *Client) Execute(ctx context.Context, req executor.ExecutionRequest) (*executor.ExecutionResult, error) {
	start := time.Now()

	body, err := json.Marshal(executeRequest{
		Language: req.Language,
		Version:  req.Version,
		Files:    []file{{Content: req.Code}},
	})
	if err != nil {
		return nil, fmt.Errorf("encoding execute request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/execute", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building execute request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("calling execution service: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading execution response: %w", err)
	}

	var out executeResponse
	decodeErr := json.Unmarshal(raw, &out)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("execution service rejected request",
			slog.Int("status", resp.StatusCode),
			slog.String("language", req.Language),
		)
		if decodeErr == nil && out.Message != "" {
			return nil, apperror.Execution(out.Message)
		}
		return nil, apperror.Execution(fmt.Sprintf("execution service returned %d", resp.StatusCode))
	}
	if decodeErr != nil {
		return nil, apperror.Execution("execution service returned an unreadable response")
	}

	// A failed compile stage means run never happened.
	if out.Compile != nil && out.Compile.Code != nil && *out.Compile.Code != 0 {
		return result(out.Compile, start), nil
	}
	if out.Run == nil {
		if out.Message != "" {
			return nil, apperror.Execution(out.Message)
		}
		return nil, apperror.Execution("execution service returned no run result")
	}
	return result(out.Run, start), nil
}

func result(s *stage, start time.Time) *executor.ExecutionResult {
	code := 0
	if s.Code != nil {
		code = *s.Code
	}
	return &executor.ExecutionResult{
		Stdout:   s.Stdout,
		Stderr:   s.Stderr,
		Output:   s.Output,
		ExitCode: code,
		Duration: time.Since(start),
	}
}
