package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/peerbajaj/collab/internal/executor"
	"github.com/peerbajaj/collab/internal/handler"
)

// MockRunner stands in for the Dispatcher so handler tests need no backend.
type MockRunner struct {
	CapturedReq executor.ExecutionRequest
	Calls       int
	Return      executor.Response
}

func (m *MockRunner) Dispatch(_ context.Context, req executor.ExecutionRequest) executor.Response {
	m.Calls++
	m.CapturedReq = req
	return m.Return
}

func TestExecuteHandler_HandleExecute(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	t.Run("valid execution", func(t *testing.T) {
		runner := &MockRunner{Return: executor.Response{Output: "Hello World\n"}}
		h := handler.NewExecuteHandler(runner, logger)

		reqBody := `{"code":"print('Hello World')","language":"python","version":"3.10.0"}`
		req := httptest.NewRequest(http.MethodPost, "/api/execute", bytes.NewBufferString(reqBody))
		req.Header.Set("Content-Type", "application/json")
		rr := httptest.NewRecorder()

		h.HandleExecute(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)

		var res executor.Response
		err := json.NewDecoder(rr.Body).Decode(&res)
		assert.NoError(t, err)
		assert.Equal(t, "Hello World\n", res.Output)
		assert.False(t, res.Error)

		assert.Equal(t, "print('Hello World')", runner.CapturedReq.Code)
		assert.Equal(t, "python", runner.CapturedReq.Language)
		assert.Equal(t, "3.10.0", runner.CapturedReq.Version)
	})

	t.Run("execution failure is still a 200", func(t *testing.T) {
		runner := &MockRunner{Return: executor.Response{Output: "Error: execution timed out", Error: true}}
		h := handler.NewExecuteHandler(runner, logger)

		req := httptest.NewRequest(http.MethodPost, "/api/execute", bytes.NewBufferString(`{"code":"while True: pass","language":"python"}`))
		rr := httptest.NewRecorder()

		h.HandleExecute(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), `"error":true`)
	})

	t.Run("invalid request body", func(t *testing.T) {
		runner := &MockRunner{}
		h := handler.NewExecuteHandler(runner, logger)

		reqBody := `{"invalid_json":`
		req := httptest.NewRequest(http.MethodPost, "/api/execute", bytes.NewBufferString(reqBody))
		rr := httptest.NewRecorder()

		h.HandleExecute(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, 0, runner.Calls)
	})
}
