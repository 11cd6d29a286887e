package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/peerbajaj/collab/internal/executor"
)

// maxExecuteBody bounds the request body. Code is capped at 100000
// characters by the editor, so 1MB leaves room for multi-byte text.
const maxExecuteBody = 1 << 20

// Runner runs one compile/run request. *executor.Dispatcher implements it.
type Runner interface {
	Dispatch(ctx context.Context, req executor.ExecutionRequest) executor.Response
}

// ExecuteHandler serves one-shot execution outside any room.
type ExecuteHandler struct {
	runner Runner
	logger *slog.Logger
}

// NewExecuteHandler creates a new ExecuteHandler.
func NewExecuteHandler(runner Runner, logger *slog.Logger) *ExecuteHandler {
	return &ExecuteHandler{
		runner: runner,
		logger: logger,
	}
}

// HandleExecute runs {code, language, version} and returns {output, error}.
//
// Execution failures are not HTTP errors: like compileCode over the
// WebSocket, they come back as 200 with the failure text in output and
// error set. Only a request the server cannot read is a 400.
func (h *ExecuteHandler) HandleExecute(w http.ResponseWriter, r *http.Request) {
	var req executor.ExecutionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxExecuteBody)).Decode(&req); err != nil {
		h.logger.Warn("invalid execution request body", slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: "request body must be JSON {code, language, version}",
		})
		return
	}

	h.logger.Info("executing code", slog.String("language", req.Language))

	writeJSON(w, http.StatusOK, h.runner.Dispatch(r.Context(), req))
}
