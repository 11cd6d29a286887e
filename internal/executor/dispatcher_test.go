package executor_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/peerbajaj/collab/internal/apperror"
	"github.com/peerbajaj/collab/internal/executor"
)

// MockExecutor records the request it receives and returns a canned result.
type MockExecutor struct {
	CapturedReq executor.ExecutionRequest
	Calls       int
	ReturnRes   *executor.ExecutionResult
	ReturnErr   error
	Delay       time.Duration
}

func (m *MockExecutor) Execute(ctx context.Context, req executor.ExecutionRequest) (*executor.ExecutionResult, error) {
	m.CapturedReq = req
	m.Calls++
	if m.Delay > 0 {
		// Deliberately ignore ctx: the dispatcher must still return on time.
		time.Sleep(m.Delay)
	}
	if m.ReturnErr != nil {
		return nil, m.ReturnErr
	}
	return m.ReturnRes, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestDispatcher_Success(t *testing.T) {
	mock := &MockExecutor{ReturnRes: &executor.ExecutionResult{Output: "1\n"}}
	d := executor.NewDispatcher(mock, time.Second, testLogger(), nil)

	res := d.Dispatch(context.Background(), executor.ExecutionRequest{
		Code:     "console.log(1)",
		Language: "JavaScript",
	})

	assert.Equal(t, "1\n", res.Output)
	assert.False(t, res.Error)
	assert.Equal(t, "javascript", mock.CapturedReq.Language, "language is normalised")
	assert.Equal(t, "18.15.0", mock.CapturedReq.Version, "default version is filled in")
}

func TestDispatcher_KeepsExplicitVersion(t *testing.T) {
	mock := &MockExecutor{ReturnRes: &executor.ExecutionResult{}}
	d := executor.NewDispatcher(mock, time.Second, testLogger(), nil)

	d.Dispatch(context.Background(), executor.ExecutionRequest{Code: "print(1)", Language: "python", Version: "3.12.0"})

	assert.Equal(t, "3.12.0", mock.CapturedReq.Version)
}

func TestDispatcher_CombinesStreamsWithoutOutput(t *testing.T) {
	mock := &MockExecutor{ReturnRes: &executor.ExecutionResult{Stdout: "out\n", Stderr: "warn\n", ExitCode: 1}}
	d := executor.NewDispatcher(mock, time.Second, testLogger(), nil)

	res := d.Dispatch(context.Background(), executor.ExecutionRequest{Code: "x", Language: "python"})

	assert.Equal(t, "out\nwarn\n", res.Output)
	assert.False(t, res.Error, "a failing program is not a dispatcher error")
}

func TestDispatcher_Failures(t *testing.T) {
	tests := []struct {
		name       string
		exec       executor.Executor
		req        executor.ExecutionRequest
		wantOutput string
		wantError  bool
	}{
		{
			name:       "empty code short-circuits",
			exec:       &MockExecutor{},
			req:        executor.ExecutionRequest{Code: "   ", Language: "python"},
			wantOutput: "No code to execute.",
		},
		{
			name:       "unsupported language",
			exec:       &MockExecutor{},
			req:        executor.ExecutionRequest{Code: "x", Language: "cobol"},
			wantOutput: `Error: unsupported language "cobol"`,
			wantError:  true,
		},
		{
			name:       "no backend configured",
			exec:       nil,
			req:        executor.ExecutionRequest{Code: "x", Language: "python"},
			wantOutput: "Code execution is currently unavailable.",
			wantError:  true,
		},
		{
			name:       "backend error with app message",
			exec:       &MockExecutor{ReturnErr: apperror.Execution("execution service returned 503")},
			req:        executor.ExecutionRequest{Code: "x", Language: "python"},
			wantOutput: "Error: execution service returned 503",
			wantError:  true,
		},
		{
			name:       "backend error without app message hides details",
			exec:       &MockExecutor{ReturnErr: errors.New("dial tcp 10.0.0.1:2000: connection refused")},
			req:        executor.ExecutionRequest{Code: "x", Language: "python"},
			wantOutput: "Error: the execution service could not run this code",
			wantError:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var exec executor.Executor
			if tt.exec != nil {
				exec = tt.exec
			}
			d := executor.NewDispatcher(exec, time.Second, testLogger(), nil)

			res := d.Dispatch(context.Background(), tt.req)

			assert.Equal(t, tt.wantOutput, res.Output)
			assert.Equal(t, tt.wantError, res.Error)
		})
	}
}

func TestDispatcher_EmptyCodeDoesNotCallBackend(t *testing.T) {
	mock := &MockExecutor{}
	d := executor.NewDispatcher(mock, time.Second, testLogger(), nil)

	d.Dispatch(context.Background(), executor.ExecutionRequest{Code: "", Language: "python"})

	assert.Equal(t, 0, mock.Calls)
}

func TestDispatcher_TimeoutIsBounded(t *testing.T) {
	mock := &MockExecutor{Delay: 2 * time.Second, ReturnRes: &executor.ExecutionResult{Output: "late"}}
	d := executor.NewDispatcher(mock, 50*time.Millisecond, testLogger(), nil)

	start := time.Now()
	res := d.Dispatch(context.Background(), executor.ExecutionRequest{Code: "while(true){}", Language: "javascript"})

	assert.Less(t, time.Since(start), time.Second, "dispatch must not wait for a slow backend")
	assert.True(t, res.Error)
	assert.Contains(t, res.Output, "timed out")
}

func TestDispatcher_DefaultTimeout(t *testing.T) {
	d := executor.NewDispatcher(nil, 0, testLogger(), nil)

	assert.Equal(t, executor.DefaultTimeout, d.Timeout())
}
