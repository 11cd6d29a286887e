package docker

import (
	"time"
)

// Runtime describes how one language runs inside a sandbox container.
type Runtime struct {
	// Image is the Docker image the pool pre-warms.
	Image string
	// Command is the interpreter invocation; the code is appended as the last argument.
	Command []string
}

// Config holds the configuration for Docker execution.
type Config struct {
	// Runtimes maps a language name to its sandbox runtime.
	Runtimes map[string]Runtime
	// MemoryLimit is the maximum amount of memory a container can use (in bytes).
	MemoryLimit int64
	// CPULimit is the number of CPUs a container can use.
	CPULimit float64
	// Timeout is the maximum amount of time one execution can take.
	Timeout time.Duration
	// PoolSize is the number of pre-warmed containers kept per runtime.
	PoolSize int
}

// DefaultConfig provides sandboxes for the interpreted languages that can run
// a program passed on the command line.
func DefaultConfig() Config {
	return Config{
		Runtimes: map[string]Runtime{
			"python":     {Image: "python:3.12-alpine", Command: []string{"python", "-c"}},
			"javascript": {Image: "node:20-alpine", Command: []string{"node", "-e"}},
			"ruby":       {Image: "ruby:3.3-alpine", Command: []string{"ruby", "-e"}},
		},
		// 128 MB memory limit
		MemoryLimit: 128 * 1024 * 1024,
		// 0.5 CPU shares
		CPULimit: 0.5,
		Timeout:  10 * time.Second,
		PoolSize: 2,
	}
}
