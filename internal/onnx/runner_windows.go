//go:build windows

package onnx

import (
	"context"
	"errors"
	"fmt"
)

// RunnerConfig holds ORT library settings for creating runners.
type RunnerConfig struct {
	LibraryPath string
	APIVersion  uint32
}

// ErrClosed is returned when running a closed session.
var ErrClosed = errors.New("onnx: closed")

var errUnsupported = errors.New("onnx runtime sessions are not supported on windows builds")

// Env is unavailable in windows builds.
type Env struct{}

// OpenEnv always fails in windows builds.
func OpenEnv(_ RunnerConfig) (*Env, error) { return nil, errUnsupported }

// NewSession always fails in windows builds.
func (*Env) NewSession(name, _ string) (*Runner, error) {
	return nil, fmt.Errorf("session %q: %w", name, errUnsupported)
}

// Close is a no-op in windows builds.
func (*Env) Close() {}

// Runner is unavailable in windows builds.
type Runner struct {
	name string
}

// NewRunner always fails in windows builds.
func NewRunner(name, _ string, _ RunnerConfig) (*Runner, error) {
	return nil, fmt.Errorf("runner %q: %w", name, errUnsupported)
}

// Run always fails in windows builds.
func (r *Runner) Run(_ context.Context, _ map[string]*Tensor) (map[string]*Tensor, error) {
	return nil, fmt.Errorf("run %q: %w", r.name, errUnsupported)
}

// Close is a no-op in windows builds.
func (*Runner) Close() {}

// Name returns the graph name.
func (r *Runner) Name() string { return r.name }
