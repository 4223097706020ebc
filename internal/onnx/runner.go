//go:build !windows

package onnx

import (
	"context"
	"errors"
	"fmt"
	"sync"

	ort "github.com/shota3506/onnxruntime-purego/onnxruntime"
)

// RunnerConfig holds ORT library settings for creating runners.
type RunnerConfig struct {
	LibraryPath string
	APIVersion  uint32
}

// ErrClosed is returned when running a closed session or opening a session
// on a closed Env.
var ErrClosed = errors.New("onnx: closed")

// Env is one loaded ORT library and environment shared by the sessions of
// all workers. It is released once Close was called and every session
// opened from it is closed.
type Env struct {
	mu      sync.Mutex
	runtime *ort.Runtime
	env     *ort.Env
	refs    int
	closed  bool
}

// OpenEnv loads the ORT library described by cfg.
func OpenEnv(cfg RunnerConfig) (*Env, error) {
	if cfg.APIVersion == 0 {
		cfg.APIVersion = 23
	}

	runtime, err := ort.NewRuntime(cfg.LibraryPath, cfg.APIVersion)
	if err != nil {
		return nil, fmt.Errorf("ort runtime %s: %w", cfg.LibraryPath, err)
	}

	env, err := runtime.NewEnv("piperprep", ort.LoggingLevelWarning)
	if err != nil {
		_ = runtime.Close()
		return nil, fmt.Errorf("ort env: %w", err)
	}

	return &Env{runtime: runtime, env: env, refs: 1}, nil
}

// NewSession loads the graph at modelPath into a Runner bound to e.
func (e *Env) NewSession(name, modelPath string) (*Runner, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, fmt.Errorf("session %q: %w", name, ErrClosed)
	}

	session, err := e.runtime.NewSession(e.env, modelPath, nil)
	if err != nil {
		return nil, fmt.Errorf("ort session for %q (%s): %w", name, modelPath, err)
	}
	e.refs++

	return &Runner{name: name, env: e, session: session}, nil
}

// Close releases the caller's reference. The library is unloaded after the
// last session closes. Safe to call multiple times.
func (e *Env) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}
	e.closed = true
	e.releaseLocked()
}

func (e *Env) release() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.releaseLocked()
}

func (e *Env) releaseLocked() {
	e.refs--
	if e.refs > 0 {
		return
	}
	if e.env != nil {
		e.env.Close()
		e.env = nil
	}
	if e.runtime != nil {
		_ = e.runtime.Close()
		e.runtime = nil
	}
}

// Runner wraps one ORT session. A Runner is not safe for concurrent use;
// each worker owns its own.
type Runner struct {
	name    string
	env     *Env
	session *ort.Session
}

// NewRunner loads modelPath in an Env of its own, released on Close.
func NewRunner(name, modelPath string, cfg RunnerConfig) (*Runner, error) {
	env, err := OpenEnv(cfg)
	if err != nil {
		return nil, fmt.Errorf("runner %q: %w", name, err)
	}
	defer env.Close()
	return env.NewSession(name, modelPath)
}

// Run executes the graph with the given named input tensors.
func (r *Runner) Run(ctx context.Context, inputs map[string]*Tensor) (map[string]*Tensor, error) {
	if r.session == nil {
		return nil, fmt.Errorf("run %q: %w", r.name, ErrClosed)
	}

	ortInputs := make(map[string]*ort.Value, len(inputs))
	defer closeORTValues(ortInputs)

	for name, t := range inputs {
		v, err := r.toORT(t)
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", name, err)
		}
		ortInputs[name] = v
	}

	ortOutputs, err := r.session.Run(ctx, ortInputs)
	if err != nil {
		return nil, fmt.Errorf("run %q: %w", r.name, err)
	}
	defer closeORTValues(ortOutputs)

	results := make(map[string]*Tensor, len(ortOutputs))
	for name, v := range ortOutputs {
		t, err := fromORT(v)
		if err != nil {
			return nil, fmt.Errorf("output %q: %w", name, err)
		}
		results[name] = t
	}
	return results, nil
}

// Close releases the session and its reference on the Env. Safe to call
// multiple times.
func (r *Runner) Close() {
	if r.session == nil {
		return
	}
	r.session.Close()
	r.session = nil
	r.env.release()
}

// Name returns the graph name.
func (r *Runner) Name() string {
	return r.name
}

func (r *Runner) toORT(t *Tensor) (*ort.Value, error) {
	switch t.DType() {
	case DTypeFloat32:
		return ort.NewTensorValue(r.env.runtime, t.f32, t.shape)
	case DTypeInt64:
		return ort.NewTensorValue(r.env.runtime, t.i64, t.shape)
	default:
		return nil, fmt.Errorf("unsupported tensor dtype %q", t.DType())
	}
}

func fromORT(v *ort.Value) (*Tensor, error) {
	elemType, err := v.GetTensorElementType()
	if err != nil {
		return nil, fmt.Errorf("get element type: %w", err)
	}

	switch elemType {
	case ort.ONNXTensorElementDataTypeFloat:
		data, shape, err := ort.GetTensorData[float32](v)
		if err != nil {
			return nil, err
		}
		return NewFloat32(data, shape...)
	case ort.ONNXTensorElementDataTypeInt64:
		data, shape, err := ort.GetTensorData[int64](v)
		if err != nil {
			return nil, err
		}
		return NewInt64(data, shape...)
	default:
		return nil, fmt.Errorf("unsupported ORT element type %d", elemType)
	}
}

func closeORTValues(vals map[string]*ort.Value) {
	for _, v := range vals {
		if v != nil {
			v.Close()
		}
	}
}
