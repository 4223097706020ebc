package vad

import (
	"context"
	"fmt"

	"github.com/example/go-piper-preprocess/internal/onnx"
)

// Silero model generations. v4 carries separate h/c LSTM state, v5 a single
// combined state tensor and a fixed 512-sample window.
const (
	SileroV4 = "v4"
	SileroV5 = "v5"
)

const sileroV5Window = 512

// graphRunner is the subset of onnx.Runner the detector needs.
type graphRunner interface {
	Run(ctx context.Context, inputs map[string]*onnx.Tensor) (map[string]*onnx.Tensor, error)
	Close()
}

// Silero is a Classifier backed by the Silero VAD ONNX model. It keeps
// recurrent state between chunks and is not safe for concurrent use.
type Silero struct {
	runner  graphRunner
	version string

	h, c  *onnx.Tensor // v4
	state *onnx.Tensor // v5
	sr    *onnx.Tensor
}

// NewSilero opens a session for the model at path on env.
func NewSilero(env *onnx.Env, path, version string) (*Silero, error) {
	if version != SileroV4 && version != SileroV5 {
		return nil, fmt.Errorf("vad: unknown silero version %q", version)
	}
	r, err := env.NewSession("silero-vad-"+version, path)
	if err != nil {
		return nil, err
	}
	return newSilero(r, version)
}

func newSilero(r graphRunner, version string) (*Silero, error) {
	s := &Silero{runner: r, version: version, sr: onnx.Scalar(SampleRate)}
	s.Reset()
	return s, nil
}

// Reset zeroes the recurrent state.
func (s *Silero) Reset() {
	if s.version == SileroV5 {
		s.state, _ = onnx.Zeros(2, 1, 128)
		return
	}
	s.h, _ = onnx.Zeros(2, 1, 64)
	s.c, _ = onnx.Zeros(2, 1, 64)
}

// Probability implements Classifier.
func (s *Silero) Probability(ctx context.Context, chunk []float32) (float32, error) {
	if s.version == SileroV5 && len(chunk) < sileroV5Window {
		padded := make([]float32, sileroV5Window)
		copy(padded, chunk)
		chunk = padded
	}

	input, err := onnx.NewFloat32(chunk, 1, int64(len(chunk)))
	if err != nil {
		return 0, err
	}

	inputs := map[string]*onnx.Tensor{"input": input, "sr": s.sr}
	if s.version == SileroV5 {
		inputs["state"] = s.state
	} else {
		inputs["h"] = s.h
		inputs["c"] = s.c
	}

	out, err := s.runner.Run(ctx, inputs)
	if err != nil {
		return 0, err
	}

	if s.version == SileroV5 {
		next, ok := out["stateN"]
		if !ok {
			return 0, fmt.Errorf("silero %s: missing output %q", s.version, "stateN")
		}
		s.state = next
	} else {
		hn, okH := out["hn"]
		cn, okC := out["cn"]
		if !okH || !okC {
			return 0, fmt.Errorf("silero %s: missing recurrent outputs", s.version)
		}
		s.h, s.c = hn, cn
	}

	prob, err := out["output"].Float32()
	if err != nil {
		return 0, fmt.Errorf("silero %s output: %w", s.version, err)
	}
	if len(prob) == 0 {
		return 0, fmt.Errorf("silero %s: empty output", s.version)
	}
	return prob[0], nil
}

// Close releases the model.
func (s *Silero) Close() {
	if s.runner != nil {
		s.runner.Close()
		s.runner = nil
	}
}
