// Package vad trims leading and trailing silence using a voice activity
// classifier.
package vad

import (
	"context"
	"errors"
	"fmt"
)

// SampleRate is the rate every classifier operates at.
const SampleRate = 16000

// Classifier scores fixed-size chunks of 16 kHz audio.
type Classifier interface {
	// Probability returns the speech probability of chunk in [0, 1].
	Probability(ctx context.Context, chunk []float32) (float32, error)
	// Reset clears recurrent state so the next call starts a new stream.
	Reset()
}

// Params controls Trim.
type Params struct {
	Threshold        float32
	SamplesPerChunk  int
	KeepChunksBefore int
	KeepChunksAfter  int
}

// DefaultParams returns the detection defaults used for corpus trimming.
func DefaultParams() Params {
	return Params{
		Threshold:        0.2,
		SamplesPerChunk:  480,
		KeepChunksBefore: 2,
		KeepChunksAfter:  2,
	}
}

// Result is the retained region of a clip in seconds. When Found is false
// no chunk reached the threshold and the region covers the whole clip.
type Result struct {
	Offset   float64
	Duration float64
	Found    bool

	FirstChunk int
	LastChunk  int
	Chunks     int
}

// End returns Offset + Duration.
func (r Result) End() float64 {
	return r.Offset + r.Duration
}

// Trimmer finds the speech region of a clip.
type Trimmer struct {
	classifier Classifier
	params     Params
}

// NewTrimmer returns a Trimmer. The classifier is owned by the caller.
func NewTrimmer(c Classifier, p Params) (*Trimmer, error) {
	if c == nil {
		return nil, errors.New("vad: nil classifier")
	}
	if p.SamplesPerChunk <= 0 {
		return nil, fmt.Errorf("vad: samples per chunk must be positive, got %d", p.SamplesPerChunk)
	}
	if p.KeepChunksBefore < 0 || p.KeepChunksAfter < 0 {
		return nil, errors.New("vad: keep chunks must not be negative")
	}
	return &Trimmer{classifier: c, params: p}, nil
}

// Trim scans 16 kHz samples chunk by chunk. The final partial chunk is
// zero-padded to full size. The classifier is reset first, so results do
// not depend on earlier calls.
func (t *Trimmer) Trim(ctx context.Context, samples []float32) (Result, error) {
	t.classifier.Reset()

	spc := t.params.SamplesPerChunk
	n := len(samples)
	chunks := (n + spc - 1) / spc
	total := float64(n) / SampleRate

	res := Result{Duration: total, FirstChunk: -1, LastChunk: -1, Chunks: chunks}
	buf := make([]float32, spc)

	for i := 0; i < chunks; i++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		start := i * spc
		end := min(start+spc, n)
		chunk := samples[start:end]
		if len(chunk) < spc {
			clear(buf)
			copy(buf, chunk)
			chunk = buf
		}

		p, err := t.classifier.Probability(ctx, chunk)
		if err != nil {
			return Result{}, fmt.Errorf("vad chunk %d: %w", i, err)
		}
		if p >= t.params.Threshold {
			if res.FirstChunk < 0 {
				res.FirstChunk = i
			}
			res.LastChunk = i
		}
	}

	if res.FirstChunk < 0 {
		return res, nil
	}

	first := max(0, res.FirstChunk-t.params.KeepChunksBefore)
	last := min(chunks-1, res.LastChunk+t.params.KeepChunksAfter)
	startSample := first * spc
	endSample := min((last+1)*spc, n)

	res.Found = true
	res.Offset = float64(startSample) / SampleRate
	res.Duration = float64(endSample-startSample) / SampleRate
	return res, nil
}
