package audio

import (
	"context"
	"math"
)

// Loader reads a region of an audio file at a given sample rate.
type Loader interface {
	// Load returns mono samples of path resampled to sampleRate, starting at
	// offset seconds. duration <= 0 reads to the end.
	Load(ctx context.Context, path string, sampleRate int, offset, duration float64) ([]float32, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, path string, sampleRate int, offset, duration float64) ([]float32, error)

// Load calls f.
func (f LoaderFunc) Load(ctx context.Context, path string, sampleRate int, offset, duration float64) ([]float32, error) {
	return f(ctx, path, sampleRate, offset, duration)
}

// WAVLoader loads WAV files from disk.
type WAVLoader struct{}

// Load implements Loader.
func (WAVLoader) Load(ctx context.Context, path string, sampleRate int, offset, duration float64) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	clip, err := DecodeWAVFile(path)
	if err != nil {
		return nil, err
	}
	region := Slice(clip, offset, duration)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return Resample(region, clip.SampleRate, sampleRate)
}

// Slice returns the samples of clip between offset and offset+duration
// seconds, clamped to the clip. duration <= 0 means to the end.
func Slice(clip Clip, offset, duration float64) []float32 {
	n := len(clip.Samples)
	start := clampIndex(int(math.Round(offset*float64(clip.SampleRate))), n)
	end := n
	if duration > 0 {
		end = clampIndex(int(math.Round((offset+duration)*float64(clip.SampleRate))), n)
	}
	if end < start {
		end = start
	}
	return clip.Samples[start:end]
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i > n {
		return n
	}
	return i
}
