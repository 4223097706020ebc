package testutil

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/example/go-piper-preprocess/internal/audio"
)

// Segment is one stretch of a synthetic clip. Amplitude 0 is silence.
type Segment struct {
	Seconds   float64
	Amplitude float64
	Freq      float64
}

// Tone renders segments at sampleRate.
func Tone(sampleRate int, segments ...Segment) []float32 {
	var out []float32
	for _, s := range segments {
		n := int(math.Round(s.Seconds * float64(sampleRate)))
		freq := s.Freq
		if freq == 0 {
			freq = 220
		}
		for i := 0; i < n; i++ {
			out = append(out, float32(s.Amplitude*math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate))))
		}
	}
	return out
}

// WriteWAV writes a synthetic mono clip to path, creating parent
// directories.
func WriteWAV(tb testing.TB, path string, sampleRate int, segments ...Segment) {
	tb.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		tb.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := audio.WriteWAVFile(path, Tone(sampleRate, segments...), sampleRate); err != nil {
		tb.Fatalf("write %s: %v", path, err)
	}
}

// WriteFile writes data to path, creating parent directories.
func WriteFile(tb testing.TB, path, data string) {
	tb.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		tb.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		tb.Fatalf("write %s: %v", path, err)
	}
}
