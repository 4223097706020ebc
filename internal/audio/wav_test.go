package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"testing"

	"github.com/cwbudde/wav"
	goaudio "github.com/go-audio/audio"
)

func TestDecodeEncodeRoundtrip(t *testing.T) {
	original := []float32{0.0, 0.5, -0.5, 1.0, -1.0}

	encoded, err := EncodeWAV(original, 16000)
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}

	clip, err := DecodeWAV(bytes.NewReader(encoded))
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if clip.SampleRate != 16000 {
		t.Fatalf("sample rate = %d, want 16000", clip.SampleRate)
	}
	if len(clip.Samples) != len(original) {
		t.Fatalf("decoded %d samples, want %d", len(clip.Samples), len(original))
	}

	const tolerance = 1.0 / 32768.0 * 2
	for i, want := range original {
		if got := clip.Samples[i]; math.Abs(float64(got-want)) > tolerance {
			t.Errorf("sample[%d] = %f, want %f", i, got, want)
		}
	}
}

func TestDecodeWAVDownmixesStereo(t *testing.T) {
	var buf bytes.Buffer
	sw := &seekBuffer{buf: &buf}
	enc := wav.NewEncoder(sw, 8000, 16, 2, 1)
	err := enc.Write(&goaudio.Float32Buffer{
		Data:           []float32{0.5, -0.5, 0.25, 0.25},
		Format:         &goaudio.Format{SampleRate: 8000, NumChannels: 2},
		SourceBitDepth: 16,
	})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	clip, err := DecodeWAV(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if len(clip.Samples) != 2 {
		t.Fatalf("decoded %d frames, want 2", len(clip.Samples))
	}
	if math.Abs(float64(clip.Samples[0])) > 1e-3 || math.Abs(float64(clip.Samples[1]-0.25)) > 1e-3 {
		t.Fatalf("downmix = %v, want [0 0.25]", clip.Samples)
	}
}

func TestDecodeWAVInvalid(t *testing.T) {
	_, err := DecodeWAV(bytes.NewReader([]byte("not a wav file")))
	if !errors.Is(err, ErrInvalidWAV) {
		t.Fatalf("want ErrInvalidWAV, got %v", err)
	}
}

func TestEncodeWAVRejectsBadRate(t *testing.T) {
	if _, err := EncodeWAV([]float32{0}, 0); err == nil {
		t.Fatal("expected error for zero sample rate")
	}
}

func TestResampleLength(t *testing.T) {
	tests := []struct {
		from, to, n, want int
	}{
		{from: 16000, to: 22050, n: 16000, want: 22050},
		{from: 22050, to: 16000, n: 22050, want: 16000},
		{from: 16000, to: 16000, n: 123, want: 123},
		{from: 48000, to: 16000, n: 1000, want: 333},
	}
	for _, tt := range tests {
		in := make([]float32, tt.n)
		for i := range in {
			in[i] = float32(math.Sin(2 * math.Pi * 220 * float64(i) / float64(tt.from)))
		}
		out, err := Resample(in, tt.from, tt.to)
		if err != nil {
			t.Fatalf("Resample %d->%d: %v", tt.from, tt.to, err)
		}
		if len(out) != tt.want {
			t.Errorf("Resample %d->%d of %d = %d samples, want %d", tt.from, tt.to, tt.n, len(out), tt.want)
		}
	}
}

func TestResampleAlignment(t *testing.T) {
	rates := []struct{ from, to int }{
		{16000, 22050},
		{22050, 16000},
		{48000, 22050},
	}
	for _, rt := range rates {
		t.Run(fmt.Sprintf("%d->%d", rt.from, rt.to), func(t *testing.T) {
			at := rt.from * 3 / 10
			in := make([]float32, rt.from)
			in[at] = 1

			out, err := Resample(in, rt.from, rt.to)
			if err != nil {
				t.Fatalf("Resample: %v", err)
			}
			peak := 0
			for i, v := range out {
				if math.Abs(float64(v)) > math.Abs(float64(out[peak])) {
					peak = i
				}
			}
			want := int(math.Round(float64(at) * float64(rt.to) / float64(rt.from)))
			if d := peak - want; d < -2 || d > 2 {
				t.Errorf("impulse peak at %d, want %d (off by %d)", peak, want, d)
			}

			dc := make([]float32, rt.from)
			for i := range dc {
				dc[i] = 0.5
			}
			out, err = Resample(dc, rt.from, rt.to)
			if err != nil {
				t.Fatalf("Resample: %v", err)
			}
			for i := len(out) / 4; i < len(out)-16; i++ {
				if math.Abs(float64(out[i])-0.5) > 0.05 {
					t.Fatalf("dc sample %d of %d = %v, want ~0.5", i, len(out), out[i])
				}
			}
		})
	}
}

func TestSlice(t *testing.T) {
	clip := Clip{Samples: make([]float32, 100), SampleRate: 10}
	for i := range clip.Samples {
		clip.Samples[i] = float32(i)
	}

	tests := []struct {
		name             string
		offset, duration float64
		wantLen          int
		wantFirst        float32
	}{
		{name: "full", wantLen: 100},
		{name: "middle", offset: 2, duration: 3, wantLen: 30, wantFirst: 20},
		{name: "past end clamps", offset: 9, duration: 5, wantLen: 10, wantFirst: 90},
		{name: "offset beyond clip", offset: 20, duration: 1, wantLen: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Slice(clip, tt.offset, tt.duration)
			if len(got) != tt.wantLen {
				t.Fatalf("len = %d, want %d", len(got), tt.wantLen)
			}
			if tt.wantLen > 0 && got[0] != tt.wantFirst {
				t.Fatalf("first = %v, want %v", got[0], tt.wantFirst)
			}
		})
	}
}

func TestWAVLoader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tone.wav")
	samples := make([]float32, 16000)
	for i := range samples {
		samples[i] = 0.5
	}
	if err := WriteWAVFile(path, samples, 16000); err != nil {
		t.Fatalf("WriteWAVFile: %v", err)
	}

	got, err := WAVLoader{}.Load(context.Background(), path, 16000, 0.25, 0.5)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 8000 {
		t.Fatalf("Load returned %d samples, want 8000", len(got))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := (WAVLoader{}).Load(ctx, path, 16000, 0, 0); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}
