package audio

import (
	"fmt"
	"math"
	"sync"

	resampling "github.com/tphakala/go-audio-resampling"
)

// delays caches the measured filter delay per rate pair, in output samples.
var delays sync.Map // [2]int -> int

// Resample converts mono samples between sample rates. The output length is
// round(len(samples) * to / from) and output sample i lines up with input
// time i / to.
func Resample(samples []float32, from, to int) ([]float32, error) {
	if from <= 0 || to <= 0 {
		return nil, fmt.Errorf("invalid resample rates %d -> %d", from, to)
	}
	if from == to || len(samples) == 0 {
		return append([]float32(nil), samples...), nil
	}

	delay, err := filterDelay(from, to)
	if err != nil {
		return nil, err
	}

	input := make([]float64, len(samples))
	for i, s := range samples {
		input[i] = float64(s)
	}
	full, err := resampleAll(input, from, to)
	if err != nil {
		return nil, err
	}

	want := int(math.Round(float64(len(samples)) * float64(to) / float64(from)))
	out := make([]float32, want)
	for i := range out {
		if j := i + delay; j >= 0 && j < len(full) {
			out[i] = float32(full[j])
		}
	}
	return out, nil
}

// resampleAll runs input through a fresh resampler and drains it. Trailing
// silence pushes the last input samples through the filter delay line.
func resampleAll(input []float64, from, to int) ([]float64, error) {
	r, err := resampling.New(&resampling.Config{
		InputRate:  float64(from),
		OutputRate: float64(to),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("create resampler: %w", err)
	}

	padded := make([]float64, len(input)+from/10)
	copy(padded, input)

	out, err := r.Process(padded)
	if err != nil {
		return nil, fmt.Errorf("resample %d -> %d: %w", from, to, err)
	}
	rest, err := r.Flush()
	if err != nil {
		return nil, fmt.Errorf("flush resampler %d -> %d: %w", from, to, err)
	}
	return append(out, rest...), nil
}

// filterDelay measures how far resampleAll's output lags the input by
// locating the response to an impulse half a second in.
func filterDelay(from, to int) (int, error) {
	key := [2]int{from, to}
	if d, ok := delays.Load(key); ok {
		return d.(int), nil
	}

	at := from / 2
	impulse := make([]float64, from)
	impulse[at] = 1

	full, err := resampleAll(impulse, from, to)
	if err != nil {
		return 0, err
	}
	peak := 0
	for i, v := range full {
		if math.Abs(v) > math.Abs(full[peak]) {
			peak = i
		}
	}

	d := peak - int(math.Round(float64(at)*float64(to)/float64(from)))
	delays.Store(key, d)
	return d, nil
}
