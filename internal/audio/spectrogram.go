package audio

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

// STFTParams configures Spectrogram.
type STFTParams struct {
	FilterLength int // n_fft
	WindowLength int
	HopLength    int
}

// Spectrogram is a magnitude STFT laid out row-major as [Bins][Frames].
type Spectrogram struct {
	Data   []float32
	Bins   int
	Frames int
}

// Shape returns the tensor shape of s.
func (s Spectrogram) Shape() []int {
	return []int{s.Bins, s.Frames}
}

// ComputeSpectrogram returns the linear magnitude spectrogram of samples.
//
// The signal is reflect-padded by (n_fft-hop)/2 on both sides and framed
// without centering. A periodic Hann window of WindowLength is centered in
// each n_fft frame. Magnitudes are sqrt(re^2 + im^2 + 1e-6).
func ComputeSpectrogram(samples []float32, p STFTParams) (Spectrogram, error) {
	nfft, win, hop := p.FilterLength, p.WindowLength, p.HopLength
	if nfft <= 0 || hop <= 0 || win <= 0 || win > nfft {
		return Spectrogram{}, fmt.Errorf("invalid stft parameters n_fft=%d win=%d hop=%d", nfft, win, hop)
	}

	pad := (nfft - hop) / 2
	if pad >= len(samples) {
		return Spectrogram{}, fmt.Errorf("signal of %d samples too short for reflect padding %d", len(samples), pad)
	}
	padded := reflectPad(samples, pad)
	if len(padded) < nfft {
		return Spectrogram{}, fmt.Errorf("signal of %d samples shorter than n_fft %d", len(padded), nfft)
	}

	frames := 1 + (len(padded)-nfft)/hop
	bins := nfft/2 + 1
	w := periodicHann(win, nfft)

	fft := fourier.NewFFT(nfft)
	frame := make([]float64, nfft)
	coeff := make([]complex128, bins)
	out := make([]float32, bins*frames)

	for f := 0; f < frames; f++ {
		start := f * hop
		for i := 0; i < nfft; i++ {
			frame[i] = padded[start+i] * w[i]
		}
		coeff = fft.Coefficients(coeff, frame)
		for b := 0; b < bins; b++ {
			re, im := real(coeff[b]), imag(coeff[b])
			out[b*frames+f] = float32(math.Sqrt(re*re + im*im + 1e-6))
		}
	}

	return Spectrogram{Data: out, Bins: bins, Frames: frames}, nil
}

func reflectPad(samples []float32, pad int) []float64 {
	n := len(samples)
	out := make([]float64, n+2*pad)
	for i := 0; i < pad; i++ {
		out[i] = float64(samples[pad-i])
		out[pad+n+i] = float64(samples[n-2-i])
	}
	for i, s := range samples {
		out[pad+i] = float64(s)
	}
	return out
}

// periodicHann returns a periodic Hann window of length win zero-padded
// symmetrically to nfft.
func periodicHann(win, nfft int) []float64 {
	ones := make([]float64, win+1)
	for i := range ones {
		ones[i] = 1
	}
	hann := window.Hann(ones)[:win]

	out := make([]float64, nfft)
	copy(out[(nfft-win)/2:], hann)
	return out
}
