// Package cache stores normalized waveforms and spectrograms keyed by the
// absolute path of their source audio.
//
// Layout: <dir>/<sample_rate>/<sha256(abs path)>.norm and .spec. Each
// artifact is a safetensors file holding one F32 tensor and is built
// independently, so deleting one artifact rebuilds only that artifact.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/sync/singleflight"

	"github.com/example/go-piper-preprocess/internal/audio"
	"github.com/example/go-piper-preprocess/internal/config"
	"github.com/example/go-piper-preprocess/internal/safetensors"
	"github.com/example/go-piper-preprocess/internal/vad"
)

// Artifact extensions and tensor names.
const (
	NormExt = ".norm"
	SpecExt = ".spec"

	AudioTensor = "audio"
	SpecTensor  = "spec"
)

var (
	// ErrNoSpeech is returned under the drop policy when the trimmer
	// finds no speech.
	ErrNoSpeech = errors.New("no speech detected")
	// ErrWrite wraps failures persisting an artifact.
	ErrWrite = errors.New("cache write failed")
)

// Trimmer finds the speech region of 16 kHz samples.
type Trimmer interface {
	Trim(ctx context.Context, samples []float32) (vad.Result, error)
}

// Options configures a Cache.
type Options struct {
	Dir         string
	SampleRate  int
	STFT        audio.STFTParams
	IgnoreCache bool
	// NoSpeech is config.NoSpeechKeep (default) or config.NoSpeechDrop.
	NoSpeech string
	Loader   audio.Loader
	Logger   *slog.Logger
}

// Cache is safe for concurrent use by multiple workers. Several rows may
// reference one source file; concurrent builds of one key are collapsed
// into a single build whose result every caller receives.
type Cache struct {
	group singleflight.Group


	dir         string
	sampleRate  int
	stft        audio.STFTParams
	ignoreCache bool
	drop        bool
	loader      audio.Loader
	logger      *slog.Logger
}

// Entry describes the artifacts of one source file.
type Entry struct {
	Key      string
	NormPath string
	SpecPath string

	// Trim is set when the waveform was rebuilt in this call.
	Trim      vad.Result
	NormBuilt bool
	SpecBuilt bool
}

// New validates opts and creates the sample-rate directory.
func New(opts Options) (*Cache, error) {
	if opts.Dir == "" {
		return nil, errors.New("cache: empty directory")
	}
	if opts.SampleRate <= 0 {
		return nil, fmt.Errorf("cache: invalid sample rate %d", opts.SampleRate)
	}
	switch opts.NoSpeech {
	case "", config.NoSpeechKeep, config.NoSpeechDrop:
	default:
		return nil, fmt.Errorf("cache: invalid no-speech policy %q", opts.NoSpeech)
	}
	if opts.Loader == nil {
		opts.Loader = audio.WAVLoader{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	c := &Cache{
		dir:         filepath.Join(opts.Dir, strconv.Itoa(opts.SampleRate)),
		sampleRate:  opts.SampleRate,
		stft:        opts.STFT,
		ignoreCache: opts.IgnoreCache,
		drop:        opts.NoSpeech == config.NoSpeechDrop,
		loader:      opts.Loader,
		logger:      opts.Logger,
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWrite, err)
	}
	return c, nil
}

// Dir returns the sample-rate directory holding the artifacts.
func (c *Cache) Dir() string {
	return c.dir
}

// Key returns the cache key of path: the hex SHA-256 of its absolute form.
func Key(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(abs))
	return hex.EncodeToString(sum[:]), nil
}

// Paths returns the artifact paths for audioPath without touching disk.
func (c *Cache) Paths(audioPath string) (key, normPath, specPath string, err error) {
	key, err = Key(audioPath)
	if err != nil {
		return "", "", "", err
	}
	base := filepath.Join(c.dir, key)
	return key, base + NormExt, base + SpecExt, nil
}

// GetOrCompute returns the artifacts for audioPath, building whichever are
// absent (or both when IgnoreCache is set).
func (c *Cache) GetOrCompute(ctx context.Context, audioPath string, trimmer Trimmer) (Entry, error) {
	key, err := Key(audioPath)
	if err != nil {
		return Entry{}, err
	}
	for {
		v, err, shared := c.group.Do(key, func() (any, error) {
			return c.getOrCompute(ctx, audioPath, trimmer)
		})
		// A shared build that died with its owner's context is retried
		// under ours.
		if err != nil && shared && ctx.Err() == nil &&
			(errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
			continue
		}
		if err != nil {
			return Entry{}, err
		}
		return v.(Entry), nil
	}
}

func (c *Cache) getOrCompute(ctx context.Context, audioPath string, trimmer Trimmer) (Entry, error) {
	key, normPath, specPath, err := c.Paths(audioPath)
	if err != nil {
		return Entry{}, err
	}
	abs, err := filepath.Abs(audioPath)
	if err != nil {
		return Entry{}, err
	}
	entry := Entry{Key: key, NormPath: normPath, SpecPath: specPath}

	var waveform []float32
	if c.ignoreCache || !exists(normPath) {
		waveform, entry.Trim, err = c.buildNorm(ctx, abs, normPath, trimmer)
		if err != nil {
			return Entry{}, err
		}
		entry.NormBuilt = true
	} else if c.drop {
		if err := c.checkSpeech(normPath); err != nil {
			return Entry{}, err
		}
	}

	if c.ignoreCache || entry.NormBuilt || !exists(specPath) {
		if waveform == nil {
			t, err := safetensors.ReadTensor(normPath, AudioTensor)
			if err != nil {
				return Entry{}, fmt.Errorf("cache %s: %w", key, err)
			}
			waveform = t.Data
		}
		if err := c.buildSpec(ctx, abs, specPath, waveform); err != nil {
			return Entry{}, err
		}
		entry.SpecBuilt = true
	}

	return entry, nil
}

func (c *Cache) buildNorm(ctx context.Context, abs, normPath string, trimmer Trimmer) ([]float32, vad.Result, error) {
	samples16k, err := c.loader.Load(ctx, abs, vad.SampleRate, 0, 0)
	if err != nil {
		return nil, vad.Result{}, fmt.Errorf("load %s: %w", abs, err)
	}

	res, err := trimmer.Trim(ctx, samples16k)
	if err != nil {
		return nil, vad.Result{}, fmt.Errorf("trim %s: %w", abs, err)
	}
	if !res.Found {
		if c.drop {
			return nil, res, fmt.Errorf("%s: %w", abs, ErrNoSpeech)
		}
		c.logger.Debug("no speech detected, keeping full audio", "utterance", abs)
	}

	waveform, err := c.loader.Load(ctx, abs, c.sampleRate, res.Offset, res.Duration)
	if err != nil {
		return nil, res, fmt.Errorf("load %s: %w", abs, err)
	}
	if len(waveform) == 0 {
		return nil, res, fmt.Errorf("%s: trimmed waveform is empty", abs)
	}

	meta := map[string]string{
		"sample_rate": strconv.Itoa(c.sampleRate),
		"source":      abs,
		"offset":      strconv.FormatFloat(res.Offset, 'f', -1, 64),
		"duration":    strconv.FormatFloat(res.Duration, 'f', -1, 64),
		"speech":      strconv.FormatBool(res.Found),
	}
	tensor := safetensors.Tensor{Name: AudioTensor, Shape: []int64{1, int64(len(waveform))}, Data: waveform}
	if err := safetensors.WriteFile(normPath, []safetensors.Tensor{tensor}, meta); err != nil {
		return nil, res, fmt.Errorf("%w: %v", ErrWrite, err)
	}
	return waveform, res, nil
}

func (c *Cache) buildSpec(ctx context.Context, abs, specPath string, waveform []float32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	spec, err := audio.ComputeSpectrogram(waveform, c.stft)
	if err != nil {
		return fmt.Errorf("spectrogram %s: %w", abs, err)
	}

	meta := map[string]string{
		"sample_rate":   strconv.Itoa(c.sampleRate),
		"source":        abs,
		"filter_length": strconv.Itoa(c.stft.FilterLength),
		"window_length": strconv.Itoa(c.stft.WindowLength),
		"hop_length":    strconv.Itoa(c.stft.HopLength),
	}
	tensor := safetensors.Tensor{
		Name:  SpecTensor,
		Shape: []int64{int64(spec.Bins), int64(spec.Frames)},
		Data:  spec.Data,
	}
	if err := safetensors.WriteFile(specPath, []safetensors.Tensor{tensor}, meta); err != nil {
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	return nil
}

// checkSpeech reports ErrNoSpeech for a cached waveform that was kept whole
// because no speech was found.
func (c *Cache) checkSpeech(normPath string) error {
	f, err := safetensors.ReadFile(normPath)
	if err != nil {
		return err
	}
	if f.Metadata["speech"] == "false" {
		return fmt.Errorf("%s: %w", f.Metadata["source"], ErrNoSpeech)
	}
	return nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
