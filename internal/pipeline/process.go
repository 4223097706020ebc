package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/example/go-piper-preprocess/internal/cache"
	"github.com/example/go-piper-preprocess/internal/dataset"
	"github.com/example/go-piper-preprocess/internal/metrics"
	"github.com/example/go-piper-preprocess/internal/phonemize"
)

// Processor turns a scanned utterance into a training record using st.
type Processor interface {
	Process(ctx context.Context, st *State, u dataset.Utterance) (dataset.Utterance, error)
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, st *State, u dataset.Utterance) (dataset.Utterance, error)

// Process calls f.
func (f ProcessorFunc) Process(ctx context.Context, st *State, u dataset.Utterance) (dataset.Utterance, error) {
	return f(ctx, st, u)
}

// UtteranceProcessor phonemizes, maps ids and caches audio.
type UtteranceProcessor struct {
	Backend *phonemize.Backend
	// Cache may be nil when SkipAudio is set.
	Cache     *cache.Cache
	Casing    phonemize.CasingFunc
	SkipAudio bool
	Metrics   *metrics.Metrics
}

// Process implements Processor. u.Text is kept as scanned; casing applies
// only to the text given to the phonemizer.
func (p *UtteranceProcessor) Process(ctx context.Context, st *State, u dataset.Utterance) (dataset.Utterance, error) {
	if !p.SkipAudio {
		fi, err := os.Stat(u.AudioPath)
		if err != nil {
			return u, fmt.Errorf("%w: %s", ErrMissingAudio, u.AudioPath)
		}
		if fi.Size() == 0 {
			return u, fmt.Errorf("%w: %s", ErrEmptyAudio, u.AudioPath)
		}
	}

	text := u.Text
	if p.Casing != nil {
		text = p.Casing(text)
	}

	phonemes, err := st.Phonemizer.Phonemize(ctx, text)
	if err != nil {
		return u, fmt.Errorf("%w: %v", ErrPhonemization, err)
	}

	missing := phonemize.Missing{}
	u.Phonemes = phonemes
	u.PhonemeIDs = p.Backend.IDs(phonemes, missing)
	u.Missing = missing

	if p.SkipAudio {
		return u, nil
	}

	entry, err := p.Cache.GetOrCompute(ctx, u.AudioPath, st.Trimmer)
	if err != nil {
		if errors.Is(err, ErrCacheWrite) || errors.Is(err, ErrNoSpeech) || ctx.Err() != nil {
			return u, err
		}
		return u, fmt.Errorf("%w: %v", ErrAudio, err)
	}
	if p.Metrics != nil {
		if entry.NormBuilt {
			p.Metrics.Built(ctx, "norm")
		}
		if entry.SpecBuilt {
			p.Metrics.Built(ctx, "spec")
		}
	}

	u.AudioNormPath = entry.NormPath
	u.AudioSpecPath = entry.SpecPath
	return u, nil
}
