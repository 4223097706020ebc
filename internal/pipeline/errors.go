package pipeline

import (
	"errors"

	"github.com/example/go-piper-preprocess/internal/cache"
)

// Per-utterance failures. They are reported in a Result and never stop the
// run.
var (
	ErrMissingAudio     = errors.New("missing audio file")
	ErrEmptyAudio       = errors.New("empty audio file")
	ErrPhonemization    = errors.New("phonemization failed")
	ErrUtteranceTimeout = errors.New("utterance timed out")
	ErrAudio            = errors.New("audio processing failed")
	ErrPanic            = errors.New("utterance processing panicked")
	ErrCacheWrite       = cache.ErrWrite
	ErrNoSpeech         = cache.ErrNoSpeech
)

// Run-level failures returned by Execute.
var (
	ErrNoUtterances = errors.New("no utterances found")
	ErrWorkerLost   = errors.New("worker lost")
	ErrStalled      = errors.New("no result within stall timeout")
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrMissingAudio, "missing_audio"},
	{ErrEmptyAudio, "empty_audio"},
	{ErrPhonemization, "phonemization"},
	{ErrUtteranceTimeout, "utterance_timeout"},
	{ErrCacheWrite, "cache_write"},
	{ErrNoSpeech, "no_speech"},
	{ErrAudio, "audio"},
	{ErrPanic, "panic"},
}

// Kind names the failure class of err for statistics.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "other"
}
