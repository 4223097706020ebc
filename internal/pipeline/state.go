package pipeline

import (
	"context"
	"sync"

	"github.com/example/go-piper-preprocess/internal/cache"
	"github.com/example/go-piper-preprocess/internal/phonemize"
	"github.com/example/go-piper-preprocess/internal/tokens"
)

// State is the private, single-threaded toolset of one worker. A worker
// hands its State to an utterance that overran its deadline and builds a new
// one, so a State is never used by two utterances at once.
type State struct {
	Phonemizer phonemize.Phonemizer
	Tokens     *tokens.Registry
	Trimmer    cache.Trimmer

	closeOnce sync.Once
	closers   []func()
}

// OnClose registers f to run when the state is closed.
func (s *State) OnClose(f func()) {
	s.closers = append(s.closers, f)
}

// Close releases the state. It is idempotent.
func (s *State) Close() {
	s.closeOnce.Do(func() {
		for i := len(s.closers) - 1; i >= 0; i-- {
			s.closers[i]()
		}
	})
}

// StateFactory builds the State of worker id.
type StateFactory func(ctx context.Context, worker int) (*State, error)
