package pipeline

import (
	"sort"
	"time"

	"github.com/example/go-piper-preprocess/internal/phonemize"
)

// Stats summarizes a run.
type Stats struct {
	Total      int
	Succeeded  int
	TimedOut   int
	Failed     int
	Duplicates int
	// FailedByKind counts timed-out and failed utterances by Kind.
	FailedByKind map[string]int
	Missing      phonemize.Missing
	// TokenMap is the run-wide dynamic token assignment (symbol → token).
	TokenMap map[string]string
	Elapsed  time.Duration
}

func newStats() Stats {
	return Stats{FailedByKind: map[string]int{}, Missing: phonemize.Missing{}}
}

// Finished returns the number of utterances with a terminal status.
func (s Stats) Finished() int {
	return s.Succeeded + s.TimedOut + s.Failed
}

// MissingCount is one entry of TopMissing.
type MissingCount struct {
	Symbol string
	Count  int
}

// TopMissing returns up to n missing symbols, most frequent first. n <= 0
// returns all of them.
func (s Stats) TopMissing(n int) []MissingCount {
	out := make([]MissingCount, 0, len(s.Missing))
	for sym, c := range s.Missing {
		out = append(out, MissingCount{Symbol: sym, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Symbol < out[j].Symbol
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
