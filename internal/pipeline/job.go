package pipeline

import (
	"time"

	"github.com/example/go-piper-preprocess/internal/dataset"
)

// Status is the terminal state of one utterance.
type Status int

const (
	Pending Status = iota
	Succeeded
	TimedOut
	Failed
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Succeeded:
		return "succeeded"
	case TimedOut:
		return "timed_out"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Job is either a batch of utterances or a stop request.
type Job struct {
	batch []dataset.Utterance
	stop  bool
}

// Batch wraps utterances into a Job.
func Batch(utts []dataset.Utterance) Job {
	return Job{batch: utts}
}

// Stop returns the Job that ends one worker.
func Stop() Job {
	return Job{stop: true}
}

// IsStop reports whether j is a stop request.
func (j Job) IsStop() bool { return j.stop }

// Utterances returns the batch of j.
func (j Job) Utterances() []dataset.Utterance { return j.batch }

// Result is the outcome of one utterance.
type Result struct {
	Utterance dataset.Utterance
	Status    Status
	Err       error
	// Tokens snapshots the worker's dynamic token assignments (symbol →
	// token) so the coordinator can re-key Utterance.Phonemes.
	Tokens  map[string]string
	Worker  int
	Elapsed time.Duration
}
