package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/go-piper-preprocess/internal/dataset"
)

type worker struct {
	id      int
	jobs    <-chan Job
	results chan<- Result
	newSt   StateFactory
	proc    Processor
	timeout time.Duration
	log     *slog.Logger
}

// run consumes jobs until a Stop arrives or ctx ends. Errors returned from
// run mean the worker is gone and its remaining batch will never report.
func (w *worker) run(ctx context.Context) (err error) {
	var st *State
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: worker %d panicked: %v", ErrWorkerLost, w.id, r)
		}
		if st != nil {
			st.Close()
		}
	}()

	if st, err = w.newState(ctx); err != nil {
		return err
	}

	for {
		var job Job
		var ok bool
		select {
		case <-ctx.Done():
			return nil
		case job, ok = <-w.jobs:
		}
		if !ok || job.IsStop() {
			w.log.Debug("worker stopping", slog.Int("worker", w.id))
			return nil
		}

		for _, u := range job.Utterances() {
			res, abandoned := w.process(ctx, st, u)
			select {
			case w.results <- res:
			case <-ctx.Done():
				return nil
			}
			if !abandoned {
				continue
			}
			st = nil
			if ctx.Err() != nil {
				return nil
			}
			if st, err = w.newState(ctx); err != nil {
				return err
			}
		}
	}
}

func (w *worker) newState(ctx context.Context) (*State, error) {
	st, err := w.newSt(ctx, w.id)
	if err != nil {
		return nil, fmt.Errorf("%w: worker %d: build state: %v", ErrWorkerLost, w.id, err)
	}
	return st, nil
}

// process runs one utterance under the deadline. When the deadline passes
// first, st is handed to the still-running task, which closes it on return,
// and abandoned is true.
func (w *worker) process(ctx context.Context, st *State, u dataset.Utterance) (res Result, abandoned bool) {
	start := time.Now()
	uctx, cancel := ctx, context.CancelFunc(func() {})
	if w.timeout > 0 {
		uctx, cancel = context.WithTimeout(ctx, w.timeout)
	}
	defer cancel()

	done := make(chan Result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- Result{Utterance: u, Status: Failed, Err: fmt.Errorf("%w: %v", ErrPanic, r)}
			}
		}()
		out, err := w.proc.Process(uctx, st, u)
		if err != nil {
			done <- Result{Utterance: u, Status: Failed, Err: err}
			return
		}
		r := Result{Utterance: out, Status: Succeeded}
		if st.Tokens != nil {
			r.Tokens = st.Tokens.Dynamic()
		}
		done <- r
	}()

	select {
	case res = <-done:
	case <-uctx.Done():
		select {
		case res = <-done:
		default:
			go func() {
				<-done
				st.Close()
			}()
			abandoned = true
			res = Result{Utterance: u, Status: TimedOut, Err: fmt.Errorf("%w after %s", ErrUtteranceTimeout, w.timeout)}
			if ctx.Err() != nil {
				res = Result{Utterance: u, Status: Failed, Err: ctx.Err()}
			}
		}
	}

	if res.Status == Failed && ctx.Err() == nil && errors.Is(uctx.Err(), context.DeadlineExceeded) {
		res.Status = TimedOut
		res.Err = fmt.Errorf("%w after %s: %v", ErrUtteranceTimeout, w.timeout, res.Err)
	}
	res.Worker = w.id
	res.Elapsed = time.Since(start)
	return res, abandoned
}
