// Package pipeline fans utterances out to workers and collects their
// results into the output dataset.
//
// A run has two phases. Plan scans the corpus once to count utterances and
// speakers and writes the manifest. Execute scans again, feeds batches to
// the workers over a bounded channel and drains exactly one Result per
// utterance before stopping the workers.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/example/go-piper-preprocess/internal/dataset"
	"github.com/example/go-piper-preprocess/internal/manifest"
	"github.com/example/go-piper-preprocess/internal/metrics"
	"github.com/example/go-piper-preprocess/internal/tokens"
)

type options struct {
	workers          int
	utteranceTimeout time.Duration
	stallTimeout     time.Duration
	joinTimeout      time.Duration
	flushEvery       int
	resumeDedupe     bool
	speakerID        int
	logger           *slog.Logger
	metrics          *metrics.Metrics
}

func defaultOptions() options {
	return options{
		workers:          runtime.NumCPU(),
		utteranceTimeout: 60 * time.Second,
		stallTimeout:     10 * time.Minute,
		joinTimeout:      2 * time.Second,
		flushEvery:       100,
		resumeDedupe:     true,
		speakerID:        -1,
		logger:           slog.Default(),
		metrics:          metrics.Default(),
	}
}

// Option configures a Coordinator.
type Option func(*options)

// WithWorkers sets the worker count. n <= 0 means runtime.NumCPU().
func WithWorkers(n int) Option {
	return func(o *options) {
		if n <= 0 {
			n = runtime.NumCPU()
		}
		o.workers = n
	}
}

// WithUtteranceTimeout sets the per-utterance deadline. 0 disables it.
func WithUtteranceTimeout(d time.Duration) Option {
	return func(o *options) { o.utteranceTimeout = d }
}

// WithStallTimeout aborts the run when no result arrives for d. 0 disables
// the watchdog.
func WithStallTimeout(d time.Duration) Option {
	return func(o *options) { o.stallTimeout = d }
}

// WithJoinTimeout bounds the wait for workers after they were stopped.
func WithJoinTimeout(d time.Duration) Option {
	return func(o *options) { o.joinTimeout = d }
}

// WithFlushEvery flushes the output after every n results.
func WithFlushEvery(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.flushEvery = n
		}
	}
}

// WithResumeDedupe skips utterances already present in the output.
func WithResumeDedupe(on bool) Option {
	return func(o *options) { o.resumeDedupe = on }
}

// WithSpeakerID sets the id written for single-speaker corpora. Negative
// leaves it unset.
func WithSpeakerID(id int) Option {
	return func(o *options) { o.speakerID = id }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics sets the metric instruments.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// Deps are the collaborators of a Coordinator.
type Deps struct {
	Scanner   dataset.Scanner
	Processor Processor
	NewState  StateFactory
}

// Coordinator runs the pipeline into one output directory.
type Coordinator struct {
	deps      Deps
	outputDir string
	opts      options
}

// New returns a Coordinator writing to outputDir.
func New(deps Deps, outputDir string, optFns ...Option) *Coordinator {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Coordinator{deps: deps, outputDir: outputDir, opts: opts}
}

// Plan is the outcome of the pre-scan.
type Plan struct {
	Census   dataset.Census
	Manifest *manifest.Manifest
}

// Plan counts the corpus and writes the manifest built from params with the
// speaker fields filled in.
func (c *Coordinator) Plan(ctx context.Context, params manifest.Params) (*Plan, error) {
	census, err := dataset.Count(ctx, c.deps.Scanner)
	if err != nil {
		return nil, err
	}
	if census.Utterances == 0 {
		return nil, ErrNoUtterances
	}

	prior, err := c.priorTokens()
	if err != nil {
		return nil, err
	}
	if len(prior) > 0 {
		merged := make(map[string]string, len(prior)+len(params.TokenMap))
		maps.Copy(merged, prior)
		maps.Copy(merged, params.TokenMap)
		if err := tokens.NewRegistry(tokens.FixedTable).Seed(merged); err != nil {
			return nil, fmt.Errorf("existing token map: %w", err)
		}
		params.TokenMap = merged
		c.opts.logger.Info("keeping token map of earlier run", slog.Int("tokens", len(prior)))
	}

	params.OutputDir = c.outputDir
	params.NumSpeakers = census.Speakers.Len()
	params.SpeakerIDMap = census.Speakers.Map()
	m := manifest.New(params)
	if err := manifest.Write(c.outputDir, m); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}

	if census.Speakers.MultiSpeaker() {
		c.opts.logger.Info("multi-speaker dataset", slog.Int("speakers", census.Speakers.Len()))
	} else {
		c.opts.logger.Info("single speaker dataset")
	}
	c.opts.logger.Info("wrote dataset config", slog.String("path", filepath.Join(c.outputDir, manifest.FileName)))
	return &Plan{Census: census, Manifest: m}, nil
}

// priorTokens returns the token map of a manifest left by an earlier run in
// the output directory. Lines of that run stay in the dataset, so their
// symbols must keep their meaning.
func (c *Coordinator) priorTokens() (map[string]string, error) {
	path := filepath.Join(c.outputDir, manifest.FileName)
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	m, err := manifest.Read(path)
	if err != nil {
		return nil, fmt.Errorf("read existing manifest: %w", err)
	}
	return m.TokenMap, nil
}

type fed struct {
	n   int
	err error
}

// Execute processes every utterance of plan. Stats are returned even when
// the run aborts; lines flushed before an abort stay in the output.
func (c *Coordinator) Execute(ctx context.Context, plan *Plan) (Stats, error) {
	start := time.Now()
	stats := newStats()
	log := c.opts.logger

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	out, err := OpenOutput(filepath.Join(c.outputDir, DatasetFile), c.opts.resumeDedupe)
	if err != nil {
		return stats, err
	}
	defer out.Close()
	if out.Seen() > 0 {
		log.Info("resuming", slog.Int("existing_lines", out.Seen()))
	}

	run := tokens.NewRegistry(tokens.FixedTable)
	if err := run.Seed(plan.Manifest.TokenMap); err != nil {
		return stats, fmt.Errorf("seed token map: %w", err)
	}

	total := plan.Census.Utterances
	workers := max(1, min(c.opts.workers, total))
	batchSize := max(1, total/(workers*2))

	jobs := make(chan Job, workers)
	results := make(chan Result, workers)
	exits := make(chan error, workers)

	var g errgroup.Group
	for i := range workers {
		w := &worker{
			id:      i,
			jobs:    jobs,
			results: results,
			newSt:   c.deps.NewState,
			proc:    c.deps.Processor,
			timeout: c.opts.utteranceTimeout,
			log:     log,
		}
		g.Go(func() error {
			c.opts.metrics.ActiveWorkers.Add(ctx, 1)
			defer c.opts.metrics.ActiveWorkers.Add(context.WithoutCancel(ctx), -1)
			err := w.run(ctx)
			exits <- err
			return err
		})
	}

	feedDone := make(chan fed, 1)
	go func(done chan<- fed) {
		n, err := c.feed(ctx, jobs, batchSize)
		done <- fed{n: n, err: err}
	}(feedDone)

	log.Info("processing utterances",
		slog.Int("utterances", total),
		slog.Int("workers", workers),
		slog.Int("batch_size", batchSize),
	)

	rec := recorder{c: c, out: out, run: run, speakers: plan.Census.Speakers, stats: &stats}

	var stall <-chan time.Time
	var stallTimer *time.Timer
	if c.opts.stallTimeout > 0 {
		stallTimer = time.NewTimer(c.opts.stallTimeout)
		defer stallTimer.Stop()
		stall = stallTimer.C
	}

	target := total
	received := 0
	live := workers
	var runErr error

	// The feeder's count is authoritative; keep draining until it reports.
drain:
	for received < target || feedDone != nil {
		select {
		case res := <-results:
			received++
			if stallTimer != nil {
				stallTimer.Reset(c.opts.stallTimeout)
			}
			if err := rec.record(ctx, res); err != nil {
				runErr = err
				break drain
			}
			if received%c.opts.flushEvery == 0 {
				if err := out.Flush(); err != nil {
					runErr = fmt.Errorf("flush dataset: %w", err)
					break drain
				}
			}
		case f := <-feedDone:
			feedDone = nil
			if f.err != nil {
				runErr = fmt.Errorf("scan corpus: %w", f.err)
				break drain
			}
			if f.n != total {
				log.Warn("corpus changed since plan", slog.Int("planned", total), slog.Int("scanned", f.n))
				target = f.n
			}
		case err := <-exits:
			live--
			if err != nil {
				runErr = err
				break drain
			}
			if live == 0 {
				runErr = fmt.Errorf("%w: all workers exited with %d results outstanding", ErrWorkerLost, target-received)
				break drain
			}
		case <-stall:
			runErr = fmt.Errorf("%w: %s without a result, %d of %d done", ErrStalled, c.opts.stallTimeout, received, target)
			break drain
		case <-ctx.Done():
			runErr = ctx.Err()
			break drain
		}
	}

	if err := out.Flush(); err != nil && runErr == nil {
		runErr = fmt.Errorf("flush dataset: %w", err)
	}

	if runErr != nil {
		cancel()
	} else {
		for range workers {
			select {
			case jobs <- Stop():
			case <-ctx.Done():
			}
		}
	}
	c.join(&g)

	// Lines flushed before an abort may already carry dynamic symbols.
	stats.TokenMap = run.Dynamic()
	if len(stats.TokenMap) > 0 {
		if err := manifest.FinalizeTokenMap(c.outputDir, stats.TokenMap); err != nil {
			runErr = errors.Join(runErr, fmt.Errorf("finalize token map: %w", err))
		}
	}

	stats.Elapsed = time.Since(start)
	c.logSummary(stats)
	return stats, runErr
}

// feed re-scans the corpus into batches and returns how many utterances it
// sent.
func (c *Coordinator) feed(ctx context.Context, jobs chan<- Job, size int) (int, error) {
	n := 0
	batch := make([]dataset.Utterance, 0, size)
	send := func() error {
		select {
		case jobs <- Batch(batch):
			batch = make([]dataset.Utterance, 0, size)
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	err := c.deps.Scanner.Scan(ctx, func(u dataset.Utterance) error {
		batch = append(batch, u)
		n++
		if len(batch) == size {
			return send()
		}
		return nil
	})
	if err != nil {
		return n, err
	}
	if len(batch) > 0 {
		if err := send(); err != nil {
			return n, err
		}
	}
	return n, nil
}

func (c *Coordinator) join(g *errgroup.Group) {
	joined := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(joined)
	}()
	select {
	case <-joined:
	case <-time.After(c.opts.joinTimeout):
		c.opts.logger.Warn("workers did not stop in time", slog.Duration("timeout", c.opts.joinTimeout))
	}
}

func (c *Coordinator) logSummary(s Stats) {
	log := c.opts.logger
	for _, m := range s.TopMissing(0) {
		log.Warn("missing phoneme", slog.String("phoneme", m.Symbol), slog.Int("count", m.Count))
	}
	if len(s.Missing) > 0 {
		log.Warn("missing phonemes", slog.Int("distinct", len(s.Missing)))
	}
	log.Info("run finished",
		slog.Int("total", s.Total),
		slog.Int("succeeded", s.Succeeded),
		slog.Int("timed_out", s.TimedOut),
		slog.Int("failed", s.Failed),
		slog.Int("duplicates", s.Duplicates),
		slog.Duration("elapsed", s.Elapsed),
	)
}

// recorder applies Results to the output and statistics. It runs on the
// coordinator goroutine only.
type recorder struct {
	c        *Coordinator
	out      *Output
	run      *tokens.Registry
	speakers *dataset.SpeakerRegistry
	stats    *Stats
}

func (r *recorder) record(ctx context.Context, res Result) error {
	s := r.stats
	s.Total++
	kind := ""

	switch res.Status {
	case Succeeded:
		u := res.Utterance
		if len(res.Tokens) > 0 {
			ph, err := r.run.Adopt(u.Phonemes, res.Tokens)
			if err != nil {
				return err
			}
			u.Phonemes = ph
			if u.Missing, err = r.rekeyMissing(u.Missing, res.Tokens); err != nil {
				return err
			}
		}
		if r.speakers != nil {
			r.speakers.AssignSpeaker(&u, r.c.opts.speakerID)
		}

		written, err := r.out.Append(u)
		if err != nil {
			return fmt.Errorf("write dataset: %w", err)
		}
		if !written {
			s.Duplicates++
		}
		s.Succeeded++
		s.Missing.Add(u.Missing)
		for _, n := range u.Missing {
			r.c.opts.metrics.Missing(ctx, n)
		}
	case TimedOut:
		s.TimedOut++
		kind = Kind(res.Err)
		s.FailedByKind[kind]++
		r.c.opts.logger.Error("skipping utterance due to timeout",
			slog.String("utterance", res.Utterance.AudioPath),
			slog.Int("worker", res.Worker),
			slog.String("error", res.Err.Error()),
		)
	default:
		s.Failed++
		kind = Kind(res.Err)
		s.FailedByKind[kind]++
		msg := "<nil>"
		if res.Err != nil {
			msg = res.Err.Error()
		}
		r.c.opts.logger.Error("failed to process utterance",
			slog.String("utterance", res.Utterance.AudioPath),
			slog.Int("line", res.Utterance.Line),
			slog.Int("worker", res.Worker),
			slog.String("kind", kind),
			slog.String("error", msg),
		)
	}

	r.c.opts.metrics.Finished(ctx, res.Status.String(), kind, res.Elapsed.Seconds())
	return nil
}

func (r *recorder) rekeyMissing(missing map[string]int, foreign map[string]string) (map[string]int, error) {
	if len(missing) == 0 {
		return missing, nil
	}
	out := make(map[string]int, len(missing))
	for sym, n := range missing {
		if token, ok := foreign[sym]; ok {
			mapped, err := r.run.Register(token)
			if err != nil {
				return nil, err
			}
			sym = mapped
		}
		out[sym] += n
	}
	return out, nil
}
