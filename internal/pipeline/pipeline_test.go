package pipeline

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/example/go-piper-preprocess/internal/audio"
	"github.com/example/go-piper-preprocess/internal/cache"
	"github.com/example/go-piper-preprocess/internal/config"
	"github.com/example/go-piper-preprocess/internal/dataset"
	"github.com/example/go-piper-preprocess/internal/manifest"
	"github.com/example/go-piper-preprocess/internal/metrics"
	"github.com/example/go-piper-preprocess/internal/phonemize"
	"github.com/example/go-piper-preprocess/internal/testutil"
	"github.com/example/go-piper-preprocess/internal/tokens"
	"github.com/example/go-piper-preprocess/internal/vad"
)

type sliceScanner []dataset.Utterance

func (s sliceScanner) Scan(_ context.Context, fn func(dataset.Utterance) error) error {
	for _, u := range s {
		if err := fn(u); err != nil {
			return err
		}
	}
	return nil
}

// stateFactory counts built and closed states.
type stateFactory struct {
	mu     sync.Mutex
	built  int
	closed int
	err    error
}

func (f *stateFactory) New(_ context.Context, _ int) (*State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.built++
	st := &State{
		Phonemizer: phonemize.Codepoints{},
		Tokens:     tokens.NewRegistry(tokens.FixedTable),
	}
	st.OnClose(func() {
		f.mu.Lock()
		f.closed++
		f.mu.Unlock()
	})
	return st, nil
}

func (f *stateFactory) counts() (built, closed int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.built, f.closed
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func noopMetrics(t *testing.T) *metrics.Metrics {
	t.Helper()
	m, err := metrics.New(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("metrics.New: %v", err)
	}
	return m
}

func utterances(n int, text func(i int) string) []dataset.Utterance {
	out := make([]dataset.Utterance, n)
	for i := range out {
		out[i] = dataset.Utterance{Text: text(i), AudioPath: fmt.Sprintf("/corpus/%03d.wav", i), Line: i + 1}
	}
	return out
}

func manifestParams() manifest.Params {
	return manifest.Params{
		SampleRate:   22050,
		Voice:        "en-us",
		PhonemeType:  string(phonemize.TypeESpeak),
		PhonemeIDMap: phonemize.ESpeakIDMap(),
		NumSymbols:   phonemize.MaxESpeakSymbols,
	}
}

type runResult struct {
	dir   string
	plan  *Plan
	stats Stats
	err   error
}

func runPipeline(t *testing.T, dir string, scanner dataset.Scanner, proc Processor, f *stateFactory, opts ...Option) runResult {
	t.Helper()
	base := []Option{
		WithLogger(quietLogger()),
		WithMetrics(noopMetrics(t)),
		WithJoinTimeout(2 * time.Second),
		WithWorkers(2),
	}
	c := New(Deps{Scanner: scanner, Processor: proc, NewState: f.New}, dir, append(base, opts...)...)

	plan, err := c.Plan(context.Background(), manifestParams())
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	stats, err := c.Execute(context.Background(), plan)
	return runResult{dir: dir, plan: plan, stats: stats, err: err}
}

func readLines(t *testing.T, dir string) []dataset.Utterance {
	t.Helper()
	f, err := os.Open(filepath.Join(dir, DatasetFile))
	if err != nil {
		t.Fatalf("open dataset: %v", err)
	}
	defer f.Close()

	var out []dataset.Utterance
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var u dataset.Utterance
		if err := u.UnmarshalJSON(sc.Bytes()); err != nil {
			t.Fatalf("line %d: %v", len(out)+1, err)
		}
		out = append(out, u)
	}
	return out
}

var echo = ProcessorFunc(func(ctx context.Context, st *State, u dataset.Utterance) (dataset.Utterance, error) {
	ph, err := st.Phonemizer.Phonemize(ctx, u.Text)
	if err != nil {
		return u, fmt.Errorf("%w: %v", ErrPhonemization, err)
	}
	u.Phonemes = ph
	return u, nil
})

// loud marks chunks containing a sample above 0.05 as speech.
type loud struct{}

func (loud) Probability(_ context.Context, chunk []float32) (float32, error) {
	for _, v := range chunk {
		if v > 0.05 || v < -0.05 {
			return 1, nil
		}
	}
	return 0, nil
}

func (loud) Reset() {}

func TestMissingAudioCorpus(t *testing.T) {
	in := t.TempDir()
	out := filepath.Join(t.TempDir(), "out")
	testutil.WriteFile(t, filepath.Join(in, "metadata.csv"), "a|hello there\nb|good morning\ngone|missing audio\n")
	for _, name := range []string{"a", "b"} {
		testutil.WriteWAV(t, filepath.Join(in, "wavs", name+".wav"), 22050,
			testutil.Segment{Seconds: 0.3},
			testutil.Segment{Seconds: 0.5, Amplitude: 0.5},
			testutil.Segment{Seconds: 0.3},
		)
	}

	scanner, err := dataset.NewScanner(config.FormatLJSpeech, dataset.Options{InputDir: in})
	if err != nil {
		t.Fatalf("NewScanner: %v", err)
	}
	backend, err := phonemize.NewBackend(phonemize.BackendConfig{Type: phonemize.TypeESpeak, Voice: "en-us"})
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	c, err := cache.New(cache.Options{
		Dir:        filepath.Join(out, "cache"),
		SampleRate: 22050,
		STFT:       audio.STFTParams{FilterLength: 1024, WindowLength: 1024, HopLength: 256},
	})
	if err != nil {
		t.Fatalf("cache.New: %v", err)
	}
	proc := &UtteranceProcessor{Backend: backend, Cache: c}

	f := &stateFactory{}
	newState := func(ctx context.Context, id int) (*State, error) {
		st, err := f.New(ctx, id)
		if err != nil {
			return nil, err
		}
		st.Trimmer, err = vad.NewTrimmer(loud{}, vad.DefaultParams())
		return st, err
	}

	coord := New(Deps{Scanner: scanner, Processor: proc, NewState: newState}, out,
		WithLogger(quietLogger()), WithMetrics(noopMetrics(t)), WithWorkers(2))
	plan, err := coord.Plan(context.Background(), manifestParams())
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	stats, err := coord.Execute(context.Background(), plan)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	m, err := manifest.Read(out)
	if err != nil {
		t.Fatalf("manifest.Read: %v", err)
	}
	if m.NumSpeakers != 1 || len(m.SpeakerIDMap) != 0 {
		t.Fatalf("speakers = %d %v", m.NumSpeakers, m.SpeakerIDMap)
	}

	lines := readLines(t, out)
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	if stats.Succeeded != 2 || stats.Failed != 1 || stats.FailedByKind["missing_audio"] != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	for _, u := range lines {
		if u.PhonemeIDs[0] != 1 || u.PhonemeIDs[len(u.PhonemeIDs)-1] != 2 {
			t.Errorf("ids not framed by bos/eos: %v", u.PhonemeIDs)
		}
		if err := cache.Verify(u.AudioNormPath); err != nil {
			t.Errorf("norm: %v", err)
		}
		if err := cache.Verify(u.AudioSpecPath); err != nil {
			t.Errorf("spec: %v", err)
		}
		if u.SpeakerID != nil {
			t.Errorf("single speaker line has speaker id %d", *u.SpeakerID)
		}
	}
}

func TestTimeoutReplacesState(t *testing.T) {
	release := make(chan struct{})
	proc := ProcessorFunc(func(ctx context.Context, st *State, u dataset.Utterance) (dataset.Utterance, error) {
		if u.Text == "stuck" {
			<-release
		}
		return echo(ctx, st, u)
	})

	utts := utterances(10, func(i int) string {
		if i == 4 {
			return "stuck"
		}
		return fmt.Sprintf("line %d", i)
	})

	f := &stateFactory{}
	res := runPipeline(t, t.TempDir(), sliceScanner(utts), proc, f, WithUtteranceTimeout(100*time.Millisecond))
	if res.err != nil {
		t.Fatalf("Execute: %v", res.err)
	}
	if res.stats.Succeeded != 9 || res.stats.TimedOut != 1 || res.stats.Failed != 0 {
		t.Fatalf("stats = %+v", res.stats)
	}
	if res.stats.FailedByKind["utterance_timeout"] != 1 {
		t.Fatalf("kinds = %v", res.stats.FailedByKind)
	}
	if lines := readLines(t, res.dir); len(lines) != 9 {
		t.Fatalf("got %d lines, want 9", len(lines))
	}

	built, closed := f.counts()
	if built != 3 {
		t.Fatalf("built %d states, want 3", built)
	}
	if closed != 2 {
		t.Fatalf("closed %d states before release, want 2", closed)
	}

	close(release)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, closed = f.counts(); closed == 3 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("abandoned state not closed after the task returned (closed=%d)", closed)
}

func TestTimeoutCooperative(t *testing.T) {
	proc := ProcessorFunc(func(ctx context.Context, st *State, u dataset.Utterance) (dataset.Utterance, error) {
		if u.Text == "slow" {
			<-ctx.Done()
			return u, fmt.Errorf("%w: %v", ErrPhonemization, ctx.Err())
		}
		return echo(ctx, st, u)
	})
	utts := utterances(4, func(i int) string {
		if i == 0 {
			return "slow"
		}
		return "fast"
	})

	res := runPipeline(t, t.TempDir(), sliceScanner(utts), proc, &stateFactory{}, WithUtteranceTimeout(50*time.Millisecond))
	if res.err != nil {
		t.Fatalf("Execute: %v", res.err)
	}
	if res.stats.TimedOut != 1 || res.stats.Succeeded != 3 {
		t.Fatalf("stats = %+v", res.stats)
	}
}

func TestConservation(t *testing.T) {
	failures := []error{nil, ErrPhonemization, nil, ErrMissingAudio, nil, ErrEmptyAudio, ErrNoSpeech}
	proc := ProcessorFunc(func(ctx context.Context, st *State, u dataset.Utterance) (dataset.Utterance, error) {
		if err := failures[u.Line%len(failures)]; err != nil {
			return u, fmt.Errorf("%s: %w", u.AudioPath, err)
		}
		if u.Line%11 == 0 {
			panic("boom")
		}
		return echo(ctx, st, u)
	})

	const n = 57
	for _, workers := range []int{1, 3, 8} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			res := runPipeline(t, t.TempDir(), sliceScanner(utterances(n, func(i int) string { return "abc" })), proc, &stateFactory{},
				WithWorkers(workers), WithFlushEvery(5))
			if res.err != nil {
				t.Fatalf("Execute: %v", res.err)
			}
			s := res.stats
			if s.Total != n || s.Finished() != n {
				t.Fatalf("total=%d finished=%d, want %d", s.Total, s.Finished(), n)
			}
			if lines := readLines(t, res.dir); len(lines) != s.Succeeded {
				t.Fatalf("lines=%d succeeded=%d", len(lines), s.Succeeded)
			}
			sum := 0
			for _, c := range s.FailedByKind {
				sum += c
			}
			if sum != s.Failed+s.TimedOut {
				t.Fatalf("kinds %v do not add up to %d", s.FailedByKind, s.Failed)
			}
			if s.FailedByKind["panic"] == 0 {
				t.Fatalf("panics not recorded: %v", s.FailedByKind)
			}
		})
	}
}

func TestWorkerLost(t *testing.T) {
	f := &stateFactory{err: errors.New("model missing")}
	res := runPipeline(t, t.TempDir(), sliceScanner(utterances(5, func(int) string { return "x" })), echo, f)
	if !errors.Is(res.err, ErrWorkerLost) {
		t.Fatalf("want ErrWorkerLost, got %v", res.err)
	}
}

func TestStalled(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	proc := ProcessorFunc(func(ctx context.Context, st *State, u dataset.Utterance) (dataset.Utterance, error) {
		if u.Text == "stuck" {
			<-release
		}
		return echo(ctx, st, u)
	})
	utts := utterances(6, func(i int) string {
		if i == 0 {
			return "stuck"
		}
		return "ok"
	})

	res := runPipeline(t, t.TempDir(), sliceScanner(utts), proc, &stateFactory{},
		WithUtteranceTimeout(0), WithStallTimeout(100*time.Millisecond), WithJoinTimeout(50*time.Millisecond))
	if !errors.Is(res.err, ErrStalled) {
		t.Fatalf("want ErrStalled, got %v", res.err)
	}
	if lines := readLines(t, res.dir); len(lines) != res.stats.Succeeded {
		t.Fatalf("flushed %d lines for %d successes", len(lines), res.stats.Succeeded)
	}
}

func TestCancel(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	proc := ProcessorFunc(func(pctx context.Context, st *State, u dataset.Utterance) (dataset.Utterance, error) {
		if u.Line == 3 {
			cancel()
		}
		return echo(pctx, st, u)
	})

	c := New(Deps{Scanner: sliceScanner(utterances(200, func(int) string { return "x" })), Processor: proc, NewState: (&stateFactory{}).New}, dir,
		WithLogger(quietLogger()), WithMetrics(noopMetrics(t)), WithWorkers(1))
	plan, err := c.Plan(context.Background(), manifestParams())
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	stats, err := c.Execute(ctx, plan)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
	if lines := readLines(t, dir); len(lines) != stats.Succeeded {
		t.Fatalf("flushed %d lines for %d successes", len(lines), stats.Succeeded)
	}
}

func TestResumeDedupe(t *testing.T) {
	dir := t.TempDir()
	utts := sliceScanner(utterances(12, func(i int) string { return fmt.Sprintf("text %d", i) }))

	first := runPipeline(t, dir, utts, echo, &stateFactory{})
	if first.err != nil {
		t.Fatalf("first run: %v", first.err)
	}
	second := runPipeline(t, dir, utts, echo, &stateFactory{})
	if second.err != nil {
		t.Fatalf("second run: %v", second.err)
	}
	if second.stats.Succeeded != 12 || second.stats.Duplicates != 12 {
		t.Fatalf("second stats = %+v", second.stats)
	}
	if lines := readLines(t, dir); len(lines) != 12 {
		t.Fatalf("got %d lines after resume, want 12", len(lines))
	}

	third := runPipeline(t, dir, utts, echo, &stateFactory{}, WithResumeDedupe(false))
	if third.err != nil {
		t.Fatalf("third run: %v", third.err)
	}
	if lines := readLines(t, dir); len(lines) != 24 {
		t.Fatalf("got %d lines without dedupe, want 24", len(lines))
	}
}

func TestResumeAfterTruncatedLine(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteFile(t, filepath.Join(dir, DatasetFile), `{"text":"cut sh`)

	res := runPipeline(t, dir, sliceScanner(utterances(3, func(int) string { return "abc" })), echo, &stateFactory{})
	if res.err != nil {
		t.Fatalf("Execute: %v", res.err)
	}

	data, err := os.ReadFile(filepath.Join(dir, DatasetFile))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d lines, want 4:\n%s", len(lines), data)
	}
	for _, l := range lines[1:] {
		var u dataset.Utterance
		if err := u.UnmarshalJSON([]byte(l)); err != nil {
			t.Fatalf("line %q: %v", l, err)
		}
	}
}

func TestTokenRekeying(t *testing.T) {
	dir := t.TempDir()
	proc := ProcessorFunc(func(_ context.Context, st *State, u dataset.Utterance) (dataset.Utterance, error) {
		ph, err := st.Tokens.Encode(strings.Fields(u.Text))
		if err != nil {
			return u, err
		}
		u.Phonemes = ph
		u.Missing = phonemize.Missing{ph[0]: 1}
		return u, nil
	})
	texts := []string{"kyaa ryoo", "ryoo nyaa", "nyaa kyaa", "myuu", "kyaa myuu ryoo", "nyaa"}
	utts := utterances(len(texts)*4, func(i int) string { return texts[i%len(texts)] })

	res := runPipeline(t, dir, sliceScanner(utts), proc, &stateFactory{}, WithWorkers(3))
	if res.err != nil {
		t.Fatalf("Execute: %v", res.err)
	}

	m, err := manifest.Read(dir)
	if err != nil {
		t.Fatalf("manifest.Read: %v", err)
	}
	if len(m.TokenMap) != 4 {
		t.Fatalf("token map = %v, want 4 entries", m.TokenMap)
	}
	for _, u := range readLines(t, dir) {
		got := make([]string, len(u.Phonemes))
		for i, ch := range u.Phonemes {
			tok, ok := m.TokenMap[ch]
			if !ok {
				t.Fatalf("symbol %q missing from token map", ch)
			}
			got[i] = tok
		}
		if strings.Join(got, " ") != u.Text {
			t.Fatalf("decoded %q, want %q", strings.Join(got, " "), u.Text)
		}
	}

	for sym := range res.stats.Missing {
		if _, ok := res.stats.TokenMap[sym]; !ok {
			t.Fatalf("missing symbol %q not re-keyed into the run registry", sym)
		}
	}
}

var encodeFields = ProcessorFunc(func(ctx context.Context, st *State, u dataset.Utterance) (dataset.Utterance, error) {
	if u.Text == "hang" {
		<-ctx.Done()
		return u, ctx.Err()
	}
	ph, err := st.Tokens.Encode(strings.Fields(u.Text))
	if err != nil {
		return u, err
	}
	u.Phonemes = ph
	return u, nil
})

func decodeLines(t *testing.T, dir string) map[string]string {
	t.Helper()
	m, err := manifest.Read(dir)
	if err != nil {
		t.Fatalf("manifest.Read: %v", err)
	}
	out := make(map[string]string)
	for _, u := range readLines(t, dir) {
		got := make([]string, len(u.Phonemes))
		for i, ch := range u.Phonemes {
			tok, ok := m.TokenMap[ch]
			if !ok {
				t.Fatalf("symbol %q missing from token map %v", ch, m.TokenMap)
			}
			got[i] = tok
		}
		out[u.AudioPath] = strings.Join(got, " ")
	}
	return out
}

func TestResumeKeepsTokenMap(t *testing.T) {
	dir := t.TempDir()

	first := runPipeline(t, dir, sliceScanner{{Text: "xx", AudioPath: "/corpus/x.wav"}}, encodeFields, &stateFactory{})
	if first.err != nil {
		t.Fatalf("first run: %v", first.err)
	}

	utts := sliceScanner{
		{Text: "zz", AudioPath: "/corpus/z.wav"},
		{Text: "xx", AudioPath: "/corpus/x.wav"},
	}
	second := runPipeline(t, dir, utts, encodeFields, &stateFactory{}, WithWorkers(1))
	if second.err != nil {
		t.Fatalf("second run: %v", second.err)
	}
	if second.stats.Duplicates != 1 {
		t.Fatalf("duplicates = %d, want 1", second.stats.Duplicates)
	}

	got := decodeLines(t, dir)
	want := map[string]string{"/corpus/x.wav": "xx", "/corpus/z.wav": "zz"}
	for path, text := range want {
		if got[path] != text {
			t.Fatalf("%s decodes to %q, want %q (all: %v)", path, got[path], text, got)
		}
	}
}

func TestPlanRejectsConflictingTokenMap(t *testing.T) {
	dir := t.TempDir()
	p := manifestParams()
	p.OutputDir = dir
	p.TokenMap = map[string]string{string(tokens.FixedTable["ch"]): "xx"}
	if err := manifest.Write(dir, manifest.New(p)); err != nil {
		t.Fatal(err)
	}

	c := New(Deps{Scanner: sliceScanner(utterances(1, func(int) string { return "a" })), Processor: echo, NewState: (&stateFactory{}).New}, dir, WithLogger(quietLogger()))
	if _, err := c.Plan(context.Background(), manifestParams()); !errors.Is(err, tokens.ErrConflict) {
		t.Fatalf("want ErrConflict, got %v", err)
	}
}

func TestAbortedRunFinalizesTokenMap(t *testing.T) {
	dir := t.TempDir()
	utts := sliceScanner{
		{Text: "xx yy", AudioPath: "/corpus/x.wav"},
		{Text: "hang", AudioPath: "/corpus/h.wav"},
	}
	res := runPipeline(t, dir, utts, encodeFields, &stateFactory{},
		WithUtteranceTimeout(0),
		WithStallTimeout(300*time.Millisecond),
	)
	if !errors.Is(res.err, ErrStalled) {
		t.Fatalf("want ErrStalled, got %v", res.err)
	}
	if got := decodeLines(t, dir)["/corpus/x.wav"]; got != "xx yy" {
		t.Fatalf("flushed line decodes to %q, want %q", got, "xx yy")
	}
}

// growingScanner yields extra utterances after the first scan.
type growingScanner struct {
	mu    sync.Mutex
	scans int
	base  []dataset.Utterance
	extra []dataset.Utterance
}

func (g *growingScanner) Scan(ctx context.Context, fn func(dataset.Utterance) error) error {
	g.mu.Lock()
	g.scans++
	utts := g.base
	if g.scans > 1 {
		utts = append(append([]dataset.Utterance(nil), g.base...), g.extra...)
	}
	g.mu.Unlock()
	return sliceScanner(utts).Scan(ctx, fn)
}

func TestExecuteCorpusGrewSincePlan(t *testing.T) {
	dir := t.TempDir()
	all := utterances(6, func(i int) string { return fmt.Sprintf("u%d", i) })
	scanner := &growingScanner{base: all[:2], extra: all[2:]}

	res := runPipeline(t, dir, scanner, echo, &stateFactory{})
	if res.err != nil {
		t.Fatalf("Execute: %v", res.err)
	}
	if res.stats.Total != 6 || res.stats.Succeeded != 6 {
		t.Fatalf("stats = %+v, want 6 succeeded", res.stats)
	}
	if lines := readLines(t, dir); len(lines) != 6 {
		t.Fatalf("got %d lines, want 6", len(lines))
	}
}

func TestPlanEmptyCorpus(t *testing.T) {
	c := New(Deps{Scanner: sliceScanner(nil), Processor: echo, NewState: (&stateFactory{}).New}, t.TempDir(), WithLogger(quietLogger()))
	if _, err := c.Plan(context.Background(), manifestParams()); !errors.Is(err, ErrNoUtterances) {
		t.Fatalf("want ErrNoUtterances, got %v", err)
	}
}

func TestPlanSpeakers(t *testing.T) {
	utts := sliceScanner{
		{Text: "a", AudioPath: "/1", Speaker: "amy"},
		{Text: "b", AudioPath: "/2", Speaker: "bob"},
		{Text: "c", AudioPath: "/3", Speaker: "bob"},
	}
	res := runPipeline(t, t.TempDir(), utts, echo, &stateFactory{})
	if res.err != nil {
		t.Fatalf("Execute: %v", res.err)
	}
	if res.plan.Manifest.NumSpeakers != 2 || res.plan.Manifest.SpeakerIDMap["bob"] != 0 {
		t.Fatalf("manifest speakers = %d %v", res.plan.Manifest.NumSpeakers, res.plan.Manifest.SpeakerIDMap)
	}
	for _, u := range readLines(t, res.dir) {
		want := map[string]int{"bob": 0, "amy": 1}[u.Speaker]
		if u.SpeakerID == nil || *u.SpeakerID != want {
			t.Fatalf("%s: speaker id = %v, want %d", u.Speaker, u.SpeakerID, want)
		}
	}
}
