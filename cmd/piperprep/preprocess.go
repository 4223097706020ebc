package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/example/go-piper-preprocess/internal/audio"
	"github.com/example/go-piper-preprocess/internal/cache"
	"github.com/example/go-piper-preprocess/internal/config"
	"github.com/example/go-piper-preprocess/internal/dataset"
	"github.com/example/go-piper-preprocess/internal/manifest"
	"github.com/example/go-piper-preprocess/internal/metrics"
	"github.com/example/go-piper-preprocess/internal/onnx"
	"github.com/example/go-piper-preprocess/internal/phonemize"
	"github.com/example/go-piper-preprocess/internal/pipeline"
	"github.com/example/go-piper-preprocess/internal/tokens"
	"github.com/example/go-piper-preprocess/internal/vad"
	"github.com/spf13/cobra"
)

func newPreprocessCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "preprocess",
		Short: "Convert a corpus into config.json, dataset.jsonl and cached audio",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			stats, err := runPreprocess(ctx, cfg, slog.Default())
			if stats.Total > 0 {
				writeSummary(cmd.OutOrStdout(), stats)
			}
			return err
		},
	}

	return cmd
}

// runPreprocess wires the backend, cache and worker states for cfg and runs
// the coordinator to completion.
func runPreprocess(ctx context.Context, cfg config.Config, logger *slog.Logger) (pipeline.Stats, error) {
	if cfg.Paths.InputDir == "" {
		return pipeline.Stats{}, errors.New("paths.input_dir is required")
	}
	if cfg.Paths.OutputDir == "" {
		return pipeline.Stats{}, errors.New("paths.output_dir is required")
	}

	ptype, err := phonemize.NormalizeType(cfg.Phonemes.Type, cfg.Phonemes.Voice)
	if err != nil {
		return pipeline.Stats{}, err
	}
	if ptype != phonemize.TypeOpenJTalk && cfg.Phonemes.Voice == "" {
		return pipeline.Stats{}, errors.New("phonemes.voice (--language) is required")
	}

	backend, err := phonemize.NewBackend(phonemize.BackendConfig{
		Type:             ptype,
		Voice:            cfg.Phonemes.Voice,
		ESpeakPath:       cfg.Phonemes.ESpeakPath,
		OpenJTalkCommand: cfg.Phonemes.OpenJTalkCommand,
	})
	if err != nil {
		return pipeline.Stats{}, err
	}

	casing, err := phonemize.ParseCasing(cfg.Dataset.TextCasing)
	if err != nil {
		return pipeline.Stats{}, err
	}

	scanner, err := dataset.NewScanner(cfg.Dataset.Format, dataset.Options{
		InputDir:      cfg.Paths.InputDir,
		SingleSpeaker: cfg.Dataset.SingleSpeaker,
	})
	if err != nil {
		return pipeline.Stats{}, err
	}

	if err := os.MkdirAll(cfg.Paths.OutputDir, 0o755); err != nil {
		return pipeline.Stats{}, fmt.Errorf("create output dir: %w", err)
	}

	m := metrics.Default()
	proc := &pipeline.UtteranceProcessor{
		Backend:   backend,
		Casing:    casing,
		SkipAudio: cfg.Dataset.SkipAudio,
		Metrics:   m,
	}

	var env *onnx.Env
	if !cfg.Dataset.SkipAudio {
		dir, err := cacheDir(cfg)
		if err != nil {
			return pipeline.Stats{}, err
		}
		proc.Cache, err = cache.New(cache.Options{
			Dir:        dir,
			SampleRate: cfg.Audio.SampleRate,
			STFT: audio.STFTParams{
				FilterLength: cfg.Audio.FilterLength,
				WindowLength: cfg.Audio.WindowLength,
				HopLength:    cfg.Audio.HopLength,
			},
			IgnoreCache: cfg.Audio.IgnoreCache,
			NoSpeech:    cfg.Audio.NoSpeech,
			Logger:      logger,
		})
		if err != nil {
			return pipeline.Stats{}, err
		}

		info, err := onnx.DetectRuntime(cfg.Runtime)
		if err != nil {
			return pipeline.Stats{}, err
		}
		logger.Info("onnx runtime",
			slog.String("path", info.LibraryPath),
			slog.String("version", info.Version),
			slog.String("source", info.Source),
		)

		env, err = onnx.OpenEnv(info.Config())
		if err != nil {
			return pipeline.Stats{}, err
		}
		defer env.Close()
	}

	coord := pipeline.New(pipeline.Deps{
		Scanner:   scanner,
		Processor: proc,
		NewState:  stateFactory(cfg, backend, env),
	}, cfg.Paths.OutputDir,
		pipeline.WithWorkers(cfg.Runtime.Workers),
		pipeline.WithUtteranceTimeout(cfg.Runtime.UtteranceTimeout),
		pipeline.WithStallTimeout(cfg.Runtime.StallTimeout),
		pipeline.WithResumeDedupe(cfg.Runtime.ResumeDedupe),
		pipeline.WithSpeakerID(cfg.Dataset.SpeakerID),
		pipeline.WithLogger(logger),
		pipeline.WithMetrics(m),
	)

	plan, err := coord.Plan(ctx, manifest.Params{
		DatasetName:  cfg.Dataset.Name,
		AudioQuality: cfg.Dataset.AudioQuality,
		SampleRate:   cfg.Audio.SampleRate,
		Voice:        cfg.Phonemes.Voice,
		PhonemeType:  string(ptype),
		PhonemeIDMap: backend.IDMap,
		NumSymbols:   backend.NumSymbols,
		TokenMap:     backend.TokenMap,
	})
	if err != nil {
		return pipeline.Stats{}, err
	}

	return coord.Execute(ctx, plan)
}

// stateFactory builds one phonemizer, token registry and Silero session per
// worker. Sessions share env.
func stateFactory(cfg config.Config, backend *phonemize.Backend, env *onnx.Env) pipeline.StateFactory {
	params := vad.Params{
		Threshold:        float32(cfg.VAD.Threshold),
		SamplesPerChunk:  cfg.VAD.SamplesPerChunk,
		KeepChunksBefore: cfg.VAD.KeepChunksBefore,
		KeepChunksAfter:  cfg.VAD.KeepChunksAfter,
	}

	return func(_ context.Context, worker int) (*pipeline.State, error) {
		reg := tokens.NewRegistry(tokens.FixedTable)
		ph, err := backend.NewPhonemizer(reg)
		if err != nil {
			return nil, fmt.Errorf("worker %d: %w", worker, err)
		}
		st := &pipeline.State{Phonemizer: ph, Tokens: reg}
		if cfg.Dataset.SkipAudio {
			return st, nil
		}

		silero, err := vad.NewSilero(env, cfg.VAD.ModelPath, cfg.VAD.ModelVersion)
		if err != nil {
			return nil, fmt.Errorf("worker %d: %w", worker, err)
		}
		st.OnClose(silero.Close)

		st.Trimmer, err = vad.NewTrimmer(silero, params)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("worker %d: %w", worker, err)
		}
		return st, nil
	}
}

var (
	summaryTitle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00ff9f"))
	summaryLabel = lipgloss.NewStyle().Foreground(lipgloss.Color("#6e7681")).Width(14)
	summaryBad   = lipgloss.NewStyle().Foreground(lipgloss.Color("#ff5f87"))
	summaryBox   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#00ff9f")).Padding(0, 1)
)

// renderSummary formats the end-of-run statistics.
func renderSummary(s pipeline.Stats) string {
	row := func(label, value string) string {
		return lipgloss.JoinHorizontal(lipgloss.Top, summaryLabel.Render(label), value)
	}

	lines := []string{
		summaryTitle.Render("piperprep"),
		row("total", strconv.Itoa(s.Total)),
		row("succeeded", strconv.Itoa(s.Succeeded)),
		row("duplicates", strconv.Itoa(s.Duplicates)),
	}
	if s.TimedOut > 0 {
		lines = append(lines, row("timed out", summaryBad.Render(strconv.Itoa(s.TimedOut))))
	}
	if s.Failed > 0 {
		lines = append(lines, row("failed", summaryBad.Render(strconv.Itoa(s.Failed))))
	}
	for _, kind := range sortedKeys(s.FailedByKind) {
		lines = append(lines, row("  "+kind, strconv.Itoa(s.FailedByKind[kind])))
	}
	if top := s.TopMissing(5); len(top) > 0 {
		parts := make([]string, 0, len(top))
		for _, mc := range top {
			parts = append(parts, fmt.Sprintf("%s x%d", strconv.QuoteToASCII(mc.Symbol), mc.Count))
		}
		lines = append(lines, row("missing", summaryBad.Render(strings.Join(parts, " "))))
	}
	lines = append(lines, row("elapsed", s.Elapsed.Round(time.Millisecond).String()))

	return summaryBox.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func writeSummary(w io.Writer, s pipeline.Stats) {
	_, _ = fmt.Fprintln(w, renderSummary(s))
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
