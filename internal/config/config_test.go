package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

// fakeBinder wraps a pflag.FlagSet to satisfy the flagBinder interface.
type fakeBinder struct {
	fs *pflag.FlagSet
}

func (f *fakeBinder) Flags() *pflag.FlagSet { return f.fs }

// newFlagBinder creates a FlagSet with all config flags registered at their defaults.
func newFlagBinder(t *testing.T, defaults Config, args ...string) *fakeBinder {
	t.Helper()

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs, defaults)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	return &fakeBinder{fs: fs}
}

// --- DefaultConfig ---

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Dataset.Format != FormatLJSpeech {
		t.Errorf("Dataset.Format = %q; want %q", cfg.Dataset.Format, FormatLJSpeech)
	}

	if cfg.Dataset.SpeakerID != -1 {
		t.Errorf("Dataset.SpeakerID = %d; want -1", cfg.Dataset.SpeakerID)
	}

	if cfg.Audio.FilterLength != 1024 || cfg.Audio.WindowLength != 1024 || cfg.Audio.HopLength != 256 {
		t.Errorf("Audio STFT = %d/%d/%d; want 1024/1024/256",
			cfg.Audio.FilterLength, cfg.Audio.WindowLength, cfg.Audio.HopLength)
	}

	if cfg.Audio.NoSpeech != NoSpeechKeep {
		t.Errorf("Audio.NoSpeech = %q; want %q", cfg.Audio.NoSpeech, NoSpeechKeep)
	}

	if cfg.VAD.Threshold != 0.2 || cfg.VAD.SamplesPerChunk != 480 {
		t.Errorf("VAD = %+v; want threshold 0.2, 480 samples", cfg.VAD)
	}

	if cfg.VAD.KeepChunksBefore != 2 || cfg.VAD.KeepChunksAfter != 2 {
		t.Errorf("VAD keep = %d/%d; want 2/2", cfg.VAD.KeepChunksBefore, cfg.VAD.KeepChunksAfter)
	}

	if !cfg.Runtime.ResumeDedupe {
		t.Error("Runtime.ResumeDedupe = false; want true")
	}

	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q; want %q", cfg.LogLevel, "info")
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("DefaultConfig().Validate() = %v", err)
	}
}

// --- RegisterFlags ---

func TestRegisterFlags(t *testing.T) {
	defaults := DefaultConfig()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs, defaults)

	checks := []struct {
		flag string
		want string
	}{
		{"dataset-format", "ljspeech"},
		{"dataset-speaker-id", "-1"},
		{"audio-hop-length", "256"},
		{"vad-threshold", "0.2"},
		{"runtime-utterance-timeout", "1m0s"},
		{"log-level", "info"},
	}

	for _, c := range checks {
		f := fs.Lookup(c.flag)
		if f == nil {
			t.Errorf("flag %q not registered", c.flag)
			continue
		}

		if f.DefValue != c.want {
			t.Errorf("flag %q default = %q; want %q", c.flag, f.DefValue, c.want)
		}
	}
}

func TestEveryFlagIsBound(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs, DefaultConfig())

	bound := make(map[string]bool, len(flagKeys))
	for _, b := range flagKeys {
		bound[b.flag] = true
	}
	fs.VisitAll(func(f *pflag.Flag) {
		if !bound[f.Name] {
			t.Errorf("flag %q has no config key", f.Name)
		}
	})
}

// --- Load ---

func TestLoad_Defaults(t *testing.T) {
	defaults := DefaultConfig()

	cfg, err := Load(LoadOptions{
		Cmd:      newFlagBinder(t, defaults),
		Defaults: defaults,
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Audio.SampleRate != defaults.Audio.SampleRate {
		t.Errorf("SampleRate = %d; want %d", cfg.Audio.SampleRate, defaults.Audio.SampleRate)
	}

	if cfg.Runtime.UtteranceTimeout != defaults.Runtime.UtteranceTimeout {
		t.Errorf("UtteranceTimeout = %s; want %s", cfg.Runtime.UtteranceTimeout, defaults.Runtime.UtteranceTimeout)
	}

	if cfg.Dataset.SpeakerID != -1 {
		t.Errorf("SpeakerID = %d; want -1", cfg.Dataset.SpeakerID)
	}
}

func TestLoad_FlagOverride(t *testing.T) {
	defaults := DefaultConfig()

	cfg, err := Load(LoadOptions{
		Cmd: newFlagBinder(t, defaults,
			"--runtime-workers=8",
			"--log-level=debug",
			"--runtime-utterance-timeout=5s",
			"--language=ja",
			"--ort-lib=/opt/ort/libonnxruntime.so",
		),
		Defaults: defaults,
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Runtime.Workers != 8 {
		t.Errorf("Runtime.Workers = %d; want 8", cfg.Runtime.Workers)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q; want %q", cfg.LogLevel, "debug")
	}

	if cfg.Runtime.UtteranceTimeout != 5*time.Second {
		t.Errorf("UtteranceTimeout = %s; want 5s", cfg.Runtime.UtteranceTimeout)
	}

	if cfg.Phonemes.Voice != "ja" {
		t.Errorf("Phonemes.Voice = %q; want %q", cfg.Phonemes.Voice, "ja")
	}

	if cfg.Runtime.ORTLibraryPath != "/opt/ort/libonnxruntime.so" {
		t.Errorf("ORTLibraryPath = %q", cfg.Runtime.ORTLibraryPath)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("PIPERPREP_LOG_LEVEL", "warn")
	t.Setenv("PIPERPREP_AUDIO_SAMPLE_RATE", "16000")
	t.Setenv("PIPERPREP_RUNTIME_STALL_TIMEOUT", "90s")

	cfg, err := Load(LoadOptions{
		Defaults: DefaultConfig(),
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q; want %q", cfg.LogLevel, "warn")
	}

	if cfg.Audio.SampleRate != 16000 {
		t.Errorf("Audio.SampleRate = %d; want 16000", cfg.Audio.SampleRate)
	}

	if cfg.Runtime.StallTimeout != 90*time.Second {
		t.Errorf("Runtime.StallTimeout = %s; want 90s", cfg.Runtime.StallTimeout)
	}
}

func TestLoad_ORTEnvFallback(t *testing.T) {
	t.Setenv("ORT_LIBRARY_PATH", "/usr/lib/libonnxruntime.so.1.23.0")

	cfg, err := Load(LoadOptions{Defaults: DefaultConfig()})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Runtime.ORTLibraryPath != "/usr/lib/libonnxruntime.so.1.23.0" {
		t.Errorf("ORTLibraryPath = %q", cfg.Runtime.ORTLibraryPath)
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "piperprep.yaml")

	content := `
log_level: error
dataset:
  format: mycroft
  single_speaker: true
vad:
  threshold: 0.35
runtime:
  workers: 3
`

	if err := os.WriteFile(cfgFile, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	defaults := DefaultConfig()

	cfg, err := Load(LoadOptions{
		Cmd:        newFlagBinder(t, defaults, "--runtime-workers=5"),
		ConfigFile: cfgFile,
		Defaults:   defaults,
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.LogLevel != "error" {
		t.Errorf("LogLevel = %q; want %q", cfg.LogLevel, "error")
	}

	if cfg.Dataset.Format != FormatMycroft || !cfg.Dataset.SingleSpeaker {
		t.Errorf("Dataset = %+v; want mycroft single speaker", cfg.Dataset)
	}

	if cfg.VAD.Threshold != 0.35 {
		t.Errorf("VAD.Threshold = %v; want 0.35", cfg.VAD.Threshold)
	}

	// Flags win over the file.
	if cfg.Runtime.Workers != 5 {
		t.Errorf("Runtime.Workers = %d; want 5", cfg.Runtime.Workers)
	}

	// Untouched keys keep their defaults.
	if cfg.Audio.HopLength != 256 {
		t.Errorf("Audio.HopLength = %d; want 256", cfg.Audio.HopLength)
	}
}

func TestLoad_InvalidConfigFile(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "bad.yaml")

	if err := os.WriteFile(cfgFile, []byte(":\t:bad yaml:::"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	_, err := Load(LoadOptions{
		ConfigFile: cfgFile,
		Defaults:   DefaultConfig(),
	})
	if err == nil {
		t.Error("Load() = nil; want error for invalid config file")
	}
}

func TestLoad_MissingExplicitConfigFile(t *testing.T) {
	_, err := Load(LoadOptions{
		ConfigFile: "/nonexistent/path/piperprep.yaml",
		Defaults:   DefaultConfig(),
	})
	if err == nil {
		t.Error("Load() = nil; want error for missing explicit config file")
	}
}

// --- Validate ---

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:    "single speaker with fixed id",
			mutate:  func(c *Config) { c.Dataset.SingleSpeaker = true; c.Dataset.SpeakerID = 0 },
			wantErr: "mutually exclusive",
		},
		{
			name:    "unknown format",
			mutate:  func(c *Config) { c.Dataset.Format = "vctk" },
			wantErr: "dataset.format",
		},
		{
			name:    "unknown no speech policy",
			mutate:  func(c *Config) { c.Audio.NoSpeech = "skip" },
			wantErr: "audio.no_speech",
		},
		{
			name:    "unknown vad version",
			mutate:  func(c *Config) { c.VAD.ModelVersion = "v3" },
			wantErr: "vad.model_version",
		},
		{
			name:    "window longer than filter",
			mutate:  func(c *Config) { c.Audio.WindowLength = 2048 },
			wantErr: "stft",
		},
		{
			name:    "zero timeout",
			mutate:  func(c *Config) { c.Runtime.UtteranceTimeout = 0 },
			wantErr: "utterance_timeout",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.LogLevel = "trace" },
			wantErr: "log level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() = nil; want error")
			}

			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v; want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

// --- ParseLogLevel ---

func TestParseLogLevel(t *testing.T) {
	for _, s := range []string{"", "info", "DEBUG", "warn", "warning", "error"} {
		if _, err := ParseLogLevel(s); err != nil {
			t.Errorf("ParseLogLevel(%q) error = %v", s, err)
		}
	}

	if _, err := ParseLogLevel("verbose"); err == nil {
		t.Error("ParseLogLevel(verbose) = nil; want error")
	}
}
