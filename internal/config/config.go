package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	LogLevel string         `mapstructure:"log_level"`
	Paths    PathsConfig    `mapstructure:"paths"`
	Dataset  DatasetConfig  `mapstructure:"dataset"`
	Audio    AudioConfig    `mapstructure:"audio"`
	VAD      VADConfig      `mapstructure:"vad"`
	Phonemes PhonemesConfig `mapstructure:"phonemes"`
	Runtime  RuntimeConfig  `mapstructure:"runtime"`
}

type PathsConfig struct {
	InputDir  string `mapstructure:"input_dir"`
	OutputDir string `mapstructure:"output_dir"`
	CacheDir  string `mapstructure:"cache_dir"`
}

type DatasetConfig struct {
	Format        string `mapstructure:"format"`
	SingleSpeaker bool   `mapstructure:"single_speaker"`
	SpeakerID     int    `mapstructure:"speaker_id"`
	TextCasing    string `mapstructure:"text_casing"`
	SkipAudio     bool   `mapstructure:"skip_audio"`
	Name          string `mapstructure:"name"`
	AudioQuality  string `mapstructure:"audio_quality"`
}

type AudioConfig struct {
	SampleRate   int    `mapstructure:"sample_rate"`
	FilterLength int    `mapstructure:"filter_length"`
	WindowLength int    `mapstructure:"window_length"`
	HopLength    int    `mapstructure:"hop_length"`
	IgnoreCache  bool   `mapstructure:"ignore_cache"`
	NoSpeech     string `mapstructure:"no_speech"`
}

type VADConfig struct {
	ModelPath        string  `mapstructure:"model_path"`
	ModelVersion     string  `mapstructure:"model_version"`
	Threshold        float64 `mapstructure:"threshold"`
	SamplesPerChunk  int     `mapstructure:"samples_per_chunk"`
	KeepChunksBefore int     `mapstructure:"keep_chunks_before"`
	KeepChunksAfter  int     `mapstructure:"keep_chunks_after"`
}

type PhonemesConfig struct {
	Type             string `mapstructure:"type"`
	Voice            string `mapstructure:"voice"`
	ESpeakPath       string `mapstructure:"espeak_path"`
	OpenJTalkCommand string `mapstructure:"openjtalk_command"`
}

type RuntimeConfig struct {
	Workers          int           `mapstructure:"workers"`
	UtteranceTimeout time.Duration `mapstructure:"utterance_timeout"`
	StallTimeout     time.Duration `mapstructure:"stall_timeout"`
	ORTLibraryPath   string        `mapstructure:"ort_library_path"`
	ORTVersion       string        `mapstructure:"ort_version"`
	ResumeDedupe     bool          `mapstructure:"resume_dedupe"`
}

// Accepted values for enumerated keys.
const (
	FormatLJSpeech = "ljspeech"
	FormatMycroft  = "mycroft"

	NoSpeechKeep = "keep"
	NoSpeechDrop = "drop"

	VADv4 = "v4"
	VADv5 = "v5"
)

type LoadOptions struct {
	Cmd        flagBinder
	ConfigFile string
	Defaults   Config
}

type flagBinder interface {
	Flags() *pflag.FlagSet
}

func DefaultConfig() Config {
	return Config{
		LogLevel: "info",
		Paths: PathsConfig{
			InputDir:  "",
			OutputDir: "",
			CacheDir:  "",
		},
		Dataset: DatasetConfig{
			Format:        FormatLJSpeech,
			SingleSpeaker: false,
			SpeakerID:     -1,
			TextCasing:    "ignore",
			SkipAudio:     false,
			Name:          "",
			AudioQuality:  "",
		},
		Audio: AudioConfig{
			SampleRate:   22050,
			FilterLength: 1024,
			WindowLength: 1024,
			HopLength:    256,
			IgnoreCache:  false,
			NoSpeech:     NoSpeechKeep,
		},
		VAD: VADConfig{
			ModelPath:        "models/silero_vad.onnx",
			ModelVersion:     VADv4,
			Threshold:        0.2,
			SamplesPerChunk:  480,
			KeepChunksBefore: 2,
			KeepChunksAfter:  2,
		},
		Phonemes: PhonemesConfig{
			Type:             "espeak",
			Voice:            "",
			ESpeakPath:       "",
			OpenJTalkCommand: "",
		},
		Runtime: RuntimeConfig{
			Workers:          0,
			UtteranceTimeout: 60 * time.Second,
			StallTimeout:     10 * time.Minute,
			ORTLibraryPath:   "",
			ORTVersion:       "",
			ResumeDedupe:     true,
		},
	}
}

func RegisterFlags(fs *pflag.FlagSet, defaults Config) {
	fs.String("log-level", defaults.LogLevel, "Log level (debug|info|warn|error)")
	fs.String("paths-input-dir", defaults.Paths.InputDir, "Directory with the source corpus")
	fs.String("paths-output-dir", defaults.Paths.OutputDir, "Directory for config.json and dataset.jsonl")
	fs.String("paths-cache-dir", defaults.Paths.CacheDir, "Directory for cached audio artifacts (default <output-dir>/cache)")
	fs.String("dataset-format", defaults.Dataset.Format, "Corpus layout (ljspeech|mycroft)")
	fs.Bool("dataset-single-speaker", defaults.Dataset.SingleSpeaker, "Force a single speaker dataset")
	fs.Int("dataset-speaker-id", defaults.Dataset.SpeakerID, "Fixed speaker id for every utterance (-1 to disable)")
	fs.String("dataset-text-casing", defaults.Dataset.TextCasing, "Transcript casing (ignore|lower|upper|casefold)")
	fs.Bool("dataset-skip-audio", defaults.Dataset.SkipAudio, "Only phonemize, do not process audio")
	fs.String("dataset-name", defaults.Dataset.Name, "Dataset name recorded in config.json")
	fs.String("dataset-audio-quality", defaults.Dataset.AudioQuality, "Audio quality label recorded in config.json")
	fs.Int("audio-sample-rate", defaults.Audio.SampleRate, "Target sample rate in Hz")
	fs.Int("audio-filter-length", defaults.Audio.FilterLength, "STFT filter length (n_fft)")
	fs.Int("audio-window-length", defaults.Audio.WindowLength, "STFT window length")
	fs.Int("audio-hop-length", defaults.Audio.HopLength, "STFT hop length")
	fs.Bool("audio-ignore-cache", defaults.Audio.IgnoreCache, "Rebuild cached artifacts even if present")
	fs.String("audio-no-speech", defaults.Audio.NoSpeech, "Policy when no speech is detected (keep|drop)")
	fs.String("vad-model-path", defaults.VAD.ModelPath, "Path to the Silero VAD ONNX model")
	fs.String("vad-model-version", defaults.VAD.ModelVersion, "Silero VAD model generation (v4|v5)")
	fs.Float64("vad-threshold", defaults.VAD.Threshold, "Speech probability threshold")
	fs.Int("vad-samples-per-chunk", defaults.VAD.SamplesPerChunk, "Samples per VAD chunk at 16 kHz")
	fs.Int("vad-keep-chunks-before", defaults.VAD.KeepChunksBefore, "Chunks kept before the first speech chunk")
	fs.Int("vad-keep-chunks-after", defaults.VAD.KeepChunksAfter, "Chunks kept after the last speech chunk")
	fs.String("phonemes-type", defaults.Phonemes.Type, "Phonemizer backend (espeak|text|openjtalk)")
	fs.String("phonemes-voice", defaults.Phonemes.Voice, "espeak-ng voice or alphabet language")
	fs.String("language", defaults.Phonemes.Voice, "Alias for --phonemes-voice")
	fs.String("phonemes-espeak-path", defaults.Phonemes.ESpeakPath, "Path to the espeak-ng executable")
	fs.String("phonemes-openjtalk-command", defaults.Phonemes.OpenJTalkCommand, "Command printing Open JTalk full-context labels")
	fs.Int("runtime-workers", defaults.Runtime.Workers, "Worker count (0 = number of CPUs)")
	fs.Duration("runtime-utterance-timeout", defaults.Runtime.UtteranceTimeout, "Deadline for a single utterance")
	fs.Duration("runtime-stall-timeout", defaults.Runtime.StallTimeout, "Abort when no result arrives within this window")
	fs.String("runtime-ort-library-path", defaults.Runtime.ORTLibraryPath, "Path to ONNX Runtime shared library")
	fs.String("ort-lib", defaults.Runtime.ORTLibraryPath, "Path to ONNX Runtime shared library (alias for --runtime-ort-library-path)")
	fs.String("runtime-ort-version", defaults.Runtime.ORTVersion, "Expected ONNX Runtime version")
	fs.Bool("runtime-resume-dedupe", defaults.Runtime.ResumeDedupe, "Skip utterances already present in dataset.jsonl")
}

func Load(opts LoadOptions) (Config, error) {
	v := viper.New()

	setDefaults(v, opts.Defaults)
	if opts.Cmd != nil {
		if err := bindFlags(v, opts.Cmd.Flags()); err != nil {
			return Config{}, err
		}
	}

	v.SetEnvPrefix("PIPERPREP")
	replacer := strings.NewReplacer("-", "_", ".", "_", "__", "_")
	v.SetEnvKeyReplacer(replacer)
	if err := v.BindEnv("runtime.ort_library_path", "PIPERPREP_ORT_LIB", "ORT_LIBRARY_PATH"); err != nil {
		return Config{}, fmt.Errorf("bind ort env vars: %w", err)
	}
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("piperprep")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	return cfg, nil
}

// Validate checks the combinations Load cannot express.
func (c Config) Validate() error {
	var errs []error

	if c.Dataset.SingleSpeaker && c.Dataset.SpeakerID >= 0 {
		errs = append(errs, errors.New("dataset.single_speaker and dataset.speaker_id are mutually exclusive"))
	}
	switch c.Dataset.Format {
	case FormatLJSpeech, FormatMycroft:
	default:
		errs = append(errs, fmt.Errorf("invalid dataset.format %q (expected %s|%s)", c.Dataset.Format, FormatLJSpeech, FormatMycroft))
	}
	switch c.Audio.NoSpeech {
	case NoSpeechKeep, NoSpeechDrop:
	default:
		errs = append(errs, fmt.Errorf("invalid audio.no_speech %q (expected %s|%s)", c.Audio.NoSpeech, NoSpeechKeep, NoSpeechDrop))
	}
	switch c.VAD.ModelVersion {
	case VADv4, VADv5:
	default:
		errs = append(errs, fmt.Errorf("invalid vad.model_version %q (expected %s|%s)", c.VAD.ModelVersion, VADv4, VADv5))
	}
	if c.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate must be positive, got %d", c.Audio.SampleRate))
	}
	if c.Audio.FilterLength <= 0 || c.Audio.HopLength <= 0 || c.Audio.WindowLength <= 0 || c.Audio.WindowLength > c.Audio.FilterLength {
		errs = append(errs, fmt.Errorf("invalid stft parameters filter=%d window=%d hop=%d",
			c.Audio.FilterLength, c.Audio.WindowLength, c.Audio.HopLength))
	}
	if c.VAD.SamplesPerChunk <= 0 {
		errs = append(errs, fmt.Errorf("vad.samples_per_chunk must be positive, got %d", c.VAD.SamplesPerChunk))
	}
	if c.VAD.KeepChunksBefore < 0 || c.VAD.KeepChunksAfter < 0 {
		errs = append(errs, errors.New("vad.keep_chunks_before/after must not be negative"))
	}
	if c.Runtime.Workers < 0 {
		errs = append(errs, fmt.Errorf("runtime.workers must not be negative, got %d", c.Runtime.Workers))
	}
	if c.Runtime.UtteranceTimeout <= 0 {
		errs = append(errs, fmt.Errorf("runtime.utterance_timeout must be positive, got %s", c.Runtime.UtteranceTimeout))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// ParseLogLevel maps a level name to a slog.Level.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q (want debug|info|warn|error)", s)
	}
}

func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("log_level", c.LogLevel)
	v.SetDefault("paths.input_dir", c.Paths.InputDir)
	v.SetDefault("paths.output_dir", c.Paths.OutputDir)
	v.SetDefault("paths.cache_dir", c.Paths.CacheDir)
	v.SetDefault("dataset.format", c.Dataset.Format)
	v.SetDefault("dataset.single_speaker", c.Dataset.SingleSpeaker)
	v.SetDefault("dataset.speaker_id", c.Dataset.SpeakerID)
	v.SetDefault("dataset.text_casing", c.Dataset.TextCasing)
	v.SetDefault("dataset.skip_audio", c.Dataset.SkipAudio)
	v.SetDefault("dataset.name", c.Dataset.Name)
	v.SetDefault("dataset.audio_quality", c.Dataset.AudioQuality)
	v.SetDefault("audio.sample_rate", c.Audio.SampleRate)
	v.SetDefault("audio.filter_length", c.Audio.FilterLength)
	v.SetDefault("audio.window_length", c.Audio.WindowLength)
	v.SetDefault("audio.hop_length", c.Audio.HopLength)
	v.SetDefault("audio.ignore_cache", c.Audio.IgnoreCache)
	v.SetDefault("audio.no_speech", c.Audio.NoSpeech)
	v.SetDefault("vad.model_path", c.VAD.ModelPath)
	v.SetDefault("vad.model_version", c.VAD.ModelVersion)
	v.SetDefault("vad.threshold", c.VAD.Threshold)
	v.SetDefault("vad.samples_per_chunk", c.VAD.SamplesPerChunk)
	v.SetDefault("vad.keep_chunks_before", c.VAD.KeepChunksBefore)
	v.SetDefault("vad.keep_chunks_after", c.VAD.KeepChunksAfter)
	v.SetDefault("phonemes.type", c.Phonemes.Type)
	v.SetDefault("phonemes.voice", c.Phonemes.Voice)
	v.SetDefault("phonemes.espeak_path", c.Phonemes.ESpeakPath)
	v.SetDefault("phonemes.openjtalk_command", c.Phonemes.OpenJTalkCommand)
	v.SetDefault("runtime.workers", c.Runtime.Workers)
	v.SetDefault("runtime.utterance_timeout", c.Runtime.UtteranceTimeout)
	v.SetDefault("runtime.stall_timeout", c.Runtime.StallTimeout)
	v.SetDefault("runtime.ort_library_path", c.Runtime.ORTLibraryPath)
	v.SetDefault("runtime.ort_version", c.Runtime.ORTVersion)
	v.SetDefault("runtime.resume_dedupe", c.Runtime.ResumeDedupe)
}

// flagKeys binds each config key to its flag. Alias flags only bind when
// set explicitly so they never shadow the primary flag.
var flagKeys = []struct {
	key   string
	flag  string
	alias bool
}{
	{key: "log_level", flag: "log-level"},
	{key: "paths.input_dir", flag: "paths-input-dir"},
	{key: "paths.output_dir", flag: "paths-output-dir"},
	{key: "paths.cache_dir", flag: "paths-cache-dir"},
	{key: "dataset.format", flag: "dataset-format"},
	{key: "dataset.single_speaker", flag: "dataset-single-speaker"},
	{key: "dataset.speaker_id", flag: "dataset-speaker-id"},
	{key: "dataset.text_casing", flag: "dataset-text-casing"},
	{key: "dataset.skip_audio", flag: "dataset-skip-audio"},
	{key: "dataset.name", flag: "dataset-name"},
	{key: "dataset.audio_quality", flag: "dataset-audio-quality"},
	{key: "audio.sample_rate", flag: "audio-sample-rate"},
	{key: "audio.filter_length", flag: "audio-filter-length"},
	{key: "audio.window_length", flag: "audio-window-length"},
	{key: "audio.hop_length", flag: "audio-hop-length"},
	{key: "audio.ignore_cache", flag: "audio-ignore-cache"},
	{key: "audio.no_speech", flag: "audio-no-speech"},
	{key: "vad.model_path", flag: "vad-model-path"},
	{key: "vad.model_version", flag: "vad-model-version"},
	{key: "vad.threshold", flag: "vad-threshold"},
	{key: "vad.samples_per_chunk", flag: "vad-samples-per-chunk"},
	{key: "vad.keep_chunks_before", flag: "vad-keep-chunks-before"},
	{key: "vad.keep_chunks_after", flag: "vad-keep-chunks-after"},
	{key: "phonemes.type", flag: "phonemes-type"},
	{key: "phonemes.voice", flag: "phonemes-voice"},
	{key: "phonemes.voice", flag: "language", alias: true},
	{key: "phonemes.espeak_path", flag: "phonemes-espeak-path"},
	{key: "phonemes.openjtalk_command", flag: "phonemes-openjtalk-command"},
	{key: "runtime.workers", flag: "runtime-workers"},
	{key: "runtime.utterance_timeout", flag: "runtime-utterance-timeout"},
	{key: "runtime.stall_timeout", flag: "runtime-stall-timeout"},
	{key: "runtime.ort_library_path", flag: "runtime-ort-library-path"},
	{key: "runtime.ort_library_path", flag: "ort-lib", alias: true},
	{key: "runtime.ort_version", flag: "runtime-ort-version"},
	{key: "runtime.resume_dedupe", flag: "runtime-resume-dedupe"},
}

func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for _, b := range flagKeys {
		f := fs.Lookup(b.flag)
		if f == nil || (b.alias && !f.Changed) {
			continue
		}
		if err := v.BindPFlag(b.key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", b.flag, err)
		}
	}
	return nil
}
