// Package manifest writes the trainer-facing config.json of a run.
package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"unicode/utf8"
)

// FileName is the manifest name inside the output directory.
const FileName = "config.json"

// PiperVersion is recorded for trainer compatibility checks.
const PiperVersion = "1.0.0"

// Default inference parameters.
const (
	DefaultNoiseScale  = 0.667
	DefaultLengthScale = 1.0
	DefaultNoiseW      = 0.8
)

type AudioSection struct {
	SampleRate int    `json:"sample_rate"`
	Quality    string `json:"quality"`
}

type ESpeakSection struct {
	Voice string `json:"voice"`
}

type LanguageSection struct {
	Code string `json:"code"`
}

type InferenceSection struct {
	NoiseScale  float64 `json:"noise_scale"`
	LengthScale float64 `json:"length_scale"`
	NoiseW      float64 `json:"noise_w"`
}

// Manifest is the run record. PhonemeIDMap is fixed before workers start;
// TokenMap is filled in after the last result.
type Manifest struct {
	Dataset   string           `json:"dataset"`
	Audio     AudioSection     `json:"audio"`
	ESpeak    ESpeakSection    `json:"espeak"`
	Language  LanguageSection  `json:"language"`
	Inference InferenceSection `json:"inference"`

	SampleRate   int                 `json:"sample_rate"`
	VoiceID      string              `json:"voice_id"`
	PhonemeType  string              `json:"phoneme_type"`
	PhonemeMap   map[string][]string `json:"phoneme_map"`
	PhonemeIDMap map[string][]int    `json:"phoneme_id_map"`
	NumSymbols   int                 `json:"num_symbols"`
	NumSpeakers  int                 `json:"num_speakers"`
	SpeakerIDMap map[string]int      `json:"speaker_id_map"`
	TokenMap     map[string]string   `json:"token_map"`
	PiperVersion string              `json:"piper_version"`
}

// Params describe a run.
type Params struct {
	OutputDir    string
	DatasetName  string
	AudioQuality string
	SampleRate   int
	Voice        string
	PhonemeType  string
	PhonemeIDMap map[string][]int
	NumSymbols   int
	NumSpeakers  int
	SpeakerIDMap map[string]int
	TokenMap     map[string]string
}

// New builds a manifest. An empty dataset name defaults to the name of the
// output directory's parent and an empty quality to the output directory's
// own name.
func New(p Params) *Manifest {
	out := filepath.Clean(p.OutputDir)
	if p.DatasetName == "" {
		p.DatasetName = filepath.Base(filepath.Dir(out))
	}
	if p.AudioQuality == "" {
		p.AudioQuality = filepath.Base(out)
	}

	m := &Manifest{
		Dataset:   p.DatasetName,
		Audio:     AudioSection{SampleRate: p.SampleRate, Quality: p.AudioQuality},
		ESpeak:    ESpeakSection{Voice: p.Voice},
		Language:  LanguageSection{Code: p.Voice},
		Inference: InferenceSection{NoiseScale: DefaultNoiseScale, LengthScale: DefaultLengthScale, NoiseW: DefaultNoiseW},

		SampleRate:   p.SampleRate,
		VoiceID:      p.Voice,
		PhonemeType:  p.PhonemeType,
		PhonemeMap:   map[string][]string{},
		PhonemeIDMap: p.PhonemeIDMap,
		NumSymbols:   p.NumSymbols,
		NumSpeakers:  p.NumSpeakers,
		SpeakerIDMap: p.SpeakerIDMap,
		TokenMap:     p.TokenMap,
		PiperVersion: PiperVersion,
	}
	if m.PhonemeIDMap == nil {
		m.PhonemeIDMap = map[string][]int{}
	}
	if m.SpeakerIDMap == nil {
		m.SpeakerIDMap = map[string]int{}
	}
	if m.TokenMap == nil {
		m.TokenMap = map[string]string{}
	}
	return m
}

// Marshal renders m as indented JSON with every non-ASCII character
// escaped, so private-use symbols survive any editor or pipe.
func (m *Manifest) Marshal() ([]byte, error) {
	raw, err := json.MarshalIndent(m, "", "    ")
	if err != nil {
		return nil, err
	}
	return append(escapeNonASCII(raw), '\n'), nil
}

// Write stores m in dir/config.json atomically.
func Write(dir string, m *Manifest) error {
	data, err := m.Marshal()
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return writeAtomic(filepath.Join(dir, FileName), data)
}

// Read loads a manifest file. path may be the file or its directory.
func Read(path string) (*Manifest, error) {
	if fi, err := os.Stat(path); err == nil && fi.IsDir() {
		path = filepath.Join(path, FileName)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if len(m.PhonemeIDMap) == 0 {
		return nil, fmt.Errorf("%s: %w", path, errors.New("empty phoneme_id_map"))
	}
	return &m, nil
}

// FinalizeTokenMap rewrites dir/config.json with tokens merged into its
// token_map.
func FinalizeTokenMap(dir string, tokens map[string]string) error {
	m, err := Read(dir)
	if err != nil {
		return err
	}
	if m.TokenMap == nil {
		m.TokenMap = map[string]string{}
	}
	for sym, tok := range tokens {
		m.TokenMap[sym] = tok
	}
	return Write(dir, m)
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func escapeNonASCII(b []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(len(b))
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		b = b[size:]
		switch {
		case r < utf8.RuneSelf:
			buf.WriteByte(byte(r))
		case r > 0xFFFF:
			r -= 0x10000
			fmt.Fprintf(&buf, `\u%04x\u%04x`, 0xD800+(r>>10), 0xDC00+(r&0x3FF))
		default:
			fmt.Fprintf(&buf, `\u%04x`, r)
		}
	}
	return buf.Bytes()
}
