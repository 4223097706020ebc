// Package phonemize turns transcripts into phoneme symbol sequences and
// phoneme id sequences.
//
// A Backend describes the vocabulary of one phonemizer type (its id map,
// symbol count and padding policy) and is shared read-only. Phonemizer
// instances are built per worker because some hold a tokens.Registry.
package phonemize

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/example/go-piper-preprocess/internal/tokens"
)

// Type names a phonemizer backend.
type Type string

const (
	// TypeESpeak phonemizes with espeak-ng.
	TypeESpeak Type = "espeak"
	// TypeText uses the codepoints of the transcript itself.
	TypeText Type = "text"
	// TypeOpenJTalk derives Japanese phonemes and prosody marks from
	// Open JTalk full-context labels.
	TypeOpenJTalk Type = "openjtalk"
)

// ErrUnknownAlphabet is returned when no codepoint map exists for a voice.
var ErrUnknownAlphabet = errors.New("no codepoint alphabet for voice")

// Phonemizer converts text into single-codepoint phoneme symbols.
type Phonemizer interface {
	Phonemize(ctx context.Context, text string) ([]string, error)
}

// Func adapts a plain function to the Phonemizer interface.
type Func func(ctx context.Context, text string) ([]string, error)

// Phonemize calls f.
func (f Func) Phonemize(ctx context.Context, text string) ([]string, error) {
	return f(ctx, text)
}

// NormalizeType validates raw. Japanese voices always use Open JTalk.
func NormalizeType(raw, voice string) (Type, error) {
	if strings.EqualFold(strings.TrimSpace(voice), "ja") {
		return TypeOpenJTalk, nil
	}
	t := Type(strings.ToLower(strings.TrimSpace(raw)))
	if t == "" {
		t = TypeESpeak
	}
	switch t {
	case TypeESpeak, TypeText, TypeOpenJTalk:
		return t, nil
	default:
		return "", fmt.Errorf("invalid phoneme type %q (expected %s|%s|%s)", raw, TypeESpeak, TypeText, TypeOpenJTalk)
	}
}

// BackendConfig selects and configures a backend.
type BackendConfig struct {
	Type             Type
	Voice            string
	ESpeakPath       string
	OpenJTalkCommand string
}

// Backend is the immutable vocabulary description of one phonemizer type.
type Backend struct {
	Type       Type
	Voice      string
	IDMap      IDMap
	NumSymbols int
	IDOptions  IDOptions

	// TokenMap records symbol → token for every multi-character token the
	// id map was built with. Empty for backends that never fold tokens.
	TokenMap map[string]string

	espeakPath string
	ojCommand  []string
}

// NewBackend resolves the id map and padding policy for cfg.
func NewBackend(cfg BackendConfig) (*Backend, error) {
	b := &Backend{
		Type:       cfg.Type,
		Voice:      cfg.Voice,
		espeakPath: cfg.ESpeakPath,
		ojCommand:  strings.Fields(cfg.OpenJTalkCommand),
	}

	switch cfg.Type {
	case TypeESpeak:
		b.IDMap = ESpeakIDMap()
		b.NumSymbols = MaxESpeakSymbols
		b.IDOptions = IDOptions{InterspersePad: true}
	case TypeText:
		m, ok := AlphabetIDMap(cfg.Voice)
		if !ok {
			return nil, fmt.Errorf("%w %q", ErrUnknownAlphabet, cfg.Voice)
		}
		b.IDMap = m
		b.NumSymbols = MaxESpeakSymbols
		b.IDOptions = IDOptions{InterspersePad: true}
	case TypeOpenJTalk:
		reg := tokens.NewRegistry(tokens.FixedTable)
		m, err := JapaneseIDMap(reg)
		if err != nil {
			return nil, err
		}
		b.IDMap = m
		b.NumSymbols = len(m)
		b.IDOptions = IDOptions{InterspersePad: false}
		b.TokenMap = reg.Mapping()
	default:
		return nil, fmt.Errorf("unsupported phoneme type %q", cfg.Type)
	}

	if !b.IDMap.Has(Pad, BOS, EOS) {
		return nil, fmt.Errorf("phoneme id map for %s is missing pad/bos/eos", cfg.Type)
	}
	return b, nil
}

// NewPhonemizer builds a phonemizer bound to reg. reg is only used by
// backends that fold multi-character tokens and may be nil otherwise.
func (b *Backend) NewPhonemizer(reg *tokens.Registry) (Phonemizer, error) {
	switch b.Type {
	case TypeESpeak:
		return NewESpeak(b.espeakPath, b.Voice), nil
	case TypeText:
		return Codepoints{}, nil
	case TypeOpenJTalk:
		if reg == nil {
			return nil, errors.New("openjtalk phonemizer requires a token registry")
		}
		if len(b.ojCommand) == 0 {
			return nil, errors.New("openjtalk phonemizer requires a label command")
		}
		return NewOpenJTalk(NewLabelCommand(b.ojCommand[0], b.ojCommand[1:]...), reg), nil
	default:
		return nil, fmt.Errorf("unsupported phoneme type %q", b.Type)
	}
}

// IDs frames phonemes with this backend's map and padding policy.
func (b *Backend) IDs(phonemes []string, missing Missing) []int {
	return IDs(phonemes, b.IDMap, b.IDOptions, missing)
}
