// Package tokens folds multi-character phoneme tokens into single Unicode
// private-use-area code points so that every phoneme symbol handed to the
// id map is exactly one rune long.
//
// The fixed table is versioned and shared with the inference runtime; only
// tokens listed there are portable between processes. Tokens outside the
// table get a code point from the dynamic range, first come first served,
// and that assignment is only meaningful to the Registry that made it.
package tokens

import (
	"errors"
	"fmt"
	"sort"
	"unicode/utf8"
)

// DynamicStart is the first code point handed out to tokens that are not in
// the fixed table.
const DynamicStart rune = 0xE020

// dynamicEnd is the last code point of the Basic Multilingual Plane PUA.
const dynamicEnd rune = 0xF8FF

// ErrConflict is returned when a symbol is already bound to another token.
var ErrConflict = errors.New("tokens: symbol conflict")

// FixedTable is the stable token → code point assignment. It must match the
// inference runtime's table exactly; append only, never renumber.
var FixedTable = map[string]rune{
	// long vowels
	"a:": 0xE000,
	"i:": 0xE001,
	"u:": 0xE002,
	"e:": 0xE003,
	"o:": 0xE004,
	// geminate closure
	"cl": 0xE005,
	// palatalized / labialized consonants
	"ky": 0xE006,
	"kw": 0xE007,
	"gy": 0xE008,
	"gw": 0xE009,
	"ty": 0xE00A,
	"dy": 0xE00B,
	"py": 0xE00C,
	"by": 0xE00D,
	// affricates and fricatives
	"ch": 0xE00E,
	"ts": 0xE00F,
	"sh": 0xE010,
	"zy": 0xE011,
	"hy": 0xE012,
	// palatalized nasals / liquids
	"ny": 0xE013,
	"my": 0xE014,
	"ry": 0xE015,
}

// Registry is a bijection between tokens and single-rune symbols.
//
// A Registry is not safe for concurrent mutation; each worker owns one.
type Registry struct {
	toChar  map[string]string
	toToken map[string]string
	fixed   map[string]bool
	next    rune
}

// NewRegistry returns a Registry seeded from fixed. A nil map seeds nothing.
func NewRegistry(fixed map[string]rune) *Registry {
	r := &Registry{
		toChar:  make(map[string]string, len(fixed)),
		toToken: make(map[string]string, len(fixed)),
		fixed:   make(map[string]bool, len(fixed)),
		next:    DynamicStart,
	}
	for token, cp := range fixed {
		ch := string(cp)
		r.toChar[token] = ch
		r.toToken[ch] = token
		r.fixed[token] = true
	}
	return r
}

// Register returns the single-rune symbol for token, allocating one from the
// dynamic range if needed. Calling it again with the same token returns the
// same symbol.
func (r *Registry) Register(token string) (string, error) {
	if ch, ok := r.toChar[token]; ok {
		return ch, nil
	}
	if utf8.RuneCountInString(token) == 1 {
		if other, taken := r.toToken[token]; taken && other != token {
			return "", fmt.Errorf("%w: %q already stands for %q", ErrConflict, token, other)
		}
		r.toChar[token] = token
		r.toToken[token] = token
		return token, nil
	}
	if token == "" {
		return "", fmt.Errorf("tokens: cannot register empty token")
	}

	for r.next <= dynamicEnd {
		ch := string(r.next)
		r.next++
		if _, taken := r.toToken[ch]; taken {
			continue
		}
		r.toChar[token] = ch
		r.toToken[ch] = token
		return ch, nil
	}
	return "", fmt.Errorf("tokens: private use area exhausted registering %q", token)
}

// Seed installs assignments made by an earlier run, given as symbol → token,
// so that symbols already written keep their meaning. Entries matching the
// current state are accepted as is.
func (r *Registry) Seed(mapping map[string]string) error {
	syms := make([]string, 0, len(mapping))
	for ch := range mapping {
		syms = append(syms, ch)
	}
	sort.Strings(syms)

	for _, ch := range syms {
		token := mapping[ch]
		if utf8.RuneCountInString(ch) != 1 || token == "" {
			return fmt.Errorf("tokens: invalid seed %q -> %q", ch, token)
		}
		if cur, ok := r.toChar[token]; ok {
			if cur != ch {
				return fmt.Errorf("%w: %q is %q here, seeded as %q", ErrConflict, token, cur, ch)
			}
			continue
		}
		if other, taken := r.toToken[ch]; taken {
			return fmt.Errorf("%w: %q already stands for %q, seeded as %q", ErrConflict, ch, other, token)
		}
		r.toChar[token] = ch
		r.toToken[ch] = token
	}
	return nil
}

// Encode registers every token in seq and returns their symbols.
func (r *Registry) Encode(seq []string) ([]string, error) {
	out := make([]string, len(seq))
	for i, token := range seq {
		ch, err := r.Register(token)
		if err != nil {
			return nil, err
		}
		out[i] = ch
	}
	return out, nil
}

// Decode maps symbols back to their tokens. Unknown symbols pass through.
func (r *Registry) Decode(seq []string) []string {
	out := make([]string, len(seq))
	for i, ch := range seq {
		if token, ok := r.toToken[ch]; ok {
			out[i] = token
			continue
		}
		out[i] = ch
	}
	return out
}

// Token returns the token registered for symbol ch.
func (r *Registry) Token(ch string) (string, bool) {
	token, ok := r.toToken[ch]
	return token, ok
}

// Symbol returns the symbol registered for token without allocating.
func (r *Registry) Symbol(token string) (string, bool) {
	ch, ok := r.toChar[token]
	return ch, ok
}

// IsDynamic reports whether symbol ch was allocated at runtime.
func (r *Registry) IsDynamic(ch string) bool {
	token, ok := r.toToken[ch]
	if !ok || r.fixed[token] {
		return false
	}
	return token != ch
}

// Dynamic returns a copy of the runtime allocations as symbol → token.
func (r *Registry) Dynamic() map[string]string {
	out := make(map[string]string)
	for ch, token := range r.toToken {
		if token == ch || r.fixed[token] {
			continue
		}
		out[ch] = token
	}
	return out
}

// Mapping returns every multi-character assignment (fixed and dynamic) as
// symbol → token, suitable for persisting next to a phoneme id map.
func (r *Registry) Mapping() map[string]string {
	out := make(map[string]string, len(r.toToken))
	for ch, token := range r.toToken {
		if token == ch {
			continue
		}
		out[ch] = token
	}
	return out
}

// Adopt re-keys seq from another registry's dynamic assignments (given as
// symbol → token) into r. Symbols that foreign did not allocate are kept.
func (r *Registry) Adopt(seq []string, foreign map[string]string) ([]string, error) {
	if len(foreign) == 0 {
		return seq, nil
	}
	out := make([]string, len(seq))
	for i, ch := range seq {
		token, ok := foreign[ch]
		if !ok {
			out[i] = ch
			continue
		}
		mapped, err := r.Register(token)
		if err != nil {
			return nil, err
		}
		out[i] = mapped
	}
	return out, nil
}

// Tokens returns the registered multi-character tokens in sorted order.
func (r *Registry) Tokens() []string {
	out := make([]string, 0, len(r.toChar))
	for token, ch := range r.toChar {
		if token != ch {
			out = append(out, token)
		}
	}
	sort.Strings(out)
	return out
}
