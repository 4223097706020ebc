package phonemize

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// ESpeak phonemizes text by running the espeak-ng executable.
type ESpeak struct {
	exe   string
	voice string

	// run is swapped in tests.
	run func(ctx context.Context, exe string, args []string, stdin string) ([]byte, error)
}

// NewESpeak returns an espeak-ng phonemizer. An empty exe means
// "espeak-ng" from PATH.
func NewESpeak(exe, voice string) *ESpeak {
	if exe == "" {
		exe = "espeak-ng"
	}
	return &ESpeak{exe: exe, voice: voice, run: runCommand}
}

// Phonemize returns the IPA of text decomposed (NFD) into codepoints.
// Text is split at clause breakers, which espeak-ng would otherwise drop;
// each clause is phonemized on its own and followed by its breaker, and
// clauses are joined with a space.
func (e *ESpeak) Phonemize(ctx context.Context, text string) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("espeak: empty text")
	}

	var pieces []string
	spoken := false
	for _, cl := range splitClauses(text) {
		phonemes := ""
		if t := strings.TrimSpace(cl.text); t != "" {
			ph, err := e.clause(ctx, t)
			if err != nil {
				return nil, err
			}
			phonemes = ph
		}
		if phonemes != "" {
			spoken = true
		}
		if piece := phonemes + cl.breaker; piece != "" {
			pieces = append(pieces, piece)
		}
	}
	if !spoken {
		return nil, fmt.Errorf("espeak %s: no phonemes produced", e.voice)
	}

	return splitCodepoints(norm.NFD.String(strings.Join(pieces, " "))), nil
}

// clause phonemizes one clause. Lines printed by espeak-ng are joined with
// a space.
func (e *ESpeak) clause(ctx context.Context, text string) (string, error) {
	args := []string{"-q", "--ipa", "-v", e.voice}
	out, err := e.run(ctx, e.exe, args, text)
	if err != nil {
		return "", fmt.Errorf("espeak %s: %w", e.voice, err)
	}

	var lines []string
	for _, line := range strings.Split(string(out), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, " "), nil
}

// clauseBreakers end a clause and are kept in the phoneme output.
const clauseBreakers = ".,;:!?"

type clause struct {
	text    string
	breaker string
}

// splitClauses cuts text after every run of clause breakers. A breaker
// between two digits, as in "3.5" or "1,000", belongs to the number.
func splitClauses(text string) []clause {
	rs := []rune(text)
	var out []clause
	var cur, brk []rune

	flush := func() {
		if len(cur) > 0 || len(brk) > 0 {
			out = append(out, clause{text: string(cur), breaker: string(brk)})
		}
		cur, brk = nil, nil
	}

	for i, r := range rs {
		isBreaker := strings.ContainsRune(clauseBreakers, r) &&
			!(i > 0 && i+1 < len(rs) && unicode.IsDigit(rs[i-1]) && unicode.IsDigit(rs[i+1]))
		switch {
		case isBreaker:
			brk = append(brk, r)
		case len(brk) > 0:
			flush()
			cur = append(cur, r)
		default:
			cur = append(cur, r)
		}
	}
	flush()
	return out
}

// Codepoints phonemizes by using the NFD codepoints of the text itself.
type Codepoints struct{}

// Phonemize implements Phonemizer.
func (Codepoints) Phonemize(_ context.Context, text string) ([]string, error) {
	if text == "" {
		return nil, fmt.Errorf("text: empty text")
	}
	return splitCodepoints(norm.NFD.String(text)), nil
}

func splitCodepoints(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}

func runCommand(ctx context.Context, exe string, args []string, stdin string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, exe, args...)
	cmd.Stdin = strings.NewReader(stdin)

	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}
	return out.Bytes(), nil
}
