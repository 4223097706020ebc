package phonemize

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/example/go-piper-preprocess/internal/tokens"
)

// Prosody marks inserted between Japanese phonemes.
const (
	MarkPause    = "_"
	MarkQuestion = "?"
	MarkBoundary = "#"
	MarkRise     = "["
	MarkFall     = "]"
)

// japaneseSpecial lists the prosody symbols in id order; "_" first so it
// doubles as the pad symbol.
var japaneseSpecial = []string{Pad, BOS, EOS, MarkQuestion, MarkBoundary, MarkRise, MarkFall}

// japanesePhonemes is the Open JTalk inventory. It deliberately includes
// rare phonemes so corpora seldom report missing symbols.
var japanesePhonemes = []string{
	"a", "i", "u", "e", "o",
	"a:", "i:", "u:", "e:", "o:",
	"N", "cl", "q",
	"k", "ky", "kw",
	"g", "gy", "gw",
	"t", "ty",
	"d", "dy",
	"p", "py",
	"b", "by",
	"ch", "ts",
	"s", "sh",
	"z", "j", "zy",
	"f", "h", "hy",
	"v",
	"n", "ny",
	"m", "my",
	"r", "ry",
	"w", "y",
}

// JapaneseIDMap builds the Open JTalk id map, folding multi-character
// phonemes through reg.
func JapaneseIDMap(reg *tokens.Registry) (IDMap, error) {
	symbols := append(append([]string(nil), japaneseSpecial...), japanesePhonemes...)
	m := make(IDMap, len(symbols))
	for i, s := range symbols {
		ch, err := reg.Register(s)
		if err != nil {
			return nil, err
		}
		m[ch] = []int{i}
	}
	return m, nil
}

// LabelSource produces Open JTalk full-context labels for text.
type LabelSource interface {
	Labels(ctx context.Context, text string) ([]string, error)
}

// LabelCommand runs an external program that reads text on stdin and prints
// one full-context label per line.
type LabelCommand struct {
	exe  string
	args []string
}

// NewLabelCommand returns a LabelSource backed by exe.
func NewLabelCommand(exe string, args ...string) *LabelCommand {
	return &LabelCommand{exe: exe, args: args}
}

// Labels implements LabelSource.
func (c *LabelCommand) Labels(ctx context.Context, text string) ([]string, error) {
	out, err := runCommand(ctx, c.exe, c.args, text)
	if err != nil {
		return nil, fmt.Errorf("openjtalk labels: %w", err)
	}
	var labels []string
	for _, line := range strings.Split(string(out), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			labels = append(labels, line)
		}
	}
	return labels, nil
}

// OpenJTalk converts labels into phonemes with pitch-accent marks.
type OpenJTalk struct {
	labels LabelSource
	reg    *tokens.Registry
}

// NewOpenJTalk returns an OpenJTalk phonemizer folding tokens through reg.
func NewOpenJTalk(labels LabelSource, reg *tokens.Registry) *OpenJTalk {
	return &OpenJTalk{labels: labels, reg: reg}
}

var (
	rePhoneme = regexp.MustCompile(`-([^+]+)\+`)
	reA1      = regexp.MustCompile(`/A:([\d-]+)\+`)
	reA2      = regexp.MustCompile(`\+([0-9]+)\+`)
	reA3      = regexp.MustCompile(`\+([0-9]+)/`)
)

// Phonemize implements Phonemizer. Utterance-boundary silences are dropped
// because id framing adds bos/eos; an interrogative ending keeps "?".
func (o *OpenJTalk) Phonemize(ctx context.Context, text string) ([]string, error) {
	labels, err := o.labels.Labels(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("openjtalk: no labels for %q", text)
	}
	return o.reg.Encode(ProsodyTokens(labels, isQuestion(text)))
}

// ProsodyTokens applies the Kurihara rules to full-context labels:
//
//	] accent nucleus (a1 == 0 and a2_next == a2+1)
//	# accent phrase boundary (a2 == a3 and a2_next == 1)
//	[ rising pitch at phrase head (a2 == 1 and a2_next == 2)
//
// Devoiced vowels are folded into their voiced counterparts and "pau"
// becomes "_".
func ProsodyTokens(labels []string, question bool) []string {
	var out []string
	last := len(labels) - 1

	for i, label := range labels {
		m := rePhoneme.FindStringSubmatch(label)
		if m == nil {
			continue
		}
		ph := m[1]

		switch ph {
		case "sil":
			if i == last && i != 0 && question {
				out = append(out, MarkQuestion)
			}
			continue
		case "pau":
			out = append(out, MarkPause)
			continue
		case "A", "I", "U", "E", "O":
			ph = strings.ToLower(ph)
		}
		out = append(out, ph)

		a1, ok1 := labelInt(reA1, label)
		a2, ok2 := labelInt(reA2, label)
		a3, ok3 := labelInt(reA3, label)
		if !ok1 || !ok2 || !ok3 {
			continue
		}

		a2Next := -1
		if i < last {
			if v, ok := labelInt(reA2, labels[i+1]); ok {
				a2Next = v
			}
		}

		if a1 == 0 && a2Next == a2+1 {
			out = append(out, MarkFall)
		}
		if a2 == a3 && a2Next == 1 {
			out = append(out, MarkBoundary)
		}
		if a2 == 1 && a2Next == 2 {
			out = append(out, MarkRise)
		}
	}
	return out
}

func labelInt(re *regexp.Regexp, label string) (int, bool) {
	m := re.FindStringSubmatch(label)
	if m == nil {
		return 0, false
	}
	v, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return v, true
}

func isQuestion(text string) bool {
	t := strings.TrimSpace(text)
	return strings.HasSuffix(t, "?") || strings.HasSuffix(t, "？")
}
