package phonemize

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Text casing modes applied to transcripts before phonemization.
const (
	CasingIgnore   = "ignore"
	CasingLower    = "lower"
	CasingUpper    = "upper"
	CasingCasefold = "casefold"
)

// CasingFunc transforms a transcript.
type CasingFunc func(string) string

// ParseCasing returns the transform for mode. An empty mode means ignore.
// The returned func builds a fresh caser per call and is safe for
// concurrent use.
func ParseCasing(mode string) (CasingFunc, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", CasingIgnore:
		return func(s string) string { return s }, nil
	case CasingLower:
		return func(s string) string { return cases.Lower(language.Und).String(s) }, nil
	case CasingUpper:
		return func(s string) string { return cases.Upper(language.Und).String(s) }, nil
	case CasingCasefold:
		return func(s string) string { return cases.Fold().String(s) }, nil
	default:
		return nil, fmt.Errorf("invalid text casing %q (expected %s|%s|%s|%s)",
			mode, CasingIgnore, CasingLower, CasingUpper, CasingCasefold)
	}
}
