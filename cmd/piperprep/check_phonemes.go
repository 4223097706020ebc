package main

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/example/go-piper-preprocess/internal/dataset"
	"github.com/example/go-piper-preprocess/internal/manifest"
	"github.com/spf13/cobra"
	"golang.org/x/text/unicode/runenames"
)

func newCheckPhonemesCmd() *cobra.Command {
	var manifestPath string

	cmd := &cobra.Command{
		Use:   "check-phonemes",
		Short: "Report phonemes of a dataset.jsonl on stdin that config.json cannot map",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := manifestPath
			if path == "" {
				cfg, err := requireConfig()
				if err != nil {
					return err
				}
				if cfg.Paths.OutputDir == "" {
					return fmt.Errorf("--manifest or paths.output_dir is required")
				}
				path = cfg.Paths.OutputDir
			}

			m, err := manifest.Read(path)
			if err != nil {
				return err
			}

			rows, err := checkPhonemes(cmd.InOrStdin(), m.PhonemeIDMap)
			if err != nil {
				return err
			}
			return writePhonemeReport(cmd.OutOrStdout(), rows)
		},
	}

	cmd.Flags().StringVar(&manifestPath, "manifest", "", "config.json or its directory (default <output-dir>)")

	return cmd
}

// phonemeRow is one unmapped phoneme symbol.
type phonemeRow struct {
	Symbol string
	Count  int
}

// checkPhonemes counts phonemes in JSONL records read from r that idMap has
// no entry for. Blank lines are skipped.
func checkPhonemes(r io.Reader, idMap map[string][]int) ([]phonemeRow, error) {
	counts := map[string]int{}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := strings.TrimSpace(sc.Text())
		if raw == "" {
			continue
		}
		var u dataset.Utterance
		if err := json.Unmarshal([]byte(raw), &u); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		for _, p := range u.Phonemes {
			if _, ok := idMap[p]; !ok {
				counts[p]++
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read dataset: %w", err)
	}

	rows := make([]phonemeRow, 0, len(counts))
	for sym, c := range counts {
		rows = append(rows, phonemeRow{Symbol: sym, Count: c})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count != rows[j].Count {
			return rows[i].Count > rows[j].Count
		}
		return rows[i].Symbol < rows[j].Symbol
	})
	return rows, nil
}

func writePhonemeReport(w io.Writer, rows []phonemeRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"phoneme", "unicode_category", "unicode_name", "escaped", "count"}); err != nil {
		return err
	}
	for _, r := range rows {
		rec := []string{r.Symbol, symbolCategory(r.Symbol), symbolName(r.Symbol), escapeSymbol(r.Symbol), strconv.Itoa(r.Count)}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// symbolCategory returns the two-letter general category of each rune,
// joined with spaces.
func symbolCategory(s string) string {
	var cats []string
	for _, r := range s {
		cats = append(cats, runeCategory(r))
	}
	return strings.Join(cats, " ")
}

func runeCategory(r rune) string {
	for name, table := range unicode.Categories {
		if len(name) == 2 && unicode.Is(table, r) {
			return name
		}
	}
	return "Cn"
}

func symbolName(s string) string {
	var names []string
	for _, r := range s {
		names = append(names, runenames.Name(r))
	}
	return strings.Join(names, " + ")
}

func escapeSymbol(s string) string {
	q := strconv.QuoteToASCII(s)
	return q[1 : len(q)-1]
}
