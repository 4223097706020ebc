package main

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/example/go-piper-preprocess/internal/dataset"
)

func jsonl(t *testing.T, seqs ...[]string) string {
	t.Helper()

	var sb strings.Builder
	for _, s := range seqs {
		data, err := json.Marshal(dataset.Utterance{Text: "x", AudioPath: "a.wav", Phonemes: s})
		if err != nil {
			t.Fatal(err)
		}
		sb.Write(data)
		sb.WriteString("\n\n")
	}
	return sb.String()
}

func TestCheckPhonemes(t *testing.T) {
	esh := string(rune(0x283))
	idMap := map[string][]int{"a": {1}, "b": {2}}

	in := jsonl(t, []string{"a", esh, "c"}, []string{esh, "b"}, nil)
	rows, err := checkPhonemes(strings.NewReader(in), idMap)
	if err != nil {
		t.Fatalf("checkPhonemes: %v", err)
	}

	want := []phonemeRow{{Symbol: esh, Count: 2}, {Symbol: "c", Count: 1}}
	if len(rows) != len(want) {
		t.Fatalf("rows = %v, want %v", rows, want)
	}
	for i := range want {
		if rows[i] != want[i] {
			t.Errorf("rows[%d] = %v, want %v", i, rows[i], want[i])
		}
	}
}

func TestCheckPhonemesMalformedLine(t *testing.T) {
	_, err := checkPhonemes(strings.NewReader("{}\nnot json\n"), nil)
	if err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Fatalf("error = %v, want line 2", err)
	}
}

func TestWritePhonemeReport(t *testing.T) {
	esh := string(rune(0x283))

	var sb strings.Builder
	if err := writePhonemeReport(&sb, []phonemeRow{{Symbol: esh, Count: 3}, {Symbol: ",", Count: 1}}); err != nil {
		t.Fatalf("writePhonemeReport: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(sb.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("report lines = %d, want 3:\n%s", len(lines), sb.String())
	}
	if lines[0] != "phoneme,unicode_category,unicode_name,escaped,count" {
		t.Errorf("header = %q", lines[0])
	}
	wantEsh := esh + ",Ll,LATIN SMALL LETTER ESH," + "\\u0283,3"
	if lines[1] != wantEsh {
		t.Errorf("row = %q, want %q", lines[1], wantEsh)
	}
	if lines[2] != `",",Po,COMMA,",",1` {
		t.Errorf("row = %q", lines[2])
	}
}

func TestSymbolCategoryAndName(t *testing.T) {
	tests := []struct {
		sym      string
		category string
		name     string
	}{
		{"a", "Ll", "LATIN SMALL LETTER A"},
		{" ", "Zs", "SPACE"},
		{"t" + string(rune(0x283)), "Ll Ll", "LATIN SMALL LETTER T + LATIN SMALL LETTER ESH"},
		{string(rune(0x301)), "Mn", "COMBINING ACUTE ACCENT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := symbolCategory(tt.sym); got != tt.category {
				t.Errorf("symbolCategory(%q) = %q, want %q", tt.sym, got, tt.category)
			}
			if got := symbolName(tt.sym); got != tt.name {
				t.Errorf("symbolName(%q) = %q, want %q", tt.sym, got, tt.name)
			}
		})
	}
}
