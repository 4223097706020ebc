package dataset

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/example/go-piper-preprocess/internal/config"
)

var (
	// ErrNoMetadata is returned when the corpus has no metadata file.
	ErrNoMetadata = errors.New("no metadata found")
	// ErrMalformedRow is returned for metadata rows with too few columns.
	ErrMalformedRow = errors.New("malformed metadata row")
)

// Options are shared by all layouts.
type Options struct {
	InputDir string
	// SingleSpeaker ignores speaker labels in the metadata.
	SingleSpeaker bool
}

// Scanner enumerates utterances in a stable order. fn is called once per
// utterance; a non-nil error from fn stops the scan and is returned.
type Scanner interface {
	Scan(ctx context.Context, fn func(Utterance) error) error
}

// NewScanner returns the scanner for format.
func NewScanner(format string, opts Options) (Scanner, error) {
	switch format {
	case config.FormatLJSpeech:
		return &LJSpeech{opts: opts}, nil
	case config.FormatMycroft:
		return &Mycroft{opts: opts}, nil
	default:
		return nil, fmt.Errorf("unknown dataset format %q", format)
	}
}

// LJSpeech reads <input>/metadata.csv with rows filename|[speaker|]text.
type LJSpeech struct {
	opts Options
}

// Scan implements Scanner. Audio is looked up next to the metadata file,
// then in wav/ (or wavs/ when wav/ does not exist), each with and without a
// .wav suffix. Rows whose audio is not found are still yielded with the last
// candidate path so the failure is recorded per utterance.
func (l *LJSpeech) Scan(ctx context.Context, fn func(Utterance) error) error {
	metaPath := filepath.Join(l.opts.InputDir, "metadata.csv")
	if _, err := os.Stat(metaPath); err != nil {
		return fmt.Errorf("%w: %s", ErrNoMetadata, metaPath)
	}

	wavDir := filepath.Join(l.opts.InputDir, "wav")
	if fi, err := os.Stat(wavDir); err != nil || !fi.IsDir() {
		wavDir = filepath.Join(l.opts.InputDir, "wavs")
	}
	metaDir := filepath.Dir(metaPath)

	return readRows(ctx, metaPath, func(line int, row []string) error {
		if len(row) < 2 {
			return fmt.Errorf("%s:%d: %w: want at least 2 columns, got %d", metaPath, line, ErrMalformedRow, len(row))
		}

		u := Utterance{Text: row[len(row)-1], Line: line}
		filename := row[0]
		if !l.opts.SingleSpeaker && len(row) > 2 {
			u.Speaker = row[1]
		}
		u.AudioPath = resolveAudio(filename, metaDir, wavDir)
		return fn(u)
	})
}

func resolveAudio(filename string, dirs ...string) string {
	var candidate string
	for _, dir := range dirs {
		for _, name := range []string{filename, filename + ".wav"} {
			candidate = filepath.Join(dir, name)
			if _, err := os.Stat(candidate); err == nil {
				return candidate
			}
		}
	}
	return candidate
}

// Mycroft reads every **/*-metadata.txt with rows filename|text|... Audio is
// relative to the metadata file and the speaker is its directory name.
type Mycroft struct {
	opts Options
}

// Scan implements Scanner. Metadata files are visited in lexical path order.
func (m *Mycroft) Scan(ctx context.Context, fn func(Utterance) error) error {
	var metas []string
	err := filepath.WalkDir(m.opts.InputDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), "-metadata.txt") {
			metas = append(metas, path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan %s: %w", m.opts.InputDir, err)
	}
	if len(metas) == 0 {
		return fmt.Errorf("%w: no *-metadata.txt under %s", ErrNoMetadata, m.opts.InputDir)
	}

	for _, metaPath := range metas {
		dir := filepath.Dir(metaPath)
		speaker := ""
		if !m.opts.SingleSpeaker {
			speaker = filepath.Base(dir)
		}

		err := readRows(ctx, metaPath, func(line int, row []string) error {
			if len(row) < 2 {
				return fmt.Errorf("%s:%d: %w: want at least 2 columns, got %d", metaPath, line, ErrMalformedRow, len(row))
			}
			return fn(Utterance{
				Text:      row[1],
				AudioPath: filepath.Join(dir, row[0]),
				Speaker:   speaker,
				Line:      line,
			})
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func readRows(ctx context.Context, path string, fn func(line int, row []string) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comma = '|'
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		line, _ := r.FieldPos(0)
		if err := fn(line, row); err != nil {
			return err
		}
	}
}
