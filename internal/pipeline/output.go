package pipeline

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/example/go-piper-preprocess/internal/dataset"
)

// DatasetFile is the output dataset name inside the output directory.
const DatasetFile = "dataset.jsonl"

// Output appends dataset lines. Earlier lines are never rewritten.
type Output struct {
	f    *os.File
	w    *bufio.Writer
	seen map[string]struct{}
}

// OpenOutput opens path for appending. With dedupe set, keys of the lines
// already present are loaded so a resumed run does not repeat them. A
// trailing line cut short by an interrupted run is terminated first.
func OpenOutput(path string, dedupe bool) (*Output, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}

	o := &Output{f: f, w: bufio.NewWriter(f)}
	if dedupe {
		if o.seen, err = readKeys(f); err != nil {
			f.Close()
			return nil, err
		}
	}
	if err := terminateLastLine(f); err != nil {
		f.Close()
		return nil, err
	}
	return o, nil
}

// Seen returns the number of keys loaded from an earlier run.
func (o *Output) Seen() int {
	return len(o.seen)
}

// Append writes u unless its key was already written. It reports whether a
// line was added.
func (o *Output) Append(u dataset.Utterance) (bool, error) {
	key := u.Key()
	if o.seen != nil {
		if _, dup := o.seen[key]; dup {
			return false, nil
		}
	}

	line, err := json.Marshal(u)
	if err != nil {
		return false, fmt.Errorf("encode %s: %w", u.AudioPath, err)
	}
	if _, err := o.w.Write(append(line, '\n')); err != nil {
		return false, err
	}
	if o.seen != nil {
		o.seen[key] = struct{}{}
	}
	return true, nil
}

// Flush pushes buffered lines to the file.
func (o *Output) Flush() error {
	return o.w.Flush()
}

// Close flushes and closes the file.
func (o *Output) Close() error {
	return errors.Join(o.w.Flush(), o.f.Close())
}

func readKeys(f *os.File) (map[string]struct{}, error) {
	seen := make(map[string]struct{})
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	for sc.Scan() {
		var u dataset.Utterance
		if err := json.Unmarshal(sc.Bytes(), &u); err != nil {
			continue
		}
		seen[u.Key()] = struct{}{}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read dataset: %w", err)
	}
	return seen, nil
}

func terminateLastLine(f *os.File) error {
	fi, err := f.Stat()
	if err != nil {
		return err
	}
	if fi.Size() == 0 {
		return nil
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, fi.Size()-1); err != nil {
		return err
	}
	if last[0] == '\n' {
		return nil
	}
	_, err = f.Write([]byte{'\n'})
	return err
}
