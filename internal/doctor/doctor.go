// Package doctor provides environment preflight checks for piperprep.
package doctor

import (
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// PassMark and FailMark are the prefix symbols printed for each check result.
const (
	PassMark = "✓"
	FailMark = "✗"
)

// VersionFunc returns a version string or an error if the component is unavailable.
type VersionFunc func() (string, error)

// Config holds injectable dependencies for each doctor check.
type Config struct {
	// ESpeakVersion returns the output of `espeak-ng --version`.
	ESpeakVersion VersionFunc
	// SkipESpeak skips the espeak-ng check (text and openjtalk phonemes).
	SkipESpeak bool
	// ONNXRuntime returns the ONNX Runtime library path and version.
	ONNXRuntime func() (path, version string, err error)
	// SkipAudio skips the runtime and VAD model checks.
	SkipAudio bool
	// VADModel is the Silero model path to verify on disk.
	VADModel string
	// Metadata lists corpus metadata files to verify on disk.
	Metadata []string
}

// Result collects the outcome of all checks.
type Result struct {
	failures []string
}

// Failed returns true if any check failed.
func (r *Result) Failed() bool { return len(r.failures) > 0 }

// Failures returns the list of failure messages.
func (r *Result) Failures() []string { return append([]string(nil), r.failures...) }

// AddFailure appends an external failure message to the result.
func (r *Result) AddFailure(msg string) { r.failures = append(r.failures, msg) }

func (r *Result) fail(msg string) { r.failures = append(r.failures, msg) }

// Run executes all configured checks and writes human-readable output to w.
// Each check line is prefixed with PassMark or FailMark.
func Run(cfg Config, w io.Writer) Result {
	var res Result

	// ---- espeak-ng binary -------------------------------------------------
	if cfg.SkipESpeak {
		fmt.Fprintf(w, "%s espeak-ng: skipped\n", PassMark)
	} else {
		out, err := cfg.ESpeakVersion()
		if err != nil {
			res.fail(fmt.Sprintf("espeak-ng: %v", err))
			fmt.Fprintf(w, "%s espeak-ng: not found (%v)\n", FailMark, err)
		} else if ver, verErr := checkESpeakVersion(out); verErr != nil {
			res.fail(fmt.Sprintf("espeak-ng: %v", verErr))
			fmt.Fprintf(w, "%s espeak-ng %s: %v\n", FailMark, ver, verErr)
		} else {
			fmt.Fprintf(w, "%s espeak-ng: %s\n", PassMark, ver)
		}
	}

	// ---- ONNX Runtime + VAD model -----------------------------------------
	if cfg.SkipAudio {
		fmt.Fprintf(w, "%s onnx runtime: skipped\n", PassMark)
		fmt.Fprintf(w, "%s vad model: skipped\n", PassMark)
	} else {
		path, ver, err := cfg.ONNXRuntime()
		if err != nil {
			res.fail(fmt.Sprintf("onnx runtime: %v", err))
			fmt.Fprintf(w, "%s onnx runtime: not found (%v)\n", FailMark, err)
		} else {
			fmt.Fprintf(w, "%s onnx runtime: %s (%s)\n", PassMark, path, ver)
		}

		if fi, err := os.Stat(cfg.VADModel); err != nil {
			res.fail(fmt.Sprintf("vad model %q: %v", cfg.VADModel, err))
			fmt.Fprintf(w, "%s vad model %s: not found\n", FailMark, cfg.VADModel)
		} else if fi.Size() == 0 {
			res.fail(fmt.Sprintf("vad model %q: empty file", cfg.VADModel))
			fmt.Fprintf(w, "%s vad model %s: empty\n", FailMark, cfg.VADModel)
		} else {
			fmt.Fprintf(w, "%s vad model: %s\n", PassMark, cfg.VADModel)
		}
	}

	// ---- corpus metadata --------------------------------------------------
	for _, path := range cfg.Metadata {
		if _, err := os.Stat(path); err != nil {
			res.fail(fmt.Sprintf("metadata %q: %v", path, err))
			fmt.Fprintf(w, "%s metadata %s: not found\n", FailMark, path)
		} else {
			fmt.Fprintf(w, "%s metadata: %s\n", PassMark, path)
		}
	}

	return res
}

var reVersion = regexp.MustCompile(`\d+\.\d+(\.\d+)?`)

// checkESpeakVersion extracts the version from `espeak-ng --version` output
// and returns an error if it is older than 1.50.
func checkESpeakVersion(out string) (string, error) {
	ver := reVersion.FindString(out)
	if ver == "" {
		return strings.TrimSpace(out), fmt.Errorf("cannot find a version in %q", strings.TrimSpace(out))
	}
	major, minor, err := parseMajorMinor(ver)
	if err != nil {
		return ver, fmt.Errorf("cannot parse %q: %w", ver, err)
	}
	if major < 1 || (major == 1 && minor < 50) {
		return ver, fmt.Errorf("requires espeak-ng >=1.50, got %s", ver)
	}
	return ver, nil
}

func parseMajorMinor(ver string) (major, minor int, err error) {
	parts := strings.SplitN(ver, ".", 3)
	if len(parts) < 2 {
		return 0, 0, fmt.Errorf("unexpected version format %q", ver)
	}
	major, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("bad major in %q: %w", ver, err)
	}
	minor, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("bad minor in %q: %w", ver, err)
	}
	return major, minor, nil
}
