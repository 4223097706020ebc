// Package testutil provides shared skip helpers and fixtures for tests.
//
// Each Require helper calls t.Skip with a clear human-readable reason when
// the named prerequisite is absent, so integration tests remain runnable in
// partial environments without failing noisily.
//
// Typical usage:
//
//	func TestSileroIntegration(t *testing.T) {
//	    lib := testutil.RequireONNXRuntime(t)
//	    model := testutil.RequireVADModel(t)
//	    ...
//	}
package testutil

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

// RequireESpeak skips the test if espeak-ng is not found in PATH or at the
// path given by PIPERPREP_PHONEMES_ESPEAK_PATH. It returns the executable.
func RequireESpeak(tb testing.TB) string {
	tb.Helper()

	exe := os.Getenv("PIPERPREP_PHONEMES_ESPEAK_PATH")
	if exe == "" {
		exe = "espeak-ng"
	}

	path, err := exec.LookPath(exe)
	if err != nil {
		tb.Skipf("espeak-ng not available (%q not in PATH); set PIPERPREP_PHONEMES_ESPEAK_PATH to override", exe)
		return ""
	}
	return path
}

// RequireONNXRuntime skips the test if no ONNX Runtime shared library can be
// located. It checks (in order): the ORT_LIBRARY_PATH env var, then the
// PIPERPREP_ORT_LIB env var, then common system library paths.
func RequireONNXRuntime(tb testing.TB) string {
	tb.Helper()

	for _, env := range []string{"ORT_LIBRARY_PATH", "PIPERPREP_ORT_LIB"} {
		if p := os.Getenv(env); p != "" {
			if _, err := os.Stat(p); err == nil {
				return p
			}

			tb.Skipf("ONNX Runtime library not found at %s=%q", env, p)
			return ""
		}
	}

	candidates := []string{
		"/usr/lib/libonnxruntime.so",
		"/usr/local/lib/libonnxruntime.so",
		"/usr/lib/x86_64-linux-gnu/libonnxruntime.so",
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	tb.Skip("ONNX Runtime shared library not found; set ORT_LIBRARY_PATH or PIPERPREP_ORT_LIB")
	return ""
}

// RequireVADModel skips the test unless a Silero VAD model is available at
// PIPERPREP_VAD_MODEL_PATH or models/silero_vad.onnx under the repo root.
func RequireVADModel(tb testing.TB) string {
	tb.Helper()

	if p := os.Getenv("PIPERPREP_VAD_MODEL_PATH"); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
		tb.Skipf("Silero VAD model not found at PIPERPREP_VAD_MODEL_PATH=%q", p)
		return ""
	}

	p := filepath.Join(RepoRoot(tb), "models", "silero_vad.onnx")
	if _, err := os.Stat(p); err != nil {
		tb.Skipf("Silero VAD model not available at %q; set PIPERPREP_VAD_MODEL_PATH", p)
		return ""
	}
	return p
}

// RepoRoot walks up from the working directory to the directory holding
// go.mod.
func RepoRoot(tb testing.TB) string {
	tb.Helper()

	dir, err := os.Getwd()
	if err != nil {
		tb.Fatalf("Getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			tb.Fatalf("go.mod not found above working directory")
			return ""
		}
		dir = parent
	}
}
