package onnx

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/example/go-piper-preprocess/internal/config"
)

// ErrRuntimeNotFound is returned when no ONNX Runtime library can be located.
var ErrRuntimeNotFound = errors.New("unable to detect ONNX Runtime library path")

// RuntimeInfo describes the ONNX Runtime library a run will load.
type RuntimeInfo struct {
	LibraryPath string
	Version     string
	// Source names where LibraryPath came from: "config", an environment
	// variable name, or "probe".
	Source string
}

// Config returns the RunnerConfig that loads this library.
func (i RuntimeInfo) Config() RunnerConfig {
	return RunnerConfig{LibraryPath: i.LibraryPath}
}

var versionPattern = regexp.MustCompile(`([0-9]+\.[0-9]+\.[0-9]+)`)

// libraryEnv lists the environment variables consulted after the config, in
// order.
var libraryEnv = []string{"PIPERPREP_ORT_LIB", "ORT_LIBRARY_PATH"}

// libraryCandidates are probed when neither config nor environment name a
// library.
var libraryCandidates = []string{
	"/usr/lib/libonnxruntime.so",
	"/usr/local/lib/libonnxruntime.so",
	"/usr/lib/x86_64-linux-gnu/libonnxruntime.so",
	"/opt/homebrew/lib/libonnxruntime.dylib",
	"C:/onnxruntime/lib/onnxruntime.dll",
}

// DetectRuntime resolves the library path from cfg, the environment or the
// well-known install locations, and its version from cfg, ORT_VERSION or
// the file name.
func DetectRuntime(cfg config.RuntimeConfig) (RuntimeInfo, error) {
	info := RuntimeInfo{LibraryPath: "not found", Version: "unknown"}

	path, source := resolveLibrary(cfg.ORTLibraryPath)
	if path == "" {
		return info, ErrRuntimeNotFound
	}
	info.LibraryPath, info.Source = path, source

	if _, err := os.Stat(path); err != nil {
		return info, fmt.Errorf("onnx runtime library from %s: %w", source, err)
	}

	for _, v := range []string{cfg.ORTVersion, os.Getenv("ORT_VERSION"), inferVersionFromPath(path)} {
		if v != "" {
			info.Version = v
			break
		}
	}
	return info, nil
}

func resolveLibrary(configured string) (path, source string) {
	if configured != "" {
		return configured, "config"
	}
	for _, name := range libraryEnv {
		if v := os.Getenv(name); v != "" {
			return v, name
		}
	}
	for _, c := range libraryCandidates {
		if _, err := os.Stat(c); err == nil {
			return c, "probe"
		}
	}
	return "", ""
}

func inferVersionFromPath(path string) string {
	if m := versionPattern.FindStringSubmatch(filepath.Base(path)); len(m) == 2 {
		return m[1]
	}
	return ""
}
