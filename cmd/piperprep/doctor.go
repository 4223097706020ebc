package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/example/go-piper-preprocess/internal/config"
	"github.com/example/go-piper-preprocess/internal/doctor"
	"github.com/example/go-piper-preprocess/internal/onnx"
	"github.com/example/go-piper-preprocess/internal/phonemize"
	"github.com/spf13/cobra"
)

func newDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run local tool, runtime and corpus checks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			return runDoctor(cfg, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	return cmd
}

func runDoctor(cfg config.Config, stdout, stderr io.Writer) error {
	ptype, err := phonemize.NormalizeType(cfg.Phonemes.Type, cfg.Phonemes.Voice)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(stdout, "phoneme type: %s\n", ptype)

	exe := cfg.Phonemes.ESpeakPath
	if exe == "" {
		exe = "espeak-ng"
	}

	metadata, metaErr := collectMetadata(cfg)

	dcfg := doctor.Config{
		ESpeakVersion: func() (string, error) {
			return probeVersion(exe)
		},
		SkipESpeak: ptype != phonemize.TypeESpeak,
		ONNXRuntime: func() (string, string, error) {
			info, err := onnx.DetectRuntime(cfg.Runtime)
			return info.LibraryPath, info.Version + ", from " + info.Source, err
		},
		SkipAudio: cfg.Dataset.SkipAudio,
		VADModel:  cfg.VAD.ModelPath,
		Metadata:  metadata,
	}

	result := doctor.Run(dcfg, stdout)

	if metaErr != nil {
		result.AddFailure(fmt.Sprintf("metadata: %v", metaErr))
		_, _ = fmt.Fprintf(stdout, "%s metadata: %v\n", doctor.FailMark, metaErr)
	}

	if ptype == phonemize.TypeOpenJTalk {
		fields := strings.Fields(cfg.Phonemes.OpenJTalkCommand)
		if len(fields) == 0 {
			result.AddFailure("openjtalk: phonemes.openjtalk_command is not set")
			_, _ = fmt.Fprintf(stdout, "%s openjtalk: no label command configured\n", doctor.FailMark)
		} else if path, err := exec.LookPath(fields[0]); err != nil {
			result.AddFailure(fmt.Sprintf("openjtalk: %v", err))
			_, _ = fmt.Fprintf(stdout, "%s openjtalk: %s not found\n", doctor.FailMark, fields[0])
		} else {
			_, _ = fmt.Fprintf(stdout, "%s openjtalk: %s\n", doctor.PassMark, path)
		}
	}

	if result.Failed() {
		for _, f := range result.Failures() {
			_, _ = fmt.Fprintf(stderr, "FAIL: %s\n", f)
		}

		return errors.New("doctor checks failed")
	}

	_, _ = fmt.Fprintln(stdout, "doctor checks passed")

	return nil
}

// probeVersion runs `exe --version` and returns its output.
func probeVersion(exe string) (string, error) {
	out, err := exec.CommandContext(context.Background(), exe, "--version").Output()
	if err != nil {
		return "", fmt.Errorf("%s --version failed: %w", exe, err)
	}

	return strings.TrimSpace(string(out)), nil
}

// collectMetadata lists the metadata files the configured corpus layout
// reads. An unset input directory yields no files.
func collectMetadata(cfg config.Config) ([]string, error) {
	dir := cfg.Paths.InputDir
	if dir == "" {
		return nil, nil
	}

	switch cfg.Dataset.Format {
	case config.FormatMycroft:
		var found []string
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && strings.HasSuffix(d.Name(), "-metadata.txt") {
				found = append(found, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		if len(found) == 0 {
			return nil, fmt.Errorf("no *-metadata.txt under %s", dir)
		}
		return found, nil
	default:
		return []string{filepath.Join(dir, "metadata.csv")}, nil
	}
}

