package cache

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/example/go-piper-preprocess/internal/safetensors"
)

// List returns every artifact under dir, across all sample rates.
func List(dir string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if ext := filepath.Ext(path); ext == NormExt || ext == SpecExt {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Verify decodes the artifact at path and checks its tensor shape.
func Verify(path string) error {
	name := AudioTensor
	if strings.HasSuffix(path, SpecExt) {
		name = SpecTensor
	}

	t, err := safetensors.ReadTensor(path, name)
	if err != nil {
		return err
	}
	if len(t.Shape) != 2 || t.Shape[0] <= 0 || t.Shape[1] <= 0 {
		return fmt.Errorf("%s: unexpected %s shape %v", path, name, t.Shape)
	}
	if name == AudioTensor && t.Shape[0] != 1 {
		return fmt.Errorf("%s: audio tensor must have one channel, got %v", path, t.Shape)
	}
	return nil
}
