// Package safetensors reads and writes the F32 subset of the safetensors
// format used for cached audio artifacts.
//
// Layout: 8-byte little-endian header length, JSON header, raw tensor data.
package safetensors

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
)

const (
	dtypeF32    = "F32"
	metadataKey = "__metadata__"
)

// ErrCorrupt is returned for payloads that do not decode.
var ErrCorrupt = errors.New("safetensors: corrupt payload")

// Tensor is a named float32 tensor.
type Tensor struct {
	Name  string
	Shape []int64
	Data  []float32
}

// File is a decoded safetensors payload.
type File struct {
	Metadata map[string]string
	tensors  map[string]*Tensor
	names    []string
}

type headerEntry struct {
	DType   string  `json:"dtype"`
	Shape   []int64 `json:"shape"`
	Offsets [2]int  `json:"data_offsets"`
}

// ReadFile reads and decodes path.
func ReadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("safetensors: read %s: %w", path, err)
	}
	f, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// ReadTensor reads path and returns the tensor called name.
func ReadTensor(path, name string) (*Tensor, error) {
	f, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	return f.Tensor(name)
}

// Decode parses a safetensors payload. Every tensor must be F32 and fit
// inside the data section.
func Decode(data []byte) (*File, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("%w: %d bytes", ErrCorrupt, len(data))
	}

	headerLen := binary.LittleEndian.Uint64(data[:8])
	if headerLen > uint64(len(data)-8) {
		return nil, fmt.Errorf("%w: header length %d exceeds size %d", ErrCorrupt, headerLen, len(data))
	}
	headerEnd := 8 + int(headerLen)

	var header map[string]json.RawMessage
	if err := json.Unmarshal(data[8:headerEnd], &header); err != nil {
		return nil, fmt.Errorf("%w: parse header: %v", ErrCorrupt, err)
	}

	f := &File{tensors: make(map[string]*Tensor, len(header))}
	body := data[headerEnd:]

	for name, raw := range header {
		if name == metadataKey {
			if err := json.Unmarshal(raw, &f.Metadata); err != nil {
				return nil, fmt.Errorf("%w: metadata: %v", ErrCorrupt, err)
			}
			continue
		}

		var e headerEntry
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("%w: entry %q: %v", ErrCorrupt, name, err)
		}
		t, err := decodeTensor(name, e, body)
		if err != nil {
			return nil, err
		}
		f.tensors[name] = t
		f.names = append(f.names, name)
	}

	if len(f.names) == 0 {
		return nil, fmt.Errorf("%w: no tensors", ErrCorrupt)
	}
	sort.Strings(f.names)
	return f, nil
}

func decodeTensor(name string, e headerEntry, body []byte) (*Tensor, error) {
	if !strings.EqualFold(e.DType, dtypeF32) {
		return nil, fmt.Errorf("%w: tensor %q has unsupported dtype %q", ErrCorrupt, name, e.DType)
	}

	start, end := e.Offsets[0], e.Offsets[1]
	if start < 0 || end < start || end > len(body) {
		return nil, fmt.Errorf("%w: tensor %q data [%d:%d] exceeds data size %d", ErrCorrupt, name, start, end, len(body))
	}

	n, err := elementCount(e.Shape)
	if err != nil {
		return nil, fmt.Errorf("%w: tensor %q: %v", ErrCorrupt, name, err)
	}
	if int64(end-start) != n*4 {
		return nil, fmt.Errorf("%w: tensor %q needs %d bytes, has %d", ErrCorrupt, name, n*4, end-start)
	}

	raw := body[start:end]
	out := make([]float32, n)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}

	return &Tensor{Name: name, Shape: append([]int64(nil), e.Shape...), Data: out}, nil
}

// Names returns the tensor names in sorted order.
func (f *File) Names() []string {
	return append([]string(nil), f.names...)
}

// Tensor returns the tensor called name.
func (f *File) Tensor(name string) (*Tensor, error) {
	t, ok := f.tensors[name]
	if !ok {
		return nil, fmt.Errorf("safetensors: tensor %q not found (available: %s)", name, strings.Join(f.names, ", "))
	}
	return t, nil
}

func elementCount(shape []int64) (int64, error) {
	total := int64(1)
	for _, d := range shape {
		if d < 0 {
			return 0, fmt.Errorf("negative dimension %d", d)
		}
		if d == 0 {
			return 0, nil
		}
		if total > math.MaxInt64/d {
			return 0, fmt.Errorf("shape %v overflows element count", shape)
		}
		total *= d
	}
	return total, nil
}
