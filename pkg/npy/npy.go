// Package npy reads and writes the NumPy file subset exchanged with
// the gateway: little-endian float32 arrays, C order, one to three
// dimensions.
package npy

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// ErrFormat indicates the payload is not a supported .npy file.
var ErrFormat = errors.New("unsupported npy file")

var magic = []byte("\x93NUMPY")

// maxElems bounds accepted arrays to 32-bit byte sizes.
const maxElems = (1 << 31) / 4

// Array is an n-dimensional float32 payload.
type Array struct {
	Shape []int
	Data  []float32
}

// Elems computes the element count of shape.
func Elems(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

var (
	descrRe   = regexp.MustCompile(`'descr'\s*:\s*'([^']+)'`)
	fortranRe = regexp.MustCompile(`'fortran_order'\s*:\s*(True|False)`)
	shapeRe   = regexp.MustCompile(`'shape'\s*:\s*\(([^)]*)\)`)
)

// Decode reads one array from r.
func Decode(r io.Reader) (*Array, error) {
	var head [10]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return nil, fmt.Errorf("short preamble: %w", ErrFormat)
	}
	if string(head[:6]) != string(magic) {
		return nil, fmt.Errorf("bad magic: %w", ErrFormat)
	}
	if head[6] != 1 {
		return nil, fmt.Errorf("version %d.%d: %w", head[6], head[7], ErrFormat)
	}
	headerLen := int(binary.LittleEndian.Uint16(head[8:]))
	header := make([]byte, headerLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("short header: %w", ErrFormat)
	}

	shape, err := parseHeader(string(header))
	if err != nil {
		return nil, err
	}
	n := Elems(shape)
	data := make([]byte, 4*n)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("short data for shape %v: %w", shape, ErrFormat)
	}
	a := &Array{Shape: shape, Data: make([]float32, n)}
	for i := range a.Data {
		a.Data[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
	}
	return a, nil
}

func parseHeader(header string) ([]int, error) {
	m := descrRe.FindStringSubmatch(header)
	if m == nil {
		return nil, fmt.Errorf("no descr: %w", ErrFormat)
	}
	if m[1] != "<f4" {
		return nil, fmt.Errorf("dtype %q, want <f4: %w", m[1], ErrFormat)
	}
	if m = fortranRe.FindStringSubmatch(header); m == nil || m[1] != "False" {
		return nil, fmt.Errorf("fortran order: %w", ErrFormat)
	}
	if m = shapeRe.FindStringSubmatch(header); m == nil {
		return nil, fmt.Errorf("no shape: %w", ErrFormat)
	}
	var shape []int
	for _, tok := range strings.Split(m[1], ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		d, err := strconv.Atoi(tok)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("dimension %q: %w", tok, ErrFormat)
		}
		shape = append(shape, d)
	}
	if len(shape) < 1 || len(shape) > 3 {
		return nil, fmt.Errorf("%d dimensions, want 1 to 3: %w", len(shape), ErrFormat)
	}
	// Multiply under the cap so oversized shapes cannot overflow.
	n := 1
	for _, d := range shape {
		if d > maxElems/n {
			return nil, fmt.Errorf("shape %v too large: %w", shape, ErrFormat)
		}
		n *= d
	}
	return shape, nil
}

// Encode writes the array to w in npy version 1.0 format.
func Encode(w io.Writer, a *Array) error {
	if len(a.Shape) < 1 || len(a.Shape) > 3 {
		return fmt.Errorf("%d dimensions, want 1 to 3: %w", len(a.Shape), ErrFormat)
	}
	if Elems(a.Shape) != len(a.Data) {
		return fmt.Errorf("shape %v holds %d elements, data has %d: %w",
			a.Shape, Elems(a.Shape), len(a.Data), ErrFormat)
	}

	dims := make([]string, len(a.Shape))
	for i, d := range a.Shape {
		dims[i] = strconv.Itoa(d)
	}
	tuple := strings.Join(dims, ", ")
	if len(a.Shape) == 1 {
		tuple += ","
	}
	header := fmt.Sprintf("{'descr': '<f4', 'fortran_order': False, 'shape': (%s), }", tuple)
	// Pad so the data starts 64-byte aligned, newline terminated.
	pad := 64 - (10+len(header)+1)%64
	if pad == 64 {
		pad = 0
	}
	header += strings.Repeat(" ", pad) + "\n"

	out := make([]byte, 0, 10+len(header)+4*len(a.Data))
	out = append(out, magic...)
	out = append(out, 1, 0)
	out = binary.LittleEndian.AppendUint16(out, uint16(len(header)))
	out = append(out, header...)
	for _, v := range a.Data {
		out = binary.LittleEndian.AppendUint32(out, math.Float32bits(v))
	}
	_, err := w.Write(out)
	return err
}
