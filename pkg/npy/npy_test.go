package npy

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, shape []int) {
	t.Helper()
	a := &Array{Shape: shape, Data: make([]float32, Elems(shape))}
	for i := range a.Data {
		a.Data[i] = float32(i) * 0.25
	}

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, a))

	// Data must start 64-byte aligned for mmap-style consumers.
	headerLen := int(binary.LittleEndian.Uint16(buf.Bytes()[8:]))
	assert.Zero(t, (10+headerLen)%64)

	got, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, a.Shape, got.Shape)
	assert.Equal(t, a.Data, got.Data)
}

func TestRoundTrip(t *testing.T) {
	roundTrip(t, []int{7})
	roundTrip(t, []int{10, 3})
	roundTrip(t, []int{2, 10, 3})
}

// buildRaw assembles an npy file with an arbitrary header dict.
func buildRaw(header string, data []byte) []byte {
	out := []byte("\x93NUMPY\x01\x00")
	out = binary.LittleEndian.AppendUint16(out, uint16(len(header)+1))
	out = append(out, header...)
	out = append(out, '\n')
	return append(out, data...)
}

func TestDecodeToleratesHeaderSpacing(t *testing.T) {
	// 1.0 and 2.0 as raw float32 bits.
	data := make([]byte, 8)
	binary.LittleEndian.PutUint32(data, 0x3f800000)
	binary.LittleEndian.PutUint32(data[4:], 0x40000000)

	a, err := Decode(bytes.NewReader(buildRaw(
		`{'descr':'<f4','fortran_order':False,'shape':(2,)}`, data)))
	require.NoError(t, err)
	assert.Equal(t, []int{2}, a.Shape)
	assert.Equal(t, []float32{1, 2}, a.Data)
}

func TestDecodeRejects(t *testing.T) {
	data := make([]byte, 16)
	for name, raw := range map[string][]byte{
		"float64":  buildRaw(`{'descr': '<f8', 'fortran_order': False, 'shape': (2,), }`, data),
		"fortran":  buildRaw(`{'descr': '<f4', 'fortran_order': True, 'shape': (2,), }`, data),
		"4 dims":   buildRaw(`{'descr': '<f4', 'fortran_order': False, 'shape': (1, 1, 1, 2), }`, data),
		"zero dim": buildRaw(`{'descr': '<f4', 'fortran_order': False, 'shape': (0,), }`, data),
		"huge":     buildRaw(`{'descr': '<f4', 'fortran_order': False, 'shape': (3037000500, 3037000500), }`, data),
		"short":    buildRaw(`{'descr': '<f4', 'fortran_order': False, 'shape': (100,), }`, data),
		"magic":    []byte("not an npy file at all"),
	} {
		_, err := Decode(bytes.NewReader(raw))
		require.ErrorIs(t, err, ErrFormat, name)
	}
}

func TestEncodeRejectsMismatch(t *testing.T) {
	var buf bytes.Buffer
	err := Encode(&buf, &Array{Shape: []int{3}, Data: make([]float32, 2)})
	require.ErrorIs(t, err, ErrFormat)
}
