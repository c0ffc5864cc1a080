package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeflow/edgeflow.go/pkg/model"
)

func TestInfoFrame(t *testing.T) {
	hdr := model.Header{T: 10, F: 3, H: 2, Hidden: 4}
	frame := AppendInfo(nil, hdr)

	require.Equal(t, []byte{
		'I', 'N', 'F', 'O',
		10, 0, 3, 0, 2, 0, 4, 0,
	}, frame)
	require.Len(t, frame, InfoLen)

	assert.Equal(t, hdr, ParseInfo(frame[MarkerLen:]))
}

func TestInferFrame(t *testing.T) {
	frame := AppendInfer(nil, []float32{1, -2})
	require.Equal(t, []byte{
		'I', 'N', 'F', 'R',
		2, 0, 0, 0,
		0, 0, 0x80, 0x3f, // 1.0
		0, 0, 0, 0xc0, // -2.0
	}, frame)
}

func TestPredFrames(t *testing.T) {
	frame := AppendPred(nil, []float32{5})
	require.Equal(t, []byte{
		'P', 'R', 'E', 'D',
		1, 0, 0, 0,
		0, 0, 0xa0, 0x40, // 5.0
	}, frame)

	reject := AppendReject(nil)
	require.Equal(t, []byte{'P', 'R', 'E', 'D', 0, 0, 0, 0}, reject)
}

func TestFloatsRoundTrip(t *testing.T) {
	vals := []float32{0, 1.5, -3.25, 1e-6, 3.4e38}
	p := AppendFloats(nil, vals)
	require.Len(t, p, 4*len(vals))

	got := make([]float32, len(vals))
	DecodeFloats(got, p)
	assert.Equal(t, vals, got)
}
