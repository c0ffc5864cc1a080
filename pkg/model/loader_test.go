package model

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testHeader = Header{T: 10, F: 3, H: 2, Hidden: 4}

// rampWeights fills every region with a distinct ramp so a region
// landing at the wrong offset is caught by value.
func rampWeights(hdr Header) *Weights {
	w := NewWeights(hdr)
	base := float32(0)
	for _, region := range [][]float32{
		w.InputWeights, w.HiddenWeights, w.GateBias, w.Readout, w.ReadoutBias,
	} {
		for i := range region {
			region[i] = base + float32(i)*0.5
		}
		base += 1000
	}
	return w
}

func buildImage(t *testing.T, hdr Header, w *Weights) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, WriteImage(&buf, hdr, w))
	require.Equal(t, hdr.ImageLen(), buf.Len())
	return buf.Bytes()
}

func writeImageFile(t *testing.T, img []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model_fp32.bin")
	require.NoError(t, os.WriteFile(path, img, 0644))
	return path
}

func TestLoadRoundTrip(t *testing.T) {
	w := rampWeights(testHeader)
	path := writeImageFile(t, buildImage(t, testHeader, w))

	ctx, err := Load(path)
	require.NoError(t, err)
	defer ctx.Release()

	assert.Equal(t, testHeader, ctx.Header)
	assert.Equal(t, w.InputWeights, ctx.Weights.InputWeights)
	assert.Equal(t, w.HiddenWeights, ctx.Weights.HiddenWeights)
	assert.Equal(t, w.GateBias, ctx.Weights.GateBias)
	assert.Equal(t, w.Readout, ctx.Weights.Readout)
	assert.Equal(t, w.ReadoutBias, ctx.Weights.ReadoutBias)
	assert.Len(t, ctx.In, testHeader.InputLen())
	assert.Len(t, ctx.Out, int(testHeader.H))
}

func TestLoadRegionsShareOneBuffer(t *testing.T) {
	path := writeImageFile(t, buildImage(t, testHeader, rampWeights(testHeader)))

	ctx, err := Load(path)
	require.NoError(t, err)
	defer ctx.Release()

	lay := testHeader.Layout()
	require.Len(t, ctx.weights, lay.Total())
	off := 0
	for _, region := range [][]float32{
		ctx.Weights.InputWeights, ctx.Weights.HiddenWeights,
		ctx.Weights.GateBias, ctx.Weights.Readout, ctx.Weights.ReadoutBias,
	} {
		assert.Same(t, &ctx.weights[off], &region[0])
		off += len(region)
	}
	assert.Equal(t, lay.Total(), off)
}

func TestLoadNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.bin"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLoadBadMagic(t *testing.T) {
	img := buildImage(t, testHeader, rampWeights(testHeader))
	copy(img, "XXXX")
	_, err := Load(writeImageFile(t, img))
	require.ErrorIs(t, err, ErrBadMagic)
}

func TestLoadBadHeader(t *testing.T) {
	img := buildImage(t, testHeader, rampWeights(testHeader))
	// Zero out T in place; WriteImage would refuse to build this.
	img[4], img[5] = 0, 0
	_, err := Load(writeImageFile(t, img))
	require.ErrorIs(t, err, ErrBadHeader)
}

func TestLoadTruncated(t *testing.T) {
	img := buildImage(t, testHeader, rampWeights(testHeader))

	_, err := Load(writeImageFile(t, img[:HeaderLen-3]))
	require.ErrorIs(t, err, ErrTruncated)

	_, err = Load(writeImageFile(t, img[:len(img)-2]))
	require.ErrorIs(t, err, ErrTruncated)
}

func TestLoaderPoolFallback(t *testing.T) {
	lay := testHeader.Layout()
	budget := &BudgetPool{Limit: lay.Total()}
	l := Loader{Pools: []Pool{budget, HeapPool{}}}

	img := buildImage(t, testHeader, rampWeights(testHeader))
	ctx, err := l.Read(bytes.NewReader(img))
	require.NoError(t, err)

	// The weight buffer drains the budget, the scratch falls to the heap.
	assert.Equal(t, lay.Total(), budget.Used())

	ctx.Release()
	assert.Zero(t, budget.Used())
	assert.Nil(t, ctx.Weights.InputWeights)
}

func TestLoadOutOfMemory(t *testing.T) {
	lay := testHeader.Layout()
	// Enough for the weight buffer but not the scratch, so the failure
	// rolls back a live allocation rather than refusing the first one.
	budget := &BudgetPool{Limit: lay.Total()}
	l := Loader{Pools: []Pool{budget}}

	img := buildImage(t, testHeader, rampWeights(testHeader))
	_, err := l.Read(bytes.NewReader(img))
	require.ErrorIs(t, err, ErrOutOfMemory)
	assert.Zero(t, budget.Used(), "failed load must release partial allocations")
}

func TestWriteImageRejectsMismatch(t *testing.T) {
	w := rampWeights(testHeader)
	w.GateBias = w.GateBias[:len(w.GateBias)-1]
	var buf bytes.Buffer
	require.Error(t, WriteImage(&buf, testHeader, w))
}
