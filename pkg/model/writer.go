package model

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// WriteImage packs hdr and w into the image format understood by
// Loader. Every region must match the layout derived from hdr.
func WriteImage(dst io.Writer, hdr Header, w *Weights) error {
	if err := hdr.Validate(); err != nil {
		return err
	}
	lay := hdr.Layout()
	regions := []struct {
		name string
		data []float32
		want int
	}{
		{"input weights", w.InputWeights, lay.InputWeights},
		{"hidden weights", w.HiddenWeights, lay.HiddenWeights},
		{"gate bias", w.GateBias, lay.GateBias},
		{"readout", w.Readout, lay.Readout},
		{"readout bias", w.ReadoutBias, lay.ReadoutBias},
	}
	for _, reg := range regions {
		if len(reg.data) != reg.want {
			return fmt.Errorf("%s has %d floats, layout wants %d",
				reg.name, len(reg.data), reg.want)
		}
	}
	if _, err := dst.Write(AppendHeader(make([]byte, 0, HeaderLen), hdr)); err != nil {
		return err
	}
	buf := make([]byte, readChunk)
	for _, reg := range regions {
		if err := writeFloats(dst, reg.data, buf); err != nil {
			return err
		}
	}
	return nil
}

func writeFloats(w io.Writer, src []float32, buf []byte) error {
	for len(src) > 0 {
		n := len(buf) / 4
		if n > len(src) {
			n = len(src)
		}
		b := buf[:4*n]
		for i := 0; i < n; i++ {
			binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(src[i]))
		}
		if _, err := w.Write(b); err != nil {
			return err
		}
		src = src[n:]
	}
	return nil
}

// NewWeights allocates heap-backed regions matching hdr, all zero.
func NewWeights(hdr Header) *Weights {
	lay := hdr.Layout()
	return &Weights{
		InputWeights:  make([]float32, lay.InputWeights),
		HiddenWeights: make([]float32, lay.HiddenWeights),
		GateBias:      make([]float32, lay.GateBias),
		Readout:       make([]float32, lay.Readout),
		ReadoutBias:   make([]float32, lay.ReadoutBias),
	}
}
