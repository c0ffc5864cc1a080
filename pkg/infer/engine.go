// Package infer runs the fixed-topology LSTM forward pass.
package infer

import (
	"github.com/edgeflow/edgeflow.go/pkg/model"
)

// YieldFunc is called at a fixed timestep cadence during long
// recurrences so a cooperative scheduler gets a turn.
type YieldFunc func()

// Engine computes predictions for one model context. The recurrent
// buffers are allocated once, then reused and re-zeroed per call, so
// an engine serves one caller at a time.
type Engine struct {
	mctx  *model.Context
	yield YieldFunc

	hidden []float32
	cell   []float32
	preact []float32 // gate pre-activations, 4*hidden
}

// New creates an engine over mctx.
func New(mctx *model.Context) *Engine {
	hid := int(mctx.Header.Hidden)
	return &Engine{
		mctx:   mctx,
		hidden: make([]float32, hid),
		cell:   make([]float32, hid),
		preact: make([]float32, 4*hid),
	}
}

// WithYield sets the yield hook and returns e.
func (e *Engine) WithYield(fn YieldFunc) *Engine {
	e.yield = fn
	return e
}

// Infer runs the forward pass over in (T*F floats, time-major) and
// writes H floats into out. Recurrent state is cleared on entry, so
// identical inputs produce identical outputs.
func (e *Engine) Infer(in, out []float32) {
	hdr := e.mctx.Header
	if len(in) != hdr.InputLen() || len(out) != int(hdr.H) {
		panic("infer: buffer sizes do not match model topology")
	}
	T, F, hid := int(hdr.T), int(hdr.F), int(hdr.Hidden)
	w := &e.mctx.Weights

	clear(e.hidden)
	clear(e.cell)

	for t := 0; t < T; t++ {
		xt := in[t*F : (t+1)*F]
		for r := 0; r < 4*hid; r++ {
			s := w.GateBias[r]
			row := w.InputWeights[r*F : (r+1)*F]
			for j, x := range xt {
				s += row[j] * x
			}
			row = w.HiddenWeights[r*hid : (r+1)*hid]
			for k, h := range e.hidden {
				s += row[k] * h
			}
			e.preact[r] = s
		}
		for k := 0; k < hid; k++ {
			ig := sigmoid(e.preact[k])
			fg := sigmoid(e.preact[hid+k])
			cand := tanh32(e.preact[2*hid+k])
			og := sigmoid(e.preact[3*hid+k])
			c := fg*e.cell[k] + ig*cand
			e.cell[k] = c
			e.hidden[k] = og * tanh32(c)
		}
		if t&3 == 0 && e.yield != nil {
			e.yield()
		}
	}

	H := int(hdr.H)
	for o := 0; o < H; o++ {
		s := w.ReadoutBias[o]
		row := w.Readout[o*hid : (o+1)*hid]
		for k, h := range e.hidden {
			s += row[k] * h
		}
		out[o] = s
	}
}
