package model

// Weights are the five packed weight regions, each row-major.
// Gate rows pack input, forget, candidate and output gates in order,
// giving 4*hidden rows for the recurrent regions.
type Weights struct {
	InputWeights  []float32 // (4*hidden, F)
	HiddenWeights []float32 // (4*hidden, hidden)
	GateBias      []float32 // 4*hidden
	Readout       []float32 // (H, hidden)
	ReadoutBias   []float32 // H
}

// Context owns every buffer backing one loaded model: one contiguous
// weight buffer the regions are carved from, plus the input and output
// scratch reused across inference calls. A context serves one consumer
// at a time.
type Context struct {
	Header  Header
	Weights Weights

	// In and Out are the request scratch buffers, sized T*F and H.
	In  []float32
	Out []float32

	weights []float32 // backing buffer of the Weights regions
	allocs  []ctxAlloc
}

type ctxAlloc struct {
	buf  []float32
	pool Pool
}

// Release returns all buffers to their pools. The context must not be
// used afterwards.
func (c *Context) Release() {
	for i := len(c.allocs) - 1; i >= 0; i-- {
		c.allocs[i].pool.Release(c.allocs[i].buf)
	}
	c.allocs = nil
	c.Weights = Weights{}
	c.weights = nil
	c.In, c.Out = nil, nil
}

// carveRegions slices the five weight regions out of one contiguous
// buffer in image order.
func carveRegions(buf []float32, lay Layout) Weights {
	a := lay.InputWeights
	b := a + lay.HiddenWeights
	c := b + lay.GateBias
	d := c + lay.Readout
	return Weights{
		InputWeights:  buf[:a:a],
		HiddenWeights: buf[a:b:b],
		GateBias:      buf[b:c:c],
		Readout:       buf[c:d:d],
		ReadoutBias:   buf[d:],
	}
}
