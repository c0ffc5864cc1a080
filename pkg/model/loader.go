package model

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
)

// readChunk is the staging buffer size for weight decoding.
const readChunk = 32 * 1024

// Loader reads packed model images and builds inference contexts.
//
// Pools are tried in order for every buffer; the first pool able to
// serve a request wins. An empty list means the Go heap.
type Loader struct {
	Pools []Pool
}

// Load reads a model image from path using the default loader.
func Load(path string) (*Context, error) {
	var l Loader
	return l.Load(path)
}

// Load reads and decodes the image at path.
func (l *Loader) Load(path string) (*Context, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
		}
		return nil, err
	}
	defer f.Close()
	ctx, err := l.Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ctx, nil
}

// Read decodes one image from r.
func (l *Loader) Read(r io.Reader) (*Context, error) {
	var hdr [HeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("read header: %w", ErrTruncated)
	}
	h, err := DecodeHeader(hdr[:])
	if err != nil {
		return nil, err
	}
	ctx, err := l.newContext(h)
	if err != nil {
		return nil, err
	}
	if err = readFloats(r, ctx.weights, make([]byte, readChunk)); err != nil {
		ctx.Release()
		return nil, fmt.Errorf("read weights: %w", err)
	}
	return ctx, nil
}

// newContext allocates one contiguous weight buffer plus the two
// scratch buffers for h, carving the regions out of the weight buffer.
// Whatever was obtained is released if a later allocation fails.
func (l *Loader) newContext(h Header) (*Context, error) {
	lay := h.Layout()
	ctx := &Context{Header: h}
	buf, err := l.grab(ctx, lay.Total())
	if err != nil {
		return nil, err
	}
	ctx.weights = buf
	ctx.Weights = carveRegions(buf, lay)
	if ctx.In, err = l.grab(ctx, h.InputLen()); err != nil {
		return nil, err
	}
	if ctx.Out, err = l.grab(ctx, int(h.H)); err != nil {
		return nil, err
	}
	return ctx, nil
}

// grab allocates through the pool chain, recording the allocation on
// ctx; on failure everything recorded so far is released.
func (l *Loader) grab(ctx *Context, n int) ([]float32, error) {
	pools := l.Pools
	if len(pools) == 0 {
		pools = defaultPools
	}
	for _, p := range pools {
		if buf := p.Alloc(n); buf != nil {
			ctx.allocs = append(ctx.allocs, ctxAlloc{buf: buf, pool: p})
			return buf, nil
		}
	}
	ctx.Release()
	return nil, fmt.Errorf("alloc %d floats: %w", n, ErrOutOfMemory)
}

var defaultPools = []Pool{HeapPool{}}

// readFloats fills dst with little-endian float32 values from r,
// staging through buf to avoid a full-size byte copy of the region.
func readFloats(r io.Reader, dst []float32, buf []byte) error {
	for len(dst) > 0 {
		n := len(buf) / 4
		if n > len(dst) {
			n = len(dst)
		}
		b := buf[:4*n]
		if _, err := io.ReadFull(r, b); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return ErrTruncated
			}
			return err
		}
		for i := 0; i < n; i++ {
			dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
		}
		dst = dst[n:]
	}
	return nil
}
