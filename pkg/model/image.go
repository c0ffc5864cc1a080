// Package model loads packed LSTM images into inference-ready contexts.
package model

import (
	"encoding/binary"
	"fmt"
	"math"
)

const (
	// Tag identifies a packed model image.
	Tag = "LST0"
	// HeaderLen is the byte size of the fixed image header:
	// tag, four uint16 dimensions and a reserved word.
	HeaderLen = 16
)

// Header describes the fixed topology of a packed model.
type Header struct {
	T      uint16 // timesteps per input window
	F      uint16 // features per timestep
	H      uint16 // forecast horizon
	Hidden uint16 // recurrent state width
}

// String formats the header for logs.
func (h Header) String() string {
	return fmt.Sprintf("T=%d F=%d H=%d hidden=%d", h.T, h.F, h.H, h.Hidden)
}

// InputLen is the float32 count of one input window.
func (h Header) InputLen() int {
	return int(h.T) * int(h.F)
}

// Gates is the packed gate row count, four per hidden unit.
func (h Header) Gates() int {
	return 4 * int(h.Hidden)
}

// Layout gives the float32 length of each weight region in image order.
type Layout struct {
	InputWeights  int
	HiddenWeights int
	GateBias      int
	Readout       int
	ReadoutBias   int
}

// Layout derives the region lengths from the header.
func (h Header) Layout() Layout {
	gates := h.Gates()
	return Layout{
		InputWeights:  gates * int(h.F),
		HiddenWeights: gates * int(h.Hidden),
		GateBias:      gates,
		Readout:       int(h.H) * int(h.Hidden),
		ReadoutBias:   int(h.H),
	}
}

// Total is the float32 count of all regions combined.
func (l Layout) Total() int {
	return l.InputWeights + l.HiddenWeights + l.GateBias + l.Readout + l.ReadoutBias
}

// ImageLen is the byte size of a complete image with this header.
func (h Header) ImageLen() int {
	return HeaderLen + 4*h.Layout().Total()
}

// Validate rejects headers with zero dimensions or sizes beyond
// 32-bit arithmetic.
func (h Header) Validate() error {
	if h.T == 0 || h.F == 0 || h.H == 0 || h.Hidden == 0 {
		return fmt.Errorf("zero dimension (%v): %w", h, ErrBadHeader)
	}
	hid := uint64(h.Hidden)
	total := 4*hid*(uint64(h.F)+hid+1) + uint64(h.H)*(hid+1)
	if HeaderLen+4*total > math.MaxUint32 {
		return fmt.Errorf("image size overflows 32 bits (%v): %w", h, ErrBadHeader)
	}
	return nil
}

// DecodeHeader parses and validates the leading image header.
func DecodeHeader(p []byte) (Header, error) {
	var h Header
	if len(p) < HeaderLen {
		return h, fmt.Errorf("%d header bytes: %w", len(p), ErrTruncated)
	}
	if string(p[:4]) != Tag {
		return h, fmt.Errorf("tag %q: %w", p[:4], ErrBadMagic)
	}
	h.T = binary.LittleEndian.Uint16(p[4:])
	h.F = binary.LittleEndian.Uint16(p[6:])
	h.H = binary.LittleEndian.Uint16(p[8:])
	h.Hidden = binary.LittleEndian.Uint16(p[10:])
	// p[12:16] is reserved and ignored.
	return h, h.Validate()
}

// AppendHeader appends the encoded header, reserved word zeroed.
func AppendHeader(dst []byte, h Header) []byte {
	dst = append(dst, Tag...)
	dst = binary.LittleEndian.AppendUint16(dst, h.T)
	dst = binary.LittleEndian.AppendUint16(dst, h.F)
	dst = binary.LittleEndian.AppendUint16(dst, h.H)
	dst = binary.LittleEndian.AppendUint16(dst, h.Hidden)
	return binary.LittleEndian.AppendUint32(dst, 0)
}
