package model

import "errors"

var (
	// ErrNotFound indicates the image file does not exist.
	ErrNotFound = errors.New("model image not found")
	// ErrTruncated indicates the image ends before header or weights do.
	ErrTruncated = errors.New("model image truncated")
	// ErrBadMagic indicates the image does not start with Tag.
	ErrBadMagic = errors.New("bad model image tag")
	// ErrBadHeader indicates header dimensions outside the supported range.
	ErrBadHeader = errors.New("bad model header")
	// ErrOutOfMemory indicates no pool could serve a model buffer.
	ErrOutOfMemory = errors.New("model buffers exceed memory budget")
)
