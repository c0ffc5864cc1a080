package wire

import "errors"

var (
	// ErrTimeout indicates the peer went quiet before a full frame arrived.
	ErrTimeout = errors.New("peer timeout")
	// ErrRejected indicates the device refused a request with an empty
	// prediction frame.
	ErrRejected = errors.New("request rejected")
)
