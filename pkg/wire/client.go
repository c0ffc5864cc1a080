package wire

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/edgeflow/edgeflow.go/pkg/model"
)

// DefaultReplyWait bounds the wait for each reply frame.
const DefaultReplyWait = 2 * time.Second

// MaxReplyFloats caps the reply size a client accepts; a count word
// beyond it means a corrupted stream, not a real prediction.
const MaxReplyFloats = 1 << 20

// Client speaks the host end of the protocol. One request is in flight
// at a time; callers serialize access to the link.
type Client struct {
	Link Link
	// ReplyWait bounds the total wait for a reply frame. Zero means
	// DefaultReplyWait.
	ReplyWait time.Duration
}

// NewClient creates a client over l.
func NewClient(l Link) *Client {
	return &Client{Link: l}
}

// QueryInfo requests the model metadata.
func (c *Client) QueryInfo() (model.Header, error) {
	var hdr model.Header
	if err := WriteAll(c.Link, MarkerMeta[:]); err != nil {
		return hdr, err
	}
	if err := c.scanFor(MarkerInfo); err != nil {
		return hdr, err
	}
	var p [InfoLen - MarkerLen]byte
	n, err := ReadExact(c.Link, p[:], c.wait())
	if err != nil {
		return hdr, err
	}
	if n < len(p) {
		return hdr, fmt.Errorf("info payload %d of %d bytes: %w", n, len(p), ErrTimeout)
	}
	return ParseInfo(p[:]), nil
}

// Infer submits one input window and returns the prediction.
// A refusal by the device surfaces as ErrRejected.
func (c *Client) Infer(in []float32) ([]float32, error) {
	req := AppendInfer(make([]byte, 0, MarkerLen+CountLen+4*len(in)), in)
	if err := WriteAll(c.Link, req); err != nil {
		return nil, err
	}
	if err := c.scanFor(MarkerPred); err != nil {
		return nil, err
	}
	var cw [CountLen]byte
	n, err := ReadExact(c.Link, cw[:], c.wait())
	if err != nil {
		return nil, err
	}
	if n < len(cw) {
		return nil, fmt.Errorf("prediction count %d of %d bytes: %w", n, len(cw), ErrTimeout)
	}
	count := binary.LittleEndian.Uint32(cw[:])
	if count == 0 {
		return nil, ErrRejected
	}
	if count > MaxReplyFloats {
		return nil, fmt.Errorf("prediction claims %d floats", count)
	}
	buf := make([]byte, 4*count)
	n, err = ReadExact(c.Link, buf, c.wait())
	if err != nil {
		return nil, err
	}
	if n < len(buf) {
		return nil, fmt.Errorf("prediction payload %d of %d bytes: %w", n, len(buf), ErrTimeout)
	}
	out := make([]float32, count)
	DecodeFloats(out, buf)
	return out, nil
}

// scanFor discards noise until marker m arrives or the reply window
// closes. Other markers inside the noise are skipped, not errors.
func (c *Client) scanFor(m Marker) error {
	deadline := time.Now().Add(c.wait())
	var s Scanner
	var b [1]byte
	for {
		remain := time.Until(deadline)
		if remain <= 0 {
			return fmt.Errorf("waiting for %v: %w", m, ErrTimeout)
		}
		n, err := ReadExact(c.Link, b[:], remain)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("waiting for %v: %w", m, ErrTimeout)
		}
		if got, ok := s.Feed(b[0]); ok && got == m {
			return nil
		}
	}
}

func (c *Client) wait() time.Duration {
	if c.ReplyWait > 0 {
		return c.ReplyWait
	}
	return DefaultReplyWait
}
