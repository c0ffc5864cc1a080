package wire

// Marker is a 4-byte frame marker.
type Marker [4]byte

var (
	// MarkerMeta requests the model metadata.
	MarkerMeta = Marker{'M', 'E', 'T', 'A'}
	// MarkerInfo carries the model metadata reply.
	MarkerInfo = Marker{'I', 'N', 'F', 'O'}
	// MarkerInfer requests one inference.
	MarkerInfer = Marker{'I', 'N', 'F', 'R'}
	// MarkerPred carries the prediction reply.
	MarkerPred = Marker{'P', 'R', 'E', 'D'}
)

// String formats the marker for logs.
func (m Marker) String() string {
	return string(m[:])
}

// Scanner recovers frame markers from a noisy byte stream. It slides a
// 4-byte window one byte at a time and never resets it, so markers are
// recognized at any position regardless of read chunking, including
// back to back.
type Scanner struct {
	win Marker
}

// Feed consumes one byte and reports a completed marker, if any.
func (s *Scanner) Feed(b byte) (Marker, bool) {
	s.win[0], s.win[1], s.win[2], s.win[3] = s.win[1], s.win[2], s.win[3], b
	switch s.win {
	case MarkerMeta, MarkerInfo, MarkerInfer, MarkerPred:
		return s.win, true
	}
	return Marker{}, false
}

// Window exposes the current window for diagnostics.
func (s *Scanner) Window() Marker {
	return s.win
}
