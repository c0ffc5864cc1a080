package wire

import (
	"io"
	"os"
	"time"
)

// Link is the byte stream the protocol runs over. Reads must honor
// deadlines the way net.Conn does. Transports without deadline errors
// may instead return zero bytes from Read when the line is idle.
type Link interface {
	io.ReadWriteCloser
	SetReadDeadline(t time.Time) error
}

// ReadExact collects exactly len(p) bytes, retrying partial reads.
// Each attempt waits at most wait for progress; an attempt yielding
// nothing ends the call. It returns the bytes collected, so n < len(p)
// means the peer went quiet. Transport failures surface as the error.
func ReadExact(l Link, p []byte, wait time.Duration) (int, error) {
	got := 0
	for got < len(p) {
		if err := l.SetReadDeadline(time.Now().Add(wait)); err != nil {
			return got, err
		}
		n, err := l.Read(p[got:])
		got += n
		if err != nil {
			if !os.IsTimeout(err) {
				return got, err
			}
			if n == 0 {
				return got, nil
			}
		} else if n == 0 {
			return got, nil
		}
	}
	return got, nil
}

// WriteAll submits p until the link accepts every byte. Transports may
// accept fewer bytes per call than requested; only a write making no
// progress fails the call.
func WriteAll(l Link, p []byte) error {
	for written := 0; written < len(p); {
		n, err := l.Write(p[written:])
		written += n
		if err != nil && n == 0 {
			return err
		}
	}
	return nil
}
