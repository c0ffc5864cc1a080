package transport

import (
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/edgeflow/edgeflow.go/pkg/wire"
)

// DefaultBaud is assumed when the URL carries no baud parameter.
const DefaultBaud = 115200

func parseSerialURL(u *url.URL) (string, *serial.Mode, error) {
	port := u.Path
	if port == "" {
		port = u.Host // windows form, serial://COM3
	}
	if port == "" {
		return "", nil, fmt.Errorf("serial url %q names no port", u)
	}
	mode := &serial.Mode{BaudRate: DefaultBaud}
	if b := u.Query().Get("baud"); b != "" {
		baud, err := strconv.Atoi(b)
		if err != nil || baud <= 0 {
			return "", nil, fmt.Errorf("bad baud %q", b)
		}
		mode.BaudRate = baud
	}
	return port, mode, nil
}

func dialSerial(u *url.URL) (wire.Link, error) {
	name, mode, err := parseSerialURL(u)
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %v", name, err)
	}
	// Drop whatever accumulated while nobody listened.
	port.ResetInputBuffer()
	port.ResetOutputBuffer()
	return &serialLink{Port: port, name: name}, nil
}

// serialLink adapts a serial port to deadline-style reads. A timed-out
// Read on the port yields zero bytes and no error, which the protocol
// layer treats as a quiet line.
type serialLink struct {
	serial.Port
	name string
}

// SetReadDeadline implements wire.Link over the port's read timeout.
func (l *serialLink) SetReadDeadline(t time.Time) error {
	d := time.Until(t)
	if d < 0 {
		d = 0
	}
	return l.Port.SetReadTimeout(d)
}

// serialListener opens the port fresh on every Accept, so a daemon
// recovering from a link error starts from clean buffers.
type serialListener struct {
	url *url.URL

	lock   sync.Mutex
	closed bool
}

func (l *serialListener) Accept() (wire.Link, error) {
	l.lock.Lock()
	closed := l.closed
	l.lock.Unlock()
	if closed {
		return nil, ErrClosed
	}
	return dialSerial(l.url)
}

func (l *serialListener) Addr() string {
	return l.url.String()
}

func (l *serialListener) Close() error {
	l.lock.Lock()
	l.closed = true
	l.lock.Unlock()
	return nil
}
