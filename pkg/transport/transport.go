// Package transport opens byte links between hosts and model serving
// devices.
package transport

import (
	"errors"
	"fmt"
	"net"
	"net/url"

	"github.com/edgeflow/edgeflow.go/pkg/wire"
)

// ErrClosed indicates the listener was closed.
var ErrClosed = errors.New("listener closed")

// Listener hands out device links for a serving daemon.
type Listener interface {
	// Accept waits for the next link.
	Accept() (wire.Link, error)
	// Addr describes the bound endpoint.
	Addr() string
	// Close releases the endpoint.
	Close() error
}

// Dial opens a link to a device endpoint given a URL:
//
//	serial:///dev/ttyACM0?baud=115200
//	tcp://127.0.0.1:7072
//	ws://127.0.0.1:8092/device
func Dial(rawURL string) (wire.Link, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("device url %q: %v", rawURL, err)
	}
	switch u.Scheme {
	case "serial":
		return dialSerial(u)
	case "tcp":
		conn, err := net.Dial("tcp", u.Host)
		if err != nil {
			return nil, err
		}
		return conn, nil
	case "ws", "wss":
		return dialWS(rawURL)
	default:
		return nil, fmt.Errorf("unsupported device url scheme %q", u.Scheme)
	}
}

// Listen binds a serving endpoint. Scheme tcp serves one connection
// after another; scheme serial opens the port fresh on every Accept.
func Listen(rawURL string) (Listener, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("listen url %q: %v", rawURL, err)
	}
	switch u.Scheme {
	case "serial":
		return &serialListener{url: u}, nil
	case "tcp":
		lis, err := net.Listen("tcp", u.Host)
		if err != nil {
			return nil, err
		}
		return &tcpListener{lis: lis}, nil
	default:
		return nil, fmt.Errorf("unsupported listen url scheme %q", u.Scheme)
	}
}

type tcpListener struct {
	lis net.Listener
}

func (l *tcpListener) Accept() (wire.Link, error) {
	conn, err := l.lis.Accept()
	if err != nil {
		if errors.Is(err, net.ErrClosed) {
			return nil, ErrClosed
		}
		return nil, err
	}
	return conn, nil
}

func (l *tcpListener) Addr() string {
	return "tcp://" + l.lis.Addr().String()
}

func (l *tcpListener) Close() error {
	return l.lis.Close()
}
