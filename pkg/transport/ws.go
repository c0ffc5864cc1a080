package transport

import (
	"golang.org/x/net/websocket"

	"github.com/edgeflow/edgeflow.go/pkg/wire"
)

func dialWS(rawURL string) (wire.Link, error) {
	conn, err := websocket.Dial(rawURL, "", "http://localhost/")
	if err != nil {
		return nil, err
	}
	conn.PayloadType = websocket.BinaryFrame
	return conn, nil
}
