package wire

import (
	"bytes"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadExactCollectsChunks(t *testing.T) {
	dev, host := net.Pipe()
	defer dev.Close()
	defer host.Close()

	go func() {
		host.Write([]byte("abc"))
		host.Write([]byte("defg"))
		host.Write([]byte("hij"))
	}()

	p := make([]byte, 10)
	n, err := ReadExact(dev, p, 500*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, 10, n)
	assert.Equal(t, "abcdefghij", string(p))
}

func TestReadExactPartialOnQuietPeer(t *testing.T) {
	dev, host := net.Pipe()
	defer dev.Close()
	defer host.Close()

	go host.Write([]byte("abc"))

	p := make([]byte, 10)
	n, err := ReadExact(dev, p, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestReadExactProgressExtendsWait(t *testing.T) {
	dev, host := net.Pipe()
	defer dev.Close()
	defer host.Close()

	go func() {
		for i := 0; i < 5; i++ {
			host.Write([]byte{byte(i), byte(i)})
			time.Sleep(40 * time.Millisecond)
		}
	}()

	// Total transfer time exceeds the per-attempt wait; progress on
	// each attempt must keep the read alive.
	p := make([]byte, 10)
	n, err := ReadExact(dev, p, 150*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 10, n)
}

func TestReadExactClosedLink(t *testing.T) {
	dev, host := net.Pipe()
	defer dev.Close()

	go func() {
		host.Write([]byte("ab"))
		host.Close()
	}()

	p := make([]byte, 10)
	n, err := ReadExact(dev, p, 500*time.Millisecond)
	require.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 2, n)
}

// shortLink accepts at most max bytes per write.
type shortLink struct {
	buf bytes.Buffer
	max int
}

func (l *shortLink) Write(p []byte) (int, error) {
	if len(p) > l.max {
		p = p[:l.max]
	}
	return l.buf.Write(p)
}

func (l *shortLink) Read([]byte) (int, error)        { return 0, io.EOF }
func (l *shortLink) Close() error                    { return nil }
func (l *shortLink) SetReadDeadline(time.Time) error { return nil }

func TestWriteAllRetriesShortWrites(t *testing.T) {
	l := &shortLink{max: 3}
	require.NoError(t, WriteAll(l, []byte("abcdefghij")))
	assert.Equal(t, "abcdefghij", l.buf.String())
}

// downLink fails every write.
type downLink struct{ shortLink }

func (l *downLink) Write([]byte) (int, error) {
	return 0, errors.New("line down")
}

func TestWriteAllSurfacesFailure(t *testing.T) {
	require.Error(t, WriteAll(&downLink{}, []byte("abc")))
}
