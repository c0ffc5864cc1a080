package wire

import (
	"bytes"
	"context"
	"io"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeflow/edgeflow.go/pkg/infer"
	"github.com/edgeflow/edgeflow.go/pkg/model"
)

var dispatchHeader = model.Header{T: 10, F: 3, H: 2, Hidden: 4}

func buildContext(t *testing.T, hdr model.Header, w *model.Weights) *model.Context {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, model.WriteImage(&buf, hdr, w))
	var l model.Loader
	mctx, err := l.Read(&buf)
	require.NoError(t, err)
	t.Cleanup(mctx.Release)
	return mctx
}

// biasOnlyContext predicts exactly {5, -3} for any input.
func biasOnlyContext(t *testing.T) *model.Context {
	w := model.NewWeights(dispatchHeader)
	w.ReadoutBias[0], w.ReadoutBias[1] = 5.0, -3.0
	return buildContext(t, dispatchHeader, w)
}

type reqEvent struct {
	marker  Marker
	outcome Outcome
}

type recorder struct{ ch chan reqEvent }

func newRecorder() *recorder {
	return &recorder{ch: make(chan reqEvent, 16)}
}

// RequestDone implements Observer.
func (r *recorder) RequestDone(m Marker, out Outcome, _ time.Duration) {
	r.ch <- reqEvent{marker: m, outcome: out}
}

func (r *recorder) next(t *testing.T) reqEvent {
	t.Helper()
	select {
	case ev := <-r.ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no request event")
		return reqEvent{}
	}
}

// startDispatcher serves mctx over a loopback TCP connection, which
// buffers writes the way a real serial line does, and returns the
// host end.
func startDispatcher(t *testing.T, mctx *model.Context) (net.Conn, *recorder) {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	host, err := net.Dial("tcp", lis.Addr().String())
	require.NoError(t, err)
	dev, err := lis.Accept()
	require.NoError(t, err)
	lis.Close()

	d := NewDispatcher(dev, mctx, infer.New(mctx))
	d.ScanWait = 50 * time.Millisecond
	d.CountWait = 250 * time.Millisecond
	d.PayloadWait = 250 * time.Millisecond
	rec := newRecorder()
	d.Observer = rec

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		host.Close()
		dev.Close()
		<-done
	})
	return host, rec
}

func readReply(t *testing.T, host net.Conn, n int) []byte {
	t.Helper()
	p := make([]byte, n)
	require.NoError(t, host.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err := io.ReadFull(host, p)
	require.NoError(t, err)
	return p
}

// expectQuiet asserts no reply bytes arrive within the grace window.
func expectQuiet(t *testing.T, host net.Conn) {
	t.Helper()
	require.NoError(t, host.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	var b [1]byte
	_, err := host.Read(b[:])
	require.Error(t, err)
	require.True(t, os.IsTimeout(err), "expected quiet line, got %v", err)
}

func TestDispatcherMetaEcho(t *testing.T) {
	host, rec := startDispatcher(t, biasOnlyContext(t))

	_, err := host.Write(MarkerMeta[:])
	require.NoError(t, err)

	assert.Equal(t, AppendInfo(nil, dispatchHeader), readReply(t, host, InfoLen))
	assert.Equal(t, reqEvent{MarkerMeta, OutcomeOK}, rec.next(t))
}

func TestDispatcherInferReadsBias(t *testing.T) {
	host, rec := startDispatcher(t, biasOnlyContext(t))

	in := make([]float32, dispatchHeader.InputLen())
	for i := range in {
		in[i] = float32(i)
	}
	_, err := host.Write(AppendInfer(nil, in))
	require.NoError(t, err)

	want := AppendPred(nil, []float32{5.0, -3.0})
	assert.Equal(t, want, readReply(t, host, len(want)))
	assert.Equal(t, reqEvent{MarkerInfer, OutcomeOK}, rec.next(t))
}

func TestDispatcherRejectsWrongCount(t *testing.T) {
	host, rec := startDispatcher(t, biasOnlyContext(t))

	// 29 floats when the model wants 30: refused before the payload
	// is consumed, then the line recovers for the next request.
	_, err := host.Write(AppendInfer(nil, make([]float32, 29)))
	require.NoError(t, err)
	_, err = host.Write(MarkerMeta[:])
	require.NoError(t, err)

	assert.Equal(t, AppendReject(nil), readReply(t, host, MarkerLen+CountLen))
	assert.Equal(t, AppendInfo(nil, dispatchHeader), readReply(t, host, InfoLen))

	assert.Equal(t, reqEvent{MarkerInfer, OutcomeRejected}, rec.next(t))
	assert.Equal(t, reqEvent{MarkerMeta, OutcomeOK}, rec.next(t))
}

func TestDispatcherAbandonsOnCountTimeout(t *testing.T) {
	host, rec := startDispatcher(t, biasOnlyContext(t))

	_, err := host.Write(MarkerInfer[:])
	require.NoError(t, err)
	assert.Equal(t, reqEvent{MarkerInfer, OutcomeTimeout}, rec.next(t))
	expectQuiet(t, host)

	// The line still serves afterwards.
	_, err = host.Write(MarkerMeta[:])
	require.NoError(t, err)
	assert.Equal(t, AppendInfo(nil, dispatchHeader), readReply(t, host, InfoLen))
}

func TestDispatcherAbandonsOnPayloadTimeout(t *testing.T) {
	host, rec := startDispatcher(t, biasOnlyContext(t))

	partial := AppendInfer(nil, make([]float32, dispatchHeader.InputLen()))
	_, err := host.Write(partial[:MarkerLen+CountLen+40])
	require.NoError(t, err)
	assert.Equal(t, reqEvent{MarkerInfer, OutcomeTimeout}, rec.next(t))
	expectQuiet(t, host)

	_, err = host.Write(AppendInfer(nil, make([]float32, dispatchHeader.InputLen())))
	require.NoError(t, err)
	want := AppendPred(nil, []float32{5.0, -3.0})
	assert.Equal(t, want, readReply(t, host, len(want)))
	assert.Equal(t, reqEvent{MarkerInfer, OutcomeOK}, rec.next(t))
}

func TestDispatcherSkipsNoise(t *testing.T) {
	host, rec := startDispatcher(t, biasOnlyContext(t))

	_, err := host.Write([]byte("\r\n[boot] line ready\r\n"))
	require.NoError(t, err)
	_, err = host.Write(MarkerMeta[:])
	require.NoError(t, err)

	assert.Equal(t, AppendInfo(nil, dispatchHeader), readReply(t, host, InfoLen))
	assert.Equal(t, reqEvent{MarkerMeta, OutcomeOK}, rec.next(t))
}

func TestDispatcherIgnoresReplyMarkers(t *testing.T) {
	host, rec := startDispatcher(t, biasOnlyContext(t))

	_, err := host.Write([]byte("INFOPRED"))
	require.NoError(t, err)
	_, err = host.Write(MarkerMeta[:])
	require.NoError(t, err)

	assert.Equal(t, AppendInfo(nil, dispatchHeader), readReply(t, host, InfoLen))
	assert.Equal(t, reqEvent{MarkerMeta, OutcomeOK}, rec.next(t))
}

func TestDispatcherStopsOnCancel(t *testing.T) {
	dev, host := net.Pipe()
	defer dev.Close()
	defer host.Close()

	mctx := biasOnlyContext(t)
	d := NewDispatcher(dev, mctx, infer.New(mctx))
	d.ScanWait = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(ctx) }()

	cancel()
	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop")
	}
}

func TestDispatcherStopsOnClosedLink(t *testing.T) {
	dev, host := net.Pipe()
	defer dev.Close()

	mctx := biasOnlyContext(t)
	d := NewDispatcher(dev, mctx, infer.New(mctx))
	d.ScanWait = 50 * time.Millisecond

	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(context.Background()) }()

	host.Close()
	select {
	case err := <-errCh:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop")
	}
}
