package wire

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/golang/glog"

	"github.com/edgeflow/edgeflow.go/pkg/infer"
	"github.com/edgeflow/edgeflow.go/pkg/model"
)

// Request timeouts, sized for noisy serial lines.
const (
	// DefaultScanWait bounds each idle wait for the next scan byte.
	DefaultScanWait = time.Second
	// DefaultCountWait bounds the wait for the INFR count word.
	DefaultCountWait = 2 * time.Second
	// DefaultPayloadWait bounds the wait for the INFR float payload.
	DefaultPayloadWait = 5 * time.Second
)

// Outcome classifies one handled request.
type Outcome int

const (
	// OutcomeOK means a full reply was sent.
	OutcomeOK Outcome = iota
	// OutcomeRejected means the request was refused with an empty reply.
	OutcomeRejected
	// OutcomeTimeout means the request was abandoned without a reply.
	OutcomeTimeout
)

// String formats the outcome for logs and telemetry.
func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeRejected:
		return "rejected"
	case OutcomeTimeout:
		return "timeout"
	}
	return "unknown"
}

// Observer is notified after each handled request.
type Observer interface {
	RequestDone(m Marker, out Outcome, elapsed time.Duration)
}

// ObserverFunc is func type of Observer.
type ObserverFunc func(Marker, Outcome, time.Duration)

// RequestDone implements Observer.
func (f ObserverFunc) RequestDone(m Marker, out Outcome, elapsed time.Duration) {
	f(m, out, elapsed)
}

// Dispatcher serves the device end of one link: it scans for request
// markers and handles them strictly in arrival order. While Run is
// active the model context and engine have no other consumer, so no
// locking guards them.
type Dispatcher struct {
	Link     Link
	Model    *model.Context
	Engine   *infer.Engine
	Observer Observer

	ScanWait    time.Duration
	CountWait   time.Duration
	PayloadWait time.Duration

	scan    Scanner
	payload []byte
	resp    []byte
}

// NewDispatcher creates a dispatcher with default timeouts.
func NewDispatcher(l Link, mctx *model.Context, eng *infer.Engine) *Dispatcher {
	return &Dispatcher{
		Link:        l,
		Model:       mctx,
		Engine:      eng,
		ScanWait:    DefaultScanWait,
		CountWait:   DefaultCountWait,
		PayloadWait: DefaultPayloadWait,
	}
}

// Run scans and serves until ctx is done or the link fails.
func (d *Dispatcher) Run(ctx context.Context) error {
	hdr := d.Model.Header
	d.payload = make([]byte, 4*hdr.InputLen())
	d.resp = make([]byte, 0, MarkerLen+CountLen+4*int(hdr.H))
	var b [1]byte
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		n, err := ReadExact(d.Link, b[:], d.ScanWait)
		if err != nil {
			return err
		}
		if n == 0 {
			continue // idle line
		}
		m, ok := d.scan.Feed(b[0])
		if !ok {
			continue
		}
		switch m {
		case MarkerMeta:
			err = d.serveMeta()
		case MarkerInfer:
			err = d.serveInfer()
		default:
			// Reply markers never address the device.
			glog.V(2).Infof("ignoring %v on serving line", m)
		}
		if err != nil {
			return err
		}
	}
}

func (d *Dispatcher) serveMeta() error {
	start := time.Now()
	if err := WriteAll(d.Link, AppendInfo(d.resp[:0], d.Model.Header)); err != nil {
		return err
	}
	d.notify(MarkerMeta, OutcomeOK, start)
	return nil
}

func (d *Dispatcher) serveInfer() error {
	start := time.Now()
	var cw [CountLen]byte
	n, err := ReadExact(d.Link, cw[:], d.CountWait)
	if err != nil {
		return err
	}
	if n < len(cw) {
		glog.Warningf("inference abandoned: %d of %d count bytes", n, len(cw))
		d.notify(MarkerInfer, OutcomeTimeout, start)
		return nil
	}
	want := uint32(d.Model.Header.InputLen())
	if count := binary.LittleEndian.Uint32(cw[:]); count != want {
		// Refuse right away without draining the payload; whatever
		// trails is swept up by the marker scanner as noise.
		if err = WriteAll(d.Link, AppendReject(d.resp[:0])); err != nil {
			return err
		}
		glog.Warningf("rejected inference with %d floats, model wants %d", count, want)
		d.notify(MarkerInfer, OutcomeRejected, start)
		return nil
	}
	n, err = ReadExact(d.Link, d.payload, d.PayloadWait)
	if err != nil {
		return err
	}
	if n < len(d.payload) {
		glog.Warningf("inference abandoned: %d of %d payload bytes", n, len(d.payload))
		d.notify(MarkerInfer, OutcomeTimeout, start)
		return nil
	}
	DecodeFloats(d.Model.In, d.payload)
	d.Engine.Infer(d.Model.In, d.Model.Out)
	if err = WriteAll(d.Link, AppendPred(d.resp[:0], d.Model.Out)); err != nil {
		return err
	}
	d.notify(MarkerInfer, OutcomeOK, start)
	return nil
}

func (d *Dispatcher) notify(m Marker, out Outcome, start time.Time) {
	elapsed := time.Since(start)
	glog.V(1).Infof("%v %v in %v", m, out, elapsed)
	if d.Observer != nil {
		d.Observer.RequestDone(m, out, elapsed)
	}
}
