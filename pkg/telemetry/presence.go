package telemetry

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/edgeflow/edgeflow.go/pkg/model"
	"github.com/edgeflow/edgeflow.go/pkg/wire"
)

// ModelInfo mirrors the metadata frame of the serving protocol.
type ModelInfo struct {
	T      uint16 `json:"T"`
	F      uint16 `json:"F"`
	H      uint16 `json:"H"`
	Hidden uint16 `json:"hidden"`
}

// ModelInfoOf converts a model header.
func ModelInfoOf(hdr model.Header) *ModelInfo {
	return &ModelInfo{T: hdr.T, F: hdr.F, H: hdr.H, Hidden: hdr.Hidden}
}

// Meta is the retained presence document for one endpoint.
type Meta struct {
	Kind  string     `json:"kind"` // "device" or "gateway"
	Link  string     `json:"link,omitempty"`
	Model *ModelInfo `json:"model,omitempty"`
}

// StatsEvent is one request record published on the stats topic.
type StatsEvent struct {
	Seq     uint64  `json:"seq"`
	Marker  string  `json:"marker"`
	Outcome string  `json:"outcome"`
	Millis  float64 `json:"ms"`
}

// Presence announces an endpoint under <id>/meta (retained, cleared by
// the broker will on an unclean exit) and streams per-request stats
// under <id>/stats.
type Presence struct {
	Queue *Queue
	ID    string

	lock sync.Mutex
	meta Meta
	seq  uint64
}

// NewPresence binds a presence client for id on the broker.
func NewPresence(brokerURL, id string, meta Meta) (*Presence, error) {
	opts, prefix, err := ParseBrokerURL(brokerURL)
	if err != nil {
		return nil, err
	}
	opts.SetBinaryWill(prefix+id+"/meta", nil, 1, true)
	if opts.ClientID == "" {
		opts.SetClientID("edgeflow:" + id)
	}
	p := &Presence{Queue: NewQueue(opts, prefix), ID: id, meta: meta}
	p.Queue.OnConnect = func(*Queue) { p.announce() }
	return p, nil
}

// Run implements Runnable: the announcement stays retained until ctx
// ends, then it is cleared.
func (p *Presence) Run(ctx context.Context) error {
	p.Queue.Connect()
	<-ctx.Done()
	p.Queue.PubWith(p.ID+"/meta", nil, 1, true)
	p.Queue.Close()
	return nil
}

// SetModel updates the announced model metadata.
func (p *Presence) SetModel(hdr model.Header) {
	p.lock.Lock()
	p.meta.Model = ModelInfoOf(hdr)
	p.lock.Unlock()
	p.announce()
}

func (p *Presence) announce() {
	p.lock.Lock()
	payload, err := json.Marshal(&p.meta)
	p.lock.Unlock()
	if err != nil {
		panic(err)
	}
	p.Queue.PubWith(p.ID+"/meta", payload, 1, true)
}

// RequestDone implements the dispatch observer, publishing one stats
// event per handled request.
func (p *Presence) RequestDone(m wire.Marker, out wire.Outcome, elapsed time.Duration) {
	ev := StatsEvent{
		Seq:     atomic.AddUint64(&p.seq, 1),
		Marker:  m.String(),
		Outcome: out.String(),
		Millis:  float64(elapsed.Microseconds()) / 1000,
	}
	payload, err := json.Marshal(&ev)
	if err != nil {
		panic(err)
	}
	p.Queue.Pub(p.ID+"/stats", payload)
}
