// Package gateway bridges HTTP clients to one serving device.
package gateway

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/edgeflow/edgeflow.go/pkg/model"
	"github.com/edgeflow/edgeflow.go/pkg/npy"
	"github.com/edgeflow/edgeflow.go/pkg/transport"
	"github.com/edgeflow/edgeflow.go/pkg/wire"
)

// ErrBadInput marks request problems the caller can fix, as opposed to
// device failures.
var ErrBadInput = errors.New("bad input")

// Staged file names, matching what flash tooling expects.
const (
	ImageFile = "model_fp32.bin"
	MetaFile  = "model_meta.json"
)

// Manager owns the gateway's side of the device link. The link is one
// physical line, so every probe, batch and flash runs under one lock.
type Manager struct {
	// LinkURL locates the device, e.g. serial:///dev/ttyACM0?baud=115200.
	LinkURL string
	// ProbeWait bounds a metadata query.
	ProbeWait time.Duration
	// InferWait bounds each single-sample inference.
	InferWait time.Duration
	// StageDir receives uploaded model images before flashing.
	StageDir string
	// FlashCmd is an optional shell command run after staging; the
	// staged paths are exported as EDGEFLOW_IMAGE and EDGEFLOW_META.
	FlashCmd string
	// FlashWait bounds the flash command.
	FlashWait time.Duration
	// SettleWait gives the device time to reboot after flashing.
	SettleWait time.Duration

	lock sync.Mutex
}

// BatchResult summarizes one inference batch.
type BatchResult struct {
	Header      model.Header
	N           int
	Pred        []float32 // N rows of H floats each
	PerSampleMS []float64
	TotalMS     float64
}

// MeanPerSampleMS averages the per-sample latencies.
func (r *BatchResult) MeanPerSampleMS() float64 {
	if len(r.PerSampleMS) == 0 {
		return 0
	}
	var sum float64
	for _, ms := range r.PerSampleMS {
		sum += ms
	}
	return sum / float64(len(r.PerSampleMS))
}

// Rows splits the flat prediction into per-sample rows.
func (r *BatchResult) Rows() [][]float32 {
	h := int(r.Header.H)
	rows := make([][]float32, r.N)
	for i := range rows {
		rows[i] = r.Pred[i*h : (i+1)*h]
	}
	return rows
}

// FlashResult summarizes one model deployment.
type FlashResult struct {
	Header  model.Header
	FlashMS float64
}

// Info probes the device for its model metadata.
func (m *Manager) Info() (model.Header, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.probe()
}

func (m *Manager) probe() (model.Header, error) {
	var hdr model.Header
	err := m.withClient(func(c *wire.Client) error {
		c.ReplyWait = m.ProbeWait
		var err error
		hdr, err = c.QueryInfo()
		return err
	})
	return hdr, err
}

func (m *Manager) withClient(fn func(c *wire.Client) error) error {
	link, err := transport.Dial(m.LinkURL)
	if err != nil {
		return fmt.Errorf("device link: %v", err)
	}
	defer link.Close()
	return fn(wire.NewClient(link))
}

// Infer runs x through the device, one window per sample. The input
// shape must be (T, F) for a single window or (N, T, F) for a batch.
func (m *Manager) Infer(x *npy.Array) (*BatchResult, error) {
	shape := x.Shape
	if len(shape) == 2 {
		shape = []int{1, shape[0], shape[1]}
	}
	if len(shape) != 3 {
		return nil, fmt.Errorf("input must have shape (T,F) or (N,T,F), got %v: %w",
			x.Shape, ErrBadInput)
	}
	if len(x.Data) != npy.Elems(shape) {
		return nil, fmt.Errorf("input carries %d floats, shape %v wants %d: %w",
			len(x.Data), x.Shape, npy.Elems(shape), ErrBadInput)
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	start := time.Now()
	var res *BatchResult
	err := m.withClient(func(c *wire.Client) error {
		c.ReplyWait = m.ProbeWait
		hdr, err := c.QueryInfo()
		if err != nil {
			return err
		}
		if shape[1] != int(hdr.T) || shape[2] != int(hdr.F) {
			return fmt.Errorf("shape mismatch: got %v, device expects (N,%d,%d): %w",
				x.Shape, hdr.T, hdr.F, ErrBadInput)
		}

		n := shape[0]
		window := int(hdr.T) * int(hdr.F)
		res = &BatchResult{
			Header:      hdr,
			N:           n,
			Pred:        make([]float32, 0, n*int(hdr.H)),
			PerSampleMS: make([]float64, 0, n),
		}
		c.ReplyWait = m.InferWait
		for i := 0; i < n; i++ {
			ts := time.Now()
			pred, err := c.Infer(x.Data[i*window : (i+1)*window])
			if err != nil {
				return fmt.Errorf("sample %d: %w", i, err)
			}
			if len(pred) != int(hdr.H) {
				return fmt.Errorf("sample %d: %d floats predicted, device claims H=%d",
					i, len(pred), hdr.H)
			}
			res.Pred = append(res.Pred, pred...)
			res.PerSampleMS = append(res.PerSampleMS, msSince(ts))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	res.TotalMS = msSince(start)
	return res, nil
}

// Flash stages a model image (and optional meta document), runs the
// flash command, then re-probes the rebooted device.
func (m *Manager) Flash(image, meta []byte) (*FlashResult, error) {
	// Refuse obviously broken images before touching the device.
	hdr, err := model.DecodeHeader(image)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrBadInput)
	}
	if want := hdr.ImageLen(); len(image) != want {
		return nil, fmt.Errorf("image is %d bytes, header %v wants %d: %w",
			len(image), hdr, want, ErrBadInput)
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	start := time.Now()
	imagePath := filepath.Join(m.StageDir, ImageFile)
	if err := atomicWrite(imagePath, image); err != nil {
		return nil, err
	}
	metaPath := ""
	if meta != nil {
		metaPath = filepath.Join(m.StageDir, MetaFile)
		if err := atomicWrite(metaPath, meta); err != nil {
			return nil, err
		}
	}

	if m.FlashCmd != "" {
		if err := m.runFlashCmd(imagePath, metaPath); err != nil {
			return nil, err
		}
	}
	if m.SettleWait > 0 {
		time.Sleep(m.SettleWait)
	}

	probed, err := m.probe()
	if err != nil {
		return nil, fmt.Errorf("device after flash: %v", err)
	}
	glog.Infof("flashed model %v in %.0fms", probed, msSince(start))
	return &FlashResult{Header: probed, FlashMS: msSince(start)}, nil
}

func (m *Manager) runFlashCmd(imagePath, metaPath string) error {
	wait := m.FlashWait
	if wait == 0 {
		wait = 10 * time.Minute
	}
	cmd := exec.Command("/bin/sh", "-c", m.FlashCmd)
	cmd.Env = append(os.Environ(),
		"EDGEFLOW_IMAGE="+imagePath,
		"EDGEFLOW_META="+metaPath,
		"EDGEFLOW_DEVICE="+m.LinkURL,
	)
	out, err := runWithTimeout(cmd, wait)
	if err != nil {
		return fmt.Errorf("flash command: %v\n%s", err, out)
	}
	glog.V(1).Infof("flash command done:\n%s", out)
	return nil
}

func runWithTimeout(cmd *exec.Cmd, wait time.Duration) ([]byte, error) {
	type result struct {
		out []byte
		err error
	}
	resCh := make(chan result, 1)
	go func() {
		out, err := cmd.CombinedOutput()
		resCh <- result{out, err}
	}()
	select {
	case res := <-resCh:
		return res.out, res.err
	case <-time.After(wait):
		if cmd.Process != nil {
			cmd.Process.Kill()
		}
		res := <-resCh
		return res.out, fmt.Errorf("timed out after %v", wait)
	}
}

func atomicWrite(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000
}
