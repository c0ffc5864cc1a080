package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang/glog"
	"github.com/google/uuid"

	"github.com/edgeflow/edgeflow.go/pkg/model"
	"github.com/edgeflow/edgeflow.go/pkg/npy"
	"github.com/edgeflow/edgeflow.go/pkg/wire"
)

// Server exposes the device over HTTP.
type Server struct {
	// ID names this gateway in health responses, usually the
	// telemetry endpoint ID.
	ID string

	conf *Config
	mgr  *Manager
}

// NewServer builds an HTTP server around a device manager.
func NewServer(conf *Config, mgr *Manager) *Server {
	return &Server{conf: conf, mgr: mgr}
}

// WithID sets the gateway ID.
func (s *Server) WithID(id string) *Server {
	s.ID = id
	return s
}

// Routes builds the HTTP router.
func (s *Server) Routes() *gin.Engine {
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowWildcard = true
	corsConfig.AllowBrowserExtensions = true
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowHeaders = []string{
		"Authorization",
		"Content-Type",
		"User-Agent",
		"Accept",
		"X-Requested-With",
		"X-Request-Id",
	}

	r := gin.Default()
	r.HandleMethodNotAllowed = true
	r.Use(
		cors.New(corsConfig),
		requestID(),
	)

	r.HEAD("/", func(c *gin.Context) { c.String(http.StatusOK, "EdgeFlow gateway is running") })
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, "EdgeFlow gateway is running") })

	r.GET("/health", s.HealthHandler)
	r.GET("/v2/info", s.InfoHandler)
	r.POST("/v2/infer", s.InferHandler)
	r.POST("/v2/infer_npy", s.InferNpyHandler)

	return r
}

// Run serves HTTP until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.conf.Addr(), Handler: s.Routes()}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	glog.Infof("gateway listening on %s, device at %s", s.conf.Addr(), s.conf.DeviceURL)
	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

// HealthHandler probes the device and reports liveness.
func (s *Server) HealthHandler(c *gin.Context) {
	hdr, err := s.mgr.Info()
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":     true,
		"device": deviceJSON(hdr),
		"link":   s.conf.DeviceURL,
		"id":     s.ID,
	})
}

// InfoHandler reports the deployed model's shape.
func (s *Server) InfoHandler(c *gin.Context) {
	hdr, err := s.mgr.Info()
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":     true,
		"model":  "v2",
		"device": deviceJSON(hdr),
		"link":   s.conf.DeviceURL,
		"id":     s.ID,
	})
}

// InferHandler runs an uploaded batch and returns predictions as JSON.
// The multipart form carries input_npy, plus optional model_bin and
// model_meta files that are flashed before inference.
func (s *Server) InferHandler(c *gin.Context) {
	up, ok := s.readUpload(c)
	if !ok {
		return
	}
	batch, flashMS, ok := s.serveBatch(c, up)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":     true,
		"device": deviceJSON(batch.Header),
		"timing_ms": gin.H{
			"flash":           flashMS,
			"total":           batch.TotalMS,
			"mean_per_sample": batch.MeanPerSampleMS(),
		},
		"pred": batch.Rows(),
	})
}

// InferNpyHandler runs an uploaded batch and returns the raw (N, H)
// prediction array.
func (s *Server) InferNpyHandler(c *gin.Context) {
	up, ok := s.readUpload(c)
	if !ok {
		return
	}
	batch, _, ok := s.serveBatch(c, up)
	if !ok {
		return
	}
	var buf bytes.Buffer
	out := &npy.Array{Shape: []int{batch.N, int(batch.Header.H)}, Data: batch.Pred}
	if err := npy.Encode(&buf, out); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		return
	}
	c.Header("Content-Disposition", `attachment; filename="pred.npy"`)
	c.Data(http.StatusOK, "application/octet-stream", buf.Bytes())
}

type inferUpload struct {
	input *npy.Array
	image []byte
	meta  []byte
}

func (s *Server) readUpload(c *gin.Context) (*inferUpload, bool) {
	fh, err := c.FormFile("input_npy")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "input_npy file is required"})
		return nil, false
	}
	arr, err := readNpy(fh)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": fmt.Sprintf("input_npy: %v", err)})
		return nil, false
	}
	up := &inferUpload{input: arr}
	if fh, err := c.FormFile("model_bin"); err == nil {
		if up.image, err = readFile(fh); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": fmt.Sprintf("model_bin: %v", err)})
			return nil, false
		}
	}
	if fh, err := c.FormFile("model_meta"); err == nil {
		if up.meta, err = readFile(fh); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": fmt.Sprintf("model_meta: %v", err)})
			return nil, false
		}
	}
	return up, true
}

func (s *Server) serveBatch(c *gin.Context, up *inferUpload) (*BatchResult, float64, bool) {
	var flashMS float64
	if up.image != nil {
		res, err := s.mgr.Flash(up.image, up.meta)
		if err != nil {
			s.fail(c, err)
			return nil, 0, false
		}
		flashMS = res.FlashMS
	}
	batch, err := s.mgr.Infer(up.input)
	if err != nil {
		s.fail(c, err)
		return nil, 0, false
	}
	return batch, flashMS, true
}

func (s *Server) fail(c *gin.Context, err error) {
	status := http.StatusBadGateway
	switch {
	case errors.Is(err, ErrBadInput):
		status = http.StatusBadRequest
	case errors.Is(err, wire.ErrTimeout):
		status = http.StatusGatewayTimeout
	}
	c.JSON(status, gin.H{"ok": false, "error": err.Error()})
}

func deviceJSON(hdr model.Header) gin.H {
	return gin.H{"T": hdr.T, "F": hdr.F, "H": hdr.H, "hidden": hdr.Hidden}
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		c.Header("X-Request-Id", id)
		c.Next()
	}
}

func readNpy(fh *multipart.FileHeader) (*npy.Array, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return npy.Decode(f)
}

func readFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
