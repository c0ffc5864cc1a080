package main

//go-build: CGO_ENABLED=0

import (
	"context"
	"errors"
	"flag"
	"os"
	"runtime"
	"strconv"

	"github.com/golang/glog"

	fx "github.com/edgeflow/edgeflow.go/pkg/framework"
	"github.com/edgeflow/edgeflow.go/pkg/infer"
	"github.com/edgeflow/edgeflow.go/pkg/model"
	"github.com/edgeflow/edgeflow.go/pkg/telemetry"
	"github.com/edgeflow/edgeflow.go/pkg/transport"
	"github.com/edgeflow/edgeflow.go/pkg/wire"
)

var (
	modelPath = "model_fp32.bin"
	listenURL = "tcp://:8555"
	memFloats = 0
)

func init() {
	if val := os.Getenv("EDGEFLOW_MODEL"); val != "" {
		modelPath = val
	}
	if val := os.Getenv("EDGEFLOW_LISTEN"); val != "" {
		listenURL = val
	}
	if val := os.Getenv("EDGEFLOW_MEM_FLOATS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			memFloats = n
		}
	}
	flag.StringVar(&modelPath, "model", modelPath, "Model image path.")
	flag.StringVar(&listenURL, "listen", listenURL, "Serving link URL.")
	flag.IntVar(&memFloats, "mem-floats", memFloats,
		"Cap model memory to this many floats, 0 for unlimited.")
	telemetry.SetupFlags()
}

// server accepts one link after another and serves it until it drops.
type server struct {
	lis      transport.Listener
	mctx     *model.Context
	eng      *infer.Engine
	observer wire.Observer
}

// Run implements framework.Runnable.
func (s *server) Run(ctx context.Context) error {
	return fx.RunWithContextCloser(ctx, s.lis, func() error {
		for {
			link, err := s.lis.Accept()
			if err != nil {
				if errors.Is(err, transport.ErrClosed) {
					return nil
				}
				return err
			}
			glog.Info("link up")
			d := wire.NewDispatcher(link, s.mctx, s.eng)
			d.Observer = s.observer
			err = d.Run(ctx)
			link.Close()
			if ctx.Err() != nil {
				return nil
			}
			glog.Infof("link down: %v", err)
		}
	})
}

func main() {
	flag.Parse()

	loader := &model.Loader{}
	if memFloats > 0 {
		loader.Pools = []model.Pool{&model.BudgetPool{Limit: memFloats}}
	}
	mctx, err := loader.Load(modelPath)
	if err != nil {
		glog.Exitf("load %q: %v", modelPath, err)
	}
	defer mctx.Release()
	glog.Infof("model %v, %d weights", mctx.Header, mctx.Header.Layout().Total())

	lis, err := transport.Listen(listenURL)
	if err != nil {
		glog.Exitf("listen %q: %v", listenURL, err)
	}
	glog.Infof("serving on %s", lis.Addr())

	runner := fx.NewRunner().HandleSignals()
	srv := &server{
		lis:  lis,
		mctx: mctx,
		eng:  infer.New(mctx).WithYield(runtime.Gosched),
	}

	tconf := telemetry.Default()
	if tconf.Enabled() {
		presence, err := tconf.NewPresence(telemetry.Meta{
			Kind:  "device",
			Link:  lis.Addr(),
			Model: telemetry.ModelInfoOf(mctx.Header),
		})
		if err != nil {
			glog.Exitf("telemetry: %v", err)
		}
		srv.observer = presence
		runner.Go(fx.NamedRun("telemetry", presence))
	}

	runner.Go(fx.NamedRun("serve", srv))
	if err := runner.Wait(); err != nil {
		glog.Exit(err)
	}
}
