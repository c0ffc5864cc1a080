package main

//go-build: CGO_ENABLED=0

import (
	"flag"

	"github.com/golang/glog"

	fx "github.com/edgeflow/edgeflow.go/pkg/framework"
	"github.com/edgeflow/edgeflow.go/pkg/gateway"
	"github.com/edgeflow/edgeflow.go/pkg/telemetry"
)

func init() {
	gateway.SetupFlags()
	telemetry.SetupFlags()
}

func main() {
	flag.Parse()

	conf := gateway.Default()
	srv := gateway.NewServer(conf, conf.NewManager())

	runner := fx.NewRunner().HandleSignals()
	tconf := telemetry.Default()
	if tconf.Enabled() {
		id := tconf.EndpointID() + "-gw"
		presence, err := telemetry.NewPresence(tconf.BrokerURL, id, telemetry.Meta{
			Kind: "gateway",
			Link: conf.DeviceURL,
		})
		if err != nil {
			glog.Exitf("telemetry: %v", err)
		}
		srv.WithID(id)
		runner.Go(fx.NamedRun("telemetry", presence))
	}

	runner.Go(fx.NamedRun("http", srv))
	if err := runner.Wait(); err != nil {
		glog.Exit(err)
	}
}
