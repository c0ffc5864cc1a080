package main

import (
	"github.com/edgeflow/edgeflow.go/pkg/cli/sh"
	"github.com/edgeflow/edgeflow.go/pkg/telemetry"

	_ "github.com/edgeflow/edgeflow.go/pkg/cli/cmds/device"
)

//go-build: CGO_ENABLED=0

func init() {
	sh.SetupFlags()
	telemetry.SetupFlags()
}

func main() {
	sh.Main()
}
