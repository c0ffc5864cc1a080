package device

import (
	"encoding/hex"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/abiosoft/ishell"

	"github.com/edgeflow/edgeflow.go/pkg/cli/sh"
	"github.com/edgeflow/edgeflow.go/pkg/npy"
	"github.com/edgeflow/edgeflow.go/pkg/telemetry"
	"github.com/edgeflow/edgeflow.go/pkg/wire"
)

var (
	// InfoCmd queries model metadata from the connected device.
	InfoCmd = ishell.Cmd{
		Name:    "info",
		Aliases: []string{"i"},
		Help:    "",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			s := sh.ShellFrom(c)
			hdr, err := s.Conn.Client.QueryInfo()
			if err != nil {
				c.Err(err)
				return
			}
			s.Conn.Info = hdr
			if s.OutputJSON {
				sh.PrintJSON(c, telemetry.ModelInfoOf(hdr))
				return
			}
			c.Println(sh.FormatInfo(hdr))
		}),
	}

	// InferCmd runs windows from a .npy file through the device.
	InferCmd = ishell.Cmd{
		Name:    "infer",
		Aliases: []string{"x"},
		Help:    "FILE.npy [OUT.npy]",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			if len(c.Args) < 1 {
				c.Err(fmt.Errorf("FILE required"))
				return
			}
			s := sh.ShellFrom(c)
			arr, err := loadArray(c.Args[0])
			if err != nil {
				c.Err(err)
				return
			}
			shape := arr.Shape
			if len(shape) == 2 {
				shape = []int{1, shape[0], shape[1]}
			}
			info := s.Conn.Info
			if len(shape) != 3 || shape[1] != int(info.T) || shape[2] != int(info.F) {
				c.Err(fmt.Errorf("Invalid input shape %v, device expects (N,%d,%d)",
					arr.Shape, info.T, info.F))
				return
			}

			n, h := shape[0], int(info.H)
			window := int(info.T) * int(info.F)
			pred := make([]float32, 0, n*h)
			start := time.Now()
			for i := 0; i < n; i++ {
				out, err := s.Conn.Client.Infer(arr.Data[i*window : (i+1)*window])
				if err != nil {
					c.Err(fmt.Errorf("sample %d: %v", i, err))
					return
				}
				pred = append(pred, out...)
			}
			elapsed := time.Since(start)

			if len(c.Args) > 1 {
				out := &npy.Array{Shape: []int{n, h}, Data: pred}
				if err = saveArray(c.Args[1], out); err != nil {
					c.Err(err)
					return
				}
				c.Printf("%d samples in %v, saved %s\n", n, elapsed, c.Args[1])
				return
			}
			if s.OutputJSON {
				sh.PrintJSON(c, rows(pred, h))
				return
			}
			for i := 0; i < n; i++ {
				c.Printf("[%d]", i)
				for _, v := range pred[i*h : (i+1)*h] {
					c.Printf(" %.6f", v)
				}
				c.Println()
			}
			c.Printf("%d samples in %v\n", n, elapsed)
		}),
	}

	// ScanCmd feeds bytes to a local marker scanner, for poking at
	// captured line noise without a device.
	ScanCmd = ishell.Cmd{
		Name: "scan",
		Help: "HEX|TEXT",
		Func: func(c *ishell.Context) {
			if len(c.Args) < 1 {
				c.Err(fmt.Errorf("BYTES required, hex digits or literal text"))
				return
			}
			data, err := hex.DecodeString(strings.Join(c.Args, ""))
			if err != nil {
				data = []byte(strings.Join(c.Args, " "))
			}
			var sc wire.Scanner
			hits := 0
			for i, b := range data {
				if m, ok := sc.Feed(b); ok {
					c.Printf("%4d %v\n", i, m)
					hits++
				}
			}
			win := sc.Window()
			c.Printf("%d bytes, %d markers, window % x\n", len(data), hits, win[:])
		},
	}

	// BenchCmd measures device round trips with random windows.
	BenchCmd = ishell.Cmd{
		Name: "bench",
		Help: "[N]",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			n := 10
			if len(c.Args) > 0 {
				val, err := strconv.Atoi(c.Args[0])
				if err != nil || val <= 0 {
					c.Err(fmt.Errorf("Invalid N: %q", c.Args[0]))
					return
				}
				n = val
			}
			s := sh.ShellFrom(c)
			in := make([]float32, s.Conn.Info.InputLen())
			var min, max, sum float64
			for i := 0; i < n; i++ {
				for j := range in {
					in[j] = rand.Float32()*2 - 1
				}
				start := time.Now()
				if _, err := s.Conn.Client.Infer(in); err != nil {
					c.Err(fmt.Errorf("round %d: %v", i, err))
					return
				}
				ms := float64(time.Since(start).Microseconds()) / 1000
				sum += ms
				if i == 0 || ms < min {
					min = ms
				}
				if ms > max {
					max = ms
				}
			}
			if s.OutputJSON {
				sh.PrintJSON(c, map[string]interface{}{
					"n": n, "min_ms": min, "mean_ms": sum / float64(n), "max_ms": max,
				})
				return
			}
			c.Printf("%d round trips: min %.2fms mean %.2fms max %.2fms\n",
				n, min, sum/float64(n), max)
		}),
	}
)

func rows(pred []float32, h int) [][]float32 {
	out := make([][]float32, 0, len(pred)/h)
	for i := 0; i+h <= len(pred); i += h {
		out = append(out, pred[i:i+h])
	}
	return out
}

func loadArray(path string) (*npy.Array, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return npy.Decode(f)
}

func saveArray(path string, arr *npy.Array) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err = npy.Encode(f, arr); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func init() {
	sh.AddCmds(
		&InfoCmd,
		&InferCmd,
		&BenchCmd,
		&ScanCmd,
	)
}
