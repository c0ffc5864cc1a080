package main

//go-build: CGO_ENABLED=0

import (
	"encoding/binary"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/edgeflow/edgeflow.go/pkg/model"
	"github.com/edgeflow/edgeflow.go/pkg/npy"
)

var (
	dimT      = 24
	dimF      = 6
	dimH      = 3
	dimHidden = 16
	seed      = int64(1)
	inputPath = ""
)

func init() {
	flag.IntVar(&dimT, "T", dimT, "Window length in timesteps.")
	flag.IntVar(&dimF, "F", dimF, "Features per timestep.")
	flag.IntVar(&dimH, "H", dimH, "Output width.")
	flag.IntVar(&dimHidden, "hidden", dimHidden, "Hidden state width.")
	flag.Int64Var(&seed, "seed", seed, "Random seed for dummy weights.")
	flag.StringVar(&inputPath, "input", inputPath,
		"Also write a matching dummy input batch (.npy).")
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage:
  %[1]s show FILE.bin
  %[1]s [-T N -F N -H N -hidden N -seed N] [-input IN.npy] dummy FILE.bin
  %[1]s pack META.json WEIGHTS.bin FILE.bin

pack reads {"T","F","H","hidden"} from META.json and raw little-endian
float32 weights in image region order from WEIGHTS.bin.
`, filepath.Base(os.Args[0]))
	os.Exit(2)
}

func main() {
	flag.Parse()
	args := flag.Args()
	if len(args) < 1 {
		usage()
	}
	var err error
	switch args[0] {
	case "show":
		err = runShow(args[1:])
	case "dummy":
		err = runDummy(args[1:])
	case "pack":
		err = runPack(args[1:])
	default:
		usage()
	}
	if err != nil {
		log.Fatalln(err)
	}
}

func runShow(args []string) error {
	if len(args) != 1 {
		usage()
	}
	mctx, err := model.Load(args[0])
	if err != nil {
		return err
	}
	defer mctx.Release()

	lay := mctx.Header.Layout()
	fmt.Printf("%v\n", mctx.Header)
	fmt.Printf("  input weights   %8d\n", lay.InputWeights)
	fmt.Printf("  hidden weights  %8d\n", lay.HiddenWeights)
	fmt.Printf("  gate bias       %8d\n", lay.GateBias)
	fmt.Printf("  readout         %8d\n", lay.Readout)
	fmt.Printf("  readout bias    %8d\n", lay.ReadoutBias)
	fmt.Printf("  total           %8d floats, %d bytes on disk\n",
		lay.Total(), mctx.Header.ImageLen())
	return nil
}

func runDummy(args []string) error {
	if len(args) != 1 {
		usage()
	}
	hdr, err := checkDims(dimT, dimF, dimH, dimHidden)
	if err != nil {
		return err
	}
	w := model.NewWeights(hdr)
	rnd := rand.New(rand.NewSource(seed))
	for _, region := range [][]float32{
		w.InputWeights, w.HiddenWeights, w.GateBias, w.Readout, w.ReadoutBias,
	} {
		for i := range region {
			region[i] = (rnd.Float32()*2 - 1) * 0.1
		}
	}
	if err = writeImageFile(args[0], hdr, w); err != nil {
		return err
	}
	fmt.Printf("%s: %v, %d floats\n", args[0], hdr, hdr.Layout().Total())

	if inputPath == "" {
		return nil
	}
	in := &npy.Array{
		Shape: []int{1, int(hdr.T), int(hdr.F)},
		Data:  make([]float32, hdr.InputLen()),
	}
	for i := range in.Data {
		in.Data[i] = rnd.Float32()*2 - 1
	}
	if err = saveArray(inputPath, in); err != nil {
		return err
	}
	fmt.Printf("%s: input batch %v\n", inputPath, in.Shape)
	return nil
}

type metaDoc struct {
	T      int `json:"T"`
	F      int `json:"F"`
	H      int `json:"H"`
	Hidden int `json:"hidden"`
}

func runPack(args []string) error {
	if len(args) != 3 {
		usage()
	}
	metaRaw, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	var meta metaDoc
	if err = json.Unmarshal(metaRaw, &meta); err != nil {
		return fmt.Errorf("%s: %v", args[0], err)
	}
	hdr, err := checkDims(meta.T, meta.F, meta.H, meta.Hidden)
	if err != nil {
		return err
	}

	raw, err := os.ReadFile(args[1])
	if err != nil {
		return err
	}
	lay := hdr.Layout()
	if len(raw) != 4*lay.Total() {
		return fmt.Errorf("%s is %d bytes, %v wants %d",
			args[1], len(raw), hdr, 4*lay.Total())
	}
	floats := make([]float32, lay.Total())
	for i := range floats {
		floats[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	}

	w := &model.Weights{}
	next := floats
	for _, region := range []struct {
		dst *[]float32
		n   int
	}{
		{&w.InputWeights, lay.InputWeights},
		{&w.HiddenWeights, lay.HiddenWeights},
		{&w.GateBias, lay.GateBias},
		{&w.Readout, lay.Readout},
		{&w.ReadoutBias, lay.ReadoutBias},
	} {
		*region.dst, next = next[:region.n], next[region.n:]
	}

	if err = writeImageFile(args[2], hdr, w); err != nil {
		return err
	}
	fmt.Printf("%s: %v, %d floats\n", args[2], hdr, lay.Total())
	return nil
}

func checkDims(t, f, h, hidden int) (model.Header, error) {
	dims := []struct {
		name string
		val  int
	}{
		{"T", t}, {"F", f}, {"H", h}, {"hidden", hidden},
	}
	for _, d := range dims {
		if d.val <= 0 || d.val > 0xffff {
			return model.Header{}, fmt.Errorf("%s out of range: %d", d.name, d.val)
		}
	}
	hdr := model.Header{
		T:      uint16(t),
		F:      uint16(f),
		H:      uint16(h),
		Hidden: uint16(hidden),
	}
	return hdr, hdr.Validate()
}

func writeImageFile(path string, hdr model.Header, w *model.Weights) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err = model.WriteImage(file, hdr, w); err != nil {
		file.Close()
		return err
	}
	return file.Close()
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
