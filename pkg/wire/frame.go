package wire

import (
	"encoding/binary"
	"math"

	"github.com/edgeflow/edgeflow.go/pkg/model"
)

// Frame geometry.
const (
	// MarkerLen is the byte size of a frame marker.
	MarkerLen = 4
	// InfoLen is a complete INFO frame: marker plus four uint16 dimensions.
	InfoLen = MarkerLen + 8
	// CountLen is the uint32 float-count word of INFR and PRED frames.
	CountLen = 4
)

// AppendInfo appends an INFO frame carrying hdr.
func AppendInfo(dst []byte, hdr model.Header) []byte {
	dst = append(dst, MarkerInfo[:]...)
	dst = binary.LittleEndian.AppendUint16(dst, hdr.T)
	dst = binary.LittleEndian.AppendUint16(dst, hdr.F)
	dst = binary.LittleEndian.AppendUint16(dst, hdr.H)
	return binary.LittleEndian.AppendUint16(dst, hdr.Hidden)
}

// ParseInfo decodes the 8-byte INFO payload that follows the marker.
func ParseInfo(p []byte) model.Header {
	return model.Header{
		T:      binary.LittleEndian.Uint16(p),
		F:      binary.LittleEndian.Uint16(p[2:]),
		H:      binary.LittleEndian.Uint16(p[4:]),
		Hidden: binary.LittleEndian.Uint16(p[6:]),
	}
}

// AppendInfer appends an INFR request frame carrying in.
func AppendInfer(dst []byte, in []float32) []byte {
	dst = append(dst, MarkerInfer[:]...)
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(in)))
	return AppendFloats(dst, in)
}

// AppendPred appends a PRED reply frame carrying vals.
func AppendPred(dst []byte, vals []float32) []byte {
	dst = append(dst, MarkerPred[:]...)
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(vals)))
	return AppendFloats(dst, vals)
}

// AppendReject appends the PRED frame refusing a request: count zero,
// no payload.
func AppendReject(dst []byte) []byte {
	dst = append(dst, MarkerPred[:]...)
	return binary.LittleEndian.AppendUint32(dst, 0)
}

// AppendFloats appends vals as little-endian float32 bits.
func AppendFloats(dst []byte, vals []float32) []byte {
	for _, v := range vals {
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(v))
	}
	return dst
}

// DecodeFloats fills dst from little-endian float32 bits; p must hold
// at least 4*len(dst) bytes.
func DecodeFloats(dst []float32, p []byte) {
	for i := range dst {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(p[4*i:]))
	}
}
