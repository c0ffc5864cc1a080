// Package wire implements the model serving protocol.
package wire

// The protocol is a byte stream of marker-framed messages designed to
// survive noise (boot chatter, dropped bytes) on a shared serial line.
// Every frame starts with a 4-byte ASCII marker:
//
//	META  host asks for the model metadata
//	INFO  device replies with T, F, H and hidden as uint16
//	INFR  host submits a float-count word and one input window
//	PRED  device replies with a float-count word and the prediction
//
// All integers and floats are little-endian. A PRED frame with count
// zero refuses a malformed request and carries no payload. Receivers
// never trust stream alignment: they scan byte by byte for the next
// marker and treat everything else as noise.
//
// Producer: device daemon (Dispatcher)
// Consumer: gateway, console and tools (Client)
