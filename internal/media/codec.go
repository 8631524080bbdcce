// Package media holds the voice codec table and the per-line RTP framer.
package media

import (
	"strconv"
	"time"
)

// Payload types outside the negotiated codec that still arrive on the wire.
const (
	// PayloadTypeCN is comfort noise (RFC 3389).
	PayloadTypeCN = 13
)

// Codec describes one voice encoding as carried between the line device and
// the transport. PayloadType is the RTP payload type used on the wire,
// FrameBytes/FrameSamples describe one native encoder frame, and PTime is
// that frame's duration.
type Codec struct {
	Name         string
	PayloadType  uint8
	SampleRate   int
	PTime        time.Duration
	FrameBytes   int
	FrameSamples int
	// HalfRate marks codecs whose RTP timestamp clock runs at half the
	// sampling rate (G.722, RFC 3551 section 4.5.2).
	HalfRate bool
}

var (
	CodecPCMU = Codec{Name: "PCMU", PayloadType: 0, SampleRate: 8000, PTime: 10 * time.Millisecond, FrameBytes: 80, FrameSamples: 80}
	CodecPCMA = Codec{Name: "PCMA", PayloadType: 8, SampleRate: 8000, PTime: 10 * time.Millisecond, FrameBytes: 80, FrameSamples: 80}
	CodecG722 = Codec{Name: "G722", PayloadType: 9, SampleRate: 16000, PTime: 20 * time.Millisecond, FrameBytes: 160, FrameSamples: 320, HalfRate: true}
	CodecG729 = Codec{Name: "G729", PayloadType: 18, SampleRate: 8000, PTime: 10 * time.Millisecond, FrameBytes: 10, FrameSamples: 80}
	CodecG726 = Codec{Name: "G726-32", PayloadType: 101, SampleRate: 8000, PTime: 10 * time.Millisecond, FrameBytes: 40, FrameSamples: 80}
	CodecILBC = Codec{Name: "iLBC", PayloadType: 102, SampleRate: 8000, PTime: 30 * time.Millisecond, FrameBytes: 50, FrameSamples: 240}
	// Slinear passthrough, 16-bit samples.
	CodecSLIN8  = Codec{Name: "L16", PayloadType: 103, SampleRate: 8000, PTime: 10 * time.Millisecond, FrameBytes: 160, FrameSamples: 80}
	CodecSLIN16 = Codec{Name: "L16-16", PayloadType: 104, SampleRate: 16000, PTime: 10 * time.Millisecond, FrameBytes: 320, FrameSamples: 160}
	CodecSiren7 = Codec{Name: "SIREN7", PayloadType: 105, SampleRate: 16000, PTime: 20 * time.Millisecond, FrameBytes: 80, FrameSamples: 320}
	CodecG7221  = Codec{Name: "G7221", PayloadType: 100, SampleRate: 16000, PTime: 20 * time.Millisecond, FrameBytes: 80, FrameSamples: 320}
	// G.723.1 at 6.3 and 5.3 kbit/s share the 30ms frame duration.
	CodecG72363 = Codec{Name: "G723", PayloadType: 4, SampleRate: 8000, PTime: 30 * time.Millisecond, FrameBytes: 24, FrameSamples: 240}
	CodecG72353 = Codec{Name: "G723-53", PayloadType: 106, SampleRate: 8000, PTime: 30 * time.Millisecond, FrameBytes: 20, FrameSamples: 240}
)

var codecs = []Codec{
	CodecPCMU, CodecPCMA, CodecG722, CodecG729, CodecG726, CodecILBC,
	CodecSLIN8, CodecSLIN16, CodecSiren7, CodecG7221, CodecG72363, CodecG72353,
}

// ByName looks a codec up by its table name.
func ByName(name string) (Codec, bool) {
	for _, c := range codecs {
		if c.Name == name {
			return c, true
		}
	}
	return Codec{}, false
}

// ByPayloadType looks a codec up by its RTP payload type.
func ByPayloadType(pt uint8) (Codec, bool) {
	for _, c := range codecs {
		if c.PayloadType == pt {
			return c, true
		}
	}
	return Codec{}, false
}

// Samples converts an encoded byte count to a sample count for this codec.
func (c Codec) Samples(bytes int) int {
	if c.FrameBytes == 0 {
		return 0
	}
	return bytes * c.FrameSamples / c.FrameBytes
}

// TimestampAdvance is the RTP timestamp increment for a chunk of the given
// sample count, applying the half-rate convention where required.
func (c Codec) TimestampAdvance(samples int) uint32 {
	if c.HalfRate {
		return uint32(samples / 2)
	}
	return uint32(samples)
}

// ClockRate is the RTP timestamp clock rate advertised for this codec.
func (c Codec) ClockRate() int {
	if c.HalfRate {
		return c.SampleRate / 2
	}
	return c.SampleRate
}

// RTPMap renders the rtpmap attribute value, e.g. "PCMU/8000".
func (c Codec) RTPMap() string {
	return c.Name + "/" + strconv.Itoa(c.ClockRate())
}
