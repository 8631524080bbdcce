package media

import (
	"errors"
	"fmt"

	"github.com/pion/rtp"
)

const (
	// TransportBufferLen is the size of the buffer exchanged with the line
	// device, header included.
	TransportBufferLen = 512
	headerLen          = 12
	// MaxPayload is the largest voice payload a single transport packet
	// can carry.
	MaxPayload = TransportBufferLen - headerLen
)

// ErrComfortNoise marks an incoming comfort noise packet. Callers drop the
// packet without raising an error.
var ErrComfortNoise = errors.New("comfort noise payload")

// PayloadTypeError reports a packet whose payload type does not match the
// negotiated codec. Callers drop the packet without raising an error.
type PayloadTypeError struct {
	Got, Want uint8
}

func (e *PayloadTypeError) Error() string {
	return fmt.Sprintf("payload type mismatch: got %d, want %d", e.Got, e.Want)
}

// VoiceFrame is one decoded chunk of voice payload tagged with its codec.
type VoiceFrame struct {
	Codec   Codec
	Payload []byte
	Samples int
}

// Framer packetizes outgoing voice into RTP transport packets and strips the
// header off incoming ones. Sequence and timestamp state advance only in
// Packetize, so Depacketize may run concurrently from another goroutine.
type Framer struct {
	codec Codec
	seq   uint16
	ts    uint32
}

func NewFramer(codec Codec) *Framer {
	return &Framer{codec: codec}
}

func (f *Framer) Codec() Codec { return f.codec }

// Sequence returns the next sequence number Packetize will emit.
func (f *Framer) Sequence() uint16 { return f.seq }

// Timestamp returns the next timestamp Packetize will emit.
func (f *Framer) Timestamp() uint32 { return f.ts }

// Packetize splits payload into transport packets. Every packet carries a
// fixed 12-byte RTP header: version 2, no padding, no extension, no CSRCs,
// marker clear, SSRC zero. Chunks are the largest multiple of the codec's
// native frame length that fits in MaxPayload, with the remainder in the
// final packet. An empty payload yields no packets.
func (f *Framer) Packetize(payload []byte) ([][]byte, error) {
	if len(payload) == 0 {
		return nil, nil
	}

	chunk := f.codec.FrameBytes * (MaxPayload / f.codec.FrameBytes)
	if chunk <= 0 {
		chunk = MaxPayload
	}

	var packets [][]byte
	for off := 0; off < len(payload); {
		n := chunk
		if rem := len(payload) - off; rem < n {
			n = rem
		}

		pkt := rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				PayloadType:    f.codec.PayloadType,
				SequenceNumber: f.seq,
				Timestamp:      f.ts,
				SSRC:           0,
			},
			Payload: payload[off : off+n],
		}
		buf, err := pkt.Marshal()
		if err != nil {
			return nil, fmt.Errorf("marshal transport packet: %w", err)
		}
		packets = append(packets, buf)

		f.seq++
		f.ts += f.codec.TimestampAdvance(f.codec.Samples(n))
		off += n
	}
	return packets, nil
}

// Depacketize parses one transport packet and returns its voice payload.
// Comfort noise returns ErrComfortNoise; a payload type other than the
// negotiated codec's returns a *PayloadTypeError.
func (f *Framer) Depacketize(data []byte) (VoiceFrame, error) {
	var pkt rtp.Packet
	if err := pkt.Unmarshal(data); err != nil {
		return VoiceFrame{}, fmt.Errorf("parse transport packet: %w", err)
	}
	if pkt.PayloadType == PayloadTypeCN {
		return VoiceFrame{}, ErrComfortNoise
	}
	if pkt.PayloadType != f.codec.PayloadType {
		return VoiceFrame{}, &PayloadTypeError{Got: pkt.PayloadType, Want: f.codec.PayloadType}
	}
	return VoiceFrame{
		Codec:   f.codec,
		Payload: pkt.Payload,
		Samples: f.codec.Samples(len(pkt.Payload)),
	}, nil
}
