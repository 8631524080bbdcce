package media

import (
	"testing"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zaf/g711"
)

func pcmRamp(n int) []byte {
	// 16-bit little-endian ramp, n samples.
	buf := make([]byte, 2*n)
	for i := 0; i < n; i++ {
		v := int16(i * 13)
		buf[2*i] = byte(v)
		buf[2*i+1] = byte(v >> 8)
	}
	return buf
}

func TestPacketizeSingleFrame(t *testing.T) {
	f := NewFramer(CodecPCMU)

	payload := g711.EncodeUlaw(pcmRamp(160))
	require.Len(t, payload, 160)

	packets, err := f.Packetize(payload)
	require.NoError(t, err)
	require.Len(t, packets, 1, "160 bytes of PCMU fit one packet")

	var pkt rtp.Packet
	require.NoError(t, pkt.Unmarshal(packets[0]))
	assert.Equal(t, uint8(2), pkt.Version)
	assert.Equal(t, uint8(0), pkt.PayloadType)
	assert.Equal(t, uint16(0), pkt.SequenceNumber)
	assert.Equal(t, uint32(0), pkt.Timestamp)
	assert.Equal(t, uint32(0), pkt.SSRC)
	assert.False(t, pkt.Marker)
	assert.Equal(t, payload, pkt.Payload)

	assert.Equal(t, uint16(1), f.Sequence())
	assert.Equal(t, uint32(160), f.Timestamp(), "timestamp advances by sample count")
}

func TestPacketizeChunking(t *testing.T) {
	f := NewFramer(CodecPCMU)

	// 1200 bytes: chunk size is the largest multiple of 80 under 500,
	// which is 480, so the split is 480+480+240.
	payload := make([]byte, 1200)
	packets, err := f.Packetize(payload)
	require.NoError(t, err)
	require.Len(t, packets, 3)

	wantLens := []int{480, 480, 240}
	wantTS := []uint32{0, 480, 960}
	for i, raw := range packets {
		var pkt rtp.Packet
		require.NoError(t, pkt.Unmarshal(raw))
		assert.Equal(t, wantLens[i], len(pkt.Payload), "packet %d payload", i)
		assert.Equal(t, uint16(i), pkt.SequenceNumber, "packet %d sequence", i)
		assert.Equal(t, wantTS[i], pkt.Timestamp, "packet %d timestamp", i)
		assert.LessOrEqual(t, len(raw), TransportBufferLen)
	}
}

func TestPacketizeG722HalfRate(t *testing.T) {
	f := NewFramer(CodecG722)

	// One 20ms G.722 frame: 160 bytes, 320 samples, timestamp runs at
	// half rate so it advances by 160.
	packets, err := f.Packetize(make([]byte, 160))
	require.NoError(t, err)
	require.Len(t, packets, 1)
	assert.Equal(t, uint32(160), f.Timestamp())
}

func TestPacketizeEmptyPayload(t *testing.T) {
	f := NewFramer(CodecPCMU)

	packets, err := f.Packetize(nil)
	require.NoError(t, err)
	assert.Empty(t, packets)
	assert.Equal(t, uint16(0), f.Sequence())
}

func TestRoundTrip(t *testing.T) {
	tx := NewFramer(CodecPCMA)
	rx := NewFramer(CodecPCMA)

	payload := g711.EncodeAlaw(pcmRamp(600))
	packets, err := tx.Packetize(payload)
	require.NoError(t, err)

	var got []byte
	var samples int
	for _, raw := range packets {
		frame, err := rx.Depacketize(raw)
		require.NoError(t, err)
		assert.Equal(t, CodecPCMA.Name, frame.Codec.Name)
		got = append(got, frame.Payload...)
		samples += frame.Samples
	}
	assert.Equal(t, payload, got, "payload survives the round trip")
	assert.Equal(t, 600, samples)
}

func TestDepacketizeComfortNoise(t *testing.T) {
	f := NewFramer(CodecPCMU)

	pkt := rtp.Packet{
		Header:  rtp.Header{Version: 2, PayloadType: PayloadTypeCN},
		Payload: []byte{0x40},
	}
	raw, err := pkt.Marshal()
	require.NoError(t, err)

	_, err = f.Depacketize(raw)
	assert.ErrorIs(t, err, ErrComfortNoise)
}

func TestDepacketizePayloadTypeMismatch(t *testing.T) {
	f := NewFramer(CodecPCMU)

	pkt := rtp.Packet{
		Header:  rtp.Header{Version: 2, PayloadType: CodecG729.PayloadType},
		Payload: make([]byte, 10),
	}
	raw, err := pkt.Marshal()
	require.NoError(t, err)

	_, err = f.Depacketize(raw)
	var ptErr *PayloadTypeError
	require.ErrorAs(t, err, &ptErr)
	assert.Equal(t, CodecG729.PayloadType, ptErr.Got)
	assert.Equal(t, CodecPCMU.PayloadType, ptErr.Want)
}

func TestDepacketizeGarbage(t *testing.T) {
	f := NewFramer(CodecPCMU)

	_, err := f.Depacketize([]byte{0x01, 0x02})
	assert.Error(t, err)
}

func TestCodecLookups(t *testing.T) {
	c, ok := ByName("G722")
	require.True(t, ok)
	assert.Equal(t, uint8(9), c.PayloadType)
	assert.Equal(t, 8000, c.ClockRate(), "G.722 advertises the half-rate clock")
	assert.Equal(t, "G722/8000", c.RTPMap())

	c, ok = ByPayloadType(18)
	require.True(t, ok)
	assert.Equal(t, "G729", c.Name)
	assert.Equal(t, 80, c.Samples(10), "one 10-byte G.729 frame is 80 samples")

	_, ok = ByName("GSM")
	assert.False(t, ok)
	_, ok = ByPayloadType(42)
	assert.False(t, ok)
}
