package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zaf/g711"
)

func TestTranscodeIdentity(t *testing.T) {
	frame := VoiceFrame{Codec: CodecPCMU, Payload: []byte{1, 2, 3}, Samples: 3}

	out, err := Transcode(frame, CodecPCMU)
	require.NoError(t, err)
	assert.Equal(t, frame, out)
}

func TestTranscodeUlawToAlaw(t *testing.T) {
	payload := g711.EncodeUlaw(pcmRamp(80))
	frame := VoiceFrame{Codec: CodecPCMU, Payload: payload, Samples: 80}

	out, err := Transcode(frame, CodecPCMA)
	require.NoError(t, err)
	assert.Equal(t, CodecPCMA.Name, out.Codec.Name)
	assert.Equal(t, g711.Ulaw2Alaw(payload), out.Payload)
	assert.Equal(t, 80, out.Samples)
}

func TestTranscodeAlawToUlaw(t *testing.T) {
	payload := g711.EncodeAlaw(pcmRamp(80))
	frame := VoiceFrame{Codec: CodecPCMA, Payload: payload, Samples: 80}

	out, err := Transcode(frame, CodecPCMU)
	require.NoError(t, err)
	assert.Equal(t, g711.Alaw2Ulaw(payload), out.Payload)
}

func TestTranscodeUnsupportedPair(t *testing.T) {
	frame := VoiceFrame{Codec: CodecG729, Payload: make([]byte, 10), Samples: 80}

	_, err := Transcode(frame, CodecPCMU)
	assert.Error(t, err)
}
