package media

import (
	"fmt"

	"github.com/zaf/g711"
)

// Transcode converts a voice frame between the two G.711 companding laws.
// Identical source and target codecs pass through untouched; any other pair
// is rejected, the caller must negotiate matching codecs instead.
func Transcode(frame VoiceFrame, to Codec) (VoiceFrame, error) {
	if frame.Codec.PayloadType == to.PayloadType {
		return frame, nil
	}

	var out []byte
	switch {
	case frame.Codec.PayloadType == CodecPCMU.PayloadType && to.PayloadType == CodecPCMA.PayloadType:
		out = g711.Ulaw2Alaw(frame.Payload)
	case frame.Codec.PayloadType == CodecPCMA.PayloadType && to.PayloadType == CodecPCMU.PayloadType:
		out = g711.Alaw2Ulaw(frame.Payload)
	default:
		return VoiceFrame{}, fmt.Errorf("cannot transcode %s to %s", frame.Codec.Name, to.Name)
	}

	return VoiceFrame{Codec: to, Payload: out, Samples: to.Samples(len(out))}, nil
}
