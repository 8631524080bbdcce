package gateway

import (
	"fmt"
	"strconv"

	psdp "github.com/pion/sdp/v3"

	"github.com/sebas/fxsgate/internal/media"
)

// buildSDP renders a session description offering or answering with the
// given codecs, first codec preferred.
func buildSDP(addr string, port int, codecs ...media.Codec) ([]byte, error) {
	formats := make([]string, 0, len(codecs))
	attrs := make([]psdp.Attribute, 0, len(codecs)+2)
	for _, c := range codecs {
		pt := strconv.Itoa(int(c.PayloadType))
		formats = append(formats, pt)
		attrs = append(attrs, psdp.Attribute{
			Key:   "rtpmap",
			Value: pt + " " + c.RTPMap(),
		})
	}
	attrs = append(attrs,
		psdp.Attribute{Key: "ptime", Value: strconv.Itoa(int(codecs[0].PTime.Milliseconds()))},
		psdp.Attribute{Key: "sendrecv"},
	)

	desc := &psdp.SessionDescription{
		Origin: psdp.Origin{
			Username:       "fxsgate",
			SessionID:      1,
			SessionVersion: 1,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: addr,
		},
		SessionName: "FXS Gate Media Session",
		ConnectionInformation: &psdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address: &psdp.Address{
				Address: addr,
			},
		},
		TimeDescriptions: []psdp.TimeDescription{
			{
				Timing: psdp.Timing{StartTime: 0, StopTime: 0},
			},
		},
		MediaDescriptions: []*psdp.MediaDescription{
			{
				MediaName: psdp.MediaName{
					Media:   "audio",
					Port:    psdp.RangedPort{Value: port},
					Protos:  []string{"RTP", "AVP"},
					Formats: formats,
				},
				Attributes: attrs,
			},
		},
	}

	body, err := desc.Marshal()
	if err != nil {
		return nil, fmt.Errorf("marshal SDP: %w", err)
	}
	return body, nil
}

// remoteMedia is what the gateway needs from a peer's session description.
type remoteMedia struct {
	addr    string
	port    int
	formats []uint8
}

// parseSDP extracts the peer's RTP endpoint and offered payload types from
// the first audio media description.
func parseSDP(body []byte) (remoteMedia, error) {
	var rm remoteMedia
	if len(body) == 0 {
		return rm, fmt.Errorf("empty SDP")
	}

	desc := &psdp.SessionDescription{}
	if err := desc.Unmarshal(body); err != nil {
		return rm, fmt.Errorf("parse SDP: %w", err)
	}
	if len(desc.MediaDescriptions) == 0 {
		return rm, fmt.Errorf("no media in SDP")
	}

	md := desc.MediaDescriptions[0]
	rm.port = md.MediaName.Port.Value

	// Media-level connection wins over session-level.
	if md.ConnectionInformation != nil && md.ConnectionInformation.Address != nil {
		rm.addr = md.ConnectionInformation.Address.Address
	} else if desc.ConnectionInformation != nil && desc.ConnectionInformation.Address != nil {
		rm.addr = desc.ConnectionInformation.Address.Address
	}
	if rm.addr == "" || rm.port == 0 {
		return rm, fmt.Errorf("no RTP endpoint in SDP")
	}

	for _, f := range md.MediaName.Formats {
		if pt, err := strconv.Atoi(f); err == nil && pt >= 0 && pt < 128 {
			rm.formats = append(rm.formats, uint8(pt))
		}
	}
	return rm, nil
}

// selectCodec picks the peer codec: the line's own codec when offered,
// otherwise the other G.711 flavor (which the relay transcodes).
func selectCodec(formats []uint8, lineCodec media.Codec) (media.Codec, bool) {
	for _, pt := range formats {
		if pt == lineCodec.PayloadType {
			return lineCodec, true
		}
	}
	for _, pt := range formats {
		if pt == media.CodecPCMU.PayloadType {
			return media.CodecPCMU, true
		}
		if pt == media.CodecPCMA.PayloadType {
			return media.CodecPCMA, true
		}
	}
	return media.Codec{}, false
}
