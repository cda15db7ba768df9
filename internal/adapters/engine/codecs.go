package engine

import (
	"fmt"

	"github.com/pion/webrtc/v4"
)

type codecEntry struct {
	params webrtc.RTPCodecParameters
	kind   webrtc.RTPCodecType
}

// The router's codec table: opus for audio, VP8 for video.
var routerCodecs = []codecEntry{
	{
		params: webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:     webrtc.MimeTypeOpus,
				ClockRate:    48000,
				Channels:     2,
				SDPFmtpLine:  "minptime=10;useinbandfec=1",
				RTCPFeedback: nil,
			},
			PayloadType: 111,
		},
		kind: webrtc.RTPCodecTypeAudio,
	},
	{
		params: webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:  webrtc.MimeTypeVP8,
				ClockRate: 90000,
			},
			PayloadType: 96,
		},
		kind: webrtc.RTPCodecTypeVideo,
	},
}

func codecCapability(kind string) (webrtc.RTPCodecCapability, error) {
	for _, c := range routerCodecs {
		if c.kind.String() == kind {
			return c.params.RTPCodecCapability, nil
		}
	}
	return webrtc.RTPCodecCapability{}, fmt.Errorf("no codec for kind %q", kind)
}

type routerCodec struct {
	Kind       string         `json:"kind"`
	MimeType   string         `json:"mimeType"`
	ClockRate  uint32         `json:"clockRate"`
	Channels   uint16         `json:"channels,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

type routerCaps struct {
	Codecs []routerCodec `json:"codecs"`
}

// routerCapabilities is what clients receive as routerRtpCapabilities.
func routerCapabilities() routerCaps {
	return routerCaps{Codecs: []routerCodec{
		{Kind: "audio", MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		{Kind: "video", MimeType: webrtc.MimeTypeVP8, ClockRate: 90000,
			Parameters: map[string]any{"x-google-start-bitrate": 1000}},
	}}
}
