//go:build capture

package capture

import (
	"fmt"
	"time"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"     // registers camera driver
	_ "github.com/pion/mediadevices/pkg/driver/microphone" // registers microphone driver
	_ "github.com/pion/mediadevices/pkg/driver/screen"     // registers screen driver
	"github.com/pion/webrtc/v4"
)

// NewCodecSelector builds the encoders for the configured codecs.
func NewCodecSelector(videoCodec, audioCodec string) (*mediadevices.CodecSelector, string, string, error) {
	var (
		videoParams vpx.Params
		videoMime   string
		err         error
	)
	switch videoCodec {
	case "", "vp8":
		videoParams, err = vpx.NewVP8Params()
		videoMime = webrtc.MimeTypeVP8
	case "vp9":
		videoParams, err = vpx.NewVP9Params()
		videoMime = webrtc.MimeTypeVP9
	default:
		return nil, "", "", fmt.Errorf("unsupported video codec %q", videoCodec)
	}
	if err != nil {
		return nil, "", "", err
	}
	videoParams.BitRate = 500_000
	videoParams.KeyFrameInterval = 60
	videoParams.RateControlEndUsage = vpx.RateControlVBR
	videoParams.Deadline = 200 * time.Millisecond

	if audioCodec != "" && audioCodec != "opus" {
		return nil, "", "", fmt.Errorf("unsupported audio codec %q", audioCodec)
	}
	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, "", "", err
	}
	opusParams.BitRate = 32_000
	opusParams.Latency = opus.Latency20ms

	sel := mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&videoParams),
		mediadevices.WithAudioEncoders(&opusParams),
	)
	return sel, videoMime, webrtc.MimeTypeOpus, nil
}
