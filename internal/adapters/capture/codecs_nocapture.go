//go:build !capture

package capture

import (
	"fmt"

	"github.com/pion/mediadevices"
	"github.com/pion/webrtc/v4"
)

// NewCodecSelector returns an empty selector: without the capture build tag
// no drivers or encoders are linked and device capture reports unsupported.
func NewCodecSelector(videoCodec, audioCodec string) (*mediadevices.CodecSelector, string, string, error) {
	videoMime, audioMime, err := mimeTypes(videoCodec, audioCodec)
	if err != nil {
		return nil, "", "", err
	}
	return mediadevices.NewCodecSelector(), videoMime, audioMime, nil
}

func mimeTypes(videoCodec, audioCodec string) (string, string, error) {
	var videoMime string
	switch videoCodec {
	case "", "vp8":
		videoMime = webrtc.MimeTypeVP8
	case "vp9":
		videoMime = webrtc.MimeTypeVP9
	default:
		return "", "", fmt.Errorf("unsupported video codec %q", videoCodec)
	}
	if audioCodec != "" && audioCodec != "opus" {
		return "", "", fmt.Errorf("unsupported audio codec %q", audioCodec)
	}
	return videoMime, webrtc.MimeTypeOpus, nil
}
