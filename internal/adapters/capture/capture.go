package capture

import (
	"fmt"

	"github.com/dkeye/Mesh/internal/app/media"
)

// ByName returns the capturer for a config value.
func ByName(name, videoCodec, audioCodec string) (media.Capturer, error) {
	switch name {
	case "devices":
		sel, videoMime, audioMime, err := NewCodecSelector(videoCodec, audioCodec)
		if err != nil {
			return nil, err
		}
		return NewDevices(sel, videoMime, audioMime), nil
	case "", "synthetic":
		return &Synthetic{}, nil
	case "none":
		return None{}, nil
	}
	return nil, fmt.Errorf("unknown capture backend %q", name)
}
