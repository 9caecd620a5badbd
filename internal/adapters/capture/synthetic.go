package capture

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/dkeye/Mesh/internal/app/media"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
)

const (
	audioFrame = 20 * time.Millisecond
	videoFrame = 33 * time.Millisecond
)

var (
	// opusSilence is one 20ms Opus frame of silence.
	opusSilence = []byte{0xf8, 0xff, 0xfe}
	// vp8Frame is a placeholder frame payload; receivers only count it.
	vp8Frame = []byte{0x10, 0x02, 0x00, 0x9d, 0x01, 0x2a}
)

// Synthetic produces silent audio and placeholder video without devices.
// UserErr and DisplayErr inject capture failures.
type Synthetic struct {
	UserErr    error
	DisplayErr error

	// Captures counts successful captures.
	Captures atomic.Int32
}

func (s *Synthetic) UserMedia(ctx context.Context, c media.Constraints) (*media.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, media.Unavailable(media.SourceCamera, media.ReasonCancelled, err)
	}
	if s.UserErr != nil {
		return nil, s.UserErr
	}
	return s.capture("camera", c.Video, c.Audio)
}

func (s *Synthetic) DisplayMedia(ctx context.Context, c media.Constraints) (*media.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, media.Unavailable(media.SourceScreen, media.ReasonCancelled, err)
	}
	if s.DisplayErr != nil {
		return nil, s.DisplayErr
	}
	return s.capture("screen", c.Video, false)
}

func (s *Synthetic) capture(label string, video, audio bool) (*media.Stream, error) {
	streamID := uuid.NewString()
	var tracks []*media.Track
	if video {
		t, err := sampleTrack(webrtc.MimeTypeVP8, label+"-video", streamID, vp8Frame, videoFrame)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, t)
	}
	if audio {
		t, err := sampleTrack(webrtc.MimeTypeOpus, label+"-audio", streamID, opusSilence, audioFrame)
		if err != nil {
			for _, t := range tracks {
				t.Stop()
			}
			return nil, err
		}
		tracks = append(tracks, t)
	}
	st := media.NewStream(tracks...)
	st.ID = streamID
	s.Captures.Add(1)
	return st, nil
}

func sampleTrack(mime, id, streamID string, frame []byte, every time.Duration) (*media.Track, error) {
	local, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mime}, id+"-"+uuid.NewString()[:8], streamID)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := media.NewTrack(local, cancel, nil)
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !t.Enabled() {
					continue
				}
				_ = local.WriteSample(pionmedia.Sample{Data: frame, Duration: every})
			}
		}
	}()
	return t, nil
}

// None reports capture as unsupported.
type None struct{}

func (None) UserMedia(context.Context, media.Constraints) (*media.Stream, error) {
	return nil, media.Unavailable(media.SourceCamera, media.ReasonUnsupported, nil)
}

func (None) DisplayMedia(context.Context, media.Constraints) (*media.Stream, error) {
	return nil, media.Unavailable(media.SourceScreen, media.ReasonUnsupported, nil)
}
