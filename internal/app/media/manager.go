package media

import (
	"context"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Constraints describe a capture request.
type Constraints struct {
	Video            bool
	Audio            bool
	Width            int
	Height           int
	FrameRate        float64
	EchoCancellation bool
	NoiseSuppression bool
}

var (
	CameraConstraints = Constraints{Video: true, Audio: true}
	ScreenConstraints = Constraints{
		Video:            true,
		Audio:            true,
		Width:            1920,
		Height:           1080,
		FrameRate:        30,
		EchoCancellation: true,
		NoiseSuppression: true,
	}
)

// Capturer is a local media backend.
type Capturer interface {
	UserMedia(ctx context.Context, c Constraints) (*Stream, error)
	DisplayMedia(ctx context.Context, c Constraints) (*Stream, error)
}

type Manager struct {
	capturer Capturer
	logger   zerolog.Logger
}

func NewManager(c Capturer) *Manager {
	return &Manager{
		capturer: c,
		logger:   log.With().Str("module", "media").Logger(),
	}
}

// AcquireCameraAndMic returns a stream with at most one video and one audio
// track. On failure the stream is nil and the error is an *UnavailableError;
// callers continue receive-only.
func (m *Manager) AcquireCameraAndMic(ctx context.Context) (*Stream, error) {
	s, err := m.capturer.UserMedia(ctx, CameraConstraints)
	if err != nil {
		err = classify(ctx, SourceCamera, err)
		m.logger.Warn().Err(err).Msg("camera and microphone unavailable")
		return nil, err
	}
	s = keepFirstPerKind(s)
	if len(s.tracks) == 0 {
		return nil, Unavailable(SourceCamera, ReasonNoSource, nil)
	}
	m.logger.Debug().Str("stream", s.ID).Int("tracks", len(s.tracks)).Msg("camera and microphone acquired")
	return s, nil
}

// AcquireScreenShare requests display capture at 1920x1080@30.
func (m *Manager) AcquireScreenShare(ctx context.Context) (*Stream, error) {
	s, err := m.capturer.DisplayMedia(ctx, ScreenConstraints)
	if err != nil {
		err = classify(ctx, SourceScreen, err)
		m.logger.Warn().Err(err).Msg("screen share unavailable")
		return nil, err
	}
	if s.Video() == nil {
		s.Stop()
		return nil, Unavailable(SourceScreen, ReasonNoSource, nil)
	}
	m.logger.Debug().Str("stream", s.ID).Msg("screen share acquired")
	return s, nil
}

// ToggleTrack flips the enabled flag of the first track of kind and returns
// the new value. The track keeps running.
func (m *Manager) ToggleTrack(s *Stream, kind webrtc.RTPCodecType) (bool, error) {
	t := s.First(kind)
	if t == nil {
		return false, fmt.Errorf("toggle %s: %w", kindName(kind), ErrNoDevice)
	}
	enabled := !t.Enabled()
	t.SetEnabled(enabled)
	return enabled, nil
}

// ReleaseAll stops every track of every stream. Nil streams are ignored.
func (m *Manager) ReleaseAll(streams ...*Stream) {
	for _, s := range streams {
		s.Stop()
	}
}

func classify(ctx context.Context, src Source, err error) error {
	var ue *UnavailableError
	if errors.As(err, &ue) {
		if ue.Source == "" {
			ue.Source = src
		}
		return ue
	}
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return Unavailable(src, ReasonCancelled, err)
	}
	return Unavailable(src, ReasonNoSource, err)
}

func keepFirstPerKind(s *Stream) *Stream {
	if s == nil {
		return &Stream{}
	}
	seen := make(map[webrtc.RTPCodecType]bool, 2)
	kept := s.tracks[:0:0]
	for _, t := range s.tracks {
		if seen[t.Kind()] {
			t.Stop()
			continue
		}
		seen[t.Kind()] = true
		kept = append(kept, t)
	}
	s.tracks = kept
	return s
}
