// Package capture provides media.Capturer backends.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math/rand/v2"

	"github.com/dkeye/Mesh/internal/app/media"
	"github.com/google/uuid"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const rtpMTU = 1200

// Devices captures from local devices through pion/mediadevices. Encoded RTP
// is pumped by a relay into a TrackLocalStaticRTP; muting a track mutes the
// relay sink so the encoder keeps running.
type Devices struct {
	selector  *mediadevices.CodecSelector
	videoMime string
	audioMime string
	relays    *media.RelayManager
	logger    zerolog.Logger
}

func NewDevices(selector *mediadevices.CodecSelector, videoMime, audioMime string) *Devices {
	return &Devices{
		selector:  selector,
		videoMime: videoMime,
		audioMime: audioMime,
		relays:    media.NewRelayManager(),
		logger:    log.With().Str("module", "capture.devices").Logger(),
	}
}

func (d *Devices) UserMedia(ctx context.Context, c media.Constraints) (*media.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, media.Unavailable(media.SourceCamera, media.ReasonCancelled, err)
	}
	ms, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Video: videoConstraints(c),
		Audio: audioConstraints(c),
		Codec: d.selector,
	})
	if err != nil {
		return nil, d.classify(ctx, media.SourceCamera, err)
	}
	return d.bridge(ms)
}

func (d *Devices) DisplayMedia(ctx context.Context, c media.Constraints) (*media.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, media.Unavailable(media.SourceScreen, media.ReasonCancelled, err)
	}
	if c.EchoCancellation || c.NoiseSuppression {
		d.logger.Debug().Msg("display capture has no audio processing, capturing video only")
	}
	ms, err := mediadevices.GetDisplayMedia(mediadevices.MediaStreamConstraints{
		Video: videoConstraints(c),
		Codec: d.selector,
	})
	if err != nil {
		return nil, d.classify(ctx, media.SourceScreen, err)
	}
	return d.bridge(ms)
}

func videoConstraints(c media.Constraints) func(*mediadevices.MediaTrackConstraints) {
	if !c.Video {
		return nil
	}
	return func(tc *mediadevices.MediaTrackConstraints) {
		if c.Width > 0 {
			tc.Width = prop.Int(c.Width)
		}
		if c.Height > 0 {
			tc.Height = prop.Int(c.Height)
		}
		if c.FrameRate > 0 {
			tc.FrameRate = prop.Float(c.FrameRate)
		}
	}
}

func audioConstraints(c media.Constraints) func(*mediadevices.MediaTrackConstraints) {
	if !c.Audio {
		return nil
	}
	return func(tc *mediadevices.MediaTrackConstraints) {
		tc.SampleRate = prop.Int(48000)
		tc.ChannelCount = prop.Int(1)
	}
}

// classify maps a capture failure. An empty device list means the build has
// no drivers, so capture is unsupported rather than missing a source.
func (d *Devices) classify(ctx context.Context, src media.Source, err error) error {
	switch {
	case ctx.Err() != nil:
		return media.Unavailable(src, media.ReasonCancelled, err)
	case errors.Is(err, fs.ErrPermission):
		return media.Unavailable(src, media.ReasonPermissionDenied, err)
	case len(mediadevices.EnumerateDevices()) == 0:
		return media.Unavailable(src, media.ReasonUnsupported, err)
	}
	return media.Unavailable(src, media.ReasonNoSource, err)
}

func (d *Devices) bridge(ms mediadevices.MediaStream) (*media.Stream, error) {
	streamID := uuid.NewString()
	var tracks []*media.Track
	for _, mt := range ms.GetVideoTracks() {
		t, err := d.pump(mt, webrtc.RTPCodecTypeVideo, d.videoMime, streamID)
		if err != nil {
			stopAll(tracks, ms)
			return nil, err
		}
		tracks = append(tracks, t)
	}
	for _, mt := range ms.GetAudioTracks() {
		t, err := d.pump(mt, webrtc.RTPCodecTypeAudio, d.audioMime, streamID)
		if err != nil {
			stopAll(tracks, ms)
			return nil, err
		}
		tracks = append(tracks, t)
	}
	s := media.NewStream(tracks...)
	s.ID = streamID
	return s, nil
}

func (d *Devices) pump(mt mediadevices.Track, kind webrtc.RTPCodecType, mime, streamID string) (*media.Track, error) {
	local, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: mime}, mt.ID(), streamID)
	if err != nil {
		return nil, err
	}
	reader, err := mt.NewRTPReader(mime, rand.Uint32(), rtpMTU)
	if err != nil {
		return nil, fmt.Errorf("%s encoder: %w", kind, err)
	}

	key := streamID + "/" + kind.String()
	var sink *media.OutTrack
	track := media.NewTrack(local, func() {
		d.relays.StopRelay(key)
		_ = reader.Close()
		_ = mt.Close()
	}, func(enabled bool) {
		if sink == nil {
			return
		}
		if enabled {
			sink.MarkOk()
		} else {
			sink.MarkMuted()
		}
	})

	d.relays.StartRelay(context.Background(), key, media.BatchSource(reader), func(err error) {
		d.logger.Debug().Err(err).Str("track", mt.ID()).Msg("capture ended")
		track.Stop()
	})
	sink, _ = d.relays.AddSink(key, "local", local)
	mt.OnEnded(func(error) { track.Stop() })
	return track, nil
}

func stopAll(tracks []*media.Track, ms mediadevices.MediaStream) {
	for _, t := range tracks {
		t.Stop()
	}
	for _, mt := range ms.GetTracks() {
		_ = mt.Close()
	}
}
