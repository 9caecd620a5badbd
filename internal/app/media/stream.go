package media

import (
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

// Stream groups the local tracks of one capture.
type Stream struct {
	ID     string
	tracks []*Track
}

func NewStream(tracks ...*Track) *Stream {
	return &Stream{ID: uuid.NewString(), tracks: tracks}
}

func (s *Stream) Tracks() []*Track {
	if s == nil {
		return nil
	}
	out := make([]*Track, len(s.tracks))
	copy(out, s.tracks)
	return out
}

// First returns the first track of kind, or nil.
func (s *Stream) First(kind webrtc.RTPCodecType) *Track {
	if s == nil {
		return nil
	}
	for _, t := range s.tracks {
		if t.Kind() == kind {
			return t
		}
	}
	return nil
}

func (s *Stream) Video() *Track { return s.First(webrtc.RTPCodecTypeVideo) }
func (s *Stream) Audio() *Track { return s.First(webrtc.RTPCodecTypeAudio) }

// Stop stops every track of the stream.
func (s *Stream) Stop() {
	if s == nil {
		return
	}
	for _, t := range s.tracks {
		t.Stop()
	}
}
