package media

import (
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
)

// Track is a local outgoing track. Disabling a track keeps it attached to
// every sender; the backend stops feeding media until it is enabled again.
type Track struct {
	local    webrtc.TrackLocal
	enabled  atomic.Bool
	onToggle func(enabled bool)
	stop     func()

	mu       sync.Mutex
	ended    bool
	handlers []func()
}

// NewTrack wraps local. stop releases the capture resources and onToggle is
// told about every enabled flag change; both may be nil.
func NewTrack(local webrtc.TrackLocal, stop func(), onToggle func(bool)) *Track {
	t := &Track{local: local, stop: stop, onToggle: onToggle}
	t.enabled.Store(true)
	return t
}

func (t *Track) Local() webrtc.TrackLocal  { return t.local }
func (t *Track) ID() string                { return t.local.ID() }
func (t *Track) Kind() webrtc.RTPCodecType { return t.local.Kind() }
func (t *Track) Enabled() bool             { return t.enabled.Load() }

func (t *Track) SetEnabled(v bool) {
	if t.enabled.Swap(v) == v {
		return
	}
	if t.onToggle != nil {
		t.onToggle(v)
	}
}

// OnEnded registers fn to run once when the track ends. If it already
// ended, fn runs immediately.
func (t *Track) OnEnded(fn func()) {
	t.mu.Lock()
	if t.ended {
		t.mu.Unlock()
		fn()
		return
	}
	t.handlers = append(t.handlers, fn)
	t.mu.Unlock()
}

// Stop releases the track and runs the OnEnded handlers. Backends also call
// it when the source ends on its own, e.g. sharing stopped from the system UI.
// Safe to call repeatedly.
func (t *Track) Stop() {
	t.mu.Lock()
	if t.ended {
		t.mu.Unlock()
		return
	}
	t.ended = true
	handlers := t.handlers
	t.handlers = nil
	t.mu.Unlock()

	if t.stop != nil {
		t.stop()
	}
	for _, fn := range handlers {
		fn()
	}
}

func (t *Track) Ended() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ended
}
