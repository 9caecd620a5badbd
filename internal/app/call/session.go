package call

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dkeye/Mesh/internal/app/media"
	"github.com/dkeye/Mesh/internal/codec"
	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	}
	return "unknown"
}

// LocalMedia is the local capture state. Camera and Screen are nil when not
// captured.
type LocalMedia struct {
	Camera        *media.Stream
	Screen        *media.Stream
	VideoEnabled  bool
	AudioEnabled  bool
	ScreenSharing bool
}

// Profile is what the local participant shows to others.
type Profile struct {
	Name   string
	Avatar string
}

type Options struct {
	// ID is the presence key; a random one is generated when empty.
	ID       core.SessionID
	Profile  Profile
	Media    *media.Manager
	Realtime core.Realtime
	Peers    core.PeerFactory
	Notifier core.Notifier
	Codec    codec.Codec
	// NegotiationTimeout drops peers not connected in time. Zero disables it.
	NegotiationTimeout time.Duration
	InboxSize          int
}

// Session is one participant of one room at a time. All state is owned by
// the loop started with Start; exported methods post commands to it.
type Session struct {
	id     core.SessionID
	opts   Options
	logger zerolog.Logger

	inbox   chan Event
	done    chan struct{}
	started atomic.Bool

	state    atomic.Int32
	room     atomic.Value
	local    atomic.Pointer[LocalMedia]
	messages chan codec.ChatMessage
	changes  chan struct{}

	reg *Registry
	sig *Signaling
	neg *Negotiator
}

func NewSession(opts Options) *Session {
	if opts.InboxSize <= 0 {
		opts.InboxSize = 256
	}
	if opts.Codec == nil {
		opts.Codec = codec.JSON{}
	}
	if opts.Notifier == nil {
		opts.Notifier = LogNotifier{}
	}
	if opts.ID == "" {
		opts.ID = core.SessionID(uuid.NewString())
	}
	s := &Session{
		id:       opts.ID,
		opts:     opts,
		inbox:    make(chan Event, opts.InboxSize),
		done:     make(chan struct{}),
		messages: make(chan codec.ChatMessage, 64),
		changes:  make(chan struct{}, 1),
		reg:      NewRegistry(),
	}
	s.logger = log.With().Str("module", "call.session").Str("sid", string(s.id)).Logger()
	s.local.Store(&LocalMedia{})
	s.room.Store(domain.RoomID(""))
	s.sig = NewSignaling(opts.Realtime, s.id, s.post)
	s.neg = NewNegotiator(NegotiatorConfig{
		Self:     s.id,
		Registry: s.reg,
		Factory:  opts.Peers,
		Signals:  s.sig,
		Post:     s.post,
		Timeout:  opts.NegotiationTimeout,
	})
	return s
}

func (s *Session) ID() core.SessionID { return s.id }

// Start runs the event loop until ctx is done, then disconnects.
func (s *Session) Start(ctx context.Context) {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	s.neg.Bind(ctx)
	go s.loop(ctx)
}

// Done is closed once the loop has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) loop(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			s.disconnect()
			return
		case ev := <-s.inbox:
			s.handle(ev)
		}
	}
}

func (s *Session) post(ev Event) {
	select {
	case s.inbox <- ev:
	case <-s.done:
	}
}

// do runs fn on the loop and waits for its result.
func (s *Session) do(ctx context.Context, fn func() error) error {
	cmd := command{fn: fn, done: make(chan error, 1)}
	select {
	case s.inbox <- cmd:
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.done:
		return err
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) handle(ev Event) {
	switch e := ev.(type) {
	case command:
		e.done <- e.fn()
	case channelEvent:
		if !s.sig.Current(e.epoch) {
			return
		}
		if closed, ok := e.ev.(ChannelClosed); ok {
			s.onChannelClosed(closed)
		} else {
			s.neg.Handle(e.ev)
		}
	case ChatReceived:
		s.onChat(e)
	case ScreenShareEnded:
		if s.loadLocal().Screen == e.Stream {
			s.stopScreen()
			s.notify(domain.NoticeInfo, domain.NoticeScreenShareStopped, "screen sharing stopped")
		}
	default:
		s.neg.Handle(ev)
	}
	s.changed()
}

func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
	s.logger.Debug().Str("state", st.String()).Msg("session state")
}

func (s *Session) loadLocal() LocalMedia { return *s.local.Load() }

func (s *Session) storeLocal(lm LocalMedia) { s.local.Store(&lm) }

// Connect joins room. Connecting again to the room being joined is a no-op;
// another room requires Disconnect first. Missing camera or microphone
// degrades to receive-only and does not fail the call.
func (s *Session) Connect(ctx context.Context, room domain.RoomID) error {
	return s.do(ctx, func() error {
		switch s.State() {
		case StateConnecting, StateConnected:
			if s.Room() == room {
				return nil
			}
			return fmt.Errorf("connect %s while in %s: %w", room, s.Room(), ErrInvalidTransition)
		case StateDisconnecting:
			return ErrInvalidTransition
		}
		s.setState(StateConnecting)
		s.room.Store(room)

		cam, err := s.opts.Media.AcquireCameraAndMic(ctx)
		if err != nil {
			s.notify(domain.NoticeWarn, domain.NoticeReceiveOnly,
				fmt.Sprintf("joining without camera and microphone (%s)", media.ReasonOf(err)))
		}
		lm := LocalMedia{Camera: cam, VideoEnabled: cam.Video() != nil, AudioEnabled: cam.Audio() != nil}
		s.storeLocal(lm)
		s.neg.SetOutgoing(webrtc.RTPCodecTypeAudio, localOf(cam.Audio()))
		s.neg.SetOutgoing(webrtc.RTPCodecTypeVideo, localOf(cam.Video()))

		if err := s.sig.Subscribe(ctx, room); err != nil {
			s.abortConnect(err)
			return err
		}
		if err := s.sig.Track(ctx, s.presence()); err != nil {
			s.abortConnect(err)
			return err
		}

		s.setState(StateConnected)
		s.logger.Info().Str("room", string(room)).Msg("connected")
		s.notify(domain.NoticeInfo, domain.NoticeConnected, fmt.Sprintf("connected to %s", room))
		return nil
	})
}

func (s *Session) abortConnect(err error) {
	s.logger.Error().Err(err).Msg("connect failed")
	s.teardown()
	s.notify(domain.NoticeError, domain.NoticeConnectFailed, err.Error())
}

// Disconnect leaves the room and releases everything. Safe when idle.
func (s *Session) Disconnect(ctx context.Context) error {
	return s.do(ctx, func() error {
		wasConnected := s.State() != StateIdle
		s.disconnect()
		if wasConnected {
			s.notify(domain.NoticeInfo, domain.NoticeDisconnected, "disconnected")
		}
		return nil
	})
}

func (s *Session) disconnect() {
	s.setState(StateDisconnecting)
	s.teardown()
}

// teardown stops local media, closes every peer, leaves the channel and
// clears all maps. It ends in StateIdle.
func (s *Session) teardown() {
	lm := s.loadLocal()
	s.opts.Media.ReleaseAll(lm.Camera, lm.Screen)
	s.storeLocal(LocalMedia{})
	s.neg.Reset()
	if err := s.sig.Unsubscribe(); err != nil {
		s.logger.Warn().Err(err).Msg("unsubscribe failed")
	}
	s.room.Store(domain.RoomID(""))
	s.setState(StateIdle)
}

func (s *Session) onChannelClosed(ev ChannelClosed) {
	if s.State() != StateConnected {
		return
	}
	s.logger.Error().Err(ev.Err).Msg("signaling channel lost")
	s.disconnect()
	s.notify(domain.NoticeError, domain.NoticeChannelLost, "signaling channel lost")
}

func (s *Session) ToggleVideo(ctx context.Context) error {
	return s.toggle(ctx, webrtc.RTPCodecTypeVideo)
}

func (s *Session) ToggleAudio(ctx context.Context) error {
	return s.toggle(ctx, webrtc.RTPCodecTypeAudio)
}

func (s *Session) toggle(ctx context.Context, kind webrtc.RTPCodecType) error {
	return s.do(ctx, func() error {
		lm := s.loadLocal()
		enabled, err := s.opts.Media.ToggleTrack(lm.Camera, kind)
		if errors.Is(err, media.ErrNoDevice) {
			s.notify(domain.NoticeWarn, domain.NoticeNoDevice, fmt.Sprintf("no %s device", kind))
			return nil
		}
		if err != nil {
			return err
		}
		if kind == webrtc.RTPCodecTypeVideo {
			lm.VideoEnabled = enabled
		} else {
			lm.AudioEnabled = enabled
		}
		s.storeLocal(lm)
		if !s.sig.Subscribed() {
			return nil
		}
		return s.sig.Track(ctx, s.presence())
	})
}

// ToggleScreenShare starts or stops screen sharing and renegotiates video
// with every peer.
func (s *Session) ToggleScreenShare(ctx context.Context) error {
	return s.do(ctx, func() error {
		if s.State() != StateConnected {
			return ErrNotConnected
		}
		if s.loadLocal().Screen != nil {
			s.stopScreen()
			return nil
		}

		scr, err := s.opts.Media.AcquireScreenShare(ctx)
		if err != nil {
			s.notify(domain.NoticeWarn, domain.NoticeScreenShareFailed,
				fmt.Sprintf("screen share unavailable (%s)", media.ReasonOf(err)))
			return err
		}
		lm := s.loadLocal()
		lm.Screen = scr
		lm.ScreenSharing = true
		s.storeLocal(lm)
		scr.Video().OnEnded(func() {
			go s.post(ScreenShareEnded{Stream: scr})
		})
		s.neg.Renegotiate(webrtc.RTPCodecTypeVideo, scr.Video().Local())
		s.logger.Info().Str("stream", scr.ID).Msg("screen share started")
		return nil
	})
}

// stopScreen restores the camera video on every peer, or removes the video
// sender when there is no camera.
func (s *Session) stopScreen() {
	lm := s.loadLocal()
	scr := lm.Screen
	lm.Screen = nil
	lm.ScreenSharing = false
	s.storeLocal(lm)
	s.opts.Media.ReleaseAll(scr)
	s.neg.Renegotiate(webrtc.RTPCodecTypeVideo, localOf(lm.Camera.Video()))
	s.logger.Info().Msg("screen share stopped")
}

// SendMessage sends a chat message on every open data channel and returns
// how many peers it was handed to.
func (s *Session) SendMessage(ctx context.Context, text string) (int, error) {
	var delivered int
	err := s.do(ctx, func() error {
		if s.State() != StateConnected {
			return ErrNotConnected
		}
		data, err := s.opts.Codec.Encode(codec.NewChat(string(s.id), text))
		if err != nil {
			return err
		}
		delivered = s.neg.Broadcast(data, s.opts.Codec.Binary())
		return nil
	})
	return delivered, err
}

func (s *Session) onChat(ev ChatReceived) {
	if _, ok := s.reg.Peer(ev.Peer); !ok {
		return
	}
	msg, err := codec.DecodeChat(ev.Data, ev.Binary)
	if err != nil {
		s.logger.Debug().Err(err).Str("peer", string(ev.Peer)).Msg("ignoring data channel message")
		return
	}
	select {
	case s.messages <- msg:
	default:
		s.logger.Warn().Str("peer", string(ev.Peer)).Msg("chat buffer full, dropping message")
	}
}

func (s *Session) presence() domain.Presence {
	lm := s.loadLocal()
	return domain.Presence{
		ID:             string(s.id),
		Name:           s.opts.Profile.Name,
		Avatar:         s.opts.Profile.Avatar,
		IsVideoEnabled: lm.VideoEnabled,
		IsAudioEnabled: lm.AudioEnabled,
	}
}

func (s *Session) notify(level domain.NoticeLevel, kind domain.NoticeKind, msg string) {
	s.opts.Notifier.Notify(domain.Notice{Level: level, Kind: kind, Message: msg})
}

func (s *Session) changed() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}

// Room returns the room joined or being joined.
func (s *Session) Room() domain.RoomID { return s.room.Load().(domain.RoomID) }

func (s *Session) LocalMedia() LocalMedia { return s.loadLocal() }

func (s *Session) Peers() map[core.SessionID]*PeerEntry { return s.reg.Peers() }

func (s *Session) RemoteStreams() map[core.SessionID]*RemoteStream { return s.reg.Streams() }

func (s *Session) Participants() []domain.Presence { return s.reg.Participants() }

// Messages delivers inbound chat messages.
func (s *Session) Messages() <-chan codec.ChatMessage { return s.messages }

// Changes receives a value after state changes; notifications coalesce.
func (s *Session) Changes() <-chan struct{} { return s.changes }

func localOf(t *media.Track) webrtc.TrackLocal {
	if t == nil {
		return nil
	}
	return t.Local()
}
