package rtc

import (
	"fmt"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/intervalpli"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// ChatLabel is the label of the data channel opened by the initiator.
const ChatLabel = "chat"

var DefaultICEServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

type Option func(*webrtc.SettingEngine)

// WithLoopback gathers loopback host candidates, for single-host setups.
func WithLoopback() Option {
	return func(se *webrtc.SettingEngine) {
		se.SetIncludeLoopbackCandidate(true)
	}
}

// Factory creates pion peer connections sharing one API.
type Factory struct {
	api *webrtc.API
	cfg webrtc.Configuration
}

func NewFactory(iceServers []string, opts ...Option) (*Factory, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, ir); err != nil {
		return nil, fmt.Errorf("register default interceptors: %w", err)
	}
	pli, err := intervalpli.NewReceiverInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create PLI interceptor: %w", err)
	}
	ir.Add(pli)

	se := webrtc.SettingEngine{}
	for _, opt := range opts {
		opt(&se)
	}

	cfg := webrtc.Configuration{}
	if len(iceServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: iceServers}}
	}

	return &Factory{
		api: webrtc.NewAPI(
			webrtc.WithMediaEngine(m),
			webrtc.WithInterceptorRegistry(ir),
			webrtc.WithSettingEngine(se),
		),
		cfg: cfg,
	}, nil
}

func (f *Factory) NewPeer(remote core.SessionID, initiator bool, h core.PeerHandlers) (core.PeerConn, error) {
	pc, err := f.api.NewPeerConnection(f.cfg)
	if err != nil {
		return nil, err
	}
	p := &Peer{
		pc:      pc,
		remote:  remote,
		senders: make(map[webrtc.RTPCodecType]*webrtc.RTPSender),
		h:       h,
		logger:  log.With().Str("module", "webrtc").Str("peer", string(remote)).Logger(),
	}
	p.bind()

	if initiator {
		ordered := true
		dc, err := pc.CreateDataChannel(ChatLabel, &webrtc.DataChannelInit{Ordered: &ordered})
		if err != nil {
			_ = pc.Close()
			return nil, fmt.Errorf("create data channel: %w", err)
		}
		p.adopt(dc)
	}
	return p, nil
}
