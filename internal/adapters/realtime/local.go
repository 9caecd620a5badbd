package realtime

import (
	"context"
	"sync"

	"github.com/dkeye/Mesh/internal/app/orch"
	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Local joins topics of an in-process relay orchestrator.
type Local struct {
	Orch   *orch.Orchestrator
	User   *domain.User
	Buffer int
}

func NewLocal(o *orch.Orchestrator, user *domain.User) *Local {
	return &Local{Orch: o, User: user, Buffer: 256}
}

func (l *Local) Join(ctx context.Context, topic domain.RoomID, key core.SessionID) (core.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cid := core.ConnID(uuid.NewString())
	conn := &localConn{frames: make(chan core.Frame, max(l.Buffer, 1))}
	l.Orch.Registry.BindSignal(cid, core.NewMemberSession(domain.NewMember(l.User), conn), nil)

	lk := &localLink{orch: l.Orch, cid: cid}
	logger := log.With().Str("module", "realtime.local").Str("conn", string(cid)).Logger()
	sub := newSubscription(topic, key, lk, logger)

	if err := l.Orch.Join(cid, topic, key); err != nil {
		l.Orch.OnDisconnect(cid)
		return nil, err
	}
	go func() {
		for f := range conn.frames {
			env, err := core.DecodeEnvelope(f)
			if err != nil {
				logger.Error().Err(err).Msg("bad frame")
				continue
			}
			if !sub.deliver(env) {
				break
			}
		}
		sub.finish(ErrClosed)
	}()
	return sub, nil
}

type localLink struct {
	orch *orch.Orchestrator
	cid  core.ConnID
	once sync.Once
}

func (l *localLink) send(_ context.Context, env core.Envelope) error {
	if _, ok := l.orch.Registry.GetSession(l.cid); !ok {
		return ErrClosed
	}
	switch env.Type {
	case core.TypeTrack:
		return l.orch.Track(l.cid, env.Payload)
	case core.TypeBroadcast:
		return l.orch.Broadcast(l.cid, env.Event, env.Payload)
	case core.TypeLeave:
		l.orch.Leave(l.cid)
	}
	return nil
}

func (l *localLink) close() {
	l.once.Do(func() { l.orch.OnDisconnect(l.cid) })
}

// localConn is the relay-side end of an in-process link.
type localConn struct {
	mu     sync.RWMutex
	frames chan core.Frame
	closed bool
}

func (c *localConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.frames <- f:
		return nil
	default:
		return ErrBackpressure
	}
}

func (c *localConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.frames)
}
