package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"sync"
	"time"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	joinWait       = 10 * time.Second
	maxMessageSize = 256 * 1024
)

// Dialer joins topics on a relay server over WebSocket, one connection per
// subscription.
type Dialer struct {
	URL    string
	Header http.Header
	WS     *websocket.Dialer
	Buffer int
}

// NewDialer returns a Dialer for a ws:// or wss:// signal endpoint. A cookie
// jar keeps the relay's client token across reconnects.
func NewDialer(url string) *Dialer {
	jar, _ := cookiejar.New(nil)
	return &Dialer{
		URL: url,
		WS: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
			Jar:              jar,
		},
		Buffer: 64,
	}
}

func (d *Dialer) Join(ctx context.Context, topic domain.RoomID, key core.SessionID) (core.Subscription, error) {
	conn, _, err := d.WS.DialContext(ctx, d.URL, d.Header)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}
	conn.SetReadLimit(maxMessageSize)

	lk := &wsLink{
		conn: conn,
		out:  make(chan core.Frame, max(d.Buffer, 1)),
		done: make(chan struct{}),
	}
	go lk.writePump()

	if err := lk.send(ctx, core.Envelope{Type: core.TypeJoin, Topic: topic, Key: key}); err != nil {
		lk.close()
		return nil, err
	}
	early, err := lk.awaitJoined(ctx)
	if err != nil {
		lk.close()
		return nil, err
	}

	logger := log.With().Str("module", "realtime.ws").Str("room", string(topic)).Logger()
	sub := newSubscription(topic, key, lk, logger)
	go lk.readPump(sub, early)
	return sub, nil
}

type wsLink struct {
	conn *websocket.Conn
	out  chan core.Frame

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// awaitJoined reads until the relay acknowledges the join. Envelopes read
// before the ack are returned for the subscription.
func (l *wsLink) awaitJoined(ctx context.Context) ([]core.Envelope, error) {
	deadline := time.Now().Add(joinWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := l.conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}
	var early []core.Envelope
	for {
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("await join: %w", err)
		}
		env, err := core.DecodeEnvelope(data)
		if err != nil {
			return nil, fmt.Errorf("await join: %w", err)
		}
		switch env.Type {
		case core.TypeJoined:
			return early, nil
		case core.TypeError:
			return nil, errors.New(env.Error)
		default:
			early = append(early, env)
		}
	}
}

func (l *wsLink) send(ctx context.Context, env core.Envelope) error {
	f, err := core.EncodeEnvelope(env)
	if err != nil {
		return err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return ErrClosed
	}
	select {
	case l.out <- f:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrBackpressure
	}
}

// close flushes queued frames, sends a close message and ends both pumps.
func (l *wsLink) close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	close(l.out)
}

func (l *wsLink) readPump(sub *subscription, early []core.Envelope) {
	var err error
	defer func() {
		sub.finish(err)
		l.close()
	}()

	for _, env := range early {
		if !sub.deliver(env) {
			return
		}
	}

	_ = l.conn.SetReadDeadline(time.Now().Add(pongWait))
	l.conn.SetPongHandler(func(string) error {
		return l.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		var data []byte
		_, data, err = l.conn.ReadMessage()
		if err != nil {
			select {
			case <-l.done:
				err = ErrClosed
			default:
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Warn().Err(err).Str("module", "realtime.ws").Msg("relay read error")
				}
			}
			return
		}
		env, derr := core.DecodeEnvelope(data)
		if derr != nil {
			log.Error().Err(derr).Str("module", "realtime.ws").Msg("bad frame")
			continue
		}
		if !sub.deliver(env) {
			return
		}
	}
}

func (l *wsLink) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		close(l.done)
		_ = l.conn.Close()
	}()

	for {
		select {
		case f, ok := <-l.out:
			_ = l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = l.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := l.conn.WriteMessage(websocket.TextMessage, f); err != nil {
				log.Error().Err(err).Str("module", "realtime.ws").Msg("write error")
				return
			}
		case <-ticker.C:
			_ = l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := l.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
