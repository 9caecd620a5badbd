package app

import (
	"context"
	"sync"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/rs/zerolog/log"
)

type sessionEntry struct {
	Room    domain.RoomID
	Key     core.SessionID
	Session core.MemberSession
	Cancel  context.CancelFunc
}

// Registry tracks relay connections, the room topic each one joined and the
// users behind them.
type Registry struct {
	mu       sync.RWMutex
	sessions map[core.ConnID]*sessionEntry
	users    map[domain.UserID]*domain.User
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[core.ConnID]*sessionEntry),
		users:    make(map[domain.UserID]*domain.User),
	}
}

func (r *Registry) GetOrCreateUser(uid domain.UserID) *domain.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[uid]; ok {
		return u
	}
	u := &domain.User{ID: uid, Username: "guest"}
	r.users[uid] = u
	log.Info().Str("module", "app.registry").Str("user", string(uid)).Msg("created new user")
	return u
}

func (r *Registry) UpdateUsername(uid domain.UserID, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[uid]
	if !ok {
		return nil
	}
	if err := u.SetUsername(name); err != nil {
		return err
	}
	log.Info().Str("module", "app.registry").Str("user", string(uid)).Str("username", name).Msg("updated username")
	return nil
}

func (r *Registry) BindSignal(cid core.ConnID, sess core.MemberSession, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[cid] = &sessionEntry{Session: sess, Cancel: cancel}
	log.Info().Str("module", "app.registry").Str("conn", string(cid)).Msg("bound signal")
}

func (r *Registry) GetSession(cid core.ConnID) (core.MemberSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[cid]; ok {
		return e.Session, true
	}
	return nil, false
}

func (r *Registry) Unbind(cid core.ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, cid)
	log.Info().Str("module", "app.registry").Str("conn", string(cid)).Msg("unbind session")
}

// RoomOf returns the room and presence key the connection joined.
func (r *Registry) RoomOf(cid core.ConnID) (domain.RoomID, core.SessionID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.sessions[cid]
	if !ok || entry.Room == "" {
		return "", "", false
	}
	return entry.Room, entry.Key, true
}

func (r *Registry) UpdateRoom(cid core.ConnID, room domain.RoomID, key core.SessionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.sessions[cid]
	if !ok {
		return false
	}
	entry.Room = room
	entry.Key = key
	log.Info().Str("module", "app.registry").Str("conn", string(cid)).Str("room", string(room)).Str("key", string(key)).Msg("updated room")
	return true
}

func (r *Registry) RemoveRoom(cid core.ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.sessions[cid]; ok {
		entry.Room = ""
		entry.Key = ""
	}
	log.Info().Str("module", "app.registry").Str("conn", string(cid)).Msg("removed room association")
}

type RegSnap struct {
	Conn    core.ConnID
	Key     core.SessionID
	Session core.MemberSession
}

func (r *Registry) MembersOfRoom(room domain.RoomID) []RegSnap {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]RegSnap, 0, len(r.sessions))
	for cid, e := range r.sessions {
		if e.Room == room {
			out = append(out, RegSnap{Conn: cid, Key: e.Key, Session: e.Session})
		}
	}
	return out
}

func (r *Registry) Cancel(cid core.ConnID) bool {
	r.mu.RLock()
	e, ok := r.sessions[cid]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("conn", string(cid)).Msg("canceled session")
	return true
}
