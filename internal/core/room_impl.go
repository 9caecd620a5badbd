package core

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/dkeye/Mesh/internal/domain"
	"github.com/rs/zerolog/log"
)

type roomMember struct {
	session  MemberSession
	presence json.RawMessage
}

// roomImpl is a threadsafe in-memory room.
// It never closes adapter-owned resources.
type roomImpl struct {
	room  *domain.Room
	mu    sync.RWMutex
	byKey map[SessionID]*roomMember
}

func NewRoomService(room *domain.Room) RoomService {
	return &roomImpl{
		room:  room,
		byKey: make(map[SessionID]*roomMember),
	}
}

func (r *roomImpl) Room() *domain.Room { return r.room }

func (r *roomImpl) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byKey)
}

func (r *roomImpl) AddMember(key SessionID, ms MemberSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.byKey[key]; ok && cur.session != ms {
		return ErrKeyInUse
	}
	r.byKey[key] = &roomMember{session: ms}
	log.Info().Str("module", "core.room").Str("room", string(r.room.ID)).Str("key", string(key)).Msg("member added")
	return nil
}

func (r *roomImpl) RemoveMember(key SessionID) (json.RawMessage, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.byKey[key]
	if !ok {
		return nil, false
	}
	delete(r.byKey, key)
	log.Info().Str("module", "core.room").Str("room", string(r.room.ID)).Str("key", string(key)).Msg("member removed")
	return m.presence, true
}

func (r *roomImpl) SetPresence(key SessionID, payload json.RawMessage) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.byKey[key]
	if !ok {
		return false
	}
	m.presence = payload
	return true
}

func (r *roomImpl) Presences() PresenceMap {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(PresenceMap, len(r.byKey))
	for key, m := range r.byKey {
		if m.presence != nil {
			out[key] = m.presence
		}
	}
	return out
}

func (r *roomImpl) Broadcast(from SessionID, data Frame) PublishResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := PublishResult{}
	for key, m := range r.byKey {
		if key == from {
			continue
		}
		if err := m.session.Signal().TrySend(data); err != nil {
			res.Dropped = append(res.Dropped, m.session)
			continue
		}
		res.SendTo++
	}
	log.Debug().Str("module", "core.room").Str("from", string(from)).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

func (r *roomImpl) MembersSnapshot() []MemberDTO {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]MemberDTO, 0, len(r.byKey))
	for key, m := range r.byKey {
		dto := MemberDTO{Key: key, Presence: m.presence}
		if u := m.session.Meta().User; u != nil {
			dto.UserID = u.ID
			dto.Username = u.Username
		}
		out = append(out, dto)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
