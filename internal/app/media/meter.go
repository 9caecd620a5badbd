package media

import (
	"sync/atomic"
	"time"

	"github.com/pion/rtp"
)

// Meter is a PacketSink that only counts what it receives.
type Meter struct {
	packets  atomic.Uint64
	bytes    atomic.Uint64
	lastSeen atomic.Int64
}

type MeterStats struct {
	Packets  uint64
	Bytes    uint64
	LastSeen time.Time
}

func (m *Meter) WriteRTP(pkt *rtp.Packet) error {
	m.packets.Add(1)
	m.bytes.Add(uint64(len(pkt.Payload)))
	m.lastSeen.Store(time.Now().UnixNano())
	return nil
}

func (m *Meter) Stats() MeterStats {
	st := MeterStats{Packets: m.packets.Load(), Bytes: m.bytes.Load()}
	if ns := m.lastSeen.Load(); ns != 0 {
		st.LastSeen = time.Unix(0, ns)
	}
	return st
}
