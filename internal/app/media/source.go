package media

import (
	"github.com/dkeye/Mesh/internal/core"
	"github.com/pion/rtp"
)

// PacketSource yields RTP packets one at a time until it fails.
type PacketSource interface {
	ReadRTP() (*rtp.Packet, error)
}

type remoteSource struct {
	track core.RemoteTrack
}

// RemoteSource adapts an inbound track to a PacketSource.
func RemoteSource(t core.RemoteTrack) PacketSource {
	return remoteSource{track: t}
}

func (s remoteSource) ReadRTP() (*rtp.Packet, error) {
	pkt, _, err := s.track.ReadRTP()
	return pkt, err
}

// BatchReader is the shape of encoder-backed readers that hand out packets
// in batches and want them released after use.
type BatchReader interface {
	Read() (pkts []*rtp.Packet, release func(), err error)
}

type batchSource struct {
	r       BatchReader
	pending []*rtp.Packet
	release func()
}

// BatchSource adapts a BatchReader to a PacketSource. A batch is released
// before the next one is read, which is after the relay has forwarded it.
func BatchSource(r BatchReader) PacketSource {
	return &batchSource{r: r}
}

func (s *batchSource) ReadRTP() (*rtp.Packet, error) {
	for len(s.pending) == 0 {
		if s.release != nil {
			s.release()
			s.release = nil
		}
		pkts, release, err := s.r.Read()
		if err != nil {
			return nil, err
		}
		s.pending, s.release = pkts, release
	}
	pkt := s.pending[0]
	s.pending = s.pending[1:]
	return pkt, nil
}
