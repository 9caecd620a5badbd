package media

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chanSource struct {
	ch chan *rtp.Packet
}

func (s *chanSource) ReadRTP() (*rtp.Packet, error) {
	pkt, ok := <-s.ch
	if !ok {
		return nil, io.EOF
	}
	return pkt, nil
}

type recordSink struct {
	mu   sync.Mutex
	seqs []uint16
	err  error
}

func (s *recordSink) WriteRTP(p *rtp.Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.seqs = append(s.seqs, p.SequenceNumber)
	return nil
}

func (s *recordSink) got() []uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint16(nil), s.seqs...)
}

func pkt(seq uint16) *rtp.Packet {
	return &rtp.Packet{Header: rtp.Header{SequenceNumber: seq}, Payload: []byte{1, 2, 3}}
}

func TestRelay_FanOutMuteDelete(t *testing.T) {
	src := &chanSource{ch: make(chan *rtp.Packet)}
	m := NewRelayManager()
	ended := make(chan error, 1)
	relay := m.StartRelay(context.Background(), "cam", src, func(err error) { ended <- err })

	a, b, broken := &recordSink{}, &recordSink{}, &recordSink{err: errors.New("closed")}
	otA, ok := m.AddSink("cam", "a", a)
	require.True(t, ok)
	otB, ok := m.AddSink("cam", "b", b)
	require.True(t, ok)
	otBroken, ok := m.AddSink("cam", "broken", broken)
	require.True(t, ok)

	src.ch <- pkt(1)
	require.Eventually(t, func() bool { return len(a.got()) == 1 && len(b.got()) == 1 }, time.Second, 5*time.Millisecond)
	otA.MarkMuted()
	src.ch <- pkt(2)
	require.Eventually(t, func() bool { return len(b.got()) == 2 }, time.Second, 5*time.Millisecond)
	otA.MarkOk()
	otB.MarkDelete()
	src.ch <- pkt(3)
	close(src.ch)

	select {
	case err := <-ended:
		assert.ErrorIs(t, err, io.EOF)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}
	<-relay.Done()

	assert.Equal(t, []uint16{1, 3}, a.got())
	assert.Equal(t, []uint16{1, 2}, b.got())
	assert.Equal(t, SinkStateDelete, otBroken.GetState())
	_, ok = m.AddSink("cam", "late", &Meter{})
	assert.False(t, ok, "an ended relay leaves the manager")
}

func TestRelayManager_StopRelay(t *testing.T) {
	src := &chanSource{ch: make(chan *rtp.Packet)}
	m := NewRelayManager()
	relay := m.StartRelay(context.Background(), "mic", src, nil)
	ot, ok := m.AddSink("mic", "meter", &Meter{})
	require.True(t, ok)

	m.StopRelay("mic")
	assert.Equal(t, SinkStateDelete, ot.GetState())
	_, ok = m.AddSink("mic", "late", &Meter{})
	assert.False(t, ok)

	// Wake the loop so it observes the cancelled context.
	src.ch <- pkt(1)
	select {
	case <-relay.Done():
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}
	_, ok = m.AddSink("mic", "late", &Meter{})
	assert.False(t, ok)
}

func TestMeterAndBatchSource(t *testing.T) {
	released := 0
	batches := [][]*rtp.Packet{{pkt(1), pkt(2)}, {}, {pkt(3)}}
	r := batchFunc(func() ([]*rtp.Packet, func(), error) {
		if len(batches) == 0 {
			return nil, nil, io.EOF
		}
		b := batches[0]
		batches = batches[1:]
		return b, func() { released++ }, nil
	})
	src := BatchSource(r)
	meter := &Meter{}
	for {
		p, err := src.ReadRTP()
		if err != nil {
			assert.ErrorIs(t, err, io.EOF)
			break
		}
		require.NoError(t, meter.WriteRTP(p))
	}
	st := meter.Stats()
	assert.Equal(t, uint64(3), st.Packets)
	assert.Equal(t, uint64(9), st.Bytes)
	assert.False(t, st.LastSeen.IsZero())
	assert.Equal(t, 3, released)
}

type batchFunc func() ([]*rtp.Packet, func(), error)

func (f batchFunc) Read() ([]*rtp.Packet, func(), error) { return f() }
