package callkit

import (
	"context"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
)

// Stat is the rolled-up transport health of one peer session.
type Stat struct {
	BytesSent       uint64
	BytesReceived   uint64
	PacketsSent     uint32
	PacketsReceived uint32
	PacketsLost     int32
	NACKCount       uint32
	PLICount        uint32
	Jitter          float64
	CurrentRTT      float64
	CollectedAt     time.Time
}

// Consume folds one raw report entry into the rollup. Unknown entry types
// are ignored.
func (s *Stat) Consume(raw webrtc.Stats) {
	switch stat := raw.(type) {
	case webrtc.OutboundRTPStreamStats:
		s.BytesSent += stat.BytesSent
		s.PacketsSent += stat.PacketsSent
		s.NACKCount += stat.NACKCount
		s.PLICount += stat.PLICount

	case webrtc.InboundRTPStreamStats:
		s.BytesReceived += stat.BytesReceived
		s.PacketsReceived += stat.PacketsReceived
		s.PacketsLost += stat.PacketsLost
		s.Jitter = stat.Jitter

	case webrtc.ICECandidatePairStats:
		if stat.State == webrtc.StatsICECandidatePairStateSucceeded {
			s.CurrentRTT = stat.CurrentRoundTripTime
		}
	}
}

// StatsGetter polls every live transport on a fixed interval and keeps the
// latest rollup per peer.
type StatsGetter struct {
	c *Client

	mu    sync.Mutex
	stats map[string]Stat

	once   sync.Once
	wg     sync.WaitGroup
	cancel context.CancelFunc
	ctx    context.Context
}

func NewStatsGetter(ctx context.Context, c *Client, interval time.Duration) *StatsGetter {
	ctx2, cancel2 := context.WithCancel(ctx)

	g := &StatsGetter{
		c:      c,
		stats:  make(map[string]Stat),
		ctx:    ctx2,
		cancel: cancel2,
	}

	g.wg.Add(1)
	go g.loop(interval)
	return g
}

func (g *StatsGetter) loop(interval time.Duration) {
	defer g.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-g.ctx.Done():
			return
		case <-ticker.C:
			g.collect()
		}
	}
}

func (g *StatsGetter) collect() {
	for peerID, pc := range g.c.PeerConnections() {
		rollup := Stat{CollectedAt: time.Now()}
		for _, raw := range pc.transport.GetStats() {
			rollup.Consume(raw)
		}

		g.mu.Lock()
		g.stats[peerID] = rollup
		g.mu.Unlock()
	}
}

// Generate returns the latest rollup for one peer; the zero Stat when the
// peer was never polled.
func (g *StatsGetter) Generate(peerID string) Stat {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stats[peerID]
}

func (g *StatsGetter) Close() error {
	g.once.Do(func() {
		g.cancel()
		g.wg.Wait()
	})
	return nil
}
