// Package heartbeat publishes a retained liveness beacon so bridged hosts can
// tell a quiet device from a dead one.
package heartbeat

import (
	"context"
	"time"

	"github.com/networkfusion/tinyfs-go/bus"
	"github.com/networkfusion/tinyfs-go/x/timex"
)

var (
	topicConfig = bus.Topic{"config", "heartbeat"}
	topicBeat   = bus.Topic{"system", "heartbeat"}
)

type Service struct {
	interval time.Duration
	seq      uint32
}

func (s *Service) serviceLoop(ctx context.Context, conn *bus.Connection) {
	cfgSub := conn.Subscribe(topicConfig)
	defer conn.Unsubscribe(cfgSub)

	if s.interval <= 0 {
		s.interval = time.Second
	}
	tick := time.NewTicker(s.interval)
	defer tick.Stop()

	started := timex.NowMs()
	for {
		select {
		case <-ctx.Done():
			println("Info: heartbeat service stopping")
			return
		case <-tick.C:
			s.seq++
			conn.Publish(conn.NewMessage(topicBeat, map[string]any{
				"seq":       s.seq,
				"uptime_ms": timex.NowMs() - started,
			}, true))
		case msg := <-cfgSub.Channel():
			if m, ok := msg.Payload.(map[string]any); ok {
				if iv, ok := m["interval"].(float64); ok && iv > 0 {
					s.interval = time.Duration(iv * float64(time.Second))
					tick.Reset(s.interval)
					println("Info: heartbeat interval updated")
				}
			}
		}
	}
}

// Start the heartbeat service.
func (s *Service) Start(ctx context.Context, conn *bus.Connection) error {
	go s.serviceLoop(ctx, conn)
	return nil
}
