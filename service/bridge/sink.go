package bridge

import (
	"context"
	"time"

	"CordProject/logger"
	"CordProject/service/dispatch"
)

// Sink carries raw dispatch events to downstream bot infrastructure
// (workers, analytics) over a broker or stream.
type Sink interface {
	Emit(ctx context.Context, event string, shardID int, seq int64, payload []byte) error
	Close() error
}

const emitTimeout = 3 * time.Second

// Attach registers every sink as a catch-all listener. Emission is
// best-effort: a sink failure is logged, never propagated to dispatch.
func Attach(d *dispatch.Dispatcher, sinks ...Sink) {
	if len(sinks) == 0 {
		return
	}
	d.RegisterAll(func(ev *dispatch.Event) {
		ctx, cancel := context.WithTimeout(context.Background(), emitTimeout)
		defer cancel()
		for _, s := range sinks {
			if err := s.Emit(ctx, ev.Type, ev.ShardID, ev.Seq, ev.Raw); err != nil {
				logger.Warnf("[bridge] emit failed t=%s: %v", ev.Type, err)
			}
		}
	})
}
