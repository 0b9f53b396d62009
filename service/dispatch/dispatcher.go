package dispatch

import (
	"encoding/json"
	"sync"

	"CordProject/logger"
	"CordProject/tools/errs"
	"CordProject/tools/safe"
)

// Event is one dispatched gateway event after decoding. Data holds the
// typed struct (or *gateway.UnknownEvent); Raw is the original `d` payload.
type Event struct {
	ShardID int
	Seq     int64
	Type    string
	Data    any
	Raw     json.RawMessage
}

// HandlerFunc is one listener. Handlers run synchronously on the shard's
// dispatch goroutine, in registration order; long work should hand off to
// its own workers.
type HandlerFunc func(ev *Event)

// Dispatcher fans events out to listeners. One listener's panic is
// contained and never stops the rest.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string][]HandlerFunc
	catchAll []HandlerFunc
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string][]HandlerFunc)}
}

// Register adds a listener for one event name.
func (d *Dispatcher) Register(event string, h HandlerFunc) {
	d.mu.Lock()
	d.handlers[event] = append(d.handlers[event], h)
	d.mu.Unlock()
}

// RegisterAll adds a listener that sees every event; export bridges and
// metrics hooks live here.
func (d *Dispatcher) RegisterAll(h HandlerFunc) {
	d.mu.Lock()
	d.catchAll = append(d.catchAll, h)
	d.mu.Unlock()
}

// Dispatch invokes the catch-all list, then the per-event list, in
// registration order.
func (d *Dispatcher) Dispatch(ev *Event) {
	d.mu.RLock()
	all := d.catchAll
	hs := d.handlers[ev.Type]
	d.mu.RUnlock()

	for _, h := range all {
		d.invoke(h, ev)
	}
	for _, h := range hs {
		d.invoke(h, ev)
	}
}

func (d *Dispatcher) invoke(h HandlerFunc, ev *Event) {
	if err := safe.Call(func() { h(ev) }); err != nil {
		logger.Errorf("[dispatch] listener failed t=%s: %v", ev.Type, errs.Wrap(err))
	}
}

// On registers a statically-typed listener: fn fires only when the event's
// decoded data is a *T.
func On[T any](d *Dispatcher, event string, fn func(ev *Event, data *T)) {
	d.Register(event, func(ev *Event) {
		if data, ok := ev.Data.(*T); ok {
			fn(ev, data)
		}
	})
}
