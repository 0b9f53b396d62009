package dispatch

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDispatchRegistrationOrder(t *testing.T) {
	d := NewDispatcher()
	var order []string
	d.RegisterAll(func(ev *Event) { order = append(order, "all") })
	d.Register("MESSAGE_CREATE", func(ev *Event) { order = append(order, "first") })
	d.Register("MESSAGE_CREATE", func(ev *Event) { order = append(order, "second") })
	d.Register("OTHER", func(ev *Event) { order = append(order, "other") })

	d.Dispatch(&Event{Type: "MESSAGE_CREATE"})
	require.Equal(t, []string{"all", "first", "second"}, order)
}

func TestDispatchPanicIsolation(t *testing.T) {
	d := NewDispatcher()
	var ran []string
	d.Register("X", func(ev *Event) { ran = append(ran, "a") })
	d.Register("X", func(ev *Event) { panic("listener blew up") })
	d.Register("X", func(ev *Event) { ran = append(ran, "c") })

	require.NotPanics(t, func() { d.Dispatch(&Event{Type: "X"}) })
	require.Equal(t, []string{"a", "c"}, ran, "one listener's failure must not stop the rest")
}

type fakeReady struct {
	SessionID string
}

func TestTypedOn(t *testing.T) {
	d := NewDispatcher()
	var got *fakeReady
	On(d, "READY", func(ev *Event, data *fakeReady) { got = data })

	// wrong payload type: listener must not fire
	d.Dispatch(&Event{Type: "READY", Data: "not a ready"})
	require.Nil(t, got)

	d.Dispatch(&Event{Type: "READY", Data: &fakeReady{SessionID: "s1"}, Raw: json.RawMessage(`{}`)})
	require.NotNil(t, got)
	require.Equal(t, "s1", got.SessionID)
}
