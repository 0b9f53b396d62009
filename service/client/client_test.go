package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	config "CordProject/global/config"
	"CordProject/service/gateway"
	"CordProject/tools/errs"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// fake gateway: HELLO, ack heartbeats, answer IDENTIFY with READY, then
// replay the scripted dispatches.
func fakeGateway(t *testing.T, ready string, scripted []gateway.Payload) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		one := int64(1)
		_ = ws.WriteJSON(&gateway.Payload{Op: gateway.OpHello, D: json.RawMessage(`{"heartbeat_interval":60000}`)})
		for {
			var p gateway.Payload
			if err := ws.ReadJSON(&p); err != nil {
				return
			}
			switch p.Op {
			case gateway.OpHeartbeat:
				_ = ws.WriteJSON(&gateway.Payload{Op: gateway.OpHeartbeatACK})
			case gateway.OpIdentify:
				_ = ws.WriteJSON(&gateway.Payload{Op: gateway.OpDispatch, T: gateway.EventReady, S: &one, D: json.RawMessage(ready)})
				for i := range scripted {
					_ = ws.WriteJSON(&scripted[i])
				}
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testClient(t *testing.T, gwURL string, remaining int) *Client {
	t.Helper()
	restSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/gateway/bot", r.URL.Path)
		fmt.Fprintf(w, `{"url":%q,"shards":1,"session_start_limit":{"total":1000,"remaining":%d,"reset_after":0}}`, gwURL, remaining)
	}))
	t.Cleanup(restSrv.Close)

	cfg := &config.ClientConfig{Token: "X", IdentifySpacing: 10 * time.Millisecond}
	cfg.Norm()
	cfg.APIBase = restSrv.URL

	c, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestClientOpenReadyAndGuildCreate(t *testing.T) {
	two := int64(2)
	guild := `{"id":"123456789012582400","name":"home","channels":[{"id":"555","type":0,"name":"general"}]}`
	gw := fakeGateway(t,
		`{"v":10,"session_id":"s1","user":{"id":"10","username":"bot"},"guilds":[{"id":"123456789012582400","unavailable":true}]}`,
		[]gateway.Payload{{Op: gateway.OpDispatch, T: gateway.EventGuildCreate, S: &two, D: json.RawMessage(guild)}},
	)
	c := testClient(t, "ws"+strings.TrimPrefix(gw.URL, "http"), 10)

	created := make(chan *gateway.GuildCreate, 1)
	c.OnGuildCreate(func(g *gateway.GuildCreate) { created <- g })

	require.NoError(t, c.Open(context.Background()))

	select {
	case g := <-created:
		require.Equal(t, "home", g.Name)
	case <-time.After(10 * time.Second):
		t.Fatal("GUILD_CREATE never dispatched")
	}

	// listeners observe the post-mutation cache
	snap, err := c.Cache().Guild("123456789012582400")
	require.NoError(t, err)
	require.Equal(t, "home", snap.Name)
	require.False(t, snap.Unavailable)
	require.Contains(t, snap.Channels, "555")
	require.Equal(t, "10", c.Cache().SelfUser().ID)
}

func TestClientOpenRefusesWhenIdentifyQuotaSpent(t *testing.T) {
	gw := fakeGateway(t, `{}`, nil)
	c := testClient(t, "ws"+strings.TrimPrefix(gw.URL, "http"), 0)

	err := c.Open(context.Background())
	require.Error(t, err)
	require.Equal(t, errs.CodeShardLimit, errs.Code(err))
}

func TestClientVoiceServerUpdateForwarded(t *testing.T) {
	three := int64(3)
	gw := fakeGateway(t,
		`{"v":10,"session_id":"s1","user":{"id":"10"},"guilds":[]}`,
		[]gateway.Payload{{Op: gateway.OpDispatch, T: gateway.EventVoiceServerUpdate, S: &three,
			D: json.RawMessage(`{"token":"vt","guild_id":"123456789012582400","endpoint":"voice.example:443"}`)}},
	)
	c := testClient(t, "ws"+strings.TrimPrefix(gw.URL, "http"), 10)

	got := make(chan *gateway.VoiceServerUpdate, 1)
	c.SetVoiceHandler(func(v *gateway.VoiceServerUpdate) { got <- v })

	require.NoError(t, c.Open(context.Background()))

	select {
	case v := <-got:
		require.Equal(t, "vt", v.Token)
		require.Equal(t, "voice.example:443", v.Endpoint)
	case <-time.After(10 * time.Second):
		t.Fatal("voice server update never forwarded")
	}
}
