package gateway

import (
	"encoding/json"
	"testing"

	"CordProject/tools/errs"

	"github.com/stretchr/testify/require"
)

func TestPayloadRoundTrip(t *testing.T) {
	seq := int64(42)
	cases := []*Payload{
		{Op: OpHello, D: json.RawMessage(`{"heartbeat_interval":41250}`)},
		{Op: OpDispatch, T: EventMessageCreate, S: &seq, D: json.RawMessage(`{"id":"1","channel_id":"2","content":"hi"}`)},
		{Op: OpHeartbeat, D: json.RawMessage(`42`)},
		{Op: OpHeartbeatACK},
		{Op: OpInvalidSession, D: json.RawMessage(`false`)},
	}
	for _, in := range cases {
		b, err := json.Marshal(in)
		require.NoError(t, err)
		var out Payload
		require.NoError(t, json.Unmarshal(b, &out))
		require.Equal(t, in.Op, out.Op)
		require.Equal(t, in.T, out.T)
		if in.S != nil {
			require.NotNil(t, out.S)
			require.Equal(t, *in.S, *out.S)
		}
		if in.D != nil {
			require.JSONEq(t, string(in.D), string(out.D))
		}
	}
}

func TestCommandPayloadRoundTrip(t *testing.T) {
	id := identifyData{
		Token:          "X",
		Properties:     identifyProperties{OS: "linux", Browser: "CordProject", Device: "CordProject"},
		LargeThreshold: 250,
		Shard:          [2]int{1, 4},
		Intents:        515,
	}
	b, err := json.Marshal(id)
	require.NoError(t, err)
	var back identifyData
	require.NoError(t, json.Unmarshal(b, &back))
	require.Equal(t, id, back)

	rs := resumeData{Token: "X", SessionID: "s1", Seq: 42}
	b, err = json.Marshal(rs)
	require.NoError(t, err)
	var rback resumeData
	require.NoError(t, json.Unmarshal(b, &rback))
	require.Equal(t, rs, rback)
}

func TestDecodeEventTyped(t *testing.T) {
	ev, err := DecodeEvent(EventReady, json.RawMessage(`{"v":10,"session_id":"s1","user":{"id":"10"},"guilds":[{"id":"20","unavailable":true}]}`))
	require.NoError(t, err)
	rd, ok := ev.(*Ready)
	require.True(t, ok)
	require.Equal(t, "s1", rd.SessionID)
	require.Equal(t, "10", rd.User.ID)
	require.Len(t, rd.Guilds, 1)
	require.True(t, rd.Guilds[0].Unavailable)
}

func TestDecodeEventUnknownIsForwardCompatible(t *testing.T) {
	raw := json.RawMessage(`{"brand":"new"}`)
	ev, err := DecodeEvent("SOME_FUTURE_EVENT", raw)
	require.NoError(t, err)
	ue, ok := ev.(*UnknownEvent)
	require.True(t, ok)
	require.Equal(t, "SOME_FUTURE_EVENT", ue.Type)
	require.JSONEq(t, string(raw), string(ue.Raw))
}

func TestDecodeUnknownWeaklyTyped(t *testing.T) {
	ev, err := DecodeEvent("STAGE_INSTANCE_CREATE", json.RawMessage(`{"id":"77","topic":"q&a","privacy_level":2,"extra_field":true}`))
	require.NoError(t, err)
	ue := ev.(*UnknownEvent)

	type stageInstance struct {
		ID           string `json:"id"`
		Topic        string `json:"topic"`
		PrivacyLevel int    `json:"privacy_level"`
	}
	si, err := DecodeUnknown[stageInstance](ue)
	require.NoError(t, err)
	require.Equal(t, "77", si.ID)
	require.Equal(t, 2, si.PrivacyLevel)
}

func TestDecodeEventMalformedIsProtocolError(t *testing.T) {
	_, err := DecodeEvent(EventReady, json.RawMessage(`{"user": 12`))
	require.Error(t, err)
	require.Equal(t, errs.CodeProtocol, errs.Code(err))
}
