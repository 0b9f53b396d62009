package gateway

import (
	"encoding/json"

	"CordProject/service/model"
	"CordProject/tools/decode"
	"CordProject/tools/errs"
)

// Dispatch event names.
const (
	EventReady             = "READY"
	EventResumed           = "RESUMED"
	EventGuildCreate       = "GUILD_CREATE"
	EventGuildUpdate       = "GUILD_UPDATE"
	EventGuildDelete       = "GUILD_DELETE"
	EventChannelCreate     = "CHANNEL_CREATE"
	EventChannelUpdate     = "CHANNEL_UPDATE"
	EventChannelDelete     = "CHANNEL_DELETE"
	EventGuildMemberAdd    = "GUILD_MEMBER_ADD"
	EventGuildMemberUpdate = "GUILD_MEMBER_UPDATE"
	EventGuildMemberRemove = "GUILD_MEMBER_REMOVE"
	EventGuildMembersChunk = "GUILD_MEMBERS_CHUNK"
	EventGuildRoleCreate   = "GUILD_ROLE_CREATE"
	EventGuildRoleUpdate   = "GUILD_ROLE_UPDATE"
	EventGuildRoleDelete   = "GUILD_ROLE_DELETE"
	EventMessageCreate     = "MESSAGE_CREATE"
	EventMessageUpdate     = "MESSAGE_UPDATE"
	EventMessageDelete     = "MESSAGE_DELETE"
	EventPresenceUpdate    = "PRESENCE_UPDATE"
	EventTypingStart       = "TYPING_START"
	EventUserUpdate        = "USER_UPDATE"
	EventVoiceStateUpdate  = "VOICE_STATE_UPDATE"
	EventVoiceServerUpdate = "VOICE_SERVER_UPDATE"
)

type Ready struct {
	V         int           `json:"v"`
	User      model.User    `json:"user"`
	SessionID string        `json:"session_id"`
	Guilds    []model.Guild `json:"guilds"`
}

type Resumed struct{}

type GuildCreate struct{ model.Guild }
type GuildUpdate struct{ model.Guild }

type GuildDelete struct {
	ID          string `json:"id"`
	Unavailable bool   `json:"unavailable"`
}

type ChannelCreate struct{ model.Channel }
type ChannelUpdate struct{ model.Channel }
type ChannelDelete struct{ model.Channel }

type GuildMemberAdd struct{ model.Member }
type GuildMemberUpdate struct{ model.Member }

type GuildMemberRemove struct {
	GuildID string     `json:"guild_id"`
	User    model.User `json:"user"`
}

type GuildMembersChunk struct {
	GuildID    string         `json:"guild_id"`
	Members    []model.Member `json:"members"`
	ChunkIndex int            `json:"chunk_index"`
	ChunkCount int            `json:"chunk_count"`
	Nonce      string         `json:"nonce,omitempty"`
}

type GuildRoleCreate struct {
	GuildID string     `json:"guild_id"`
	Role    model.Role `json:"role"`
}
type GuildRoleUpdate struct {
	GuildID string     `json:"guild_id"`
	Role    model.Role `json:"role"`
}
type GuildRoleDelete struct {
	GuildID string `json:"guild_id"`
	RoleID  string `json:"role_id"`
}

type MessageCreate struct{ model.Message }
type MessageUpdate struct{ model.Message }

type MessageDelete struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	GuildID   string `json:"guild_id,omitempty"`
}

type PresenceUpdate struct{ model.Presence }

type TypingStart struct {
	ChannelID string `json:"channel_id"`
	GuildID   string `json:"guild_id,omitempty"`
	UserID    string `json:"user_id"`
	Timestamp int64  `json:"timestamp"`
}

type UserUpdate struct{ model.User }

type VoiceStateUpdate struct{ model.VoiceState }

// VoiceServerUpdate is forwarded to the external voice subsystem verbatim.
type VoiceServerUpdate struct {
	Token    string `json:"token"`
	GuildID  string `json:"guild_id"`
	Endpoint string `json:"endpoint"`
}

// UnknownEvent carries any dispatch the client does not model, so new
// server events never crash a shard.
type UnknownEvent struct {
	Type string
	Raw  json.RawMessage
}

var eventDecoders = map[string]func(raw json.RawMessage) (any, error){
	EventReady:             decodeInto[Ready],
	EventResumed:           decodeInto[Resumed],
	EventGuildCreate:       decodeInto[GuildCreate],
	EventGuildUpdate:       decodeInto[GuildUpdate],
	EventGuildDelete:       decodeInto[GuildDelete],
	EventChannelCreate:     decodeInto[ChannelCreate],
	EventChannelUpdate:     decodeInto[ChannelUpdate],
	EventChannelDelete:     decodeInto[ChannelDelete],
	EventGuildMemberAdd:    decodeInto[GuildMemberAdd],
	EventGuildMemberUpdate: decodeInto[GuildMemberUpdate],
	EventGuildMemberRemove: decodeInto[GuildMemberRemove],
	EventGuildMembersChunk: decodeInto[GuildMembersChunk],
	EventGuildRoleCreate:   decodeInto[GuildRoleCreate],
	EventGuildRoleUpdate:   decodeInto[GuildRoleUpdate],
	EventGuildRoleDelete:   decodeInto[GuildRoleDelete],
	EventMessageCreate:     decodeInto[MessageCreate],
	EventMessageUpdate:     decodeInto[MessageUpdate],
	EventMessageDelete:     decodeInto[MessageDelete],
	EventPresenceUpdate:    decodeInto[PresenceUpdate],
	EventTypingStart:       decodeInto[TypingStart],
	EventUserUpdate:        decodeInto[UserUpdate],
	EventVoiceStateUpdate:  decodeInto[VoiceStateUpdate],
	EventVoiceServerUpdate: decodeInto[VoiceServerUpdate],
}

func decodeInto[T any](raw json.RawMessage) (any, error) {
	out := new(T)
	if err := json.Unmarshal(raw, out); err != nil {
		return nil, err
	}
	return out, nil
}

// DecodeUnknown maps an unmodeled event's payload onto a caller-provided
// struct, tolerating unknown fields and weak typing, so listeners can
// consume server events that postdate this library.
func DecodeUnknown[T any](u *UnknownEvent) (*T, error) {
	out, err := decode.DecodeRaw[T](u.Raw)
	if err != nil {
		return nil, errs.ErrProtocol.WrapMsg("decode unknown event", "t", u.Type, "err", err)
	}
	return out, nil
}

// DecodeEvent parses a dispatch payload into its typed event, falling back
// to UnknownEvent for names the client does not model.
func DecodeEvent(t string, raw json.RawMessage) (any, error) {
	dec, ok := eventDecoders[t]
	if !ok {
		return &UnknownEvent{Type: t, Raw: raw}, nil
	}
	ev, err := dec(raw)
	if err != nil {
		return nil, errs.ErrProtocol.WrapMsg("decode event", "t", t, "err", err)
	}
	return ev, nil
}
