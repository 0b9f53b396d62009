package model

// Channel types as carried on the wire.
const (
	ChannelTypeGuildText = iota
	ChannelTypeDM
	ChannelTypeGuildVoice
	ChannelTypeGroupDM
	ChannelTypeGuildCategory
	ChannelTypeGuildNews
)

// User is shared across guilds; the cache holds one instance per id and
// looks it up weakly (no ownership).
type User struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Discriminator string `json:"discriminator,omitempty"`
	Avatar        string `json:"avatar,omitempty"`
	Bot           bool   `json:"bot,omitempty"`
}

type Role struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Color       int    `json:"color"`
	Hoist       bool   `json:"hoist"`
	Position    int    `json:"position"`
	Permissions int64  `json:"permissions,string"`
	Managed     bool   `json:"managed"`
	Mentionable bool   `json:"mentionable"`
}

type Channel struct {
	ID         string `json:"id"`
	Type       int    `json:"type"`
	GuildID    string `json:"guild_id,omitempty"`
	Position   int    `json:"position,omitempty"`
	Name       string `json:"name,omitempty"`
	Topic      string `json:"topic,omitempty"`
	NSFW       bool   `json:"nsfw,omitempty"`
	LastMsgID  string `json:"last_message_id,omitempty"`
	Bitrate    int    `json:"bitrate,omitempty"`
	UserLimit  int    `json:"user_limit,omitempty"`
	Recipients []User `json:"recipients,omitempty"`
	ParentID   string `json:"parent_id,omitempty"`
}

func (c *Channel) IsDM() bool      { return c.Type == ChannelTypeDM }
func (c *Channel) IsGroupDM() bool { return c.Type == ChannelTypeGroupDM }

type Member struct {
	User     *User    `json:"user"`
	GuildID  string   `json:"guild_id,omitempty"`
	Nick     string   `json:"nick,omitempty"`
	Roles    []string `json:"roles"`
	JoinedAt string   `json:"joined_at,omitempty"`
	Deaf     bool     `json:"deaf,omitempty"`
	Mute     bool     `json:"mute,omitempty"`
}

type VoiceState struct {
	GuildID   string `json:"guild_id,omitempty"`
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	Deaf      bool   `json:"deaf"`
	Mute      bool   `json:"mute"`
	SelfDeaf  bool   `json:"self_deaf"`
	SelfMute  bool   `json:"self_mute"`
	Suppress  bool   `json:"suppress"`
}

type Presence struct {
	User    User   `json:"user"`
	GuildID string `json:"guild_id,omitempty"`
	Status  string `json:"status"`
}

// Guild as delivered by GUILD_CREATE. Unavailable entries carry only the id.
type Guild struct {
	ID          string       `json:"id"`
	Name        string       `json:"name,omitempty"`
	Icon        string       `json:"icon,omitempty"`
	OwnerID     string       `json:"owner_id,omitempty"`
	Region      string       `json:"region,omitempty"`
	AFKTimeout  int          `json:"afk_timeout,omitempty"`
	Large       bool         `json:"large,omitempty"`
	Unavailable bool         `json:"unavailable,omitempty"`
	MemberCount int          `json:"member_count,omitempty"`
	Channels    []Channel    `json:"channels,omitempty"`
	Members     []Member     `json:"members,omitempty"`
	Roles       []Role       `json:"roles,omitempty"`
	Presences   []Presence   `json:"presences,omitempty"`
	VoiceStates []VoiceState `json:"voice_states,omitempty"`
}

type Attachment struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Size     int    `json:"size"`
	URL      string `json:"url"`
}

type Message struct {
	ID          string       `json:"id"`
	ChannelID   string       `json:"channel_id"`
	GuildID     string       `json:"guild_id,omitempty"`
	Author      *User        `json:"author,omitempty"`
	Content     string       `json:"content"`
	Timestamp   string       `json:"timestamp,omitempty"`
	EditedAt    string       `json:"edited_timestamp,omitempty"`
	TTS         bool         `json:"tts,omitempty"`
	MentionAll  bool         `json:"mention_everyone,omitempty"`
	Mentions    []User       `json:"mentions,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

type Invite struct {
	Code      string   `json:"code"`
	GuildID   string   `json:"guild_id,omitempty"`
	ChannelID string   `json:"channel_id,omitempty"`
	Inviter   *User    `json:"inviter,omitempty"`
	MaxAge    int      `json:"max_age,omitempty"`
	MaxUses   int      `json:"max_uses,omitempty"`
	Temporary bool     `json:"temporary,omitempty"`
	Uses      int      `json:"uses,omitempty"`
	Channel   *Channel `json:"channel,omitempty"`
}

type Webhook struct {
	ID        string `json:"id"`
	Type      int    `json:"type,omitempty"`
	GuildID   string `json:"guild_id,omitempty"`
	ChannelID string `json:"channel_id"`
	Name      string `json:"name,omitempty"`
	Token     string `json:"token,omitempty"`
	User      *User  `json:"user,omitempty"`
}
