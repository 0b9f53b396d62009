package config

import (
	"strconv"
	"time"
)

// Gateway intent bits. The server only delivers event categories whose bit
// is set in ClientConfig.Intents.
const (
	IntentGuilds uint64 = 1 << iota
	IntentGuildMembers
	IntentGuildModeration
	IntentGuildExpressions
	IntentGuildIntegrations
	IntentGuildWebhooks
	IntentGuildInvites
	IntentGuildVoiceStates
	IntentGuildPresences
	IntentGuildMessages
	IntentGuildMessageReactions
	IntentGuildMessageTyping
	IntentDirectMessages
	IntentDirectMessageReactions
	IntentDirectMessageTyping
	IntentMessageContent
)

// IntentsDefault covers guild structure, messages and voice state, which is
// what the cache needs to stay coherent.
const IntentsDefault = IntentGuilds | IntentGuildMessages | IntentGuildVoiceStates | IntentDirectMessages

const (
	GatewayVersionDefault = 10 // intents required
	GatewayVersionLegacy  = 6  // deprecated upstream, selectable for old deployments
)

// ClientConfig is the single configuration handle for one client instance.
// Token is the only required field; everything else is normalized by Norm.
type ClientConfig struct {
	Token string

	Intents             uint64
	ShardCount          int // 0 = use the count recommended by /gateway/bot
	GatewayVersion      int // 10 default, 6 legacy
	LargeThreshold      int // member count above which guilds arrive "large"
	APIBase             string
	UserAgent           string
	RequestTimeout      time.Duration // per-attempt REST deadline
	IdentifySpacing     time.Duration // min delay between IDENTIFYs across the fleet
	GuildMemberChunkTTL time.Duration // how long a member-request nonce stays live

	Clock func() time.Time // injectable clock, nil => time.Now
}

func (c *ClientConfig) Norm() {
	if c.Intents == 0 {
		c.Intents = IntentsDefault
	}
	if c.GatewayVersion != GatewayVersionLegacy {
		c.GatewayVersion = GatewayVersionDefault
	}
	if c.LargeThreshold <= 0 || c.LargeThreshold > 250 {
		c.LargeThreshold = 250
	}
	if c.APIBase == "" {
		c.APIBase = "https://discord.com/api/v" + strconv.Itoa(apiVersionFor(c.GatewayVersion))
	}
	if c.UserAgent == "" {
		c.UserAgent = "DiscordBot (CordProject, 1.0)"
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.IdentifySpacing <= 0 {
		c.IdentifySpacing = 5 * time.Second
	}
	if c.GuildMemberChunkTTL <= 0 {
		c.GuildMemberChunkTTL = time.Minute
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
}

func apiVersionFor(gw int) int {
	if gw == GatewayVersionLegacy {
		return 6
	}
	return 10
}
