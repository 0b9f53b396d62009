package client

import (
	"context"
	"encoding/json"
	"sync"

	config "CordProject/global/config"
	"CordProject/logger"
	"CordProject/service/bridge"
	"CordProject/service/dispatch"
	"CordProject/service/gateway"
	"CordProject/service/model"
	"CordProject/service/rest"
	"CordProject/service/state"
	"CordProject/tools/errs"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Caps is a capability handle, the REST submitter plus the cache view, that
// callers can hand to their own code instead of a back-reference to the
// client. Client.Caps returns one; the client itself does not pass it to
// listeners or subsystems.
type Caps struct {
	API   *rest.API
	Cache *state.Cache
}

// Client owns one bot's protocol engine: governor, shard fleet, cache and
// dispatcher. Several clients can coexist in one process; there is no
// package-level state.
type Client struct {
	cfg   *config.ClientConfig
	gov   *rest.Governor
	api   *rest.API
	cache *state.Cache
	disp  *dispatch.Dispatcher

	mu      sync.Mutex
	manager *gateway.Manager
	sinks   []bridge.Sink

	voiceHandler func(*gateway.VoiceServerUpdate)
	fatalHandler func(shardID int, err error)
}

func New(cfg *config.ClientConfig) (*Client, error) {
	if cfg == nil || cfg.Token == "" {
		return nil, errs.ErrAuthentication.WrapMsg("token required")
	}
	cfg.Norm()
	gov := rest.NewGovernor(cfg)
	c := &Client{
		cfg:   cfg,
		gov:   gov,
		api:   rest.NewAPI(cfg, gov),
		cache: state.NewCache(1),
		disp:  dispatch.NewDispatcher(),
	}
	return c, nil
}

func (c *Client) API() *rest.API                 { return c.api }
func (c *Client) Cache() *state.Cache            { return c.cache }
func (c *Client) Dispatcher() *dispatch.Dispatcher { return c.disp }
func (c *Client) Caps() Caps                     { return Caps{API: c.api, Cache: c.cache} }

// SetVoiceHandler installs the downstream voice subsystem; it receives
// every VOICE_SERVER_UPDATE payload verbatim.
func (c *Client) SetVoiceHandler(h func(*gateway.VoiceServerUpdate)) { c.voiceHandler = h }

// SetFatalHandler observes non-recoverable shard failures (bad token,
// sharding required).
func (c *Client) SetFatalHandler(h func(shardID int, err error)) { c.fatalHandler = h }

// UseSinks attaches export sinks that receive every dispatch.
func (c *Client) UseSinks(sinks ...bridge.Sink) {
	c.mu.Lock()
	c.sinks = append(c.sinks, sinks...)
	c.mu.Unlock()
	bridge.Attach(c.disp, sinks...)
}

// Open fetches /gateway/bot, sizes the fleet, and spawns the shards. It
// returns once spawning has begun; readiness arrives as READY events.
func (c *Client) Open(ctx context.Context) error {
	gb, err := c.api.GetGatewayBot(ctx)
	if err != nil {
		return err
	}
	count := c.cfg.ShardCount
	if count <= 0 {
		count = gb.Shards
	}
	if count <= 0 {
		count = 1
	}
	if gb.SessionStartLimit.Remaining < count {
		return errs.ErrShardLimit.WrapMsg("identify quota too low",
			"remaining", gb.SessionStartLimit.Remaining, "need", count)
	}

	c.cache.SetShardCount(count)

	c.mu.Lock()
	if c.manager != nil {
		c.mu.Unlock()
		return errs.New("client already open")
	}
	c.manager = gateway.NewManager(c.cfg, gb.URL, count, c.onDispatch, c.onFatal, c.cache)
	m := c.manager
	c.mu.Unlock()

	logger.Info("opening gateway",
		zap.String("url", gb.URL),
		zap.Int("shards", count),
		zap.Int("identify_remaining", gb.SessionStartLimit.Remaining))
	m.Start()
	return nil
}

// Close shuts the fleet down gracefully, stops the governor and drains
// export sinks.
func (c *Client) Close() {
	c.mu.Lock()
	m := c.manager
	c.manager = nil
	sinks := c.sinks
	c.sinks = nil
	c.mu.Unlock()

	if m != nil {
		m.Close()
	}
	c.gov.Close()
	for _, s := range sinks {
		if err := s.Close(); err != nil {
			logger.Warnf("[client] sink close: %v", err)
		}
	}
}

// onDispatch is the per-shard event path: decode, mutate cache, fan out.
// It runs on the shard's read goroutine, so per-shard order is preserved
// end to end.
func (c *Client) onDispatch(shardID int, seq int64, t string, raw json.RawMessage) {
	data, err := gateway.DecodeEvent(t, raw)
	if err != nil {
		logger.Warnf("[client] drop undecodable event t=%s shard=%d: %v", t, shardID, err)
		return
	}

	c.cache.Apply(data)

	if vsu, ok := data.(*gateway.VoiceServerUpdate); ok && c.voiceHandler != nil {
		c.voiceHandler(vsu)
	}

	c.disp.Dispatch(&dispatch.Event{
		ShardID: shardID,
		Seq:     seq,
		Type:    t,
		Data:    data,
		Raw:     raw,
	})
}

func (c *Client) onFatal(shardID int, err error) {
	logger.Error("shard died", zap.Int("shard", shardID), zap.Error(err))
	if c.fatalHandler != nil {
		c.fatalHandler(shardID, err)
	}
}

func (c *Client) managerOrErr() (*gateway.Manager, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.manager == nil {
		return nil, errs.ErrTransport.WrapMsg("client not open")
	}
	return c.manager, nil
}

// Manager exposes the shard fleet (spawn/kill/inspect).
func (c *Client) Manager() *gateway.Manager {
	m, _ := c.managerOrErr()
	return m
}

// ---- gateway commands ----

// JoinVoiceChannel routes an op-4 join to the guild's owning shard.
func (c *Client) JoinVoiceChannel(ctx context.Context, guildID, channelID string, selfMute, selfDeaf bool) error {
	m, err := c.managerOrErr()
	if err != nil {
		return err
	}
	return m.UpdateVoiceState(ctx, guildID, &channelID, selfMute, selfDeaf)
}

// LeaveVoiceChannel clears the bot's voice state in the guild.
func (c *Client) LeaveVoiceChannel(ctx context.Context, guildID string) error {
	m, err := c.managerOrErr()
	if err != nil {
		return err
	}
	return m.UpdateVoiceState(ctx, guildID, nil, false, false)
}

// UpdatePresence broadcasts a status update on every shard.
func (c *Client) UpdatePresence(ctx context.Context, status string, activities ...gateway.Activity) error {
	m, err := c.managerOrErr()
	if err != nil {
		return err
	}
	return m.UpdateStatusAll(ctx, status, activities...)
}

// RequestGuildMembers asks the owning shard for member chunks and returns
// the nonce that tags the resulting GUILD_MEMBERS_CHUNK events.
func (c *Client) RequestGuildMembers(ctx context.Context, guildID, query string, limit int) (string, error) {
	m, err := c.managerOrErr()
	if err != nil {
		return "", err
	}
	nonce := uuid.NewString()
	if err := m.RequestGuildMembers(ctx, guildID, query, limit, nonce); err != nil {
		return "", err
	}
	return nonce, nil
}

// ---- cache-first getters ----

// Guild reads the cache first and falls back to REST on a miss. The REST
// result is not folded back into the cache; gateway dispatches own it.
func (c *Client) Guild(ctx context.Context, guildID string) (*model.Guild, error) {
	if snap, err := c.cache.Guild(guildID); err == nil && !snap.Unavailable {
		g := snap.Guild
		return &g, nil
	}
	return c.api.GetGuild(ctx, guildID)
}

// Channel reads the cache first and falls back to REST on a miss.
func (c *Client) Channel(ctx context.Context, channelID string) (*model.Channel, error) {
	if ch, err := c.cache.Channel(channelID); err == nil {
		return ch, nil
	}
	return c.api.GetChannel(ctx, channelID)
}

// ---- typed listener helpers ----

func (c *Client) OnReady(fn func(*gateway.Ready)) {
	dispatch.On(c.disp, gateway.EventReady, func(_ *dispatch.Event, d *gateway.Ready) { fn(d) })
}

func (c *Client) OnMessageCreate(fn func(*gateway.MessageCreate)) {
	dispatch.On(c.disp, gateway.EventMessageCreate, func(_ *dispatch.Event, d *gateway.MessageCreate) { fn(d) })
}

func (c *Client) OnGuildCreate(fn func(*gateway.GuildCreate)) {
	dispatch.On(c.disp, gateway.EventGuildCreate, func(_ *dispatch.Event, d *gateway.GuildCreate) { fn(d) })
}

func (c *Client) OnGuildDelete(fn func(*gateway.GuildDelete)) {
	dispatch.On(c.disp, gateway.EventGuildDelete, func(_ *dispatch.Event, d *gateway.GuildDelete) { fn(d) })
}

func (c *Client) OnVoiceServerUpdate(fn func(*gateway.VoiceServerUpdate)) {
	dispatch.On(c.disp, gateway.EventVoiceServerUpdate, func(_ *dispatch.Event, d *gateway.VoiceServerUpdate) { fn(d) })
}
