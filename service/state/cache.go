package state

import (
	"sync"

	"CordProject/service/model"
	"CordProject/tools/errs"
	"CordProject/tools/ids"
)

// Channel owner kinds, for the one-owner invariant: every cached channel id
// belongs to exactly one of a guild, the DM table, or the group table.
const (
	OwnerGuild = "guild"
	OwnerDM    = "dm"
	OwnerGroup = "group"
)

// guildRecord is the mutable cache entry for one guild. Only the owning
// shard's dispatch goroutine mutates it; readers get copies.
type guildRecord struct {
	meta        model.Guild // scalar fields only, slices live in the maps
	shardID     int
	unavailable bool
	channels    map[string]model.Channel
	members     map[string]model.Member
	roles       map[string]model.Role
	presences   map[string]model.Presence
	voiceStates map[string]model.VoiceState
}

func newGuildRecord(id string, shardID int) *guildRecord {
	return &guildRecord{
		meta:        model.Guild{ID: id},
		shardID:     shardID,
		channels:    make(map[string]model.Channel),
		members:     make(map[string]model.Member),
		roles:       make(map[string]model.Role),
		presences:   make(map[string]model.Presence),
		voiceStates: make(map[string]model.VoiceState),
	}
}

// GuildSnapshot is the read-side copy handed to callers.
type GuildSnapshot struct {
	model.Guild
	ShardID     int
	Unavailable bool
	Channels    map[string]model.Channel
	Members     map[string]model.Member
	Roles       map[string]model.Role
	Presences   map[string]model.Presence
	VoiceStates map[string]model.VoiceState
}

// Cache is the in-memory view of everything the gateway has reported.
// Writers are the shard dispatch goroutines (serialized per guild because a
// guild lives on exactly one shard); readers are user listeners.
type Cache struct {
	mu         sync.RWMutex
	self       model.User
	shardCount int

	guilds   map[string]*guildRecord
	dms      map[string]model.Channel
	dmByUser map[string]string // recipient user id -> dm channel id
	groups   map[string]model.Channel
	users    map[string]model.User
}

func NewCache(shardCount int) *Cache {
	return &Cache{
		shardCount: shardCount,
		guilds:     make(map[string]*guildRecord),
		dms:        make(map[string]model.Channel),
		dmByUser:   make(map[string]string),
		groups:     make(map[string]model.Channel),
		users:      make(map[string]model.User),
	}
}

func (c *Cache) SetShardCount(n int) {
	c.mu.Lock()
	c.shardCount = n
	c.mu.Unlock()
}

func (c *Cache) shardFor(guildID string) int {
	id, err := ids.ParseString(guildID)
	if err != nil {
		return 0
	}
	return ids.ShardIndex(id, c.shardCount)
}

// ---- read side ----

func (c *Cache) SelfUser() model.User {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.self
}

// Guild returns a deep-enough copy of the cached guild. ErrCacheMiss when
// the gateway has not reported it.
func (c *Cache) Guild(id string) (*GuildSnapshot, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	g, ok := c.guilds[id]
	if !ok {
		return nil, errs.ErrCacheMiss.WrapMsg("guild", "id", id)
	}
	return snapshotGuild(g), nil
}

func snapshotGuild(g *guildRecord) *GuildSnapshot {
	snap := &GuildSnapshot{
		Guild:       g.meta,
		ShardID:     g.shardID,
		Unavailable: g.unavailable,
		Channels:    make(map[string]model.Channel, len(g.channels)),
		Members:     make(map[string]model.Member, len(g.members)),
		Roles:       make(map[string]model.Role, len(g.roles)),
		Presences:   make(map[string]model.Presence, len(g.presences)),
		VoiceStates: make(map[string]model.VoiceState, len(g.voiceStates)),
	}
	for k, v := range g.channels {
		snap.Channels[k] = v
	}
	for k, v := range g.members {
		snap.Members[k] = v
	}
	for k, v := range g.roles {
		snap.Roles[k] = v
	}
	for k, v := range g.presences {
		snap.Presences[k] = v
	}
	for k, v := range g.voiceStates {
		snap.VoiceStates[k] = v
	}
	return snap
}

// Channel resolves a channel id regardless of owner.
func (c *Cache) Channel(id string) (*model.Channel, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if ch, ok := c.dms[id]; ok {
		cc := ch
		return &cc, nil
	}
	if ch, ok := c.groups[id]; ok {
		cc := ch
		return &cc, nil
	}
	for _, g := range c.guilds {
		if ch, ok := g.channels[id]; ok {
			cc := ch
			return &cc, nil
		}
	}
	return nil, errs.ErrCacheMiss.WrapMsg("channel", "id", id)
}

// Owner reports which table owns a channel id, upholding the one-owner
// invariant.
func (c *Cache) Owner(channelID string) (kind string, ownerID string, err error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.dms[channelID]; ok {
		return OwnerDM, "", nil
	}
	if _, ok := c.groups[channelID]; ok {
		return OwnerGroup, "", nil
	}
	for gid, g := range c.guilds {
		if _, ok := g.channels[channelID]; ok {
			return OwnerGuild, gid, nil
		}
	}
	return "", "", errs.ErrCacheMiss.WrapMsg("channel owner", "id", channelID)
}

// DMByUser finds the deduped DM channel for a recipient.
func (c *Cache) DMByUser(userID string) (*model.Channel, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	chID, ok := c.dmByUser[userID]
	if !ok {
		return nil, errs.ErrCacheMiss.WrapMsg("dm", "user", userID)
	}
	ch := c.dms[chID]
	return &ch, nil
}

// User looks up the weakly-held shared user table.
func (c *Cache) User(id string) (*model.User, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	u, ok := c.users[id]
	if !ok {
		return nil, errs.ErrCacheMiss.WrapMsg("user", "id", id)
	}
	uu := u
	return &uu, nil
}

// GuildIDs lists every cached guild id, available or not.
func (c *Cache) GuildIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.guilds))
	for id := range c.guilds {
		out = append(out, id)
	}
	return out
}

// UnavailableGuildIDs lists guilds currently flagged unavailable.
func (c *Cache) UnavailableGuildIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []string
	for id, g := range c.guilds {
		if g.unavailable {
			out = append(out, id)
		}
	}
	return out
}

// MarkShardGuildsUnavailable flags every guild owned by shardID; the
// manager calls this when it reaps a shard.
func (c *Cache) MarkShardGuildsUnavailable(shardID int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, g := range c.guilds {
		if g.shardID == shardID {
			g.unavailable = true
		}
	}
}
