package state

import (
	"CordProject/service/gateway"
	"CordProject/service/model"
)

// Apply folds one typed dispatch event into the cache. Invoked on the
// shard's dispatch goroutine before listeners run, so listeners always see
// the post-mutation state. Unknown events are a no-op.
func (c *Cache) Apply(ev any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch e := ev.(type) {
	case *gateway.Ready:
		c.self = e.User
		c.users[e.User.ID] = e.User
		for _, g := range e.Guilds {
			rec, ok := c.guilds[g.ID]
			if !ok {
				rec = newGuildRecord(g.ID, c.shardFor(g.ID))
				c.guilds[g.ID] = rec
			}
			rec.unavailable = true
		}

	case *gateway.GuildCreate:
		c.applyGuildCreate(&e.Guild)

	case *gateway.GuildUpdate:
		if rec, ok := c.guilds[e.ID]; ok {
			mergeGuildMeta(&rec.meta, &e.Guild)
		}

	case *gateway.GuildDelete:
		rec, ok := c.guilds[e.ID]
		if !ok {
			return
		}
		if e.Unavailable {
			// outage, keep the record pending re-create
			rec.unavailable = true
			return
		}
		delete(c.guilds, e.ID)

	case *gateway.ChannelCreate:
		c.applyChannelUpsert(&e.Channel)
	case *gateway.ChannelUpdate:
		c.applyChannelUpsert(&e.Channel)
	case *gateway.ChannelDelete:
		c.applyChannelDelete(&e.Channel)

	case *gateway.GuildMemberAdd:
		if rec, ok := c.guilds[e.GuildID]; ok && e.User != nil {
			if _, exists := rec.members[e.User.ID]; !exists {
				rec.meta.MemberCount++
			}
			rec.members[e.User.ID] = e.Member
			c.users[e.User.ID] = *e.User
		}

	case *gateway.GuildMemberUpdate:
		if rec, ok := c.guilds[e.GuildID]; ok && e.User != nil {
			rec.members[e.User.ID] = e.Member
			c.users[e.User.ID] = *e.User
		}

	case *gateway.GuildMemberRemove:
		if rec, ok := c.guilds[e.GuildID]; ok {
			if _, exists := rec.members[e.User.ID]; exists {
				delete(rec.members, e.User.ID)
				rec.meta.MemberCount--
			}
		}

	case *gateway.GuildMembersChunk:
		if rec, ok := c.guilds[e.GuildID]; ok {
			for _, m := range e.Members {
				if m.User == nil {
					continue
				}
				rec.members[m.User.ID] = m
				c.users[m.User.ID] = *m.User
			}
		}

	case *gateway.GuildRoleCreate:
		if rec, ok := c.guilds[e.GuildID]; ok {
			rec.roles[e.Role.ID] = e.Role
		}
	case *gateway.GuildRoleUpdate:
		if rec, ok := c.guilds[e.GuildID]; ok {
			rec.roles[e.Role.ID] = e.Role
		}
	case *gateway.GuildRoleDelete:
		if rec, ok := c.guilds[e.GuildID]; ok {
			delete(rec.roles, e.RoleID)
		}

	case *gateway.PresenceUpdate:
		if rec, ok := c.guilds[e.GuildID]; ok {
			rec.presences[e.User.ID] = e.Presence
		}

	case *gateway.VoiceStateUpdate:
		if rec, ok := c.guilds[e.GuildID]; ok {
			if e.ChannelID == "" {
				delete(rec.voiceStates, e.UserID)
			} else {
				rec.voiceStates[e.UserID] = e.VoiceState
			}
		}

	case *gateway.UserUpdate:
		c.users[e.ID] = e.User
		if c.self.ID == e.ID {
			c.self = e.User
		}

	case *gateway.MessageCreate:
		// no retention, but the owning channel's last-message pointer moves
		c.touchLastMessage(e.ChannelID, e.ID)
	}
}

// applyGuildCreate promotes an unavailable guild (or creates a fresh one)
// and repopulates every sub-table from the payload. Re-applying the same
// payload converges to the same state.
func (c *Cache) applyGuildCreate(g *model.Guild) {
	rec := newGuildRecord(g.ID, c.shardFor(g.ID))
	c.guilds[g.ID] = rec

	mergeGuildMeta(&rec.meta, g)
	rec.unavailable = false

	for _, ch := range g.Channels {
		ch.GuildID = g.ID
		rec.channels[ch.ID] = ch
	}
	for _, m := range g.Members {
		if m.User == nil {
			continue
		}
		m.GuildID = g.ID
		rec.members[m.User.ID] = m
		c.users[m.User.ID] = *m.User
	}
	for _, r := range g.Roles {
		rec.roles[r.ID] = r
	}
	for _, p := range g.Presences {
		p.GuildID = g.ID
		rec.presences[p.User.ID] = p
	}
	for _, vs := range g.VoiceStates {
		vs.GuildID = g.ID
		rec.voiceStates[vs.UserID] = vs
	}
	if rec.meta.MemberCount == 0 {
		rec.meta.MemberCount = len(rec.members)
	}
}

func mergeGuildMeta(dst, src *model.Guild) {
	dst.ID = src.ID
	if src.Name != "" {
		dst.Name = src.Name
	}
	if src.Icon != "" {
		dst.Icon = src.Icon
	}
	if src.OwnerID != "" {
		dst.OwnerID = src.OwnerID
	}
	if src.Region != "" {
		dst.Region = src.Region
	}
	if src.AFKTimeout != 0 {
		dst.AFKTimeout = src.AFKTimeout
	}
	if src.MemberCount != 0 {
		dst.MemberCount = src.MemberCount
	}
	dst.Large = src.Large
}

// applyChannelUpsert stores the channel under its single owner table.
func (c *Cache) applyChannelUpsert(ch *model.Channel) {
	switch {
	case ch.IsDM():
		c.dms[ch.ID] = *ch
		if len(ch.Recipients) > 0 {
			// dedup: one DM channel per recipient
			c.dmByUser[ch.Recipients[0].ID] = ch.ID
			c.users[ch.Recipients[0].ID] = ch.Recipients[0]
		}
	case ch.IsGroupDM():
		c.groups[ch.ID] = *ch
		for _, u := range ch.Recipients {
			c.users[u.ID] = u
		}
	default:
		if rec, ok := c.guilds[ch.GuildID]; ok {
			rec.channels[ch.ID] = *ch
		}
	}
}

func (c *Cache) applyChannelDelete(ch *model.Channel) {
	switch {
	case ch.IsDM():
		if prev, ok := c.dms[ch.ID]; ok && len(prev.Recipients) > 0 {
			delete(c.dmByUser, prev.Recipients[0].ID)
		}
		delete(c.dms, ch.ID)
	case ch.IsGroupDM():
		delete(c.groups, ch.ID)
	default:
		if rec, ok := c.guilds[ch.GuildID]; ok {
			delete(rec.channels, ch.ID)
		}
	}
}

func (c *Cache) touchLastMessage(channelID, messageID string) {
	if ch, ok := c.dms[channelID]; ok {
		ch.LastMsgID = messageID
		c.dms[channelID] = ch
		return
	}
	if ch, ok := c.groups[channelID]; ok {
		ch.LastMsgID = messageID
		c.groups[channelID] = ch
		return
	}
	for _, g := range c.guilds {
		if ch, ok := g.channels[channelID]; ok {
			ch.LastMsgID = messageID
			g.channels[channelID] = ch
			return
		}
	}
}
