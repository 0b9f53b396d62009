package state

import (
	"strconv"
	"testing"

	"CordProject/service/gateway"
	"CordProject/service/model"
	"CordProject/tools/errs"

	"github.com/stretchr/testify/require"
)

func itoa64(n int64) string { return strconv.FormatInt(n, 10) }

func guildPayload(id string) *gateway.GuildCreate {
	u1 := model.User{ID: "100", Username: "alice"}
	return &gateway.GuildCreate{Guild: model.Guild{
		ID:      id,
		Name:    "test guild",
		OwnerID: "100",
		Channels: []model.Channel{
			{ID: "555", Type: model.ChannelTypeGuildText, Name: "general"},
			{ID: "556", Type: model.ChannelTypeGuildVoice, Name: "voice"},
		},
		Members: []model.Member{{User: &u1, Nick: "al"}},
		Roles:   []model.Role{{ID: "700", Name: "admin"}},
	}}
}

func TestGuildCreateIdempotent(t *testing.T) {
	c := NewCache(1)
	gid := "123456789012582400"

	c.Apply(guildPayload(gid))
	first, err := c.Guild(gid)
	require.NoError(t, err)

	c.Apply(guildPayload(gid))
	second, err := c.Guild(gid)
	require.NoError(t, err)

	require.Equal(t, first, second, "re-applying GUILD_CREATE must converge")
	require.Len(t, second.Channels, 2)
	require.Len(t, second.Members, 1)
	require.Len(t, second.Roles, 1)
	require.False(t, second.Unavailable)
}

func TestReadyMarksGuildsUnavailable(t *testing.T) {
	c := NewCache(2)
	c.Apply(&gateway.Ready{
		SessionID: "s1",
		User:      model.User{ID: "10", Username: "bot"},
		Guilds:    []model.Guild{{ID: "123456789012582400", Unavailable: true}},
	})

	require.Equal(t, "10", c.SelfUser().ID)
	require.Equal(t, []string{"123456789012582400"}, c.UnavailableGuildIDs())

	// GUILD_CREATE promotes
	c.Apply(guildPayload("123456789012582400"))
	require.Empty(t, c.UnavailableGuildIDs())
	g, err := c.Guild("123456789012582400")
	require.NoError(t, err)
	require.Equal(t, "test guild", g.Name)
}

func TestGuildDeleteDemotesOrRemoves(t *testing.T) {
	c := NewCache(1)
	gid := "123456789012582400"
	c.Apply(guildPayload(gid))

	// outage: demote to unavailable, keep the record
	c.Apply(&gateway.GuildDelete{ID: gid, Unavailable: true})
	g, err := c.Guild(gid)
	require.NoError(t, err)
	require.True(t, g.Unavailable)

	// real removal
	c.Apply(&gateway.GuildDelete{ID: gid})
	_, err = c.Guild(gid)
	require.Equal(t, errs.CodeCacheMiss, errs.Code(err))
}

func TestChannelSingleOwnerInvariant(t *testing.T) {
	c := NewCache(1)
	gid := "123456789012582400"
	c.Apply(guildPayload(gid))

	kind, owner, err := c.Owner("555")
	require.NoError(t, err)
	require.Equal(t, OwnerGuild, kind)
	require.Equal(t, gid, owner)

	// DM channel lands in the DM table, not in any guild
	c.Apply(&gateway.ChannelCreate{Channel: model.Channel{
		ID:         "900",
		Type:       model.ChannelTypeDM,
		Recipients: []model.User{{ID: "42", Username: "pal"}},
	}})
	kind, _, err = c.Owner("900")
	require.NoError(t, err)
	require.Equal(t, OwnerDM, kind)

	dm, err := c.DMByUser("42")
	require.NoError(t, err)
	require.Equal(t, "900", dm.ID)

	// group DM
	c.Apply(&gateway.ChannelCreate{Channel: model.Channel{ID: "901", Type: model.ChannelTypeGroupDM}})
	kind, _, err = c.Owner("901")
	require.NoError(t, err)
	require.Equal(t, OwnerGroup, kind)

	// delete removes ownership
	c.Apply(&gateway.ChannelDelete{Channel: model.Channel{ID: "555", GuildID: gid}})
	_, _, err = c.Owner("555")
	require.Equal(t, errs.CodeCacheMiss, errs.Code(err))
}

func TestDMDedupByRecipient(t *testing.T) {
	c := NewCache(1)
	mk := func(chID string) *gateway.ChannelCreate {
		return &gateway.ChannelCreate{Channel: model.Channel{
			ID:         chID,
			Type:       model.ChannelTypeDM,
			Recipients: []model.User{{ID: "42"}},
		}}
	}
	c.Apply(mk("900"))
	c.Apply(mk("901")) // server re-opened the DM under a new id

	dm, err := c.DMByUser("42")
	require.NoError(t, err)
	require.Equal(t, "901", dm.ID, "user index must point at the latest DM channel")
}

func TestMemberMutations(t *testing.T) {
	c := NewCache(1)
	gid := "123456789012582400"
	c.Apply(guildPayload(gid))

	u2 := model.User{ID: "200", Username: "bob"}
	c.Apply(&gateway.GuildMemberAdd{Member: model.Member{User: &u2, GuildID: gid}})
	g, _ := c.Guild(gid)
	require.Len(t, g.Members, 2)
	require.Equal(t, 2, g.MemberCount)

	c.Apply(&gateway.GuildMemberUpdate{Member: model.Member{User: &u2, GuildID: gid, Nick: "bobby"}})
	g, _ = c.Guild(gid)
	require.Equal(t, "bobby", g.Members["200"].Nick)

	c.Apply(&gateway.GuildMemberRemove{GuildID: gid, User: u2})
	g, _ = c.Guild(gid)
	require.Len(t, g.Members, 1)
	require.Equal(t, 1, g.MemberCount)

	// weakly-held shared user survives removal from the guild
	u, err := c.User("200")
	require.NoError(t, err)
	require.Equal(t, "bob", u.Username)
}

func TestRoleAndVoiceStateMutations(t *testing.T) {
	c := NewCache(1)
	gid := "123456789012582400"
	c.Apply(guildPayload(gid))

	c.Apply(&gateway.GuildRoleCreate{GuildID: gid, Role: model.Role{ID: "701", Name: "mod"}})
	c.Apply(&gateway.GuildRoleUpdate{GuildID: gid, Role: model.Role{ID: "701", Name: "moderator"}})
	g, _ := c.Guild(gid)
	require.Equal(t, "moderator", g.Roles["701"].Name)

	c.Apply(&gateway.GuildRoleDelete{GuildID: gid, RoleID: "701"})
	g, _ = c.Guild(gid)
	require.NotContains(t, g.Roles, "701")

	c.Apply(&gateway.VoiceStateUpdate{VoiceState: model.VoiceState{GuildID: gid, ChannelID: "556", UserID: "100"}})
	g, _ = c.Guild(gid)
	require.Contains(t, g.VoiceStates, "100")

	// empty channel id means the user left voice
	c.Apply(&gateway.VoiceStateUpdate{VoiceState: model.VoiceState{GuildID: gid, ChannelID: "", UserID: "100"}})
	g, _ = c.Guild(gid)
	require.NotContains(t, g.VoiceStates, "100")
}

func TestMarkShardGuildsUnavailable(t *testing.T) {
	c := NewCache(4)
	// two guilds with distinct (id>>22)%4
	a := int64(8) << 22 // slot 0
	b := int64(9) << 22 // slot 1
	c.Apply(&gateway.GuildCreate{Guild: model.Guild{ID: itoa64(a), Name: "a"}})
	c.Apply(&gateway.GuildCreate{Guild: model.Guild{ID: itoa64(b), Name: "b"}})

	c.MarkShardGuildsUnavailable(1)
	require.Equal(t, []string{itoa64(b)}, c.UnavailableGuildIDs())
}

func TestReaderSeesConsistentSnapshot(t *testing.T) {
	c := NewCache(1)
	gid := "123456789012582400"
	c.Apply(guildPayload(gid))

	snap, err := c.Guild(gid)
	require.NoError(t, err)

	// mutating the cache after the snapshot must not reach the reader copy
	c.Apply(&gateway.GuildRoleDelete{GuildID: gid, RoleID: "700"})
	require.Contains(t, snap.Roles, "700")
}
