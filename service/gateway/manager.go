package gateway

import (
	"context"
	"sync"
	"time"

	config "CordProject/global/config"
	"CordProject/logger"
	"CordProject/tools/errs"
	"CordProject/tools/ids"
)

// IdentifyGate serializes IDENTIFYs across the fleet; the server enforces
// a minimum spacing between them.
type IdentifyGate struct {
	mu      sync.Mutex
	next    time.Time
	spacing time.Duration
}

func NewIdentifyGate(spacing time.Duration) *IdentifyGate {
	return &IdentifyGate{spacing: spacing}
}

// Wait blocks until this caller's identify slot arrives, or stop closes.
func (g *IdentifyGate) Wait(stop <-chan struct{}) error {
	g.mu.Lock()
	now := time.Now()
	at := g.next
	if at.Before(now) {
		at = now
	}
	g.next = at.Add(g.spacing)
	g.mu.Unlock()

	d := at.Sub(now)
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-stop:
		return errs.New("identify gate interrupted")
	}
}

// GuildStatusSink lets the manager flag cached guilds when their owning
// shard goes away. The cache implements it.
type GuildStatusSink interface {
	MarkShardGuildsUnavailable(shardID int)
}

// Manager owns the shard fleet: spawn, route, kill, respawn.
type Manager struct {
	cfg        *config.ClientConfig
	url        string
	total      int
	gate       *IdentifyGate
	onDispatch DispatchFunc
	onFatal    FatalFunc
	status     GuildStatusSink

	mu     sync.Mutex
	shards map[int]*Shard
}

func NewManager(cfg *config.ClientConfig, url string, total int, onDispatch DispatchFunc, onFatal FatalFunc, status GuildStatusSink) *Manager {
	return &Manager{
		cfg:        cfg,
		url:        url,
		total:      total,
		gate:       NewIdentifyGate(cfg.IdentifySpacing),
		onDispatch: onDispatch,
		onFatal:    onFatal,
		status:     status,
		shards:     make(map[int]*Shard),
	}
}

func (m *Manager) ShardCount() int { return m.total }

// Start spawns shards 0..total-1. Sockets open in parallel; the identify
// gate serializes the handshake step.
func (m *Manager) Start() {
	for id := 0; id < m.total; id++ {
		m.Spawn(id)
	}
}

// Spawn creates and connects the shard for slot id, replacing any previous
// occupant (which must already be stopped).
func (m *Manager) Spawn(id int) *Shard {
	s := newShard(id, m.total, m.url, m.cfg, m.gate, m.onDispatch, m.onFatal)
	m.mu.Lock()
	m.shards[id] = s
	m.mu.Unlock()
	s.Connect()
	logger.Infof("[manager] spawned shard %d/%d", id, m.total)
	return s
}

// Kill closes shard id's socket with code 1000, stops it for good, and flags
// its guilds unavailable until a replacement reports them in its READY.
func (m *Manager) Kill(id int) {
	m.mu.Lock()
	s := m.shards[id]
	delete(m.shards, id)
	m.mu.Unlock()
	if s == nil {
		return
	}
	s.Disconnect()
	if m.status != nil {
		m.status.MarkShardGuildsUnavailable(id)
	}
	logger.Infof("[manager] killed shard %d", id)
}

// Shard returns the current occupant of slot id.
func (m *Manager) Shard(id int) (*Shard, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.shards[id]
	return s, ok
}

// ShardFor routes a guild id to its owning shard slot: (id >> 22) % N.
func (m *Manager) ShardFor(guildID string) (int, error) {
	id, err := ids.ParseString(guildID)
	if err != nil {
		return 0, errs.ErrProtocol.WrapMsg("bad guild id", "id", guildID)
	}
	return ids.ShardIndex(id, m.total), nil
}

// shardOwning resolves the live shard for a guild-scoped command.
func (m *Manager) shardOwning(guildID string) (*Shard, error) {
	slot, err := m.ShardFor(guildID)
	if err != nil {
		return nil, err
	}
	s, ok := m.Shard(slot)
	if !ok {
		return nil, errs.ErrTransport.WrapMsg("shard not running", "slot", slot)
	}
	return s, nil
}

// UpdateVoiceState routes the op-4 command to the guild's owning shard.
func (m *Manager) UpdateVoiceState(ctx context.Context, guildID string, channelID *string, selfMute, selfDeaf bool) error {
	s, err := m.shardOwning(guildID)
	if err != nil {
		return err
	}
	return s.UpdateVoiceState(ctx, guildID, channelID, selfMute, selfDeaf)
}

// RequestGuildMembers routes the op-8 command to the guild's owning shard.
func (m *Manager) RequestGuildMembers(ctx context.Context, guildID, query string, limit int, nonce string) error {
	s, err := m.shardOwning(guildID)
	if err != nil {
		return err
	}
	return s.RequestGuildMembers(ctx, guildID, query, limit, nonce)
}

// UpdateStatusAll broadcasts a presence update on every shard.
func (m *Manager) UpdateStatusAll(ctx context.Context, status string, activities ...Activity) error {
	m.mu.Lock()
	shards := make([]*Shard, 0, len(m.shards))
	for _, s := range m.shards {
		shards = append(shards, s)
	}
	m.mu.Unlock()

	var lastErr error
	for _, s := range shards {
		if err := s.UpdateStatus(ctx, status, activities...); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// ReconnectAll drops every shard and spawns a fresh one in the same slot.
// The replacements start without a session, so each identifies anew; no
// session is resumed.
func (m *Manager) ReconnectAll() {
	m.mu.Lock()
	shards := make([]*Shard, 0, len(m.shards))
	for id, s := range m.shards {
		shards = append(shards, s)
		delete(m.shards, id)
	}
	m.mu.Unlock()

	for _, s := range shards {
		s.Kill()
	}
	for _, s := range shards {
		m.Spawn(s.ID())
	}
}

// Close disconnects every shard gracefully and waits for their loops.
func (m *Manager) Close() {
	m.mu.Lock()
	shards := make([]*Shard, 0, len(m.shards))
	for id, s := range m.shards {
		shards = append(shards, s)
		delete(m.shards, id)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range shards {
		wg.Add(1)
		go func(s *Shard) {
			defer wg.Done()
			s.Disconnect()
		}(s)
	}
	wg.Wait()
}
