package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	config "CordProject/global/config"
	"CordProject/logger"
	"CordProject/service/transport"
	"CordProject/tools/errs"
	"CordProject/tools/safe"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Shard states.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateIdentifying
	StateReady
	StateResuming
	StateReconnecting
	StateDead
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateIdentifying:
		return "identifying"
	case StateReady:
		return "ready"
	case StateResuming:
		return "resuming"
	case StateReconnecting:
		return "reconnecting"
	case StateDead:
		return "dead"
	}
	return "unknown"
}

// DispatchFunc receives every dispatch in receive order, invoked on the
// shard's read goroutine. seq is the shard sequence after the update.
type DispatchFunc func(shardID int, seq int64, t string, raw json.RawMessage)

// FatalFunc fires once when a shard hits a non-recoverable close code.
type FatalFunc func(shardID int, err error)

const reconnectDelay = time.Second

// Shard is one gateway connection: it owns the session, the sequence
// counter and the heartbeat loop, and drives the reconnect matrix.
type Shard struct {
	id    int
	total int
	cfg   *config.ClientConfig
	url   string
	gate  *IdentifyGate

	onDispatch DispatchFunc
	onFatal    FatalFunc
	log        *zap.Logger

	state atomic.Int32
	seq   atomic.Int64

	sessionMu  sync.Mutex
	sessionID  string
	resumeNext bool

	connMu sync.Mutex
	conn   *transport.WSConn

	sendLim     *rate.Limiter
	pendingAcks atomic.Int32
	lastAck     atomic.Int64 // unix nano

	stopCh   chan struct{}
	stopOnce sync.Once
	doneCh   chan struct{}
}

func newShard(id, total int, url string, cfg *config.ClientConfig, gate *IdentifyGate, onDispatch DispatchFunc, onFatal FatalFunc) *Shard {
	s := &Shard{
		id:         id,
		total:      total,
		cfg:        cfg,
		url:        url,
		gate:       gate,
		onDispatch: onDispatch,
		onFatal:    onFatal,
		log:        logger.With("shard", zap.Int("id", id)),
		sendLim:    newSendLimiter(),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
	s.state.Store(int32(StateDisconnected))
	return s
}

func (s *Shard) ID() int           { return s.id }
func (s *Shard) State() State      { return State(s.state.Load()) }
func (s *Shard) Sequence() int64   { return s.seq.Load() }
func (s *Shard) SessionID() string { s.sessionMu.Lock(); defer s.sessionMu.Unlock(); return s.sessionID }

func (s *Shard) setState(st State) {
	old := State(s.state.Swap(int32(st)))
	if old != st {
		s.log.Debug("state", zap.String("from", old.String()), zap.String("to", st.String()))
	}
}

// Connect starts the shard's connection loop in the background.
func (s *Shard) Connect() {
	safe.Go(s.run)
}

// Disconnect closes gracefully (code 1000) and stops the loop.
func (s *Shard) Disconnect() {
	s.stop(func(c *transport.WSConn) { _ = c.Close(1000, "") })
}

// Kill drops the socket without a close frame and stops the loop.
func (s *Shard) Kill() {
	s.stop(func(c *transport.WSConn) { _ = c.Kill() })
}

func (s *Shard) stop(closeFn func(*transport.WSConn)) {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.connMu.Lock()
	c := s.conn
	s.connMu.Unlock()
	if c != nil {
		closeFn(c)
	}
	<-s.doneCh
	if s.State() != StateDead {
		s.setState(StateDisconnected)
	}
}

// Done is closed when the shard's loop has fully exited.
func (s *Shard) Done() <-chan struct{} { return s.doneCh }

func (s *Shard) run() {
	defer close(s.doneCh)
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		err := s.connectOnce()
		if err != nil {
			s.setState(StateDead)
			s.log.Error("shard fatal", zap.Error(err))
			if s.onFatal != nil {
				s.onFatal(s.id, err)
			}
			return
		}

		select {
		case <-s.stopCh:
			return
		case <-time.After(reconnectDelay + time.Duration(rand.Int63n(int64(reconnectDelay)))):
		}
		s.setState(StateReconnecting)
	}
}

// connectOnce runs one socket lifetime: dial, HELLO, identify/resume, read
// loop. A nil return means reconnect (resume vs re-identify already decided
// on s.resumeNext); a non-nil return kills the shard.
func (s *Shard) connectOnce() error {
	s.setState(StateConnecting)

	url := fmt.Sprintf("%s/?v=%d&encoding=json", s.url, s.cfg.GatewayVersion)
	dialCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	conn, err := transport.DialWS(dialCtx, url)
	cancel()
	if err != nil {
		s.log.Warn("dial failed", zap.Error(err))
		return nil // transient, retry
	}

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
	select {
	case <-s.stopCh:
		// stop raced the dial; the stop path missed this conn
		_ = conn.Kill()
		return nil
	default:
	}
	defer func() {
		s.connMu.Lock()
		s.conn = nil
		s.connMu.Unlock()
		_ = conn.Kill()
	}()

	// first frame must be HELLO
	raw, err := conn.ReadRaw()
	if err != nil {
		return s.handleReadErr(err)
	}
	var hello Payload
	if err := json.Unmarshal(raw, &hello); err != nil || hello.Op != OpHello {
		s.log.Warn("expected HELLO", zap.Error(err), zap.Int("op", hello.Op))
		s.dropSession()
		return nil
	}
	var hd helloData
	if err := json.Unmarshal(hello.D, &hd); err != nil || hd.HeartbeatInterval <= 0 {
		s.dropSession()
		return nil
	}
	interval := time.Duration(hd.HeartbeatInterval) * time.Millisecond

	hbStop := make(chan struct{})
	defer close(hbStop)
	s.pendingAcks.Store(0)
	safe.Go(func() { s.heartbeatLoop(conn, interval, hbStop) })

	if err := s.handshake(conn); err != nil {
		// a failed IDENTIFY/RESUME send is a transport problem: reconnect
		s.log.Warn("handshake send failed", zap.Error(err))
		return nil
	}

	for {
		raw, err := conn.ReadRaw()
		if err != nil {
			return s.handleReadErr(err)
		}
		var p Payload
		if err := json.Unmarshal(raw, &p); err != nil {
			// malformed payload is fatal for the session, not the shard
			s.log.Warn("malformed payload", zap.Error(err))
			s.dropSession()
			_ = conn.Close(CloseDecodeError, "decode error")
			return nil
		}
		if done, err := s.handlePayload(conn, &p); done {
			return err
		}
	}
}

// handshake sends IDENTIFY or RESUME depending on whether a session
// survives from the previous connection.
func (s *Shard) handshake(conn *transport.WSConn) error {
	s.sessionMu.Lock()
	resume := s.resumeNext && s.sessionID != ""
	sessionID := s.sessionID
	s.sessionMu.Unlock()

	if resume {
		s.setState(StateResuming)
		p := &Payload{Op: OpResume, D: mustRaw(resumeData{
			Token:     s.cfg.Token,
			SessionID: sessionID,
			Seq:       s.seq.Load(),
		})}
		s.log.Info("resuming", zap.String("session", sessionID), zap.Int64("seq", s.seq.Load()))
		return s.writeLimited(conn, p)
	}

	// identify step is serialized fleet-wide
	if err := s.gate.Wait(s.stopCh); err != nil {
		return nil // stop requested, run loop exits
	}
	s.setState(StateIdentifying)
	id := identifyData{
		Token: s.cfg.Token,
		Properties: identifyProperties{
			OS:      "linux",
			Browser: "CordProject",
			Device:  "CordProject",
		},
		LargeThreshold: s.cfg.LargeThreshold,
		Shard:          [2]int{s.id, s.total},
	}
	if s.cfg.GatewayVersion != config.GatewayVersionLegacy {
		id.Intents = s.cfg.Intents
	}
	s.log.Info("identifying", zap.Int("total", s.total))
	return s.writeLimited(conn, &Payload{Op: OpIdentify, D: mustRaw(id)})
}

// handlePayload processes one inbound frame. done=true ends this socket
// lifetime; err non-nil kills the shard.
func (s *Shard) handlePayload(conn *transport.WSConn, p *Payload) (done bool, fatal error) {
	switch p.Op {
	case OpDispatch:
		s.handleDispatch(p)
		return false, nil

	case OpHeartbeat:
		// server asked for an immediate beat
		_ = conn.WriteJSON(heartbeatPayload(s.seq.Load()))
		return false, nil

	case OpHeartbeatACK:
		s.pendingAcks.Store(0)
		s.lastAck.Store(time.Now().UnixNano())
		return false, nil

	case OpReconnect:
		s.log.Info("server requested reconnect")
		s.setResumeNext(true)
		_ = conn.Close(CloseUnknownError, "reconnect requested")
		return true, nil

	case OpInvalidSession:
		var resumable bool
		_ = json.Unmarshal(p.D, &resumable)
		if resumable {
			s.setResumeNext(true)
		} else {
			// server wants a fresh identify; spread out the retry
			delay := time.Second + time.Duration(rand.Int63n(int64(4*time.Second)))
			s.log.Info("invalid session", zap.Duration("delay", delay))
			select {
			case <-time.After(delay):
			case <-s.stopCh:
			}
			s.dropSession()
		}
		_ = conn.Close(CloseUnknownError, "invalid session")
		return true, nil

	default:
		// unknown opcode is a protocol error: re-identify on a new socket
		s.log.Warn("unknown opcode", zap.Int("op", p.Op))
		s.dropSession()
		_ = conn.Close(CloseUnknownOpcode, "unknown opcode")
		return true, nil
	}
}

func (s *Shard) handleDispatch(p *Payload) {
	if p.S != nil && *p.S > s.seq.Load() {
		s.seq.Store(*p.S)
	}
	switch p.T {
	case EventReady:
		var rd Ready
		if err := json.Unmarshal(p.D, &rd); err != nil {
			s.log.Warn("bad READY", zap.Error(err))
			return
		}
		s.sessionMu.Lock()
		s.sessionID = rd.SessionID
		s.resumeNext = true // future closes default to resume
		s.sessionMu.Unlock()
		s.setState(StateReady)
		s.log.Info("ready", zap.String("session", rd.SessionID), zap.Int("guilds", len(rd.Guilds)))
	case EventResumed:
		s.setState(StateReady)
		s.log.Info("resumed", zap.Int64("seq", s.seq.Load()))
	}
	if s.onDispatch != nil {
		s.onDispatch(s.id, s.seq.Load(), p.T, p.D)
	}
}

// handleReadErr applies the reconnect decision matrix to a dead socket.
// nil return reconnects; non-nil kills the shard.
func (s *Shard) handleReadErr(err error) error {
	select {
	case <-s.stopCh:
		return nil
	default:
	}

	code, isClose := transport.CloseCode(err)
	if !isClose {
		// network drop or local timeout: resume
		s.log.Warn("socket error", zap.Error(err))
		s.setResumeNext(true)
		return nil
	}

	s.log.Warn("gateway close", zap.Int("code", code))
	switch code {
	case CloseAuthenticationFailed:
		return errs.ErrAuthentication.WrapMsg("", "close", code)
	case CloseInvalidShard, CloseShardingRequired:
		return errs.ErrShardLimit.WrapMsg("", "close", code)
	case CloseInvalidAPIVersion:
		return errs.ErrGatewayClose.WrapMsg("invalid api version", "close", code)
	case CloseInvalidIntents, CloseDisallowedIntents:
		return errs.ErrAuthentication.WrapMsg("bad intents", "close", code)
	case CloseInvalidSeq, CloseSessionTimedOut:
		s.dropSession()
		return nil
	default:
		// 4000-4003, 4005, 4008 and anything unrecognized: resume
		s.setResumeNext(true)
		return nil
	}
}

func (s *Shard) setResumeNext(v bool) {
	s.sessionMu.Lock()
	s.resumeNext = v
	s.sessionMu.Unlock()
}

func (s *Shard) dropSession() {
	s.sessionMu.Lock()
	s.sessionID = ""
	s.resumeNext = false
	s.sessionMu.Unlock()
	s.seq.Store(0)
}

// heartbeatLoop beats every interval with the current sequence. The first
// beat is jittered to avoid a thundering herd after mass reconnects. Two
// consecutive unacked beats close the socket with 4000 and force a resume.
func (s *Shard) heartbeatLoop(conn *transport.WSConn, interval time.Duration, hbStop <-chan struct{}) {
	first := time.Duration(rand.Float64() * float64(interval))
	t := time.NewTimer(first)
	defer t.Stop()
	for {
		select {
		case <-hbStop:
			return
		case <-s.stopCh:
			return
		case <-t.C:
			if s.pendingAcks.Load() >= 2 {
				s.log.Warn("heartbeat ack timeout, closing")
				s.setResumeNext(true)
				_ = conn.Close(CloseUnknownError, "heartbeat ack timeout")
				return
			}
			if err := conn.WriteJSON(heartbeatPayload(s.seq.Load())); err != nil {
				return
			}
			s.pendingAcks.Add(1)
			t.Reset(interval)
		}
	}
}

// writeLimited sends a non-heartbeat command through the gateway budget.
func (s *Shard) writeLimited(conn *transport.WSConn, p *Payload) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := waitSend(ctx, s.sendLim); err != nil {
		return errs.ErrTimeout.WrapMsg("send budget", "shard", s.id)
	}
	if err := conn.WriteJSON(p); err != nil {
		return errs.ErrTransport.WrapMsg("gateway write", "shard", s.id, "err", err)
	}
	return nil
}

// Send queues one gateway command behind the shard's send budget.
func (s *Shard) Send(ctx context.Context, op int, d any) error {
	if err := waitSend(ctx, s.sendLim); err != nil {
		return errs.ErrTimeout.WrapMsg("send budget", "shard", s.id)
	}
	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()
	if conn == nil {
		return errs.ErrTransport.WrapMsg("not connected", "shard", s.id)
	}
	if err := conn.WriteJSON(&Payload{Op: op, D: mustRaw(d)}); err != nil {
		return errs.ErrTransport.WrapMsg("gateway write", "shard", s.id, "err", err)
	}
	return nil
}

// UpdateStatus sends the op-3 presence command.
func (s *Shard) UpdateStatus(ctx context.Context, status string, activities ...Activity) error {
	if activities == nil {
		activities = []Activity{}
	}
	return s.Send(ctx, OpStatusUpdate, statusUpdateData{Status: status, Activities: activities})
}

// UpdateVoiceState joins, moves or (channelID nil) leaves a voice channel.
func (s *Shard) UpdateVoiceState(ctx context.Context, guildID string, channelID *string, selfMute, selfDeaf bool) error {
	return s.Send(ctx, OpVoiceStateUpdate, voiceStateUpdateData{
		GuildID:   guildID,
		ChannelID: channelID,
		SelfMute:  selfMute,
		SelfDeaf:  selfDeaf,
	})
}

// RequestGuildMembers asks for member chunks; results arrive as
// GUILD_MEMBERS_CHUNK dispatches tagged with nonce.
func (s *Shard) RequestGuildMembers(ctx context.Context, guildID, query string, limit int, nonce string) error {
	return s.Send(ctx, OpRequestGuildMembers, requestGuildMembersData{
		GuildID: guildID,
		Query:   query,
		Limit:   limit,
		Nonce:   nonce,
	})
}
