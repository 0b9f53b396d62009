package bridge

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// NatsConfig mirrors the connection knobs the sink needs.
type NatsConfig struct {
	Servers       []string
	Name          string
	SubjectPrefix string // e.g. "bot.events", subject becomes prefix.EVENT_NAME
	ReconnectWait time.Duration
	Timeout       time.Duration
}

func (c *NatsConfig) norm() {
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = "bot.events"
	}
	if c.ReconnectWait == 0 {
		c.ReconnectWait = 500 * time.Millisecond
	}
	if c.Timeout == 0 {
		c.Timeout = 3 * time.Second
	}
}

// NatsSink publishes each dispatch on subject prefix.<EVENT_NAME> with the
// shard and sequence in headers.
type NatsSink struct {
	cfg NatsConfig
	nc  *nats.Conn
}

func NewNatsSink(cfg NatsConfig) (*NatsSink, error) {
	cfg.norm()
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(cfg.Timeout),
	}
	nc, err := nats.Connect(strings.Join(cfg.Servers, ","), opts...)
	if err != nil {
		return nil, err
	}
	return &NatsSink{cfg: cfg, nc: nc}, nil
}

func (s *NatsSink) Emit(_ context.Context, event string, shardID int, seq int64, payload []byte) error {
	msg := nats.NewMsg(s.cfg.SubjectPrefix + "." + event)
	msg.Header.Set("shard", strconv.Itoa(shardID))
	msg.Header.Set("seq", strconv.FormatInt(seq, 10))
	msg.Data = payload
	return s.nc.PublishMsg(msg)
}

func (s *NatsSink) Close() error {
	if s.nc != nil {
		return s.nc.Drain()
	}
	return nil
}
