package bridge

import (
	"context"
	"strconv"

	"github.com/Shopify/sarama"
)

// KafkaSink produces each dispatch onto one topic, keyed by shard so
// per-shard ordering survives partitioning.
type KafkaSink struct {
	prod  sarama.SyncProducer
	topic string
}

func NewKafkaSink(brokers []string, topic string) (*KafkaSink, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Return.Successes = true
	prod, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}
	return &KafkaSink{prod: prod, topic: topic}, nil
}

func (s *KafkaSink) Emit(_ context.Context, event string, shardID int, seq int64, payload []byte) error {
	msg := &sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(strconv.Itoa(shardID)),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event"), Value: []byte(event)},
			{Key: []byte("seq"), Value: []byte(strconv.FormatInt(seq, 10))},
		},
	}
	_, _, err := s.prod.SendMessage(msg)
	return err
}

func (s *KafkaSink) Close() error {
	return s.prod.Close()
}
