package kafka

import (
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"

	"newsdedup/types"
)

// NovelArticle is the message published for every article that survived deduplication
type NovelArticle struct {
	BatchID    string        `json:"batch_id"`
	AssignedID int64         `json:"assigned_id"`
	Article    types.Article `json:"article"`
}

// Producer publishes novel articles to a topic
type Producer struct {
	producer sarama.SyncProducer
	topic    string
	logger   zerolog.Logger
}

// NewProducer connects a synchronous producer
func NewProducer(brokers []string, topic string, logger zerolog.Logger) (*Producer, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V3_6_0_0
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Return.Successes = true

	p, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return NewProducerWithClient(p, topic, logger), nil
}

// NewProducerWithClient wraps an existing SyncProducer
func NewProducerWithClient(p sarama.SyncProducer, topic string, logger zerolog.Logger) *Producer {
	return &Producer{
		producer: p,
		topic:    topic,
		logger:   logger.With().Str("component", "kafka-producer").Logger(),
	}
}

// Publish sends every message in one call, keyed by article id
func (p *Producer) Publish(msgs []NovelArticle) error {
	if len(msgs) == 0 {
		return nil
	}
	out := make([]*sarama.ProducerMessage, 0, len(msgs))
	for _, m := range msgs {
		body, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("failed to encode article %q: %w", m.Article.ID, err)
		}
		out = append(out, &sarama.ProducerMessage{
			Topic: p.topic,
			Key:   sarama.StringEncoder(m.Article.ID),
			Value: sarama.ByteEncoder(body),
		})
	}
	if err := p.producer.SendMessages(out); err != nil {
		return fmt.Errorf("failed to publish %d articles: %w", len(out), err)
	}
	p.logger.Debug().Int("messages", len(out)).Str("topic", p.topic).Msg("published novel articles")
	return nil
}

// Close flushes and closes the producer
func (p *Producer) Close() error {
	return p.producer.Close()
}
