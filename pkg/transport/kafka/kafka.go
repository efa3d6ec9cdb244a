// Package kafka publishes render frames to a Kafka topic, keyed by card name
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/vjranagit/minigraph/pkg/types"
)

// Config configures the frame publisher
type Config struct {
	Brokers []string
	Topic   string
	// Key identifies the card; frames of one card land on one partition
	Key  string
	Acks int
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes frames to Kafka
type Publisher struct {
	cfg    Config
	log    *slog.Logger
	writer messageWriter
}

var errNilLogger = errors.New("kafka publisher requires a logger")

// NewPublisher creates a publisher backed by a kafka.Writer
func NewPublisher(cfg Config, log *slog.Logger) (*Publisher, error) {
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("kafka topic must not be empty")
	}
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one kafka broker is required")
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		RequiredAcks:           kafka.RequiredAcks(cfg.Acks),
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: false,
	}
	return newPublisherWithWriter(cfg, log, writer)
}

func newPublisherWithWriter(cfg Config, log *slog.Logger, writer messageWriter) (*Publisher, error) {
	if log == nil {
		return nil, errNilLogger
	}
	return &Publisher{cfg: cfg, log: log, writer: writer}, nil
}

// Message builds the Kafka message carrying frame
func (p *Publisher) Message(frame *types.Frame) (kafka.Message, error) {
	value, err := json.Marshal(frame)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal frame: %w", err)
	}

	msg := kafka.Message{
		Value: value,
		Time:  frame.Generated,
		Headers: []kafka.Header{
			{Key: "content-type", Value: []byte("application/json")},
		},
	}
	if p.cfg.Key != "" {
		msg.Key = []byte(p.cfg.Key)
	}
	return msg, nil
}

// PublishFrame writes frame to the topic
func (p *Publisher) PublishFrame(ctx context.Context, frame *types.Frame) error {
	msg, err := p.Message(frame)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write frame to %s: %w", p.cfg.Topic, err)
	}
	p.log.Debug("frame_published", slog.String("topic", p.cfg.Topic), slog.Int("bytes", len(msg.Value)))
	return nil
}

// Close flushes and closes the writer
func (p *Publisher) Close() error {
	return p.writer.Close()
}
