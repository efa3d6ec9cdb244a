package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/vjranagit/minigraph/pkg/types"
)

type recordingWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *recordingWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPublishFrame(t *testing.T) {
	writer := &recordingWriter{}
	pub, err := newPublisherWithWriter(Config{Topic: "minigraph.frames", Key: "living-room"}, discard(), writer)
	if err != nil {
		t.Fatalf("Failed to create publisher: %v", err)
	}

	generated := time.Date(2024, 3, 1, 13, 0, 0, 0, time.UTC)
	frame := &types.Frame{
		Generated: generated,
		Bound:     types.Bound{15, 25},
		Entities:  []types.EntityFrame{{EntityID: "sensor.temp", Line: "M 5,90 L 495,10"}},
	}
	if err := pub.PublishFrame(context.Background(), frame); err != nil {
		t.Fatalf("Failed to publish frame: %v", err)
	}

	if len(writer.msgs) != 1 {
		t.Fatalf("Expected 1 message, got %d", len(writer.msgs))
	}
	msg := writer.msgs[0]
	if string(msg.Key) != "living-room" {
		t.Errorf("Expected card key, got %q", msg.Key)
	}
	if !msg.Time.Equal(generated) {
		t.Errorf("Expected message time %v, got %v", generated, msg.Time)
	}

	var decoded types.Frame
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("Failed to decode frame: %v", err)
	}
	if decoded.Entities[0].Line != "M 5,90 L 495,10" || decoded.Bound != frame.Bound {
		t.Errorf("Unexpected decoded frame %+v", decoded)
	}

	if err := pub.Close(); err != nil || !writer.closed {
		t.Errorf("Expected writer to be closed, err %v", err)
	}
}

func TestPublishFrameWithoutKey(t *testing.T) {
	pub, _ := newPublisherWithWriter(Config{Topic: "minigraph.frames"}, discard(), &recordingWriter{})
	msg, err := pub.Message(&types.Frame{})
	if err != nil {
		t.Fatalf("Failed to build message: %v", err)
	}
	if msg.Key != nil {
		t.Errorf("Expected no key, got %q", msg.Key)
	}
}

func TestPublishFrameWriteError(t *testing.T) {
	broker := errors.New("leader not available")
	pub, _ := newPublisherWithWriter(Config{Topic: "minigraph.frames"}, discard(), &recordingWriter{err: broker})
	if err := pub.PublishFrame(context.Background(), &types.Frame{}); !errors.Is(err, broker) {
		t.Errorf("Expected wrapped write error, got %v", err)
	}
}

func TestNewPublisherValidation(t *testing.T) {
	if _, err := NewPublisher(Config{Brokers: []string{"kafka:9092"}}, discard()); err == nil {
		t.Error("Expected error without topic")
	}
	if _, err := NewPublisher(Config{Topic: "minigraph.frames"}, discard()); err == nil {
		t.Error("Expected error without brokers")
	}
	if _, err := newPublisherWithWriter(Config{Topic: "t"}, nil, &recordingWriter{}); !errors.Is(err, errNilLogger) {
		t.Errorf("Expected errNilLogger, got %v", err)
	}
}
