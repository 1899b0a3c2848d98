package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/danielr-rlty/rlty-platform/pkg/models"
	"github.com/danielr-rlty/rlty-platform/pkg/session"
)

type Message struct {
	Value []byte
}

type Consumer interface {
	ReadMessage(ctx context.Context) (Message, error)
	Close() error
}

type kafkaReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// KafkaConsumer reads session events off the event transport.
type KafkaConsumer struct {
	reader kafkaReader
}

func NewKafkaConsumer(cfg KafkaConfig) (*KafkaConsumer, error) {
	brokers := make([]string, 0, len(cfg.Brokers))
	for _, b := range cfg.Brokers {
		trimmed := strings.TrimSpace(b)
		if trimmed != "" {
			brokers = append(brokers, trimmed)
		}
	}
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, fmt.Errorf("kafka topic required")
	}
	if strings.TrimSpace(cfg.GroupID) == "" {
		return nil, fmt.Errorf("kafka group id required")
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: time.Second,
		MaxWait:        500 * time.Millisecond,
	})
	return &KafkaConsumer{reader: r}, nil
}

func (c *KafkaConsumer) ReadMessage(ctx context.Context) (Message, error) {
	if c == nil || c.reader == nil {
		return Message{}, fmt.Errorf("kafka consumer not initialized")
	}
	msg, err := c.reader.ReadMessage(ctx)
	if err != nil {
		return Message{}, err
	}
	return Message{Value: msg.Value}, nil
}

func (c *KafkaConsumer) Close() error {
	if c == nil || c.reader == nil {
		return nil
	}
	return c.reader.Close()
}

// Loop pumps consumed events into the session registry. Malformed
// payloads are logged and skipped; the session keeps running.
type Loop struct {
	Consumer          Consumer
	Sessions          *session.Registry
	MaxUtteranceBytes int
}

func (l *Loop) Run(ctx context.Context) error {
	for {
		msg, err := l.Consumer.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		l.handle(ctx, msg.Value)
	}
}

func (l *Loop) handle(ctx context.Context, raw []byte) {
	var ev models.SessionEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		log.Printf("ingest: malformed event payload: %v", err)
		return
	}
	if l.MaxUtteranceBytes > 0 && len(ev.Utterance) > l.MaxUtteranceBytes {
		log.Printf("ingest: oversize utterance on event %s dropped (%d bytes)", ev.EventID, len(ev.Utterance))
		return
	}
	if _, err := l.Sessions.Apply(ctx, ev); err != nil {
		if errors.Is(err, session.ErrMalformedEvent) {
			log.Printf("ingest: rejected event: %v", err)
			return
		}
		log.Printf("ingest: apply event %s: %v", ev.EventID, err)
	}
}
