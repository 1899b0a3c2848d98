package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/danielr-rlty/rlty-platform/pkg/models"
	"github.com/danielr-rlty/rlty-platform/pkg/session"
)

func TestNewKafkaConsumerValidation(t *testing.T) {
	t.Parallel()

	_, err := NewKafkaConsumer(KafkaConfig{Topic: "consent.session.events", GroupID: "g1"})
	if err == nil {
		t.Fatal("expected error when brokers are missing")
	}

	_, err = NewKafkaConsumer(KafkaConfig{Brokers: []string{"127.0.0.1:9092"}, GroupID: "g1"})
	if err == nil {
		t.Fatal("expected error when topic is missing")
	}

	_, err = NewKafkaConsumer(KafkaConfig{Brokers: []string{"127.0.0.1:9092"}, Topic: "consent.session.events"})
	if err == nil {
		t.Fatal("expected error when group id is missing")
	}
}

func TestNewKafkaConsumerTrimsBrokerList(t *testing.T) {
	t.Parallel()

	consumer, err := NewKafkaConsumer(KafkaConfig{
		Brokers: []string{" ", "127.0.0.1:9092", "\t"},
		Topic:   "consent.session.events",
		GroupID: "g1",
	})
	if err != nil {
		t.Fatalf("expected valid consumer config, got error: %v", err)
	}
	if err := consumer.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
}

func TestKafkaConsumerNilGuards(t *testing.T) {
	t.Parallel()

	var nilConsumer *KafkaConsumer
	if err := nilConsumer.Close(); err != nil {
		t.Fatalf("expected nil close to be no-op, got: %v", err)
	}
	if _, err := nilConsumer.ReadMessage(context.Background()); err == nil {
		t.Fatal("expected read error for nil consumer")
	}
}

type scriptedConsumer struct {
	msgs []Message
	idx  int
}

func (s *scriptedConsumer) ReadMessage(ctx context.Context) (Message, error) {
	if s.idx >= len(s.msgs) {
		return Message{}, io.EOF
	}
	m := s.msgs[s.idx]
	s.idx++
	return m, nil
}

func (s *scriptedConsumer) Close() error { return nil }

func payload(t *testing.T, ev models.SessionEvent) Message {
	t.Helper()
	b, err := json.Marshal(ev)
	if err != nil {
		t.Fatal(err)
	}
	return Message{Value: b}
}

func TestLoopAppliesEvents(t *testing.T) {
	at := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	reg := session.NewRegistry(session.DefaultConfig(), nil, nil)
	consumer := &scriptedConsumer{msgs: []Message{
		payload(t, models.SessionEvent{EventID: "e1", SessionID: "s1", At: at, Utterance: "please help"}),
		{Value: []byte("{not json")},
		payload(t, models.SessionEvent{EventID: "e2", SessionID: "s1", At: at.Add(time.Second)}), // malformed: no content
		payload(t, models.SessionEvent{EventID: "e1", SessionID: "s1", At: at, Utterance: "please help"}), // duplicate
		payload(t, models.SessionEvent{EventID: "e3", SessionID: "s1", At: at.Add(2 * time.Second), Utterance: "please again"}),
	}}

	loop := &Loop{Consumer: consumer, Sessions: reg}
	err := loop.Run(context.Background())
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF after script, got %v", err)
	}

	scores, err := reg.Scores("s1")
	if err != nil {
		t.Fatalf("scores: %v", err)
	}
	if scores.PleaseCount != 2 {
		t.Fatalf("expected 2 please occurrences after dedupe/rejects, got %d", scores.PleaseCount)
	}
}

func TestLoopDropsOversizeUtterance(t *testing.T) {
	at := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	reg := session.NewRegistry(session.DefaultConfig(), nil, nil)
	big := make([]byte, 128)
	for i := range big {
		big[i] = 'a'
	}
	consumer := &scriptedConsumer{msgs: []Message{
		payload(t, models.SessionEvent{EventID: "e1", SessionID: "s1", At: at, Utterance: string(big)}),
	}}
	loop := &Loop{Consumer: consumer, Sessions: reg, MaxUtteranceBytes: 64}
	_ = loop.Run(context.Background())
	if reg.Len() != 0 {
		t.Fatalf("oversize event should not create a session")
	}
}
