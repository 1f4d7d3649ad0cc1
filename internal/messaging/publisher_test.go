package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/ParamigosApps/appbar-sub000/internal/domain"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestKafkaPublisher_Publish(t *testing.T) {
	t.Parallel()

	w := &fakeWriter{}
	pub := NewKafkaPublisher(w, nil)
	event := domain.UnitsIssuedEvent{
		PaymentID:  "pay-1",
		UserID:     "user-1",
		Kind:       domain.UnitKindTicket,
		UnitIDs:    []string{"u1", "u2"},
		OccurredAt: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC),
	}

	if err := pub.Publish(context.Background(), event); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != "pay-1" {
		t.Fatalf("expected key pay-1, got %q", msg.Key)
	}
	if len(msg.Headers) != 1 || string(msg.Headers[0].Value) != "units.issued" {
		t.Fatalf("unexpected headers %+v", msg.Headers)
	}

	var decoded domain.UnitsIssuedEvent
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.PaymentID != "pay-1" || len(decoded.UnitIDs) != 2 {
		t.Fatalf("unexpected payload %+v", decoded)
	}
}

func TestKafkaPublisher_WrapsWriterError(t *testing.T) {
	t.Parallel()

	boom := errors.New("broker down")
	pub := NewKafkaPublisher(&fakeWriter{err: boom}, nil)
	err := pub.Publish(context.Background(), domain.UnitsIssuedEvent{PaymentID: "pay-1"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped writer error, got %v", err)
	}
}
