package events

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// Producer is an async Kafka writer with a buffered inbox. Callers never
// block on the broker: messages queue in the inbox channel and a single
// goroutine drains it. On shutdown, Close + WaitClosed flush the remaining
// messages before the writer is closed.
type Producer struct {
	w       *kafka.Writer
	name    string
	inbox   chan kafka.Message
	closeCh chan struct{}
}

// NewProducer creates a producer for the given brokers and topic.
// buf is the inbox capacity; when the inbox is full, messages are dropped
// with a warning rather than blocking the booking path.
func NewProducer(brokers []string, topic, name string, buf int) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{}, // key = booking id → per-booking ordering
			RequiredAcks: kafka.RequireAll,
			Async:        true,
		},
		name:    name,
		inbox:   make(chan kafka.Message, buf),
		closeCh: make(chan struct{}),
	}
}

// Start launches the drain loop. It runs until ctx is cancelled or Close is
// called, flushing the inbox in both cases.
func (p *Producer) Start(ctx context.Context) {
	go func() {
		defer close(p.closeCh)
		for {
			select {
			case <-ctx.Done():
				// Drain whatever is buffered, then stop.
				for {
					select {
					case m, ok := <-p.inbox:
						if !ok {
							_ = p.w.Close()
							return
						}
						p.write(m)
					default:
						_ = p.w.Close()
						return
					}
				}
			case m, ok := <-p.inbox:
				if !ok {
					_ = p.w.Close()
					return
				}
				p.write(m)
			}
		}
	}()
}

func (p *Producer) write(m kafka.Message) {
	if err := p.w.WriteMessages(context.Background(), m); err != nil {
		log.Printf("[events] WARNING: publish %s failed: %v", string(m.Key), err)
	}
}

// Emit wraps the payload in a versioned envelope and queues it. Implements
// the booking service's EventPublisher port.
func (p *Producer) Emit(eventType, correlationID string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[events] WARNING: marshal %s payload: %v", eventType, err)
		return
	}
	env := Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      p.name,
		CorrelationID: correlationID,
		Payload:       raw,
	}
	value, err := json.Marshal(env)
	if err != nil {
		log.Printf("[events] WARNING: marshal %s envelope: %v", eventType, err)
		return
	}

	select {
	case p.inbox <- kafka.Message{Key: []byte(correlationID), Value: value, Time: time.Now()}:
	default:
		log.Printf("[events] WARNING: inbox full, dropping %s for %s", eventType, correlationID)
	}
}

// Close stops accepting new messages; the drain loop flushes and exits.
func (p *Producer) Close() { close(p.inbox) }

// WaitClosed blocks until the drain loop has exited.
func (p *Producer) WaitClosed() { <-p.closeCh }
