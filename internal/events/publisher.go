package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/fjod/go_cart/cart-store/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

const EventTypeCartUpdated = "cart_updated"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// CartUpdated is the payload written for every cart change.
type CartUpdated struct {
	Key       string            `json:"key"`
	Items     []domain.LineItem `json:"items"`
	Totals    domain.Totals     `json:"totals"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Publisher forwards cart snapshots to a Kafka topic. Listener only queues the
// snapshot; Run drains the queue in order, so a slow broker never holds up the cart.
type Publisher struct {
	key          string
	timeout      time.Duration
	drainTimeout time.Duration
	writer       messageWriter
	queue        chan []domain.LineItem

	running atomic.Bool
	done    chan struct{}
}

func NewKafkaPublisher(key, topic string, brokers ...string) *Publisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	return newPublisher(key, w)
}

func newPublisher(key string, w messageWriter) *Publisher {
	return &Publisher{
		key:          key,
		timeout:      5 * time.Second,
		drainTimeout: 3 * time.Second,
		writer:       w,
		queue:        make(chan []domain.LineItem, 100),
		done:         make(chan struct{}),
	}
}

// Listener returns the callback to register with cart.Store.Subscribe.
// When the queue is full the update is dropped; the next one carries the full cart anyway.
func (p *Publisher) Listener() func(items []domain.LineItem) {
	return func(items []domain.LineItem) {
		select {
		case p.queue <- items:
		default:
			log.Warn().Str("key", p.key).Msg("cart event queue full, dropping update")
		}
	}
}

// Run writes queued updates until ctx ends, then flushes what is still queued
// within drainTimeout. A write already in progress is not cut short by ctx.
func (p *Publisher) Run(ctx context.Context) {
	p.running.Store(true)
	defer close(p.done)

	for {
		select {
		case items := <-p.queue:
			p.publishQueued(ctx, items)
		case <-ctx.Done():
			p.drain(ctx)
			return
		}
	}
}

func (p *Publisher) drain(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.drainTimeout)
	defer cancel()

	for {
		select {
		case items := <-p.queue:
			if err := p.Publish(ctx, items); err != nil {
				log.Error().Err(err).Str("key", p.key).Int("dropped", len(p.queue)).Msg("failed to flush cart updates")
				return
			}
		default:
			return
		}
	}
}

func (p *Publisher) publishQueued(ctx context.Context, items []domain.LineItem) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	if err := p.Publish(ctx, items); err != nil {
		log.Error().Err(err).Str("key", p.key).Msg("failed to publish cart update")
	}
}

func (p *Publisher) Publish(ctx context.Context, items []domain.LineItem) error {
	payload := CartUpdated{
		Key:       p.key,
		Items:     items,
		Totals:    domain.CalculateTotals(items),
		UpdatedAt: time.Now().UTC(),
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal cart event failed: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(p.key), // storage key keeps updates of one cart ordered
		Value: payloadJSON,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(EventTypeCartUpdated)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write failed: %w", err)
	}
	return nil
}

// Close closes the Kafka writer. If Run was started, Close waits for it to
// return, so cancel the Run context first.
func (p *Publisher) Close() error {
	if p.running.Load() {
		<-p.done
	}
	return p.writer.Close()
}
