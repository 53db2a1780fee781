package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/minerva-erp/glcore/internal/ledger"
)

// EntryPostedEvent announces a committed journal entry to downstream
// consumers.
type EntryPostedEvent struct {
	EntryID    uuid.UUID `json:"entry_id"`
	Number     int64     `json:"number"`
	Date       time.Time `json:"date"`
	Currency   string    `json:"currency"`
	Source     string    `json:"source"`
	Memo       string    `json:"memo"`
	Lines      int       `json:"lines"`
	TotalMinor int64     `json:"total_minor"`
	PostedAt   time.Time `json:"posted_at"`
}

// Publisher is the interface implemented by types that can publish events.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body any) error
	Close()
}

// EventProducer holds the AMQP connection and channel for publishing.
type EventProducer struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	log     *slog.Logger
}

// NewEventProducer connects with a bounded dial timeout so startup never
// hangs on a dead broker.
func NewEventProducer(amqpURL string, log *slog.Logger) (*EventProducer, error) {
	cleanURL, err := sanitizeURL(amqpURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp.DialConfig(cleanURL, amqp.Config{Dial: amqp.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &EventProducer{conn: conn, channel: ch, log: log}, nil
}

// Publish sends one JSON message. A failed publish reopens the channel and
// retries once before giving up.
func (p *EventProducer) Publish(ctx context.Context, exchange, routingKey string, body any) error {
	if err := p.channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		p.log.Warn("exchange declare failed, reopening channel", "exchange", exchange, "error", err)
		ch, chErr := p.conn.Channel()
		if chErr != nil {
			return chErr
		}
		p.channel = ch
		if err := p.channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
			return err
		}
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return err
	}
	msg := amqp.Publishing{
		ContentType: "application/json",
		Timestamp:   time.Now(),
		Body:        jsonBody,
	}

	if err := p.channel.PublishWithContext(ctx, exchange, routingKey, false, false, msg); err != nil {
		p.log.Warn("publish failed, reopening channel", "routing_key", routingKey, "error", err)
		ch, chErr := p.conn.Channel()
		if chErr != nil {
			return err
		}
		p.channel = ch
		if exErr := p.channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); exErr != nil {
			return err
		}
		return p.channel.PublishWithContext(ctx, exchange, routingKey, false, false, msg)
	}
	return nil
}

// Close gracefully closes the channel and connection.
func (p *EventProducer) Close() {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}

// NopPublisher stands in when the broker is unavailable at startup; posting
// keeps working, notifications are skipped.
type NopPublisher struct {
	Log *slog.Logger
}

func (p *NopPublisher) Publish(_ context.Context, exchange, routingKey string, _ any) error {
	p.Log.Warn("publish skipped, no broker", "exchange", exchange, "routing_key", routingKey)
	return nil
}

func (p *NopPublisher) Close() {}

// Notifier bridges the posting engine to the broker. Best effort: a failed
// publish is logged, never surfaced to the commit path.
type Notifier struct {
	pub      Publisher
	exchange string
	log      *slog.Logger
}

func NewNotifier(pub Publisher, exchange string, log *slog.Logger) *Notifier {
	return &Notifier{pub: pub, exchange: exchange, log: log}
}

func (n *Notifier) EntryPosted(ctx context.Context, e ledger.JournalEntry) {
	debit, _, _ := e.TotalsMinor()
	ev := EntryPostedEvent{
		EntryID:    e.ID,
		Number:     e.Number,
		Date:       e.Date,
		Currency:   e.Currency,
		Source:     string(e.Source),
		Memo:       e.Memo,
		Lines:      len(e.Lines),
		TotalMinor: debit,
		PostedAt:   time.Now().UTC(),
	}
	if err := n.pub.Publish(ctx, n.exchange, RouteEntryPosted, ev); err != nil {
		n.log.Warn("entry posted event publish failed", "entry_id", e.ID, "error", err)
	}
}
