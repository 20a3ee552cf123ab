// Package events publishes job lifecycle notifications.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/model"
)

// Kind names a lifecycle event. It is also the routing key prefix.
type Kind string

const (
	JobStarted   Kind = "job.started"
	JobFinished  Kind = "job.finished"
	JobCancelled Kind = "job.cancelled"
)

// Event is the JSON body of a published message.
type Event struct {
	Kind           Kind            `json:"kind"`
	JobID          string          `json:"job_id"`
	JobType        model.JobType   `json:"job_type"`
	Status         model.JobStatus `json:"status"`
	TriggeredBy    string          `json:"triggered_by,omitempty"`
	ItemsTargeted  int             `json:"items_targeted"`
	ItemsCompleted int             `json:"items_completed"`
	ItemsFailed    int             `json:"items_failed"`
	Error          string          `json:"error,omitempty"`
	At             time.Time       `json:"at"`
}

// JobEvent builds an event from a job snapshot.
func JobEvent(kind Kind, j model.Job, at time.Time) Event {
	return Event{
		Kind:           kind,
		JobID:          j.ID,
		JobType:        j.Type,
		Status:         j.Status,
		TriggeredBy:    string(j.TriggeredBy),
		ItemsTargeted:  j.ItemsTargeted,
		ItemsCompleted: j.ItemsCompleted,
		ItemsFailed:    j.ItemsFailed,
		Error:          j.ErrorMessage,
		At:             at.UTC(),
	}
}

// RoutingKey is "<kind>.<job type>", e.g. "job.finished.send".
func (e Event) RoutingKey() string {
	return string(e.Kind) + "." + string(e.JobType)
}

// Publisher delivers events. Publish failures never affect job outcome.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

func (Nop) Close() error { return nil }

// Channel is the subset of *amqp.Channel the publisher uses.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher sends events to a durable topic exchange.
type AMQPPublisher struct {
	exchange string
	conn     *amqp.Connection

	mu sync.Mutex
	ch Channel
}

// Dial connects to the broker at url and declares exchange.
func Dial(url, exchange string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, eris.Wrap(err, "events: dial broker")
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, eris.Wrap(err, "events: open channel")
	}
	p, err := NewAMQPPublisher(ch, exchange)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

// NewAMQPPublisher declares exchange on ch and returns a publisher using it.
func NewAMQPPublisher(ch Channel, exchange string) (*AMQPPublisher, error) {
	if exchange == "" {
		exchange = "outreach.jobs"
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return nil, eris.Wrapf(err, "events: declare exchange %s", exchange)
	}
	return &AMQPPublisher{exchange: exchange, ch: ch}, nil
}

// Publish sends e as a persistent JSON message.
func (p *AMQPPublisher) Publish(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return eris.Wrap(err, "events: marshal event")
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    e.At,
		Type:         string(e.Kind),
		Body:         body,
	}

	// amqp channels are not safe for concurrent publishing.
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ch.PublishWithContext(ctx, p.exchange, e.RoutingKey(), false, false, msg); err != nil {
		return eris.Wrapf(err, "events: publish %s", e.RoutingKey())
	}
	return nil
}

// Close closes the channel and, when the publisher dialed it, the
// connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	err := p.ch.Close()
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	return eris.Wrap(err, "events: close")
}
