package rabbitmq

import (
	"strconv"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	DefaultPriority uint8 = 0
	HighPriority    uint8 = 10

	// MaxPriority is declared on every queue as x-max-priority.
	MaxPriority = 255

	PrefetchCount     = 2
	PublisherChannels = 4

	headerFirstPublished = "x-first-published"
	headerMaxAge         = "x-max-age-ms"
)

// Message is an immutable unit of work bound for one queue.
type Message struct {
	// ID survives requeues and failover so one task can be followed
	// through the logs.
	ID       string
	Queue    string
	Body     []byte
	Priority uint8
	// MaxAge is the producer-side TTL measured from FirstPublished. Zero
	// means the message never expires.
	MaxAge         time.Duration
	FirstPublished time.Time

	headers amqp.Table
}

func NewMessage(queue string, body []byte, priority uint8, maxAge time.Duration) Message {
	return Message{
		ID:             uuid.NewString(),
		Queue:          queue,
		Body:           body,
		Priority:       priority,
		MaxAge:         maxAge,
		FirstPublished: time.Now(),
	}
}

// Expired reports whether the message is older than its max age at now.
func (m Message) Expired(now time.Time) bool {
	if m.MaxAge <= 0 || m.FirstPublished.IsZero() {
		return false
	}
	return now.Sub(m.FirstPublished) > m.MaxAge
}

// WithQueue returns a copy of m addressed to queue.
func (m Message) WithQueue(queue string) Message {
	m.Queue = queue
	return m
}

func (m Message) publishing(now time.Time) amqp.Publishing {
	headers := amqp.Table{}
	for k, v := range m.headers {
		headers[k] = v
	}
	first := m.FirstPublished
	if first.IsZero() {
		first = now
	}
	headers[headerFirstPublished] = first.UnixMilli()

	p := amqp.Publishing{
		MessageId:    m.ID,
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Priority:     m.Priority,
		Timestamp:    now,
		Body:         m.Body,
		Headers:      headers,
	}

	if m.MaxAge > 0 {
		headers[headerMaxAge] = m.MaxAge.Milliseconds()
		remaining := m.MaxAge - now.Sub(first)
		if remaining < time.Millisecond {
			remaining = time.Millisecond
		}
		p.Expiration = strconv.FormatInt(remaining.Milliseconds(), 10)
	}
	return p
}

func messageFromDelivery(queue string, d amqp.Delivery) Message {
	m := Message{
		ID:       d.MessageId,
		Queue:    queue,
		Body:     d.Body,
		Priority: d.Priority,
		headers:  amqp.Table{},
	}
	for k, v := range d.Headers {
		switch k {
		case headerFirstPublished:
			if ms, ok := tableInt(v); ok {
				m.FirstPublished = time.UnixMilli(ms)
			}
		case headerMaxAge:
			if ms, ok := tableInt(v); ok {
				m.MaxAge = time.Duration(ms) * time.Millisecond
			}
		default:
			m.headers[k] = v
		}
	}
	if m.FirstPublished.IsZero() && !d.Timestamp.IsZero() {
		m.FirstPublished = d.Timestamp
	}
	return m
}

func tableInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case int:
		return int64(n), true
	case int16:
		return int64(n), true
	case float64:
		return int64(n), true
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	}
	return 0, false
}
