// Package broker wraps the RabbitMQ client behind a small pooled API.
// All queues are durable; the outbound queue is priority-enabled.
package broker

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Well-known queue names shared with the delivery agents.
const (
	OutgoingMailQueue       = "OUTGOING_MAIL_QUEUE"
	OutgoingMailStatusQueue = "OUTGOING_MAIL_STATUS_QUEUE"
	IncomingMailQueue       = "INCOMING_MAIL_QUEUE"
	NewsletterQueue         = "NEWSLETTER_QUEUE"
)

// MaxPriority is the x-max-priority of the outbound queue.
const MaxPriority = 3

// Client is one AMQP connection with a single channel. Not safe for
// concurrent use; borrow one per goroutine from the Pool.
type Client struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

// Dial opens a connection with the given timeout and a fresh channel.
func Dial(url string, timeout time.Duration) (*Client, error) {
	conn, err := amqp.DialConfig(url, amqp.Config{
		Dial: amqp.DefaultDial(timeout),
	})
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	return &Client{conn: conn, ch: ch}, nil
}

// Close tears down the channel and connection.
func (c *Client) Close() error {
	if c.ch != nil {
		c.ch.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Broken reports whether the underlying connection is no longer usable.
func (c *Client) Broken() bool {
	return c.conn != nil && c.conn.IsClosed()
}

// DeclareQueue declares a durable queue. A maxPriority > 0 adds the
// x-max-priority argument; redeclaring with different arguments is an
// AMQP error, so the value is fixed per queue for the system's lifetime.
func (c *Client) DeclareQueue(name string, maxPriority int) error {
	var args amqp.Table
	if maxPriority > 0 {
		args = amqp.Table{"x-max-priority": int32(maxPriority)}
	}
	_, err := c.ch.QueueDeclare(name, true, false, false, false, args)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", name, err)
	}
	return nil
}

// Publish sends a persistent message to the queue via the default exchange.
func (c *Client) Publish(ctx context.Context, queue string, body []byte, priority uint8) error {
	err := c.ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		Priority:     priority,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", queue, err)
	}
	return nil
}

// Get fetches one message without auto-ack. The caller must Ack or Nack
// the returned delivery. ok is false when the queue is empty.
func (c *Client) Get(queue string) (amqp.Delivery, bool, error) {
	d, ok, err := c.ch.Get(queue, false)
	if err != nil {
		return amqp.Delivery{}, false, fmt.Errorf("get from %s: %w", queue, err)
	}
	return d, ok, nil
}
