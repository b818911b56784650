package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/streadway/amqp"
)

// Topology used by the service.
const (
	// OrdersExchange is the topic exchange order events are published to.
	OrdersExchange = "orders"
	// OrderQueue receives every order.* event.
	OrderQueue = "order_queue"
	// BankTransferQueue holds bank transfer notifications awaiting reconciliation.
	BankTransferQueue = "bank_transfer_queue"
)

// ErrClosed is returned when the client has been closed.
var ErrClosed = errors.New("rabbitmq: client is closed")

// Handler processes one delivery. A nil error acks it; an error nacks it.
type Handler func(ctx context.Context, body []byte) error

// Client holds the RabbitMQ connection and channel.
type Client struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	// amqp channels are not safe for concurrent publishing.
	mu sync.Mutex
}

// Config holds RabbitMQ connection details.
type Config struct {
	URL string
}

// NewClient connects to RabbitMQ, opens a channel and declares the topology.
func NewClient(cfg Config) (*Client, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := declareTopology(ch); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	slog.Info("RabbitMQ client connected", "exchange", OrdersExchange, "queues", []string{OrderQueue, BankTransferQueue})

	return &Client{
		conn:    conn,
		channel: ch,
	}, nil
}

func declareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(
		OrdersExchange, // name
		"topic",        // kind
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	); err != nil {
		return fmt.Errorf("failed to declare %s exchange: %w", OrdersExchange, err)
	}

	for _, name := range []string{OrderQueue, BankTransferQueue} {
		if _, err := ch.QueueDeclare(
			name,  // name
			true,  // durable
			false, // delete when unused
			false, // exclusive
			false, // no-wait
			nil,   // arguments
		); err != nil {
			return fmt.Errorf("failed to declare %s: %w", name, err)
		}
	}

	if err := ch.QueueBind(OrderQueue, "order.#", OrdersExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind %s: %w", OrderQueue, err)
	}
	return nil
}

// Close closes the RabbitMQ connection and channel.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	if c.channel != nil {
		if err := c.channel.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close channel: %w", err))
		}
		c.channel = nil
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close connection: %w", err))
		}
		c.conn = nil
	}
	return errors.Join(errs...)
}

// Publish sends a persistent JSON message. Use an empty exchange and the
// queue name as routing key to address a queue directly.
func (c *Client) Publish(exchange, routingKey string, body []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.channel == nil {
		return ErrClosed
	}

	err := c.channel.Publish(
		exchange,   // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		})
	if err != nil {
		return fmt.Errorf("failed to publish to %s/%s: %w", exchange, routingKey, err)
	}
	return nil
}

// Consume delivers messages from queue to handler until ctx is done or the
// channel closes. Failed messages are requeued once; a redelivered message
// that fails again is dropped.
func (c *Client) Consume(ctx context.Context, queue string, handler Handler) error {
	c.mu.Lock()
	ch := c.channel
	c.mu.Unlock()
	if ch == nil {
		return ErrClosed
	}

	msgs, err := ch.Consume(
		queue, // queue
		"",    // consumer tag
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer on %s: %w", queue, err)
	}

	slog.Info("consuming queue", "queue", queue)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					slog.Warn("consumer channel closed", "queue", queue)
					return
				}
				deliver(ctx, queue, msg, handler)
			}
		}
	}()

	return nil
}

func deliver(ctx context.Context, queue string, msg amqp.Delivery, handler Handler) {
	if err := handler(ctx, msg.Body); err != nil {
		requeue := !msg.Redelivered
		slog.Error("error processing message", "queue", queue, "delivery_tag", msg.DeliveryTag, "requeue", requeue, "error", err)
		if nackErr := msg.Nack(false, requeue); nackErr != nil {
			slog.Error("error nacking message", "queue", queue, "delivery_tag", msg.DeliveryTag, "error", nackErr)
		}
		return
	}
	if ackErr := msg.Ack(false); ackErr != nil {
		slog.Error("error acking message", "queue", queue, "delivery_tag", msg.DeliveryTag, "error", ackErr)
	}
}
