package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPSender publishes messages as JSON mail jobs to a RabbitMQ exchange
type AMQPSender struct {
	mu         sync.Mutex
	conn       *amqp.Connection
	channel    *amqp.Channel
	exchange   string
	routingKey string
}

// mailJob is the wire format consumed by the mailer
type mailJob struct {
	To         string      `json:"to"`
	Subject    string      `json:"subject"`
	HTMLBody   string      `json:"htmlBody"`
	Attachment *Attachment `json:"attachment,omitempty"`
}

// NewAMQPSender dials the broker and declares a durable topic exchange
func NewAMQPSender(url, exchange, routingKey string) (*AMQPSender, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &AMQPSender{conn: conn, channel: ch, exchange: exchange, routingKey: routingKey}, nil
}

func (a *AMQPSender) Send(ctx context.Context, msg Message) error {
	body, err := encodeMailJob(msg)
	if err != nil {
		return err
	}

	// amqp channels are not safe for concurrent publishing
	a.mu.Lock()
	defer a.mu.Unlock()
	err = a.channel.PublishWithContext(ctx, a.exchange, a.routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish mail: %w", err)
	}
	return nil
}

// Close shuts the channel and connection
func (a *AMQPSender) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.channel.Close(); err != nil {
		a.conn.Close()
		return err
	}
	return a.conn.Close()
}

func encodeMailJob(msg Message) ([]byte, error) {
	body, err := json.Marshal(mailJob{
		To:         msg.To,
		Subject:    msg.Subject,
		HTMLBody:   msg.HTMLBody,
		Attachment: msg.Attachment,
	})
	if err != nil {
		return nil, fmt.Errorf("encode mail job: %w", err)
	}
	return body, nil
}
