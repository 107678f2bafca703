// Package notifier publishes post-commit notifications.
package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/rabbitmq/amqp091-go"

	"github.com/jnst/payment-reconciler/internal/model"
)

// RabbitMQNotifier publishes notifications to a topic exchange, using the
// notification type as routing key.
type RabbitMQNotifier struct {
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	exchange string
	logger   *slog.Logger

	mu sync.Mutex
}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	if !strings.HasSuffix(clean, "/") {
		clean += "/"
	}
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}

	return clean, nil
}

// NewRabbitMQNotifier dials RabbitMQ and declares the exchange.
func NewRabbitMQNotifier(amqpURL, exchange string, logger *slog.Logger) (*RabbitMQNotifier, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp091.Dial(cleanURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	err = channel.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	return &RabbitMQNotifier{conn: conn, channel: channel, exchange: exchange, logger: logger}, nil
}

// Notify publishes n as JSON.
func (p *RabbitMQNotifier) Notify(ctx context.Context, n model.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	// amqp091 channels are not safe for concurrent publishing
	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.channel.PublishWithContext(ctx,
		p.exchange,     // exchange
		string(n.Type), // routing key
		false,          // mandatory
		false,          // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    n.ID,
			Timestamp:    n.OccurredAt,
			Body:         body,
		})
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", n.Type, err)
	}

	p.logger.Info("Published notification",
		slog.String("exchange", p.exchange),
		slog.String("routing_key", string(n.Type)),
		slog.String("subject_id", n.SubjectID))

	return nil
}

// Close gracefully closes the channel and connection.
func (p *RabbitMQNotifier) Close() {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}

// LogNotifier writes notifications to the log instead of a broker.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify logs n.
func (l *LogNotifier) Notify(_ context.Context, n model.Notification) error {
	l.logger.Info("Notification",
		slog.String("type", string(n.Type)),
		slog.String("processor", string(n.Processor)),
		slog.String("subject_id", n.SubjectID),
		slog.Int64("user_id", n.UserID),
		slog.String("reason", n.Reason))

	return nil
}
