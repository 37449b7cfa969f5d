package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"agriconnect/internal/domain/event"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	OrderPlacedQueue = "order_placed_queue"
	OrderStatusQueue = "order_status_queue"
)

type RabbitMQConfig struct {
	URL      string
	Exchange string
	// 接続リトライ回数（0なら5回）
	Retries int
}

// 注文イベントをtopic exchangeに発行する
type RabbitMQPublisher struct {
	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
	config  RabbitMQConfig
	logger  *slog.Logger
}

// 接続してexchangeとキューを宣言する
func NewRabbitMQPublisher(config RabbitMQConfig, logger *slog.Logger) (*RabbitMQPublisher, error) {
	if config.Exchange == "" {
		return nil, fmt.Errorf("exchange name cannot be empty")
	}
	retries := config.Retries
	if retries <= 0 {
		retries = 5
	}

	var conn *amqp.Connection
	var err error
	for i := 0; i < retries; i++ {
		conn, err = amqp.Dial(config.URL)
		if err == nil {
			break
		}
		retryTime := time.Duration(i*i)*time.Second + time.Second
		logger.Warn("failed to connect to RabbitMQ, retrying",
			slog.Duration("retry_in", retryTime),
			slog.String("error", err.Error()),
		)
		time.Sleep(retryTime)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ after retries: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := declareTopology(channel, config.Exchange); err != nil {
		channel.Close()
		conn.Close()
		return nil, err
	}
	logger.Info("rabbitmq ready", slog.String("exchange", config.Exchange))

	return &RabbitMQPublisher{
		conn:    conn,
		channel: channel,
		config:  config,
		logger:  logger,
	}, nil
}

// exchange（topic）と購読側のキューを宣言してバインドする
func declareTopology(ch *amqp.Channel, exchange string) error {
	err := ch.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	bindings := map[string]string{
		OrderPlacedQueue: event.OrderPlacedRoutingKey,
		OrderStatusQueue: event.OrderStatusRoutingKey,
	}
	for queueName, routingKey := range bindings {
		q, err := ch.QueueDeclare(
			queueName, // name
			true,      // durable
			false,     // delete when unused
			false,     // exclusive
			false,     // no-wait
			nil,       // arguments
		)
		if err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", queueName, err)
		}
		if err := ch.QueueBind(q.Name, routingKey, exchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind queue %s to exchange %s: %w", queueName, exchange, err)
		}
	}
	return nil
}

// JSONにして永続メッセージで発行する
func (p *RabbitMQPublisher) Publish(ctx context.Context, routingKey string, message interface{}) error {
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.channel.PublishWithContext(
		ctx,
		p.config.Exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish message to exchange %s with routing key %s: %w",
			p.config.Exchange, routingKey, err)
	}

	p.logger.DebugContext(ctx, "event published",
		slog.String("exchange", p.config.Exchange),
		slog.String("routing_key", routingKey),
	)
	return nil
}

func (p *RabbitMQPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			return err
		}
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// AMQP_URLが無いときの発行先。ログだけ残す
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, routingKey string, message interface{}) error {
	p.logger.DebugContext(ctx, "event not published (no broker)", slog.String("routing_key", routingKey))
	return nil
}

func (p *LogPublisher) Close() error { return nil }
