package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"apex-api/internal/domain"
	"apex-api/internal/infra/metrics"
)

// RabbitEventQueue публикует события в topic exchange RabbitMQ.
type RabbitEventQueue struct {
	url      string
	exchange string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

var _ domain.EventPublisher = (*RabbitEventQueue)(nil)

// NewRabbitEventQueue подключается к брокеру и объявляет exchange.
func NewRabbitEventQueue(amqpURL, exchange string) (*RabbitEventQueue, error) {
	if amqpURL == "" {
		return nil, errors.New("amqp url is empty")
	}
	if exchange == "" {
		return nil, errors.New("exchange name is empty")
	}
	q := &RabbitEventQueue{url: amqpURL, exchange: exchange}
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.connectLocked(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *RabbitEventQueue) connectLocked() error {
	conn, err := amqp.Dial(q.url)
	if err != nil {
		return fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(q.exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("declare exchange: %w", err)
	}
	q.conn = conn
	q.ch = ch
	return nil
}

// Publish отправляет событие с ключом маршрутизации "<kind>.created".
// Закрытое соединение переоткрывается один раз в рамках вызова.
func (q *RabbitEventQueue) Publish(ctx context.Context, event domain.RecordEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.conn == nil || q.conn.IsClosed() {
		if err := q.connectLocked(); err != nil {
			return err
		}
	}
	start := time.Now()
	err = q.ch.PublishWithContext(ctx, q.exchange, event.RoutingKey(), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.RecordID,
		Timestamp:    event.OccurredAt,
		Headers:      amqp.Table{"tenant_id": event.TenantID},
		Body:         body,
	})
	metrics.ObserveNetworkRequest("rabbitmq", "publish", q.exchange, start, err)
	if err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Close закрывает канал и соединение.
func (q *RabbitEventQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	var errs []error
	if q.ch != nil {
		errs = append(errs, q.ch.Close())
	}
	if q.conn != nil {
		errs = append(errs, q.conn.Close())
	}
	return errors.Join(errs...)
}
