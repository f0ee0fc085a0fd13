package queue

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/streadway/amqp"
)

// AMQPBroker implements Broker on top of RabbitMQ. Topics map to durable
// queues. Consumers ack on success and requeue up to maxRequeues times
// via the x-retry-count header.
type AMQPBroker struct {
	conn *amqp.Connection
	ch   *amqp.Channel
	log  *slog.Logger
}

const maxRequeues = 3

func DialAMQP(url string, log *slog.Logger) (*AMQPBroker, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	return &AMQPBroker{conn: conn, ch: ch, log: log}, nil
}

func (b *AMQPBroker) declare(topic string) (amqp.Queue, error) {
	return b.ch.QueueDeclare(
		topic,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
}

func (b *AMQPBroker) Publish(topic string, payload any) error {
	q, err := b.declare(topic)
	if err != nil {
		return err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return b.ch.Publish(
		"",
		q.Name,
		false,
		false,
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		},
	)
}

// Subscribe consumes the topic until the channel closes. The handler
// receives the raw JSON body as []byte.
func (b *AMQPBroker) Subscribe(topic string, handler func(payload any) error) error {
	q, err := b.declare(topic)
	if err != nil {
		return err
	}
	msgs, err := b.ch.Consume(
		q.Name,
		"",
		false, // manual ack for reliability
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return err
	}

	go func() {
		for d := range msgs {
			if err := handler(d.Body); err != nil {
				b.log.Warn("amqp handler failed", "topic", topic, "error", err)

				var retryCount int32
				if v, ok := d.Headers["x-retry-count"].(int32); ok {
					retryCount = v
				}
				if retryCount < maxRequeues {
					// republish with a bumped counter; a plain Nack requeue
					// would keep the original headers and retry forever
					pub := amqp.Publishing{
						ContentType: d.ContentType,
						Body:        d.Body,
						Headers:     amqp.Table{"x-retry-count": retryCount + 1},
					}
					if err := b.ch.Publish("", q.Name, false, false, pub); err != nil {
						b.log.Error("amqp requeue failed", "topic", topic, "error", err)
					}
				} else {
					b.log.Error("amqp message dropped after retries", "topic", topic)
				}
			}
			d.Ack(false)
		}
	}()
	return nil
}

func (b *AMQPBroker) Close() error {
	b.ch.Close()
	return b.conn.Close()
}

var _ Broker = (*AMQPBroker)(nil)
