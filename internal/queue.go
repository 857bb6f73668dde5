package internal

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/streadway/amqp"
)

// WarmMessage is a cache-warming request (§4.11): for the author, run an
// author search, then for each returned work run a title search, to the
// configured depth.
type WarmMessage struct {
	Author     string `json:"author"`
	Depth      int    `json:"depth"` // 0..3
	RetryCount int    `json:"retryCount"`
}

// maxWarmDepth bounds Depth (§4.11 describes depth 0..3).
const maxWarmDepth = 3

// maxWarmRetries is how many times a warm message is redelivered before it
// lands on the dead-letter queue.
const maxWarmRetries = 5

// Queue publishes and consumes cache-warming messages over RabbitMQ,
// grounded on evalgo-org-eve's queue.RabbitMQService: a durable queue
// declared up front, JSON-encoded bodies, explicit ack/nack on the consumer
// side instead of auto-ack so a crash mid-warm redelivers instead of losing
// the message.
type Queue struct {
	conn *amqp.Connection
	ch   *amqp.Channel

	queueName string
	dlqName   string
}

// NewQueue connects to RabbitMQ and declares the warm queue plus its
// dead-letter queue (§4.11: "messages that fail after the configured retry
// count land here").
func NewQueue(url, queueName string) (*Queue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connecting to queue: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("opening channel: %w", err)
	}

	dlqName := queueName + ".dlq"
	if _, err := ch.QueueDeclare(dlqName, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declaring dead-letter queue: %w", err)
	}
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declaring queue: %w", err)
	}

	return &Queue{conn: conn, ch: ch, queueName: queueName, dlqName: dlqName}, nil
}

func (q *Queue) Close() error {
	if q.ch != nil {
		_ = q.ch.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}

// PublishWarm enqueues a cache-warming request.
func (q *Queue) PublishWarm(ctx context.Context, msg WarmMessage) error {
	if msg.Depth > maxWarmDepth {
		msg.Depth = maxWarmDepth
	}
	body, err := sonic.Marshal(msg)
	if err != nil {
		return err
	}
	return q.ch.Publish("", q.queueName, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
	})
}

func (q *Queue) publishDLQ(msg WarmMessage) error {
	body, err := sonic.Marshal(msg)
	if err != nil {
		return err
	}
	return q.ch.Publish("", q.dlqName, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
	})
}

// DeadLetterDepth reports how many messages are parked in the dead-letter
// queue, for the monitoring endpoint (§4.11).
func (q *Queue) DeadLetterDepth() (int, error) {
	dq, err := q.ch.QueueInspect(q.dlqName)
	if err != nil {
		return 0, err
	}
	return dq.Messages, nil
}

// WarmFunc performs one warming step: author search then per-work title
// search, delegating to the same code paths the live search endpoints use
// so cache keys match exactly (§4.11, §9 "lesson from the prior incident").
type WarmFunc func(ctx context.Context, author string, depth int) error

// ConsumeWarm runs the cache-warming consumer until ctx is canceled. Every
// delivery is acked once handled: on failure the message is republished
// with RetryCount incremented, up to maxWarmRetries, and after that it is
// published straight to the DLQ (a basic queue declare has no native
// dead-lettering policy wired here).
func (q *Queue) ConsumeWarm(ctx context.Context, work WarmFunc) error {
	raw, err := q.ch.Consume(q.queueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("starting consumer: %w", err)
	}

	// A burst of warm messages (e.g. right after a dead-letter replay)
	// shouldn't spawn one in-flight handleDelivery per message; accumulate
	// smooths the producer channel into a buffer this loop drains one at a
	// time, matching the teacher's buffer.go accumulate() helper.
	deliveries := accumulate[amqp.Delivery](raw, &slicebuffer[amqp.Delivery]{})

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			q.handleDelivery(ctx, d, work)
		}
	}
}

func (q *Queue) handleDelivery(ctx context.Context, d amqp.Delivery, work WarmFunc) {
	var msg WarmMessage
	if err := sonic.Unmarshal(d.Body, &msg); err != nil {
		Log(ctx).Warn("dropping malformed warm message", "err", err)
		_ = d.Ack(false)
		return
	}

	wctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err := work(wctx, msg.Author, msg.Depth)
	cancel()

	if err == nil {
		_ = d.Ack(false)
		return
	}

	Log(ctx).Warn("warm message failed", "author", msg.Author, "retry", msg.RetryCount, "err", err)
	if msg.RetryCount >= maxWarmRetries {
		if dlqErr := q.publishDLQ(msg); dlqErr != nil {
			Log(ctx).Error("failed to dead-letter warm message", "err", dlqErr)
		}
		_ = d.Ack(false)
		return
	}

	msg.RetryCount++
	if pubErr := q.PublishWarm(ctx, msg); pubErr != nil {
		Log(ctx).Error("failed to requeue warm message", "err", pubErr)
	}
	_ = d.Ack(false)
}
