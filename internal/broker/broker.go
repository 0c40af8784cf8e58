// Package broker wraps RabbitMQ (github.com/rabbitmq/amqp091-go) with the
// two durable task queues and one fanout exchange the render pipeline uses
// to move work between the orchestrator, the AI worker pool and the
// composition worker: segment_generation, video_composition and
// segment_completed.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// SegmentTask is the message body published to the segment generation
// queue — one per segment that needs (re)generating.
type SegmentTask struct {
	Version     int                    `json:"version"`
	SegmentID   string                 `json:"segment_id"`
	RenderJobID string                 `json:"render_job_id"`
	ProjectID   string                 `json:"project_id"`
	Prompt      string                 `json:"prompt"`
	ModelName   string                 `json:"model_name"`
	ModelParams map[string]interface{} `json:"model_params"`
}

// CompositionTask is the message body published to the video composition
// queue once every segment of a render job has completed.
type CompositionTask struct {
	Version     int      `json:"version"`
	RenderJobID string   `json:"render_job_id"`
	ProjectID   string   `json:"project_id"`
	SegmentIDs  []string `json:"segment_ids"`
	Event       string   `json:"event"`
}

// SegmentCompletedEvent is fanned out to segment_completed for any advisory
// subscribers. The canonical composition trigger is the inline call made by
// the AI worker on the last segment's completion, not a subscription to
// this exchange — see Broker.PublishSegmentCompleted.
type SegmentCompletedEvent struct {
	SegmentID   string `json:"segment_id"`
	RenderJobID string `json:"render_job_id"`
	Event       string `json:"event"`
}

// Handler processes one delivery's body. Returning an error nacks the
// delivery with requeue=true; returning nil acks it.
type Handler func(ctx context.Context, body []byte) error

type Broker struct {
	conn *amqp.Connection
	ch   *amqp.Channel

	segmentQueue      string
	compositionQueue  string
	completedExchange string
}

// Connect dials RabbitMQ and declares the durable topology the pipeline
// relies on. All three names are declared up front so publishers and
// consumers never race on "does this queue exist yet".
func Connect(url, segmentQueue, compositionQueue, completedExchange string) (*Broker, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("broker: dial failed: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("broker: open channel failed: %w", err)
	}

	b := &Broker{
		conn:              conn,
		ch:                ch,
		segmentQueue:      segmentQueue,
		compositionQueue:  compositionQueue,
		completedExchange: completedExchange,
	}

	if _, err := ch.QueueDeclare(segmentQueue, true, false, false, false, nil); err != nil {
		b.Close()
		return nil, fmt.Errorf("broker: declare %s: %w", segmentQueue, err)
	}
	if _, err := ch.QueueDeclare(compositionQueue, true, false, false, false, nil); err != nil {
		b.Close()
		return nil, fmt.Errorf("broker: declare %s: %w", compositionQueue, err)
	}
	if err := ch.ExchangeDeclare(completedExchange, "fanout", true, false, false, false, nil); err != nil {
		b.Close()
		return nil, fmt.Errorf("broker: declare exchange %s: %w", completedExchange, err)
	}

	return b, nil
}

func (b *Broker) Close() error {
	if b.ch != nil {
		b.ch.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}

func (b *Broker) publish(ctx context.Context, exchange, routingKey string, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("broker: marshal message: %w", err)
	}

	return b.ch.PublishWithContext(ctx, exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
}

// PublishSegmentTask enqueues a segment generation task onto the durable
// segment_generation queue.
func (b *Broker) PublishSegmentTask(ctx context.Context, task SegmentTask) error {
	task.Version = 2
	return b.publish(ctx, "", b.segmentQueue, task)
}

// PublishCompositionTask enqueues a composition task onto the durable
// video_composition queue.
func (b *Broker) PublishCompositionTask(ctx context.Context, task CompositionTask) error {
	task.Version = 2
	task.Event = "compose_video"
	return b.publish(ctx, "", b.compositionQueue, task)
}

// PublishSegmentCompleted fans out an advisory segment-completion event.
// Nothing in this repository subscribes to it; composition is always
// triggered inline by the AI worker that completes the last segment of a
// render job.
func (b *Broker) PublishSegmentCompleted(ctx context.Context, event SegmentCompletedEvent) error {
	event.Event = "segment_completed"
	return b.publish(ctx, b.completedExchange, "", event)
}

// ConsumeSegmentTasks starts a single-prefetch consumer on the segment
// generation queue and runs handler for every delivery until ctx is
// cancelled. Manual ack/nack: handler errors requeue the delivery so
// at-least-once delivery can be retried by another worker.
func (b *Broker) ConsumeSegmentTasks(ctx context.Context, handler Handler) error {
	return b.consume(ctx, b.segmentQueue, handler)
}

// ConsumeCompositionTasks starts a single-prefetch consumer on the video
// composition queue.
func (b *Broker) ConsumeCompositionTasks(ctx context.Context, handler Handler) error {
	return b.consume(ctx, b.compositionQueue, handler)
}

func (b *Broker) consume(ctx context.Context, queue string, handler Handler) error {
	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("broker: open consumer channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("broker: set qos: %w", err)
	}

	deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("broker: consume %s: %w", queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("broker: delivery channel for %s closed", queue)
			}
			if err := handler(ctx, d.Body); err != nil {
				d.Nack(false, true)
				continue
			}
			d.Ack(false)
		}
	}
}
