package repository

import (
	"context"

	"FareCast/internal/domain/models"
	domrepo "FareCast/internal/domain/repository"
	pkgkafka "FareCast/pkg/kafka"
)

// MessagePublisher is the producer surface the event publisher needs.
type MessagePublisher interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
}

var _ MessagePublisher = (*pkgkafka.Producer)(nil)

// KafkaEventPublisher publishes model lifecycle events keyed by route so one
// route's events stay ordered.
type KafkaEventPublisher struct {
	producer MessagePublisher
	topic    string
}

var _ domrepo.EventPublisher = (*KafkaEventPublisher)(nil)

func NewKafkaEventPublisher(producer MessagePublisher, topic string) *KafkaEventPublisher {
	return &KafkaEventPublisher{producer: producer, topic: topic}
}

func (p *KafkaEventPublisher) PublishModelEvent(ctx context.Context, ev models.ModelEvent) error {
	return p.producer.Publish(ctx, p.topic, []byte(ev.RouteID), ev)
}
