package repo

import (
	"context"
	"errors"
	"time"

	"github.com/richardliu001/token-ledger/internal/apperr"
	"github.com/richardliu001/token-ledger/internal/model"
	"github.com/segmentio/kafka-go"
	"gorm.io/gorm"
)

var errNoWriter = errors.New("kafka writer not configured")

// CreateOutboxEvent writes event.
func (r *Repository) CreateOutboxEvent(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error {
	db, cancel := r.conn(ctx, tx)
	defer cancel()
	return apperr.Storage("create outbox event", db.Create(evt).Error)
}

// PollOutbox pulls unprocessed events.
func (r *Repository) PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error) {
	db, cancel := r.conn(ctx, nil)
	defer cancel()
	var evts []model.OutboxEvent
	err := db.Where("processed = ?", false).Order("id").Limit(limit).Find(&evts).Error
	return evts, apperr.Storage("poll outbox", err)
}

// MarkOutboxProcessed sets processed flag.
func (r *Repository) MarkOutboxProcessed(ctx context.Context, id uint64) error {
	db, cancel := r.conn(ctx, nil)
	defer cancel()
	now := time.Now()
	err := db.Model(&model.OutboxEvent{}).Where("id = ?", id).
		Updates(map[string]interface{}{"processed": true, "processed_at": &now}).Error
	return apperr.Storage("mark outbox processed", err)
}

// PublishEvent sends to Kafka, keyed by aggregate so events of one
// transfer or swap stay ordered within a partition.
func (r *Repository) PublishEvent(ctx context.Context, evt model.OutboxEvent) error {
	if r.writer == nil {
		return errNoWriter
	}
	msg := kafka.Message{
		Key:   []byte(evt.AggregateID),
		Value: []byte(evt.Payload),
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(evt.EventType)},
			{Key: "aggregate", Value: []byte(evt.Aggregate)},
		},
	}
	return r.writer.WriteMessages(ctx, msg)
}

// RelayOutbox publishes up to limit pending events and marks each one
// processed after Kafka accepts it. It returns how many were sent.
func (r *Repository) RelayOutbox(ctx context.Context, limit int) (int, error) {
	events, err := r.PollOutbox(ctx, limit)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, evt := range events {
		if err := r.PublishEvent(ctx, evt); err != nil {
			r.log.Errorf("publish id=%d: %v", evt.ID, err)
			continue
		}
		if err := r.MarkOutboxProcessed(ctx, evt.ID); err != nil {
			r.log.Errorf("mark processed id=%d: %v", evt.ID, err)
			continue
		}
		sent++
	}
	return sent, nil
}
