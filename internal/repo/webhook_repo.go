// Package repo implements the table-backed persistence layer for domain
// entities, backed by GORM. This file provides repository helpers for the
// WebhookEvent model used to keep duplicate webhook deliveries observable.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/cliperton/cliperton-backend/internal/domain"
)

// MarkWebhookEvent records that the given event id completed processing.
// Marking the same id twice is a no-op.
func MarkWebhookEvent(ctx context.Context, db *gorm.DB, id, eventType string) error {
	rec := &domain.WebhookEvent{
		ID:          id,
		Type:        eventType,
		ProcessedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		low := strings.ToLower(err.Error())
		if errors.Is(err, gorm.ErrDuplicatedKey) ||
			strings.Contains(low, "unique constraint failed") ||
			strings.Contains(low, "constraint failed: unique") {
			return nil
		}
		return err
	}
	return nil
}

// WebhookEventExists reports whether an event id has been processed before.
func WebhookEventExists(ctx context.Context, db *gorm.DB, id string) (bool, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.WebhookEvent{}).
		Where("id = ?", id).
		Count(&total).Error
	return total > 0, err
}
