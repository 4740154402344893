// Package domain defines the core persistence models for the application.
// These types are used by GORM for database schema mapping and are shared
// across the store and service layers.
package domain

import "time"

// WebhookEvent records a Stripe event id that has been fully processed.
// Stripe does not prevent duplicate delivery, so the issuance path consults
// this record (in addition to the transaction-id idempotency check) to keep
// repeated deliveries observable without re-executing side effects.
type WebhookEvent struct {
	ID          string    `json:"id"           gorm:"type:varchar(255);primaryKey"`
	Type        string    `json:"type"         gorm:"type:varchar(64);not null"`
	ProcessedAt time.Time `json:"processed_at" gorm:"type:DATETIME NOT NULL;index"`
}

// TableName implements the GORM tabler interface.
func (WebhookEvent) TableName() string { return "webhook_events" }
