// Package repo implements the table-backed persistence layer for domain
// entities, backed by GORM. This file provides repository helpers for the
// bounded validation attempt log.
package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/cliperton/cliperton-backend/internal/domain"
)

// RecordAttempt inserts one validation attempt and evicts the oldest rows
// beyond keep entries. Insert and trim run in one transaction so the bound
// holds under concurrent validations.
func RecordAttempt(ctx context.Context, db *gorm.DB, a *domain.ValidationAttempt, keep int) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(a).Error; err != nil {
			return err
		}
		var total int64
		if err := tx.Model(&domain.ValidationAttempt{}).Count(&total).Error; err != nil {
			return err
		}
		if overflow := total - int64(keep); overflow > 0 {
			return tx.Exec(
				`DELETE FROM validation_attempts WHERE id IN
				 (SELECT id FROM validation_attempts ORDER BY id ASC LIMIT ?)`,
				overflow,
			).Error
		}
		return nil
	})
}

// ListAttemptsPage returns a page of attempts, newest first.
func ListAttemptsPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.ValidationAttempt, error) {
	var out []domain.ValidationAttempt
	err := db.WithContext(ctx).
		Order("id desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// CountAttempts returns the number of retained attempts.
func CountAttempts(ctx context.Context, db *gorm.DB) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.ValidationAttempt{}).
		Count(&total).Error
	return total, err
}
