// Package repo implements the table-backed persistence layer for domain
// entities, backed by GORM. This file provides repository functions for the
// License model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a license is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - CreateLicense maps unique-constraint violations on transaction_id to
//     ErrDuplicate so the service layer can treat replays as success.
//   - On other DB errors (connectivity, corruption), the raw gorm error is
//     propagated.
package repo

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/cliperton/cliperton-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the store adapter and service layer.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrDuplicate indicates that a license already exists for the transaction id.
var ErrDuplicate = errors.New("duplicate")

// CreateLicense inserts a new license row. The unique index on transaction_id
// is the backstop for concurrent webhook deliveries; violations surface as
// ErrDuplicate.
func CreateLicense(ctx context.Context, db *gorm.DB, rec *domain.License) error {
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
		low := strings.ToLower(err.Error())
		if errors.Is(err, gorm.ErrDuplicatedKey) ||
			strings.Contains(low, "unique constraint failed") ||
			strings.Contains(low, "constraint failed: unique") {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// GetLicenseByKey fetches a license by its key, or ErrNotFound.
func GetLicenseByKey(ctx context.Context, db *gorm.DB, key string) (*domain.License, error) {
	var rec domain.License
	err := db.WithContext(ctx).
		Where("license_key = ?", key).
		First(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetLicenseByTransactionID fetches the license issued for a checkout session
// id, or ErrNotFound.
func GetLicenseByTransactionID(ctx context.Context, db *gorm.DB, id string) (*domain.License, error) {
	var rec domain.License
	err := db.WithContext(ctx).
		Where("transaction_id = ?", id).
		First(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// RevokeLicense sets status to revoked. Revoking an already revoked license
// affects zero rows and is treated as success; an unknown key returns
// ErrNotFound.
func RevokeLicense(ctx context.Context, db *gorm.DB, key string) error {
	res := db.WithContext(ctx).
		Model(&domain.License{}).
		Where("license_key = ?", key).
		Update("status", domain.StatusRevoked)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// Distinguish missing from already-revoked.
		if _, err := GetLicenseByKey(ctx, db, key); err != nil {
			return err
		}
	}
	return nil
}

// CountLicenses returns the total number of issued licenses.
func CountLicenses(ctx context.Context, db *gorm.DB) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.License{}).
		Count(&total).Error
	return total, err
}
