// Package services defines the business logic for license issuance,
// validation, and session lookup. This file centralizes common service-level
// error values so that they can be consistently returned by service methods
// and checked by callers.
//
// These errors are intended for internal use by the service layer; translation
// into user-facing messages or HTTP status codes is performed at the
// handler layer.
package services

import "errors"

var (
	// ErrInvalidPurchase is returned when a verified webhook event is missing
	// the fields needed to issue a license (transaction id or email).
	ErrInvalidPurchase = errors.New("purchase is missing transaction id or email")

	// ErrLicenseNotFound indicates that no license exists for the requested
	// key or transaction id.
	ErrLicenseNotFound = errors.New("license not found")
)
