// Package domain defines the persistence models for licenses, validation
// attempts, and processed webhook events. These types are mapped with GORM
// for the table-backed store and serialized as JSON by the file-backed store,
// so both storage variants share one record shape.
package domain

import (
	"time"
)

// License status values. A license is created active and may only ever move
// to revoked; there is no reverse transition.
const (
	StatusActive  = "active"
	StatusRevoked = "revoked"
)

// License represents a single purchased license. It is the durable
// proof-of-purchase mapping a Stripe checkout session to an activation key.
//
// Fields:
//   - LicenseKey: primary key, format CLIP-XXXX-XXXX-XXXX; never reused.
//   - Email: purchaser address; not unique (repeat purchases are allowed).
//   - TransactionID: originating checkout session id; unique per purchase and
//     used as the idempotency key for webhook retries.
//   - AmountPaid / Currency: informational, in major currency units.
//   - GeneratedAt: issuance timestamp (UTC).
//   - Status: "active" or "revoked"; only active licenses validate.
type License struct {
	LicenseKey    string    `json:"license_key"    gorm:"type:varchar(19);primaryKey"`
	Email         string    `json:"email"          gorm:"type:varchar(255);not null;index"`
	TransactionID string    `json:"transaction_id" gorm:"type:varchar(255);not null;uniqueIndex:ux_license_txn"`
	AmountPaid    float64   `json:"amount_paid"`
	Currency      string    `json:"currency"       gorm:"type:varchar(8)"`
	GeneratedAt   time.Time `json:"generated_at"`
	Status        string    `json:"status"         gorm:"type:varchar(16);not null;default:'active';check:status IN ('active','revoked')"`
}

// TableName returns the database table name for License.
func (License) TableName() string { return "licenses" }

// IsActive reports whether the license currently validates.
func (l License) IsActive() bool { return l.Status == StatusActive }

// ValidationAttempt is a best-effort audit entry recorded for every license
// validation request, successful or not. The log is bounded to the most
// recent 1000 entries; no invariant depends on it.
type ValidationAttempt struct {
	ID         uint      `json:"-"           gorm:"primaryKey;autoIncrement"`
	Timestamp  time.Time `json:"timestamp"   gorm:"index"`
	LicenseKey string    `json:"license_key" gorm:"type:varchar(64)"`
	Email      string    `json:"email"       gorm:"type:varchar(255)"`
	Success    bool      `json:"success"`
	RemoteIP   string    `json:"ip"          gorm:"type:varchar(64)"`
	UserAgent  string    `json:"user_agent"  gorm:"type:varchar(512)"`
}

// TableName returns the database table name for ValidationAttempt.
func (ValidationAttempt) TableName() string { return "validation_attempts" }
