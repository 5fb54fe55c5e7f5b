package consultation

import (
	"time"

	"github.com/google/uuid"
)

// Consultation represents the consultations table: a time-boxed clinical
// engagement with an expiry deadline. The scheduler owns the expiry-driven
// Active -> Inactive transition; explicit termination is a separate valid
// edge. Once IsActive is false, ExpiresAt is no longer authoritative.
type Consultation struct {
	ID        uuid.UUID     `gorm:"type:uuid;primaryKey"`
	PatientID uuid.UUID     `gorm:"type:uuid;index"`
	DoctorID  uuid.UUID     `gorm:"type:uuid;index"`
	PaymentID uuid.NullUUID `gorm:"type:uuid"`
	IsActive  bool          `gorm:"index"`
	StartedAt time.Time
	ExpiresAt time.Time `gorm:"index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Consultation) TableName() string {
	return "consultations"
}

// PaymentStatus is the snapshot sent to a connection when it joins a chat.
type PaymentStatus struct {
	ChatID    uuid.UUID `json:"chatId"`
	PaymentID string    `json:"paymentId,omitempty"`
	PaidAt    time.Time `json:"paidAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	IsActive  bool      `json:"isActive"`
}
