package repository

import (
	"context"
	"errors"
	"time"

	"telecare-chat/internal/domain/consultation"
	telecare_errors "telecare-chat/pkg/errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type PostgresConsultationRepository struct {
	db *gorm.DB
}

func NewConsultationRepository(db *gorm.DB) ConsultationRepository {
	return &PostgresConsultationRepository{db: db}
}

func (r *PostgresConsultationRepository) Create(ctx context.Context, c *consultation.Consultation) error {
	return r.db.WithContext(ctx).Create(c).Error
}

func (r *PostgresConsultationRepository) GetByID(ctx context.Context, id uuid.UUID) (consultation.Consultation, error) {
	var c consultation.Consultation
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return consultation.Consultation{}, telecare_errors.ErrNotFound
		}
		return consultation.Consultation{}, err
	}
	return c, nil
}

// ExpireDue selects and deactivates in one transaction so a record cannot be
// picked up twice by overlapping processes.
func (r *PostgresConsultationRepository) ExpireDue(ctx context.Context, now time.Time) ([]consultation.Consultation, error) {
	var due []consultation.Consultation
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Where("is_active = ? AND expires_at <= ?", true, now).
			Find(&due).Error; err != nil {
			return err
		}
		if len(due) == 0 {
			return nil
		}
		ids := make([]uuid.UUID, 0, len(due))
		for _, c := range due {
			ids = append(ids, c.ID)
		}
		return tx.Model(&consultation.Consultation{}).
			Where("id IN ?", ids).
			Updates(map[string]interface{}{
				"is_active":  false,
				"updated_at": now,
			}).Error
	})
	if err != nil {
		return nil, err
	}
	for i := range due {
		due[i].IsActive = false
	}
	return due, nil
}

func (r *PostgresConsultationRepository) ExpiringWithin(ctx context.Context, now time.Time, window time.Duration) ([]consultation.Consultation, error) {
	var soon []consultation.Consultation
	err := r.db.WithContext(ctx).
		Where("is_active = ? AND expires_at > ? AND expires_at <= ?", true, now, now.Add(window)).
		Find(&soon).Error
	return soon, err
}

func (r *PostgresConsultationRepository) DeleteInactiveBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("is_active = ? AND expires_at < ?", false, cutoff).
		Delete(&consultation.Consultation{})
	return res.RowsAffected, res.Error
}

func (r *PostgresConsultationRepository) Terminate(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).
		Model(&consultation.Consultation{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"is_active":  false,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return telecare_errors.ErrNotFound
	}
	return nil
}

func (r *PostgresConsultationRepository) LatestByParticipants(ctx context.Context, patientID, doctorID uuid.UUID) (consultation.Consultation, error) {
	var c consultation.Consultation
	err := r.db.WithContext(ctx).
		Where("patient_id = ? AND doctor_id = ?", patientID, doctorID).
		Order("started_at DESC").
		First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return consultation.Consultation{}, telecare_errors.ErrNotFound
		}
		return consultation.Consultation{}, err
	}
	return c, nil
}
