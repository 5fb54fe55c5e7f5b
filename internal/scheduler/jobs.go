package scheduler

import (
	"context"
	"math"
	"time"

	"telecare-chat/internal/events"
	"telecare-chat/internal/repository"
	"telecare-chat/pkg/logger"

	"go.uber.org/zap"
)

// ExpiryJob deactivates consultations whose deadline has passed and
// broadcasts the transition into each consultation's room. The scheduler is
// the sole writer of this transition.
type ExpiryJob struct {
	consultations repository.ConsultationRepository
	broadcaster   events.Broadcaster
	log           *logger.Logger
	now           func() time.Time
}

func NewExpiryJob(consultations repository.ConsultationRepository, broadcaster events.Broadcaster, log *logger.Logger) *ExpiryJob {
	return &ExpiryJob{consultations: consultations, broadcaster: broadcaster, log: log, now: time.Now}
}

func (j *ExpiryJob) Run() {
	start := time.Now()
	due, err := j.consultations.ExpireDue(context.Background(), j.now())
	if err != nil {
		j.log.Error("expiry sweep failed", zap.Error(err))
		return
	}
	// The common empty case stays silent.
	if len(due) == 0 {
		return
	}

	for _, c := range due {
		j.broadcaster.Broadcast(events.ConsultationRoom(c.ID),
			events.New(events.EventConsultationStatus, events.ConsultationStatusPayload{
				IsActive: false,
				Expired:  true,
				Message:  "Your consultation has ended",
			}))
	}
	j.log.Info("expiry sweep finished",
		zap.Int("expired", len(due)),
		zap.Duration("took", time.Since(start)))
}

// WarningJob announces consultations that will expire within the warning
// window. Read-only with respect to persisted state.
type WarningJob struct {
	consultations repository.ConsultationRepository
	broadcaster   events.Broadcaster
	window        time.Duration
	log           *logger.Logger
	now           func() time.Time
}

func NewWarningJob(consultations repository.ConsultationRepository, broadcaster events.Broadcaster, window time.Duration, log *logger.Logger) *WarningJob {
	return &WarningJob{consultations: consultations, broadcaster: broadcaster, window: window, log: log, now: time.Now}
}

func (j *WarningJob) Run() {
	start := time.Now()
	now := j.now()
	soon, err := j.consultations.ExpiringWithin(context.Background(), now, j.window)
	if err != nil {
		j.log.Error("expiry warning sweep failed", zap.Error(err))
		return
	}
	if len(soon) == 0 {
		return
	}

	for _, c := range soon {
		remaining := RemainingMinutes(now, c.ExpiresAt)
		j.broadcaster.Broadcast(events.ConsultationRoom(c.ID),
			events.New(events.EventConsultationExpiring, events.ExpiringPayload{
				ConsultationID: c.ID,
				Message:        "Your consultation is about to end",
				TimeRemaining:  remaining,
				ExpiresAt:      c.ExpiresAt,
			}))
	}
	j.log.Info("expiry warning sweep finished",
		zap.Int("warned", len(soon)),
		zap.Duration("took", time.Since(start)))
}

// RemainingMinutes is the whole minutes left until the deadline, rounded up.
func RemainingMinutes(now, expiresAt time.Time) int {
	return int(math.Ceil(expiresAt.Sub(now).Minutes()))
}

// CleanupJob permanently deletes consultations that have been inactive
// beyond the retention window. No broadcast: no live room is relevant to a
// deleted record.
type CleanupJob struct {
	consultations repository.ConsultationRepository
	retention     time.Duration
	log           *logger.Logger
	now           func() time.Time
}

func NewCleanupJob(consultations repository.ConsultationRepository, retention time.Duration, log *logger.Logger) *CleanupJob {
	return &CleanupJob{consultations: consultations, retention: retention, log: log, now: time.Now}
}

func (j *CleanupJob) Run() {
	start := time.Now()
	cutoff := j.now().Add(-j.retention)
	deleted, err := j.consultations.DeleteInactiveBefore(context.Background(), cutoff)
	if err != nil {
		j.log.Error("cleanup sweep failed", zap.Error(err))
		return
	}
	j.log.Info("cleanup sweep finished",
		zap.Int64("deleted", deleted),
		zap.Duration("took", time.Since(start)))
}
