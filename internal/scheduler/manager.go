package scheduler

import (
	"fmt"
	"time"

	"telecare-chat/pkg/logger"

	"github.com/robfig/cron/v3"
)

// Manager owns the three consultation sweeps on a shared cron engine. Each
// job is wrapped with SkipIfStillRunning, so a tick that arrives while the
// previous run of the same job is still executing is skipped entirely, not
// queued. Jobs never block each other. Panics inside a job are recovered and
// logged; the engine keeps ticking.
type Manager struct {
	engine  *cron.Cron
	expiry  *ExpiryJob
	warning *WarningJob
	cleanup *CleanupJob

	expiryInterval  time.Duration
	warningInterval time.Duration

	log *logger.Logger
}

func NewManager(
	expiry *ExpiryJob,
	warning *WarningJob,
	cleanup *CleanupJob,
	expiryInterval, warningInterval time.Duration,
	log *logger.Logger,
) *Manager {
	cronLog := cron.PrintfLogger(printfAdapter{log})
	return &Manager{
		engine: cron.New(
			cron.WithSeconds(),
			cron.WithChain(cron.SkipIfStillRunning(cronLog), cron.Recover(cronLog)),
		),
		expiry:          expiry,
		warning:         warning,
		cleanup:         cleanup,
		expiryInterval:  expiryInterval,
		warningInterval: warningInterval,
		log:             log,
	}
}

func (m *Manager) RegisterJobs() error {
	if _, err := m.engine.AddJob(fmt.Sprintf("@every %s", m.expiryInterval), m.expiry); err != nil {
		return err
	}
	if _, err := m.engine.AddJob(fmt.Sprintf("@every %s", m.warningInterval), m.warning); err != nil {
		return err
	}
	if _, err := m.engine.AddJob("@daily", m.cleanup); err != nil {
		return err
	}
	return nil
}

func (m *Manager) Start() {
	m.log.Info("consultation scheduler started")
	m.engine.Start()
}

func (m *Manager) Stop() {
	m.log.Info("consultation scheduler stopped")
	m.engine.Stop()
}

type printfAdapter struct {
	log *logger.Logger
}

func (a printfAdapter) Printf(format string, args ...interface{}) {
	a.log.Infof(format, args...)
}
