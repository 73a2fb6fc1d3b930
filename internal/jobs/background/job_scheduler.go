package background

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"fixit/internal/services"

	"github.com/go-co-op/gocron/v2"
	"github.com/sirupsen/logrus"
)

const (
	JobMaterialise   = "maintenance-materialise"
	JobReminders     = "request-reminders"
	JobJournalReplay = "audit-journal-replay"
)

// JournalReplayer re-applies audit rows that failed to reach the database.
type JournalReplayer interface {
	ReplayJournal(ctx context.Context) (int, error)
}

type Config struct {
	Tick              time.Duration
	ReminderSweep     time.Duration
	ReminderThreshold time.Duration
	BatchSize         int
	Location          *time.Location
}

func (c Config) withDefaults() Config {
	if c.Tick <= 0 {
		c.Tick = time.Minute
	}
	if c.ReminderSweep <= 0 {
		c.ReminderSweep = time.Hour
	}
	if c.ReminderThreshold <= 0 {
		c.ReminderThreshold = 72 * time.Hour
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.Location == nil {
		c.Location = time.UTC
	}
	return c
}

// JobScheduler drives materialisation, reminder sweeps and audit journal
// replay. Every job runs as a singleton and, with a distributed locker, on
// one instance at a time.
type JobScheduler struct {
	scheduler gocron.Scheduler
	runner    services.MaintenanceRunner
	journal   JournalReplayer
	cfg       Config
	logger    *logrus.Logger
	jobs      map[string]gocron.Job
	mu        sync.RWMutex
}

func NewJobScheduler(runner services.MaintenanceRunner, journal JournalReplayer, locker gocron.Locker,
	cfg Config, logger *logrus.Logger) (*JobScheduler, error) {
	cfg = cfg.withDefaults()
	opts := []gocron.SchedulerOption{gocron.WithLocation(cfg.Location)}
	if locker != nil {
		opts = append(opts, gocron.WithDistributedLocker(locker))
	}
	scheduler, err := gocron.NewScheduler(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	js := &JobScheduler{
		scheduler: scheduler,
		runner:    runner,
		journal:   journal,
		cfg:       cfg,
		logger:    logger,
		jobs:      make(map[string]gocron.Job),
	}
	if err := js.registerJobs(); err != nil {
		_ = scheduler.Shutdown()
		return nil, err
	}
	return js, nil
}

func (js *JobScheduler) Start() {
	js.logger.WithFields(logrus.Fields{
		"tick":           js.cfg.Tick.String(),
		"reminder_sweep": js.cfg.ReminderSweep.String(),
		"jobs":           len(js.jobs),
	}).Info("starting maintenance scheduler")
	js.scheduler.Start()
}

func (js *JobScheduler) Stop() error {
	js.logger.Info("stopping maintenance scheduler")
	return js.scheduler.Shutdown()
}

func (js *JobScheduler) registerJobs() error {
	jobs := []struct {
		name     string
		interval time.Duration
		fn       func(context.Context) error
	}{
		{JobMaterialise, js.cfg.Tick, js.materialise},
		{JobReminders, js.cfg.ReminderSweep, js.sendReminders},
		{JobJournalReplay, js.cfg.Tick, js.replayJournal},
	}
	for _, j := range jobs {
		fn := j.fn
		job, err := js.scheduler.NewJob(
			gocron.DurationJob(j.interval),
			gocron.NewTask(func(ctx context.Context) error { return fn(ctx) }),
			gocron.WithName(j.name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return fmt.Errorf("failed to register %s job: %w", j.name, err)
		}
		js.jobs[j.name] = job
	}
	return nil
}

func (js *JobScheduler) materialise(ctx context.Context) error {
	report, err := js.runner.MaterialiseDue(ctx, js.cfg.BatchSize)
	log := js.logger.WithFields(logrus.Fields{
		"job":     JobMaterialise,
		"due":     report.Due,
		"created": report.Created,
		"skipped": report.Skipped,
		"failed":  report.Failed,
	})
	if err != nil {
		log.WithError(err).Error("materialisation run failed")
		return err
	}
	if report.Due > 0 {
		log.Info("materialisation run finished")
	}
	return nil
}

func (js *JobScheduler) sendReminders(ctx context.Context) error {
	sent, err := js.runner.SendReminders(ctx, js.cfg.ReminderThreshold, js.cfg.BatchSize)
	log := js.logger.WithFields(logrus.Fields{"job": JobReminders, "sent": sent})
	if err != nil {
		log.WithError(err).Error("reminder sweep failed")
		return err
	}
	log.Debug("reminder sweep finished")
	return nil
}

func (js *JobScheduler) replayJournal(ctx context.Context) error {
	if js.journal == nil {
		return nil
	}
	replayed, err := js.journal.ReplayJournal(ctx)
	if err != nil {
		js.logger.WithError(err).WithField("job", JobJournalReplay).Warn("audit journal replay failed")
		return err
	}
	if replayed > 0 {
		js.logger.WithFields(logrus.Fields{"job": JobJournalReplay, "replayed": replayed}).Info("audit journal replayed")
	}
	return nil
}

// RunOnce runs every job a single time in order, for cron-driven deployments.
// Failures are collected so one job does not prevent the others.
func (js *JobScheduler) RunOnce(ctx context.Context) error {
	var errs []error
	for _, fn := range []func(context.Context) error{js.replayJournal, js.materialise, js.sendReminders} {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// GetJobStatus reports the registered jobs and their next run.
func (js *JobScheduler) GetJobStatus() map[string]interface{} {
	js.mu.RLock()
	defer js.mu.RUnlock()

	jobs := make(map[string]interface{}, len(js.jobs))
	for name, job := range js.jobs {
		entry := map[string]interface{}{"id": job.ID().String()}
		if next, err := job.NextRun(); err == nil && !next.IsZero() {
			entry["next_run"] = next
		}
		if last, err := job.LastRun(); err == nil && !last.IsZero() {
			entry["last_run"] = last
		}
		jobs[name] = entry
	}
	return map[string]interface{}{
		"total_jobs": len(js.jobs),
		"jobs":       jobs,
	}
}
