// Package scheduler runs feed fetching and digest generation on cron
// schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/robfig/cron/v3"

	"newsbrief/internal/database"
	"newsbrief/internal/digest"
	"newsbrief/internal/model"
	"newsbrief/internal/rss"
)

// taskTimeout bounds one scheduled run end to end.
const taskTimeout = 10 * time.Minute

// DefaultTasks are seeded on first startup.
func DefaultTasks() []model.ScheduledTask {
	return []model.ScheduledTask{
		{TaskType: model.TaskFetchFeeds, CronExpression: "0 */2 * * *", IsEnabled: true},
		{TaskType: model.TaskDailyDigest, CronExpression: "0 22 * * *", IsEnabled: true},
		{TaskType: model.TaskWeeklyDigest, CronExpression: "0 10 * * 1", IsEnabled: true},
		{TaskType: model.TaskMonthlyDigest, CronExpression: "0 10 1 * *", IsEnabled: true},
	}
}

// Registry is a process-scoped task scheduler. It owns the cron runner
// and binds handlers for the known task types.
type Registry struct {
	db      database.Store
	fetcher *rss.Fetcher
	digests *digest.Service

	mu   sync.Mutex
	cron *cron.Cron
}

// New creates a registry. Call Start to begin scheduling.
func New(db database.Store, fetcher *rss.Fetcher, digests *digest.Service) *Registry {
	return &Registry{db: db, fetcher: fetcher, digests: digests}
}

// Start seeds default tasks, loads enabled ones and begins the cron
// runner.
func (r *Registry) Start() error {
	if err := r.db.SeedDefaultTasks(DefaultTasks()); err != nil {
		return fmt.Errorf("seed default tasks: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reload()
}

// Stop halts scheduling and waits for any running job to finish.
func (r *Registry) Stop() {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

// Reschedule rebuilds the cron entries from the stored tasks. Called
// after task updates.
func (r *Registry) Reschedule() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cron != nil {
		<-r.cron.Stop().Done()
		r.cron = nil
	}
	return r.reload()
}

// reload builds and starts a fresh cron runner. Caller holds r.mu.
func (r *Registry) reload() error {
	tasks, err := r.db.GetTasks()
	if err != nil {
		return fmt.Errorf("load tasks: %w", err)
	}
	c := cron.New()
	for _, task := range tasks {
		if !task.IsEnabled {
			continue
		}
		taskType := task.TaskType
		if _, err := c.AddFunc(task.CronExpression, func() {
			if err := r.runTask(taskType); err != nil {
				log.Printf("[ERROR] task %s failed: %v", taskType, err)
			}
		}); err != nil {
			return fmt.Errorf("schedule %s (%q): %w", task.TaskType, task.CronExpression, err)
		}
		log.Printf("[INFO] scheduled %s on %q", task.TaskType, task.CronExpression)
	}
	c.Start()
	r.cron = c
	return nil
}

// RunNow executes a task immediately, outside its schedule.
func (r *Registry) RunNow(taskType string) error {
	if _, err := r.db.GetTaskByType(taskType); err != nil {
		return err
	}
	return r.runTask(taskType)
}

// runTask executes one task and records a log row either way.
func (r *Registry) runTask(taskType string) error {
	ctx, cancel := context.WithTimeout(context.Background(), taskTimeout)
	defer cancel()

	startedAt := time.Now().UTC()
	message, err := r.execute(ctx, taskType)
	finishedAt := time.Now().UTC()

	status := "success"
	if err != nil {
		status = "failed"
		message = err.Error()
	}
	if logErr := r.db.AppendTaskLog(taskType, status, message, startedAt, finishedAt); logErr != nil {
		log.Printf("[WARN] record task log for %s: %v", taskType, logErr)
	}
	return err
}

// execute dispatches on task type and returns a human-readable result.
func (r *Registry) execute(ctx context.Context, taskType string) (string, error) {
	switch taskType {
	case model.TaskFetchFeeds:
		report, err := r.fetcher.FetchAll(ctx)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d feeds, %d new articles, %d errors",
			report.FeedsProcessed, report.NewArticles, len(report.Errors)), nil
	case model.TaskDailyDigest:
		return r.generateDigest(ctx, model.PeriodDaily)
	case model.TaskWeeklyDigest:
		return r.generateDigest(ctx, model.PeriodWeekly)
	case model.TaskMonthlyDigest:
		return r.generateDigest(ctx, model.PeriodMonthly)
	default:
		return "", fmt.Errorf("unknown task type %q", taskType)
	}
}

// generateDigest runs one digest over the period's default window. An
// empty window is a normal outcome for a scheduled run, not a failure.
func (r *Registry) generateDigest(ctx context.Context, period model.PeriodKind) (string, error) {
	start, end, err := digest.WindowFor(period, nil)
	if err != nil {
		return "", err
	}
	report, err := r.digests.Generate(ctx, period, start, end, nil)
	if errors.Is(err, database.ErrNotFound) {
		return "no summarized articles in window", nil
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("digest %d over %d articles", report.ID, report.ArticleCount), nil
}
