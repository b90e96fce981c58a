package jobs

import (
	"fmt"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// Scheduler runs the bot's periodic maintenance jobs
type Scheduler struct {
	scheduler gocron.Scheduler
}

// NewScheduler creates the job scheduler. All cron expressions are
// interpreted in UTC.
func NewScheduler() (*Scheduler, error) {
	s, err := gocron.NewScheduler(
		gocron.WithLocation(time.UTC),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	return &Scheduler{scheduler: s}, nil
}

// AddCronJob registers a job on a standard 5-field cron schedule
func (s *Scheduler) AddCronJob(name, cronExpr string, task func()) error {
	_, err := s.scheduler.NewJob(
		gocron.CronJob(cronExpr, false),
		gocron.NewTask(task),
		gocron.WithName(name),
	)
	if err != nil {
		return fmt.Errorf("failed to register job %s: %w", name, err)
	}
	log.Printf("✅ [SCHEDULER] Registered job %s (%s)", name, cronExpr)
	return nil
}

// AddIntervalJob registers a job that runs every interval
func (s *Scheduler) AddIntervalJob(name string, interval time.Duration, task func()) error {
	_, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(task),
		gocron.WithName(name),
	)
	if err != nil {
		return fmt.Errorf("failed to register job %s: %w", name, err)
	}
	log.Printf("✅ [SCHEDULER] Registered job %s (every %v)", name, interval)
	return nil
}

// Start begins running registered jobs in the background
func (s *Scheduler) Start() {
	s.scheduler.Start()
	log.Printf("🚀 [SCHEDULER] Job scheduler started with %d jobs", len(s.scheduler.Jobs()))
}

// Stop shuts the scheduler down, waiting for running jobs to finish
func (s *Scheduler) Stop() {
	if err := s.scheduler.Shutdown(); err != nil {
		log.Printf("⚠️ [SCHEDULER] Shutdown error: %v", err)
		return
	}
	log.Println("🛑 [SCHEDULER] Job scheduler stopped")
}
