package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/one-time-login-api/internal/models"
)

// Pruner removes the listed token secrets from a user's set. The
// lifecycle engine satisfies this.
type Pruner interface {
	Prune(ctx context.Context, userID string, secrets []string) error
}

type jobRepository interface {
	Create(ctx context.Context, userID string, runAt time.Time, secrets []string) (*models.CleanupJob, error)
	FindDue(ctx context.Context, now time.Time, limit int) ([]models.CleanupJob, error)
	Delete(ctx context.Context, id string) error
	DeleteForUser(ctx context.Context, userID string) error
}

// Config tunes the scheduler loop.
type Config struct {
	PollInterval time.Duration
	BatchSize    int
	Logger       *zap.Logger
}

// Scheduler fires persisted one-shot cleanup jobs. Jobs are stored in
// the database, so registrations survive restarts and may fire late:
// pruning by secret value is idempotent, a late run is harmless. Due
// jobs are executed by a polling goroutine and, optionally, at the top
// of inbound requests via RunDue.
type Scheduler struct {
	repo   jobRepository
	pruner Pruner
	logger *zap.Logger

	interval  time.Duration
	batchSize int

	running int32

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// New builds a scheduler. The pruner is attached separately because
// the lifecycle engine that implements it is constructed with the
// scheduler as a dependency.
func New(repo jobRepository, cfg Config) *Scheduler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Scheduler{
		repo:      repo,
		logger:    cfg.Logger,
		interval:  cfg.PollInterval,
		batchSize: cfg.BatchSize,
	}
}

// SetPruner attaches the prune callback. Must be called before Start.
func (s *Scheduler) SetPruner(p Pruner) {
	s.pruner = p
}

// ScheduleOnce registers a one-shot cleanup of the given secrets at
// runAt.
func (s *Scheduler) ScheduleOnce(ctx context.Context, userID string, runAt time.Time, secrets []string) (*models.CleanupJob, error) {
	job, err := s.repo.Create(ctx, userID, runAt, secrets)
	if err != nil {
		return nil, fmt.Errorf("schedule cleanup: %w", err)
	}
	s.logger.Info("cleanup scheduled",
		zap.String("job_id", job.ID),
		zap.String("user_id", userID),
		zap.Time("run_at", job.RunAt),
		zap.Int("secrets", len(secrets)),
	)
	return job, nil
}

// CancelUser drops every pending registration for a user.
func (s *Scheduler) CancelUser(ctx context.Context, userID string) error {
	return s.repo.DeleteForUser(ctx, userID)
}

// Start begins the polling loop. Safe to call once.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop()
	s.started = true
	s.logger.Sugar().Infow("cleanup scheduler started", "poll_interval", s.interval)
}

// Stop cancels the loop and waits for it to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.mu.Unlock()
	s.wg.Wait()
	s.logger.Sugar().Infow("cleanup scheduler stopped")
}

func (s *Scheduler) loop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := s.RunDue(s.ctx); err != nil {
				s.logger.Warn("cleanup poll failed", zap.Error(err))
			}
		}
	}
}

// RunDue executes every job whose instant has passed. Concurrent
// callers collapse to one run; a failing job stays registered and is
// retried on the next pass.
func (s *Scheduler) RunDue(ctx context.Context) error {
	if s.pruner == nil {
		return fmt.Errorf("scheduler has no pruner attached")
	}
	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		return nil
	}
	defer atomic.StoreInt32(&s.running, 0)

	jobs, err := s.repo.FindDue(ctx, time.Now().UTC(), s.batchSize)
	if err != nil {
		return fmt.Errorf("find due cleanups: %w", err)
	}

	for _, job := range jobs {
		var secrets []string
		if err := json.Unmarshal(job.Secrets, &secrets); err != nil {
			s.logger.Error("dropping undecodable cleanup job", zap.String("job_id", job.ID), zap.Error(err))
			if err := s.repo.Delete(ctx, job.ID); err != nil {
				s.logger.Warn("failed to delete cleanup job", zap.String("job_id", job.ID), zap.Error(err))
			}
			continue
		}

		if err := s.pruner.Prune(ctx, job.UserID, secrets); err != nil {
			s.logger.Warn("cleanup job failed, will retry",
				zap.String("job_id", job.ID),
				zap.String("user_id", job.UserID),
				zap.Error(err),
			)
			continue
		}

		if err := s.repo.Delete(ctx, job.ID); err != nil {
			s.logger.Warn("failed to delete completed cleanup job", zap.String("job_id", job.ID), zap.Error(err))
		}
	}

	return nil
}
