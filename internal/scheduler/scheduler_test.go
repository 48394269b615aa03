package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/one-time-login-api/internal/models"
)

type memJobRepo struct {
	mu   sync.Mutex
	jobs map[string]models.CleanupJob
}

func newMemJobRepo() *memJobRepo {
	return &memJobRepo{jobs: make(map[string]models.CleanupJob)}
}

func (m *memJobRepo) Create(ctx context.Context, userID string, runAt time.Time, secrets []string) (*models.CleanupJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	encoded, err := json.Marshal(secrets)
	if err != nil {
		return nil, err
	}
	job := models.CleanupJob{ID: uuid.NewString(), UserID: userID, RunAt: runAt, Secrets: encoded, CreatedAt: time.Now()}
	m.jobs[job.ID] = job
	return &job, nil
}

func (m *memJobRepo) FindDue(ctx context.Context, now time.Time, limit int) ([]models.CleanupJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []models.CleanupJob
	for _, job := range m.jobs {
		if !job.RunAt.After(now) {
			due = append(due, job)
		}
	}
	return due, nil
}

func (m *memJobRepo) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, id)
	return nil
}

func (m *memJobRepo) DeleteForUser(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, job := range m.jobs {
		if job.UserID == userID {
			delete(m.jobs, id)
		}
	}
	return nil
}

func (m *memJobRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}

type fakePruner struct {
	mu    sync.Mutex
	calls map[string][][]string
	fail  bool
}

func newFakePruner() *fakePruner {
	return &fakePruner{calls: make(map[string][][]string)}
}

func (f *fakePruner) Prune(ctx context.Context, userID string, secrets []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("store down")
	}
	f.calls[userID] = append(f.calls[userID], secrets)
	return nil
}

func (f *fakePruner) callCount(userID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls[userID])
}

func TestRunDueExecutesAndDeletesJobs(t *testing.T) {
	repo := newMemJobRepo()
	pruner := newFakePruner()
	s := New(repo, Config{})
	s.SetPruner(pruner)

	past := time.Now().Add(-time.Minute)
	_, err := s.ScheduleOnce(context.Background(), "u1", past, []string{"s1", "s2"})
	require.NoError(t, err)

	require.NoError(t, s.RunDue(context.Background()))

	assert.Equal(t, 1, pruner.callCount("u1"))
	assert.Equal(t, [][]string{{"s1", "s2"}}, pruner.calls["u1"])
	assert.Zero(t, repo.count(), "completed job is removed")
}

func TestRunDueSkipsFutureJobs(t *testing.T) {
	repo := newMemJobRepo()
	pruner := newFakePruner()
	s := New(repo, Config{})
	s.SetPruner(pruner)

	_, err := s.ScheduleOnce(context.Background(), "u1", time.Now().Add(time.Hour), []string{"s1"})
	require.NoError(t, err)

	require.NoError(t, s.RunDue(context.Background()))

	assert.Zero(t, pruner.callCount("u1"))
	assert.Equal(t, 1, repo.count())
}

func TestRunDueRetriesFailedJobs(t *testing.T) {
	repo := newMemJobRepo()
	pruner := newFakePruner()
	s := New(repo, Config{})
	s.SetPruner(pruner)

	_, err := s.ScheduleOnce(context.Background(), "u1", time.Now().Add(-time.Minute), []string{"s1"})
	require.NoError(t, err)

	pruner.fail = true
	require.NoError(t, s.RunDue(context.Background()))
	assert.Equal(t, 1, repo.count(), "failing job stays registered")

	pruner.fail = false
	require.NoError(t, s.RunDue(context.Background()))
	assert.Equal(t, 1, pruner.callCount("u1"))
	assert.Zero(t, repo.count())
}

func TestRunDueDropsUndecodableJob(t *testing.T) {
	repo := newMemJobRepo()
	pruner := newFakePruner()
	s := New(repo, Config{})
	s.SetPruner(pruner)

	repo.jobs["broken"] = models.CleanupJob{
		ID:      "broken",
		UserID:  "u1",
		RunAt:   time.Now().Add(-time.Minute),
		Secrets: []byte("{not json"),
	}

	require.NoError(t, s.RunDue(context.Background()))
	assert.Zero(t, pruner.callCount("u1"))
	assert.Zero(t, repo.count())
}

func TestRunDueRequiresPruner(t *testing.T) {
	s := New(newMemJobRepo(), Config{})
	assert.Error(t, s.RunDue(context.Background()))
}

func TestCancelUserDropsPendingJobs(t *testing.T) {
	repo := newMemJobRepo()
	s := New(repo, Config{})
	s.SetPruner(newFakePruner())

	_, err := s.ScheduleOnce(context.Background(), "u1", time.Now().Add(time.Hour), []string{"s1"})
	require.NoError(t, err)
	_, err = s.ScheduleOnce(context.Background(), "u2", time.Now().Add(time.Hour), []string{"s2"})
	require.NoError(t, err)

	require.NoError(t, s.CancelUser(context.Background(), "u1"))
	assert.Equal(t, 1, repo.count())
}

func TestStartStopIdempotent(t *testing.T) {
	repo := newMemJobRepo()
	s := New(repo, Config{PollInterval: 10 * time.Millisecond})
	s.SetPruner(newFakePruner())

	s.Start(context.Background())
	s.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	s.Stop()
	s.Stop()
}

func TestPollingLoopFiresDueJobs(t *testing.T) {
	repo := newMemJobRepo()
	pruner := newFakePruner()
	s := New(repo, Config{PollInterval: 10 * time.Millisecond})
	s.SetPruner(pruner)

	_, err := s.ScheduleOnce(context.Background(), "u1", time.Now().Add(-time.Second), []string{"s1"})
	require.NoError(t, err)

	s.Start(context.Background())
	defer s.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if pruner.callCount("u1") > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, 1, pruner.callCount("u1"))
	assert.Zero(t, repo.count())
}
