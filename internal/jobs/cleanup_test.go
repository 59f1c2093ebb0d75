package jobs

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reelforge/renderd/internal/logger"
	"github.com/reelforge/renderd/internal/media"
)

func seedJobWithWorkdir(t *testing.T, store *Store, m *Manager, id string, status Status, age time.Duration) {
	t.Helper()
	job := &Job{ID: id, Mode: media.ModeComposition, Status: status, Request: compositionRequest()}
	require.NoError(t, store.Save(job))
	// Backdate the row; Save stamps UpdatedAt with now.
	require.NoError(t, store.db.Model(&jobRecord{}).Where("id = ?", id).
		Update("updated_at", time.Now().UTC().Add(-age)).Error)

	dir := m.workdir(id)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "output.mp4"), make([]byte, 2048), 0o644))
}

func TestCleanupSweepsOldTerminalJobs(t *testing.T) {
	store := newTestStore(t)
	cfg := testJobsConfig(t)
	cfg.RetentionAge = time.Hour
	m, err := NewManager(store, []Engine{&stubEngine{mode: media.ModeComposition}}, nil, nil, cfg, logger.Nop())
	require.NoError(t, err)
	defer m.Stop()

	seedJobWithWorkdir(t, store, m, "old-done", StatusDone, 2*time.Hour)
	seedJobWithWorkdir(t, store, m, "old-failed", StatusFailed, 2*time.Hour)
	seedJobWithWorkdir(t, store, m, "fresh-done", StatusDone, 10*time.Minute)

	m.cleanupOnce()

	// Both the workdir and the record are gone for swept jobs.
	assert.NoDirExists(t, m.workdir("old-done"))
	assert.NoDirExists(t, m.workdir("old-failed"))
	_, err = store.Get("old-done")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.Get("old-failed")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.DirExists(t, m.workdir("fresh-done"))
	_, err = store.Get("fresh-done")
	assert.NoError(t, err)
}

func TestCleanupForgetsSweptJobsForGood(t *testing.T) {
	store := newTestStore(t)
	cfg := testJobsConfig(t)
	cfg.RetentionAge = time.Hour
	m, err := NewManager(store, []Engine{&stubEngine{mode: media.ModeComposition}}, nil, nil, cfg, logger.Nop())
	require.NoError(t, err)
	defer m.Stop()

	seedJobWithWorkdir(t, store, m, "old-done", StatusDone, 2*time.Hour)

	m.cleanupOnce()
	// A second sweep has nothing left to pick up.
	stale, err := store.TerminalOlderThan(time.Now().UTC())
	require.NoError(t, err)
	assert.Empty(t, stale)
	m.cleanupOnce()
	_, err = store.Get("old-done")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCleanupNeverTouchesActiveJobs(t *testing.T) {
	store := newTestStore(t)
	cfg := testJobsConfig(t)
	cfg.RetentionAge = time.Hour
	m, err := NewManager(store, []Engine{&stubEngine{mode: media.ModeComposition}}, nil, nil, cfg, logger.Nop())
	require.NoError(t, err)
	defer m.Stop()

	// Old but queued: its workdir (pre-created here) must survive.
	seedJobWithWorkdir(t, store, m, "old-queued", StatusQueued, 3*time.Hour)

	m.cleanupOnce()
	assert.DirExists(t, m.workdir("old-queued"))
	_, err = store.Get("old-queued")
	assert.NoError(t, err)
}

func TestCleanupTightensRetentionUnderPressure(t *testing.T) {
	store := newTestStore(t)
	cfg := testJobsConfig(t)
	cfg.RetentionAge = 24 * time.Hour
	cfg.RetentionAgePressured = time.Hour
	cfg.DiskPressureBytes = 1 // any workdir content counts as pressure
	m, err := NewManager(store, []Engine{&stubEngine{mode: media.ModeComposition}}, nil, nil, cfg, logger.Nop())
	require.NoError(t, err)
	defer m.Stop()

	// 2h old: inside the normal 24h retention, outside the pressured 1h.
	seedJobWithWorkdir(t, store, m, "pressured", StatusDone, 2*time.Hour)

	m.cleanupOnce()
	assert.NoDirExists(t, m.workdir("pressured"))
}

func TestDirSize(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a"), make([]byte, 100), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "b"), make([]byte, 50), 0o644))

	assert.EqualValues(t, 150, dirSize(dir))
	assert.Zero(t, dirSize(filepath.Join(dir, "missing")))
}
