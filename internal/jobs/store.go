package jobs

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// ErrNotFound is returned for lookups of unknown job ids.
var ErrNotFound = errors.New("job not found")

// Store persists jobs through gorm.
type Store struct {
	db *gorm.DB
}

// NewStore migrates the schema and returns a store.
func NewStore(db *gorm.DB) (*Store, error) {
	if err := Migrate(db); err != nil {
		return nil, fmt.Errorf("migrate job schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Save upserts a job.
func (s *Store) Save(j *Job) error {
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now().UTC()
	}
	j.UpdatedAt = time.Now().UTC()
	rec, err := toRecord(j)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", j.ID, err)
	}
	return s.db.Save(rec).Error
}

// Get loads one job by id.
func (s *Store) Get(id string) (*Job, error) {
	var rec jobRecord
	err := s.db.First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return fromRecord(&rec)
}

// Delete removes a job record. Deleting an unknown id is not an error;
// cleanup may race a concurrent sweep.
func (s *Store) Delete(id string) error {
	return s.db.Delete(&jobRecord{}, "id = ?", id).Error
}

// List returns the most recent jobs, newest first.
func (s *Store) List(limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	var recs []jobRecord
	if err := s.db.Order("created_at DESC").Limit(limit).Find(&recs).Error; err != nil {
		return nil, err
	}
	jobs := make([]*Job, 0, len(recs))
	for i := range recs {
		j, err := fromRecord(&recs[i])
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// Queued returns queued jobs in submission order.
func (s *Store) Queued() ([]*Job, error) {
	var recs []jobRecord
	err := s.db.Where("status = ?", string(StatusQueued)).Order("created_at ASC").Find(&recs).Error
	if err != nil {
		return nil, err
	}
	jobs := make([]*Job, 0, len(recs))
	for i := range recs {
		j, err := fromRecord(&recs[i])
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// FailActive force-fails every job left in a non-terminal running state.
// Called once at startup: a job that was preparing or processing when the
// daemon died lost its worker and can never finish.
func (s *Store) FailActive(reason string) (int64, error) {
	res := s.db.Model(&jobRecord{}).
		Where("status IN ?", []string{string(StatusPreparing), string(StatusProcessing)}).
		Updates(map[string]any{
			"status":     string(StatusFailed),
			"error":      reason,
			"updated_at": time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}

// TerminalOlderThan lists terminal jobs whose last update is before cutoff;
// the cleanup sweep deletes these together with their workdirs.
func (s *Store) TerminalOlderThan(cutoff time.Time) ([]*Job, error) {
	var recs []jobRecord
	err := s.db.Where("status IN ? AND updated_at < ?",
		[]string{string(StatusDone), string(StatusFailed), string(StatusCancelled)}, cutoff).
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	jobs := make([]*Job, 0, len(recs))
	for i := range recs {
		j, err := fromRecord(&recs[i])
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}
