package jobs

import (
	"os"
	"path/filepath"
	"time"

	"github.com/shirou/gopsutil/v4/disk"
)

// diskPressurePercent is the partition usage above which cleanup switches
// to the short retention age even if the workdir total is under the byte
// cap.
const diskPressurePercent = 90.0

// cleanupLoop periodically sweeps old terminal jobs, deleting their records
// and their workdirs. The retention age adapts to disk pressure: under
// pressure the shorter configured age applies.
func (m *Manager) cleanupLoop() {
	ticker := time.NewTicker(m.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.baseCtx.Done():
			return
		case <-ticker.C:
			m.cleanupOnce()
		}
	}
}

func (m *Manager) cleanupOnce() {
	age := m.cfg.RetentionAge
	total := dirSize(m.cfg.WorkDir)

	pressured := total > m.cfg.DiskPressureBytes
	if usage, err := disk.Usage(m.cfg.WorkDir); err == nil && usage.UsedPercent > diskPressurePercent {
		pressured = true
	}
	if pressured {
		age = m.cfg.RetentionAgePressured
		m.logger.Warn("disk pressure, tightening retention",
			"workdir_bytes", total, "retention", age)
	}

	jobs, err := m.store.TerminalOlderThan(time.Now().UTC().Add(-age))
	if err != nil {
		m.logger.Error("cleanup query failed", "error", err)
		return
	}

	// The workdir goes first: if its removal fails the record stays too, so
	// the next sweep retries the pair.
	swept := 0
	for _, j := range jobs {
		if err := os.RemoveAll(m.workdir(j.ID)); err != nil {
			m.logger.Warn("workdir removal failed", "job", j.ID, "error", err)
			continue
		}
		if err := m.store.Delete(j.ID); err != nil {
			m.logger.Warn("job record removal failed", "job", j.ID, "error", err)
			continue
		}
		swept++
	}
	if swept > 0 {
		m.logger.Info("swept terminal jobs", "count", swept, "retention", age)
	}
}

// dirSize walks a directory tree and sums regular file sizes. Errors along
// the walk are ignored; an under-count only delays pressure detection by
// one cycle.
func dirSize(root string) int64 {
	var total int64
	filepath.WalkDir(root, func(_ string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}
