package jobs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/reelforge/renderd/internal/config"
	"github.com/reelforge/renderd/internal/media"
	"github.com/reelforge/renderd/internal/storage"
)

// Engine executes one render mode.
type Engine interface {
	Mode() media.Mode
	Run(ctx context.Context, req media.RenderRequest, workdir string, progress func(stage string)) (*media.RenderResult, error)
}

// Event is one progress notification delivered to subscribers.
type Event struct {
	JobID  string              `json:"jobId"`
	Status Status              `json:"status"`
	Stage  string              `json:"stage,omitempty"`
	Error  string              `json:"error,omitempty"`
	Result *media.RenderResult `json:"result,omitempty"`
}

// ErrJobFinished rejects cancellation of a job already in a terminal state.
var ErrJobFinished = fmt.Errorf("job already finished")

type queueEntry struct {
	id   string
	mode media.Mode
}

// Manager owns the job queue and workers. Jobs run FIFO within the bounds
// of a per-mode concurrency limit; composition renders are encoder-heavy
// and run narrower than copy-only assembly jobs.
type Manager struct {
	store    *Store
	engines  map[media.Mode]Engine
	uploader storage.Uploader
	webhooks *WebhookSender
	cfg      config.JobsConfig
	logger   hclog.Logger

	mu            sync.Mutex
	queue         []queueEntry
	active        map[media.Mode]int
	limits        map[media.Mode]int
	cancels       map[string]context.CancelFunc
	userCancelled map[string]bool
	subs          map[string]map[chan Event]struct{}

	wake    chan struct{}
	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

// NewManager builds a manager and performs crash recovery: jobs left in
// preparing or processing by a previous run lost their worker and are
// force-failed; queued jobs re-enter the queue in submission order.
func NewManager(store *Store, engines []Engine, uploader storage.Uploader,
	webhooks *WebhookSender, cfg config.JobsConfig, logger hclog.Logger) (*Manager, error) {

	baseCtx, stop := context.WithCancel(context.Background())
	m := &Manager{
		store:         store,
		engines:       make(map[media.Mode]Engine, len(engines)),
		uploader:      uploader,
		webhooks:      webhooks,
		cfg:           cfg,
		logger:        logger.Named("jobs"),
		active:        make(map[media.Mode]int),
		cancels:       make(map[string]context.CancelFunc),
		userCancelled: make(map[string]bool),
		subs:          make(map[string]map[chan Event]struct{}),
		wake:          make(chan struct{}, 1),
		baseCtx:       baseCtx,
		stop:          stop,
	}
	for _, e := range engines {
		m.engines[e.Mode()] = e
	}
	m.limits = map[media.Mode]int{
		media.ModeComposition: cfg.CompositionConcurrency,
		media.ModeAssembly:    cfg.AssemblyConcurrency,
	}

	failed, err := store.FailActive("interrupted by restart")
	if err != nil {
		stop()
		return nil, fmt.Errorf("recover interrupted jobs: %w", err)
	}
	if failed > 0 {
		m.logger.Warn("failed jobs interrupted by a previous shutdown", "count", failed)
	}

	queued, err := store.Queued()
	if err != nil {
		stop()
		return nil, fmt.Errorf("reload queue: %w", err)
	}
	for _, j := range queued {
		m.queue = append(m.queue, queueEntry{id: j.ID, mode: j.Mode})
	}
	if len(queued) > 0 {
		m.logger.Info("requeued jobs from a previous run", "count", len(queued))
	}
	return m, nil
}

// Start launches the scheduler and cleanup loops.
func (m *Manager) Start() {
	m.wg.Add(2)
	go func() {
		defer m.wg.Done()
		m.scheduleLoop()
	}()
	go func() {
		defer m.wg.Done()
		m.cleanupLoop()
	}()
	m.signalWake()
}

// Stop cancels every running job and waits for workers to exit. In-flight
// jobs are left in their running state; the next start force-fails them.
func (m *Manager) Stop() {
	m.stop()
	m.wg.Wait()
}

// Submit validates a request and queues it. The returned job carries its
// initial queue position.
func (m *Manager) Submit(req media.RenderRequest) (*Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if _, ok := m.engines[req.Mode]; !ok {
		return nil, &media.ValidationError{Field: "mode", Reason: fmt.Sprintf("no engine for mode %q", req.Mode)}
	}

	job := &Job{
		ID:      uuid.NewString(),
		Mode:    req.Mode,
		Status:  StatusQueued,
		Request: req,
	}
	if err := m.store.Save(job); err != nil {
		return nil, fmt.Errorf("persist job: %w", err)
	}

	m.mu.Lock()
	m.queue = append(m.queue, queueEntry{id: job.ID, mode: job.Mode})
	job.QueuePosition = len(m.queue) - 1
	m.mu.Unlock()

	m.logger.Info("job queued", "job", job.ID, "mode", job.Mode, "position", job.QueuePosition)
	m.signalWake()
	return job, nil
}

// Get returns a job, decorating queued jobs with their current position.
func (m *Manager) Get(id string) (*Job, error) {
	job, err := m.store.Get(id)
	if err != nil {
		return nil, err
	}
	if job.Status == StatusQueued {
		m.mu.Lock()
		for i, entry := range m.queue {
			if entry.id == id {
				job.QueuePosition = i
				break
			}
		}
		m.mu.Unlock()
	}
	return job, nil
}

// List returns recent jobs, newest first.
func (m *Manager) List(limit int) ([]*Job, error) {
	return m.store.List(limit)
}

// Cancel stops a job. Queued jobs are removed from the queue and marked
// cancelled immediately; running jobs have their context cancelled and are
// marked cancelled by their worker, as is a job caught between dispatch and
// worker start. Terminal jobs return ErrJobFinished.
func (m *Manager) Cancel(id string) error {
	job, err := m.store.Get(id)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return ErrJobFinished
	}

	m.mu.Lock()
	if cancel, running := m.cancels[id]; running {
		m.userCancelled[id] = true
		m.mu.Unlock()
		cancel()
		return nil
	}
	for i, entry := range m.queue {
		if entry.id == id {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			m.mu.Unlock()

			job.Status = StatusCancelled
			if err := m.store.Save(job); err != nil {
				return err
			}
			os.RemoveAll(m.workdir(id))
			m.publish(job)
			m.logger.Info("job cancelled before start", "job", id)
			return nil
		}
	}
	// Neither queued nor registered: dispatch popped the entry but its
	// worker has not claimed the job yet. Leave the claim; the worker
	// checks it right after registering and marks the job cancelled.
	m.userCancelled[id] = true
	m.mu.Unlock()

	// The worker may instead have already finished. Its deferred cleanup
	// ran before the claim was set, so clear it here.
	job, err = m.store.Get(id)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		m.mu.Lock()
		delete(m.userCancelled, id)
		m.mu.Unlock()
		return ErrJobFinished
	}
	return nil
}

// Subscribe registers for a job's progress events. The returned function
// unsubscribes; the channel is closed by it.
func (m *Manager) Subscribe(id string) (<-chan Event, func()) {
	ch := make(chan Event, 16)
	m.mu.Lock()
	if m.subs[id] == nil {
		m.subs[id] = make(map[chan Event]struct{})
	}
	m.subs[id][ch] = struct{}{}
	m.mu.Unlock()

	return ch, func() {
		m.mu.Lock()
		if set, ok := m.subs[id]; ok {
			if _, member := set[ch]; member {
				delete(set, ch)
				close(ch)
			}
			if len(set) == 0 {
				delete(m.subs, id)
			}
		}
		m.mu.Unlock()
	}
}

func (m *Manager) signalWake() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Manager) scheduleLoop() {
	for {
		select {
		case <-m.baseCtx.Done():
			return
		case <-m.wake:
		}
		m.dispatch()
	}
}

// dispatch starts every queued job whose mode has free capacity, preserving
// FIFO order within each mode. A mode at capacity does not block jobs of
// the other mode behind it.
func (m *Manager) dispatch() {
	m.mu.Lock()
	defer m.mu.Unlock()

	remaining := m.queue[:0]
	for _, entry := range m.queue {
		if m.active[entry.mode] < m.limits[entry.mode] {
			entry := entry
			m.active[entry.mode]++
			m.wg.Add(1)
			go func() {
				defer m.wg.Done()
				m.runJob(entry.id, entry.mode)
			}()
			continue
		}
		remaining = append(remaining, entry)
	}
	m.queue = remaining
}

func (m *Manager) workdir(id string) string {
	return filepath.Join(m.cfg.WorkDir, id)
}

func (m *Manager) runJob(id string, mode media.Mode) {
	defer func() {
		m.mu.Lock()
		m.active[mode]--
		delete(m.cancels, id)
		delete(m.userCancelled, id)
		m.mu.Unlock()
		m.signalWake()
	}()

	ctx, cancel := context.WithCancel(m.baseCtx)
	defer cancel()
	m.mu.Lock()
	m.cancels[id] = cancel
	claimed := m.userCancelled[id]
	m.mu.Unlock()

	job, err := m.store.Get(id)
	if err != nil {
		m.logger.Error("dispatched job vanished", "job", id, "error", err)
		return
	}
	if claimed {
		// Cancel arrived in the window between dispatch popping the queue
		// entry and the registration above.
		job.Status = StatusCancelled
		if err := m.store.Save(job); err != nil {
			m.logger.Error("persist cancelled state", "job", id, "error", err)
		}
		os.RemoveAll(m.workdir(id))
		m.publish(job)
		m.logger.Info("job cancelled before start", "job", id)
		return
	}
	if job.Status != StatusQueued {
		return
	}

	workdir := m.workdir(id)
	if err := os.MkdirAll(workdir, 0o755); err != nil {
		m.fail(job, fmt.Errorf("create workdir: %w", err))
		return
	}

	job.Status = StatusPreparing
	if err := m.store.Save(job); err != nil {
		m.logger.Error("persist preparing state", "job", id, "error", err)
		return
	}
	m.publish(job)
	m.logger.Info("job started", "job", id, "mode", mode)

	progress := func(stage string) {
		job.Status = StatusProcessing
		job.Stage = stage
		if err := m.store.Save(job); err != nil {
			m.logger.Warn("persist progress", "job", id, "error", err)
		}
		m.publish(job)
	}

	result, runErr := m.engines[mode].Run(ctx, job.Request, workdir, progress)
	if runErr != nil {
		if ctx.Err() != nil {
			m.mu.Lock()
			wasUserCancel := m.userCancelled[id]
			m.mu.Unlock()
			if wasUserCancel {
				job.Status = StatusCancelled
				job.Stage = ""
				if err := m.store.Save(job); err != nil {
					m.logger.Error("persist cancelled state", "job", id, "error", err)
				}
				os.RemoveAll(workdir)
				m.publish(job)
				m.logger.Info("job cancelled", "job", id)
				return
			}
			// Shutdown: leave the running state for startup recovery.
			return
		}
		m.fail(job, runErr)
		return
	}

	m.finish(ctx, job, result)
}

// fail marks a job failed, persists the transition, and only then notifies.
func (m *Manager) fail(job *Job, cause error) {
	job.Status = StatusFailed
	job.Error = cause.Error()
	if err := m.store.Save(job); err != nil {
		m.logger.Error("persist failed state", "job", job.ID, "error", err)
	}
	m.publish(job)
	m.notifyWebhook(job)
	m.logger.Error("job failed", "job", job.ID, "error", cause)
}

// finish publishes the artifacts and marks the job done. Publishing is
// best-effort: a failed upload degrades the result to local paths rather
// than failing a render that already succeeded. The terminal state is
// persisted before any webhook fires.
func (m *Manager) finish(ctx context.Context, job *Job, result *media.RenderResult) {
	if m.uploader != nil {
		if url, err := m.uploader.Upload(ctx, result.OutputPath, job.ID+filepath.Ext(result.OutputPath)); err != nil {
			result.UploadDegraded = true
			m.logger.Warn("artifact upload failed, keeping local copy", "job", job.ID, "error", err)
		} else {
			result.OutputURL = url
		}
		if result.ThumbnailPath != "" && !result.UploadDegraded {
			if url, err := m.uploader.Upload(ctx, result.ThumbnailPath, job.ID+"-thumb"+filepath.Ext(result.ThumbnailPath)); err != nil {
				result.UploadDegraded = true
				m.logger.Warn("thumbnail upload failed", "job", job.ID, "error", err)
			} else {
				result.ThumbnailURL = url
			}
		}
	}

	job.Status = StatusDone
	job.Stage = ""
	job.Result = result
	if err := m.store.Save(job); err != nil {
		m.logger.Error("persist done state", "job", job.ID, "error", err)
		return
	}
	m.publish(job)
	m.notifyWebhook(job)
	m.logger.Info("job done", "job", job.ID, "duration", result.Duration, "degraded", result.UploadDegraded)
}

func (m *Manager) notifyWebhook(job *Job) {
	if m.webhooks == nil || job.Request.WebhookURL == "" {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.webhooks.Deliver(m.baseCtx, job)
	}()
}

// publish fans an event out to subscribers. Slow subscribers drop events
// rather than stalling the worker; the terminal event is always retrievable
// through Get.
func (m *Manager) publish(job *Job) {
	ev := Event{
		JobID:  job.ID,
		Status: job.Status,
		Stage:  job.Stage,
		Error:  job.Error,
		Result: job.Result,
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for ch := range m.subs[job.ID] {
		select {
		case ch <- ev:
		default:
		}
	}
}
