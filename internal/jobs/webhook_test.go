package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reelforge/renderd/internal/database"
	"github.com/reelforge/renderd/internal/logger"
	"github.com/reelforge/renderd/internal/media"
)

func newTestSender(retries int) *WebhookSender {
	s := NewWebhookSender(retries, time.Second, logger.Nop())
	s.backoff = time.Millisecond
	return s
}

func doneJob(webhookURL string) *Job {
	return &Job{
		ID:     "job-1",
		Mode:   media.ModeComposition,
		Status: StatusDone,
		Request: media.RenderRequest{
			Mode:       media.ModeComposition,
			WebhookURL: webhookURL,
			Narration:  &media.NarrationSpec{Text: "the secret script"},
			Clips:      []media.ClipSpec{{Source: "http://example.com/a.mp4", Kind: media.ClipVideo}},
		},
		Result: &media.RenderResult{OutputURL: "https://cdn.example.com/job-1.mp4", Duration: 9.5},
	}
}

func TestWebhookPayloadOmitsRequest(t *testing.T) {
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		body, _ = io.ReadAll(req.Body)
	}))
	defer srv.Close()

	sender := newTestSender(1)
	sender.Deliver(context.Background(), doneJob(srv.URL))

	require.NotEmpty(t, body)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(body, &payload))
	assert.Equal(t, "job-1", payload["jobId"])
	assert.Equal(t, "done", payload["status"])
	assert.NotContains(t, payload, "request")
	assert.NotContains(t, string(body), "the secret script")
	assert.Contains(t, string(body), "https://cdn.example.com/job-1.mp4")
}

func TestWebhookRetriesUntilSuccess(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	sender := newTestSender(3)
	sender.Deliver(context.Background(), doneJob(srv.URL))
	assert.EqualValues(t, 3, calls.Load())
}

func TestWebhookGivesUpAfterRetryBudget(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	sender := newTestSender(3)
	// Deliver returns without error; exhausted webhooks are logged, not
	// propagated.
	sender.Deliver(context.Background(), doneJob(srv.URL))
	assert.EqualValues(t, 3, calls.Load())
}

func TestManagerDeliversWebhookAfterPersistingTerminalState(t *testing.T) {
	store := newTestStore(t)

	// The handler reads the job's stored status at the moment the webhook
	// arrives; the id is published through an atomic since Submit runs
	// after the server starts.
	statusAtDelivery := make(chan Status, 1)
	var jobID atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		id, _ := jobID.Load().(string)
		if job, err := store.Get(id); err == nil {
			select {
			case statusAtDelivery <- job.Status:
			default:
			}
		}
	}))
	defer srv.Close()

	engine := &stubEngine{mode: media.ModeComposition}
	cfg := testJobsConfig(t)
	m, err := NewManager(store, []Engine{engine}, nil, newTestSender(1), cfg, logger.Nop())
	require.NoError(t, err)
	m.Start()
	defer m.Stop()

	req := compositionRequest()
	req.WebhookURL = srv.URL
	job, err := m.Submit(req)
	require.NoError(t, err)
	jobID.Store(job.ID)

	select {
	case status := <-statusAtDelivery:
		// The store already held the terminal state when the webhook fired.
		assert.Equal(t, StatusDone, status)
	case <-time.After(5 * time.Second):
		t.Fatal("webhook never delivered")
	}
}

type flakyUploader struct {
	err error
}

func (u *flakyUploader) Upload(ctx context.Context, localPath, name string) (string, error) {
	if u.err != nil {
		return "", u.err
	}
	return "https://cdn.example.com/" + name, nil
}

func TestUploadFailureDegradesButCompletes(t *testing.T) {
	db, err := database.OpenMemory()
	require.NoError(t, err)
	store, err := NewStore(db)
	require.NoError(t, err)

	engine := &stubEngine{mode: media.ModeComposition}
	m, err := NewManager(store, []Engine{engine}, &flakyUploader{err: errors.New("bucket unreachable")},
		nil, testJobsConfig(t), logger.Nop())
	require.NoError(t, err)
	m.Start()
	defer m.Stop()

	job, err := m.Submit(compositionRequest())
	require.NoError(t, err)

	done := waitForStatus(t, m, job.ID, StatusDone)
	require.NotNil(t, done.Result)
	assert.True(t, done.Result.UploadDegraded)
	assert.Empty(t, done.Result.OutputURL)
	assert.NotEmpty(t, done.Result.OutputPath)
}

func TestUploadSuccessPopulatesURL(t *testing.T) {
	store := newTestStore(t)
	engine := &stubEngine{mode: media.ModeComposition}
	m, err := NewManager(store, []Engine{engine}, &flakyUploader{}, nil, testJobsConfig(t), logger.Nop())
	require.NoError(t, err)
	m.Start()
	defer m.Stop()

	job, err := m.Submit(compositionRequest())
	require.NoError(t, err)

	done := waitForStatus(t, m, job.ID, StatusDone)
	require.NotNil(t, done.Result)
	assert.False(t, done.Result.UploadDegraded)
	assert.Equal(t, "https://cdn.example.com/"+job.ID+".mp4", done.Result.OutputURL)
}
