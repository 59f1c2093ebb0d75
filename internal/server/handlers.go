package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/reelforge/renderd/internal/jobs"
	"github.com/reelforge/renderd/internal/media"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC(),
	})
}

func (s *Server) handleListTemplates(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"templates": s.registry.Names()})
}

func (s *Server) handleSubmit(c *gin.Context) {
	var req media.RenderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body: " + err.Error()})
		return
	}

	job, err := s.manager.Submit(req)
	if err != nil {
		var ve *media.ValidationError
		if errors.As(err, &ve) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": ve.Error(), "field": ve.Field})
			return
		}
		s.logger.Error("job submission failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to queue job"})
		return
	}
	c.JSON(http.StatusAccepted, job)
}

func (s *Server) handleList(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	list, err := s.manager.List(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list jobs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": list})
}

func (s *Server) handleGet(c *gin.Context) {
	job, err := s.manager.Get(c.Param("id"))
	if err != nil {
		s.jobError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (s *Server) handleCancel(c *gin.Context) {
	err := s.manager.Cancel(c.Param("id"))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
	case errors.Is(err, jobs.ErrJobFinished):
		c.JSON(http.StatusConflict, gin.H{"error": "job already finished"})
	default:
		s.jobError(c, err)
	}
}

// handleResult redirects to the published artifact when one exists and
// falls back to serving the local file for degraded uploads.
func (s *Server) handleResult(c *gin.Context) {
	job, err := s.manager.Get(c.Param("id"))
	if err != nil {
		s.jobError(c, err)
		return
	}
	if job.Status != jobs.StatusDone || job.Result == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "job has no result", "status": job.Status})
		return
	}
	if job.Result.OutputURL != "" {
		c.Redirect(http.StatusFound, job.Result.OutputURL)
		return
	}
	c.File(job.Result.OutputPath)
}

// handleEvents streams job progress as SSE. Subscribers joining after the
// job finished get the terminal event immediately and the stream closes.
func (s *Server) handleEvents(c *gin.Context) {
	job, err := s.manager.Get(c.Param("id"))
	if err != nil {
		s.jobError(c, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	if job.Status.Terminal() {
		c.SSEvent("status", jobs.Event{
			JobID:  job.ID,
			Status: job.Status,
			Error:  job.Error,
			Result: job.Result,
		})
		c.Writer.Flush()
		return
	}

	events, unsubscribe := s.manager.Subscribe(job.ID)
	defer unsubscribe()

	// Re-read after subscribing: a job that finished in the window between
	// the first lookup and the subscription would otherwise never push its
	// terminal event to this stream.
	job, err = s.manager.Get(job.ID)
	if err == nil && job.Status.Terminal() {
		c.SSEvent("status", jobs.Event{
			JobID:  job.ID,
			Status: job.Status,
			Error:  job.Error,
			Result: job.Result,
		})
		c.Writer.Flush()
		return
	}

	// The current state is replayed first so the client always sees
	// something even if no transition happens soon.
	c.SSEvent("status", jobs.Event{JobID: job.ID, Status: job.Status, Stage: job.Stage})
	c.Writer.Flush()

	clientGone := c.Request.Context().Done()
	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent("status", ev)
			return !ev.Status.Terminal()
		case <-time.After(30 * time.Second):
			c.SSEvent("heartbeat", gin.H{"time": time.Now().UTC()})
			return true
		case <-clientGone:
			return false
		}
	})
}

func (s *Server) jobError(c *gin.Context, err error) {
	if errors.Is(err, jobs.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	s.logger.Error("job lookup failed", "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
