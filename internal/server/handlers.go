package server

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ifuryst/murmur/internal/models"
	"github.com/ifuryst/murmur/internal/service/approval"
	"github.com/ifuryst/murmur/internal/service/orchestrator"
	"github.com/ifuryst/murmur/internal/store"
	"github.com/ifuryst/murmur/pkg/util"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

func (s *Server) handleHealth(c *gin.Context) {
	if err := s.store.Ping(c.Request.Context()); err != nil {
		s.Logger.Warn("Health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type createRequest struct {
	Prompt      string     `json:"prompt"`
	Platforms   []string   `json:"platforms"`
	MediaURLs   []string   `json:"media_urls"`
	ScheduledAt *time.Time `json:"scheduled_at"`
}

func (s *Server) handleCreateRequest(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	platforms, err := models.ParsePlatforms(req.Platforms)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sub, err := s.pipeline.Submit(c.Request.Context(), orchestrator.Request{
		Prompt:      req.Prompt,
		Platforms:   platforms,
		MediaURLs:   req.MediaURLs,
		ScheduledAt: req.ScheduledAt,
	})
	if errors.Is(err, orchestrator.ErrInvalidRequest) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		s.Logger.Error("Failed to submit request", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to submit request"})
		return
	}
	c.JSON(http.StatusAccepted, sub)
}

func (s *Server) handleGetTask(c *gin.Context) {
	task, err := s.store.GetTask(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
		return
	}
	if err != nil {
		s.Logger.Error("Failed to get task", zap.String("task_id", c.Param("id")), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get task"})
		return
	}
	c.JSON(http.StatusOK, task)
}

func queryInt(c *gin.Context, key string, fallback int) int {
	n, err := strconv.Atoi(c.Query(key))
	if err != nil || n < 1 {
		return fallback
	}
	return n
}

func (s *Server) handleListContents(c *gin.Context) {
	page := queryInt(c, "page", 1)
	limit := queryInt(c, "limit", defaultPageSize)
	if limit > maxPageSize {
		limit = maxPageSize
	}

	filter := store.ContentFilter{Offset: (page - 1) * limit, Limit: limit}
	if p := c.Query("platform"); p != "" {
		platform, err := models.ParsePlatform(p)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		filter.Platform = platform
	}
	if st := c.Query("status"); st != "" {
		status := models.ContentStatus(strings.ToLower(st))
		if !status.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status " + strconv.Quote(st)})
			return
		}
		filter.Status = status
	}

	contents, total, err := s.store.ListContents(c.Request.Context(), filter)
	if err != nil {
		s.Logger.Error("Failed to list contents", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list contents"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"contents":   contents,
		"total":      total,
		"page":       page,
		"limit":      limit,
		"totalPages": int(math.Ceil(float64(total) / float64(limit))),
	})
}

func (s *Server) handleGetContent(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	content, err := s.store.GetContent(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Content not found"})
		return
	}
	if err != nil {
		s.Logger.Error("Failed to get content", zap.String("content_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get content"})
		return
	}

	publications, err := s.store.ListPublications(ctx, id)
	if err != nil {
		s.Logger.Error("Failed to list publications", zap.String("content_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get content"})
		return
	}
	tasks, err := s.store.ListTasks(ctx, id)
	if err != nil {
		s.Logger.Error("Failed to list tasks", zap.String("content_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get content"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"content":      content,
		"publications": publications,
		"tasks":        tasks,
	})
}

func (s *Server) handleResumeContent(c *gin.Context) {
	id := c.Param("id")
	err := s.pipeline.Resume(c.Request.Context(), id)
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, gin.H{"content_id": id, "status": "resumed"})
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Content not found"})
	case errors.Is(err, orchestrator.ErrNothingToResume):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		s.Logger.Error("Failed to resume content", zap.String("content_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to resume content"})
	}
}

// handleDecision serves the approve and reject links as HTML pages.
func (s *Server) handleDecision(decision approval.Decision) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := s.approver.Resolve(c.Request.Context(), c.Param("token"), decision)
		if err != nil {
			s.Logger.Error("Failed to resolve approval",
				zap.String("token", util.MaskToken(c.Param("token"))),
				zap.Error(err))
			c.HTML(http.StatusInternalServerError, "approval", pageData{
				Title:   "Something went wrong",
				Message: "The decision could not be recorded. Please try the link again.",
			})
			return
		}

		status, data := decisionPage(decision, res)
		c.HTML(status, "approval", data)
	}
}

func decisionPage(decision approval.Decision, res *approval.Result) (int, pageData) {
	data := pageData{Outcome: string(res.Outcome)}
	if res.Content != nil {
		data.ContentID = res.Content.ID
		data.Platform = string(res.Content.Platform)
	}

	switch res.Outcome {
	case approval.OutcomeNotFound:
		data.Title = "Link not found"
		data.Message = "This approval link is unknown."
		return http.StatusNotFound, data
	case approval.OutcomeExpired:
		data.Title = "Link expired"
		data.Message = "The approval window has closed. The content was not published."
		return http.StatusGone, data
	case approval.OutcomeAlreadyHandled:
		data.Title = "Already handled"
		data.Message = "A decision was already made for this content (" + string(res.Content.Status) + ")."
		return http.StatusOK, data
	}

	if decision == approval.DecisionApprove {
		data.Title = "Approved"
		data.Message = "The content is scheduled for publishing."
	} else {
		data.Title = "Rejected"
		data.Message = "The content was discarded and will not be published."
	}
	return http.StatusOK, data
}

func (s *Server) handleStats(c *gin.Context) {
	if s.stats == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Monitoring is not configured"})
		return
	}
	stats, err := s.stats.GetStats(c.Request.Context())
	if err != nil {
		s.Logger.Error("Failed to get stats", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get stats"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) handlePlatformStats(c *gin.Context) {
	if s.stats == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Monitoring is not configured"})
		return
	}
	stats, err := s.stats.GetPlatformStats(c.Request.Context(), queryInt(c, "days", 7))
	if err != nil {
		s.Logger.Error("Failed to get platform stats", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get platform stats"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"stats": stats})
}

func (s *Server) handleRecentErrors(c *gin.Context) {
	if s.stats == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Monitoring is not configured"})
		return
	}
	limit := queryInt(c, "limit", 50)
	if limit > maxPageSize {
		limit = maxPageSize
	}
	logs, err := s.stats.GetRecentErrors(c.Request.Context(), limit)
	if err != nil {
		s.Logger.Error("Failed to get errors", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get errors"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"errors": logs})
}

func (s *Server) handleResolveError(c *gin.Context) {
	if s.stats == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Monitoring is not configured"})
		return
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid error id"})
		return
	}
	if err := s.stats.ResolveError(c.Request.Context(), uint(id)); err != nil {
		s.Logger.Error("Failed to resolve error", zap.Uint64("id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to resolve error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "resolved": true})
}
