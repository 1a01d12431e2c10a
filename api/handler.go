package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"ttsforge/config"
	"ttsforge/pipeline"
	"ttsforge/task"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	taskManager *task.Manager
	cfg         *config.Config
}

func NewHandler(tm *task.Manager, cfg *config.Config) *Handler {
	return &Handler{
		taskManager: tm,
		cfg:         cfg,
	}
}

type TaskRequest struct {
	Text               string  `json:"text" form:"text"`
	DocumentPath       string  `json:"documentPath" form:"documentPath"`
	Name               string  `json:"name" form:"name"`
	Voice              string  `json:"voice" form:"voice"`
	Speed              float64 `json:"speed" form:"speed"`
	OutputKind         string  `json:"outputKind" form:"outputKind" binding:"omitempty,oneof=audio video"`
	MaxDurationSeconds float64 `json:"maxDurationSeconds" form:"maxDurationSeconds" binding:"gte=0"`
}

// validate applies the checks that must fail before a task is queued.
func (h *Handler) validate(req *TaskRequest) error {
	if strings.TrimSpace(req.Text) == "" && req.DocumentPath == "" {
		return errors.New("either text or documentPath is required")
	}
	if req.Speed != 0 && (req.Speed < pipeline.MinSpeed || req.Speed > pipeline.MaxSpeed) {
		return fmt.Errorf("speed must be between %.1f and %.1f", pipeline.MinSpeed, pipeline.MaxSpeed)
	}
	if req.Voice != "" && len(h.cfg.Voices) > 0 {
		for _, v := range h.cfg.Voices {
			if v == req.Voice {
				return nil
			}
		}
		return fmt.Errorf("voice %q is not available", req.Voice)
	}
	return nil
}

// handleCreateTask queues a conversion.
func (h *Handler) handleCreateTask(c *gin.Context) {
	var req TaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.validate(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	t, err := h.taskManager.Submit(pipeline.Request{
		Name:               req.Name,
		Text:               req.Text,
		DocumentPath:       req.DocumentPath,
		Voice:              req.Voice,
		Speed:              req.Speed,
		OutputKind:         pipeline.OutputKind(req.OutputKind),
		MaxDurationSeconds: req.MaxDurationSeconds,
	})
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, task.ErrQueueFull) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"error": "Failed to create task", "details": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"taskId": t.ID})
}

// handleListTasks lists all tasks.
func (h *Handler) handleListTasks(c *gin.Context) {
	tasks := h.taskManager.List()
	for _, t := range tasks {
		h.buildDownloadURLs(c, t)
	}
	c.JSON(http.StatusOK, tasks)
}

// buildDownloadURLs fills in the download URL of every finished artifact.
func (h *Handler) buildDownloadURLs(c *gin.Context, t *task.Task) {
	if t.Status != task.StatusCompleted {
		return
	}

	baseURL := h.cfg.BaseURL
	if baseURL == "" {
		scheme := "http"
		if c.Request.TLS != nil {
			scheme = "https"
		}
		baseURL = fmt.Sprintf("%s://%s", scheme, c.Request.Host)
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	for i := range t.Artifacts {
		t.Artifacts[i].DownloadURL = fmt.Sprintf("%s/api/v1/files/%s", baseURL, t.Artifacts[i].File)
	}
}

// handleGetTaskStatus retrieves the status of a single task.
func (h *Handler) handleGetTaskStatus(c *gin.Context) {
	taskID := c.Param("taskId")
	t, found := h.taskManager.Get(taskID)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
		return
	}

	h.buildDownloadURLs(c, t)
	c.JSON(http.StatusOK, t)
}

// handleCancelTask cancels a task.
func (h *Handler) handleCancelTask(c *gin.Context) {
	taskID := c.Param("taskId")
	err := h.taskManager.Cancel(taskID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Task cancellation requested"})
}

// handleGetFile serves a finished output file.
func (h *Handler) handleGetFile(c *gin.Context) {
	filename := c.Param("filename")
	filePath, err := h.taskManager.GetFilePath(filename)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.File(filePath)
}

type PreviewRequest struct {
	Text        string `json:"text" binding:"required"`
	MaxUnitSize int    `json:"maxUnitSize" binding:"gte=0"`
}

type previewSegment struct {
	Index int    `json:"index"`
	Chars int    `json:"chars"`
	Text  string `json:"text"`
}

// handlePreviewSegments answers synchronously with the segments a text would
// be split into, without synthesizing anything.
func (h *Handler) handlePreviewSegments(c *gin.Context) {
	var req PreviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	size := req.MaxUnitSize
	if size == 0 {
		size = h.cfg.MaxUnitSize
	}

	segs := pipeline.SegmentText(pipeline.Normalize(req.Text), size)
	out := make([]previewSegment, len(segs))
	for i, s := range segs {
		out[i] = previewSegment{Index: s.Index, Chars: len([]rune(s.Text)), Text: s.Text}
	}
	c.JSON(http.StatusOK, gin.H{"maxUnitSize": size, "count": len(out), "segments": out})
}
