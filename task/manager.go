package task

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/rs/zerolog"

	"ttsforge/config"
	"ttsforge/logx"
	"ttsforge/pipeline"
)

// ErrQueueFull is returned by Submit when no more tasks can be queued.
var ErrQueueFull = errors.New("task queue is full")

// Converter runs one conversion request.
type Converter interface {
	Convert(ctx context.Context, req pipeline.Request, token *pipeline.CancelToken) (pipeline.Outcome, error)
}

type Manager struct {
	cfg       *config.Config
	mu        sync.Mutex // guards the fields of stored tasks
	tasks     sync.Map
	taskQueue chan *Task
	jobSem    chan struct{}
	converter Converter
	log       zerolog.Logger
}

func NewManager(cfg *config.Config, converter Converter) (*Manager, error) {
	if converter == nil {
		return nil, errors.New("task manager needs a converter")
	}
	jobs := cfg.MaxJobs
	if jobs < 1 {
		jobs = 1
	}
	m := &Manager{
		cfg:       cfg,
		taskQueue: make(chan *Task, 100),
		jobSem:    make(chan struct{}, jobs),
		converter: converter,
		log:       logx.Component("tasks"),
	}
	return m, nil
}

func (m *Manager) Start(ctx context.Context) {
	m.log.Info().Int("maxJobs", cap(m.jobSem)).Msg("task manager started")
	go m.cleanupLoop(ctx)
	go m.workerLoop(ctx)
}

// workerLoop pulls tasks from the queue and runs up to MaxJobs at once.
func (m *Manager) workerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			m.log.Info().Msg("worker loop shutting down")
			return
		case t := <-m.taskQueue:
			select {
			case m.jobSem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			go func(t *Task) {
				defer func() { <-m.jobSem }()
				m.processTask(ctx, t)
			}(t)
		}
	}
}

// processTask runs a single conversion and records its outcome.
func (m *Manager) processTask(ctx context.Context, t *Task) {
	m.mu.Lock()
	if t.Status == StatusCanceled {
		m.mu.Unlock()
		m.log.Info().Str("task", t.ID).Msg("task was canceled before processing")
		return
	}
	t.Status = StatusProcessing
	t.StartedAt = time.Now()
	req, token := t.request, t.cancelToken
	m.mu.Unlock()

	m.log.Info().Str("task", t.ID).Msg("processing task")
	out, err := m.converter.Convert(ctx, req, token)

	m.mu.Lock()
	defer m.mu.Unlock()
	t.JobID = out.JobID
	t.Segments = len(out.Segments)
	if out.JobID != "" {
		res := out.Synthesis
		t.Synthesis = &res
	}
	for _, a := range out.Artifacts {
		t.Outputs = append(t.Outputs, a.Path)
		t.Artifacts = append(t.Artifacts, ArtifactInfo{
			File:            filepath.Base(a.Path),
			Kind:            string(a.Kind),
			DurationSeconds: a.DurationSeconds,
			Part:            a.Part,
		})
	}

	switch {
	case errors.Is(err, pipeline.ErrCancelled), errors.Is(err, context.Canceled):
		m.log.Info().Str("task", t.ID).Msg("task canceled")
		t.Status = StatusCanceled
		t.Error = "Task was canceled"
	case err != nil:
		m.log.Error().Err(err).Str("task", t.ID).Msg("task failed")
		t.Status = StatusFailed
		t.Error = err.Error()
	case out.Status == pipeline.StatusEmpty:
		t.Status = StatusEmpty
	default:
		m.log.Info().Str("task", t.ID).Int("artifacts", len(t.Outputs)).Msg("task completed")
		t.Status = StatusCompleted
	}
	t.CompletedAt = time.Now()
}

// cleanupLoop periodically removes expired output files.
func (m *Manager) cleanupLoop(ctx context.Context) {
	lifetime := m.cfg.OutputLocalLifetime
	if lifetime <= 0 {
		return
	}
	ticker := time.NewTicker(lifetime / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.log.Info().Msg("cleanup loop shutting down")
			return
		case <-ticker.C:
			m.cleanupExpired(time.Now())
		}
	}
}

func (m *Manager) cleanupExpired(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks.Range(func(key, value interface{}) bool {
		t := value.(*Task)
		if t.Status != StatusCompleted || now.Sub(t.CompletedAt) <= m.cfg.OutputLocalLifetime {
			return true
		}
		for _, p := range t.Outputs {
			m.log.Info().Str("path", p).Msg("removing expired output")
			if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
				m.log.Warn().Err(err).Str("path", p).Msg("could not remove output")
			}
		}
		m.tasks.Delete(key)
		return true
	})
}

// Submit queues a conversion.
func (m *Manager) Submit(req pipeline.Request) (*Task, error) {
	t := &Task{
		ID:          fmt.Sprintf("%s_%d", shortuuid.New(), time.Now().Unix()),
		Status:      StatusQueued,
		Name:        req.Name,
		Voice:       req.Voice,
		CreatedAt:   time.Now(),
		request:     req,
		cancelToken: pipeline.NewCancelToken(),
	}

	m.tasks.Store(t.ID, t)
	select {
	case m.taskQueue <- t:
	default:
		m.tasks.Delete(t.ID)
		return nil, ErrQueueFull
	}
	m.log.Info().Str("task", t.ID).Msg("task submitted to queue")
	return t.snapshot(), nil
}

// Get returns a copy of the task.
func (m *Manager) Get(taskID string) (*Task, bool) {
	val, ok := m.tasks.Load(taskID)
	if !ok {
		return nil, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return val.(*Task).snapshot(), true
}

// List returns copies of all tasks, oldest first.
func (m *Manager) List() []*Task {
	m.mu.Lock()
	taskList := []*Task{}
	m.tasks.Range(func(key, value interface{}) bool {
		taskList = append(taskList, value.(*Task).snapshot())
		return true
	})
	m.mu.Unlock()
	sort.Slice(taskList, func(i, j int) bool { return taskList[i].CreatedAt.Before(taskList[j].CreatedAt) })
	return taskList
}

// Cancel stops a queued task or asks a running one to stop. A running
// conversion lets in-flight synthesis finish and starts nothing new.
func (m *Manager) Cancel(taskID string) error {
	val, ok := m.tasks.Load(taskID)
	if !ok {
		return fmt.Errorf("task %s not found", taskID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	t := val.(*Task)
	switch t.Status {
	case StatusCompleted, StatusEmpty, StatusFailed, StatusCanceled:
		return fmt.Errorf("cannot cancel task in state: %s", t.Status)
	case StatusQueued:
		t.Status = StatusCanceled
		t.Error = "Canceled by user while in queue"
		t.cancelToken.Cancel()
		m.log.Info().Str("task", t.ID).Msg("task marked as canceled in queue")
	case StatusProcessing:
		if t.cancelToken == nil {
			return fmt.Errorf("task %s is processing but has no cancellation handle", t.ID)
		}
		t.cancelToken.Cancel()
		m.log.Info().Str("task", t.ID).Msg("cancellation requested for running task")
	}
	return nil
}

// GetFilePath resolves a downloadable file name inside the output directory.
func (m *Manager) GetFilePath(filename string) (string, error) {
	cleanFilename := filepath.Base(filename)
	if cleanFilename != filename || cleanFilename == "." || cleanFilename == ".." {
		return "", fmt.Errorf("invalid filename")
	}

	fullPath := filepath.Join(m.cfg.OutputDir, cleanFilename)
	if _, err := os.Stat(fullPath); os.IsNotExist(err) {
		return "", fmt.Errorf("file not found")
	}
	return fullPath, nil
}
