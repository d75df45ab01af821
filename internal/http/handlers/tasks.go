package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"mediagen/internal/domain"
)

type taskView struct {
	TaskID        string              `json:"taskId"`
	ShareID       string              `json:"shareId"`
	TaskType      string              `json:"taskType"`
	Provider      string              `json:"provider"`
	Model         string              `json:"model"`
	Status        domain.TaskStatus   `json:"status"`
	Progress      int                 `json:"progress"`
	Parameters    json.RawMessage     `json:"parameters,omitempty"`
	Results       []domain.TaskResult `json:"results"`
	ErrorMessage  *domain.TaskError   `json:"errorMessage"`
	CreatedAt     time.Time           `json:"createdAt"`
	StartedAt     time.Time           `json:"startedAt"`
	CompletedAt   *time.Time          `json:"completedAt"`
	QuotaConsumed *int                `json:"quotaConsumed"`
}

func newTaskView(t *domain.GenerationTask) taskView {
	v := taskView{
		TaskID:       t.TaskID,
		ShareID:      t.ShareID,
		TaskType:     t.TaskType,
		Provider:     t.Provider,
		Model:        t.Model,
		Status:       t.Status,
		Progress:     t.Progress,
		Parameters:   t.Parameters,
		Results:      t.Results,
		ErrorMessage: t.Error,
		CreatedAt:    t.CreatedAt,
		StartedAt:    t.StartedAt,
		CompletedAt:  t.CompletedAt,
	}
	if v.Results == nil {
		v.Results = []domain.TaskResult{}
	}
	if t.QuotaConsumed > 0 {
		consumed := t.QuotaConsumed
		v.QuotaConsumed = &consumed
	}
	return v
}

// TaskGet returns a task by id. It is public; soft-deleted tasks are hidden.
func (a *App) TaskGet(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	task, err := a.Tasks.GetPublic(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "Task not found")
			return
		}
		a.log(r).Error().Err(err).Str("task_id", taskID).Msg("tasks: load failed")
		a.error(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	a.json(w, http.StatusOK, map[string]any{"success": true, "data": newTaskView(task)})
}

// TaskDelete soft-deletes a task owned by the caller.
func (a *App) TaskDelete(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	taskID := chi.URLParam(r, "taskID")
	task, err := a.Tasks.GetPublic(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "Task not found")
			return
		}
		a.log(r).Error().Err(err).Str("task_id", taskID).Msg("tasks: load failed")
		a.error(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if task.UserID != userID {
		a.error(w, http.StatusForbidden, "Forbidden")
		return
	}
	ok, err := a.Tasks.SoftDelete(r.Context(), taskID, userID)
	if err != nil {
		a.log(r).Error().Err(err).Str("task_id", taskID).Msg("tasks: delete failed")
		a.error(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if !ok {
		a.error(w, http.StatusNotFound, "Task not found")
		return
	}
	a.json(w, http.StatusOK, map[string]any{"success": true, "message": "Task deleted successfully"})
}
