package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"mediagen/internal/domain"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	recentWindow    = 7 * 24 * time.Hour
	recentLimit     = 12
)

type pagination struct {
	Page       int  `json:"page"`
	Limit      int  `json:"limit"`
	Total      int  `json:"total"`
	TotalPages int  `json:"totalPages"`
	HasNext    bool `json:"hasNext"`
	HasPrev    bool `json:"hasPrev"`
}

type shareView struct {
	ShareID      string              `json:"shareId"`
	Status       domain.TaskStatus   `json:"status"`
	Progress     int                 `json:"progress"`
	Model        string              `json:"model"`
	TaskType     string              `json:"taskType"`
	Parameters   any                 `json:"parameters,omitempty"`
	Results      []domain.TaskResult `json:"results"`
	ErrorMessage *domain.TaskError   `json:"errorMessage"`
	CreatedAt    time.Time           `json:"createdAt"`
	CompletedAt  *time.Time          `json:"completedAt"`
}

// newShareView exposes only the watermarked rendition of each result.
func newShareView(t *domain.GenerationTask) shareView {
	results := make([]domain.TaskResult, 0, len(t.Results))
	for _, res := range t.Results {
		if res.WatermarkURL != "" {
			res.URL = res.WatermarkURL
		}
		res.WatermarkURL = ""
		results = append(results, res)
	}
	v := shareView{
		ShareID:      t.ShareID,
		Status:       t.Status,
		Progress:     t.Progress,
		Model:        t.Model,
		TaskType:     t.TaskType,
		Results:      results,
		ErrorMessage: t.Error,
		CreatedAt:    t.CreatedAt,
		CompletedAt:  t.CompletedAt,
	}
	if len(t.Parameters) > 0 {
		v.Parameters = t.Parameters
	}
	return v
}

// ShareGet returns the public view of a task by share id. Private and deleted
// tasks are not shared.
func (a *App) ShareGet(w http.ResponseWriter, r *http.Request) {
	shareID := strings.TrimSpace(chi.URLParam(r, "shareID"))
	if shareID == "" {
		a.error(w, http.StatusBadRequest, "Share ID is required")
		return
	}
	task, err := a.Tasks.GetByShareID(r.Context(), shareID)
	if err == nil && task.IsPrivate {
		err = domain.ErrNotFound
	}
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "Task not found")
			return
		}
		a.log(r).Error().Err(err).Str("share_id", shareID).Msg("share: load failed")
		a.error(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	a.json(w, http.StatusOK, map[string]any{"success": true, "data": newShareView(task)})
}

// TaskList pages through the caller's tasks, newest first. status, taskType
// and model accept comma separated values.
func (a *App) TaskList(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	if page < 1 {
		page = 1
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	filter := domain.TaskFilter{
		UserID:    userID,
		TaskTypes: splitParam(q.Get("taskType")),
		Models:    splitParam(q.Get("model")),
		Limit:     limit,
		Offset:    (page - 1) * limit,
	}
	for _, s := range splitParam(q.Get("status")) {
		status := domain.TaskStatus(s)
		if !status.Valid() {
			a.error(w, http.StatusBadRequest, "Invalid status: "+s)
			return
		}
		filter.Statuses = append(filter.Statuses, status)
	}

	tasks, total, err := a.Tasks.ListByUser(r.Context(), filter)
	if err != nil {
		a.log(r).Error().Err(err).Str("user_id", userID).Msg("tasks: list failed")
		a.error(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	totalPages := (total + limit - 1) / limit
	a.json(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    taskViews(tasks),
		"pagination": pagination{
			Page:       page,
			Limit:      limit,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
			HasPrev:    page > 1,
		},
	})
}

// TaskRecent returns the caller's latest completed tasks from the past week.
func (a *App) TaskRecent(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	since := time.Now().Add(-recentWindow)
	tasks, _, err := a.Tasks.ListByUser(r.Context(), domain.TaskFilter{
		UserID:       userID,
		Statuses:     []domain.TaskStatus{domain.TaskStatusCompleted},
		CreatedAfter: &since,
		Limit:        recentLimit,
	})
	if err != nil {
		a.log(r).Error().Err(err).Str("user_id", userID).Msg("tasks: recent failed")
		a.error(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	a.json(w, http.StatusOK, map[string]any{"success": true, "data": taskViews(tasks)})
}

func taskViews(tasks []domain.GenerationTask) []taskView {
	out := make([]taskView, 0, len(tasks))
	for i := range tasks {
		out = append(out, newTaskView(&tasks[i]))
	}
	return out
}

func splitParam(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
