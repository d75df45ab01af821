package lifecycle

import (
	"context"
	"fmt"
	"time"

	"mediagen/internal/domain"
	"mediagen/internal/infra"
	"mediagen/internal/moderation"
)

// Classifier screens a single image URL.
type Classifier interface {
	Classify(ctx context.Context, imageURL string) (moderation.Classification, error)
}

// ContentScreen classifies a completed task's first result and records the
// verdict. It never touches status or results.
type ContentScreen struct {
	tasks      domain.TaskRepository
	classifier Classifier
	timeout    time.Duration
	logger     infra.Logger
}

// NewContentScreen constructs a ContentScreen. A zero timeout means 60s.
func NewContentScreen(tasks domain.TaskRepository, classifier Classifier, timeout time.Duration, logger infra.Logger) *ContentScreen {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &ContentScreen{
		tasks:      tasks,
		classifier: classifier,
		timeout:    timeout,
		logger:     logger.With().Str("component", "content_screen").Logger(),
	}
}

// Run classifies imageURL and stores the verdict on taskID.
func (s *ContentScreen) Run(ctx context.Context, taskID, imageURL string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	verdict, err := s.classifier.Classify(ctx, imageURL)
	if err != nil {
		return fmt.Errorf("classify task %s: %w", taskID, err)
	}
	if err := s.tasks.UpdateNSFW(ctx, taskID, verdict.IsNSFW, verdict.Details); err != nil {
		return fmt.Errorf("store verdict for task %s: %w", taskID, err)
	}
	s.logger.Info().Str("task_id", taskID).Bool("is_nsfw", verdict.IsNSFW).Msg("content screened")
	return nil
}
