// Package lifecycle drives generation tasks from provider callbacks to a
// terminal status exactly once.
package lifecycle

import (
	"context"
	"fmt"

	"mediagen/internal/domain"
)

// maxClaimAttempts bounds re-reads when a progress update races the claim.
const maxClaimAttempts = 3

// Guard grants exclusive terminal handling of a task through a conditional
// update on status and claimed_at.
type Guard struct {
	tasks domain.TaskRepository
}

// NewGuard constructs a Guard.
func NewGuard(tasks domain.TaskRepository) *Guard {
	return &Guard{tasks: tasks}
}

// TryLock claims task for terminal handling and stores payload with the
// claim. It returns false without error when the task is already terminal or
// another delivery holds the claim.
func (g *Guard) TryLock(ctx context.Context, task *domain.GenerationTask, payload []byte) (bool, error) {
	current := task
	for attempt := 0; attempt < maxClaimAttempts; attempt++ {
		if current.Status.IsTerminal() || current.ClaimedAt != nil {
			return false, nil
		}
		ok, err := g.tasks.Claim(ctx, current.TaskID, current.Status, payload)
		if err != nil {
			return false, fmt.Errorf("claim task %s: %w", current.TaskID, err)
		}
		if ok {
			return true, nil
		}
		// The status may have moved pending -> processing under us; re-read
		// and try again while the task is still unclaimed.
		next, err := g.tasks.GetForWebhook(ctx, current.TaskID, current.Provider)
		if err != nil {
			return false, fmt.Errorf("reload task %s: %w", current.TaskID, err)
		}
		current = next
	}
	return false, nil
}
