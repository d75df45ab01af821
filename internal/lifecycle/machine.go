package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"mediagen/internal/background"
	"mediagen/internal/domain"
	"mediagen/internal/infra"
	"mediagen/internal/webhook"
)

// Outcome reports what a callback did to its task.
type Outcome string

const (
	OutcomeIgnored     Outcome = "ignored"
	OutcomeProgress    Outcome = "progress"
	OutcomeCompleting  Outcome = "completing"
	OutcomeFailed      Outcome = "failed"
	OutcomeDuplicate   Outcome = "duplicate"
	OutcomeAlreadyDone Outcome = "already_done"
)

// emptyOutputsMessage is recorded when a provider reports completion with no
// outputs.
const emptyOutputsMessage = "Provider returned no outputs"

// Machine applies normalized callbacks to tasks.
type Machine struct {
	tasks       domain.TaskRepository
	guard       *Guard
	completion  *CompletionPipeline
	compensator *Compensator
	runner      *background.Runner
	logger      infra.Logger
	tracer      trace.Tracer
}

// NewMachine constructs a Machine.
func NewMachine(tasks domain.TaskRepository, completion *CompletionPipeline, compensator *Compensator, runner *background.Runner, logger infra.Logger) *Machine {
	return &Machine{
		tasks:       tasks,
		guard:       NewGuard(tasks),
		completion:  completion,
		compensator: compensator,
		runner:      runner,
		logger:      logger.With().Str("component", "lifecycle").Logger(),
		tracer:      otel.Tracer("mediagen/internal/lifecycle"),
	}
}

// Handle applies env to the task identified by (provider, taskID). Unknown
// tasks yield domain.ErrNotFound. Completion runs detached; compensation runs
// before Handle returns.
func (m *Machine) Handle(ctx context.Context, provider, taskID string, env webhook.Envelope) (outcome Outcome, err error) {
	ctx, span := m.tracer.Start(ctx, "lifecycle.Handle", trace.WithAttributes(
		attribute.String("task.id", taskID),
		attribute.String("task.provider", provider),
		attribute.String("webhook.status", string(env.Status)),
	))
	defer func() {
		span.SetAttributes(attribute.String("lifecycle.outcome", string(outcome)))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	task, err := m.tasks.GetForWebhook(ctx, taskID, provider)
	if err != nil {
		return OutcomeIgnored, err
	}
	log := m.logger.With().Str("task_id", taskID).Str("provider", provider).Str("status", string(env.Status)).Logger()

	if task.Status.IsTerminal() {
		log.Debug().Str("task_status", string(task.Status)).Msg("task already finished, skipping")
		return OutcomeAlreadyDone, nil
	}

	switch env.Status {
	case domain.TaskStatusPending:
		return OutcomeIgnored, nil

	case domain.TaskStatusProcessing:
		ok, err := m.tasks.MarkProcessing(ctx, taskID, domain.ProgressProcessing)
		if err != nil {
			return OutcomeIgnored, fmt.Errorf("mark processing %s: %w", taskID, err)
		}
		if !ok {
			return OutcomeIgnored, nil
		}
		log.Debug().Msg("task processing")
		return OutcomeProgress, nil

	case domain.TaskStatusCompleted, domain.TaskStatusFailed:
		payload, err := json.Marshal(env)
		if err != nil {
			return OutcomeIgnored, fmt.Errorf("encode claim payload: %w", err)
		}
		claimed, err := m.guard.TryLock(ctx, task, payload)
		if err != nil {
			return OutcomeIgnored, err
		}
		if !claimed {
			log.Info().Msg("task claimed by another delivery, skipping")
			return OutcomeDuplicate, nil
		}
		return m.finish(ctx, *task, env, true)
	}

	return OutcomeIgnored, fmt.Errorf("%w: %q", domain.ErrUnknownStatus, env.Status)
}

// Redrive finishes a task whose claim went stale, using the envelope stored
// when it was claimed. The caller must hold the claim. Completion runs inline.
func (m *Machine) Redrive(ctx context.Context, task domain.GenerationTask) error {
	var env webhook.Envelope
	if len(task.ClaimPayload) > 0 {
		if err := json.Unmarshal(task.ClaimPayload, &env); err != nil {
			return fmt.Errorf("decode claim payload for %s: %w", task.TaskID, err)
		}
	}
	if env.Status != domain.TaskStatusCompleted && env.Status != domain.TaskStatusFailed {
		env = webhook.Envelope{Status: domain.TaskStatusFailed, Error: "claim payload missing"}
	}
	_, err := m.finish(ctx, task, env, false)
	return err
}

func (m *Machine) finish(ctx context.Context, task domain.GenerationTask, env webhook.Envelope, detach bool) (Outcome, error) {
	if env.Status == domain.TaskStatusCompleted && len(env.Outputs) > 0 {
		outputs := append([]string(nil), env.Outputs...)
		if !detach {
			return OutcomeCompleting, m.completion.Run(ctx, task, outputs)
		}
		m.runner.Go(ctx, "completion "+task.TaskID, func(ctx context.Context) error {
			return m.completion.Run(ctx, task, outputs)
		})
		return OutcomeCompleting, nil
	}

	message, code := env.ErrorMessage(), domain.ErrorCodeGenerationFailed
	if env.Status == domain.TaskStatusCompleted {
		message, code = emptyOutputsMessage, domain.ErrorCodeEmptyOutputs
	}
	return OutcomeFailed, m.compensator.Run(ctx, task, message, code)
}
