package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"mediagen/internal/domain"
	"mediagen/internal/lifecycle"
)

// maxWebhookBody bounds callback payloads.
const maxWebhookBody = 1 << 20

// Webhook receives provider callbacks at /webhook/{provider}/{taskID}.
func (a *App) Webhook(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	taskID := chi.URLParam(r, "taskID")
	log := a.log(r).With().Str("provider", provider).Str("task_id", taskID).Logger()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		a.error(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if err := a.Verifiers.Verify(provider, r.Header, body); err != nil {
		log.Warn().Err(err).Msg("webhook: signature rejected")
		a.error(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	env, err := a.Normalizer.Normalize(provider, body)
	if err != nil {
		log.Warn().Err(err).Msg("webhook: payload rejected")
		a.error(w, http.StatusBadRequest, err.Error())
		return
	}
	log.Info().Str("status", string(env.Status)).Int("outputs", len(env.Outputs)).Msg("webhook: received")

	outcome, err := a.Machine.Handle(r.Context(), provider, taskID, env)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		log.Warn().Msg("webhook: task not found")
		a.error(w, http.StatusNotFound, "Task not found")
		return
	case err != nil:
		log.Error().Err(err).Msg("webhook: processing failed")
		a.error(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	resp := map[string]any{"success": true}
	switch outcome {
	case lifecycle.OutcomeAlreadyDone:
		resp["message"] = "Task already finished"
	case lifecycle.OutcomeDuplicate:
		resp["message"] = "Task being processed"
	}
	a.json(w, http.StatusOK, resp)
}
