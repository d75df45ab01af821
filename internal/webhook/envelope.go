// Package webhook turns provider-specific completion callbacks into one
// canonical Envelope and verifies their signatures.
package webhook

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"mediagen/internal/domain"
)

// DefaultErrorMessage is used when a failure callback carries no message.
const DefaultErrorMessage = "Unknown error"

// Envelope is the provider-independent form of a callback.
type Envelope struct {
	Status            domain.TaskStatus `json:"status" validate:"required,oneof=pending processing completed failed"`
	Outputs           []string          `json:"outputs,omitempty" validate:"omitempty,dive,required,url"`
	Error             string            `json:"error,omitempty"`
	ProviderRequestID string            `json:"providerRequestId,omitempty"`
	NativeStatus      string            `json:"nativeStatus,omitempty"`
}

// ErrorMessage returns the failure text, or DefaultErrorMessage when empty.
func (e Envelope) ErrorMessage() string {
	if msg := strings.TrimSpace(e.Error); msg != "" {
		return msg
	}
	return DefaultErrorMessage
}

var validate = validator.New()

func validateEnvelope(env Envelope) error {
	if err := validate.Struct(env); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%w: %s failed %q", domain.ErrMalformedPayload, verrs[0].Namespace(), verrs[0].Tag())
		}
		return fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}
	return nil
}
