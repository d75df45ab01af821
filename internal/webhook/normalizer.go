package webhook

import (
	"fmt"
	"strings"

	"mediagen/internal/domain"
)

// Normalizer selects a Provider by id and produces validated Envelopes.
type Normalizer struct {
	providers map[string]Provider
	fallback  Provider
	strict    bool
}

// NewNormalizer registers providers (Wavespeed and Fal when none are given).
// Unknown provider ids use the first registered provider. In strict mode an
// unmapped status is rejected with domain.ErrUnknownStatus; otherwise it is
// treated as pending.
func NewNormalizer(strict bool, providers ...Provider) *Normalizer {
	if len(providers) == 0 {
		providers = []Provider{Wavespeed{}, Fal{}}
	}
	n := &Normalizer{
		providers: make(map[string]Provider, len(providers)),
		fallback:  providers[0],
		strict:    strict,
	}
	for _, p := range providers {
		n.providers[strings.ToLower(p.Name())] = p
	}
	return n
}

// Provider returns the variant handling providerID.
func (n *Normalizer) Provider(providerID string) Provider {
	if p, ok := n.providers[strings.ToLower(strings.TrimSpace(providerID))]; ok {
		return p
	}
	return n.fallback
}

// Normalize decodes raw with the provider's mapping and validates the result.
func (n *Normalizer) Normalize(providerID string, raw []byte) (Envelope, error) {
	p := n.Provider(providerID)
	native, err := p.Decode(raw)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}

	status, ok := p.MapStatus(native.Status)
	if !ok {
		if n.strict {
			return Envelope{}, fmt.Errorf("%w: %s reported %q", domain.ErrUnknownStatus, p.Name(), native.Status)
		}
		status = domain.TaskStatusPending
	}

	outputs := make([]string, 0, len(native.Outputs))
	for _, o := range native.Outputs {
		if o = strings.TrimSpace(o); o != "" {
			outputs = append(outputs, o)
		}
	}

	env := Envelope{
		Status:            status,
		Outputs:           outputs,
		Error:             strings.TrimSpace(native.Error),
		ProviderRequestID: native.RequestID,
		NativeStatus:      native.Status,
	}
	if err := validateEnvelope(env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}
