package webhook

import (
	"encoding/json"
	"strings"

	"mediagen/internal/domain"
)

// Native is a callback decoded in a provider's own vocabulary.
type Native struct {
	Status    string
	Outputs   []string
	Error     string
	RequestID string
}

// Provider decodes one provider's callback format and maps its status words.
// MapStatus must be total over the provider's documented vocabulary and report
// false for anything else.
type Provider interface {
	Name() string
	Decode(raw []byte) (Native, error)
	MapStatus(native string) (domain.TaskStatus, bool)
}

// Wavespeed handles callbacks shaped {id, status, outputs[], error}. The
// body may also arrive wrapped in {"code", "data": {...}}.
type Wavespeed struct{}

func (Wavespeed) Name() string { return "wavespeed" }

type wavespeedPayload struct {
	ID      string          `json:"id"`
	Status  string          `json:"status"`
	Outputs []string        `json:"outputs"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
}

func (w Wavespeed) Decode(raw []byte) (Native, error) {
	var p wavespeedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Native{}, err
	}
	if p.Status == "" && len(p.Data) > 0 && p.Data[0] == '{' {
		return w.Decode(p.Data)
	}
	return Native{Status: p.Status, Outputs: p.Outputs, Error: p.Error, RequestID: p.ID}, nil
}

var wavespeedStatuses = map[string]domain.TaskStatus{
	"created":    domain.TaskStatusPending,
	"pending":    domain.TaskStatusPending,
	"processing": domain.TaskStatusProcessing,
	"completed":  domain.TaskStatusCompleted,
	"failed":     domain.TaskStatusFailed,
}

func (Wavespeed) MapStatus(native string) (domain.TaskStatus, bool) {
	s, ok := wavespeedStatuses[strings.ToLower(strings.TrimSpace(native))]
	return s, ok
}

// Fal handles queue callbacks. Images may be top level or under payload, and
// error may be an object with a message or a plain string.
type Fal struct{}

func (Fal) Name() string { return "fal" }

type falImage struct {
	URL string `json:"url"`
}

type falPayload struct {
	RequestID string          `json:"request_id"`
	Status    string          `json:"status"`
	Images    []falImage      `json:"images"`
	Error     json.RawMessage `json:"error"`
	Payload   *struct {
		Images []falImage `json:"images"`
	} `json:"payload"`
}

func (Fal) Decode(raw []byte) (Native, error) {
	var p falPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Native{}, err
	}
	images := p.Images
	if len(images) == 0 && p.Payload != nil {
		images = p.Payload.Images
	}
	n := Native{Status: p.Status, RequestID: p.RequestID, Error: falError(p.Error)}
	for _, img := range images {
		n.Outputs = append(n.Outputs, img.URL)
	}
	return n, nil
}

func falError(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.Message
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

var falStatuses = map[string]domain.TaskStatus{
	"IN_QUEUE":    domain.TaskStatusPending,
	"IN_PROGRESS": domain.TaskStatusProcessing,
	"COMPLETED":   domain.TaskStatusCompleted,
	"OK":          domain.TaskStatusCompleted,
	"FAILED":      domain.TaskStatusFailed,
	"ERROR":       domain.TaskStatusFailed,
}

func (Fal) MapStatus(native string) (domain.TaskStatus, bool) {
	s, ok := falStatuses[strings.ToUpper(strings.TrimSpace(native))]
	return s, ok
}
