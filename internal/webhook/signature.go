package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"

	"mediagen/internal/domain"
)

// HMACVerifier checks an HMAC-SHA256 of the raw body carried in a header.
type HMACVerifier struct {
	Header   string
	Prefix   string
	Secret   string
	Encoding string // hex | base64
}

// Verify returns an error wrapping domain.ErrInvalidSignature on mismatch.
func (v HMACVerifier) Verify(headers http.Header, body []byte) error {
	header := strings.TrimSpace(headers.Get(v.Header))
	if header == "" {
		return fmt.Errorf("%w: %s header is required", domain.ErrInvalidSignature, v.Header)
	}
	secret := strings.TrimSpace(v.Secret)
	if secret == "" {
		return fmt.Errorf("%w: secret is not configured", domain.ErrInvalidSignature)
	}
	signature := strings.TrimSpace(strings.TrimPrefix(header, v.Prefix))

	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	expected := mac.Sum(nil)

	var (
		decoded []byte
		err     error
	)
	switch strings.ToLower(strings.TrimSpace(v.Encoding)) {
	case "base64":
		decoded, err = base64.StdEncoding.DecodeString(signature)
	default:
		decoded, err = hex.DecodeString(signature)
	}
	if err != nil {
		return fmt.Errorf("%w: decode signature: %v", domain.ErrInvalidSignature, err)
	}
	if subtle.ConstantTimeCompare(decoded, expected) != 1 {
		return fmt.Errorf("%w: signature mismatch", domain.ErrInvalidSignature)
	}
	return nil
}

// Sign returns the header value a sender would attach for body.
func (v HMACVerifier) Sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(strings.TrimSpace(v.Secret)))
	_, _ = mac.Write(body)
	sum := mac.Sum(nil)
	if strings.EqualFold(v.Encoding, "base64") {
		return v.Prefix + base64.StdEncoding.EncodeToString(sum)
	}
	return v.Prefix + hex.EncodeToString(sum)
}

// signatureHeaders lists the header convention per provider. Unlisted
// providers use X-Webhook-Signature.
var signatureHeaders = map[string]HMACVerifier{
	"wavespeed": {Header: "X-Wavespeed-Signature", Prefix: "sha256=", Encoding: "hex"},
	"fal":       {Header: "X-Fal-Signature", Encoding: "base64"},
}

// Verifiers holds the configured verifier per provider id.
type Verifiers map[string]HMACVerifier

// NewVerifiers builds verifiers for every provider with a secret.
func NewVerifiers(secrets map[string]string) Verifiers {
	out := make(Verifiers, len(secrets))
	for provider, secret := range secrets {
		provider = strings.ToLower(strings.TrimSpace(provider))
		v, ok := signatureHeaders[provider]
		if !ok {
			v = HMACVerifier{Header: "X-Webhook-Signature", Prefix: "sha256=", Encoding: "hex"}
		}
		v.Secret = secret
		out[provider] = v
	}
	return out
}

// Verify checks body for provider. Providers without a secret are accepted.
func (vs Verifiers) Verify(provider string, headers http.Header, body []byte) error {
	v, ok := vs[strings.ToLower(strings.TrimSpace(provider))]
	if !ok {
		return nil
	}
	return v.Verify(headers, body)
}
