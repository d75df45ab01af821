package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrAlreadyRefunded     = errors.New("already refunded")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrLedgerMismatch      = errors.New("ledger mismatch")
	ErrUnknownStatus       = errors.New("unknown provider status")
	ErrMalformedPayload    = errors.New("malformed payload")
	ErrInvalidSignature    = errors.New("invalid signature")
	ErrDuplicateOperation  = errors.New("duplicate operation")
)
