package core

import (
	"errors"
	"time"
)

// Credential is an opaque bearer token and the moment it was issued.
type Credential struct {
	ID       string    `json:"credential"`
	IssuedAt time.Time `json:"timestamp"`
}

// ClassifyRequest is one upload presented to the gateway.
type ClassifyRequest struct {
	CredentialID string
	Image        []byte
	Filename     string
}

type ClassifyResult struct {
	Filename       string `json:"filename"`
	Classification string `json:"classification"`
}

const DefaultExpirationWindow = 4 * time.Hour

var (
	ErrUnauthorized      = errors.New("invalid credential")
	ErrBadRequest        = errors.New("no image file sent")
	ErrClassification    = errors.New("classification error")
	ErrStorage           = errors.New("credential store unavailable")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
)

// ClassificationError carries the failure reported by the classifier.
type ClassificationError struct {
	Err error
}

func (e *ClassificationError) Error() string {
	return "An error occurred during image classification: " + e.Err.Error()
}

func (e *ClassificationError) Unwrap() []error {
	return []error{ErrClassification, e.Err}
}
