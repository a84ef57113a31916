package models

import (
	"fmt"
	"time"
)

// UploadRequest is a single SARIF submission to the code scanning ingestion endpoint
type UploadRequest struct {
	Repo        string // owner/repo
	CommitSHA   string
	Ref         string // e.g. refs/heads/main
	Sarif       string // gzip compressed, base64 encoded SARIF
	CheckoutURI string
	ToolName    string
	StartedAt   time.Time
}

// UploadReceipt is returned by the endpoint once a submission was accepted
type UploadReceipt struct {
	ID  string
	URL string
}

const (
	ProcessingStatusPending  = "pending"
	ProcessingStatusComplete = "complete"
	ProcessingStatusFailed   = "failed"
)

// ProcessingStatus is the asynchronous processing state of an accepted submission
type ProcessingStatus struct {
	Status      string
	AnalysesURL string
}

// EndpointError is a failed call to the ingestion endpoint.
// StatusCode 0 means the request never got an HTTP response (network, timeout).
type EndpointError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *EndpointError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("endpoint unreachable: %v", e.Err)
	}
	if e.Message != "" {
		return fmt.Sprintf("endpoint returned %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("endpoint returned %d", e.StatusCode)
}

func (e *EndpointError) Unwrap() error {
	return e.Err
}

// Temporary reports whether retrying the same request may succeed
func (e *EndpointError) Temporary() bool {
	return e.StatusCode == 0 || e.StatusCode == 429 || e.StatusCode >= 500
}
