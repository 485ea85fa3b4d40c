// Package access resolves client-facing portal tokens to the record they grant access to.
package access

import (
	"context"
	"errors"
	"time"
)

// Kind discriminates the resource a token resolved to.
type Kind string

const (
	KindDocumentUpload Kind = "document_upload"
	KindCase           Kind = "case"
)

// ErrNotFound means no resource kind holds a live match for the token.
var ErrNotFound = errors.New("access: token not found")

// Document request statuses that still accept uploads.
const (
	UploadStatusPending   = "pending"
	UploadStatusPartial   = "partial"
	UploadStatusCompleted = "completed"
	UploadStatusCancelled = "cancelled"
)

// UploadRequest is a document-upload request as stored.
type UploadRequest struct {
	ID             int64
	ClientName     string
	Status         string
	DueDate        *time.Time
	TokenExpiresAt *time.Time
	Items          []UploadItem
}

// UploadItem is one requested document.
type UploadItem struct {
	ID          int64
	Name        string
	Description string
	UploadedAt  *time.Time
}

// CaseRecord is a case/application record as stored.
type CaseRecord struct {
	ID         int64
	Reference  string
	CaseType   string
	Status     string
	Stage      string
	ClientName string
	UpdatedAt  time.Time
	Archived   bool
}

// UploadStore finds document-upload requests by token. Returns ErrNotFound.
type UploadStore interface {
	FindUploadByToken(ctx context.Context, token string) (UploadRequest, error)
}

// CaseStore finds case records by status token. Returns ErrNotFound.
type CaseStore interface {
	FindCaseByToken(ctx context.Context, token string) (CaseRecord, error)
}

// RequiredDocument describes a document the client still has to upload.
type RequiredDocument struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// UploadAccess is the payload for KindDocumentUpload.
type UploadAccess struct {
	RequestID  int64              `json:"request_id"`
	ClientName string             `json:"client_name"`
	DueDate    *time.Time         `json:"due_date,omitempty"`
	Required   []RequiredDocument `json:"required_documents"`
}

// CaseStatus is the payload for KindCase: the public status fields only.
type CaseStatus struct {
	Reference  string    `json:"reference"`
	CaseType   string    `json:"case_type"`
	Status     string    `json:"status"`
	Stage      string    `json:"stage,omitempty"`
	ClientName string    `json:"client_name"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ResolvedAccess is a tagged union; exactly one payload is set, matching Kind.
type ResolvedAccess struct {
	Kind   Kind
	Upload *UploadAccess
	Case   *CaseStatus
}

// Payload returns the kind-specific payload.
func (r ResolvedAccess) Payload() any {
	switch r.Kind {
	case KindDocumentUpload:
		return r.Upload
	case KindCase:
		return r.Case
	default:
		return nil
	}
}
