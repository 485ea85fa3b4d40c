package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"harborvisa.org/internal/access"
)

func TestFindUploadByToken(t *testing.T) {
	store, mock := newMock(t)
	due := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	uploaded := time.Date(2026, 7, 2, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery("from document_requests\\s+where upload_token = \\$1").WithArgs("tok").
		WillReturnRows(sqlmock.NewRows([]string{"id", "client_name", "status", "due_date", "token_expires_at"}).
			AddRow(int64(11), "Ana Souza", "partial", due, nil))
	mock.ExpectQuery("from document_request_items").WithArgs(int64(11)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "description", "uploaded_at"}).
			AddRow(int64(1), "Passport", "", uploaded).
			AddRow(int64(2), "Bank statement", "Last 3 months", nil))

	req, err := store.Access().FindUploadByToken(context.Background(), "tok")
	if err != nil {
		t.Fatalf("FindUploadByToken: %v", err)
	}
	if req.ID != 11 || req.DueDate == nil || !req.DueDate.Equal(due) || req.TokenExpiresAt != nil {
		t.Fatalf("unexpected request: %+v", req)
	}
	if len(req.Items) != 2 || req.Items[0].UploadedAt == nil || req.Items[1].UploadedAt != nil {
		t.Fatalf("unexpected items: %+v", req.Items)
	}
}

func TestFindUploadByTokenMissing(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery("from document_requests").WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"id", "client_name", "status", "due_date", "token_expires_at"}))
	if _, err := store.Access().FindUploadByToken(context.Background(), "nope"); !errors.Is(err, access.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFindCaseByToken(t *testing.T) {
	store, mock := newMock(t)
	updated := time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("from cases\\s+where status_token = \\$1").WithArgs("tok").
		WillReturnRows(sqlmock.NewRows([]string{"id", "reference", "case_type", "status", "stage", "client_name", "updated_at", "archived"}).
			AddRow(int64(5), "HV-2026-0042", "work_permit", "in_review", "submitted", "Ana Souza", updated, false))

	rec, err := store.Access().FindCaseByToken(context.Background(), "tok")
	if err != nil {
		t.Fatalf("FindCaseByToken: %v", err)
	}
	if rec.Reference != "HV-2026-0042" || rec.Archived {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestResolverOverPostgresPrefersUpload(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery("from document_requests").WithArgs("shared").
		WillReturnRows(sqlmock.NewRows([]string{"id", "client_name", "status", "due_date", "token_expires_at"}).
			AddRow(int64(11), "Ana Souza", "pending", nil, nil))
	mock.ExpectQuery("from document_request_items").WithArgs(int64(11)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "description", "uploaded_at"}))

	r := access.NewResolver(store.Access(), store.Access())
	res, err := r.Resolve(context.Background(), "shared")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Kind != access.KindDocumentUpload {
		t.Fatalf("expected upload kind, got %s", res.Kind)
	}
}
