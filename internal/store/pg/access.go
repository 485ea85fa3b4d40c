package pg

import (
	"context"
	"database/sql"
	"errors"

	"harborvisa.org/internal/access"
)

// AccessStore reads the two token-bearing tables for the portal resolver.
type AccessStore struct {
	db *sql.DB
}

var (
	_ access.UploadStore = (*AccessStore)(nil)
	_ access.CaseStore   = (*AccessStore)(nil)
)

func (s *AccessStore) FindUploadByToken(ctx context.Context, token string) (access.UploadRequest, error) {
	if s.db == nil {
		return access.UploadRequest{}, errNoDB
	}
	var (
		req     access.UploadRequest
		due     sql.NullTime
		expires sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		select id, client_name, status, due_date, token_expires_at
		from document_requests
		where upload_token = $1
	`, token).Scan(&req.ID, &req.ClientName, &req.Status, &due, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return access.UploadRequest{}, access.ErrNotFound
	}
	if err != nil {
		return access.UploadRequest{}, err
	}
	req.DueDate = timePtr(due)
	req.TokenExpiresAt = timePtr(expires)

	rows, err := s.db.QueryContext(ctx, `
		select id, name, coalesce(description, ''), uploaded_at
		from document_request_items
		where request_id = $1
		order by id
	`, req.ID)
	if err != nil {
		return access.UploadRequest{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			item     access.UploadItem
			uploaded sql.NullTime
		)
		if err := rows.Scan(&item.ID, &item.Name, &item.Description, &uploaded); err != nil {
			return access.UploadRequest{}, err
		}
		item.UploadedAt = timePtr(uploaded)
		req.Items = append(req.Items, item)
	}
	if err := rows.Err(); err != nil {
		return access.UploadRequest{}, err
	}
	return req, nil
}

func (s *AccessStore) FindCaseByToken(ctx context.Context, token string) (access.CaseRecord, error) {
	if s.db == nil {
		return access.CaseRecord{}, errNoDB
	}
	var rec access.CaseRecord
	err := s.db.QueryRowContext(ctx, `
		select id, reference, case_type, status, coalesce(stage, ''), client_name, updated_at, archived
		from cases
		where status_token = $1
	`, token).Scan(&rec.ID, &rec.Reference, &rec.CaseType, &rec.Status, &rec.Stage, &rec.ClientName, &rec.UpdatedAt, &rec.Archived)
	if errors.Is(err, sql.ErrNoRows) {
		return access.CaseRecord{}, access.ErrNotFound
	}
	if err != nil {
		return access.CaseRecord{}, err
	}
	return rec, nil
}
