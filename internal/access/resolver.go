package access

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"harborvisa.org/internal/obs"
)

// Precedence is the fixed order in which kinds are consulted. Upload tokens
// grant write access and are shorter-lived, so they are never shadowed by a
// case status token with the same value.
var Precedence = []Kind{KindDocumentUpload, KindCase}

type lookupFunc func(ctx context.Context, token string, now time.Time) (ResolvedAccess, bool, error)

// Resolver maps an opaque portal token to the resource it unlocks.
type Resolver struct {
	lookups map[Kind]lookupFunc
	now     func() time.Time
}

// Option configures Resolver.
type Option func(*Resolver)

// WithClock overrides the time source used for expiry checks.
func WithClock(fn func() time.Time) Option {
	return func(r *Resolver) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewResolver wires the two token-bearing stores.
func NewResolver(uploads UploadStore, cases CaseStore, opts ...Option) *Resolver {
	r := &Resolver{now: time.Now}
	r.lookups = map[Kind]lookupFunc{
		KindDocumentUpload: uploadLookup(uploads),
		KindCase:           caseLookup(cases),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve checks each kind in Precedence order and returns the first live
// match. A store failure aborts resolution rather than falling through.
func (r *Resolver) Resolve(ctx context.Context, token string) (ResolvedAccess, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		obs.ObserveTokenResolve("not_found")
		return ResolvedAccess{}, ErrNotFound
	}
	now := r.now()
	for _, kind := range Precedence {
		lookup := r.lookups[kind]
		res, ok, err := lookup(ctx, token, now)
		if err != nil {
			return ResolvedAccess{}, fmt.Errorf("resolve %s token: %w", kind, err)
		}
		if ok {
			obs.ObserveTokenResolve(string(kind))
			return res, nil
		}
	}
	obs.ObserveTokenResolve("not_found")
	return ResolvedAccess{}, ErrNotFound
}

func uploadLookup(store UploadStore) lookupFunc {
	return func(ctx context.Context, token string, now time.Time) (ResolvedAccess, bool, error) {
		if store == nil {
			return ResolvedAccess{}, false, nil
		}
		req, err := store.FindUploadByToken(ctx, token)
		if errors.Is(err, ErrNotFound) {
			return ResolvedAccess{}, false, nil
		}
		if err != nil {
			return ResolvedAccess{}, false, err
		}
		if !uploadLive(req, now) {
			return ResolvedAccess{}, false, nil
		}
		payload := &UploadAccess{
			RequestID:  req.ID,
			ClientName: req.ClientName,
			DueDate:    req.DueDate,
			Required:   []RequiredDocument{},
		}
		for _, item := range req.Items {
			if item.UploadedAt != nil {
				continue
			}
			payload.Required = append(payload.Required, RequiredDocument{
				ID:          item.ID,
				Name:        item.Name,
				Description: item.Description,
			})
		}
		return ResolvedAccess{Kind: KindDocumentUpload, Upload: payload}, true, nil
	}
}

func uploadLive(req UploadRequest, now time.Time) bool {
	switch req.Status {
	case UploadStatusPending, UploadStatusPartial:
	default:
		return false
	}
	return req.TokenExpiresAt == nil || now.Before(*req.TokenExpiresAt)
}

func caseLookup(store CaseStore) lookupFunc {
	return func(ctx context.Context, token string, _ time.Time) (ResolvedAccess, bool, error) {
		if store == nil {
			return ResolvedAccess{}, false, nil
		}
		rec, err := store.FindCaseByToken(ctx, token)
		if errors.Is(err, ErrNotFound) {
			return ResolvedAccess{}, false, nil
		}
		if err != nil {
			return ResolvedAccess{}, false, err
		}
		if rec.Archived {
			return ResolvedAccess{}, false, nil
		}
		return ResolvedAccess{Kind: KindCase, Case: &CaseStatus{
			Reference:  rec.Reference,
			CaseType:   rec.CaseType,
			Status:     rec.Status,
			Stage:      rec.Stage,
			ClientName: rec.ClientName,
			UpdatedAt:  rec.UpdatedAt,
		}}, true, nil
	}
}
