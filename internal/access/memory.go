package access

import (
	"context"
	"sync"
)

// MemoryStore holds upload requests and case records in process. It
// implements both UploadStore and CaseStore.
type MemoryStore struct {
	mu      sync.RWMutex
	uploads map[string]UploadRequest
	cases   map[string]CaseRecord
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		uploads: make(map[string]UploadRequest),
		cases:   make(map[string]CaseRecord),
	}
}

// PutUpload stores req under token, replacing any previous request.
func (s *MemoryStore) PutUpload(token string, req UploadRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads[token] = req
}

// PutCase stores rec under token, replacing any previous record.
func (s *MemoryStore) PutCase(token string, rec CaseRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cases[token] = rec
}

func (s *MemoryStore) FindUploadByToken(_ context.Context, token string) (UploadRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.uploads[token]
	if !ok {
		return UploadRequest{}, ErrNotFound
	}
	req.Items = append([]UploadItem(nil), req.Items...)
	return req, nil
}

func (s *MemoryStore) FindCaseByToken(_ context.Context, token string) (CaseRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.cases[token]
	if !ok {
		return CaseRecord{}, ErrNotFound
	}
	return rec, nil
}
