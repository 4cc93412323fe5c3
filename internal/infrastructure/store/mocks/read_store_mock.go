package mocks

import (
	"context"
	"sync"

	"github.com/example/collab-platform/internal/listquery"
)

// MockReadStore is a map-backed ReadStoreInterface. Find and Count run the
// same listquery matching as the in-memory store.
type MockReadStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]any

	SetErr   error
	FindErr  error
	CountErr error
}

func NewMockReadStore() *MockReadStore {
	return &MockReadStore{collections: map[string]map[string]any{}}
}

func (m *MockReadStore) bucket(collection string) map[string]any {
	b, ok := m.collections[collection]
	if !ok {
		b = map[string]any{}
		m.collections[collection] = b
	}
	return b
}

func (m *MockReadStore) Set(_ context.Context, collection, id string, data any) error {
	if m.SetErr != nil {
		return m.SetErr
	}
	m.SetData(collection, id, data)
	return nil
}

func (m *MockReadStore) Get(_ context.Context, collection, id string) (any, bool, error) {
	v, ok := m.GetData(collection, id)
	return v, ok, nil
}

func (m *MockReadStore) GetAll(_ context.Context, collection string) ([]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]any, 0, len(m.collections[collection]))
	for _, v := range m.collections[collection] {
		out = append(out, v)
	}
	return out, nil
}

func (m *MockReadStore) Delete(_ context.Context, collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.collections[collection], id)
	return nil
}

func (m *MockReadStore) Update(_ context.Context, collection, id string, updateFn func(current any) any) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.collections[collection][id]
	if !ok {
		return false, nil
	}
	m.collections[collection][id] = updateFn(cur)
	return true, nil
}

func (m *MockReadStore) Find(_ context.Context, collection string, spec listquery.Spec) ([]listquery.Document, error) {
	if m.FindErr != nil {
		return nil, m.FindErr
	}
	docs, err := m.matching(collection, spec)
	if err != nil {
		return nil, err
	}
	listquery.SortDocuments(docs, spec.Sort)
	return listquery.Window(docs, spec.Skip, spec.Limit), nil
}

func (m *MockReadStore) Count(_ context.Context, collection string, spec listquery.Spec) (int, error) {
	if m.CountErr != nil {
		return 0, m.CountErr
	}
	docs, err := m.matching(collection, spec)
	return len(docs), err
}

func (m *MockReadStore) matching(collection string, spec listquery.Spec) ([]listquery.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	docs := []listquery.Document{}
	for _, v := range m.collections[collection] {
		doc, err := listquery.ToDocument(v)
		if err != nil {
			return nil, err
		}
		if listquery.Matches(doc, spec.Filter, spec.SearchFields) {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

// SetData seeds a document, bypassing SetErr.
func (m *MockReadStore) SetData(collection, id string, data any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bucket(collection)[id] = data
}

func (m *MockReadStore) GetData(collection, id string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.collections[collection][id]
	return v, ok
}
