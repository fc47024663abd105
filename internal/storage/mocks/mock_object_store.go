package mocks

import (
	"context"
	"io"
	"time"

	"github.com/stretchr/testify/mock"

	"regapi/internal/storage"
)

// MockObjectStore is a testify mock of storage.ObjectStore.
type MockObjectStore struct {
	mock.Mock
}

var _ storage.ObjectStore = (*MockObjectStore)(nil)

func (m *MockObjectStore) Put(ctx context.Context, key string, r io.Reader, opt storage.PutOptions) (storage.Object, error) {
	args := m.Called(ctx, key, r, opt)
	obj, _ := args.Get(0).(storage.Object)
	return obj, args.Error(1)
}

func (m *MockObjectStore) Open(ctx context.Context, key string) (io.ReadCloser, storage.Object, error) {
	args := m.Called(ctx, key)
	rc, _ := args.Get(0).(io.ReadCloser)
	obj, _ := args.Get(1).(storage.Object)
	return rc, obj, args.Error(2)
}

func (m *MockObjectStore) Remove(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

func (m *MockObjectStore) DownloadURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	args := m.Called(ctx, key, ttl)
	return args.String(0), args.Error(1)
}
