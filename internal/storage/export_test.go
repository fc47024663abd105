package storage_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"regapi/internal/storage"
	storeMocks "regapi/internal/storage/mocks"
)

// memStore keeps objects in memory.
type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemStore() *memStore { return &memStore{objects: make(map[string][]byte)} }

func (s *memStore) Put(_ context.Context, key string, r io.Reader, opt storage.PutOptions) (storage.Object, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return storage.Object{}, err
	}
	s.mu.Lock()
	s.objects[key] = b
	s.mu.Unlock()
	return storage.Object{Key: key, Size: int64(len(b)), ContentType: opt.ContentType}, nil
}

func (s *memStore) Open(_ context.Context, key string) (io.ReadCloser, storage.Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.objects[key]
	if !ok {
		return nil, storage.Object{}, errors.New("no such key")
	}
	return io.NopCloser(bytes.NewReader(b)), storage.Object{Key: key, Size: int64(len(b))}, nil
}

func (s *memStore) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.objects, key)
	s.mu.Unlock()
	return nil
}

func (s *memStore) DownloadURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://objects.local/" + key, nil
}

func writeRecords(t *testing.T, dir string, recs map[string]string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for name, body := range recs {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
}

func TestExporter_RoundTrip(t *testing.T) {
	ctx := context.Background()
	src := filepath.Join(t.TempDir(), "payments")
	writeRecords(t, src, map[string]string{
		"a.json":       `{"id":"a","amount":10}`,
		"b.json":       `{"id":"b","amount":20}`,
		".tmp-123":     `partial`,
		"notes.txt":    `ignored`,
		".hidden.json": `{}`,
	})

	store := newMemStore()
	ex := storage.NewExporter(store, zap.NewNop())

	res, err := ex.Export(ctx, src, "payments")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Records)
	assert.Regexp(t, `^exports/payments/\d{8}T\d{6}Z$`, res.Prefix)
	assert.Equal(t, res.Prefix+"/manifest.json", res.ManifestKey)
	assert.Equal(t, "https://objects.local/"+res.ManifestKey, res.URL)
	assert.Len(t, store.objects, 3)

	var m storage.Manifest
	require.NoError(t, json.Unmarshal(store.objects[res.ManifestKey], &m))
	assert.Equal(t, "payments", m.Collection)
	assert.Equal(t, []string{res.Prefix + "/a.json", res.Prefix + "/b.json"}, m.Objects)

	dst := filepath.Join(t.TempDir(), "restored")
	n, err := ex.Import(ctx, res.ManifestKey, dst)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	b, err := os.ReadFile(filepath.Join(dst, "b.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"b","amount":20}`, string(b))
}

func TestExporter_MissingDirectory(t *testing.T) {
	store := newMemStore()
	res, err := storage.NewExporter(store, zap.NewNop()).Export(context.Background(), filepath.Join(t.TempDir(), "nope"), "registrations")
	require.NoError(t, err)
	assert.Zero(t, res.Records)

	var m storage.Manifest
	require.NoError(t, json.Unmarshal(store.objects[res.ManifestKey], &m))
	assert.Empty(t, m.Objects)
	assert.NotNil(t, m.Objects)
}

func TestExporter_UploadFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	src := t.TempDir()
	writeRecords(t, src, map[string]string{"a.json": `{}`})

	mStore := new(storeMocks.MockObjectStore)
	mStore.On("Put", mock.Anything, mock.MatchedBy(func(k string) bool { return filepath.Base(k) == "a.json" }), mock.Anything, mock.Anything).
		Return(storage.Object{}, nil)
	mStore.On("Put", mock.Anything, mock.MatchedBy(func(k string) bool { return filepath.Base(k) == "manifest.json" }), mock.Anything, mock.Anything).
		Return(storage.Object{}, errors.New("bucket gone"))
	mStore.On("Remove", ctx, mock.MatchedBy(func(k string) bool { return filepath.Base(k) == "a.json" })).Return(nil)

	res, err := storage.NewExporter(mStore, zap.NewNop()).Export(ctx, src, "payments")
	assert.EqualError(t, err, "upload manifest: bucket gone")
	assert.Nil(t, res)
	mStore.AssertExpectations(t)
	mStore.AssertNotCalled(t, "DownloadURL", mock.Anything, mock.Anything, mock.Anything)
}

func TestExporter_RecordUploadFailure(t *testing.T) {
	ctx := context.Background()
	src := t.TempDir()
	writeRecords(t, src, map[string]string{"a.json": `{}`})

	mStore := new(storeMocks.MockObjectStore)
	mStore.On("Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(storage.Object{}, errors.New("timeout"))

	_, err := storage.NewExporter(mStore, zap.NewNop()).Export(ctx, src, "payments")
	assert.EqualError(t, err, "upload a.json: timeout")
	mStore.AssertNotCalled(t, "Remove", mock.Anything, mock.Anything)
}

func TestExporter_ImportRejectsForeignObjects(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	body, _ := json.Marshal(storage.Manifest{Collection: "x", Objects: []string{"exports/x/1/../../etc/passwd"}})
	_, _ = store.Put(ctx, "m.json", bytes.NewReader(body), storage.PutOptions{})

	n, err := storage.NewExporter(store, zap.NewNop()).Import(ctx, "m.json", t.TempDir())
	assert.ErrorContains(t, err, "unexpected object")
	assert.Zero(t, n)
}

func TestExporter_ImportMissingManifest(t *testing.T) {
	_, err := storage.NewExporter(newMemStore(), zap.NewNop()).Import(context.Background(), "missing.json", t.TempDir())
	assert.ErrorContains(t, err, "read manifest")
}
