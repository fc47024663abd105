package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	exportPrefix   = "exports"
	manifestName   = "manifest.json"
	recordExt      = ".json"
	uploadWorkers  = 4
	manifestExpiry = 24 * time.Hour
)

// Manifest lists the objects of one collection export.
type Manifest struct {
	Collection string    `json:"collection"`
	CreatedAt  time.Time `json:"createdAt"`
	Objects    []string  `json:"objects"`
}

// ExportResult describes a finished export.
type ExportResult struct {
	Collection  string `json:"collection"`
	Prefix      string `json:"prefix"`
	ManifestKey string `json:"manifestKey"`
	Records     int    `json:"records"`
	URL         string `json:"url"`
}

// Exporter copies flat-file collections to object storage and back.
type Exporter struct {
	store ObjectStore
	log   *zap.Logger
	now   func() time.Time
}

// NewExporter creates an Exporter writing to store.
func NewExporter(store ObjectStore, log *zap.Logger) *Exporter {
	return &Exporter{store: store, log: log, now: time.Now}
}

// Export uploads every record file of the collection directory dir under
// exports/<collection>/<timestamp>/ and finishes with a manifest. A missing directory
// exports an empty collection. If any upload fails, objects already written are removed.
func (e *Exporter) Export(ctx context.Context, dir, collection string) (*ExportResult, error) {
	start := e.now()
	log := e.log.With(zap.String("component", "export"), zap.String("collection", collection))

	names, err := recordFiles(dir)
	if err != nil {
		return nil, fmt.Errorf("list collection %s: %w", collection, err)
	}

	prefix := path.Join(exportPrefix, collection, start.UTC().Format("20060102T150405Z"))
	var (
		mu       sync.Mutex
		uploaded []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uploadWorkers)
	for _, name := range names {
		g.Go(func() error {
			key := path.Join(prefix, name)
			if err := e.upload(gctx, filepath.Join(dir, name), key, collection); err != nil {
				return fmt.Errorf("upload %s: %w", name, err)
			}
			mu.Lock()
			uploaded = append(uploaded, key)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		e.rollback(ctx, log, uploaded)
		log.Error("export_failed", zap.Error(err))
		return nil, err
	}
	sort.Strings(uploaded)

	m := Manifest{Collection: collection, CreatedAt: start.UTC(), Objects: uploaded}
	if m.Objects == nil {
		m.Objects = []string{}
	}
	body, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, err
	}
	manifestKey := path.Join(prefix, manifestName)
	if _, err := e.store.Put(ctx, manifestKey, bytes.NewReader(body), PutOptions{
		Size:        int64(len(body)),
		ContentType: "application/json",
	}); err != nil {
		e.rollback(ctx, log, uploaded)
		log.Error("export_failed", zap.Error(err))
		return nil, fmt.Errorf("upload manifest: %w", err)
	}

	url, err := e.store.DownloadURL(ctx, manifestKey, manifestExpiry)
	if err != nil {
		return nil, fmt.Errorf("presign manifest: %w", err)
	}

	log.Info("export_success",
		zap.Int("records", len(uploaded)),
		zap.String("prefix", prefix),
		zap.Int64("duration_ms", e.now().Sub(start).Milliseconds()),
	)
	return &ExportResult{
		Collection:  collection,
		Prefix:      prefix,
		ManifestKey: manifestKey,
		Records:     len(uploaded),
		URL:         url,
	}, nil
}

func (e *Exporter) upload(ctx context.Context, file, key, collection string) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return err
	}
	_, err = e.store.Put(ctx, key, f, PutOptions{
		Size:        st.Size(),
		ContentType: "application/json",
		Collection:  collection,
	})
	return err
}

func (e *Exporter) rollback(ctx context.Context, log *zap.Logger, keys []string) {
	for _, k := range keys {
		if err := e.store.Remove(ctx, k); err != nil {
			log.Warn("export_rollback_failed", zap.String("key", k), zap.Error(err))
		}
	}
}

// Import restores the records listed in the manifest at manifestKey into dir, replacing
// files with the same id. It returns the number of records written.
func (e *Exporter) Import(ctx context.Context, manifestKey, dir string) (int, error) {
	rc, _, err := e.store.Open(ctx, manifestKey)
	if err != nil {
		return 0, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	err = json.NewDecoder(rc).Decode(&m)
	rc.Close()
	if err != nil {
		return 0, fmt.Errorf("decode manifest: %w", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, err
	}
	n := 0
	for _, key := range m.Objects {
		name := path.Base(key)
		if !strings.HasSuffix(name, recordExt) || strings.HasPrefix(name, ".") || name == manifestName {
			return n, fmt.Errorf("manifest lists unexpected object %s", key)
		}
		if err := e.restore(ctx, key, filepath.Join(dir, name)); err != nil {
			return n, fmt.Errorf("restore %s: %w", key, err)
		}
		n++
	}
	e.log.Info("import_success",
		zap.String("component", "export"),
		zap.String("collection", m.Collection),
		zap.Int("records", n),
	)
	return n, nil
}

func (e *Exporter) restore(ctx context.Context, key, dst string) error {
	rc, _, err := e.store.Open(ctx, key)
	if err != nil {
		return err
	}
	defer rc.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".import-*")
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, rc); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), dst)
}

// recordFiles lists the record files of a collection directory in lexical order.
func recordFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, ent := range entries {
		n := ent.Name()
		if ent.Type().IsRegular() && strings.HasSuffix(n, recordExt) && !strings.HasPrefix(n, ".") {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names, nil
}
