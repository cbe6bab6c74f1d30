// Package blob holds local-disk raw email stores.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"booking_worker/core/port/out"
	"booking_worker/pkg/apperr"
)

// FSStore keeps raw emails as files at <root>/<bucket>/<key>.
type FSStore struct {
	root string
}

func NewFSStore(root string) *FSStore {
	return &FSStore{root: root}
}

func (s *FSStore) path(bucket, key string) (string, error) {
	if bucket == "" || key == "" {
		return "", apperr.MissingField("bucket/key")
	}
	p := filepath.Join(s.root, bucket, key)
	rel, err := filepath.Rel(s.root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", apperr.InvalidArgument("key", "escapes the store root")
	}
	return p, nil
}

func (s *FSStore) Read(ctx context.Context, bucket, key string) ([]byte, error) {
	p, err := s.path(bucket, key)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, apperr.NotFound(fmt.Sprintf("object %s/%s", bucket, key))
	}
	if err != nil {
		return nil, apperr.InternalWithError(err)
	}
	return raw, nil
}

func (s *FSStore) Write(ctx context.Context, bucket, key string, raw []byte) error {
	p, err := s.path(bucket, key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return apperr.InternalWithError(err)
	}
	if err := os.WriteFile(p, raw, 0o644); err != nil {
		return apperr.InternalWithError(err)
	}
	return nil
}

var (
	_ out.BlobStore  = (*FSStore)(nil)
	_ out.BlobWriter = (*FSStore)(nil)
)
