package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/emersion/go-mbox"

	"booking_worker/core/port/out"
	"booking_worker/pkg/apperr"
)

// MboxStore reads messages out of mbox files. The bucket is the mbox path relative
// to root and the key is the zero-based message index.
type MboxStore struct {
	root string
}

func NewMboxStore(root string) *MboxStore {
	return &MboxStore{root: root}
}

func (s *MboxStore) open(bucket string) (*os.File, error) {
	p := bucket
	if s.root != "" && !filepath.IsAbs(bucket) {
		p = filepath.Join(s.root, bucket)
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, apperr.NotFound("mbox " + bucket)
	}
	if err != nil {
		return nil, apperr.InternalWithError(err)
	}
	return f, nil
}

func (s *MboxStore) Read(ctx context.Context, bucket, key string) ([]byte, error) {
	idx, err := strconv.Atoi(key)
	if err != nil || idx < 0 {
		return nil, apperr.InvalidArgument("key", "expected a message index")
	}

	var found []byte
	err = s.Each(ctx, bucket, func(i int, raw []byte) error {
		if i == idx {
			found = raw
			return errStop
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStop) {
		return nil, err
	}
	if found == nil {
		return nil, apperr.NotFound(fmt.Sprintf("message %d in %s", idx, bucket))
	}
	return found, nil
}

var errStop = errors.New("stop")

// Each calls fn for every message in the mbox in file order. It stops at the first
// error from fn or when ctx is done.
func (s *MboxStore) Each(ctx context.Context, bucket string, fn func(index int, raw []byte) error) error {
	f, err := s.open(bucket)
	if err != nil {
		return err
	}
	defer f.Close()

	reader := mbox.NewReader(f)
	for i := 0; ; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		r, err := reader.NextMessage()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return apperr.ParseError(fmt.Sprintf("mbox message %d", i), err)
		}
		raw, err := io.ReadAll(r)
		if err != nil {
			return apperr.ParseError(fmt.Sprintf("mbox message %d", i), err)
		}
		if err := fn(i, raw); err != nil {
			return err
		}
	}
}

var _ out.BlobStore = (*MboxStore)(nil)
