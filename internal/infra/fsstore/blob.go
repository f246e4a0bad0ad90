package fsstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	domain "github.com/bryanwahyu/casegate/internal/domain/cases"
)

func (s *Store) blobPath(name string) string {
	return filepath.Join(s.root, uploadsDir, name)
}

// PutBlob copies r in chunks into a temp file and publishes it only when the
// whole stream fit under limit.
func (s *Store) PutBlob(ctx context.Context, name string, r io.Reader, limit int64) (int64, error) {
	if err := checkName(name); err != nil {
		return 0, err
	}
	f, err := os.CreateTemp(filepath.Join(s.root, uploadsDir), tmpPrefix+name+"-*")
	if err != nil {
		return 0, err
	}
	tmp := f.Name()
	fail := func(err error) (int64, error) {
		f.Close()
		os.Remove(tmp)
		return 0, err
	}

	n, err := io.Copy(f, io.LimitReader(r, limit+1))
	if err != nil {
		return fail(err)
	}
	if n > limit {
		return fail(fmt.Errorf("%w: upload exceeds %d bytes", domain.ErrPayloadTooLarge, limit))
	}
	if err := f.Sync(); err != nil {
		return fail(err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return 0, err
	}
	if err := os.Rename(tmp, s.blobPath(name)); err != nil {
		os.Remove(tmp)
		return 0, err
	}
	return n, nil
}

func (s *Store) OpenBlob(ctx context.Context, name string) (io.ReadCloser, int64, error) {
	if err := checkName(name); err != nil {
		return nil, 0, err
	}
	f, err := os.Open(s.blobPath(name))
	if err != nil {
		return nil, 0, notFound(err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, fi.Size(), nil
}

func (s *Store) DeleteBlob(ctx context.Context, name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	return notFound(os.Remove(s.blobPath(name)))
}

// QuarantineBlob moves the blob into the error partition dir.
func (s *Store) QuarantineBlob(ctx context.Context, name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	err := os.Rename(s.blobPath(name), filepath.Join(s.root, string(domain.PartitionError), name))
	if errors.Is(err, fs.ErrNotExist) {
		return domain.ErrNotFound
	}
	return err
}
