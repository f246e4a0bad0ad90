// Package fsstore keeps case records, stubs and image blobs on a local
// filesystem. os.Rename between partition directories is the only mutex.
package fsstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"

	domain "github.com/bryanwahyu/casegate/internal/domain/cases"
)

const (
	stubsDir   = "stubs"
	uploadsDir = "uploads"
	tmpPrefix  = ".tmp-"
)

// Store implements cases.Store rooted at one directory.
// All partitions must live on the same filesystem so rename stays atomic.
type Store struct {
	root string
}

// New creates the partition layout under root if missing.
func New(root string) (*Store, error) {
	dirs := []string{
		string(domain.PartitionPending),
		string(domain.PartitionProcessing),
		string(domain.PartitionError),
		stubsDir,
		uploadsDir,
	}
	for _, d := range dirs {
		if err := os.MkdirAll(filepath.Join(root, d), 0o750); err != nil {
			return nil, fmt.Errorf("create %s dir: %w", d, err)
		}
	}
	return &Store{root: root}, nil
}

// Root returns the base directory.
func (s *Store) Root() string { return s.root }

func (s *Store) recordPath(p domain.Partition, id domain.ID) string {
	return filepath.Join(s.root, string(p), string(id)+".json")
}

func (s *Store) stubPath(id domain.ID) string {
	return filepath.Join(s.root, stubsDir, string(id)+".json")
}

// checkName blocks path traversal through ids and blob names.
func checkName(name string) error {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return fmt.Errorf("%w: bad name %q", domain.ErrInvalidInput, name)
	}
	return nil
}

func checkPartition(p domain.Partition) error {
	switch p {
	case domain.PartitionPending, domain.PartitionProcessing, domain.PartitionError:
		return nil
	}
	return fmt.Errorf("%w: unknown partition %q", domain.ErrInvalidInput, p)
}

func notFound(err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return domain.ErrNotFound
	}
	return err
}

// writeJSON writes to a temp file in the target dir, syncs it and renames it
// over the final name so readers see old or new content, never a partial file.
func writeJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	dir, name := filepath.Split(path)
	f, err := os.CreateTemp(dir, tmpPrefix+name+"-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := f.Write(b); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

func readJSON(path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return notFound(err)
	}
	return json.Unmarshal(b, v)
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// Create writes a new record into pending.
func (s *Store) Create(ctx context.Context, r *domain.Record) error {
	if err := checkName(string(r.ID)); err != nil {
		return err
	}
	for _, p := range []domain.Partition{domain.PartitionPending, domain.PartitionProcessing, domain.PartitionError} {
		if exists(s.recordPath(p, r.ID)) {
			return fmt.Errorf("%w: case %s already exists in %s", domain.ErrConflict, r.ID, p)
		}
	}
	return writeJSON(s.recordPath(domain.PartitionPending, r.ID), r)
}

func (s *Store) Read(ctx context.Context, p domain.Partition, id domain.ID) (*domain.Record, error) {
	if err := checkPartition(p); err != nil {
		return nil, err
	}
	if err := checkName(string(id)); err != nil {
		return nil, err
	}
	var r domain.Record
	if err := readJSON(s.recordPath(p, id), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Write replaces the record in p. The record must already be there.
func (s *Store) Write(ctx context.Context, p domain.Partition, r *domain.Record) error {
	if err := checkPartition(p); err != nil {
		return err
	}
	if err := checkName(string(r.ID)); err != nil {
		return err
	}
	path := s.recordPath(p, r.ID)
	if !exists(path) {
		return domain.ErrNotFound
	}
	return writeJSON(path, r)
}

// List returns every readable record in p. Files that vanish between the
// directory scan and the read were moved by another caller and are skipped.
func (s *Store) List(ctx context.Context, p domain.Partition) ([]*domain.Record, error) {
	if err := checkPartition(p); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(s.root, string(p)))
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Record, 0, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}
		var r domain.Record
		if err := readJSON(filepath.Join(s.root, string(p), name), &r); err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				log.Printf("fsstore: skip unreadable record partition=%s file=%s err=%v", p, name, err)
			}
			continue
		}
		out = append(out, &r)
	}
	return out, nil
}

func (s *Store) DeleteRecord(ctx context.Context, p domain.Partition, id domain.ID) error {
	if err := checkPartition(p); err != nil {
		return err
	}
	if err := checkName(string(id)); err != nil {
		return err
	}
	return notFound(os.Remove(s.recordPath(p, id)))
}

// Transition renames the record file from one partition dir to another.
// rename(2) decides the race: once one caller has moved the source, every
// other rename of it fails with ENOENT and is reported as ErrConflict.
func (s *Store) Transition(ctx context.Context, id domain.ID, from, to domain.Partition) error {
	if err := checkPartition(from); err != nil {
		return err
	}
	if err := checkPartition(to); err != nil {
		return err
	}
	if from == to {
		return fmt.Errorf("%w: transition to same partition %s", domain.ErrInvalidInput, from)
	}
	if err := checkName(string(id)); err != nil {
		return err
	}
	src, dst := s.recordPath(from, id), s.recordPath(to, id)
	if !exists(src) {
		return domain.ErrNotFound
	}
	if exists(dst) {
		return fmt.Errorf("%w: case %s already in %s", domain.ErrConflict, id, to)
	}
	if err := os.Rename(src, dst); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return domain.ErrConflict
		}
		return fmt.Errorf("move %s %s->%s: %w", id, from, to, err)
	}
	return nil
}

func (s *Store) WriteStub(ctx context.Context, st *domain.Stub) error {
	if err := checkName(string(st.ID)); err != nil {
		return err
	}
	return writeJSON(s.stubPath(st.ID), st)
}

func (s *Store) ReadStub(ctx context.Context, id domain.ID) (*domain.Stub, error) {
	if err := checkName(string(id)); err != nil {
		return nil, err
	}
	var st domain.Stub
	if err := readJSON(s.stubPath(id), &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Check verifies the root is writable. Used by the health endpoint.
func (s *Store) Check(ctx context.Context) error {
	f, err := os.CreateTemp(s.root, tmpPrefix+"health-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

var _ domain.Store = (*Store)(nil)
