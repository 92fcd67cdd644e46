package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	"github.com/goevery/notifier/internal/ierr"
	"github.com/goevery/notifier/internal/storage"
)

var keyRegex = regexp.MustCompile(`^[\w.-]+$`)

// Storage keeps one file per key inside a directory. Writes go through a
// temporary file and a rename so a crash never leaves a half-written value.
type Storage struct {
	dir string
}

func NewStorage(dir string) (*Storage, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}

	return &Storage{
		dir,
	}, nil
}

func (s *Storage) path(key string) (string, error) {
	if !keyRegex.MatchString(key) {
		return "", ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("invalid storage key: "+key))
	}

	return filepath.Join(s.dir, key+".json"), nil
}

func (s *Storage) Get(ctx context.Context, key string) ([]byte, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}

	value, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, ierr.New(ierr.ErrorCodeUnavailable, err)
	}

	return value, nil
}

func (s *Storage) Set(ctx context.Context, key string, value []byte) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, key+".*.tmp")
	if err != nil {
		return ierr.New(ierr.ErrorCodeUnavailable, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		return ierr.New(ierr.ErrorCodeUnavailable, err)
	}

	if err := tmp.Close(); err != nil {
		return ierr.New(ierr.ErrorCodeUnavailable, err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return ierr.New(ierr.ErrorCodeUnavailable, err)
	}

	return nil
}

func (s *Storage) Delete(ctx context.Context, key string) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}

	err = os.Remove(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return ierr.New(ierr.ErrorCodeUnavailable, err)
	}

	return nil
}
