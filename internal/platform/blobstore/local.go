package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// LocalStore writes photos under a directory on local disk.
type LocalStore struct {
	dir string
}

func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create upload dir %s: %w", dir, err)
	}
	return &LocalStore{dir: dir}, nil
}

func (s *LocalStore) path(ref string) (string, error) {
	if !ValidRef(ref) {
		return "", ErrInvalidRef
	}
	return filepath.Join(s.dir, ref), nil
}

func (s *LocalStore) Save(_ context.Context, meta PhotoMeta, content io.Reader) (*PhotoMeta, error) {
	meta, data, err := prepare(meta, content)
	if err != nil {
		return nil, err
	}

	dst, err := s.path(meta.Ref)
	if err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write photo: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close photo: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return nil, fmt.Errorf("store photo: %w", err)
	}

	return &meta, nil
}

func (s *LocalStore) Open(_ context.Context, ref string) (io.ReadCloser, *PhotoMeta, error) {
	p, err := s.path(ref)
	if err != nil {
		return nil, nil, err
	}

	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, ErrPhotoNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("open photo: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("stat photo: %w", err)
	}

	return f, &PhotoMeta{
		Ref:         ref,
		FileName:    ref,
		ContentType: contentTypeForRef(ref),
		Size:        info.Size(),
		CreatedAt:   info.ModTime().UTC(),
	}, nil
}

func (s *LocalStore) Exists(_ context.Context, ref string) (bool, error) {
	p, err := s.path(ref)
	if err != nil {
		return false, nil
	}
	_, err = os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat photo: %w", err)
	}
	return true, nil
}
