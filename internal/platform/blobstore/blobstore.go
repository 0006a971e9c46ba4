// Package blobstore stores the photos villagers attach to problems. Problems
// keep only the opaque reference returned by Save.
package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrPhotoNotFound      = errors.New("photo not found")
	ErrFileTooLarge       = errors.New("photo exceeds maximum allowed size")
	ErrInvalidContentType = errors.New("only jpg, jpeg, png and gif images are allowed")
	ErrMissingFileName    = errors.New("file name is required")
	ErrInvalidRef         = errors.New("invalid photo reference")
)

// MaxPhotoSize is 5 MB.
const MaxPhotoSize = 5 * 1024 * 1024

var allowedExtensions = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
}

var refPattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\.(jpg|jpeg|png|gif)$`)

// PhotoMeta describes a stored photo.
type PhotoMeta struct {
	Ref         string    `json:"ref"`
	FileName    string    `json:"file_name"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	Hash        string    `json:"hash"`
	UploadedBy  int64     `json:"uploaded_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// PhotoStore is implemented by the memory, local disk and S3 backends.
type PhotoStore interface {
	Save(ctx context.Context, meta PhotoMeta, content io.Reader) (*PhotoMeta, error)
	Open(ctx context.Context, ref string) (io.ReadCloser, *PhotoMeta, error)
	Exists(ctx context.Context, ref string) (bool, error)
}

// ValidRef reports whether ref has the shape Save produces.
func ValidRef(ref string) bool {
	return refPattern.MatchString(ref)
}

func contentTypeForRef(ref string) string {
	return allowedExtensions[strings.ToLower(filepath.Ext(ref))]
}

// prepare validates the upload and reads it fully. The extension must be
// allowed and the sniffed content must agree with it.
func prepare(meta PhotoMeta, content io.Reader) (PhotoMeta, []byte, error) {
	if strings.TrimSpace(meta.FileName) == "" {
		return meta, nil, ErrMissingFileName
	}

	ext := strings.ToLower(filepath.Ext(meta.FileName))
	wantType, ok := allowedExtensions[ext]
	if !ok {
		return meta, nil, ErrInvalidContentType
	}

	data, err := io.ReadAll(io.LimitReader(content, MaxPhotoSize+1))
	if err != nil {
		return meta, nil, fmt.Errorf("reading photo: %w", err)
	}
	if int64(len(data)) > MaxPhotoSize {
		return meta, nil, ErrFileTooLarge
	}
	if len(data) == 0 {
		return meta, nil, ErrInvalidContentType
	}
	if sniffed := http.DetectContentType(data); sniffed != wantType {
		return meta, nil, ErrInvalidContentType
	}

	sum := sha256.Sum256(data)
	meta.Ref = uuid.NewString() + ext
	meta.ContentType = wantType
	meta.Size = int64(len(data))
	meta.Hash = fmt.Sprintf("%x", sum)
	meta.CreatedAt = time.Now().UTC()
	return meta, data, nil
}

func readerFor(data []byte) io.ReadCloser {
	return io.NopCloser(bytes.NewReader(data))
}
