// Package storage keeps payment-proof images on the local filesystem. Claims
// only carry the opaque reference returned by Save.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"

	"github.com/google/uuid"

	"box-claims-api/internal/logging"
)

var (
	ErrUnsupportedType = errors.New("unsupported proof image type")
	ErrTooLarge        = errors.New("proof image exceeds size limit")
	ErrInvalidRef      = errors.New("invalid proof reference")
)

var extensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

var refPattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\.(jpg|png|webp|gif)$`)

// ValidRef reports whether ref has the shape of a reference returned by Save.
func ValidRef(ref string) bool {
	return refPattern.MatchString(ref)
}

// ProofStore stores images under a single directory.
type ProofStore struct {
	dir     string
	maxSize int64
}

func NewProofStore(dir string, maxSize int64) (*ProofStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create proof directory: %w", err)
	}
	return &ProofStore{dir: dir, maxSize: maxSize}, nil
}

// Save writes the image read from r and returns its reference.
func (s *ProofStore) Save(ctx context.Context, r io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, s.maxSize+1))
	if err != nil {
		return "", fmt.Errorf("failed to read proof image: %w", err)
	}
	if int64(len(data)) > s.maxSize {
		return "", ErrTooLarge
	}

	ext, ok := extensions[http.DetectContentType(data)]
	if !ok {
		return "", ErrUnsupportedType
	}

	ref := uuid.New().String() + ext
	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("failed to create proof file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write proof file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close proof file: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, ref)); err != nil {
		return "", fmt.Errorf("failed to store proof file: %w", err)
	}

	logging.Debug(ctx).Str("reference", ref).Int("bytes", len(data)).Msg("proof image stored")
	return ref, nil
}

// Open returns a reader for a stored image.
func (s *ProofStore) Open(ref string) (io.ReadCloser, error) {
	if !ValidRef(ref) {
		return nil, ErrInvalidRef
	}
	return os.Open(filepath.Join(s.dir, ref))
}

// Delete removes the given references. Unknown or malformed references are
// skipped; the first removal error is returned after trying all of them.
func (s *ProofStore) Delete(ctx context.Context, refs ...string) error {
	var firstErr error
	removed := 0
	for _, ref := range refs {
		if !ValidRef(ref) {
			continue
		}
		err := os.Remove(filepath.Join(s.dir, ref))
		switch {
		case err == nil:
			removed++
		case errors.Is(err, os.ErrNotExist):
		default:
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to delete proof %s: %w", ref, err)
			}
		}
	}

	logging.Info(ctx).Int("removed", removed).Int("requested", len(refs)).Msg("proof images deleted")
	return firstErr
}
