// Package storage keeps uploaded images in a local-disk bucket.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"unilink/backend/apperr"
)

// URLPrefix is the path stored objects are served under.
const URLPrefix = "/uploads/"

var allowedTypes = []string{"image/jpeg", "image/png", "image/gif", "image/webp"}

// Local is an object store rooted at a directory on disk.
type Local struct {
	dir      string
	baseURL  string
	maxBytes int64
}

// NewLocal creates the bucket directory if needed.
func NewLocal(dir, baseURL string, maxBytes int64) (*Local, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Local{
		dir:      dir,
		baseURL:  strings.TrimRight(baseURL, "/"),
		maxBytes: maxBytes,
	}, nil
}

// Save stores an image read from r under prefix and returns its key.
func (l *Local) Save(ctx context.Context, prefix string, r io.Reader) (string, error) {
	if prefix == "" || strings.ContainsAny(prefix, `/\.`) {
		return "", apperr.Invalid("invalid storage prefix")
	}

	data, err := io.ReadAll(io.LimitReader(r, l.maxBytes+1))
	if err != nil {
		return "", apperr.Internal("read upload", err)
	}
	if int64(len(data)) > l.maxBytes {
		return "", apperr.New(apperr.CodeTooLarge, fmt.Sprintf("file exceeds %d bytes", l.maxBytes))
	}
	if len(data) == 0 {
		return "", apperr.Invalid("file is empty")
	}

	mtype := mimetype.Detect(data)
	if !mimetype.EqualsAny(mtype.String(), allowedTypes...) {
		return "", apperr.New(apperr.CodeUnsupportedMedia, "only jpeg, png, gif and webp images are accepted")
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	key := path.Join(prefix, uuid.NewString()+mtype.Extension())
	dst := l.pathFor(key)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", apperr.Internal("create upload dir", err)
	}
	if err := writeFile(dst, data); err != nil {
		return "", apperr.Internal("save upload", err)
	}
	return key, nil
}

// SaveFormFile stores the multipart file in field. A request without that
// file yields an empty key and no error.
func (l *Local) SaveFormFile(r *http.Request, field, prefix string) (string, error) {
	file, _, err := r.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
			return "", nil
		}
		return "", apperr.Wrap(apperr.CodeInvalidArgument, "invalid upload", err)
	}
	defer file.Close()

	return l.Save(r.Context(), prefix, file)
}

// URL returns the public address of key, or "" for an empty key.
func (l *Local) URL(key string) string {
	if key == "" {
		return ""
	}
	return l.baseURL + URLPrefix + key
}

// Delete removes key. Missing objects are not an error.
func (l *Local) Delete(_ context.Context, key string) error {
	if key == "" {
		return nil
	}
	if strings.Contains(key, "..") {
		return apperr.Invalid("invalid storage key")
	}
	if err := os.Remove(l.pathFor(key)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Handler serves stored objects; mount it at URLPrefix. Directories are
// reported as missing so keys cannot be enumerated.
func (l *Local) Handler() http.Handler {
	return http.StripPrefix(URLPrefix, http.FileServer(objectsOnly{http.Dir(l.dir)}))
}

type objectsOnly struct {
	fs http.FileSystem
}

func (o objectsOnly) Open(name string) (http.File, error) {
	if strings.HasSuffix(name, "/") {
		return nil, os.ErrNotExist
	}
	f, err := o.fs.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.IsDir() {
		f.Close()
		return nil, os.ErrNotExist
	}
	return f, nil
}

func (l *Local) pathFor(key string) string {
	return filepath.Join(l.dir, filepath.FromSlash(key))
}

func writeFile(dst string, data []byte) error {
	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, bytes.NewReader(data)); err != nil {
		f.Close()
		os.Remove(dst)
		return err
	}
	return f.Close()
}
