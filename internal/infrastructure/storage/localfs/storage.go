package localfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/kirillkom/property-report-analyzer/internal/core/domain"
)

// Storage keeps objects as flat files under basePath and serves them through
// the API at publicBaseURL + key.
type Storage struct {
	basePath      string
	publicBaseURL *url.URL
}

func New(basePath, publicBaseURL string) (*Storage, error) {
	if basePath == "" {
		basePath = "./data/storage"
	}
	base, err := url.Parse(strings.TrimRight(publicBaseURL, "/") + "/")
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("invalid public base url %q", publicBaseURL)
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &Storage{basePath: basePath, publicBaseURL: base}, nil
}

func (s *Storage) Put(ctx context.Context, key, contentType string, _ int64, data io.Reader) (*domain.ObjectInfo, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp(s.basePath, ".upload-*")
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}
	defer func() {
		_ = os.Remove(tmp.Name())
	}()

	written, err := io.Copy(tmp, data)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return nil, fmt.Errorf("write file: %w", err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return nil, fmt.Errorf("publish file: %w", err)
	}

	info, err := s.Head(ctx, key)
	if err != nil {
		return nil, err
	}
	info.Size = written
	if contentType != "" {
		info.ContentType = contentType
	}
	return info, nil
}

func (s *Storage) Head(_ context.Context, key string) (*domain.ObjectInfo, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	st, err := os.Stat(p)
	if err != nil {
		return nil, mapFSError("stat file", key, err)
	}
	contentType := mime.TypeByExtension(path.Ext(key))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return &domain.ObjectInfo{
		Key:         key,
		URL:         s.URL(key),
		ContentType: contentType,
		Size:        st.Size(),
		CreatedAt:   st.ModTime().UTC(),
	}, nil
}

func (s *Storage) Open(_ context.Context, key string) (io.ReadCloser, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, mapFSError("open file", key, err)
	}
	return f, nil
}

func (s *Storage) Delete(_ context.Context, key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		return mapFSError("remove file", key, err)
	}
	return nil
}

// URL returns the public URL of key.
func (s *Storage) URL(key string) string {
	return s.publicBaseURL.JoinPath(key).String()
}

func (s *Storage) KeyFromURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse blob url: %w", err)
	}
	if u.Host != "" && !strings.EqualFold(u.Host, s.publicBaseURL.Host) {
		return "", fmt.Errorf("blob url %q is not served by %s", rawURL, s.publicBaseURL.Host)
	}
	key, ok := strings.CutPrefix(u.Path, s.publicBaseURL.Path)
	if !ok || key == "" || strings.Contains(key, "/") {
		return "", fmt.Errorf("blob url %q has no object key", rawURL)
	}
	return key, nil
}

func (s *Storage) path(key string) (string, error) {
	if key == "" || key == "." || key == ".." || strings.ContainsAny(key, `/\`) {
		return "", domain.WrapError(domain.ErrInvalidInput, "resolve key", fmt.Errorf("invalid key %q", key))
	}
	return filepath.Join(s.basePath, key), nil
}

func mapFSError(op, key string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return domain.WrapError(domain.ErrNotFound, op, fmt.Errorf("object %s", key))
	}
	return fmt.Errorf("%s: %w", op, err)
}
