// Package gcsblob stores uploaded documents in a Google Cloud Storage bucket.
package gcsblob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/kirillkom/property-report-analyzer/internal/core/domain"
	"github.com/kirillkom/property-report-analyzer/internal/infrastructure/resilience"
)

const defaultPublicBase = "https://storage.googleapis.com"

type Config struct {
	Bucket          string
	CredentialsFile string
	// Endpoint overrides the API endpoint, e.g. for a local emulator. No
	// credentials are sent when it is set without CredentialsFile.
	Endpoint      string
	PublicBaseURL string
}

type Storage struct {
	client    *storage.Client
	bucket    *storage.BucketHandle
	name      string
	publicURL *url.URL
	executor  *resilience.Executor
}

func New(ctx context.Context, cfg Config, executor *resilience.Executor) (*Storage, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("gcs bucket is required")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
		if cfg.CredentialsFile == "" {
			opts = append(opts, option.WithoutAuthentication())
		}
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}

	publicBase, err := publicBaseURL(cfg)
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	return &Storage{
		client:    client,
		bucket:    client.Bucket(cfg.Bucket),
		name:      cfg.Bucket,
		publicURL: publicBase,
		executor:  executor,
	}, nil
}

func publicBaseURL(cfg Config) (*url.URL, error) {
	raw := cfg.PublicBaseURL
	if raw == "" {
		raw = defaultPublicBase + "/" + cfg.Bucket
	}
	base, err := url.Parse(strings.TrimRight(raw, "/") + "/")
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("invalid public base url %q", raw)
	}
	return base, nil
}

func (s *Storage) Close() error {
	return s.client.Close()
}

func (s *Storage) Put(ctx context.Context, key, contentType string, _ int64, data io.Reader) (*domain.ObjectInfo, error) {
	w := s.bucket.Object(key).NewWriter(ctx)
	w.ContentType = contentType

	written, err := io.Copy(w, data)
	if err != nil {
		_ = w.Close()
		return nil, mapGCSError("write object", key, err)
	}
	if err := w.Close(); err != nil {
		return nil, mapGCSError("finalize object", key, err)
	}
	return &domain.ObjectInfo{Key: key, URL: s.URL(key), ContentType: contentType, Size: written}, nil
}

func (s *Storage) Head(ctx context.Context, key string) (*domain.ObjectInfo, error) {
	var attrs *storage.ObjectAttrs
	err := s.execute(ctx, "gcs.attrs", func(ctx context.Context) error {
		var err error
		attrs, err = s.bucket.Object(key).Attrs(ctx)
		return err
	})
	if err != nil {
		return nil, mapGCSError("object attrs", key, err)
	}
	return &domain.ObjectInfo{
		Key:         key,
		URL:         s.URL(key),
		ContentType: attrs.ContentType,
		Size:        attrs.Size,
		CreatedAt:   attrs.Created.UTC(),
	}, nil
}

func (s *Storage) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := s.bucket.Object(key).NewReader(ctx)
	if err != nil {
		return nil, mapGCSError("open object", key, err)
	}
	return r, nil
}

func (s *Storage) Delete(ctx context.Context, key string) error {
	err := s.execute(ctx, "gcs.delete", func(ctx context.Context) error {
		return s.bucket.Object(key).Delete(ctx)
	})
	if err != nil {
		return mapGCSError("delete object", key, err)
	}
	return nil
}

func (s *Storage) URL(key string) string {
	return s.publicURL.JoinPath(key).String()
}

func (s *Storage) KeyFromURL(rawURL string) (string, error) {
	return keyFromURL(s.publicURL, s.name, rawURL)
}

func keyFromURL(base *url.URL, bucket, rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse blob url: %w", err)
	}
	if !strings.EqualFold(u.Host, base.Host) {
		return "", fmt.Errorf("blob url %q is not in bucket %s", rawURL, bucket)
	}
	key, ok := strings.CutPrefix(u.Path, base.Path)
	if !ok || key == "" || strings.Contains(key, "/") {
		return "", fmt.Errorf("blob url %q has no object key", rawURL)
	}
	return key, nil
}

func (s *Storage) execute(ctx context.Context, op string, fn func(context.Context) error) error {
	if s.executor == nil {
		return fn(ctx)
	}
	return s.executor.Execute(ctx, op, fn, classifyGCSError)
}

var classifyGCSError = resilience.ClassifyWith(func(err error) resilience.ErrorClassification {
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return resilience.Benign
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= http.StatusInternalServerError {
			return resilience.Transient
		}
		return resilience.Benign
	}
	return resilience.Transient
})

func mapGCSError(op, key string, err error) error {
	var apiErr *googleapi.Error
	if errors.Is(err, storage.ErrObjectNotExist) || (errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound) {
		return domain.WrapError(domain.ErrNotFound, op, fmt.Errorf("object %s: %w", key, err))
	}
	if resilience.Temporary(err, classifyGCSError) {
		return domain.WrapError(domain.ErrTemporary, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
