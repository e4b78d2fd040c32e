// Package s3blob stores uploaded documents in an S3-compatible bucket
// (AWS S3 or MinIO).
package s3blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/kirillkom/property-report-analyzer/internal/core/domain"
	"github.com/kirillkom/property-report-analyzer/internal/infrastructure/resilience"
)

// API is the subset of the S3 client the storage uses.
type API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

type Config struct {
	Bucket        string
	Region        string
	Endpoint      string
	AccessKey     string
	SecretKey     string
	UsePathStyle  bool
	PublicBaseURL string
}

type Storage struct {
	api       API
	bucket    string
	publicURL *url.URL
	executor  *resilience.Executor
}

// New builds an S3 client with static credentials. Endpoint may point at a
// MinIO server.
func New(ctx context.Context, cfg Config, executor *resilience.Executor) (*Storage, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	publicBase := cfg.PublicBaseURL
	if publicBase == "" {
		publicBase = strings.TrimRight(cfg.Endpoint, "/") + "/" + cfg.Bucket
	}
	return NewWithAPI(client, cfg.Bucket, publicBase, executor)
}

func NewWithAPI(api API, bucket, publicBaseURL string, executor *resilience.Executor) (*Storage, error) {
	if strings.TrimSpace(bucket) == "" {
		return nil, errors.New("s3 bucket is required")
	}
	base, err := url.Parse(strings.TrimRight(publicBaseURL, "/") + "/")
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("invalid public base url %q", publicBaseURL)
	}
	return &Storage{api: api, bucket: bucket, publicURL: base, executor: executor}, nil
}

func (s *Storage) Put(ctx context.Context, key, contentType string, size int64, data io.Reader) (*domain.ObjectInfo, error) {
	if size < 0 {
		buf, err := io.ReadAll(data)
		if err != nil {
			return nil, fmt.Errorf("buffer upload: %w", err)
		}
		data, size = bytes.NewReader(buf), int64(len(buf))
	}

	_, err := s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          data,
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return nil, mapS3Error("put object", key, err)
	}
	return &domain.ObjectInfo{Key: key, URL: s.URL(key), ContentType: contentType, Size: size}, nil
}

func (s *Storage) Head(ctx context.Context, key string) (*domain.ObjectInfo, error) {
	var out *s3.HeadObjectOutput
	err := s.execute(ctx, "s3.head_object", func(ctx context.Context) error {
		var err error
		out, err = s.api.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
		return err
	})
	if err != nil {
		return nil, mapS3Error("head object", key, err)
	}

	info := &domain.ObjectInfo{
		Key:         key,
		URL:         s.URL(key),
		ContentType: aws.ToString(out.ContentType),
		Size:        aws.ToInt64(out.ContentLength),
	}
	if out.LastModified != nil {
		info.CreatedAt = out.LastModified.UTC()
	}
	return info, nil
}

func (s *Storage) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
	if err != nil {
		return nil, mapS3Error("get object", key, err)
	}
	return out.Body, nil
}

func (s *Storage) Delete(ctx context.Context, key string) error {
	err := s.execute(ctx, "s3.delete_object", func(ctx context.Context) error {
		_, err := s.api.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
		return err
	})
	if err != nil {
		return mapS3Error("delete object", key, err)
	}
	return nil
}

func (s *Storage) URL(key string) string {
	return s.publicURL.JoinPath(key).String()
}

func (s *Storage) KeyFromURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse blob url: %w", err)
	}
	if !strings.EqualFold(u.Host, s.publicURL.Host) {
		return "", fmt.Errorf("blob url %q is not in bucket %s", rawURL, s.bucket)
	}
	key, ok := strings.CutPrefix(u.Path, s.publicURL.Path)
	if !ok || key == "" || strings.Contains(key, "/") {
		return "", fmt.Errorf("blob url %q has no object key", rawURL)
	}
	return key, nil
}

func (s *Storage) execute(ctx context.Context, op string, fn func(context.Context) error) error {
	if s.executor == nil {
		return fn(ctx)
	}
	return s.executor.Execute(ctx, op, fn, classifyS3Error)
}

// classifyS3Error retries throttling, server errors and transport failures.
var classifyS3Error = resilience.ClassifyWith(func(err error) resilience.ErrorClassification {
	if isNotFound(err) {
		return resilience.Benign
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		if code := respErr.HTTPStatusCode(); code == http.StatusTooManyRequests || code >= http.StatusInternalServerError {
			return resilience.Transient
		}
		return resilience.Benign
	}
	return resilience.Transient
})

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	var respErr *smithyhttp.ResponseError
	return errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusNotFound
}

func mapS3Error(op, key string, err error) error {
	if isNotFound(err) {
		return domain.WrapError(domain.ErrNotFound, op, fmt.Errorf("object %s: %w", key, err))
	}
	if resilience.Temporary(err, classifyS3Error) {
		return domain.WrapError(domain.ErrTemporary, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
