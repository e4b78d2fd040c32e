package s3blob

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/kirillkom/property-report-analyzer/internal/core/domain"
	"github.com/kirillkom/property-report-analyzer/internal/infrastructure/resilience"
)

type s3Fake struct {
	objects   map[string]string
	putInput  *s3.PutObjectInput
	deleteErr []error
	deletes   int
}

func (f *s3Fake) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	raw, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.putInput = in
	f.objects[aws.ToString(in.Key)] = string(raw)
	return &s3.PutObjectOutput{}, nil
}

func (f *s3Fake) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	body, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &smithy.GenericAPIError{Code: "NotFound", Message: "not found"}
	}
	modified := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &s3.HeadObjectOutput{
		ContentType:   aws.String(domain.PDFMediaType),
		ContentLength: aws.Int64(int64(len(body))),
		LastModified:  &modified,
	}, nil
}

func (f *s3Fake) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	body, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &smithy.GenericAPIError{Code: "NoSuchKey", Message: "missing"}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(body))}, nil
}

func (f *s3Fake) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.deletes++
	if len(f.deleteErr) > 0 {
		err := f.deleteErr[0]
		f.deleteErr = f.deleteErr[1:]
		return nil, err
	}
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func newTestStorage(t *testing.T, api *s3Fake, executor *resilience.Executor) *Storage {
	t.Helper()
	s, err := NewWithAPI(api, "uploads", "http://minio.test:9000/uploads", executor)
	if err != nil {
		t.Fatalf("NewWithAPI() error = %v", err)
	}
	return s
}

func TestStoragePutHeadOpen(t *testing.T) {
	api := &s3Fake{objects: map[string]string{}}
	s := newTestStorage(t, api, nil)
	ctx := context.Background()

	info, err := s.Put(ctx, "a-1-x.pdf", domain.PDFMediaType, -1, strings.NewReader("%PDF-1.4"))
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if info.URL != "http://minio.test:9000/uploads/a-1-x.pdf" || info.Size != 8 {
		t.Fatalf("unexpected info %+v", info)
	}
	if aws.ToInt64(api.putInput.ContentLength) != 8 || aws.ToString(api.putInput.Bucket) != "uploads" {
		t.Fatalf("unexpected put input %+v", api.putInput)
	}

	head, err := s.Head(ctx, "a-1-x.pdf")
	if err != nil || head.Size != 8 || head.ContentType != domain.PDFMediaType {
		t.Fatalf("Head() = %+v, %v", head, err)
	}
	if _, err := s.Head(ctx, "missing.pdf"); !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := s.Open(ctx, "missing.pdf"); !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestStorageDeleteRetriesTransientFailures(t *testing.T) {
	api := &s3Fake{
		objects:   map[string]string{"a.pdf": "%PDF"},
		deleteErr: []error{errors.New("connection reset")},
	}
	s := newTestStorage(t, api, resilience.NewExecutor(resilience.BackoffConfig(3, time.Millisecond)))

	if err := s.Delete(context.Background(), "a.pdf"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if api.deletes != 2 {
		t.Fatalf("expected 2 delete calls, got %d", api.deletes)
	}
}

func TestStorageDeleteSurfacesExhaustionAsTemporary(t *testing.T) {
	failure := errors.New("connection reset")
	api := &s3Fake{objects: map[string]string{}, deleteErr: []error{failure, failure}}
	s := newTestStorage(t, api, resilience.NewExecutor(resilience.BackoffConfig(2, time.Millisecond)))

	if err := s.Delete(context.Background(), "a.pdf"); !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary error, got %v", err)
	}
}

func TestKeyFromURL(t *testing.T) {
	s := newTestStorage(t, &s3Fake{objects: map[string]string{}}, nil)

	key, err := s.KeyFromURL("http://minio.test:9000/uploads/a-1-x.pdf")
	if err != nil || key != "a-1-x.pdf" {
		t.Fatalf("KeyFromURL() = %q, %v", key, err)
	}
	for _, raw := range []string{"http://other.test/uploads/a.pdf", "http://minio.test:9000/other/a.pdf"} {
		if _, err := s.KeyFromURL(raw); err == nil {
			t.Fatalf("expected error for %s", raw)
		}
	}
}
