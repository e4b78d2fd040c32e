package lifecycle

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/property-report-analyzer/internal/core/domain"
	"github.com/kirillkom/property-report-analyzer/internal/infrastructure/resilience"
)

type memStore struct {
	mu    sync.Mutex
	blobs []domain.TrackedBlob
	err   error
}

func (s *memStore) List(context.Context) ([]domain.TrackedBlob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return append([]domain.TrackedBlob(nil), s.blobs...), nil
}

func (s *memStore) Update(_ context.Context, fn func([]domain.TrackedBlob) ([]domain.TrackedBlob, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	out, err := fn(append([]domain.TrackedBlob(nil), s.blobs...))
	if err != nil {
		return err
	}
	s.blobs = out
	return nil
}

func (s *memStore) urls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.blobs))
	for _, b := range s.blobs {
		out = append(out, b.URL)
	}
	return out
}

func (s *memStore) get(url string) (domain.TrackedBlob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.blobs {
		if b.URL == url {
			return b, true
		}
	}
	return domain.TrackedBlob{}, false
}

type uploaderFake struct {
	urls         []string
	authorizeErr error
	transferErr  error
	objectNames  []string
	calls        int
}

func (f *uploaderFake) Authorize(_ context.Context, objectName string, _ domain.UploadConstraints) (*domain.UploadAuthorization, error) {
	if f.authorizeErr != nil {
		return nil, f.authorizeErr
	}
	f.objectNames = append(f.objectNames, objectName)
	return &domain.UploadAuthorization{ObjectName: objectName, UploadURL: "http://api/v1/uploads/" + objectName, Token: "tok"}, nil
}

func (f *uploaderFake) Transfer(_ context.Context, content io.Reader, _ *domain.UploadAuthorization) (string, error) {
	if f.transferErr != nil {
		return "", f.transferErr
	}
	_, _ = io.Copy(io.Discard, content)
	url := f.urls[f.calls]
	f.calls++
	return url, nil
}

type proberFake struct {
	mu       sync.Mutex
	failures int
	calls    int
}

func (f *proberFake) Head(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return domain.WrapError(domain.ErrNotFound, "head", errors.New("not yet visible"))
	}
	return nil
}

type deleterFake struct {
	mu      sync.Mutex
	deleted []string
	fail    map[string]error
}

func (f *deleterFake) Delete(_ context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, url)
	if err, ok := f.fail[url]; ok {
		return err
	}
	return nil
}

func (f *deleterFake) called(url string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.deleted {
		if d == url {
			return true
		}
	}
	return false
}

type beaconFake struct {
	ok       bool
	payloads []string
	endpoint string
}

func (f *beaconFake) Send(endpoint string, payload []byte) bool {
	f.endpoint = endpoint
	f.payloads = append(f.payloads, string(payload))
	return f.ok
}

type managerFixture struct {
	store    *memStore
	uploader *uploaderFake
	prober   *proberFake
	deleter  *deleterFake
	beacon   *beaconFake
	now      time.Time
	manager  *Manager
}

func newFixture(t *testing.T, protected ...string) *managerFixture {
	t.Helper()
	f := &managerFixture{
		store:    &memStore{},
		uploader: &uploaderFake{urls: []string{"https://blobs.test/a-1-x.pdf", "https://blobs.test/b-2-y.pdf", "https://blobs.test/c-3-z.pdf"}},
		prober:   &proberFake{},
		deleter:  &deleterFake{fail: map[string]error{}},
		beacon:   &beaconFake{ok: true},
		now:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.manager = NewManager(f.store, f.uploader, f.prober, f.deleter, f.beacon, Options{
		SessionID: "session-1",
		Protected: domain.NewProtectedObjects(protected...),
		Verify:    resilience.BackoffConfig(5, time.Millisecond),
		Now:       func() time.Time { return f.now },
	})
	return f
}

func TestUploadTracksBlobBeforeReturning(t *testing.T) {
	f := newFixture(t)

	blob, err := f.manager.Upload(context.Background(), pdfCandidate("report.pdf", 100))
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if blob.URL != "https://blobs.test/a-1-x.pdf" {
		t.Fatalf("unexpected url %s", blob.URL)
	}

	tracked, ok := f.store.get(blob.URL)
	if !ok {
		t.Fatalf("expected blob to be tracked")
	}
	if tracked.SessionID != "session-1" || !tracked.Active || tracked.Processed {
		t.Fatalf("unexpected tracked state: %+v", tracked)
	}
	if !tracked.CreatedAt.Equal(f.now) {
		t.Fatalf("expected createdAt %s, got %s", f.now, tracked.CreatedAt)
	}
	if f.manager.Status() != StatusUploaded {
		t.Fatalf("expected status uploaded, got %s", f.manager.Status())
	}
	if len(f.uploader.objectNames) != 1 || f.uploader.objectNames[0][:7] != "report-" {
		t.Fatalf("unexpected object names %v", f.uploader.objectNames)
	}
}

func TestUploadSucceedsAfterFourFailedChecks(t *testing.T) {
	f := newFixture(t)
	f.prober.failures = 4

	if _, err := f.manager.Upload(context.Background(), pdfCandidate("report.pdf", 100)); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if f.prober.calls != 5 {
		t.Fatalf("expected 5 existence checks, got %d", f.prober.calls)
	}
}

func TestUploadSucceedsWhenVerificationIsExhausted(t *testing.T) {
	f := newFixture(t)
	f.prober.failures = 100

	blob, err := f.manager.Upload(context.Background(), pdfCandidate("report.pdf", 100))
	if err != nil {
		t.Fatalf("expected optimistic success, got %v", err)
	}
	if f.prober.calls != 5 {
		t.Fatalf("expected exactly 5 existence checks, got %d", f.prober.calls)
	}
	if _, ok := f.store.get(blob.URL); !ok {
		t.Fatalf("expected blob to stay tracked")
	}
}

func TestUploadFailureIsSingleUploadError(t *testing.T) {
	for name, f := range map[string]*managerFixture{
		"authorize": newFixture(t),
		"transfer":  newFixture(t),
	} {
		if name == "authorize" {
			f.uploader.authorizeErr = errors.New("handshake refused")
		} else {
			f.uploader.transferErr = errors.New("connection reset")
		}

		_, err := f.manager.Upload(context.Background(), pdfCandidate("report.pdf", 100))
		if !domain.IsKind(err, domain.ErrUploadFailed) {
			t.Fatalf("%s: expected upload failure, got %v", name, err)
		}
		if _, isValidation := domain.AsValidationError(err); isValidation {
			t.Fatalf("%s: upload failure must not be a validation error", name)
		}
		if UserMessage(err) != UploadFailedMessage {
			t.Fatalf("%s: unexpected user message %q", name, UserMessage(err))
		}
		if len(f.store.urls()) != 0 {
			t.Fatalf("%s: expected nothing tracked, got %v", name, f.store.urls())
		}
		if f.manager.Current() != nil || f.manager.Status() != StatusFailed {
			t.Fatalf("%s: expected cleared selection", name)
		}
	}
}

func TestSelectRejectsInvalidWithoutSideEffects(t *testing.T) {
	f := newFixture(t)
	files := []domain.UploadCandidate{pdfCandidate("a.pdf", 1), pdfCandidate("b.pdf", 1)}

	if _, err := f.manager.Select(context.Background(), files, domain.OriginDrop); err == nil {
		t.Fatalf("expected validation error")
	}
	if f.uploader.calls != 0 || len(f.store.urls()) != 0 {
		t.Fatalf("validation failure must not upload or track")
	}
}

func TestSelectSupersedesPreviousUpload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.manager.Select(ctx, []domain.UploadCandidate{pdfCandidate("a.pdf", 1)}, domain.OriginPicker)
	if err != nil {
		t.Fatalf("first Select() error = %v", err)
	}
	second, err := f.manager.Select(ctx, []domain.UploadCandidate{pdfCandidate("b.pdf", 1)}, domain.OriginPicker)
	if err != nil {
		t.Fatalf("second Select() error = %v", err)
	}

	if !f.deleter.called(first.URL) {
		t.Fatalf("expected deletion of %s, got %v", first.URL, f.deleter.deleted)
	}
	urls := f.store.urls()
	if len(urls) != 1 || urls[0] != second.URL {
		t.Fatalf("expected only %s tracked, got %v", second.URL, urls)
	}
}

func TestSelectDoesNotDeleteProtectedPrevious(t *testing.T) {
	f := newFixture(t, "a-1-x.pdf")
	ctx := context.Background()

	if _, err := f.manager.Select(ctx, []domain.UploadCandidate{pdfCandidate("a.pdf", 1)}, domain.OriginPicker); err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if _, err := f.manager.Select(ctx, []domain.UploadCandidate{pdfCandidate("b.pdf", 1)}, domain.OriginPicker); err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if len(f.deleter.deleted) != 0 {
		t.Fatalf("expected no deletions, got %v", f.deleter.deleted)
	}
}

func TestSelectKeepsSupersededUploadWhenDeleteFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.manager.Select(ctx, []domain.UploadCandidate{pdfCandidate("a.pdf", 1)}, domain.OriginPicker)
	if err != nil {
		t.Fatalf("first Select() error = %v", err)
	}
	f.deleter.fail[first.URL] = errors.New("storage unavailable")
	second, err := f.manager.Select(ctx, []domain.UploadCandidate{pdfCandidate("b.pdf", 1)}, domain.OriginPicker)
	if err != nil {
		t.Fatalf("second Select() error = %v", err)
	}

	kept, ok := f.store.get(first.URL)
	if !ok || kept.Active {
		t.Fatalf("expected %s tracked as inactive, got %+v (tracked=%t)", first.URL, kept, ok)
	}
	if cur := f.manager.Current(); cur == nil || cur.URL != second.URL {
		t.Fatalf("expected %s to be current, got %+v", second.URL, cur)
	}

	delete(f.deleter.fail, first.URL)
	f.now = f.now.Add(2 * DefaultMaxAge)
	report, err := f.manager.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if report.Failed != 0 || report.Deleted != 2 {
		t.Fatalf("unexpected sweep report %+v", report)
	}
	if _, ok := f.store.get(first.URL); ok {
		t.Fatalf("expected %s untracked after sweep", first.URL)
	}
	if n := countCalls(f.deleter, first.URL); n != 2 {
		t.Fatalf("expected two deletions of %s, got %d", first.URL, n)
	}
}

func TestReplaceDeletesBeforeUploading(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, _ := f.manager.Upload(ctx, pdfCandidate("a.pdf", 1))
	f.deleter.fail[first.URL] = errors.New("storage unavailable")

	second, err := f.manager.Replace(ctx, []domain.UploadCandidate{pdfCandidate("b.pdf", 1)}, domain.OriginPicker)
	if err != nil {
		t.Fatalf("Replace() must not fail on deletion errors, got %v", err)
	}
	if !f.deleter.called(first.URL) {
		t.Fatalf("expected deletion attempt for %s", first.URL)
	}

	kept, ok := f.store.get(first.URL)
	if !ok || kept.Active {
		t.Fatalf("expected failed deletion to stay tracked and inactive, got %+v (tracked=%v)", kept, ok)
	}
	if current := f.manager.Current(); current == nil || current.URL != second.URL {
		t.Fatalf("expected current upload %s", second.URL)
	}
}

func TestRemoveSkipsProcessedBlob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	blob, _ := f.manager.Upload(ctx, pdfCandidate("a.pdf", 1))
	if err := f.manager.MarkProcessed(ctx, blob.URL); err != nil {
		t.Fatalf("MarkProcessed() error = %v", err)
	}
	f.manager.Remove(ctx)

	if len(f.deleter.deleted) != 0 {
		t.Fatalf("processed blob must not be deleted, got %v", f.deleter.deleted)
	}
	if f.manager.Current() != nil {
		t.Fatalf("expected no current upload after remove")
	}
}

func TestRemoveDeletesAndUntracks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	blob, _ := f.manager.Upload(ctx, pdfCandidate("a.pdf", 1))
	f.manager.Remove(ctx)

	if !f.deleter.called(blob.URL) {
		t.Fatalf("expected deletion of %s", blob.URL)
	}
	if len(f.store.urls()) != 0 {
		t.Fatalf("expected empty tracked set, got %v", f.store.urls())
	}
}

func TestRemoveTreatsNotFoundAsDeleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	blob, _ := f.manager.Upload(ctx, pdfCandidate("a.pdf", 1))
	f.deleter.fail[blob.URL] = domain.WrapError(domain.ErrNotFound, "delete", errors.New("gone"))
	f.manager.Remove(ctx)

	if len(f.store.urls()) != 0 {
		t.Fatalf("expected already-absent blob to be untracked, got %v", f.store.urls())
	}
}

func TestMarkProcessedUnknownURL(t *testing.T) {
	f := newFixture(t)
	err := f.manager.MarkProcessed(context.Background(), "https://blobs.test/unknown.pdf")
	if !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func countCalls(d *deleterFake, url string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, u := range d.deleted {
		if u == url {
			n++
		}
	}
	return n
}
