package filestate

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/property-report-analyzer/internal/core/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "state", "tracked.json"), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s
}

func TestStoreStartsEmptyAndPersists(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	blobs, err := s.List(ctx)
	if err != nil || len(blobs) != 0 {
		t.Fatalf("List() = %v, %v", blobs, err)
	}

	requested := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	err = s.Update(ctx, func(blobs []domain.TrackedBlob) ([]domain.TrackedBlob, error) {
		return append(blobs, domain.TrackedBlob{
			URL:                "http://blobs.test/a.pdf",
			SessionID:          "s1",
			CreatedAt:          requested,
			PendingCleanup:     true,
			CleanupRequestedAt: &requested,
		}), nil
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	raw, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatalf("read state: %v", err)
	}
	for _, key := range []string{`"url"`, `"sessionId"`, `"createdAt"`, `"pendingCleanup"`, `"cleanupRequestedAt"`} {
		if !strings.Contains(string(raw), key) {
			t.Fatalf("expected %s in %s", key, raw)
		}
	}

	reopened, err := New(s.Path(), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	blobs, err = reopened.List(ctx)
	if err != nil || len(blobs) != 1 || blobs[0].CleanupRequestedAt == nil || !blobs[0].CleanupRequestedAt.Equal(requested) {
		t.Fatalf("unexpected reloaded state %+v, %v", blobs, err)
	}
}

func TestStoreUpdateErrorLeavesStateUntouched(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_ = s.Update(ctx, func([]domain.TrackedBlob) ([]domain.TrackedBlob, error) {
		return []domain.TrackedBlob{{URL: "http://blobs.test/a.pdf"}}, nil
	})
	boom := errors.New("boom")
	err := s.Update(ctx, func([]domain.TrackedBlob) ([]domain.TrackedBlob, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected callback error, got %v", err)
	}
	blobs, _ := s.List(ctx)
	if len(blobs) != 1 {
		t.Fatalf("expected state untouched, got %v", blobs)
	}
}

func TestStoreResetsCorruptState(t *testing.T) {
	s := newTestStore(t)
	if err := os.WriteFile(s.Path(), []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write corrupt state: %v", err)
	}
	blobs, err := s.List(context.Background())
	if err != nil || len(blobs) != 0 {
		t.Fatalf("expected empty set for corrupt state, got %v, %v", blobs, err)
	}
}

func TestStoreSerializesConcurrentUpdates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.Update(ctx, func(blobs []domain.TrackedBlob) ([]domain.TrackedBlob, error) {
				return append(blobs, domain.TrackedBlob{URL: "http://blobs.test/" + string(rune('a'+i)) + ".pdf"}), nil
			})
		}(i)
	}
	wg.Wait()

	blobs, _ := s.List(ctx)
	if len(blobs) != 20 {
		t.Fatalf("expected 20 tracked blobs, got %d", len(blobs))
	}
}
