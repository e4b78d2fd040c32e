package domain

import (
	"io"
	"net/url"
	"path"
	"strings"
	"time"
)

const (
	// PDFMediaType is the only document type the application accepts.
	PDFMediaType = "application/pdf"

	// MaxUploadBytes is the inclusive size ceiling of an uploaded document.
	MaxUploadBytes int64 = 50 << 20
)

// SelectionOrigin tells where a candidate selection came from.
type SelectionOrigin string

const (
	OriginPicker SelectionOrigin = "picker"
	OriginDrop   SelectionOrigin = "drop"
)

// UploadCandidate is a user-selected file pending validation.
type UploadCandidate struct {
	Name      string
	MediaType string
	Size      int64
	Content   io.Reader
}

// TrackedBlob records an object persisted to storage on behalf of a client
// session. URL is the unique key of the tracked set.
type TrackedBlob struct {
	URL                string     `json:"url"`
	SessionID          string     `json:"sessionId"`
	CreatedAt          time.Time  `json:"createdAt"`
	Processed          bool       `json:"processed"`
	Active             bool       `json:"active"`
	PendingCleanup     bool       `json:"pendingCleanup,omitempty"`
	CleanupRequestedAt *time.Time `json:"cleanupRequestedAt,omitempty"`
}

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key         string    `json:"key"`
	URL         string    `json:"url"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
}

// UploadAuthorization is the result of the upload handshake.
type UploadAuthorization struct {
	ObjectName string    `json:"object_name"`
	UploadURL  string    `json:"upload_url"`
	Token      string    `json:"token"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// UploadConstraints restricts what an upload authorization allows.
type UploadConstraints struct {
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// ProtectedObjects is the set of shared sample documents that lifecycle
// cleanup must never delete. Identifiers are compared exactly against
// ObjectIdentifier of a URL.
type ProtectedObjects struct {
	ids map[string]struct{}
}

func NewProtectedObjects(ids ...string) ProtectedObjects {
	set := ProtectedObjects{ids: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		set.ids[id] = struct{}{}
	}
	return set
}

// Contains reports whether the object addressed by rawURL is protected.
func (p ProtectedObjects) Contains(rawURL string) bool {
	if len(p.ids) == 0 {
		return false
	}
	_, ok := p.ids[ObjectIdentifier(rawURL)]
	return ok
}

func (p ProtectedObjects) Len() int {
	return len(p.ids)
}

// ObjectIdentifier extracts the object name from a blob URL or a bare key:
// the last path segment, percent-decoded, without query or fragment.
func ObjectIdentifier(rawURL string) string {
	raw := strings.TrimSpace(rawURL)
	if raw == "" {
		return ""
	}
	p := raw
	if u, err := url.Parse(raw); err == nil {
		p = u.Path
	}
	p = strings.TrimRight(p, "/")
	if p == "" {
		return ""
	}
	return path.Base(p)
}
