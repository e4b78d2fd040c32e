package lifecycle

import (
	"context"
	"sync"

	"github.com/kirillkom/property-report-analyzer/internal/core/domain"
)

const (
	EventDragEnter = "dragenter"
	EventDragOver  = "dragover"
	EventDragLeave = "dragleave"

	msgReleaseToUpload = "Release to upload"
	msgDragCancelled   = "Drag cancelled"
	msgUploading       = "Uploading "
	msgUploaded        = "File uploaded: "
	msgRemoved         = "File removed"
)

// Selector is the part of Manager the selection surface drives.
type Selector interface {
	Select(ctx context.Context, files []domain.UploadCandidate, origin domain.SelectionOrigin) (*domain.TrackedBlob, error)
	Remove(ctx context.Context)
}

// Surface adapts drag/drop and picker events to the manager and keeps the
// status message announced to assistive technology.
type Surface struct {
	selector Selector

	mu         sync.Mutex
	dragActive bool
	message    string
}

func NewSurface(selector Selector) *Surface {
	return &Surface{selector: selector}
}

// HandleDrag applies a drag event. Entering or hovering activates the drop
// zone, leaving clears it. Other event types are ignored.
func (s *Surface) HandleDrag(eventType string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch eventType {
	case EventDragEnter, EventDragOver:
		s.dragActive = true
		s.message = msgReleaseToUpload
	case EventDragLeave:
		s.dragActive = false
		s.message = msgDragCancelled
	}
}

func (s *Surface) HandleDrop(ctx context.Context, files []domain.UploadCandidate) (*domain.TrackedBlob, error) {
	s.mu.Lock()
	s.dragActive = false
	s.mu.Unlock()
	return s.dispatch(ctx, files, domain.OriginDrop)
}

func (s *Surface) HandleChange(ctx context.Context, files []domain.UploadCandidate) (*domain.TrackedBlob, error) {
	return s.dispatch(ctx, files, domain.OriginPicker)
}

func (s *Surface) HandleRemove(ctx context.Context) {
	s.selector.Remove(ctx)
	s.announce(msgRemoved)
}

func (s *Surface) DragActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dragActive
}

func (s *Surface) Message() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.message
}

func (s *Surface) dispatch(ctx context.Context, files []domain.UploadCandidate, origin domain.SelectionOrigin) (*domain.TrackedBlob, error) {
	if len(files) == 1 {
		s.announce(msgUploading + files[0].Name)
	}

	blob, err := s.selector.Select(ctx, files, origin)
	if err != nil {
		s.announce(UserMessage(err))
		return nil, err
	}
	s.announce(msgUploaded + files[0].Name)
	return blob, nil
}

func (s *Surface) announce(msg string) {
	s.mu.Lock()
	s.message = msg
	s.mu.Unlock()
}

// UserMessage maps an error from Select to the text shown to the user.
func UserMessage(err error) string {
	if vErr, ok := domain.AsValidationError(err); ok {
		return vErr.Message
	}
	return UploadFailedMessage
}
