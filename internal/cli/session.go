package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path/filepath"

	"github.com/kirillkom/property-report-analyzer/internal/bootstrap"
	"github.com/kirillkom/property-report-analyzer/internal/core/domain"
	"github.com/kirillkom/property-report-analyzer/internal/core/lifecycle"
	"github.com/kirillkom/property-report-analyzer/internal/observability/logging"
)

// session is one client process lifetime: it owns the tracked-blob state,
// starts the startup sweep and reconciles on the way out.
type session struct {
	client  *bootstrap.Client
	surface *lifecycle.Surface
	logger  *slog.Logger

	cancelSweep context.CancelFunc
	sweepDone   <-chan lifecycle.SweepReport
}

func openSession(ctx context.Context, o *RootOptions, startSweep bool) (*session, error) {
	logger := logging.NewTextLoggerTo(o.ErrOut, "propctl", o.Config.LogLevel)

	client, err := bootstrap.NewClient(ctx, o.Config, logger)
	if err != nil {
		return nil, err
	}

	s := &session{
		client:  client,
		surface: lifecycle.NewSurface(client.Manager),
		logger:  logger,
	}
	if startSweep {
		sweepCtx, cancel := context.WithCancel(ctx)
		s.cancelSweep = cancel
		s.sweepDone = client.Manager.StartSweep(sweepCtx)
	}
	return s, nil
}

// close runs unload reconciliation and gives the beacons a short window to
// leave. It runs on normal exit and after an interrupt alike.
func (s *session) close(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)

	if s.cancelSweep != nil {
		s.cancelSweep()
		<-s.sweepDone
	}

	if _, err := s.client.Manager.Unload(ctx); err != nil {
		s.logger.Warn("unload_failed", "error", err)
	}
	if !s.client.Beacon.Flush(s.client.Config.ClientBeaconFlushTimeout) {
		s.logger.Warn("beacon_flush_incomplete", "timeout", s.client.Config.ClientBeaconFlushTimeout)
	}
	s.client.Close()
}

// openCandidates turns file paths into upload candidates. The declared media
// type comes from contentType or, when empty, the file extension. Callers
// close the returned files.
func openCandidates(paths []string, contentType string) ([]domain.UploadCandidate, func(), error) {
	files := make([]*os.File, 0, len(paths))
	closeAll := func() {
		for _, f := range files {
			_ = f.Close()
		}
	}

	candidates := make([]domain.UploadCandidate, 0, len(paths))
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("open %s: %w", p, err)
		}
		files = append(files, f)

		info, err := f.Stat()
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("stat %s: %w", p, err)
		}

		mediaType := contentType
		if mediaType == "" {
			mediaType, _, _ = mime.ParseMediaType(mime.TypeByExtension(filepath.Ext(p)))
		}
		candidates = append(candidates, domain.UploadCandidate{
			Name:      filepath.Base(p),
			MediaType: mediaType,
			Size:      info.Size(),
			Content:   io.Reader(f),
		})
	}
	return candidates, closeAll, nil
}
