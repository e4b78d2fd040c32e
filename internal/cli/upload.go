package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tomasbasham/cli-runtime/templates"

	"github.com/kirillkom/property-report-analyzer/internal/core/domain"
	"github.com/kirillkom/property-report-analyzer/internal/core/lifecycle"
)

var (
	uploadLong = templates.LongDesc(`
		Upload a PDF without analysing it.

		The upload is temporary: it is cleaned up when the command exits. Use
		--wait to keep it around until the command is interrupted.`)

	uploadExample = templates.Examples(`
		# Upload a report as if it was dropped on the page
		propctl upload survey.pdf --drop

		# Keep the upload until Ctrl+C
		propctl upload survey.pdf --wait`)
)

type UploadOptions struct {
	root *RootOptions

	Paths       []string
	Drop        bool
	Wait        bool
	ContentType string
}

func NewUploadOptions(root *RootOptions) *UploadOptions {
	return &UploadOptions{root: root}
}

func NewUploadCommand(o *UploadOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:                   "upload FILE",
		DisableFlagsInUseLine: true,
		Short:                 "Upload a property report",
		Long:                  uploadLong,
		Example:               uploadExample,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(cmd, args); err != nil {
				return err
			}
			return o.Run(cmd.Context())
		},
	}

	flags := cmd.Flags()
	flags.BoolVar(&o.Drop, "drop", false, "Deliver the file as a drag and drop selection")
	flags.BoolVar(&o.Wait, "wait", false, "Keep the upload until interrupted")
	flags.StringVar(&o.ContentType, "content-type", "", "Declared media type (default: from the file extension)")

	return cmd
}

// Complete accepts several files so the multiple-file rule can be exercised.
func (o *UploadOptions) Complete(_ *cobra.Command, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("FILE is required")
	}
	o.Paths = args
	return nil
}

func (o *UploadOptions) Run(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := openSession(ctx, o.root, true)
	if err != nil {
		return err
	}
	defer s.close(ctx)

	candidates, closeFiles, err := openCandidates(o.Paths, o.ContentType)
	if err != nil {
		return err
	}
	defer closeFiles()

	var blob *domain.TrackedBlob
	if o.Drop {
		s.surface.HandleDrag(lifecycle.EventDragEnter)
		s.surface.HandleDrag(lifecycle.EventDragOver)
		fmt.Fprintln(o.root.ErrOut, s.surface.Message())
		blob, err = s.surface.HandleDrop(ctx, candidates)
	} else {
		blob, err = s.surface.HandleChange(ctx, candidates)
	}
	fmt.Fprintln(o.root.ErrOut, s.surface.Message())
	if err != nil {
		return errors.New(s.surface.Message())
	}
	fmt.Fprintln(o.root.Out, blob.URL)

	if o.Wait {
		fmt.Fprintln(o.root.ErrOut, "Press Ctrl+C to abandon the upload")
		<-ctx.Done()
	}
	return nil
}
