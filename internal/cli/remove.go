package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tomasbasham/cli-runtime/templates"

	"github.com/kirillkom/property-report-analyzer/internal/core/domain"
)

var removeExample = templates.Examples(`
	# Remove an upload listed by propctl status
	propctl remove http://localhost:8080/v1/blobs/survey-20260301-120000-ab12cd.pdf`)

type RemoveOptions struct {
	root *RootOptions

	URLs []string
}

func NewRemoveOptions(root *RootOptions) *RemoveOptions {
	return &RemoveOptions{root: root}
}

func NewRemoveCommand(o *RemoveOptions) *cobra.Command {
	return &cobra.Command{
		Use:                   "remove URL...",
		DisableFlagsInUseLine: true,
		Short:                 "Delete tracked uploads",
		Long:                  templates.LongDesc(`Delete tracked uploads by URL. Analysed and protected documents are kept.`),
		Example:               removeExample,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("at least one URL is required")
			}
			o.URLs = args
			return o.Run(cmd.Context())
		},
	}
}

func (o *RemoveOptions) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := openSession(ctx, o.root, false)
	if err != nil {
		return err
	}
	defer s.close(ctx)

	var errs []error
	for _, u := range o.URLs {
		if err := s.client.Manager.RemoveTracked(ctx, u); err != nil {
			if domain.IsKind(err, domain.ErrNotFound) {
				errs = append(errs, fmt.Errorf("%s is not a tracked upload", u))
				continue
			}
			errs = append(errs, err)
			continue
		}
		fmt.Fprintf(o.root.Out, "%s: %s\n", u, o.outcome(ctx, s, u))
	}
	return errors.Join(errs...)
}

// outcome reports what happened to a removed URL. Analysed, protected and
// undeletable uploads stay tracked.
func (o *RemoveOptions) outcome(ctx context.Context, s *session, u string) string {
	blobs, err := s.client.Manager.Tracked(ctx)
	if err != nil {
		return "unknown"
	}
	for _, b := range blobs {
		if b.URL != u {
			continue
		}
		if b.Processed {
			return "kept (analysed)"
		}
		return "kept (retry with propctl sweep)"
	}
	return "removed"
}
