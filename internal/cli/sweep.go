package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tomasbasham/cli-runtime/templates"
)

type SweepOptions struct {
	root *RootOptions
}

func NewSweepOptions(root *RootOptions) *SweepOptions {
	return &SweepOptions{root: root}
}

func NewSweepCommand(o *SweepOptions) *cobra.Command {
	return &cobra.Command{
		Use:                   "sweep",
		DisableFlagsInUseLine: true,
		Short:                 "Delete abandoned uploads now",
		Long: templates.LongDesc(`
			Run the cleanup sweep immediately instead of after the settle delay.
			Uploads of other runs, uploads flagged by a failed cleanup and uploads
			older than the maximum age are deleted unless they were analysed.`),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.Run(cmd.Context())
		},
	}
}

func (o *SweepOptions) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := openSession(ctx, o.root, false)
	if err != nil {
		return err
	}
	defer s.close(ctx)

	report, err := s.client.Manager.Sweep(ctx)
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}
	fmt.Fprintf(o.root.Out, "deleted=%d failed=%d pruned=%d\n", report.Deleted, report.Failed, report.Pruned)
	return nil
}
