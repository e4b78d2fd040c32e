package cli

import (
	"bytes"
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	cliflag "github.com/tomasbasham/cli-runtime/flag"
	"github.com/tomasbasham/cli-runtime/printer"
	"github.com/tomasbasham/cli-runtime/templates"

	"github.com/kirillkom/property-report-analyzer/internal/core/domain"
)

type StatusOptions struct {
	root *RootOptions

	PrintFlags *cliflag.PrinterFlags
}

func NewStatusOptions(root *RootOptions) *StatusOptions {
	return &StatusOptions{
		root:       root,
		PrintFlags: cliflag.NewPrinterFlags(outputFormats, cliflag.FormatText),
	}
}

func NewStatusCommand(o *StatusOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:                   "status",
		DisableFlagsInUseLine: true,
		Short:                 "List tracked uploads",
		Long:                  templates.LongDesc(`List the uploads tracked in the state backend.`),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.Run(cmd.Context())
		},
	}
	o.PrintFlags.AddFlags(cmd.Flags())
	return cmd
}

func (o *StatusOptions) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	p, err := o.PrintFlags.ToPrinter()
	if err != nil {
		return err
	}

	s, err := openSession(ctx, o.root, false)
	if err != nil {
		return err
	}
	defer s.close(ctx)

	blobs, err := s.client.Manager.Tracked(ctx)
	if err != nil {
		return fmt.Errorf("list tracked uploads: %w", err)
	}
	return p.Print(o.root.Out, newUploadList(blobs, time.Now()))
}

type uploadRow struct {
	URL       string    `json:"url"`
	SessionID string    `json:"sessionId"`
	CreatedAt time.Time `json:"createdAt"`
	Age       string    `json:"age"`
	State     string    `json:"state"`
}

// uploadList is the status view of the tracked set.
type uploadList []uploadRow

var _ printer.TextFormatter = uploadList(nil)

func newUploadList(blobs []domain.TrackedBlob, now time.Time) uploadList {
	rows := make(uploadList, 0, len(blobs))
	for _, b := range blobs {
		rows = append(rows, uploadRow{
			URL:       b.URL,
			SessionID: b.SessionID,
			CreatedAt: b.CreatedAt,
			Age:       now.Sub(b.CreatedAt).Truncate(time.Second).String(),
			State:     uploadState(b),
		})
	}
	return rows
}

func uploadState(b domain.TrackedBlob) string {
	switch {
	case b.Processed:
		return "analysed"
	case b.PendingCleanup:
		return "pending cleanup"
	case !b.Active:
		return "inactive"
	}
	return "uploaded"
}

func (l uploadList) FormatText() ([]byte, error) {
	var buf bytes.Buffer
	if len(l) == 0 {
		buf.WriteString("No tracked uploads.\n")
		return buf.Bytes(), nil
	}
	tw := tabwriter.NewWriter(&buf, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "URL\tSESSION\tAGE\tSTATE")
	for _, r := range l {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.URL, shortID(r.SessionID), r.Age, r.State)
	}
	if err := tw.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
