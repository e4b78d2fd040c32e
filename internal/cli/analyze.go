package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	cliflag "github.com/tomasbasham/cli-runtime/flag"
	"github.com/tomasbasham/cli-runtime/printer"
	"github.com/tomasbasham/cli-runtime/templates"

	"github.com/kirillkom/property-report-analyzer/internal/core/domain"
)

var (
	analyzeLong = templates.LongDesc(`
		Upload a PDF property report and print the analysis.

		The upload is kept once the analysis succeeds. When the analysis fails the
		upload is abandoned and cleaned up as the command exits.`)

	analyzeExample = templates.Examples(`
		# Analyse a valuation report
		propctl analyze valuation.pdf

		# Ask for the findings in French, as JSON
		propctl analyze valuation.pdf --language fr --format prettyjson`)
)

// outputFormats are the formats accepted by commands that print records.
const outputFormats = cliflag.FormatTextFlag | cliflag.FormatJSONFlag | cliflag.FormatPrettyJSONFlag | cliflag.FormatYAMLFlag

type AnalyzeOptions struct {
	root *RootOptions

	Path        string
	Language    string
	ContentType string

	PrintFlags *cliflag.PrinterFlags
}

func NewAnalyzeOptions(root *RootOptions) *AnalyzeOptions {
	return &AnalyzeOptions{
		root:       root,
		PrintFlags: cliflag.NewPrinterFlags(outputFormats, cliflag.FormatText),
	}
}

func NewAnalyzeCommand(o *AnalyzeOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:                   "analyze FILE",
		DisableFlagsInUseLine: true,
		Short:                 "Upload a property report and analyse it",
		Long:                  analyzeLong,
		Example:               analyzeExample,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(cmd, args); err != nil {
				return err
			}
			if err := o.Validate(); err != nil {
				return err
			}
			return o.Run(cmd.Context())
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&o.Language, "language", "l", domain.DefaultLanguage, "Language of the analysis (BCP 47 tag)")
	flags.StringVar(&o.ContentType, "content-type", "", "Declared media type (default: from the file extension)")
	o.PrintFlags.AddFlags(flags)

	return cmd
}

func (o *AnalyzeOptions) Complete(_ *cobra.Command, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("exactly one FILE is required")
	}
	o.Path = args[0]
	return nil
}

func (o *AnalyzeOptions) Validate() error {
	if _, ok := domain.NormalizeLanguage(o.Language); !ok {
		return fmt.Errorf("unsupported language %q", o.Language)
	}
	if !o.PrintFlags.AcceptedFormats.Allows(o.PrintFlags.Format) {
		return fmt.Errorf("invalid format %q (must be one of %s)", o.PrintFlags.Format, o.PrintFlags.AcceptedFormats.HelpString())
	}
	return nil
}

func (o *AnalyzeOptions) Run(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p, err := o.PrintFlags.ToPrinter()
	if err != nil {
		return err
	}

	s, err := openSession(ctx, o.root, true)
	if err != nil {
		return err
	}
	defer s.close(ctx)

	candidates, closeFiles, err := openCandidates([]string{o.Path}, o.ContentType)
	if err != nil {
		return err
	}
	defer closeFiles()

	blob, err := s.surface.HandleChange(ctx, candidates)
	fmt.Fprintln(o.root.ErrOut, s.surface.Message())
	if err != nil {
		return errors.New(s.surface.Message())
	}

	record, err := s.client.API.AnalyzeURL(ctx, blob.URL, o.Language)
	if err != nil {
		var aErr *domain.AnalysisError
		if errors.As(err, &aErr) {
			return fmt.Errorf("analysis failed (%s): %s", aErr.Type, aErr.Message)
		}
		return fmt.Errorf("analysis failed: %w", err)
	}

	if err := s.client.Manager.MarkProcessed(ctx, blob.URL); err != nil {
		s.logger.Warn("mark_processed_failed", "url", blob.URL, "error", err)
	}

	return p.Print(o.root.Out, (*analysisReport)(record))
}

// analysisReport renders an analysis record for the terminal.
type analysisReport domain.AnalysisRecord

var _ printer.TextFormatter = (*analysisReport)(nil)

func (r *analysisReport) FormatText() ([]byte, error) {
	var buf bytes.Buffer
	printAnalysis(&buf, (*domain.AnalysisRecord)(r))
	return buf.Bytes(), nil
}

func printAnalysis(w io.Writer, record *domain.AnalysisRecord) {
	fmt.Fprintf(w, "Analysis %s (%s)\n", record.ID, record.Language)

	a := record.Outcome.Analysis
	if a == nil {
		fmt.Fprintf(w, "\n%s\n", strings.TrimSpace(record.Outcome.Summary))
		return
	}

	if a.DocumentType != "" {
		fmt.Fprintf(w, "Document type: %s\n", a.DocumentType)
	}
	fmt.Fprintf(w, "\n%s\n", strings.TrimSpace(a.Summary))

	d := a.Details
	fmt.Fprintln(w, "\nProperty details")
	printDetail(w, "Address", d.Address)
	printDetail(w, "Type", d.PropertyType)
	printDetail(w, "Price", d.Price)
	if d.Bedrooms > 0 {
		printDetail(w, "Bedrooms", fmt.Sprint(d.Bedrooms))
	}
	if d.Bathrooms > 0 {
		printDetail(w, "Bathrooms", fmt.Sprint(d.Bathrooms))
	}
	if d.AreaSqm > 0 {
		printDetail(w, "Area", fmt.Sprintf("%g m²", d.AreaSqm))
	}
	if d.YearBuilt > 0 {
		printDetail(w, "Year built", fmt.Sprint(d.YearBuilt))
	}
	printDetail(w, "Energy rating", d.EnergyRating)

	printFindings(w, "Strengths", a.Strengths)
	printFindings(w, "Concerns", a.Concerns)
}

func printDetail(w io.Writer, label, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(w, "  %-14s %s\n", label+":", value)
}

func printFindings(w io.Writer, title string, findings []domain.Finding) {
	if len(findings) == 0 {
		return
	}
	fmt.Fprintf(w, "\n%s\n", title)
	for _, f := range findings {
		line := "  - " + f.Title
		if f.Severity != "" {
			line += " [" + f.Severity + "]"
		}
		if f.Description != "" {
			line += ": " + f.Description
		}
		fmt.Fprintln(w, line)
	}
}
