// Package cli implements the propctl command line client.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	cliflag "github.com/tomasbasham/cli-runtime/flag"
	"github.com/tomasbasham/cli-runtime/iooption"
	"github.com/tomasbasham/cli-runtime/printer"
	"github.com/tomasbasham/cli-runtime/templates"

	"github.com/kirillkom/property-report-analyzer/internal/config"
)

var (
	rootLong = templates.LongDesc(`
		Upload property reports, have them analysed and keep temporary uploads
		from piling up in blob storage.

		Every run tracks the documents it uploads in a local state file. Uploads
		that were never analysed are cleaned up when the run ends, and leftovers
		of earlier runs are swept shortly after start.`)

	rootExamples = templates.Examples(`
		# Analyse a survey in German
		propctl analyze survey.pdf --language de

		# Show uploads tracked by earlier runs
		propctl status`)

	// Injected at build time using ldflags.
	version = ""
	commit  = ""
)

// RootOptions holds settings shared by every subcommand.
type RootOptions struct {
	Config config.Config

	iooption.IOStreams
}

func NewRootOptions(streams iooption.IOStreams) *RootOptions {
	return &RootOptions{
		Config:    config.Load(),
		IOStreams: streams,
	}
}

// NewRootCommand creates the `propctl` command with default arguments.
func NewRootCommand() *cobra.Command {
	options := NewRootOptions(iooption.IOStreams{
		In:     os.Stdin,
		Out:    os.Stdout,
		ErrOut: os.Stderr,
	})
	return NewRootCommandWithArgs(options)
}

// NewRootCommandWithArgs creates the `propctl` command and its children.
func NewRootCommandWithArgs(o *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:                   "propctl [command]",
		Version:               versionInfo(),
		DisableFlagsInUseLine: true,
		Short:                 "Property report analyzer client",
		Long:                  rootLong,
		Example:               rootExamples,
		SilenceErrors:         true,
		SilenceUsage:          true,
	}

	printerOpts := printer.WarningPrinterOptions{Color: true}
	warnings := printer.NewWarningPrinter(o.ErrOut, printerOpts)
	cmd.SetGlobalNormalizationFunc(cliflag.WarnWordSepNormalizeFunc(warnings))

	pflags := cmd.PersistentFlags()
	pflags.StringVar(&o.Config.ClientAPIURL, "api-url", o.Config.ClientAPIURL, "Base URL of the analyzer API")
	pflags.StringVar(&o.Config.ClientStateBackend, "state-backend", o.Config.ClientStateBackend, "Where tracked uploads are kept: file or postgres")
	pflags.StringVar(&o.Config.ClientStateFile, "state-file", o.Config.ClientStateFile, "Tracked uploads file for the file backend")
	pflags.StringVar(&o.Config.PostgresDSN, "postgres-dsn", o.Config.PostgresDSN, "Connection string for the postgres backend")
	pflags.StringVar(&o.Config.ProtectedObjectsFile, "protected-file", o.Config.ProtectedObjectsFile, "YAML catalog of protected sample documents")
	pflags.DurationVar(&o.Config.ClientSettleDelay, "settle-delay", o.Config.ClientSettleDelay, "Delay before the startup sweep")
	pflags.StringVar(&o.Config.LogLevel, "log-level", o.Config.LogLevel, "Log level written to stderr")

	cmd.AddCommand(NewAnalyzeCommand(NewAnalyzeOptions(o)))
	cmd.AddCommand(NewUploadCommand(NewUploadOptions(o)))
	cmd.AddCommand(NewRemoveCommand(NewRemoveOptions(o)))
	cmd.AddCommand(NewSweepCommand(NewSweepOptions(o)))
	cmd.AddCommand(NewStatusCommand(NewStatusOptions(o)))

	return cmd
}

func versionInfo() string {
	if version == "" {
		return ""
	}
	return fmt.Sprintf("%s (commit: %s)", version, commit)
}
