// Package cli implements nxledgerctl, the offline maintenance tool that
// works directly against a ledger database.
package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/erazemk/nxledger/internal/db"
	"github.com/erazemk/nxledger/internal/ledger"
	"github.com/erazemk/nxledger/internal/store"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Driver  string
	DSN     string
	Format  string // "json" | "text"
	Verbose bool
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for nxledgerctl.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "nxledgerctl",
		Short: "Maintain an nxledger database",
		Long: `Inspect, verify and repair the version chains of an nxledger database,
and import container manifests from other systems.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.Driver, "driver", "D", "sqlite", "database driver (sqlite|mysql|pgx)")
	cmd.PersistentFlags().StringVarP(&opts.DSN, "db", "d", "nxledger.sqlite3", "database path or DSN")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(NewVerifyCommand(opts))
	cmd.AddCommand(NewRepairCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewDiffCommand(opts))
	cmd.AddCommand(NewImportCommand(opts))

	return cmd
}

// env is an open database with the ledger services built over it.
type env struct {
	db      *db.DB
	backend *store.Backend
	service *ledger.Service
	auditor *ledger.Auditor
	history *ledger.Reconstructor
}

func openEnv(cmd *cobra.Command, opts *RootOptions) (*env, error) {
	database, err := db.Open(opts.Driver, opts.DSN)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	if err := db.EnsureSchema(cmd.Context(), database); err != nil {
		database.Close()
		return nil, WrapExitError(ExitCommandError, "failed to ensure schema", err)
	}

	backend := store.NewBackend(database)
	return &env{
		db:      database,
		backend: backend,
		service: ledger.NewService(backend, ledger.NewWriter(backend, nil), nil),
		auditor: ledger.NewAuditor(backend, nil),
		history: ledger.NewReconstructor(backend),
	}, nil
}

func (e *env) Close() error {
	return e.db.Close()
}

func formatter(cmd *cobra.Command, opts *RootOptions) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}
