package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/aula/internal/app"
)

var catalogPath string

var (
	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Apply schema migrations to the configured store",
		RunE:  runMigrate,
	}
	importCmd = &cobra.Command{
		Use:   "import [catalog.yaml]",
		Short: "Import programs, templates and exercise instances from YAML",
		Args:  cobra.ExactArgs(1),
		RunE:  runImport,
	}
)

func openMigrated(cmd *cobra.Command) (*app.Storage, error) {
	store, err := app.OpenStorage(cmd.Context(), cfg.Storage)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(cmd.Context()); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	store, err := openMigrated(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	version, err := store.Version(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s schema at version %d\n", store.Driver, version)

	if catalogPath == "" {
		return nil
	}
	return importFile(cmd, store, catalogPath)
}

func runImport(cmd *cobra.Command, args []string) error {
	store, err := openMigrated(cmd)
	if err != nil {
		return err
	}
	defer store.Close()
	return importFile(cmd, store, args[0])
}

func importFile(cmd *cobra.Command, store *app.Storage, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()

	stats, err := app.ImportCatalog(cmd.Context(), f, store.Catalog)
	if err != nil {
		return err
	}
	printImportStats(cmd.OutOrStdout(), stats)
	return nil
}

func printImportStats(w io.Writer, s app.ImportStats) {
	fmt.Fprintf(w, "Imported %d templates, %d programs, %d phases, %d units, %d instances\n",
		s.Templates, s.Programs, s.Phases, s.Units, s.Instances)
}
