package cli

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"regapi/internal/app"
	"regapi/internal/repository"
	"regapi/internal/schema"
)

var errExportUnavailable = errors.New("export needs STORAGE_BACKEND=filesystem and MINIO_ENDPOINT")

func exportCmd(open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "export <domain> <entity>",
		Short: "Copy a flat-file collection to object storage",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepository(cmd, open, args[0], args[1], func(a *app.App, e *schema.Entity, _ repository.Repository) error {
				if a.Exporter == nil {
					return errExportUnavailable
				}
				dir := filepath.Join(a.Config.Storage.DataRoot, e.StorageName())
				res, err := a.Exporter.Export(cmd.Context(), dir, e.StorageName())
				if err != nil {
					return fmt.Errorf("failed to export %s: %w", e.Name(), err)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%s %d records to %s\n", okColor.Sprint("Exported"), res.Records, res.Prefix)
				fmt.Fprintf(out, "Manifest: %s\n", res.ManifestKey)
				if res.URL != "" {
					fmt.Fprintf(out, "Download: %s\n", res.URL)
				}
				return nil
			})
		},
	}
}

func importCmd(open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "import <domain> <entity> <manifest-key>",
		Short: "Restore a flat-file collection from an export manifest",
		Long: `import downloads every record listed in the manifest into the collection
directory. Records with the same id are replaced; other records are left alone.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepository(cmd, open, args[0], args[1], func(a *app.App, e *schema.Entity, _ repository.Repository) error {
				if a.Exporter == nil {
					return errExportUnavailable
				}
				dir := filepath.Join(a.Config.Storage.DataRoot, e.StorageName())
				n, err := a.Exporter.Import(cmd.Context(), args[2], dir)
				if err != nil {
					if n > 0 {
						fmt.Fprintf(cmd.ErrOrStderr(), "%s %d records were restored before the failure\n", warnColor.Sprint("Partial import:"), n)
					}
					return fmt.Errorf("failed to import %s: %w", e.Name(), err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %d records into %s\n", okColor.Sprint("Imported"), n, dir)
				return nil
			})
		},
	}
}
