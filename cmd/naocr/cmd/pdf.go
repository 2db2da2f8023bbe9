package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/MeKo-Tech/naocr/internal/document"
	"github.com/spf13/cobra"
)

func newPDFCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pdf <file>",
		Short: "Recognize the page images of a PDF",
		Long: `Extract the images embedded in a PDF, in page order, and recognize them
as one document.

Examples:
  naocr pdf scan.pdf
  naocr pdf scan.pdf --pages 1-3,5 --format json
  naocr pdf locked.pdf --password secret`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pageRange := a.cfg.PDF.PageRange
			if cmd.Flags().Changed("pages") {
				pageRange, _ = cmd.Flags().GetString("pages")
			}

			dir, err := os.MkdirTemp("", "naocr-pdf-*")
			if err != nil {
				return fmt.Errorf("creating temp directory: %w", err)
			}
			defer func() { _ = os.RemoveAll(dir) }()

			var creds document.Credentials
			creds.UserPassword, _ = cmd.Flags().GetString("password")
			creds.OwnerPassword, _ = cmd.Flags().GetString("owner-password")
			paths, err := document.ExtractPagesWith(cmdContext(cmd), args[0], pageRange, dir, creds)
			if err != nil {
				return err
			}
			a.logger.Debug("Extracted page images", "file", args[0], "images", len(paths))
			return a.recognizeFiles(cmd, filepath.Base(args[0]), paths)
		},
	}
	addRecognitionFlags(cmd)
	cmd.Flags().String("pages", "", "page range, e.g. 1-3,5 (default: all pages)")
	cmd.Flags().String("password", "", "user password of an encrypted PDF")
	cmd.Flags().String("owner-password", "", "owner password of an encrypted PDF")
	return cmd
}
