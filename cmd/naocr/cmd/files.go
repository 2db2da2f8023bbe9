package cmd

import (
	"github.com/MeKo-Tech/naocr/internal/imageio"
	"github.com/spf13/cobra"
)

func newFilesCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "files [paths...]",
		Short: "Recognize page images as one document",
		Long: `Recognize a list of page images in order and print the merged text.

Directories are expanded to the supported images they contain (jpg, png, bmp,
tiff) in lexical order. Pages are recognized one at a time; press Ctrl+C to
stop after the page in progress.

Examples:
  naocr files page-1.png page-2.png
  naocr files ./scans --recursive --format json --output scans.json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			recursive, _ := cmd.Flags().GetBool("recursive")
			paths, err := imageio.DiscoverImages(args, recursive)
			if err != nil {
				return err
			}
			if len(paths) == 0 {
				return errNoInput
			}

			source, _ := cmd.Flags().GetString("source")
			if source == "" {
				source = args[0]
			}
			return a.recognizeFiles(cmd, source, paths)
		},
	}
	addRecognitionFlags(cmd)
	cmd.Flags().BoolP("recursive", "r", false, "descend into subdirectories")
	cmd.Flags().String("source", "", "name reported for the document (default: first argument)")
	return cmd
}
