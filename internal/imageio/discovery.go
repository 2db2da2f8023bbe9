package imageio

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// DiscoverImages expands args into an ordered list of page images. Files are
// kept in argument order; directories contribute their supported images in
// lexical order, descending into subdirectories only when recursive is set.
func DiscoverImages(args []string, recursive bool) ([]string, error) {
	var pages []string

	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("cannot access %s: %w", arg, err)
		}

		if !info.IsDir() {
			if !IsSupportedImage(arg) {
				return nil, &ImageProcessingError{Operation: "discover", Path: arg, Err: fmt.Errorf("unsupported format: %s", filepath.Ext(arg))}
			}
			pages = append(pages, arg)
			continue
		}

		files, err := discoverInDirectory(arg, recursive)
		if err != nil {
			return nil, err
		}
		pages = append(pages, files...)
	}

	return pages, nil
}

func discoverInDirectory(dir string, recursive bool) ([]string, error) {
	var files []string

	walkFn := func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if !recursive && path != dir {
				return filepath.SkipDir
			}
			return nil
		}
		if IsSupportedImage(path) {
			files = append(files, path)
		}
		return nil
	}

	if err := filepath.WalkDir(dir, walkFn); err != nil {
		return nil, fmt.Errorf("walking %s: %w", dir, err)
	}
	sort.Strings(files)
	return files, nil
}
