package imageio

import (
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
)

// SupportedImageExtensions lists supported file extensions for loading.
var SupportedImageExtensions = []string{".jpg", ".jpeg", ".png", ".bmp", ".tif", ".tiff"}

// ImageProcessingError represents errors that can occur while loading or
// converting page images.
type ImageProcessingError struct {
	Operation string
	Path      string
	Err       error
}

func (e *ImageProcessingError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("image processing error in %s: %v", e.Operation, e.Err)
	}
	return fmt.Sprintf("image processing error in %s for %s: %v", e.Operation, e.Path, e.Err)
}

func (e *ImageProcessingError) Unwrap() error { return e.Err }

// IsSupportedImage reports whether the path has a supported image extension.
func IsSupportedImage(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, s := range SupportedImageExtensions {
		if ext == s {
			return true
		}
	}
	return false
}

// Metadata captures lightweight file and pixel information.
type Metadata struct {
	Path      string
	Format    string
	SizeBytes int64
	Width     int
	Height    int
}

// LoadImage opens and decodes an image file, returning the image and metadata.
func LoadImage(path string) (image.Image, Metadata, error) {
	if path == "" {
		return nil, Metadata{}, &ImageProcessingError{Operation: "load", Err: errors.New("empty path")}
	}
	if !IsSupportedImage(path) {
		return nil, Metadata{}, &ImageProcessingError{
			Operation: "load",
			Path:      path,
			Err:       fmt.Errorf("unsupported format: %s", filepath.Ext(path)),
		}
	}

	f, err := os.Open(path) //nolint:gosec // G304: page images are user-provided paths
	if err != nil {
		return nil, Metadata{}, &ImageProcessingError{Operation: "load", Path: path, Err: err}
	}
	defer func() { _ = f.Close() }()

	fi, err := f.Stat()
	if err != nil {
		return nil, Metadata{}, &ImageProcessingError{Operation: "load", Path: path, Err: err}
	}

	img, format, err := image.Decode(f)
	if err != nil {
		return nil, Metadata{}, &ImageProcessingError{Operation: "decode", Path: path, Err: err}
	}

	w, h := Dimensions(img)
	return img, Metadata{Path: path, Format: format, SizeBytes: fi.Size(), Width: w, Height: h}, nil
}

// Loader loads page images from disk.
type Loader struct{}

// Load decodes the image at path.
func (Loader) Load(path string) (image.Image, error) {
	img, _, err := LoadImage(path)
	return img, err
}

// Dimensions returns the width and height of img.
func Dimensions(img image.Image) (int, int) {
	if img == nil {
		return 0, 0
	}
	b := img.Bounds()
	return b.Dx(), b.Dy()
}

// PixelBuffer returns img as a tightly packed NRGBA buffer anchored at the
// origin. NRGBA inputs that already satisfy that are returned as is.
func PixelBuffer(img image.Image) *image.NRGBA {
	if img == nil {
		return image.NewNRGBA(image.Rect(0, 0, 0, 0))
	}
	if n, ok := img.(*image.NRGBA); ok && n.Rect.Min == (image.Point{}) && n.Stride == 4*n.Rect.Dx() {
		return n
	}
	return imaging.Clone(img)
}
