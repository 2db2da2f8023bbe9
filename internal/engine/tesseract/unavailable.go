//go:build !cgo

package tesseract

import "errors"

// errNotBuilt is returned when the binary was built without cgo.
var errNotBuilt = errors.New("tesseract support not built; rebuild with CGO_ENABLED=1")

type unavailableBackend struct{}

func defaultBackend() backend { return unavailableBackend{} }

func (unavailableBackend) available() (string, bool) { return "", false }

func (unavailableBackend) words(request) ([]box, error) { return nil, errNotBuilt }
