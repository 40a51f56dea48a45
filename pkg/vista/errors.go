// Package vista reads and writes the Vista data format: a Latin-1 attribute
// list header followed by raw big-endian pixel blocks, one per sub-image.
//
// The container layer (File, AttrList, Object) is format syntax only. Read and
// Write map containers to volume chunks and images, selecting one of three
// dialects that decide how a set of sub-images becomes a volume.
package vista

import "errors"

// Common errors
var (
	ErrMalformed            = errors.New("malformed vista data")
	ErrUnsupportedType      = errors.New("unsupported pixel type")
	ErrUnknownDialect       = errors.New("unknown dialect")
	ErrMissingGeometry      = errors.New("missing geometry attribute")
	ErrInconsistentGeometry = errors.New("inconsistent geometry")
	ErrNoUsableImage        = errors.New("no usable image")
	ErrNothingLoaded        = errors.New("no images loaded")
)

// PathError records a file system failure with the path involved.
type PathError struct {
	Op   string
	Path string
	Err  error
}

func (e *PathError) Error() string {
	return "vista: " + e.Op + " " + e.Path + ": " + e.Err.Error()
}

func (e *PathError) Unwrap() error { return e.Err }
