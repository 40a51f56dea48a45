package vista

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"mrivista/pkg/diag"
	"mrivista/pkg/volume"
)

// Dialect selects how the sub-images of a file become chunks.
type Dialect string

const (
	// DialectAuto detects the dialect from the sub-images.
	DialectAuto Dialect = ""
	// DialectAnatomical loads every sub-image as its own volume.
	DialectAnatomical Dialect = "anatomical"
	// DialectFunctional treats short sub-images as the slices of a time series.
	DialectFunctional Dialect = "functional"
	// DialectMap loads the first float sub-image as a statistical map.
	DialectMap Dialect = "map"
)

// ParseDialect accepts "", "auto", "anatomical", "functional" and "map".
func ParseDialect(s string) (Dialect, error) {
	switch d := Dialect(s); d {
	case DialectAuto, DialectAnatomical, DialectFunctional, DialectMap:
		return d, nil
	case "auto":
		return DialectAuto, nil
	}
	return DialectAuto, fmt.Errorf("%q: %w", s, ErrUnknownDialect)
}

// Option configures Read and Write.
type Option func(*options)

type options struct {
	dialect   Dialect
	logger    logrus.FieldLogger
	maxVoxels int
	compress  int
}

func defaultOptions() *options {
	return &options{maxVoxels: volume.DefaultMaxVoxels, compress: -1}
}

func applyOptions(opts []Option) (*options, *diag.Report) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return o, diag.New(o.logger)
}

// WithDialect forces a dialect instead of detecting it.
func WithDialect(d Dialect) Option {
	return func(o *options) {
		o.dialect = d
	}
}

// WithLogger forwards every diagnostic of the call to l.
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithMaxVoxels bounds the size of each decoded sub-image.
func WithMaxVoxels(n int) Option {
	return func(o *options) {
		o.maxVoxels = n
	}
}

// WithCompression gzips written files at the given level (1-9). Zero disables
// compression; by default only paths ending in ".gz" are compressed.
func WithCompression(level int) Option {
	return func(o *options) {
		if level >= 0 && level <= 9 {
			o.compress = level
		}
	}
}
