package vista

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"

	"mrivista/pkg/diag"
	"mrivista/pkg/volume"
)

// ReadFile reads a Vista file, gzip compressed or not. See Read.
func ReadFile(path string, opts ...Option) ([]*volume.Chunk, *diag.Report, error) {
	f, err := os.Open(path)
	if err != nil {
		_, rep := applyOptions(opts)
		return nil, rep, &PathError{Op: "open", Path: path, Err: err}
	}
	defer f.Close()
	chunks, rep, err := Read(bufio.NewReader(f), opts...)
	if err != nil {
		return nil, rep, &PathError{Op: "read", Path: path, Err: err}
	}
	return chunks, rep, nil
}

// ReadImageFile reads a Vista file and groups the chunks into images.
func ReadImageFile(path string, opts ...Option) ([]*volume.Image, *diag.Report, error) {
	chunks, rep, err := ReadFile(path, opts...)
	if err != nil {
		return nil, rep, err
	}
	images, err := volume.BuildImages(chunks)
	return images, rep, err
}

// WriteFile writes img to path. Paths ending in ".gz" are compressed unless
// WithCompression(0) is given. The file is written under a temporary name and
// renamed into place, so a failed write leaves no file behind.
func WriteFile(path string, img *volume.Image, opts ...Option) (*diag.Report, error) {
	o, rep := applyOptions(opts)
	f, err := BuildFile(img, rep)
	if err != nil {
		return rep, err
	}
	level := o.compress
	if level < 0 {
		level = 0
		if strings.HasSuffix(path, ".gz") {
			level = gzip.DefaultCompression
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return rep, &PathError{Op: "create", Path: path, Err: err}
	}
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if err := encodeTo(tmp, f, level); err != nil {
		return rep, &PathError{Op: "write", Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return rep, &PathError{Op: "close", Path: path, Err: err}
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		committed = true
		return rep, &PathError{Op: "rename", Path: path, Err: err}
	}
	committed = true
	rep.Debugf("wrote %s", path)
	return rep, nil
}

// encodeTo encodes f, gzipped when level is positive.
func encodeTo(w io.Writer, f *File, level int) error {
	if level == 0 {
		return Encode(w, f)
	}
	zw, err := gzip.NewWriterLevel(w, level)
	if err != nil {
		return err
	}
	if err := Encode(zw, f); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}
