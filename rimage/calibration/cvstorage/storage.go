package cvstorage

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"go.viam.com/utils"

	rutils "go.viam.com/stereocalib/utils"
)

// Format is the syntax of a document on disk.
type Format int

// The supported formats.
const (
	FormatXML Format = iota
	FormatYAML
	FormatJSON
)

func (f Format) String() string {
	switch f {
	case FormatXML:
		return "xml"
	case FormatYAML:
		return "yaml"
	case FormatJSON:
		return "json"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// FormatFromPath returns the format matching the extension of path.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xml":
		return FormatXML, nil
	case ".yml", ".yaml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return 0, errors.Errorf("no storage format for %q, use .xml, .yml, .yaml or .json", path)
	}
}

// PersistError reports a document that could not be written. Nothing is left at Path when it is
// returned.
type PersistError struct {
	Path string
	Err  error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("cannot persist %q: %v", e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *PersistError) Unwrap() error {
	return e.Err
}

// Encode writes doc to w in format f.
func Encode(w io.Writer, f Format, doc *Document) error {
	if err := doc.validate(); err != nil {
		return err
	}
	bw := bufio.NewWriter(w)
	var err error
	switch f {
	case FormatXML:
		err = encodeXML(bw, doc)
	case FormatYAML:
		err = encodeYAML(bw, doc)
	case FormatJSON:
		err = encodeJSON(bw, doc)
	default:
		return errors.Errorf("unknown format %v", f)
	}
	if err != nil {
		return err
	}
	return bw.Flush()
}

// Decode reads a document of format f from r.
func Decode(r io.Reader, f Format) (*Document, error) {
	switch f {
	case FormatXML:
		return decodeXML(r)
	case FormatYAML:
		return decodeYAML(r)
	case FormatJSON:
		return decodeJSON(r)
	default:
		return nil, errors.Errorf("unknown format %v", f)
	}
}

// Write stores doc at path in the format given by its extension. The file is written next to
// path and moved into place once complete: on failure a *PersistError is returned and path is
// left as it was.
func Write(path string, doc *Document) error {
	f, err := FormatFromPath(path)
	if err != nil {
		return &PersistError{Path: path, Err: err}
	}
	if err := rutils.WriteFileAtomic(path, 0o644, func(w io.Writer) error {
		return Encode(w, f, doc)
	}); err != nil {
		return &PersistError{Path: path, Err: err}
	}
	return nil
}

// Read loads the document stored at path.
func Read(path string) (*Document, error) {
	f, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	//nolint:gosec
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(file.Close)
	doc, err := Decode(file, f)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read %q", path)
	}
	return doc, nil
}
