// Package cvstorage reads and writes calibration documents in the FileStorage layout used by
// OpenCV, so that the produced files load with cv::FileStorage and friends. XML, YAML and JSON
// are supported and the format is picked from the file extension.
package cvstorage

import (
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Data types of matrix elements.
const (
	TypeFloat64 = "d"
	TypeInt32   = "i"
)

// ErrMissingKey is returned when a document has no entry with the requested name.
var ErrMissingKey = errors.New("no such key in document")

// Value is a value stored under a name in a Document: a *Matrix, Real, Int, String or IntSeq.
type Value interface {
	kind() string
}

// Matrix is a dense row major matrix.
type Matrix struct {
	Rows     int
	Cols     int
	DataType string
	Data     []float64
}

// Real is a floating point scalar.
type Real float64

// Int is an integer scalar.
type Int int

// String is a text scalar.
type String string

// IntSeq is a flat sequence of integers, which is how FileStorage writes rectangles and points.
type IntSeq []int

func (*Matrix) kind() string { return "matrix" }
func (Real) kind() string    { return "real" }
func (Int) kind() string     { return "int" }
func (String) kind() string  { return "string" }
func (IntSeq) kind() string  { return "sequence" }

// NewMatrix copies m into a float64 matrix.
func NewMatrix(m mat.Matrix) *Matrix {
	r, c := m.Dims()
	out := &Matrix{Rows: r, Cols: c, DataType: TypeFloat64, Data: make([]float64, 0, r*c)}
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out.Data = append(out.Data, m.At(i, j))
		}
	}
	return out
}

// NewVector returns v as a column vector, the shape of distortion and translation vectors.
func NewVector(v []float64) *Matrix {
	return &Matrix{Rows: len(v), Cols: 1, DataType: TypeFloat64, Data: append([]float64{}, v...)}
}

// NewIntMatrix returns an int32 matrix with the given row major data.
func NewIntMatrix(rows, cols int, data []int) (*Matrix, error) {
	if rows*cols != len(data) {
		return nil, errors.Errorf("%d values for a %dx%d matrix", len(data), rows, cols)
	}
	out := &Matrix{Rows: rows, Cols: cols, DataType: TypeInt32, Data: make([]float64, len(data))}
	for i, v := range data {
		out.Data[i] = float64(v)
	}
	return out, nil
}

// Dense returns the matrix as a gonum matrix.
func (m *Matrix) Dense() *mat.Dense {
	return mat.NewDense(m.Rows, m.Cols, append([]float64{}, m.Data...))
}

// Ints returns the elements rounded to integers.
func (m *Matrix) Ints() []int {
	out := make([]int, len(m.Data))
	for i, v := range m.Data {
		out[i] = int(math.Round(v))
	}
	return out
}

func (m *Matrix) validate() error {
	if m.Rows < 0 || m.Cols < 0 || m.Rows*m.Cols != len(m.Data) {
		return errors.Errorf("matrix of %dx%d holds %d values", m.Rows, m.Cols, len(m.Data))
	}
	if m.DataType != TypeFloat64 && m.DataType != TypeInt32 {
		return errors.Errorf("unsupported matrix data type %q", m.DataType)
	}
	return nil
}

// Entry is a named value of a document.
type Entry struct {
	Name  string
	Value Value
}

// Document is an ordered list of named values, written in insertion order.
type Document struct {
	entries []Entry
}

// NewDocument returns an empty document.
func NewDocument() *Document {
	return &Document{}
}

// Set stores v under name, replacing a previous value of the same name in place.
func (d *Document) Set(name string, v Value) *Document {
	for i := range d.entries {
		if d.entries[i].Name == name {
			d.entries[i].Value = v
			return d
		}
	}
	d.entries = append(d.entries, Entry{Name: name, Value: v})
	return d
}

// Entries returns the entries in document order.
func (d *Document) Entries() []Entry {
	return d.entries
}

// Get returns the value stored under name.
func (d *Document) Get(name string) (Value, bool) {
	for _, e := range d.entries {
		if e.Name == name {
			return e.Value, true
		}
	}
	return nil, false
}

// Matrix returns the matrix stored under name.
func (d *Document) Matrix(name string) (*Matrix, error) {
	v, ok := d.Get(name)
	if !ok {
		return nil, errors.Wrap(ErrMissingKey, name)
	}
	m, ok := v.(*Matrix)
	if !ok {
		return nil, errors.Errorf("%q is a %s, not a matrix", name, v.kind())
	}
	return m, nil
}

// Dense returns the matrix stored under name as a gonum matrix.
func (d *Document) Dense(name string) (*mat.Dense, error) {
	m, err := d.Matrix(name)
	if err != nil {
		return nil, err
	}
	return m.Dense(), nil
}

// IntSeq returns the integer sequence stored under name.
func (d *Document) IntSeq(name string) ([]int, error) {
	v, ok := d.Get(name)
	if !ok {
		return nil, errors.Wrap(ErrMissingKey, name)
	}
	switch s := v.(type) {
	case IntSeq:
		return s, nil
	case Int:
		return []int{int(s)}, nil
	default:
		return nil, errors.Errorf("%q is a %s, not a sequence", name, v.kind())
	}
}

// Real returns the scalar stored under name. Integers are converted.
func (d *Document) Real(name string) (float64, error) {
	v, ok := d.Get(name)
	if !ok {
		return 0, errors.Wrap(ErrMissingKey, name)
	}
	switch s := v.(type) {
	case Real:
		return float64(s), nil
	case Int:
		return float64(s), nil
	default:
		return 0, errors.Errorf("%q is a %s, not a number", name, v.kind())
	}
}

func (d *Document) validate() error {
	for _, e := range d.entries {
		if !validName(e.Name) {
			return errors.Errorf("invalid key %q", e.Name)
		}
		if e.Value == nil {
			return errors.Errorf("no value for key %q", e.Name)
		}
		if m, ok := e.Value.(*Matrix); ok {
			if err := m.validate(); err != nil {
				return errors.Wrap(err, e.Name)
			}
		}
	}
	return nil
}

// validName accepts the keys FileStorage can write in every format.
func validName(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
		case i > 0 && (r >= '0' && r <= '9' || r == '-'):
		default:
			return false
		}
	}
	return true
}

// formatReal writes v with the fewest digits that read back to the same float64. Integral
// values keep a trailing dot, as FileStorage writes them, or a ".0" in JSON.
func formatReal(v float64, forJSON bool) string {
	switch {
	case math.IsNaN(v):
		return ".Nan"
	case math.IsInf(v, 1):
		return ".Inf"
	case math.IsInf(v, -1):
		return "-.Inf"
	}
	s := strconv.FormatFloat(v, 'g', -1, 64)
	if !strings.ContainsAny(s, ".e") {
		if forJSON {
			return s + ".0"
		}
		return s + "."
	}
	return s
}

func parseReal(s string) (float64, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case ".nan":
		return math.NaN(), nil
	case ".inf", "+.inf":
		return math.Inf(1), nil
	case "-.inf":
		return math.Inf(-1), nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, errors.Wrapf(err, "bad number %q", s)
	}
	return v, nil
}

func formatElement(m *Matrix, v float64, forJSON bool) string {
	if m.DataType == TypeInt32 {
		return strconv.Itoa(int(math.Round(v)))
	}
	return formatReal(v, forJSON)
}

// parseScalar reads an unquoted scalar as an Int when possible, then as a Real.
func parseScalar(s string) (Value, error) {
	s = strings.TrimSpace(s)
	if i, err := strconv.Atoi(s); err == nil {
		return Int(i), nil
	}
	v, err := parseReal(s)
	if err != nil {
		return nil, err
	}
	return Real(v), nil
}

func parseInts(fields []string) ([]int, error) {
	out := make([]int, len(fields))
	for i, f := range fields {
		v, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return nil, errors.Wrapf(err, "bad integer %q", f)
		}
		out[i] = v
	}
	return out, nil
}

func parseMatrixData(m *Matrix, fields []string) error {
	m.Data = make([]float64, len(fields))
	for i, f := range fields {
		v, err := parseReal(f)
		if err != nil {
			return err
		}
		m.Data[i] = v
	}
	return m.validate()
}
