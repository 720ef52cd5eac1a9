package cvstorage

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const yamlHeader = "%YAML:1.0"

func encodeYAML(w *bufio.Writer, doc *Document) error {
	fmt.Fprintf(w, "%s\n---\n", yamlHeader)
	for _, e := range doc.Entries() {
		switch v := e.Value.(type) {
		case *Matrix:
			fmt.Fprintf(w, "%s: !!%s\n", e.Name, matrixTypeID)
			fmt.Fprintf(w, "   rows: %d\n   cols: %d\n   dt: %s\n   data: [", v.Rows, v.Cols, v.DataType)
			for i, x := range v.Data {
				if i > 0 {
					w.WriteByte(',')
				}
				w.WriteByte(' ')
				w.WriteString(formatElement(v, x, false))
			}
			w.WriteString(" ]\n")
		case IntSeq:
			fields := make([]string, len(v))
			for i, x := range v {
				fields[i] = strconv.Itoa(x)
			}
			fmt.Fprintf(w, "%s: [ %s ]\n", e.Name, strings.Join(fields, ", "))
		case Real:
			fmt.Fprintf(w, "%s: %s\n", e.Name, formatReal(float64(v), false))
		case Int:
			fmt.Fprintf(w, "%s: %d\n", e.Name, int(v))
		case String:
			fmt.Fprintf(w, "%s: %s\n", e.Name, strconv.Quote(string(v)))
		default:
			return errors.Errorf("cannot encode %T", e.Value)
		}
	}
	return nil
}

func decodeYAML(r io.Reader) (*Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	// the FileStorage directive is not valid YAML 1.1
	if bytes.HasPrefix(data, []byte("%YAML:")) {
		if i := bytes.IndexByte(data, '\n'); i >= 0 {
			data = data[i+1:]
		} else {
			data = nil
		}
	}
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, err
	}
	doc := NewDocument()
	if len(root.Content) == 0 {
		return doc, nil
	}
	m := root.Content[0]
	if m.Kind != yaml.MappingNode {
		return nil, errors.Errorf("expected a mapping at line %d", m.Line)
	}
	for i := 0; i+1 < len(m.Content); i += 2 {
		name := m.Content[i].Value
		v, err := decodeYAMLValue(m.Content[i+1])
		if err != nil {
			return nil, errors.Wrap(err, name)
		}
		doc.Set(name, v)
	}
	return doc, nil
}

func decodeYAMLValue(n *yaml.Node) (Value, error) {
	switch n.Kind {
	case yaml.MappingNode:
		fields := map[string]*yaml.Node{}
		for i := 0; i+1 < len(n.Content); i += 2 {
			fields[n.Content[i].Value] = n.Content[i+1]
		}
		rows, cols, dt, data := fields["rows"], fields["cols"], fields["dt"], fields["data"]
		if rows == nil || cols == nil || dt == nil || data == nil {
			return nil, errors.Errorf("unsupported mapping at line %d", n.Line)
		}
		return matrixFromFields(rows.Value, cols.Value, dt.Value, scalarValues(data))
	case yaml.SequenceNode:
		ints, err := parseInts(scalarValues(n))
		if err != nil {
			return nil, err
		}
		return IntSeq(ints), nil
	case yaml.ScalarNode:
		if n.Style&(yaml.DoubleQuotedStyle|yaml.SingleQuotedStyle) != 0 {
			return String(n.Value), nil
		}
		if v, err := parseScalar(n.Value); err == nil {
			return v, nil
		}
		return String(n.Value), nil
	default:
		return nil, errors.Errorf("unsupported node at line %d", n.Line)
	}
}

func scalarValues(n *yaml.Node) []string {
	out := make([]string, 0, len(n.Content))
	for _, c := range n.Content {
		out = append(out, c.Value)
	}
	return out
}
