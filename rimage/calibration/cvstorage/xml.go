package cvstorage

import (
	"bufio"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const (
	xmlRoot       = "opencv_storage"
	matrixTypeID  = "opencv-matrix"
	valuesPerLine = 4
)

func encodeXML(w *bufio.Writer, doc *Document) error {
	fmt.Fprintf(w, "<?xml version=\"1.0\"?>\n<%s>\n", xmlRoot)
	for _, e := range doc.Entries() {
		switch v := e.Value.(type) {
		case *Matrix:
			fmt.Fprintf(w, "<%s type_id=\"%s\">\n", e.Name, matrixTypeID)
			fmt.Fprintf(w, "  <rows>%d</rows>\n  <cols>%d</cols>\n  <dt>%s</dt>\n  <data>", v.Rows, v.Cols, v.DataType)
			for i, x := range v.Data {
				if i%valuesPerLine == 0 {
					w.WriteString("\n    ")
				} else {
					w.WriteByte(' ')
				}
				w.WriteString(formatElement(v, x, false))
			}
			fmt.Fprintf(w, "</data></%s>\n", e.Name)
		case IntSeq:
			fields := make([]string, len(v))
			for i, x := range v {
				fields[i] = strconv.Itoa(x)
			}
			fmt.Fprintf(w, "<%s>\n  %s</%s>\n", e.Name, strings.Join(fields, " "), e.Name)
		case Real:
			fmt.Fprintf(w, "<%s>%s</%s>\n", e.Name, formatReal(float64(v), false), e.Name)
		case Int:
			fmt.Fprintf(w, "<%s>%d</%s>\n", e.Name, int(v), e.Name)
		case String:
			fmt.Fprintf(w, "<%s>\"", e.Name)
			if err := xml.EscapeText(w, []byte(v)); err != nil {
				return err
			}
			fmt.Fprintf(w, "\"</%s>\n", e.Name)
		default:
			return errors.Errorf("cannot encode %T", e.Value)
		}
	}
	fmt.Fprintf(w, "</%s>\n", xmlRoot)
	return nil
}

func decodeXML(r io.Reader) (*Document, error) {
	dec := xml.NewDecoder(r)
	doc := NewDocument()
	inRoot := false
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			if inRoot {
				return nil, errors.Errorf("missing </%s>", xmlRoot)
			}
			return nil, errors.Errorf("missing <%s>", xmlRoot)
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if !inRoot {
				if t.Name.Local != xmlRoot {
					return nil, errors.Errorf("expected <%s>, got <%s>", xmlRoot, t.Name.Local)
				}
				inRoot = true
				continue
			}
			v, err := decodeXMLValue(dec, t)
			if err != nil {
				return nil, errors.Wrap(err, t.Name.Local)
			}
			doc.Set(t.Name.Local, v)
		case xml.EndElement:
			return doc, nil
		}
	}
}

func decodeXMLValue(dec *xml.Decoder, start xml.StartElement) (Value, error) {
	for _, a := range start.Attr {
		if a.Name.Local == "type_id" && a.Value == matrixTypeID {
			return decodeXMLMatrix(dec)
		}
	}
	text, err := readXMLText(dec)
	if err != nil {
		return nil, err
	}
	return parseText(text), nil
}

func decodeXMLMatrix(dec *xml.Decoder) (*Matrix, error) {
	fields := map[string]string{}
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			text, err := readXMLText(dec)
			if err != nil {
				return nil, err
			}
			fields[t.Name.Local] = text
		case xml.EndElement:
			return matrixFromFields(fields["rows"], fields["cols"], fields["dt"], strings.Fields(fields["data"]))
		}
	}
}

// readXMLText returns the text of the current element and consumes its end tag.
func readXMLText(dec *xml.Decoder) (string, error) {
	var sb strings.Builder
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.CharData:
			sb.Write(t)
		case xml.StartElement:
			return "", errors.Errorf("unsupported nested element <%s>", t.Name.Local)
		case xml.EndElement:
			return sb.String(), nil
		}
	}
}

// parseText classifies the text of a plain node: quoted strings, integer sequences and scalars.
func parseText(text string) Value {
	s := strings.TrimSpace(text)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return String(s[1 : len(s)-1])
	}
	fields := strings.Fields(s)
	switch len(fields) {
	case 0:
		return String("")
	case 1:
		if v, err := parseScalar(s); err == nil {
			return v
		}
	default:
		if ints, err := parseInts(fields); err == nil {
			return IntSeq(ints)
		}
	}
	return String(s)
}

func matrixFromFields(rows, cols, dt string, data []string) (*Matrix, error) {
	r, err := strconv.Atoi(strings.TrimSpace(rows))
	if err != nil {
		return nil, errors.Wrap(err, "bad matrix rows")
	}
	c, err := strconv.Atoi(strings.TrimSpace(cols))
	if err != nil {
		return nil, errors.Wrap(err, "bad matrix cols")
	}
	m := &Matrix{Rows: r, Cols: c, DataType: strings.TrimSpace(dt)}
	// single precision matrices are widened
	if m.DataType == "f" {
		m.DataType = TypeFloat64
	}
	if err := parseMatrixData(m, data); err != nil {
		return nil, err
	}
	return m, nil
}
