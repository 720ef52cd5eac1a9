package cvstorage

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const jsonIndent = "    "

func encodeJSON(w *bufio.Writer, doc *Document) error {
	w.WriteString("{\n")
	entries := doc.Entries()
	for k, e := range entries {
		fmt.Fprintf(w, "%s%q: ", jsonIndent, e.Name)
		switch v := e.Value.(type) {
		case *Matrix:
			fmt.Fprintf(w, "{\n%[1]s%[1]s\"type_id\": %[2]q,\n", jsonIndent, matrixTypeID)
			fmt.Fprintf(w, "%[1]s%[1]s\"rows\": %[2]d,\n%[1]s%[1]s\"cols\": %[3]d,\n", jsonIndent, v.Rows, v.Cols)
			fmt.Fprintf(w, "%[1]s%[1]s\"dt\": %[2]q,\n%[1]s%[1]s\"data\": [", jsonIndent, v.DataType)
			for i, x := range v.Data {
				if math.IsNaN(x) || math.IsInf(x, 0) {
					return errors.Errorf("%s: %v cannot be written as json", e.Name, x)
				}
				if i > 0 {
					w.WriteByte(',')
				}
				w.WriteByte(' ')
				w.WriteString(formatElement(v, x, true))
			}
			fmt.Fprintf(w, " ]\n%s}", jsonIndent)
		case IntSeq:
			fields := make([]string, len(v))
			for i, x := range v {
				fields[i] = strconv.Itoa(x)
			}
			fmt.Fprintf(w, "[ %s ]", strings.Join(fields, ", "))
		case Real:
			if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
				return errors.Errorf("%s: %v cannot be written as json", e.Name, float64(v))
			}
			w.WriteString(formatReal(float64(v), true))
		case Int:
			w.WriteString(strconv.Itoa(int(v)))
		case String:
			b, err := json.Marshal(string(v))
			if err != nil {
				return err
			}
			w.Write(b)
		default:
			return errors.Errorf("cannot encode %T", e.Value)
		}
		if k < len(entries)-1 {
			w.WriteByte(',')
		}
		w.WriteByte('\n')
	}
	w.WriteString("}\n")
	return nil
}

type jsonMatrix struct {
	TypeID string        `json:"type_id"`
	Rows   json.Number   `json:"rows"`
	Cols   json.Number   `json:"cols"`
	Dt     string        `json:"dt"`
	Data   []json.Number `json:"data"`
}

func decodeJSON(r io.Reader) (*Document, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, errors.New("expected a json object")
	}
	doc := NewDocument()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		name, ok := tok.(string)
		if !ok {
			return nil, errors.Errorf("expected a key, got %v", tok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, errors.Wrap(err, name)
		}
		v, err := decodeJSONValue(raw)
		if err != nil {
			return nil, errors.Wrap(err, name)
		}
		doc.Set(name, v)
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return doc, nil
}

func decodeJSONValue(raw json.RawMessage) (Value, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, errors.New("empty value")
	}
	switch raw[0] {
	case '{':
		var m jsonMatrix
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, err
		}
		if m.TypeID != matrixTypeID {
			return nil, errors.Errorf("unsupported object type %q", m.TypeID)
		}
		data := make([]string, len(m.Data))
		for i, n := range m.Data {
			data[i] = n.String()
		}
		return matrixFromFields(m.Rows.String(), m.Cols.String(), m.Dt, data)
	case '[':
		var nums []json.Number
		if err := json.Unmarshal(raw, &nums); err != nil {
			return nil, err
		}
		fields := make([]string, len(nums))
		for i, n := range nums {
			fields[i] = n.String()
		}
		ints, err := parseInts(fields)
		if err != nil {
			return nil, err
		}
		return IntSeq(ints), nil
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		return String(s), nil
	default:
		s := string(raw)
		if strings.ContainsAny(s, ".eE") {
			v, err := parseReal(s)
			if err != nil {
				return nil, err
			}
			return Real(v), nil
		}
		i, err := strconv.Atoi(s)
		if err != nil {
			return nil, errors.Errorf("unsupported value %s", s)
		}
		return Int(i), nil
	}
}
