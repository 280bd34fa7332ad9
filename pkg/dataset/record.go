// Package dataset folds completed fetch tasks into one deduplicated policy
// export: a dictionary of objects keyed by UID and an ordered set of access
// layers carrying their rules.
package dataset

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// UIDField is the identifier field of every record.
const UIDField = "uid"

var (
	// ErrMissingUID indicates a record without a string uid.
	ErrMissingUID = errors.New("record has no uid")

	// ErrUnknownLayer is matched by every *UnknownLayerError.
	ErrUnknownLayer = errors.New("unknown layer")
)

// UnknownLayerError reports a rule base whose layer was never discovered.
// It means layers were not fetched before rule bases.
type UnknownLayerError struct {
	UID  string
	Task string
}

// Error implements the error interface.
func (e *UnknownLayerError) Error() string {
	if e.Task != "" {
		return fmt.Sprintf("rule base %s references unknown layer %q", e.Task, e.UID)
	}
	return fmt.Sprintf("rule base references unknown layer %q", e.UID)
}

// Unwrap lets errors.Is(err, ErrUnknownLayer) match.
func (e *UnknownLayerError) Unwrap() error {
	return ErrUnknownLayer
}

// Record is one domain object as returned by the management API. Numbers
// are kept as json.Number so they encode back unchanged.
type Record map[string]any

// UID returns the record identifier, or "" if it has none.
func (r Record) UID() string {
	uid, _ := r[UIDField].(string)
	return uid
}

// Encode returns the canonical encoding of r: JSON with sorted keys, ", "
// and ": " separators, no HTML escaping and every non-ASCII character escaped
// as \uXXXX. This is the default output of Python's json module apart from
// key order.
func (r Record) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeValue(&buf, map[string]any(r)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeValue(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case Record:
		return encodeValue(buf, map[string]any(val))
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteString(", ")
			}
			if err := encodeString(buf, k); err != nil {
				return err
			}
			buf.WriteString(": ")
			if err := encodeValue(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case []any:
		buf.WriteByte('[')
		for i, e := range val {
			if i > 0 {
				buf.WriteString(", ")
			}
			if err := encodeValue(buf, e); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case string:
		return encodeString(buf, val)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(b)
	}
	return nil
}

// encodeString writes s as a JSON string restricted to printable ASCII.
func encodeString(buf *bytes.Buffer, s string) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	for _, c := range strings.TrimSuffix(tmp.String(), "\n") {
		switch {
		case c == 0x7f:
			fmt.Fprintf(buf, `\u%04x`, c)
		case c < utf8.RuneSelf:
			buf.WriteByte(byte(c))
		case c > 0xffff:
			r1, r2 := utf16.EncodeRune(c)
			fmt.Fprintf(buf, `\u%04x\u%04x`, r1, r2)
		default:
			fmt.Fprintf(buf, `\u%04x`, c)
		}
	}
	return nil
}

// EncodedLen returns the byte length of the canonical encoding, or -1 if r
// cannot be encoded.
func (r Record) EncodedLen() int {
	b, err := r.Encode()
	if err != nil {
		return -1
	}
	return len(b)
}

// decodeObject decodes a JSON object keeping numbers as json.Number.
func decodeObject(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, errors.New("output is not a JSON object")
	}
	return obj, nil
}

// asRecord converts a decoded JSON value to a Record if it is an object.
func asRecord(v any) (Record, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	return Record(m), true
}

// asList returns the array stored under key, or nil.
func asList(obj map[string]any, key string) []any {
	list, _ := obj[key].([]any)
	return list
}
