package docval

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"time"

	"github.com/tailscale/hujson"
)

// ParseJSON decodes a JSON (or JWCC: comments and trailing commas) value,
// preserving document key order. Integral numbers become Int when they fit
// 32 bits and Long when they fit 64; everything else is Double.
func ParseJSON(data []byte) (Value, error) {
	std, err := hujson.Standardize(data)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(std))
	dec.UseNumber()
	v, err := decodeValue(dec)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("unexpected data after top-level value")
	}
	return v, nil
}

// ParseDocument is ParseJSON for input that must be an object.
func ParseDocument(data []byte) (*Document, error) {
	v, err := ParseJSON(data)
	if err != nil {
		return nil, err
	}
	d, ok := v.(*Document)
	if !ok {
		return nil, fmt.Errorf("expected a JSON object, got %v", v.Kind())
	}
	return d, nil
}

func decodeValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch tok := tok.(type) {
	case nil:
		return Null{}, nil
	case bool:
		return Bool(tok), nil
	case string:
		return String(tok), nil
	case json.Number:
		return parseNumber(tok)
	case json.Delim:
		switch tok {
		case '{':
			d := &Document{}
			for dec.More() {
				kt, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key := kt.(string)
				v, err := decodeValue(dec)
				if err != nil {
					return nil, fmt.Errorf("%s: %w", key, err)
				}
				d.Set(key, v)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return d, nil
		case '[':
			arr := Array{}
			for dec.More() {
				v, err := decodeValue(dec)
				if err != nil {
					return nil, fmt.Errorf("[%d]: %w", len(arr), err)
				}
				arr = append(arr, v)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return arr, nil
		}
	}
	return nil, fmt.Errorf("unexpected JSON token %v", tok)
}

func parseNumber(n json.Number) (Value, error) {
	s := string(n)
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return intValue(i), nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return Double(f), nil
}

// MarshalJSON renders the document with keys in insertion order. Binary
// values become base64 strings and times RFC 3339 strings, so those kinds
// do not survive a JSON round trip.
func (d *Document) MarshalJSON() ([]byte, error) {
	return AppendJSON(nil, d)
}

func AppendJSON(buf []byte, v Value) ([]byte, error) {
	switch v := v.(type) {
	case nil, Null:
		return append(buf, "null"...), nil
	case Bool:
		return strconv.AppendBool(buf, bool(v)), nil
	case Int:
		return strconv.AppendInt(buf, int64(v), 10), nil
	case Long:
		return strconv.AppendInt(buf, int64(v), 10), nil
	case Double:
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("cannot represent %v in JSON", f)
		}
		if f == math.Trunc(f) && math.Abs(f) < 1e15 {
			// keep doubles distinguishable from integers
			return strconv.AppendFloat(buf, f, 'f', 1, 64), nil
		}
		return strconv.AppendFloat(buf, f, 'g', -1, 64), nil
	case String:
		return appendJSONString(buf, string(v)), nil
	case Binary:
		return appendJSONString(buf, base64.StdEncoding.EncodeToString(v)), nil
	case Time:
		return appendJSONString(buf, v.T().Format(time.RFC3339Nano)), nil
	case Array:
		buf = append(buf, '[')
		for i, e := range v {
			if i > 0 {
				buf = append(buf, ',')
			}
			var err error
			buf, err = AppendJSON(buf, e)
			if err != nil {
				return nil, err
			}
		}
		return append(buf, ']'), nil
	case *Document:
		buf = append(buf, '{')
		for i, e := range v.entries {
			if i > 0 {
				buf = append(buf, ',')
			}
			buf = appendJSONString(buf, e.Key)
			buf = append(buf, ':')
			var err error
			buf, err = AppendJSON(buf, e.Value)
			if err != nil {
				return nil, err
			}
		}
		return append(buf, '}'), nil
	default:
		return nil, fmt.Errorf("unsupported value %T", v)
	}
}

func appendJSONString(buf []byte, s string) []byte {
	b, err := json.Marshal(s)
	if err != nil {
		panic(err)
	}
	return append(buf, b...)
}
