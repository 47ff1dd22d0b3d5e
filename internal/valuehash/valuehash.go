// Package valuehash computes deterministic content hashes of JSON-like values.
//
// Two values hash equal iff they are structurally equal: object keys are
// compared irrespective of order, arrays positionally. Numbers compare by value,
// so an int decoded from YAML and a float64 decoded from JSON hash the same.
package valuehash

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"unicode/utf8"

	"github.com/zeebo/blake3"
)

// Size is the length of a hash returned by Sum.
const Size = 64

// Kind classifies a JSON-like node.
type Kind int

const (
	Null Kind = iota
	Scalar
	Array
	Object
)

func (k Kind) String() string {
	switch k {
	case Null:
		return "null"
	case Scalar:
		return "scalar"
	case Array:
		return "array"
	case Object:
		return "object"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// KindOf reports the node kind of v. Only the decoded JSON container types
// ([]any and map[string]any) count as arrays and objects; every other non-nil
// value is a scalar.
func KindOf(v any) Kind {
	switch v.(type) {
	case nil:
		return Null
	case []any:
		return Array
	case map[string]any:
		return Object
	default:
		return Scalar
	}
}

// Sum returns the hex-encoded BLAKE3-256 digest of the canonical form of v.
func Sum(v any) string {
	sum := blake3.Sum256(Canonical(v))
	return hex.EncodeToString(sum[:])
}

// Canonical serializes v as JSON with object keys sorted at every level.
func Canonical(v any) []byte {
	var buf bytes.Buffer
	writeValue(&buf, v)
	return buf.Bytes()
}

func writeValue(buf *bytes.Buffer, v any) {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case string:
		writeString(buf, val)
	case json.Number:
		if f, err := val.Float64(); err == nil {
			writeFloat(buf, f)
		} else {
			writeString(buf, val.String())
		}
	case float64:
		writeFloat(buf, val)
	case float32:
		writeFloat(buf, float64(val))
	case int:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
	case int8:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
	case int16:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
	case int32:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
	case int64:
		buf.WriteString(strconv.FormatInt(val, 10))
	case uint:
		buf.WriteString(strconv.FormatUint(uint64(val), 10))
	case uint8:
		buf.WriteString(strconv.FormatUint(uint64(val), 10))
	case uint16:
		buf.WriteString(strconv.FormatUint(uint64(val), 10))
	case uint32:
		buf.WriteString(strconv.FormatUint(uint64(val), 10))
	case uint64:
		buf.WriteString(strconv.FormatUint(val, 10))
	case []any:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeValue(buf, item)
		}
		buf.WriteByte(']')
	case []string:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeString(buf, item)
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeString(buf, k)
			buf.WriteByte(':')
			writeValue(buf, val[k])
		}
		buf.WriteByte('}')
	case map[string]string:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeString(buf, k)
			buf.WriteByte(':')
			writeString(buf, val[k])
		}
		buf.WriteByte('}')
	case map[any]any:
		converted := make(map[string]any, len(val))
		for k, item := range val {
			converted[fmt.Sprint(k)] = item
		}
		writeValue(buf, converted)
	default:
		writeOther(buf, val)
	}
}

// writeOther handles structs, typed slices and maps by round-tripping them
// through encoding/json into the generic container types.
func writeOther(buf *bytes.Buffer, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		writeString(buf, fmt.Sprintf("%#v", v))
		return
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		writeString(buf, string(raw))
		return
	}
	writeValue(buf, decoded)
}

// writeString emits s as a JSON string. Strings holding invalid UTF-8 are
// Go-quoted instead, since encoding/json folds every bad byte into U+FFFD.
// Unquoting either form gives back s, so distinct strings stay distinct.
func writeString(buf *bytes.Buffer, s string) {
	if !utf8.ValidString(s) {
		buf.WriteString(strconv.Quote(s))
		return
	}
	raw, _ := json.Marshal(s)
	buf.Write(raw)
}

func writeFloat(buf *bytes.Buffer, f float64) {
	switch {
	case math.IsNaN(f) || math.IsInf(f, 0):
		buf.WriteString("null")
	case f == 0:
		// -0 == 0
		buf.WriteString("0")
	case f == math.Trunc(f) && math.Abs(f) < 1e21:
		buf.WriteString(strconv.FormatFloat(f, 'f', -1, 64))
	default:
		buf.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
	}
}
