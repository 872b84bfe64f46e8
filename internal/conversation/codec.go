package conversation

import (
	"encoding"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"unicode/utf8"
)

// EncodeMessages serializes a history to JSON. Tool arguments and results
// are sanitized first so encoding never fails on odd payloads.
func EncodeMessages(msgs []Message) ([]byte, error) {
	if msgs == nil {
		msgs = []Message{}
	}
	clean := make([]Message, len(msgs))
	for i, m := range msgs {
		if !m.Kind.Valid() {
			return nil, fmt.Errorf("encode message %d: unknown kind %q", i, m.Kind)
		}
		if m.Arguments != nil {
			m.Arguments = sanitizeMap(m.Arguments)
		}
		if m.Result != nil {
			m.Result = Sanitize(m.Result)
		}
		clean[i] = m
	}
	data, err := json.Marshal(clean)
	if err != nil {
		return nil, fmt.Errorf("encode messages: %w", err)
	}
	return data, nil
}

// DecodeMessages parses a history produced by EncodeMessages.
func DecodeMessages(data []byte) ([]Message, error) {
	if len(data) == 0 {
		return []Message{}, nil
	}
	var msgs []Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	for i, m := range msgs {
		if err := m.Validate(); err != nil {
			return nil, fmt.Errorf("decode message %d: %w", i, err)
		}
	}
	if msgs == nil {
		msgs = []Message{}
	}
	return msgs, nil
}

// Sanitize converts v into a value encoding/json can always represent.
// Binary content becomes "<binary N bytes>", non-finite floats become their
// string form and anything else JSON cannot hold becomes "<unserializable T>".
func Sanitize(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case string:
		if !utf8.ValidString(x) {
			return binaryPlaceholder(len(x))
		}
		return x
	case []byte:
		return binaryPlaceholder(len(x))
	case json.RawMessage:
		if !json.Valid(x) {
			return binaryPlaceholder(len(x))
		}
		return x
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return x
	case float32:
		return sanitizeFloat(float64(x))
	case float64:
		return sanitizeFloat(x)
	case map[string]any:
		return sanitizeMap(x)
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = Sanitize(item)
		}
		return out
	}

	if _, ok := v.(json.Marshaler); ok {
		return roundTrip(v)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Chan, reflect.Func, reflect.Complex64, reflect.Complex128, reflect.UnsafePointer:
		return unserializablePlaceholder(v)
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return Sanitize(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return nil
		}
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return binaryPlaceholder(rv.Len())
		}
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = Sanitize(rv.Index(i).Interface())
		}
		return out
	case reflect.Map:
		if rv.IsNil() {
			return nil
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			key, ok := mapKey(iter.Key())
			if !ok {
				return unserializablePlaceholder(v)
			}
			out[key] = Sanitize(iter.Value().Interface())
		}
		return out
	case reflect.Struct:
		if _, err := json.Marshal(v); err != nil {
			return sanitizeStruct(rv)
		}
	case reflect.String:
		return Sanitize(rv.String())
	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rv.Uint()
	case reflect.Float32, reflect.Float64:
		return sanitizeFloat(rv.Float())
	}
	return roundTrip(v)
}

// roundTrip re-decodes v through JSON so custom marshalers and struct tags
// apply, then sanitizes the generic result.
func roundTrip(v any) any {
	encoded, err := json.Marshal(v)
	if err != nil {
		return unserializablePlaceholder(v)
	}
	var generic any
	if err := json.Unmarshal(encoded, &generic); err != nil {
		return unserializablePlaceholder(v)
	}
	return Sanitize(generic)
}

// sanitizeStruct handles structs json.Marshal rejects, field by field.
// Exported fields use their json tag name; "-" is skipped.
func sanitizeStruct(rv reflect.Value) map[string]any {
	t := rv.Type()
	out := make(map[string]any, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name, opts, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" && opts == "" {
			continue
		}
		if name == "" {
			name = f.Name
		}
		fv := rv.Field(i)
		if strings.Contains(opts, "omitempty") && fv.IsZero() {
			continue
		}
		out[name] = Sanitize(fv.Interface())
	}
	return out
}

func mapKey(k reflect.Value) (string, bool) {
	if tm, ok := k.Interface().(encoding.TextMarshaler); ok {
		b, err := tm.MarshalText()
		return string(b), err == nil
	}
	switch k.Kind() {
	case reflect.String:
		return k.String(), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(k.Int(), 10), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(k.Uint(), 10), true
	}
	return "", false
}

func sanitizeMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, item := range m {
		out[k] = Sanitize(item)
	}
	return out
}

func sanitizeFloat(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	return f
}

func binaryPlaceholder(n int) string {
	return fmt.Sprintf("<binary %d bytes>", n)
}

func unserializablePlaceholder(v any) string {
	return fmt.Sprintf("<unserializable %T>", v)
}
