package cache

import (
	"database/sql/driver"
	"encoding"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"
)

// KeySeparator separates the normalized query text from the serialized parameter list.
const KeySeparator = ":"

// defaultKeySerializer implements KeySerializer using reflection-based serialization.
// Parameters keep their position and carry enough type information that a string "1"
// and an integer 1 never produce the same key.
type defaultKeySerializer struct{}

// NewDefaultKeySerializer creates a new instance of the default key serializer.
func NewDefaultKeySerializer() KeySerializer {
	return &defaultKeySerializer{}
}

// DeriveKey builds a cache key with the default serializer.
func DeriveKey(query string, params ...any) string {
	return (&defaultKeySerializer{}).SerializeKey(query, params...)
}

// NormalizeQuery collapses every run of whitespace into a single space and trims both ends.
// Whitespace inside SQL string literals is collapsed too, so literal values belong in params.
func NormalizeQuery(query string) string {
	return strings.Join(strings.Fields(query), " ")
}

// SerializeKey builds the key as normalize(query) + ":" + [p1,p2,...].
func (s *defaultKeySerializer) SerializeKey(query string, params ...any) string {
	parts := make([]string, len(params))
	for i, p := range params {
		parts[i] = s.serializeValue(p, &walk{})
	}

	var b strings.Builder
	b.WriteString(NormalizeQuery(query))
	b.WriteString(KeySeparator)
	b.WriteByte('[')
	b.WriteString(strings.Join(parts, ","))
	b.WriteByte(']')
	return b.String()
}

var (
	timeType  = reflect.TypeOf(time.Time{})
	bytesType = reflect.TypeOf([]byte(nil))
)

// maxDepth bounds recursion into nested params. Self-referential maps and slices end
// up here; pointer cycles are caught earlier.
const maxDepth = 32

// walk is the per-key traversal state.
type walk struct {
	depth int
	seen  map[uintptr]struct{}
}

// enter marks the pointer p as being serialized. It reports false when p is already on
// the current path.
func (w *walk) enter(p uintptr) bool {
	if w.seen == nil {
		w.seen = make(map[uintptr]struct{})
	}
	if _, ok := w.seen[p]; ok {
		return false
	}
	w.seen[p] = struct{}{}
	return true
}

func (w *walk) leave(p uintptr) {
	delete(w.seen, p)
}

// serializeValue handles individual argument serialization based on type.
func (s *defaultKeySerializer) serializeValue(v any, w *walk) string {
	if v == nil {
		return "null"
	}
	if w.depth >= maxDepth {
		return fmt.Sprintf("depth:%T", v)
	}
	w.depth++
	defer func() { w.depth-- }()

	rv := reflect.ValueOf(v)
	rt := rv.Type()

	switch {
	case rt == timeType:
		return `t"` + rv.Interface().(time.Time).UTC().Format(time.RFC3339Nano) + `"`
	case rt == bytesType:
		if rv.IsNil() {
			return "null"
		}
		return `x"` + hex.EncodeToString(rv.Bytes()) + `"`
	}

	switch rt.Kind() {
	case reflect.String:
		return strconv.Quote(rv.String())
	case reflect.Bool:
		return strconv.FormatBool(rv.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(rv.Uint(), 10)
	case reflect.Float32:
		return formatFloat(rv.Float(), 32)
	case reflect.Float64:
		return formatFloat(rv.Float(), 64)
	case reflect.Complex64, reflect.Complex128:
		return fmt.Sprintf("%v", v)
	case reflect.Ptr:
		if rv.IsNil() {
			return "null"
		}
		if elem := rt.Elem(); elem != timeType && elem.Kind() == reflect.Struct {
			if out, ok := s.serializeEncoded(v, w); ok {
				return out
			}
		}
		if !w.enter(rv.Pointer()) {
			return fmt.Sprintf("cycle:%T", v)
		}
		defer w.leave(rv.Pointer())
		return s.serializeValue(rv.Elem().Interface(), w)
	case reflect.Interface:
		if rv.IsNil() {
			return "null"
		}
		return s.serializeValue(rv.Elem().Interface(), w)
	case reflect.Slice:
		if rv.IsNil() {
			return "slice:nil"
		}
		return "slice" + s.serializeSequence(rv, w)
	case reflect.Array:
		return "array" + s.serializeSequence(rv, w)
	case reflect.Map:
		if rv.IsNil() {
			return "map:nil"
		}
		if !w.enter(rv.Pointer()) {
			return fmt.Sprintf("cycle:%T", v)
		}
		defer w.leave(rv.Pointer())
		return s.serializeMap(rv, w)
	case reflect.Struct:
		if out, ok := s.serializeEncoded(v, w); ok {
			return out
		}
		// methods declared on the pointer, like big.Int's
		ptr := reflect.New(rt)
		ptr.Elem().Set(rv)
		if out, ok := s.serializeEncoded(ptr.Interface(), w); ok {
			return out
		}
		return s.serializeStruct(rv, rt, w)
	case reflect.Func:
		// pointers are only stable within a single process lifetime
		return fmt.Sprintf("func:%p", v)
	case reflect.Chan:
		return fmt.Sprintf("chan:%p", v)
	}

	return s.jsonFallback(v)
}

// serializeEncoded uses the value's own encoding when it has one, so types with
// unexported state (decimals, big numbers) still get distinct keys. driver.Valuer wins
// over encoding.TextMarshaler, which wins over fmt.Stringer.
func (s *defaultKeySerializer) serializeEncoded(v any, w *walk) (string, bool) {
	name := typeName(reflect.TypeOf(v))

	if valuer, ok := v.(driver.Valuer); ok {
		if dv, err := valuer.Value(); err == nil {
			return "valuer:" + name + "(" + s.serializeValue(dv, w) + ")", true
		}
	}
	if tm, ok := v.(encoding.TextMarshaler); ok {
		if text, err := tm.MarshalText(); err == nil {
			return "text:" + name + "(" + strconv.Quote(string(text)) + ")", true
		}
	}
	if st, ok := v.(fmt.Stringer); ok {
		return "str:" + name + "(" + strconv.Quote(st.String()) + ")", true
	}
	return "", false
}

// typeName names t without pointer indirections, so T and *T share keys.
func typeName(t reflect.Type) string {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.String()
}

// formatFloat keeps floats distinguishable from integers with the same digits.
func formatFloat(f float64, bitSize int) string {
	out := strconv.FormatFloat(f, 'g', -1, bitSize)
	if strings.ContainsAny(out, ".eEnN") {
		return out
	}
	return out + ".0"
}

func (s *defaultKeySerializer) serializeSequence(rv reflect.Value, w *walk) string {
	length := rv.Len()
	parts := make([]string, length)
	for i := 0; i < length; i++ {
		parts[i] = s.serializeValue(rv.Index(i).Interface(), w)
	}
	return fmt.Sprintf("[%d]:{%s}", length, strings.Join(parts, ","))
}

// serializeMap handles map serialization with sorted keys for determinism
func (s *defaultKeySerializer) serializeMap(rv reflect.Value, w *walk) string {
	pairs := make([]string, 0, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		k := s.serializeValue(iter.Key().Interface(), w)
		val := s.serializeValue(iter.Value().Interface(), w)
		pairs = append(pairs, k+"="+val)
	}
	sort.Strings(pairs)

	return fmt.Sprintf("map[%d]:{%s}", len(pairs), strings.Join(pairs, ","))
}

// serializeStruct walks exported fields. Named types carry their name so two types
// with the same fields do not collide.
func (s *defaultKeySerializer) serializeStruct(rv reflect.Value, rt reflect.Type, w *walk) string {
	numFields := rv.NumField()
	parts := make([]string, 0, numFields)

	for i := 0; i < numFields; i++ {
		field := rt.Field(i)
		if !field.IsExported() {
			continue
		}

		fieldValue := rv.Field(i)
		if !fieldValue.CanInterface() {
			continue
		}

		parts = append(parts, field.Name+":"+s.serializeValue(fieldValue.Interface(), w))
	}

	name := ""
	if rt.Name() != "" {
		name = rt.String()
	}
	return fmt.Sprintf("struct:%s{%s}", name, strings.Join(parts, ","))
}

// jsonFallback provides JSON serialization as a last resort
func (s *defaultKeySerializer) jsonFallback(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("fallback:%T", v)
	}
	return "json:" + string(data)
}
