package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"reflect"
	"sort"
	"strconv"
	"time"

	ncmberrors "github.com/ncmb/ncmb-go/client/internal/errors"
)

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindDate
	KindGeoPoint
	KindObject
	KindArray
	KindPointer
	KindOperation
	KindDelete
)

var kindNames = [...]string{"null", "bool", "int", "float", "string", "date", "geopoint", "object", "array", "pointer", "operation", "delete"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// Value is a closed union over everything a field can hold. The zero Value is
// null.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	t    time.Time
	geo  GeoPoint
	ptr  Pointer
	obj  *Object
	arr  []Value
	op   *Operation
}

func Null() Value                        { return Value{} }
func BoolValue(b bool) Value             { return Value{kind: KindBool, b: b} }
func IntValue(i int64) Value             { return Value{kind: KindInt, i: i} }
func FloatValue(f float64) Value         { return Value{kind: KindFloat, f: f} }
func StringValue(s string) Value         { return Value{kind: KindString, s: s} }
func DateValue(t time.Time) Value        { return Value{kind: KindDate, t: t} }
func GeoValue(g GeoPoint) Value          { return Value{kind: KindGeoPoint, geo: g} }
func PointerValue(p Pointer) Value       { return Value{kind: KindPointer, ptr: p} }
func ArrayValue(vs []Value) Value        { return Value{kind: KindArray, arr: vs} }
func OperationValue(op *Operation) Value { return Value{kind: KindOperation, op: op} }

// ObjectValue wraps o; a nil o yields an empty object.
func ObjectValue(o *Object) Value {
	if o == nil {
		o = NewObject()
	}
	return Value{kind: KindObject, obj: o}
}

func deleteMarker() Value { return Value{kind: KindDelete} }

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) AsBool() bool { return v.kind == KindBool && v.b }

// AsInt64 returns integral values; floats are truncated.
func (v Value) AsInt64() int64 {
	switch v.kind {
	case KindInt:
		return v.i
	case KindFloat:
		return int64(v.f)
	}
	return 0
}

// AsFloat64 returns numeric values; integers are widened.
func (v Value) AsFloat64() float64 {
	switch v.kind {
	case KindFloat:
		return v.f
	case KindInt:
		return float64(v.i)
	}
	return 0
}

func (v Value) AsString() string {
	if v.kind == KindString {
		return v.s
	}
	return ""
}

func (v Value) AsTime() time.Time {
	if v.kind == KindDate {
		return v.t
	}
	return time.Time{}
}

func (v Value) AsGeoPoint() (GeoPoint, bool) {
	return v.geo, v.kind == KindGeoPoint
}

func (v Value) AsPointer() (Pointer, bool) {
	return v.ptr, v.kind == KindPointer
}

func (v Value) AsObject() *Object {
	if v.kind == KindObject {
		return v.obj
	}
	return nil
}

func (v Value) AsArray() []Value {
	if v.kind == KindArray {
		return v.arr
	}
	return nil
}

func (v Value) AsOperation() *Operation {
	if v.kind == KindOperation {
		return v.op
	}
	return nil
}

// Interface converts v to plain Go values: nil, bool, int64, float64, string,
// time.Time, GeoPoint, Pointer, map[string]any, []any or *Operation.
func (v Value) Interface() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	case KindDate:
		return v.t
	case KindGeoPoint:
		return v.geo
	case KindPointer:
		return v.ptr
	case KindObject:
		return v.obj.Map()
	case KindArray:
		out := make([]any, len(v.arr))
		for i, e := range v.arr {
			out[i] = e.Interface()
		}
		return out
	case KindOperation:
		return v.op.Clone()
	default:
		return nil
	}
}

// Clone deep-copies nested objects, arrays and operations.
func (v Value) Clone() Value {
	switch v.kind {
	case KindObject:
		v.obj = v.obj.Clone()
	case KindArray:
		arr := make([]Value, len(v.arr))
		for i, e := range v.arr {
			arr[i] = e.Clone()
		}
		v.arr = arr
	case KindOperation:
		v.op = v.op.Clone()
	}
	return v
}

// FromAny converts a Go value into a Value. Unsupported types fail with
// E100003.
func FromAny(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t.Clone(), nil
	case bool:
		return BoolValue(t), nil
	case int:
		return IntValue(int64(t)), nil
	case int8:
		return IntValue(int64(t)), nil
	case int16:
		return IntValue(int64(t)), nil
	case int32:
		return IntValue(int64(t)), nil
	case int64:
		return IntValue(t), nil
	case uint:
		return uintValue(uint64(t)), nil
	case uint8:
		return IntValue(int64(t)), nil
	case uint16:
		return IntValue(int64(t)), nil
	case uint32:
		return IntValue(int64(t)), nil
	case uint64:
		return uintValue(t), nil
	case float32:
		return FloatValue(float64(t)), nil
	case float64:
		return FloatValue(t), nil
	case json.Number:
		return numberValue(t)
	case string:
		return StringValue(t), nil
	case time.Time:
		return DateValue(t), nil
	case *time.Time:
		if t == nil {
			return Null(), nil
		}
		return DateValue(*t), nil
	case GeoPoint:
		return GeoValue(t), nil
	case *GeoPoint:
		if t == nil {
			return Null(), nil
		}
		return GeoValue(*t), nil
	case Pointer:
		return PointerValue(t), nil
	case *Object:
		return ObjectValue(t.Clone()), nil
	case *ACL:
		if t == nil {
			return Null(), nil
		}
		return ObjectValue(t.toObject()), nil
	case *Operation:
		if t == nil {
			return Null(), nil
		}
		return OperationValue(t.Clone()), nil
	case json.RawMessage:
		return ParseValue(t)
	case []byte:
		return Null(), ncmberrors.New(ncmberrors.CodeInvalidType, "binary data is not a field value; use a File")
	case map[string]any:
		return mapValue(reflect.ValueOf(t))
	case []any:
		arr := make([]Value, 0, len(t))
		for i, e := range t {
			ev, err := FromAny(e)
			if err != nil {
				return Null(), fmt.Errorf("index %d: %w", i, err)
			}
			arr = append(arr, ev)
		}
		return ArrayValue(arr), nil
	case PointerTarget:
		p, err := PointerTo(t)
		if err != nil {
			return Null(), err
		}
		return PointerValue(p), nil
	}
	return reflectValue(reflect.ValueOf(x))
}

func uintValue(u uint64) Value {
	if u > math.MaxInt64 {
		return FloatValue(float64(u))
	}
	return IntValue(int64(u))
}

func numberValue(n json.Number) (Value, error) {
	if i, err := n.Int64(); err == nil {
		return IntValue(i), nil
	}
	f, err := n.Float64()
	if err != nil {
		return Null(), ncmberrors.Wrap(ncmberrors.CodeInvalidType, err, "invalid number %q", n.String())
	}
	return FloatValue(f), nil
}

// reflectValue handles typed slices and string-keyed maps such as []string or
// map[string]int.
func reflectValue(rv reflect.Value) (Value, error) {
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return Null(), nil
		}
		arr := make([]Value, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			ev, err := FromAny(rv.Index(i).Interface())
			if err != nil {
				return Null(), fmt.Errorf("index %d: %w", i, err)
			}
			arr = append(arr, ev)
		}
		return ArrayValue(arr), nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return Null(), ncmberrors.New(ncmberrors.CodeInvalidType, "map keys must be strings, got %s", rv.Type().Key())
		}
		if rv.IsNil() {
			return Null(), nil
		}
		return mapValue(rv)
	case reflect.Ptr:
		if rv.IsNil() {
			return Null(), nil
		}
		return FromAny(rv.Elem().Interface())
	}
	return Null(), ncmberrors.New(ncmberrors.CodeInvalidType, "unsupported value type %T", safeInterface(rv))
}

func safeInterface(rv reflect.Value) any {
	if !rv.IsValid() {
		return nil
	}
	return rv.Interface()
}

// mapValue converts an unordered map; keys are sorted so encoding is stable.
func mapValue(rv reflect.Value) (Value, error) {
	keys := make([]string, 0, rv.Len())
	for _, k := range rv.MapKeys() {
		keys = append(keys, k.String())
	}
	sort.Strings(keys)
	obj := NewObject()
	for _, k := range keys {
		ev, err := FromAny(rv.MapIndex(reflect.ValueOf(k).Convert(rv.Type().Key())).Interface())
		if err != nil {
			return Null(), fmt.Errorf("key %q: %w", k, err)
		}
		obj.Set(k, ev)
	}
	return ObjectValue(obj), nil
}

// ParseValue decodes a JSON document, recognising the __type and __op
// encodings. Object key order is preserved.
func ParseValue(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := decodeValue(dec)
	if err != nil {
		return Null(), ncmberrors.Wrap(ncmberrors.CodeInvalidJSON, err, "invalid JSON")
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Null(), ncmberrors.New(ncmberrors.CodeInvalidJSON, "trailing data after JSON value")
	}
	return v, nil
}

func decodeValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Null(), err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			obj := NewObject()
			for dec.More() {
				kt, err := dec.Token()
				if err != nil {
					return Null(), err
				}
				key, ok := kt.(string)
				if !ok {
					return Null(), fmt.Errorf("unexpected object key %v", kt)
				}
				ev, err := decodeValue(dec)
				if err != nil {
					return Null(), err
				}
				obj.Set(key, ev)
			}
			if _, err := dec.Token(); err != nil {
				return Null(), err
			}
			return specialize(obj), nil
		case '[':
			arr := []Value{}
			for dec.More() {
				ev, err := decodeValue(dec)
				if err != nil {
					return Null(), err
				}
				arr = append(arr, ev)
			}
			if _, err := dec.Token(); err != nil {
				return Null(), err
			}
			return ArrayValue(arr), nil
		}
		return Null(), fmt.Errorf("unexpected delimiter %v", t)
	case nil:
		return Null(), nil
	case bool:
		return BoolValue(t), nil
	case json.Number:
		return numberValue(t)
	case string:
		return StringValue(t), nil
	}
	return Null(), fmt.Errorf("unexpected token %v", tok)
}

// specialize maps tagged objects to their dedicated kinds. Tagged objects that
// do not carry the expected members stay plain objects.
func specialize(obj *Object) Value {
	if opv, ok := obj.Get("__op"); ok && opv.kind == KindString {
		if v, ok := decodeOperation(opv.s, obj); ok {
			return v
		}
		return ObjectValue(obj)
	}
	tv, ok := obj.Get("__type")
	if !ok || tv.kind != KindString {
		return ObjectValue(obj)
	}
	switch tv.s {
	case "Date":
		iso, _ := obj.Get("iso")
		if t, err := ParseDate(iso.AsString()); err == nil && iso.kind == KindString {
			return DateValue(t)
		}
	case "GeoPoint":
		lat, okLat := obj.Get("latitude")
		lon, okLon := obj.Get("longitude")
		if okLat && okLon && isNumber(lat) && isNumber(lon) {
			return GeoValue(GeoPoint{Latitude: lat.AsFloat64(), Longitude: lon.AsFloat64()})
		}
	case "Pointer":
		cls, _ := obj.Get("className")
		id, _ := obj.Get("objectId")
		if cls.kind == KindString && id.kind == KindString {
			return PointerValue(Pointer{ClassName: cls.s, ObjectID: id.s})
		}
	}
	return ObjectValue(obj)
}

func isNumber(v Value) bool { return v.kind == KindInt || v.kind == KindFloat }

type taggedDate struct {
	Type string `json:"__type"`
	ISO  string `json:"iso"`
}

type taggedGeoPoint struct {
	Type      string  `json:"__type"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type taggedPointer struct {
	Type      string `json:"__type"`
	ClassName string `json:"className"`
	ObjectID  string `json:"objectId"`
}

// MarshalJSON renders the wire encoding of v.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return strconv.AppendBool(nil, v.b), nil
	case KindInt:
		return strconv.AppendInt(nil, v.i, 10), nil
	case KindFloat:
		return json.Marshal(v.f)
	case KindString:
		return json.Marshal(v.s)
	case KindDate:
		return json.Marshal(taggedDate{Type: "Date", ISO: FormatDate(v.t)})
	case KindGeoPoint:
		return json.Marshal(taggedGeoPoint{Type: "GeoPoint", Latitude: v.geo.Latitude, Longitude: v.geo.Longitude})
	case KindPointer:
		return json.Marshal(taggedPointer{Type: "Pointer", ClassName: v.ptr.ClassName, ObjectID: v.ptr.ObjectID})
	case KindObject:
		return v.obj.MarshalJSON()
	case KindArray:
		return marshalArray(v.arr)
	case KindOperation:
		return v.op.MarshalJSON()
	case KindDelete:
		return []byte(`{"__op":"Delete"}`), nil
	}
	return nil, fmt.Errorf("unknown value kind %d", v.kind)
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := ParseValue(data)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func marshalArray(arr []Value) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, e := range arr {
		if i > 0 {
			buf.WriteByte(',')
		}
		b, err := e.MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(b)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}
