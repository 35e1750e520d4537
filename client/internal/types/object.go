package types

import (
	"bytes"
	"encoding/json"

	ncmberrors "github.com/ncmb/ncmb-go/client/internal/errors"
)

// Object is a string-keyed map that remembers insertion order. It is not safe
// for concurrent use; Container guards its own Object.
type Object struct {
	keys []string
	vals map[string]Value
}

func NewObject() *Object {
	return &Object{vals: make(map[string]Value)}
}

func (o *Object) Len() int {
	if o == nil {
		return 0
	}
	return len(o.keys)
}

// Keys returns a copy of the keys in insertion order.
func (o *Object) Keys() []string {
	if o == nil {
		return nil
	}
	out := make([]string, len(o.keys))
	copy(out, o.keys)
	return out
}

func (o *Object) Get(key string) (Value, bool) {
	if o == nil {
		return Null(), false
	}
	v, ok := o.vals[key]
	return v, ok
}

// Set stores v under key, keeping the original position of an existing key.
func (o *Object) Set(key string, v Value) {
	if _, ok := o.vals[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.vals[key] = v
}

func (o *Object) Delete(key string) {
	if _, ok := o.vals[key]; !ok {
		return
	}
	delete(o.vals, key)
	for i, k := range o.keys {
		if k == key {
			o.keys = append(o.keys[:i], o.keys[i+1:]...)
			break
		}
	}
}

// Clone deep-copies o. Cloning nil returns nil.
func (o *Object) Clone() *Object {
	if o == nil {
		return nil
	}
	c := &Object{keys: make([]string, len(o.keys)), vals: make(map[string]Value, len(o.vals))}
	copy(c.keys, o.keys)
	for k, v := range o.vals {
		c.vals[k] = v.Clone()
	}
	return c
}

// Map converts o to a plain map via Value.Interface.
func (o *Object) Map() map[string]any {
	if o == nil {
		return nil
	}
	out := make(map[string]any, len(o.keys))
	for _, k := range o.keys {
		out[k] = o.vals[k].Interface()
	}
	return out
}

// MarshalJSON writes members in insertion order.
func (o *Object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	if o != nil {
		for i, k := range o.keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			vb, err := o.vals[k].MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(vb)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON accepts any JSON object. Tagged objects (Date, Pointer, ...)
// are rejected because they are not plain objects.
func (o *Object) UnmarshalJSON(data []byte) error {
	v, err := ParseValue(data)
	if err != nil {
		return err
	}
	if v.kind != KindObject {
		return ncmberrors.New(ncmberrors.CodeInvalidJSON, "expected JSON object, got %s", v.kind)
	}
	*o = *v.obj
	return nil
}

// ParseObject decodes a JSON object document.
func ParseObject(data []byte) (*Object, error) {
	o := NewObject()
	if err := o.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return o, nil
}
