package types

import (
	"sync"
	"time"

	ncmberrors "github.com/ncmb/ncmb-go/client/internal/errors"
)

// Reserved keys written by the server.
const (
	KeyObjectID   = "objectId"
	KeyCreateDate = "createDate"
	KeyUpdateDate = "updateDate"
	KeyACL        = "acl"
)

var reservedKeys = map[string]struct{}{
	KeyObjectID:   {},
	KeyCreateDate: {},
	KeyUpdateDate: {},
	KeyACL:        {},
}

// Container is the field bag behind every entity: an ordered key/value store
// plus the set of keys changed since the last sync. It is safe for concurrent
// use.
type Container struct {
	mu        sync.RWMutex
	className string
	fields    *Object
	dirty     map[string]struct{}

	// seq numbers local writes; version holds each key's last one. chain is
	// the write that started the key's pending increment.
	seq     uint64
	version map[string]uint64
	chain   map[string]uint64
}

// Sent describes a payload taken from a Container: the keys it carries and
// the write each key was at when it was taken.
type Sent struct {
	Keys    []string
	seq     uint64
	version map[string]uint64
	chain   map[string]uint64
	inc     map[string]*Operation
}

func NewContainer(className string) *Container {
	return &Container{
		className: className,
		fields:    NewObject(),
		dirty:     make(map[string]struct{}),
		version:   make(map[string]uint64),
		chain:     make(map[string]uint64),
	}
}

// NewContainerFromJSON builds a clean container from a server document.
func NewContainerFromJSON(className string, data []byte) (*Container, error) {
	obj, err := ParseObject(data)
	if err != nil {
		return nil, err
	}
	return NewContainerFromObject(className, obj), nil
}

// NewContainerFromObject adopts obj (not copied) as the field set.
func NewContainerFromObject(className string, obj *Object) *Container {
	c := NewContainer(className)
	if obj != nil {
		c.fields = obj
	}
	return c
}

func (c *Container) ClassName() string { return c.className }

// Put stores v under key and marks it dirty. Reserved keys have dedicated
// setters.
func (c *Container) Put(key string, v any) error {
	if err := checkKey(key); err != nil {
		return err
	}
	val, err := FromAny(v)
	if err != nil {
		return err
	}
	c.PutValue(key, val)
	return nil
}

// PutValue stores an already converted value and marks key dirty. It does not
// guard reserved keys; entity code uses it for fields such as acl.
func (c *Container) PutValue(key string, v Value) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fields.Set(key, v)
	c.touchLocked(key)
}

// touchLocked records a local write of key.
func (c *Container) touchLocked(key string) {
	c.seq++
	c.version[key] = c.seq
	c.dirty[key] = struct{}{}
	delete(c.chain, key)
}

func checkKey(key string) error {
	if key == "" {
		return ncmberrors.New(ncmberrors.CodeGeneric, "field name must not be empty")
	}
	if _, ok := reservedKeys[key]; ok {
		return ncmberrors.New(ncmberrors.CodeGeneric, "%q is reserved; use its dedicated setter", key)
	}
	return nil
}

// Get returns the value under key. Keys removed locally read as absent.
func (c *Container) Get(key string) (Value, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.fields.Get(key)
	if !ok || v.kind == KindDelete {
		return Null(), false
	}
	return v.Clone(), true
}

func (c *Container) String(key string) string {
	v, _ := c.Get(key)
	return v.AsString()
}

// Int returns integral fields as int; floats are truncated.
func (c *Container) Int(key string) int {
	v, _ := c.Get(key)
	return int(v.AsInt64())
}

func (c *Container) Int64(key string) int64 {
	v, _ := c.Get(key)
	return v.AsInt64()
}

func (c *Container) Float64(key string) float64 {
	v, _ := c.Get(key)
	return v.AsFloat64()
}

func (c *Container) Bool(key string) bool {
	v, _ := c.Get(key)
	return v.AsBool()
}

// Date returns the zero time when key holds no date. createDate and updateDate
// arrive from the server as bare strings and are parsed here.
func (c *Container) Date(key string) time.Time {
	v, _ := c.Get(key)
	if v.kind == KindString {
		t, _ := ParseDate(v.s)
		return t
	}
	return v.AsTime()
}

func (c *Container) GeoPoint(key string) (GeoPoint, bool) {
	v, _ := c.Get(key)
	return v.AsGeoPoint()
}

func (c *Container) Pointer(key string) (Pointer, bool) {
	v, _ := c.Get(key)
	return v.AsPointer()
}

// JSONObject returns a nested object as a plain map, or nil.
func (c *Container) JSONObject(key string) map[string]any {
	v, _ := c.Get(key)
	if v.kind != KindObject {
		return nil
	}
	return v.obj.Map()
}

// JSONArray returns a nested array as plain values, or nil.
func (c *Container) JSONArray(key string) []any {
	v, _ := c.Get(key)
	if v.kind != KindArray {
		return nil
	}
	out, _ := v.Interface().([]any)
	return out
}

// List is JSONArray under the name list-typed callers expect.
func (c *Container) List(key string) []any { return c.JSONArray(key) }

// Map is JSONObject under the name map-typed callers expect.
func (c *Container) Map(key string) map[string]any { return c.JSONObject(key) }

// StringList returns the string members of an array field.
func (c *Container) StringList(key string) []string {
	v, _ := c.Get(key)
	if v.kind != KindArray {
		return nil
	}
	out := make([]string, 0, len(v.arr))
	for _, e := range v.arr {
		if e.kind == KindString {
			out = append(out, e.s)
		}
	}
	return out
}

// Remove deletes key locally and schedules its deletion on the server. Removing
// an absent key is a no-op.
func (c *Container) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.fields.Get(key); !ok {
		return
	}
	c.fields.Set(key, deleteMarker())
	c.touchLocked(key)
}

// ContainsKey reports whether key holds a non-null value.
func (c *Container) ContainsKey(key string) bool {
	v, ok := c.Get(key)
	return ok && v.kind != KindNull
}

// Keys returns field names in insertion order, excluding removed keys.
func (c *Container) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, c.fields.Len())
	for _, k := range c.fields.keys {
		if c.fields.vals[k].kind != KindDelete {
			out = append(out, k)
		}
	}
	return out
}

// DirtyKeys returns the keys changed since the last sync in field order.
func (c *Container) DirtyKeys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dirtyKeysLocked()
}

func (c *Container) dirtyKeysLocked() []string {
	out := make([]string, 0, len(c.dirty))
	for _, k := range c.fields.keys {
		if _, ok := c.dirty[k]; ok {
			out = append(out, k)
		}
	}
	return out
}

func (c *Container) IsDirty(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.dirty[key]
	return ok
}

func (c *Container) HasChanges() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.dirty) > 0
}

func (c *Container) ClearDirty() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dirty = make(map[string]struct{})
}

// ObjectID returns "" until the entity has been saved.
func (c *Container) ObjectID() string { return c.String(KeyObjectID) }

// SetObjectID writes server-confirmed identity without dirtying.
func (c *Container) SetObjectID(id string) {
	c.setClean(KeyObjectID, StringValue(id))
}

func (c *Container) CreateDate() time.Time { return c.Date(KeyCreateDate) }
func (c *Container) UpdateDate() time.Time { return c.Date(KeyUpdateDate) }

func (c *Container) SetCreateDate(t time.Time) { c.setClean(KeyCreateDate, DateValue(t)) }
func (c *Container) SetUpdateDate(t time.Time) { c.setClean(KeyUpdateDate, DateValue(t)) }

func (c *Container) setClean(key string, v Value) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fields.Set(key, v)
	delete(c.dirty, key)
}

// ACL returns a copy of the entity's ACL, or nil when none is set.
func (c *Container) ACL() *ACL {
	v, ok := c.Get(KeyACL)
	if !ok || v.kind != KindObject {
		return nil
	}
	return aclFromObject(v.obj)
}

// SetACL records an ACL change to send on the next save.
func (c *Container) SetACL(acl *ACL) {
	if acl == nil {
		acl = NewACL()
	}
	c.PutValue(KeyACL, ObjectValue(acl.toObject()))
}

// Increment installs an Increment operation. Repeated increments before a
// save accumulate.
func (c *Container) Increment(key string, amount any) error {
	if err := checkKey(key); err != nil {
		return err
	}
	op, err := NewIncrement(amount)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	start := c.chain[key]
	if cur, ok := c.fields.Get(key); ok && cur.kind == KindOperation && cur.op.Kind == OpIncrement {
		if _, pending := c.dirty[key]; pending {
			op = cur.op.mergeIncrement(op)
		} else {
			start = 0
		}
	} else {
		start = 0
	}
	c.fields.Set(key, OperationValue(op))
	c.touchLocked(key)
	if start == 0 {
		start = c.seq
	}
	c.chain[key] = start
	return nil
}

// AddToList, AddUniqueToList and RemoveFromList install list operations; a
// previous pending operation on key is replaced.
func (c *Container) AddToList(key string, values []any) error {
	return c.putListOp(key, OpAdd, values)
}

func (c *Container) AddUniqueToList(key string, values []any) error {
	return c.putListOp(key, OpAddUnique, values)
}

func (c *Container) RemoveFromList(key string, values []any) error {
	return c.putListOp(key, OpRemove, values)
}

func (c *Container) putListOp(key string, kind OpKind, values []any) error {
	if err := checkKey(key); err != nil {
		return err
	}
	op, err := NewListOperation(kind, values)
	if err != nil {
		return err
	}
	c.PutValue(key, OperationValue(op))
	return nil
}

// AddRelation and RemoveRelation install relation operations over targets.
func (c *Container) AddRelation(key string, targets ...PointerTarget) error {
	return c.putRelationOp(key, OpAddRelation, targets)
}

func (c *Container) RemoveRelation(key string, targets ...PointerTarget) error {
	return c.putRelationOp(key, OpRemoveRelation, targets)
}

func (c *Container) putRelationOp(key string, kind OpKind, targets []PointerTarget) error {
	if err := checkKey(key); err != nil {
		return err
	}
	op, err := NewRelationOperation(kind, targets)
	if err != nil {
		return err
	}
	c.PutValue(key, OperationValue(op))
	return nil
}

// Snapshot returns a deep copy of every field, including pending operations.
func (c *Container) Snapshot() *Object {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap := NewObject()
	for _, k := range c.fields.keys {
		v := c.fields.vals[k]
		if v.kind == KindDelete {
			continue
		}
		snap.Set(k, v.Clone())
	}
	return snap
}

// ToJSON encodes the full field set.
func (c *Container) ToJSON() ([]byte, error) {
	return c.Snapshot().MarshalJSON()
}

// DirtyPayload returns the update body (dirty keys only) and the keys it
// covers. Removed keys encode as {"__op":"Delete"}.
func (c *Container) DirtyPayload() (*Object, Sent) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := c.dirtyKeysLocked()
	body := NewObject()
	for _, k := range keys {
		body.Set(k, c.fields.vals[k].Clone())
	}
	return body, c.sentLocked(keys)
}

// CreatePayload returns the create body: every field except server-owned
// identity, and the keys it covers. Locally removed keys are omitted.
func (c *Container) CreatePayload() (*Object, Sent) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	body := NewObject()
	keys := make([]string, 0, c.fields.Len())
	for _, k := range c.fields.keys {
		if k == KeyObjectID || k == KeyCreateDate || k == KeyUpdateDate {
			continue
		}
		v := c.fields.vals[k]
		keys = append(keys, k)
		if v.kind == KindDelete {
			continue
		}
		body.Set(k, v.Clone())
	}
	return body, c.sentLocked(keys)
}

func (c *Container) sentLocked(keys []string) Sent {
	s := Sent{
		Keys:    keys,
		seq:     c.seq,
		version: make(map[string]uint64, len(keys)),
		chain:   make(map[string]uint64),
		inc:     make(map[string]*Operation),
	}
	for _, k := range keys {
		s.version[k] = c.version[k]
		if start, ok := c.chain[k]; ok {
			s.chain[k] = start
			s.inc[k] = c.fields.vals[k].op.Clone()
		}
	}
	return s
}

// CommitSave applies a successful save: removed keys among sent disappear,
// the server response overwrites fields, and sent keys are no longer dirty.
// A key written again after the payload was taken stays dirty with its newer
// value; an increment that grew meanwhile keeps only the part not yet sent.
// Keys the server does not echo keep their local value.
func (c *Container) CommitSave(sent Sent, response *Object) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range sent.Keys {
		if c.version[k] != sent.version[k] {
			c.rebaseLocked(k, sent)
			continue
		}
		if v, ok := c.fields.Get(k); ok && v.kind == KindDelete {
			c.fields.Delete(k)
		}
		delete(c.dirty, k)
		delete(c.chain, k)
	}
	if response == nil {
		return
	}
	for _, k := range response.Keys() {
		if _, pending := c.dirty[k]; pending && c.version[k] > sent.seq {
			continue
		}
		v, _ := response.Get(k)
		c.fields.Set(k, v.Clone())
		delete(c.dirty, k)
	}
}

// rebaseLocked subtracts the increment already sent for key from the pending
// one when both belong to the same chain.
func (c *Container) rebaseLocked(key string, sent Sent) {
	start, ok := c.chain[key]
	if !ok || start != sent.chain[key] {
		return
	}
	cur := c.fields.vals[key]
	if cur.kind != KindOperation || cur.op.Kind != OpIncrement {
		return
	}
	rest := cur.op.withoutIncrement(sent.inc[key])
	c.fields.Set(key, OperationValue(rest))
	c.chain[key] = c.version[key]
}

// Merge overwrites fields present in obj and un-dirties them.
func (c *Container) Merge(obj *Object) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mergeLocked(obj)
}

func (c *Container) mergeLocked(obj *Object) {
	for _, k := range obj.Keys() {
		v, _ := obj.Get(k)
		c.fields.Set(k, v.Clone())
		delete(c.dirty, k)
	}
}

// Replace resets the container to obj, as after a fetch.
func (c *Container) Replace(obj *Object) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if obj == nil {
		obj = NewObject()
	}
	c.fields = obj.Clone()
	c.dirty = make(map[string]struct{})
	c.chain = make(map[string]uint64)
}

// Reset empties the container, as after a delete.
func (c *Container) Reset() {
	c.Replace(nil)
}

// Restore reinstates fields and dirty keys, used to roll back a failed save of
// an entity whose state was changed optimistically.
func (c *Container) Restore(obj *Object, dirty []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fields = obj.Clone()
	c.chain = make(map[string]uint64)
	c.dirty = make(map[string]struct{}, len(dirty))
	for _, k := range dirty {
		c.dirty[k] = struct{}{}
	}
}
