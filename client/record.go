package client

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	ncmberrors "github.com/ncmb/ncmb-go/client/internal/errors"
	"github.com/ncmb/ncmb-go/client/internal/types"
)

// Entity is the capability every persisted type shares.
type Entity interface {
	ClassName() string
	ObjectID() string
	Save(ctx context.Context) error
	Fetch(ctx context.Context) error
	Delete(ctx context.Context) error
}

// PointerTarget is anything a Pointer can reference, i.e. a saved entity.
type PointerTarget = types.PointerTarget

// keyed entities know their executor queue.
type keyed interface {
	executorKey() string
}

// record is the field container plus the client it syncs through. Typed
// entities embed it and supply their own path and lifecycle hooks.
type record struct {
	client *Client
	fields *types.Container
	self   Entity
	path   func(objectID string) string

	keyOnce sync.Once
	key     string
}

func newRecord(c *Client, fields *types.Container, path func(string) string) *record {
	return &record{client: c, fields: fields, path: path}
}

// executorKey is fixed on first use: class/objectId for saved entities, a
// random instance key otherwise, so one instance's background calls stay FIFO.
func (r *record) executorKey() string {
	r.keyOnce.Do(func() {
		if id := r.fields.ObjectID(); id != "" {
			r.key = r.fields.ClassName() + "/" + id
			return
		}
		r.key = "new/" + uuid.NewString()
	})
	return r.key
}

// ------------------------- fields -------------------------

func (r *record) ClassName() string     { return r.fields.ClassName() }
func (r *record) ObjectID() string      { return r.fields.ObjectID() }
func (r *record) SetObjectID(id string) { r.fields.SetObjectID(id) }
func (r *record) CreateDate() time.Time { return r.fields.CreateDate() }
func (r *record) UpdateDate() time.Time { return r.fields.UpdateDate() }

// ACL returns a copy of the entity's ACL, nil when unset. Change it with
// SetACL.
func (r *record) ACL() *ACL       { return r.fields.ACL() }
func (r *record) SetACL(acl *ACL) { r.fields.SetACL(acl) }

// Put stores v under key. Supported values: nil, bool, integers, floats,
// string, time.Time, GeoPoint, Pointer or a saved entity, map[string]any,
// slices and Value.
func (r *record) Put(key string, v any) error { return r.fields.Put(key, v) }

func (r *record) Get(key string) (Value, bool)              { return r.fields.Get(key) }
func (r *record) String(key string) string                  { return r.fields.String(key) }
func (r *record) Int(key string) int                        { return r.fields.Int(key) }
func (r *record) Int64(key string) int64                    { return r.fields.Int64(key) }
func (r *record) Float64(key string) float64                { return r.fields.Float64(key) }
func (r *record) Bool(key string) bool                      { return r.fields.Bool(key) }
func (r *record) Date(key string) time.Time                 { return r.fields.Date(key) }
func (r *record) GeoPoint(key string) (GeoPoint, bool)      { return r.fields.GeoPoint(key) }
func (r *record) Pointer(key string) (Pointer, bool)        { return r.fields.Pointer(key) }
func (r *record) JSONObject(key string) map[string]any      { return r.fields.JSONObject(key) }
func (r *record) JSONArray(key string) []any                { return r.fields.JSONArray(key) }
func (r *record) List(key string) []any                     { return r.fields.List(key) }
func (r *record) Map(key string) map[string]any             { return r.fields.Map(key) }
func (r *record) StringList(key string) []string            { return r.fields.StringList(key) }
func (r *record) ContainsKey(key string) bool               { return r.fields.ContainsKey(key) }
func (r *record) Keys() []string                            { return r.fields.Keys() }
func (r *record) DirtyKeys() []string                       { return r.fields.DirtyKeys() }
func (r *record) IsDirty(key string) bool                   { return r.fields.IsDirty(key) }
func (r *record) HasChanges() bool                          { return r.fields.HasChanges() }
func (r *record) ToJSON() ([]byte, error)                   { return r.fields.ToJSON() }
func (r *record) Remove(key string)                         { r.fields.Remove(key) }
func (r *record) Increment(key string, amount any) error    { return r.fields.Increment(key, amount) }
func (r *record) AddToList(key string, values ...any) error { return r.fields.AddToList(key, values) }
func (r *record) RemoveFromList(key string, values ...any) error {
	return r.fields.RemoveFromList(key, values)
}

func (r *record) AddUniqueToList(key string, values ...any) error {
	return r.fields.AddUniqueToList(key, values)
}

// AddRelation and RemoveRelation require every target to be saved.
func (r *record) AddRelation(key string, targets ...PointerTarget) error {
	return r.fields.AddRelation(key, targets...)
}

func (r *record) RemoveRelation(key string, targets ...PointerTarget) error {
	return r.fields.RemoveRelation(key, targets...)
}

// ToPointer references this entity from another one's fields.
func (r *record) ToPointer() (Pointer, error) { return types.PointerTo(r) }

// ------------------------- sync -------------------------

// saveFields creates or updates depending on whether an objectId is set.
func (r *record) saveFields(ctx context.Context) error {
	if id := r.fields.ObjectID(); id != "" {
		return r.updateFields(ctx, r.path(id))
	}
	return r.createFields(ctx, r.path(""))
}

// createFields POSTs every field. The container only changes on success.
func (r *record) createFields(ctx context.Context, path string) error {
	body, sent := r.fields.CreatePayload()
	resp, err := r.client.conn.Create(ctx, path, body)
	if err != nil {
		return err
	}
	r.fields.CommitSave(sent, resp)
	return nil
}

// updateFields PUTs the dirty keys only.
func (r *record) updateFields(ctx context.Context, path string) error {
	body, sent := r.fields.DirtyPayload()
	resp, err := r.client.conn.Update(ctx, path, body)
	if err != nil {
		return err
	}
	r.fields.CommitSave(sent, resp)
	return nil
}

func (r *record) fetchFields(ctx context.Context, query url.Values) error {
	id := r.fields.ObjectID()
	if id == "" {
		return ncmberrors.New(ncmberrors.CodeGeneric, "%s has no objectId to fetch", r.fields.ClassName())
	}
	obj, err := r.client.conn.Fetch(ctx, r.path(id), query)
	if err != nil {
		return err
	}
	r.fields.Replace(obj)
	return nil
}

func (r *record) deleteFields(ctx context.Context) error {
	id := r.fields.ObjectID()
	if id == "" {
		return ncmberrors.New(ncmberrors.CodeGeneric, "%s has no objectId to delete", r.fields.ClassName())
	}
	if err := r.client.conn.Delete(ctx, r.path(id)); err != nil {
		return err
	}
	r.fields.Reset()
	return nil
}

// ------------------------- background -------------------------

// SaveInBackground, FetchInBackground and DeleteInBackground run the entity's
// own Save, Fetch and Delete on the executor. cb may be nil.
func (r *record) SaveInBackground(ctx context.Context, cb func(error)) *Task[struct{}] {
	return submitErr(ctx, r.client, r.executorKey(), r.self.Save, cb)
}

func (r *record) FetchInBackground(ctx context.Context, cb func(error)) *Task[struct{}] {
	return submitErr(ctx, r.client, r.executorKey(), r.self.Fetch, cb)
}

func (r *record) DeleteInBackground(ctx context.Context, cb func(error)) *Task[struct{}] {
	return submitErr(ctx, r.client, r.executorKey(), r.self.Delete, cb)
}
