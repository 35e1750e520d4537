package client

import (
	"context"

	"github.com/ncmb/ncmb-go/client/internal/api"
	ncmberrors "github.com/ncmb/ncmb-go/client/internal/errors"
	"github.com/ncmb/ncmb-go/client/internal/types"
)

// Class names owned by the typed entities. A generic Object may not use them.
const (
	ClassUser         = "user"
	ClassInstallation = "installation"
	ClassRole         = "role"
	ClassPush         = "push"
	ClassFile         = "file"
	ClassScript       = "script"
)

var reservedClasses = map[string]struct{}{
	ClassUser:         {},
	ClassInstallation: {},
	ClassRole:         {},
	ClassPush:         {},
	ClassFile:         {},
	ClassScript:       {},
}

// Object is a record in a data-store class.
type Object struct {
	*record
}

// NewObject returns an unsaved object of className.
func (c *Client) NewObject(className string) *Object {
	return c.objectFrom(types.NewContainer(className))
}

// NewObjectWithID references an existing object, e.g. before Fetch.
func (c *Client) NewObjectWithID(className, objectID string) *Object {
	o := c.NewObject(className)
	o.fields.SetObjectID(objectID)
	return o
}

func (c *Client) objectFrom(fields *types.Container) *Object {
	className := fields.ClassName()
	o := &Object{record: newRecord(c, fields, func(id string) string {
		if id == "" {
			return api.ClassPath(className)
		}
		return api.ObjectPath(className, id)
	})}
	o.self = o
	return o
}

func (o *Object) checkClass() error {
	name := o.fields.ClassName()
	if name == "" {
		return ncmberrors.New(ncmberrors.CodeGeneric, "class name is required")
	}
	if _, ok := reservedClasses[name]; ok {
		return ncmberrors.New(ncmberrors.CodeOperationForbidden, "class %q is reserved; use the %s entity", name, name)
	}
	return nil
}

// Save creates the object when it has no objectId yet, otherwise sends only
// the changed fields. On error the object keeps its fields and pending changes.
func (o *Object) Save(ctx context.Context) error {
	if err := o.checkClass(); err != nil {
		return err
	}
	return o.saveFields(ctx)
}

// Fetch replaces every field with the server's copy.
func (o *Object) Fetch(ctx context.Context) error {
	if err := o.checkClass(); err != nil {
		return err
	}
	return o.fetchFields(ctx, nil)
}

// FetchWithInclude is Fetch with pointer fields in keys expanded.
func (o *Object) FetchWithInclude(ctx context.Context, keys ...string) error {
	if err := o.checkClass(); err != nil {
		return err
	}
	return o.fetchFields(ctx, includeQuery(keys))
}

// Delete removes the object and empties it locally.
func (o *Object) Delete(ctx context.Context) error {
	if err := o.checkClass(); err != nil {
		return err
	}
	return o.deleteFields(ctx)
}
