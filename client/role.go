package client

import (
	"context"

	"github.com/ncmb/ncmb-go/client/internal/api"
	ncmberrors "github.com/ncmb/ncmb-go/client/internal/errors"
	"github.com/ncmb/ncmb-go/client/internal/types"
)

const (
	keyRoleName   = "roleName"
	keyBelongUser = "belongUser"
	keyBelongRole = "belongRole"
)

// Role groups users and other roles for ACL subjects "role:<name>".
type Role struct {
	*record
}

// NewRole returns an unsaved role called name.
func (c *Client) NewRole(name string) *Role {
	r := c.roleFrom(types.NewContainer(ClassRole))
	if name != "" {
		r.fields.PutValue(keyRoleName, types.StringValue(name))
	}
	return r
}

// NewRoleWithID references an existing role.
func (c *Client) NewRoleWithID(objectID string) *Role {
	r := c.roleFrom(types.NewContainer(ClassRole))
	r.fields.SetObjectID(objectID)
	return r
}

func (c *Client) roleFrom(fields *types.Container) *Role {
	r := &Role{record: newRecord(c, fields, api.RolePath)}
	r.self = r
	return r
}

func (r *Role) RoleName() string { return r.String(keyRoleName) }

// AddUser and RemoveUser change belongUser on the next save.
func (r *Role) AddUser(users ...*User) error {
	targets, err := usersAsTargets(users)
	if err != nil {
		return err
	}
	return r.AddRelation(keyBelongUser, targets...)
}

func (r *Role) RemoveUser(users ...*User) error {
	targets, err := usersAsTargets(users)
	if err != nil {
		return err
	}
	return r.RemoveRelation(keyBelongUser, targets...)
}

// AddRole and RemoveRole change belongRole on the next save.
func (r *Role) AddRole(roles ...*Role) error {
	targets, err := rolesAsTargets(roles)
	if err != nil {
		return err
	}
	return r.AddRelation(keyBelongRole, targets...)
}

func (r *Role) RemoveRole(roles ...*Role) error {
	targets, err := rolesAsTargets(roles)
	if err != nil {
		return err
	}
	return r.RemoveRelation(keyBelongRole, targets...)
}

// Save creates the role, which needs a name, or updates it.
func (r *Role) Save(ctx context.Context) error {
	if r.ObjectID() == "" && r.RoleName() == "" {
		return ncmberrors.New(ncmberrors.CodeGeneric, "role name is required")
	}
	return r.saveFields(ctx)
}

func (r *Role) Fetch(ctx context.Context) error  { return r.fetchFields(ctx, nil) }
func (r *Role) Delete(ctx context.Context) error { return r.deleteFields(ctx) }

// NewRoleQuery searches roles.
func (c *Client) NewRoleQuery() *Query[*Role] {
	return newQuery(c, ClassRole, api.RolePath(""), func(obj *types.Object) *Role {
		return c.roleFrom(types.NewContainerFromObject(ClassRole, obj))
	})
}

func usersAsTargets(users []*User) ([]PointerTarget, error) {
	out := make([]PointerTarget, len(users))
	for i, u := range users {
		if u == nil {
			return nil, ncmberrors.New(ncmberrors.CodeGeneric, "user %d of the relation is nil", i)
		}
		out[i] = u
	}
	return out, nil
}

func rolesAsTargets(roles []*Role) ([]PointerTarget, error) {
	out := make([]PointerTarget, len(roles))
	for i, r := range roles {
		if r == nil {
			return nil, ncmberrors.New(ncmberrors.CodeGeneric, "role %d of the relation is nil", i)
		}
		out[i] = r
	}
	return out, nil
}
