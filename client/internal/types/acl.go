package types

import (
	"encoding/json"
	"sort"

	ncmberrors "github.com/ncmb/ncmb-go/client/internal/errors"
)

const (
	// PublicSubject is the wildcard subject granting access to everyone.
	PublicSubject = "*"
	rolePrefix    = "role:"
)

// Permission is the read/write pair granted to one subject.
type Permission struct {
	Read  bool
	Write bool
}

type wirePermission struct {
	Read  bool `json:"read,omitempty"`
	Write bool `json:"write,omitempty"`
}

// MarshalJSON only emits flags that are true.
func (p Permission) MarshalJSON() ([]byte, error) {
	return json.Marshal(wirePermission{Read: p.Read, Write: p.Write})
}

func (p *Permission) UnmarshalJSON(data []byte) error {
	var w wirePermission
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*p = Permission{Read: w.Read, Write: w.Write}
	return nil
}

// ACL maps subjects (user objectId, "role:<name>", "*") to permissions. The
// zero value is ready to use. ACL is not safe for concurrent mutation.
type ACL struct {
	perms map[string]Permission
}

func NewACL() *ACL {
	return &ACL{perms: make(map[string]Permission)}
}

// NewACLFromJSON decodes {"subject":{"read":true,"write":true},...}.
func NewACLFromJSON(data []byte) (*ACL, error) {
	a := NewACL()
	if err := a.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *ACL) SetReadAccess(userID string, allowed bool)  { a.setRead(userID, allowed) }
func (a *ACL) SetWriteAccess(userID string, allowed bool) { a.setWrite(userID, allowed) }
func (a *ACL) SetRoleReadAccess(role string, allowed bool) {
	a.setRead(rolePrefix+role, allowed)
}
func (a *ACL) SetRoleWriteAccess(role string, allowed bool) {
	a.setWrite(rolePrefix+role, allowed)
}
func (a *ACL) SetPublicReadAccess(allowed bool)  { a.setRead(PublicSubject, allowed) }
func (a *ACL) SetPublicWriteAccess(allowed bool) { a.setWrite(PublicSubject, allowed) }

func (a *ACL) ReadAccess(userID string) bool  { return a.get(userID).Read }
func (a *ACL) WriteAccess(userID string) bool { return a.get(userID).Write }
func (a *ACL) RoleReadAccess(role string) bool {
	return a.get(rolePrefix + role).Read
}
func (a *ACL) RoleWriteAccess(role string) bool {
	return a.get(rolePrefix + role).Write
}
func (a *ACL) PublicReadAccess() bool  { return a.get(PublicSubject).Read }
func (a *ACL) PublicWriteAccess() bool { return a.get(PublicSubject).Write }

// RemovePermission drops subject entirely.
func (a *ACL) RemovePermission(subject string) {
	delete(a.perms, subject)
}

// IsEmpty reports whether no subject has an entry.
func (a *ACL) IsEmpty() bool {
	return a == nil || len(a.perms) == 0
}

// Subjects returns the subjects with an entry, sorted.
func (a *ACL) Subjects() []string {
	if a == nil {
		return nil
	}
	out := make([]string, 0, len(a.perms))
	for s := range a.perms {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Permissions returns a copy of the subject table.
func (a *ACL) Permissions() map[string]Permission {
	out := make(map[string]Permission)
	if a == nil {
		return out
	}
	for s, p := range a.perms {
		out[s] = p
	}
	return out
}

func (a *ACL) Clone() *ACL {
	c := NewACL()
	if a != nil {
		for s, p := range a.perms {
			c.perms[s] = p
		}
	}
	return c
}

func (a *ACL) MarshalJSON() ([]byte, error) {
	if a == nil || a.perms == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(a.perms)
}

// UnmarshalJSON keeps every subject present in data, including entries whose
// flags are all false; getters treat those like absent subjects.
func (a *ACL) UnmarshalJSON(data []byte) error {
	perms := make(map[string]Permission)
	if err := json.Unmarshal(data, &perms); err != nil {
		return ncmberrors.Wrap(ncmberrors.CodeInvalidJSON, err, "invalid acl")
	}
	a.perms = perms
	return nil
}

func (a *ACL) get(subject string) Permission {
	if a == nil {
		return Permission{}
	}
	return a.perms[subject]
}

func (a *ACL) setRead(subject string, allowed bool) {
	p := a.get(subject)
	p.Read = allowed
	a.put(subject, p)
}

func (a *ACL) setWrite(subject string, allowed bool) {
	p := a.get(subject)
	p.Write = allowed
	a.put(subject, p)
}

// put keeps the table minimal: a subject with no access has no entry.
func (a *ACL) put(subject string, p Permission) {
	if a.perms == nil {
		a.perms = make(map[string]Permission)
	}
	if !p.Read && !p.Write {
		delete(a.perms, subject)
		return
	}
	a.perms[subject] = p
}

// toObject converts the ACL into a field value, subjects sorted.
func (a *ACL) toObject() *Object {
	obj := NewObject()
	for _, s := range a.Subjects() {
		p := a.perms[s]
		po := NewObject()
		if p.Read {
			po.Set("read", BoolValue(true))
		}
		if p.Write {
			po.Set("write", BoolValue(true))
		}
		obj.Set(s, ObjectValue(po))
	}
	return obj
}

// aclFromObject is the inverse of toObject; non-object members are ignored.
func aclFromObject(obj *Object) *ACL {
	a := NewACL()
	for _, s := range obj.Keys() {
		v, _ := obj.Get(s)
		po := v.AsObject()
		if po == nil {
			continue
		}
		r, _ := po.Get("read")
		w, _ := po.Get("write")
		a.perms[s] = Permission{Read: r.AsBool(), Write: w.AsBool()}
	}
	return a
}
