package client

import (
	"context"
	"net/http"
	"net/url"
	"sync"

	"github.com/google/uuid"

	"github.com/ncmb/ncmb-go/client/internal/api"
	ncmberrors "github.com/ncmb/ncmb-go/client/internal/errors"
	"github.com/ncmb/ncmb-go/client/internal/request"
	"github.com/ncmb/ncmb-go/client/internal/session"
	"github.com/ncmb/ncmb-go/client/internal/types"
)

const (
	keyUserName           = "userName"
	keyPassword           = "password"
	keyMailAddress        = "mailAddress"
	keyMailAddressConfirm = "mailAddressConfirm"
	keyAuthData           = "authData"
	keySessionToken       = "sessionToken"
)

// OAuth providers accepted by LoginWithOAuth and LinkWith.
const (
	ProviderFacebook  = "facebook"
	ProviderTwitter   = "twitter"
	ProviderGoogle    = "google"
	ProviderApple     = "apple"
	providerAnonymous = "anonymous"
)

// OAuthData is the provider payload obtained by the application, e.g.
// {"id": "...", "access_token": "...", "expiration_date": {...}}.
type OAuthData map[string]any

// User is a member of the application. The logged-in user is tracked by the
// Client and persisted in its Store.
type User struct {
	*record

	mu    sync.Mutex
	token string
}

// NewUser returns an unsaved user; call SignUp or Save to register it.
func (c *Client) NewUser() *User {
	return c.userFrom(types.NewContainer(ClassUser), "")
}

// NewUserWithID references an existing user.
func (c *Client) NewUserWithID(objectID string) *User {
	u := c.NewUser()
	u.fields.SetObjectID(objectID)
	return u
}

func (c *Client) userFrom(fields *types.Container, token string) *User {
	u := &User{record: newRecord(c, fields, api.UserPath), token: token}
	u.self = u
	return u
}

// userFromResponse moves sessionToken out of the fields.
func (c *Client) userFromResponse(obj *types.Object) *User {
	token := ""
	if v, ok := obj.Get(keySessionToken); ok {
		token = v.AsString()
		obj.Delete(keySessionToken)
	}
	return c.userFrom(types.NewContainerFromObject(ClassUser, obj), token)
}

func (u *User) UserName() string { return u.String(keyUserName) }

func (u *User) SetUserName(name string) { u.fields.PutValue(keyUserName, types.StringValue(name)) }

// SetPassword is sent on the next save and never written to the Store.
func (u *User) SetPassword(password string) {
	u.fields.PutValue(keyPassword, types.StringValue(password))
}

func (u *User) MailAddress() string { return u.String(keyMailAddress) }

func (u *User) SetMailAddress(mail string) { u.fields.PutValue(keyMailAddress, types.StringValue(mail)) }

func (u *User) IsMailAddressConfirmed() bool { return u.Bool(keyMailAddressConfirm) }

// AuthData returns the linked provider payloads.
func (u *User) AuthData() map[string]any { return u.JSONObject(keyAuthData) }

// SessionToken returns the token issued at login or sign-up; for the current
// user it is the Client's live token.
func (u *User) SessionToken() string {
	if u.isCurrent() {
		return u.client.session.SessionToken()
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.token
}

// IsAuthenticated reports whether u is the logged-in user with a live token.
func (u *User) IsAuthenticated() bool {
	return u.isCurrent() && u.client.session.SessionToken() != ""
}

func (u *User) isCurrent() bool {
	id := u.ObjectID()
	return id != "" && id == u.client.session.CurrentUserID()
}

// SignUp registers u and makes it the current user.
func (u *User) SignUp(ctx context.Context) error {
	if u.ObjectID() != "" {
		return ncmberrors.New(ncmberrors.CodeGeneric, "user %s is already registered", u.ObjectID())
	}
	if err := u.createFields(ctx, api.UserPath("")); err != nil {
		return err
	}
	u.takeToken()
	return u.client.becomeCurrent(ctx, u)
}

// SignUpInBackground runs SignUp on the executor.
func (u *User) SignUpInBackground(ctx context.Context, cb func(error)) *Task[struct{}] {
	return submitErr(ctx, u.client, u.executorKey(), u.SignUp, cb)
}

// takeToken moves a sessionToken echoed into the fields onto u.
func (u *User) takeToken() {
	v, ok := u.fields.Get(keySessionToken)
	if !ok {
		return
	}
	snap := u.fields.Snapshot()
	snap.Delete(keySessionToken)
	dirty := u.fields.DirtyKeys()
	u.fields.Restore(snap, dirty)
	u.mu.Lock()
	u.token = v.AsString()
	u.mu.Unlock()
}

// Save signs u up when new, otherwise updates it. Saving the current user
// refreshes the stored copy.
func (u *User) Save(ctx context.Context) error {
	if u.ObjectID() == "" {
		return u.SignUp(ctx)
	}
	if err := u.updateFields(ctx, api.UserPath(u.ObjectID())); err != nil {
		return err
	}
	return u.persistIfCurrent(ctx)
}

func (u *User) Fetch(ctx context.Context) error {
	if err := u.fetchFields(ctx, nil); err != nil {
		return err
	}
	return u.persistIfCurrent(ctx)
}

// Delete removes u; deleting the current user logs it out locally.
func (u *User) Delete(ctx context.Context) error {
	current := u.isCurrent()
	if err := u.deleteFields(ctx); err != nil {
		return err
	}
	if current {
		return u.client.session.ClearCurrentUser(ctx)
	}
	return nil
}

func (u *User) persistIfCurrent(ctx context.Context) error {
	if !u.isCurrent() {
		return nil
	}
	return u.client.becomeCurrent(ctx, u)
}

// LinkWith attaches a provider's credentials to u.
func (u *User) LinkWith(ctx context.Context, provider string, data OAuthData) error {
	if err := checkProvider(provider); err != nil {
		return err
	}
	if u.ObjectID() == "" {
		return ncmberrors.New(ncmberrors.CodeGeneric, "user must be saved before linking %s", provider)
	}
	auth := u.AuthData()
	if auth == nil {
		auth = map[string]any{}
	}
	auth[provider] = map[string]any(data)
	if err := u.Put(keyAuthData, auth); err != nil {
		return err
	}
	return u.Save(ctx)
}

// UnlinkWith detaches a provider.
func (u *User) UnlinkWith(ctx context.Context, provider string) error {
	if err := checkProvider(provider); err != nil {
		return err
	}
	if u.ObjectID() == "" {
		return ncmberrors.New(ncmberrors.CodeGeneric, "user must be saved before unlinking %s", provider)
	}
	auth := u.AuthData()
	if _, ok := auth[provider]; !ok {
		return ncmberrors.New(ncmberrors.CodeGeneric, "user is not linked with %s", provider)
	}
	if err := u.Put(keyAuthData, map[string]any{provider: nil}); err != nil {
		return err
	}
	if err := u.Save(ctx); err != nil {
		return err
	}
	delete(auth, provider)
	u.fields.Merge(objectWith(keyAuthData, auth))
	return u.persistIfCurrent(ctx)
}

func checkProvider(p string) error {
	switch p {
	case ProviderFacebook, ProviderTwitter, ProviderGoogle, ProviderApple:
		return nil
	}
	return ncmberrors.New(ncmberrors.CodeGeneric, "unsupported oauth provider %q", p)
}

// ------------------------- client operations -------------------------

// CurrentUser returns the logged-in user. When nobody is logged in it returns
// an empty User whose ObjectID is "".
func (c *Client) CurrentUser() *User {
	doc, ok := c.session.CurrentUser()
	if !ok {
		return c.NewUser()
	}
	return c.userFrom(types.NewContainerFromObject(ClassUser, doc.Data), doc.SessionToken)
}

// becomeCurrent stores u as the current user. The password never reaches
// the Store.
func (c *Client) becomeCurrent(ctx context.Context, u *User) error {
	data := u.fields.Snapshot()
	data.Delete(keyPassword)
	data.Delete(keySessionToken)
	u.mu.Lock()
	token := u.token
	u.mu.Unlock()
	if token == "" {
		token = c.session.SessionToken()
	}
	return c.session.SetCurrentUser(ctx, session.Document{ClassName: ClassUser, Data: data, SessionToken: token})
}

// Login authenticates by user name and makes the user current.
func (c *Client) Login(ctx context.Context, userName, password string) (*User, error) {
	if userName == "" || password == "" {
		return nil, ncmberrors.New(ncmberrors.CodeGeneric, "user name and password are required")
	}
	return c.loginWith(ctx, url.Values{keyUserName: {userName}, keyPassword: {password}})
}

// LoginWithMailAddress authenticates by mail address.
func (c *Client) LoginWithMailAddress(ctx context.Context, mail, password string) (*User, error) {
	if mail == "" || password == "" {
		return nil, ncmberrors.New(ncmberrors.CodeGeneric, "mail address and password are required")
	}
	return c.loginWith(ctx, url.Values{keyMailAddress: {mail}, keyPassword: {password}})
}

func (c *Client) loginWith(ctx context.Context, q url.Values) (*User, error) {
	obj, err := c.conn.Fetch(ctx, "login", q)
	if err != nil {
		return nil, err
	}
	u := c.userFromResponse(obj)
	if u.ObjectID() == "" || u.token == "" {
		return nil, ncmberrors.New(ncmberrors.CodeInvalidResponse, "login response carries no user or session token")
	}
	if err := c.becomeCurrent(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// LoginWithAnonymous registers a fresh anonymous user and makes it current.
func (c *Client) LoginWithAnonymous(ctx context.Context) (*User, error) {
	return c.loginWithAuthData(ctx, providerAnonymous, OAuthData{"id": uuid.NewString()})
}

// LoginWithOAuth logs in, or signs up, with credentials already obtained
// from provider.
func (c *Client) LoginWithOAuth(ctx context.Context, provider string, data OAuthData) (*User, error) {
	if err := checkProvider(provider); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, ncmberrors.New(ncmberrors.CodeGeneric, "%s credentials are required", provider)
	}
	return c.loginWithAuthData(ctx, provider, data)
}

func (c *Client) loginWithAuthData(ctx context.Context, provider string, data OAuthData) (*User, error) {
	u := c.NewUser()
	if err := u.Put(keyAuthData, map[string]any{provider: map[string]any(data)}); err != nil {
		return nil, err
	}
	if err := u.SignUp(ctx); err != nil {
		return nil, err
	}
	return u, nil
}

// Logout ends the session. Local state is cleared even when the server call
// fails; the server error is still returned.
func (c *Client) Logout(ctx context.Context) error {
	token := c.session.SessionToken()
	if token == "" {
		return c.session.ClearCurrentUser(ctx)
	}
	_, callErr := c.conn.Do(ctx, request.Spec{Method: http.MethodGet, Path: "logout", SessionToken: token})
	if err := c.session.ClearCurrentUser(ctx); err != nil {
		return err
	}
	return callErr
}

// LogoutInBackground runs Logout on the executor.
func (c *Client) LogoutInBackground(ctx context.Context, cb func(error)) *Task[struct{}] {
	return submitErr(ctx, c, "session", c.Logout, cb)
}

// RequestPasswordReset mails a reset link to mail.
func (c *Client) RequestPasswordReset(ctx context.Context, mail string) error {
	return c.postMail(ctx, "requestPasswordReset", mail)
}

// RequestAuthenticationMail starts mail-address registration for mail.
func (c *Client) RequestAuthenticationMail(ctx context.Context, mail string) error {
	return c.postMail(ctx, "requestMailAddressUserEntry", mail)
}

func (c *Client) postMail(ctx context.Context, path, mail string) error {
	if mail == "" {
		return ncmberrors.New(ncmberrors.CodeGeneric, "mail address is required")
	}
	_, err := c.conn.Create(ctx, path, objectWith(keyMailAddress, mail))
	return err
}

// NewUserQuery searches users.
func (c *Client) NewUserQuery() *Query[*User] {
	return newQuery(c, ClassUser, api.UserPath(""), func(obj *types.Object) *User {
		obj.Delete(keySessionToken)
		return c.userFrom(types.NewContainerFromObject(ClassUser, obj), "")
	})
}

// objectWith builds a one-field body. v must be a value FromAny accepts.
func objectWith(key string, v any) *types.Object {
	obj := types.NewObject()
	val, err := types.FromAny(v)
	if err != nil {
		val = types.Null()
	}
	obj.Set(key, val)
	return obj
}
