package client_test

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ncmb/ncmb-go/client"
)

func TestUser_SignUpBecomesCurrent(t *testing.T) {
	c, srv := newTestClient(t)
	ctx := ctxT(t)

	u := c.NewUser()
	u.SetUserName("alice")
	u.SetPassword("secret")
	u.SetMailAddress("alice@example.com")
	require.NoError(t, u.SignUp(ctx))

	assert.NotEmpty(t, u.ObjectID())
	assert.True(t, u.IsAuthenticated())
	assert.NotEmpty(t, c.SessionToken())
	assert.Equal(t, c.SessionToken(), u.SessionToken())

	cur := c.CurrentUser()
	assert.Equal(t, u.ObjectID(), cur.ObjectID())
	assert.Equal(t, "alice", cur.UserName())
	assert.False(t, cur.ContainsKey("password"))
	assert.False(t, cur.ContainsKey("sessionToken"))

	stored := srv.Object("users", u.ObjectID())
	assert.Equal(t, "alice@example.com", stored["mailAddress"])
	assert.NotContains(t, stored, "password")
}

func TestUser_DuplicateUserName(t *testing.T) {
	c, srv := newTestClient(t)
	srv.AddUser("alice", "secret", nil)

	u := c.NewUser()
	u.SetUserName("alice")
	u.SetPassword("other")
	err := u.SignUp(ctxT(t))

	assert.True(t, errors.Is(err, client.ErrDuplicateValue))
	assert.Empty(t, u.ObjectID())
	assert.Empty(t, c.CurrentUser().ObjectID())
}

func TestUser_LoginAndLogout(t *testing.T) {
	c, srv := newTestClient(t)
	ctx := ctxT(t)
	id := srv.AddUser("alice", "secret", map[string]any{"nickname": "al"})

	_, err := c.Login(ctx, "alice", "wrong")
	assert.Equal(t, "E401002", client.CodeOf(err))

	u, err := c.Login(ctx, "alice", "secret")
	require.NoError(t, err)
	assert.Equal(t, id, u.ObjectID())
	assert.Equal(t, "al", c.CurrentUser().String("nickname"))
	token := c.SessionToken()
	require.NotEmpty(t, token)

	require.NoError(t, c.Logout(ctx))
	assert.Empty(t, c.SessionToken())
	assert.Empty(t, c.CurrentUser().ObjectID())

	reqs := srv.Requests()
	last := reqs[len(reqs)-1]
	assert.Equal(t, "/2013-09-01/logout", last.Path)
	assert.Equal(t, token, last.Header.Get("X-NCMB-Apps-Session-Token"))
}

func TestUser_LoginWithMailAddressNeedsConfirmation(t *testing.T) {
	c, srv := newTestClient(t)
	ctx := ctxT(t)
	srv.AddUser("bob", "pw", map[string]any{"mailAddress": "bob@example.com", "mailAddressConfirm": true})
	srv.AddUser("carol", "pw", map[string]any{"mailAddress": "carol@example.com"})

	u, err := c.LoginWithMailAddress(ctx, "bob@example.com", "pw")
	require.NoError(t, err)
	assert.True(t, u.IsMailAddressConfirmed())

	_, err = c.LoginWithMailAddress(ctx, "carol@example.com", "pw")
	assert.Error(t, err)

	_, err = c.LoginWithMailAddress(ctx, "", "pw")
	assert.Equal(t, client.CodeGeneric, client.CodeOf(err))
}

func TestUser_ExpiredSessionLogsOutOn401(t *testing.T) {
	c, srv := newTestClient(t)
	ctx := ctxT(t)
	srv.AddUser("alice", "secret", nil)
	id := srv.Put("classes/Todo", map[string]any{"title": "milk"})

	_, err := c.Login(ctx, "alice", "secret")
	require.NoError(t, err)
	srv.ExpireSessions()

	obj := c.NewObjectWithID("Todo", id)
	require.NoError(t, obj.Put("title", "bread"))
	err = obj.Save(ctx)

	assert.True(t, errors.Is(err, client.ErrInvalidAuthHeader))
	assert.Empty(t, c.CurrentUser().ObjectID())
	assert.Empty(t, c.SessionToken())
	assert.True(t, obj.IsDirty("title"))
}

func TestUser_LogoutClearsLocallyWhenServerFails(t *testing.T) {
	c, srv := newTestClient(t)
	ctx := ctxT(t)
	srv.AddUser("alice", "secret", nil)
	_, err := c.Login(ctx, "alice", "secret")
	require.NoError(t, err)

	srv.FailNext(http.StatusInternalServerError, "E500001", "boom")
	err = c.Logout(ctx)
	assert.Equal(t, client.CodeInternalServer, client.CodeOf(err))
	assert.Empty(t, c.SessionToken())
}

func TestUser_LogoutInBackground(t *testing.T) {
	c, srv := newTestClient(t)
	ctx := ctxT(t)
	srv.AddUser("alice", "secret", nil)
	_, err := c.Login(ctx, "alice", "secret")
	require.NoError(t, err)

	_, err = c.LogoutInBackground(ctx, nil).Wait(ctx)
	require.NoError(t, err)
	assert.Empty(t, c.SessionToken())
}

func TestUser_AnonymousAndOAuthLogin(t *testing.T) {
	c, srv := newTestClient(t)
	ctx := ctxT(t)

	anon, err := c.LoginWithAnonymous(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, anon.ObjectID())
	assert.Equal(t, anon.ObjectID(), c.CurrentUser().ObjectID())
	assert.Contains(t, anon.AuthData(), "anonymous")

	data := client.OAuthData{"id": "fb-1", "access_token": "tok", "expiration_date": map[string]any{"__type": "Date", "iso": "2030-01-01T00:00:00.000Z"}}
	first, err := c.LoginWithOAuth(ctx, client.ProviderFacebook, data)
	require.NoError(t, err)
	again, err := c.LoginWithOAuth(ctx, client.ProviderFacebook, data)
	require.NoError(t, err)
	assert.Equal(t, first.ObjectID(), again.ObjectID(), "same provider id logs into the same user")
	assert.NotNil(t, srv.Object("users", first.ObjectID()))

	_, err = c.LoginWithOAuth(ctx, "myspace", data)
	assert.Equal(t, client.CodeGeneric, client.CodeOf(err))
}

func TestUser_UpdateCurrentUserRefreshesStore(t *testing.T) {
	c, srv := newTestClient(t)
	ctx := ctxT(t)
	srv.AddUser("alice", "secret", nil)
	u, err := c.Login(ctx, "alice", "secret")
	require.NoError(t, err)
	token := c.SessionToken()

	require.NoError(t, u.Put("nickname", "ally"))
	require.NoError(t, u.Save(ctx))

	assert.Equal(t, "ally", c.CurrentUser().String("nickname"))
	assert.Equal(t, token, c.SessionToken())
	assert.Equal(t, "ally", srv.Object("users", u.ObjectID())["nickname"])
}

func TestUser_DeleteCurrentUserLogsOut(t *testing.T) {
	c, srv := newTestClient(t)
	ctx := ctxT(t)
	srv.AddUser("alice", "secret", nil)
	u, err := c.Login(ctx, "alice", "secret")
	require.NoError(t, err)

	require.NoError(t, u.Delete(ctx))
	assert.Empty(t, c.CurrentUser().ObjectID())
	assert.Empty(t, c.SessionToken())
}

func TestUser_MailRequests(t *testing.T) {
	c, srv := newTestClient(t)
	ctx := ctxT(t)

	require.NoError(t, c.RequestPasswordReset(ctx, "a@example.com"))
	require.NoError(t, c.RequestAuthenticationMail(ctx, "b@example.com"))
	assert.Equal(t, client.CodeGeneric, client.CodeOf(c.RequestPasswordReset(ctx, "")))

	reqs := srv.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "/2013-09-01/requestPasswordReset", reqs[0].Path)
	assert.JSONEq(t, `{"mailAddress":"a@example.com"}`, string(reqs[0].Body))
	assert.Equal(t, "/2013-09-01/requestMailAddressUserEntry", reqs[1].Path)
}

func TestUser_QueryStripsSessionToken(t *testing.T) {
	c, srv := newTestClient(t)
	srv.AddUser("alice", "secret", map[string]any{"age": 30.0})
	srv.AddUser("bob", "secret", map[string]any{"age": 20.0})

	q := c.NewUserQuery()
	q.WhereGreaterThanOrEqualTo("age", 25)
	users, err := q.Find(ctxT(t))
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "alice", users[0].UserName())
	assert.Empty(t, users[0].SessionToken())
	assert.False(t, users[0].IsAuthenticated())
}
