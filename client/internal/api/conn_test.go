package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ncmberrors "github.com/ncmb/ncmb-go/client/internal/errors"
	"github.com/ncmb/ncmb-go/client/internal/request"
	"github.com/ncmb/ncmb-go/client/internal/session"
	"github.com/ncmb/ncmb-go/client/internal/signature"
	"github.com/ncmb/ncmb-go/client/internal/types"
)

const (
	testAppKey    = "6145f91061916580c742f806bab67649d10f45920246ff459404c46f00ff3e56"
	testClientKey = "1343d198b510a0315db1c03f3aa0e32418b7a743f8e4b47cbff670601345cf75"
)

func newTestConn(t *testing.T, h http.Handler) *Conn {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	ts := time.Date(2013, 12, 2, 2, 44, 35, 452_000_000, time.UTC)
	return &Conn{
		HTTP: srv.Client(),
		Builder: &request.Builder{
			Credentials: request.Credentials{ApplicationKey: testAppKey, ClientKey: testClientKey},
			Now:         func() time.Time { return ts },
		},
		API:     request.Endpoint{BaseURL: srv.URL, Version: request.DefaultAPIVersion},
		Script:  request.Endpoint{BaseURL: srv.URL, Version: request.DefaultScriptVersion},
		Session: session.New(nil, zerolog.Nop()),
		Log:     zerolog.Nop(),
	}
}

// signedReply answers with a valid X-NCMB-Response-Signature for body.
func signedReply(w http.ResponseWriter, r *http.Request, status int, body string) {
	in := signature.Input{
		Method:         r.Method,
		Host:           r.Host,
		Path:           r.URL.EscapedPath(),
		Query:          r.URL.Query(),
		ApplicationKey: r.Header.Get(signature.HeaderApplicationKey),
		Timestamp:      r.Header.Get(signature.HeaderTimestamp),
	}
	w.Header().Set(signature.HeaderResponseSignature, signature.SignResponse(testClientKey, in, []byte(body), false))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func loginUser(t *testing.T, c *Conn, id, token string) {
	t.Helper()
	data, err := types.ParseObject([]byte(`{"objectId":"` + id + `"}`))
	require.NoError(t, err)
	require.NoError(t, c.Session.SetCurrentUser(context.Background(), session.Document{ClassName: "user", Data: data, SessionToken: token}))
}

func TestConn_CreateSendsSignedJSON(t *testing.T) {
	var gotPath, gotBody, gotSig, gotCT string
	c := newTestConn(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gotSig = r.Header.Get(signature.HeaderSignature)
		gotCT = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"objectId":"7FrmPTBKSNtVjajm","createDate":"2014-06-03T11:28:30.348Z"}`)
	}))

	body := types.NewObject()
	body.Set("message", types.StringValue("hello"))
	obj, err := c.Create(context.Background(), ClassPath("TestClass"), body)
	require.NoError(t, err)

	assert.Equal(t, "/2013-09-01/classes/TestClass", gotPath)
	assert.JSONEq(t, `{"message":"hello"}`, gotBody)
	assert.Equal(t, request.ContentTypeJSON, gotCT)
	assert.NotEmpty(t, gotSig)
	id, _ := obj.Get("objectId")
	assert.Equal(t, "7FrmPTBKSNtVjajm", id.AsString())
}

func TestConn_SessionTokenIsAttached(t *testing.T) {
	var got string
	c := newTestConn(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get(signature.HeaderSessionToken)
		_, _ = io.WriteString(w, `{}`)
	}))
	loginUser(t, c, "u1", "tok-1")

	_, err := c.Fetch(context.Background(), ObjectPath("Item", "a1"), nil)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", got)
}

func TestConn_ErrorBodyIsMapped(t *testing.T) {
	c := newTestConn(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"code":"E404001","error":"No data available."}`)
	}))

	_, err := c.Fetch(context.Background(), ObjectPath("Item", "missing"), nil)
	require.Error(t, err)
	var apiErr *ncmberrors.Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, ncmberrors.CodeDataNotFound, apiErr.Code)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "No data available.", apiErr.Message)
}

func TestConn_UnauthorizedLogsOutCurrentUser(t *testing.T) {
	c := newTestConn(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"code":"E401001","error":"Authentication error by header incorrect."}`)
	}))
	loginUser(t, c, "u1", "expired")

	_, err := c.Fetch(context.Background(), UserPath("u1"), nil)
	require.True(t, ncmberrors.IsCode(err, ncmberrors.CodeInvalidAuthHeader))
	assert.Empty(t, c.Session.SessionToken())
	assert.Empty(t, c.Session.CurrentUserID())
}

func TestConn_UnauthorizedWithoutTokenKeepsSession(t *testing.T) {
	c := newTestConn(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"code":"E401002","error":"OAuth error."}`)
	}))
	loginUser(t, c, "u1", "current")

	// a call with an explicit different token must not log out the current user
	_, err := c.Do(context.Background(), request.Spec{Method: http.MethodGet, Path: "users", SessionToken: "someone-else"})
	require.Error(t, err)
	assert.Equal(t, "current", c.Session.SessionToken())
}

func TestConn_MissingInstallationIsForgotten(t *testing.T) {
	c := newTestConn(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"code":"E404001","error":"No data available."}`)
	}))
	data, err := types.ParseObject([]byte(`{"objectId":"inst1","deviceToken":"dt"}`))
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, c.Session.SetCurrentInstallation(ctx, session.Document{ClassName: "installation", Data: data, DeviceToken: "dt"}))

	_, err = c.Fetch(ctx, InstallationPath("other"), nil)
	require.Error(t, err)
	assert.Equal(t, "inst1", c.Session.CurrentInstallationID())

	_, err = c.Update(ctx, InstallationPath("inst1"), types.NewObject())
	require.Error(t, err)
	assert.Empty(t, c.Session.CurrentInstallationID())
}

func TestConn_ResponseSignatureValidation(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		c := newTestConn(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			signedReply(w, r, http.StatusOK, `{"results":[]}`)
		}))
		c.Validate = true
		q := url.Values{"where": {`{"a":1}`}}
		res, err := c.Search(context.Background(), ClassPath("Item"), q)
		require.NoError(t, err)
		assert.Empty(t, res.Results)
	})

	t.Run("missing", func(t *testing.T) {
		c := newTestConn(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `{"results":[]}`)
		}))
		c.Validate = true
		_, err := c.Search(context.Background(), ClassPath("Item"), nil)
		assert.True(t, ncmberrors.IsCode(err, ncmberrors.CodeInvalidResponseSignature))
	})

	t.Run("tampered", func(t *testing.T) {
		c := newTestConn(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set(signature.HeaderResponseSignature, "V0rhK6/gxVkdJNj/xSCr6g3EvpnkQCtzaQXVz9VMrEc=")
			_, _ = io.WriteString(w, `{"results":[{"objectId":"x"}]}`)
		}))
		c.Validate = true
		_, err := c.Search(context.Background(), ClassPath("Item"), nil)
		assert.True(t, ncmberrors.IsCode(err, ncmberrors.CodeInvalidResponseSignature))
	})

	t.Run("disabled", func(t *testing.T) {
		c := newTestConn(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `{"results":[]}`)
		}))
		_, err := c.Search(context.Background(), ClassPath("Item"), nil)
		assert.NoError(t, err)
	})
}

func TestConn_SearchDecodesResultsAndCount(t *testing.T) {
	var gotQuery url.Values
	c := newTestConn(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		_, _ = io.WriteString(w, `{"results":[{"objectId":"a"},{"objectId":"b"}],"count":2}`)
	}))

	res, err := c.Search(context.Background(), ClassPath("Item"), url.Values{"count": {"1"}, "limit": {"2"}})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Count)
	require.Len(t, res.Results, 2)
	id, _ := res.Results[1].Get("objectId")
	assert.Equal(t, "b", id.AsString())
	assert.Equal(t, "1", gotQuery.Get("count"))
}

func TestConn_SearchRejectsMalformedResults(t *testing.T) {
	c := newTestConn(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"results":{"objectId":"a"}}`)
	}))
	_, err := c.Search(context.Background(), ClassPath("Item"), nil)
	assert.True(t, ncmberrors.IsCode(err, ncmberrors.CodeInvalidResponse))
}

func TestConn_NetworkFailure(t *testing.T) {
	c := newTestConn(t, http.NotFoundHandler())
	c.API.BaseURL = "http://127.0.0.1:1"
	_, err := c.Fetch(context.Background(), ObjectPath("Item", "a"), nil)
	require.Error(t, err)
	assert.True(t, ncmberrors.IsCode(err, ncmberrors.CodeNetwork))
	assert.False(t, ncmberrors.IsIrrecoverable(err))
}

func TestConn_CancelledContext(t *testing.T) {
	c := newTestConn(t, http.NotFoundHandler())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.Delete(ctx, ObjectPath("Item", "a"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConn_FilesAndScripts(t *testing.T) {
	var uploadCT, scriptPath string
	c := newTestConn(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/2013-09-01/files/a b.txt":
			uploadCT = r.Header.Get("Content-Type")
			require.NoError(t, r.ParseMultipartForm(1<<20))
			f, hdr, err := r.FormFile("file")
			require.NoError(t, err)
			defer f.Close()
			b, _ := io.ReadAll(f)
			assert.Equal(t, "payload", string(b))
			assert.Equal(t, "a b.txt", hdr.Filename)
			assert.JSONEq(t, `{"*":{"read":true}}`, r.FormValue("acl"))
			w.WriteHeader(http.StatusCreated)
			_, _ = io.WriteString(w, `{"fileName":"a b.txt","createDate":"2014-06-03T11:28:30.348Z"}`)
		case r.Method == http.MethodGet && r.URL.Path == "/2013-09-01/files/a b.txt":
			_, _ = io.WriteString(w, "payload")
		case r.URL.Path == "/2015-09-01/script/hello.js":
			scriptPath = r.URL.EscapedPath()
			_, _ = io.WriteString(w, `hello`)
		default:
			http.NotFound(w, r)
		}
	}))
	ctx := context.Background()
	acl := types.NewACL()
	acl.SetPublicReadAccess(true)

	obj, err := c.UploadFile(ctx, "a b.txt", "text/plain", []byte("payload"), acl)
	require.NoError(t, err)
	assert.Contains(t, uploadCT, "multipart/form-data")
	name, _ := obj.Get("fileName")
	assert.Equal(t, "a b.txt", name.AsString())

	data, err := c.DownloadFile(ctx, "a b.txt")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	out, err := c.ExecuteScript(ctx, http.MethodGet, "hello.js", nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(out))
	assert.Equal(t, "/2015-09-01/script/hello.js", scriptPath)
}

func TestPaths_EscapeSegments(t *testing.T) {
	assert.Equal(t, "classes/My%20Class/id%2F1", ObjectPath("My Class", "id/1"))
	assert.Equal(t, "users", UserPath(""))
	assert.Equal(t, "installations/abc", InstallationPath("abc"))
	assert.Equal(t, "files/a%20b.txt", FilePath("a b.txt"))
}
