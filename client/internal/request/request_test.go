package request

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ncmberrors "github.com/ncmb/ncmb-go/client/internal/errors"
	"github.com/ncmb/ncmb-go/client/internal/signature"
)

func fixedBuilder() *Builder {
	return &Builder{
		Credentials: Credentials{
			ApplicationKey: "6145f91061916580c742f806bab67649d10f45920246ff459404c46f00ff3e56",
			ClientKey:      "1343d198b510a0315db1c03f3aa0e32418b7a743f8e4b47cbff670601345cf75",
		},
		Now: func() time.Time { return time.Date(2013, 12, 2, 2, 44, 35, 452000000, time.UTC) },
	}
}

func TestBuild_SignsDocumentedRequest(t *testing.T) {
	b := fixedBuilder()
	signed, err := b.Build(context.Background(), Endpoint{BaseURL: DefaultBaseURL, Version: DefaultAPIVersion}, Spec{
		Method: http.MethodGet,
		Path:   "classes/TestClass",
		Query:  url.Values{"where": {`{"testKey":"testValue"}`}},
	})
	require.NoError(t, err)

	req := signed.HTTP
	assert.Equal(t, "https://mbaas.api.nifcloud.com/2013-09-01/classes/TestClass?where=%7B%22testKey%22%3A%22testValue%22%7D", req.URL.String())
	assert.Equal(t, "AltGkQgXurEV7u0qMd+87ud7BKuueldoCjaMgVc9Bes=", req.Header.Get(signature.HeaderSignature))
	assert.Equal(t, "2013-12-02T02:44:35.452Z", req.Header.Get(signature.HeaderTimestamp))
	assert.Equal(t, b.Credentials.ApplicationKey, req.Header.Get(signature.HeaderApplicationKey))
	assert.Empty(t, req.Header.Get(signature.HeaderSessionToken))
	assert.Empty(t, req.Header.Get("Content-Type"))
	assert.Equal(t, "mbaas.api.nifcloud.com", signed.Input.Host)
}

func TestBuild_BodyHeadersAndSession(t *testing.T) {
	b := fixedBuilder()
	signed, err := b.Build(context.Background(), Endpoint{BaseURL: "http://127.0.0.1:8080/prefix/", Version: "v1"}, Spec{
		Method:       "put",
		Path:         "/classes/TestClass/abc",
		Body:         []byte(`{"k":"v"}`),
		SessionToken: "tok",
		Header:       http.Header{"X-Extra": {"1"}},
	})
	require.NoError(t, err)

	req := signed.HTTP
	assert.Equal(t, http.MethodPut, req.Method)
	assert.Equal(t, "/prefix/v1/classes/TestClass/abc", req.URL.EscapedPath())
	assert.Equal(t, "tok", req.Header.Get(signature.HeaderSessionToken))
	assert.Equal(t, ContentTypeJSON, req.Header.Get("Content-Type"))
	assert.Equal(t, "1", req.Header.Get("X-Extra"))
	assert.Equal(t, "127.0.0.1:8080", signed.Input.Host)

	body, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	assert.Equal(t, `{"k":"v"}`, string(body))
}

func TestBuild_EscapedPathSurvives(t *testing.T) {
	b := fixedBuilder()
	signed, err := b.Build(context.Background(), Endpoint{BaseURL: DefaultBaseURL, Version: DefaultAPIVersion}, Spec{
		Method: http.MethodGet,
		Path:   "files/" + signature.EscapePath("my photo.png"),
	})
	require.NoError(t, err)
	assert.Equal(t, "/2013-09-01/files/my%20photo.png", signed.HTTP.URL.EscapedPath())
	assert.Equal(t, "/2013-09-01/files/my%20photo.png", signed.Input.Path)
}

func TestBuild_RequiresKeysAndBaseURL(t *testing.T) {
	_, err := (&Builder{}).Build(context.Background(), Endpoint{BaseURL: DefaultBaseURL}, Spec{})
	assert.True(t, ncmberrors.IsCode(err, ncmberrors.CodeGeneric))

	_, err = fixedBuilder().Build(context.Background(), Endpoint{BaseURL: "not a url"}, Spec{})
	assert.True(t, ncmberrors.IsCode(err, ncmberrors.CodeGeneric))
}
