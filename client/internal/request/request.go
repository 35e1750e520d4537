// Package request turns a method, path, query and body into a signed
// *http.Request for the NCMB REST API.
package request

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	ncmberrors "github.com/ncmb/ncmb-go/client/internal/errors"
	"github.com/ncmb/ncmb-go/client/internal/signature"
	"github.com/ncmb/ncmb-go/client/internal/types"
)

const (
	ContentTypeJSON = "application/json"

	DefaultBaseURL       = "https://mbaas.api.nifcloud.com"
	DefaultAPIVersion    = "2013-09-01"
	DefaultScriptBaseURL = "https://script.mbaas.api.nifcloud.com"
	DefaultScriptVersion = "2015-09-01"
)

// Endpoint is one API host plus its version prefix.
type Endpoint struct {
	BaseURL string
	Version string
}

// Credentials identify the application; ClientKey never leaves the process.
type Credentials struct {
	ApplicationKey string
	ClientKey      string
}

// Spec describes one call.
type Spec struct {
	Method       string
	Path         string // relative to the version prefix, segments already escaped
	Query        url.Values
	Body         []byte
	ContentType  string // defaults to application/json when Body is set
	Header       http.Header
	SessionToken string
	// BinaryResponse selects hex encoding of the body for response signature
	// validation.
	BinaryResponse bool
}

// Signed is a built request together with the inputs it was signed with, so the
// response signature can be checked against the same canonical string.
type Signed struct {
	HTTP      *http.Request
	Input     signature.Input
	Binary    bool
	Signature string
}

// Builder signs requests. Now is injectable for deterministic signatures.
type Builder struct {
	Credentials Credentials
	Now         func() time.Time
}

// Build assembles and signs s against ep.
func (b *Builder) Build(ctx context.Context, ep Endpoint, s Spec) (*Signed, error) {
	if b.Credentials.ApplicationKey == "" || b.Credentials.ClientKey == "" {
		return nil, ncmberrors.New(ncmberrors.CodeGeneric, "application key and client key are required")
	}
	base, err := url.Parse(ep.BaseURL)
	if err != nil || base.Host == "" {
		return nil, ncmberrors.New(ncmberrors.CodeGeneric, "invalid base url %q", ep.BaseURL)
	}
	method := strings.ToUpper(s.Method)
	if method == "" {
		method = http.MethodGet
	}

	rawPath := strings.TrimRight(base.EscapedPath(), "/") + "/" + ep.Version + "/" + strings.TrimLeft(s.Path, "/")
	u := &url.URL{Scheme: base.Scheme, Host: base.Host, RawQuery: signature.EncodeQuery(s.Query)}
	unescaped, err := url.PathUnescape(rawPath)
	if err != nil {
		return nil, ncmberrors.Wrap(ncmberrors.CodeGeneric, err, "invalid path %q", rawPath)
	}
	u.Path = unescaped
	u.RawPath = rawPath

	now := time.Now
	if b.Now != nil {
		now = b.Now
	}
	in := signature.Input{
		Method:         method,
		Host:           base.Host,
		Path:           rawPath,
		Query:          s.Query,
		ApplicationKey: b.Credentials.ApplicationKey,
		Timestamp:      types.FormatDate(now()),
	}
	sig := signature.Sign(b.Credentials.ClientKey, in)

	var body *bytes.Reader
	if s.Body != nil {
		body = bytes.NewReader(s.Body)
	}
	var req *http.Request
	if body != nil {
		req, err = http.NewRequestWithContext(ctx, method, u.String(), body)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, u.String(), nil)
	}
	if err != nil {
		return nil, ncmberrors.Wrap(ncmberrors.CodeGeneric, err, "build request")
	}
	for k, vs := range s.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set(signature.HeaderApplicationKey, b.Credentials.ApplicationKey)
	req.Header.Set(signature.HeaderTimestamp, in.Timestamp)
	req.Header.Set(signature.HeaderSignature, sig)
	if s.SessionToken != "" {
		req.Header.Set(signature.HeaderSessionToken, s.SessionToken)
	}
	if s.Body != nil {
		ct := s.ContentType
		if ct == "" {
			ct = ContentTypeJSON
		}
		req.Header.Set("Content-Type", ct)
	}
	return &Signed{HTTP: req, Input: in, Binary: s.BinaryResponse, Signature: sig}, nil
}
