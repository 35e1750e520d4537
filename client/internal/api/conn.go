// Package api executes signed requests against the NCMB REST API and maps the
// results: typed errors, response signature validation and the central
// invalidation of the current user and installation.
package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	ncmberrors "github.com/ncmb/ncmb-go/client/internal/errors"
	"github.com/ncmb/ncmb-go/client/internal/request"
	"github.com/ncmb/ncmb-go/client/internal/session"
	"github.com/ncmb/ncmb-go/client/internal/signature"
	"github.com/ncmb/ncmb-go/client/internal/types"
)

// Conn is shared by every entity of one client. It is safe for concurrent use.
type Conn struct {
	HTTP     HTTPClient
	Builder  *request.Builder
	API      request.Endpoint
	Script   request.Endpoint
	Session  *session.Session
	Log      zerolog.Logger
	Validate bool // check X-NCMB-Response-Signature
}

// Response is a fully read 2xx response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Object decodes the body as a JSON object; an empty body yields an empty
// object.
func (r *Response) Object() (*types.Object, error) {
	if len(strings.TrimSpace(string(r.Body))) == 0 {
		return types.NewObject(), nil
	}
	obj, err := types.ParseObject(r.Body)
	if err != nil {
		return nil, ncmberrors.Wrap(ncmberrors.CodeInvalidResponse, err, "invalid response body")
	}
	return obj, nil
}

// Do sends s to the REST API endpoint. The current session token is attached
// unless s already carries one.
func (c *Conn) Do(ctx context.Context, s request.Spec) (*Response, error) {
	return c.DoAt(ctx, c.API, s)
}

// DoAt sends s to ep.
func (c *Conn) DoAt(ctx context.Context, ep request.Endpoint, s request.Spec) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.SessionToken == "" && c.Session != nil {
		s.SessionToken = c.Session.SessionToken()
	}
	signed, err := c.Builder.Build(ctx, ep, s)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.HTTP.Do(signed.HTTP)
	if err != nil {
		requestsTotal.WithLabelValues(signed.HTTP.Method, "network").Inc()
		c.Log.Debug().Err(err).Str("method", signed.HTTP.Method).Str("path", s.Path).Msg("ncmb request failed")
		return nil, ncmberrors.NewNetworkError(signed.HTTP.Method+" "+s.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	elapsed := time.Since(start)
	requestDuration.WithLabelValues(signed.HTTP.Method).Observe(elapsed.Seconds())
	if err != nil {
		requestsTotal.WithLabelValues(signed.HTTP.Method, "network").Inc()
		return nil, ncmberrors.NewNetworkError(signed.HTTP.Method+" "+s.Path, err)
	}
	requestsTotal.WithLabelValues(signed.HTTP.Method, strconv.Itoa(resp.StatusCode)).Inc()
	c.Log.Debug().
		Str("method", signed.HTTP.Method).
		Str("path", s.Path).
		Int("status", resp.StatusCode).
		Dur("elapsed", elapsed).
		Msg("ncmb request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := ncmberrors.ClassifyHTTPError(resp.StatusCode, body)
		c.invalidate(ctx, signed.HTTP.Method, s, apiErr)
		return nil, apiErr
	}
	if c.Validate {
		if err := c.verify(signed, resp.Header, body); err != nil {
			return nil, err
		}
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

func (c *Conn) verify(signed *request.Signed, h http.Header, body []byte) error {
	got := h.Get(signature.HeaderResponseSignature)
	if got == "" {
		return ncmberrors.New(ncmberrors.CodeInvalidResponseSignature, "response carries no %s header", signature.HeaderResponseSignature)
	}
	want := signature.SignResponse(c.Builder.Credentials.ClientKey, signed.Input, body, signed.Binary)
	if !signature.Verify(want, got) {
		return ncmberrors.New(ncmberrors.CodeInvalidResponseSignature, "response signature mismatch")
	}
	return nil
}

// invalidate runs before the error reaches the caller: a rejected session
// token logs the current user out, and a missing current installation is
// forgotten locally.
func (c *Conn) invalidate(ctx context.Context, method string, s request.Spec, apiErr *ncmberrors.Error) {
	if c.Session == nil {
		return
	}
	if apiErr.StatusCode == http.StatusUnauthorized && s.SessionToken != "" {
		if _, err := c.Session.Invalidate(ctx, s.SessionToken); err != nil {
			c.Log.Warn().Err(err).Msg("clear current user")
		}
	}
	if apiErr.Code == ncmberrors.CodeDataNotFound && method != http.MethodPost {
		if id := c.Session.CurrentInstallationID(); id != "" && s.Path == InstallationPath(id) {
			c.Log.Info().Str("installation", id).Msg("current installation no longer exists, clearing it")
			if err := c.Session.ClearCurrentInstallation(ctx); err != nil {
				c.Log.Warn().Err(err).Msg("clear current installation")
			}
		}
	}
}

// ------------------------- paths -------------------------

func ClassPath(className string) string {
	return "classes/" + signature.EscapePath(className)
}

func ObjectPath(className, objectID string) string {
	return ClassPath(className) + "/" + signature.EscapePath(objectID)
}

func InstallationPath(objectID string) string { return withID("installations", objectID) }
func UserPath(objectID string) string         { return withID("users", objectID) }
func RolePath(objectID string) string         { return withID("roles", objectID) }
func PushPath(objectID string) string         { return withID("push", objectID) }

// FilePath addresses a file by name.
func FilePath(name string) string { return withID("files", name) }

// ScriptPath addresses a script by name on the script endpoint.
func ScriptPath(name string) string { return "script/" + signature.EscapePath(name) }

func withID(base, id string) string {
	if id == "" {
		return base
	}
	return fmt.Sprintf("%s/%s", base, signature.EscapePath(id))
}
