package api

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"

	ncmberrors "github.com/ncmb/ncmb-go/client/internal/errors"
	"github.com/ncmb/ncmb-go/client/internal/request"
	"github.com/ncmb/ncmb-go/client/internal/types"
)

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// UploadFile stores data under name with a multipart POST (parts "file" and
// "acl").
func (c *Conn) UploadFile(ctx context.Context, name, contentType string, data []byte, acl *types.ACL) (*types.Object, error) {
	if name == "" {
		return nil, ncmberrors.New(ncmberrors.CodeGeneric, "file name is required")
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="`+quoteEscaper.Replace(name)+`"`)
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, ncmberrors.Wrap(ncmberrors.CodeGeneric, err, "build multipart body")
	}
	if _, err := part.Write(data); err != nil {
		return nil, ncmberrors.Wrap(ncmberrors.CodeGeneric, err, "build multipart body")
	}
	if !acl.IsEmpty() {
		aclJSON, err := acl.MarshalJSON()
		if err != nil {
			return nil, ncmberrors.Wrap(ncmberrors.CodeInvalidType, err, "encode acl")
		}
		if err := mw.WriteField("acl", string(aclJSON)); err != nil {
			return nil, ncmberrors.Wrap(ncmberrors.CodeGeneric, err, "build multipart body")
		}
	}
	if err := mw.Close(); err != nil {
		return nil, ncmberrors.Wrap(ncmberrors.CodeGeneric, err, "build multipart body")
	}

	resp, err := c.Do(ctx, request.Spec{
		Method:      http.MethodPost,
		Path:        FilePath(name),
		Body:        buf.Bytes(),
		ContentType: mw.FormDataContentType(),
	})
	if err != nil {
		return nil, err
	}
	return resp.Object()
}

// DownloadFile returns the raw bytes stored under name.
func (c *Conn) DownloadFile(ctx context.Context, name string) ([]byte, error) {
	if name == "" {
		return nil, ncmberrors.New(ncmberrors.CodeGeneric, "file name is required")
	}
	resp, err := c.Do(ctx, request.Spec{Method: http.MethodGet, Path: FilePath(name), BinaryResponse: true})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// ExecuteScript calls a server-side script on the script endpoint and returns
// the raw response body.
func (c *Conn) ExecuteScript(ctx context.Context, method, name string, query url.Values, header http.Header, body []byte) ([]byte, error) {
	if name == "" {
		return nil, ncmberrors.New(ncmberrors.CodeGeneric, "script name is required")
	}
	resp, err := c.DoAt(ctx, c.Script, request.Spec{
		Method:      method,
		Path:        ScriptPath(name),
		Query:       query,
		Body:        body,
		Header:      header,
		ContentType: header.Get("Content-Type"),
	})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}
