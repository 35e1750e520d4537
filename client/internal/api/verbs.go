package api

import (
	"context"
	"net/http"
	"net/url"

	ncmberrors "github.com/ncmb/ncmb-go/client/internal/errors"
	"github.com/ncmb/ncmb-go/client/internal/request"
	"github.com/ncmb/ncmb-go/client/internal/types"
)

// Create POSTs body to path and returns the server's reply (objectId,
// createDate and any computed fields).
func (c *Conn) Create(ctx context.Context, path string, body *types.Object) (*types.Object, error) {
	return c.sendObject(ctx, http.MethodPost, path, body)
}

// Update PUTs body to path and returns the reply (updateDate and echoed
// operation results).
func (c *Conn) Update(ctx context.Context, path string, body *types.Object) (*types.Object, error) {
	return c.sendObject(ctx, http.MethodPut, path, body)
}

// Fetch GETs one entity.
func (c *Conn) Fetch(ctx context.Context, path string, query url.Values) (*types.Object, error) {
	resp, err := c.Do(ctx, request.Spec{Method: http.MethodGet, Path: path, Query: query})
	if err != nil {
		return nil, err
	}
	return resp.Object()
}

// Delete removes one entity.
func (c *Conn) Delete(ctx context.Context, path string) error {
	_, err := c.Do(ctx, request.Spec{Method: http.MethodDelete, Path: path})
	return err
}

// SearchResult is the decoded body of a search: {"results":[...],"count":n}.
type SearchResult struct {
	Results []*types.Object
	Count   int
}

// Search GETs path with the given query parameters.
func (c *Conn) Search(ctx context.Context, path string, params url.Values) (*SearchResult, error) {
	resp, err := c.Do(ctx, request.Spec{Method: http.MethodGet, Path: path, Query: params})
	if err != nil {
		return nil, err
	}
	obj, err := resp.Object()
	if err != nil {
		return nil, err
	}
	out := &SearchResult{}
	if cnt, ok := obj.Get("count"); ok {
		out.Count = int(cnt.AsInt64())
	}
	results, ok := obj.Get("results")
	if !ok {
		return out, nil
	}
	if results.Kind() != types.KindArray {
		return nil, ncmberrors.New(ncmberrors.CodeInvalidResponse, "search results are not an array")
	}
	for i, r := range results.AsArray() {
		o := r.AsObject()
		if o == nil {
			return nil, ncmberrors.New(ncmberrors.CodeInvalidResponse, "search result %d is not an object", i)
		}
		out.Results = append(out.Results, o)
	}
	return out, nil
}

func (c *Conn) sendObject(ctx context.Context, method, path string, body *types.Object) (*types.Object, error) {
	if body == nil {
		body = types.NewObject()
	}
	payload, err := body.MarshalJSON()
	if err != nil {
		return nil, ncmberrors.Wrap(ncmberrors.CodeInvalidType, err, "encode request body")
	}
	resp, err := c.Do(ctx, request.Spec{Method: method, Path: path, Body: payload})
	if err != nil {
		return nil, err
	}
	return resp.Object()
}
