package client

import (
	"context"
	"net/url"
	"strings"

	"github.com/ncmb/ncmb-go/client/internal/api"
	ncmberrors "github.com/ncmb/ncmb-go/client/internal/errors"
	"github.com/ncmb/ncmb-go/client/internal/query"
	"github.com/ncmb/ncmb-go/client/internal/signature"
	"github.com/ncmb/ncmb-go/client/internal/types"
)

// Conditions is the condition tree behind a Query; pass q.Conditions to
// WhereMatchesQuery, WhereMatchesKeyInQuery or Or of another query.
type Conditions = query.Query

// Query searches one class and decodes results as T. Condition methods come
// from the embedded Conditions; the first invalid condition is reported by
// Find, Count, Get and First.
type Query[T Entity] struct {
	*Conditions

	client *Client
	path   string
	decode func(*types.Object) T
}

func newQuery[T Entity](c *Client, className, path string, decode func(*types.Object) T) *Query[T] {
	return &Query[T]{Conditions: query.New(className), client: c, path: path, decode: decode}
}

// NewQuery searches the data-store class className.
func (c *Client) NewQuery(className string) *Query[*Object] {
	return newQuery(c, className, api.ClassPath(className), func(obj *types.Object) *Object {
		return c.objectFrom(types.NewContainerFromObject(className, obj))
	})
}

// Find returns every entity matching the conditions, within limit and skip.
func (q *Query[T]) Find(ctx context.Context) ([]T, error) {
	params, err := q.Params(false)
	if err != nil {
		return nil, err
	}
	res, err := q.client.conn.Search(ctx, q.path, params)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(res.Results))
	for _, obj := range res.Results {
		out = append(out, q.decode(obj))
	}
	return out, nil
}

// Count returns the number of matching entities.
func (q *Query[T]) Count(ctx context.Context) (int, error) {
	params, err := q.Params(true)
	if err != nil {
		return 0, err
	}
	res, err := q.client.conn.Search(ctx, q.path, params)
	if err != nil {
		return 0, err
	}
	return res.Count, nil
}

// Get fetches one entity by objectId, honouring include keys.
func (q *Query[T]) Get(ctx context.Context, objectID string) (T, error) {
	var zero T
	if err := q.Err(); err != nil {
		return zero, err
	}
	if objectID == "" {
		return zero, ncmberrors.New(ncmberrors.CodeGeneric, "objectId is required")
	}
	params, err := q.Params(false)
	if err != nil {
		return zero, err
	}
	fetchParams := url.Values{}
	if inc := params.Get("include"); inc != "" {
		fetchParams.Set("include", inc)
	}
	obj, err := q.client.conn.Fetch(ctx, q.path+"/"+signature.EscapePath(objectID), fetchParams)
	if err != nil {
		return zero, err
	}
	return q.decode(obj), nil
}

// First returns the first match; no match is E404001.
func (q *Query[T]) First(ctx context.Context) (T, error) {
	var zero T
	one := &Query[T]{Conditions: q.Conditions.Clone().SetLimit(1), client: q.client, path: q.path, decode: q.decode}
	found, err := one.Find(ctx)
	if err != nil {
		return zero, err
	}
	if len(found) == 0 {
		return zero, ncmberrors.New(ncmberrors.CodeDataNotFound, "no %s matches the query", q.ClassName())
	}
	return found[0], nil
}

// FindInBackground and CountInBackground run on the executor, queued per
// class.
func (q *Query[T]) FindInBackground(ctx context.Context, cb func([]T, error)) *Task[[]T] {
	return submit(ctx, q.client, "query/"+q.ClassName(), q.Find, cb)
}

func (q *Query[T]) CountInBackground(ctx context.Context, cb func(int, error)) *Task[int] {
	return submit(ctx, q.client, "query/"+q.ClassName(), q.Count, cb)
}

func includeQuery(keys []string) url.Values {
	if len(keys) == 0 {
		return nil
	}
	return url.Values{"include": {strings.Join(keys, ",")}}
}
