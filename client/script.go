package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"

	ncmberrors "github.com/ncmb/ncmb-go/client/internal/errors"
)

// Script calls server-side logic on the script endpoint.
type Script struct {
	client *Client
	name   string
	method string

	mu     sync.Mutex
	query  url.Values
	header http.Header
	body   []byte
}

// NewScript prepares a call to the script called name with method GET, POST,
// PUT or DELETE.
func (c *Client) NewScript(name, method string) *Script {
	return &Script{
		client: c,
		name:   name,
		method: strings.ToUpper(method),
		query:  url.Values{},
		header: http.Header{},
	}
}

func (s *Script) Name() string { return s.name }

// SetQuery adds a query parameter.
func (s *Script) SetQuery(key, value string) *Script {
	s.mu.Lock()
	s.query.Add(key, value)
	s.mu.Unlock()
	return s
}

// SetHeader sets a request header passed through to the script.
func (s *Script) SetHeader(key, value string) *Script {
	s.mu.Lock()
	s.header.Set(key, value)
	s.mu.Unlock()
	return s
}

// SetBody encodes v as the JSON request body.
func (s *Script) SetBody(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return ncmberrors.Wrap(ncmberrors.CodeInvalidType, err, "encode script body")
	}
	s.mu.Lock()
	s.body = b
	s.mu.Unlock()
	return nil
}

// SetRawBody sends b unchanged.
func (s *Script) SetRawBody(b []byte) {
	s.mu.Lock()
	s.body = append([]byte(nil), b...)
	s.mu.Unlock()
}

// Execute runs the script and returns the raw response body.
func (s *Script) Execute(ctx context.Context) ([]byte, error) {
	if s.name == "" {
		return nil, ncmberrors.New(ncmberrors.CodeGeneric, "script name is required")
	}
	switch s.method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete:
	default:
		return nil, ncmberrors.New(ncmberrors.CodeGeneric, "unsupported script method %q", s.method)
	}

	s.mu.Lock()
	query := cloneValues(s.query)
	header := s.header.Clone()
	body := s.body
	s.mu.Unlock()
	if s.method == http.MethodGet || s.method == http.MethodDelete {
		body = nil
	}
	return s.client.conn.ExecuteScript(ctx, s.method, s.name, query, header, body)
}

// ExecuteInBackground runs Execute on the executor.
func (s *Script) ExecuteInBackground(ctx context.Context, cb func([]byte, error)) *Task[[]byte] {
	return submit(ctx, s.client, ClassScript+"/"+s.name, s.Execute, cb)
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vs := range v {
		out[k] = append([]string(nil), vs...)
	}
	return out
}
