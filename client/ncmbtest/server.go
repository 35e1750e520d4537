// Package ncmbtest runs an in-memory NCMB backend for tests. It checks request
// signatures, signs responses, applies field operations and evaluates the
// common query operators.
package ncmbtest

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/ncmb/ncmb-go/client/internal/signature"
	"github.com/ncmb/ncmb-go/client/internal/types"
)

const (
	apiVersion    = "2013-09-01"
	scriptVersion = "2015-09-01"
)

// ScriptFunc answers a script call with a status and raw body.
type ScriptFunc func(r *http.Request, body []byte) (int, []byte)

// Recorded is one request as the server saw it.
type Recorded struct {
	Method string
	Path   string // escaped, including the version prefix
	Query  map[string][]string
	Header http.Header
	Body   []byte
}

type injected struct {
	status  int
	code    string
	message string
}

type fileEntry struct {
	meta map[string]any
	data []byte
}

// Server is a fake NCMB endpoint. Create it with New and point a client at
// URL() with WithBaseURL and WithScriptBaseURL.
type Server struct {
	// Now stamps createDate/updateDate. Defaults to time.Now.
	Now func() time.Time

	appKey    string
	clientKey string
	srv       *httptest.Server

	mu          sync.Mutex
	classes     map[string]map[string]map[string]any // collection -> objectId -> doc
	order       map[string][]string                  // insertion order per collection
	passwords   map[string]string                    // user objectId -> password
	sessions    map[string]string                    // token -> user objectId
	files       map[string]*fileEntry
	scripts     map[string]ScriptFunc
	requests    []Recorded
	fail        []injected
	nextIDs     []string
	noSignature bool
}

// New starts a server that accepts requests signed with the given keys.
func New(appKey, clientKey string) *Server {
	s := &Server{
		Now:       time.Now,
		appKey:    appKey,
		clientKey: clientKey,
		classes:   make(map[string]map[string]map[string]any),
		order:     make(map[string][]string),
		passwords: make(map[string]string),
		sessions:  make(map[string]string),
		files:     make(map[string]*fileEntry),
		scripts:   make(map[string]ScriptFunc),
	}
	s.srv = httptest.NewServer(s.router())
	return s
}

// URL is the base URL for both the REST API and scripts.
func (s *Server) URL() string { return s.srv.URL }

// Client returns an http.Client wired to the server.
func (s *Server) Client() *http.Client { return s.srv.Client() }

func (s *Server) Close() { s.srv.Close() }

// HandleScript registers fn for /2015-09-01/script/{name}.
func (s *Server) HandleScript(name string, fn ScriptFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[name] = fn
}

// FailNext makes the next signed request fail with status and an NCMB error
// body. Calls queue up.
func (s *Server) FailNext(status int, code, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = append(s.fail, injected{status: status, code: code, message: message})
}

// SetNextObjectID fixes the objectId of the next created object.
func (s *Server) SetNextObjectID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextIDs = append(s.nextIDs, id)
}

// ExpireSessions invalidates every issued session token.
func (s *Server) ExpireSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = make(map[string]string)
}

// OmitResponseSignature stops the server from signing responses.
func (s *Server) OmitResponseSignature(omit bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.noSignature = omit
}

// Requests returns every request received so far.
func (s *Server) Requests() []Recorded {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Recorded(nil), s.requests...)
}

// Object returns a copy of a stored document, or nil.
func (s *Server) Object(collection, objectID string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.classes[collection][objectID]
	if !ok {
		return nil
	}
	return cloneDoc(doc)
}

// Put seeds a document and returns its objectId.
func (s *Server) Put(collection string, doc map[string]any) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, _ := doc["objectId"].(string)
	if id == "" {
		id = s.newIDLocked()
	}
	d := cloneDoc(doc)
	d["objectId"] = id
	now := s.stamp()
	if _, ok := d["createDate"]; !ok {
		d["createDate"] = now
	}
	if _, ok := d["updateDate"]; !ok {
		d["updateDate"] = now
	}
	s.storeLocked(collection, d)
	return id
}

// AddUser seeds a user that can log in with password.
func (s *Server) AddUser(userName, password string, fields map[string]any) string {
	doc := map[string]any{}
	for k, v := range fields {
		doc[k] = v
	}
	doc["userName"] = userName
	id := s.Put("users", doc)
	s.mu.Lock()
	s.passwords[id] = password
	s.mu.Unlock()
	return id
}

// ------------------------- routing -------------------------

func (s *Server) router() *mux.Router {
	root := mux.NewRouter()
	root.Use(recoverMiddleware, s.authMiddleware)

	v := root.PathPrefix("/" + apiVersion).Subrouter()

	v.HandleFunc("/users", s.signUp).Methods(http.MethodPost)
	v.HandleFunc("/login", s.login).Methods(http.MethodGet)
	v.HandleFunc("/logout", s.logout).Methods(http.MethodGet)
	v.HandleFunc("/requestPasswordReset", s.mailRequest(http.StatusOK)).Methods(http.MethodPost)
	v.HandleFunc("/requestMailAddressUserEntry", s.mailRequest(http.StatusCreated)).Methods(http.MethodPost)
	v.HandleFunc("/installations", s.createInstallation).Methods(http.MethodPost)
	v.HandleFunc("/push/{objectId}/openNumber", s.openNumber).Methods(http.MethodPost)

	v.HandleFunc("/files", s.searchFiles).Methods(http.MethodGet)
	v.HandleFunc("/files/{name}", s.uploadFile).Methods(http.MethodPost)
	v.HandleFunc("/files/{name}", s.downloadFile).Methods(http.MethodGet)
	v.HandleFunc("/files/{name}", s.updateFile).Methods(http.MethodPut)
	v.HandleFunc("/files/{name}", s.deleteFile).Methods(http.MethodDelete)

	for _, coll := range []string{"users", "installations", "roles", "push"} {
		s.collectionRoutes(v, "/"+coll, fixedCollection(coll))
	}
	s.collectionRoutes(v, "/classes/{class}", func(r *http.Request) string {
		return "classes/" + mux.Vars(r)["class"]
	})

	root.HandleFunc("/"+scriptVersion+"/script/{name}", s.runScript)
	root.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, http.StatusNotFound, "E404001", "No such path.")
	})
	return root
}

func fixedCollection(name string) func(*http.Request) string {
	return func(*http.Request) string { return name }
}

func (s *Server) collectionRoutes(r *mux.Router, base string, coll func(*http.Request) string) {
	r.HandleFunc(base, func(w http.ResponseWriter, r *http.Request) { s.create(w, r, coll(r)) }).Methods(http.MethodPost)
	r.HandleFunc(base, func(w http.ResponseWriter, r *http.Request) { s.search(w, r, coll(r)) }).Methods(http.MethodGet)
	r.HandleFunc(base+"/{objectId}", func(w http.ResponseWriter, r *http.Request) { s.fetch(w, r, coll(r)) }).Methods(http.MethodGet)
	r.HandleFunc(base+"/{objectId}", func(w http.ResponseWriter, r *http.Request) { s.update(w, r, coll(r)) }).Methods(http.MethodPut)
	r.HandleFunc(base+"/{objectId}", func(w http.ResponseWriter, r *http.Request) { s.remove(w, r, coll(r)) }).Methods(http.MethodDelete)
}

// recoverMiddleware turns handler panics into 500 E500001.
func recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error().
					Interface("panic", rec).
					Str("method", r.Method).
					Str("url", r.URL.String()).
					Bytes("stack", debug.Stack()).
					Msg("ncmbtest: panic recovered")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`{"code":"E500001","error":"Internal server error."}`))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// authMiddleware records the request, checks the signature and session token,
// then applies injected failures.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = r.Body.Close()
		r.Body = io.NopCloser(strings.NewReader(string(body)))

		s.mu.Lock()
		s.requests = append(s.requests, Recorded{
			Method: r.Method,
			Path:   r.URL.EscapedPath(),
			Query:  r.URL.Query(),
			Header: r.Header.Clone(),
			Body:   body,
		})
		s.mu.Unlock()

		if r.Header.Get(signature.HeaderApplicationKey) != s.appKey {
			s.writeError(w, r, http.StatusUnauthorized, "E401001", "Authentication error by header incorrect.")
			return
		}
		want := signature.Sign(s.clientKey, s.inputFor(r))
		if !signature.Verify(want, r.Header.Get(signature.HeaderSignature)) {
			s.writeError(w, r, http.StatusUnauthorized, "E401001", "Authentication error by header incorrect.")
			return
		}
		if tok := r.Header.Get(signature.HeaderSessionToken); tok != "" {
			s.mu.Lock()
			_, ok := s.sessions[tok]
			s.mu.Unlock()
			if !ok {
				s.writeError(w, r, http.StatusUnauthorized, "E401001", "Authentication error by header incorrect.")
				return
			}
		}

		s.mu.Lock()
		var inj *injected
		if len(s.fail) > 0 {
			inj = &s.fail[0]
			s.fail = s.fail[1:]
		}
		s.mu.Unlock()
		if inj != nil {
			s.writeError(w, r, inj.status, inj.code, inj.message)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) inputFor(r *http.Request) signature.Input {
	return signature.Input{
		Method:         r.Method,
		Host:           r.Host,
		Path:           r.URL.EscapedPath(),
		Query:          r.URL.Query(),
		ApplicationKey: r.Header.Get(signature.HeaderApplicationKey),
		Timestamp:      r.Header.Get(signature.HeaderTimestamp),
	}
}

// ------------------------- responses -------------------------

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	var body []byte
	if v != nil {
		b, err := json.Marshal(v)
		if err != nil {
			log.Error().Err(err).Msg("ncmbtest: encode response")
			status, b = http.StatusInternalServerError, []byte(`{"code":"E500001","error":"encode failure"}`)
		}
		body = b
	}
	s.write(w, r, status, "application/json", body, false)
}

func (s *Server) write(w http.ResponseWriter, r *http.Request, status int, contentType string, body []byte, binary bool) {
	s.mu.Lock()
	sign := !s.noSignature
	s.mu.Unlock()
	if sign && status >= 200 && status < 300 {
		w.Header().Set(signature.HeaderResponseSignature, signature.SignResponse(s.clientKey, s.inputFor(r), body, binary))
	}
	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	s.writeJSON(w, r, status, map[string]string{"code": code, "error": message})
}

// ------------------------- helpers -------------------------

func (s *Server) stamp() string { return types.FormatDate(s.Now()) }

func (s *Server) newIDLocked() string {
	if len(s.nextIDs) > 0 {
		id := s.nextIDs[0]
		s.nextIDs = s.nextIDs[1:]
		return id
	}
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

func (s *Server) storeLocked(collection string, doc map[string]any) {
	m, ok := s.classes[collection]
	if !ok {
		m = make(map[string]map[string]any)
		s.classes[collection] = m
	}
	id := doc["objectId"].(string)
	if _, exists := m[id]; !exists {
		s.order[collection] = append(s.order[collection], id)
	}
	m[id] = doc
}

func (s *Server) deleteLocked(collection, id string) {
	delete(s.classes[collection], id)
	ids := s.order[collection]
	for i, v := range ids {
		if v == id {
			s.order[collection] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
}

func decodeBody(r *http.Request) (map[string]any, error) {
	b, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	doc := map[string]any{}
	if len(strings.TrimSpace(string(b))) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func cloneDoc(doc map[string]any) map[string]any {
	b, _ := json.Marshal(doc)
	out := map[string]any{}
	_ = json.Unmarshal(b, &out)
	return out
}

func newToken() string { return strings.ReplaceAll(uuid.NewString(), "-", "") }
