package ncmbtest

import (
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/ncmb/ncmb-go/client/internal/signature"
)

// ------------------------- generic collections -------------------------

func (s *Server) create(w http.ResponseWriter, r *http.Request, coll string) {
	body, err := decodeBody(r)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, "E400001", "JSON is invalid format.")
		return
	}
	s.mu.Lock()
	doc := map[string]any{}
	if err := applyAll(doc, body); err != nil {
		s.mu.Unlock()
		s.writeError(w, r, http.StatusBadRequest, "E400002", err.Error())
		return
	}
	now := s.stamp()
	doc["objectId"] = s.newIDLocked()
	doc["createDate"] = now
	doc["updateDate"] = now
	s.storeLocked(coll, doc)
	s.mu.Unlock()

	s.writeJSON(w, r, http.StatusCreated, map[string]any{"objectId": doc["objectId"], "createDate": now})
}

func (s *Server) fetch(w http.ResponseWriter, r *http.Request, coll string) {
	id := mux.Vars(r)["objectId"]
	s.mu.Lock()
	doc, ok := s.classes[coll][id]
	var out map[string]any
	if ok {
		out = s.publicLocked(coll, doc)
	}
	s.mu.Unlock()
	if !ok {
		s.writeError(w, r, http.StatusNotFound, "E404001", "No data available.")
		return
	}
	s.writeJSON(w, r, http.StatusOK, out)
}

func (s *Server) update(w http.ResponseWriter, r *http.Request, coll string) {
	id := mux.Vars(r)["objectId"]
	body, err := decodeBody(r)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, "E400001", "JSON is invalid format.")
		return
	}
	s.mu.Lock()
	doc, ok := s.classes[coll][id]
	if !ok {
		s.mu.Unlock()
		s.writeError(w, r, http.StatusNotFound, "E404001", "No data available.")
		return
	}
	if coll == "users" {
		if name, ok := body["userName"].(string); ok && s.userNameTakenLocked(name, id) {
			s.mu.Unlock()
			s.writeError(w, r, http.StatusConflict, "E409001", "userName is duplication.")
			return
		}
		if pw, ok := body["password"].(string); ok {
			s.passwords[id] = pw
			delete(body, "password")
		}
	}
	next := cloneDoc(doc)
	if err := applyAll(next, body); err != nil {
		s.mu.Unlock()
		s.writeError(w, r, http.StatusBadRequest, "E400002", err.Error())
		return
	}
	now := s.stamp()
	next["updateDate"] = now
	s.classes[coll][id] = next
	s.mu.Unlock()

	s.writeJSON(w, r, http.StatusOK, map[string]any{"updateDate": now})
}

func (s *Server) remove(w http.ResponseWriter, r *http.Request, coll string) {
	id := mux.Vars(r)["objectId"]
	s.mu.Lock()
	_, ok := s.classes[coll][id]
	if ok {
		s.deleteLocked(coll, id)
		if coll == "users" {
			delete(s.passwords, id)
			for tok, uid := range s.sessions {
				if uid == id {
					delete(s.sessions, tok)
				}
			}
		}
	}
	s.mu.Unlock()
	if !ok {
		s.writeError(w, r, http.StatusNotFound, "E404001", "No data available.")
		return
	}
	s.write(w, r, http.StatusOK, "", nil, false)
}

func (s *Server) search(w http.ResponseWriter, r *http.Request, coll string) {
	s.mu.Lock()
	docs := make([]map[string]any, 0, len(s.order[coll]))
	for _, id := range s.order[coll] {
		docs = append(docs, s.publicLocked(coll, s.classes[coll][id]))
	}
	s.mu.Unlock()
	s.respondSearch(w, r, docs)
}

func (s *Server) respondSearch(w http.ResponseWriter, r *http.Request, docs []map[string]any) {
	q := r.URL.Query()
	var where map[string]any
	if raw := q.Get("where"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &where); err != nil {
			s.writeError(w, r, http.StatusBadRequest, "E400001", "where is invalid format.")
			return
		}
	}
	matched := docs[:0]
	for _, d := range docs {
		ok, err := matches(d, where)
		if err != nil {
			s.writeError(w, r, http.StatusBadRequest, "E400002", err.Error())
			return
		}
		if ok {
			matched = append(matched, d)
		}
	}
	if order := q.Get("order"); order != "" {
		sortDocs(matched, strings.Split(order, ","))
	}

	out := map[string]any{}
	if q.Get("count") == "1" {
		out["count"] = len(matched)
	}
	skip, _ := strconv.Atoi(q.Get("skip"))
	limit := 100
	if v := q.Get("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}
	if skip > len(matched) {
		skip = len(matched)
	}
	matched = matched[skip:]
	if limit >= 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	out["results"] = matched
	s.writeJSON(w, r, http.StatusOK, out)
}

func sortDocs(docs []map[string]any, keys []string) {
	sort.SliceStable(docs, func(i, j int) bool {
		for _, k := range keys {
			desc := strings.HasPrefix(k, "-")
			k = strings.TrimPrefix(k, "-")
			c, ok := compare(docs[i][k], docs[j][k])
			if !ok || c == 0 {
				continue
			}
			if desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

// publicLocked strips server-only fields before a document leaves the server.
func (s *Server) publicLocked(coll string, doc map[string]any) map[string]any {
	out := cloneDoc(doc)
	if coll == "users" {
		delete(out, "password")
	}
	return out
}

// ------------------------- users -------------------------

func (s *Server) signUp(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(r)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, "E400001", "JSON is invalid format.")
		return
	}
	if auth, ok := body["authData"].(map[string]any); ok && len(auth) > 0 {
		s.signUpWithAuthData(w, r, body, auth)
		return
	}
	name, _ := body["userName"].(string)
	pw, _ := body["password"].(string)
	if name == "" || pw == "" {
		s.writeError(w, r, http.StatusBadRequest, "E400003", "userName and password are required.")
		return
	}
	delete(body, "password")

	s.mu.Lock()
	if s.userNameTakenLocked(name, "") {
		s.mu.Unlock()
		s.writeError(w, r, http.StatusConflict, "E409001", "userName is duplication.")
		return
	}
	doc := map[string]any{}
	if err := applyAll(doc, body); err != nil {
		s.mu.Unlock()
		s.writeError(w, r, http.StatusBadRequest, "E400002", err.Error())
		return
	}
	now := s.stamp()
	id := s.newIDLocked()
	doc["objectId"], doc["createDate"], doc["updateDate"] = id, now, now
	s.storeLocked("users", doc)
	s.passwords[id] = pw
	token := newToken()
	s.sessions[token] = id
	s.mu.Unlock()

	s.writeJSON(w, r, http.StatusCreated, map[string]any{
		"objectId":     id,
		"createDate":   now,
		"userName":     name,
		"sessionToken": token,
	})
}

// signUpWithAuthData logs in the user already linked to the provider id, or
// creates one.
func (s *Server) signUpWithAuthData(w http.ResponseWriter, r *http.Request, body, auth map[string]any) {
	s.mu.Lock()
	for _, id := range s.order["users"] {
		doc := s.classes["users"][id]
		linked, _ := doc["authData"].(map[string]any)
		for provider, data := range auth {
			if sameProviderID(linked[provider], data) {
				token := newToken()
				s.sessions[token] = id
				out := s.publicLocked("users", doc)
				s.mu.Unlock()
				out["sessionToken"] = token
				s.writeJSON(w, r, http.StatusOK, out)
				return
			}
		}
	}
	doc := map[string]any{}
	if err := applyAll(doc, body); err != nil {
		s.mu.Unlock()
		s.writeError(w, r, http.StatusBadRequest, "E400002", err.Error())
		return
	}
	now := s.stamp()
	id := s.newIDLocked()
	doc["objectId"], doc["createDate"], doc["updateDate"] = id, now, now
	s.storeLocked("users", doc)
	token := newToken()
	s.sessions[token] = id
	s.mu.Unlock()

	s.writeJSON(w, r, http.StatusCreated, map[string]any{
		"objectId":     id,
		"createDate":   now,
		"authData":     auth,
		"sessionToken": token,
	})
}

func sameProviderID(a, b any) bool {
	am, ok1 := a.(map[string]any)
	bm, ok2 := b.(map[string]any)
	if !ok1 || !ok2 {
		return false
	}
	id, _ := am["id"].(string)
	return id != "" && id == bm["id"]
}

func (s *Server) userNameTakenLocked(name, exceptID string) bool {
	for id, doc := range s.classes["users"] {
		if id != exceptID && doc["userName"] == name {
			return true
		}
	}
	return false
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pw := q.Get("password")
	key, want := "userName", q.Get("userName")
	if want == "" {
		key, want = "mailAddress", q.Get("mailAddress")
	}

	s.mu.Lock()
	for _, id := range s.order["users"] {
		doc := s.classes["users"][id]
		if want == "" || doc[key] != want || s.passwords[id] != pw {
			continue
		}
		if key == "mailAddress" && doc["mailAddressConfirm"] != true {
			s.mu.Unlock()
			s.writeError(w, r, http.StatusUnauthorized, "E401002", "Mail address is not confirmed.")
			return
		}
		token := newToken()
		s.sessions[token] = id
		out := s.publicLocked("users", doc)
		s.mu.Unlock()
		out["sessionToken"] = token
		s.writeJSON(w, r, http.StatusOK, out)
		return
	}
	s.mu.Unlock()
	s.writeError(w, r, http.StatusUnauthorized, "E401002", "Authentication error with ID/PASS incorrect.")
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	tok := r.Header.Get(signature.HeaderSessionToken)
	if tok == "" {
		s.writeError(w, r, http.StatusUnauthorized, "E401001", "Authentication error by header incorrect.")
		return
	}
	s.mu.Lock()
	delete(s.sessions, tok)
	s.mu.Unlock()
	s.write(w, r, http.StatusOK, "", nil, false)
}

func (s *Server) mailRequest(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := decodeBody(r)
		if err != nil {
			s.writeError(w, r, http.StatusBadRequest, "E400001", "JSON is invalid format.")
			return
		}
		if addr, _ := body["mailAddress"].(string); addr == "" {
			s.writeError(w, r, http.StatusBadRequest, "E400003", "mailAddress is required.")
			return
		}
		s.writeJSON(w, r, status, map[string]any{"createDate": s.stamp()})
	}
}

// ------------------------- installations and push -------------------------

func (s *Server) createInstallation(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(r)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, "E400001", "JSON is invalid format.")
		return
	}
	token, _ := body["deviceToken"].(string)
	if token == "" {
		s.writeError(w, r, http.StatusBadRequest, "E400003", "deviceToken is required.")
		return
	}
	s.mu.Lock()
	for _, doc := range s.classes["installations"] {
		if doc["deviceToken"] == token {
			s.mu.Unlock()
			s.writeError(w, r, http.StatusConflict, "E409001", "deviceToken is duplication.")
			return
		}
	}
	s.mu.Unlock()
	// reset the body for the generic handler
	b, _ := json.Marshal(body)
	r.Body = io.NopCloser(strings.NewReader(string(b)))
	s.create(w, r, "installations")
}

func (s *Server) openNumber(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["objectId"]
	body, err := decodeBody(r)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, "E400001", "JSON is invalid format.")
		return
	}
	s.mu.Lock()
	doc, ok := s.classes["push"][id]
	if ok {
		n, _ := doc["openNumber"].(float64)
		doc["openNumber"] = n + 1
		if dt, _ := body["deviceType"].(string); dt != "" {
			doc["lastOpenedDeviceType"] = dt
		}
	}
	s.mu.Unlock()
	if !ok {
		s.writeError(w, r, http.StatusNotFound, "E404001", "No data available.")
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]any{"updateDate": s.stamp()})
}

// ------------------------- files -------------------------

func (s *Server) uploadFile(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "E400001", "multipart body is invalid.")
		return
	}
	part, hdr, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, "E400003", "file is required.")
		return
	}
	data, err := io.ReadAll(part)
	_ = part.Close()
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, "E400001", "file is unreadable.")
		return
	}
	var acl map[string]any
	if raw := r.FormValue("acl"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &acl); err != nil {
			s.writeError(w, r, http.StatusBadRequest, "E400001", "acl is invalid format.")
			return
		}
	}

	s.mu.Lock()
	if _, exists := s.files[name]; exists {
		s.mu.Unlock()
		s.writeError(w, r, http.StatusConflict, "E409001", "fileName is duplication.")
		return
	}
	now := s.stamp()
	meta := map[string]any{
		"fileName":   name,
		"mimeType":   hdr.Header.Get("Content-Type"),
		"fileSize":   len(data),
		"createDate": now,
		"updateDate": now,
	}
	if acl != nil {
		meta["acl"] = acl
	}
	s.files[name] = &fileEntry{meta: meta, data: data}
	s.order["files"] = append(s.order["files"], name)
	s.mu.Unlock()

	s.writeJSON(w, r, http.StatusCreated, map[string]any{"fileName": name, "createDate": now})
}

func (s *Server) downloadFile(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	s.mu.Lock()
	f, ok := s.files[name]
	s.mu.Unlock()
	if !ok {
		s.writeError(w, r, http.StatusNotFound, "E404001", "No data available.")
		return
	}
	ct, _ := f.meta["mimeType"].(string)
	s.write(w, r, http.StatusOK, ct, f.data, true)
}

func (s *Server) updateFile(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	body, err := decodeBody(r)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, "E400001", "JSON is invalid format.")
		return
	}
	s.mu.Lock()
	f, ok := s.files[name]
	if ok {
		if acl, has := body["acl"]; has {
			f.meta["acl"] = acl
		}
		f.meta["updateDate"] = s.stamp()
	}
	s.mu.Unlock()
	if !ok {
		s.writeError(w, r, http.StatusNotFound, "E404001", "No data available.")
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]any{"updateDate": f.meta["updateDate"]})
}

func (s *Server) deleteFile(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	s.mu.Lock()
	_, ok := s.files[name]
	if ok {
		delete(s.files, name)
		ids := s.order["files"]
		for i, v := range ids {
			if v == name {
				s.order["files"] = append(ids[:i:i], ids[i+1:]...)
				break
			}
		}
	}
	s.mu.Unlock()
	if !ok {
		s.writeError(w, r, http.StatusNotFound, "E404001", "No data available.")
		return
	}
	s.write(w, r, http.StatusOK, "", nil, false)
}

func (s *Server) searchFiles(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	docs := make([]map[string]any, 0, len(s.files))
	for _, name := range s.order["files"] {
		docs = append(docs, cloneDoc(s.files[name].meta))
	}
	s.mu.Unlock()
	s.respondSearch(w, r, docs)
}

// ------------------------- scripts -------------------------

func (s *Server) runScript(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	s.mu.Lock()
	fn, ok := s.scripts[name]
	s.mu.Unlock()
	if !ok {
		s.writeError(w, r, http.StatusNotFound, "E404001", "No such script.")
		return
	}
	body, _ := io.ReadAll(r.Body)
	status, out := fn(r, body)
	s.write(w, r, status, "application/json", out, false)
}
