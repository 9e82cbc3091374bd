// Package apitest provides an in-memory fake of the issue tracker HTTP API
// for tests. It signs real HS256 tokens, records every call and lets tests
// hook individual routes to delay or fail them.
package apitest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/roeyazroel/issuedesk/internal/deskapi"
)

// TokenTTL is the lifetime of tokens issued by the fake.
const TokenTTL = 24 * time.Hour

// Call is one request received by the fake.
type Call struct {
	Method string
	Path   string
	Query  url.Values
	Body   []byte
}

// Issue is an issue as stored by the fake. Status is kept verbatim so tests
// can seed legacy values.
type Issue struct {
	ID             string `json:"_id"`
	OrganizationID string `json:"organizationId"`
	Title          string `json:"title"`
	Description    string `json:"description"`
	Status         string `json:"status"`
	AssigneeID     string `json:"assigneeId,omitempty"`
	ParentIssueID  string `json:"parentIssueId,omitempty"`
}

// Hook runs before the handler of a matching route. Returning false aborts
// the request; the hook is then responsible for the response.
type Hook func(w http.ResponseWriter, r *http.Request) bool

type account struct {
	user     deskapi.User
	password string
}

// Server is a fake API server backed by in-memory collections.
type Server struct {
	*httptest.Server

	secret []byte

	mu     sync.Mutex
	users  []*account
	orgs   []*deskapi.Organization
	issues []*Issue
	calls  []Call
	hooks  map[string]Hook
}

type ctxKey struct{}

// New starts a fake server that is closed when the test ends.
func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		secret: []byte("apitest-" + uuid.NewString()),
		hooks:  make(map[string]Hook),
	}
	s.Server = httptest.NewServer(s.routes())
	t.Cleanup(s.Close)
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.record)
	r.Use(s.runHooks)

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/login", s.login)
		r.Post("/auth/signup", s.signup)

		r.Group(func(r chi.Router) {
			r.Use(s.requireUser)

			r.Get("/me", s.getMe)
			r.Delete("/me", s.deleteMe)

			r.Route("/organizations", func(r chi.Router) {
				r.Get("/", s.listOrganizations)
				r.Post("/", s.createOrganization)
				r.Get("/{id}", s.getOrganization)
				r.Delete("/{id}", s.deleteOrganization)
				r.Get("/{id}/members", s.listMembers)
				r.Post("/{id}/members", s.addMember)
			})

			r.Route("/issues", func(r chi.Router) {
				r.Get("/", s.listIssues)
				r.Post("/", s.createIssue)
				r.Get("/search", s.searchIssues)
				r.Get("/{id}", s.getIssue)
				r.Put("/{id}", s.updateIssue)
				r.Delete("/{id}", s.deleteIssue)
			})
		})
	})
	return r
}

// ---- test helpers ----

// AddUser registers an account and returns it.
func (s *Server) AddUser(email, name, password string) deskapi.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := deskapi.User{ID: uuid.NewString(), Email: strings.ToLower(email), Name: name}
	s.users = append(s.users, &account{user: u, password: password})
	return u
}

// AddOrganization stores org, assigning an id when empty, and returns it.
func (s *Server) AddOrganization(org deskapi.Organization) deskapi.Organization {
	s.mu.Lock()
	defer s.mu.Unlock()
	if org.ID == "" {
		org.ID = uuid.NewString()
	}
	if org.OwnerID != "" && !slices.Contains(org.MemberIDs, org.OwnerID) {
		org.MemberIDs = append([]string{org.OwnerID}, org.MemberIDs...)
	}
	stored := org
	s.orgs = append(s.orgs, &stored)
	return org
}

// AddIssue stores issue verbatim, assigning an id when empty, and returns the id.
func (s *Server) AddIssue(issue Issue) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if issue.ID == "" {
		issue.ID = uuid.NewString()
	}
	stored := issue
	s.issues = append(s.issues, &stored)
	return issue.ID
}

// RemoveOrganization deletes an organization and its issues behind the
// client's back.
func (s *Server) RemoveOrganization(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropOrganization(id)
}

// StoredIssue returns the issue as persisted by the fake.
func (s *Server) StoredIssue(id string) (Issue, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if is := s.findIssue(id); is != nil {
		return *is, true
	}
	return Issue{}, false
}

// Token signs a token for userID that expires after TokenTTL.
func (s *Server) Token(userID string) string {
	return s.TokenExpiring(userID, time.Now().Add(TokenTTL))
}

// TokenExpiring signs a token for userID with the given expiry.
func (s *Server) TokenExpiring(userID string, exp time.Time) string {
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		panic(err)
	}
	return signed
}

// Handle installs hook for method and path, e.g. ("GET", "/api/issues/search").
// A nil hook removes it.
func (s *Server) Handle(method, path string, hook Hook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := method + " " + path
	if hook == nil {
		delete(s.hooks, key)
		return
	}
	s.hooks[key] = hook
}

// Fail makes every request to method and path answer with status and message.
func (s *Server) Fail(method, path string, status int, message string) {
	s.Handle(method, path, func(w http.ResponseWriter, _ *http.Request) bool {
		writeError(w, status, message)
		return false
	})
}

// Calls returns a copy of the recorded calls.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.calls)
}

// CallCount returns how many calls matched method and path.
func (s *Server) CallCount(method, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Method == method && c.Path == path {
			n++
		}
	}
	return n
}

// ResetCalls forgets recorded calls.
func (s *Server) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}

// ---- middleware ----

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body []byte
		if r.Body != nil {
			var raw json.RawMessage
			if err := json.NewDecoder(r.Body).Decode(&raw); err == nil {
				body = raw
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
		}
		s.mu.Lock()
		s.calls = append(s.calls, Call{
			Method: r.Method,
			Path:   strings.TrimSuffix(r.URL.Path, "/"),
			Query:  r.URL.Query(),
			Body:   body,
		})
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) runHooks(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		hook := s.hooks[r.Method+" "+strings.TrimSuffix(r.URL.Path, "/")]
		s.mu.Unlock()
		if hook != nil && !hook(w, r) {
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			writeError(w, http.StatusUnauthorized, "Missing Authorization header")
			return
		}
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			writeError(w, http.StatusUnauthorized, "Expected Bearer token")
			return
		}
		var claims jwt.RegisteredClaims
		_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
			return s.secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid token")
			return
		}
		s.mu.Lock()
		acct := s.findUser(claims.Subject)
		s.mu.Unlock()
		if acct == nil {
			writeError(w, http.StatusUnauthorized, "Invalid token subject")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, claims.Subject)))
	})
}

func userID(r *http.Request) string {
	id, _ := r.Context().Value(ctxKey{}).(string)
	return id
}

// ---- auth ----

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid body")
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Email and password are required")
		return
	}
	s.mu.Lock()
	acct := s.findUserByEmail(email)
	s.mu.Unlock()
	if acct == nil || acct.password != req.Password {
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	writeJSON(w, http.StatusOK, deskapi.Credential{Token: s.Token(acct.user.ID), User: acct.user})
}

func (s *Server) signup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Name     string `json:"name"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid body")
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	name := strings.TrimSpace(req.Name)
	switch {
	case email == "" || name == "" || req.Password == "":
		writeError(w, http.StatusBadRequest, "email, name, password are required")
		return
	case len(req.Password) < 8:
		writeError(w, http.StatusBadRequest, "Password must be at least 8 characters")
		return
	}

	s.mu.Lock()
	if s.findUserByEmail(email) != nil {
		s.mu.Unlock()
		writeError(w, http.StatusConflict, "Email already exists")
		return
	}
	u := deskapi.User{ID: uuid.NewString(), Email: email, Name: name}
	s.users = append(s.users, &account{user: u, password: req.Password})
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, deskapi.Credential{Token: s.Token(u.ID), User: u})
}

func (s *Server) getMe(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	acct := s.findUser(userID(r))
	s.mu.Unlock()
	if acct == nil {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}
	writeJSON(w, http.StatusOK, acct.user)
}

func (s *Server) deleteMe(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, org := range slices.Clone(s.orgs) {
		if org.OwnerID == uid {
			s.dropOrganization(org.ID)
			continue
		}
		org.MemberIDs = slices.DeleteFunc(org.MemberIDs, func(id string) bool { return id == uid })
	}
	s.users = slices.DeleteFunc(s.users, func(a *account) bool { return a.user.ID == uid })
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// ---- organizations ----

func (s *Server) listOrganizations(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	s.mu.Lock()
	out := []deskapi.Organization{}
	for _, org := range s.orgs {
		if org.IsMember(uid) {
			out = append(out, *org)
		}
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) createOrganization(w http.ResponseWriter, r *http.Request) {
	var req deskapi.OrganizationInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid body")
		return
	}
	name := strings.TrimSpace(req.Name)
	key := strings.ToUpper(strings.TrimSpace(req.Key))
	if name == "" || key == "" {
		writeError(w, http.StatusBadRequest, "name and key are required")
		return
	}
	if len(key) < 2 || len(key) > 8 {
		writeError(w, http.StatusBadRequest, "key must be 2-8 characters")
		return
	}

	uid := userID(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, org := range s.orgs {
		if org.Key == key {
			writeError(w, http.StatusConflict, "Organization key already exists")
			return
		}
	}
	org := &deskapi.Organization{
		ID:        uuid.NewString(),
		Name:      name,
		Key:       key,
		OwnerID:   uid,
		MemberIDs: []string{uid},
	}
	s.orgs = append(s.orgs, org)
	writeJSON(w, http.StatusCreated, org)
}

func (s *Server) getOrganization(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	org, ok := s.memberOrg(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, org)
}

func (s *Server) deleteOrganization(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	org := s.findOrg(chi.URLParam(r, "id"))
	if org == nil {
		writeError(w, http.StatusNotFound, "Organization not found")
		return
	}
	if org.OwnerID != userID(r) {
		writeError(w, http.StatusForbidden, "Only the owner can delete the organization")
		return
	}
	s.dropOrganization(org.ID)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) listMembers(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	org, ok := s.memberOrg(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	out := []deskapi.User{}
	for _, id := range org.MemberIDs {
		if acct := s.findUser(id); acct != nil {
			out = append(out, acct.user)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) addMember(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid body")
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		writeError(w, http.StatusBadRequest, "Invalid email")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	org := s.findOrg(chi.URLParam(r, "id"))
	if org == nil {
		writeError(w, http.StatusNotFound, "Organization not found")
		return
	}
	if org.OwnerID != userID(r) {
		writeError(w, http.StatusForbidden, "Only the owner can add members")
		return
	}
	acct := s.findUserByEmail(email)
	if acct == nil {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}
	if !slices.Contains(org.MemberIDs, acct.user.ID) {
		org.MemberIDs = append(org.MemberIDs, acct.user.ID)
	}
	writeJSON(w, http.StatusOK, org)
}

// ---- issues ----

func (s *Server) listIssues(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	orgID := q.Get("organizationId")
	if orgID == "" {
		writeError(w, http.StatusBadRequest, "organizationId is required")
		return
	}
	parentID := q.Get("parentIssueId")

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.memberOrg(w, r, orgID); !ok {
		return
	}
	out := []Issue{}
	// Newest first.
	for i := len(s.issues) - 1; i >= 0; i-- {
		is := s.issues[i]
		if is.OrganizationID != orgID {
			continue
		}
		if parentID != "" && is.ParentIssueID != parentID {
			continue
		}
		out = append(out, *is)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) searchIssues(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	text := strings.ToLower(strings.TrimSpace(q.Get("q")))
	if text == "" {
		writeJSON(w, http.StatusOK, []Issue{})
		return
	}
	orgID := q.Get("organizationId")
	if orgID == "" {
		writeError(w, http.StatusBadRequest, "organizationId is required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.memberOrg(w, r, orgID); !ok {
		return
	}
	out := []Issue{}
	for _, is := range s.issues {
		if is.OrganizationID != orgID {
			continue
		}
		if strings.Contains(strings.ToLower(is.Title), text) || strings.Contains(strings.ToLower(is.Description), text) {
			out = append(out, *is)
		}
		if len(out) == 50 {
			break
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) createIssue(w http.ResponseWriter, r *http.Request) {
	var req Issue
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid body")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.validateIssue(w, r, &req, "") {
		return
	}
	req.ID = uuid.NewString()
	stored := req
	s.issues = append(s.issues, &stored)
	writeJSON(w, http.StatusCreated, stored)
}

func (s *Server) getIssue(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	is := s.findIssue(chi.URLParam(r, "id"))
	if is == nil {
		writeError(w, http.StatusNotFound, "Issue not found")
		return
	}
	if _, ok := s.memberOrg(w, r, is.OrganizationID); !ok {
		return
	}
	writeJSON(w, http.StatusOK, is)
}

func (s *Server) updateIssue(w http.ResponseWriter, r *http.Request) {
	var req Issue
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid body")
		return
	}
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.validateIssue(w, r, &req, id) {
		return
	}
	is := s.findIssue(id)
	if is == nil {
		writeError(w, http.StatusNotFound, "Issue not found")
		return
	}
	req.ID = id
	*is = req
	writeJSON(w, http.StatusOK, is)
}

func (s *Server) deleteIssue(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	is := s.findIssue(chi.URLParam(r, "id"))
	if is == nil {
		writeError(w, http.StatusNotFound, "Issue not found")
		return
	}
	if _, ok := s.memberOrg(w, r, is.OrganizationID); !ok {
		return
	}
	s.issues = slices.DeleteFunc(s.issues, func(x *Issue) bool { return x.ID == is.ID })
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// validateIssue applies the server-side issue rules and normalizes the
// status. Callers hold s.mu.
func (s *Server) validateIssue(w http.ResponseWriter, r *http.Request, in *Issue, selfID string) bool {
	if strings.TrimSpace(in.OrganizationID) == "" || strings.TrimSpace(in.Title) == "" ||
		strings.TrimSpace(in.Description) == "" || strings.TrimSpace(in.Status) == "" {
		writeError(w, http.StatusBadRequest, "organizationId, title, description, status are required")
		return false
	}
	status, ok := deskapi.ParseStatus(in.Status)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid status")
		return false
	}
	in.Status = string(status)

	org, ok := s.memberOrg(w, r, in.OrganizationID)
	if !ok {
		return false
	}
	in.AssigneeID = strings.TrimSpace(in.AssigneeID)
	if in.AssigneeID != "" && !org.IsMember(in.AssigneeID) {
		writeError(w, http.StatusBadRequest, "assigneeId must be a member of the organization")
		return false
	}
	if in.ParentIssueID != "" {
		parent := s.findIssue(in.ParentIssueID)
		if parent == nil || parent.OrganizationID != org.ID || parent.ID == selfID {
			writeError(w, http.StatusBadRequest, "parentIssueId not found in organization")
			return false
		}
	}
	return true
}

// ---- lookups, callers hold s.mu ----

func (s *Server) memberOrg(w http.ResponseWriter, r *http.Request, id string) (*deskapi.Organization, bool) {
	org := s.findOrg(id)
	if org == nil {
		writeError(w, http.StatusNotFound, "Organization not found")
		return nil, false
	}
	if !org.IsMember(userID(r)) {
		writeError(w, http.StatusForbidden, "Not a member of this organization")
		return nil, false
	}
	return org, true
}

func (s *Server) dropOrganization(id string) {
	s.orgs = slices.DeleteFunc(s.orgs, func(o *deskapi.Organization) bool { return o.ID == id })
	s.issues = slices.DeleteFunc(s.issues, func(is *Issue) bool { return is.OrganizationID == id })
}

func (s *Server) findUser(id string) *account {
	for _, a := range s.users {
		if a.user.ID == id {
			return a
		}
	}
	return nil
}

func (s *Server) findUserByEmail(email string) *account {
	for _, a := range s.users {
		if a.user.Email == email {
			return a
		}
	}
	return nil
}

func (s *Server) findOrg(id string) *deskapi.Organization {
	for _, o := range s.orgs {
		if o.ID == id {
			return o
		}
	}
	return nil
}

func (s *Server) findIssue(id string) *Issue {
	for _, is := range s.issues {
		if is.ID == id {
			return is
		}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}
