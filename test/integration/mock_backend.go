package integration

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/marketbytes-devops/kwa-console/internal/config"
)

// MockBackend is an in-memory stand-in for the KWA REST backend. It issues
// signed tokens, serves the profile and role endpoints, and keeps one
// collection per registered endpoint. Every request is recorded for later
// assertion, and failures can be injected per path.
type MockBackend struct {
	t      *testing.T
	server *httptest.Server
	issuer *tokenIssuer
	paths  config.BackendConfig

	mu          sync.Mutex
	users       map[string]*mockUser
	collections map[string]*mockCollection
	refresh     map[string]int
	failures    map[string][]int
	required    map[string][]string
	otps        map[string]string
	verified    map[string]bool
	requests    []*RecordedRequest
}

// RecordedRequest captures a request received by the mock backend.
type RecordedRequest struct {
	Method        string
	Path          string
	Authorization string
	Query         url.Values
	Form          map[string]string
	Files         map[string]string
	JSON          map[string]any
	ReceivedAt    time.Time
}

type mockUser struct {
	ID        int
	Email     string
	Username  string
	FirstName string
	LastName  string
	Avatar    string
	Password  string
	Superuser bool
	RoleID    int
}

type mockCollection struct {
	items     []map[string]any
	nextID    int
	paginated bool
}

// Seeded accounts.
const (
	AdminEmail      = "admin@kwa.example"
	TechnicianEmail = "tech@kwa.example"
	ClerkEmail      = "clerk@kwa.example"
	TestPassword    = "kwa-secret"
)

// Seeded collection endpoints.
const (
	ValvesEndpoint          = "/valve/valves/"
	ComplaintsEndpoint      = "/complaint/complaints/"
	AreasEndpoint           = "/area/add-area/"
	ConnectionTypesEndpoint = "/connectiontype/connection-types/"
	ConnectionsEndpoint     = "/connectiontype/connections/"
	ConversionsEndpoint     = "/conversion/conversions/"
	UsersEndpoint           = "/auth/users/"
	RolesEndpoint           = "/auth/roles/"
	PermissionsEndpoint     = "/auth/permissions/"
)

func newMockBackend(t *testing.T, paths config.BackendConfig) *MockBackend {
	t.Helper()

	mb := &MockBackend{
		t:           t,
		issuer:      newTokenIssuer(t),
		paths:       paths,
		users:       make(map[string]*mockUser),
		collections: make(map[string]*mockCollection),
		refresh:     make(map[string]int),
		failures:    make(map[string][]int),
		required:    make(map[string][]string),
		otps:        make(map[string]string),
		verified:    make(map[string]bool),
	}
	mb.seed()

	mb.server = httptest.NewServer(http.HandlerFunc(mb.serveHTTP))
	t.Cleanup(mb.server.Close)
	return mb
}

func (mb *MockBackend) seed() {
	for _, ep := range []string{
		ValvesEndpoint, ComplaintsEndpoint, AreasEndpoint, ConnectionTypesEndpoint,
		ConnectionsEndpoint, ConversionsEndpoint, UsersEndpoint, RolesEndpoint, PermissionsEndpoint,
	} {
		mb.collections[ep] = &mockCollection{}
	}

	mb.insert(RolesEndpoint, map[string]any{"name": "Superadmin", "description": "Full access", "permissions": []any{}})
	mb.insert(RolesEndpoint, map[string]any{
		"name":        "Technician",
		"description": "Field technician",
		"permissions": []any{
			permission("valves", true, true, true, false, true),
			permission("complaints", true, false, false, false, false),
			permission("bluebrigade", true, false, false, false, false),
		},
	})
	mb.insert(RolesEndpoint, map[string]any{
		"name":        "Clerk",
		"description": "Front office",
		"permissions": []any{
			permission("complaints", true, true, true, true, true),
			permission("bluebrigade", true, false, true, false, false),
			permission("area", true, false, false, false, false),
			permission("user_management", true, true, true, false, false),
		},
	})

	mb.users[AdminEmail] = &mockUser{ID: 1, Email: AdminEmail, Username: "admin", Password: TestPassword, Superuser: true, RoleID: 1}
	mb.users[TechnicianEmail] = &mockUser{ID: 2, Email: TechnicianEmail, Username: "tech", Password: TestPassword, RoleID: 2}
	mb.users[ClerkEmail] = &mockUser{ID: 3, Email: ClerkEmail, Username: "clerk", Password: TestPassword, RoleID: 3}

	mb.insert(AreasEndpoint, map[string]any{"area_name": "Kowdiar"})
	mb.insert(AreasEndpoint, map[string]any{"area_name": "Pattom"})

	mb.insert(ConnectionTypesEndpoint, map[string]any{"name": "Domestic"})
	mb.insert(ConnectionTypesEndpoint, map[string]any{"name": "Commercial"})

	mb.insert(ValvesEndpoint, map[string]any{"name": "Kowdiar Junction", "size": "200mm", "full_open_condition": "12", "current_condition": "8", "remarks": "Serviced"})
	mb.insert(ValvesEndpoint, map[string]any{"name": "Pattom North", "size": "150mm", "full_open_condition": "10", "current_condition": "10", "remarks": "Open"})
	mb.insert(ValvesEndpoint, map[string]any{"name": "Vellayambalam", "size": "300mm", "full_open_condition": "15", "current_condition": "3", "remarks": "Throttled"})

	mb.insert(ComplaintsEndpoint, map[string]any{
		"area": 1, "complaint_type": "Leak", "name": "Suresh", "date": "2026-10-01",
		"address": "TC 12/45", "phone_number": "9447000001", "department": "Distribution", "status": "processing",
	})
	for _, c := range []struct{ name, kind, date, status string }{
		{"Lekha", "consumer", "2026-09-20", "accepted"},
		{"Rajan", "consumer", "2026-10-03", "processing"},
		{"Mini", "consumer", "2026-08-15", "completed"},
		{"Joseph", "general", "2026-10-10", "accepted"},
		{"Fathima", "general", "2026-09-02", "completed"},
	} {
		mb.insert(ComplaintsEndpoint, map[string]any{
			"area": 2, "complaint_type": c.kind, "name": c.name, "date": c.date,
			"address": "Sasthamangalam", "phone_number": "9447000100", "department": "bluebrigade", "status": c.status,
		})
	}
}

func permission(page string, view, add, edit, del, loginPage bool) map[string]any {
	return map[string]any{
		"page": page, "can_view": view, "can_add": add, "can_edit": edit,
		"can_delete": del, "is_login_page": loginPage,
	}
}

// URL returns the base URL of the mock backend.
func (mb *MockBackend) URL() string {
	return mb.server.URL
}

// Items returns a copy of the collection at endpoint.
func (mb *MockBackend) Items(endpoint string) []map[string]any {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	c, ok := mb.collections[endpoint]
	if !ok {
		return nil
	}
	out := make([]map[string]any, len(c.items))
	for i, it := range c.items {
		cp := make(map[string]any, len(it))
		for k, v := range it {
			cp[k] = v
		}
		out[i] = cp
	}
	return out
}

// Requests returns the recorded requests whose method and path match.
// An empty method matches any method.
func (mb *MockBackend) Requests(method, path string) []*RecordedRequest {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	var out []*RecordedRequest
	for _, r := range mb.requests {
		if (method == "" || r.Method == method) && r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

// FailNext makes the next n requests to path answer with status.
func (mb *MockBackend) FailNext(path string, status, n int) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	for range n {
		mb.failures[path] = append(mb.failures[path], status)
	}
}

// Require makes creates at endpoint reject payloads missing any of fields.
func (mb *MockBackend) Require(endpoint string, fields ...string) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.required[endpoint] = fields
}

// Paginate makes the collection at endpoint answer lists as
// {"count": n, "results": [...]}.
func (mb *MockBackend) Paginate(endpoint string) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.collections[endpoint].paginated = true
}

// RotateAccessTokens invalidates every access token issued so far.
func (mb *MockBackend) RotateAccessTokens() {
	mb.issuer.RotateAccess()
}

// RevokeRefreshTokens forgets every refresh token issued so far.
func (mb *MockBackend) RevokeRefreshTokens() {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.refresh = make(map[string]int)
}

// RefreshTokenCount returns how many refresh tokens are still valid.
func (mb *MockBackend) RefreshTokenCount() int {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return len(mb.refresh)
}

func (mb *MockBackend) insert(endpoint string, item map[string]any) map[string]any {
	c := mb.collections[endpoint]
	c.nextID++
	item["id"] = c.nextID
	c.items = append(c.items, item)
	return item
}

func (mb *MockBackend) serveHTTP(w http.ResponseWriter, r *http.Request) {
	rec := mb.record(r)

	mb.mu.Lock()
	if queued := mb.failures[r.URL.Path]; len(queued) > 0 {
		status := queued[0]
		mb.failures[r.URL.Path] = queued[1:]
		mb.mu.Unlock()
		writeJSON(w, status, map[string]any{"detail": "injected failure"})
		return
	}
	mb.mu.Unlock()

	switch r.URL.Path {
	case "/":
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
		return
	case mb.paths.LoginPath:
		mb.login(w, rec)
		return
	case mb.paths.RefreshPath:
		mb.refreshToken(w, rec)
		return
	case mb.paths.ForgotPasswordPath:
		mb.forgotPassword(w, rec)
		return
	case mb.paths.VerifyOTPPath:
		mb.verifyOTP(w, rec)
		return
	case mb.paths.ResetPasswordPath:
		mb.resetPassword(w, rec)
		return
	}

	userID, err := mb.issuer.Verify(strings.TrimPrefix(rec.Authorization, "Bearer "), "access")
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"detail": "Given token not valid for any token type",
			"code":   "token_not_valid",
		})
		return
	}

	switch r.URL.Path {
	case mb.paths.LogoutPath:
		mb.mu.Lock()
		if tok, ok := rec.JSON["refresh"].(string); ok {
			delete(mb.refresh, tok)
		}
		mb.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"detail": "Logged out"})
		return
	case mb.paths.ProfilePath:
		if r.Method == http.MethodPut {
			mb.updateProfile(w, userID, rec)
			return
		}
		mb.profile(w, userID)
		return
	case mb.paths.ChangePasswordPath:
		mb.changePassword(w, userID, rec)
		return
	}

	mb.collection(w, r.Method, r.URL.Path, rec)
}

func (mb *MockBackend) record(r *http.Request) *RecordedRequest {
	rec := &RecordedRequest{
		Method:        r.Method,
		Path:          r.URL.Path,
		Authorization: r.Header.Get("Authorization"),
		Query:         r.URL.Query(),
		Form:          make(map[string]string),
		Files:         make(map[string]string),
		ReceivedAt:    time.Now(),
	}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(8 << 20); err == nil {
			for k, vs := range r.MultipartForm.Value {
				if len(vs) > 0 {
					rec.Form[k] = vs[0]
				}
			}
			for k, fhs := range r.MultipartForm.File {
				if len(fhs) > 0 {
					rec.Files[k] = fhs[0].Filename
				}
			}
		}
	} else if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&rec.JSON)
	}

	mb.mu.Lock()
	mb.requests = append(mb.requests, rec)
	mb.mu.Unlock()
	return rec
}

func (mb *MockBackend) login(w http.ResponseWriter, rec *RecordedRequest) {
	email, _ := rec.JSON["email"].(string)
	password, _ := rec.JSON["password"].(string)

	mb.mu.Lock()
	defer mb.mu.Unlock()
	u, ok := mb.users[email]
	if !ok || u.Password != password {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"non_field_errors": []string{"Invalid email or password."},
		})
		return
	}

	refresh := mb.issuer.Refresh(u.ID)
	mb.refresh[refresh] = u.ID

	role := mb.itemLocked(RolesEndpoint, u.RoleID)
	loginPage := "/dashboard"
	if !u.Superuser && role != nil {
		for _, p := range role["permissions"].([]any) {
			perm := p.(map[string]any)
			if perm["is_login_page"] == true {
				loginPage = "/" + perm["page"].(string)
				break
			}
		}
	}
	roleName := ""
	if role != nil {
		roleName, _ = role["name"].(string)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"access":     mb.issuer.Access(u.ID),
		"refresh":    refresh,
		"role":       roleName,
		"login_page": loginPage,
	})
}

func (mb *MockBackend) refreshToken(w http.ResponseWriter, rec *RecordedRequest) {
	tok, _ := rec.JSON["refresh"].(string)

	mb.mu.Lock()
	userID, known := mb.refresh[tok]
	mb.mu.Unlock()

	if _, err := mb.issuer.Verify(tok, "refresh"); err != nil || !known {
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"detail": "Token is invalid or expired",
			"code":   "token_not_valid",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"access": mb.issuer.Access(userID)})
}

func (mb *MockBackend) profile(w http.ResponseWriter, userID int) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	u := mb.userLocked(userID)
	if u == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"detail": "User not found"})
		return
	}
	writeJSON(w, http.StatusOK, mb.profileLocked(u))
}

func (mb *MockBackend) updateProfile(w http.ResponseWriter, userID int, rec *RecordedRequest) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	u := mb.userLocked(userID)
	if u == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"detail": "User not found"})
		return
	}
	if email, ok := rec.Form["email"]; ok && email != u.Email {
		if _, taken := mb.users[email]; taken {
			writeJSON(w, http.StatusBadRequest, map[string]any{"email": []string{"user with this email already exists."}})
			return
		}
		delete(mb.users, u.Email)
		u.Email = email
		mb.users[email] = u
	}
	for key, dst := range map[string]*string{"username": &u.Username, "first_name": &u.FirstName, "last_name": &u.LastName} {
		if v, ok := rec.Form[key]; ok {
			*dst = v
		}
	}
	if name, ok := rec.Files["avatar"]; ok {
		u.Avatar = "/media/avatars/" + name
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Profile updated successfully",
		"data":    mb.profileLocked(u),
	})
}

func (mb *MockBackend) changePassword(w http.ResponseWriter, userID int, rec *RecordedRequest) {
	current, _ := rec.JSON["current_password"].(string)
	next, _ := rec.JSON["new_password"].(string)
	confirm, _ := rec.JSON["confirm_new_password"].(string)

	mb.mu.Lock()
	defer mb.mu.Unlock()
	u := mb.userLocked(userID)
	switch {
	case u == nil:
		writeJSON(w, http.StatusNotFound, map[string]any{"detail": "User not found"})
	case next != confirm:
		writeJSON(w, http.StatusBadRequest, map[string]any{"non_field_errors": []string{"Passwords do not match"}})
	case u.Password != current:
		writeJSON(w, http.StatusBadRequest, map[string]any{"non_field_errors": []string{"Current password is incorrect"}})
	default:
		u.Password = next
		writeJSON(w, http.StatusOK, map[string]any{"message": "Password changed successfully"})
	}
}

func (mb *MockBackend) forgotPassword(w http.ResponseWriter, rec *RecordedRequest) {
	email, _ := rec.JSON["email"].(string)

	mb.mu.Lock()
	defer mb.mu.Unlock()
	if _, ok := mb.users[email]; !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "User not found"})
		return
	}
	mb.otps[email] = fmt.Sprintf("%06d", rand.IntN(1_000_000))
	writeJSON(w, http.StatusOK, map[string]any{"message": "OTP sent to your email"})
}

func (mb *MockBackend) verifyOTP(w http.ResponseWriter, rec *RecordedRequest) {
	email, _ := rec.JSON["email"].(string)
	otp, _ := rec.JSON["otp"].(string)

	mb.mu.Lock()
	defer mb.mu.Unlock()
	if want, ok := mb.otps[email]; !ok || want != otp {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid or expired OTP"})
		return
	}
	mb.verified[email] = true
	writeJSON(w, http.StatusOK, map[string]any{"message": "OTP verified successfully"})
}

func (mb *MockBackend) resetPassword(w http.ResponseWriter, rec *RecordedRequest) {
	email, _ := rec.JSON["email"].(string)
	next, _ := rec.JSON["new_password"].(string)
	confirm, _ := rec.JSON["confirm_new_password"].(string)

	mb.mu.Lock()
	defer mb.mu.Unlock()
	switch {
	case next != confirm:
		writeJSON(w, http.StatusBadRequest, map[string]any{"non_field_errors": []string{"Passwords do not match"}})
	case !mb.verified[email]:
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "OTP not verified"})
	default:
		mb.users[email].Password = next
		delete(mb.verified, email)
		delete(mb.otps, email)
		writeJSON(w, http.StatusOK, map[string]any{"message": "Password reset successfully"})
	}
}

// OTP returns the code last mailed to email, as a user would read it from
// their inbox.
func (mb *MockBackend) OTP(email string) string {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return mb.otps[email]
}

func (mb *MockBackend) userLocked(id int) *mockUser {
	for _, u := range mb.users {
		if u.ID == id {
			return u
		}
	}
	return nil
}

func (mb *MockBackend) profileLocked(u *mockUser) map[string]any {
	var role any
	if r := mb.itemLocked(RolesEndpoint, u.RoleID); r != nil {
		role = map[string]any{"id": r["id"], "name": r["name"]}
	}
	return map[string]any{
		"id":           u.ID,
		"email":        u.Email,
		"username":     u.Username,
		"first_name":   u.FirstName,
		"last_name":    u.LastName,
		"avatar":       u.Avatar,
		"is_superuser": u.Superuser,
		"role":         role,
	}
}

func (mb *MockBackend) collection(w http.ResponseWriter, method, path string, rec *RecordedRequest) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	endpoint := ""
	for ep := range mb.collections {
		if strings.HasPrefix(path, ep) && len(ep) > len(endpoint) {
			endpoint = ep
		}
	}
	if endpoint == "" {
		writeJSON(w, http.StatusNotFound, map[string]any{"detail": fmt.Sprintf("mock: no collection at %s", path)})
		return
	}
	c := mb.collections[endpoint]
	rest := strings.TrimSuffix(strings.TrimPrefix(path, endpoint), "/")

	switch {
	case rest == "" && method == http.MethodGet:
		items := queryItems(c.items, rec.Query)
		if c.paginated {
			writeJSON(w, http.StatusOK, map[string]any{"count": len(items), "results": items})
			return
		}
		writeJSON(w, http.StatusOK, items)

	case rest == "" && method == http.MethodPost:
		if missing := mb.missingLocked(endpoint, rec); len(missing) > 0 {
			writeJSON(w, http.StatusBadRequest, missing)
			return
		}
		writeJSON(w, http.StatusCreated, mb.insert(endpoint, formEntity(rec)))

	case rest == "reorder" && method == http.MethodPost:
		mb.reorderLocked(c, rec)
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})

	default:
		id, err := strconv.Atoi(rest)
		item := mb.itemLocked(endpoint, id)
		if err != nil || item == nil {
			writeJSON(w, http.StatusNotFound, map[string]any{"detail": "Not found."})
			return
		}
		switch method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, item)
		case http.MethodPut, http.MethodPatch:
			for k, v := range formEntity(rec) {
				item[k] = v
			}
			writeJSON(w, http.StatusOK, item)
		case http.MethodDelete:
			for i, it := range c.items {
				if it["id"] == id {
					c.items = append(c.items[:i], c.items[i+1:]...)
					break
				}
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"detail": "Method not allowed."})
		}
	}
}

func (mb *MockBackend) itemLocked(endpoint string, id int) map[string]any {
	for _, it := range mb.collections[endpoint].items {
		if it["id"] == id {
			return it
		}
	}
	return nil
}

func (mb *MockBackend) missingLocked(endpoint string, rec *RecordedRequest) map[string][]string {
	missing := make(map[string][]string)
	for _, f := range mb.required[endpoint] {
		if rec.Form[f] == "" && rec.Files[f] == "" {
			missing[f] = []string{"This field is required."}
		}
	}
	return missing
}

func (mb *MockBackend) reorderLocked(c *mockCollection, rec *RecordedRequest) {
	rank := make(map[string]float64)
	items, _ := rec.JSON["order"].([]any)
	for _, raw := range items {
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		order, _ := entry["order"].(float64)
		rank[fmt.Sprint(entry["id"])] = order
	}
	sort.SliceStable(c.items, func(i, j int) bool {
		return rank[fmt.Sprint(c.items[i]["id"])] < rank[fmt.Sprint(c.items[j]["id"])]
	})
}

// queryItems filters and orders items the way the backend's list views
// read query parameters: plain keys match exactly, field__gte and
// field__lte bound string values, and ordering sorts by a field, descending
// with a leading "-".
func queryItems(items []map[string]any, q url.Values) []map[string]any {
	if len(q) == 0 {
		return items
	}
	out := make([]map[string]any, 0, len(items))
next:
	for _, it := range items {
		for key, vs := range q {
			if key == "ordering" || len(vs) == 0 {
				continue
			}
			want := vs[0]
			switch {
			case strings.HasSuffix(key, "__gte"), strings.HasSuffix(key, "__lte"):
				field, op := key[:len(key)-5], key[len(key)-3:]
				raw, ok := it[field]
				if !ok || raw == nil {
					continue next
				}
				got := fmt.Sprint(raw)
				if len(got) > len(want) {
					got = got[:len(want)]
				}
				if (op == "gte" && got < want) || (op == "lte" && got > want) {
					continue next
				}
			default:
				if fmt.Sprint(it[key]) != want {
					continue next
				}
			}
		}
		out = append(out, it)
	}
	if field := q.Get("ordering"); field != "" {
		desc := strings.HasPrefix(field, "-")
		field = strings.TrimPrefix(field, "-")
		sort.SliceStable(out, func(i, j int) bool {
			a, b := fmt.Sprint(out[i][field]), fmt.Sprint(out[j][field])
			if desc {
				return a > b
			}
			return a < b
		})
	}
	return out
}

// formEntity turns a multipart request into stored fields. Files are stored
// as the media path the backend would assign.
func formEntity(rec *RecordedRequest) map[string]any {
	item := make(map[string]any, len(rec.Form)+len(rec.Files))
	for k, v := range rec.Form {
		item[k] = v
	}
	for k, name := range rec.Files {
		item[k] = "/media/uploads/" + name
	}
	return item
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
