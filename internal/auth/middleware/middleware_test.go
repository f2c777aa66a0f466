package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/mind-engage/certprep-core/internal/rbac"
)

func login(t *testing.T, h http.Handler, user, pass string) (int, map[string]string) {
	t.Helper()
	body := `{"username":"` + user + `","password":"` + pass + `"}`
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body)))
	out := map[string]string{}
	_ = json.NewDecoder(rec.Body).Decode(&out)
	return rec.Code, out
}

func TestLoginRoles(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	a := NewAuthService("test-secret")
	h := LoginHandler(a, LoginOptions{AdminUser: "admin", AdminPassHash: string(hash), AllowStudents: true})

	if code, out := login(t, h, "admin", "hunter2"); code != http.StatusOK || out["role"] != "admin" {
		t.Fatalf("admin login: %d %v", code, out)
	}
	if code, _ := login(t, h, "admin", "admin"); code != http.StatusUnauthorized {
		t.Fatalf("admin with wrong password: %d", code)
	}
	code, out := login(t, h, "u1", "u1")
	if code != http.StatusOK || out["role"] != "student" {
		t.Fatalf("student login: %d %v", code, out)
	}
	c, err := a.Parse(out["access_token"])
	if err != nil || c.Sub != "u1" || c.Role != "student" {
		t.Fatalf("parse: %+v %v", c, err)
	}

	closed := LoginHandler(a, LoginOptions{AdminUser: "admin", AdminPassHash: string(hash)})
	if code, _ := login(t, closed, "u1", "u1"); code != http.StatusUnauthorized {
		t.Fatalf("student login with local auth off: %d", code)
	}
}

func TestJWTMiddleware(t *testing.T) {
	a := NewAuthService("test-secret")
	var sub, role string
	h := JWTMiddleware(a)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sub = SubjectFromContext(r.Context())
		role = rbac.RoleFromContext(r.Context())
	}))

	tok, _ := a.IssueJWT("u7", "student")
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || sub != "u7" || role != "student" {
		t.Fatalf("code=%d sub=%q role=%q", rec.Code, sub, role)
	}

	other, _ := NewAuthService("another-secret").IssueJWT("u7", "admin")
	req.Header.Set("Authorization", "Bearer "+other)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("foreign signature accepted: %d", rec.Code)
	}

	a.Now = func() time.Time { return time.Now().Add(-9 * time.Hour) }
	stale, _ := a.IssueJWT("u7", "student")
	a.Now = time.Now
	req.Header.Set("Authorization", "Bearer "+stale)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expired token accepted: %d", rec.Code)
	}
}
