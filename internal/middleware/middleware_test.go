package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"dankerchat/backend/internal/models"
)

type tokenTable map[string]models.Session

func (t tokenTable) Validate(_ context.Context, token string) (models.Session, error) {
	s, ok := t[token]
	if !ok {
		return models.Session{}, errors.New("invalid")
	}
	return s, nil
}

type directory map[string]models.User

func (d directory) GetByID(_ context.Context, id string) (models.User, error) {
	u, ok := d[id]
	if !ok {
		return models.User{}, errors.New("not found")
	}
	return u, nil
}

type grants map[string]models.Permissions

func (g grants) PermissionsFor(_ context.Context, id string) (models.Permissions, error) {
	return g[id], nil
}

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return gin.New()
}

func TestAuth(t *testing.T) {
	tokens := tokenTable{
		"good":    {ID: "s1", UserID: "alice"},
		"blocked": {ID: "s2", UserID: "bob"},
	}
	users := directory{
		"alice": {ID: "alice", IsActive: true},
		"bob":   {ID: "bob", IsActive: false},
	}

	r := newRouter()
	r.GET("/me", Auth(tokens, users), func(c *gin.Context) {
		user, _ := CurrentUser(c)
		session, _ := CurrentSession(c)
		c.JSON(http.StatusOK, gin.H{"user": user.ID, "session": session.ID})
	})

	cases := []struct {
		name   string
		header string
		status int
	}{
		{"no header", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"unknown token", "Bearer nope", http.StatusUnauthorized},
		{"inactive user", "Bearer blocked", http.StatusForbidden},
		{"valid", "Bearer good", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tc.status {
				t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
			}
			if tc.status == http.StatusOK && w.Body.String() != `{"session":"s1","user":"alice"}` {
				t.Fatalf("body = %s", w.Body.String())
			}
		})
	}
}

func TestRequirePermission(t *testing.T) {
	tokens := tokenTable{"mod": {UserID: "mod"}, "user": {UserID: "user"}}
	users := directory{"mod": {ID: "mod", IsActive: true}, "user": {ID: "user", IsActive: true}}
	perms := grants{"mod": {models.PermissionBanUsers: true}}

	r := newRouter()
	r.POST("/ban", Auth(tokens, users), RequirePermission(perms, models.PermissionBanUsers), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	for token, want := range map[string]int{"mod": http.StatusNoContent, "user": http.StatusForbidden} {
		req := httptest.NewRequest(http.MethodPost, "/ban", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != want {
			t.Fatalf("%s: status = %d", token, w.Code)
		}
	}
}

func TestCORSPreflight(t *testing.T) {
	r := newRouter()
	r.Use(CORS([]string{"https://chat.example"}))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/x", nil)
	req.Header.Set("Origin", "https://chat.example")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://chat.example" {
		t.Fatalf("allow origin = %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "https://evil.example")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("foreign origin allowed: %q", got)
	}
}

func TestRequestIDIsEchoedOrGenerated(t *testing.T) {
	r := newRouter()
	r.Use(RequestID())
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(requestIDHeader, "abc")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if got := w.Header().Get(requestIDHeader); got != "abc" {
		t.Fatalf("request id = %q", got)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	if w.Header().Get(requestIDHeader) == "" {
		t.Fatal("request id not generated")
	}
}

func TestRecoveryTurnsPanicInto500(t *testing.T) {
	r := newRouter()
	r.Use(Recovery(zerolog.Nop()))
	r.GET("/boom", func(*gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", w.Code)
	}
}
