package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/text/unicode/norm"
)

func TestValidateNickname(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
		ok   bool
	}{
		{"latin", "Alice", "Alice", true},
		{"trimmed", "  Bob  ", "Bob", true},
		{"hangul", "김철수", "김철수", true},
		{"mixed symbols", "dev_team-1 a", "dev_team-1 a", true},
		{"too short", "A", "", false},
		{"too short after trim", "  A  ", "", false},
		{"too long", strings.Repeat("a", 21), "", false},
		{"max length", strings.Repeat("a", 20), strings.Repeat("a", 20), true},
		{"emoji", "hi😀", "", false},
		{"punctuation", "bob!", "", false},
		{"cjk ideograph", "张三", "", false},
		{"empty", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ValidateNickname(tt.raw)
			if ok != tt.ok || got != tt.want {
				t.Errorf("ValidateNickname(%q) = %q, %v, want %q, %v", tt.raw, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestValidateNickname_DecomposedHangul(t *testing.T) {
	decomposed := norm.NFD.String("김철수")
	got, ok := ValidateNickname(decomposed)
	if !ok || got != "김철수" {
		t.Errorf("ValidateNickname(NFD) = %q, %v, want composed form", got, ok)
	}
}

func TestValidPassword(t *testing.T) {
	tests := []struct {
		pw   string
		want bool
	}{
		{"", false},
		{"a", false},
		{"pw", true},
		{strings.Repeat("x", 64), true},
		{strings.Repeat("x", 65), false},
	}
	for _, tt := range tests {
		if got := ValidPassword(tt.pw); got != tt.want {
			t.Errorf("ValidPassword(len %d) = %v, want %v", len(tt.pw), got, tt.want)
		}
	}
}

func TestValidRoomID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"0123456789", true},
		{"abcdef0123", true},
		{"ABCDEF0123", false},
		{"012345678", false},
		{"0123456789a", false},
		{"legacy", false},
		{"../etc/pwd", false},
	}
	for _, tt := range tests {
		if got := ValidRoomID(tt.id); got != tt.want {
			t.Errorf("ValidRoomID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestHashPassword_Deterministic(t *testing.T) {
	h1 := HashPassword("pw12", "salt")
	h2 := HashPassword("pw12", "salt")
	if h1 != h2 {
		t.Error("HashPassword() must be deterministic for the same password and salt")
	}
	if len(h1) != 64 {
		t.Errorf("HashPassword() length = %d, want 64", len(h1))
	}
	if HashPassword("pw12", "other") == h1 {
		t.Error("HashPassword() must depend on the salt")
	}
}

func TestVerifyPassword(t *testing.T) {
	salt, err := NewSalt()
	if err != nil {
		t.Fatalf("NewSalt() error = %v", err)
	}
	hash := HashPassword("testpassword123", salt)

	tests := []struct {
		name     string
		hash     string
		password string
		want     bool
	}{
		{"correct password", hash, "testpassword123", true},
		{"wrong password", hash, "wrongpassword", false},
		{"empty password", hash, "", false},
		{"invalid hash", "invalidhash", "testpassword123", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VerifyPassword(tt.hash, tt.password, salt); got != tt.want {
				t.Errorf("VerifyPassword() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRandomIDs(t *testing.T) {
	room, err := NewRoomID()
	if err != nil {
		t.Fatalf("NewRoomID() error = %v", err)
	}
	if !ValidRoomID(room) {
		t.Errorf("NewRoomID() = %q does not validate", room)
	}

	s1, _ := NewSessionID()
	s2, _ := NewSessionID()
	if len(s1) != 48 {
		t.Errorf("NewSessionID() length = %d, want 48", len(s1))
	}
	if s1 == s2 {
		t.Error("NewSessionID() should generate unique tokens")
	}

	salt, _ := NewSalt()
	if len(salt) != 32 {
		t.Errorf("NewSalt() length = %d, want 32", len(salt))
	}
}

func TestParseSession(t *testing.T) {
	secret := "test-secret-key"
	token, err := SignSession("abc123", secret, time.Now())
	if err != nil {
		t.Fatalf("SignSession() error = %v", err)
	}

	tests := []struct {
		name    string
		token   string
		secret  string
		wantSID string
		wantErr bool
	}{
		{"valid token", token, secret, "abc123", false},
		{"wrong secret", token, "wrong-secret", "", true},
		{"invalid token", "invalid.token.here", secret, "", true},
		{"empty token", "", secret, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sid, err := ParseSession(tt.token, tt.secret)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseSession() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if sid != tt.wantSID {
				t.Errorf("ParseSession() sid = %q, want %q", sid, tt.wantSID)
			}
		})
	}
}

func TestParseSession_Expired(t *testing.T) {
	secret := "test-secret"
	token, err := SignSession("abc", secret, time.Now().Add(-3*CookieTTL))
	if err != nil {
		t.Fatalf("SignSession() error = %v", err)
	}
	if _, err := ParseSession(token, secret); err == nil {
		t.Error("ParseSession() should fail for an expired cookie")
	}
}

func TestSessionMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	secret := "mw-secret"

	r := gin.New()
	r.Use(SessionMiddleware(secret))
	r.GET("/whoami", func(c *gin.Context) { c.String(http.StatusOK, GetSessionID(c)) })
	r.GET("/login", func(c *gin.Context) {
		if err := SetSessionCookie(c, "sid-1", secret, false); err != nil {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/login", nil))
	cookies := w.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != CookieName {
		t.Fatalf("expected one %q cookie, got %v", CookieName, cookies)
	}
	if !cookies[0].HttpOnly {
		t.Error("session cookie must be http-only")
	}
	if cookies[0].SameSite != http.SameSiteLaxMode {
		t.Errorf("session cookie SameSite = %v, want Lax", cookies[0].SameSite)
	}

	tests := []struct {
		name   string
		cookie *http.Cookie
		want   string
	}{
		{"signed cookie", cookies[0], "sid-1"},
		{"no cookie", nil, ""},
		{"forged cookie", &http.Cookie{Name: CookieName, Value: "sid-1"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
			if tt.cookie != nil {
				req.AddCookie(tt.cookie)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", w.Code)
			}
			if got := w.Body.String(); got != tt.want {
				t.Errorf("session id = %q, want %q", got, tt.want)
			}
		})
	}
}
