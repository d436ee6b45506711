package auth

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	// CookieName 会话 cookie 名称。
	CookieName = "sid"
	// CookieTTL 约两年。
	CookieTTL = 2 * 365 * 24 * time.Hour

	sessionKey = "sessionID"
)

type Claims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// SignSession 把会话令牌封装进 HS256 签名的 cookie 值。
func SignSession(sid, secret string, now time.Time) (string, error) {
	claims := Claims{
		SessionID: sid,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(CookieTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseSession 校验 cookie 值并取出会话令牌。
func ParseSession(value, secret string) (string, error) {
	token, err := jwt.ParseWithClaims(value, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	if claims, ok := token.Claims.(*Claims); ok && token.Valid && claims.SessionID != "" {
		return claims.SessionID, nil
	}
	return "", errors.New("invalid session cookie")
}

// SetSessionCookie 写入 http-only、SameSite=Lax 的会话 cookie。
func SetSessionCookie(c *gin.Context, sid, secret string, secure bool) error {
	value, err := SignSession(sid, secret, time.Now())
	if err != nil {
		return err
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(CookieName, value, int(CookieTTL/time.Second), "/", "", secure, true)
	return nil
}

// SessionMiddleware 解析会话 cookie。缺失或无效的 cookie 只代表“未登录”，不会中断请求。
func SessionMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if value, err := c.Cookie(CookieName); err == nil && value != "" {
			if sid, err := ParseSession(value, secret); err == nil {
				c.Set(sessionKey, sid)
			}
		}
		c.Next()
	}
}

// GetSessionID 返回当前请求的会话令牌，未登录时为空串。
func GetSessionID(c *gin.Context) string {
	if v, ok := c.Get(sessionKey); ok {
		if sid, ok2 := v.(string); ok2 {
			return sid
		}
	}
	return ""
}
