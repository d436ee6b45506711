package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/text/unicode/norm"
)

// PBKDF2 参数固定，修改会使已有密码全部失效。
const (
	hashIterations = 120000
	hashKeyLen     = 32
	saltBytes      = 16
	sessionBytes   = 24
	roomIDBytes    = 5
)

const (
	nicknameMinLen = 2
	nicknameMaxLen = 20
	passwordMinLen = 2
	passwordMaxLen = 64
)

var (
	nicknamePattern = regexp.MustCompile(`^[0-9A-Za-z가-힣 _\-]+$`)
	roomIDPattern   = regexp.MustCompile(`^[0-9a-f]{10}$`)
)

// ValidateNickname 规范化并校验昵称：2~20 个字符，仅允许中英文字母（拉丁/韩文）、数字、空格、- 和 _。
func ValidateNickname(raw string) (string, bool) {
	s := strings.TrimSpace(norm.NFC.String(raw))
	n := utf8.RuneCountInString(s)
	if n < nicknameMinLen || n > nicknameMaxLen {
		return "", false
	}
	if !nicknamePattern.MatchString(s) {
		return "", false
	}
	return s, true
}

// ValidPassword 只校验长度，内容不做限制。
func ValidPassword(pw string) bool {
	n := utf8.RuneCountInString(pw)
	return n >= passwordMinLen && n <= passwordMaxLen
}

// ValidRoomID reports whether id has the 10 lowercase hex character shape.
func ValidRoomID(id string) bool {
	return roomIDPattern.MatchString(id)
}

// HashPassword 用 PBKDF2-HMAC-SHA256 派生密码摘要，同样的密码和盐总是得到同样的结果。
func HashPassword(pw, salt string) string {
	key := pbkdf2.Key([]byte(pw), []byte(salt), hashIterations, hashKeyLen, sha256.New)
	return hex.EncodeToString(key)
}

func VerifyPassword(hash, pw, salt string) bool {
	actual := HashPassword(pw, salt)
	return subtle.ConstantTimeCompare([]byte(hash), []byte(actual)) == 1
}

func NewSalt() (string, error) { return randomHex(saltBytes) }

// NewSessionID 生成不透明的会话令牌。
func NewSessionID() (string, error) { return randomHex(sessionBytes) }

// NewRoomID 生成便于分享的短房间号（10 个十六进制字符）。
func NewRoomID() (string, error) { return randomHex(roomIDBytes) }

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
