package service

import "errors"

// 业务层通用错误，handler 可根据错误类型映射到合适的 HTTP 状态码和错误码。
var (
	ErrBadNickname    = errors.New("invalid nickname")
	ErrBadPassword    = errors.New("invalid password")
	ErrWrongPassword  = errors.New("wrong password")
	ErrNotFound       = errors.New("not found")
	ErrLocked         = errors.New("room locked")
	ErrNotStarted     = errors.New("room not started")
	ErrAlreadyUsed    = errors.New("plan already used this cycle")
	ErrAlreadyDeleted = errors.New("plan already deleted")
	ErrLoginRequired  = errors.New("login required")
	ErrForbidden      = errors.New("forbidden")
)

// LockedError 携带锁定时间；errors.Is(err, ErrLocked) 为真。
type LockedError struct {
	LockedAt string
}

func (e *LockedError) Error() string { return ErrLocked.Error() }

func (e *LockedError) Is(target error) bool { return target == ErrLocked }
