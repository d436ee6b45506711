package service

import (
	"context"
	"errors"
	"fmt"

	"planroom/internal/auth"
	"planroom/internal/metrics"
	"planroom/internal/models"
)

// UserService 负责身份与会话：建房、登录以及“我是谁”查询。
type UserService struct {
	store Store
	now   Clock
}

func NewUserService(st Store, clock Clock) *UserService {
	return &UserService{store: st, now: clockOrNow(clock)}
}

// CreateRoomResult 建房成功后返回的数据，建房者自动登录。
type CreateRoomResult struct {
	RoomID    string
	SessionID string
	Nickname  string
}

// CreateRoom 创建一个 waiting 状态的新房间并为建房者注册、登录。
// 建房者随后调用 start 成为 boss。
func (s *UserService) CreateRoom(ctx context.Context, nickname, password string) (*CreateRoomResult, error) {
	nick, ok := auth.ValidateNickname(nickname)
	if !ok {
		return nil, ErrBadNickname
	}
	if !auth.ValidPassword(password) {
		return nil, ErrBadPassword
	}
	salt, err := auth.NewSalt()
	if err != nil {
		return nil, err
	}
	sid, err := auth.NewSessionID()
	if err != nil {
		return nil, err
	}
	passHash := auth.HashPassword(password, salt)

	var roomID string
	err = s.store.Update(ctx, func(st *models.State) error {
		id, err := unusedRoomID(st)
		if err != nil {
			return err
		}
		now := s.now()
		ts := models.Stamp(now)
		room := models.NewRoom(id, now)
		room.Users[nick] = &models.User{Nickname: nick, Salt: salt, PassHash: passHash, CreatedAt: ts, LastLoginAt: ts}
		st.Rooms[id] = room
		st.Sessions[sid] = &models.Session{RoomID: id, Nickname: nick, CreatedAt: ts, LastSeenAt: ts}
		roomID = id
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.RoomsCreated.Inc()
	return &CreateRoomResult{RoomID: roomID, SessionID: sid, Nickname: nick}, nil
}

func unusedRoomID(st *models.State) (string, error) {
	for i := 0; i < 8; i++ {
		id, err := auth.NewRoomID()
		if err != nil {
			return "", err
		}
		if _, taken := st.Rooms[id]; !taken {
			return id, nil
		}
	}
	return "", errors.New("could not allocate a room id")
}

// LoginResult 登录成功后返回的数据。
type LoginResult struct {
	SessionID string
	Nickname  string
	IsBoss    bool
	IsNewUser bool
}

// Login 首次使用的昵称直接注册；已存在的昵称校验密码。每次成功登录都签发新的会话令牌，
// 旧令牌在本周期内继续有效。
func (s *UserService) Login(ctx context.Context, roomID, nickname, password string) (*LoginResult, error) {
	if err := checkRoomID(roomID); err != nil {
		return nil, err
	}
	nick, ok := auth.ValidateNickname(nickname)
	if !ok {
		return nil, ErrBadNickname
	}
	if !auth.ValidPassword(password) {
		return nil, ErrBadPassword
	}
	sid, err := auth.NewSessionID()
	if err != nil {
		return nil, err
	}

	var res LoginResult
	err = s.store.Update(ctx, func(st *models.State) error {
		now := s.now()
		room, err := fetchRoom(st, roomID, now)
		if err != nil {
			return err
		}
		if room.Status == models.StatusLocked {
			return lockedError(room)
		}

		ts := models.Stamp(now)
		if u := room.Users[nick]; u != nil {
			if !auth.VerifyPassword(u.PassHash, password, u.Salt) {
				return ErrWrongPassword
			}
			u.LastLoginAt = ts
		} else {
			salt, err := auth.NewSalt()
			if err != nil {
				return fmt.Errorf("new salt: %w", err)
			}
			room.Users[nick] = &models.User{
				Nickname:    nick,
				Salt:        salt,
				PassHash:    auth.HashPassword(password, salt),
				CreatedAt:   ts,
				LastLoginAt: ts,
			}
			res.IsNewUser = true
		}

		st.Sessions[sid] = &models.Session{RoomID: roomID, Nickname: nick, CreatedAt: ts, LastSeenAt: ts}
		room.UpdatedAt = ts
		res.SessionID = sid
		res.Nickname = nick
		res.IsBoss = room.IsBoss(sid)
		return nil
	})
	switch {
	case errors.Is(err, ErrWrongPassword):
		metrics.Logins.WithLabelValues("wrong_password").Inc()
		return nil, err
	case err != nil:
		return nil, err
	case res.IsNewUser:
		metrics.Logins.WithLabelValues("new").Inc()
	default:
		metrics.Logins.WithLabelValues("existing").Inc()
	}
	return &res, nil
}

// Identity 是当前登录者在房间内的身份。
type Identity struct {
	Nickname string `json:"nickname"`
	IsBoss   bool   `json:"isBoss"`
}

// MeResult “我是谁”查询结果；未登录时两者均为 nil。
type MeResult struct {
	Me   *Identity    `json:"me"`
	Plan *models.Plan `json:"plan"`
}

// Me 返回当前会话的身份和自己的计划，并刷新 lastSeenAt。
func (s *UserService) Me(ctx context.Context, roomID, sid string) (*MeResult, error) {
	if err := checkRoomID(roomID); err != nil {
		return nil, err
	}
	var res MeResult
	err := s.store.Update(ctx, func(st *models.State) error {
		now := s.now()
		room, err := fetchRoom(st, roomID, now)
		if err != nil {
			return err
		}
		if room.Status == models.StatusLocked {
			return lockedError(room)
		}
		sess := sessionFor(st, roomID, sid)
		if sess == nil {
			return nil
		}
		sess.LastSeenAt = models.Stamp(now)
		res.Me = &Identity{Nickname: sess.Nickname, IsBoss: room.IsBoss(sid)}
		if p := room.Plans[sess.Nickname]; p != nil {
			cp := *p
			if p.Live() {
				cp.Content = p.Content.Sanitized()
			} else {
				cp.Content = nil
			}
			res.Plan = &cp
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}
