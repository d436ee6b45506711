package service

import (
	"context"
	"time"

	"planroom/internal/metrics"
	"planroom/internal/models"

	"github.com/rs/zerolog/log"
)

// DefaultLockDuration 是结束周期后房间保持锁定的时长。
const DefaultLockDuration = 365 * 24 * time.Hour

// RoomService 实现房间生命周期：waiting → open → locked → waiting。
type RoomService struct {
	store        Store
	now          Clock
	lockDuration time.Duration
}

func NewRoomService(st Store, lockDuration time.Duration, clock Clock) *RoomService {
	if lockDuration <= 0 {
		lockDuration = DefaultLockDuration
	}
	return &RoomService{store: st, now: clockOrNow(clock), lockDuration: lockDuration}
}

// RoomInfo 是对外公开的房间概要。
type RoomInfo struct {
	ID           string       `json:"id"`
	Status       string       `json:"status"`
	BossNickname *string      `json:"bossNickname"`
	StartedAt    *string      `json:"startedAt"`
	Theme        models.Theme `json:"theme"`
}

// Viewer 描述调用方相对于房间的登录状态。
type Viewer struct {
	LoggedIn bool    `json:"loggedIn"`
	Nickname *string `json:"nickname"`
	IsBoss   bool    `json:"isBoss"`
}

type StatusResult struct {
	Room RoomInfo `json:"room"`
	Me   Viewer   `json:"me"`
}

// Status 返回房间概要和调用方身份；锁定的房间只暴露锁定时间。
func (s *RoomService) Status(ctx context.Context, roomID, sid string) (*StatusResult, error) {
	if err := checkRoomID(roomID); err != nil {
		return nil, err
	}
	var res StatusResult
	err := s.store.Update(ctx, func(st *models.State) error {
		room, err := fetchRoom(st, roomID, s.now())
		if err != nil {
			return err
		}
		if room.Status == models.StatusLocked {
			return lockedError(room)
		}
		res.Room = RoomInfo{
			ID:           room.ID,
			Status:       room.Status,
			BossNickname: room.BossNickname,
			StartedAt:    room.StartedAt,
			Theme:        room.Theme,
		}
		if sess := sessionFor(st, roomID, sid); sess != nil {
			nick := sess.Nickname
			res.Me = Viewer{LoggedIn: true, Nickname: &nick, IsBoss: room.IsBoss(sid)}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

type StartResult struct {
	Status string `json:"status"`
	IsBoss bool   `json:"isBoss"`
}

// Start 让第一个在 waiting 状态下调用的已登录用户成为 boss 并开放房间。
// 房间已开放时不做任何修改，只返回当前状态。
func (s *RoomService) Start(ctx context.Context, roomID, sid string) (*StartResult, error) {
	if err := checkRoomID(roomID); err != nil {
		return nil, err
	}
	var res StartResult
	started := false
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
			return ErrLoginRequired
		}
		if room.Status == models.StatusWaiting && room.BossSessionID == nil {
			ts := models.Stamp(now)
			boss, nick := sid, sess.Nickname
			room.BossSessionID = &boss
			room.BossNickname = &nick
			room.StartedAt = &ts
			room.Status = models.StatusOpen
			room.UpdatedAt = ts
			started = true
		}
		res.Status = room.Status
		res.IsBoss = room.IsBoss(sid)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if started {
		metrics.CycleTransitions.WithLabelValues(models.StatusOpen).Inc()
		log.Info().Str("room_id", roomID).Msg("room cycle started")
	}
	return &res, nil
}

type EndResult struct {
	LockedAt string `json:"lockedAt"`
	UnlockAt string `json:"unlockAt"`
}

// End 由 boss 结束当前周期，房间锁定 lockDuration。
func (s *RoomService) End(ctx context.Context, roomID, sid string) (*EndResult, error) {
	if err := checkRoomID(roomID); err != nil {
		return nil, err
	}
	var res EndResult
	err := s.store.Update(ctx, func(st *models.State) error {
		now := s.now()
		room, err := fetchRoom(st, roomID, now)
		if err != nil {
			return err
		}
		if room.Status == models.StatusLocked {
			return lockedError(room)
		}
		if room.Status != models.StatusOpen {
			return ErrNotStarted
		}
		if sessionFor(st, roomID, sid) == nil || !room.IsBoss(sid) {
			return ErrForbidden
		}
		lockedAt := models.Stamp(now)
		unlockAt := models.Stamp(now.Add(s.lockDuration))
		room.Status = models.StatusLocked
		room.LockedAt = &lockedAt
		room.UnlockAt = &unlockAt
		room.UpdatedAt = lockedAt
		res = EndResult{LockedAt: lockedAt, UnlockAt: unlockAt}
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.CycleTransitions.WithLabelValues(models.StatusLocked).Inc()
	log.Info().Str("room_id", roomID).Str("unlock_at", res.UnlockAt).Msg("room cycle ended")
	return &res, nil
}

// PageView 是渲染房间页面所需的数据。
type PageView struct {
	Locked   bool
	LockedAt time.Time
	Theme    models.Theme
}

// Page 返回房间页面的渲染数据；房间不存在时返回 ErrNotFound。
func (s *RoomService) Page(ctx context.Context, roomID string) (*PageView, error) {
	if err := checkRoomID(roomID); err != nil {
		return nil, err
	}
	var view PageView
	err := s.store.Update(ctx, func(st *models.State) error {
		room, err := fetchRoom(st, roomID, s.now())
		if err != nil {
			return err
		}
		view.Theme = room.Theme
		if room.Status == models.StatusLocked {
			view.Locked = true
			view.LockedAt, _ = models.ParseStamp(models.Deref(room.LockedAt))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &view, nil
}
