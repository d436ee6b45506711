package service

import (
	"context"
	"time"

	"planroom/internal/auth"
	"planroom/internal/metrics"
	"planroom/internal/models"

	"github.com/rs/zerolog/log"
)

// Store 是服务层需要的持久化能力：一次串行化的加载-修改-保存。
type Store interface {
	Update(ctx context.Context, fn func(st *models.State) error) error
}

// Clock 返回当前时间，测试中可替换。
type Clock func() time.Time

func clockOrNow(c Clock) Clock {
	if c == nil {
		return time.Now
	}
	return c
}

// Reconcile 是房间生命周期的惰性转换：locked 且 now >= unlockAt 时重置为 waiting，
// 清空用户、计划和 boss。返回 true 表示发生了重置，调用方需清理该房间的会话。
func Reconcile(room *models.Room, now time.Time) bool {
	if room.Status != models.StatusLocked || room.UnlockAt == nil {
		return false
	}
	unlock, ok := models.ParseStamp(*room.UnlockAt)
	if !ok || now.Before(unlock) {
		return false
	}
	room.Status = models.StatusWaiting
	room.BossSessionID = nil
	room.BossNickname = nil
	room.StartedAt = nil
	room.LockedAt = nil
	room.UnlockAt = nil
	room.Users = make(map[string]*models.User)
	room.Plans = make(map[string]*models.Plan)
	room.UpdatedAt = models.Stamp(now)
	return true
}

// fetchRoom 是所有操作访问房间的唯一入口，先执行 Reconcile。
func fetchRoom(st *models.State, roomID string, now time.Time) (*models.Room, error) {
	room := st.Rooms[roomID]
	if room == nil {
		return nil, ErrNotFound
	}
	if Reconcile(room, now) {
		purged := purgeSessions(st, roomID)
		metrics.CycleTransitions.WithLabelValues(models.StatusWaiting).Inc()
		log.Info().Str("room_id", roomID).Int("sessions_purged", purged).Msg("room cycle reset")
	}
	return room, nil
}

func purgeSessions(st *models.State, roomID string) int {
	n := 0
	for sid, sess := range st.Sessions {
		if sess.RoomID == roomID {
			delete(st.Sessions, sid)
			n++
		}
	}
	return n
}

// sessionFor 按令牌查找会话，房间不匹配视为不存在。
func sessionFor(st *models.State, roomID, sid string) *models.Session {
	if sid == "" {
		return nil
	}
	sess := st.Sessions[sid]
	if sess == nil || sess.RoomID != roomID {
		return nil
	}
	return sess
}

func checkRoomID(roomID string) error {
	if !auth.ValidRoomID(roomID) {
		return ErrNotFound
	}
	return nil
}

func lockedError(room *models.Room) error {
	return &LockedError{LockedAt: models.Deref(room.LockedAt)}
}
