package service

import (
	"context"
	"sort"
	"time"

	"planroom/internal/auth"
	"planroom/internal/metrics"
	"planroom/internal/models"
)

// PlanService 管理每个昵称每个周期的一条计划。
type PlanService struct {
	store Store
	now   Clock
}

func NewPlanService(st Store, clock Clock) *PlanService {
	return &PlanService{store: st, now: clockOrNow(clock)}
}

// PlanView 是公开列表中的一条计划。
type PlanView struct {
	Nickname  string          `json:"nickname"`
	CreatedAt string          `json:"createdAt"`
	UpdatedAt string          `json:"updatedAt"`
	Content   *models.Content `json:"content"`
}

// Submit 创建或覆盖调用方自己的计划。被删除过的计划本周期内不能再提交。
func (s *PlanService) Submit(ctx context.Context, roomID, sid string, content *models.Content) (*models.Plan, error) {
	if err := checkRoomID(roomID); err != nil {
		return nil, err
	}
	var out models.Plan
	err := s.store.Update(ctx, func(st *models.State) error {
		now := s.now()
		room, err := openRoom(st, roomID, now)
		if err != nil {
			return err
		}
		sess := sessionFor(st, roomID, sid)
		if sess == nil {
			return ErrLoginRequired
		}

		ts := models.Stamp(now)
		plan := room.Plans[sess.Nickname]
		switch {
		case plan != nil && !plan.Live():
			return ErrAlreadyUsed
		case plan != nil:
			plan.Content = content.Sanitized()
			plan.UpdatedAt = ts
		default:
			plan = &models.Plan{
				Nickname:  sess.Nickname,
				CreatedAt: ts,
				UpdatedAt: ts,
				Content:   content.Sanitized(),
			}
			room.Plans[sess.Nickname] = plan
		}
		room.UpdatedAt = ts
		out = *plan
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.PlansSubmitted.Inc()
	return &out, nil
}

// Delete 删除调用方自己的计划，留下墓碑记录。
func (s *PlanService) Delete(ctx context.Context, roomID, sid string) error {
	if err := checkRoomID(roomID); err != nil {
		return err
	}
	err := s.store.Update(ctx, func(st *models.State) error {
		now := s.now()
		room, err := openRoom(st, roomID, now)
		if err != nil {
			return err
		}
		sess := sessionFor(st, roomID, sid)
		if sess == nil {
			return ErrLoginRequired
		}
		return tombstone(room, sess.Nickname, now)
	})
	if err != nil {
		return err
	}
	metrics.PlansDeleted.WithLabelValues("self").Inc()
	return nil
}

// Moderate 由 boss 删除任意昵称的计划，语义与 Delete 相同。
func (s *PlanService) Moderate(ctx context.Context, roomID, sid, nickname string) error {
	if err := checkRoomID(roomID); err != nil {
		return err
	}
	target, ok := auth.ValidateNickname(nickname)
	if !ok {
		return ErrBadNickname
	}
	err := s.store.Update(ctx, func(st *models.State) error {
		now := s.now()
		room, err := openRoom(st, roomID, now)
		if err != nil {
			return err
		}
		if !room.IsBoss(sid) {
			return ErrForbidden
		}
		return tombstone(room, target, now)
	})
	if err != nil {
		return err
	}
	metrics.PlansDeleted.WithLabelValues("boss").Inc()
	return nil
}

// List 返回本周期内未删除的计划，最近更新的在前。房间未开放时返回空列表。
func (s *PlanService) List(ctx context.Context, roomID string) ([]PlanView, error) {
	if err := checkRoomID(roomID); err != nil {
		return nil, err
	}
	plans := []PlanView{}
	err := s.store.Update(ctx, func(st *models.State) error {
		room, err := fetchRoom(st, roomID, s.now())
		if err != nil {
			return err
		}
		if room.Status == models.StatusLocked {
			return lockedError(room)
		}
		if room.Status != models.StatusOpen {
			return nil
		}
		for _, p := range room.Plans {
			if !p.Live() {
				continue
			}
			plans = append(plans, PlanView{
				Nickname:  p.Nickname,
				CreatedAt: p.CreatedAt,
				UpdatedAt: p.UpdatedAt,
				Content:   p.Content.Sanitized(),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(plans, func(i, j int) bool {
		if plans[i].UpdatedAt != plans[j].UpdatedAt {
			return plans[i].UpdatedAt > plans[j].UpdatedAt
		}
		return plans[i].Nickname < plans[j].Nickname
	})
	return plans, nil
}

// openRoom 返回处于 open 状态的房间，否则返回 locked 或 not_started。
func openRoom(st *models.State, roomID string, now time.Time) (*models.Room, error) {
	room, err := fetchRoom(st, roomID, now)
	if err != nil {
		return nil, err
	}
	if room.Status == models.StatusLocked {
		return nil, lockedError(room)
	}
	if room.Status != models.StatusOpen {
		return nil, ErrNotStarted
	}
	return room, nil
}

func tombstone(room *models.Room, nickname string, now time.Time) error {
	plan := room.Plans[nickname]
	if plan == nil {
		return ErrNotFound
	}
	if !plan.Live() {
		return ErrAlreadyDeleted
	}
	ts := models.Stamp(now)
	plan.DeletedAt = &ts
	plan.UpdatedAt = ts
	plan.Content = nil
	room.UpdatedAt = ts
	return nil
}
