package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"planroom/internal/models"
)

// LegacyRoomID 是 v1 单房间数据迁移后使用的房间号。
const LegacyRoomID = "legacy"

// rawState 同时容纳 v2 结构和 v1 的 cycle/entries 字段。
type rawState struct {
	Meta     *models.Meta               `json:"meta"`
	Rooms    map[string]*models.Room    `json:"rooms"`
	Sessions map[string]*models.Session `json:"sessions"`

	Cycle   *v1Cycle            `json:"cycle"`
	Entries map[string]*v1Entry `json:"entries"`
	Theme   json.RawMessage     `json:"theme"`
}

type v1Cycle struct {
	Status        string  `json:"status"`
	BossStartedAt *string `json:"bossStartedAt"`
	LockedAt      *string `json:"lockedAt"`
	UnlockAt      *string `json:"unlockAt"`
}

// v1Entry 以 IP 哈希为键，没有昵称。
type v1Entry struct {
	CreatedAt string          `json:"createdAt"`
	UpdatedAt string          `json:"updatedAt"`
	DeletedAt *string         `json:"deletedAt"`
	Content   *models.Content `json:"content"`
}

var errNotObject = errors.New("state is not a JSON object")

// decode 解析持久化内容。旧版本会被迁移，migrated 为 true 时调用方需要写回。
func decode(raw []byte, now time.Time) (st *models.State, migrated bool, err error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, false, errNotObject
	}
	var rs rawState
	if err := json.Unmarshal(trimmed, &rs); err != nil {
		return nil, false, err
	}

	if rs.Meta == nil || rs.Meta.DataVersion != models.DataVersion {
		if rs.Cycle != nil || rs.Entries != nil {
			return migrateV1(&rs, now), true, nil
		}
		migrated = true
	}

	st = &models.State{Rooms: rs.Rooms, Sessions: rs.Sessions}
	if rs.Meta != nil {
		st.Meta = *rs.Meta
	}
	if st.Meta.CreatedAt == "" {
		st.Meta.CreatedAt = models.Stamp(now)
	}
	st.Meta.DataVersion = models.DataVersion
	normalize(st)
	return st, migrated, nil
}

// normalize 补齐缺失的 map 并丢弃 null 记录，保证后续代码无需判空。
func normalize(st *models.State) {
	if st.Rooms == nil {
		st.Rooms = make(map[string]*models.Room)
	}
	if st.Sessions == nil {
		st.Sessions = make(map[string]*models.Session)
	}
	for id, room := range st.Rooms {
		if room == nil {
			delete(st.Rooms, id)
			continue
		}
		if room.Users == nil {
			room.Users = make(map[string]*models.User)
		}
		if room.Plans == nil {
			room.Plans = make(map[string]*models.Plan)
		}
		for nick, u := range room.Users {
			if u == nil {
				delete(room.Users, nick)
			}
		}
		for nick, p := range room.Plans {
			if p == nil {
				delete(room.Plans, nick)
			}
		}
	}
	for sid, sess := range st.Sessions {
		if sess == nil {
			delete(st.Sessions, sid)
		}
	}
}

// migrateV1 把 v1 的单周期数据迁移为一个 id 为 legacy 的房间。
// v1 用 IP 哈希区分作者，这里生成 user_<哈希前 6 位> 作为昵称。
func migrateV1(rs *rawState, now time.Time) *models.State {
	st := models.NewState(now)
	room := models.NewRoom(LegacyRoomID, now)

	room.Status = models.StatusOpen
	if rs.Cycle != nil && rs.Cycle.Status == models.StatusLocked {
		room.Status = models.StatusLocked
	}
	room.StartedAt = models.StampPtr(now)
	if rs.Cycle != nil {
		if rs.Cycle.BossStartedAt != nil && *rs.Cycle.BossStartedAt != "" {
			room.StartedAt = rs.Cycle.BossStartedAt
		}
		room.LockedAt = rs.Cycle.LockedAt
		room.UnlockAt = rs.Cycle.UnlockAt
	}
	if len(rs.Theme) > 0 {
		theme := models.DefaultTheme
		// 字段类型不匹配时 json 会跳过该字段，其余字段照常合并。
		_ = json.Unmarshal(rs.Theme, &theme)
		room.Theme = theme
	}

	keys := make([]string, 0, len(rs.Entries))
	for k := range rs.Entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, ipHash := range keys {
		e := rs.Entries[ipHash]
		if e == nil || e.DeletedAt != nil {
			continue
		}
		nick := "user_" + prefix(ipHash, 6)
		createdAt := firstNonEmpty(e.CreatedAt, room.CreatedAt)
		room.Plans[nick] = &models.Plan{
			Nickname:  nick,
			CreatedAt: createdAt,
			UpdatedAt: firstNonEmpty(e.UpdatedAt, e.CreatedAt, room.CreatedAt),
			Content:   e.Content,
		}
	}

	st.Rooms[LegacyRoomID] = room
	return st
}

func prefix(s string, n int) string {
	r := []rune(s)
	if len(r) > n {
		r = r[:n]
	}
	return string(r)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
