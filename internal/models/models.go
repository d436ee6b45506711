package models

import "time"

// DataVersion 是当前持久化结构的版本号。
const DataVersion = 2

// 房间状态。
const (
	StatusWaiting = "waiting"
	StatusOpen    = "open"
	StatusLocked  = "locked"
)

type Meta struct {
	DataVersion int    `json:"dataVersion"`
	CreatedAt   string `json:"createdAt"`
}

// State 是整个应用的持久化状态，整体读写。
type State struct {
	Meta     Meta                `json:"meta"`
	Rooms    map[string]*Room    `json:"rooms"`
	Sessions map[string]*Session `json:"sessions"`
}

type Room struct {
	ID            string           `json:"id"`
	CreatedAt     string           `json:"createdAt"`
	UpdatedAt     string           `json:"updatedAt"`
	Status        string           `json:"status"`
	BossSessionID *string          `json:"bossSessionId"`
	BossNickname  *string          `json:"bossNickname"`
	StartedAt     *string          `json:"startedAt"`
	LockedAt      *string          `json:"lockedAt"`
	UnlockAt      *string          `json:"unlockAt"`
	Theme         Theme            `json:"theme"`
	Users         map[string]*User `json:"users"`
	Plans         map[string]*Plan `json:"plans"`
}

// User 是房间内某个昵称的登录凭据。
type User struct {
	Nickname    string `json:"nickname"`
	Salt        string `json:"salt"`
	PassHash    string `json:"passHash"`
	CreatedAt   string `json:"createdAt"`
	LastLoginAt string `json:"lastLoginAt"`
}

// Plan 每个昵称每个周期最多一条；DeletedAt 非空即为墓碑记录。
type Plan struct {
	Nickname  string   `json:"nickname"`
	CreatedAt string   `json:"createdAt"`
	UpdatedAt string   `json:"updatedAt"`
	DeletedAt *string  `json:"deletedAt"`
	Content   *Content `json:"content"`
}

type Session struct {
	RoomID     string `json:"roomId"`
	Nickname   string `json:"nickname"`
	CreatedAt  string `json:"createdAt"`
	LastSeenAt string `json:"lastSeenAt"`
}

type Theme struct {
	Title      string  `json:"title"`
	Subtitle   string  `json:"subtitle"`
	Primary    string  `json:"primary"`
	Bg1        string  `json:"bg1"`
	Bg2        string  `json:"bg2"`
	CardRadius float64 `json:"cardRadius"`
	Font       string  `json:"font"`
}

// DefaultTheme 新房间和首页使用的主题。
var DefaultTheme = Theme{
	Title:      "신년계획서",
	Subtitle:   "보스가 방을 만들고 링크를 공유하면, 참가자들이 로그인 후 계획서를 작성합니다.",
	Primary:    "#7c3aed",
	Bg1:        "#0b1020",
	Bg2:        "#151a2e",
	CardRadius: 18,
	Font:       "system-ui, -apple-system, Segoe UI, Roboto, Arial",
}

// Snapshot 是数据库后端保存整份状态的表结构。
type Snapshot struct {
	Key       string `gorm:"primaryKey;size:64"`
	Data      []byte `gorm:"not null"`
	UpdatedAt time.Time
}

// NewState 返回空的初始状态。
func NewState(now time.Time) *State {
	return &State{
		Meta:     Meta{DataVersion: DataVersion, CreatedAt: Stamp(now)},
		Rooms:    make(map[string]*Room),
		Sessions: make(map[string]*Session),
	}
}

// NewRoom 返回处于 waiting 状态、没有 boss 的新房间。
func NewRoom(id string, now time.Time) *Room {
	ts := Stamp(now)
	return &Room{
		ID:        id,
		CreatedAt: ts,
		UpdatedAt: ts,
		Status:    StatusWaiting,
		Theme:     DefaultTheme,
		Users:     make(map[string]*User),
		Plans:     make(map[string]*Plan),
	}
}

// IsBoss reports whether sid holds boss privileges for the current cycle.
func (r *Room) IsBoss(sid string) bool {
	return sid != "" && r.BossSessionID != nil && *r.BossSessionID == sid
}

// Live reports whether the plan has not been tombstoned.
func (p *Plan) Live() bool { return p.DeletedAt == nil }
