package service

import (
	"context"
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"

	"planroom/internal/models"
)

// 主题字段的长度与取值范围。
const (
	titleMin      = 2
	titleMax      = 40
	subtitleMax   = 80
	fontMax       = 60
	cardRadiusMin = 8
	cardRadiusMax = 28
)

var (
	hexColor = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)
	// fontChars 只允许页面 CSS 变量中可以原样输出的字符。
	fontChars = regexp.MustCompile(`^[\p{L}\p{N} ,._-]*$`)
)

// ThemePatch 保留原始 JSON，便于逐字段判断类型；缺失的字段为 nil。
type ThemePatch struct {
	Title      json.RawMessage `json:"title"`
	Subtitle   json.RawMessage `json:"subtitle"`
	Primary    json.RawMessage `json:"primary"`
	Bg1        json.RawMessage `json:"bg1"`
	Bg2        json.RawMessage `json:"bg2"`
	CardRadius json.RawMessage `json:"cardRadius"`
	Font       json.RawMessage `json:"font"`
}

// ThemeService 让 boss 修改房间外观。
type ThemeService struct {
	store Store
	now   Clock
}

func NewThemeService(st Store, clock Clock) *ThemeService {
	return &ThemeService{store: st, now: clockOrNow(clock)}
}

// Apply 逐字段校验补丁，无效字段保留旧值，不会因为单个字段拒绝整个请求。
func (s *ThemeService) Apply(ctx context.Context, roomID, sid string, patch ThemePatch) (*models.Theme, error) {
	if err := checkRoomID(roomID); err != nil {
		return nil, err
	}
	var out models.Theme
	err := s.store.Update(ctx, func(st *models.State) error {
		now := s.now()
		room, err := fetchRoom(st, roomID, now)
		if err != nil {
			return err
		}
		if room.Status == models.StatusLocked {
			return lockedError(room)
		}
		if !room.IsBoss(sid) {
			return ErrForbidden
		}
		room.Theme = MergeTheme(room.Theme, patch)
		room.UpdatedAt = models.Stamp(now)
		out = room.Theme
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// MergeTheme 把补丁中合法的字段合并到 base 上。
func MergeTheme(base models.Theme, p ThemePatch) models.Theme {
	t := base
	if v, ok := clampString(p.Title, titleMin, titleMax); ok {
		t.Title = v
	}
	if v, ok := clampString(p.Subtitle, 0, subtitleMax); ok {
		t.Subtitle = v
	}
	if v, ok := clampString(p.Font, 0, fontMax); ok && safeFont(v) {
		t.Font = v
	}
	if v, ok := color(p.Primary); ok {
		t.Primary = v
	}
	if v, ok := color(p.Bg1); ok {
		t.Bg1 = v
	}
	if v, ok := color(p.Bg2); ok {
		t.Bg2 = v
	}
	if v, ok := radius(p.CardRadius); ok {
		t.CardRadius = v
	}
	return t
}

func absent(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

func rawString(raw json.RawMessage) (string, bool) {
	if absent(raw) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// clampString 去掉首尾空白，短于 min 时无效，超过 max 时截断。
func clampString(raw json.RawMessage, min, max int) (string, bool) {
	s, ok := rawString(raw)
	if !ok {
		return "", false
	}
	r := []rune(strings.TrimSpace(s))
	if len(r) < min {
		return "", false
	}
	if len(r) > max {
		r = r[:max]
	}
	return string(r), true
}

// safeFont 拒绝会被 html/template 的 CSS 过滤器替换掉的字体值。
func safeFont(s string) bool {
	if !fontChars.MatchString(s) || strings.Contains(s, "--") {
		return false
	}
	id := strings.ToLower(strings.NewReplacer(" ", "", ",", "", ".", "").Replace(s))
	return !strings.Contains(id, "expression") && !strings.Contains(id, "mozbinding")
}

func color(raw json.RawMessage) (string, bool) {
	s, ok := rawString(raw)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, hexColor.MatchString(s)
}

// radius 接受数字或数字字符串，结果限制在 [8,28]。
func radius(raw json.RawMessage) (float64, bool) {
	if absent(raw) {
		return 0, false
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err != nil {
		s, ok := rawString(raw)
		if !ok {
			return 0, false
		}
		n, err = strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, false
		}
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return math.Min(cardRadiusMax, math.Max(cardRadiusMin, n)), true
}
