package models

import (
	"encoding/json"
	"strings"
)

// MaxGoalLength 目标内容的最大字符数。
const MaxGoalLength = 120

// Content 是计划的正文，只有一行目标。
type Content struct {
	Goal string `json:"goal"`
}

// UnmarshalJSON 兼容三种输入：字符串、{"goal"} 以及旧版本的 {"headline"}。
// 其他形状一律视为空目标。结果已经过 NormalizeGoal 处理。
func (c *Content) UnmarshalJSON(b []byte) error {
	c.Goal = NormalizeGoal(decodeGoal(b))
	return nil
}

func decodeGoal(b []byte) string {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		return s
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(b, &obj); err != nil {
		return ""
	}
	for _, key := range []string{"goal", "headline"} {
		raw, ok := obj[key]
		if !ok || string(raw) == "null" {
			continue
		}
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	return ""
}

// NormalizeGoal 合并所有空白（含换行）为单个空格，去掉首尾空白并截断到 120 个字符。
func NormalizeGoal(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) > MaxGoalLength {
		s = string(r[:MaxGoalLength])
	}
	return s
}

// Sanitized returns a normalised copy; a nil content becomes an empty goal.
func (c *Content) Sanitized() *Content {
	if c == nil {
		return &Content{}
	}
	return &Content{Goal: NormalizeGoal(c.Goal)}
}
