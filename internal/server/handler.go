package server

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"planroom/internal/auth"
	"planroom/internal/models"
	"planroom/internal/mw"
	"planroom/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Handler 聚合所有 HTTP handler，依赖注入 service 层。
type Handler struct {
	users *service.UserService
	rooms *service.RoomService
	plans *service.PlanService
	theme *service.ThemeService

	secret       string
	secureCookie bool
	loc          *time.Location
}

type HandlerOptions struct {
	SessionSecret string
	CookieSecure  bool
	// Location 是锁定页面展示时间使用的时区，nil 时使用 UTC。
	Location *time.Location
}

func NewHandler(users *service.UserService, rooms *service.RoomService, plans *service.PlanService, theme *service.ThemeService, opts HandlerOptions) *Handler {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{
		users:        users,
		rooms:        rooms,
		plans:        plans,
		theme:        theme,
		secret:       opts.SessionSecret,
		secureCookie: opts.CookieSecure,
		loc:          loc,
	}
}

// errorStatus 把业务错误映射为 HTTP 状态码和错误码。
var errorStatus = []struct {
	err    error
	status int
	code   string
}{
	{service.ErrBadNickname, http.StatusBadRequest, "bad_nickname"},
	{service.ErrBadPassword, http.StatusBadRequest, "bad_password"},
	{service.ErrLoginRequired, http.StatusUnauthorized, "login_required"},
	{service.ErrWrongPassword, http.StatusForbidden, "wrong_password"},
	{service.ErrForbidden, http.StatusForbidden, "forbidden"},
	{service.ErrNotFound, http.StatusNotFound, "not_found"},
	{service.ErrNotStarted, http.StatusConflict, "not_started"},
	{service.ErrAlreadyUsed, http.StatusConflict, "already_used"},
	{service.ErrAlreadyDeleted, http.StatusConflict, "already_deleted"},
	{service.ErrLocked, http.StatusLocked, "locked"},
}

func fail(c *gin.Context, status int, code string) {
	c.JSON(status, gin.H{"ok": false, "error": code})
}

// writeError 输出错误响应；未知错误记录日志并统一返回 internal。
func writeError(c *gin.Context, err error, action string) {
	var locked *service.LockedError
	if errors.As(err, &locked) {
		body := gin.H{"ok": false, "error": "locked"}
		if locked.LockedAt != "" {
			body["lockedAt"] = locked.LockedAt
		}
		c.JSON(http.StatusLocked, body)
		return
	}
	for _, e := range errorStatus {
		if errors.Is(err, e.err) {
			fail(c, e.status, e.code)
			return
		}
	}
	log.Error().Err(err).Str("request_id", mw.GetRequestID(c)).Str("room_id", c.Param("roomId")).Msg(action)
	fail(c, http.StatusInternalServerError, "internal")
}

// bindJSON 解析请求体；空请求体按空对象处理。
func bindJSON(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil && !errors.Is(err, io.EOF) {
		fail(c, http.StatusBadRequest, "bad_payload")
		return false
	}
	return true
}

func roomIDParam(c *gin.Context) string {
	return strings.TrimSpace(c.Param("roomId"))
}

func (h *Handler) setSession(c *gin.Context, sid string) bool {
	if err := auth.SetSessionCookie(c, sid, h.secret, h.secureCookie); err != nil {
		log.Error().Err(err).Msg("sign session cookie")
		fail(c, http.StatusInternalServerError, "internal")
		return false
	}
	return true
}

type credentials struct {
	Nickname string `json:"nickname"`
	Password string `json:"password"`
}

// Home 渲染默认主题的应用外壳。
func (h *Handler) Home(c *gin.Context) {
	renderShell(c, models.DefaultTheme)
}

// RoomPage 渲染房间页面；锁定的房间只显示结束时间。
func (h *Handler) RoomPage(c *gin.Context) {
	roomID := roomIDParam(c)
	if !auth.ValidRoomID(roomID) {
		renderNotFound(c, msgBadLink)
		return
	}
	view, err := h.rooms.Page(c.Request.Context(), roomID)
	if errors.Is(err, service.ErrNotFound) {
		renderNotFound(c, msgRoomNotFound)
		return
	}
	if err != nil {
		log.Error().Err(err).Str("request_id", mw.GetRequestID(c)).Str("room_id", roomID).Msg("room page")
		c.String(http.StatusInternalServerError, "internal error")
		return
	}
	if view.Locked {
		renderLocked(c, view.LockedAt, h.loc)
		return
	}
	renderShell(c, view.Theme)
}

// CreateRoom 创建房间，建房者自动登录。
func (h *Handler) CreateRoom(c *gin.Context) {
	var req credentials
	if !bindJSON(c, &req) {
		return
	}
	res, err := h.users.CreateRoom(c.Request.Context(), req.Nickname, req.Password)
	if err != nil {
		writeError(c, err, "create room")
		return
	}
	if !h.setSession(c, res.SessionID) {
		return
	}
	log.Info().Str("room_id", res.RoomID).Str("nickname", res.Nickname).Msg("room created")
	c.JSON(http.StatusOK, gin.H{"ok": true, "roomId": res.RoomID, "url": "/r/" + res.RoomID, "isBoss": false})
}

// Status 返回房间概要和当前登录状态。
func (h *Handler) Status(c *gin.Context) {
	res, err := h.rooms.Status(c.Request.Context(), roomIDParam(c), auth.GetSessionID(c))
	if err != nil {
		writeError(c, err, "room status")
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "room": res.Room, "me": res.Me})
}

// Login 处理房间内的登录，首次使用的昵称自动注册。
func (h *Handler) Login(c *gin.Context) {
	roomID := roomIDParam(c)
	if !auth.ValidRoomID(roomID) {
		writeError(c, service.ErrNotFound, "login")
		return
	}
	var req credentials
	if !bindJSON(c, &req) {
		return
	}
	res, err := h.users.Login(c.Request.Context(), roomID, req.Nickname, req.Password)
	if err != nil {
		writeError(c, err, "login")
		return
	}
	if !h.setSession(c, res.SessionID) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "nickname": res.Nickname, "isBoss": res.IsBoss, "isNewUser": res.IsNewUser})
}

// Start 开始新周期，第一个调用者成为 boss。
func (h *Handler) Start(c *gin.Context) {
	res, err := h.rooms.Start(c.Request.Context(), roomIDParam(c), auth.GetSessionID(c))
	if err != nil {
		writeError(c, err, "start cycle")
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "status": res.Status, "isBoss": res.IsBoss})
}

// ListPlans 返回公开的计划列表。
func (h *Handler) ListPlans(c *gin.Context) {
	plans, err := h.plans.List(c.Request.Context(), roomIDParam(c))
	if err != nil {
		writeError(c, err, "list plans")
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "plans": plans})
}

// Me 返回自己的身份和计划。
func (h *Handler) Me(c *gin.Context) {
	res, err := h.users.Me(c.Request.Context(), roomIDParam(c), auth.GetSessionID(c))
	if err != nil {
		writeError(c, err, "me")
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "me": res.Me, "plan": res.Plan})
}

// SubmitPlan 创建或修改自己的计划。
func (h *Handler) SubmitPlan(c *gin.Context) {
	roomID := roomIDParam(c)
	if !auth.ValidRoomID(roomID) {
		writeError(c, service.ErrNotFound, "submit plan")
		return
	}
	var req struct {
		Content *models.Content `json:"content"`
	}
	if !bindJSON(c, &req) {
		return
	}
	plan, err := h.plans.Submit(c.Request.Context(), roomID, auth.GetSessionID(c), req.Content)
	if err != nil {
		writeError(c, err, "submit plan")
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "plan": plan})
}

// DeletePlan 删除自己的计划，本周期内不能再提交。
func (h *Handler) DeletePlan(c *gin.Context) {
	if err := h.plans.Delete(c.Request.Context(), roomIDParam(c), auth.GetSessionID(c)); err != nil {
		writeError(c, err, "delete plan")
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// ModeratePlan boss 删除指定昵称的计划。
func (h *Handler) ModeratePlan(c *gin.Context) {
	err := h.plans.Moderate(c.Request.Context(), roomIDParam(c), auth.GetSessionID(c), c.Param("nickname"))
	if err != nil {
		writeError(c, err, "moderate plan")
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// EndCycle boss 结束当前周期并锁定房间。
func (h *Handler) EndCycle(c *gin.Context) {
	res, err := h.rooms.End(c.Request.Context(), roomIDParam(c), auth.GetSessionID(c))
	if err != nil {
		writeError(c, err, "end cycle")
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "lockedAt": res.LockedAt, "unlockAt": res.UnlockAt})
}

// ApplyTheme boss 修改房间主题，无效字段被忽略。
func (h *Handler) ApplyTheme(c *gin.Context) {
	roomID := roomIDParam(c)
	if !auth.ValidRoomID(roomID) {
		writeError(c, service.ErrNotFound, "apply theme")
		return
	}
	var patch service.ThemePatch
	if !bindJSON(c, &patch) {
		return
	}
	theme, err := h.theme.Apply(c.Request.Context(), roomID, auth.GetSessionID(c), patch)
	if err != nil {
		writeError(c, err, "apply theme")
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "theme": theme})
}
