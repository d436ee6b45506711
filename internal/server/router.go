package server

import (
	"net/http"
	"os"
	"strings"
	"time"

	"planroom/internal/auth"
	"planroom/internal/config"
	"planroom/internal/metrics"
	"planroom/internal/mw"
	"planroom/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// SetupRouter 统一初始化 Gin 中间件、页面以及 JSON API。
// 返回的限速器在停服时需要 Stop。
func SetupRouter(cfg config.Config, st service.Store) (*gin.Engine, *mw.RL) {
	users := service.NewUserService(st, nil)
	rooms := service.NewRoomService(st, cfg.LockDuration, nil)
	plans := service.NewPlanService(st, nil)
	theme := service.NewThemeService(st, nil)
	h := NewHandler(users, rooms, plans, theme, HandlerOptions{
		SessionSecret: cfg.SessionSecret,
		CookieSecure:  cfg.CookieSecure,
		Location:      displayLocation(cfg.DisplayTimezone),
	})

	r := gin.New()
	// 只有受信任的代理才能通过 X-Forwarded-For 改写客户端 IP。
	if err := r.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		log.Warn().Err(err).Strs("trusted_proxies", cfg.TrustedProxies).Msg("invalid trusted proxies, trusting none")
		_ = r.SetTrustedProxies(nil)
	}
	r.Use(gin.Recovery())
	r.Use(mw.RequestLog())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.SecureHeaders())
	r.Use(mw.CORS(cfg.Env))
	// 控制单个 IP+路由的速率。
	rl := mw.NewRateLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst, 2*time.Minute)
	r.Use(rl.Middleware())
	r.Use(auth.SessionMiddleware(cfg.SessionSecret))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if fi, err := os.Stat(cfg.PublicDir); err == nil && fi.IsDir() {
		r.Static("/public", cfg.PublicDir)
	}

	r.GET("/", h.Home)
	r.GET("/r/:roomId", h.RoomPage)

	api := r.Group("/api")
	api.POST("/rooms", h.CreateRoom)

	room := api.Group("/rooms/:roomId")
	room.GET("/status", h.Status)
	room.POST("/login", h.Login)
	room.POST("/start", h.Start)
	room.GET("/plans", h.ListPlans)
	room.GET("/me", h.Me)
	room.POST("/plan", h.SubmitPlan)
	room.DELETE("/plan", h.DeletePlan)

	boss := room.Group("/boss")
	boss.DELETE("/plan/:nickname", h.ModeratePlan)
	boss.POST("/end", h.EndCycle)
	boss.POST("/theme", h.ApplyTheme)

	r.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			fail(c, http.StatusNotFound, "not_found")
			return
		}
		renderNotFound(c, msgBadLink)
	})
	return r, rl
}

// displayLocation 加载展示时区，失败时退回 UTC+9。
func displayLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		log.Warn().Err(err).Str("timezone", name).Msg("load display timezone, falling back to UTC+9")
		return time.FixedZone("KST", 9*60*60)
	}
	return loc
}
