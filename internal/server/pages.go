package server

import (
	"bytes"
	"html/template"
	"net/http"
	"time"

	"planroom/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// lockedLayout 锁定页面只显示结束时间。
const lockedLayout = "2006-01-02 15:04"

const shellHTML = `<!doctype html>
<html lang="ko">
<head>
<meta charset="utf-8" />
<meta name="viewport" content="width=device-width,initial-scale=1" />
<title>{{.Title}}</title>
<link rel="stylesheet" href="/public/app.css" />
<style>
:root{
  --primary:{{.Primary}};
  --bg1:{{.Bg1}};
  --bg2:{{.Bg2}};
  --radius:{{.CardRadius}}px;
  --font:{{.Font}};
}
</style>
</head>
<body>
  <div id="app"></div>
  <script src="/public/app.js"></script>
</body>
</html>`

const lockedHTML = `<!doctype html>
<html lang="ko">
<head>
<meta charset="utf-8" />
<meta name="viewport" content="width=device-width,initial-scale=1" />
<title>잠금됨</title>
<style>
  body{margin:0;display:flex;align-items:center;justify-content:center;height:100vh;background:#0b0f19;color:#fff;font-family:system-ui, -apple-system, Segoe UI, Roboto, Arial;}
  .t{font-size:clamp(22px,4vw,40px);letter-spacing:.5px}
</style>
</head>
<body>
  <div class="t">{{.}}</div>
</body>
</html>`

const notFoundHTML = `<!doctype html>
<html lang="ko">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width,initial-scale=1" />
  <title>404</title>
  <style>
    body{margin:0;display:flex;align-items:center;justify-content:center;height:100vh;background:#0b0f19;color:#fff;font-family:system-ui, -apple-system, Segoe UI, Roboto, Arial;}
    .box{max-width:720px;padding:22px;border:1px solid rgba(255,255,255,.12);border-radius:16px;background:rgba(255,255,255,.06)}
    a{color:#fff}
  </style>
</head>
<body>
  <div class="box">
    <div style="font-size:18px;margin-bottom:10px;">{{.}}</div>
    <div style="opacity:.8">홈으로: <a href="/">/</a></div>
  </div>
</body>
</html>`

// 404 页面的提示文案。
const (
	msgBadLink      = "존재하지 않는 링크입니다."
	msgRoomNotFound = "방을 찾을 수 없습니다. (보스가 만든 링크인지 확인해 주세요)"
)

var (
	shellTmpl    = template.Must(template.New("shell").Parse(shellHTML))
	lockedTmpl   = template.Must(template.New("locked").Parse(lockedHTML))
	notFoundTmpl = template.Must(template.New("notfound").Parse(notFoundHTML))
)

// render 先渲染到缓冲区，模板出错时不会写出半个页面。
func render(c *gin.Context, status int, tmpl *template.Template, data any) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		log.Error().Err(err).Str("template", tmpl.Name()).Msg("render page")
		c.String(http.StatusInternalServerError, "internal error")
		return
	}
	c.Data(status, "text/html; charset=utf-8", buf.Bytes())
}

func renderShell(c *gin.Context, theme models.Theme) {
	render(c, http.StatusOK, shellTmpl, shellTheme(theme))
}

// shellTheme 为空字段补上默认值。
func shellTheme(t models.Theme) models.Theme {
	d := models.DefaultTheme
	if t.Title == "" {
		t.Title = d.Title
	}
	if t.Primary == "" {
		t.Primary = d.Primary
	}
	if t.Bg1 == "" {
		t.Bg1 = d.Bg1
	}
	if t.Bg2 == "" {
		t.Bg2 = d.Bg2
	}
	if t.CardRadius == 0 {
		t.CardRadius = d.CardRadius
	}
	if t.Font == "" {
		t.Font = d.Font
	}
	return t
}

func renderLocked(c *gin.Context, lockedAt time.Time, loc *time.Location) {
	render(c, http.StatusOK, lockedTmpl, FormatLockedAt(lockedAt, loc))
}

func renderNotFound(c *gin.Context, msg string) {
	render(c, http.StatusNotFound, notFoundTmpl, msg)
}

// FormatLockedAt 把锁定时间转换到展示时区，格式为 YYYY-MM-DD HH:MM。
func FormatLockedAt(t time.Time, loc *time.Location) string {
	if t.IsZero() {
		return ""
	}
	return t.In(loc).Format(lockedLayout)
}
