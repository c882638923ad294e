package site

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nao1215/haven/internal/guard"
	"github.com/nao1215/haven/internal/locale"
	"github.com/nao1215/haven/internal/submission"
)

// localeCookieMaxAge は locale Cookie の有効期間（秒）。
const localeCookieMaxAge = 365 * 24 * 60 * 60

//go:embed templates/*.html
var templatesFS embed.FS

// page は /{locale}/ 以下の1ページ。
type page struct {
	// Template はcontentを定義するテンプレートファイル名。
	Template string
	// Title はページの見出し。
	Title string
	// FormKind が空でない場合、その種別の投稿フォームを表示する。
	FormKind submission.Kind
	// Status はレスポンスのステータスコード。0の場合は200。
	Status int
}

// pages はロケール接頭辞を除いたパスとページの対応。
var pages = map[string]page{
	"":                   {Template: "home.html", Title: "Welcome"},
	"about":              {Template: "about.html", Title: "About us"},
	"get-help":           {Template: "form.html", Title: "Get help", FormKind: submission.KindConnectRequest},
	"contact":            {Template: "form.html", Title: "Contact", FormKind: submission.KindContact},
	"volunteer":          {Template: "form.html", Title: "Volunteer", FormKind: submission.KindApplication},
	"share-your-story":   {Template: "form.html", Title: "Share your story", FormKind: submission.KindTestimonial},
	"testimonials":       {Template: "testimonials.html", Title: "Testimonials"},
	"admin/login":        {Template: "login.html", Title: "Sign in"},
	"admin/dashboard":    {Template: "dashboard.html", Title: "Dashboard"},
	"admin/unauthorized": {Template: "unauthorized.html", Title: "Access denied", Status: http.StatusForbidden},
}

// notFoundPage は未知のパスに対するページ。
var notFoundPage = page{Template: "notfound.html", Title: "Not found", Status: http.StatusNotFound}

// pageData はテンプレートに渡す値。
type pageData struct {
	Locale       string
	Locales      []string
	Title        string
	Rest         string
	FormKind     submission.Kind
	Identity     *guard.Identity
	Testimonials []submission.Submission
	Summary      *submission.Summary
}

// SwitchPath は同じページの別ロケール版のパスを返す。
func (d pageData) SwitchPath(code string) string {
	if d.Rest == "" {
		return "/" + code
	}
	return "/" + code + "/" + d.Rest
}

// parseTemplates はレイアウトと各ページのテンプレートを解析する。
func parseTemplates() (map[string]*template.Template, error) {
	layout, err := template.ParseFS(templatesFS, "templates/layout.html")
	if err != nil {
		return nil, fmt.Errorf("レイアウトの解析に失敗: %w", err)
	}

	names := map[string]struct{}{notFoundPage.Template: {}}
	for _, p := range pages {
		names[p.Template] = struct{}{}
	}

	out := make(map[string]*template.Template, len(names))
	for name := range names {
		t, err := layout.Clone()
		if err != nil {
			return nil, err
		}
		if _, err := t.ParseFS(templatesFS, "templates/"+name); err != nil {
			return nil, fmt.Errorf("%s の解析に失敗: %w", name, err)
		}
		out[name] = t
	}
	return out, nil
}

// handlePage はロケール付きのページを表示する。
// 個別のルートに一致しなかったリクエストはすべてここで処理する。
func (s *Server) handlePage(c *gin.Context) {
	if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
		c.JSON(http.StatusNotFound, gin.H{"error": "ページが見つかりません"})
		return
	}

	path := c.Request.URL.Path
	if strings.HasPrefix(path, "/api/") {
		c.JSON(http.StatusNotFound, gin.H{"error": "APIが見つかりません"})
		return
	}

	code, ok := s.locales.FromPath(path)
	if !ok {
		s.render(c, notFoundPage, pageData{Locale: s.locales.Fallback()})
		return
	}
	rest := strings.Trim(strings.TrimPrefix(path, "/"+code), "/")

	p, ok := pages[rest]
	if !ok {
		s.render(c, notFoundPage, pageData{Locale: code, Rest: rest})
		return
	}

	// 次回以降ロケール無しのパスでアクセスされたときに同じロケールへ誘導する。
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     locale.CookieName,
		Value:    code,
		Path:     "/",
		MaxAge:   localeCookieMaxAge,
		Secure:   s.cfg.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})

	data := pageData{Locale: code, Rest: rest, FormKind: p.FormKind}
	if id, ok := guard.IdentityFromContext(c.Request.Context()); ok {
		data.Identity = &id
	}

	switch p.Template {
	case "testimonials.html":
		items, err := s.submissions.ApprovedTestimonials(c.Request.Context(), 0)
		if err != nil {
			s.pageError(c, err)
			return
		}
		data.Testimonials = items
	case "dashboard.html":
		sum, err := s.submissions.Summary(c.Request.Context())
		if err != nil {
			s.pageError(c, err)
			return
		}
		data.Summary = &sum
	}
	s.render(c, p, data)
}

// render はページを描画する。
func (s *Server) render(c *gin.Context, p page, data pageData) {
	t, ok := s.templates[p.Template]
	if !ok {
		s.pageError(c, fmt.Errorf("テンプレート %s が見つかりません", p.Template))
		return
	}
	data.Title = p.Title
	data.Locales = s.locales.Locales()

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		s.pageError(c, err)
		return
	}
	status := p.Status
	if status == 0 {
		status = http.StatusOK
	}
	c.Data(status, "text/html; charset=utf-8", buf.Bytes())
}

func (s *Server) pageError(c *gin.Context, err error) {
	s.logger.Error("ページの表示に失敗", zap.String("path", c.Request.URL.Path), zap.Error(err))
	c.String(http.StatusInternalServerError, "Internal Server Error")
}
