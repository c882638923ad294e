package site

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nao1215/haven/internal/config"
	"github.com/nao1215/haven/internal/store"
	"github.com/nao1215/haven/pkg/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const (
	testSecret   = "site-test-secret-0123456789abcdef"
	testAdmin    = "admin@haven.example"
	testPassword = "admin-password"
)

// testConfig はインメモリDBを使用するテスト用の設定を返す。
func testConfig() *config.Config {
	return &config.Config{
		Env:             "development",
		LogLevel:        "info",
		DBPath:          store.MemoryDSN,
		JWTSecret:       testSecret,
		TokenTTL:        time.Hour,
		SecureCookie:    false,
		Locales:         []string{"en", "fr", "es"},
		DefaultLocale:   "en",
		AdminEmail:      testAdmin,
		AdminPassword:   testPassword,
		SubmitRPS:       100,
		SubmitBurst:     100,
		SummaryTTL:      time.Minute,
		ShutdownTimeout: time.Second,
	}
}

// newTestServer はテスト用のサーバーを生成する。
func newTestServer(t *testing.T, mutate ...func(*config.Config)) *Server {
	t.Helper()
	cfg := testConfig()
	for _, m := range mutate {
		m(cfg)
	}
	s, err := NewServer(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// get はGETリクエストを送信する。tokenが空でなければCookieに設定する。
func get(s *Server, path, token string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.AddCookie(&http.Cookie{Name: middleware.TokenCookieName, Value: token})
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

// login は初期管理者でログインし、トークンを返す。
func login(t *testing.T, s *Server) string {
	t.Helper()
	body := `{"email":"` + testAdmin + `","password":"` + testPassword + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	for _, c := range w.Result().Cookies() {
		if c.Name == middleware.TokenCookieName {
			return c.Value
		}
	}
	t.Fatal("トークンCookieが設定されていません")
	return ""
}

// issue は任意のロールのトークンを発行する。
func issue(t *testing.T, role middleware.Role) string {
	t.Helper()
	token, err := middleware.NewTokenCodec(testSecret).Issue("user-2", "editor@haven.example", role)
	require.NoError(t, err)
	return token
}

func TestHealth(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	w := get(s, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","service":"haven"}`, w.Body.String())
}

func TestLocaleRouting(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	t.Run("ロケールの無いパスは優先ロケールへリダイレクトされること", func(t *testing.T) {
		w := get(s, "/about", "", "Accept-Language", "fr-CA,fr;q=0.9")
		assert.Equal(t, http.StatusTemporaryRedirect, w.Code)
		assert.Equal(t, "/fr/about", w.Header().Get("Location"))
	})

	t.Run("ルートは既定のロケールへリダイレクトされること", func(t *testing.T) {
		w := get(s, "/", "")
		assert.Equal(t, http.StatusTemporaryRedirect, w.Code)
		assert.Equal(t, "/en", w.Header().Get("Location"))
	})

	t.Run("ロケール付きのページが表示されること", func(t *testing.T) {
		w := get(s, "/es/about", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `<html lang="es">`)
		assert.Contains(t, w.Body.String(), `href="/fr/about"`)
	})

	t.Run("表示したロケールがCookieに保存され次回の誘導に使われること", func(t *testing.T) {
		w := get(s, "/fr/about", "")
		require.Equal(t, http.StatusOK, w.Code)
		var saved *http.Cookie
		for _, c := range w.Result().Cookies() {
			if c.Name == "locale" {
				saved = c
			}
		}
		require.NotNil(t, saved)
		assert.Equal(t, "fr", saved.Value)

		req := httptest.NewRequest(http.MethodGet, "/contact?ref=nav", nil)
		req.Header.Set("Accept-Language", "es")
		req.AddCookie(saved)
		next := httptest.NewRecorder()
		s.Handler().ServeHTTP(next, req)
		assert.Equal(t, http.StatusTemporaryRedirect, next.Code)
		assert.Equal(t, "/fr/contact?ref=nav", next.Header().Get("Location"))
	})

	t.Run("末尾スラッシュ付きでも表示されること", func(t *testing.T) {
		w := get(s, "/en/contact/", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `action="/api/v1/submissions/contact"`)
	})

	t.Run("拡張子付きのパスはガードの対象外であること", func(t *testing.T) {
		w := get(s, "/favicon.ico", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Empty(t, w.Header().Get("Location"))
	})

	t.Run("未知のページは404になること", func(t *testing.T) {
		w := get(s, "/en/nope", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Contains(t, w.Body.String(), "Not found")
	})

	t.Run("未知のAPIはJSONの404になること", func(t *testing.T) {
		w := get(s, "/api/v1/nope", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Contains(t, w.Header().Get("Content-Type"), "application/json")
	})
}

func TestAdminPages(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	token := login(t, s)

	t.Run("未ログインのダッシュボードはログインへリダイレクトされること", func(t *testing.T) {
		w := get(s, "/fr/admin/dashboard", "")
		assert.Equal(t, http.StatusFound, w.Code)
		assert.Equal(t, "/fr/admin/login", w.Header().Get("Location"))
	})

	t.Run("ログインページは未ログインでも表示されること", func(t *testing.T) {
		w := get(s, "/fr/admin/login", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `value="/fr/admin/dashboard"`)
	})

	t.Run("トークン付きの/adminはダッシュボードへリダイレクトされること", func(t *testing.T) {
		w := get(s, "/fr/admin/", token)
		assert.Equal(t, http.StatusFound, w.Code)
		assert.Equal(t, "/fr/admin/dashboard", w.Header().Get("Location"))
	})

	t.Run("トークン無しの/adminはログインへリダイレクトされること", func(t *testing.T) {
		w := get(s, "/admin", "")
		assert.Equal(t, http.StatusFound, w.Code)
		assert.Equal(t, "/en/admin/login", w.Header().Get("Location"))
	})

	t.Run("管理者はダッシュボードを表示できること", func(t *testing.T) {
		w := get(s, "/fr/admin/dashboard", token)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), testAdmin)
		assert.Contains(t, w.Body.String(), `class="total">0<`)
	})

	t.Run("不正なトークンはCookieを削除してログインへリダイレクトされること", func(t *testing.T) {
		w := get(s, "/es/admin/dashboard", "garbage")
		assert.Equal(t, http.StatusFound, w.Code)
		assert.Equal(t, "/es/admin/login", w.Header().Get("Location"))
		assert.Contains(t, w.Header().Get("Set-Cookie"), "Max-Age=0")
	})

	t.Run("管理者以外は権限なしページへリダイレクトされること", func(t *testing.T) {
		w := get(s, "/en/admin/dashboard", issue(t, middleware.Role("editor")))
		assert.Equal(t, http.StatusFound, w.Code)
		assert.Equal(t, "/en/admin/unauthorized", w.Header().Get("Location"))
	})

	t.Run("権限なしページは403で表示されること", func(t *testing.T) {
		w := get(s, "/en/admin/unauthorized", issue(t, middleware.Role("editor")))
		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}

func TestAdminAPI(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	token := login(t, s)

	t.Run("トークン無しは401になること", func(t *testing.T) {
		w := get(s, "/api/v1/admin/dashboard", "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("管理者以外は403になること", func(t *testing.T) {
		w := get(s, "/api/v1/admin/dashboard", issue(t, middleware.Role("editor")))
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("Bearerトークンでもアクセスできること", func(t *testing.T) {
		w := get(s, "/api/v1/admin/submissions", "", "Authorization", "Bearer "+token)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("自分の情報を取得できること", func(t *testing.T) {
		w := get(s, "/api/v1/auth/me", token)
		require.Equal(t, http.StatusOK, w.Code)
		var resp map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, testAdmin, resp["email"])
	})
}

func TestSubmissionFlow(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	token := login(t, s)

	body := `{"name":"Sam","message":"They listened.","locale":"fr","details":{"consent":"true"}}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/submissions/testimonial", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	page := get(s, "/fr/testimonials", "")
	require.Equal(t, http.StatusOK, page.Code)
	assert.NotContains(t, page.Body.String(), "They listened.")

	req = httptest.NewRequest(http.MethodPut, "/api/v1/admin/submissions/"+created.ID+"/status", strings.NewReader(`{"status":"approved"}`))
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(&http.Cookie{Name: middleware.TokenCookieName, Value: token})
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	page = get(s, "/fr/testimonials", "")
	require.Equal(t, http.StatusOK, page.Code)
	assert.Contains(t, page.Body.String(), "They listened.")

	dash := get(s, "/en/admin/dashboard", token)
	require.Equal(t, http.StatusOK, dash.Code)
	assert.Contains(t, dash.Body.String(), `class="total">1<`)
}

func TestSubmissionRateLimit(t *testing.T) {
	t.Parallel()

	send := func(s *Server, remoteAddr, forwardedFor string) int {
		body := `{"name":"Kim","email":"kim@example.org","message":"hi"}`
		req := httptest.NewRequest(http.MethodPost, "/api/v1/submissions/contact", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = remoteAddr
		if forwardedFor != "" {
			req.Header.Set("X-Forwarded-For", forwardedFor)
		}
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, req)
		return w.Code
	}

	t.Run("同じ接続元からの連続送信は制限されること", func(t *testing.T) {
		t.Parallel()
		s := newTestServer(t, func(c *config.Config) {
			c.SubmitRPS = 0.001
			c.SubmitBurst = 1
		})
		assert.Equal(t, http.StatusCreated, send(s, "203.0.113.7:40000", ""))
		assert.Equal(t, http.StatusTooManyRequests, send(s, "203.0.113.7:40001", ""))
	})

	t.Run("信頼していない接続元のX-Forwarded-Forでは制限を回避できないこと", func(t *testing.T) {
		t.Parallel()
		s := newTestServer(t, func(c *config.Config) {
			c.SubmitRPS = 0.001
			c.SubmitBurst = 1
		})
		codes := make([]int, 0, 5)
		for i := range 5 {
			codes = append(codes, send(s, "203.0.113.7:40000", fmt.Sprintf("10.0.0.%d", i)))
		}
		assert.Equal(t, []int{
			http.StatusCreated,
			http.StatusTooManyRequests,
			http.StatusTooManyRequests,
			http.StatusTooManyRequests,
			http.StatusTooManyRequests,
		}, codes)
	})

	t.Run("信頼するプロキシ経由ではX-Forwarded-Forのクライアントごとに制限されること", func(t *testing.T) {
		t.Parallel()
		s := newTestServer(t, func(c *config.Config) {
			c.SubmitRPS = 0.001
			c.SubmitBurst = 1
			c.TrustedProxies = []string{"192.0.2.10"}
		})
		assert.Equal(t, http.StatusCreated, send(s, "192.0.2.10:5000", "198.51.100.1"))
		assert.Equal(t, http.StatusCreated, send(s, "192.0.2.10:5000", "198.51.100.2"))
		assert.Equal(t, http.StatusTooManyRequests, send(s, "192.0.2.10:5000", "198.51.100.1"))
	})
}

func TestAPIPreflight(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, func(c *config.Config) {
		c.AllowedOrigins = []string{"https://admin.haven.example"}
	})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/admin/submissions", nil)
	req.Header.Set("Origin", "https://admin.haven.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://admin.haven.example", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
}

func TestNewServerRejectsInvalidTrustedProxy(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.TrustedProxies = []string{"not-an-ip"}

	_, err := NewServer(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HAVEN_TRUSTED_PROXIES")
}

func TestStrictBareAdmin(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, func(c *config.Config) { c.StrictBareAdmin = true })

	w := get(s, "/fr/admin", "garbage")
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/fr/admin/login", w.Header().Get("Location"))
	assert.Contains(t, w.Header().Get("Set-Cookie"), "Max-Age=0")
}

func TestRunShutdown(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, func(c *config.Config) {
		c.Host = "127.0.0.1"
		c.Port = 0
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("シャットダウンが完了しませんでした")
	}
}
