// Package site はサイト全体のHTTPサーバーを構築する。
// ルートガード、ロケールネゴシエーション、認証API、投稿API、ページ表示を
// 1つのGinエンジンにまとめる。
package site

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nao1215/haven/internal/account"
	"github.com/nao1215/haven/internal/config"
	"github.com/nao1215/haven/internal/guard"
	"github.com/nao1215/haven/internal/locale"
	"github.com/nao1215/haven/internal/store"
	"github.com/nao1215/haven/internal/submission"
	"github.com/nao1215/haven/pkg/middleware"
)

// readHeaderTimeout はリクエストヘッダー読み込みのタイムアウト。
const readHeaderTimeout = 10 * time.Second

// Server はサイトのHTTPサーバー。
type Server struct {
	// cfg はサイトの設定。
	cfg *config.Config
	// router はGinのHTTPルーター。
	router *gin.Engine
	// db はSQLiteデータベース接続。
	db *sql.DB
	// logger は構造化ロガー。
	logger *zap.Logger
	// codec はセッショントークンの発行・検証を行う。
	codec *middleware.TokenCodec
	// locales はロケールの解決を行う。
	locales *locale.Negotiator
	// guard はページリクエストのルートガード。
	guard *guard.Guard
	// submissions は投稿サービス。
	submissions *submission.Service
	// accounts は管理ユーザーサービス。
	accounts *account.Service
	// templates はテンプレートファイル名ごとの解析済みテンプレート。
	templates map[string]*template.Template
}

// NewServer は新しいサイトサーバーを生成する。
// データベースの初期化、初期管理者の登録、ルーティングの設定を行う。
func NewServer(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	sqlDB, err := openDB(ctx, cfg.DBPath, logger)
	if err != nil {
		return nil, err
	}

	s, err := newServer(ctx, cfg, sqlDB, logger)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return s, nil
}

func newServer(ctx context.Context, cfg *config.Config, sqlDB *sql.DB, logger *zap.Logger) (*Server, error) {
	locales, err := locale.New(cfg.Locales, cfg.DefaultLocale)
	if err != nil {
		return nil, fmt.Errorf("ロケールの初期化に失敗: %w", err)
	}

	codec := middleware.NewTokenCodec(cfg.JWTSecret, middleware.WithTTL(cfg.TokenTTL))

	accounts, err := account.NewService(sqlDB, codec, logger.Named("account"))
	if err != nil {
		return nil, err
	}
	if _, err := accounts.Seed(ctx, cfg.AdminEmail, cfg.AdminPassword); err != nil {
		return nil, fmt.Errorf("初期管理者の登録に失敗: %w", err)
	}

	tmpl, err := parseTemplates()
	if err != nil {
		return nil, err
	}

	g := guard.New(guard.Config{
		Locales:         locales.Locales(),
		DefaultLocale:   locales.Fallback(),
		StrictBareAdmin: cfg.StrictBareAdmin,
	}, guard.CodecVerifier(codec), locales, logger.Named("guard"))

	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	// /fr/admin/ をガードで判定するため、末尾スラッシュの自動リダイレクトは行わない。
	router.RedirectTrailingSlash = false
	// レート制限のキーになるため、信頼するプロキシ経由の場合だけ X-Forwarded-For を採用する。
	if err := router.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, fmt.Errorf("HAVEN_TRUSTED_PROXIES が不正です: %w", err)
	}
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.RequestLogger(logger.Named("http")))

	s := &Server{
		cfg:         cfg,
		router:      router,
		db:          sqlDB,
		logger:      logger,
		codec:       codec,
		locales:     locales,
		guard:       g,
		submissions: submission.NewService(sqlDB, locales, logger.Named("submission"), submission.WithSummaryTTL(cfg.SummaryTTL)),
		accounts:    accounts,
		templates:   tmpl,
	}
	s.setupRoutes()
	return s, nil
}

// openDB はDBPathに応じてSQLiteデータベースを開く。":memory:" はインメモリDBになる。
func openDB(ctx context.Context, path string, logger *zap.Logger) (*sql.DB, error) {
	dsn := store.MemoryDSN
	if path != store.MemoryDSN {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("データディレクトリの作成に失敗: %w", err)
			}
		}
		dsn = store.FileDSN(path)
	}
	return store.Open(ctx, dsn, logger.Named("store"))
}

// setupRoutes はルーティングを設定する。
func (s *Server) setupRoutes() {
	// ヘルスチェック
	s.router.GET("/health", s.handleHealth())

	api := s.router.Group("/api/v1")
	api.Use(middleware.CORS(s.cfg.AllowedOrigins))
	{
		// プリフライトはCORSミドルウェアが204で応答する。
		api.OPTIONS("/*path", func(c *gin.Context) { c.Status(http.StatusNoContent) })

		// 認証
		account.NewHandler(s.accounts, s.cfg.SecureCookie, s.logger.Named("account")).
			RegisterRoutes(api.Group("/auth"), middleware.JWTAuth(s.codec, s.logger))

		submissions := submission.NewHandler(s.submissions, s.logger.Named("submission"))
		limiter := middleware.NewRateLimiter(s.cfg.SubmitRPS, s.cfg.SubmitBurst)
		submissions.RegisterPublic(api, limiter.Middleware())

		admin := api.Group("/admin")
		admin.Use(middleware.JWTAuth(s.codec, s.logger), middleware.RequireRole(middleware.RoleAdmin))
		submissions.RegisterAdmin(admin)
	}

	// ページはロケール接頭辞の下にあり、ガードを通過したものだけを表示する。
	s.router.Use(guard.Middleware(s.guard))
	s.router.NoRoute(s.handlePage)
}

// handleHealth はヘルスチェックのハンドラを返す。
func (s *Server) handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.db.PingContext(c.Request.Context()); err != nil {
			s.logger.Error("ヘルスチェックに失敗", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "service": "haven"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "haven"})
	}
}

// Handler はサーバーのHTTPハンドラを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run はHTTPサーバーを起動し、ctxがキャンセルされるとグレースフルシャットダウンする。
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return Serve(ctx, srv, s.cfg.ShutdownTimeout, s.logger)
}

// Close はデータベース接続を閉じる。
func (s *Server) Close() error {
	return s.db.Close()
}

// Serve はsrvを起動し、ctxがキャンセルされるとtimeout以内にシャットダウンする。
func Serve(ctx context.Context, srv *http.Server, timeout time.Duration, logger *zap.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTPサーバーを起動します", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("HTTPサーバーの起動に失敗: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("シャットダウンしています")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("シャットダウンに失敗: %w", err)
	}
	logger.Info("シャットダウンしました")
	return nil
}
