package account

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nao1215/haven/pkg/middleware"
)

// Handler は認証APIのHTTPハンドラ。
type Handler struct {
	// svc は管理ユーザーサービス。
	svc *Service
	// secureCookie はトークンCookieにSecure属性を付けるかどうか。
	secureCookie bool
	// logger は構造化ロガー。
	logger *zap.Logger
}

// NewHandler は新しいHandlerを生成する。
func NewHandler(svc *Service, secureCookie bool, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, secureCookie: secureCookie, logger: logger}
}

// RegisterRoutes は認証ルートを登録する。
// auth は /me に適用するトークン検証ミドルウェア。
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, auth gin.HandlerFunc) {
	// ログイン
	rg.POST("/login", h.handleLogin())
	// ログアウト
	rg.POST("/logout", h.handleLogout())
	// 認証済みユーザー情報取得
	rg.GET("/me", auth, h.handleMe())
}

// loginRequest はログインリクエストの構造。JSONとフォームの両方を受け付ける。
type loginRequest struct {
	// Email はメールアドレス。
	Email string `json:"email" form:"email" binding:"required"`
	// Password はパスワード。
	Password string `json:"password" form:"password" binding:"required"`
	// Next はフォームログイン後の遷移先。サイト内のパスのみ有効。
	Next string `json:"-" form:"next"`
}

// handleLogin はログインを処理するハンドラを返す。
// フォームで遷移先が指定されていればリダイレクトし、それ以外はユーザー情報をJSONで返す。
func (h *Handler) handleLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBind(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "メールアドレスとパスワードを入力してください"})
			return
		}

		admin, token, err := h.svc.Login(c.Request.Context(), req.Email, req.Password)
		if err != nil {
			if errors.Is(err, ErrInvalidCredentials) {
				c.JSON(http.StatusUnauthorized, gin.H{"error": ErrInvalidCredentials.Error()})
				return
			}
			h.logger.Error("ログイン処理でエラーが発生しました", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ログインに失敗しました"})
			return
		}

		middleware.SetTokenCookie(c.Writer, token, h.svc.TokenTTL(), h.secureCookie)
		if next, ok := safeNext(req.Next); ok {
			c.Redirect(http.StatusSeeOther, next)
			return
		}
		c.JSON(http.StatusOK, admin)
	}
}

// handleLogout はトークンCookieを削除するハンドラを返す。
// フォームで遷移先が指定されていればリダイレクトする。
func (h *Handler) handleLogout() gin.HandlerFunc {
	return func(c *gin.Context) {
		middleware.ClearTokenCookie(c.Writer)
		if next, ok := safeNext(c.PostForm("next")); ok {
			c.Redirect(http.StatusSeeOther, next)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "ログアウトしました"})
	}
}

// handleMe は認証済みユーザーの情報を返すハンドラを返す。
func (h *Handler) handleMe() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"user_id": userID,
			"email":   middleware.GetEmail(c),
			"role":    middleware.GetRole(c),
		})
	}
}

// safeNext は遷移先がサイト内の絶対パスであれば返す。
func safeNext(next string) (string, bool) {
	if !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.Contains(next, `\`) {
		return "", false
	}
	return next, true
}
