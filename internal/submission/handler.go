package submission

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"go.uber.org/zap"

	"github.com/nao1215/haven/pkg/middleware"
)

// Handler は投稿APIのHTTPハンドラ。
type Handler struct {
	// svc は投稿サービス。
	svc *Service
	// logger は構造化ロガー。
	logger *zap.Logger
}

// NewHandler は新しいHandlerを生成する。
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

// RegisterPublic は認証不要のルートを登録する。
// limit は投稿受付に適用するミドルウェア（レート制限など）。
func (h *Handler) RegisterPublic(rg *gin.RouterGroup, limit ...gin.HandlerFunc) {
	// 投稿受付
	rg.POST("/submissions/:kind", append(limit, h.handleCreate())...)
	// 承認済み体験談一覧
	rg.GET("/testimonials", h.handleTestimonials())
}

// RegisterAdmin は管理者用のルートを登録する。
// rg には認証・認可ミドルウェアが適用済みである必要がある。
func (h *Handler) RegisterAdmin(rg *gin.RouterGroup) {
	submissions := rg.Group("/submissions")
	{
		// 投稿一覧取得
		submissions.GET("", h.handleList())
		// 投稿詳細取得
		submissions.GET("/:id", h.handleGetByID())
		// ステータス変更
		submissions.PUT("/:id/status", h.handleUpdateStatus())
		// 投稿削除
		submissions.DELETE("/:id", h.handleDelete())
		// 変更履歴取得
		submissions.GET("/:id/history", h.handleHistory())
	}
	// ダッシュボード集計
	rg.GET("/dashboard", h.handleDashboard())
}

// updateStatusRequest はステータス変更リクエストのJSON構造。
type updateStatusRequest struct {
	// Status は変更後のステータス。
	Status string `json:"status" form:"status" binding:"required"`
}

// handleCreate は公開フォームからの投稿を受け付けるハンドラを返す。
func (h *Handler) handleCreate() gin.HandlerFunc {
	return func(c *gin.Context) {
		kind, err := ParseKind(c.Param("kind"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}

		var in CreateInput
		if err := c.ShouldBind(&in); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "リクエストが不正です: " + err.Error()})
			return
		}
		if c.ContentType() != binding.MIMEJSON {
			in.Details = c.PostFormMap("details")
		}

		sub, err := h.svc.Create(c.Request.Context(), kind, in)
		if err != nil {
			h.writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, sub)
	}
}

// handleTestimonials は承認済みの体験談一覧を返すハンドラを返す。
func (h *Handler) handleTestimonials() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.Query("limit"))
		subs, err := h.svc.ApprovedTestimonials(c.Request.Context(), limit)
		if err != nil {
			h.writeError(c, err)
			return
		}
		// 公開APIでは連絡先を返さない。
		out := make([]gin.H, 0, len(subs))
		for _, s := range subs {
			out = append(out, gin.H{
				"id":         s.ID,
				"name":       s.Name,
				"message":    s.Message,
				"locale":     s.Locale,
				"created_at": s.CreatedAt,
			})
		}
		c.JSON(http.StatusOK, gin.H{"testimonials": out})
	}
}

// handleList は投稿一覧を返すハンドラを返す。
func (h *Handler) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		var f ListFilter
		if raw := c.Query("kind"); raw != "" {
			kind, err := ParseKind(raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			f.Kind = kind
		}
		f.Status = Status(c.Query("status"))
		f.Limit, _ = strconv.Atoi(c.Query("limit"))
		f.Offset, _ = strconv.Atoi(c.Query("offset"))

		subs, err := h.svc.List(c.Request.Context(), f)
		if err != nil {
			h.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"submissions": subs})
	}
}

// handleGetByID は投稿詳細を返すハンドラを返す。
func (h *Handler) handleGetByID() gin.HandlerFunc {
	return func(c *gin.Context) {
		sub, err := h.svc.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			h.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, sub)
	}
}

// handleUpdateStatus は投稿のステータスを変更するハンドラを返す。
func (h *Handler) handleUpdateStatus() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req updateStatusRequest
		if err := c.ShouldBind(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "リクエストが不正です: " + err.Error()})
			return
		}

		sub, err := h.svc.UpdateStatus(c.Request.Context(), c.Param("id"), Status(req.Status), middleware.GetUserID(c))
		if err != nil {
			h.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, sub)
	}
}

// handleDelete は投稿を削除するハンドラを返す。
func (h *Handler) handleDelete() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := h.svc.Delete(c.Request.Context(), c.Param("id"), middleware.GetUserID(c)); err != nil {
			h.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "投稿を削除しました"})
	}
}

// handleHistory は投稿の変更履歴を返すハンドラを返す。
func (h *Handler) handleHistory() gin.HandlerFunc {
	return func(c *gin.Context) {
		events, err := h.svc.History(c.Request.Context(), c.Param("id"))
		if err != nil {
			h.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"events": events})
	}
}

// handleDashboard はダッシュボードの集計結果を返すハンドラを返す。
func (h *Handler) handleDashboard() gin.HandlerFunc {
	return func(c *gin.Context) {
		sum, err := h.svc.Summary(c.Request.Context())
		if err != nil {
			h.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, sum)
	}
}

// writeError はエラーの種類に応じたステータスコードでレスポンスを返す。
func (h *Handler) writeError(c *gin.Context, err error) {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Message, "field": verr.Field})
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": ErrNotFound.Error()})
	case errors.Is(err, ErrInvalidStatus), errors.Is(err, ErrUnknownKind):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		h.logger.Error("投稿APIでエラーが発生しました",
			zap.String("path", c.Request.URL.Path),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "サーバー内部エラーが発生しました"})
	}
}
