package guard

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/haven/pkg/middleware"
)

// Middleware はガードをGinミドルウェアとして適用する。
// 転送時はリクエストヘッダーとGinコンテキストの両方にユーザー情報を設定するため、
// 後続のハンドラは middleware.GetUserID などで参照できる。
// 転送以外ではクライアントが送ってきたユーザー情報ヘッダーを取り除く。
func Middleware(g *Guard) gin.HandlerFunc {
	return func(c *gin.Context) {
		if Excluded(c.Request.URL.Path) {
			clearHeaders(c.Request.Header)
			c.Next()
			return
		}

		action := g.Evaluate(c.Request)
		switch action.Kind {
		case KindRedirect:
			if action.ClearToken {
				middleware.ClearTokenCookie(c.Writer)
			}
			c.Redirect(action.Status, action.Location)
			c.Abort()
		case KindForward:
			applyHeaders(c.Request.Header, action)
			c.Request = c.Request.WithContext(WithIdentity(c.Request.Context(), action.Identity))
			c.Set(middleware.ContextKeyUserID, action.Identity.UserID)
			c.Set(middleware.ContextKeyEmail, action.Identity.Email)
			c.Set(middleware.ContextKeyRole, action.Identity.Role)
			c.Next()
		default:
			clearHeaders(c.Request.Header)
			c.Next()
		}
	}
}

// Handler はガードをnet/httpハンドラとして適用する。
// リバースプロキシの前段など、Gin以外のハンドラを保護する場合に使用する。
func Handler(g *Guard, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if Excluded(r.URL.Path) {
			clearHeaders(r.Header)
			next.ServeHTTP(w, r)
			return
		}

		action := g.Evaluate(r)
		switch action.Kind {
		case KindRedirect:
			if action.ClearToken {
				middleware.ClearTokenCookie(w)
			}
			http.Redirect(w, r, action.Location, action.Status)
		case KindForward:
			forwarded := r.Clone(WithIdentity(r.Context(), action.Identity))
			applyHeaders(forwarded.Header, action)
			next.ServeHTTP(w, forwarded)
		default:
			clearHeaders(r.Header)
			next.ServeHTTP(w, r)
		}
	})
}

// clearHeaders はユーザー情報ヘッダーを削除する。
func clearHeaders(h http.Header) {
	h.Del(middleware.HeaderUserID)
	h.Del(middleware.HeaderUserEmail)
	h.Del(middleware.HeaderUserRole)
}

// applyHeaders は転送用のユーザー情報ヘッダーをリクエストヘッダーに上書きする。
func applyHeaders(dst http.Header, action Action) {
	for key, values := range action.Headers() {
		dst[key] = values
	}
}
