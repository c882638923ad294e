package site

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"

	"go.uber.org/zap"

	"github.com/nao1215/haven/internal/config"
	"github.com/nao1215/haven/internal/guard"
	"github.com/nao1215/haven/internal/locale"
	"github.com/nao1215/haven/pkg/middleware"
)

// NewProxy はルートガードを前段に置いたリバースプロキシを生成する。
// 判定が転送の場合、ユーザー情報ヘッダーを付けて upstream に渡す。
// クライアントが送ってきた同名のヘッダーはガードが取り除く。
func NewProxy(cfg *config.Config, logger *zap.Logger) (http.Handler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	target, err := url.Parse(cfg.Upstream)
	if err != nil || target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("HAVEN_UPSTREAM が不正です: %q", cfg.Upstream)
	}

	locales, err := locale.New(cfg.Locales, cfg.DefaultLocale)
	if err != nil {
		return nil, fmt.Errorf("ロケールの初期化に失敗: %w", err)
	}
	codec := middleware.NewTokenCodec(cfg.JWTSecret, middleware.WithTTL(cfg.TokenTTL))
	g := guard.New(guard.Config{
		Locales:         locales.Locales(),
		DefaultLocale:   locales.Fallback(),
		StrictBareAdmin: cfg.StrictBareAdmin,
	}, guard.CodecVerifier(codec), locales, logger.Named("guard"))

	proxy := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Error("上流サーバーへの転送に失敗",
				zap.String("path", r.URL.Path),
				zap.Error(err))
			w.WriteHeader(http.StatusBadGateway)
		},
	}
	return guard.Handler(g, proxy), nil
}
