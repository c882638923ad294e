package guard

import (
	"context"
	"net/http"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/nao1215/haven/pkg/middleware"
)

// Kind はガードの判定結果の種類。
type Kind int

const (
	// KindPass はリクエストを変更せずに通過させる。
	KindPass Kind = iota
	// KindForward は認証済みユーザーのヘッダーを付与して通過させる。
	KindForward
	// KindRedirect はリダイレクトを返して処理を終える。
	KindRedirect
)

// String は判定結果の種類の文字列表現を返す。
func (k Kind) String() string {
	switch k {
	case KindPass:
		return "pass"
	case KindForward:
		return "forward"
	case KindRedirect:
		return "redirect"
	default:
		return "unknown"
	}
}

// Reason は判定に至った理由。
type Reason string

const (
	// ReasonNone は特別な理由がないことを表す。
	ReasonNone Reason = ""
	// ReasonBareAdmin はロケール付き・無しの /admin ルートへのアクセス。
	ReasonBareAdmin Reason = "bare_admin"
	// ReasonLocale はロケールネゴシエーションによるリダイレクト。
	ReasonLocale Reason = "locale"
	// ReasonMissingToken は管理画面に token Cookie 無しでアクセスした。
	ReasonMissingToken Reason = "missing_token"
	// ReasonInvalidToken はトークンの署名不正・形式不正・期限切れ。
	ReasonInvalidToken Reason = "invalid_token"
	// ReasonInsufficientRole はダッシュボードに管理者以外がアクセスした。
	ReasonInsufficientRole Reason = "insufficient_role"
	// ReasonAuthenticated はトークンの検証に成功した。
	ReasonAuthenticated Reason = "authenticated"
)

// Identity は検証済みトークンから得たユーザー情報。
type Identity struct {
	UserID string
	Email  string
	Role   middleware.Role
}

// Action はガードの判定結果。
type Action struct {
	// Kind は判定結果の種類。
	Kind Kind
	// Status はリダイレクト時のHTTPステータスコード。
	Status int
	// Location はリダイレクト先。
	Location string
	// ClearToken が true の場合、レスポンスで token Cookie を削除する。
	ClearToken bool
	// Identity は KindForward のときに転送するユーザー情報。
	Identity Identity
	// Reason は判定理由。
	Reason Reason
	// Err はトークン検証の失敗理由。ReasonInvalidToken のときのみ設定される。
	Err error
}

// Headers は KindForward のときに下流へ転送するヘッダーを返す。
func (a Action) Headers() http.Header {
	h := make(http.Header, 3)
	if a.Kind != KindForward {
		return h
	}
	h.Set(middleware.HeaderUserID, a.Identity.UserID)
	h.Set(middleware.HeaderUserEmail, a.Identity.Email)
	h.Set(middleware.HeaderUserRole, a.Identity.Role.String())
	return h
}

// Request はガードの判定に必要なリクエスト情報。
type Request struct {
	// Path はリクエストのURLパス。
	Path string
	// Token は token Cookie の値。
	Token string
	// HasToken は token Cookie が空でない値で存在するかどうか。
	HasToken bool
}

// Verifier はトークン文字列を検証してユーザー情報を返す。
type Verifier interface {
	Verify(token string) (Identity, error)
}

// VerifierFunc は関数をVerifierとして扱うための型。
type VerifierFunc func(token string) (Identity, error)

// Verify はfを呼び出す。
func (f VerifierFunc) Verify(token string) (Identity, error) {
	return f(token)
}

// CodecVerifier はTokenCodecをVerifierとして使用する。
func CodecVerifier(codec *middleware.TokenCodec) Verifier {
	return VerifierFunc(func(token string) (Identity, error) {
		claims, err := codec.Verify(token)
		if err != nil {
			return Identity{}, err
		}
		return Identity{UserID: claims.UserID, Email: claims.Email, Role: claims.Role}, nil
	})
}

// LocaleNegotiator はロケール接頭辞の正規化が必要なときにリダイレクト先を返す。
type LocaleNegotiator interface {
	Negotiate(r *http.Request) (location string, redirect bool)
}

// Config はガードの静的な設定。
type Config struct {
	// Locales はURLの最初のセグメントとして認識するロケール。
	Locales []string
	// DefaultLocale はロケールが解決できない場合のロケール。
	DefaultLocale string
	// StrictBareAdmin が true の場合、/admin ルートでもトークンを検証してから
	// ダッシュボードへ転送する。false の場合は Cookie の有無だけで判断する。
	StrictBareAdmin bool
}

// defaultLocale はConfigにロケールが指定されていない場合の既定値。
const defaultLocale = "en"

// localeOf はパスの最初のセグメントが既知のロケールならそれを、そうでなければ既定のロケールを返す。
func (cfg Config) localeOf(path string) string {
	trimmed := strings.TrimPrefix(path, "/")
	first, _, _ := strings.Cut(trimmed, "/")
	if first != "" && slices.Contains(cfg.Locales, first) {
		return first
	}
	if cfg.DefaultLocale != "" {
		return cfg.DefaultLocale
	}
	return defaultLocale
}

// 管理画面のパス。
const (
	adminSegment      = "admin"
	adminLoginPath    = "/admin/login"
	adminDashboard    = "/admin/dashboard"
	adminUnauthorized = "/admin/unauthorized"
)

// Decide はリクエストに対するガードの判定を行う。
// 判定は以下の順序で評価し、最初に一致した条件で確定する。
//
//  1. ロケール付きの /{locale}/admin（末尾スラッシュ可）
//  2. ロケール無しの /admin（末尾スラッシュ可）
//  3. ロケールネゴシエーション
//  4. 管理画面の保護（/admin/login を除く）
//  5. それ以外は通過
//
// negotiate が nil の場合、ロケールネゴシエーションは行わない。
func Decide(cfg Config, req Request, verifier Verifier, negotiate func() (string, bool)) Action {
	locale := cfg.localeOf(req.Path)

	if isBareAdmin(req.Path, "/"+locale) {
		return decideBareAdmin(cfg, req, verifier, locale)
	}
	if isBareAdmin(req.Path, "") {
		return decideBareAdmin(cfg, req, verifier, cfg.localeOf(""))
	}

	if negotiate != nil {
		if location, redirect := negotiate(); redirect {
			return Action{
				Kind:     KindRedirect,
				Status:   http.StatusTemporaryRedirect,
				Location: location,
				Reason:   ReasonLocale,
			}
		}
	}

	if !hasSegment(req.Path, adminSegment) || containsSegments(req.Path, adminLoginPath) {
		return Action{Kind: KindPass}
	}

	if !req.HasToken {
		return redirect(locale, adminLoginPath, ReasonMissingToken)
	}

	identity, err := verifier.Verify(req.Token)
	if err != nil {
		action := redirect(locale, adminLoginPath, ReasonInvalidToken)
		action.ClearToken = true
		action.Err = err
		return action
	}

	if containsSegments(req.Path, adminDashboard) && !identity.Role.IsAdmin() {
		action := redirect(locale, adminUnauthorized, ReasonInsufficientRole)
		action.Identity = identity
		return action
	}

	return Action{Kind: KindForward, Identity: identity, Reason: ReasonAuthenticated}
}

// decideBareAdmin は /admin ルートへのアクセスをログイン画面かダッシュボードへ振り分ける。
func decideBareAdmin(cfg Config, req Request, verifier Verifier, locale string) Action {
	if !req.HasToken {
		return redirect(locale, adminLoginPath, ReasonBareAdmin)
	}
	if cfg.StrictBareAdmin {
		if _, err := verifier.Verify(req.Token); err != nil {
			action := redirect(locale, adminLoginPath, ReasonInvalidToken)
			action.ClearToken = true
			action.Err = err
			return action
		}
	}
	return redirect(locale, adminDashboard, ReasonBareAdmin)
}

// redirect はロケール付きのパスへの302リダイレクトを生成する。
func redirect(locale, path string, reason Reason) Action {
	return Action{
		Kind:     KindRedirect,
		Status:   http.StatusFound,
		Location: "/" + locale + path,
		Reason:   reason,
	}
}

// isBareAdmin はパスが prefix + "/admin" または prefix + "/admin/" と一致するかを返す。
func isBareAdmin(path, prefix string) bool {
	return path == prefix+"/admin" || path == prefix+"/admin/"
}

// hasSegment はパスが name と一致するセグメントを含むかを返す。
func hasSegment(path, name string) bool {
	return slices.Contains(strings.Split(path, "/"), name)
}

// containsSegments はパスが sub をセグメント境界で含むかを返す。
// 例えば "/en/admin/login" と "/en/admin/login/reset" は "/admin/login" を含むが、
// "/en/admin/loginx" は含まない。
func containsSegments(path, sub string) bool {
	for i := 0; ; {
		j := strings.Index(path[i:], sub)
		if j < 0 {
			return false
		}
		end := i + j + len(sub)
		if end == len(path) || path[end] == '/' {
			return true
		}
		i += j + 1
	}
}

// Guard はルートガードの設定と依存を保持する。
type Guard struct {
	cfg        Config
	verifier   Verifier
	negotiator LocaleNegotiator
	logger     *zap.Logger
}

// New は新しいGuardを生成する。negotiatorはnilでもよい。
func New(cfg Config, verifier Verifier, negotiator LocaleNegotiator, logger *zap.Logger) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{
		cfg:        cfg,
		verifier:   verifier,
		negotiator: negotiator,
		logger:     logger,
	}
}

// Evaluate はHTTPリクエストからガードの判定を行い、必要に応じてログを出力する。
func (g *Guard) Evaluate(r *http.Request) Action {
	req := Request{Path: r.URL.Path}
	if cookie, err := r.Cookie(middleware.TokenCookieName); err == nil && cookie.Value != "" {
		req.Token = cookie.Value
		req.HasToken = true
	}

	var negotiate func() (string, bool)
	if g.negotiator != nil {
		negotiate = func() (string, bool) { return g.negotiator.Negotiate(r) }
	}

	action := Decide(g.cfg, req, g.verifier, negotiate)

	switch action.Reason {
	case ReasonInvalidToken:
		g.logger.Warn("無効なトークンでのアクセス",
			zap.String("path", req.Path),
			zap.String("redirect", action.Location),
			zap.Error(action.Err))
	case ReasonInsufficientRole:
		g.logger.Info("権限不足のアクセス",
			zap.String("path", req.Path),
			zap.String("user_id", action.Identity.UserID),
			zap.String("role", action.Identity.Role.String()))
	case ReasonMissingToken:
		g.logger.Debug("未ログインでの管理画面アクセス", zap.String("path", req.Path))
	}
	return action
}

// contextKey はコンテキストキーの型。
type contextKey struct{}

// WithIdentity はコンテキストに検証済みユーザー情報を設定する。
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// IdentityFromContext はコンテキストから検証済みユーザー情報を取得する。
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok
}
