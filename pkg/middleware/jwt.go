package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// TokenCookieName はセッショントークンを保持するCookie名。
const TokenCookieName = "token"

// 認証済みユーザー情報を下流ハンドラへ伝播するためのHTTPヘッダーキー。
const (
	HeaderUserID    = "X-User-Id"
	HeaderUserEmail = "X-User-Email"
	HeaderUserRole  = "X-User-Role"
)

// Ginコンテキストに認証情報を格納するキー。
const (
	ContextKeyUserID = "user_id"
	ContextKeyEmail  = "email"
	ContextKeyRole   = "role"
)

var (
	// ErrTokenInvalid は署名不正・形式不正などでトークンを検証できなかったことを表す。
	ErrTokenInvalid = errors.New("トークンが無効です")
	// ErrTokenExpired はトークンの有効期限切れを表す。
	ErrTokenExpired = errors.New("トークンの有効期限が切れています")
)

// Role はトークンに埋め込まれるユーザーのロール。
// RoleAdmin 以外の値はすべて一般ロールとして扱う。
type Role string

// RoleAdmin は管理画面ダッシュボードへのアクセスを許可されたロール。
const RoleAdmin Role = "admin"

// IsAdmin はロールが管理者かどうかを返す。
func (r Role) IsAdmin() bool {
	return r == RoleAdmin
}

// String はロールの文字列表現を返す。
func (r Role) String() string {
	return string(r)
}

// Claims はセッショントークンのクレーム（ペイロード）を表す。
type Claims struct {
	jwt.RegisteredClaims
	// UserID は認証済みユーザーの一意識別子。
	UserID string `json:"userId"`
	// Email はユーザーのメールアドレス。形式の検証は行わない。
	Email string `json:"email"`
	// Role はユーザーのロール。
	Role Role `json:"role"`
}

// defaultTokenTTL はトークンの既定の有効期間。
const defaultTokenTTL = 24 * time.Hour

// defaultIssuer はトークンの既定の発行者。
const defaultIssuer = "haven-site"

// TokenCodec はHS256で署名されたセッショントークンの発行と検証を行う。
// 秘密鍵は生成時に注入され、呼び出し時に環境変数を参照することはない。
type TokenCodec struct {
	// secret はHMAC署名用の秘密鍵。
	secret []byte
	// issuer はトークンの発行者。
	issuer string
	// ttl はトークンの有効期間。
	ttl time.Duration
	// now は現在時刻を返す関数。テストで差し替える。
	now func() time.Time
}

// CodecOption はTokenCodecの設定を変更する関数。
type CodecOption func(*TokenCodec)

// WithTTL はトークンの有効期間を設定する。
func WithTTL(ttl time.Duration) CodecOption {
	return func(tc *TokenCodec) {
		if ttl > 0 {
			tc.ttl = ttl
		}
	}
}

// WithIssuer はトークンの発行者を設定する。
func WithIssuer(issuer string) CodecOption {
	return func(tc *TokenCodec) {
		if issuer != "" {
			tc.issuer = issuer
		}
	}
}

// WithClock は検証と発行に使用する時刻関数を設定する。
func WithClock(now func() time.Time) CodecOption {
	return func(tc *TokenCodec) {
		if now != nil {
			tc.now = now
		}
	}
}

// NewTokenCodec は新しいTokenCodecを生成する。
func NewTokenCodec(secret string, opts ...CodecOption) *TokenCodec {
	tc := &TokenCodec{
		secret: []byte(secret),
		issuer: defaultIssuer,
		ttl:    defaultTokenTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(tc)
	}
	return tc
}

// TTL はトークンの有効期間を返す。Cookieの Max-Age に使用する。
func (tc *TokenCodec) TTL() time.Duration {
	return tc.ttl
}

// Issue はユーザー情報から署名済みトークンを生成する。
// ログイン成功時に呼び出す。
func (tc *TokenCodec) Issue(userID, email string, role Role) (string, error) {
	now := tc.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(tc.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    tc.issuer,
			Subject:   userID,
		},
		UserID: userID,
		Email:  email,
		Role:   role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(tc.secret)
	if err != nil {
		return "", fmt.Errorf("トークンの署名に失敗: %w", err)
	}
	return signed, nil
}

// Verify はトークンの署名・形式・有効期限を検証し、クレームを返す。
// 期限切れの場合は ErrTokenExpired、それ以外の失敗は ErrTokenInvalid をラップして返す。
func (tc *TokenCodec) Verify(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("%w: 空のトークン", ErrTokenInvalid)
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
		return tc.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tc.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(tc.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !token.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("%w: userIdが含まれていません", ErrTokenInvalid)
	}
	return claims, nil
}

// JWTAuth はAPIリクエストのトークンを検証するGinミドルウェアを返す。
// Authorizationヘッダー（Bearer）を優先し、無ければ token Cookie を参照する。
// 検証に成功した場合、コンテキストに "user_id"、"email"、"role" を設定する。
func JWTAuth(codec *TokenCodec, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := extractToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "認証トークンが必要です",
			})
			return
		}

		claims, err := codec.Verify(tokenString)
		if err != nil {
			logger.Warn("トークン検証に失敗",
				zap.String("path", c.Request.URL.Path),
				zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "トークンが無効です",
			})
			return
		}

		c.Set(ContextKeyUserID, claims.UserID)
		c.Set(ContextKeyEmail, claims.Email)
		c.Set(ContextKeyRole, claims.Role)
		c.Next()
	}
}

// RequireRole は指定ロールを持たないリクエストを403で拒否するGinミドルウェアを返す。
// JWTAuthミドルウェアが事前に適用されている必要がある。
func RequireRole(role Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		if GetRole(c) != role {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "この操作を行う権限がありません",
			})
			return
		}
		c.Next()
	}
}

// extractToken はリクエストからトークン文字列を取り出す。
func extractToken(c *gin.Context) (string, bool) {
	if authHeader := c.GetHeader("Authorization"); authHeader != "" {
		tokenString, found := strings.CutPrefix(authHeader, "Bearer ")
		if !found || tokenString == "" {
			return "", false
		}
		return tokenString, true
	}
	cookie, err := c.Cookie(TokenCookieName)
	if err != nil || cookie == "" {
		return "", false
	}
	return cookie, true
}

// GetUserID はGinコンテキストからユーザーIDを取得する。
func GetUserID(c *gin.Context) string {
	return c.GetString(ContextKeyUserID)
}

// GetEmail はGinコンテキストからメールアドレスを取得する。
func GetEmail(c *gin.Context) string {
	return c.GetString(ContextKeyEmail)
}

// GetRole はGinコンテキストからロールを取得する。
func GetRole(c *gin.Context) Role {
	v, ok := c.Get(ContextKeyRole)
	if !ok {
		return ""
	}
	switch role := v.(type) {
	case Role:
		return role
	case string:
		return Role(role)
	default:
		return ""
	}
}

// SetTokenCookie はセッショントークンCookieをレスポンスに設定する。
func SetTokenCookie(w http.ResponseWriter, token string, ttl time.Duration, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     TokenCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearTokenCookie は空の値と Max-Age 0 でトークンCookieを削除する。
func ClearTokenCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     TokenCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
