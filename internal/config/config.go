// Package config は環境変数からサイトの設定を読み込む。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"go.uber.org/zap/zapcore"
)

// DevJWTSecret は開発環境でHAVEN_JWT_SECRETが未設定の場合に使用する秘密鍵。
const DevJWTSecret = "dev-secret-key"

// MinJWTSecretLength は開発環境以外で要求する秘密鍵の最小バイト数。
const MinJWTSecretLength = 32

// Config は環境変数から読み込むサイトの設定。
type Config struct {
	Env      string `env:"HAVEN_ENV" envDefault:"development"`
	LogLevel string `env:"HAVEN_LOG_LEVEL" envDefault:"info"`
	Host     string `env:"HAVEN_HOST" envDefault:""`
	Port     int    `env:"HAVEN_PORT" envDefault:"8080"`
	DBPath   string `env:"HAVEN_DB_PATH" envDefault:"./data/haven.db"`

	// JWTSecret はセッショントークンの署名鍵。開発環境以外では必須。
	JWTSecret    string        `env:"HAVEN_JWT_SECRET"`
	TokenTTL     time.Duration `env:"HAVEN_TOKEN_TTL" envDefault:"24h"`
	SecureCookie bool          `env:"HAVEN_SECURE_COOKIE" envDefault:"true"`

	// ロケール
	Locales       []string `env:"HAVEN_LOCALES" envDefault:"en,fr,es" envSeparator:","`
	DefaultLocale string   `env:"HAVEN_DEFAULT_LOCALE" envDefault:"en"`

	// StrictBareAdmin は /admin へのアクセス時にトークンを検証してからダッシュボードへ送る。
	StrictBareAdmin bool `env:"HAVEN_GUARD_STRICT_BARE_ADMIN" envDefault:"false"`

	// AllowedOrigins はAPIのCORSで許可するオリジン。
	AllowedOrigins []string `env:"HAVEN_ALLOWED_ORIGINS" envSeparator:","`

	// TrustedProxies は X-Forwarded-For を信頼するプロキシのIPまたはCIDR。
	// 空の場合はどのプロキシも信頼せず、接続元アドレスをクライアントIPとする。
	TrustedProxies []string `env:"HAVEN_TRUSTED_PROXIES" envSeparator:","`

	// 初期管理者。どちらも設定され、管理者が1人も居ない場合に登録する。
	AdminEmail    string `env:"HAVEN_ADMIN_EMAIL"`
	AdminPassword string `env:"HAVEN_ADMIN_PASSWORD"`

	// 公開フォームのレート制限（クライアントIPごと）
	SubmitRPS   float64 `env:"HAVEN_SUBMIT_RPS" envDefault:"0.2"`
	SubmitBurst int     `env:"HAVEN_SUBMIT_BURST" envDefault:"5"`

	SummaryTTL      time.Duration `env:"HAVEN_SUMMARY_TTL" envDefault:"30s"`
	ShutdownTimeout time.Duration `env:"HAVEN_SHUTDOWN_TIMEOUT" envDefault:"10s"`

	// Upstream が設定されている場合、ルートガードを前段に置いたリバースプロキシとして動作する。
	Upstream string `env:"HAVEN_UPSTREAM"`

	usingDevSecret bool
}

// IsDevelopment は開発環境で動作しているかどうかを返す。
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// UsingDevSecret は開発用の秘密鍵で動作しているかどうかを返す。
func (c *Config) UsingDevSecret() bool {
	return c.usingDevSecret
}

// Addr は host:port 形式のリッスンアドレスを返す。
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Level はログレベルを返す。
func (c *Config) Level() zapcore.Level {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return zapcore.InfoLevel
	}
	return level
}

// Load は .env ファイルと環境変数から設定を読み込み、検証する。
// envFiles に指定したファイルが存在しない場合は無視する。環境変数が優先される。
func Load(envFiles ...string) (*Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s の読み込みに失敗: %w", f, err)
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("環境変数の解析に失敗: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.JWTSecret == "" {
		if !c.IsDevelopment() {
			return errors.New("HAVEN_JWT_SECRET は開発環境以外では必須です")
		}
		c.JWTSecret = DevJWTSecret
		c.usingDevSecret = true
	}
	if !c.IsDevelopment() && len(c.JWTSecret) < MinJWTSecretLength {
		return fmt.Errorf("HAVEN_JWT_SECRET は %d バイト以上にしてください（現在 %d バイト）",
			MinJWTSecretLength, len(c.JWTSecret))
	}

	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("HAVEN_LOG_LEVEL が不正です: %w", err)
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("HAVEN_PORT が範囲外です: %d", c.Port)
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("HAVEN_TOKEN_TTL は正の値にしてください: %s", c.TokenTTL)
	}

	locales := make([]string, 0, len(c.Locales))
	for _, l := range c.Locales {
		if l = strings.TrimSpace(l); l != "" {
			locales = append(locales, l)
		}
	}
	if len(locales) == 0 {
		return errors.New("HAVEN_LOCALES が空です")
	}
	c.Locales = locales

	proxies := make([]string, 0, len(c.TrustedProxies))
	for _, p := range c.TrustedProxies {
		if p = strings.TrimSpace(p); p != "" {
			proxies = append(proxies, p)
		}
	}
	c.TrustedProxies = proxies
	if c.DefaultLocale == "" {
		c.DefaultLocale = locales[0]
	}

	if c.SubmitBurst < 1 {
		return fmt.Errorf("HAVEN_SUBMIT_BURST は1以上にしてください: %d", c.SubmitBurst)
	}
	return nil
}
