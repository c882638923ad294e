package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	accountdb "github.com/nao1215/haven/internal/account/db"
	"github.com/nao1215/haven/pkg/middleware"
)

var (
	// ErrInvalidCredentials はメールアドレスまたはパスワードが誤っていることを表す。
	ErrInvalidCredentials = errors.New("メールアドレスまたはパスワードが正しくありません")
	// ErrWeakPassword はパスワードが短すぎることを表す。
	ErrWeakPassword = errors.New("パスワードは8文字以上にしてください")
)

// minPasswordLen はパスワードの最小文字数。
const minPasswordLen = 8

// Admin は管理ユーザー。
type Admin struct {
	ID          string          `json:"user_id"`
	Email       string          `json:"email"`
	Role        middleware.Role `json:"role"`
	CreatedAt   time.Time       `json:"-"`
	LastLoginAt time.Time       `json:"-"`
}

// Service は管理ユーザーの登録と認証を行う。
type Service struct {
	queries *accountdb.Queries
	codec   *middleware.TokenCodec
	logger  *zap.Logger
	cost    int
	now     func() time.Time
	// dummyHash はユーザーが存在しない場合の比較に使用する。
	dummyHash []byte
}

// Option はServiceの設定を変更する関数。
type Option func(*Service)

// WithBcryptCost はbcryptのコストを設定する。テストでは bcrypt.MinCost を使用する。
func WithBcryptCost(cost int) Option {
	return func(s *Service) {
		s.cost = cost
	}
}

// WithClock は時刻関数を設定する。
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService は新しいServiceを生成する。
func NewService(db accountdb.DBTX, codec *middleware.TokenCodec, logger *zap.Logger, opts ...Option) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		queries: accountdb.New(db),
		codec:   codec,
		logger:  logger,
		cost:    bcrypt.DefaultCost,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(uuid.NewString()), s.cost)
	if err != nil {
		return nil, fmt.Errorf("ダミーハッシュの生成に失敗: %w", err)
	}
	s.dummyHash = hash
	return s, nil
}

// Create は管理ユーザーを登録する。
func (s *Service) Create(ctx context.Context, email, password string, role middleware.Role) (Admin, error) {
	email = normalizeEmail(email)
	if email == "" {
		return Admin{}, errors.New("メールアドレスが空です")
	}
	if len(password) < minPasswordLen {
		return Admin{}, ErrWeakPassword
	}
	if role == "" {
		role = middleware.RoleAdmin
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return Admin{}, fmt.Errorf("パスワードのハッシュ化に失敗: %w", err)
	}

	admin := Admin{
		ID:        uuid.New().String(),
		Email:     email,
		Role:      role,
		CreatedAt: s.now().UTC().Truncate(time.Second),
	}
	if err := s.queries.CreateAdmin(ctx, accountdb.CreateAdminParams{
		ID:           admin.ID,
		Email:        admin.Email,
		PasswordHash: string(hash),
		Role:         string(admin.Role),
		CreatedAt:    admin.CreatedAt,
	}); err != nil {
		return Admin{}, fmt.Errorf("管理ユーザーの登録に失敗: %w", err)
	}
	return admin, nil
}

// Seed は管理ユーザーが1人もいない場合に初期管理者を登録する。
// 登録した場合は true を返す。emailかpasswordが空の場合は何もしない。
func (s *Service) Seed(ctx context.Context, email, password string) (bool, error) {
	if email == "" || password == "" {
		return false, nil
	}
	count, err := s.queries.CountAdmins(ctx)
	if err != nil {
		return false, fmt.Errorf("管理ユーザー数の取得に失敗: %w", err)
	}
	if count > 0 {
		return false, nil
	}

	admin, err := s.Create(ctx, email, password, middleware.RoleAdmin)
	if err != nil {
		return false, err
	}
	s.logger.Info("初期管理者を登録しました", zap.String("user_id", admin.ID), zap.String("email", admin.Email))
	return true, nil
}

// Authenticate はメールアドレスとパスワードを検証する。
func (s *Service) Authenticate(ctx context.Context, email, password string) (Admin, error) {
	row, err := s.queries.GetAdminByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// 存在しないユーザーでも比較を行い、応答時間を揃える。
			_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
			return Admin{}, ErrInvalidCredentials
		}
		return Admin{}, fmt.Errorf("管理ユーザーの取得に失敗: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(row.PasswordHash), []byte(password)); err != nil {
		return Admin{}, ErrInvalidCredentials
	}

	admin := Admin{
		ID:        row.ID,
		Email:     row.Email,
		Role:      middleware.Role(row.Role),
		CreatedAt: row.CreatedAt,
	}
	if row.LastLoginAt.Valid {
		admin.LastLoginAt = row.LastLoginAt.Time
	}
	return admin, nil
}

// Login は認証に成功した管理ユーザーのセッショントークンを発行する。
func (s *Service) Login(ctx context.Context, email, password string) (Admin, string, error) {
	admin, err := s.Authenticate(ctx, email, password)
	if err != nil {
		s.logger.Info("ログインに失敗しました", zap.String("email", normalizeEmail(email)), zap.Error(err))
		return Admin{}, "", err
	}

	token, err := s.codec.Issue(admin.ID, admin.Email, admin.Role)
	if err != nil {
		return Admin{}, "", err
	}

	now := s.now().UTC().Truncate(time.Second)
	if err := s.queries.UpdateLastLogin(ctx, admin.ID, now); err != nil {
		s.logger.Warn("最終ログイン日時の更新に失敗", zap.String("user_id", admin.ID), zap.Error(err))
	} else {
		admin.LastLoginAt = now
	}

	s.logger.Info("ログインしました", zap.String("user_id", admin.ID), zap.String("role", admin.Role.String()))
	return admin, token, nil
}

// TokenTTL はセッショントークンの有効期間を返す。
func (s *Service) TokenTTL() time.Duration {
	return s.codec.TTL()
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
