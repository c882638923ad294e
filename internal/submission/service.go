package submission

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	subdb "github.com/nao1215/haven/internal/submission/db"
	"github.com/nao1215/haven/pkg/event"
)

// 一覧取得の件数制限。
const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// 入力項目の最大文字数。
const (
	maxNameLen    = 200
	maxEmailLen   = 320
	maxPhoneLen   = 50
	maxSubjectLen = 300
	maxMessageLen = 10000
	maxDetailLen  = 1000
	maxDetails    = 20
)

// summaryCacheKey はダッシュボード集計のキャッシュキー。
const summaryCacheKey = "dashboard-summary"

// DefaultSummaryTTL はダッシュボード集計をキャッシュする期間。
const DefaultSummaryTTL = 30 * time.Second

// RecentCount はダッシュボードに表示する最新投稿の件数。
const RecentCount = 5

// Locales は投稿に記録するロケールの検証に使用する。
type Locales interface {
	Supported(code string) bool
	Fallback() string
}

// Submission は投稿を表す。
type Submission struct {
	ID        string            `json:"id"`
	Kind      Kind              `json:"kind"`
	Status    Status            `json:"status"`
	Name      string            `json:"name"`
	Email     string            `json:"email,omitempty"`
	Phone     string            `json:"phone,omitempty"`
	Subject   string            `json:"subject,omitempty"`
	Message   string            `json:"message"`
	Details   map[string]string `json:"details"`
	Locale    string            `json:"locale"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// CreateInput は投稿作成の入力値。JSONとフォームの両方から束縛する。
type CreateInput struct {
	Name    string            `json:"name" form:"name" binding:"max=200"`
	Email   string            `json:"email" form:"email" binding:"omitempty,email,max=320"`
	Phone   string            `json:"phone" form:"phone" binding:"max=50"`
	Subject string            `json:"subject" form:"subject" binding:"max=300"`
	Message string            `json:"message" form:"message" binding:"max=10000"`
	Locale  string            `json:"locale" form:"locale" binding:"max=16"`
	Details map[string]string `json:"details" form:"-"`
}

// ListFilter は一覧取得の条件。ゼロ値の項目は絞り込みに使用しない。
type ListFilter struct {
	Kind   Kind
	Status Status
	Limit  int
	Offset int
}

// Service は投稿の登録・検索・ステータス管理を行う。
type Service struct {
	db      *sql.DB
	queries *subdb.Queries
	policy  *bluemonday.Policy
	locales Locales
	cache   *gocache.Cache
	logger  *zap.Logger
	now     func() time.Time
}

// Option はServiceの設定を変更する関数。
type Option func(*Service)

// WithClock は作成日時・更新日時に使用する時刻関数を設定する。
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithSummaryTTL はダッシュボード集計のキャッシュ期間を設定する。
func WithSummaryTTL(ttl time.Duration) Option {
	return func(s *Service) {
		s.cache = gocache.New(ttl, 2*ttl)
	}
}

// NewService は新しいServiceを生成する。
func NewService(db *sql.DB, locales Locales, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		db:      db,
		queries: subdb.New(db),
		policy:  bluemonday.StrictPolicy(),
		locales: locales,
		cache:   gocache.New(DefaultSummaryTTL, 2*DefaultSummaryTTL),
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create は入力値を無害化・検証して投稿を登録する。
// ステータスは種別の初期ステータスになる。
func (s *Service) Create(ctx context.Context, kind Kind, in CreateInput) (Submission, error) {
	if _, ok := statuses[kind]; !ok {
		return Submission{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	in = s.sanitize(in)
	if err := validate(kind, &in); err != nil {
		return Submission{}, err
	}

	details, err := json.Marshal(in.Details)
	if err != nil {
		return Submission{}, fmt.Errorf("詳細項目のエンコードに失敗: %w", err)
	}

	now := s.timestamp()
	sub := Submission{
		ID:        uuid.New().String(),
		Kind:      kind,
		Status:    kind.InitialStatus(),
		Name:      in.Name,
		Email:     in.Email,
		Phone:     in.Phone,
		Subject:   in.Subject,
		Message:   in.Message,
		Details:   in.Details,
		Locale:    s.locale(in.Locale),
		CreatedAt: now,
		UpdatedAt: now,
	}
	err = s.inTx(ctx, func(q *subdb.Queries) error {
		if err := q.CreateSubmission(ctx, subdb.CreateSubmissionParams{
			ID:        sub.ID,
			Kind:      string(sub.Kind),
			Status:    string(sub.Status),
			Name:      sub.Name,
			Email:     sub.Email,
			Phone:     sub.Phone,
			Subject:   sub.Subject,
			Message:   sub.Message,
			Details:   string(details),
			Locale:    sub.Locale,
			CreatedAt: now,
		}); err != nil {
			return err
		}
		return record(ctx, q, sub.ID, event.TypeSubmissionReceived, "", event.SubmissionReceivedData{
			Kind:   string(sub.Kind),
			Status: string(sub.Status),
			Locale: sub.Locale,
		}, now)
	})
	if err != nil {
		return Submission{}, fmt.Errorf("投稿の登録に失敗: %w", err)
	}

	s.invalidate()
	s.logger.Info("投稿を受け付けました",
		zap.String("id", sub.ID),
		zap.String("kind", string(sub.Kind)),
		zap.String("locale", sub.Locale))
	return sub, nil
}

// Get はIDで投稿を取得する。
func (s *Service) Get(ctx context.Context, id string) (Submission, error) {
	return getSubmission(ctx, s.queries, id)
}

// getSubmission は q を使って投稿を取得する。トランザクション内でも使用する。
func getSubmission(ctx context.Context, q *subdb.Queries, id string) (Submission, error) {
	row, err := q.GetSubmissionByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Submission{}, ErrNotFound
		}
		return Submission{}, fmt.Errorf("投稿の取得に失敗: %w", err)
	}
	return fromRow(row)
}

// List は条件に一致する投稿を新しい順に返す。
func (s *Service) List(ctx context.Context, f ListFilter) ([]Submission, error) {
	if f.Status != "" && f.Kind != "" && !f.Kind.Allows(f.Status) {
		return nil, fmt.Errorf("%w: %s/%s", ErrInvalidStatus, f.Kind, f.Status)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	limit = min(limit, MaxListLimit)
	offset := max(f.Offset, 0)

	rows, err := s.queries.ListSubmissions(ctx, subdb.ListSubmissionsParams{
		Kind:   string(f.Kind),
		Status: string(f.Status),
		Limit:  int64(limit),
		Offset: int64(offset),
	})
	if err != nil {
		return nil, fmt.Errorf("投稿一覧の取得に失敗: %w", err)
	}

	subs := make([]Submission, 0, len(rows))
	for _, row := range rows {
		sub, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

// ApprovedTestimonials は公開ページに表示する承認済みの体験談を返す。
func (s *Service) ApprovedTestimonials(ctx context.Context, limit int) ([]Submission, error) {
	return s.List(ctx, ListFilter{Kind: KindTestimonial, Status: StatusApproved, Limit: limit})
}

// UpdateStatus は投稿のステータスを変更し、変更履歴に actor を記録する。
// 投稿の種別で許可されていないステータスは ErrInvalidStatus を返す。
// 変更前の状態の読み取りと更新は同じトランザクションで行う。
func (s *Service) UpdateStatus(ctx context.Context, id string, status Status, actor string) (Submission, error) {
	now := s.timestamp()
	var sub Submission
	var from Status
	err := s.inTx(ctx, func(q *subdb.Queries) error {
		var err error
		sub, err = getSubmission(ctx, q, id)
		if err != nil {
			return err
		}
		if !sub.Kind.Allows(status) {
			return fmt.Errorf("%w: %s/%s", ErrInvalidStatus, sub.Kind, status)
		}

		n, err := q.UpdateSubmissionStatus(ctx, subdb.UpdateSubmissionStatusParams{
			Status:    string(status),
			UpdatedAt: now,
			ID:        id,
		})
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		from = sub.Status
		return record(ctx, q, id, event.TypeSubmissionStatusChanged, actor, event.SubmissionStatusChangedData{
			From: string(from),
			To:   string(status),
		}, now)
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidStatus) {
			return Submission{}, err
		}
		return Submission{}, fmt.Errorf("ステータスの更新に失敗: %w", err)
	}

	s.invalidate()
	s.logger.Info("投稿のステータスを変更しました",
		zap.String("id", id),
		zap.String("actor", actor),
		zap.String("from", string(from)),
		zap.String("to", string(status)))
	sub.Status = status
	sub.UpdatedAt = now
	return sub, nil
}

// Delete は投稿を削除する。変更履歴は削除後も残る。
func (s *Service) Delete(ctx context.Context, id, actor string) error {
	err := s.inTx(ctx, func(q *subdb.Queries) error {
		sub, err := getSubmission(ctx, q, id)
		if err != nil {
			return err
		}
		n, err := q.DeleteSubmission(ctx, id)
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return record(ctx, q, id, event.TypeSubmissionDeleted, actor, event.SubmissionDeletedData{
			Kind:   string(sub.Kind),
			Status: string(sub.Status),
		}, s.timestamp())
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("投稿の削除に失敗: %w", err)
	}

	s.invalidate()
	s.logger.Info("投稿を削除しました", zap.String("id", id), zap.String("actor", actor))
	return nil
}

// History は投稿の変更履歴を古い順に返す。削除済みの投稿の履歴も返す。
func (s *Service) History(ctx context.Context, id string) ([]event.Event, error) {
	rows, err := s.queries.ListEventsByAggregate(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("変更履歴の取得に失敗: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}

	events := make([]event.Event, 0, len(rows))
	for _, row := range rows {
		events = append(events, event.Event{
			ID:            row.ID,
			AggregateID:   row.AggregateID,
			AggregateType: event.AggregateType(row.AggregateType),
			EventType:     event.Type(row.EventType),
			Data:          json.RawMessage(row.Data),
			Version:       row.Version,
			Actor:         row.Actor,
			CreatedAt:     row.CreatedAt.UTC(),
		})
	}
	return events, nil
}

// inTx はトランザクション内で fn を実行する。fn がエラーを返した場合はロールバックする。
func (s *Service) inTx(ctx context.Context, fn func(q *subdb.Queries) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクションの開始に失敗: %w", err)
	}
	if err := fn(s.queries.WithTx(tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// record は投稿の次のバージョンとしてイベントを追記する。
func record(ctx context.Context, q *subdb.Queries, id string, typ event.Type, actor string, data any, at time.Time) error {
	version, err := q.GetLatestVersion(ctx, id)
	if err != nil {
		return fmt.Errorf("最新バージョンの取得に失敗: %w", err)
	}
	ev, err := event.New(id, event.AggregateTypeSubmission, typ, version+1, actor, data, at)
	if err != nil {
		return err
	}
	return q.AppendEvent(ctx, subdb.AppendEventParams{
		ID:            ev.ID,
		AggregateID:   ev.AggregateID,
		AggregateType: string(ev.AggregateType),
		EventType:     string(ev.EventType),
		Data:          string(ev.Data),
		Version:       ev.Version,
		Actor:         ev.Actor,
		CreatedAt:     ev.CreatedAt,
	})
}

func (s *Service) invalidate() {
	s.cache.Delete(summaryCacheKey)
}

func (s *Service) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Second)
}

func (s *Service) locale(code string) string {
	if s.locales == nil {
		if code == "" {
			return "en"
		}
		return code
	}
	if code != "" && s.locales.Supported(code) {
		return code
	}
	return s.locales.Fallback()
}

// sanitize はHTMLタグを除去し、前後の空白を取り除く。
func (s *Service) sanitize(in CreateInput) CreateInput {
	in.Name = s.plain(in.Name)
	in.Email = s.plain(in.Email)
	in.Phone = s.plain(in.Phone)
	in.Subject = s.plain(in.Subject)
	in.Message = s.plain(in.Message)
	in.Locale = strings.ToLower(s.plain(in.Locale))

	details := make(map[string]string, len(in.Details))
	for k, v := range in.Details {
		key := strings.ToLower(s.plain(k))
		if key == "" {
			continue
		}
		details[key] = s.plain(v)
	}
	in.Details = details
	return in
}

func (s *Service) plain(v string) string {
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(v)))
}

func fromRow(row subdb.Submission) (Submission, error) {
	details := map[string]string{}
	if row.Details != "" {
		if err := json.Unmarshal([]byte(row.Details), &details); err != nil {
			return Submission{}, fmt.Errorf("詳細項目のデコードに失敗 (id=%s): %w", row.ID, err)
		}
	}
	return Submission{
		ID:        row.ID,
		Kind:      Kind(row.Kind),
		Status:    Status(row.Status),
		Name:      row.Name,
		Email:     row.Email,
		Phone:     row.Phone,
		Subject:   row.Subject,
		Message:   row.Message,
		Details:   details,
		Locale:    row.Locale,
		CreatedAt: row.CreatedAt.UTC(),
		UpdatedAt: row.UpdatedAt.UTC(),
	}, nil
}

// validate は種別ごとの必須項目と文字数を検証する。
// 種別固有の既定値は in.Details に補完する。
func validate(kind Kind, in *CreateInput) error {
	for _, f := range []struct {
		name  string
		value string
		max   int
	}{
		{"name", in.Name, maxNameLen},
		{"email", in.Email, maxEmailLen},
		{"phone", in.Phone, maxPhoneLen},
		{"subject", in.Subject, maxSubjectLen},
		{"message", in.Message, maxMessageLen},
	} {
		if utf8.RuneCountInString(f.value) > f.max {
			return invalid(f.name, fmt.Sprintf("%d文字以内で入力してください", f.max))
		}
	}
	if len(in.Details) > maxDetails {
		return invalid("details", "項目が多すぎます")
	}
	for k, v := range in.Details {
		if utf8.RuneCountInString(v) > maxDetailLen {
			return invalid("details."+k, fmt.Sprintf("%d文字以内で入力してください", maxDetailLen))
		}
	}
	if in.Email != "" {
		if _, err := mail.ParseAddress(in.Email); err != nil {
			return invalid("email", "メールアドレスの形式が正しくありません")
		}
	}

	switch kind {
	case KindConnectRequest:
		if in.Name == "" {
			return invalid("name", "必須項目です")
		}
		if in.Email == "" && in.Phone == "" {
			return invalid("email", "メールアドレスか電話番号のどちらかが必要です")
		}
		if in.Message == "" {
			return invalid("message", "必須項目です")
		}
		switch in.Details["urgency"] {
		case "":
			in.Details["urgency"] = "medium"
		case "low", "medium", "high":
		default:
			return invalid("details.urgency", "low、medium、high のいずれかを指定してください")
		}
	case KindTestimonial:
		if in.Message == "" {
			return invalid("message", "必須項目です")
		}
		if in.Details["consent"] != "true" {
			return invalid("details.consent", "掲載への同意が必要です")
		}
		if in.Details["anonymous"] == "true" {
			in.Name = ""
		} else if in.Name == "" {
			return invalid("name", "匿名でない場合は必須項目です")
		}
	case KindContact:
		if in.Name == "" {
			return invalid("name", "必須項目です")
		}
		if in.Email == "" {
			return invalid("email", "必須項目です")
		}
		if in.Message == "" {
			return invalid("message", "必須項目です")
		}
	case KindApplication:
		if in.Name == "" {
			return invalid("name", "必須項目です")
		}
		if in.Email == "" {
			return invalid("email", "必須項目です")
		}
		switch in.Details["position"] {
		case "volunteer":
		case "professional":
			if in.Details["profession"] == "" {
				return invalid("details.profession", "専門職の応募では必須項目です")
			}
		default:
			return invalid("details.position", "volunteer または professional を指定してください")
		}
	}
	return nil
}
