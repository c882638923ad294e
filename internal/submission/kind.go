package submission

import (
	"fmt"
	"strings"
)

// Kind は投稿の種別。
type Kind string

const (
	// KindConnectRequest は支援を求める人からの相談依頼。
	KindConnectRequest Kind = "connect_request"
	// KindTestimonial はサバイバーの体験談。承認されたものだけ公開する。
	KindTestimonial Kind = "testimonial"
	// KindContact は一般的な問い合わせ。
	KindContact Kind = "contact"
	// KindApplication はボランティア・専門職の応募。
	KindApplication Kind = "application"
)

// Status は種別ごとに定義される投稿のステータス。
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusResolved   Status = "resolved"
	StatusClosed     Status = "closed"
	StatusApproved   Status = "approved"
	StatusRejected   Status = "rejected"
	StatusUnread     Status = "unread"
	StatusRead       Status = "read"
	StatusArchived   Status = "archived"
	StatusReviewing  Status = "reviewing"
	StatusAccepted   Status = "accepted"
)

// statuses は種別ごとに許可されるステータス。先頭が投稿直後のステータス。
var statuses = map[Kind][]Status{
	KindConnectRequest: {StatusPending, StatusInProgress, StatusResolved, StatusClosed},
	KindTestimonial:    {StatusPending, StatusApproved, StatusRejected},
	KindContact:        {StatusUnread, StatusRead, StatusArchived},
	KindApplication:    {StatusPending, StatusReviewing, StatusAccepted, StatusRejected},
}

// Kinds はすべての種別を表示順に返す。
func Kinds() []Kind {
	return []Kind{KindConnectRequest, KindTestimonial, KindContact, KindApplication}
}

// ParseKind は文字列を種別に変換する。ハイフン区切り（connect-request）も受け付ける。
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	if _, ok := statuses[k]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
	return k, nil
}

// Statuses は種別で許可されるステータスを返す。
func (k Kind) Statuses() []Status {
	out := make([]Status, len(statuses[k]))
	copy(out, statuses[k])
	return out
}

// InitialStatus は投稿直後のステータスを返す。
func (k Kind) InitialStatus() Status {
	if s := statuses[k]; len(s) > 0 {
		return s[0]
	}
	return StatusPending
}

// Allows はステータスが種別で許可されているかを返す。
// ステータスの変更は遷移順序を問わず、許可された値であれば直接書き換える。
func (k Kind) Allows(s Status) bool {
	for _, allowed := range statuses[k] {
		if allowed == s {
			return true
		}
	}
	return false
}
