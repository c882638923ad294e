// Package event は投稿の変更履歴として記録するイベントの型を定義する。
package event

import (
	"encoding/json"
	"time"
)

// AggregateType はイベントの対象となるエンティティの種類を表す。
type AggregateType string

// AggregateTypeSubmission は公開フォームからの投稿を表す。
const AggregateTypeSubmission AggregateType = "submission"

// Type はイベントの種類を表す。
type Type string

const (
	// TypeSubmissionReceived は投稿を受け付けたことを表す。
	TypeSubmissionReceived Type = "submission.received"
	// TypeSubmissionStatusChanged は管理者がステータスを変更したことを表す。
	TypeSubmissionStatusChanged Type = "submission.status_changed"
	// TypeSubmissionDeleted は管理者が投稿を削除したことを表す。
	TypeSubmissionDeleted Type = "submission.deleted"
)

// Event は投稿に対する不変の変更記録。
// 投稿が削除された後もイベントは残る。
type Event struct {
	// ID はイベントの一意識別子（UUID）。
	ID string `json:"id"`
	// AggregateID は対象エンティティの識別子。
	AggregateID string `json:"aggregate_id"`
	// AggregateType は対象エンティティの種類。
	AggregateType AggregateType `json:"aggregate_type"`
	// EventType はイベントの種類。
	EventType Type `json:"event_type"`
	// Data はイベント固有のデータ（JSON形式）。
	Data json.RawMessage `json:"data"`
	// Version はAggregate内でのイベントの順序番号。1から始まる。
	Version int64 `json:"version"`
	// Actor は変更を行った管理者のユーザーID。公開フォームからの投稿では空。
	Actor string `json:"actor,omitempty"`
	// CreatedAt はイベントが作成された日時。
	CreatedAt time.Time `json:"created_at"`
}

// SubmissionReceivedData はSubmissionReceivedイベントのデータ。
type SubmissionReceivedData struct {
	// Kind は投稿の種別。
	Kind string `json:"kind"`
	// Status は受付時のステータス。
	Status string `json:"status"`
	// Locale は投稿時のロケール。
	Locale string `json:"locale"`
}

// SubmissionStatusChangedData はSubmissionStatusChangedイベントのデータ。
type SubmissionStatusChangedData struct {
	// From は変更前のステータス。
	From string `json:"from"`
	// To は変更後のステータス。
	To string `json:"to"`
}

// SubmissionDeletedData はSubmissionDeletedイベントのデータ。
type SubmissionDeletedData struct {
	// Kind は削除された投稿の種別。
	Kind string `json:"kind"`
	// Status は削除時のステータス。
	Status string `json:"status"`
}
