package event

import (
	"encoding/json"
	"testing"
	"time"
)

// TestTypeNames は保存・APIで使用するイベント種別の文字列を固定する。
func TestTypeNames(t *testing.T) {
	t.Parallel()

	tests := []struct {
		got  Type
		want string
	}{
		{TypeSubmissionReceived, "submission.received"},
		{TypeSubmissionStatusChanged, "submission.status_changed"},
		{TypeSubmissionDeleted, "submission.deleted"},
	}
	for _, tt := range tests {
		if string(tt.got) != tt.want {
			t.Errorf("イベント種別 = %q, want %q", tt.got, tt.want)
		}
	}
	if AggregateTypeSubmission != "submission" {
		t.Errorf("AggregateTypeSubmission = %q, want %q", AggregateTypeSubmission, "submission")
	}
}

// TestNew はNew関数でイベントが正しく生成されることを検証する。
func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("ステータス変更イベントを生成できること", func(t *testing.T) {
		t.Parallel()

		at := time.Date(2026, 6, 1, 10, 0, 0, 999, time.FixedZone("JST", 9*60*60))
		ev, err := New("sub-1", AggregateTypeSubmission, TypeSubmissionStatusChanged, 2, "admin-1",
			SubmissionStatusChangedData{From: "pending", To: "approved"}, at)
		if err != nil {
			t.Fatalf("New()でエラーが発生: %v", err)
		}

		if ev.ID == "" {
			t.Error("IDが空文字列")
		}
		if ev.AggregateID != "sub-1" {
			t.Errorf("AggregateID = %q, want %q", ev.AggregateID, "sub-1")
		}
		if ev.EventType != TypeSubmissionStatusChanged {
			t.Errorf("EventType = %q, want %q", ev.EventType, TypeSubmissionStatusChanged)
		}
		if ev.Version != 2 {
			t.Errorf("Version = %d, want %d", ev.Version, 2)
		}
		if ev.Actor != "admin-1" {
			t.Errorf("Actor = %q, want %q", ev.Actor, "admin-1")
		}
		want := time.Date(2026, 6, 1, 1, 0, 0, 0, time.UTC)
		if !ev.CreatedAt.Equal(want) || ev.CreatedAt.Location() != time.UTC {
			t.Errorf("CreatedAt = %v, want %v", ev.CreatedAt, want)
		}
		if string(ev.Data) != `{"from":"pending","to":"approved"}` {
			t.Errorf("Data = %s", ev.Data)
		}
	})

	t.Run("IDはイベントごとに異なること", func(t *testing.T) {
		t.Parallel()

		a, err := New("sub-1", AggregateTypeSubmission, TypeSubmissionReceived, 1, "", SubmissionReceivedData{}, time.Now())
		if err != nil {
			t.Fatal(err)
		}
		b, err := New("sub-1", AggregateTypeSubmission, TypeSubmissionReceived, 1, "", SubmissionReceivedData{}, time.Now())
		if err != nil {
			t.Fatal(err)
		}
		if a.ID == b.ID {
			t.Errorf("IDが重複している: %s", a.ID)
		}
	})

	t.Run("シリアライズできないデータはエラーになること", func(t *testing.T) {
		t.Parallel()

		_, err := New("sub-1", AggregateTypeSubmission, TypeSubmissionReceived, 1, "", make(chan int), time.Now())
		if err == nil {
			t.Error("エラーが返されるべきです")
		}
	})
}

// TestDecodeData はDecodeData関数でイベントデータを復元できることを検証する。
func TestDecodeData(t *testing.T) {
	t.Parallel()

	t.Run("受付イベントのデータを復元できること", func(t *testing.T) {
		t.Parallel()

		ev, err := New("sub-1", AggregateTypeSubmission, TypeSubmissionReceived, 1, "",
			SubmissionReceivedData{Kind: "contact", Status: "unread", Locale: "fr"}, time.Now())
		if err != nil {
			t.Fatal(err)
		}
		got, err := DecodeData[SubmissionReceivedData](ev)
		if err != nil {
			t.Fatalf("DecodeData()でエラーが発生: %v", err)
		}
		if got.Kind != "contact" || got.Status != "unread" || got.Locale != "fr" {
			t.Errorf("復元結果が不正: %+v", got)
		}
	})

	t.Run("不正なJSONはエラーになること", func(t *testing.T) {
		t.Parallel()

		ev := &Event{Data: json.RawMessage(`{broken`)}
		if _, err := DecodeData[SubmissionDeletedData](ev); err == nil {
			t.Error("エラーが返されるべきです")
		}
	})
}
