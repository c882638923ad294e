package db

import "time"

// Submission はsubmissionsテーブルの1行。
type Submission struct {
	ID        string
	Kind      string
	Status    string
	Name      string
	Email     string
	Phone     string
	Subject   string
	Message   string
	Details   string
	Locale    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CountByKindStatusRow は種別・ステータスごとの件数。
type CountByKindStatusRow struct {
	Kind   string
	Status string
	Count  int64
}
