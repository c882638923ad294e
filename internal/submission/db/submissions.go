package db

import (
	"context"
	"time"
)

const submissionColumns = `id, kind, status, name, email, phone, subject, message, details, locale, created_at, updated_at`

const createSubmission = `
INSERT INTO submissions (id, kind, status, name, email, phone, subject, message, details, locale, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

// CreateSubmissionParams はCreateSubmissionの引数。
type CreateSubmissionParams struct {
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
}

// CreateSubmission は投稿を1件登録する。
func (q *Queries) CreateSubmission(ctx context.Context, arg CreateSubmissionParams) error {
	_, err := q.db.ExecContext(ctx, createSubmission,
		arg.ID,
		arg.Kind,
		arg.Status,
		arg.Name,
		arg.Email,
		arg.Phone,
		arg.Subject,
		arg.Message,
		arg.Details,
		arg.Locale,
		arg.CreatedAt,
		arg.CreatedAt,
	)
	return err
}

const getSubmissionByID = `SELECT ` + submissionColumns + ` FROM submissions WHERE id = ?`

// GetSubmissionByID はIDで投稿を取得する。存在しない場合は sql.ErrNoRows を返す。
func (q *Queries) GetSubmissionByID(ctx context.Context, id string) (Submission, error) {
	row := q.db.QueryRowContext(ctx, getSubmissionByID, id)
	return scanSubmission(row)
}

const listSubmissions = `SELECT ` + submissionColumns + ` FROM submissions
WHERE (?1 = '' OR kind = ?1)
  AND (?2 = '' OR status = ?2)
ORDER BY created_at DESC, id DESC
LIMIT ?3 OFFSET ?4`

// ListSubmissionsParams はListSubmissionsの引数。空文字列の条件は絞り込みに使用しない。
type ListSubmissionsParams struct {
	Kind   string
	Status string
	Limit  int64
	Offset int64
}

// ListSubmissions は条件に一致する投稿を新しい順に取得する。
func (q *Queries) ListSubmissions(ctx context.Context, arg ListSubmissionsParams) ([]Submission, error) {
	rows, err := q.db.QueryContext(ctx, listSubmissions, arg.Kind, arg.Status, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Submission
	for rows.Next() {
		i, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const updateSubmissionStatus = `UPDATE submissions SET status = ?, updated_at = ? WHERE id = ?`

// UpdateSubmissionStatusParams はUpdateSubmissionStatusの引数。
type UpdateSubmissionStatusParams struct {
	Status    string
	UpdatedAt time.Time
	ID        string
}

// UpdateSubmissionStatus は投稿のステータスを更新し、更新件数を返す。
func (q *Queries) UpdateSubmissionStatus(ctx context.Context, arg UpdateSubmissionStatusParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, updateSubmissionStatus, arg.Status, arg.UpdatedAt, arg.ID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const deleteSubmission = `DELETE FROM submissions WHERE id = ?`

// DeleteSubmission は投稿を削除し、削除件数を返す。
func (q *Queries) DeleteSubmission(ctx context.Context, id string) (int64, error) {
	result, err := q.db.ExecContext(ctx, deleteSubmission, id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const countByKindStatus = `SELECT kind, status, COUNT(*) FROM submissions GROUP BY kind, status ORDER BY kind, status`

// CountByKindStatus は種別・ステータスごとの件数を集計する。
func (q *Queries) CountByKindStatus(ctx context.Context) ([]CountByKindStatusRow, error) {
	rows, err := q.db.QueryContext(ctx, countByKindStatus)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []CountByKindStatusRow
	for rows.Next() {
		var i CountByKindStatusRow
		if err := rows.Scan(&i.Kind, &i.Status, &i.Count); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// scanner は *sql.Row と *sql.Rows の共通インターフェース。
type scanner interface {
	Scan(dest ...any) error
}

func scanSubmission(s scanner) (Submission, error) {
	var i Submission
	err := s.Scan(
		&i.ID,
		&i.Kind,
		&i.Status,
		&i.Name,
		&i.Email,
		&i.Phone,
		&i.Subject,
		&i.Message,
		&i.Details,
		&i.Locale,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	if err != nil {
		return Submission{}, err
	}
	return i, nil
}
