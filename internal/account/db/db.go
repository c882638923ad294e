// Package db はadminsテーブルに対するクエリを提供する。
package db

import (
	"context"
	"database/sql"
	"time"
)

// DBTX は *sql.DB と *sql.Tx の共通インターフェース。
type DBTX interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
	QueryRowContext(context.Context, string, ...any) *sql.Row
}

// Queries はadminsテーブルのクエリ実行オブジェクト。
type Queries struct {
	db DBTX
}

// New は新しいQueriesを生成する。
func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// Admin はadminsテーブルの1行。
type Admin struct {
	ID           string
	Email        string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
	LastLoginAt  sql.NullTime
}

const createAdmin = `
INSERT INTO admins (id, email, password_hash, role, created_at)
VALUES (?, ?, ?, ?, ?)
`

// CreateAdminParams はCreateAdminの引数。
type CreateAdminParams struct {
	ID           string
	Email        string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
}

// CreateAdmin は管理ユーザーを1件登録する。
func (q *Queries) CreateAdmin(ctx context.Context, arg CreateAdminParams) error {
	_, err := q.db.ExecContext(ctx, createAdmin, arg.ID, arg.Email, arg.PasswordHash, arg.Role, arg.CreatedAt)
	return err
}

const getAdminByEmail = `
SELECT id, email, password_hash, role, created_at, last_login_at
FROM admins WHERE email = ?
`

// GetAdminByEmail はメールアドレスで管理ユーザーを取得する。
func (q *Queries) GetAdminByEmail(ctx context.Context, email string) (Admin, error) {
	row := q.db.QueryRowContext(ctx, getAdminByEmail, email)
	var i Admin
	err := row.Scan(&i.ID, &i.Email, &i.PasswordHash, &i.Role, &i.CreatedAt, &i.LastLoginAt)
	return i, err
}

const countAdmins = `SELECT COUNT(*) FROM admins`

// CountAdmins は管理ユーザーの件数を返す。
func (q *Queries) CountAdmins(ctx context.Context) (int64, error) {
	var count int64
	err := q.db.QueryRowContext(ctx, countAdmins).Scan(&count)
	return count, err
}

const updateLastLogin = `UPDATE admins SET last_login_at = ? WHERE id = ?`

// UpdateLastLogin は最終ログイン日時を更新する。
func (q *Queries) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	_, err := q.db.ExecContext(ctx, updateLastLogin, at, id)
	return err
}
