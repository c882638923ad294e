// Package store はサイトのSQLiteデータベースへの接続とスキーマの適用を行う。
package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/nao1215/haven/pkg/migration"
)

//go:embed migrations/*.up.sql
var migrationsFS embed.FS

// MemoryDSN はテストで使用するインメモリデータベースのDSN。
const MemoryDSN = ":memory:"

// Open はSQLiteデータベースに接続し、未適用のマイグレーションを適用する。
func Open(ctx context.Context, dsn string, logger *zap.Logger) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	// インメモリDBは接続ごとに別のデータベースになるため、接続を1つに制限する。
	if strings.HasPrefix(dsn, MemoryDSN) || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("データベースへの疎通確認に失敗: %w", err)
	}

	if _, err := migration.Run(ctx, db, migrationsFS, "migrations", logger); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}
	return db, nil
}

// FileDSN はファイルパスからWALモードとビジータイムアウトを設定したDSNを生成する。
// トランザクションは開始時に書き込みロックを取得するため、
// 読み取り後の書き込みで SQLITE_BUSY にならずビジータイムアウトまで待機する。
func FileDSN(path string) string {
	return "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_txlock=immediate"
}
