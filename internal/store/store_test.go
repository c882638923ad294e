package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nao1215/haven/pkg/migration"
)

func TestOpen(t *testing.T) {
	t.Parallel()

	t.Run("インメモリDBにスキーマが適用されること", func(t *testing.T) {
		t.Parallel()

		db, err := Open(t.Context(), MemoryDSN, zap.NewNop())
		require.NoError(t, err)
		t.Cleanup(func() { db.Close() })

		versions, err := migration.Applied(t.Context(), db)
		require.NoError(t, err)
		assert.Equal(t, []int{1, 2, 3}, versions)

		for _, table := range []string{"admins", "submissions", "submission_events"} {
			var name string
			err := db.QueryRowContext(t.Context(),
				`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
			require.NoError(t, err, "テーブル %s が存在しない", table)
		}
	})

	t.Run("ファイルDBを再度開いてもマイグレーションが重複しないこと", func(t *testing.T) {
		t.Parallel()

		dsn := FileDSN(filepath.Join(t.TempDir(), "haven.db"))

		db, err := Open(t.Context(), dsn, nil)
		require.NoError(t, err)
		require.NoError(t, db.Close())

		db, err = Open(t.Context(), dsn, nil)
		require.NoError(t, err)
		t.Cleanup(func() { db.Close() })

		versions, err := migration.Applied(t.Context(), db)
		require.NoError(t, err)
		assert.Equal(t, []int{1, 2, 3}, versions)
	})
}
