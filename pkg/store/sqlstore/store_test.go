package sqlstore

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vkphotos/pkg/models"
	"vkphotos/pkg/store"
	"vkphotos/pkg/store/sqlstore/migrations"
	"vkphotos/pkg/store/storetest"
)

func openTempSQLite(t *testing.T) *Store {
	t.Helper()
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "vkphotos.db"))
	require.NoError(t, err)
	return s
}

func TestSQLiteStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return openTempSQLite(t) })
}

func TestMySQLStoreContract(t *testing.T) {
	dsn := os.Getenv("VKPHOTOS_TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("VKPHOTOS_TEST_MYSQL_DSN not set, skipping integration test")
	}

	storetest.Run(t, func(t *testing.T) store.Store {
		s, err := OpenMySQL(context.Background(), dsn)
		require.NoError(t, err)
		cleanupTables(t, s.db)
		return s
	})
}

func cleanupTables(t *testing.T, db *sql.DB) {
	t.Helper()
	for _, table := range []string{"photo_likes", "photos", "albums", "vk_groups", "users"} {
		_, err := db.Exec("DELETE FROM " + table)
		require.NoError(t, err, table)
	}
}

func TestOpenSQLiteRequiresPath(t *testing.T) {
	_, err := OpenSQLite(context.Background(), "  ")
	assert.Error(t, err)
}

func TestOpenMySQLRejectsBadDSN(t *testing.T) {
	_, err := OpenMySQL(context.Background(), "not a dsn")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse mysql dsn")
}

func TestMigrationsApplyOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vkphotos.db")
	ctx := context.Background()

	s, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.EnsureUsers(ctx, []uint64{6492}))
	require.NoError(t, s.Close())

	// Reopening must not re-run migrations or lose data
	s, err = OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.GetUser(ctx, 6492)
	require.NoError(t, err)

	var n int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&n))
	assert.Equal(t, 1, n)
}

func TestForeignKeysEnforced(t *testing.T) {
	s := openTempSQLite(t)
	defer s.Close()

	_, err := s.db.Exec("INSERT INTO photo_likes (photo_id, user_id) VALUES ('1_1', 1)")
	require.Error(t, err)
	assert.True(t, isSQLiteForeignKeyViolation(err))
}

func TestNullableColumnsRoundTrip(t *testing.T) {
	s := openTempSQLite(t)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.EnsureGroup(ctx, 16297716))
	album := storetest.Album(models.GroupRef(16297716), 154228728, storetest.Base)
	require.NoError(t, s.UpsertAlbum(ctx, album))

	got, err := s.GetAlbum(ctx, album.RemoteID)
	require.NoError(t, err)
	assert.True(t, got.Updated.IsZero())
	assert.Nil(t, got.Privacy)

	photo := storetest.Photo(album, 1, storetest.Base)
	require.NoError(t, s.UpsertPhoto(ctx, photo))
	p, err := s.GetPhoto(ctx, photo.RemoteID)
	require.NoError(t, err)
	assert.Nil(t, p.AuthorID)
	assert.Zero(t, p.Width)
	assert.Equal(t, models.GroupRef(16297716), p.Referrer)
}

func TestDialectSQL(t *testing.T) {
	cols := []string{"remote_id", "title"}

	assert.Equal(t,
		"INSERT INTO albums (remote_id, title) VALUES (?, ?) ON CONFLICT(remote_id) DO UPDATE SET title = excluded.title",
		sqliteDialect.upsert("albums", "remote_id", cols))
	assert.Equal(t,
		"INSERT INTO albums (remote_id, title) VALUES (?, ?) ON DUPLICATE KEY UPDATE title = VALUES(title)",
		mysqlDialect.upsert("albums", "remote_id", cols))

	assert.Equal(t,
		"INSERT INTO users (id, created_at) VALUES (?, ?) ON CONFLICT DO NOTHING",
		sqliteDialect.insertIfAbsent("users", []string{"id", "created_at"}))
	assert.Equal(t,
		"INSERT INTO users (id, created_at) VALUES (?, ?) ON DUPLICATE KEY UPDATE id = id",
		mysqlDialect.insertIfAbsent("users", []string{"id", "created_at"}))
}

func TestMigrationFilesParse(t *testing.T) {
	for _, dir := range []string{"sqlite", "mysql"} {
		content, err := migrations.FS.ReadFile(dir + "/0001_init.sql")
		require.NoError(t, err, dir)

		stmts := splitStatements(extractUpMigration(string(content)))
		assert.Len(t, stmts, map[string]int{"sqlite": 8, "mysql": 5}[dir], dir)
		for _, stmt := range stmts {
			assert.NotContains(t, stmt, "DROP TABLE", dir)
		}
	}
}
