package sqlstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// dialect holds the SQL that differs between SQLite and MySQL.
type dialect struct {
	name          string
	driver        string
	migrationsDir string

	createMigrationTable string
	recordMigration      string

	// isForeignKeyViolation reports a missing referenced row.
	isForeignKeyViolation func(error) bool
}

var sqliteDialect = &dialect{
	name:          "sqlite",
	driver:        "sqlite",
	migrationsDir: "sqlite",
	createMigrationTable: `CREATE TABLE IF NOT EXISTS ` + migrationTable + ` (
    name TEXT PRIMARY KEY,
    applied_at INTEGER NOT NULL
)`,
	recordMigration:       "INSERT OR IGNORE INTO " + migrationTable + " (name, applied_at) VALUES (?, ?)",
	isForeignKeyViolation: isSQLiteForeignKeyViolation,
}

var mysqlDialect = &dialect{
	name:          "mysql",
	driver:        "mysql",
	migrationsDir: "mysql",
	createMigrationTable: `CREATE TABLE IF NOT EXISTS ` + migrationTable + ` (
    name VARCHAR(255) NOT NULL PRIMARY KEY,
    applied_at BIGINT NOT NULL
) ENGINE=InnoDB`,
	recordMigration:       "INSERT IGNORE INTO " + migrationTable + " (name, applied_at) VALUES (?, ?)",
	isForeignKeyViolation: isMySQLForeignKeyViolation,
}

// upsert builds a single-statement insert that replaces every non-key
// column when key already exists.
func (d *dialect) upsert(table, key string, columns []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(columns, ", "), placeholders(len(columns)))

	var sets []string
	for _, c := range columns {
		if c == key {
			continue
		}
		if d.name == "mysql" {
			sets = append(sets, fmt.Sprintf("%s = VALUES(%s)", c, c))
		} else {
			sets = append(sets, fmt.Sprintf("%s = excluded.%s", c, c))
		}
	}

	if d.name == "mysql" {
		fmt.Fprintf(&b, " ON DUPLICATE KEY UPDATE %s", strings.Join(sets, ", "))
	} else {
		fmt.Fprintf(&b, " ON CONFLICT(%s) DO UPDATE SET %s", key, strings.Join(sets, ", "))
	}
	return b.String()
}

// insertIfAbsent builds an insert that leaves an existing row untouched.
// MySQL uses a no-op ON DUPLICATE KEY UPDATE rather than INSERT IGNORE so
// foreign key violations still surface as errors.
func (d *dialect) insertIfAbsent(table string, columns []string) string {
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(columns, ", "), placeholders(len(columns)))
	if d.name == "mysql" {
		return stmt + fmt.Sprintf(" ON DUPLICATE KEY UPDATE %s = %s", columns[0], columns[0])
	}
	return stmt + " ON CONFLICT DO NOTHING"
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func isSQLiteForeignKeyViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code() == sqlite3lib.SQLITE_CONSTRAINT_FOREIGNKEY {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "foreign key constraint failed")
}

// MySQL error 1452: cannot add or update a child row.
const mysqlErrNoReferencedRow = 1452

func isMySQLForeignKeyViolation(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlErrNoReferencedRow
}
