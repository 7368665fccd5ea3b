package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitSQLStatements(t *testing.T) {
	content := `-- raw transactions
CREATE TABLE IF NOT EXISTS a (
    id String
) ENGINE = Memory;

-- comment only

CREATE TABLE IF NOT EXISTS b (id String) ENGINE = Memory;
SELECT 1`

	stmts := splitSQLStatements(content)

	assert.Len(t, stmts, 3)
	assert.Contains(t, stmts[0], "CREATE TABLE IF NOT EXISTS a")
	assert.NotContains(t, stmts[0], ";")
	assert.Equal(t, "CREATE TABLE IF NOT EXISTS b (id String) ENGINE = Memory", stmts[1])
	assert.Equal(t, "SELECT 1", stmts[2])
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab...", truncate("abcdef", 2))
}

func TestMigrateURLDropsPoolParams(t *testing.T) {
	assert.Equal(t, "postgres://u:p@h:5432/db?sslmode=disable",
		migrateURL("postgres://u:p@h:5432/db?pool_max_conns=10"))
	assert.Equal(t, "postgres://u:p@h/db", migrateURL("postgres://u:p@h/db"))
}
