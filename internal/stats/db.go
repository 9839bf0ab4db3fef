// Package stats implements the Stats Recorder (spec §4.7): a local SQLite
// store of per-job, per-tool-call, and per-file-access rows, with daily/
// per-mode aggregates maintained alongside each write. Connection setup and
// retry/PRAGMA tuning are grounded on cloudshipai-station/internal/db/db.go;
// schema migrations use pressly/goose/v3 the way the teacher's own go.mod
// pulls it in (its own RunMigrations implementation wasn't present in the
// retrieval pack, so the goose wiring below follows the library's own
// standard embed.FS usage rather than a specific teacher file).
package stats

import (
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/MAF2414/kyco-sub004/internal/kerrors"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Open connects to the SQLite database at path (creating it if absent),
// tunes it for a single-writer/many-reader workload, and runs any pending
// migrations. Matches the teacher's PRAGMA choices (WAL, busy_timeout,
// foreign_keys, NORMAL synchronous) and retry-with-backoff connect loop.
func Open(path string) (*sql.DB, error) {
	var (
		conn *sql.DB
		err  error
	)
	const maxRetries = 5
	baseDelay := 100 * time.Millisecond

	for attempt := 0; attempt < maxRetries; attempt++ {
		conn, err = sql.Open("sqlite", path)
		if err != nil {
			return nil, fmt.Errorf("open stats db %s: %w: %w", path, kerrors.ErrConfig, err)
		}
		conn.SetMaxOpenConns(10)
		conn.SetMaxIdleConns(5)

		if err = conn.Ping(); err == nil {
			break
		}
		_ = conn.Close()
		if attempt == maxRetries-1 {
			return nil, fmt.Errorf("ping stats db %s after %d attempts: %w", path, maxRetries, err)
		}
		time.Sleep(baseDelay * time.Duration(1<<uint(attempt)))
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 30000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := conn.Exec(p); err != nil {
			return nil, fmt.Errorf("set %q: %w", p, err)
		}
	}

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return nil, fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(conn, "migrations"); err != nil {
		return nil, fmt.Errorf("run stats migrations: %w", err)
	}
	return conn, nil
}
