// Package store persists settings, admin users, the command log, the
// messaging outbox and the platform map document in SQLite or PostgreSQL.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	"robolink/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// DB wraps the SQL connection and the dialect it speaks.
type DB struct {
	*sql.DB
	driver string
}

// Open opens the configured database and brings its schema up to date.
func Open(cfg *config.DatabaseConfig) (*DB, error) {
	var (
		db  *DB
		err error
	)
	switch cfg.Driver {
	case "sqlite", "":
		db, err = openSQLite(cfg.SQLite.Path)
	case "postgres":
		db, err = openPostgres(&cfg.Postgres)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := db.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate %s: %w", db.driver, err)
	}
	return db, nil
}

// sqliteDSN builds a modernc DSN. An empty path opens a private in-memory
// database.
func sqliteDSN(path string) string {
	if path == "" || path == ":memory:" {
		return "file::memory:?_pragma=foreign_keys(1)"
	}
	q := url.Values{}
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "foreign_keys(1)")
	return "file:" + path + "?" + q.Encode()
}

func openSQLite(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer; also keeps an in-memory database on a single connection.
	sqlDB.SetMaxOpenConns(1)
	return &DB{DB: sqlDB, driver: "sqlite"}, nil
}

func openPostgres(cfg *config.PostgresConfig) (*DB, error) {
	sqlDB, err := sql.Open("pgx", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	sqlDB.SetMaxOpenConns(4)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping postgres %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return &DB{DB: sqlDB, driver: "postgres"}, nil
}

func (db *DB) Driver() string { return db.driver }

// Q adapts a query written in SQLite syntax to the open dialect.
func (db *DB) Q(query string) string {
	if db.driver != "postgres" {
		return query
	}
	query = strings.ReplaceAll(query, "datetime('now','localtime')", "NOW()")
	return Rebind(query)
}

// upgrade is a schema change applied to databases created before it.
type upgrade struct {
	table, column, sqliteType, postgresType string
}

var upgrades = []upgrade{
	{"admin_users", "last_login", "TEXT", "TIMESTAMPTZ"},
}

func (db *DB) migrate() error {
	schema := schemaSQLite
	if db.driver == "postgres" {
		schema = schemaPostgres
	}
	if _, err := db.Exec(schema); err != nil {
		return err
	}
	for _, u := range upgrades {
		if err := db.addColumn(u); err != nil {
			return fmt.Errorf("add %s.%s: %w", u.table, u.column, err)
		}
	}
	return nil
}

func (db *DB) addColumn(u upgrade) error {
	if db.driver == "postgres" {
		_, err := db.Exec(fmt.Sprintf(`ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s`, u.table, u.column, u.postgresType))
		return err
	}
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, u.table, u.column).Scan(&n)
	if err != nil || n > 0 {
		return err
	}
	_, err = db.Exec(fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s`, u.table, u.column, u.sqliteType))
	return err
}
