package store

import (
	"database/sql"
	"fmt"
	"io"

	"github.com/golang-migrate/migrate/v4/database"
)

// cipherDriver adapts our already-open, already-keyed *sql.DB to
// golang-migrate's database.Driver interface.
//
// golang-migrate's own bundled "sqlite3" driver (database/sqlite3) imports
// github.com/mattn/go-sqlite3 to open its own connection, which registers a
// second "sqlite3" database/sql driver under the same name our encrypted
// github.com/mutecomm/go-sqlcipher/v4 driver registers — sql.Register panics
// at init time the moment both packages are linked into one binary. This
// small adapter reuses migrate's engine and the iofs source, but drives our
// single existing SQLCipher connection directly instead of opening a second,
// unencrypted one.
type cipherDriver struct {
	db *sql.DB
}

func newCipherDriver(db *sql.DB) database.Driver {
	return &cipherDriver{db: db}
}

func (c *cipherDriver) Open(url string) (database.Driver, error) {
	return nil, fmt.Errorf("store: cipherDriver.Open is not supported; use NewWithInstance")
}

func (c *cipherDriver) Close() error {
	return nil // the *sql.DB's lifetime is owned by store.DB, not the migrator
}

// Lock/Unlock are no-ops: the connection pool is pinned to a single
// connection, so there is never a concurrent migrator to race against.
func (c *cipherDriver) Lock() error   { return nil }
func (c *cipherDriver) Unlock() error { return nil }

func (c *cipherDriver) Run(migration io.Reader) error {
	b, err := io.ReadAll(migration)
	if err != nil {
		return fmt.Errorf("cipherDriver: read migration: %w", err)
	}
	if _, err := c.db.Exec(string(b)); err != nil {
		return fmt.Errorf("cipherDriver: exec migration: %w", err)
	}
	return nil
}

func (c *cipherDriver) ensureVersionTable() error {
	_, err := c.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER NOT NULL PRIMARY KEY, dirty BOOLEAN NOT NULL)`)
	return err
}

func (c *cipherDriver) SetVersion(version int, dirty bool) error {
	if err := c.ensureVersionTable(); err != nil {
		return fmt.Errorf("cipherDriver: set version: %w", err)
	}
	if _, err := c.db.Exec(`DELETE FROM schema_migrations`); err != nil {
		return fmt.Errorf("cipherDriver: set version: clear: %w", err)
	}
	if version < 0 {
		return nil
	}
	if _, err := c.db.Exec(`INSERT INTO schema_migrations (version, dirty) VALUES (?, ?)`, version, dirty); err != nil {
		return fmt.Errorf("cipherDriver: set version: insert: %w", err)
	}
	return nil
}

func (c *cipherDriver) Version() (version int, dirty bool, err error) {
	if err := c.ensureVersionTable(); err != nil {
		return 0, false, fmt.Errorf("cipherDriver: version: %w", err)
	}
	row := c.db.QueryRow(`SELECT version, dirty FROM schema_migrations LIMIT 1`)
	err = row.Scan(&version, &dirty)
	if err == sql.ErrNoRows {
		return database.NilVersion, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("cipherDriver: version: %w", err)
	}
	return version, dirty, nil
}

func (c *cipherDriver) Drop() error {
	rows, err := c.db.Query(`SELECT name FROM sqlite_master WHERE type IN ('table', 'view') AND name NOT LIKE 'sqlite_%'`)
	if err != nil {
		return fmt.Errorf("cipherDriver: drop: list objects: %w", err)
	}
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return fmt.Errorf("cipherDriver: drop: scan: %w", err)
		}
		names = append(names, name)
	}
	rows.Close()

	for _, name := range names {
		if _, err := c.db.Exec(fmt.Sprintf(`DROP TABLE IF EXISTS "%s"`, name)); err != nil {
			return fmt.Errorf("cipherDriver: drop %s: %w", name, err)
		}
	}
	return nil
}
