package modsrc

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLiteSource stores module images in a single SQLite database, one row
// per module. It is safe for concurrent use.
type SQLiteSource struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens or creates a module archive at path.
func OpenSQLite(path string) (*SQLiteSource, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening module archive: %w", err)
	}

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS modules (
		name  TEXT PRIMARY KEY,
		image BLOB NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}
	return &SQLiteSource{db: db, path: path}, nil
}

// Close closes the database connection.
func (s *SQLiteSource) Close() error {
	return s.db.Close()
}

// Path returns the database file the source was opened on.
func (s *SQLiteSource) Path() string { return s.path }

// Image implements Source.
func (s *SQLiteSource) Image(name string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRow("SELECT image FROM modules WHERE name = ?", strings.ToLower(name)).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound(name)
		}
		return nil, fmt.Errorf("querying module %s: %w", name, err)
	}
	return data, nil
}

// Put stores or replaces the image of a module.
func (s *SQLiteSource) Put(name string, image []byte) error {
	if name == "" {
		return errors.New("empty module name")
	}
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO modules (name, image) VALUES (?, ?)",
		strings.ToLower(name), image,
	)
	if err != nil {
		return fmt.Errorf("storing module %s: %w", name, err)
	}
	log.Debugf("stored module %s (%d bytes) in %s", name, len(image), s.path)
	return nil
}

// Delete removes a module. Deleting a missing module is not an error.
func (s *SQLiteSource) Delete(name string) error {
	if _, err := s.db.Exec("DELETE FROM modules WHERE name = ?", strings.ToLower(name)); err != nil {
		return fmt.Errorf("deleting module %s: %w", name, err)
	}
	return nil
}

// Names implements Lister.
func (s *SQLiteSource) Names() ([]string, error) {
	rows, err := s.db.Query("SELECT name FROM modules ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("listing modules: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scanning module name: %w", err)
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// Import copies every module listed by src into the archive in one
// transaction and returns the number copied.
func (s *SQLiteSource) Import(src interface {
	Source
	Lister
}) (int, error) {
	names, err := src.Names()
	if err != nil {
		return 0, err
	}
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("beginning import: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare("INSERT OR REPLACE INTO modules (name, image) VALUES (?, ?)")
	if err != nil {
		return 0, fmt.Errorf("preparing import: %w", err)
	}
	defer stmt.Close()

	for _, n := range names {
		data, err := src.Image(n)
		if err != nil {
			return 0, err
		}
		if _, err := stmt.Exec(strings.ToLower(n), data); err != nil {
			return 0, fmt.Errorf("storing module %s: %w", n, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing import: %w", err)
	}
	log.Infof("imported %d modules into %s", len(names), s.path)
	return len(names), nil
}
