// Package store is the durable session container: one SQLite file holding one
// append-only table per stream, whole-array blobs, clock anchors and
// metadata.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	_ "modernc.org/sqlite"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS arrays (
	name       TEXT NOT NULL,
	chunk      INTEGER NOT NULL,
	session    TEXT,
	subj       TEXT,
	shape      TEXT NOT NULL,
	dtype      TEXT NOT NULL,
	data       BLOB NOT NULL,
	ts         REAL,
	ts_global  REAL,
	PRIMARY KEY (name, chunk)
);

CREATE TABLE IF NOT EXISTS sync (
	process    TEXT PRIMARY KEY,
	session    TEXT,
	anchor     REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS meta (
	key        TEXT PRIMARY KEY,
	session    TEXT,
	value      TEXT NOT NULL,
	created_at TEXT NOT NULL
);
`

const streamSchema = `
CREATE TABLE IF NOT EXISTS %s (
	row        INTEGER PRIMARY KEY AUTOINCREMENT,
	session    TEXT,
	subj       TEXT,
	seq        INTEGER,
	ts         REAL,
	ts_global  REAL,
	payload    BLOB
)`

const streamPrefix = "stream_"

// #endregion schema

// ErrInvalidName is returned for stream or array names that cannot be used
// as table names.
var ErrInvalidName = errors.New("invalid stream name")

var validName = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{0,62}$`)

// #region store-struct
// Store is one session container file.
type Store struct {
	db     *sql.DB
	id     Identity
	mu     sync.Mutex
	tables map[string]bool
}

// #endregion store-struct

// #region constructor
// Open opens or creates a container file and runs migrations.
func Open(path string, id Identity) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	s, err := NewStoreWithDB(db, id)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// OpenReadOnly opens an existing container for reading. No pragmas or
// migrations run and writes fail.
func OpenReadOnly(path string) (*Store, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open db %s read-only: %w", path, err)
	}
	return &Store{db: db, tables: make(map[string]bool)}, nil
}

// NewStoreWithDB wraps an existing connection (tests use :memory:).
func NewStoreWithDB(db *sql.DB, id Identity) (*Store, error) {
	// A single connection keeps :memory: databases shared across calls.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db, id: id, tables: make(map[string]bool)}, nil
}

// #endregion constructor

// #region close
// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Identity returns the session identity rows are tagged with.
func (s *Store) Identity() Identity {
	return s.id
}

// #endregion close

// #region append
// Append writes rows to the stream's table in one transaction, creating the
// table on first use. Rows keep their slice order.
func (s *Store) Append(stream string, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}
	table, err := s.ensureStream(stream)
	if err != nil {
		return err
	}

	encoded := make([][]byte, len(rows))
	for i, r := range rows {
		b, err := msgpack.Marshal(r.Payload)
		if err != nil {
			return fmt.Errorf("encode %s row %d: %w", stream, i, err)
		}
		encoded[i] = b
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(fmt.Sprintf(
		`INSERT INTO %s (session, subj, seq, ts, ts_global, payload) VALUES (?, ?, ?, ?, ?, ?)`, table))
	if err != nil {
		return fmt.Errorf("prepare insert %s: %w", stream, err)
	}
	defer stmt.Close()

	for i, r := range rows {
		if _, err := stmt.Exec(s.id.Session, s.id.Subject, int64(r.Seq), r.TS, r.TS2, encoded[i]); err != nil {
			return fmt.Errorf("insert %s: %w", stream, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) ensureStream(stream string) (string, error) {
	if !validName.MatchString(stream) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, stream)
	}
	table := streamPrefix + stream

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tables[table] {
		return table, nil
	}
	if _, err := s.db.Exec(fmt.Sprintf(streamSchema, table)); err != nil {
		return "", fmt.Errorf("create %s: %w", table, err)
	}
	s.tables[table] = true
	return table, nil
}

// #endregion append

// #region read
// Rows returns every row of stream in arrival order. A stream that was never
// written returns no rows.
func (s *Store) Rows(stream string) ([]StoredRow, error) {
	return s.query(stream, "")
}

// Tail returns the last n rows of stream in arrival order.
func (s *Store) Tail(stream string, n int) ([]StoredRow, error) {
	if n <= 0 {
		return nil, nil
	}
	return s.query(stream, fmt.Sprintf(" WHERE row > (SELECT COALESCE(MAX(row), 0) - %d FROM %s%s)", n, streamPrefix, stream))
}

func (s *Store) query(stream, where string) ([]StoredRow, error) {
	if !validName.MatchString(stream) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, stream)
	}
	exists, err := s.hasTable(streamPrefix + stream)
	if err != nil || !exists {
		return nil, err
	}

	rows, err := s.db.Query(fmt.Sprintf(
		`SELECT row, COALESCE(session, ''), COALESCE(subj, ''), seq, ts, ts_global, payload FROM %s%s%s ORDER BY row`,
		streamPrefix, stream, where))
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", stream, err)
	}
	defer rows.Close()

	var out []StoredRow
	for rows.Next() {
		var r StoredRow
		var seq int64
		if err := rows.Scan(&r.Row, &r.Session, &r.Subject, &seq, &r.TS, &r.TSGlobal, &r.Payload); err != nil {
			return nil, fmt.Errorf("scan %s: %w", stream, err)
		}
		r.Seq = uint64(seq)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Count returns the number of rows in stream, 0 if it was never written.
func (s *Store) Count(stream string) (int, error) {
	if !validName.MatchString(stream) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidName, stream)
	}
	exists, err := s.hasTable(streamPrefix + stream)
	if err != nil || !exists {
		return 0, err
	}
	var n int
	if err := s.db.QueryRow(fmt.Sprintf(`SELECT COUNT(*) FROM %s%s`, streamPrefix, stream)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", stream, err)
	}
	return n, nil
}

// Streams lists the stream tables present in the file, sorted.
func (s *Store) Streams() ([]string, error) {
	rows, err := s.db.Query(`SELECT name FROM sqlite_master WHERE type = 'table' AND name LIKE 'stream\_%' ESCAPE '\'`)
	if err != nil {
		return nil, fmt.Errorf("list streams: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan stream name: %w", err)
		}
		out = append(out, strings.TrimPrefix(name, streamPrefix))
	}
	sort.Strings(out)
	return out, rows.Err()
}

func (s *Store) hasTable(table string) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("lookup %s: %w", table, err)
	}
	return n > 0, nil
}

// Decode unpacks the row payload into v.
func (r StoredRow) Decode(v any) error {
	if err := msgpack.Unmarshal(r.Payload, v); err != nil {
		return fmt.Errorf("decode row %d: %w", r.Row, err)
	}
	return nil
}

// #endregion read

// #region arrays
// PutArray stores a whole array as the next chunk under a.Name. The assigned
// chunk index is returned.
func (s *Store) PutArray(a Array) (int, error) {
	if !validName.MatchString(a.Name) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidName, a.Name)
	}
	shape, err := json.Marshal(a.Shape)
	if err != nil {
		return 0, fmt.Errorf("marshal shape: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var chunk int
	if err := tx.QueryRow(`SELECT COALESCE(MAX(chunk) + 1, 0) FROM arrays WHERE name = ?`, a.Name).Scan(&chunk); err != nil {
		return 0, fmt.Errorf("next chunk: %w", err)
	}
	_, err = tx.Exec(
		`INSERT INTO arrays (name, chunk, session, subj, shape, dtype, data, ts, ts_global)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.Name, chunk, s.id.Session, s.id.Subject, string(shape), a.DType, a.Data, a.TS, a.TS2,
	)
	if err != nil {
		return 0, fmt.Errorf("insert array %s: %w", a.Name, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return chunk, nil
}

// Array returns every chunk stored under name in chunk order.
func (s *Store) Array(name string) ([]Array, error) {
	rows, err := s.db.Query(
		`SELECT name, chunk, shape, dtype, data, COALESCE(ts, 0), COALESCE(ts_global, 0)
		 FROM arrays WHERE name = ? ORDER BY chunk`, name)
	if err != nil {
		return nil, fmt.Errorf("query array %s: %w", name, err)
	}
	defer rows.Close()

	var out []Array
	for rows.Next() {
		var a Array
		var shape string
		if err := rows.Scan(&a.Name, &a.Chunk, &shape, &a.DType, &a.Data, &a.TS, &a.TS2); err != nil {
			return nil, fmt.Errorf("scan array %s: %w", name, err)
		}
		if err := json.Unmarshal([]byte(shape), &a.Shape); err != nil {
			return nil, fmt.Errorf("unmarshal shape: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Arrays summarizes every stored array name.
func (s *Store) Arrays() ([]ArrayInfo, error) {
	rows, err := s.db.Query(`SELECT name, COUNT(*), SUM(LENGTH(data)) FROM arrays GROUP BY name ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list arrays: %w", err)
	}
	defer rows.Close()

	var out []ArrayInfo
	for rows.Next() {
		var info ArrayInfo
		if err := rows.Scan(&info.Name, &info.Chunks, &info.Bytes); err != nil {
			return nil, fmt.Errorf("scan array info: %w", err)
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// #endregion arrays

// #region sync
// PutSync records the clock anchor of every process. Existing anchors for a
// process are replaced.
func (s *Store) PutSync(anchors map[string]float64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for process, anchor := range anchors {
		_, err := tx.Exec(
			`INSERT INTO sync (process, session, anchor) VALUES (?, ?, ?)
			 ON CONFLICT(process) DO UPDATE SET anchor = excluded.anchor, session = excluded.session`,
			process, s.id.Session, anchor,
		)
		if err != nil {
			return fmt.Errorf("insert anchor %s: %w", process, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Sync returns the stored clock anchors.
func (s *Store) Sync() (map[string]float64, error) {
	rows, err := s.db.Query(`SELECT process, anchor FROM sync`)
	if err != nil {
		return nil, fmt.Errorf("query sync: %w", err)
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var process string
		var anchor float64
		if err := rows.Scan(&process, &anchor); err != nil {
			return nil, fmt.Errorf("scan anchor: %w", err)
		}
		out[process] = anchor
	}
	return out, rows.Err()
}

// #endregion sync

// #region meta
// PutMeta stores a metadata value (params, code_snapshot, notes), replacing
// any previous value under key.
func (s *Store) PutMeta(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO meta (key, session, value, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, created_at = excluded.created_at`,
		key, s.id.Session, value, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("put meta %s: %w", key, err)
	}
	return nil
}

// Meta returns the value stored under key. found is false when absent.
func (s *Store) Meta(key string) (value string, found bool, err error) {
	err = s.db.QueryRow(`SELECT value FROM meta WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get meta %s: %w", key, err)
	}
	return value, true, nil
}

// #endregion meta
