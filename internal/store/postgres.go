package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// PostgresBackend is the remote document store. Each collection is a table
// (id TEXT PRIMARY KEY, doc JSONB, updated_at TIMESTAMPTZ).
type PostgresBackend struct {
	db *sqlx.DB
}

// NewPostgres connects to the remote store
func NewPostgres(databaseURL string) (*PostgresBackend, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresBackend{db: db}, nil
}

// NewPostgresFromDB wraps an existing connection
func NewPostgresFromDB(db *sqlx.DB) *PostgresBackend {
	return &PostgresBackend{db: db}
}

// Name identifies the backend in logs
func (p *PostgresBackend) Name() string {
	return "remote"
}

// Close closes the database connection
func (p *PostgresBackend) Close() error {
	return p.db.Close()
}

// EnsureCollections creates a document table per collection when missing
func (p *PostgresBackend) EnsureCollections(ctx context.Context, collections []string) error {
	for _, c := range collections {
		query := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id TEXT PRIMARY KEY,
				doc JSONB NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`, pq.QuoteIdentifier(c))
		if _, err := p.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to create table %s: %w", c, err)
		}
	}
	return nil
}

// View runs fn against the connection pool
func (p *PostgresBackend) View(ctx context.Context, fn func(Reader) error) error {
	return fn(&pgTx{q: p.db})
}

// Update runs fn inside a transaction. Reads lock the rows they return
// (FOR UPDATE) until commit.
func (p *PostgresBackend) Update(ctx context.Context, fn func(Tx) error) error {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return unavailable(err, p.Name(), "begin")
	}
	defer tx.Rollback()

	if err := fn(&pgTx{q: tx, e: tx, lock: true}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return unavailable(err, p.Name(), "commit")
	}
	return nil
}

type pgTx struct {
	q    sqlx.QueryerContext
	e    sqlx.ExecerContext
	lock bool
}

func (t *pgTx) suffix() string {
	if t.lock {
		return " FOR UPDATE"
	}
	return ""
}

func (t *pgTx) Get(ctx context.Context, collection, id string) ([]byte, error) {
	query := fmt.Sprintf("SELECT doc FROM %s WHERE id = $1%s", pq.QuoteIdentifier(collection), t.suffix())

	var doc []byte
	err := t.q.QueryRowxContext(ctx, query, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable(err, "remote", "get")
	}
	return doc, nil
}

func (t *pgTx) List(ctx context.Context, collection string, filter Filter) ([][]byte, error) {
	query, args := listQuery(collection, filter)
	query += t.suffix()

	rows, err := t.q.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable(err, "remote", "list")
	}
	defer rows.Close()

	var docs [][]byte
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, unavailable(err, "remote", "list")
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err, "remote", "list")
	}
	return docs, nil
}

func (t *pgTx) Put(ctx context.Context, collection, id string, doc []byte) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, doc, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = NOW()`,
		pq.QuoteIdentifier(collection))

	if _, err := t.e.ExecContext(ctx, query, id, doc); err != nil {
		return unavailable(err, "remote", "put")
	}
	return nil
}

func (t *pgTx) Delete(ctx context.Context, collection, id string) (bool, error) {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = $1", pq.QuoteIdentifier(collection))

	res, err := t.e.ExecContext(ctx, query, id)
	if err != nil {
		return false, unavailable(err, "remote", "delete")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, unavailable(err, "remote", "delete")
	}
	return n > 0, nil
}

// listQuery builds a deterministic SELECT for filter. Field names are bound
// as parameters to the ->> operator.
func listQuery(collection string, filter Filter) (string, []interface{}) {
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT doc FROM %s", pq.QuoteIdentifier(collection))

	args := make([]interface{}, 0, len(keys)*2)
	for i, k := range keys {
		if i == 0 {
			b.WriteString(" WHERE ")
		} else {
			b.WriteString(" AND ")
		}
		fmt.Fprintf(&b, "doc->>$%d = $%d", len(args)+1, len(args)+2)
		args = append(args, k, filter[k])
	}
	b.WriteString(" ORDER BY id")
	return b.String(), args
}
