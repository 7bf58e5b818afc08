package remote

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore is a DocumentStore backed by PostgreSQL. Documents are JSONB
// rows merged on upsert; counters are one row per field.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgres connects to dsn, verifies the connection and applies pending
// migrations.
func NewPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, Network("connect", err)
	}

	s := &PostgresStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	driver, err := postgres.WithInstance(s.db.DB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migration setup: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

func (s *PostgresStore) Upsert(ctx context.Context, collection, id string, fields map[string]any) error {
	payload, err := json.Marshal(fields)
	if err != nil {
		return Rejected("upsert", "fields not encodable", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (collection, id, fields, updated_at)
		VALUES ($1, $2, $3::jsonb, now())
		ON CONFLICT (collection, id)
		DO UPDATE SET fields = documents.fields || EXCLUDED.fields, updated_at = now()
	`, collection, id, string(payload))
	return translatePQ("upsert", err)
}

const incrementSQL = `
	INSERT INTO counters (collection, doc_id, field_path, value, updated_at)
	VALUES ($1, $2, $3, $4, now())
	ON CONFLICT (collection, doc_id, field_path)
	DO UPDATE SET value = counters.value + EXCLUDED.value, updated_at = now()
`

// ApplyOnce inserts the guard and applies incs in one transaction. A guard
// conflict rolls back and reports applied=false.
func (s *PostgresStore) ApplyOnce(ctx context.Context, guard string, incs []Increment) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, translatePQ("apply_once", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO applied_guards (guard) VALUES ($1) ON CONFLICT (guard) DO NOTHING`, guard)
	if err != nil {
		return false, translatePQ("apply_once", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, translatePQ("apply_once", err)
	}
	if n == 0 {
		return false, nil
	}

	for _, inc := range incs {
		if _, err := tx.ExecContext(ctx, incrementSQL, inc.Collection, inc.DocID, inc.Field, inc.Delta); err != nil {
			return false, translatePQ("apply_once", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return false, translatePQ("apply_once", err)
	}
	return true, nil
}

type counterRow struct {
	Field string `db:"field_path"`
	Value int64  `db:"value"`
}

func (s *PostgresStore) Counters(ctx context.Context, collection, docID string) (map[string]int64, error) {
	var rows []counterRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT field_path, value FROM counters WHERE collection = $1 AND doc_id = $2`, collection, docID)
	if err != nil {
		return nil, translatePQ("counters", err)
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Field] = r.Value
	}
	return out, nil
}

// Document reads a stored document's fields.
func (s *PostgresStore) Document(ctx context.Context, collection, id string) (map[string]any, error) {
	var raw []byte
	err := s.db.GetContext(ctx, &raw,
		`SELECT fields FROM documents WHERE collection = $1 AND id = $2`, collection, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, translatePQ("document", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("decode document %s/%s: %w", collection, id, err)
	}
	return fields, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return translatePQ("ping", s.db.PingContext(ctx))
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// translatePQ maps driver errors onto the remote error kinds. Data, integrity
// and syntax classes are the server refusing the write; everything else,
// including connection loss mid-statement, may succeed on retry.
func translatePQ(op string, err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "22", "23", "42":
			return Rejected(op, pqErr.Code.Name(), err)
		}
	}
	return Network(op, err)
}
