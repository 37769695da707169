package syncq

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jmoiron/sqlx"
	"github.com/mattbonnell/syncq/internal"
	"github.com/rs/zerolog/log"
)

const connectMaxElapsed = 30 * time.Second

// SQLBackend stores each queue as one row of the queue table. Put upserts the
// row inside a transaction, so a queue is always replaced whole.
type SQLBackend struct {
	db      *sqlx.DB
	dialect internal.Dialect
}

// NewSQLBackend creates the schema if needed. Supported drivers are mysql,
// postgres, sqlite3 and sqlite.
func NewSQLBackend(db *sqlx.DB) (*SQLBackend, error) {
	log.Debug().Str("driver", db.DriverName()).Msg("creating sql backend")
	dialect, err := internal.GetDialect(db.DriverName())
	if err != nil {
		return nil, err
	}
	if internal.IsSQLite(db.DriverName()) {
		db.SetMaxOpenConns(1)
	}
	if err := internal.CreateSchema(db); err != nil {
		e := fmt.Errorf("error creating schema: %w", err)
		log.Debug().Err(e).Msg("error")
		return nil, e
	}
	return &SQLBackend{db: db, dialect: dialect}, nil
}

// OpenSQLBackend connects to dsn, retrying with exponential backoff while the
// database is not accepting connections yet.
func OpenSQLBackend(ctx context.Context, driverName, dsn string) (*SQLBackend, error) {
	var db *sqlx.DB
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = connectMaxElapsed
	if err := backoff.Retry(func() error {
		var err error
		db, err = sqlx.ConnectContext(ctx, driverName, dsn)
		if err != nil {
			log.Debug().Err(err).Str("driver", driverName).Msg("database not reachable yet")
		}
		return err
	}, backoff.WithContext(b, ctx)); err != nil {
		return nil, fmt.Errorf("error connecting to %s database: %w", driverName, err)
	}
	return NewSQLBackend(db)
}

func (s *SQLBackend) DB() *sqlx.DB {
	return s.db
}

func (s *SQLBackend) Close() error {
	return s.db.Close()
}

func (s *SQLBackend) Get(ctx context.Context, key string) ([]byte, error) {
	var row internal.Queue
	query := s.db.Rebind("SELECT name, jobs FROM queue WHERE name = ?")
	if err := s.db.QueryRowxContext(ctx, query, key).StructScan(&row); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error selecting queue: %w", err)
	}
	return row.Jobs, nil
}

func (s *SQLBackend) Put(ctx context.Context, key string, value []byte) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error beginning queue write transaction: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, tx.Rebind(s.dialect.Upsert), key, value, time.Now().UTC()); err != nil {
		return fmt.Errorf("error upserting queue: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing transaction: %w", err)
	}
	return nil
}

// Update locks key's row for the length of one transaction. The row is
// claimed with an empty placeholder first, so a missing queue is locked too.
func (s *SQLBackend) Update(ctx context.Context, key string, fn func(old []byte) ([]byte, error)) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error beginning queue update transaction: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, tx.Rebind(s.dialect.Claim), key, []byte{}, time.Now().UTC()); err != nil {
		return fmt.Errorf("error claiming queue row: %w", err)
	}
	var old []byte
	if err := tx.GetContext(ctx, &old, tx.Rebind(s.dialect.SelectForUpdate), key); err != nil {
		return fmt.Errorf("error locking queue row: %w", err)
	}
	if len(old) == 0 {
		old = nil
	}
	next, err := fn(old)
	if err != nil {
		return err
	}
	if next == nil {
		_, err = tx.ExecContext(ctx, tx.Rebind("DELETE FROM queue WHERE name = ?"), key)
	} else {
		_, err = tx.ExecContext(ctx, tx.Rebind(s.dialect.Upsert), key, next, time.Now().UTC())
	}
	if err != nil {
		return fmt.Errorf("error writing queue: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing transaction: %w", err)
	}
	return nil
}

func (s *SQLBackend) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, s.db.Rebind("DELETE FROM queue WHERE name = ?"), key); err != nil {
		return fmt.Errorf("error deleting queue: %w", err)
	}
	return nil
}

func (s *SQLBackend) Keys(ctx context.Context, prefix string) ([]string, error) {
	var names []string
	if err := s.db.SelectContext(ctx, &names, "SELECT name FROM queue"); err != nil {
		return nil, fmt.Errorf("error listing queues: %w", err)
	}
	keys := names[:0]
	for _, n := range names {
		if strings.HasPrefix(n, prefix) {
			keys = append(keys, n)
		}
	}
	sort.Strings(keys)
	return keys, nil
}
