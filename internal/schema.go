package internal

import (
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/mattbonnell/syncq/internal/drivers/mysql"
	"github.com/mattbonnell/syncq/internal/drivers/postgres"
	"github.com/mattbonnell/syncq/internal/drivers/sqlite3"
	"github.com/rs/zerolog/log"
)

// Dialect holds the statements that differ between drivers.
type Dialect struct {
	Pragmas []string
	Schema  []string
	Upsert  string

	// Claim and SelectForUpdate lock one queue row inside an update
	// transaction.
	Claim           string
	SelectForUpdate string
}

func GetDialect(driverName string) (Dialect, error) {
	switch driverName {
	case "mysql":
		return Dialect{
			Schema:          mysql.Schema,
			Upsert:          mysql.Upsert,
			Claim:           mysql.Claim,
			SelectForUpdate: mysql.SelectForUpdate,
		}, nil
	case "postgres":
		return Dialect{
			Schema:          postgres.Schema,
			Upsert:          postgres.Upsert,
			Claim:           postgres.Claim,
			SelectForUpdate: postgres.SelectForUpdate,
		}, nil
	case "sqlite3":
		fallthrough
	case "sqlite":
		return Dialect{
			Pragmas:         sqlite3.Pragmas,
			Schema:          sqlite3.Schema,
			Upsert:          sqlite3.Upsert,
			Claim:           sqlite3.Claim,
			SelectForUpdate: sqlite3.SelectForUpdate,
		}, nil
	default:
		return Dialect{}, fmt.Errorf("driver '%s' not supported", driverName)
	}
}

// IsSQLite reports whether driverName is one of the SQLite drivers.
func IsSQLite(driverName string) bool {
	return driverName == "sqlite3" || driverName == "sqlite"
}

func CreateSchema(db *sqlx.DB) error {
	log.Debug().Msg("creating schema")
	dialect, err := GetDialect(db.DriverName())
	if err != nil {
		return fmt.Errorf("error retrieving schema: %w", err)
	}
	for _, stmt := range dialect.Pragmas {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to exec %s: %w", strings.TrimSpace(stmt), err)
		}
	}
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()
	for _, stmt := range dialect.Schema {
		_, err := tx.Exec(stmt)
		if err != nil {
			return fmt.Errorf("failed to exec stmt %s: %w", strings.TrimSpace(strings.Split(stmt, "(")[0]), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit tx: %w", err)
	}
	log.Debug().Msg("schema created")
	return nil
}
