package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/courtkeeper/courtkeeper/internal/domain"
	"github.com/lib/pq"
	"modernc.org/sqlite"
)

// pqUndefinedTable is the PostgreSQL SQLSTATE for a missing relation.
const pqUndefinedTable = "42P01"

// classify maps driver errors onto the domain error taxonomy so callers
// never inspect vendor codes.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	if isUndefinedTable(err) {
		return fmt.Errorf("%w: %v", domain.ErrSchemaNotReady, err)
	}
	return err
}

func isUndefinedTable(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pqUndefinedTable
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return strings.Contains(liteErr.Error(), "no such table")
	}

	return false
}
