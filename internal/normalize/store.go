package normalize

import (
	"context"
	"fmt"

	"github.com/cartie/cartie/internal/db"
)

// DBStore reads normalization_aliases.
type DBStore struct {
	db db.DBTX
}

func NewDBStore(conn db.DBTX) *DBStore {
	return &DBStore{db: conn}
}

func (s *DBStore) Lookup(ctx context.Context, companyID string, kind Kind, alias string) (string, bool, error) {
	var (
		value string
		err   error
	)
	if companyID == "" {
		err = s.db.QueryRow(ctx,
			`SELECT value FROM normalization_aliases
			 WHERE company_id IS NULL AND kind = $1 AND lower(alias) = $2 LIMIT 1`,
			string(kind), alias,
		).Scan(&value)
	} else {
		pgCompanyID, perr := db.ParseUUID(companyID)
		if perr != nil {
			return "", false, perr
		}
		err = s.db.QueryRow(ctx,
			`SELECT value FROM normalization_aliases
			 WHERE company_id = $1 AND kind = $2 AND lower(alias) = $3 LIMIT 1`,
			pgCompanyID, string(kind), alias,
		).Scan(&value)
	}
	if err != nil {
		if db.IsNoRows(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("lookup alias: %w", err)
	}
	return value, true, nil
}
