package services

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// lockForUpdate scopes a query to a row-level lock on postgres. The lock is
// always per-row, never global: unrelated workspaces and invoices proceed
// independently. sqlite has no row locks and serializes writers itself, so
// the clause is skipped there.
func lockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}
