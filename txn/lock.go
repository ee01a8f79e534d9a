package txn

import "github.com/karstdb/karst/dialect"

// Lock is a row-locking mode appended to SELECT statements running inside
// a transaction.
type Lock int

const (
	LockNone Lock = iota
	LockShare
	LockUpdate
)

// Suffix returns the locking clause for the dialect, including a leading
// space, or the empty string when the dialect locks at a coarser level.
// SQLite serializes writers on the whole database, so row locks are a
// no-op there.
func (l Lock) Suffix(d string) string {
	switch l {
	case LockShare:
		switch d {
		case dialect.MySQL:
			return " LOCK IN SHARE MODE"
		case dialect.SQLite:
			return ""
		default:
			return " FOR SHARE"
		}
	case LockUpdate:
		if d == dialect.SQLite {
			return ""
		}
		return " FOR UPDATE"
	default:
		return ""
	}
}
