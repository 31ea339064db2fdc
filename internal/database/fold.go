package database

import (
	"database/sql/driver"
	"fmt"
	"strings"

	"modernc.org/sqlite"
)

// SQLite's built-in lower() only folds ASCII. Search terms are folded with
// strings.ToLower, so every SQLite connection gets a lower() that folds the
// same way. Postgres already folds Unicode.
func init() {
	sqlite.MustRegisterDeterministicScalarFunction("lower", 1, foldLower)
}

func foldLower(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	switch v := args[0].(type) {
	case nil:
		return nil, nil
	case string:
		return strings.ToLower(v), nil
	case []byte:
		return strings.ToLower(string(v)), nil
	case int64, float64:
		return fmt.Sprint(v), nil
	default:
		return nil, fmt.Errorf("lower: unsupported argument type %T", v)
	}
}
