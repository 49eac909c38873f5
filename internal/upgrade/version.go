package upgrade

import (
	"context"
	"database/sql"
)

// RequiredSchemaVersion is the migration level this binary expects the
// database to be at. Bump it alongside new migration files.
const RequiredSchemaVersion = 1

// SchemaVersionChecker adapts CheckSchema into the scheduler's
// VersionChecker interface, letting the reserved __syne_update_check__
// task surface a schema-compatibility report to its owner on the normal
// 30s poll rather than only at process startup.
type SchemaVersionChecker struct {
	DB *sql.DB
}

func (c SchemaVersionChecker) Check(ctx context.Context) (string, error) {
	status, err := CheckSchema(c.DB)
	if err != nil {
		return "", err
	}
	if status.Compatible {
		return "Schema is up to date.", nil
	}
	return FormatError(status), nil
}
