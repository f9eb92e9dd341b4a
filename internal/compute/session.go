// Package compute opens remote compute sessions on a Databricks workspace and
// runs tabular queries through them.
//
// A cluster session uses the Command Execution API (an execution context is
// the remote session); a warehouse session uses the SQL Statement Execution
// API, which is how serverless compute is reached without Spark Connect.
package compute

import (
	"context"
	"strings"
)

// Session is an open remote compute session.
type Session interface {
	// Describe names the compute resource, e.g. "cluster 0123-abc (smoke)".
	Describe() string
	// Version returns the Spark version the session runs on.
	Version(ctx context.Context) (string, error)
	// Query runs one SQL statement and returns its result.
	Query(ctx context.Context, statement string) (*Table, error)
	// CreateTempView registers df under name for later queries in this session.
	CreateTempView(ctx context.Context, name string, df *DataFrame) error
	// Close releases the remote session.
	Close(ctx context.Context) error
}

// sparkVersion extracts "3.5.0" from version()'s "3.5.0 <git hash>".
func sparkVersion(t *Table) string {
	if len(t.Rows) == 0 || len(t.Rows[0]) == 0 {
		return ""
	}
	fields := strings.Fields(t.Rows[0][0])
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

const versionQuery = "SELECT version()"
