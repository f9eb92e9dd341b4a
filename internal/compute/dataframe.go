package compute

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// DataFrame is a lazily evaluated SQL relation bound to a session.
type DataFrame struct {
	session Session
	columns []string
	sql     string
}

// CreateDataFrame builds a relation from in-memory rows using an inline
// VALUES clause. Supported cell types: string, integers, floats, bool, nil.
func CreateDataFrame(s Session, rows [][]any, columns []string) (*DataFrame, error) {
	if len(columns) == 0 {
		return nil, fmt.Errorf("dataframe needs at least one column")
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("dataframe needs at least one row")
	}

	tuples := make([]string, 0, len(rows))
	for i, row := range rows {
		if len(row) != len(columns) {
			return nil, fmt.Errorf("row %d has %d values, want %d", i, len(row), len(columns))
		}
		lits := make([]string, len(row))
		for j, v := range row {
			lit, err := sqlLiteral(v)
			if err != nil {
				return nil, fmt.Errorf("row %d column %s: %w", i, columns[j], err)
			}
			lits[j] = lit
		}
		tuples = append(tuples, "("+strings.Join(lits, ", ")+")")
	}

	idents := make([]string, len(columns))
	for i, c := range columns {
		idents[i] = quoteIdent(c)
	}
	sql := fmt.Sprintf("SELECT * FROM VALUES %s AS t(%s)", strings.Join(tuples, ", "), strings.Join(idents, ", "))
	return &DataFrame{session: s, columns: columns, sql: sql}, nil
}

// SQL returns the relation's defining query.
func (df *DataFrame) SQL() string {
	return df.sql
}

// Columns returns the relation's column names.
func (df *DataFrame) Columns() []string {
	return df.columns
}

// GroupByCount is df.groupBy(column).count().
func (df *DataFrame) GroupByCount(column string) *DataFrame {
	col := quoteIdent(column)
	return &DataFrame{
		session: df.session,
		columns: []string{column, "count"},
		sql:     fmt.Sprintf("SELECT %s, COUNT(*) AS `count` FROM (%s) GROUP BY %s", col, df.sql, col),
	}
}

// Collect evaluates the relation.
func (df *DataFrame) Collect(ctx context.Context) (*Table, error) {
	return df.session.Query(ctx, df.sql)
}

// Show evaluates the relation and renders it.
func (df *DataFrame) Show(ctx context.Context) (string, error) {
	t, err := df.Collect(ctx)
	if err != nil {
		return "", err
	}
	return t.String(), nil
}

// CreateOrReplaceTempView registers the relation under name.
func (df *DataFrame) CreateOrReplaceTempView(ctx context.Context, name string) error {
	return df.session.CreateTempView(ctx, name, df)
}

func quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func sqlLiteral(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "NULL", nil
	case string:
		return "'" + strings.ReplaceAll(strings.ReplaceAll(x, `\`, `\\`), "'", `\'`) + "'", nil
	case int:
		return strconv.Itoa(x), nil
	case int32:
		return strconv.FormatInt(int64(x), 10), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32), nil
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64), nil
	case bool:
		if x {
			return "TRUE", nil
		}
		return "FALSE", nil
	}
	return "", fmt.Errorf("unsupported value type %T", v)
}
