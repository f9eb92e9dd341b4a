package compute

import (
	"context"
	"fmt"
	"strings"

	"databricks_smoke/internal/databricks"

	sdk "github.com/databricks/databricks-sdk-go"
	dbsql "github.com/databricks/databricks-sdk-go/service/sql"
)

// WarehouseInfo is the subset of warehouses/get the smoke test displays.
type WarehouseInfo struct {
	ID                      string
	Name                    string
	State                   dbsql.State
	EnableServerlessCompute bool
}

// WarehouseSession runs statements on a SQL warehouse. Each statement is
// independent on the server, so temp views are kept client-side and inlined
// as common table expressions.
type WarehouseSession struct {
	statements dbsql.StatementExecutionInterface
	warehouse  WarehouseInfo
	views      []view
	poll       databricks.PollPolicy
}

type view struct {
	name string
	sql  string
}

// OpenWarehouse looks up the warehouse. Stopped warehouses start on the first
// statement, so no state check is made here.
func OpenWarehouse(ctx context.Context, w *sdk.WorkspaceClient, warehouseID string) (*WarehouseSession, error) {
	wh, err := w.Warehouses.Get(ctx, dbsql.GetWarehouseRequest{Id: warehouseID})
	if err != nil {
		return nil, fmt.Errorf("failed to get warehouse %s: %w", warehouseID, err)
	}
	info := WarehouseInfo{
		ID:                      warehouseID,
		Name:                    wh.Name,
		State:                   wh.State,
		EnableServerlessCompute: wh.EnableServerlessCompute,
	}
	return &WarehouseSession{statements: w.StatementExecution, warehouse: info, poll: databricks.DefaultPollPolicy}, nil
}

func (s *WarehouseSession) Describe() string {
	kind := "warehouse"
	if s.warehouse.EnableServerlessCompute {
		kind = "serverless warehouse"
	}
	return fmt.Sprintf("%s %s (%s, %s)", kind, s.warehouse.ID, s.warehouse.Name, s.warehouse.State)
}

func (s *WarehouseSession) Version(ctx context.Context) (string, error) {
	t, err := s.Query(ctx, versionQuery)
	if err != nil {
		return "", err
	}
	return sparkVersion(t), nil
}

func (s *WarehouseSession) Query(ctx context.Context, statement string) (*Table, error) {
	resp, err := s.statements.ExecuteStatement(ctx, dbsql.ExecuteStatementRequest{
		Statement:     s.withViews(statement),
		WarehouseId:   s.warehouse.ID,
		WaitTimeout:   "30s",
		OnWaitTimeout: dbsql.ExecuteStatementRequestOnWaitTimeoutContinue,
		Format:        dbsql.FormatJsonArray,
		Disposition:   dbsql.DispositionInline,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to submit statement: %w", err)
	}

	if isStatementPending(resp) {
		id := resp.StatementId
		resp, err = databricks.Poll(ctx, s.poll, func(ctx context.Context) (*dbsql.StatementResponse, bool, error) {
			st, err := s.statements.GetStatement(ctx, dbsql.GetStatementRequest{StatementId: id})
			if err != nil {
				return nil, false, err
			}
			return st, !isStatementPending(st), nil
		})
		if err != nil {
			return nil, fmt.Errorf("statement %s: %w", id, err)
		}
	}
	return statementTable(resp)
}

func (s *WarehouseSession) CreateTempView(ctx context.Context, name string, df *DataFrame) error {
	for i, v := range s.views {
		if v.name == name {
			s.views[i].sql = df.SQL()
			return nil
		}
	}
	s.views = append(s.views, view{name: name, sql: df.SQL()})
	return nil
}

// Close is a no-op: statements hold no server-side session.
func (s *WarehouseSession) Close(ctx context.Context) error {
	s.views = nil
	return nil
}

func (s *WarehouseSession) withViews(statement string) string {
	if len(s.views) == 0 {
		return statement
	}
	ctes := make([]string, len(s.views))
	for i, v := range s.views {
		ctes[i] = fmt.Sprintf("%s AS (%s)", quoteIdent(v.name), v.sql)
	}
	return "WITH " + strings.Join(ctes, ", ") + " " + statement
}

func statementState(resp *dbsql.StatementResponse) dbsql.StatementState {
	if resp.Status == nil {
		return ""
	}
	return resp.Status.State
}

func isStatementPending(resp *dbsql.StatementResponse) bool {
	state := statementState(resp)
	return state == dbsql.StatementStatePending || state == dbsql.StatementStateRunning
}

func statementTable(resp *dbsql.StatementResponse) (*Table, error) {
	if state := statementState(resp); state != dbsql.StatementStateSucceeded {
		msg := string(state)
		if resp.Status != nil && resp.Status.Error != nil {
			msg = fmt.Sprintf("%s: %s", resp.Status.Error.ErrorCode, resp.Status.Error.Message)
		}
		return nil, fmt.Errorf("statement %s failed: %s", resp.StatementId, msg)
	}
	t := &Table{}
	if resp.Manifest != nil && resp.Manifest.Schema != nil {
		for _, c := range resp.Manifest.Schema.Columns {
			t.Columns = append(t.Columns, Column{Name: c.Name, Type: strings.ToLower(string(c.TypeName))})
		}
	}
	if resp.Result != nil {
		t.Rows = rowsFromStrings(resp.Result.DataArray)
	}
	return t, nil
}
