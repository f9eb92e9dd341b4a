package compute

import (
	"context"
	"fmt"
	"time"

	"databricks_smoke/internal/logger"

	sdk "github.com/databricks/databricks-sdk-go"
	sdkcompute "github.com/databricks/databricks-sdk-go/service/compute"
)

// defaultWait bounds context startup and a single command.
const defaultWait = 20 * time.Minute

// ClusterInfo is the subset of clusters/get the smoke test displays.
type ClusterInfo struct {
	ClusterID    string
	ClusterName  string
	State        sdkcompute.State
	StateMessage string
	SparkVersion string
}

// ClusterSession runs SQL in an execution context on an all-purpose cluster.
type ClusterSession struct {
	commands  sdkcompute.CommandExecutionInterface
	cluster   ClusterInfo
	contextID string
	wait      time.Duration
}

// OpenCluster checks that the cluster is running and creates a SQL execution
// context on it.
func OpenCluster(ctx context.Context, w *sdk.WorkspaceClient, clusterID string) (*ClusterSession, error) {
	details, err := w.Clusters.Get(ctx, sdkcompute.GetClusterRequest{ClusterId: clusterID})
	if err != nil {
		return nil, fmt.Errorf("failed to get cluster %s: %w", clusterID, err)
	}
	info := ClusterInfo{
		ClusterID:    clusterID,
		ClusterName:  details.ClusterName,
		State:        details.State,
		StateMessage: details.StateMessage,
		SparkVersion: details.SparkVersion,
	}
	if info.State != sdkcompute.StateRunning {
		msg := info.StateMessage
		if msg == "" {
			msg = "start it from the Compute page"
		}
		return nil, fmt.Errorf("cluster %s is %s, not %s: %s", clusterID, info.State, sdkcompute.StateRunning, msg)
	}

	s := &ClusterSession{commands: w.CommandExecution, cluster: info, wait: defaultWait}

	created, err := s.commands.Create(ctx, sdkcompute.CreateContext{
		ClusterId: clusterID,
		Language:  sdkcompute.LanguageSql,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create execution context: %w", err)
	}
	s.contextID = created.ContextId

	if _, err := created.GetWithTimeout(s.wait); err != nil {
		s.Close(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("execution context not ready: %w", err)
	}

	logger.Debug().Str("cluster", clusterID).Str("context", s.contextID).Msg("execution context ready")
	return s, nil
}

func (s *ClusterSession) Describe() string {
	if s.cluster.ClusterName != "" {
		return fmt.Sprintf("cluster %s (%s)", s.cluster.ClusterID, s.cluster.ClusterName)
	}
	return "cluster " + s.cluster.ClusterID
}

func (s *ClusterSession) Version(ctx context.Context) (string, error) {
	t, err := s.Query(ctx, versionQuery)
	if err != nil {
		return "", err
	}
	return sparkVersion(t), nil
}

func (s *ClusterSession) Query(ctx context.Context, statement string) (*Table, error) {
	running, err := s.commands.Execute(ctx, sdkcompute.Command{
		ClusterId: s.cluster.ClusterID,
		ContextId: s.contextID,
		Language:  sdkcompute.LanguageSql,
		Command:   statement,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to submit command: %w", err)
	}
	st, err := running.GetWithTimeout(s.wait)
	if err != nil {
		return nil, fmt.Errorf("command %s: %w", running.CommandId, err)
	}
	return commandTable(st)
}

func (s *ClusterSession) CreateTempView(ctx context.Context, name string, df *DataFrame) error {
	_, err := s.Query(ctx, fmt.Sprintf("CREATE OR REPLACE TEMP VIEW %s AS %s", quoteIdent(name), df.SQL()))
	return err
}

func (s *ClusterSession) Close(ctx context.Context) error {
	if s.contextID == "" {
		return nil
	}
	err := s.commands.Destroy(ctx, sdkcompute.DestroyContext{ClusterId: s.cluster.ClusterID, ContextId: s.contextID})
	if err != nil {
		return fmt.Errorf("failed to destroy execution context: %w", err)
	}
	s.contextID = ""
	return nil
}

func commandTable(st *sdkcompute.CommandStatusResponse) (*Table, error) {
	res := st.Results
	if res == nil {
		return &Table{}, nil
	}
	if st.Status == sdkcompute.CommandStatusError || res.ResultType == sdkcompute.ResultTypeError {
		msg := res.Summary
		if msg == "" {
			msg = res.Cause
		}
		return nil, fmt.Errorf("command failed: %s", msg)
	}

	t := &Table{}
	for _, f := range res.Schema {
		name, _ := f["name"].(string)
		typ, _ := f["type"].(string)
		t.Columns = append(t.Columns, Column{Name: name, Type: cleanTypeName(typ)})
	}
	if rows, ok := res.Data.([]any); ok {
		data := make([][]any, 0, len(rows))
		for _, r := range rows {
			if cells, ok := r.([]any); ok {
				data = append(data, cells)
			}
		}
		t.Rows = rowsFromJSON(data)
	}
	return t, nil
}
