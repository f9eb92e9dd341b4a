package smoke

import (
	"context"
	"fmt"

	"databricks_smoke/internal/compute"
	"databricks_smoke/internal/diagnose"
	"databricks_smoke/internal/logger"
)

var (
	employeeColumns = []string{"name", "age", "department"}
	employeeRows    = [][]any{
		{"Alice", 34, "Engineering"},
		{"Bob", 45, "Sales"},
		{"Cathy", 29, "Engineering"},
		{"David", 38, "Marketing"},
	}
)

const departmentCountSQL = "SELECT department, COUNT(*) as count FROM employees GROUP BY department"

// Connect opens a compute session, runs the employees queries and closes it.
func (s *Suite) Connect(ctx context.Context) *Report {
	report := &Report{}
	s.Out.Banner("TESTING DATABRICKS CONNECT")

	err := s.runConnect(ctx)
	if err != nil {
		diagnose.Failure(s.Out, "Error testing Databricks Connect", err)
		diagnose.AccessDeniedNotice(s.Out, err, "")
		diagnose.Checklist(s.Out, "   Troubleshooting:", diagnose.ConnectChecklist...)
		report.add("databricks_connect", Failed, err, "")
		return report
	}
	report.add("databricks_connect", Passed, nil, "")
	return report
}

func (s *Suite) runConnect(ctx context.Context) (err error) {
	session, err := s.openSession(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := session.Close(context.WithoutCancel(ctx)); cerr != nil {
			logger.Warn().Err(cerr).Str("compute", session.Describe()).Msg("failed to close compute session")
			if err == nil {
				err = fmt.Errorf("failed to close session: %w", cerr)
			}
		}
	}()

	version, err := session.Version(ctx)
	if err != nil {
		return err
	}
	s.Out.Println("✓ Connected to Databricks!")
	s.Out.Printf("  Compute: %s\n", session.Describe())
	s.Out.Printf("  Spark version: %s\n", version)

	s.Out.Println("\n🧪 Testing basic Spark operations...")
	df, err := compute.CreateDataFrame(session, employeeRows, employeeColumns)
	if err != nil {
		return err
	}
	shown, err := df.Show(ctx)
	if err != nil {
		return err
	}
	s.Out.Println("\n✓ Created DataFrame:")
	s.Out.Println(shown)

	s.Out.Println("\n✓ Performing transformations...")
	grouped, err := df.GroupByCount("department").Show(ctx)
	if err != nil {
		return err
	}
	s.Out.Println(grouped)

	s.Out.Println("\n✓ Testing Spark SQL...")
	if err := df.CreateOrReplaceTempView(ctx, "employees"); err != nil {
		return err
	}
	result, err := session.Query(ctx, departmentCountSQL)
	if err != nil {
		return err
	}
	s.Out.Println(result.String())

	s.Out.Println("\n✅ Databricks Connect test PASSED!")
	s.Out.Println("   You can now run Spark code on Databricks from your local IDE!")
	return nil
}

func (s *Suite) openSession(ctx context.Context) (compute.Session, error) {
	switch {
	case s.Env.ClusterID != "":
		s.Out.Printf("\n🔌 Connecting to Databricks cluster: %s\n", s.Env.ClusterID)
	case s.Env.WarehouseID != "":
		s.Out.Printf("\n🔌 Connecting to Databricks serverless compute (warehouse: %s, profile: %s)...\n",
			s.Env.WarehouseID, s.Env.ConfigProfile)
	default:
		return nil, fmt.Errorf("%w: set DATABRICKS_CLUSTER_ID or DATABRICKS_WAREHOUSE_ID", diagnose.ErrConfigMissing)
	}

	w, err := s.Conns.Compute(ctx)
	if err != nil {
		return nil, err
	}
	if s.Env.ClusterID != "" {
		cluster, err := compute.OpenCluster(ctx, w, s.Env.ClusterID)
		if err != nil {
			return nil, err
		}
		return cluster, nil
	}
	warehouse, err := compute.OpenWarehouse(ctx, w, s.Env.WarehouseID)
	if err != nil {
		return nil, err
	}
	return warehouse, nil
}
