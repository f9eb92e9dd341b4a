package smoke

import (
	"context"
	"fmt"
	"maps"

	"databricks_smoke/internal/config"
	"databricks_smoke/internal/diagnose"
	"databricks_smoke/internal/mlflow"
	"databricks_smoke/internal/trainer"
)

const (
	modelArtifactPath  = "model"
	workspaceModelName = "test_forest_model"
)

// Test names in the remote report.
const (
	TestTracking       = "MLflow Tracking"
	TestWorkspaceModel = "Model Registry (Workspace)"
	TestUnityCatalog   = "Unity Catalog Model"
)

// Remote tracks a training run, then registers its model in the workspace
// registry or in Unity Catalog depending on MLFLOW_REGISTRY_URI.
func (s *Suite) Remote(ctx context.Context) *Report {
	report := &Report{}

	run, err := s.trackTraining(ctx)
	if err != nil {
		report.add(TestTracking, Failed, err, "")
		s.remoteFailed(err)
		return report
	}
	report.add(TestTracking, Passed, nil, run.RunID)

	mv, err := s.registerWorkspaceModel(ctx, run)
	switch {
	case err != nil:
		report.add(TestWorkspaceModel, Skipped, err, "")
	case mv == nil:
		report.add(TestWorkspaceModel, Skipped, nil, "")
	default:
		report.add(TestWorkspaceModel, Passed, nil, fmt.Sprintf("%s v%s", mv.Name, mv.Version))
	}

	mv, err = s.registerUnityCatalogModel(ctx, run)
	switch {
	case err != nil:
		report.add(TestUnityCatalog, Failed, err, "")
		s.remoteFailed(err)
		return report
	case mv == nil:
		report.add(TestUnityCatalog, Skipped, nil, "")
	default:
		report.add(TestUnityCatalog, Passed, nil, fmt.Sprintf("%s v%s", mv.Name, mv.Version))
	}

	s.Out.Banner("TEST SUMMARY")
	for _, t := range report.Results {
		if t.Status == Passed {
			s.Out.Printf("\n✅ %s: PASSED\n", t.Name)
			if t.Name == TestTracking {
				s.Out.Printf("   - Run ID: %s\n", t.Detail)
			} else {
				s.Out.Printf("   - Model: %s\n", t.Detail)
			}
			continue
		}
		s.Out.Printf("\n⚠ %s: SKIPPED\n", t.Name)
	}

	s.Out.Banner("🎉 ALL TESTS COMPLETED!")
	s.Out.Println("\nYou can now use managed MLflow from your local IDE!")
	s.Out.Println("Check your Databricks workspace to see the logged experiments and models.")
	return report
}

func (s *Suite) remoteFailed(err error) {
	s.Out.Banner("❌ TESTS FAILED")
	s.Out.Printf("\nError: %v\n", err)
	if diagnose.Classify(err) == diagnose.AccessDenied {
		s.Out.Println("   (access denied: check workspace and storage permissions)")
	}
	diagnose.Checklist(s.Out, "Please check:", diagnose.MLflowChecklist...)
}

// trackTraining is Test 1: experiment, run, params, toy model, metrics and
// the logged model with its signature.
func (s *Suite) trackTraining(ctx context.Context) (run mlflow.RunInfo, err error) {
	s.Out.Banner("TEST 1: CREATE AND TRACK MLFLOW EXPERIMENT")
	defer func() {
		if err != nil {
			s.Out.Printf("\n❌ Error in MLflow tracking test: %v\n", err)
		}
	}()

	tracking, err := s.Conns.Tracking(ctx)
	if err != nil {
		return run, err
	}
	exp, err := s.setExperiment(ctx, tracking, "test-mlflow-remote")
	if err != nil {
		return run, err
	}

	s.Out.Println("\n🏃 Starting MLflow run...")
	active, err := tracking.StartRun(ctx, exp.ExperimentID, "test_run_"+s.stamp(), nil)
	if err != nil {
		return run, err
	}
	defer func() {
		if endErr := active.End(context.WithoutCancel(ctx), err); endErr != nil && err == nil {
			err = endErr
		}
		run = active.Info
	}()

	params := trainer.DefaultForest.Params()
	logged := maps.Clone(params)
	logged["test"] = "local_ide"
	if err := active.LogParams(ctx, logged); err != nil {
		return run, err
	}
	s.Out.Printf("✓ Logged parameters: %s\n", formatParams(logged))

	result, err := trainer.Train(trainer.DefaultClassification, trainer.DefaultForest)
	if err != nil {
		return run, fmt.Errorf("failed to train model: %w", err)
	}
	metrics := result.Metrics()
	if err := active.LogMetrics(ctx, metrics); err != nil {
		return run, err
	}
	s.Out.Printf("✓ Logged metrics: %s\n", formatParams(metrics))

	sig, err := result.Signature()
	if err != nil {
		return run, err
	}
	files, flavor, err := result.Artifacts()
	if err != nil {
		return run, err
	}
	model := mlflow.NewMLModel(modelArtifactPath, s.Now()).AddFlavor(trainer.FlavorName, flavor)
	model.Signature = sig
	if err := active.LogModel(ctx, model, files); err != nil {
		return run, err
	}
	s.Out.Println("✓ Logged model artifact with signature")

	s.Out.Println("\n✅ Run completed successfully!")
	s.Out.Printf("   - Run ID: %s\n", active.Info.RunID)
	s.Out.Printf("   - Run Name: %s\n", active.Info.RunName)
	s.Out.Printf("   - Status: %s\n", active.Info.Status)
	return active.Info, nil
}

// registerWorkspaceModel is Test 2. A nil version means the test was skipped.
// Failures are reported but do not stop the suite.
func (s *Suite) registerWorkspaceModel(ctx context.Context, run mlflow.RunInfo) (*mlflow.ModelVersion, error) {
	s.Out.Banner("TEST 2: REGISTER MODEL TO MLFLOW REGISTRY")

	if s.Conns.RegistryURI().Kind == config.KindUnityCatalog {
		s.Out.Println("\n⚠ Skipping workspace model registry test (using Unity Catalog)")
		s.Out.Println("  Set MLFLOW_REGISTRY_URI='databricks://your-profile' to test workspace registry")
		return nil, nil
	}

	s.Out.Printf("\n📦 Registering model: %s\n", workspaceModelName)
	s.Out.Printf("   From run: %s\n", run.RunID)

	mv, err := s.register(ctx, run, workspaceModelName)
	if err != nil {
		s.Out.Printf("\n❌ Error in model registry test: %v\n", err)
		s.Out.Println("   This might be expected if you're using Unity Catalog exclusively")
		return nil, err
	}
	s.Out.Println("\n✅ Model registered successfully!")
	s.printVersion(mv)
	return mv, nil
}

// registerUnityCatalogModel is Test 3. It runs only against databricks-uc.
func (s *Suite) registerUnityCatalogModel(ctx context.Context, run mlflow.RunInfo) (*mlflow.ModelVersion, error) {
	s.Out.Banner("TEST 3: REGISTER MODEL IN UNITY CATALOG")

	if s.Conns.RegistryURI().Kind != config.KindUnityCatalog {
		s.Out.Println("\n⚠ Skipping Unity Catalog test (not configured)")
		s.Out.Println("  Set MLFLOW_REGISTRY_URI='databricks-uc' to test Unity Catalog")
		return nil, nil
	}

	name := fmt.Sprintf("%s.%s.test_model_%s", s.Env.Catalog, s.Env.Schema, s.stamp())
	s.Out.Println("\n📦 Registering model in Unity Catalog:")
	s.Out.Printf("   - Full name: %s\n", name)
	s.Out.Printf("   - Catalog: %s\n", s.Env.Catalog)
	s.Out.Printf("   - Schema: %s\n", s.Env.Schema)
	s.Out.Printf("   - From run: %s\n", run.RunID)

	mv, err := s.register(ctx, run, name)
	if err != nil {
		s.Out.Printf("\n❌ Error in Unity Catalog test: %v\n", err)
		s.Out.Printf("   Error details: %s\n", diagnose.TypeName(err))
		return nil, err
	}
	s.Out.Println("\n✅ Model registered in Unity Catalog!")
	s.printVersion(mv)

	reg, err := s.Conns.Registry(ctx)
	if err == nil {
		err = reg.UpdateModelVersion(ctx, mv.Name, mv.Version, "Test model registered from local IDE")
	}
	if err == nil {
		err = reg.SetModelVersionTag(ctx, mv.Name, mv.Version, "source", "local_ide_test")
	}
	if err != nil {
		s.Out.Printf("⚠ Could not add tags: %v\n", err)
	} else {
		s.Out.Println("✓ Added description and tags to model version")
	}
	return mv, nil
}

func (s *Suite) register(ctx context.Context, run mlflow.RunInfo, name string) (*mlflow.ModelVersion, error) {
	reg, err := s.Conns.Registry(ctx)
	if err != nil {
		return nil, err
	}
	return reg.RegisterModel(ctx, run, modelArtifactPath, name)
}

func (s *Suite) printVersion(mv *mlflow.ModelVersion) {
	s.Out.Printf("   - Model Name: %s\n", mv.Name)
	s.Out.Printf("   - Version: %s\n", mv.Version)
	s.Out.Printf("   - Status: %s\n", mv.Status)
	s.Out.Printf("   - Source: %s\n", mv.Source)
}

// setExperiment selects MLFLOW_EXPERIMENT_NAME or the per-user default and
// prints what the server returned.
func (s *Suite) setExperiment(ctx context.Context, tracking *mlflow.Client, suffix string) (*mlflow.Experiment, error) {
	name := s.Env.ExperimentPath(suffix)
	s.Out.Printf("\n📝 Setting experiment: %s\n", name)
	exp, err := tracking.SetExperiment(ctx, name)
	if err != nil {
		return nil, err
	}
	s.Out.Printf("✓ Experiment created/found: %s\n", exp.Name)
	s.Out.Printf("  - Experiment ID: %s\n", exp.ExperimentID)
	s.Out.Printf("  - Artifact Location: %s\n", exp.ArtifactLocation)
	return exp, nil
}
