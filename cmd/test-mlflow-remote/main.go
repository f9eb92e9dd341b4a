// Command test-mlflow-remote tracks a training run against managed MLflow and
// registers the model in the workspace registry or Unity Catalog.
package main

import (
	"context"
	"os"
	"os/signal"

	"databricks_smoke/internal/config"
	"databricks_smoke/internal/console"
	"databricks_smoke/internal/smoke"
)

func main() {
	out := console.New(os.Stdout)
	env, err := smoke.Bootstrap(out, true)
	if err != nil {
		smoke.Fatal(out, "Failed to load configuration", err)
	}

	out.Banner("TESTING MANAGED MLFLOW ON DATABRICKS FROM LOCAL IDE")
	if !smoke.CheckConfiguration(out, config.NewChecker(), config.RemoteRequirements(env.TrackingURI)) {
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	report := smoke.NewSuite(env, out).Remote(ctx)
	stop()
	if !report.OK() {
		os.Exit(1)
	}
}
