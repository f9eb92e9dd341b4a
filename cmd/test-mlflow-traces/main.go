// Command test-mlflow-traces logs traces to MLflow, reads them back and
// explains 403 failures from the artifact store.
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

	out.Banner("TESTING MLFLOW TRACE LOGGING TO DATABRICKS")
	out.Println("\nThis test helps debug 403 Forbidden errors when logging traces.")
	if !smoke.CheckConfiguration(out, config.NewChecker(), config.TracesRequirements(env.TrackingURI)) {
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	report := smoke.NewSuite(env, out).Traces(ctx)
	stop()
	if !report.OK() {
		os.Exit(1)
	}
}
