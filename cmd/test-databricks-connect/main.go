// Command test-databricks-connect checks that tabular queries run on a
// Databricks cluster or SQL warehouse from a local machine.
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

	if !smoke.CheckConfiguration(out, config.NewChecker(), config.ConnectRequirements()) {
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	report := smoke.NewSuite(env, out).Connect(ctx)
	stop()
	if !report.OK() {
		os.Exit(1)
	}
}
