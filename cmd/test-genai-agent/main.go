// Command test-genai-agent runs the eino chat agent once and logs it to MLflow
// as a model with its trace.
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
	env, err := smoke.Bootstrap(out, false)
	if err != nil {
		smoke.Fatal(out, "Failed to load configuration", err)
	}

	if !smoke.CheckConfiguration(out, config.NewChecker(), config.GenAIRequirements()) {
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	report := smoke.NewSuite(env, out).GenAI(ctx)
	stop()
	if !report.OK() {
		os.Exit(1)
	}
}
