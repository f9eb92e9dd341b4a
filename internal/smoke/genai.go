package smoke

import (
	"context"
	"fmt"

	"databricks_smoke/internal/agent"
	"databricks_smoke/internal/conversation"
	"databricks_smoke/internal/diagnose"
	"databricks_smoke/internal/logger"
	"databricks_smoke/internal/mlflow"
	"databricks_smoke/internal/tracing"

	"github.com/bytedance/sonic"
)

const (
	TestGenAIAgent = "genai_agent"

	agentArtifactPath = "agent"
	agentFlavor       = "eino_agent"
	agentConfigFile   = "agent_config.json"
	examplesFile      = "examples.json"
	testQuestion      = "What is the capital of France?"
)

var exampleQuestions = []string{
	"What is the capital of France?",
	"Explain machine learning",
	"What is Python?",
}

// GenAI builds the agent, asks it a question and logs it as a model.
func (s *Suite) GenAI(ctx context.Context) *Report {
	report := &Report{}
	s.Out.Banner("TEST: GENAI AGENT WITH MLFLOW")

	runID, err := s.runGenAI(ctx)
	if err != nil {
		s.Out.Printf("\n❌ Error in GenAI agent test: %v\n", err)
		diagnose.AccessDeniedNotice(s.Out, err, "")
		report.add(TestGenAIAgent, Failed, err, "")
		return report
	}
	report.add(TestGenAIAgent, Passed, nil, runID)
	s.printNextSteps()
	return report
}

func (s *Suite) runGenAI(ctx context.Context) (runID string, err error) {
	tracking, err := s.Conns.Tracking(ctx)
	if err != nil {
		return "", err
	}
	exp, err := tracking.SetExperiment(ctx, s.Env.ExperimentPath("test-genai-agent"))
	if err != nil {
		return "", err
	}
	s.Out.Printf("\n📝 Setting experiment: %s\n", exp.Name)

	s.Out.Println("\n🤖 Creating GenAI agent...")
	repo, err := conversation.NewRepository(ctx, s.Env.RedisURL, conversation.DefaultTTL)
	if err != nil {
		return "", err
	}
	defer repo.Close()

	tracer := tracing.NewTracer(tracing.NewMLflowExporter(tracking, exp.ExperimentID))
	a, err := agent.New(ctx, s.Env.LLMConfig,
		agent.WithRepository(repo),
		agent.WithCallbacks(tracer.CallbackHandler()),
	)
	if err != nil {
		return "", err
	}

	run, err := tracking.StartRun(ctx, exp.ExperimentID, "genai_agent_"+s.stamp(), nil)
	if err != nil {
		return "", err
	}
	defer func() {
		if endErr := run.End(context.WithoutCancel(ctx), err); endErr != nil && err == nil {
			err = endErr
		}
	}()

	answer, err := a.Ask(tracing.ContextWithRun(ctx, run.ID()), "smoke-"+s.stamp(), testQuestion)
	if err != nil {
		return "", err
	}
	s.Out.Println("\n✓ Agent test:")
	s.Out.Printf("  Q: %s\n", testQuestion)
	s.Out.Printf("  A: %s\n", answer)

	// A failed trace export is reported but does not fail the agent test.
	if ids, ferr := tracer.Flush(ctx); ferr != nil {
		s.Out.Printf("⚠ Could not export agent trace: %v\n", ferr)
		diagnose.AccessDeniedNotice(s.Out, ferr, "")
	} else {
		for _, id := range ids {
			s.Out.Printf("✓ Agent trace exported: %s\n", id)
		}
	}

	s.Out.Println("\n📦 Logging agent to MLflow...")
	if err := run.LogParam(ctx, "agent_type", agentType(a)); err != nil {
		return "", err
	}
	if err := run.LogParams(ctx, map[string]any{
		"model_name": a.Model(),
		"provider":   a.Provider(),
	}); err != nil {
		return "", err
	}
	if err := run.LogMetric(ctx, "test_passed", 1); err != nil {
		return "", err
	}

	if err := s.logAgentModel(ctx, run, a); err != nil {
		return "", err
	}
	s.Out.Println("✓ Agent logged successfully")

	examples := map[string]any{
		"example_questions": exampleQuestions,
		"example_response":  answer,
	}
	if err := run.LogDict(ctx, examples, examplesFile); err != nil {
		return "", err
	}

	s.Out.Println("\n✅ GenAI Agent logged successfully!")
	s.Out.Printf("   - Run ID: %s\n", run.ID())
	return run.ID(), nil
}

func agentType(a *agent.Agent) string {
	if a.Provider() == agent.ProviderMock {
		return "simple_mock"
	}
	return fmt.Sprint(a.Describe()["agent_type"])
}

// logAgentModel stores the agent configuration as a model directory.
func (s *Suite) logAgentModel(ctx context.Context, run *mlflow.ActiveRun, a *agent.Agent) error {
	desc := a.Describe()
	data, err := sonic.ConfigStd.MarshalIndent(desc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode agent config: %w", err)
	}
	model := mlflow.NewMLModel(agentArtifactPath, s.Now()).AddFlavor(agentFlavor, map[string]any{
		"config_file": agentConfigFile,
		"provider":    a.Provider(),
		"model_name":  a.Model(),
		"graph":       agent.GraphName,
	})
	sig, err := mlflow.ColumnSignature(
		[]mlflow.ColumnSpec{{Name: "question", Type: "string", Required: true}},
		[]mlflow.ColumnSpec{{Name: "answer", Type: "string"}},
	)
	if err != nil {
		return err
	}
	model.Signature = sig
	logger.Debug().Str("run_id", run.ID()).Str("artifact_path", agentArtifactPath).Msg("logging agent model")
	return run.LogModel(ctx, model, map[string][]byte{agentConfigFile: data})
}

func (s *Suite) printNextSteps() {
	s.Out.Banner("📚 NEXT STEPS FOR PRODUCTION GENAI AGENTS:")
	s.Out.Println(`
For production GenAI applications with MLflow, you would:

1. Build the agent as an eino graph with real tools and retrievers:
   compose.NewGraph[map[string]any, *schema.Message]()

2. Pick a hosted chat model with LLM_PROVIDER (openai, ollama, deepseek, ark)
   and keep conversation history in Redis with REDIS_URL.

3. Keep MLflow Tracing on for observability: every agent call above
   is exported as a trace through the eino callback handler.

4. Evaluate the agent against a labelled question set and log the
   scores as run metrics.

5. Deploy to Databricks Model Serving:
   - Register model to Unity Catalog
   - Create serving endpoint
   - Integrate with your application

See: https://mlflow.org/docs/latest/genai/`)
}
