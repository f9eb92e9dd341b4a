package config

// Requirements of each smoke command. Required variables fail the check when
// unset; optional ones are reported with their defaults.

// RemoteRequirements covers test-mlflow-remote.
func RemoteRequirements(tracking string) Requirements {
	return Requirements{
		Required: []Var{
			{Name: "MLFLOW_TRACKING_URI"},
			{Name: "DATABRICKS_PROFILE"},
		},
		Optional: []Var{
			{Name: "MLFLOW_REGISTRY_URI"},
			{Name: "DATABRICKS_HOST"},
			{Name: "DATABRICKS_CLUSTER_ID"},
			{Name: "UC_CATALOG", Default: "main"},
			{Name: "UC_SCHEMA", Default: "default"},
		},
		NeedsProfileFile: needsProfileFile(tracking),
	}
}

// TracesRequirements covers test-mlflow-traces.
func TracesRequirements(tracking string) Requirements {
	return Requirements{
		Required: []Var{
			{Name: "MLFLOW_TRACKING_URI"},
			{Name: "DATABRICKS_PROFILE"},
		},
		Optional: []Var{
			{Name: "MLFLOW_REGISTRY_URI"},
			{Name: "DATABRICKS_HOST"},
		},
		NeedsProfileFile: needsProfileFile(tracking),
	}
}

// GenAIRequirements covers test-genai-agent.
func GenAIRequirements() Requirements {
	return Requirements{
		Required: []Var{
			{Name: "MLFLOW_TRACKING_URI"},
		},
		Optional: []Var{
			{Name: "MLFLOW_EXPERIMENT_NAME"},
			{Name: "LLM_PROVIDER", Default: "mock"},
			{Name: "LLM_MODEL"},
			{Name: "REDIS_URL"},
		},
	}
}

// ConnectRequirements covers test-databricks-connect. Either a cluster or a
// SQL warehouse must be named.
func ConnectRequirements() Requirements {
	return Requirements{
		Required: []Var{
			{Name: "DATABRICKS_CLUSTER_ID", Alt: "DATABRICKS_WAREHOUSE_ID"},
		},
		Optional: []Var{
			{Name: "DATABRICKS_CONFIG_PROFILE", Default: "DEFAULT"},
			{Name: "DATABRICKS_HOST"},
		},
	}
}

// Profile-based auth only matters for workspace-hosted tracking. An unset or
// unparsable URI keeps the requirement so the check still fails loudly.
func needsProfileFile(tracking string) bool {
	uri, err := ParseServiceURI(tracking)
	if err != nil {
		return true
	}
	return uri.IsDatabricks()
}
