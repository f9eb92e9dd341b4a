package diagnose

import (
	"databricks_smoke/internal/console"
)

// Failure prints "❌ <what>: <err>" followed by the error type.
func Failure(out *console.Printer, what string, err error) {
	out.Printf("\n❌ %s: %v\n", what, err)
	out.Printf("   Error type: %s\n", TypeName(err))
}

// AccessDeniedNotice prints the per-step warning when err is an access
// failure. note, if set, is printed after the banner line. It reports whether
// anything was printed.
func AccessDeniedNotice(out *console.Printer, err error, note string) bool {
	if !IsAccessDenied(err) {
		return false
	}
	out.Println("\n⚠️  DETECTED 403 FORBIDDEN ERROR!")
	if note != "" {
		out.Println("   " + note)
	}
	out.Println("   Error details:")
	out.Printf("   %v\n", err)
	return true
}

// ObjectStorageCauses prints the short cause list for a 403 that came back
// from the artifact object store.
func ObjectStorageCauses(out *console.Printer, err error) {
	if !IsObjectStorage(err) {
		return
	}
	out.Println("\n   The error is related to object storage artifact access.")
	out.Println("   Possible causes:")
	out.Lines("   ",
		"1. IAM permissions issue on the storage bucket",
		"2. Pre-signed URL generation issue",
		"3. Databricks workspace configuration issue",
		"4. Network/firewall blocking object storage access",
	)
}

// AccessDeniedAnalysis prints the full 403 narrative.
func AccessDeniedAnalysis(out *console.Printer) {
	out.Banner("⚠️  403 FORBIDDEN ERROR DETECTED")
	out.Println(`
The error indicates that MLflow is unable to write trace artifacts to
object storage.

Possible root causes:
1. IAM Role Permissions: The Databricks workspace's IAM role may lack
   PutObject permissions for the bucket storing MLflow artifacts.

2. Pre-signed URL Issue: The pre-signed URL generated for uploading
   traces might be expired or malformed.

3. Bucket Policy: The bucket policy might not allow writes from
   the workspace's IAM role or external clients.

4. Network/Firewall: Network restrictions might be blocking object
   storage access from your local machine or the Databricks workspace.

Recommended debugging steps:
1. Check Databricks workspace IAM role permissions for the bucket
2. Verify the bucket policy allows PutObject operations
3. Test with a different network connection (VPN on/off)
4. Check if traces work when run directly in Databricks notebooks
5. Review Databricks workspace configuration for MLflow artifact storage
6. Check if the issue occurs with all artifact types or just traces

Next step: Try running the same code from a Databricks notebook to see
if the issue is specific to remote clients or affects all trace logging.`)
}

// Checklist prints a numbered remediation list under title.
func Checklist(out *console.Printer, title string, items ...string) {
	out.Println("\n" + title)
	for i, item := range items {
		out.Printf("  %d. %s\n", i+1, item)
	}
}

// Remediation lists for the smoke commands.
var (
	MLflowChecklist = []string{
		"Databricks authentication (databricks auth login)",
		"Environment variables (see .env.example)",
		"Workspace permissions",
	}
	TracesChecklist = []string{
		"Databricks workspace permissions",
		"Object storage bucket policies and IAM roles",
		"Network connectivity to object storage",
		"MLflow configuration",
	}
	ConnectChecklist = []string{
		"Verify cluster is running",
		"Check DATABRICKS_CLUSTER_ID (or DATABRICKS_WAREHOUSE_ID) is correct",
		"Ensure you're authenticated (databricks auth login)",
		"Verify the SQL warehouse is started when using serverless compute",
	}
)
