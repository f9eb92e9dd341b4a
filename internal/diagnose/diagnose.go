// Package diagnose classifies smoke-test failures and prints the matching
// troubleshooting text.
package diagnose

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"databricks_smoke/internal/databricks"

	"github.com/databricks/databricks-sdk-go/apierr"
)

// Kind is the coarse failure category reported to the operator.
type Kind int

const (
	None Kind = iota
	Generic
	AccessDenied
	NotInstalled
	ConfigMissing
)

func (k Kind) String() string {
	switch k {
	case None:
		return "none"
	case AccessDenied:
		return "access_denied"
	case NotInstalled:
		return "not_installed"
	case ConfigMissing:
		return "config_missing"
	}
	return "generic"
}

// ErrConfigMissing wraps failures caused by unset configuration.
var ErrConfigMissing = errors.New("configuration missing")

// Error codes the platform returns when an API or feature is unavailable.
var unavailableCodes = map[string]bool{
	"ENDPOINT_NOT_FOUND": true,
	"FEATURE_DISABLED":   true,
	"NOT_IMPLEMENTED":    true,
}

var objectStorageHosts = []string{
	"amazonaws.com",
	"blob.core.windows.net",
	"dfs.core.windows.net",
	"storage.googleapis.com",
}

// IsAccessDenied reports whether the rendered error mentions "403" or
// "Forbidden". *databricks.APIError always renders its status, so a
// structured 403 is caught by the same rule. SDK errors render only their
// message and are matched on status code.
func IsAccessDenied(err error) bool {
	if err == nil {
		return false
	}
	if sdkErr, ok := asSDKError(err); ok && sdkErr.StatusCode == 403 {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "403") || strings.Contains(msg, "Forbidden")
}

func asSDKError(err error) (*apierr.APIError, bool) {
	var sdkErr *apierr.APIError
	if errors.As(err, &sdkErr) {
		return sdkErr, true
	}
	return nil, false
}

// IsObjectStorage reports whether the error references a cloud object store.
func IsObjectStorage(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, host := range objectStorageHosts {
		if strings.Contains(msg, host) {
			return true
		}
	}
	return false
}

// Classify returns the failure category of err.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return None
	case IsAccessDenied(err):
		return AccessDenied
	case errors.Is(err, ErrConfigMissing):
		return ConfigMissing
	case errors.Is(err, exec.ErrNotFound):
		return NotInstalled
	}
	if apiErr, ok := databricks.AsAPIError(err); ok && unavailableCodes[apiErr.ErrorCode] {
		return NotInstalled
	}
	if sdkErr, ok := asSDKError(err); ok && unavailableCodes[sdkErr.ErrorCode] {
		return NotInstalled
	}
	return Generic
}

// TypeName names the innermost error type, preferring *databricks.APIError.
func TypeName(err error) string {
	if err == nil {
		return ""
	}
	if apiErr, ok := databricks.AsAPIError(err); ok {
		return fmt.Sprintf("%T", apiErr)
	}
	if sdkErr, ok := asSDKError(err); ok {
		return fmt.Sprintf("%T", sdkErr)
	}
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return fmt.Sprintf("%T", err)
		}
		err = next
	}
}
