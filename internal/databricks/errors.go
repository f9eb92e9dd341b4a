package databricks

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Error codes returned by Databricks and MLflow REST endpoints.
const (
	CodeResourceDoesNotExist = "RESOURCE_DOES_NOT_EXIST"
	CodeResourceExists       = "RESOURCE_ALREADY_EXISTS"
	CodePermissionDenied     = "PERMISSION_DENIED"
)

// APIError is a non-2xx response from a REST endpoint or an object store.
type APIError struct {
	StatusCode int
	ErrorCode  string
	Message    string
	Method     string
	URL        string
}

// Error always carries the numeric status and its reason phrase so callers
// that only see the rendered message can still recognize the failure class.
func (e *APIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d %s", e.StatusCode, http.StatusText(e.StatusCode))
	if e.ErrorCode != "" {
		b.WriteString(": ")
		b.WriteString(e.ErrorCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.URL != "" {
		fmt.Fprintf(&b, " (%s %s)", e.Method, e.URL)
	}
	return b.String()
}

// AsAPIError unwraps err into an *APIError.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// IsNotFound reports a 404 or RESOURCE_DOES_NOT_EXIST response.
func IsNotFound(err error) bool {
	apiErr, ok := AsAPIError(err)
	if !ok {
		return false
	}
	return apiErr.StatusCode == http.StatusNotFound || apiErr.ErrorCode == CodeResourceDoesNotExist
}

// IsAlreadyExists reports a RESOURCE_ALREADY_EXISTS response.
func IsAlreadyExists(err error) bool {
	apiErr, ok := AsAPIError(err)
	return ok && apiErr.ErrorCode == CodeResourceExists
}

// IsForbidden reports a 403 or PERMISSION_DENIED response.
func IsForbidden(err error) bool {
	apiErr, ok := AsAPIError(err)
	if !ok {
		return false
	}
	return apiErr.StatusCode == http.StatusForbidden || apiErr.ErrorCode == CodePermissionDenied
}
