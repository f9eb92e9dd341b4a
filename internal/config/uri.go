package config

import (
	"fmt"
	"net/url"
	"strings"
)

// URIKind identifies the backend a tracking or registry URI points at.
type URIKind int

const (
	KindUnknown URIKind = iota
	KindDatabricks
	KindUnityCatalog
	KindHTTP
)

func (k URIKind) String() string {
	switch k {
	case KindDatabricks:
		return "databricks"
	case KindUnityCatalog:
		return "databricks-uc"
	case KindHTTP:
		return "http"
	}
	return "unknown"
}

// ServiceURI is a parsed MLFLOW_TRACKING_URI or MLFLOW_REGISTRY_URI.
type ServiceURI struct {
	Raw     string
	Kind    URIKind
	Profile string // databricks://<profile>
	BaseURL string // http(s) servers only
}

// IsDatabricks reports whether the URI is served by a Databricks workspace.
func (u ServiceURI) IsDatabricks() bool {
	return u.Kind == KindDatabricks || u.Kind == KindUnityCatalog
}

// ParseServiceURI understands databricks, databricks://profile, databricks-uc,
// databricks-uc://profile and http(s) server URLs.
func ParseServiceURI(raw string) (ServiceURI, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ServiceURI{}, fmt.Errorf("empty service URI")
	}
	switch raw {
	case "databricks":
		return ServiceURI{Raw: raw, Kind: KindDatabricks}, nil
	case "databricks-uc":
		return ServiceURI{Raw: raw, Kind: KindUnityCatalog}, nil
	}

	for _, kind := range []URIKind{KindUnityCatalog, KindDatabricks} {
		rest, ok := strings.CutPrefix(raw, kind.String()+"://")
		if !ok {
			continue
		}
		// databricks://profile:prefix is a secret-scope reference in the Python client;
		// only the profile part is meaningful here.
		profile, _, _ := strings.Cut(rest, "/")
		profile, _, _ = strings.Cut(profile, ":")
		return ServiceURI{Raw: raw, Kind: kind, Profile: profile}, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return ServiceURI{}, fmt.Errorf("invalid service URI %q: %w", raw, err)
	}
	switch u.Scheme {
	case "http", "https":
		if u.Host == "" {
			return ServiceURI{}, fmt.Errorf("service URI %q has no host", raw)
		}
		return ServiceURI{Raw: raw, Kind: KindHTTP, BaseURL: strings.TrimRight(raw, "/")}, nil
	}
	return ServiceURI{}, fmt.Errorf("unsupported service URI scheme %q", u.Scheme)
}

// RegistryServiceURI resolves MLFLOW_REGISTRY_URI, falling back to the tracking URI
// the way the MLflow client does.
func (e *Env) RegistryServiceURI(tracking ServiceURI) (ServiceURI, error) {
	if e.RegistryURI == "" {
		return tracking, nil
	}
	return ParseServiceURI(e.RegistryURI)
}
