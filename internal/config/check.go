package config

import (
	"os"
	"path/filepath"
	"strings"

	"databricks_smoke/internal/console"
)

// Var is one documented environment variable. Alt names a variable that
// satisfies the same requirement (either may be set).
type Var struct {
	Name    string
	Alt     string
	Default string
}

// Label is how the variable is shown in the configuration report.
func (v Var) Label() string {
	if v.Alt != "" {
		return v.Name + " | " + v.Alt
	}
	return v.Name
}

// Requirements is the documented configuration surface of one command.
type Requirements struct {
	Required []Var
	Optional []Var
	// NeedsProfileFile requires ~/.databrickscfg to exist.
	NeedsProfileFile bool
}

// VarStatus is the observed state of one variable.
type VarStatus struct {
	Var     Var
	Value   string
	Present bool
}

// CheckResult is the outcome of a configuration check.
type CheckResult struct {
	Required          []VarStatus
	Optional          []VarStatus
	ProfileFile       string
	ProfileFileFound  bool
	ProfileFileNeeded bool
	OK                bool
}

// Missing lists the labels of required variables that are not set.
func (r *CheckResult) Missing() []string {
	var missing []string
	for _, s := range r.Required {
		if !s.Present {
			missing = append(missing, s.Var.Label())
		}
	}
	return missing
}

// Checker inspects the environment against Requirements.
type Checker struct {
	LookupEnv   func(string) (string, bool)
	ProfileFile string
}

// NewChecker returns a Checker bound to the process environment and the
// Databricks config file the SDK would read.
func NewChecker() *Checker {
	return &Checker{
		LookupEnv:   os.LookupEnv,
		ProfileFile: DefaultProfileFile(),
	}
}

// DefaultProfileFile is DATABRICKS_CONFIG_FILE or ~/.databrickscfg.
func DefaultProfileFile() string {
	if p := os.Getenv("DATABRICKS_CONFIG_FILE"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".databrickscfg"
	}
	return filepath.Join(home, ".databrickscfg")
}

func (c *Checker) lookup(name string) string {
	if name == "" {
		return ""
	}
	v, ok := c.LookupEnv(name)
	if !ok {
		return ""
	}
	return v
}

// Check reports each documented variable as present or absent.
func (c *Checker) Check(req Requirements) *CheckResult {
	res := &CheckResult{OK: true, ProfileFile: c.ProfileFile, ProfileFileNeeded: req.NeedsProfileFile}

	for _, v := range req.Required {
		value := c.lookup(v.Name)
		if value == "" {
			value = c.lookup(v.Alt)
		}
		st := VarStatus{Var: v, Value: value, Present: value != ""}
		if !st.Present {
			res.OK = false
		}
		res.Required = append(res.Required, st)
	}

	for _, v := range req.Optional {
		value := c.lookup(v.Name)
		if value == "" {
			value = v.Default
		}
		res.Optional = append(res.Optional, VarStatus{Var: v, Value: value, Present: value != ""})
	}

	if req.NeedsProfileFile {
		if _, err := os.Stat(c.ProfileFile); err == nil {
			res.ProfileFileFound = true
		} else {
			res.OK = false
		}
	}
	return res
}

// Print writes the configuration report in the smoke commands' format.
func (r *CheckResult) Print(out *console.Printer) {
	out.Banner("CONFIGURATION CHECK")

	out.Println("\nRequired Configuration:")
	for _, s := range r.Required {
		if s.Present {
			out.Printf("  ✓ %s: %s\n", s.Var.Label(), maskRequired(s.Value))
		} else {
			out.Printf("  ✗ %s: NOT SET\n", s.Var.Label())
		}
	}

	out.Println("\nOptional Configuration:")
	for _, s := range r.Optional {
		if s.Present {
			out.Printf("  ✓ %s: %s\n", s.Var.Label(), truncate(s.Value, 50))
		} else {
			out.Printf("  ○ %s: not set (using defaults)\n", s.Var.Label())
		}
	}

	if r.ProfileFileNeeded {
		if r.ProfileFileFound {
			out.Printf("\n✓ Found Databricks config file at: %s\n", r.ProfileFile)
		} else {
			out.Printf("\n✗ Databricks config file not found at: %s\n", r.ProfileFile)
			out.Println("  Run: databricks auth login --profile your-profile")
		}
	}
}

// maskRequired hides everything past the first 20 characters of values that
// look like Databricks URIs or tokens.
func maskRequired(v string) string {
	if !strings.HasPrefix(v, "databricks") {
		return v
	}
	if len(v) > 20 {
		v = v[:20]
	}
	return v + "..."
}

func truncate(v string, n int) string {
	r := []rune(v)
	if len(r) < n {
		return v
	}
	return string(r[:n]) + "..."
}
