// Package smoke holds the smoke-test suites behind the commands in cmd/.
// Each suite prints its progress and returns a Report the command turns into
// an exit status.
package smoke

import (
	"context"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"
	"time"

	"databricks_smoke/internal/config"
	"databricks_smoke/internal/console"
	"databricks_smoke/internal/logger"
)

// TimestampLayout names runs and models, e.g. trace_test_20250101_120000.
const TimestampLayout = "20060102_150405"

// Status is the outcome of one test in a suite.
type Status int

const (
	Skipped Status = iota
	Passed
	Failed
)

// TestResult records one test.
type TestResult struct {
	Name   string
	Status Status
	Err    error
	Detail string
}

// Report collects the results of a suite in run order.
type Report struct {
	Results []TestResult
}

func (r *Report) add(name string, status Status, err error, detail string) {
	r.Results = append(r.Results, TestResult{Name: name, Status: status, Err: err, Detail: detail})
}

// OK reports whether no test failed.
func (r *Report) OK() bool {
	for _, t := range r.Results {
		if t.Status == Failed {
			return false
		}
	}
	return true
}

// Failures returns the failed tests.
func (r *Report) Failures() []TestResult {
	var out []TestResult
	for _, t := range r.Results {
		if t.Status == Failed {
			out = append(out, t)
		}
	}
	return out
}

// Suite carries what every smoke suite needs.
type Suite struct {
	Env   *config.Env
	Out   *console.Printer
	Conns *Connections

	// Now and Sleep are replaced in tests.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// NewSuite binds a suite to env, printing to out.
func NewSuite(env *config.Env, out *console.Printer) *Suite {
	return &Suite{
		Env:   env,
		Out:   out,
		Conns: NewConnections(env),
		Now:   time.Now,
		Sleep: sleep,
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s *Suite) stamp() string {
	return s.Now().Format(TimestampLayout)
}

// Bootstrap loads .env, the environment and the logger. Progress goes to out.
func Bootstrap(out *console.Printer, announceDotEnv bool) (*config.Env, error) {
	loaded, err := config.LoadDotEnv(config.DefaultDotEnv)
	if err != nil {
		return nil, err
	}
	if loaded && announceDotEnv {
		out.Println("✓ Loaded environment variables from .env file")
	}
	env, err := config.LoadEnv()
	if err != nil {
		return nil, err
	}
	if err := logger.InitLogger(env.LogConfig); err != nil {
		return nil, err
	}
	logger.Debug().Bool("dotenv", loaded).Msg("environment loaded")
	return env, nil
}

// CheckConfiguration runs and prints the configuration check for req and
// reports whether the command may proceed.
func CheckConfiguration(out *console.Printer, checker *config.Checker, req config.Requirements) bool {
	res := checker.Check(req)
	res.Print(out)
	if !res.OK {
		if missing := res.Missing(); len(missing) > 0 {
			logger.Error().Strs("missing", missing).Msg("configuration incomplete")
		}
		out.Println("\n❌ Configuration incomplete. Please set required environment variables.")
		out.Println("   See .env.example for reference.")
		return false
	}
	out.Println("\n✅ Configuration looks good!")
	out.Rule()
	out.Println()
	return true
}

// Fatal prints err for a command that cannot start and exits 1.
func Fatal(out *console.Printer, what string, err error) {
	logger.Error().Err(err).Msg(what)
	out.Printf("\n❌ %s: %v\n", what, err)
	os.Exit(1)
}

// formatParams renders params as {k: v, ...} in key order.
func formatParams[V any](params map[string]V) string {
	keys := slices.Sorted(maps.Keys(params))
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s: %v", k, params[k])
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
