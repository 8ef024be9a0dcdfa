// Package notable decides whether an object spotted by the robot deserves
// commentary. The decision is an expr-lang boolean expression evaluated over
// the detection, for example:
//
//	confidence >= 0.6 && label not in ["person", "car"]
package notable

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/teslashibe/go-alzar/internal/log"
	"github.com/teslashibe/go-alzar/pkg/state"
)

// ErrEmptyRule is returned for a blank expression.
var ErrEmptyRule = errors.New("notable: empty rule")

// Env is the environment a rule is evaluated against.
type Env struct {
	Label      string  `expr:"label"`
	Confidence float64 `expr:"confidence"`
	Camera     string  `expr:"camera"`

	// Seconds since the same label last passed the filter; -1 if never.
	SinceLast float64 `expr:"since_last"`
}

// Option configures a Filter.
type Option func(*Filter)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Filter) {
		f.logger = l
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(f *Filter) {
		f.now = now
	}
}

// Filter evaluates a compiled rule. It is safe for concurrent use.
type Filter struct {
	rule    string
	program *vm.Program
	logger  *slog.Logger
	now     func() time.Time

	mu   sync.Mutex
	last map[string]time.Time

	passed   atomic.Uint64
	rejected atomic.Uint64
	failed   atomic.Uint64
}

// New compiles rule.
func New(rule string, opts ...Option) (*Filter, error) {
	rule = strings.TrimSpace(rule)
	if rule == "" {
		return nil, ErrEmptyRule
	}

	program, err := expr.Compile(rule,
		expr.Env(Env{}),
		expr.AsBool(),
	)
	if err != nil {
		return nil, fmt.Errorf("notable: compile %q: %w", rule, err)
	}

	f := &Filter{
		rule:    rule,
		program: program,
		now:     time.Now,
		last:    make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = log.OrDefault(f.logger, "notable")
	return f, nil
}

// Notable reports whether the detection passes the rule. Evaluation errors
// count as not notable.
func (f *Filter) Notable(label string, confidence float64, camera state.Camera) bool {
	label = strings.ToLower(strings.TrimSpace(label))
	now := f.now()

	f.mu.Lock()
	defer f.mu.Unlock()

	env := Env{
		Label:      label,
		Confidence: confidence,
		Camera:     string(camera),
		SinceLast:  -1,
	}
	if at, ok := f.last[label]; ok {
		env.SinceLast = now.Sub(at).Seconds()
	}

	out, err := expr.Run(f.program, env)
	if err != nil {
		f.failed.Add(1)
		f.logger.Warn("rule evaluation failed", "rule", f.rule, "label", label, "error", err)
		return false
	}
	ok, _ := out.(bool)
	if !ok {
		f.rejected.Add(1)
		return false
	}

	f.passed.Add(1)
	f.last[label] = now
	return true
}

// Rule returns the source expression.
func (f *Filter) Rule() string {
	return f.rule
}

// Stats contains filter counters.
type Stats struct {
	Passed   uint64 `json:"passed"`
	Rejected uint64 `json:"rejected"`
	Failed   uint64 `json:"failed"`
}

// Stats returns filter counters.
func (f *Filter) Stats() Stats {
	return Stats{
		Passed:   f.passed.Load(),
		Rejected: f.rejected.Load(),
		Failed:   f.failed.Load(),
	}
}
