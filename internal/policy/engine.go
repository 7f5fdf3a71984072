package policy

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

type compiledRule struct {
	Rule
	cond    *Condition
	condErr error
}

type ruleSet struct {
	rules []compiledRule
}

// Engine evaluates requests against an ordered rule set. The first matching
// rule wins; when nothing matches the request is denied.
//
// The active rule set is swapped atomically on reload, so evaluations in
// flight keep using the set they started with.
type Engine struct {
	path       string
	conditions *ConditionEvaluator
	current    atomic.Pointer[ruleSet]

	mu       sync.Mutex
	watcher  *FileWatcher
	onReload func(error)
}

// NewEngine loads the rule file at path. A missing file gives an empty rule
// set; a file that cannot be decoded is returned as a *ConfigurationError.
func NewEngine(path string) (*Engine, error) {
	conditions, err := NewConditionEvaluator()
	if err != nil {
		return nil, err
	}

	e := &Engine{path: path, conditions: conditions}

	rules, err := LoadRules(path)
	if err != nil {
		return nil, fmt.Errorf("initial load: %w", err)
	}
	e.swap(rules)

	return e, nil
}

// NewEngineFromRules builds an engine over an already parsed rule set.
// Reload is a no-op for such an engine.
func NewEngineFromRules(rules []Rule) (*Engine, error) {
	conditions, err := NewConditionEvaluator()
	if err != nil {
		return nil, err
	}

	e := &Engine{conditions: conditions}
	e.swap(rules)
	return e, nil
}

func (e *Engine) Evaluate(ctx context.Context, req Request) Decision {
	set := e.current.Load()

	for _, rule := range set.rules {
		if !matchesPattern(rule.Resource, req.Resource) {
			continue
		}
		if !matchesPattern(rule.Action, req.Action) {
			continue
		}
		if rule.Condition != "" && !e.conditionHolds(ctx, rule, req) {
			continue
		}

		return Decision{
			Status: rule.Decision,
			Reason: rule.Reason,
			Rule:   rule.Name,
		}
	}

	return Decision{Status: StatusDeny, Reason: DefaultDenyReason}
}

// Rules returns a copy of the active rule set in evaluation order.
func (e *Engine) Rules() []Rule {
	set := e.current.Load()
	rules := make([]Rule, 0, len(set.rules))
	for _, r := range set.rules {
		rules = append(rules, r.Rule)
	}
	return rules
}

// Reload re-reads the rule file. On error the active rule set is kept.
func (e *Engine) Reload() error {
	if e.path == "" {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	rules, err := LoadRules(e.path)
	if err != nil {
		return err
	}
	e.swap(rules)

	log.Info().Int("count", len(rules)).Str("path", e.path).Msg("rules reloaded")
	return nil
}

// Watch starts reloading the rule set whenever the rule file changes.
func (e *Engine) Watch() error {
	if e.path == "" {
		return fmt.Errorf("engine has no rule file to watch")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.watcher != nil {
		return nil
	}

	watcher, err := NewFileWatcher(filepath.Dir(e.path), filepath.Base(e.path), e.handlePolicyChange)
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	e.watcher = watcher
	return nil
}

// OnReload registers fn to be called after every reload started by the
// file watcher.
func (e *Engine) OnReload(fn func(error)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onReload = fn
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.watcher != nil {
		err := e.watcher.Close()
		e.watcher = nil
		return err
	}
	return nil
}

func (e *Engine) conditionHolds(ctx context.Context, rule compiledRule, req Request) bool {
	if rule.cond == nil {
		log.Debug().Err(rule.condErr).Str("rule", rule.Name).Msg("condition not compiled, rule skipped")
		return false
	}

	ok, err := e.conditions.Eval(ctx, rule.cond, req)
	if err != nil {
		log.Debug().Err(err).Str("rule", rule.Name).Msg("condition evaluation failed, rule skipped")
		return false
	}
	return ok
}

func (e *Engine) swap(rules []Rule) {
	set := &ruleSet{rules: make([]compiledRule, 0, len(rules))}

	for _, r := range rules {
		cr := compiledRule{Rule: r}
		if r.Condition != "" {
			cond, err := e.conditions.Compile(r.Condition)
			if err != nil {
				log.Warn().Err(err).Str("rule", r.Name).Msg("rule condition does not compile - rule will never match")
				cr.condErr = err
			}
			cr.cond = cond
		}
		set.rules = append(set.rules, cr)
	}

	e.current.Store(set)
}

func (e *Engine) handlePolicyChange(path string) {
	log.Info().Str("path", path).Msg("rule file change detected")

	err := e.Reload()
	if err != nil {
		log.Error().Err(err).Msg("failed to reload rules, keeping previous rule set")
	}

	e.mu.Lock()
	hook := e.onReload
	e.mu.Unlock()
	if hook != nil {
		hook(err)
	}
}

func matchesPattern(pattern, value string) bool {
	return pattern == Wildcard || pattern == value
}
